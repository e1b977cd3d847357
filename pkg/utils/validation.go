// Package utils holds small shared helpers.
package utils

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "mindmeld/pkg/errors"
)

var validate = validator.New()

// ValidateStruct checks a struct's validation tags and reports every failure
// as one validation error from the module taxonomy, so callers can branch on
// the error type instead of parsing text.
func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperrors.NewValidationError(err.Error())
	}
	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		problems = append(problems, describeFieldError(fe))
	}
	return apperrors.NewValidationError(strings.Join(problems, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s is below the minimum of %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s is above the maximum of %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s fails the %s constraint", field, fe.Tag())
	}
}
