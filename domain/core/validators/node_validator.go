// Package validators enforces domain rules on node payloads before they
// enter the mutation pipeline.
package validators

import (
	"regexp"
	"strings"
	"unicode/utf8"

	apperrors "mindmeld/pkg/errors"
)

var colorPattern = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// NodeValidator validates node payload fields
type NodeValidator struct {
	labelMaxLength int
	urlPattern     *regexp.Regexp
}

// NewNodeValidator creates a validator with the default rules
func NewNodeValidator() *NodeValidator {
	return &NodeValidator{
		labelMaxLength: 1000,
		urlPattern:     regexp.MustCompile(`^https?://[^\s]+$`),
	}
}

// ValidateLabel checks a node label. Empty labels are allowed; a node with
// no label renders its placeholder.
func (v *NodeValidator) ValidateLabel(label string) error {
	if utf8.RuneCountInString(label) > v.labelMaxLength {
		return apperrors.NewValidationError("label exceeds maximum length")
	}
	return nil
}

// ValidateURL checks a payload URL for link, image, video, audio and social
// nodes. Empty clears the field.
func (v *NodeValidator) ValidateURL(raw string) error {
	if raw == "" {
		return nil
	}
	if !v.urlPattern.MatchString(strings.TrimSpace(raw)) {
		return apperrors.NewValidationError("url must be absolute http or https")
	}
	return nil
}

// ValidateColor checks a CSS hex color override. Empty clears the override.
func (v *NodeValidator) ValidateColor(color string) error {
	if color == "" {
		return nil
	}
	if !colorPattern.MatchString(color) {
		return apperrors.NewValidationError("color must be a hex color")
	}
	return nil
}
