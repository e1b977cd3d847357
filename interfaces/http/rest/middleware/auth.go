package middleware

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"mindmeld/pkg/auth"
	"mindmeld/pkg/common"
)

// Authenticator validates the bearer token and attaches the principal to the
// request context. Websocket upgrades may carry the token as a query
// parameter because browsers cannot set headers on websocket dials.
func Authenticator(validator *auth.Validator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				token = r.URL.Query().Get("token")
			}
			if token == "" {
				common.RespondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing credentials")
				return
			}

			principal, err := validator.Validate(token)
			if err != nil {
				logger.Warn("token rejected",
					zap.String("path", r.URL.Path),
					zap.Error(err),
				)
				common.RespondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid credentials")
				return
			}

			ctx := common.WithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
