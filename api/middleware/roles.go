package middleware

import (
	"net/http"

	"github.com/selimbenhamida/revend-backend/api/responses"
	pkgerrors "github.com/selimbenhamida/revend-backend/pkg/errors"
	"github.com/selimbenhamida/revend-backend/pkg/logger"
)

// RequireRole rejects authenticated requests whose token role does not match.
func RequireRole(role string, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := RoleFromContext(r.Context()); got != role {
				err := pkgerrors.New(pkgerrors.CodeForbidden, "role required")
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
