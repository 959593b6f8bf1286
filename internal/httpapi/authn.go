package httpapi

import (
	"net/http"
	"strings"

	"auditcore.org/internal/rbac"
)

// publicPaths are reachable without a bearer token.
var publicPaths = map[string]struct{}{
	"/":              {},
	"/healthz":       {},
	"/readyz":        {},
	"/metrics":       {},
	"/v1/info":       {},
	"/v1/auth/token": {},
}

// withAuth validates the bearer token on protected routes and places the
// caller identity on the request context. Handlers still re-check the live
// user record where deactivation must take effect immediately.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := publicPaths[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		token, err := bearerToken(r)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := rbac.ParseAndValidate(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(rbac.ContextWithIdentity(r.Context(), claims.Identity())))
	})
}

func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", errAuthRequired
	}
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", errAuthMalformed
	}
	return strings.TrimSpace(header[len(prefix):]), nil
}

var (
	errAuthRequired  = &authError{"authentication required"}
	errAuthMalformed = &authError{"malformed authorization header"}
)

type authError struct{ msg string }

func (e *authError) Error() string { return e.msg }
