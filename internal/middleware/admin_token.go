package middleware

import (
	"crypto/subtle"
	"net/http"

	pkghttp "github.com/harborbank/gatekeeper/pkg/http"
)

// AdminTokenHeader carries the operator credential for the admin surface.
const AdminTokenHeader = "X-Admin-Token"

// RequireAdminToken gates the admin routes behind a static operator token.
// An empty configured token disables the surface entirely rather than
// leaving it open.
func RequireAdminToken(token string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				pkghttp.WriteNotFound(w, "not found")
				return
			}

			presented := r.Header.Get(AdminTokenHeader)
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				pkghttp.WriteUnauthorized(w, "unauthorized")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
