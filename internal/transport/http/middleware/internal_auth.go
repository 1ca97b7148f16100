package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/baechuer/real-time-ressys/services/history-service/internal/transport/http/response"
)

const HeaderInternalSecret = "X-Internal-Secret"

// InternalAuth guards service-to-service routes with a shared secret.
// An empty secret leaves the routes open, which config only allows in dev.
func InternalAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}
			got := r.Header.Get(HeaderInternalSecret)
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				response.FailReq(w, r, http.StatusUnauthorized, "unauthorized", "unauthorized", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
