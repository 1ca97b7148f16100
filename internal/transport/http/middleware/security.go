package middleware

import "net/http"

// SecurityHeaders sets a restrictive policy for JSON-only endpoints.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cross-Origin-Resource-Policy", "same-site")
		// history is per-visitor; never let a shared cache keep it
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
