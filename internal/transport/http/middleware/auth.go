package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/baechuer/real-time-ressys/services/history-service/internal/security"
	"github.com/baechuer/real-time-ressys/services/history-service/internal/transport/http/response"
)

type ctxKey string

const ctxCaller ctxKey = "caller"

// OptionalAuth attaches the caller when a bearer token is present. Requests without
// a token pass through as anonymous; a token that fails verification is rejected.
func OptionalAuth(v security.AccessTokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := strings.TrimSpace(r.Header.Get("Authorization"))
			if h == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !strings.HasPrefix(h, "Bearer ") {
				response.FailReq(w, r, http.StatusUnauthorized, "unauthorized", "missing bearer token", nil)
				return
			}

			c, err := v.VerifyAccessToken(strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")))
			if err != nil {
				reason := "invalid token"
				if errors.Is(err, security.ErrTokenExpired) {
					reason = "token expired"
				}
				response.FailReq(w, r, http.StatusUnauthorized, "unauthorized", "unauthorized", map[string]string{"reason": reason})
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), c)))
		})
	}
}

func WithCaller(ctx context.Context, c security.Caller) context.Context {
	return context.WithValue(ctx, ctxCaller, c)
}

// CallerFrom returns the authenticated caller, if any.
func CallerFrom(ctx context.Context) (security.Caller, bool) {
	c, ok := ctx.Value(ctxCaller).(security.Caller)
	return c, ok && c.UserID != ""
}
