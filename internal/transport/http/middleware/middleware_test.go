package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appCtx "github.com/baechuer/real-time-ressys/services/history-service/internal/pkg/context"
	"github.com/baechuer/real-time-ressys/services/history-service/internal/security"
	"github.com/baechuer/real-time-ressys/services/history-service/internal/transport/http/response"
)

type fakeVerifier struct {
	caller security.Caller
	err    error
}

func (f fakeVerifier) VerifyAccessToken(string) (security.Caller, error) { return f.caller, f.err }

func okHandler(t *testing.T, check func(r *http.Request)) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestOptionalAuth(t *testing.T) {
	t.Run("anonymous_passes_through", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)

		OptionalAuth(fakeVerifier{err: security.ErrTokenInvalid})(okHandler(t, func(r *http.Request) {
			_, ok := CallerFrom(r.Context())
			assert.False(t, ok)
		})).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNoContent, rr.Code)
	})

	t.Run("valid_token_sets_caller", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer good")

		OptionalAuth(fakeVerifier{caller: security.Caller{UserID: "u1", Role: "user"}})(okHandler(t, func(r *http.Request) {
			c, ok := CallerFrom(r.Context())
			require.True(t, ok)
			assert.Equal(t, "u1", c.UserID)
		})).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNoContent, rr.Code)
	})

	t.Run("expired_token_is_rejected", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer old")

		OptionalAuth(fakeVerifier{err: security.ErrTokenExpired})(okHandler(t, func(*http.Request) {
			t.Fatal("handler must not run")
		})).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		var body response.ErrorBody
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, "token expired", body.Error.Meta["reason"])
	})

	t.Run("non_bearer_scheme_is_rejected", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Basic abc")

		OptionalAuth(fakeVerifier{})(okHandler(t, nil)).ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestInternalAuth(t *testing.T) {
	h := InternalAuth("s3cret")(okHandler(t, nil))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(HeaderInternalSecret, "s3cret")
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestRequestID(t *testing.T) {
	t.Run("generates_when_missing", func(t *testing.T) {
		rr := httptest.NewRecorder()
		var seen string
		RequestID(okHandler(t, func(r *http.Request) {
			seen = appCtx.GetRequestID(r.Context())
		})).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, rr.Header().Get(HeaderXRequestID))
	})

	t.Run("keeps_incoming", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderXRequestID, "abc")
		RequestID(okHandler(t, nil)).ServeHTTP(rr, req)
		assert.Equal(t, "abc", rr.Header().Get(HeaderXRequestID))
	})
}

func TestAccessLogAndSecurityHeaders(t *testing.T) {
	rr := httptest.NewRecorder()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("hello"))
	})

	SecurityHeaders(AccessLog(next)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "hello", rr.Body.String())
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
}

func TestFingerprint(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderFingerprint, "  fp-1 ")
	assert.Equal(t, "fp-1", Fingerprint(req))
}
