package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baechuer/real-time-ressys/services/history-service/internal/domain"
	appCtx "github.com/baechuer/real-time-ressys/services/history-service/internal/pkg/context"
)

func TestErr(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", domain.ErrValidation("bad page"), http.StatusBadRequest, "validation_error"},
		{"not_found", domain.ErrNotFound("missing"), http.StatusNotFound, "not_found"},
		{"unavailable", domain.ErrUnavailable("down"), http.StatusServiceUnavailable, "unavailable"},
		{"wrapped_store_error", fmt.Errorf("%w: list: %w", domain.ErrStoreUnavailable, errors.New("timeout")), http.StatusServiceUnavailable, "unavailable"},
		{"generic_error", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(appCtx.WithRequestID(req.Context(), "req-1"))

			Err(rr, req, tt.err)

			assert.Equal(t, tt.wantStatus, rr.Code)
			var body ErrorBody
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body.Error.Code)
			assert.Equal(t, "req-1", body.Error.RequestID)
		})
	}
}

func TestData(t *testing.T) {
	rr := httptest.NewRecorder()
	Data(rr, http.StatusAccepted, map[string]string{"id": "123"})

	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, "application/json; charset=utf-8", rr.Header().Get("Content-Type"))

	var env Envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	assert.Equal(t, "123", env.Data.(map[string]any)["id"])
}

func TestRequestID_FallsBackToHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "hdr-1")
	assert.Equal(t, "hdr-1", RequestID(req))
}
