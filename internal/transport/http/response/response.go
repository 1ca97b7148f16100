package response

import (
	"encoding/json"
	"errors"
	"net/http"

	zlog "github.com/rs/zerolog/log"

	"github.com/baechuer/real-time-ressys/services/history-service/internal/domain"
	appCtx "github.com/baechuer/real-time-ressys/services/history-service/internal/pkg/context"
)

// Envelope is the success envelope:
// {"data": ...}
type Envelope struct {
	Data any `json:"data"`
}

// ErrorBody is shared with the other services:
// {"error":{"code":"...","message":"...","meta":{...},"request_id":"..."}}
type ErrorBody struct {
	Error ErrorPayload `json:"error"`
}

type ErrorPayload struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Meta      map[string]string `json:"meta,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func Data(w http.ResponseWriter, status int, payload any) {
	JSON(w, status, Envelope{Data: payload})
}

func Fail(w http.ResponseWriter, status int, code, message string, meta map[string]string, requestID string) {
	JSON(w, status, ErrorBody{
		Error: ErrorPayload{
			Code:      code,
			Message:   message,
			Meta:      meta,
			RequestID: requestID,
		},
	})
}

// FailReq is Fail with the request id taken from r.
func FailReq(w http.ResponseWriter, r *http.Request, status int, code, message string, meta map[string]string) {
	Fail(w, status, code, message, meta, RequestID(r))
}

// Err maps domain errors to their status; anything else is a 500 without details.
func Err(w http.ResponseWriter, r *http.Request, err error) {
	reqID := RequestID(r)

	var ae *domain.AppError
	if errors.As(err, &ae) {
		Fail(w, statusFromCode(ae.Code), string(ae.Code), ae.Message, ae.Meta, reqID)
		return
	}
	if errors.Is(err, domain.ErrStoreUnavailable) {
		Fail(w, http.StatusServiceUnavailable, string(domain.CodeUnavailable), "history temporarily unavailable", nil, reqID)
		return
	}

	// keep details in logs only
	zlog.Error().Err(err).Str("request_id", reqID).Msg("unhandled error")
	Fail(w, http.StatusInternalServerError, "internal_error", "internal error", nil, reqID)
}

func RequestID(r *http.Request) string {
	if r == nil {
		return ""
	}
	if id := appCtx.GetRequestID(r.Context()); id != "" {
		return id
	}
	return r.Header.Get("X-Request-Id")
}

func statusFromCode(code domain.ErrCode) int {
	switch code {
	case domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
