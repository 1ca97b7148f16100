package handlers

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/baechuer/real-time-ressys/services/history-service/internal/application/history"
	"github.com/baechuer/real-time-ressys/services/history-service/internal/domain"
	"github.com/baechuer/real-time-ressys/services/history-service/internal/logger"
	"github.com/baechuer/real-time-ressys/services/history-service/internal/metrics"
	"github.com/baechuer/real-time-ressys/services/history-service/internal/transport/http/middleware"
	"github.com/baechuer/real-time-ressys/services/history-service/internal/transport/http/response"
)

type HistoryService interface {
	Record(ctx context.Context, fingerprint, userID string, product domain.ProductSnapshot) (domain.ViewEvent, error)
	ByUser(ctx context.Context, userID string, page domain.Page) (domain.PageResult, error)
	ByFingerprint(ctx context.Context, fingerprint string, page domain.Page) (domain.PageResult, error)
	Link(ctx context.Context, userID, fingerprint string) error
	SyncKey(ctx context.Context, fingerprint string) (history.SyncReport, error)
}

// Submitter runs fire-and-forget jobs off the request path.
type Submitter interface {
	TrySubmit(job func()) bool
}

// SyncTrigger asks the reconciliation loop for an out-of-band sweep.
// A nil SyncTrigger means the loop is not running.
type SyncTrigger interface {
	Trigger() bool
}

var validate = newValidator()

// newValidator reports fields by their json names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// recordTimeout bounds a background record job; the request is long gone by then.
const recordTimeout = 2 * time.Second

type HistoryHandler struct {
	svc  HistoryService
	jobs Submitter
	sync SyncTrigger
}

func NewHistoryHandler(svc HistoryService, jobs Submitter, sync SyncTrigger) *HistoryHandler {
	return &HistoryHandler{svc: svc, jobs: jobs, sync: sync}
}

type productReq struct {
	ID          string `json:"id" validate:"required,max=64"`
	Name        string `json:"name" validate:"max=512"`
	Price       string `json:"price" validate:"max=64"`
	ImageURL    string `json:"imageUrl" validate:"omitempty,max=2048"`
	Description string `json:"description" validate:"max=4096"`
}

type recordViewReq struct {
	// body fallback for clients that cannot set the header
	Fingerprint string     `json:"fingerprint"`
	Product     productReq `json:"product"`
}

// RecordView accepts a product view and records it in the background. Once the
// request is valid the answer is 202 whether or not the write later succeeds.
func (h *HistoryHandler) RecordView(w http.ResponseWriter, r *http.Request) {
	var req recordViewReq
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		response.FailReq(w, r, http.StatusBadRequest, string(domain.CodeValidation), "invalid body", nil)
		return
	}
	if err := validate.Struct(req); err != nil {
		response.Err(w, r, validationError(err))
		return
	}

	fp := middleware.Fingerprint(r)
	if fp == "" {
		fp = strings.TrimSpace(req.Fingerprint)
	}
	if !domain.ValidFingerprint(fp) {
		response.Err(w, r, domain.ErrValidationMeta("invalid fingerprint", map[string]string{
			"fingerprint": "required, at most 128 chars, no ':' '*' or whitespace",
		}))
		return
	}

	var userID string
	if c, ok := middleware.CallerFrom(r.Context()); ok {
		userID = c.UserID
	}
	product := domain.ProductSnapshot(req.Product)

	// detach from the request but keep its values (request id) for logging
	base := context.WithoutCancel(r.Context())
	accepted := h.jobs.TrySubmit(func() {
		ctx, cancel := context.WithTimeout(base, recordTimeout)
		defer cancel()
		if _, err := h.svc.Record(ctx, fp, userID, product); err != nil {
			log := logger.WithCtx(ctx)
			log.Warn().Err(err).
				Str("component", "history_recorder").
				Str("product_id", product.ID).
				Msg("view not recorded")
		}
	})
	if !accepted {
		metrics.RecordJobDropped()
		log := logger.WithCtx(r.Context())
		log.Warn().Str("component", "history_recorder").Msg("record queue full; view dropped")
	}

	response.Data(w, http.StatusAccepted, map[string]any{"accepted": true})
}

// GetHistory serves the caller's history: the user's when authenticated, otherwise
// the device fingerprint's.
func (h *HistoryHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		response.Err(w, r, err)
		return
	}

	var res domain.PageResult
	if c, ok := middleware.CallerFrom(r.Context()); ok {
		res, err = h.svc.ByUser(r.Context(), c.UserID, page)
	} else if fp := middleware.Fingerprint(r); fp != "" {
		res, err = h.svc.ByFingerprint(r.Context(), fp, page)
	} else {
		err = domain.ErrValidationMeta("no subject", map[string]string{
			middleware.HeaderFingerprint: "required for anonymous callers",
		})
	}
	if err != nil {
		response.Err(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, res)
}

type linkReq struct {
	UserID      string `json:"user_id" validate:"required,max=128"`
	Fingerprint string `json:"fingerprint" validate:"required,max=128"`
}

// Link binds a fingerprint to a user. Called by the auth service at login.
func (h *HistoryHandler) Link(w http.ResponseWriter, r *http.Request) {
	var req linkReq
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		response.FailReq(w, r, http.StatusBadRequest, string(domain.CodeValidation), "invalid body", nil)
		return
	}
	if err := validate.Struct(req); err != nil {
		response.Err(w, r, validationError(err))
		return
	}
	if err := h.svc.Link(r.Context(), req.UserID, req.Fingerprint); err != nil {
		response.Err(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]any{"linked": true})
}

func (h *HistoryHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if h.sync == nil {
		response.FailReq(w, r, http.StatusServiceUnavailable, string(domain.CodeUnavailable), "sync loop disabled", nil)
		return
	}
	queued := h.sync.Trigger()
	response.Data(w, http.StatusAccepted, map[string]any{"queued": queued})
}

type syncReportResp struct {
	Keys       int      `json:"keys"`
	Upserted   int      `json:"upserted"`
	Malformed  int      `json:"malformed"`
	Failed     int      `json:"failed"`
	FailedKeys []string `json:"failed_keys,omitempty"`
	TookMS     int64    `json:"took_ms"`
}

func (h *HistoryHandler) SyncKey(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.SyncKey(r.Context(), chi.URLParam(r, "fingerprint"))
	if err != nil {
		response.Err(w, r, err)
		return
	}
	if !rep.OK() {
		log := logger.WithCtx(r.Context())
		log.Warn().Err(rep.Err).Msg("on-demand sync incomplete")
		response.FailReq(w, r, http.StatusServiceUnavailable, string(domain.CodeUnavailable), "sync incomplete", map[string]string{
			"upserted": strconv.Itoa(rep.Upserted),
			"failed":   strconv.Itoa(rep.Failed),
		})
		return
	}
	response.Data(w, http.StatusOK, syncReportResp{
		Keys:       rep.Keys,
		Upserted:   rep.Upserted,
		Malformed:  rep.Malformed,
		Failed:     rep.Failed,
		FailedKeys: rep.FailedKeys,
		TookMS:     rep.Duration.Milliseconds(),
	})
}

func parsePage(r *http.Request) (domain.Page, error) {
	var p domain.Page
	q := r.URL.Query()
	for _, f := range []struct {
		name string
		dst  *int
	}{{"page", &p.Number}, {"size", &p.Size}} {
		raw := strings.TrimSpace(q.Get(f.name))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return p, domain.ErrValidationMeta("invalid pagination", map[string]string{f.name: "must be a positive integer"})
		}
		*f.dst = n
	}
	return p, nil
}

func validationError(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return domain.ErrValidation("invalid request")
	}
	meta := make(map[string]string, len(ve))
	for _, fe := range ve {
		meta[fe.Field()] = fe.Tag()
	}
	return domain.ErrValidationMeta("invalid request", meta)
}
