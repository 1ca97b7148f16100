package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/baechuer/real-time-ressys/services/history-service/internal/logger"
	"github.com/baechuer/real-time-ressys/services/history-service/internal/transport/http/response"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	deps map[string]Pinger
}

// NewHealthHandler takes the dependencies /readyz must reach, keyed by name.
func NewHealthHandler(deps map[string]Pinger) *HealthHandler {
	return &HealthHandler{deps: deps}
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	response.Data(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{}
	ready := true
	for name, p := range h.deps {
		if err := p.Ping(ctx); err != nil {
			ready = false
			status[name] = "down"
			log := logger.WithCtx(r.Context())
			log.Warn().Err(err).Str("dependency", name).Msg("readiness check failed")
			continue
		}
		status[name] = "up"
	}

	if !ready {
		response.FailReq(w, r, http.StatusServiceUnavailable, "not_ready", "dependencies unavailable", status)
		return
	}
	response.Data(w, http.StatusOK, status)
}
