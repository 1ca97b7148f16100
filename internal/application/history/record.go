package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/baechuer/real-time-ressys/services/history-service/internal/domain"
	"github.com/baechuer/real-time-ressys/services/history-service/internal/metrics"
)

// Record appends a view of product to the fingerprint's fast-tier history and
// refreshes the key TTL. userID is optional. Each call adds a new entry, so repeated
// views of one product stay separate.
func (s *Service) Record(ctx context.Context, fingerprint, userID string, product domain.ProductSnapshot) (domain.ViewEvent, error) {
	fingerprint = strings.TrimSpace(fingerprint)
	if !domain.ValidFingerprint(fingerprint) {
		return domain.ViewEvent{}, domain.ErrValidationMeta("invalid fingerprint", map[string]string{"field": "fingerprint"})
	}
	product.ID = strings.TrimSpace(product.ID)
	if product.ID == "" {
		return domain.ViewEvent{}, domain.ErrValidationMeta("product id is required", map[string]string{"field": "id"})
	}

	ev := domain.ViewEvent{
		HistoryID:   s.ids.Next(),
		Fingerprint: fingerprint,
		UserID:      strings.TrimSpace(userID),
		Product:     product,
		ViewedAt:    s.clock.Now().UTC(),
	}
	member, err := encodeEntry(ev)
	if err != nil {
		return ev, fmt.Errorf("encode view: %w", err)
	}

	key := s.key(fingerprint)
	fctx, cancel := s.fastCtx(ctx)
	defer cancel()

	if err := s.fast.Add(fctx, key, member, float64(ev.ViewedAt.UnixMilli())); err != nil {
		metrics.RecordView("error")
		return ev, fmt.Errorf("%w: zadd %s: %w", domain.ErrStoreUnavailable, key, err)
	}
	if err := s.fast.Expire(fctx, key, s.opts.TTL); err != nil {
		// the entry is stored; only its expiry refresh failed
		metrics.RecordView("expire_error")
		return ev, fmt.Errorf("%w: expire %s: %w", domain.ErrStoreUnavailable, key, err)
	}
	metrics.RecordView("ok")
	return ev, nil
}
