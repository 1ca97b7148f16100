package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/baechuer/real-time-ressys/services/history-service/internal/domain"
)

// Link associates fingerprint with userID. Linking the same pair again is a no-op;
// linking a fingerprint to a different user moves it.
func (s *Service) Link(ctx context.Context, userID, fingerprint string) error {
	userID = strings.TrimSpace(userID)
	fingerprint = strings.TrimSpace(fingerprint)
	if userID == "" {
		return domain.ErrValidation("user_id is required")
	}
	if !domain.ValidFingerprint(fingerprint) {
		return domain.ErrValidationMeta("invalid fingerprint", map[string]string{"field": "fingerprint"})
	}

	dctx, cancel := s.durableCtx(ctx)
	defer cancel()
	if err := s.identities.UpsertLink(dctx, fingerprint, userID, s.clock.Now()); err != nil {
		return fmt.Errorf("%w: link fingerprint: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Service) FingerprintsFor(ctx context.Context, userID string) ([]string, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.ErrValidation("user_id is required")
	}
	dctx, cancel := s.durableCtx(ctx)
	defer cancel()
	fps, err := s.identities.FingerprintsForUser(dctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: fingerprints for user: %w", domain.ErrStoreUnavailable, err)
	}
	return fps, nil
}
