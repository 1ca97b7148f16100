package history

import (
	"context"
	"time"

	"github.com/baechuer/real-time-ressys/services/history-service/internal/domain"
)

// ScoredMember is one sorted-set entry as stored in the fast tier.
type ScoredMember struct {
	Member string
	Score  float64
}

// FastStore is the short-lived, per-fingerprint tier (a sorted set per subject,
// scored by epoch milliseconds).
type FastStore interface {
	Add(ctx context.Context, key, member string, score float64) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// RevRange returns members newest first; stop=-1 means through the end.
	RevRange(ctx context.Context, key string, start, stop int64) ([]ScoredMember, error)
	Card(ctx context.Context, key string) (int64, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// DurableStore is the long-lived relational tier.
type DurableStore interface {
	// UpsertHistory inserts rec or, when its id already exists, refreshes browse_time.
	UpsertHistory(ctx context.Context, rec domain.HistoryRecord) error
	// ListByUser includes rows of every fingerprint linked to userID.
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.HistoryRecord, error)
	CountByUser(ctx context.Context, userID string) (int64, error)
	ListByFingerprint(ctx context.Context, fingerprint string, limit, offset int) ([]domain.HistoryRecord, error)
	CountByFingerprint(ctx context.Context, fingerprint string) (int64, error)
}

type IdentityStore interface {
	UpsertLink(ctx context.Context, fingerprint, userID string, at time.Time) error
	FingerprintsForUser(ctx context.Context, userID string) ([]string, error)
}

type IDGenerator interface {
	Next() int64
}

type Clock interface {
	Now() time.Time
}
