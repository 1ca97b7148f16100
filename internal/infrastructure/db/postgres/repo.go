package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/baechuer/real-time-ressys/services/history-service/internal/domain"
)

// Open connects through the pgx database/sql driver and pings before returning.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty DB DSN")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(60 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Repo is the durable history tier: browse_history rows plus the
// browser_fingerprints association table.
type Repo struct {
	db *sql.DB
}

func New(db *sql.DB) *Repo { return &Repo{db: db} }

func (r *Repo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repo) UpsertHistory(ctx context.Context, rec domain.HistoryRecord) error {
	_, err := r.db.ExecContext(ctx, upsertHistorySQL,
		rec.HistoryID, rec.FingerprintID, rec.UserID, rec.ProductID, rec.BrowseTime.UTC(),
	)
	return err
}

func (r *Repo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.HistoryRecord, error) {
	return r.list(ctx, listHistoryByUserSQL, userID, limit, offset)
}

func (r *Repo) CountByUser(ctx context.Context, userID string) (int64, error) {
	return r.count(ctx, countHistoryByUserSQL, userID)
}

func (r *Repo) ListByFingerprint(ctx context.Context, fingerprint string, limit, offset int) ([]domain.HistoryRecord, error) {
	return r.list(ctx, listHistoryByFingerprintSQL, fingerprint, limit, offset)
}

func (r *Repo) CountByFingerprint(ctx context.Context, fingerprint string) (int64, error) {
	return r.count(ctx, countHistoryByFingerprintSQL, fingerprint)
}

func (r *Repo) list(ctx context.Context, query, subject string, limit, offset int) ([]domain.HistoryRecord, error) {
	if limit <= 0 {
		return []domain.HistoryRecord{}, nil
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.QueryContext(ctx, query, subject, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.HistoryRecord, 0, limit)
	for rows.Next() {
		var h domain.HistoryRecord
		if err := rows.Scan(&h.HistoryID, &h.FingerprintID, &h.UserID, &h.ProductID, &h.BrowseTime); err != nil {
			return nil, err
		}
		h.BrowseTime = h.BrowseTime.UTC()
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *Repo) count(ctx context.Context, query, subject string) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, query, subject).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *Repo) UpsertLink(ctx context.Context, fingerprint, userID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, upsertFingerprintLinkSQL, fingerprint, userID, at.UTC())
	return err
}

func (r *Repo) FingerprintsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, fingerprintsForUserSQL, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, err
		}
		out = append(out, fp)
	}
	return out, rows.Err()
}
