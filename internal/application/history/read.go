package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/baechuer/real-time-ressys/services/history-service/internal/domain"
	"github.com/baechuer/real-time-ressys/services/history-service/internal/logger"
	"github.com/baechuer/real-time-ressys/services/history-service/internal/metrics"
)

// ByUser returns the page of history across every fingerprint linked to userID,
// merged with the durable rows for the user. Total is the durable row count, so
// views not yet reconciled are visible in Records before they are counted.
func (s *Service) ByUser(ctx context.Context, userID string, page domain.Page) (domain.PageResult, error) {
	start := time.Now()
	defer func() { metrics.ObserveRead("user", time.Since(start)) }()

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.PageResult{}, domain.ErrValidation("user_id is required")
	}
	page = page.Normalize(s.opts.PageSizeDefault, s.opts.PageSizeMax)
	log := logger.WithCtx(ctx).With().
		Str("component", "history_reader").
		Str("user_id", userID).
		Logger()

	fps, err := s.FingerprintsFor(ctx, userID)
	if err != nil {
		metrics.RecordStoreError("durable", "fingerprints")
		log.Warn().Err(err).Msg("fingerprint lookup failed; reading durable tier only")
		fps = nil
	}

	legacy := newMintedIDs()
	fast := s.readFastMany(ctx, fps, page, legacy, log)
	for i := range fast {
		if fast[i].UserID == "" {
			fast[i].UserID = userID
		}
	}

	if len(fast) == 0 {
		return s.durableOnly(ctx, page,
			func(ctx context.Context, limit, offset int) ([]domain.HistoryRecord, error) {
				return s.durable.ListByUser(ctx, userID, limit, offset)
			},
			func(ctx context.Context) (int64, error) { return s.durable.CountByUser(ctx, userID) },
		)
	}

	rows, err := s.listDurable(ctx, backfillLimit(page, len(fast)), 0,
		func(ctx context.Context, limit, offset int) ([]domain.HistoryRecord, error) {
			return s.durable.ListByUser(ctx, userID, limit, offset)
		})
	if err != nil {
		metrics.RecordStoreError("durable", "list_by_user")
		log.Warn().Err(err).Msg("durable read failed; serving fast tier only")
	}

	merged := mergeRecords(fast, rows, legacy)
	total, err := s.countDurable(ctx, func(ctx context.Context) (int64, error) {
		return s.durable.CountByUser(ctx, userID)
	})
	if err != nil {
		metrics.RecordStoreError("durable", "count_by_user")
		log.Warn().Err(err).Msg("durable count failed")
		total = int64(len(merged))
	}

	return domain.PageResult{
		Records: window(merged, page),
		Total:   total,
		Page:    page.Number,
		Size:    page.Size,
	}, nil
}

// ByFingerprint returns the page of history for one device. Total is the fast-tier
// cardinality when the key exists, otherwise the durable row count.
func (s *Service) ByFingerprint(ctx context.Context, fingerprint string, page domain.Page) (domain.PageResult, error) {
	start := time.Now()
	defer func() { metrics.ObserveRead("fingerprint", time.Since(start)) }()

	fingerprint = strings.TrimSpace(fingerprint)
	if !domain.ValidFingerprint(fingerprint) {
		return domain.PageResult{}, domain.ErrValidationMeta("invalid fingerprint", map[string]string{"field": "fingerprint"})
	}
	page = page.Normalize(s.opts.PageSizeDefault, s.opts.PageSizeMax)
	log := logger.WithCtx(ctx).With().
		Str("component", "history_reader").
		Str("fingerprint", fingerprint).
		Logger()

	listByFP := func(ctx context.Context, limit, offset int) ([]domain.HistoryRecord, error) {
		return s.durable.ListByFingerprint(ctx, fingerprint, limit, offset)
	}

	card, err := s.card(ctx, fingerprint)
	if err != nil {
		metrics.RecordStoreError("fast", "zcard")
		log.Warn().Err(err).Msg("fast tier cardinality failed")
		card = 0
	}

	var fast []domain.HistoryRecord
	legacy := newMintedIDs()
	if card > 0 {
		fast, err = s.readFast(ctx, fingerprint, page, legacy, log)
		if err != nil {
			metrics.RecordStoreError("fast", "zrevrange")
			log.Warn().Err(err).Msg("fast tier read failed")
		}
	}

	if len(fast) == 0 {
		return s.durableOnly(ctx, page, listByFP, func(ctx context.Context) (int64, error) {
			return s.durable.CountByFingerprint(ctx, fingerprint)
		})
	}

	rows, err := s.listDurable(ctx, backfillLimit(page, len(fast)), 0, listByFP)
	if err != nil {
		metrics.RecordStoreError("durable", "list_by_fingerprint")
		log.Warn().Err(err).Msg("durable read failed; serving fast tier only")
	}

	return domain.PageResult{
		Records: window(mergeRecords(fast, rows, legacy), page),
		Total:   card,
		Page:    page.Number,
		Size:    page.Size,
	}, nil
}

// durableOnly serves a page when the fast tier contributed nothing. The durable tier
// is then the only source, so its errors are returned.
func (s *Service) durableOnly(
	ctx context.Context,
	page domain.Page,
	list func(ctx context.Context, limit, offset int) ([]domain.HistoryRecord, error),
	count func(ctx context.Context) (int64, error),
) (domain.PageResult, error) {
	total, err := s.countDurable(ctx, count)
	if err != nil {
		return domain.PageResult{}, fmt.Errorf("%w: count history: %w", domain.ErrStoreUnavailable, err)
	}
	if total == 0 || int64(page.Offset()) >= total {
		res := domain.EmptyPage(page)
		res.Total = total
		return res, nil
	}

	rows, err := s.listDurable(ctx, page.Size, page.Offset(), list)
	if err != nil {
		return domain.PageResult{}, fmt.Errorf("%w: list history: %w", domain.ErrStoreUnavailable, err)
	}
	if rows == nil {
		rows = []domain.HistoryRecord{}
	}
	return domain.PageResult{Records: rows, Total: total, Page: page.Number, Size: page.Size}, nil
}

func (s *Service) listDurable(
	ctx context.Context,
	limit, offset int,
	list func(ctx context.Context, limit, offset int) ([]domain.HistoryRecord, error),
) ([]domain.HistoryRecord, error) {
	dctx, cancel := s.durableCtx(ctx)
	defer cancel()
	return list(dctx, limit, offset)
}

func (s *Service) countDurable(ctx context.Context, count func(ctx context.Context) (int64, error)) (int64, error) {
	dctx, cancel := s.durableCtx(ctx)
	defer cancel()
	return count(dctx)
}

func (s *Service) card(ctx context.Context, fingerprint string) (int64, error) {
	fctx, cancel := s.fastCtx(ctx)
	defer cancel()
	return s.fast.Card(fctx, s.key(fingerprint))
}

// readFast returns the newest page.Number*page.Size entries of one fingerprint.
// Entries deeper than that can never land in the requested window.
// Ids given to legacy members are added to legacy.
func (s *Service) readFast(ctx context.Context, fingerprint string, page domain.Page, legacy *mintedIDs, log zerolog.Logger) ([]domain.HistoryRecord, error) {
	fctx, cancel := s.fastCtx(ctx)
	defer cancel()

	members, err := s.fast.RevRange(fctx, s.key(fingerprint), 0, int64(page.Number*page.Size)-1)
	if err != nil {
		return nil, err
	}
	out := make([]domain.HistoryRecord, 0, len(members))
	for _, m := range members {
		rec, err := decodeEntry(fingerprint, m)
		if err != nil {
			metrics.RecordMalformedEntry()
			log.Warn().Err(err).Str("fingerprint", fingerprint).Msg("dropping malformed history entry")
			continue
		}
		if rec.HistoryID == 0 {
			// legacy member without an embedded id; the id is not stable across reads
			rec.HistoryID = s.ids.Next()
			legacy.add(rec.HistoryID)
		}
		out = append(out, rec)
	}
	return out, nil
}

// readFastMany reads several fingerprints concurrently. A failing fingerprint
// contributes nothing; result order follows fps so ties sort deterministically.
func (s *Service) readFastMany(ctx context.Context, fps []string, page domain.Page, legacy *mintedIDs, log zerolog.Logger) []domain.HistoryRecord {
	if len(fps) == 0 {
		return nil
	}
	results := make([][]domain.HistoryRecord, len(fps))

	var g errgroup.Group
	g.SetLimit(s.opts.ReadConcurrency)
	for i, fp := range fps {
		i, fp := i, fp
		g.Go(func() error {
			recs, err := s.readFast(ctx, fp, page, legacy, log)
			if err != nil {
				metrics.RecordStoreError("fast", "zrevrange")
				log.Warn().Err(err).Str("fingerprint", fp).Msg("fast tier read failed; skipping fingerprint")
				return nil
			}
			results[i] = recs
			return nil
		})
	}
	_ = g.Wait()

	var out []domain.HistoryRecord
	for _, recs := range results {
		out = append(out, recs...)
	}
	return out
}

// backfillLimit is how many durable rows cover the window once fastCount fast-tier
// entries are known: a full prefix through the window, plus room for fast entries
// that are already reconciled and would otherwise be dropped as duplicates.
func backfillLimit(page domain.Page, fastCount int) int {
	return page.Number*page.Size + fastCount
}

type viewKey struct {
	fingerprint string
	productID   string
	atMillis    int64
}

func keyOf(r domain.HistoryRecord) viewKey {
	return viewKey{r.FingerprintID, r.ProductID, r.BrowseTime.UnixMilli()}
}

// mintedIDs is the set of ids assigned at read time to members stored without one.
type mintedIDs struct {
	mu  sync.Mutex
	ids map[int64]struct{}
}

func newMintedIDs() *mintedIDs {
	return &mintedIDs{ids: map[int64]struct{}{}}
}

func (m *mintedIDs) add(id int64) {
	m.mu.Lock()
	m.ids[id] = struct{}{}
	m.mu.Unlock()
}

func (m *mintedIDs) has(id int64) bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.ids[id]
	return ok
}

// mergeRecords unions fast and durable records, drops copies of the same view, and
// orders newest first. Records are the same view when their ids match. A legacy fast
// record has no stored id, so a durable row matching its fingerprint, product and
// millisecond is taken as its reconciled copy. Fast records win ties and duplicates
// since they carry the product snapshot.
func mergeRecords(fast, durable []domain.HistoryRecord, legacy *mintedIDs) []domain.HistoryRecord {
	out := make([]domain.HistoryRecord, 0, len(fast)+len(durable))
	seenID := make(map[int64]struct{}, len(fast)+len(durable))
	legacyViews := map[viewKey]struct{}{}

	for _, r := range fast {
		if _, ok := seenID[r.HistoryID]; ok {
			continue
		}
		seenID[r.HistoryID] = struct{}{}
		if legacy.has(r.HistoryID) {
			legacyViews[keyOf(r)] = struct{}{}
		}
		out = append(out, r)
	}
	for _, r := range durable {
		if _, ok := seenID[r.HistoryID]; ok {
			continue
		}
		if _, ok := legacyViews[keyOf(r)]; ok {
			continue
		}
		seenID[r.HistoryID] = struct{}{}
		out = append(out, r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].BrowseTime.After(out[j].BrowseTime)
	})
	return out
}

func window(records []domain.HistoryRecord, page domain.Page) []domain.HistoryRecord {
	from := page.Offset()
	if from >= len(records) {
		return []domain.HistoryRecord{}
	}
	to := from + page.Size
	if to > len(records) {
		to = len(records)
	}
	return records[from:to]
}

// IsUnavailable reports whether err came from a backing-store failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, domain.ErrStoreUnavailable)
}
