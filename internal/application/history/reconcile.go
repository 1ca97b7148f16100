package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/baechuer/real-time-ressys/services/history-service/internal/domain"
	"github.com/baechuer/real-time-ressys/services/history-service/internal/logger"
	"github.com/baechuer/real-time-ressys/services/history-service/internal/metrics"
)

// SyncReport summarises one reconciliation pass. Err joins every per-key failure.
type SyncReport struct {
	Keys       int
	Upserted   int
	Malformed  int
	Failed     int
	FailedKeys []string
	Duration   time.Duration
	Err        error
}

func (r SyncReport) OK() bool { return r.Err == nil }

// SyncAll copies every fast-tier entry into the durable tier. A failing key or record
// is recorded in the report and the sweep moves on. Nothing is removed from the fast
// tier; entries age out through their TTL.
func (s *Service) SyncAll(ctx context.Context) SyncReport {
	started := s.clock.Now()
	log := logger.Logger.With().Str("component", "history_sync").Logger()

	var rep SyncReport
	var errs []error

	fctx, cancel := s.fastCtx(ctx)
	keys, err := s.fast.Keys(fctx, s.opts.KeyPrefix+"*")
	cancel()
	if err != nil {
		rep.Err = fmt.Errorf("%w: list history keys: %w", domain.ErrStoreUnavailable, err)
		rep.Duration = s.clock.Now().Sub(started)
		metrics.RecordSync(0, 0, rep.Duration)
		log.Error().Err(err).Msg("sync aborted: cannot list keys")
		return rep
	}

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		fp, ok := s.fingerprintFromKey(key)
		if !ok {
			continue
		}
		if err := s.syncKey(ctx, fp, &rep, log); err != nil {
			errs = append(errs, err)
		}
	}

	rep.Err = errors.Join(errs...)
	rep.Duration = s.clock.Now().Sub(started)
	metrics.RecordSync(rep.Upserted, rep.Failed, rep.Duration)

	log.Info().
		Int("keys", rep.Keys).
		Int("upserted", rep.Upserted).
		Int("malformed", rep.Malformed).
		Int("failed", rep.Failed).
		Dur("took", rep.Duration).
		Msg("sync finished")
	return rep
}

// SyncKey reconciles a single fingerprint now, outside the periodic sweep.
func (s *Service) SyncKey(ctx context.Context, fingerprint string) (SyncReport, error) {
	fingerprint = strings.TrimSpace(fingerprint)
	if !domain.ValidFingerprint(fingerprint) {
		return SyncReport{}, domain.ErrValidationMeta("invalid fingerprint", map[string]string{"field": "fingerprint"})
	}
	started := s.clock.Now()
	log := logger.WithCtx(ctx).With().Str("component", "history_sync").Logger()

	var rep SyncReport
	rep.Err = s.syncKey(ctx, fingerprint, &rep, log)
	rep.Duration = s.clock.Now().Sub(started)
	metrics.RecordSync(rep.Upserted, rep.Failed, rep.Duration)
	return rep, nil
}

func (s *Service) syncKey(ctx context.Context, fingerprint string, rep *SyncReport, log zerolog.Logger) error {
	key := s.key(fingerprint)
	rep.Keys++

	fctx, cancel := s.fastCtx(ctx)
	members, err := s.fast.RevRange(fctx, key, 0, -1)
	cancel()
	if err != nil {
		rep.Failed++
		rep.FailedKeys = append(rep.FailedKeys, key)
		log.Warn().Err(err).Str("key", key).Msg("sync: read key failed")
		return fmt.Errorf("%s: %w", key, err)
	}

	var errs []error
	for _, m := range members {
		rec, err := decodeEntry(fingerprint, m)
		if err != nil {
			rep.Malformed++
			metrics.RecordMalformedEntry()
			log.Warn().Err(err).Str("key", key).Msg("sync: dropping malformed entry")
			continue
		}
		if rec.HistoryID == 0 {
			rec.HistoryID = s.ids.Next()
		}

		dctx, cancel := s.durableCtx(ctx)
		err = s.durable.UpsertHistory(dctx, rec)
		cancel()
		if err != nil {
			rep.Failed++
			errs = append(errs, fmt.Errorf("%s/%d: %w", key, rec.HistoryID, err))
			continue
		}
		rep.Upserted++
	}

	if len(errs) > 0 {
		rep.FailedKeys = append(rep.FailedKeys, key)
		err := errors.Join(errs...)
		log.Warn().Err(err).Str("key", key).Int("failed", len(errs)).Msg("sync: key partially failed")
		return err
	}
	return nil
}
