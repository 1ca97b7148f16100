package history

import (
	"context"
	"strings"
	"time"
)

type Options struct {
	KeyPrefix string
	TTL       time.Duration

	FastTimeout    time.Duration
	DurableTimeout time.Duration

	PageSizeDefault int
	PageSizeMax     int

	// ReadConcurrency bounds parallel fast-tier reads for multi-device users.
	ReadConcurrency int
}

func (o Options) withDefaults() Options {
	if o.KeyPrefix == "" {
		o.KeyPrefix = "history:"
	}
	if o.TTL <= 0 {
		o.TTL = time.Hour
	}
	if o.FastTimeout <= 0 {
		o.FastTimeout = 500 * time.Millisecond
	}
	if o.DurableTimeout <= 0 {
		o.DurableTimeout = 2 * time.Second
	}
	if o.PageSizeDefault <= 0 {
		o.PageSizeDefault = 20
	}
	if o.PageSizeMax <= 0 {
		o.PageSizeMax = 100
	}
	if o.ReadConcurrency <= 0 {
		o.ReadConcurrency = 4
	}
	return o
}

// Service owns the two-tier history model: views land in the fast tier, reads merge
// both tiers, and a periodic sweep copies fast-tier entries into the durable tier.
// A view is visible in the durable tier only after the next sweep; until then reads
// still find it in the fast tier, provided the sweep interval stays below the TTL.
type Service struct {
	fast       FastStore
	durable    DurableStore
	identities IdentityStore
	ids        IDGenerator
	clock      Clock
	opts       Options
}

func New(fast FastStore, durable DurableStore, identities IdentityStore, ids IDGenerator, clock Clock, opts Options) *Service {
	return &Service{
		fast:       fast,
		durable:    durable,
		identities: identities,
		ids:        ids,
		clock:      clock,
		opts:       opts.withDefaults(),
	}
}

func (s *Service) key(fingerprint string) string {
	return s.opts.KeyPrefix + fingerprint
}

func (s *Service) fingerprintFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, s.opts.KeyPrefix) {
		return "", false
	}
	fp := strings.TrimPrefix(key, s.opts.KeyPrefix)
	return fp, fp != ""
}

func (s *Service) fastCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.FastTimeout)
}

func (s *Service) durableCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.DurableTimeout)
}
