package history

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/baechuer/real-time-ressys/services/history-service/internal/domain"
)

var errBoom = errors.New("boom")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type seqIDs struct{ n atomic.Int64 }

func newIDs(start int64) *seqIDs {
	g := &seqIDs{}
	g.n.Store(start)
	return g
}

func (g *seqIDs) Next() int64 { return g.n.Add(1) }

// memFast mimics a sorted-set store, including reverse-lexicographic tie order.
type memFast struct {
	mu      sync.Mutex
	sets    map[string]map[string]float64
	ttl     map[string]time.Duration
	readErr map[string]error
	addErr  error
	keysErr error
	cardErr error
}

func newMemFast() *memFast {
	return &memFast{
		sets:    map[string]map[string]float64{},
		ttl:     map[string]time.Duration{},
		readErr: map[string]error{},
	}
}

func (m *memFast) Add(_ context.Context, key, member string, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return m.addErr
	}
	if m.sets[key] == nil {
		m.sets[key] = map[string]float64{}
	}
	m.sets[key][member] = score
	return nil
}

func (m *memFast) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ttl[key] = ttl
	return nil
}

func (m *memFast) RevRange(_ context.Context, key string, start, stop int64) ([]ScoredMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.readErr[key]; err != nil {
		return nil, err
	}
	all := make([]ScoredMember, 0, len(m.sets[key]))
	for member, score := range m.sets[key] {
		all = append(all, ScoredMember{Member: member, Score: score})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return all[i].Member > all[j].Member
	})
	n := int64(len(all))
	if stop < 0 || stop >= n {
		stop = n - 1
	}
	if start >= n || start > stop {
		return []ScoredMember{}, nil
	}
	return all[start : stop+1], nil
}

func (m *memFast) Card(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cardErr != nil {
		return 0, m.cardErr
	}
	return int64(len(m.sets[key])), nil
}

func (m *memFast) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keysErr != nil {
		return nil, m.keysErr
	}
	prefix := strings.TrimSuffix(pattern, "*")
	var out []string
	for k, set := range m.sets {
		if strings.HasPrefix(k, prefix) && len(set) > 0 {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// expire simulates TTL expiry of key.
func (m *memFast) expire(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sets, key)
	delete(m.ttl, key)
}

type memIdentity struct {
	mu      sync.Mutex
	links   map[string]domain.FingerprintIdentity
	writes  int
	linkErr error
	readErr error
}

func newMemIdentity() *memIdentity {
	return &memIdentity{links: map[string]domain.FingerprintIdentity{}}
}

func (m *memIdentity) UpsertLink(_ context.Context, fp, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.linkErr != nil {
		return m.linkErr
	}
	if cur, ok := m.links[fp]; ok && cur.UserID == userID {
		return nil
	}
	m.links[fp] = domain.FingerprintIdentity{Fingerprint: fp, UserID: userID, LinkedAt: at}
	m.writes++
	return nil
}

func (m *memIdentity) FingerprintsForUser(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	var out []string
	for fp, l := range m.links {
		if l.UserID == userID {
			out = append(out, fp)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memIdentity) userOf(fp string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[fp].UserID
}

// memDurable mimics the relational tier. Rows keep no product snapshot.
type memDurable struct {
	mu        sync.Mutex
	rows      map[int64]domain.HistoryRecord
	ident     *memIdentity
	upsertErr func(rec domain.HistoryRecord) error
	listErr   error
	countErr  error
	lastLimit int
	lastOff   int
}

func newMemDurable(ident *memIdentity) *memDurable {
	return &memDurable{rows: map[int64]domain.HistoryRecord{}, ident: ident}
}

func (m *memDurable) UpsertHistory(_ context.Context, rec domain.HistoryRecord) error {
	if m.upsertErr != nil {
		if err := m.upsertErr(rec); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Product = nil
	if cur, ok := m.rows[rec.HistoryID]; ok {
		cur.BrowseTime = rec.BrowseTime
		if cur.UserID == "" {
			cur.UserID = rec.UserID
		}
		m.rows[rec.HistoryID] = cur
		return nil
	}
	m.rows[rec.HistoryID] = rec
	return nil
}

func (m *memDurable) put(recs ...domain.HistoryRecord) {
	for _, r := range recs {
		_ = m.UpsertHistory(context.Background(), r)
	}
}

func (m *memDurable) filter(match func(domain.HistoryRecord) bool) []domain.HistoryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.HistoryRecord
	for _, r := range m.rows {
		if match(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].BrowseTime.Equal(out[j].BrowseTime) {
			return out[i].BrowseTime.After(out[j].BrowseTime)
		}
		return out[i].HistoryID > out[j].HistoryID
	})
	return out
}

func (m *memDurable) forUser(userID string) func(domain.HistoryRecord) bool {
	return func(r domain.HistoryRecord) bool {
		return r.UserID == userID || (m.ident != nil && m.ident.userOf(r.FingerprintID) == userID)
	}
}

func slicePage(rows []domain.HistoryRecord, limit, offset int) []domain.HistoryRecord {
	if offset >= len(rows) {
		return nil
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[offset:end]
}

func (m *memDurable) ListByUser(_ context.Context, userID string, limit, offset int) ([]domain.HistoryRecord, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.lastLimit, m.lastOff = limit, offset
	return slicePage(m.filter(m.forUser(userID)), limit, offset), nil
}

func (m *memDurable) CountByUser(_ context.Context, userID string) (int64, error) {
	if m.countErr != nil {
		return 0, m.countErr
	}
	return int64(len(m.filter(m.forUser(userID)))), nil
}

func (m *memDurable) ListByFingerprint(_ context.Context, fp string, limit, offset int) ([]domain.HistoryRecord, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.lastLimit, m.lastOff = limit, offset
	return slicePage(m.filter(func(r domain.HistoryRecord) bool { return r.FingerprintID == fp }), limit, offset), nil
}

func (m *memDurable) CountByFingerprint(_ context.Context, fp string) (int64, error) {
	if m.countErr != nil {
		return 0, m.countErr
	}
	return int64(len(m.filter(func(r domain.HistoryRecord) bool { return r.FingerprintID == fp }))), nil
}

func (m *memDurable) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type fixture struct {
	svc     *Service
	fast    *memFast
	durable *memDurable
	ident   *memIdentity
	clock   *fakeClock
	ids     *seqIDs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fast := newMemFast()
	ident := newMemIdentity()
	durable := newMemDurable(ident)
	clock := newClock()
	ids := newIDs(1000)
	svc := New(fast, durable, ident, ids, clock, Options{})
	return &fixture{svc: svc, fast: fast, durable: durable, ident: ident, clock: clock, ids: ids}
}

// putFast stores a view of productID at base+offsetMs directly in the fast tier.
func (f *fixture) putFast(t *testing.T, fp, productID string, id int64, offsetMs int64) {
	t.Helper()
	member, err := encodeEntry(domain.ViewEvent{
		HistoryID: id,
		Product:   domain.ProductSnapshot{ID: productID, Name: "name-" + productID},
	})
	require.NoError(t, err)
	require.NoError(t, f.fast.Add(context.Background(), "history:"+fp, member, float64(base().UnixMilli()+offsetMs)))
}

func base() time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
}

func at(offsetMs int64) time.Time {
	return base().Add(time.Duration(offsetMs) * time.Millisecond)
}

func durableRow(id int64, fp, userID, productID string, offsetMs int64) domain.HistoryRecord {
	return domain.HistoryRecord{
		HistoryID:     id,
		FingerprintID: fp,
		UserID:        userID,
		ProductID:     productID,
		BrowseTime:    at(offsetMs),
	}
}

func offsets(recs []domain.HistoryRecord) []int64 {
	out := make([]int64, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.BrowseTime.Sub(base()).Milliseconds())
	}
	return out
}
