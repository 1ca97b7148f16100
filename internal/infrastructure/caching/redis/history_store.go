package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/baechuer/real-time-ressys/services/history-service/internal/application/history"
)

const scanBatch = 500

// HistoryStore keeps one sorted set per fingerprint, scored by view time in ms.
type HistoryStore struct {
	rdb *redis.Client
}

func NewHistoryStore(c *Client) *HistoryStore {
	return &HistoryStore{rdb: c.rdb}
}

func (s *HistoryStore) Add(ctx context.Context, key, member string, score float64) error {
	return s.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (s *HistoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.rdb.PExpire(ctx, key, ttl).Err()
}

func (s *HistoryStore) RevRange(ctx context.Context, key string, start, stop int64) ([]history.ScoredMember, error) {
	zs, err := s.rdb.ZRevRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([]history.ScoredMember, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			member = fmt.Sprint(z.Member)
		}
		out = append(out, history.ScoredMember{Member: member, Score: z.Score})
	}
	return out, nil
}

func (s *HistoryStore) Card(ctx context.Context, key string) (int64, error) {
	return s.rdb.ZCard(ctx, key).Result()
}

// Keys walks the keyspace with SCAN so a large keyspace never blocks the server.
// SCAN may repeat keys across batches; the result is de-duplicated and sorted.
func (s *HistoryStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	seen := make(map[string]struct{})
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			seen[k] = struct{}{}
		}
		if next == 0 {
			break
		}
		cursor = next
	}

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}
