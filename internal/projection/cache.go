package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"PerpFunding/internal/event"
	"PerpFunding/internal/observability"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// rateCacheDepth is how many rate records are cached per market. Requests
// for more read through to the primary store.
const rateCacheDepth = 100

// CachedRecordStore wraps a primary RecordStore (Postgres) with a Redis
// read-through cache for funding rate history. New rate records invalidate
// the market's entry; payments are not cached.
type CachedRecordStore struct {
	primary RecordStore
	rdb     *redis.Client
	ttl     time.Duration
	metrics *observability.Metrics
}

func NewCachedRecordStore(primary RecordStore, rdb *redis.Client, ttl time.Duration, metrics *observability.Metrics) *CachedRecordStore {
	return &CachedRecordStore{primary: primary, rdb: rdb, ttl: ttl, metrics: metrics}
}

func (s *CachedRecordStore) RateRecords(ctx context.Context, marketIndex uint64, limit int) ([]*event.FundingRateRecord, error) {
	if limit <= 0 || limit > rateCacheDepth {
		return s.primary.RateRecords(ctx, marketIndex, limit)
	}

	data, err := s.rdb.Get(ctx, ratesKey(marketIndex)).Bytes()
	if err == nil {
		var recs []*event.FundingRateRecord
		if json.Unmarshal(data, &recs) == nil {
			s.count(true)
			return truncate(recs, limit), nil
		}
	}
	s.count(false)

	recs, err := s.primary.RateRecords(ctx, marketIndex, rateCacheDepth)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(recs); err == nil {
		s.rdb.Set(ctx, ratesKey(marketIndex), data, s.ttl)
	}
	return truncate(recs, limit), nil
}

// PaymentRecords passes through.
func (s *CachedRecordStore) PaymentRecords(ctx context.Context, user uuid.UUID, limit int) ([]*event.FundingPaymentRecord, error) {
	return s.primary.PaymentRecords(ctx, user, limit)
}

func (s *CachedRecordStore) InvalidateMarket(ctx context.Context, marketIndex uint64) error {
	return s.rdb.Del(ctx, ratesKey(marketIndex)).Err()
}

func (s *CachedRecordStore) count(hit bool) {
	if s.metrics == nil {
		return
	}
	if hit {
		s.metrics.CacheHits.WithLabelValues("funding_rates").Inc()
	} else {
		s.metrics.CacheMisses.WithLabelValues("funding_rates").Inc()
	}
}

func truncate[T any](s []T, limit int) []T {
	if limit < len(s) {
		return s[:limit]
	}
	return s
}

func ratesKey(marketIndex uint64) string { return fmt.Sprintf("perp:funding:rates:%d", marketIndex) }
