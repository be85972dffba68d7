package projection_test

import (
	"context"
	"testing"
	"time"

	"PerpFunding/internal/event"
	"PerpFunding/internal/projection"
	"PerpFunding/internal/testutil"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	rates []*event.FundingRateRecord
	calls int
}

func (s *countingStore) RateRecords(_ context.Context, _ uint64, limit int) ([]*event.FundingRateRecord, error) {
	s.calls++
	if limit < len(s.rates) {
		return s.rates[:limit], nil
	}
	return s.rates, nil
}

func (s *countingStore) PaymentRecords(context.Context, uuid.UUID, int) ([]*event.FundingPaymentRecord, error) {
	return nil, nil
}

func TestCachedRecordStore_ReadThrough(t *testing.T) {
	testutil.RequireIntegration(t)

	rdb := redis.NewClient(&redis.Options{Addr: testutil.TestRedisAddr()})
	defer rdb.Close()
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("test redis not available: %v", err)
	}

	primary := &countingStore{rates: []*event.FundingRateRecord{{MarketIndex: 42, RecordID: 1}, {MarketIndex: 42, RecordID: 0}}}
	store := projection.NewCachedRecordStore(primary, rdb, time.Minute, nil)
	require.NoError(t, store.InvalidateMarket(ctx, 42))

	recs, err := store.RateRecords(ctx, 42, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 1, primary.calls)

	recs, err = store.RateRecords(ctx, 42, 2)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	assert.Equal(t, 1, primary.calls, "second read served from redis")

	require.NoError(t, store.InvalidateMarket(ctx, 42))
	_, err = store.RateRecords(ctx, 42, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, primary.calls)
}
