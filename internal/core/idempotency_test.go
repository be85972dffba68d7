package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"PerpFunding/internal/event"
	fpmath "PerpFunding/internal/math"
	"PerpFunding/internal/oracle"
	"PerpFunding/internal/state"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDBChecker struct {
	seen  map[string]bool
	err   error
	calls int
}

func (s *stubDBChecker) IsDuplicate(_ context.Context, eventType, key string) (bool, error) {
	s.calls++
	if s.err != nil {
		return false, s.err
	}
	return s.seen[eventType+"/"+key], nil
}

func TestIdempotencyLRU_EvictsLeastRecent(t *testing.T) {
	lru := NewIdempotencyLRU(2)
	assert.False(t, lru.Add("a"))
	assert.False(t, lru.Add("b"))
	assert.True(t, lru.Contains("a")) // a is now most recent

	assert.True(t, lru.Add("c"))
	assert.False(t, lru.Contains("b"))
	assert.Equal(t, []string{"a", "c"}, lru.Keys())
}

func TestIdempotencyChecker_FallsBackToDB(t *testing.T) {
	db := &stubDBChecker{seen: map[string]bool{"FundingCrank/0:crank:3600:1": true}}
	ic := NewIdempotencyChecker(8, db, nil, zerolog.Nop())

	dup, err := ic.IsDuplicate(context.Background(), "FundingCrank", "0:crank:3600:1")
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, 1, db.calls)

	// second hit is served by the LRU
	dup, err = ic.IsDuplicate(context.Background(), "FundingCrank", "0:crank:3600:1")
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, 1, db.calls)

	dup, err = ic.IsDuplicate(context.Background(), "FundingCrank", "0:crank:7200:1")
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestIdempotencyChecker_DBErrorIsUnavailable(t *testing.T) {
	db := &stubDBChecker{err: errors.New("connection refused")}
	ic := NewIdempotencyChecker(8, db, nil, zerolog.Nop())

	dup, err := ic.IsDuplicate(context.Background(), "SettleFunding", "settle:x")
	assert.ErrorIs(t, err, ErrDedupUnavailable)
	assert.False(t, dup)

	// LRU hits never reach the failing tier
	ic.MarkProcessed("SettleFunding", "settle:y")
	dup, err = ic.IsDuplicate(context.Background(), "SettleFunding", "settle:y")
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, 1, db.calls)
}

func TestIdempotencyChecker_WarmRoundTrip(t *testing.T) {
	ic := NewIdempotencyChecker(8, nil, nil, zerolog.Nop())
	ic.MarkProcessed("SettleFunding", "settle:1")
	ic.MarkProcessed("SettleFunding", "settle:2")

	warmed := NewIdempotencyChecker(8, nil, nil, zerolog.Nop())
	warmed.Warm(ic.Keys())
	assert.Equal(t, ic.Keys(), warmed.Keys())
	dup, err := warmed.IsDuplicate(context.Background(), "SettleFunding", "settle:1")
	require.NoError(t, err)
	assert.True(t, dup)
}

// flakyDBChecker fails the first failures lookups, then reports keys as
// unseen.
type flakyDBChecker struct {
	failures int
	calls    int
}

func (f *flakyDBChecker) IsDuplicate(context.Context, string, string) (bool, error) {
	f.calls++
	if f.calls <= f.failures {
		return false, errors.New("connection reset")
	}
	return false, nil
}

func TestProcessEvent_DedupUnavailableAppliesNothing(t *testing.T) {
	out := make(chan CoreOutput, 4)
	c := NewDeterministicCore(Config{GuardRails: state.DefaultGuardRails}, out, nil,
		&flakyDBChecker{failures: 1}, nil, zerolog.Nop())

	err := c.ProcessEvent(context.Background(), &event.SettleFunding{User: uuid.New(), Now: 10})
	assert.ErrorIs(t, err, ErrDedupUnavailable)
	assert.Equal(t, int64(0), c.GetSequence())
	assert.Empty(t, out)
}

func TestRunner_HoldsCommandWhileDedupUnavailable(t *testing.T) {
	db := &flakyDBChecker{failures: 2}
	out := make(chan CoreOutput, 4)
	c := NewDeterministicCore(Config{GuardRails: state.DefaultGuardRails}, out, nil, db, nil, zerolog.Nop())
	require.NoError(t, c.RegisterMarket(&state.Market{
		MarketIndex: 0,
		AMM: state.AMM{
			OracleSource:      oracle.SourceQuoteAsset,
			BaseAssetReserve:  fpmath.NewU128(1),
			QuoteAssetReserve: fpmath.NewU128(1),
			PegMultiplier:     fpmath.NewU128(1),
			FundingPeriod:     3600,
		},
	}))

	input := make(chan event.Event, 1)
	input <- &event.OracleAccountUpdate{Market: 0, Account: []byte{1}, Slot: 7, ObservedAt: time.Unix(1, 0).UTC()}
	close(input)

	r := NewRunner(c, input, nil, 0, nil, zerolog.Nop())
	r.retryBackoff = time.Millisecond
	r.retryMax = time.Millisecond
	r.Run(context.Background())

	assert.Equal(t, 3, db.calls)
	assert.Equal(t, int64(1), c.GetSequence())
	require.Len(t, out, 1)
}

func TestSequenceValidator(t *testing.T) {
	sv := NewSequenceValidator(nil)

	assert.NoError(t, sv.ValidateMonotonic("crank:0", 3600))
	sv.Advance("crank:0", 3600)
	assert.NoError(t, sv.ValidateMonotonic("crank:0", 3600))
	assert.ErrorIs(t, sv.ValidateMonotonic("crank:0", 3599), ErrOutOfOrder)

	// Advance never moves backwards
	sv.Advance("crank:0", 10)
	last, ok := sv.Last("crank:0")
	assert.True(t, ok)
	assert.Equal(t, int64(3600), last)

	assert.True(t, sv.IsFreshSlot(0, 5))
	sv.Advance(oraclePartition(0), 5)
	assert.False(t, sv.IsFreshSlot(0, 5))
	assert.True(t, sv.IsFreshSlot(0, 9))
	assert.True(t, sv.IsFreshSlot(1, 1))

	restored := NewSequenceValidator(nil)
	restored.Restore(sv.State())
	assert.Equal(t, sv.State(), restored.State())
}
