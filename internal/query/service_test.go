package query_test

import (
	"context"
	"testing"
	"time"

	"PerpFunding/internal/core"
	"PerpFunding/internal/event"
	"PerpFunding/internal/ledger"
	fpmath "PerpFunding/internal/math"
	"PerpFunding/internal/projection"
	"PerpFunding/internal/query"
	"PerpFunding/internal/state"
	"PerpFunding/internal/testutil"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var alice = uuid.MustParse("00000000-0000-0000-0000-00000000a11c")

// fundedHistory runs the hourly scenario through a real core and folds the
// output into a projection.
func fundedHistory(t *testing.T) *projection.FundingHistory {
	t.Helper()
	h, _ := funded(t)
	return h
}

// funded also posts the scenario's journals to a ledger book.
func funded(t *testing.T) (*projection.FundingHistory, *ledger.Book) {
	t.Helper()
	out := make(chan core.CoreOutput, 16)
	c := core.NewDeterministicCore(core.Config{GuardRails: state.DefaultGuardRails}, nil, out, nil, nil, zerolog.Nop())
	require.NoError(t, c.RegisterMarket(testutil.Market(0)))

	cmds := []event.Event{
		&event.OracleAccountUpdate{Market: 0, Account: testutil.PythAccount(), Slot: testutil.OracleSlot},
		&event.PositionUpdate{
			TradeID: uuid.New(), User: alice, Authority: uuid.New(), Market: 0,
			BaseAssetAmount: fpmath.NewI128(1_000_000_000_000_000),
			Timestamp:       time.Unix(100, 0).UTC(),
		},
		&event.FundingCrank{Market: 0, Now: 3600, Slot: testutil.OracleSlot},
		&event.SettleFunding{RequestID: uuid.New(), User: alice, Now: 3700},
	}
	for _, cmd := range cmds {
		require.NoError(t, c.ProcessEvent(context.Background(), cmd))
	}

	h := projection.NewFundingHistory(0)
	m, err := c.Market(0)
	require.NoError(t, err)
	h.Seed([]*state.Market{testutil.Market(0)}, -1)
	book := ledger.NewBook()
	close(out)
	for o := range out {
		h.Apply(o)
		require.NoError(t, book.Apply(o.Envelope.Sequence, o.Journals))
	}
	require.Equal(t, m.AMM.LastFundingRate, mustMarket(t, h).LastFundingRate)
	return h, book
}

func mustMarket(t *testing.T, h *projection.FundingHistory) projection.MarketFunding {
	t.Helper()
	m, ok := h.Market(0)
	require.True(t, ok)
	return m
}

func TestGetMarketFunding(t *testing.T) {
	qs := query.NewQueryService(fundedHistory(t), nil, nil)

	resp, err := qs.GetMarketFunding(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "0.00000416666666", resp.LastFundingRate)
	assert.Equal(t, int64(3600), resp.LastFundingRateTs)
	assert.Equal(t, int64(7200), resp.NextFundingTs)
	assert.Equal(t, "100", resp.OpenInterestLong)
	assert.Equal(t, "0.000416", resp.TotalFeeMinusDistributions)
	assert.Equal(t, int64(2), resp.AsOfSequence) // settle touches only the user

	_, err = qs.GetMarketFunding(context.Background(), 9)
	assert.ErrorIs(t, err, query.ErrNotFound)
}

func TestGetFundingRates(t *testing.T) {
	qs := query.NewQueryService(fundedHistory(t), nil, nil)

	rates, err := qs.GetFundingRates(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, rates, 1)
	assert.Equal(t, uint64(0), rates[0].RecordID)
	assert.Equal(t, "0.00000416666666", rates[0].FundingRate)

	_, err = qs.GetFundingRates(context.Background(), 0, query.MaxLimit+1)
	assert.ErrorIs(t, err, query.ErrInvalidLimit)

	_, err = qs.GetFundingRates(context.Background(), 9, 10)
	assert.ErrorIs(t, err, query.ErrNotFound)
}

func TestGetFundingPayments(t *testing.T) {
	qs := query.NewQueryService(fundedHistory(t), nil, nil)

	payments, err := qs.GetFundingPayments(context.Background(), alice, 10)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, "-0.000416", payments[0].FundingPayment)
	assert.Equal(t, "100", payments[0].BaseAssetAmount)

	none, err := qs.GetFundingPayments(context.Background(), uuid.New(), 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestVerifyIntegrity_Unavailable(t *testing.T) {
	qs := query.NewQueryService(projection.NewFundingHistory(0), nil, nil)
	_, err := qs.VerifyIntegrity(context.Background())
	assert.ErrorIs(t, err, query.ErrUnavailable)
}

func TestNormalizeLimit(t *testing.T) {
	l, err := query.NormalizeLimit(0)
	require.NoError(t, err)
	assert.Equal(t, query.DefaultLimit, l)

	_, err = query.NormalizeLimit(-1)
	assert.ErrorIs(t, err, query.ErrInvalidLimit)
}

func TestGetMarketLedger(t *testing.T) {
	h, book := funded(t)
	qs := query.NewQueryService(h, nil, nil).WithLedger(book)

	resp, err := qs.GetMarketLedger(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "0", resp.FundingPool) // the lone long has settled
	assert.Equal(t, "0.000416", resp.FeePool)
	assert.True(t, resp.Balanced)
	assert.Equal(t, int64(3), resp.AsOfSequence)

	_, err = qs.GetMarketLedger(context.Background(), 9)
	assert.ErrorIs(t, err, query.ErrNotFound)
}

func TestGetUserLedger(t *testing.T) {
	h, book := funded(t)
	qs := query.NewQueryService(h, nil, nil).WithLedger(book)

	resp, err := qs.GetUserLedger(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, resp.Markets, 1)
	assert.Equal(t, "-0.000416", resp.Markets[0].SettledFunding)

	resp, err = qs.GetUserLedger(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, resp.Markets)
}

func TestLedgerUnavailableWithoutBook(t *testing.T) {
	qs := query.NewQueryService(fundedHistory(t), nil, nil)
	_, err := qs.GetUserLedger(context.Background(), alice)
	assert.ErrorIs(t, err, query.ErrUnavailable)
}
