package projection

import (
	"context"
	"sync"

	"PerpFunding/internal/core"
	"PerpFunding/internal/event"
	fpmath "PerpFunding/internal/math"
	"PerpFunding/internal/state"

	"github.com/google/uuid"
)

// DefaultRetention is how many records per market or user the in-memory
// history keeps. Older ones are served from Postgres.
const DefaultRetention = 1_000

// MarketFunding is the latest funding state of one market.
type MarketFunding struct {
	MarketIndex                uint64      `json:"market_index"`
	Symbol                     string      `json:"symbol"`
	CumulativeFundingRateLong  fpmath.I128 `json:"cumulative_funding_rate_long"`
	CumulativeFundingRateShort fpmath.I128 `json:"cumulative_funding_rate_short"`
	LastFundingRate            fpmath.I128 `json:"last_funding_rate"`
	LastFundingRateTs          int64       `json:"last_funding_rate_ts"`
	FundingPeriod              int64       `json:"funding_period"`
	LastMarkPriceTwap          fpmath.U128 `json:"last_mark_price_twap"`
	LastOraclePriceTwap        fpmath.I128 `json:"last_oracle_price_twap"`
	BaseAssetAmountLong        fpmath.I128 `json:"base_asset_amount_long"`
	BaseAssetAmountShort       fpmath.I128 `json:"base_asset_amount_short"`
	TotalFeeMinusDistributions fpmath.U128 `json:"total_fee_minus_distributions"`
	AsOfSequence               int64       `json:"as_of_sequence"`
}

func marketFundingFrom(m *state.Market, seq int64) MarketFunding {
	return MarketFunding{
		MarketIndex:                m.MarketIndex,
		Symbol:                     m.Symbol,
		CumulativeFundingRateLong:  m.AMM.CumulativeFundingRateLong,
		CumulativeFundingRateShort: m.AMM.CumulativeFundingRateShort,
		LastFundingRate:            m.AMM.LastFundingRate,
		LastFundingRateTs:          m.AMM.LastFundingRateTs,
		FundingPeriod:              m.AMM.FundingPeriod,
		LastMarkPriceTwap:          m.AMM.LastMarkPriceTwap,
		LastOraclePriceTwap:        m.AMM.LastOraclePriceTwap,
		BaseAssetAmountLong:        m.BaseAssetAmountLong,
		BaseAssetAmountShort:       m.BaseAssetAmountShort,
		TotalFeeMinusDistributions: m.AMM.TotalFeeMinusDistributions,
		AsOfSequence:               seq,
	}
}

// RecordStore serves funding record history, newest first.
type RecordStore interface {
	RateRecords(ctx context.Context, marketIndex uint64, limit int) ([]*event.FundingRateRecord, error)
	PaymentRecords(ctx context.Context, user uuid.UUID, limit int) ([]*event.FundingPaymentRecord, error)
}

// FundingHistory is the in-memory read model built from committed core
// output. Safe for concurrent use: one writer (the projection worker) and
// any number of readers.
type FundingHistory struct {
	mu        sync.RWMutex
	retention int
	markets   map[uint64]MarketFunding
	rates     map[uint64][]*event.FundingRateRecord
	payments  map[uuid.UUID][]*event.FundingPaymentRecord
	watermark int64
}

func NewFundingHistory(retention int) *FundingHistory {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &FundingHistory{
		retention: retention,
		markets:   make(map[uint64]MarketFunding),
		rates:     make(map[uint64][]*event.FundingRateRecord),
		payments:  make(map[uuid.UUID][]*event.FundingPaymentRecord),
		watermark: -1,
	}
}

// Seed loads market state that exists before any output, e.g. markets
// registered from configuration or restored from a snapshot. A market
// already known at seq or later is left alone.
func (h *FundingHistory) Seed(markets []*state.Market, seq int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range markets {
		h.putMarket(m, seq)
	}
}

func (h *FundingHistory) putMarket(m *state.Market, seq int64) {
	if cur, ok := h.markets[m.MarketIndex]; ok && cur.AsOfSequence >= seq {
		return
	}
	h.markets[m.MarketIndex] = marketFundingFrom(m, seq)
}

// Apply folds one core output into the history. Outputs at or below the
// watermark are ignored, so replays are harmless.
func (h *FundingHistory) Apply(out core.CoreOutput) {
	seq := out.Envelope.Sequence

	h.mu.Lock()
	defer h.mu.Unlock()

	if seq <= h.watermark {
		return
	}
	h.watermark = seq

	for _, m := range out.Markets {
		h.putMarket(m, seq)
	}
	for _, rec := range out.Records {
		switch r := rec.Record.(type) {
		case *event.FundingRateRecord:
			h.rates[r.MarketIndex] = appendBounded(h.rates[r.MarketIndex], r, h.retention)
		case *event.FundingPaymentRecord:
			h.payments[r.User] = appendBounded(h.payments[r.User], r, h.retention)
		}
	}
}

func appendBounded[T any](s []T, v T, limit int) []T {
	s = append(s, v)
	if len(s) > limit {
		s = append(s[:0], s[len(s)-limit:]...)
	}
	return s
}

// Watermark is the sequence of the last applied output, -1 if none.
func (h *FundingHistory) Watermark() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.watermark
}

func (h *FundingHistory) Market(marketIndex uint64) (MarketFunding, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.markets[marketIndex]
	return m, ok
}

func (h *FundingHistory) RateRecords(_ context.Context, marketIndex uint64, limit int) ([]*event.FundingRateRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return newestFirst(h.rates[marketIndex], limit), nil
}

func (h *FundingHistory) PaymentRecords(_ context.Context, user uuid.UUID, limit int) ([]*event.FundingPaymentRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return newestFirst(h.payments[user], limit), nil
}

func newestFirst[T any](s []T, limit int) []T {
	if limit <= 0 || limit > len(s) {
		limit = len(s)
	}
	out := make([]T, 0, limit)
	for i := len(s) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s[i])
	}
	return out
}
