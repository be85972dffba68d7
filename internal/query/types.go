package query

import (
	"PerpFunding/internal/event"
	fpmath "PerpFunding/internal/math"
	"PerpFunding/internal/projection"

	"github.com/google/uuid"
)

// Fixed-point values are rendered as decimal strings at their precision,
// e.g. a funding payment of -416 (1e6) is "-0.000416".

// MarketFundingResponse is the latest funding state of a market.
type MarketFundingResponse struct {
	MarketIndex                uint64 `json:"market_index"`
	Symbol                     string `json:"symbol"`
	CumulativeFundingRateLong  string `json:"cumulative_funding_rate_long"`
	CumulativeFundingRateShort string `json:"cumulative_funding_rate_short"`
	LastFundingRate            string `json:"last_funding_rate"`
	LastFundingRateTs          int64  `json:"last_funding_rate_ts"`
	NextFundingTs              int64  `json:"next_funding_ts"`
	FundingPeriod              int64  `json:"funding_period"`
	MarkPriceTwap              string `json:"mark_price_twap"`
	OraclePriceTwap            string `json:"oracle_price_twap"`
	OpenInterestLong           string `json:"open_interest_long"`
	OpenInterestShort          string `json:"open_interest_short"`
	TotalFeeMinusDistributions string `json:"total_fee_minus_distributions"`
	AsOfSequence               int64  `json:"as_of_sequence"`
}

func marketFundingResponse(m projection.MarketFunding) MarketFundingResponse {
	next := m.LastFundingRateTs + m.FundingPeriod
	return MarketFundingResponse{
		MarketIndex:                m.MarketIndex,
		Symbol:                     m.Symbol,
		CumulativeFundingRateLong:  m.CumulativeFundingRateLong.ToDecimal(fpmath.FundingRateConfig).String(),
		CumulativeFundingRateShort: m.CumulativeFundingRateShort.ToDecimal(fpmath.FundingRateConfig).String(),
		LastFundingRate:            m.LastFundingRate.ToDecimal(fpmath.FundingRateConfig).String(),
		LastFundingRateTs:          m.LastFundingRateTs,
		NextFundingTs:              next,
		FundingPeriod:              m.FundingPeriod,
		MarkPriceTwap:              m.LastMarkPriceTwap.ToDecimal(fpmath.MarkPriceConfig).String(),
		OraclePriceTwap:            m.LastOraclePriceTwap.ToDecimal(fpmath.MarkPriceConfig).String(),
		OpenInterestLong:           m.BaseAssetAmountLong.ToDecimal(fpmath.BaseAssetConfig).String(),
		OpenInterestShort:          m.BaseAssetAmountShort.ToDecimal(fpmath.BaseAssetConfig).String(),
		TotalFeeMinusDistributions: m.TotalFeeMinusDistributions.ToDecimal(fpmath.QuoteConfig).String(),
		AsOfSequence:               m.AsOfSequence,
	}
}

// FundingRateResponse is one funding rate update.
type FundingRateResponse struct {
	RecordID                   uint64 `json:"record_id"`
	MarketIndex                uint64 `json:"market_index"`
	Ts                         int64  `json:"ts"`
	FundingRate                string `json:"funding_rate"`
	CumulativeFundingRateLong  string `json:"cumulative_funding_rate_long"`
	CumulativeFundingRateShort string `json:"cumulative_funding_rate_short"`
	MarkPriceTwap              string `json:"mark_price_twap"`
	OraclePriceTwap            string `json:"oracle_price_twap"`
}

func fundingRateResponse(r *event.FundingRateRecord) FundingRateResponse {
	return FundingRateResponse{
		RecordID:                   r.RecordID,
		MarketIndex:                r.MarketIndex,
		Ts:                         r.Ts,
		FundingRate:                r.FundingRate.ToDecimal(fpmath.FundingRateConfig).String(),
		CumulativeFundingRateLong:  r.CumulativeFundingRateLong.ToDecimal(fpmath.FundingRateConfig).String(),
		CumulativeFundingRateShort: r.CumulativeFundingRateShort.ToDecimal(fpmath.FundingRateConfig).String(),
		MarkPriceTwap:              r.MarkPriceTwap.ToDecimal(fpmath.MarkPriceConfig).String(),
		OraclePriceTwap:            r.OraclePriceTwap.ToDecimal(fpmath.MarkPriceConfig).String(),
	}
}

// FundingPaymentResponse is one settled funding payment. Negative
// payments were paid by the user.
type FundingPaymentResponse struct {
	User                      uuid.UUID `json:"user"`
	UserAuthority             uuid.UUID `json:"user_authority"`
	MarketIndex               uint64    `json:"market_index"`
	Ts                        int64     `json:"ts"`
	FundingPayment            string    `json:"funding_payment"`
	BaseAssetAmount           string    `json:"base_asset_amount"`
	UserLastCumulativeFunding string    `json:"user_last_cumulative_funding"`
	UserLastFundingRateTs     int64     `json:"user_last_funding_rate_ts"`
	AmmCumulativeFundingLong  string    `json:"amm_cumulative_funding_long"`
	AmmCumulativeFundingShort string    `json:"amm_cumulative_funding_short"`
}

func fundingPaymentResponse(r *event.FundingPaymentRecord) FundingPaymentResponse {
	return FundingPaymentResponse{
		User:                      r.User,
		UserAuthority:             r.UserAuthority,
		MarketIndex:               r.MarketIndex,
		Ts:                        r.Ts,
		FundingPayment:            r.FundingPayment.ToDecimal(fpmath.QuoteConfig).String(),
		BaseAssetAmount:           r.BaseAssetAmount.ToDecimal(fpmath.BaseAssetConfig).String(),
		UserLastCumulativeFunding: r.UserLastCumulativeFunding.ToDecimal(fpmath.FundingRateConfig).String(),
		UserLastFundingRateTs:     r.UserLastFundingRateTs,
		AmmCumulativeFundingLong:  r.AmmCumulativeFundingLong.ToDecimal(fpmath.FundingRateConfig).String(),
		AmmCumulativeFundingShort: r.AmmCumulativeFundingShort.ToDecimal(fpmath.FundingRateConfig).String(),
	}
}

// IntegrityReport is the result of a hash chain check over the command log.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	CheckedUpTo     int64   `json:"checked_up_to"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
}

// MarketLedgerResponse is a market's side of the funding journal.
// FundingPool is what unsettled positions owe (negative) or are owed.
type MarketLedgerResponse struct {
	MarketIndex  uint64 `json:"market_index"`
	FundingPool  string `json:"funding_pool"`
	FeePool      string `json:"fee_pool"`
	Balanced     bool   `json:"balanced"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// UserLedgerResponse is the net funding a user has settled per market.
type UserLedgerResponse struct {
	User         uuid.UUID           `json:"user"`
	Markets      []UserMarketFunding `json:"markets"`
	AsOfSequence int64               `json:"as_of_sequence"`
}

type UserMarketFunding struct {
	MarketIndex    uint64 `json:"market_index"`
	SettledFunding string `json:"settled_funding"`
}

func quoteString(v int64) string {
	return fpmath.NewI128(v).ToDecimal(fpmath.QuoteConfig).String()
}
