package state

import (
	"fmt"

	fpmath "PerpFunding/internal/math"
	"PerpFunding/internal/oracle"
)

// AMM is the synthetic pricing curve of a market together with the funding
// accumulators it carries.
type AMM struct {
	Oracle            string        `json:"oracle" yaml:"oracle"` // oracle account key
	OracleSource      oracle.Source `json:"oracle_source" yaml:"oracle_source"`
	BaseAssetReserve  fpmath.U128   `json:"base_asset_reserve" yaml:"base_asset_reserve"`   // 1e13
	QuoteAssetReserve fpmath.U128   `json:"quote_asset_reserve" yaml:"quote_asset_reserve"` // 1e13
	PegMultiplier     fpmath.U128   `json:"peg_multiplier" yaml:"peg_multiplier"`           // 1e3

	CumulativeFundingRateLong  fpmath.I128 `json:"cumulative_funding_rate_long" yaml:"-"`  // 1e14
	CumulativeFundingRateShort fpmath.I128 `json:"cumulative_funding_rate_short" yaml:"-"` // 1e14
	LastFundingRate            fpmath.I128 `json:"last_funding_rate" yaml:"-"`
	LastFundingRateTs          int64       `json:"last_funding_rate_ts" yaml:"last_funding_rate_ts"`
	FundingPeriod              int64       `json:"funding_period" yaml:"funding_period"` // seconds

	LastOraclePrice       fpmath.I128 `json:"last_oracle_price" yaml:"-"`
	LastOraclePriceTwap   fpmath.I128 `json:"last_oracle_price_twap" yaml:"last_oracle_price_twap"` // 1e10
	LastOraclePriceTwapTs int64       `json:"last_oracle_price_twap_ts" yaml:"last_oracle_price_twap_ts"`
	LastMarkPriceTwap     fpmath.U128 `json:"last_mark_price_twap" yaml:"last_mark_price_twap"` // 1e10
	LastMarkPriceTwapTs   int64       `json:"last_mark_price_twap_ts" yaml:"last_mark_price_twap_ts"`

	TotalFee                   fpmath.U128 `json:"total_fee" yaml:"total_fee"` // 1e6
	TotalFeeMinusDistributions fpmath.U128 `json:"total_fee_minus_distributions" yaml:"total_fee_minus_distributions"`
}

// Market is one tradable perpetual. All fields are values, so a plain copy
// is a deep copy.
type Market struct {
	MarketIndex uint64 `json:"market_index" yaml:"market_index"`
	Symbol      string `json:"symbol" yaml:"symbol"`
	Initialized bool   `json:"initialized" yaml:"-"`

	BaseAssetAmountLong  fpmath.I128 `json:"base_asset_amount_long" yaml:"-"`  // >= 0
	BaseAssetAmountShort fpmath.I128 `json:"base_asset_amount_short" yaml:"-"` // <= 0
	BaseAssetAmount      fpmath.I128 `json:"base_asset_amount" yaml:"-"`       // net

	NextFundingRateRecordID uint64 `json:"next_funding_rate_record_id" yaml:"-"`

	AMM AMM `json:"amm" yaml:"amm"`
}

func (m *Market) Clone() *Market {
	c := *m
	return &c
}

// MarkPrice is the AMM curve price at mark price precision.
func (a *AMM) MarkPrice() (fpmath.U128, error) {
	return fpmath.CalculateBaseAssetPriceWithMantissa(a.QuoteAssetReserve, a.BaseAssetReserve, a.PegMultiplier)
}

func (a *AMM) GetOraclePrice(account []byte, clockSlot uint64) (oracle.PriceData, error) {
	return oracle.GetOraclePrice(a.OracleSource, account, clockSlot)
}

// UpdateOraclePriceTwap folds the oracle observation, nudged toward mark by
// its confidence, into the oracle TWAP and returns the new TWAP.
func (a *AMM) UpdateOraclePriceTwap(now int64, data oracle.PriceData, precomputedMarkPrice *fpmath.U128) (fpmath.I128, error) {
	markPrice, err := a.markOrPrecomputed(precomputedMarkPrice)
	if err != nil {
		return fpmath.I128{}, err
	}
	oraclePrice, err := normaliseOraclePrice(data, markPrice)
	if err != nil {
		return fpmath.I128{}, fmt.Errorf("normalise oracle price: %w", err)
	}

	sinceLast, fromStart, err := a.twapWeights(now, a.LastOraclePriceTwapTs)
	if err != nil {
		return fpmath.I128{}, err
	}
	twap, err := fpmath.CalculateTWAP(oraclePrice, a.LastOraclePriceTwap, sinceLast, fromStart)
	if err != nil {
		return fpmath.I128{}, fmt.Errorf("oracle twap: %w", err)
	}

	a.LastOraclePrice = data.Price
	a.LastOraclePriceTwap = twap
	a.LastOraclePriceTwapTs = now
	return twap, nil
}

// UpdateMarkTwap folds the current mark price into the mark TWAP and returns
// the new TWAP.
func (a *AMM) UpdateMarkTwap(now int64, precomputedMarkPrice *fpmath.U128) (fpmath.U128, error) {
	markPrice, err := a.markOrPrecomputed(precomputedMarkPrice)
	if err != nil {
		return fpmath.U128{}, err
	}
	sinceLast, fromStart, err := a.twapWeights(now, a.LastMarkPriceTwapTs)
	if err != nil {
		return fpmath.U128{}, err
	}

	current, err := markPrice.ToI128()
	if err != nil {
		return fpmath.U128{}, err
	}
	last, err := a.LastMarkPriceTwap.ToI128()
	if err != nil {
		return fpmath.U128{}, err
	}
	twap, err := fpmath.CalculateTWAP(current, last, sinceLast, fromStart)
	if err != nil {
		return fpmath.U128{}, fmt.Errorf("mark twap: %w", err)
	}
	result, err := twap.ToU128()
	if err != nil {
		return fpmath.U128{}, err
	}

	a.LastMarkPriceTwap = result
	a.LastMarkPriceTwapTs = now
	return result, nil
}

func (a *AMM) markOrPrecomputed(precomputed *fpmath.U128) (fpmath.U128, error) {
	if precomputed != nil {
		return *precomputed, nil
	}
	price, err := a.MarkPrice()
	if err != nil {
		return fpmath.U128{}, fmt.Errorf("mark price: %w", err)
	}
	return price, nil
}

// twapWeights weights the new sample by the time since the last one and the
// old average by what remains of the funding period, both floored at 1.
func (a *AMM) twapWeights(now, lastTs int64) (sinceLast, fromStart int64, err error) {
	elapsed, err := fpmath.SubInt64(now, lastTs)
	if err != nil {
		return 0, 0, fmt.Errorf("twap elapsed: %w", err)
	}
	sinceLast = max(1, elapsed)
	remaining, err := fpmath.SubInt64(a.FundingPeriod, sinceLast)
	if err != nil {
		return 0, 0, fmt.Errorf("twap remaining: %w", err)
	}
	return sinceLast, max(1, remaining), nil
}

var bpsDivisor = fpmath.NewU128(10_000)

// normaliseOraclePrice moves the oracle price toward mark by at most
// min(confidence, 2.5bps of mark).
func normaliseOraclePrice(data oracle.PriceData, markPrice fpmath.U128) (fpmath.I128, error) {
	oneBp, err := markPrice.Div(bpsDivisor)
	if err != nil {
		return fpmath.I128{}, err
	}
	twoAndHalfBps, err := oneBp.Mul(fpmath.NewU128(5))
	if err != nil {
		return fpmath.I128{}, err
	}
	if twoAndHalfBps, err = twoAndHalfBps.Div(fpmath.NewU128(2)); err != nil {
		return fpmath.I128{}, err
	}

	nudge, err := fpmath.MinU128(data.Confidence, twoAndHalfBps).ToI128()
	if err != nil {
		return fpmath.I128{}, err
	}
	mark, err := markPrice.ToI128()
	if err != nil {
		return fpmath.I128{}, err
	}

	switch mark.Cmp(data.Price) {
	case 1:
		return data.Price.Add(nudge)
	case -1:
		return data.Price.Sub(nudge)
	default:
		return data.Price, nil
	}
}
