package math

import (
	"math/big"
	"sync"

	"github.com/shopspring/decimal"
)

// DecimalConfig defines a fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int32 // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

const (
	MarkPricePrecision       int64 = 10_000_000_000                               // 1e10: prices, TWAPs, confidence
	FundingPaymentPrecision  int64 = 10_000                                       // 1e4
	FundingRatePrecision     int64 = MarkPricePrecision * FundingPaymentPrecision // 1e14: cumulative funding counters
	AMMReservePrecision      int64 = 10_000_000_000_000                           // 1e13: base asset amounts, reserves
	QuotePrecision           int64 = 1_000_000                                    // 1e6: USDC
	AMMToQuotePrecisionRatio int64 = AMMReservePrecision / QuotePrecision        // 1e7
	PegPrecision             int64 = 1_000
	PriceToPegPrecisionRatio int64 = MarkPricePrecision / PegPrecision

	OneHour int64 = 3600
	OneDay  int64 = 24 * OneHour
)

var (
	MarkPriceConfig   = DecimalConfig{DecimalPrecision: 10, Scale: MarkPricePrecision}
	FundingRateConfig = DecimalConfig{DecimalPrecision: 14, Scale: FundingRatePrecision}
	BaseAssetConfig   = DecimalConfig{DecimalPrecision: 13, Scale: AMMReservePrecision}
	QuoteConfig       = DecimalConfig{DecimalPrecision: 6, Scale: QuotePrecision}
	PegConfig         = DecimalConfig{DecimalPrecision: 3, Scale: PegPrecision}
)

// ToDecimal renders a fixed-point value at cfg's precision, e.g. for API output.
func (a I128) ToDecimal(cfg DecimalConfig) decimal.Decimal {
	return decimal.NewFromBigInt(a.Big(), -cfg.DecimalPrecision)
}

func (a U128) ToDecimal(cfg DecimalConfig) decimal.Decimal {
	return decimal.NewFromBigInt(a.Big(), -cfg.DecimalPrecision)
}

// FromDecimal converts a human value (e.g. "101.25") into cfg's fixed-point
// representation, truncating extra digits.
func FromDecimal(d decimal.Decimal, cfg DecimalConfig) (I128, error) {
	scaled := d.Shift(cfg.DecimalPrecision).Truncate(0)
	return i128FromBig(scaled.BigInt())
}

// Pooled big.Int scratch space for 128/256-bit intermediates
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}
