package state

import (
	"fmt"

	fpmath "PerpFunding/internal/math"
	"PerpFunding/internal/oracle"
)

// PriceDivergenceGuardRails bounds how far mark may sit from oracle:
// numerator/denominator as a fraction of the oracle price.
type PriceDivergenceGuardRails struct {
	MarkOracleDivergenceNumerator   fpmath.U128 `yaml:"mark_oracle_divergence_numerator"`
	MarkOracleDivergenceDenominator fpmath.U128 `yaml:"mark_oracle_divergence_denominator"`
}

// ValidityGuardRails decides when an oracle report is usable at all.
type ValidityGuardRails struct {
	SlotsBeforeStale          int64       `yaml:"slots_before_stale"`
	ConfidenceIntervalMaxSize fpmath.U128 `yaml:"confidence_interval_max_size"` // min price/confidence
	TooVolatileRatio          fpmath.I128 `yaml:"too_volatile_ratio"`           // max price/twap either way
}

type GuardRails struct {
	PriceDivergence PriceDivergenceGuardRails `yaml:"price_divergence"`
	Validity        ValidityGuardRails        `yaml:"validity"`
}

// DefaultGuardRails: 10% divergence, 1000 slots staleness, confidence at
// most a quarter of price, 5x move against the TWAP.
var DefaultGuardRails = GuardRails{
	PriceDivergence: PriceDivergenceGuardRails{
		MarkOracleDivergenceNumerator:   fpmath.NewU128(1),
		MarkOracleDivergenceDenominator: fpmath.NewU128(10),
	},
	Validity: ValidityGuardRails{
		SlotsBeforeStale:          1000,
		ConfidenceIntervalMaxSize: fpmath.NewU128(4),
		TooVolatileRatio:          fpmath.NewI128(5),
	},
}

// ValidateGuardRails checks that guard rails are within valid ranges.
func ValidateGuardRails(g GuardRails) error {
	if g.PriceDivergence.MarkOracleDivergenceDenominator.IsZero() {
		return fmt.Errorf("mark_oracle_divergence_denominator must be > 0")
	}
	if g.PriceDivergence.MarkOracleDivergenceNumerator.IsZero() {
		return fmt.Errorf("mark_oracle_divergence_numerator must be > 0")
	}
	if g.Validity.SlotsBeforeStale < 0 {
		return fmt.Errorf("slots_before_stale must be >= 0, got %d", g.Validity.SlotsBeforeStale)
	}
	if g.Validity.ConfidenceIntervalMaxSize.IsZero() {
		return fmt.Errorf("confidence_interval_max_size must be > 0")
	}
	if g.Validity.TooVolatileRatio.Cmp(fpmath.NewI128(1)) < 0 {
		return fmt.Errorf("too_volatile_ratio must be >= 1, got %s", g.Validity.TooVolatileRatio)
	}
	return nil
}

// ValidateMarket checks the static configuration of a market before it is
// registered.
func ValidateMarket(m *Market) error {
	if m.AMM.FundingPeriod <= 0 {
		return fmt.Errorf("market %d: funding_period must be > 0, got %d", m.MarketIndex, m.AMM.FundingPeriod)
	}
	if m.AMM.BaseAssetReserve.IsZero() || m.AMM.QuoteAssetReserve.IsZero() {
		return fmt.Errorf("market %d: reserves must be > 0", m.MarketIndex)
	}
	if m.AMM.PegMultiplier.IsZero() {
		return fmt.Errorf("market %d: peg_multiplier must be > 0", m.MarketIndex)
	}
	if m.AMM.OracleSource != oracle.SourceQuoteAsset && m.AMM.Oracle == "" {
		return fmt.Errorf("market %d: oracle account required for %s", m.MarketIndex, m.AMM.OracleSource)
	}
	return nil
}
