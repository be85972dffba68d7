// Package guard decides whether an oracle report may drive a funding update.
package guard

import (
	"fmt"

	fpmath "PerpFunding/internal/math"
	"PerpFunding/internal/oracle"
	"PerpFunding/internal/state"
)

var markPricePrecision = fpmath.NewI128(fpmath.MarkPricePrecision)

// OracleStatus is everything the guard derived from one oracle read.
type OracleStatus struct {
	PriceData           oracle.PriceData
	IsValid             bool
	MarkTooDivergent    bool
	OracleMarkSpreadPct fpmath.I128 // (mark-oracle)/oracle at mark precision; zero when oracle <= 0
}

// GetOracleStatus reads the market's oracle and evaluates it against the
// guard rails and the current (or precomputed) mark price.
func GetOracleStatus(
	amm *state.AMM,
	account []byte,
	clockSlot uint64,
	guardRails state.GuardRails,
	precomputedMarkPrice *fpmath.U128,
) (OracleStatus, error) {
	data, err := amm.GetOraclePrice(account, clockSlot)
	if err != nil {
		return OracleStatus{}, err
	}

	valid, err := IsOracleValid(amm, data, guardRails.Validity)
	if err != nil {
		return OracleStatus{}, fmt.Errorf("oracle validity: %w", err)
	}

	// a non-positive oracle has no meaningful spread; it is already invalid
	if !data.Price.IsPositive() {
		return OracleStatus{PriceData: data, IsValid: false, MarkTooDivergent: true}, nil
	}

	spreadPct, err := CalculateOracleMarkSpreadPct(amm, data, precomputedMarkPrice)
	if err != nil {
		return OracleStatus{}, fmt.Errorf("oracle mark spread: %w", err)
	}
	divergent, err := IsOracleMarkTooDivergent(spreadPct, guardRails.PriceDivergence)
	if err != nil {
		return OracleStatus{}, err
	}

	return OracleStatus{
		PriceData:           data,
		IsValid:             valid,
		MarkTooDivergent:    divergent,
		OracleMarkSpreadPct: spreadPct,
	}, nil
}

// BlockOperation reports whether funding must be skipped this interval,
// along with the oracle observation it read. Blocking is not an error.
func BlockOperation(
	amm *state.AMM,
	account []byte,
	clockSlot uint64,
	guardRails state.GuardRails,
	precomputedMarkPrice *fpmath.U128,
) (bool, oracle.PriceData, error) {
	status, err := GetOracleStatus(amm, account, clockSlot, guardRails, precomputedMarkPrice)
	if err != nil {
		return false, oracle.PriceData{}, err
	}
	return !status.IsValid || status.MarkTooDivergent, status.PriceData, nil
}

// IsOracleValid rejects reports that are stale, from the future, lacking
// quorum, non-positive, too volatile against the oracle TWAP or too
// uncertain.
func IsOracleValid(amm *state.AMM, data oracle.PriceData, rails state.ValidityGuardRails) (bool, error) {
	if data.Delay > rails.SlotsBeforeStale || data.Delay < 0 {
		return false, nil
	}
	if !data.HasSufficientNumberOfDataPoints {
		return false, nil
	}
	if !data.Price.IsPositive() {
		return false, nil
	}

	twap := amm.LastOraclePriceTwap
	hi := fpmath.MaxI128(data.Price, twap)
	lo := fpmath.MaxI128(fpmath.MinI128(data.Price, twap), fpmath.NewI128(1))
	ratio, err := hi.Div(lo)
	if err != nil {
		return false, err
	}
	if ratio.Cmp(rails.TooVolatileRatio) > 0 {
		return false, nil
	}

	price, err := data.Price.ToU128()
	if err != nil {
		return false, err
	}
	confDenomOfPrice, err := price.Div(fpmath.MaxU128(data.Confidence, fpmath.NewU128(1)))
	if err != nil {
		return false, err
	}
	if confDenomOfPrice.Cmp(rails.ConfidenceIntervalMaxSize) < 0 {
		return false, nil
	}
	return true, nil
}

// CalculateOracleMarkSpreadPct returns (mark - oracle) * 1e10 / oracle.
func CalculateOracleMarkSpreadPct(amm *state.AMM, data oracle.PriceData, precomputedMarkPrice *fpmath.U128) (fpmath.I128, error) {
	var markPrice fpmath.U128
	if precomputedMarkPrice != nil {
		markPrice = *precomputedMarkPrice
	} else {
		var err error
		if markPrice, err = amm.MarkPrice(); err != nil {
			return fpmath.I128{}, err
		}
	}

	mark, err := markPrice.ToI128()
	if err != nil {
		return fpmath.I128{}, err
	}
	spread, err := mark.Sub(data.Price)
	if err != nil {
		return fpmath.I128{}, err
	}
	return fpmath.MulDivI128(spread, markPricePrecision, data.Price)
}

// IsOracleMarkTooDivergent compares |spreadPct| to numerator/denominator at
// mark precision.
func IsOracleMarkTooDivergent(spreadPct fpmath.I128, rails state.PriceDivergenceGuardRails) (bool, error) {
	scaled, err := rails.MarkOracleDivergenceNumerator.Mul(fpmath.NewU128(uint64(fpmath.MarkPricePrecision)))
	if err != nil {
		return false, err
	}
	maxDivergence, err := scaled.Div(rails.MarkOracleDivergenceDenominator)
	if err != nil {
		return false, err
	}
	return spreadPct.UnsignedAbs().Cmp(maxDivergence) > 0, nil
}
