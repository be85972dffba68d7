// Package funding derives periodic funding rates from the mark/oracle spread
// and settles the accumulated counters into user positions.
package funding

import (
	"fmt"

	"PerpFunding/internal/event"
	"PerpFunding/internal/guard"
	fpmath "PerpFunding/internal/math"
	"PerpFunding/internal/state"
)

// Outcome describes what a funding update attempt did. Only OutcomeUpdated
// mutates the market.
type Outcome int32

const (
	OutcomeUpdated Outcome = iota
	OutcomePaused
	OutcomeBlocked
	OutcomeNotDue
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUpdated:
		return "updated"
	case OutcomePaused:
		return "paused"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeNotDue:
		return "not_due"
	default:
		return "unknown"
	}
}

const maxSpreadDivisor = 33 // clamp the spread to ~3% of the oracle TWAP

var (
	oneDay                  = fpmath.NewI128(fpmath.OneDay)
	fundingPaymentPrecision = fpmath.NewI128(fpmath.FundingPaymentPrecision)
)

// NextUpdateWait returns how long after lastFundingRateTs the next update is
// allowed, pulling updates back onto period boundaries. An update landing
// more than a third of a period late skips to the following boundary.
func NextUpdateWait(lastFundingRateTs, fundingPeriod int64) (int64, error) {
	wait := fundingPeriod
	if fundingPeriod <= 1 {
		return wait, nil
	}

	lastUpdateDelay, err := fpmath.RemEuclidInt64(lastFundingRateTs, fundingPeriod)
	if err != nil {
		return 0, err
	}
	if lastUpdateDelay == 0 {
		return wait, nil
	}

	maxDelayForNextPeriod, err := fpmath.DivInt64(fundingPeriod, 3)
	if err != nil {
		return 0, err
	}
	twoFundingPeriods, err := fpmath.MulInt64(fundingPeriod, 2)
	if err != nil {
		return 0, err
	}

	if lastUpdateDelay > maxDelayForNextPeriod {
		// too late for the next boundary
		wait, err = fpmath.SubInt64(twoFundingPeriods, lastUpdateDelay)
	} else {
		wait, err = fpmath.SubInt64(fundingPeriod, lastUpdateDelay)
	}
	if err != nil {
		return 0, err
	}

	if wait > twoFundingPeriods {
		if wait, err = fpmath.SubInt64(wait, fundingPeriod); err != nil {
			return 0, err
		}
	}
	return wait, nil
}

// UpdateFundingRate advances the market's cumulative funding counters when
// funding is due, unpaused and the oracle passes the guard, emitting one
// FundingRateRecord. Every other outcome leaves the market untouched.
//
// On error the market may be partially updated; callers run it against a
// copy and discard it.
func UpdateFundingRate(
	marketIndex uint64,
	market *state.Market,
	priceOracle []byte,
	now int64,
	clockSlot uint64,
	guardRails state.GuardRails,
	fundingPaused bool,
	precomputedMarkPrice *fpmath.U128,
	emitter event.Emitter,
) (Outcome, error) {
	amm := &market.AMM

	timeSinceLastUpdate, err := fpmath.SubInt64(now, amm.LastFundingRateTs)
	if err != nil {
		return 0, fmt.Errorf("time since last funding update: %w", err)
	}

	blocked, oraclePriceData, err := guard.BlockOperation(amm, priceOracle, clockSlot, guardRails, precomputedMarkPrice)
	if err != nil {
		return 0, err
	}

	nextUpdateWait, err := NextUpdateWait(amm.LastFundingRateTs, amm.FundingPeriod)
	if err != nil {
		return 0, fmt.Errorf("next update wait: %w", err)
	}

	switch {
	case fundingPaused:
		return OutcomePaused, nil
	case blocked:
		return OutcomeBlocked, nil
	case timeSinceLastUpdate < nextUpdateWait:
		return OutcomeNotDue, nil
	}

	oraclePriceTwap, err := amm.UpdateOraclePriceTwap(now, oraclePriceData, precomputedMarkPrice)
	if err != nil {
		return 0, err
	}
	markPriceTwap, err := amm.UpdateMarkTwap(now, nil)
	if err != nil {
		return 0, err
	}

	fundingRate, err := calculateFundingRate(markPriceTwap, oraclePriceTwap, amm.FundingPeriod)
	if err != nil {
		return 0, err
	}

	fundingRateLong, fundingRateShort, housePnl, err := CalculateFundingRateLongShort(market, fundingRate)
	if err != nil {
		return 0, fmt.Errorf("funding rate long/short: %w", err)
	}
	if err := applyHousePnl(amm, housePnl); err != nil {
		return 0, err
	}

	if amm.CumulativeFundingRateLong, err = amm.CumulativeFundingRateLong.Add(fundingRateLong); err != nil {
		return 0, fmt.Errorf("cumulative funding rate long: %w", err)
	}
	if amm.CumulativeFundingRateShort, err = amm.CumulativeFundingRateShort.Add(fundingRateShort); err != nil {
		return 0, fmt.Errorf("cumulative funding rate short: %w", err)
	}
	amm.LastFundingRate = fundingRate
	amm.LastFundingRateTs = now

	recordID := market.NextFundingRateRecordID
	market.NextFundingRateRecordID++

	emitter.Emit(&event.FundingRateRecord{
		Ts:                         now,
		RecordID:                   recordID,
		MarketIndex:                marketIndex,
		FundingRate:                fundingRate,
		CumulativeFundingRateLong:  amm.CumulativeFundingRateLong,
		CumulativeFundingRateShort: amm.CumulativeFundingRateShort,
		MarkPriceTwap:              markPriceTwap,
		OraclePriceTwap:            oraclePriceTwap,
	})

	return OutcomeUpdated, nil
}

// calculateFundingRate turns the TWAP spread into a per-period rate at
// funding rate precision.
func calculateFundingRate(markPriceTwap fpmath.U128, oraclePriceTwap fpmath.I128, fundingPeriod int64) (fpmath.I128, error) {
	// a day's worth of premium spread across the periods in a day
	periodAdjustment, err := oneDay.Div(fpmath.NewI128(max(fpmath.OneHour, fundingPeriod)))
	if err != nil {
		return fpmath.I128{}, err
	}

	markTwap, err := markPriceTwap.ToI128()
	if err != nil {
		return fpmath.I128{}, err
	}
	priceSpread, err := markTwap.Sub(oraclePriceTwap)
	if err != nil {
		return fpmath.I128{}, fmt.Errorf("price spread: %w", err)
	}

	clamped, err := ClampPriceSpread(priceSpread, oraclePriceTwap)
	if err != nil {
		return fpmath.I128{}, err
	}

	rate, err := clamped.Mul(fundingPaymentPrecision)
	if err != nil {
		return fpmath.I128{}, fmt.Errorf("funding rate: %w", err)
	}
	return rate.Div(periodAdjustment)
}

// ClampPriceSpread bounds spread to ±oraclePriceTwap/33.
func ClampPriceSpread(spread, oraclePriceTwap fpmath.I128) (fpmath.I128, error) {
	maxSpread, err := oraclePriceTwap.Div(fpmath.NewI128(maxSpreadDivisor))
	if err != nil {
		return fpmath.I128{}, err
	}
	minSpread, err := maxSpread.Neg()
	if err != nil {
		return fpmath.I128{}, err
	}
	return fpmath.MaxI128(minSpread, fpmath.MinI128(spread, maxSpread)), nil
}

func applyHousePnl(amm *state.AMM, housePnl fpmath.I128) error {
	delta := housePnl.UnsignedAbs()
	var err error
	if housePnl.IsNegative() {
		amm.TotalFeeMinusDistributions, err = amm.TotalFeeMinusDistributions.Sub(delta)
	} else {
		amm.TotalFeeMinusDistributions, err = amm.TotalFeeMinusDistributions.Add(delta)
	}
	if err != nil {
		return fmt.Errorf("total fee minus distributions: %w", err)
	}
	return nil
}
