package math

import "fmt"

var fundingRatePrecisionU128 = NewU128(uint64(FundingRatePrecision))

// CalculateFundingPayment returns what a position of baseAssetAmount is owed
// for the move of a cumulative funding counter from lastCumulative to
// cumulative. Longs pay when the counter rises, shorts receive.
//
// Result is in AMM precision; divide by AMMToQuotePrecisionRatio for quote.
func CalculateFundingPayment(cumulative, lastCumulative, baseAssetAmount I128) (I128, error) {
	delta, err := cumulative.Sub(lastCumulative)
	if err != nil {
		return I128{}, fmt.Errorf("funding rate delta: %w", err)
	}
	return calculateFundingPayment(delta, baseAssetAmount)
}

// CalculateFundingPaymentInQuotePrecision applies a single funding rate to
// baseAssetAmount and converts the result to quote precision.
func CalculateFundingPaymentInQuotePrecision(fundingRate, baseAssetAmount I128) (I128, error) {
	payment, err := calculateFundingPayment(fundingRate, baseAssetAmount)
	if err != nil {
		return I128{}, err
	}
	return payment.Div(NewI128(AMMToQuotePrecisionRatio))
}

func calculateFundingPayment(fundingRateDelta, baseAssetAmount I128) (I128, error) {
	// |delta| (1e14) * |base| (1e13) / 1e14 -> AMM precision
	magnitude, err := MulDivU128(
		fundingRateDelta.UnsignedAbs(),
		baseAssetAmount.UnsignedAbs(),
		fundingRatePrecisionU128,
	)
	if err != nil {
		return I128{}, fmt.Errorf("funding payment magnitude: %w", err)
	}

	payment, err := magnitude.ToI128()
	if err != nil {
		return I128{}, err
	}

	// Long + positive delta = pays, short + positive delta = receives
	if baseAssetAmount.IsPositive() != fundingRateDelta.IsNegative() {
		return payment.Neg()
	}
	return payment, nil
}
