package funding

import (
	"fmt"

	fpmath "PerpFunding/internal/math"
	"PerpFunding/internal/state"
)

// CalculateFundingRateLongShort splits fundingRate between the two sides.
//
// The house is the counterparty to the market's net position. When that
// position pays, or the house can absorb what it is owed from the fee pool
// above its two-thirds reserve, both sides get the full rate. Otherwise the
// receiving side's rate is scaled down so it collects only what the payers
// put in plus the available fee budget.
//
// housePnl is in quote precision; the caller applies it to
// TotalFeeMinusDistributions.
func CalculateFundingRateLongShort(market *state.Market, fundingRate fpmath.I128) (long, short, housePnl fpmath.I128, err error) {
	netPayment, err := fpmath.CalculateFundingPaymentInQuotePrecision(fundingRate, market.BaseAssetAmount)
	if err != nil {
		return fpmath.I128{}, fpmath.I128{}, fpmath.I128{}, fmt.Errorf("net market funding payment: %w", err)
	}
	uncappedPnl, err := netPayment.Neg()
	if err != nil {
		return fpmath.I128{}, fpmath.I128{}, fpmath.I128{}, err
	}
	if !uncappedPnl.IsNegative() {
		return fundingRate, fundingRate, uncappedPnl, nil
	}

	budget, err := houseFundingBudget(&market.AMM)
	if err != nil {
		return fpmath.I128{}, fpmath.I128{}, fpmath.I128{}, err
	}
	pnlLimit, err := budget.Neg()
	if err != nil {
		return fpmath.I128{}, fpmath.I128{}, fpmath.I128{}, err
	}
	if uncappedPnl.Cmp(pnlLimit) >= 0 {
		return fundingRate, fundingRate, uncappedPnl, nil
	}

	// positive rate: longs pay, shorts receive
	payerBase, receiverBase := market.BaseAssetAmountLong, market.BaseAssetAmountShort
	if fundingRate.IsNegative() {
		payerBase, receiverBase = receiverBase, payerBase
	}
	payerPayment, err := fpmath.CalculateFundingPaymentInQuotePrecision(fundingRate, payerBase)
	if err != nil {
		return fpmath.I128{}, fpmath.I128{}, fpmath.I128{}, fmt.Errorf("payer funding payment: %w", err)
	}
	receiverPayment, err := fpmath.CalculateFundingPaymentInQuotePrecision(fundingRate, receiverBase)
	if err != nil {
		return fpmath.I128{}, fpmath.I128{}, fpmath.I128{}, fmt.Errorf("receiver funding payment: %w", err)
	}

	payerTotal, err := payerPayment.UnsignedAbs().ToI128()
	if err != nil {
		return fpmath.I128{}, fpmath.I128{}, fpmath.I128{}, err
	}
	available, err := payerTotal.Add(budget)
	if err != nil {
		return fpmath.I128{}, fpmath.I128{}, fpmath.I128{}, err
	}
	receiverTotal, err := receiverPayment.UnsignedAbs().ToI128()
	if err != nil {
		return fpmath.I128{}, fpmath.I128{}, fpmath.I128{}, err
	}

	cappedRate, err := fpmath.MulDivI128(fundingRate, available, receiverTotal)
	if err != nil {
		return fpmath.I128{}, fpmath.I128{}, fpmath.I128{}, fmt.Errorf("capped funding rate: %w", err)
	}

	long, short = fundingRate, fundingRate
	if fundingRate.IsNegative() {
		long = cappedRate
	} else {
		short = cappedRate
	}
	return long, short, pnlLimit, nil
}

// houseFundingBudget is how much of the fee pool may go to funding:
// TotalFeeMinusDistributions above two thirds of TotalFee, or zero.
func houseFundingBudget(amm *state.AMM) (fpmath.I128, error) {
	twoThirds, err := fpmath.MulDivU128(amm.TotalFee, fpmath.NewU128(2), fpmath.NewU128(3))
	if err != nil {
		return fpmath.I128{}, fmt.Errorf("fee pool lower bound: %w", err)
	}
	if amm.TotalFeeMinusDistributions.Cmp(twoThirds) <= 0 {
		return fpmath.I128{}, nil
	}
	budget, err := amm.TotalFeeMinusDistributions.Sub(twoThirds)
	if err != nil {
		return fpmath.I128{}, err
	}
	return budget.ToI128()
}
