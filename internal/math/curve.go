package math

import "fmt"

var priceToPegPrecisionRatioU128 = NewU128(uint64(PriceToPegPrecisionRatio))

// CalculateBaseAssetPriceWithMantissa prices one unit of base on the
// constant-product curve: quoteReserve * peg / baseReserve, at mark price
// precision. The rescale runs on a 256-bit intermediate.
func CalculateBaseAssetPriceWithMantissa(quoteAssetReserve, baseAssetReserve, pegMultiplier U128) (U128, error) {
	pegQuoteAssetAmount, err := quoteAssetReserve.Mul(pegMultiplier)
	if err != nil {
		return U128{}, fmt.Errorf("pegged quote reserve: %w", err)
	}
	price, err := MulDivU128(pegQuoteAssetAmount, priceToPegPrecisionRatioU128, baseAssetReserve)
	if err != nil {
		return U128{}, fmt.Errorf("base asset price: %w", err)
	}
	return price, nil
}
