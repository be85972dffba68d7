package math

import "fmt"

// CalculateTWAP blends a new sample into a running average:
// (old*oldWeight + new*newWeight) / (oldWeight + newWeight).
func CalculateTWAP(newData, oldData I128, newWeight, oldWeight int64) (I128, error) {
	denominator, err := AddInt64(newWeight, oldWeight)
	if err != nil {
		return I128{}, fmt.Errorf("twap weights: %w", err)
	}

	prev, err := oldData.Mul(NewI128(oldWeight))
	if err != nil {
		return I128{}, fmt.Errorf("twap previous: %w", err)
	}
	latest, err := newData.Mul(NewI128(newWeight))
	if err != nil {
		return I128{}, fmt.Errorf("twap latest: %w", err)
	}
	sum, err := prev.Add(latest)
	if err != nil {
		return I128{}, fmt.Errorf("twap sum: %w", err)
	}
	return sum.Div(NewI128(denominator))
}
