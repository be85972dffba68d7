package oracle

import (
	"errors"
	"fmt"

	fpmath "PerpFunding/internal/math"
)

// ErrUnableToLoadOracle means the account bytes could not be decoded as the
// declared source. It never wraps a math error.
var ErrUnableToLoadOracle = errors.New("unable to load oracle")

// Source identifies the oracle wire format a market reads its price from.
type Source uint8

const (
	SourcePyth Source = iota
	SourceSwitchboard
	SourceQuoteAsset
)

func (s Source) String() string {
	switch s {
	case SourcePyth:
		return "pyth"
	case SourceSwitchboard:
		return "switchboard"
	case SourceQuoteAsset:
		return "quote_asset"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// ParseSource is the inverse of String.
func ParseSource(s string) (Source, error) {
	switch s {
	case "pyth":
		return SourcePyth, nil
	case "switchboard":
		return SourceSwitchboard, nil
	case "quote_asset":
		return SourceQuoteAsset, nil
	default:
		return 0, fmt.Errorf("unknown oracle source %q", s)
	}
}

func (s Source) MarshalText() ([]byte, error) {
	if s > SourceQuoteAsset {
		return nil, fmt.Errorf("unknown oracle source %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Source) UnmarshalText(b []byte) error {
	v, err := ParseSource(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// PriceData is a normalised oracle observation at mark price precision.
type PriceData struct {
	Price                           fpmath.I128
	Confidence                      fpmath.U128
	Delay                           int64 // slots since the observation; may be negative
	HasSufficientNumberOfDataPoints bool
}

var markPricePrecisionU128 = fpmath.NewU128(uint64(fpmath.MarkPricePrecision))

// GetOraclePrice decodes account as source and normalises it to mark price
// precision as of clockSlot.
func GetOraclePrice(source Source, account []byte, clockSlot uint64) (PriceData, error) {
	switch source {
	case SourcePyth:
		return getPythPrice(account, clockSlot)
	case SourceSwitchboard:
		return getSwitchboardPrice(account, clockSlot)
	case SourceQuoteAsset:
		return PriceData{
			Price:                           fpmath.NewI128(fpmath.MarkPricePrecision),
			Confidence:                      fpmath.NewU128(1),
			Delay:                           0,
			HasSufficientNumberOfDataPoints: true,
		}, nil
	default:
		return PriceData{}, fmt.Errorf("oracle source %s: %w", source, ErrUnableToLoadOracle)
	}
}

// slotDelay returns clockSlot - observedSlot as a signed slot count.
func slotDelay(clockSlot, observedSlot uint64) (int64, error) {
	now, err := fpmath.Uint64ToInt64(clockSlot)
	if err != nil {
		return 0, err
	}
	observed, err := fpmath.Uint64ToInt64(observedSlot)
	if err != nil {
		return 0, err
	}
	return fpmath.SubInt64(now, observed)
}

// scaleFactors returns the multiplier and divisor that move a value at
// 10^decimals precision to mark price precision. Exactly one is not 1.
func scaleFactors(decimals uint32) (mult, div fpmath.U128, err error) {
	precision, err := fpmath.Pow10U128(decimals)
	if err != nil {
		return fpmath.U128{}, fpmath.U128{}, err
	}
	one := fpmath.NewU128(1)
	if precision.Cmp(markPricePrecisionU128) > 0 {
		div, err = precision.Div(markPricePrecisionU128)
		return one, div, err
	}
	mult, err = markPricePrecisionU128.Div(precision)
	return mult, one, err
}
