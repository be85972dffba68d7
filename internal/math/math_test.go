package math_test

import (
	"errors"
	"testing"

	fpmath "PerpFunding/internal/math"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test: checked 128-bit arithmetic
// ============================================================================

func TestI128_AddOverflow(t *testing.T) {
	_, err := fpmath.I128Max.Add(fpmath.NewI128(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, fpmath.ErrOverflow)
	assert.ErrorIs(t, err, fpmath.ErrMathError)
}

func TestI128_SubUnderflow(t *testing.T) {
	_, err := fpmath.I128Min.Sub(fpmath.NewI128(1))
	assert.ErrorIs(t, err, fpmath.ErrUnderflow)
}

func TestI128_DivTruncatesTowardZero(t *testing.T) {
	q, err := fpmath.NewI128(-7).Div(fpmath.NewI128(2))
	require.NoError(t, err)
	assert.Equal(t, fpmath.NewI128(-3), q)

	q, err = fpmath.NewI128(7).Div(fpmath.NewI128(-2))
	require.NoError(t, err)
	assert.Equal(t, fpmath.NewI128(-3), q)
}

func TestI128_DivByZero(t *testing.T) {
	_, err := fpmath.NewI128(1).Div(fpmath.I128{})
	assert.ErrorIs(t, err, fpmath.ErrDivideByZero)
	assert.True(t, errors.Is(err, fpmath.ErrMathError))
}

func TestI128_NegMinFails(t *testing.T) {
	_, err := fpmath.I128Min.Neg()
	assert.ErrorIs(t, err, fpmath.ErrMathError)

	n, err := fpmath.NewI128(42).Neg()
	require.NoError(t, err)
	assert.Equal(t, fpmath.NewI128(-42), n)
}

func TestI128_UnsignedAbs(t *testing.T) {
	assert.Equal(t, fpmath.NewU128(5), fpmath.NewI128(-5).UnsignedAbs())
	assert.Equal(t, fpmath.NewU128(5), fpmath.NewI128(5).UnsignedAbs())
	assert.Equal(t, "170141183460469231731687303715884105728", fpmath.I128Min.UnsignedAbs().String())
}

func TestI128_CmpAcrossWords(t *testing.T) {
	big := fpmath.MustI128("18446744073709551616") // 2^64
	assert.Equal(t, 1, big.Cmp(fpmath.NewI128(1)))
	assert.Equal(t, -1, fpmath.NewI128(-1).Cmp(fpmath.NewI128(0)))
	assert.Equal(t, 0, big.Cmp(fpmath.MustI128("18446744073709551616")))
	assert.Equal(t, fpmath.NewI128(-1), fpmath.MinI128(fpmath.NewI128(-1), big))
	assert.Equal(t, big, fpmath.MaxI128(fpmath.NewI128(-1), big))
}

func TestU128_SubUnderflow(t *testing.T) {
	_, err := fpmath.NewU128(1).Sub(fpmath.NewU128(2))
	assert.ErrorIs(t, err, fpmath.ErrUnderflow)
}

func TestU128_MulOverflow(t *testing.T) {
	_, err := fpmath.U128Max.Mul(fpmath.NewU128(2))
	assert.ErrorIs(t, err, fpmath.ErrOverflow)
}

func TestMulDivU128_WideIntermediate(t *testing.T) {
	r, err := fpmath.MulDivU128(fpmath.U128Max, fpmath.NewU128(2), fpmath.NewU128(4))
	require.NoError(t, err)
	assert.Equal(t, "170141183460469231731687303715884105727", r.String())
}

func TestMulDivU128_QuotientOverflow(t *testing.T) {
	_, err := fpmath.MulDivU128(fpmath.U128Max, fpmath.NewU128(2), fpmath.NewU128(1))
	assert.ErrorIs(t, err, fpmath.ErrOverflow)
}

func TestMulDivI128_Sign(t *testing.T) {
	r, err := fpmath.MulDivI128(fpmath.NewI128(-10), fpmath.NewI128(3), fpmath.NewI128(4))
	require.NoError(t, err)
	assert.Equal(t, fpmath.NewI128(-7), r)
}

func TestPow10U128(t *testing.T) {
	p, err := fpmath.Pow10U128(10)
	require.NoError(t, err)
	assert.Equal(t, fpmath.NewU128(10_000_000_000), p)

	_, err = fpmath.Pow10U128(38)
	require.NoError(t, err)
	_, err = fpmath.Pow10U128(39)
	assert.ErrorIs(t, err, fpmath.ErrOverflow)
}

func TestCasts(t *testing.T) {
	v, err := fpmath.NewI128(-5).ToInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(-5), v)

	_, err = fpmath.MustI128("9223372036854775808").ToInt64()
	assert.ErrorIs(t, err, fpmath.ErrCastOutOfRange)

	_, err = fpmath.NewI128(-1).ToU128()
	assert.ErrorIs(t, err, fpmath.ErrCastOutOfRange)

	_, err = fpmath.U128Max.ToI128()
	assert.ErrorIs(t, err, fpmath.ErrCastOutOfRange)

	_, err = fpmath.Uint64ToInt64(1 << 63)
	assert.ErrorIs(t, err, fpmath.ErrCastOutOfRange)
}

func TestInt64Helpers(t *testing.T) {
	_, err := fpmath.AddInt64(1<<62, 1<<62)
	assert.ErrorIs(t, err, fpmath.ErrOverflow)

	_, err = fpmath.SubInt64(-1<<63, 1)
	assert.ErrorIs(t, err, fpmath.ErrOverflow)

	_, err = fpmath.MulInt64(1<<32, 1<<32)
	assert.ErrorIs(t, err, fpmath.ErrOverflow)

	r, err := fpmath.RemEuclidInt64(-1, 3600)
	require.NoError(t, err)
	assert.Equal(t, int64(3599), r)

	_, err = fpmath.RemEuclidInt64(5, 0)
	assert.ErrorIs(t, err, fpmath.ErrDivideByZero)
}

// ============================================================================
// Test: encoding
// ============================================================================

func TestI128_LittleEndianRoundTrip(t *testing.T) {
	buf := make([]byte, 16)
	v := fpmath.MustI128("-123456789012345678901234567")
	v.PutLE(buf)
	assert.Equal(t, v, fpmath.I128FromLE(buf))
}

func TestI128_Scan(t *testing.T) {
	var v fpmath.I128
	require.NoError(t, v.Scan([]byte("-4166666660")))
	assert.Equal(t, fpmath.NewI128(-4166666660), v)

	require.NoError(t, v.Scan(int64(7)))
	assert.Equal(t, fpmath.NewI128(7), v)

	assert.Error(t, v.Scan(3.5))
}

func TestDecimalConversion(t *testing.T) {
	v, err := fpmath.FromDecimal(decimal.RequireFromString("101.25"), fpmath.MarkPriceConfig)
	require.NoError(t, err)
	assert.Equal(t, fpmath.NewI128(1_012_500_000_000), v)
	assert.Equal(t, "101.25", v.ToDecimal(fpmath.MarkPriceConfig).String())
}

// ============================================================================
// Test: funding payment, TWAP and curve price
// ============================================================================

func TestCalculateFundingPayment_Signs(t *testing.T) {
	rate := fpmath.NewI128(fpmath.FundingRatePrecision) // 1 quote per base unit
	long := fpmath.NewI128(fpmath.AMMReservePrecision)
	short := fpmath.NewI128(-fpmath.AMMReservePrecision)

	tests := []struct {
		name  string
		delta fpmath.I128
		base  fpmath.I128
		want  int64
	}{
		{"long pays positive rate", rate, long, -fpmath.AMMReservePrecision},
		{"short receives positive rate", rate, short, fpmath.AMMReservePrecision},
		{"long receives negative rate", fpmath.NewI128(-fpmath.FundingRatePrecision), long, fpmath.AMMReservePrecision},
		{"short pays negative rate", fpmath.NewI128(-fpmath.FundingRatePrecision), short, -fpmath.AMMReservePrecision},
		{"flat position", rate, fpmath.I128{}, 0},
		{"no movement", fpmath.I128{}, long, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fpmath.CalculateFundingPayment(tt.delta, fpmath.I128{}, tt.base)
			require.NoError(t, err)
			assert.Equal(t, fpmath.NewI128(tt.want), got)
		})
	}
}

func TestCalculateFundingPayment_UsesDelta(t *testing.T) {
	got, err := fpmath.CalculateFundingPayment(
		fpmath.NewI128(3*fpmath.FundingRatePrecision),
		fpmath.NewI128(2*fpmath.FundingRatePrecision),
		fpmath.NewI128(-2*fpmath.AMMReservePrecision),
	)
	require.NoError(t, err)
	assert.Equal(t, fpmath.NewI128(2*fpmath.AMMReservePrecision), got)
}

func TestCalculateFundingPaymentInQuotePrecision(t *testing.T) {
	got, err := fpmath.CalculateFundingPaymentInQuotePrecision(
		fpmath.NewI128(fpmath.FundingRatePrecision),
		fpmath.NewI128(fpmath.AMMReservePrecision),
	)
	require.NoError(t, err)
	assert.Equal(t, fpmath.NewI128(-fpmath.QuotePrecision), got)
}

func TestCalculateTWAP(t *testing.T) {
	got, err := fpmath.CalculateTWAP(fpmath.NewI128(200), fpmath.NewI128(100), 1, 3)
	require.NoError(t, err)
	assert.Equal(t, fpmath.NewI128(125), got)

	_, err = fpmath.CalculateTWAP(fpmath.NewI128(1), fpmath.NewI128(1), 0, 0)
	assert.ErrorIs(t, err, fpmath.ErrDivideByZero)
}

func TestCalculateBaseAssetPriceWithMantissa(t *testing.T) {
	reserve := fpmath.NewU128(uint64(fpmath.AMMReservePrecision))
	peg := fpmath.NewU128(100_000) // 100.000

	price, err := fpmath.CalculateBaseAssetPriceWithMantissa(reserve, reserve, peg)
	require.NoError(t, err)
	assert.Equal(t, fpmath.NewU128(100*uint64(fpmath.MarkPricePrecision)), price)

	_, err = fpmath.CalculateBaseAssetPriceWithMantissa(reserve, fpmath.U128{}, peg)
	assert.ErrorIs(t, err, fpmath.ErrDivideByZero)
}
