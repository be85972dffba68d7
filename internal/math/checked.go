package math

import (
	"errors"
	"fmt"
	"math/big"
)

// ErrMathError is the root of every arithmetic failure. Callers match it
// with errors.Is to tell bad math apart from bad inputs.
var ErrMathError = errors.New("math error")

var (
	ErrOverflow       = fmt.Errorf("%w: overflow", ErrMathError)
	ErrUnderflow      = fmt.Errorf("%w: underflow", ErrMathError)
	ErrDivideByZero   = fmt.Errorf("%w: divide by zero", ErrMathError)
	ErrCastOutOfRange = fmt.Errorf("%w: cast out of range", ErrMathError)
)

type bigOp func(z, x, y *big.Int) *big.Int

func i128Op(name string, a, b I128, op bigOp) (I128, error) {
	x, y, z := getInt128(), getInt128(), getInt128()
	defer putInt128(x)
	defer putInt128(y)
	defer putInt128(z)

	op(z, a.toBig(x), b.toBig(y))
	r, err := i128FromBig(z)
	if err != nil {
		return I128{}, fmt.Errorf("i128 %s(%s, %s): %w", name, a, b, err)
	}
	return r, nil
}

func u128Op(name string, a, b U128, op bigOp) (U128, error) {
	x, y, z := getInt128(), getInt128(), getInt128()
	defer putInt128(x)
	defer putInt128(y)
	defer putInt128(z)

	op(z, a.toBig(x), b.toBig(y))
	r, err := u128FromBig(z)
	if err != nil {
		return U128{}, fmt.Errorf("u128 %s(%s, %s): %w", name, a, b, err)
	}
	return r, nil
}

func (a I128) Add(b I128) (I128, error) {
	return i128Op("add", a, b, (*big.Int).Add)
}

func (a I128) Sub(b I128) (I128, error) {
	return i128Op("sub", a, b, (*big.Int).Sub)
}

func (a I128) Mul(b I128) (I128, error) {
	return i128Op("mul", a, b, (*big.Int).Mul)
}

// Div truncates toward zero.
func (a I128) Div(b I128) (I128, error) {
	if b.IsZero() {
		return I128{}, fmt.Errorf("i128 div(%s, 0): %w", a, ErrDivideByZero)
	}
	return i128Op("div", a, b, (*big.Int).Quo)
}

// Neg fails only for I128Min.
func (a I128) Neg() (I128, error) {
	return I128{}.Sub(a)
}

func (a U128) Add(b U128) (U128, error) {
	return u128Op("add", a, b, (*big.Int).Add)
}

func (a U128) Sub(b U128) (U128, error) {
	return u128Op("sub", a, b, (*big.Int).Sub)
}

func (a U128) Mul(b U128) (U128, error) {
	return u128Op("mul", a, b, (*big.Int).Mul)
}

func (a U128) Div(b U128) (U128, error) {
	if b.IsZero() {
		return U128{}, fmt.Errorf("u128 div(%s, 0): %w", a, ErrDivideByZero)
	}
	return u128Op("div", a, b, (*big.Int).Quo)
}

// MulDivU128 computes a*b/c through a 256-bit intermediate so the product
// may exceed 128 bits as long as the quotient does not.
func MulDivU128(a, b, c U128) (U128, error) {
	if c.IsZero() {
		return U128{}, fmt.Errorf("u128 muldiv(%s, %s, 0): %w", a, b, ErrDivideByZero)
	}
	x, y, z := getInt128(), getInt128(), getInt128()
	defer putInt128(x)
	defer putInt128(y)
	defer putInt128(z)

	z.Mul(a.toBig(x), b.toBig(y))
	if z.BitLen() > 256 {
		return U128{}, fmt.Errorf("u128 muldiv(%s, %s, %s): intermediate: %w", a, b, c, ErrOverflow)
	}
	z.Quo(z, c.toBig(y))
	r, err := u128FromBig(z)
	if err != nil {
		return U128{}, fmt.Errorf("u128 muldiv(%s, %s, %s): %w", a, b, c, err)
	}
	return r, nil
}

// MulDivI128 is the signed form of MulDivU128; the intermediate must fit a
// signed 256-bit integer and the quotient truncates toward zero.
func MulDivI128(a, b, c I128) (I128, error) {
	if c.IsZero() {
		return I128{}, fmt.Errorf("i128 muldiv(%s, %s, 0): %w", a, b, ErrDivideByZero)
	}
	x, y, z := getInt128(), getInt128(), getInt128()
	defer putInt128(x)
	defer putInt128(y)
	defer putInt128(z)

	z.Mul(a.toBig(x), b.toBig(y))
	if z.BitLen() > 255 {
		return I128{}, fmt.Errorf("i128 muldiv(%s, %s, %s): intermediate: %w", a, b, c, ErrOverflow)
	}
	z.Quo(z, c.toBig(y))
	r, err := i128FromBig(z)
	if err != nil {
		return I128{}, fmt.Errorf("i128 muldiv(%s, %s, %s): %w", a, b, c, err)
	}
	return r, nil
}

// Pow10U128 returns 10^n, failing once the power leaves the U128 range.
func Pow10U128(n uint32) (U128, error) {
	r := NewU128(1)
	ten := NewU128(10)
	for i := uint32(0); i < n; i++ {
		var err error
		if r, err = r.Mul(ten); err != nil {
			return U128{}, fmt.Errorf("10^%d: %w", n, err)
		}
	}
	return r, nil
}

// --- Casts ---

func (a I128) ToU128() (U128, error) {
	if a.hi < 0 {
		return U128{}, fmt.Errorf("cast i128 %s to u128: %w", a, ErrCastOutOfRange)
	}
	return U128{hi: uint64(a.hi), lo: a.lo}, nil
}

func (a U128) ToI128() (I128, error) {
	if a.hi > maxInt64 {
		return I128{}, fmt.Errorf("cast u128 %s to i128: %w", a, ErrCastOutOfRange)
	}
	return I128{hi: int64(a.hi), lo: a.lo}, nil
}

func (a I128) ToInt64() (int64, error) {
	fits := (a.hi == 0 && a.lo <= maxInt64) || (a.hi == -1 && a.lo > maxInt64)
	if !fits {
		return 0, fmt.Errorf("cast i128 %s to i64: %w", a, ErrCastOutOfRange)
	}
	return int64(a.lo), nil
}

func (a U128) ToUint64() (uint64, error) {
	if a.hi != 0 {
		return 0, fmt.Errorf("cast u128 %s to u64: %w", a, ErrCastOutOfRange)
	}
	return a.lo, nil
}

func Uint64ToInt64(v uint64) (int64, error) {
	if v > maxInt64 {
		return 0, fmt.Errorf("cast u64 %d to i64: %w", v, ErrCastOutOfRange)
	}
	return int64(v), nil
}

func Int64ToUint64(v int64) (uint64, error) {
	if v < 0 {
		return 0, fmt.Errorf("cast i64 %d to u64: %w", v, ErrCastOutOfRange)
	}
	return uint64(v), nil
}

// --- int64 helpers for timestamps and periods ---

func AddInt64(a, b int64) (int64, error) {
	if (b > 0 && a > maxInt64-b) || (b < 0 && a < minInt64-b) {
		return 0, fmt.Errorf("i64 add(%d, %d): %w", a, b, ErrOverflow)
	}
	return a + b, nil
}

func SubInt64(a, b int64) (int64, error) {
	if (b < 0 && a > maxInt64+b) || (b > 0 && a < minInt64+b) {
		return 0, fmt.Errorf("i64 sub(%d, %d): %w", a, b, ErrOverflow)
	}
	return a - b, nil
}

func MulInt64(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	c := a * b
	if (a == -1 && b == minInt64) || (b == -1 && a == minInt64) || c/b != a {
		return 0, fmt.Errorf("i64 mul(%d, %d): %w", a, b, ErrOverflow)
	}
	return c, nil
}

func DivInt64(a, b int64) (int64, error) {
	if b == 0 {
		return 0, fmt.Errorf("i64 div(%d, 0): %w", a, ErrDivideByZero)
	}
	if a == minInt64 && b == -1 {
		return 0, fmt.Errorf("i64 div(%d, %d): %w", a, b, ErrOverflow)
	}
	return a / b, nil
}

// RemEuclidInt64 returns the non-negative remainder of a / b.
func RemEuclidInt64(a, b int64) (int64, error) {
	if b == 0 {
		return 0, fmt.Errorf("i64 rem_euclid(%d, 0): %w", a, ErrDivideByZero)
	}
	r := a % b
	if r < 0 {
		if b > 0 {
			r += b
		} else {
			r -= b
		}
	}
	return r, nil
}
