package math

import (
	"encoding/binary"
	"fmt"
	"math/big"
)

// I128 is a signed 128-bit integer stored in two's complement.
// The zero value is 0.
type I128 struct {
	hi int64
	lo uint64
}

// U128 is an unsigned 128-bit integer. The zero value is 0.
type U128 struct {
	hi uint64
	lo uint64
}

var (
	I128Max = I128{hi: maxInt64, lo: ^uint64(0)}
	I128Min = I128{hi: minInt64, lo: 0}
	U128Max = U128{hi: ^uint64(0), lo: ^uint64(0)}
)

const (
	maxInt64 = 1<<63 - 1
	minInt64 = -1 << 63
)

var (
	bigOne     = big.NewInt(1)
	bigI128Max = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 127), bigOne)
	bigI128Min = new(big.Int).Neg(new(big.Int).Lsh(bigOne, 127))
	bigU128Max = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 128), bigOne)
	bigTwo128  = new(big.Int).Lsh(bigOne, 128)
	bigMask64  = new(big.Int).SetUint64(^uint64(0))
)

// NewI128 sign-extends v.
func NewI128(v int64) I128 {
	return I128{hi: v >> 63, lo: uint64(v)}
}

// I128FromUint64 widens v; every uint64 is representable.
func I128FromUint64(v uint64) I128 {
	return I128{lo: v}
}

func NewU128(v uint64) U128 {
	return U128{lo: v}
}

// ParseI128 parses a base-10 string.
func ParseI128(s string) (I128, error) {
	x, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return I128{}, fmt.Errorf("parse i128 %q: invalid syntax", s)
	}
	v, err := i128FromBig(x)
	if err != nil {
		return I128{}, fmt.Errorf("parse i128 %q: %w", s, err)
	}
	return v, nil
}

// MustI128 is ParseI128 for constants and fixtures; it panics on bad input.
func MustI128(s string) I128 {
	v, err := ParseI128(s)
	if err != nil {
		panic(err)
	}
	return v
}

// ParseU128 parses a base-10 string.
func ParseU128(s string) (U128, error) {
	x, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return U128{}, fmt.Errorf("parse u128 %q: invalid syntax", s)
	}
	v, err := u128FromBig(x)
	if err != nil {
		return U128{}, fmt.Errorf("parse u128 %q: %w", s, err)
	}
	return v, nil
}

func MustU128(s string) U128 {
	v, err := ParseU128(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (a I128) Sign() int {
	switch {
	case a.hi < 0:
		return -1
	case a.hi == 0 && a.lo == 0:
		return 0
	default:
		return 1
	}
}

func (a I128) IsZero() bool { return a.hi == 0 && a.lo == 0 }

func (a I128) IsNegative() bool { return a.hi < 0 }

func (a I128) IsPositive() bool { return a.Sign() > 0 }

// Cmp returns -1, 0 or +1.
func (a I128) Cmp(b I128) int {
	if a.hi != b.hi {
		if a.hi < b.hi {
			return -1
		}
		return 1
	}
	return cmpUint64(a.lo, b.lo)
}

// UnsignedAbs returns |a|. It cannot fail: |I128Min| = 2^127 fits in U128.
func (a I128) UnsignedAbs() U128 {
	if a.hi >= 0 {
		return U128{hi: uint64(a.hi), lo: a.lo}
	}
	lo := ^a.lo + 1
	hi := ^uint64(a.hi)
	if lo == 0 {
		hi++
	}
	return U128{hi: hi, lo: lo}
}

// Big returns a newly allocated big.Int holding a.
func (a I128) Big() *big.Int {
	return a.toBig(new(big.Int))
}

func (a I128) String() string {
	return a.Big().String()
}

func (a U128) IsZero() bool { return a.hi == 0 && a.lo == 0 }

func (a U128) Cmp(b U128) int {
	if a.hi != b.hi {
		return cmpUint64(a.hi, b.hi)
	}
	return cmpUint64(a.lo, b.lo)
}

func (a U128) Big() *big.Int {
	return a.toBig(new(big.Int))
}

func (a U128) String() string {
	return a.Big().String()
}

// PutLE writes a into b[0:16] in little-endian order.
func (a I128) PutLE(b []byte) {
	binary.LittleEndian.PutUint64(b[0:8], a.lo)
	binary.LittleEndian.PutUint64(b[8:16], uint64(a.hi))
}

// I128FromLE reads a little-endian two's complement value from b[0:16].
func I128FromLE(b []byte) I128 {
	return I128{
		lo: binary.LittleEndian.Uint64(b[0:8]),
		hi: int64(binary.LittleEndian.Uint64(b[8:16])),
	}
}

func MaxI128(a, b I128) I128 {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

func MinI128(a, b I128) I128 {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

func MaxU128(a, b U128) U128 {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

func MinU128(a, b U128) U128 {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

func cmpUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (a I128) toBig(z *big.Int) *big.Int {
	lo := getInt128()
	defer putInt128(lo)
	z.SetInt64(a.hi)
	z.Lsh(z, 64)
	return z.Add(z, lo.SetUint64(a.lo))
}

func (a U128) toBig(z *big.Int) *big.Int {
	lo := getInt128()
	defer putInt128(lo)
	z.SetUint64(a.hi)
	z.Lsh(z, 64)
	return z.Add(z, lo.SetUint64(a.lo))
}

func i128FromBig(x *big.Int) (I128, error) {
	if x.Cmp(bigI128Min) < 0 {
		return I128{}, ErrUnderflow
	}
	if x.Cmp(bigI128Max) > 0 {
		return I128{}, ErrOverflow
	}
	t := getInt128()
	defer putInt128(t)
	t.Set(x)
	if t.Sign() < 0 {
		t.Add(t, bigTwo128)
	}
	lo, hi := split128(t)
	return I128{hi: int64(hi), lo: lo}, nil
}

func u128FromBig(x *big.Int) (U128, error) {
	if x.Sign() < 0 {
		return U128{}, ErrUnderflow
	}
	if x.Cmp(bigU128Max) > 0 {
		return U128{}, ErrOverflow
	}
	lo, hi := split128(x)
	return U128{hi: hi, lo: lo}, nil
}

// split128 returns the low and high words of a non-negative x < 2^128.
func split128(x *big.Int) (lo, hi uint64) {
	t := getInt128()
	defer putInt128(t)
	lo = t.And(x, bigMask64).Uint64()
	hi = t.Rsh(x, 64).Uint64()
	return lo, hi
}
