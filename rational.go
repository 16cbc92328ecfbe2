package vmux

import (
	"fmt"
	"math"
	"math/big"
)

// TimeBase is the AV_TIME_BASE unit (microseconds)
// used for container-level durations.
const TimeBase = 1000000

// NoPTS marks an unset timestamp. It is never rescaled.
const NoPTS int64 = math.MinInt64

// Rational is a fraction used as the unit of timestamps.
type Rational struct {
	Num int
	Den int
}

// R is shorthand for Rational{num, den}.
func R(num, den int) Rational {
	return Rational{Num: num, Den: den}
}

// Valid reports whether the rational can be used as a time base.
func (r Rational) Valid() bool {
	return r.Num > 0 && r.Den > 0
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// Rescale converts ts from the from time base to the to time base,
// computing ts * from / to exactly and rounding half away from zero.
// Intermediate products never overflow.
func Rescale(ts int64, from, to Rational) int64 {
	if ts == NoPTS || from == to {
		return ts
	}
	if !from.Valid() || !to.Valid() {
		return NoPTS
	}

	num := new(big.Int).SetInt64(ts)
	num.Mul(num, big.NewInt(int64(from.Num)))
	num.Mul(num, big.NewInt(int64(to.Den)))

	den := big.NewInt(int64(from.Den))
	den.Mul(den, big.NewInt(int64(to.Num)))

	quo, rem := new(big.Int).QuoRem(num, den, new(big.Int))
	// |rem|*2 >= den rounds away from zero
	rem.Abs(rem).Lsh(rem, 1)
	if rem.Cmp(den) >= 0 {
		if num.Sign() < 0 {
			quo.Sub(quo, big.NewInt(1))
		} else {
			quo.Add(quo, big.NewInt(1))
		}
	}

	if !quo.IsInt64() {
		return NoPTS
	}
	return quo.Int64()
}
