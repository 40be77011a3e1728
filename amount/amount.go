// Package amount converts human-readable token amounts to and from the
// chain's smallest unit.
package amount

import (
	"fmt"
	"math"
	"math/big"
	"strconv"

	"github.com/cockroachdb/apd"
)

// Decimals is the number of fractional digits of one token.
const Decimals = 12

var (
	ten  = big.NewInt(10)
	unit = new(big.Int).Exp(ten, big.NewInt(Decimals), nil)
)

// Unit returns 10^Decimals, the smallest-unit value of one token.
func Unit() *big.Int {
	return new(big.Int).Set(unit)
}

// FromFloat converts a token amount to the smallest unit.
//
// The conversion works on the shortest decimal representation of v, i.e.
// the digits a reader sees, and rescales it with integer arithmetic. Digits
// past the 12th fractional place are truncated.
func FromFloat(v float64) (*big.Int, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("amount: not a finite number: %v", v)
	}
	var d apd.Decimal
	if _, err := d.SetFloat64(v); err != nil {
		return nil, fmt.Errorf("amount: %v: %w", v, err)
	}
	return FromDecimal(&d)
}

// Parse converts a decimal string such as "1270.9946" to the smallest unit.
func Parse(s string) (*big.Int, error) {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("amount: %q: %w", s, err)
	}
	return FromDecimal(d)
}

// FromDecimal converts an exact decimal token amount to the smallest unit.
func FromDecimal(d *apd.Decimal) (*big.Int, error) {
	if d.Form != apd.Finite {
		return nil, fmt.Errorf("amount: not a finite number: %s", d)
	}
	if d.Negative && d.Coeff.Sign() != 0 {
		return nil, fmt.Errorf("amount: negative: %s", d)
	}

	// value = coeff * 10^exponent, so the smallest-unit value is
	// coeff * 10^(exponent+Decimals).
	scaled := new(big.Int).Set(&d.Coeff)
	shift := int64(d.Exponent) + Decimals
	pow := new(big.Int).Exp(ten, big.NewInt(abs(shift)), nil)
	if shift >= 0 {
		return scaled.Mul(scaled, pow), nil
	}
	return scaled.Quo(scaled, pow), nil
}

// Decimal returns v in tokens as an exact decimal without trailing zeros.
func Decimal(v *big.Int) *apd.Decimal {
	d := apd.NewWithBigInt(new(big.Int).Set(v), -Decimals)
	reduced, _ := d.Reduce(d)
	return reduced
}

// Format returns v in tokens, e.g. "1270.9946".
func Format(v *big.Int) string {
	return Decimal(v).Text('f')
}

// ToFloat returns v in tokens as the float64 closest to the exact value.
func ToFloat(v *big.Int) float64 {
	// Out-of-range values come back as ±Inf with an error we don't need.
	f, _ := strconv.ParseFloat(Format(v), 64)
	return f
}

func abs(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}
