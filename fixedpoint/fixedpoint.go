// Package fixedpoint implements 18-decimal fixed-point arithmetic on
// 256-bit unsigned integers. A value of Wad (1e18) represents 1.0.
//
// Every operation that could overflow 256 bits, underflow below zero or
// divide by zero reports ErrArithmetic instead of wrapping. All accounting
// in the engine flows through this package so no routine can silently
// fabricate or destroy value.
package fixedpoint

import (
	"errors"
	"strings"

	"github.com/holiman/uint256"
)

// ErrArithmetic signals overflow, underflow or a division edge case. It is
// always fatal to the enclosing call.
var ErrArithmetic = errors.New("fixedpoint: arithmetic overflow or underflow")

// Wad is the unit scale: 1e18 represents 1.0.
var Wad = uint256.NewInt(1_000_000_000_000_000_000)

// Zero returns a fresh zero value.
func Zero() *uint256.Int { return new(uint256.Int) }

// FromUint64 lifts a raw integer into a 256-bit value (not wad-scaled).
func FromUint64(v uint64) *uint256.Int { return uint256.NewInt(v) }

// WadFromUint64 converts a whole-unit quantity into its wad representation.
func WadFromUint64(v uint64) (*uint256.Int, error) {
	return Mul(uint256.NewInt(v), Wad)
}

// Add returns a+b or ErrArithmetic on overflow.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrArithmetic
	}
	return sum, nil
}

// Sub returns a-b or ErrArithmetic when b exceeds a.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	diff, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, ErrArithmetic
	}
	return diff, nil
}

// Mul returns a*b or ErrArithmetic on overflow.
func Mul(a, b *uint256.Int) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrArithmetic
	}
	return product, nil
}

// Div returns a/b truncated toward zero, rejecting division by zero.
func Div(a, b *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, ErrArithmetic
	}
	return new(uint256.Int).Div(a, b), nil
}

// DivUp returns a/b rounded away from zero.
func DivUp(a, b *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, ErrArithmetic
	}
	quo := new(uint256.Int).Div(a, b)
	rem := new(uint256.Int).Mod(a, b)
	if !rem.IsZero() {
		var overflow bool
		quo, overflow = quo.AddOverflow(quo, uint256.NewInt(1))
		if overflow {
			return nil, ErrArithmetic
		}
	}
	return quo, nil
}

// MulDiv returns a*b/d with a 512-bit intermediate product, truncated.
func MulDiv(a, b, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrArithmetic
	}
	quo, overflow := new(uint256.Int).MulDivOverflow(a, b, d)
	if overflow {
		return nil, ErrArithmetic
	}
	return quo, nil
}

// MulDivUp returns a*b/d rounded away from zero.
func MulDivUp(a, b, d *uint256.Int) (*uint256.Int, error) {
	quo, err := MulDiv(a, b, d)
	if err != nil {
		return nil, err
	}
	rem := new(uint256.Int).MulMod(a, b, d)
	if !rem.IsZero() {
		var overflow bool
		quo, overflow = quo.AddOverflow(quo, uint256.NewInt(1))
		if overflow {
			return nil, ErrArithmetic
		}
	}
	return quo, nil
}

// MulWad multiplies two wad-scaled values, truncating toward zero.
func MulWad(a, b *uint256.Int) (*uint256.Int, error) {
	return MulDiv(a, b, Wad)
}

// MulWadUp multiplies two wad-scaled values, rounding away from zero.
func MulWadUp(a, b *uint256.Int) (*uint256.Int, error) {
	return MulDivUp(a, b, Wad)
}

// DivWad divides two wad-scaled values, truncating toward zero.
func DivWad(a, b *uint256.Int) (*uint256.Int, error) {
	return MulDiv(a, Wad, b)
}

// DivWadUp divides two wad-scaled values, rounding away from zero.
func DivWadUp(a, b *uint256.Int) (*uint256.Int, error) {
	return MulDivUp(a, Wad, b)
}

// Clone returns a defensive copy, mapping nil to zero.
func Clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

// MustFromDecimal parses a base-10 constant, panicking on malformed input.
// Intended for package-level constants only.
func MustFromDecimal(s string) *uint256.Int {
	return uint256.MustFromDecimal(s)
}

// WadFromDecimal parses a base-10 value with an optional fraction, such
// as "1.8" or "0.001", into its wad representation. Fractions finer than
// 18 decimals are rejected.
func WadFromDecimal(s string) (*uint256.Int, error) {
	whole, frac, ok := strings.Cut(s, ".")
	if !ok {
		frac = ""
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 18 {
		return nil, ErrArithmetic
	}
	frac += strings.Repeat("0", 18-len(frac))
	wholePart, err := uint256.FromDecimal(whole)
	if err != nil {
		return nil, err
	}
	fracPart, err := uint256.FromDecimal(frac)
	if err != nil {
		return nil, err
	}
	scaled, err := Mul(wholePart, Wad)
	if err != nil {
		return nil, err
	}
	return Add(scaled, fracPart)
}

// MustWadFromDecimal is WadFromDecimal for package-level constants,
// panicking on malformed input.
func MustWadFromDecimal(s string) *uint256.Int {
	out, err := WadFromDecimal(s)
	if err != nil {
		panic("fixedpoint: invalid decimal constant " + s + ": " + err.Error())
	}
	return out
}
