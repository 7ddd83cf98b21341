package fixedpoint

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

var maxUint256 = func() *uint256.Int {
	max := new(uint256.Int)
	max.SetAllOne()
	return max
}()

func TestAddOverflowFails(t *testing.T) {
	if _, err := Add(maxUint256, uint256.NewInt(1)); !errors.Is(err, ErrArithmetic) {
		t.Fatalf("expected ErrArithmetic, got %v", err)
	}
	sum, err := Add(uint256.NewInt(2), uint256.NewInt(3))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if sum.Uint64() != 5 {
		t.Fatalf("unexpected sum: %s", sum)
	}
}

func TestSubUnderflowFails(t *testing.T) {
	if _, err := Sub(uint256.NewInt(1), uint256.NewInt(2)); !errors.Is(err, ErrArithmetic) {
		t.Fatalf("expected ErrArithmetic, got %v", err)
	}
	diff, err := Sub(uint256.NewInt(7), uint256.NewInt(7))
	if err != nil {
		t.Fatalf("sub: %v", err)
	}
	if !diff.IsZero() {
		t.Fatalf("unexpected diff: %s", diff)
	}
}

func TestMulWadTruncates(t *testing.T) {
	// 1.5 * 1.5 = 2.25
	a := MustFromDecimal("1500000000000000000")
	got, err := MulWad(a, a)
	if err != nil {
		t.Fatalf("mulwad: %v", err)
	}
	want := MustFromDecimal("2250000000000000000")
	if got.Cmp(want) != 0 {
		t.Fatalf("unexpected product: got %s want %s", got, want)
	}

	// 3 * (1/3 wad, truncated) loses the residue rather than rounding up.
	third := MustFromDecimal("333333333333333333")
	got, err = MulWad(uint256.NewInt(3), third)
	if err != nil {
		t.Fatalf("mulwad: %v", err)
	}
	if got.Uint64() != 0 {
		t.Fatalf("expected truncation to zero, got %s", got)
	}
}

func TestMulWadUpRoundsResidue(t *testing.T) {
	third := MustFromDecimal("333333333333333333")
	got, err := MulWadUp(uint256.NewInt(3), third)
	if err != nil {
		t.Fatalf("mulwadup: %v", err)
	}
	if got.Uint64() != 1 {
		t.Fatalf("expected 1, got %s", got)
	}
}

func TestDivWadByZeroFails(t *testing.T) {
	if _, err := DivWad(Wad, Zero()); !errors.Is(err, ErrArithmetic) {
		t.Fatalf("expected ErrArithmetic, got %v", err)
	}
}

func TestDivWadRoundTrip(t *testing.T) {
	// (7/2) in wad terms is 3.5.
	got, err := DivWad(uint256.NewInt(7), uint256.NewInt(2))
	if err != nil {
		t.Fatalf("divwad: %v", err)
	}
	want := MustFromDecimal("3500000000000000000")
	if got.Cmp(want) != 0 {
		t.Fatalf("unexpected quotient: got %s want %s", got, want)
	}
}

func TestDivUpCeiling(t *testing.T) {
	got, err := DivUp(uint256.NewInt(10), uint256.NewInt(3))
	if err != nil {
		t.Fatalf("divup: %v", err)
	}
	if got.Uint64() != 4 {
		t.Fatalf("expected 4, got %s", got)
	}
	got, err = DivUp(uint256.NewInt(9), uint256.NewInt(3))
	if err != nil {
		t.Fatalf("divup: %v", err)
	}
	if got.Uint64() != 3 {
		t.Fatalf("expected 3, got %s", got)
	}
}

func TestMulDivUsesWideIntermediate(t *testing.T) {
	// a*b overflows 256 bits but a*b/d does not.
	big := new(uint256.Int).Rsh(maxUint256, 1)
	got, err := MulDiv(big, uint256.NewInt(4), uint256.NewInt(4))
	if err != nil {
		t.Fatalf("muldiv: %v", err)
	}
	if got.Cmp(big) != 0 {
		t.Fatalf("unexpected result: got %s want %s", got, big)
	}

	// Result itself overflowing must fail.
	if _, err := MulDiv(maxUint256, uint256.NewInt(4), uint256.NewInt(2)); !errors.Is(err, ErrArithmetic) {
		t.Fatalf("expected ErrArithmetic, got %v", err)
	}
}

func TestMulDivUpRemainder(t *testing.T) {
	got, err := MulDivUp(uint256.NewInt(10), uint256.NewInt(10), uint256.NewInt(3))
	if err != nil {
		t.Fatalf("muldivup: %v", err)
	}
	if got.Uint64() != 34 {
		t.Fatalf("expected 34, got %s", got)
	}
}

func TestWadFromUint64(t *testing.T) {
	got, err := WadFromUint64(100)
	if err != nil {
		t.Fatalf("wadfromuint64: %v", err)
	}
	want := MustFromDecimal("100000000000000000000")
	if got.Cmp(want) != 0 {
		t.Fatalf("unexpected wad: got %s want %s", got, want)
	}
}

func TestWadFromDecimal(t *testing.T) {
	got, err := WadFromDecimal("1.8")
	if err != nil {
		t.Fatalf("parse 1.8: %v", err)
	}
	if got.Cmp(MustFromDecimal("1800000000000000000")) != 0 {
		t.Fatalf("unexpected value: %s", got)
	}

	got, err = WadFromDecimal("0.001")
	if err != nil {
		t.Fatalf("parse 0.001: %v", err)
	}
	if got.Cmp(MustFromDecimal("1000000000000000")) != 0 {
		t.Fatalf("unexpected value: %s", got)
	}

	got, err = WadFromDecimal("42")
	if err != nil {
		t.Fatalf("parse 42: %v", err)
	}
	if got.Cmp(MustFromDecimal("42000000000000000000")) != 0 {
		t.Fatalf("unexpected value: %s", got)
	}

	if _, err := WadFromDecimal("0.1234567890123456789"); err == nil {
		t.Fatal("fraction beyond 18 decimals must be rejected")
	}
	if _, err := WadFromDecimal("not-a-number"); err == nil {
		t.Fatal("garbage input must be rejected")
	}
}
