package lending

import (
	"github.com/holiman/uint256"

	"levmarket/fixedpoint"
)

// SecondsPerYear converts annual rates into the per-second rates the
// accrual loop consumes.
const SecondsPerYear = 31_536_000

// InterestModel shapes how the borrow rate reacts to pool utilization.
// The curve is linear up to OptimalUtilization and escalates sharply
// beyond it to defend liquidity near full utilization. All rates are
// wad-scaled per-second values.
type InterestModel struct {
	// OptimalUtilization is the utilization ratio where the slope changes.
	OptimalUtilization *uint256.Int
	// Slope1 is the borrow rate reached exactly at the kink.
	Slope1 *uint256.Int
	// Slope2 scales the hyperbolic escalation applied beyond the kink.
	Slope2 *uint256.Int
	// MaxBorrowRate caps the borrow rate regardless of utilization.
	MaxBorrowRate *uint256.Int
}

// NewInterestModel constructs a model from annual wad rates, converting
// them to the per-second rates used during accrual. A 10% annual slope is
// expressed as 0.10 * 1e18.
func NewInterestModel(optimalUtilization, annualSlope1, annualSlope2, annualMaxRate *uint256.Int) *InterestModel {
	return &InterestModel{
		OptimalUtilization: fixedpoint.Clone(optimalUtilization),
		Slope1:             PerSecondRate(annualSlope1),
		Slope2:             PerSecondRate(annualSlope2),
		MaxBorrowRate:      PerSecondRate(annualMaxRate),
	}
}

// PerSecondRate converts an annual wad rate into a per-second wad rate,
// truncating toward zero.
func PerSecondRate(annual *uint256.Int) *uint256.Int {
	if annual == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Div(annual, uint256.NewInt(SecondsPerYear))
}

// Clone returns a deep copy of the interest model.
func (m *InterestModel) Clone() *InterestModel {
	if m == nil {
		return nil
	}
	return &InterestModel{
		OptimalUtilization: fixedpoint.Clone(m.OptimalUtilization),
		Slope1:             fixedpoint.Clone(m.Slope1),
		Slope2:             fixedpoint.Clone(m.Slope2),
		MaxBorrowRate:      fixedpoint.Clone(m.MaxBorrowRate),
	}
}

// Utilization computes U = debt / (debt + cash), clamped to [0, 1]. An
// empty book is zero utilization; outstanding debt against zero cash is
// full utilization.
func (m *InterestModel) Utilization(cash, debt *uint256.Int) (*uint256.Int, error) {
	if debt == nil || debt.IsZero() {
		return new(uint256.Int), nil
	}
	if cash == nil || cash.IsZero() {
		return fixedpoint.Clone(fixedpoint.Wad), nil
	}
	total, err := fixedpoint.Add(debt, cash)
	if err != nil {
		return nil, err
	}
	u, err := fixedpoint.DivWad(debt, total)
	if err != nil {
		return nil, err
	}
	if u.Gt(fixedpoint.Wad) {
		u.Set(fixedpoint.Wad)
	}
	return u, nil
}

// BorrowRate derives the per-second borrow rate from current utilization.
func (m *InterestModel) BorrowRate(cash, debt *uint256.Int) (*uint256.Int, error) {
	if m == nil {
		return new(uint256.Int), nil
	}
	u, err := m.Utilization(cash, debt)
	if err != nil {
		return nil, err
	}
	return m.RateAtUtilization(u)
}

// RateAtUtilization evaluates the kinked curve at a given utilization.
func (m *InterestModel) RateAtUtilization(u *uint256.Int) (*uint256.Int, error) {
	if m == nil || u == nil {
		return new(uint256.Int), nil
	}
	if !u.Lt(fixedpoint.Wad) {
		// The escalation term diverges at full utilization.
		return fixedpoint.Clone(m.MaxBorrowRate), nil
	}
	kink := m.OptimalUtilization
	if kink == nil || kink.IsZero() || !u.Gt(kink) {
		if kink == nil || kink.IsZero() {
			return m.cap(fixedpoint.Clone(m.Slope1)), nil
		}
		// Linear region: rate grows from 0 to Slope1 as U reaches the kink.
		rate, err := fixedpoint.MulDiv(m.Slope1, u, kink)
		if err != nil {
			return nil, err
		}
		return m.cap(rate), nil
	}

	excess, err := fixedpoint.Sub(u, kink)
	if err != nil {
		return nil, err
	}
	gap, err := fixedpoint.Sub(fixedpoint.Wad, u)
	if err != nil {
		return nil, err
	}
	extra, err := fixedpoint.MulDiv(m.Slope2, excess, gap)
	if err != nil {
		return nil, err
	}
	rate, err := fixedpoint.Add(m.Slope1, extra)
	if err != nil {
		return nil, err
	}
	return m.cap(rate), nil
}

// SupplyRate is U * borrowRate * (1 - performanceFee): the protocol takes
// performanceFee of interest, the remainder accrues to pool shares.
func (m *InterestModel) SupplyRate(cash, debt, performanceFee *uint256.Int) (*uint256.Int, error) {
	if m == nil {
		return new(uint256.Int), nil
	}
	u, err := m.Utilization(cash, debt)
	if err != nil {
		return nil, err
	}
	borrow, err := m.RateAtUtilization(u)
	if err != nil {
		return nil, err
	}
	gross, err := fixedpoint.MulWad(u, borrow)
	if err != nil {
		return nil, err
	}
	if performanceFee == nil || performanceFee.IsZero() {
		return gross, nil
	}
	keep, err := fixedpoint.Sub(fixedpoint.Wad, performanceFee)
	if err != nil {
		return nil, err
	}
	return fixedpoint.MulWad(gross, keep)
}

func (m *InterestModel) cap(rate *uint256.Int) *uint256.Int {
	if m.MaxBorrowRate != nil && !m.MaxBorrowRate.IsZero() && rate.Gt(m.MaxBorrowRate) {
		return fixedpoint.Clone(m.MaxBorrowRate)
	}
	return rate
}

// DefaultInterestModel is a reasonable starting configuration: a 90% kink,
// 10% annual rate at the kink, a 200% annual escalation coefficient and a
// 1000% annual hard cap.
var DefaultInterestModel = NewInterestModel(
	fixedpoint.MustFromDecimal("900000000000000000"),
	fixedpoint.MustFromDecimal("100000000000000000"),
	fixedpoint.MustFromDecimal("2000000000000000000"),
	fixedpoint.MustFromDecimal("10000000000000000000"),
)
