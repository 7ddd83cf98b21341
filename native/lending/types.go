package lending

import (
	"github.com/holiman/uint256"
)

// PoolState captures the global accounting state for one underlying asset.
// Amounts are denominated in the asset's base units; shares are internal
// proportional-claim units.
type PoolState struct {
	// TotalCash is the underlying currently held by the pool and available
	// to fund borrows and withdrawals.
	TotalCash *uint256.Int
	// TotalDebt is the outstanding amount owed across all borrowers,
	// including accrued interest.
	TotalDebt *uint256.Int
	// TotalPendingFees is interest skimmed for the protocol but not yet
	// collected. It is held inside TotalCash until withdrawn.
	TotalPendingFees *uint256.Int
	// TotalDebtShares is the sum of all borrower debt shares.
	TotalDebtShares *uint256.Int
	// TotalSupplyShares is the sum of all supplier pool shares.
	TotalSupplyShares *uint256.Int
	// LastAccrual records the unix timestamp of the last interest accrual.
	LastAccrual uint64
}

// EnsureDefaults populates nil amounts so decoding partial records is safe.
func (p *PoolState) EnsureDefaults() {
	if p.TotalCash == nil {
		p.TotalCash = new(uint256.Int)
	}
	if p.TotalDebt == nil {
		p.TotalDebt = new(uint256.Int)
	}
	if p.TotalPendingFees == nil {
		p.TotalPendingFees = new(uint256.Int)
	}
	if p.TotalDebtShares == nil {
		p.TotalDebtShares = new(uint256.Int)
	}
	if p.TotalSupplyShares == nil {
		p.TotalSupplyShares = new(uint256.Int)
	}
}

// Clone returns a deep copy of the pool state.
func (p *PoolState) Clone() *PoolState {
	if p == nil {
		return nil
	}
	clone := &PoolState{LastAccrual: p.LastAccrual}
	if p.TotalCash != nil {
		clone.TotalCash = new(uint256.Int).Set(p.TotalCash)
	}
	if p.TotalDebt != nil {
		clone.TotalDebt = new(uint256.Int).Set(p.TotalDebt)
	}
	if p.TotalPendingFees != nil {
		clone.TotalPendingFees = new(uint256.Int).Set(p.TotalPendingFees)
	}
	if p.TotalDebtShares != nil {
		clone.TotalDebtShares = new(uint256.Int).Set(p.TotalDebtShares)
	}
	if p.TotalSupplyShares != nil {
		clone.TotalSupplyShares = new(uint256.Int).Set(p.TotalSupplyShares)
	}
	clone.EnsureDefaults()
	return clone
}
