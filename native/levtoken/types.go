package levtoken

import (
	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TokenMetadata is the per-token configuration and mutable accounting
// state. Collateral amounts are in the collateral asset's base units;
// prices, ratios and fee fractions are wad-scaled. Records are created
// once at registration and never deleted.
type TokenMetadata struct {
	// Token identifies the leveraged token.
	Token gethcommon.Address
	// Collateral identifies the risk asset backing the token.
	Collateral gethcommon.Address
	// Oracle and Venue record the collaborator identities bound to this
	// token; live handles are re-bound at process start.
	Oracle gethcommon.Address
	Venue  gethcommon.Address
	// InitialPrice is the NAV used while the token has no supply or debt.
	InitialPrice *uint256.Int
	// FeeRate is the creation/redemption fee fraction.
	FeeRate *uint256.Int
	// TotalCollateral is the gross collateral held, fee-pending included.
	TotalCollateral *uint256.Int
	// TotalPendingFees is the fee-pending share of TotalCollateral.
	TotalPendingFees *uint256.Int
	// MinLeverageRatio and MaxLeverageRatio bound the target band.
	MinLeverageRatio *uint256.Int
	MaxLeverageRatio *uint256.Int
	// RebalancingStep is the fraction of total NAV traded per rebalance.
	RebalancingStep *uint256.Int
	// MaxRebalancingNotional caps the underlying value moved in one
	// rebalance; zero disables the cap.
	MaxRebalancingNotional *uint256.Int
	// PartialRebalancePending survives across calls when a rebalance was
	// clamped by the notional cap and must be continued.
	PartialRebalancePending bool
	// LastRebalance is the unix timestamp of the last executed rebalance.
	LastRebalance uint64
}

// EnsureDefaults populates nil amounts so decoding partial records is safe.
func (t *TokenMetadata) EnsureDefaults() {
	if t.InitialPrice == nil {
		t.InitialPrice = new(uint256.Int)
	}
	if t.FeeRate == nil {
		t.FeeRate = new(uint256.Int)
	}
	if t.TotalCollateral == nil {
		t.TotalCollateral = new(uint256.Int)
	}
	if t.TotalPendingFees == nil {
		t.TotalPendingFees = new(uint256.Int)
	}
	if t.MinLeverageRatio == nil {
		t.MinLeverageRatio = new(uint256.Int)
	}
	if t.MaxLeverageRatio == nil {
		t.MaxLeverageRatio = new(uint256.Int)
	}
	if t.RebalancingStep == nil {
		t.RebalancingStep = new(uint256.Int)
	}
	if t.MaxRebalancingNotional == nil {
		t.MaxRebalancingNotional = new(uint256.Int)
	}
}

// Clone returns a deep copy of the metadata.
func (t *TokenMetadata) Clone() *TokenMetadata {
	if t == nil {
		return nil
	}
	clone := &TokenMetadata{
		Token:                   t.Token,
		Collateral:              t.Collateral,
		Oracle:                  t.Oracle,
		Venue:                   t.Venue,
		PartialRebalancePending: t.PartialRebalancePending,
		LastRebalance:           t.LastRebalance,
	}
	if t.InitialPrice != nil {
		clone.InitialPrice = new(uint256.Int).Set(t.InitialPrice)
	}
	if t.FeeRate != nil {
		clone.FeeRate = new(uint256.Int).Set(t.FeeRate)
	}
	if t.TotalCollateral != nil {
		clone.TotalCollateral = new(uint256.Int).Set(t.TotalCollateral)
	}
	if t.TotalPendingFees != nil {
		clone.TotalPendingFees = new(uint256.Int).Set(t.TotalPendingFees)
	}
	if t.MinLeverageRatio != nil {
		clone.MinLeverageRatio = new(uint256.Int).Set(t.MinLeverageRatio)
	}
	if t.MaxLeverageRatio != nil {
		clone.MaxLeverageRatio = new(uint256.Int).Set(t.MaxLeverageRatio)
	}
	if t.RebalancingStep != nil {
		clone.RebalancingStep = new(uint256.Int).Set(t.RebalancingStep)
	}
	if t.MaxRebalancingNotional != nil {
		clone.MaxRebalancingNotional = new(uint256.Int).Set(t.MaxRebalancingNotional)
	}
	clone.EnsureDefaults()
	return clone
}

// State is the persistence layer for token metadata. Absent records are
// returned as nil without error.
type State interface {
	GetToken(addr gethcommon.Address) (*TokenMetadata, error)
	PutToken(meta *TokenMetadata) error
	ListTokens() ([]gethcommon.Address, error)
}

// TxState is the optional transactional surface of a State. Stores that
// implement it buffer an operation's writes, including the lending pool's
// when both engines share the store, and discard them when the operation
// fails.
type TxState interface {
	WithinTx(fn func() error) error
}
