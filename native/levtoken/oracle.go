package levtoken

import (
	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PriceOracle resolves the wad-scaled value of one collateral unit in
// underlying terms. A zero price or an error is treated as
// ErrOracleUnavailable by the engine.
type PriceOracle interface {
	Price() (*uint256.Int, error)
}

// SwapVenue executes an exact-output swap. It must deliver exactOut of
// tokenOut or abort; the engine pre-bounds maxIn with the 1% oracle
// slippage tolerance. The consumed input amount is returned.
type SwapVenue interface {
	Swap(tokenIn, tokenOut gethcommon.Address, maxIn, exactOut *uint256.Int) (*uint256.Int, error)
}

// TokenSupply is the external fungible-token surface the engine drives.
// Balance bookkeeping and transfer semantics live outside the core; the
// engine reads balances only to bound redemptions.
type TokenSupply interface {
	Mint(token, recipient gethcommon.Address, amount *uint256.Int) error
	Burn(token, holder gethcommon.Address, amount *uint256.Int) error
	TotalSupply(token gethcommon.Address) (*uint256.Int, error)
	BalanceOf(token, holder gethcommon.Address) (*uint256.Int, error)
}

// CreditFacility is the borrowing interface the engine uses against the
// shared lending pool. *lending.Pool satisfies it.
type CreditFacility interface {
	AccrueInterest() error
	Borrow(borrower gethcommon.Address, amount *uint256.Int) (*uint256.Int, error)
	Repay(borrower gethcommon.Address, amount *uint256.Int) (*uint256.Int, error)
	DebtOf(borrower gethcommon.Address) (*uint256.Int, error)
	CashAvailable() (*uint256.Int, error)
}
