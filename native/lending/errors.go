package lending

import "errors"

var (
	// ErrNilState is returned when the engine has no persistence wired.
	ErrNilState = errors.New("lending: state not configured")
	// ErrInvalidAmount is returned for zero or nil amounts.
	ErrInvalidAmount = errors.New("lending: amount must be positive")
	// ErrInsufficientLiquidity is returned when the pool cannot fund a
	// borrow or withdrawal from available cash.
	ErrInsufficientLiquidity = errors.New("lending: insufficient liquidity")
	// ErrInsufficientShares is returned when a supplier burns more pool
	// shares than they hold.
	ErrInsufficientShares = errors.New("lending: insufficient shares")
	// ErrNoDebtToRepay is returned when a repay targets a borrower with no
	// outstanding debt.
	ErrNoDebtToRepay = errors.New("lending: no outstanding debt to repay")
	// ErrInsufficientFees is returned when a fee collection exceeds the
	// accrued pending fees.
	ErrInsufficientFees = errors.New("lending: insufficient pending fees")
)
