package levtoken

import "errors"

var (
	// ErrNilState is returned when the engine has no persistence wired.
	ErrNilState = errors.New("levtoken: state not configured")
	// ErrNotRegistered is returned for an unknown leveraged-token identity.
	ErrNotRegistered = errors.New("levtoken: token not registered")
	// ErrAlreadyRegistered is returned when a token identity is registered twice.
	ErrAlreadyRegistered = errors.New("levtoken: token already registered")
	// ErrInvalidConfig is returned when token parameters fail validation.
	ErrInvalidConfig = errors.New("levtoken: invalid token configuration")
	// ErrInvalidAmount is returned for zero or nil amounts.
	ErrInvalidAmount = errors.New("levtoken: amount must be positive")
	// ErrOracleUnavailable is returned when no usable price exists: a
	// missing oracle, a reverted read or a zero quote.
	ErrOracleUnavailable = errors.New("levtoken: oracle unavailable")
	// ErrVenueUnavailable is returned when no swap venue is bound for the token.
	ErrVenueUnavailable = errors.New("levtoken: swap venue unavailable")
	// ErrSlippageExceeded is returned when a swap would cost more than the
	// bounded tolerance against the oracle quote.
	ErrSlippageExceeded = errors.New("levtoken: slippage exceeds tolerance")
	// ErrOutOfRebalanceRange is returned when the leverage ratio is already
	// inside the target band and no rebalance is pending.
	ErrOutOfRebalanceRange = errors.New("levtoken: leverage ratio within target band")
	// ErrInsufficientLiquidity is returned when the pool lacks the cash to
	// cover the worst-case swap spend.
	ErrInsufficientLiquidity = errors.New("levtoken: insufficient pool liquidity")
	// ErrInsufficientCollateral is returned when a redemption or deleverage
	// needs more collateral than the token holds net of fees.
	ErrInsufficientCollateral = errors.New("levtoken: insufficient collateral")
	// ErrInsufficientSupply is returned when a redemption exceeds the
	// token's outstanding supply.
	ErrInsufficientSupply = errors.New("levtoken: insufficient token supply")
	// ErrInsufficientBalance is returned when a redemption exceeds the
	// holder's token balance.
	ErrInsufficientBalance = errors.New("levtoken: insufficient holder balance")
)
