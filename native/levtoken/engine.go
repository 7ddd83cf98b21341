package levtoken

import (
	"log/slog"

	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"levmarket/fixedpoint"
	nativecommon "levmarket/native/common"
	"levmarket/observability/metrics"
)

const moduleName = "levtoken"

// Swaps are pre-bounded at 1% worse than the oracle quote: the venue may
// consume at most maxIn = ideal * slippageNum / slippageDen.
var (
	slippageNum = uint256.NewInt(101)
	slippageDen = uint256.NewInt(100)
	two         = uint256.NewInt(2)
)

// Engine issues leveraged tokens against the shared lending pool and keeps
// each token's leverage ratio inside its target band. All state mutations
// run under a non-reentrant guard and abort atomically on any error.
type Engine struct {
	state      State
	pool       CreditFacility
	supply     TokenSupply
	underlying gethcommon.Address
	pauses     nativecommon.PauseView
	auth       nativecommon.Authorizer
	guard      nativecommon.CallGuard
	oracles    map[gethcommon.Address]PriceOracle
	venues     map[gethcommon.Address]SwapVenue
	now        uint64
	cooldown   uint64
	bypass     bool
	logger     *slog.Logger
}

// NewEngine constructs an engine issuing tokens against the pool's
// underlying asset.
func NewEngine(underlying gethcommon.Address, pool CreditFacility, supply TokenSupply) *Engine {
	return &Engine{
		pool:       pool,
		supply:     supply,
		underlying: underlying,
		oracles:    make(map[gethcommon.Address]PriceOracle),
		venues:     make(map[gethcommon.Address]SwapVenue),
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state State) { e.state = state }

// SetPauses wires the operator pause switches.
func (e *Engine) SetPauses(view nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = view
}

// SetAuthorizer wires the external role check for administrative flows.
func (e *Engine) SetAuthorizer(auth nativecommon.Authorizer) {
	if e == nil {
		return
	}
	e.auth = auth
}

// SetTimestamp records the wall-clock second used for cooldown checks.
func (e *Engine) SetTimestamp(now uint64) {
	if e == nil {
		return
	}
	e.now = now
}

// SetRebalancePolicy configures the periodic-rebalance cooldown and
// whether a pending partial rebalance may bypass it.
func (e *Engine) SetRebalancePolicy(cooldownSeconds uint64, bypassForPartials bool) {
	if e == nil {
		return
	}
	e.cooldown = cooldownSeconds
	e.bypass = bypassForPartials
}

// SetLogger attaches a structured logger for trade diagnostics.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil {
		return
	}
	e.logger = logger
}

// BindCollaborators attaches the live oracle and swap-venue handles for a
// token. Metadata persists only their identities, so handles must be
// re-bound after a restart.
func (e *Engine) BindCollaborators(token gethcommon.Address, oracle PriceOracle, venue SwapVenue) {
	if e == nil {
		return
	}
	if oracle != nil {
		e.oracles[token] = oracle
	}
	if venue != nil {
		e.venues[token] = venue
	}
}

// TokenStats is a read-only valuation of one leveraged token.
type TokenStats struct {
	Supply                  *uint256.Int
	Collateral              *uint256.Int
	PendingFees             *uint256.Int
	Debt                    *uint256.Int
	Price                   *uint256.Int
	NAV                     *uint256.Int
	LeverageRatio           *uint256.Int
	CollateralValuePerToken *uint256.Int
	PartialRebalancePending bool
}

// Stats values the token at the current oracle price with pool interest
// folded in.
func (e *Engine) Stats(token gethcommon.Address) (*TokenStats, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	meta, err := e.token(token)
	if err != nil {
		return nil, err
	}
	price, err := e.price(meta)
	if err != nil {
		return nil, err
	}
	return e.stats(meta, price)
}

// Mint deposits collateral and issues 2x-leveraged tokens. The engine
// borrows underlying to buy an equal collateral principal, so slippage and
// fees shrink the minted quantity instead of diluting existing holders.
// The minted token quantity is returned.
func (e *Engine) Mint(minter, token gethcommon.Address, amount *uint256.Int) (*uint256.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := e.guard.Enter(); err != nil {
		return nil, err
	}
	defer e.guard.Exit()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	var minted *uint256.Int
	if err := e.inTransaction(func() error {
		var err error
		minted, err = e.mint(minter, token, amount)
		return err
	}); err != nil {
		return nil, err
	}
	return minted, nil
}

func (e *Engine) mint(minter, token gethcommon.Address, amount *uint256.Int) (*uint256.Int, error) {
	meta, err := e.token(token)
	if err != nil {
		return nil, err
	}
	if err := e.pool.AccrueInterest(); err != nil {
		return nil, err
	}
	price, err := e.price(meta)
	if err != nil {
		return nil, err
	}
	stats, err := e.stats(meta, price)
	if err != nil {
		return nil, err
	}

	fee, err := fixedpoint.MulWad(amount, meta.FeeRate)
	if err != nil {
		return nil, err
	}
	principal, err := fixedpoint.Sub(amount, fee)
	if err != nil {
		return nil, err
	}
	if principal.IsZero() {
		return nil, ErrInvalidAmount
	}

	// Buy exactly `principal` more collateral, spending at most 1% over
	// the oracle quote.
	cost, err := fixedpoint.MulWad(principal, price)
	if err != nil {
		return nil, err
	}
	maxIn, err := fixedpoint.MulDivUp(cost, slippageNum, slippageDen)
	if err != nil {
		return nil, err
	}
	cash, err := e.pool.CashAvailable()
	if err != nil {
		return nil, err
	}
	if cash.Lt(maxIn) {
		return nil, ErrInsufficientLiquidity
	}
	borrowed, err := e.swap(meta, e.underlying, meta.Collateral, maxIn, principal)
	if err != nil {
		return nil, err
	}
	if _, err := e.pool.Borrow(meta.Token, borrowed); err != nil {
		return nil, err
	}

	twoPrincipal, err := fixedpoint.Mul(principal, two)
	if err != nil {
		return nil, err
	}
	invested, err := fixedpoint.MulWad(twoPrincipal, price)
	if err != nil {
		return nil, err
	}
	equity, err := fixedpoint.Sub(invested, borrowed)
	if err != nil {
		return nil, err
	}
	minted, err := fixedpoint.DivWad(equity, stats.NAV)
	if err != nil {
		return nil, err
	}

	added, err := fixedpoint.Add(twoPrincipal, fee)
	if err != nil {
		return nil, err
	}
	meta.TotalCollateral, err = fixedpoint.Add(meta.TotalCollateral, added)
	if err != nil {
		return nil, err
	}
	meta.TotalPendingFees, err = fixedpoint.Add(meta.TotalPendingFees, fee)
	if err != nil {
		return nil, err
	}
	if err := e.state.PutToken(meta); err != nil {
		return nil, err
	}
	if err := e.supply.Mint(meta.Token, minter, minted); err != nil {
		return nil, err
	}
	metrics.Engine().RecordMint(meta.Token.Hex())
	if e.logger != nil {
		e.logger.Info("minted leveraged tokens",
			"token", meta.Token.Hex(),
			"deposit", amount.String(),
			"borrowed", borrowed.String(),
			"minted", minted.String(),
		)
	}
	return minted, nil
}

// Redeem burns tokens, unwinds the pro-rata debt with a bounded collateral
// sale and releases the remaining collateral net of the redemption fee.
// The collateral payout is returned.
func (e *Engine) Redeem(holder, token gethcommon.Address, amount *uint256.Int) (*uint256.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := e.guard.Enter(); err != nil {
		return nil, err
	}
	defer e.guard.Exit()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	var payout *uint256.Int
	if err := e.inTransaction(func() error {
		var err error
		payout, err = e.redeem(holder, token, amount)
		return err
	}); err != nil {
		return nil, err
	}
	return payout, nil
}

func (e *Engine) redeem(holder, token gethcommon.Address, amount *uint256.Int) (*uint256.Int, error) {
	meta, err := e.token(token)
	if err != nil {
		return nil, err
	}
	if err := e.pool.AccrueInterest(); err != nil {
		return nil, err
	}
	price, err := e.price(meta)
	if err != nil {
		return nil, err
	}
	stats, err := e.stats(meta, price)
	if err != nil {
		return nil, err
	}
	if stats.Supply.Lt(amount) {
		return nil, ErrInsufficientSupply
	}
	balance, err := e.supply.BalanceOf(token, holder)
	if err != nil {
		return nil, err
	}
	if balance == nil || balance.Lt(amount) {
		return nil, ErrInsufficientBalance
	}

	net, err := fixedpoint.Sub(meta.TotalCollateral, meta.TotalPendingFees)
	if err != nil {
		return nil, err
	}
	gross, err := fixedpoint.MulDiv(net, amount, stats.Supply)
	if err != nil {
		return nil, err
	}
	// Debt is unwound with pool-favoring rounding.
	debtShare, err := fixedpoint.MulDivUp(stats.Debt, amount, stats.Supply)
	if err != nil {
		return nil, err
	}

	sold := new(uint256.Int)
	if !debtShare.IsZero() {
		ideal, err := fixedpoint.DivWadUp(debtShare, price)
		if err != nil {
			return nil, err
		}
		maxIn, err := fixedpoint.MulDivUp(ideal, slippageNum, slippageDen)
		if err != nil {
			return nil, err
		}
		if gross.Lt(maxIn) {
			return nil, ErrInsufficientCollateral
		}
		sold, err = e.swap(meta, meta.Collateral, e.underlying, maxIn, debtShare)
		if err != nil {
			return nil, err
		}
		if _, err := e.pool.Repay(meta.Token, debtShare); err != nil {
			return nil, err
		}
	}

	fee, err := fixedpoint.MulWad(gross, meta.FeeRate)
	if err != nil {
		return nil, err
	}
	spent, err := fixedpoint.Add(sold, fee)
	if err != nil {
		return nil, err
	}
	payout, err := fixedpoint.Sub(gross, spent)
	if err != nil {
		return nil, ErrInsufficientCollateral
	}

	released, err := fixedpoint.Sub(gross, fee)
	if err != nil {
		return nil, err
	}
	meta.TotalCollateral, err = fixedpoint.Sub(meta.TotalCollateral, released)
	if err != nil {
		return nil, err
	}
	meta.TotalPendingFees, err = fixedpoint.Add(meta.TotalPendingFees, fee)
	if err != nil {
		return nil, err
	}
	if err := e.supply.Burn(meta.Token, holder, amount); err != nil {
		return nil, err
	}
	if err := e.state.PutToken(meta); err != nil {
		return nil, err
	}
	metrics.Engine().RecordRedeem(meta.Token.Hex())
	if e.logger != nil {
		e.logger.Info("redeemed leveraged tokens",
			"token", meta.Token.Hex(),
			"burned", amount.String(),
			"payout", payout.String(),
		)
	}
	return payout, nil
}

// Rebalance forces one leverage adjustment toward the target band. It
// fails with ErrOutOfRebalanceRange when the ratio is already in band.
func (e *Engine) Rebalance(token gethcommon.Address) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	meta, err := e.token(token)
	if err != nil {
		return err
	}
	return e.inTransaction(func() error {
		_, err := e.rebalance(meta)
		return err
	})
}

// PeriodicRebalance is the scheduler-driven variant: inside the cooldown
// window it is a silent no-op unless a partial rebalance is pending and
// the bypass policy allows fast-tracking; an in-band ratio is likewise a
// no-op rather than an error. It reports whether a rebalance executed.
func (e *Engine) PeriodicRebalance(token gethcommon.Address) (bool, error) {
	if e == nil || e.state == nil {
		return false, ErrNilState
	}
	if err := e.guard.Enter(); err != nil {
		return false, err
	}
	defer e.guard.Exit()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return false, err
	}
	meta, err := e.token(token)
	if err != nil {
		return false, err
	}
	if e.cooldown > 0 && e.now < meta.LastRebalance+e.cooldown {
		if !(meta.PartialRebalancePending && e.bypass) {
			return false, nil
		}
	}
	executed := false
	if err := e.inTransaction(func() error {
		var err error
		executed, err = e.rebalance(meta)
		if err == ErrOutOfRebalanceRange {
			// Back in band: any pending partial has converged.
			if meta.PartialRebalancePending {
				meta.PartialRebalancePending = false
				return e.state.PutToken(meta)
			}
			return nil
		}
		return err
	}); err != nil {
		return false, err
	}
	return executed, nil
}

// rebalance recomputes the leverage ratio and trades one bounded step
// toward the band. The caller holds the guard.
func (e *Engine) rebalance(meta *TokenMetadata) (bool, error) {
	if err := e.pool.AccrueInterest(); err != nil {
		return false, err
	}
	price, err := e.price(meta)
	if err != nil {
		return false, err
	}
	stats, err := e.stats(meta, price)
	if err != nil {
		return false, err
	}
	if stats.Supply.IsZero() {
		return false, ErrOutOfRebalanceRange
	}
	ratio := stats.LeverageRatio
	if !ratio.Lt(meta.MinLeverageRatio) && !ratio.Gt(meta.MaxLeverageRatio) {
		return false, ErrOutOfRebalanceRange
	}

	totalNAV, err := fixedpoint.MulWad(stats.NAV, stats.Supply)
	if err != nil {
		return false, err
	}
	notional, err := fixedpoint.MulWad(meta.RebalancingStep, totalNAV)
	if err != nil {
		return false, err
	}
	levering := ratio.Lt(meta.MinLeverageRatio)
	// A deleverage never sells more collateral than the debt it retires.
	if !levering && notional.Gt(stats.Debt) {
		notional = fixedpoint.Clone(stats.Debt)
	}
	partial := false
	if !meta.MaxRebalancingNotional.IsZero() && notional.Gt(meta.MaxRebalancingNotional) {
		notional = fixedpoint.Clone(meta.MaxRebalancingNotional)
		partial = true
	}
	if notional.IsZero() {
		return false, ErrOutOfRebalanceRange
	}

	direction := "lever"
	if levering {
		// Under-levered: borrow underlying, buy collateral.
		exactOut, err := fixedpoint.DivWad(notional, price)
		if err != nil {
			return false, err
		}
		maxIn, err := fixedpoint.MulDivUp(notional, slippageNum, slippageDen)
		if err != nil {
			return false, err
		}
		cash, err := e.pool.CashAvailable()
		if err != nil {
			return false, err
		}
		if cash.Lt(maxIn) {
			return false, ErrInsufficientLiquidity
		}
		spent, err := e.swap(meta, e.underlying, meta.Collateral, maxIn, exactOut)
		if err != nil {
			return false, err
		}
		if _, err := e.pool.Borrow(meta.Token, spent); err != nil {
			return false, err
		}
		meta.TotalCollateral, err = fixedpoint.Add(meta.TotalCollateral, exactOut)
		if err != nil {
			return false, err
		}
	} else {
		// Over-levered: sell collateral, repay debt.
		direction = "delever"
		ideal, err := fixedpoint.DivWadUp(notional, price)
		if err != nil {
			return false, err
		}
		maxIn, err := fixedpoint.MulDivUp(ideal, slippageNum, slippageDen)
		if err != nil {
			return false, err
		}
		net, err := fixedpoint.Sub(meta.TotalCollateral, meta.TotalPendingFees)
		if err != nil {
			return false, err
		}
		if net.Lt(maxIn) {
			return false, ErrInsufficientCollateral
		}
		sold, err := e.swap(meta, meta.Collateral, e.underlying, maxIn, notional)
		if err != nil {
			return false, err
		}
		if _, err := e.pool.Repay(meta.Token, notional); err != nil {
			return false, err
		}
		meta.TotalCollateral, err = fixedpoint.Sub(meta.TotalCollateral, sold)
		if err != nil {
			return false, err
		}
	}

	meta.PartialRebalancePending = partial
	meta.LastRebalance = e.now
	if err := e.state.PutToken(meta); err != nil {
		return false, err
	}
	metrics.Engine().RecordRebalance(meta.Token.Hex(), direction, partial)
	if e.logger != nil {
		e.logger.Info("rebalanced leveraged token",
			"token", meta.Token.Hex(),
			"direction", direction,
			"notional", notional.String(),
			"partial", partial,
		)
	}
	return true, nil
}

// stats computes the per-token valuation at the given price. NAV falls
// back to the registered initial price while the token has no collateral
// or no debt per token.
func (e *Engine) stats(meta *TokenMetadata, price *uint256.Int) (*TokenStats, error) {
	supply, err := e.supply.TotalSupply(meta.Token)
	if err != nil {
		return nil, err
	}
	debt, err := e.pool.DebtOf(meta.Token)
	if err != nil {
		return nil, err
	}
	net, err := fixedpoint.Sub(meta.TotalCollateral, meta.TotalPendingFees)
	if err != nil {
		return nil, err
	}

	collateralPerToken := new(uint256.Int)
	debtPerToken := new(uint256.Int)
	if !supply.IsZero() {
		collateralPerToken, err = fixedpoint.DivWad(net, supply)
		if err != nil {
			return nil, err
		}
		if !debt.IsZero() {
			debtPerToken, err = fixedpoint.DivWadUp(debt, supply)
			if err != nil {
				return nil, err
			}
		}
	}
	collateralValue, err := fixedpoint.MulWad(collateralPerToken, price)
	if err != nil {
		return nil, err
	}

	nav := fixedpoint.Clone(meta.InitialPrice)
	if !collateralPerToken.IsZero() && !debtPerToken.IsZero() {
		nav, err = fixedpoint.Sub(collateralValue, debtPerToken)
		if err != nil {
			return nil, err
		}
	}

	ratio := new(uint256.Int)
	if !nav.IsZero() {
		ratio, err = fixedpoint.DivWad(collateralValue, nav)
		if err != nil {
			return nil, err
		}
	}

	return &TokenStats{
		Supply:                  supply,
		Collateral:              fixedpoint.Clone(meta.TotalCollateral),
		PendingFees:             fixedpoint.Clone(meta.TotalPendingFees),
		Debt:                    debt,
		Price:                   fixedpoint.Clone(price),
		NAV:                     nav,
		LeverageRatio:           ratio,
		CollateralValuePerToken: collateralValue,
		PartialRebalancePending: meta.PartialRebalancePending,
	}, nil
}

// inTransaction buffers the callback's state writes when the wired store
// supports it. Pool writes land in the same transaction when both engines
// share the store, so a failing operation leaves no partial commit behind.
func (e *Engine) inTransaction(fn func() error) error {
	if tx, ok := e.state.(TxState); ok {
		return tx.WithinTx(fn)
	}
	return fn()
}

func (e *Engine) token(addr gethcommon.Address) (*TokenMetadata, error) {
	meta, err := e.state.GetToken(addr)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, ErrNotRegistered
	}
	meta.EnsureDefaults()
	return meta, nil
}

func (e *Engine) price(meta *TokenMetadata) (*uint256.Int, error) {
	oracle, ok := e.oracles[meta.Token]
	if !ok || oracle == nil {
		return nil, ErrOracleUnavailable
	}
	price, err := oracle.Price()
	if err != nil || price == nil || price.IsZero() {
		return nil, ErrOracleUnavailable
	}
	return price, nil
}

func (e *Engine) swap(meta *TokenMetadata, tokenIn, tokenOut gethcommon.Address, maxIn, exactOut *uint256.Int) (*uint256.Int, error) {
	venue, ok := e.venues[meta.Token]
	if !ok || venue == nil {
		return nil, ErrVenueUnavailable
	}
	spent, err := venue.Swap(tokenIn, tokenOut, maxIn, exactOut)
	if err != nil {
		return nil, err
	}
	if spent == nil || spent.Gt(maxIn) {
		return nil, ErrSlippageExceeded
	}
	return fixedpoint.Clone(spent), nil
}
