package lending

import (
	"log/slog"
	"math/big"

	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"levmarket/fixedpoint"
	nativecommon "levmarket/native/common"
	"levmarket/observability/metrics"
)

const moduleName = "lending"

// State is the persistence layer the pool operates against. Absent records
// are returned as nil without error.
type State interface {
	GetPool() (*PoolState, error)
	PutPool(*PoolState) error
	GetDebtShares(addr gethcommon.Address) (*uint256.Int, error)
	PutDebtShares(addr gethcommon.Address, shares *uint256.Int) error
	GetSupplyShares(addr gethcommon.Address) (*uint256.Int, error)
	PutSupplyShares(addr gethcommon.Address, shares *uint256.Int) error
}

// TxState is the optional transactional surface of a State. Stores that
// implement it buffer an operation's writes and discard them when the
// operation fails.
type TxState interface {
	WithinTx(fn func() error) error
}

// Pool orchestrates the shared lending pool: interest accrual, pool-share
// supply accounting and the proportional debt-share ledger. Debt is
// truncated in the pool's favor on writes and rounded up on reads so the
// pool is never owed less than its books claim.
type Pool struct {
	state          State
	model          *InterestModel
	performanceFee *uint256.Int
	pauses         nativecommon.PauseView
	auth           nativecommon.Authorizer
	guard          nativecommon.CallGuard
	now            uint64
	logger         *slog.Logger
}

// NewPool constructs a pool with the default interest model and no
// performance fee.
func NewPool() *Pool {
	return &Pool{
		model:          DefaultInterestModel.Clone(),
		performanceFee: new(uint256.Int),
	}
}

// SetState wires the pool to the external persistence layer.
func (p *Pool) SetState(state State) { p.state = state }

// SetPauses wires the operator pause switches.
func (p *Pool) SetPauses(view nativecommon.PauseView) {
	if p == nil {
		return
	}
	p.pauses = view
}

// SetAuthorizer wires the external role check for administrative flows.
func (p *Pool) SetAuthorizer(auth nativecommon.Authorizer) {
	if p == nil {
		return
	}
	p.auth = auth
}

// SetInterestModel configures the interest rate model used during accrual.
func (p *Pool) SetInterestModel(model *InterestModel) {
	if p == nil {
		return
	}
	p.model = model.Clone()
}

// SetPerformanceFee configures the wad fraction of interest skimmed for
// the protocol.
func (p *Pool) SetPerformanceFee(fee *uint256.Int) {
	if p == nil {
		return
	}
	p.performanceFee = fixedpoint.Clone(fee)
}

// SetTimestamp records the wall-clock second used for accrual deltas.
func (p *Pool) SetTimestamp(now uint64) {
	if p == nil {
		return
	}
	p.now = now
}

// SetLogger attaches a structured logger for accrual diagnostics.
func (p *Pool) SetLogger(logger *slog.Logger) {
	if p == nil {
		return
	}
	p.logger = logger
}

// AccrueInterest folds elapsed time into the pool's books. Calling it twice
// at the same instant is a no-op. It runs implicitly before every mutating
// operation so reads observe up-to-date balances.
func (p *Pool) AccrueInterest() error {
	if p == nil || p.state == nil {
		return ErrNilState
	}
	if err := p.guard.Enter(); err != nil {
		return err
	}
	defer p.guard.Exit()

	pool, err := p.ensurePool()
	if err != nil {
		return err
	}
	if err := p.accrue(pool); err != nil {
		return err
	}
	return p.state.PutPool(pool)
}

// Supply deposits underlying into the pool and mints pool shares at the
// current exchange rate. The minted share amount is returned.
func (p *Pool) Supply(supplier gethcommon.Address, amount *uint256.Int) (*uint256.Int, error) {
	if p == nil || p.state == nil {
		return nil, ErrNilState
	}
	if err := p.guard.Enter(); err != nil {
		return nil, err
	}
	defer p.guard.Exit()
	if err := nativecommon.Guard(p.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	var shares *uint256.Int
	if err := p.inTransaction(func() error {
		var err error
		shares, err = p.supply(supplier, amount)
		return err
	}); err != nil {
		return nil, err
	}
	return shares, nil
}

func (p *Pool) supply(supplier gethcommon.Address, amount *uint256.Int) (*uint256.Int, error) {
	pool, err := p.ensurePool()
	if err != nil {
		return nil, err
	}
	if err := p.accrue(pool); err != nil {
		return nil, err
	}

	shares := fixedpoint.Clone(amount)
	if !pool.TotalSupplyShares.IsZero() {
		assets, err := p.netAssets(pool)
		if err != nil {
			return nil, err
		}
		shares, err = fixedpoint.MulDiv(amount, pool.TotalSupplyShares, assets)
		if err != nil {
			return nil, err
		}
		if shares.IsZero() {
			shares = uint256.NewInt(1)
		}
	}

	held, err := p.supplySharesOf(supplier)
	if err != nil {
		return nil, err
	}
	held, err = fixedpoint.Add(held, shares)
	if err != nil {
		return nil, err
	}
	pool.TotalCash, err = fixedpoint.Add(pool.TotalCash, amount)
	if err != nil {
		return nil, err
	}
	pool.TotalSupplyShares, err = fixedpoint.Add(pool.TotalSupplyShares, shares)
	if err != nil {
		return nil, err
	}

	if err := p.state.PutSupplyShares(supplier, held); err != nil {
		return nil, err
	}
	if err := p.state.PutPool(pool); err != nil {
		return nil, err
	}
	return shares, nil
}

// Withdraw burns pool shares and releases the corresponding underlying at
// the current exchange rate. The released amount is returned.
func (p *Pool) Withdraw(supplier gethcommon.Address, shares *uint256.Int) (*uint256.Int, error) {
	if p == nil || p.state == nil {
		return nil, ErrNilState
	}
	if err := p.guard.Enter(); err != nil {
		return nil, err
	}
	defer p.guard.Exit()
	if err := nativecommon.Guard(p.pauses, moduleName); err != nil {
		return nil, err
	}
	if shares == nil || shares.IsZero() {
		return nil, ErrInvalidAmount
	}
	var amount *uint256.Int
	if err := p.inTransaction(func() error {
		var err error
		amount, err = p.withdraw(supplier, shares)
		return err
	}); err != nil {
		return nil, err
	}
	return amount, nil
}

func (p *Pool) withdraw(supplier gethcommon.Address, shares *uint256.Int) (*uint256.Int, error) {
	pool, err := p.ensurePool()
	if err != nil {
		return nil, err
	}
	if err := p.accrue(pool); err != nil {
		return nil, err
	}
	if pool.TotalSupplyShares.IsZero() {
		return nil, ErrInsufficientLiquidity
	}

	held, err := p.supplySharesOf(supplier)
	if err != nil {
		return nil, err
	}
	if held.Lt(shares) {
		return nil, ErrInsufficientShares
	}

	assets, err := p.netAssets(pool)
	if err != nil {
		return nil, err
	}
	amount, err := fixedpoint.MulDiv(shares, assets, pool.TotalSupplyShares)
	if err != nil {
		return nil, err
	}
	free, err := freeCash(pool)
	if err != nil {
		return nil, err
	}
	if free.Lt(amount) {
		return nil, ErrInsufficientLiquidity
	}

	held, err = fixedpoint.Sub(held, shares)
	if err != nil {
		return nil, err
	}
	pool.TotalSupplyShares, err = fixedpoint.Sub(pool.TotalSupplyShares, shares)
	if err != nil {
		return nil, err
	}
	pool.TotalCash, err = fixedpoint.Sub(pool.TotalCash, amount)
	if err != nil {
		return nil, err
	}

	if err := p.state.PutSupplyShares(supplier, held); err != nil {
		return nil, err
	}
	if err := p.state.PutPool(pool); err != nil {
		return nil, err
	}
	return amount, nil
}

// Borrow lends underlying to the borrower against debt shares at the
// current debt-share rate. The minted debt shares are returned.
func (p *Pool) Borrow(borrower gethcommon.Address, amount *uint256.Int) (*uint256.Int, error) {
	if p == nil || p.state == nil {
		return nil, ErrNilState
	}
	if err := p.guard.Enter(); err != nil {
		return nil, err
	}
	defer p.guard.Exit()
	if err := nativecommon.Guard(p.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	var shares *uint256.Int
	if err := p.inTransaction(func() error {
		var err error
		shares, err = p.borrow(borrower, amount)
		return err
	}); err != nil {
		return nil, err
	}
	return shares, nil
}

func (p *Pool) borrow(borrower gethcommon.Address, amount *uint256.Int) (*uint256.Int, error) {
	pool, err := p.ensurePool()
	if err != nil {
		return nil, err
	}
	if err := p.accrue(pool); err != nil {
		return nil, err
	}
	free, err := freeCash(pool)
	if err != nil {
		return nil, err
	}
	if free.Lt(amount) {
		return nil, ErrInsufficientLiquidity
	}

	shares := fixedpoint.Clone(amount)
	if !pool.TotalDebtShares.IsZero() && !pool.TotalDebt.IsZero() {
		shares, err = fixedpoint.MulDiv(amount, pool.TotalDebtShares, pool.TotalDebt)
		if err != nil {
			return nil, err
		}
		// A positive borrow must always mint at least one share so the
		// debt ledger can never owe the pool without a claim recorded.
		if shares.IsZero() {
			shares = uint256.NewInt(1)
		}
	}

	held, err := p.debtSharesOf(borrower)
	if err != nil {
		return nil, err
	}
	held, err = fixedpoint.Add(held, shares)
	if err != nil {
		return nil, err
	}
	pool.TotalDebtShares, err = fixedpoint.Add(pool.TotalDebtShares, shares)
	if err != nil {
		return nil, err
	}
	pool.TotalDebt, err = fixedpoint.Add(pool.TotalDebt, amount)
	if err != nil {
		return nil, err
	}
	pool.TotalCash, err = fixedpoint.Sub(pool.TotalCash, amount)
	if err != nil {
		return nil, err
	}

	if err := p.state.PutDebtShares(borrower, held); err != nil {
		return nil, err
	}
	if err := p.state.PutPool(pool); err != nil {
		return nil, err
	}
	return shares, nil
}

// Repay reduces the borrower's debt, clamping to the outstanding amount.
// The applied repayment is returned.
func (p *Pool) Repay(borrower gethcommon.Address, amount *uint256.Int) (*uint256.Int, error) {
	if p == nil || p.state == nil {
		return nil, ErrNilState
	}
	if err := p.guard.Enter(); err != nil {
		return nil, err
	}
	defer p.guard.Exit()
	if err := nativecommon.Guard(p.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	var applied *uint256.Int
	if err := p.inTransaction(func() error {
		var err error
		applied, err = p.repay(borrower, amount)
		return err
	}); err != nil {
		return nil, err
	}
	return applied, nil
}

func (p *Pool) repay(borrower gethcommon.Address, amount *uint256.Int) (*uint256.Int, error) {
	pool, err := p.ensurePool()
	if err != nil {
		return nil, err
	}
	if err := p.accrue(pool); err != nil {
		return nil, err
	}

	held, err := p.debtSharesOf(borrower)
	if err != nil {
		return nil, err
	}
	if held.IsZero() {
		return nil, ErrNoDebtToRepay
	}
	owed, err := debtForShares(held, pool)
	if err != nil {
		return nil, err
	}

	applied := fixedpoint.Clone(amount)
	if applied.Gt(owed) {
		applied.Set(owed)
	}

	var burned *uint256.Int
	if applied.Eq(owed) {
		// Full repayment burns every share so no dust claim survives.
		burned = fixedpoint.Clone(held)
	} else {
		burned, err = fixedpoint.MulDiv(applied, pool.TotalDebtShares, pool.TotalDebt)
		if err != nil {
			return nil, err
		}
		if burned.Gt(held) {
			burned.Set(held)
		}
	}

	held, err = fixedpoint.Sub(held, burned)
	if err != nil {
		return nil, err
	}
	pool.TotalDebtShares, err = fixedpoint.Sub(pool.TotalDebtShares, burned)
	if err != nil {
		return nil, err
	}
	// The ceiling read can owe slightly more than the truncated total;
	// clamp so the books never go negative.
	if pool.TotalDebt.Lt(applied) {
		pool.TotalDebt.Clear()
	} else {
		pool.TotalDebt, err = fixedpoint.Sub(pool.TotalDebt, applied)
		if err != nil {
			return nil, err
		}
	}
	if pool.TotalDebtShares.IsZero() {
		pool.TotalDebt.Clear()
	}
	pool.TotalCash, err = fixedpoint.Add(pool.TotalCash, applied)
	if err != nil {
		return nil, err
	}

	if err := p.state.PutDebtShares(borrower, held); err != nil {
		return nil, err
	}
	if err := p.state.PutPool(pool); err != nil {
		return nil, err
	}
	return applied, nil
}

// CollectFees withdraws accrued protocol fees. The caller must pass the
// external authorization check.
func (p *Pool) CollectFees(caller gethcommon.Address, amount *uint256.Int) (*uint256.Int, error) {
	if p == nil || p.state == nil {
		return nil, ErrNilState
	}
	if err := p.guard.Enter(); err != nil {
		return nil, err
	}
	defer p.guard.Exit()
	if err := nativecommon.Guard(p.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := nativecommon.Authorize(p.auth, caller); err != nil {
		return nil, err
	}
	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidAmount
	}

	pool, err := p.ensurePool()
	if err != nil {
		return nil, err
	}
	if err := p.accrue(pool); err != nil {
		return nil, err
	}
	if pool.TotalPendingFees.Lt(amount) {
		return nil, ErrInsufficientFees
	}
	if pool.TotalCash.Lt(amount) {
		return nil, ErrInsufficientLiquidity
	}

	pool.TotalPendingFees, err = fixedpoint.Sub(pool.TotalPendingFees, amount)
	if err != nil {
		return nil, err
	}
	pool.TotalCash, err = fixedpoint.Sub(pool.TotalCash, amount)
	if err != nil {
		return nil, err
	}
	if err := p.state.PutPool(pool); err != nil {
		return nil, err
	}
	return fixedpoint.Clone(amount), nil
}

// DebtOf reports the borrower's current debt including interest accrued up
// to the configured timestamp, rounded up in the pool's favor.
func (p *Pool) DebtOf(borrower gethcommon.Address) (*uint256.Int, error) {
	if p == nil || p.state == nil {
		return nil, ErrNilState
	}
	held, err := p.debtSharesOf(borrower)
	if err != nil {
		return nil, err
	}
	if held.IsZero() {
		return new(uint256.Int), nil
	}
	pool, err := p.viewPool()
	if err != nil {
		return nil, err
	}
	return debtForShares(held, pool)
}

// CashAvailable reports the underlying currently available for borrows,
// net of the protocol's pending fee claim.
func (p *Pool) CashAvailable() (*uint256.Int, error) {
	if p == nil || p.state == nil {
		return nil, ErrNilState
	}
	pool, err := p.viewPool()
	if err != nil {
		return nil, err
	}
	return freeCash(pool)
}

// SupplySharesOf reports a supplier's pool-share balance.
func (p *Pool) SupplySharesOf(supplier gethcommon.Address) (*uint256.Int, error) {
	if p == nil || p.state == nil {
		return nil, ErrNilState
	}
	return p.supplySharesOf(supplier)
}

// ExchangeRate reports the wad value of one pool share in underlying
// terms, accounting for interest accrued up to the configured timestamp.
func (p *Pool) ExchangeRate() (*uint256.Int, error) {
	if p == nil || p.state == nil {
		return nil, ErrNilState
	}
	pool, err := p.viewPool()
	if err != nil {
		return nil, err
	}
	return p.exchangeRate(pool)
}

// PoolSnapshot is a read-only view of the pool for inspection surfaces.
type PoolSnapshot struct {
	TotalCash         *uint256.Int
	TotalDebt         *uint256.Int
	TotalPendingFees  *uint256.Int
	TotalDebtShares   *uint256.Int
	TotalSupplyShares *uint256.Int
	LastAccrual       uint64
	Utilization       *uint256.Int
	BorrowRate        *uint256.Int
	SupplyRate        *uint256.Int
	ExchangeRate      *uint256.Int
}

// Snapshot reports the pool's current books and derived rates, with
// interest accrued virtually up to the configured timestamp.
func (p *Pool) Snapshot() (*PoolSnapshot, error) {
	if p == nil || p.state == nil {
		return nil, ErrNilState
	}
	pool, err := p.viewPool()
	if err != nil {
		return nil, err
	}
	utilization, err := p.model.Utilization(pool.TotalCash, pool.TotalDebt)
	if err != nil {
		return nil, err
	}
	borrowRate, err := p.model.RateAtUtilization(utilization)
	if err != nil {
		return nil, err
	}
	supplyRate, err := p.model.SupplyRate(pool.TotalCash, pool.TotalDebt, p.performanceFee)
	if err != nil {
		return nil, err
	}
	rate, err := p.exchangeRate(pool)
	if err != nil {
		return nil, err
	}
	metrics.Engine().SetPoolRates(wadToFloat(utilization), wadToFloat(borrowRate))
	return &PoolSnapshot{
		TotalCash:         pool.TotalCash,
		TotalDebt:         pool.TotalDebt,
		TotalPendingFees:  pool.TotalPendingFees,
		TotalDebtShares:   pool.TotalDebtShares,
		TotalSupplyShares: pool.TotalSupplyShares,
		LastAccrual:       pool.LastAccrual,
		Utilization:       utilization,
		BorrowRate:        borrowRate,
		SupplyRate:        supplyRate,
		ExchangeRate:      rate,
	}, nil
}

// inTransaction buffers the callback's state writes when the wired store
// supports it, so a failing operation leaves no partial commit behind.
func (p *Pool) inTransaction(fn func() error) error {
	if tx, ok := p.state.(TxState); ok {
		return tx.WithinTx(fn)
	}
	return fn()
}

// freeCash is the cash borrowers and withdrawers may draw: gross cash
// less the protocol's pending fee claim.
func freeCash(pool *PoolState) (*uint256.Int, error) {
	if pool.TotalCash.Lt(pool.TotalPendingFees) {
		return new(uint256.Int), nil
	}
	return fixedpoint.Sub(pool.TotalCash, pool.TotalPendingFees)
}

func (p *Pool) ensurePool() (*PoolState, error) {
	pool, err := p.state.GetPool()
	if err != nil {
		return nil, err
	}
	if pool == nil {
		pool = &PoolState{LastAccrual: p.now}
	}
	pool.EnsureDefaults()
	return pool, nil
}

// viewPool returns the pool with interest folded in virtually, without
// persisting, so read paths observe accrued balances.
func (p *Pool) viewPool() (*PoolState, error) {
	pool, err := p.ensurePool()
	if err != nil {
		return nil, err
	}
	view := pool.Clone()
	if err := p.accrue(view); err != nil {
		return nil, err
	}
	return view, nil
}

func (p *Pool) accrue(pool *PoolState) error {
	if p.now <= pool.LastAccrual {
		return nil
	}
	elapsed := p.now - pool.LastAccrual
	pool.LastAccrual = p.now
	if pool.TotalDebt.IsZero() {
		return nil
	}
	rate, err := p.model.BorrowRate(pool.TotalCash, pool.TotalDebt)
	if err != nil {
		return err
	}
	if rate.IsZero() {
		return nil
	}
	factor, err := fixedpoint.Mul(rate, uint256.NewInt(elapsed))
	if err != nil {
		return err
	}
	interest, err := fixedpoint.MulWad(pool.TotalDebt, factor)
	if err != nil {
		return err
	}
	if interest.IsZero() {
		return nil
	}
	fee, err := fixedpoint.MulWad(interest, p.performanceFee)
	if err != nil {
		return err
	}
	pool.TotalDebt, err = fixedpoint.Add(pool.TotalDebt, interest)
	if err != nil {
		return err
	}
	pool.TotalPendingFees, err = fixedpoint.Add(pool.TotalPendingFees, fee)
	if err != nil {
		return err
	}
	metrics.Engine().RecordAccrual(wadUnits(interest))
	if p.logger != nil {
		p.logger.Debug("interest accrued",
			"elapsed_seconds", elapsed,
			"interest", interest.String(),
			"fee", fee.String(),
		)
	}
	return nil
}

// netAssets is the supplier-owned asset base: cash plus outstanding debt
// minus the protocol's pending fee claim.
func (p *Pool) netAssets(pool *PoolState) (*uint256.Int, error) {
	gross, err := fixedpoint.Add(pool.TotalCash, pool.TotalDebt)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Sub(gross, pool.TotalPendingFees)
}

func (p *Pool) exchangeRate(pool *PoolState) (*uint256.Int, error) {
	if pool.TotalSupplyShares.IsZero() {
		return fixedpoint.Clone(fixedpoint.Wad), nil
	}
	assets, err := p.netAssets(pool)
	if err != nil {
		return nil, err
	}
	return fixedpoint.DivWad(assets, pool.TotalSupplyShares)
}

// debtForShares converts debt shares into an owed amount, rounding up so a
// borrower can never under-repay due to truncation.
func debtForShares(shares *uint256.Int, pool *PoolState) (*uint256.Int, error) {
	if shares.IsZero() || pool.TotalDebtShares.IsZero() || pool.TotalDebt.IsZero() {
		return new(uint256.Int), nil
	}
	return fixedpoint.MulDivUp(shares, pool.TotalDebt, pool.TotalDebtShares)
}

func (p *Pool) debtSharesOf(addr gethcommon.Address) (*uint256.Int, error) {
	shares, err := p.state.GetDebtShares(addr)
	if err != nil {
		return nil, err
	}
	if shares == nil {
		return new(uint256.Int), nil
	}
	return fixedpoint.Clone(shares), nil
}

func (p *Pool) supplySharesOf(addr gethcommon.Address) (*uint256.Int, error) {
	shares, err := p.state.GetSupplyShares(addr)
	if err != nil {
		return nil, err
	}
	if shares == nil {
		return new(uint256.Int), nil
	}
	return fixedpoint.Clone(shares), nil
}

func wadToFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f / 1e18
}

// wadUnits renders a base-unit amount as whole underlying units for
// metrics, losing sub-unit precision deliberately.
func wadUnits(v *uint256.Int) float64 {
	return wadToFloat(v)
}
