package state

import (
	"errors"
	"testing"

	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"levmarket/fixedpoint"
	"levmarket/native/lending"
	"levmarket/native/levtoken"
	"levmarket/storage"
)

func newTestStore() *Store {
	return NewManager(storage.NewMemDB()).Store()
}

func TestPoolNilBeforeFirstWrite(t *testing.T) {
	store := newTestStore()

	pool, err := store.GetPool()
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if pool != nil {
		t.Fatalf("expected nil pool before first write, got %+v", pool)
	}
}

func TestPoolRoundTrip(t *testing.T) {
	store := newTestStore()

	pool := &lending.PoolState{
		TotalCash:         uint256.NewInt(1234),
		TotalDebt:         uint256.NewInt(567),
		TotalPendingFees:  uint256.NewInt(8),
		TotalDebtShares:   uint256.NewInt(500),
		TotalSupplyShares: uint256.NewInt(1200),
		LastAccrual:       42,
	}
	if err := store.PutPool(pool); err != nil {
		t.Fatalf("put pool: %v", err)
	}
	loaded, err := store.GetPool()
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if loaded.TotalCash.Cmp(pool.TotalCash) != 0 || loaded.TotalDebt.Cmp(pool.TotalDebt) != 0 ||
		loaded.TotalPendingFees.Cmp(pool.TotalPendingFees) != 0 ||
		loaded.TotalDebtShares.Cmp(pool.TotalDebtShares) != 0 ||
		loaded.TotalSupplyShares.Cmp(pool.TotalSupplyShares) != 0 ||
		loaded.LastAccrual != pool.LastAccrual {
		t.Fatalf("pool mismatch: got %+v want %+v", loaded, pool)
	}
}

func TestShareLedgersAreIndependent(t *testing.T) {
	store := newTestStore()
	addr := gethcommon.HexToAddress("0x1111111111111111111111111111111111111111")

	if err := store.PutDebtShares(addr, uint256.NewInt(77)); err != nil {
		t.Fatalf("put debt shares: %v", err)
	}
	supply, err := store.GetSupplyShares(addr)
	if err != nil {
		t.Fatalf("get supply shares: %v", err)
	}
	if supply != nil {
		t.Fatalf("debt write leaked into supply ledger: %s", supply)
	}
	debt, err := store.GetDebtShares(addr)
	if err != nil {
		t.Fatalf("get debt shares: %v", err)
	}
	if debt.Uint64() != 77 {
		t.Fatalf("unexpected debt shares: %s", debt)
	}
}

func TestTokenIndexPreservesRegistrationOrder(t *testing.T) {
	store := newTestStore()
	first := gethcommon.HexToAddress("0x000000000000000000000000000000000000000a")
	second := gethcommon.HexToAddress("0x000000000000000000000000000000000000000b")

	for _, addr := range []gethcommon.Address{first, second} {
		meta := &levtoken.TokenMetadata{Token: addr, InitialPrice: uint256.NewInt(1)}
		if err := store.PutToken(meta); err != nil {
			t.Fatalf("put token %s: %v", addr.Hex(), err)
		}
	}
	// Rewriting an existing record must not duplicate its index entry.
	if err := store.PutToken(&levtoken.TokenMetadata{Token: first, InitialPrice: uint256.NewInt(2)}); err != nil {
		t.Fatalf("rewrite token: %v", err)
	}

	index, err := store.ListTokens()
	if err != nil {
		t.Fatalf("list tokens: %v", err)
	}
	if len(index) != 2 || index[0] != first || index[1] != second {
		t.Fatalf("unexpected index: %v", index)
	}
}

func TestGetTokenReturnsNilWhenUnregistered(t *testing.T) {
	store := newTestStore()

	meta, err := store.GetToken(gethcommon.HexToAddress("0x00000000000000000000000000000000000000ff"))
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if meta != nil {
		t.Fatalf("expected nil for unregistered token, got %+v", meta)
	}
}

func TestWithinTxDiscardsWritesOnError(t *testing.T) {
	store := newTestStore()
	boom := errors.New("boom")

	err := store.WithinTx(func() error {
		if err := store.PutPool(&lending.PoolState{TotalCash: uint256.NewInt(999)}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	pool, err := store.GetPool()
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if pool != nil {
		t.Fatalf("aborted transaction leaked writes: %+v", pool)
	}
}

func TestWithinTxCommitsOnSuccess(t *testing.T) {
	store := newTestStore()

	err := store.WithinTx(func() error {
		if err := store.PutPool(&lending.PoolState{TotalCash: uint256.NewInt(500)}); err != nil {
			return err
		}
		// Reads inside the transaction observe buffered writes.
		pool, err := store.GetPool()
		if err != nil {
			return err
		}
		if pool.TotalCash.Uint64() != 500 {
			t.Fatalf("transaction read missed its own write: %s", pool.TotalCash)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	pool, err := store.GetPool()
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if pool.TotalCash.Uint64() != 500 {
		t.Fatalf("committed write missing: %s", pool.TotalCash)
	}
}

func TestWithinTxJoinsOpenTransaction(t *testing.T) {
	store := newTestStore()
	boom := errors.New("boom")

	// An inner WithinTx joins the enclosing transaction, so an outer
	// failure discards the inner writes too.
	err := store.WithinTx(func() error {
		if err := store.WithinTx(func() error {
			return store.PutPool(&lending.PoolState{TotalCash: uint256.NewInt(321)})
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected outer error, got %v", err)
	}
	pool, err := store.GetPool()
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if pool != nil {
		t.Fatalf("joined transaction leaked writes: %+v", pool)
	}
}

type quotedOracle struct{ price *uint256.Int }

func (o quotedOracle) Price() (*uint256.Int, error) {
	return new(uint256.Int).Set(o.price), nil
}

type quotedVenue struct {
	price      *uint256.Int
	collateral gethcommon.Address
}

func (v quotedVenue) Swap(tokenIn, tokenOut gethcommon.Address, maxIn, exactOut *uint256.Int) (*uint256.Int, error) {
	if tokenOut == v.collateral {
		return fixedpoint.MulWadUp(exactOut, v.price)
	}
	return fixedpoint.DivWadUp(exactOut, v.price)
}

// haltedSupply mints normally but refuses every burn, standing in for an
// external token ledger whose settlement has stalled.
type haltedSupply struct{ total *uint256.Int }

func (s *haltedSupply) Mint(_, _ gethcommon.Address, amount *uint256.Int) error {
	s.total = new(uint256.Int).Add(s.total, amount)
	return nil
}

func (s *haltedSupply) Burn(_, _ gethcommon.Address, _ *uint256.Int) error {
	return errors.New("settlement halted")
}

func (s *haltedSupply) TotalSupply(_ gethcommon.Address) (*uint256.Int, error) {
	return new(uint256.Int).Set(s.total), nil
}

func (s *haltedSupply) BalanceOf(_, _ gethcommon.Address) (*uint256.Int, error) {
	return new(uint256.Int).Set(s.total), nil
}

// A redemption that fails after its pool repayment must leave the
// persisted pool books exactly as they were.
func TestFailedRedeemLeavesBooksUntouched(t *testing.T) {
	store := newTestStore()
	underlying := gethcommon.HexToAddress("0x0000000000000000000000000000000000000001")
	collateral := gethcommon.HexToAddress("0x0000000000000000000000000000000000000002")
	token := gethcommon.HexToAddress("0x0000000000000000000000000000000000000003")
	supplier := gethcommon.HexToAddress("0x0000000000000000000000000000000000000051")
	holder := gethcommon.HexToAddress("0x0000000000000000000000000000000000000052")

	pool := lending.NewPool()
	pool.SetState(store)
	pool.SetTimestamp(1_000_000)
	seed, err := fixedpoint.WadFromUint64(100_000)
	if err != nil {
		t.Fatalf("seed amount: %v", err)
	}
	if _, err := pool.Supply(supplier, seed); err != nil {
		t.Fatalf("seed pool: %v", err)
	}

	price, err := fixedpoint.WadFromUint64(4000)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	supply := &haltedSupply{total: new(uint256.Int)}
	engine := levtoken.NewEngine(underlying, pool, supply)
	engine.SetState(store)
	engine.SetTimestamp(1_000_000)

	meta := &levtoken.TokenMetadata{
		Token:            token,
		Collateral:       collateral,
		InitialPrice:     fixedpoint.MustWadFromDecimal("100"),
		FeeRate:          fixedpoint.MustWadFromDecimal("0.001"),
		MinLeverageRatio: fixedpoint.MustWadFromDecimal("1.8"),
		MaxLeverageRatio: fixedpoint.MustWadFromDecimal("2.2"),
		RebalancingStep:  fixedpoint.MustWadFromDecimal("0.1"),
	}
	if err := engine.Register(gethcommon.Address{1}, meta, quotedOracle{price: price}, quotedVenue{price: price, collateral: collateral}); err != nil {
		t.Fatalf("register token: %v", err)
	}

	deposit, err := fixedpoint.WadFromUint64(1)
	if err != nil {
		t.Fatalf("deposit amount: %v", err)
	}
	minted, err := engine.Mint(holder, token, deposit)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	poolBefore, err := store.GetPool()
	if err != nil {
		t.Fatalf("pool before: %v", err)
	}
	metaBefore, err := store.GetToken(token)
	if err != nil {
		t.Fatalf("token before: %v", err)
	}

	if _, err := engine.Redeem(holder, token, minted); err == nil {
		t.Fatal("expected redemption failure")
	}

	poolAfter, err := store.GetPool()
	if err != nil {
		t.Fatalf("pool after: %v", err)
	}
	if poolAfter.TotalDebt.Cmp(poolBefore.TotalDebt) != 0 {
		t.Fatalf("failed redemption moved pool debt: before %s after %s",
			poolBefore.TotalDebt, poolAfter.TotalDebt)
	}
	if poolAfter.TotalCash.Cmp(poolBefore.TotalCash) != 0 {
		t.Fatalf("failed redemption moved pool cash: before %s after %s",
			poolBefore.TotalCash, poolAfter.TotalCash)
	}
	metaAfter, err := store.GetToken(token)
	if err != nil {
		t.Fatalf("token after: %v", err)
	}
	if metaAfter.TotalCollateral.Cmp(metaBefore.TotalCollateral) != 0 {
		t.Fatalf("failed redemption moved collateral: before %s after %s",
			metaBefore.TotalCollateral, metaAfter.TotalCollateral)
	}
}
