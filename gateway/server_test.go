package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"levmarket/fixedpoint"
	"levmarket/native/lending"
	"levmarket/native/levtoken"
	"levmarket/state"
	"levmarket/storage"
)

var (
	testUnderlying = gethcommon.HexToAddress("0x0000000000000000000000000000000000000001")
	testCollateral = gethcommon.HexToAddress("0x0000000000000000000000000000000000000002")
	testToken      = gethcommon.HexToAddress("0x0000000000000000000000000000000000000003")
	testSupplier   = gethcommon.HexToAddress("0x00000000000000000000000000000000000000cc")
)

type fixedOracle struct{ price *uint256.Int }

func (o fixedOracle) Price() (*uint256.Int, error) {
	return new(uint256.Int).Set(o.price), nil
}

type fixedVenue struct{ price *uint256.Int }

func (v fixedVenue) Swap(tokenIn, tokenOut gethcommon.Address, maxIn, exactOut *uint256.Int) (*uint256.Int, error) {
	if tokenOut == testCollateral {
		return fixedpoint.MulWadUp(exactOut, v.price)
	}
	return fixedpoint.DivWadUp(exactOut, v.price)
}

type memSupply struct {
	totals map[gethcommon.Address]*uint256.Int
}

func (s *memSupply) Mint(token, recipient gethcommon.Address, amount *uint256.Int) error {
	total, ok := s.totals[token]
	if !ok {
		total = new(uint256.Int)
	}
	s.totals[token] = new(uint256.Int).Add(total, amount)
	return nil
}

func (s *memSupply) Burn(token, holder gethcommon.Address, amount *uint256.Int) error {
	s.totals[token] = new(uint256.Int).Sub(s.totals[token], amount)
	return nil
}

func (s *memSupply) TotalSupply(token gethcommon.Address) (*uint256.Int, error) {
	total, ok := s.totals[token]
	if !ok {
		return new(uint256.Int), nil
	}
	return new(uint256.Int).Set(total), nil
}

// BalanceOf treats the aggregate as a single holder's balance; the gateway
// tests never redeem.
func (s *memSupply) BalanceOf(token, _ gethcommon.Address) (*uint256.Int, error) {
	return s.TotalSupply(token)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := state.NewManager(storage.NewMemDB()).Store()

	pool := lending.NewPool()
	pool.SetState(store)
	pool.SetTimestamp(1_000_000)

	amount, err := fixedpoint.WadFromUint64(100_000)
	if err != nil {
		t.Fatalf("amount: %v", err)
	}
	if _, err := pool.Supply(testSupplier, amount); err != nil {
		t.Fatalf("seed pool: %v", err)
	}

	price, err := fixedpoint.WadFromUint64(4000)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	engine := levtoken.NewEngine(testUnderlying, pool, &memSupply{totals: make(map[gethcommon.Address]*uint256.Int)})
	engine.SetState(store)
	engine.SetTimestamp(1_000_000)
	meta := &levtoken.TokenMetadata{
		Token:            testToken,
		Collateral:       testCollateral,
		InitialPrice:     fixedpoint.MustWadFromDecimal("100"),
		FeeRate:          fixedpoint.MustWadFromDecimal("0.001"),
		MinLeverageRatio: fixedpoint.MustWadFromDecimal("1.8"),
		MaxLeverageRatio: fixedpoint.MustWadFromDecimal("2.2"),
		RebalancingStep:  fixedpoint.MustWadFromDecimal("0.1"),
	}
	if err := engine.Register(gethcommon.Address{1}, meta, fixedOracle{price: price}, fixedVenue{price: price}); err != nil {
		t.Fatalf("register token: %v", err)
	}

	return NewServer(pool, engine, 1000, 1000, nil)
}

func doRequest(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	server := newTestServer(t)

	rec := doRequest(t, server.Router(), "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestPoolEndpointReportsBooks(t *testing.T) {
	server := newTestServer(t)

	rec := doRequest(t, server.Router(), "/v1/pool")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body %s", rec.Code, rec.Body)
	}
	var body poolResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.TotalCash != "100000000000000000000000" {
		t.Fatalf("unexpected cash: %s", body.TotalCash)
	}
	if body.ExchangeRate != fixedpoint.Wad.String() {
		t.Fatalf("unexpected exchange rate: %s", body.ExchangeRate)
	}
}

func TestTokenEndpoints(t *testing.T) {
	server := newTestServer(t)
	router := server.Router()

	rec := doRequest(t, router, "/v1/tokens")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected list status: %d body %s", rec.Code, rec.Body)
	}
	var list []tokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0].Token != testToken.Hex() {
		t.Fatalf("unexpected token list: %+v", list)
	}
	// Unminted token values at its registered initial price.
	if list[0].NAV != fixedpoint.MustWadFromDecimal("100").String() {
		t.Fatalf("unexpected NAV: %s", list[0].NAV)
	}

	rec = doRequest(t, router, "/v1/tokens/"+testToken.Hex())
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected get status: %d body %s", rec.Code, rec.Body)
	}

	rec = doRequest(t, router, "/v1/tokens/not-an-address")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d", rec.Code)
	}

	rec = doRequest(t, router, "/v1/tokens/0x00000000000000000000000000000000000000ee")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected not found, got %d", rec.Code)
	}
}

func TestRateLimitRejectsBursts(t *testing.T) {
	server := newTestServer(t)
	server.limiter = newRateLimiter(1, 1)
	router := server.Router()

	first := doRequest(t, router, "/healthz")
	if first.Code != http.StatusOK {
		t.Fatalf("unexpected first status: %d", first.Code)
	}
	second := doRequest(t, router, "/healthz")
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected throttling, got %d", second.Code)
	}
}
