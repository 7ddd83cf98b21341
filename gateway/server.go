// Package gateway exposes the read-only HTTP surface of the market: pool
// books and rates, the leveraged-token registry and Prometheus metrics.
// All mutations happen through the engines, never over HTTP.
package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"levmarket/native/lending"
	"levmarket/native/levtoken"
)

// Server serves the inspection API for one pool and its token registry.
type Server struct {
	pool    *lending.Pool
	engine  *levtoken.Engine
	limiter *rateLimiter
	logger  *slog.Logger
}

// NewServer wires the handlers to live engine instances.
func NewServer(pool *lending.Pool, engine *levtoken.Engine, requestsPerSecond float64, burst int, logger *slog.Logger) *Server {
	return &Server{
		pool:    pool,
		engine:  engine,
		limiter: newRateLimiter(requestsPerSecond, burst),
		logger:  logger,
	}
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(s.limiter.middleware)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/v1/pool", s.handlePool)
	r.Get("/v1/tokens", s.handleTokens)
	r.Get("/v1/tokens/{address}", s.handleToken)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type poolResponse struct {
	TotalCash         string `json:"totalCash"`
	TotalDebt         string `json:"totalDebt"`
	TotalPendingFees  string `json:"totalPendingFees"`
	TotalDebtShares   string `json:"totalDebtShares"`
	TotalSupplyShares string `json:"totalSupplyShares"`
	LastAccrual       uint64 `json:"lastAccrual"`
	Utilization       string `json:"utilization"`
	BorrowRate        string `json:"borrowRatePerSecond"`
	SupplyRate        string `json:"supplyRatePerSecond"`
	ExchangeRate      string `json:"exchangeRate"`
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.pool.Snapshot()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, poolResponse{
		TotalCash:         snapshot.TotalCash.String(),
		TotalDebt:         snapshot.TotalDebt.String(),
		TotalPendingFees:  snapshot.TotalPendingFees.String(),
		TotalDebtShares:   snapshot.TotalDebtShares.String(),
		TotalSupplyShares: snapshot.TotalSupplyShares.String(),
		LastAccrual:       snapshot.LastAccrual,
		Utilization:       snapshot.Utilization.String(),
		BorrowRate:        snapshot.BorrowRate.String(),
		SupplyRate:        snapshot.SupplyRate.String(),
		ExchangeRate:      snapshot.ExchangeRate.String(),
	})
}

type tokenResponse struct {
	Token                   string `json:"token"`
	Supply                  string `json:"supply"`
	Collateral              string `json:"collateral"`
	PendingFees             string `json:"pendingFees"`
	Debt                    string `json:"debt"`
	Price                   string `json:"price"`
	NAV                     string `json:"nav"`
	LeverageRatio           string `json:"leverageRatio"`
	PartialRebalancePending bool   `json:"partialRebalancePending"`
}

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := s.engine.Tokens()
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]tokenResponse, 0, len(tokens))
	for _, addr := range tokens {
		stats, err := s.engine.Stats(addr)
		if err != nil {
			s.writeError(w, err)
			return
		}
		out = append(out, tokenView(addr, stats))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "address")
	if !gethcommon.IsHexAddress(raw) {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid token address"})
		return
	}
	addr := gethcommon.HexToAddress(raw)
	stats, err := s.engine.Stats(addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tokenView(addr, stats))
}

func tokenView(addr gethcommon.Address, stats *levtoken.TokenStats) tokenResponse {
	return tokenResponse{
		Token:                   addr.Hex(),
		Supply:                  stats.Supply.String(),
		Collateral:              stats.Collateral.String(),
		PendingFees:             stats.PendingFees.String(),
		Debt:                    stats.Debt.String(),
		Price:                   stats.Price.String(),
		NAV:                     stats.NAV.String(),
		LeverageRatio:           stats.LeverageRatio.String(),
		PartialRebalancePending: stats.PartialRebalancePending,
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, levtoken.ErrNotRegistered):
		status = http.StatusNotFound
	case errors.Is(err, levtoken.ErrOracleUnavailable):
		status = http.StatusServiceUnavailable
	}
	if s.logger != nil && status == http.StatusInternalServerError {
		s.logger.Error("gateway request failed", "error", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && s.logger != nil {
		s.logger.Error("encode response", "error", err)
	}
}
