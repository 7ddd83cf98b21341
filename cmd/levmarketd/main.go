package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gethcommon "github.com/ethereum/go-ethereum/common"

	"levmarket/config"
	"levmarket/gateway"
	"levmarket/native/lending"
	"levmarket/native/levtoken"
	"levmarket/observability/logging"
	"levmarket/state"
	"levmarket/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	underlyingFlag := flag.String("underlying", "", "Hex address of the pool's underlying asset")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup("levmarketd", cfg.LogPath)

	underlying, err := resolveUnderlying(*underlyingFlag)
	if err != nil {
		logger.Error("Failed to resolve underlying asset", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	model, err := cfg.Pool.InterestModel()
	if err != nil {
		logger.Error("Failed to build interest model", slog.Any("error", err))
		os.Exit(1)
	}
	performanceFee, err := cfg.Pool.PerformanceFeeWad()
	if err != nil {
		logger.Error("Failed to parse performance fee", slog.Any("error", err))
		os.Exit(1)
	}

	store := state.NewManager(db).Store()

	pool := lending.NewPool()
	pool.SetState(store)
	pool.SetPauses(cfg.Pauses)
	pool.SetInterestModel(model)
	pool.SetPerformanceFee(performanceFee)
	pool.SetLogger(logger.With("component", "lending"))

	supply := levtoken.NewLedgerSupply()
	engine := levtoken.NewEngine(underlying, pool, supply)
	engine.SetState(store)
	engine.SetPauses(cfg.Pauses)
	engine.SetRebalancePolicy(cfg.Rebalance.CooldownSeconds, cfg.Rebalance.BypassCooldownForPartial)
	engine.SetLogger(logger.With("component", "levtoken"))

	now := uint64(time.Now().Unix())
	pool.SetTimestamp(now)
	engine.SetTimestamp(now)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go runRebalancer(ctx, cfg.Rebalance.IntervalSeconds, pool, engine, logger)

	server := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           gateway.NewServer(pool, engine, cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, logger).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("gateway listening", "address", cfg.RPCAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("gateway terminated", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("gateway shutdown failed", slog.Any("error", err))
	}
}

// runRebalancer drives clock updates and the periodic rebalance sweep. It
// is the only goroutine that advances engine time, so the engines never
// see concurrent timestamp writes.
func runRebalancer(ctx context.Context, intervalSeconds uint64, pool *lending.Pool, engine *levtoken.Engine, logger *slog.Logger) {
	if intervalSeconds == 0 {
		intervalSeconds = 60
	}
	ticker := time.NewTicker(time.Duration(intervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := uint64(time.Now().Unix())
		pool.SetTimestamp(now)
		engine.SetTimestamp(now)

		if err := pool.AccrueInterest(); err != nil {
			logger.Error("interest accrual failed", slog.Any("error", err))
			continue
		}
		tokens, err := engine.Tokens()
		if err != nil {
			logger.Error("token sweep failed", slog.Any("error", err))
			continue
		}
		for _, token := range tokens {
			executed, err := engine.PeriodicRebalance(token)
			if err != nil {
				logger.Error("periodic rebalance failed",
					"token", token.Hex(), slog.Any("error", err))
				continue
			}
			if executed {
				logger.Info("periodic rebalance executed", "token", token.Hex())
			}
		}
	}
}

func resolveUnderlying(raw string) (gethcommon.Address, error) {
	if raw == "" {
		return gethcommon.Address{}, errors.New("missing -underlying flag")
	}
	if !gethcommon.IsHexAddress(raw) {
		return gethcommon.Address{}, fmt.Errorf("invalid underlying address %q", raw)
	}
	return gethcommon.HexToAddress(raw), nil
}
