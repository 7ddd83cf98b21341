package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics exposes counters and gauges for the money-market engine.
type EngineMetrics struct {
	interestAccrued  prometheus.Counter
	accrualEvents    prometheus.Counter
	mints            *prometheus.CounterVec
	redeems          *prometheus.CounterVec
	rebalances       *prometheus.CounterVec
	partialRebalance prometheus.Counter
	utilization      prometheus.Gauge
	borrowRate       prometheus.Gauge
}

var (
	engineOnce     sync.Once
	engineRegistry *EngineMetrics
)

// Engine returns the process-wide engine metrics, registering them on
// first use.
func Engine() *EngineMetrics {
	engineOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			interestAccrued: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "levmarket_interest_accrued_units_total",
				Help: "Cumulative interest accrued to pool debt, in underlying base units.",
			}),
			accrualEvents: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "levmarket_accrual_events_total",
				Help: "Count of accrual passes that applied non-zero interest.",
			}),
			mints: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "levmarket_mints_total",
				Help: "Count of leveraged-token mints by token.",
			}, []string{"token"}),
			redeems: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "levmarket_redeems_total",
				Help: "Count of leveraged-token redemptions by token.",
			}, []string{"token"}),
			rebalances: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "levmarket_rebalances_total",
				Help: "Count of executed rebalances by token and direction.",
			}, []string{"token", "direction"}),
			partialRebalance: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "levmarket_partial_rebalances_total",
				Help: "Count of rebalances clamped by the notional cap.",
			}),
			utilization: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "levmarket_pool_utilization",
				Help: "Current pool utilization as a fraction of 1.0.",
			}),
			borrowRate: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "levmarket_pool_borrow_rate_per_second",
				Help: "Current per-second borrow rate as a fraction of 1.0.",
			}),
		}
		prometheus.MustRegister(
			engineRegistry.interestAccrued,
			engineRegistry.accrualEvents,
			engineRegistry.mints,
			engineRegistry.redeems,
			engineRegistry.rebalances,
			engineRegistry.partialRebalance,
			engineRegistry.utilization,
			engineRegistry.borrowRate,
		)
	})
	return engineRegistry
}

// RecordAccrual registers an accrual pass that applied interest.
func (m *EngineMetrics) RecordAccrual(interestUnits float64) {
	if m == nil {
		return
	}
	m.accrualEvents.Inc()
	m.interestAccrued.Add(interestUnits)
}

// RecordMint registers a completed mint for the token.
func (m *EngineMetrics) RecordMint(token string) {
	if m == nil {
		return
	}
	m.mints.WithLabelValues(token).Inc()
}

// RecordRedeem registers a completed redemption for the token.
func (m *EngineMetrics) RecordRedeem(token string) {
	if m == nil {
		return
	}
	m.redeems.WithLabelValues(token).Inc()
}

// RecordRebalance registers an executed rebalance. Direction is either
// "lever" or "delever"; partial marks a notional-capped execution.
func (m *EngineMetrics) RecordRebalance(token, direction string, partial bool) {
	if m == nil {
		return
	}
	m.rebalances.WithLabelValues(token, direction).Inc()
	if partial {
		m.partialRebalance.Inc()
	}
}

// SetPoolRates publishes the current utilization and borrow rate.
func (m *EngineMetrics) SetPoolRates(utilization, borrowRatePerSecond float64) {
	if m == nil {
		return
	}
	m.utilization.Set(utilization)
	m.borrowRate.Set(borrowRatePerSecond)
}
