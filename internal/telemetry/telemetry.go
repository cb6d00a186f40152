// Package telemetry provides the engine's shared Prometheus collectors
// and the periodic structured-summary logger that mirrors the Python
// metrics_logger collaborator.
package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Metrics bundles the engine's Prometheus collectors. cmd/engine constructs
// one Metrics per engine instance; no component constructor receives it.
// PeriodicSummary updates EquityUSD and KillSwitchActive; the other
// collectors are registered but nothing in this module updates them.
type Metrics struct {
	Registry *prometheus.Registry

	ScanCycles        *prometheus.CounterVec
	SignalsGenerated  *prometheus.CounterVec
	SignalsRejected   *prometheus.CounterVec
	OrdersSubmitted   *prometheus.CounterVec
	OrdersFilled      *prometheus.CounterVec
	PositionsOpen     prometheus.Gauge
	CircuitBreakerOpen *prometheus.GaugeVec
	PhaseDuration     *prometheus.HistogramVec
	KillSwitchActive  prometheus.Gauge
	EquityUSD         prometheus.Gauge
}

// NewMetrics constructs and registers every collector against a fresh
// registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		ScanCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "breakout_engine",
			Name:      "scan_cycles_total",
			Help:      "Total scanning cycles run.",
		}, []string{"result"}),
		SignalsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "breakout_engine",
			Name:      "signals_generated_total",
			Help:      "Total signals generated, by strategy.",
		}, []string{"strategy"}),
		SignalsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "breakout_engine",
			Name:      "signals_rejected_total",
			Help:      "Total signals rejected, by reason.",
		}, []string{"reason"}),
		OrdersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "breakout_engine",
			Name:      "orders_submitted_total",
			Help:      "Total child orders submitted, by intent.",
		}, []string{"intent"}),
		OrdersFilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "breakout_engine",
			Name:      "orders_filled_total",
			Help:      "Total child orders filled, by intent.",
		}, []string{"intent"}),
		PositionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "breakout_engine",
			Name:      "positions_open",
			Help:      "Currently open positions.",
		}),
		CircuitBreakerOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "breakout_engine",
			Name:      "circuit_breaker_open",
			Help:      "1 if the named component/operation breaker is open.",
		}, []string{"component", "operation"}),
		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "breakout_engine",
			Name:      "phase_duration_seconds",
			Help:      "Duration of each engine phase handler invocation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
		KillSwitchActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "breakout_engine",
			Name:      "kill_switch_active",
			Help:      "1 if the kill switch is currently active.",
		}),
		EquityUSD: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "breakout_engine",
			Name:      "equity_usd",
			Help:      "Current account equity in USD.",
		}),
	}

	reg.MustRegister(
		m.ScanCycles, m.SignalsGenerated, m.SignalsRejected,
		m.OrdersSubmitted, m.OrdersFilled, m.PositionsOpen,
		m.CircuitBreakerOpen, m.PhaseDuration, m.KillSwitchActive, m.EquityUSD,
	)
	return m
}

// Summary is the periodic snapshot logged/gauged by PeriodicSummary,
// supplied by the orchestrator each tick.
type Summary struct {
	ScanCount     int
	SignalCount   int
	PositionCount int
	EquityUSD     float64
	KillSwitch    bool
}

// SummaryFunc produces the current Summary on demand.
type SummaryFunc func() Summary

// PeriodicSummary runs a background goroutine that logs a structured
// summary and updates the equity/kill-switch gauges every interval,
// grounded on the teacher's metricsLoop pattern and the Python
// utils/metrics_logger.py collaborator.
func PeriodicSummary(ctx context.Context, logger *zap.Logger, metrics *Metrics, interval time.Duration, fn SummaryFunc) {
	log := logger.Named("telemetry")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("periodic summary stopped")
			return
		case <-ticker.C:
			s := fn()
			metrics.EquityUSD.Set(s.EquityUSD)
			if s.KillSwitch {
				metrics.KillSwitchActive.Set(1)
			} else {
				metrics.KillSwitchActive.Set(0)
			}
			log.Info("periodic summary",
				zap.Int("scans", s.ScanCount),
				zap.Int("signals", s.SignalCount),
				zap.Int("positions", s.PositionCount),
				zap.Float64("equity_usd", s.EquityUSD),
				zap.Bool("kill_switch", s.KillSwitch),
			)
		}
	}
}
