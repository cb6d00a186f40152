// Package health implements the kill-switch / health monitor (C11):
// daily-loss, kill-switch-loss, consecutive-loss, and connectivity gates,
// any of which may move the engine toward paused (the loss gates) or, via
// the orchestrator, error (connectivity).
package health

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/breakout-engine/internal/notify"
)

// Thresholds configures the kill-switch gates (mirrors config.RiskConfig
// fields this component consumes; kept decoupled from internal/config so
// this package has no dependency on the preset loader).
type Thresholds struct {
	DailyRiskLimit       decimal.Decimal
	KillSwitchLossLimit  decimal.Decimal
	MaxConsecutiveLosses int
}

// Status is the outcome of one health/kill-switch evaluation.
type Status struct {
	Healthy           bool
	KillSwitchActive  bool
	ShouldPause       bool
	ShouldGoEmergency bool
	Reason            string
}

// Monitor evaluates the kill-switch gates each cycle and tracks
// connectivity health across repeated balance-fetch failures.
type Monitor struct {
	mu sync.Mutex

	thresholds Thresholds
	sink       notify.Sink
	logger     *zap.Logger

	killSwitchActive     bool
	consecutiveLosses    int
	connectivityFailures int
	connectivityHealthy  bool
}

// New builds a Monitor.
func New(logger *zap.Logger, thresholds Thresholds, sink notify.Sink) *Monitor {
	return &Monitor{
		thresholds:          thresholds,
		sink:                sink,
		logger:               logger.Named("health"),
		connectivityHealthy: true,
	}
}

// Evaluate runs the per-cycle kill-switch checks (§4.11). equityBase is
// the equity the daily limits are measured against; dailyPnL is the
// signed P&L accrued so far today.
func (m *Monitor) Evaluate(equityBase, dailyPnL decimal.Decimal) Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := Status{Healthy: true}

	dailyLossTrigger := dailyPnL.LessThanOrEqual(equityBase.Neg().Mul(m.thresholds.DailyRiskLimit))
	killSwitchTrigger := dailyPnL.LessThanOrEqual(equityBase.Neg().Mul(m.thresholds.KillSwitchLossLimit))
	consecutiveLossTrigger := m.thresholds.MaxConsecutiveLosses > 0 && m.consecutiveLosses >= m.thresholds.MaxConsecutiveLosses

	switch {
	case killSwitchTrigger:
		if !m.killSwitchActive {
			m.killSwitchActive = true
			m.notifyKillSwitch("kill_switch_loss_limit")
		}
		status.Healthy = false
		status.KillSwitchActive = true
		status.ShouldPause = true
		status.Reason = "kill_switch_loss_limit"
	case dailyLossTrigger:
		status.Healthy = false
		status.ShouldPause = true
		status.Reason = "daily_risk_limit"
		status.KillSwitchActive = m.killSwitchActive
	case consecutiveLossTrigger:
		status.Healthy = false
		status.ShouldPause = true
		status.Reason = "max_consecutive_losses"
		status.KillSwitchActive = m.killSwitchActive
	default:
		// Clear a previously-active kill switch once its condition no
		// longer holds (§4.11: "clears automatically").
		if m.killSwitchActive {
			m.killSwitchActive = false
			m.logger.Info("kill switch cleared")
		}
		status.KillSwitchActive = false
	}

	if !m.connectivityHealthy {
		status.Healthy = false
		status.ShouldGoEmergency = false
		if status.Reason == "" {
			status.Reason = "connectivity"
		}
	}

	return status
}

func (m *Monitor) notifyKillSwitch(reason string) {
	m.logger.Warn("kill switch activated", zap.String("reason", reason))
	if m.sink != nil {
		_ = m.sink.Notify(notify.Event{
			Type:        notify.EventKillSwitch,
			TimestampMs: notify.NowMs(),
			Payload:     map[string]any{"reason": reason},
		})
	}
}

// IsKillSwitchActive reports the current kill-switch flag.
func (m *Monitor) IsKillSwitchActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.killSwitchActive
}

// RecordTradeResult updates the consecutive-loss counter: a losing trade
// increments it, a winning trade resets it to zero.
func (m *Monitor) RecordTradeResult(pnlUSD decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pnlUSD.IsNegative() {
		m.consecutiveLosses++
	} else {
		m.consecutiveLosses = 0
	}
}

// RecordConnectivity reports the outcome of a balance-fetch attempt; three
// consecutive failures flips connectivity unhealthy.
func (m *Monitor) RecordConnectivity(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ok {
		m.connectivityFailures = 0
		m.connectivityHealthy = true
		return
	}
	m.connectivityFailures++
	if m.connectivityFailures >= 3 {
		m.connectivityHealthy = false
	}
}

// ConnectivityHealthy reports whether connectivity is currently healthy.
func (m *Monitor) ConnectivityHealthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectivityHealthy
}

// ConsecutiveLosses returns the current consecutive-loss streak.
func (m *Monitor) ConsecutiveLosses() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consecutiveLosses
}

// ResourceSample is one reading of the process's resource footprint,
// sampled from runtime.MemStats/runtime.NumGoroutine instead of the
// Python original's psutil-based CPU/mem/thread/fd sampling (supplemented
// feature #3, original_source engine.py's _check_resources).
type ResourceSample struct {
	HeapAllocMB float64
	NumGoroutine int
	GCPauseTotalMS float64
}

// ResourceMonitor samples the Go runtime's resource footprint on an
// interval and decides whether an optimization pass or a hard cycle-skip
// is warranted.
type ResourceMonitor struct {
	logger *zap.Logger

	heapWarnMB        float64
	goroutineWarnCount int
	heapCriticalMB    float64
	goroutineCriticalCount int

	sampleFn func() ResourceSample
}

// NewResourceMonitor builds a ResourceMonitor. Zero thresholds fall back
// to generous defaults suitable for a single-process trading engine; a nil
// sampleFn falls back to SampleRuntime.
func NewResourceMonitor(logger *zap.Logger, heapWarnMB, heapCriticalMB float64, goroutineWarn, goroutineCritical int, sampleFn func() ResourceSample) *ResourceMonitor {
	if heapWarnMB <= 0 {
		heapWarnMB = 512
	}
	if heapCriticalMB <= 0 {
		heapCriticalMB = 1024
	}
	if goroutineWarn <= 0 {
		goroutineWarn = 2000
	}
	if goroutineCritical <= 0 {
		goroutineCritical = 5000
	}
	if sampleFn == nil {
		sampleFn = SampleRuntime
	}
	return &ResourceMonitor{
		logger:                 logger.Named("health.resource"),
		heapWarnMB:              heapWarnMB,
		goroutineWarnCount:      goroutineWarn,
		heapCriticalMB:          heapCriticalMB,
		goroutineCriticalCount:  goroutineCritical,
		sampleFn:                sampleFn,
	}
}

// NeedsOptimization reports whether the current sample crosses the
// "run an optimization pass" threshold (§5 "If CPU > 80% or memory > 85%
// or threads > 50" — memory/goroutine analogues here).
func (r *ResourceMonitor) NeedsOptimization() (bool, ResourceSample) {
	s := r.sampleFn()
	return s.HeapAllocMB > r.heapWarnMB || s.NumGoroutine > r.goroutineWarnCount, s
}

// ShouldSkipCycle reports whether the hard safety cap is breached and the
// orchestrator should skip the cycle entirely (§5 "Hard safety cap").
func (r *ResourceMonitor) ShouldSkipCycle() (bool, ResourceSample) {
	s := r.sampleFn()
	skip := s.HeapAllocMB > r.heapCriticalMB || s.NumGoroutine > r.goroutineCriticalCount
	if skip {
		r.logger.Warn("resource hard cap breached, skipping cycle",
			zap.Float64("heap_mb", s.HeapAllocMB), zap.Int("goroutines", s.NumGoroutine))
	}
	return skip, s
}

// Run samples on interval until ctx is cancelled, invoking onOptimize
// whenever NeedsOptimization is true. Intended to run as the single
// background resource-monitor task named in §5.
func (r *ResourceMonitor) Run(ctx context.Context, interval time.Duration, onOptimize func(ResourceSample)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ok, s := r.NeedsOptimization(); ok {
				r.logger.Info("resource optimization pass triggered",
					zap.Float64("heap_mb", s.HeapAllocMB), zap.Int("goroutines", s.NumGoroutine))
				onOptimize(s)
			}
		}
	}
}

// SampleRuntime is the default sampleFn, reading runtime.MemStats and
// runtime.NumGoroutine directly.
func SampleRuntime() ResourceSample {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return ResourceSample{
		HeapAllocMB:    float64(m.HeapAlloc) / (1024 * 1024),
		NumGoroutine:   runtime.NumGoroutine(),
		GCPauseTotalMS: float64(m.PauseTotalNs) / 1e6,
	}
}
