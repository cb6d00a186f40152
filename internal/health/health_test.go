package health

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func thresholds() Thresholds {
	return Thresholds{
		DailyRiskLimit:       decimal.NewFromFloat(0.05),
		KillSwitchLossLimit:  decimal.NewFromFloat(0.08),
		MaxConsecutiveLosses: 5,
	}
}

func TestMonitor_KillSwitchActivatesOnLossLimit(t *testing.T) {
	m := New(zap.NewNop(), thresholds(), nil)

	status := m.Evaluate(decimal.NewFromInt(10_000), decimal.NewFromInt(-900))
	assert.True(t, status.KillSwitchActive)
	assert.True(t, status.ShouldPause)
	assert.True(t, m.IsKillSwitchActive())
}

func TestMonitor_DailyLossTriggerWithoutKillSwitch(t *testing.T) {
	m := New(zap.NewNop(), thresholds(), nil)

	status := m.Evaluate(decimal.NewFromInt(10_000), decimal.NewFromInt(-600))
	assert.True(t, status.ShouldPause)
	assert.False(t, status.KillSwitchActive)
}

func TestMonitor_KillSwitchClearsWhenConditionLifts(t *testing.T) {
	m := New(zap.NewNop(), thresholds(), nil)
	m.Evaluate(decimal.NewFromInt(10_000), decimal.NewFromInt(-900))
	assert.True(t, m.IsKillSwitchActive())

	status := m.Evaluate(decimal.NewFromInt(10_000), decimal.NewFromInt(100))
	assert.False(t, status.KillSwitchActive)
	assert.False(t, m.IsKillSwitchActive())
}

func TestMonitor_ConsecutiveLossesTriggersPause(t *testing.T) {
	m := New(zap.NewNop(), thresholds(), nil)
	for i := 0; i < 5; i++ {
		m.RecordTradeResult(decimal.NewFromInt(-10))
	}
	status := m.Evaluate(decimal.NewFromInt(10_000), decimal.Zero)
	assert.True(t, status.ShouldPause)
	assert.Equal(t, "max_consecutive_losses", status.Reason)
}

func TestMonitor_WinResetsConsecutiveLosses(t *testing.T) {
	m := New(zap.NewNop(), thresholds(), nil)
	m.RecordTradeResult(decimal.NewFromInt(-10))
	m.RecordTradeResult(decimal.NewFromInt(-10))
	m.RecordTradeResult(decimal.NewFromInt(10))
	assert.Equal(t, 0, m.ConsecutiveLosses())
}

func TestMonitor_ConnectivityUnhealthyAfterThreeFailures(t *testing.T) {
	m := New(zap.NewNop(), thresholds(), nil)
	assert.True(t, m.ConnectivityHealthy())
	m.RecordConnectivity(false)
	m.RecordConnectivity(false)
	assert.True(t, m.ConnectivityHealthy())
	m.RecordConnectivity(false)
	assert.False(t, m.ConnectivityHealthy())

	m.RecordConnectivity(true)
	assert.True(t, m.ConnectivityHealthy())
}

func TestResourceMonitor_NeedsOptimizationThresholds(t *testing.T) {
	rm := NewResourceMonitor(zap.NewNop(), 100, 200, 10, 20, func() ResourceSample {
		return ResourceSample{HeapAllocMB: 150, NumGoroutine: 5}
	})
	needs, _ := rm.NeedsOptimization()
	assert.True(t, needs)

	skip, _ := rm.ShouldSkipCycle()
	assert.False(t, skip)
}

func TestResourceMonitor_HardCapSkipsCycle(t *testing.T) {
	rm := NewResourceMonitor(zap.NewNop(), 100, 200, 10, 20, func() ResourceSample {
		return ResourceSample{HeapAllocMB: 250, NumGoroutine: 5}
	})
	skip, _ := rm.ShouldSkipCycle()
	assert.True(t, skip)
}
