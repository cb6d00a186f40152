package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/atlas-desktop/breakout-engine/pkg/types"
)

type alwaysOff struct{}

func (alwaysOff) IsKillSwitchActive() bool { return false }

type alwaysOn struct{}

func (alwaysOn) IsKillSwitchActive() bool { return true }

func baseSignal() types.Signal {
	return types.Signal{
		Symbol:   "BTCUSDT",
		Side:     types.SideLong,
		Entry:    decimal.NewFromInt(50_000),
		StopLoss: decimal.NewFromInt(49_000),
	}
}

func TestGate_ApprovesValidSignal(t *testing.T) {
	g := New(zap.NewNop(), Config{MaxConcurrentPositions: 5, PerTradeRiskR: decimal.NewFromFloat(0.01)}, alwaysOff{})

	equity := decimal.NewFromInt(100_000)
	decision := g.Evaluate(baseSignal(), equity, equity, nil, types.MarketData{})

	assert.True(t, decision.Approved)
	// risk_usd = 100_000 * 0.01 = 1000; stop_distance = 1000; quantity = 1
	assert.True(t, decision.Size.Quantity.Equal(decimal.NewFromInt(1)))
	assert.True(t, decision.Size.RiskUSD.Equal(decimal.NewFromInt(1000)))
}

func TestGate_RejectsWhenKillSwitchActive(t *testing.T) {
	g := New(zap.NewNop(), Config{PerTradeRiskR: decimal.NewFromFloat(0.01)}, alwaysOn{})
	decision := g.Evaluate(baseSignal(), decimal.NewFromInt(100_000), decimal.NewFromInt(100_000), nil, types.MarketData{})
	assert.False(t, decision.Approved)
	assert.Equal(t, "kill_switch_active", decision.Size.Reason)
}

func TestGate_RejectsAtMaxConcurrentPositions(t *testing.T) {
	g := New(zap.NewNop(), Config{MaxConcurrentPositions: 1, PerTradeRiskR: decimal.NewFromFloat(0.01)}, alwaysOff{})
	open := []OpenPosition{{Symbol: "ETHUSDT"}}
	decision := g.Evaluate(baseSignal(), decimal.NewFromInt(100_000), decimal.NewFromInt(100_000), open, types.MarketData{})
	assert.False(t, decision.Approved)
	assert.Equal(t, "max_concurrent_positions", decision.Size.Reason)
}

func TestGate_RejectsZeroStopDistance(t *testing.T) {
	g := New(zap.NewNop(), Config{PerTradeRiskR: decimal.NewFromFloat(0.01)}, alwaysOff{})
	sig := baseSignal()
	sig.StopLoss = sig.Entry
	decision := g.Evaluate(sig, decimal.NewFromInt(100_000), decimal.NewFromInt(100_000), nil, types.MarketData{})
	assert.False(t, decision.Approved)
	assert.Equal(t, "zero_stop_distance", decision.Size.Reason)
}

func TestGate_RejectsInsufficientRemainingEquity(t *testing.T) {
	g := New(zap.NewNop(), Config{PerTradeRiskR: decimal.NewFromFloat(0.01)}, alwaysOff{})
	decision := g.Evaluate(baseSignal(), decimal.NewFromInt(100_000), decimal.NewFromInt(10), nil, types.MarketData{})
	assert.False(t, decision.Approved)
	assert.Equal(t, "insufficient_equity", decision.Size.Reason)
}

func TestGate_RejectsCorrelationStacking(t *testing.T) {
	g := New(zap.NewNop(), Config{MaxConcurrentPositions: 5, CorrelationLimit: 0.7, PerTradeRiskR: decimal.NewFromFloat(0.01)}, alwaysOff{})
	open := []OpenPosition{{Symbol: "ETHUSDT", BTCCorrelation: 0.9}}
	md := types.MarketData{BTCCorrelation: 0.85}
	decision := g.Evaluate(baseSignal(), decimal.NewFromInt(100_000), decimal.NewFromInt(100_000), open, md)
	assert.False(t, decision.Approved)
	assert.Equal(t, "correlation_limit", decision.Size.Reason)
}

func TestGate_IdempotentOnUnchangedInputs(t *testing.T) {
	g := New(zap.NewNop(), Config{MaxConcurrentPositions: 5, PerTradeRiskR: decimal.NewFromFloat(0.01)}, alwaysOff{})
	equity := decimal.NewFromInt(100_000)

	first := g.Evaluate(baseSignal(), equity, equity, nil, types.MarketData{})
	second := g.Evaluate(baseSignal(), equity, equity, nil, types.MarketData{})

	assert.Equal(t, first.Size, second.Size)
}
