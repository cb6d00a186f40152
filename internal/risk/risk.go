// Package risk implements the Risk/Sizing Gate (C6): per-signal approval
// against equity, open exposure, correlation, and per-trade risk, and
// computation of the resulting PositionSize.
package risk

import (
	"math"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/breakout-engine/pkg/types"
)

// OpenPosition is the minimal view of an existing exposure the gate needs
// to evaluate concurrency and correlation limits.
type OpenPosition struct {
	Symbol         string
	BTCCorrelation float64
	NotionalUSD    decimal.Decimal
}

// Config holds the gate's tunables (mirrors config.RiskConfig, kept
// decoupled from internal/config so this package has no dependency on
// the preset loader).
type Config struct {
	MaxConcurrentPositions int
	CorrelationLimit       float64
	PerTradeRiskR          decimal.Decimal
	QtyStep                decimal.Decimal // exchange quantity step for rounding; zero disables rounding
}

// KillSwitchChecker reports whether the kill switch is currently active.
type KillSwitchChecker interface {
	IsKillSwitchActive() bool
}

// Decision is the gate's verdict for one signal.
type Decision struct {
	Approved bool
	Size     types.PositionSize
}

// Gate evaluates signals against the configured risk limits.
type Gate struct {
	cfg        Config
	killSwitch KillSwitchChecker
	logger     *zap.Logger
}

// New builds a Gate.
func New(logger *zap.Logger, cfg Config, killSwitch KillSwitchChecker) *Gate {
	return &Gate{cfg: cfg, killSwitch: killSwitch, logger: logger.Named("risk")}
}

// Evaluate applies §4.6's steps in order and returns the Decision.
// remainingEquity is the equity available after any previously-sized
// signals in this same phase have been deducted (§4.6 "run them
// sequentially").
func (g *Gate) Evaluate(signal types.Signal, equity decimal.Decimal, remainingEquity decimal.Decimal, open []OpenPosition, marketData types.MarketData) Decision {
	if g.killSwitch != nil && g.killSwitch.IsKillSwitchActive() {
		return reject("kill_switch_active")
	}

	if g.cfg.MaxConcurrentPositions > 0 && len(open) >= g.cfg.MaxConcurrentPositions {
		return reject("max_concurrent_positions")
	}

	// Two positions both strongly correlated to BTC are, transitively,
	// correlated to each other; reject stacking such exposure beyond the
	// configured limit (no per-pair correlation collaborator is named in
	// the external interfaces, so BTC correlation is the proxy used).
	if g.cfg.CorrelationLimit > 0 && math.Abs(marketData.BTCCorrelation) > g.cfg.CorrelationLimit {
		for _, p := range open {
			if p.Symbol == signal.Symbol {
				continue
			}
			if math.Abs(p.BTCCorrelation) > g.cfg.CorrelationLimit {
				return reject("correlation_limit")
			}
		}
	}

	stopDistance := signal.Entry.Sub(signal.StopLoss).Abs()
	if stopDistance.LessThanOrEqual(decimal.Zero) {
		return reject("zero_stop_distance")
	}

	riskUSD := equity.Mul(g.cfg.PerTradeRiskR)
	quantity := riskUSD.Div(stopDistance)
	quantity = g.roundDown(quantity)
	if quantity.LessThanOrEqual(decimal.Zero) {
		return reject("zero_quantity_after_rounding")
	}

	notional := quantity.Mul(signal.Entry)
	if notional.GreaterThan(remainingEquity) {
		return reject("insufficient_equity")
	}

	riskR := decimal.Zero
	if equity.GreaterThan(decimal.Zero) {
		riskR = riskUSD.Div(equity)
	}

	size := types.PositionSize{
		Quantity:     quantity,
		NotionalUSD:  notional,
		RiskUSD:      riskUSD,
		RiskR:        riskR,
		StopDistance: stopDistance,
		IsValid:      true,
	}
	return Decision{Approved: true, Size: size}
}

func (g *Gate) roundDown(qty decimal.Decimal) decimal.Decimal {
	if g.cfg.QtyStep.IsZero() {
		return qty
	}
	steps := qty.Div(g.cfg.QtyStep).Floor()
	return steps.Mul(g.cfg.QtyStep)
}

func reject(reason string) Decision {
	return Decision{
		Approved: false,
		Size:     types.PositionSize{IsValid: false, Reason: reason},
	}
}
