package signals

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/breakout-engine/pkg/types"
)

// retestSignal implements §4.5.2: after a breakout candle, price pierces
// back into the level by no more than retest_max_pierce_atr and then
// closes back beyond it within retest_pierce_tolerance.
func (m *Manager) retestSignal(now time.Time, r types.ScanResult) (types.Signal, bool) {
	md := r.MarketData
	n := len(md.Candles5m)
	if n < 3 {
		return types.Signal{}, false
	}
	breakout, retest := md.Candles5m[n-2], md.Candles5m[n-1]

	maxPierceATR := m.cfg.Retest.MaxPierceATR
	if maxPierceATR <= 0 {
		maxPierceATR = 0.25
	}
	pierceTolerance := decimal.NewFromFloat(m.cfg.Retest.PierceToleranceBps).Div(bps)
	maxPierce := md.ATR5m.Mul(decimal.NewFromFloat(maxPierceATR))

	for _, lvl := range r.Levels {
		if lvl.Kind == types.LevelResistance && breakout.Close.GreaterThan(lvl.Price) {
			pierce := lvl.Price.Sub(retest.Low)
			if pierce.IsNegative() || pierce.GreaterThan(maxPierce) {
				continue
			}
			tolerance := lvl.Price.Mul(pierceTolerance)
			if !retest.Close.GreaterThanOrEqual(lvl.Price.Sub(tolerance)) {
				continue
			}
			sig, ok := m.buildSignal(now, r, types.StrategyRetest, types.SideLong, retest.Close, retest.Low)
			if ok {
				return sig, true
			}
		}
		if lvl.Kind == types.LevelSupport && breakout.Close.LessThan(lvl.Price) {
			pierce := retest.High.Sub(lvl.Price)
			if pierce.IsNegative() || pierce.GreaterThan(maxPierce) {
				continue
			}
			tolerance := lvl.Price.Mul(pierceTolerance)
			if !retest.Close.LessThanOrEqual(lvl.Price.Add(tolerance)) {
				continue
			}
			sig, ok := m.buildSignal(now, r, types.StrategyRetest, types.SideShort, retest.Close, retest.High)
			if ok {
				return sig, true
			}
		}
	}
	return types.Signal{}, false
}
