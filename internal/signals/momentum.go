package signals

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/breakout-engine/internal/takeprofit"
	"github.com/atlas-desktop/breakout-engine/pkg/types"
)

var bps = decimal.NewFromInt(10000)

// momentumSignal implements §4.5.1: a close beyond a level by epsilon,
// with elevated volume and a strong-bodied breakout candle.
func (m *Manager) momentumSignal(now time.Time, r types.ScanResult) (types.Signal, bool) {
	md := r.MarketData
	n := len(md.Candles5m)
	if n < 2 {
		return types.Signal{}, false
	}
	last := md.Candles5m[n-1]

	epsilon := decimal.NewFromFloat(m.cfg.Momentum.EpsilonBps).Div(bps)
	volMultiplier := m.cfg.Momentum.VolumeMultiplier
	if volMultiplier <= 0 {
		volMultiplier = 2.5
	}
	bodyRatioMin := m.cfg.Momentum.BodyRatioMin
	if bodyRatioMin <= 0 {
		bodyRatioMin = 0.5
	}

	recentAvgVolume := trailingAvgVolume(md.Candles5m[:n-1], 20)
	if recentAvgVolume.IsZero() {
		return types.Signal{}, false
	}
	volumeOK := last.Volume.GreaterThanOrEqual(recentAvgVolume.Mul(decimal.NewFromFloat(volMultiplier)))
	bodyOK, _ := last.BodyRatio().Float64()
	if !volumeOK || bodyOK < bodyRatioMin {
		return types.Signal{}, false
	}

	level, side, ok := brokenLevel(r.Levels, last.Close, epsilon)
	if !ok {
		return types.Signal{}, false
	}

	entry := last.Close
	stop := stopForBreakout(last, level, side)

	sig, ok := m.buildSignal(now, r, types.StrategyMomentum, side, entry, stop)
	if !ok {
		return types.Signal{}, false
	}
	if ratio, has := m.densityEatenRatio(r.Symbol, side); has && ratio >= m.cfg.Microstructure.EnterOnDensityEatRatio {
		sig.Reason += "; density zone heavily eaten in breakout direction"
	}
	return sig, true
}

// brokenLevel finds a level that close has broken beyond by at least
// epsilon (as a fraction of price), returning the breakout side.
func brokenLevel(levels []types.Level, close decimal.Decimal, epsilon decimal.Decimal) (types.Level, types.Side, bool) {
	for _, lvl := range levels {
		if close.IsZero() {
			continue
		}
		if lvl.Kind == types.LevelResistance && close.GreaterThan(lvl.Price) {
			margin := close.Sub(lvl.Price).Div(lvl.Price)
			if margin.GreaterThanOrEqual(epsilon) {
				return lvl, types.SideLong, true
			}
		}
		if lvl.Kind == types.LevelSupport && close.LessThan(lvl.Price) {
			margin := lvl.Price.Sub(close).Div(lvl.Price)
			if margin.GreaterThanOrEqual(epsilon) {
				return lvl, types.SideShort, true
			}
		}
	}
	return types.Level{}, "", false
}

// stopForBreakout places the stop on the opposite side of the breakout
// candle, or falls back to the broken level itself.
func stopForBreakout(candle types.Candle, level types.Level, side types.Side) decimal.Decimal {
	if side == types.SideLong {
		if candle.Low.LessThan(level.Price) {
			return candle.Low
		}
		return level.Price
	}
	if candle.High.GreaterThan(level.Price) {
		return candle.High
	}
	return level.Price
}

func trailingAvgVolume(candles []types.Candle, window int) decimal.Decimal {
	n := len(candles)
	if n == 0 {
		return decimal.Zero
	}
	start := n - window
	if start < 0 {
		start = 0
	}
	sum := decimal.Zero
	count := 0
	for i := start; i < n; i++ {
		sum = sum.Add(candles[i].Volume)
		count++
	}
	if count == 0 {
		return decimal.Zero
	}
	return sum.Div(decimal.NewFromInt(int64(count)))
}

// buildSignal assembles a Signal from an entry/stop pair, running the
// configured take-profit ladder through the optimizer.
func (m *Manager) buildSignal(now time.Time, r types.ScanResult, strategy types.Strategy, side types.Side, entry, stop decimal.Decimal) (types.Signal, bool) {
	if entry.IsZero() || stop.IsZero() || entry.Equal(stop) {
		return types.Signal{}, false
	}

	var zones []types.DensityZone
	if m.density != nil {
		zones = m.density.Zones(r.Symbol)
	}

	result, err := takeprofit.Optimize(m.logger, takeprofit.Request{
		Entry:        entry,
		StopLoss:     stop,
		IsLong:       side == types.SideLong,
		Levels:       m.cfg.TPLevels,
		Smart:        m.cfg.TPSmart,
		DensityZones: zones,
	})
	if err != nil {
		return types.Signal{}, false
	}

	confidence := r.Score
	if confidence > 1 {
		confidence = 1
	}

	return types.Signal{
		ID:            uuid.NewString(),
		Symbol:        r.Symbol,
		Side:          side,
		Strategy:      strategy,
		Entry:         entry,
		StopLoss:      stop,
		TakeProfits:   result.Levels,
		Confidence:    confidence,
		Reason:        string(strategy) + " breakout",
		CreatedAt:     now,
		Status:        types.SignalStatusActive,
		CorrelationID: r.CorrelationID,
		Meta:          types.SignalMeta{MarketData: r.MarketData},
	}, true
}
