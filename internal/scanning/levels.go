package scanning

import (
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/breakout-engine/pkg/types"
)

// swingPoint is one local high or low found while scanning candles.
type swingPoint struct {
	price decimal.Decimal
	kind  types.LevelKind
	tsMs  int64
}

// BuildLevels constructs support/resistance levels from the trailing
// LookbackCandles candles: find swing highs/lows, cluster touches within
// TouchThresholdATR*ATR, and keep clusters with >= MinTouches (§4.4
// "Level construction").
func BuildLevels(cfg LevelConfig, candles []types.Candle) []types.Level {
	if len(candles) < 3 {
		return nil
	}

	lookback := cfg.LookbackCandles
	if lookback <= 0 || lookback > len(candles) {
		lookback = len(candles)
	}
	window := candles[len(candles)-lookback:]

	atr := averageRange(window)
	if atr.IsZero() {
		return nil
	}

	swings := findSwings(window)
	if len(swings) == 0 {
		return nil
	}

	touchThreshold := atr.Mul(decimal.NewFromFloat(cfg.TouchThresholdATR))
	clusters := clusterSwings(swings, touchThreshold)

	minTouches := cfg.MinTouches
	if minTouches <= 0 {
		minTouches = 2
	}

	levels := make([]types.Level, 0, len(clusters))
	for _, c := range clusters {
		if len(c.points) < minTouches {
			continue
		}
		levels = append(levels, buildLevel(c, window))
	}
	return mergeLevels(levels, atr.Mul(decimal.NewFromFloat(cfg.MergeThresholdATR)))
}

func averageRange(candles []types.Candle) decimal.Decimal {
	if len(candles) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, c := range candles {
		sum = sum.Add(c.Range())
	}
	return sum.Div(decimal.NewFromInt(int64(len(candles))))
}

// findSwings flags a candle as a swing high/low when its high/low is the
// local extreme among its immediate neighbors.
func findSwings(candles []types.Candle) []swingPoint {
	var swings []swingPoint
	for i := 1; i < len(candles)-1; i++ {
		prev, cur, next := candles[i-1], candles[i], candles[i+1]
		if cur.High.GreaterThanOrEqual(prev.High) && cur.High.GreaterThanOrEqual(next.High) {
			swings = append(swings, swingPoint{price: cur.High, kind: types.LevelResistance, tsMs: cur.TimestampMs})
		}
		if cur.Low.LessThanOrEqual(prev.Low) && cur.Low.LessThanOrEqual(next.Low) {
			swings = append(swings, swingPoint{price: cur.Low, kind: types.LevelSupport, tsMs: cur.TimestampMs})
		}
	}
	return swings
}

type cluster struct {
	points []swingPoint
	kind   types.LevelKind
}

// clusterSwings greedily groups same-kind swings whose price lies within
// threshold of the cluster's running mean.
func clusterSwings(swings []swingPoint, threshold decimal.Decimal) []cluster {
	var clusters []cluster
	for _, sp := range swings {
		placed := false
		for i := range clusters {
			if clusters[i].kind != sp.kind {
				continue
			}
			mean := clusterMean(clusters[i])
			if sp.price.Sub(mean).Abs().LessThanOrEqual(threshold) {
				clusters[i].points = append(clusters[i].points, sp)
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, cluster{points: []swingPoint{sp}, kind: sp.kind})
		}
	}
	return clusters
}

func clusterMean(c cluster) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range c.points {
		sum = sum.Add(p.price)
	}
	return sum.Div(decimal.NewFromInt(int64(len(c.points))))
}

func buildLevel(c cluster, window []types.Candle) types.Level {
	price := clusterMean(c)
	first, last := c.points[0].tsMs, c.points[0].tsMs
	for _, p := range c.points {
		if p.tsMs < first {
			first = p.tsMs
		}
		if p.tsMs > last {
			last = p.tsMs
		}
	}

	baseHeight := baseHeightFor(c.kind, price, window)
	recency := recencyFactor(last, window)
	touchFactor := touchFactorFor(len(c.points))
	heightFactor := heightFactorFor(baseHeight, window)

	strength := clamp01(0.4*touchFactor + 0.35*recency + 0.25*heightFactor)

	return types.Level{
		Price:        price,
		Kind:         c.kind,
		TouchCount:   len(c.points),
		Strength:     strength,
		FirstTouchMs: first,
		LastTouchMs:  last,
		BaseHeight:   baseHeight,
	}
}

func baseHeightFor(kind types.LevelKind, price decimal.Decimal, window []types.Candle) decimal.Decimal {
	if len(window) == 0 {
		return decimal.Zero
	}
	opposite := window[0].Close
	for _, c := range window {
		if kind == types.LevelResistance {
			if c.Low.LessThan(opposite) {
				opposite = c.Low
			}
		} else {
			if c.High.GreaterThan(opposite) {
				opposite = c.High
			}
		}
	}
	return price.Sub(opposite).Abs()
}

func recencyFactor(lastTouchMs int64, window []types.Candle) float64 {
	if len(window) == 0 {
		return 0
	}
	span := window[len(window)-1].TimestampMs - window[0].TimestampMs
	if span <= 0 {
		return 1
	}
	age := window[len(window)-1].TimestampMs - lastTouchMs
	f := 1 - float64(age)/float64(span)
	return clamp01(f)
}

func touchFactorFor(touches int) float64 {
	f := float64(touches-2) / 4.0
	return clamp01(f + 0.3)
}

func heightFactorFor(baseHeight decimal.Decimal, window []types.Candle) float64 {
	avg := averageRange(window)
	if avg.IsZero() {
		return 0
	}
	ratio, _ := baseHeight.Div(avg).Float64()
	return clamp01(ratio / 5)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// mergeLevels folds together levels of the same kind whose prices sit
// within mergeThreshold of each other, keeping the stronger one.
func mergeLevels(levels []types.Level, mergeThreshold decimal.Decimal) []types.Level {
	if mergeThreshold.IsZero() {
		return levels
	}
	merged := make([]types.Level, 0, len(levels))
	used := make([]bool, len(levels))
	for i := range levels {
		if used[i] {
			continue
		}
		best := levels[i]
		for j := i + 1; j < len(levels); j++ {
			if used[j] || levels[j].Kind != best.Kind {
				continue
			}
			if levels[j].Price.Sub(best.Price).Abs().LessThanOrEqual(mergeThreshold) {
				used[j] = true
				if levels[j].Strength > best.Strength {
					best = levels[j]
				}
			}
		}
		merged = append(merged, best)
	}
	return merged
}
