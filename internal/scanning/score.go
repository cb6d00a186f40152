package scanning

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/breakout-engine/pkg/types"
)

var hundred = decimal.NewFromInt(100)

// score computes the four normalized [0,1] components the weighted
// scorer aggregates (§4.4 "Scoring").
func score(w Weights, md types.MarketData, volSurge1h, btcCorr float64) map[string]float64 {
	liquidity := normalizeLog(mustFloat(md.Volume24hUSD), 1_000, 1_000_000_000)
	volatility := normalizeRange(atrPctOf(md), 0.05, 10)
	momentum := normalizeRange(volSurge1h, 1.0, 5.0)
	volume := normalizeLog(mustFloat(md.OpenInterestUSD), 1_000, 1_000_000_000)

	_ = btcCorr // reserved for a future correlation-aware component
	return map[string]float64{
		"liquidity":  liquidity,
		"volatility": volatility,
		"momentum":   momentum,
		"volume":     volume,
	}
}

func mustFloat(d interface{ Float64() (float64, bool) }) float64 {
	v, _ := d.Float64()
	return v
}

func atrPctOf(md types.MarketData) float64 {
	if !md.Price.IsPositive() {
		return 0
	}
	pct, _ := md.ATR5m.Div(md.Price).Mul(hundred).Float64()
	return pct
}

// normalizeLog maps a value on a log scale between lo and hi to [0,1].
func normalizeLog(v, lo, hi float64) float64 {
	if v <= lo {
		return 0
	}
	if v >= hi {
		return 1
	}
	return (math.Log(v) - math.Log(lo)) / (math.Log(hi) - math.Log(lo))
}

// normalizeRange maps v linearly onto [0,1] within [lo, hi], clamped.
func normalizeRange(v, lo, hi float64) float64 {
	if hi <= lo {
		return 0
	}
	n := (v - lo) / (hi - lo)
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}
