package scanning

import (
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/breakout-engine/pkg/types"
)

// FilterConfig holds the scanner's pass/fail thresholds (mirrors
// config.ScannerConfig, decoupled from the preset package).
type FilterConfig struct {
	Min24hVolume    decimal.Decimal
	MinOI           decimal.Decimal
	MaxSpreadPct    float64
	MinDepth03Pct   decimal.Decimal
	MinDepth05Pct   decimal.Decimal
	MinTradesPerMin float64
	ATRMinPct       float64
	ATRMaxPct       float64
	VolumeSurge1h   float64
	VolumeSurge5m   float64
}

// runFilters evaluates every §4.4 filter against md and returns the
// per-filter pass/fail map; allPass derives the overall verdict from it.
func runFilters(cfg FilterConfig, md types.MarketData, volumeSurge1h, volumeSurge5m float64) map[string]bool {
	atrPct := 0.0
	if md.Price.IsPositive() {
		atrPct, _ = md.ATR5m.Div(md.Price).Mul(decimal.NewFromInt(100)).Float64()
	}

	results := map[string]bool{
		"min_24h_volume":    md.Volume24hUSD.GreaterThanOrEqual(cfg.Min24hVolume),
		"min_oi":            md.OpenInterestUSD.GreaterThanOrEqual(cfg.MinOI),
		"max_spread":        md.L2Depth.SpreadBps.Div(decimal.NewFromInt(100)).LessThanOrEqual(decimal.NewFromFloat(cfg.MaxSpreadPct)),
		"min_depth_0_3pct":  md.L2Depth.BidUSDAt03Pct.GreaterThanOrEqual(cfg.MinDepth03Pct) && md.L2Depth.AskUSDAt03Pct.GreaterThanOrEqual(cfg.MinDepth03Pct),
		"min_depth_0_5pct":  md.L2Depth.BidUSDAt05Pct.GreaterThanOrEqual(cfg.MinDepth05Pct) && md.L2Depth.AskUSDAt05Pct.GreaterThanOrEqual(cfg.MinDepth05Pct),
		"min_trades_per_min": md.TradesPerMinute >= cfg.MinTradesPerMin,
		"atr_range":          atrPct >= cfg.ATRMinPct && atrPct <= cfg.ATRMaxPct,
		"volume_surge_1h":    volumeSurge1h >= cfg.VolumeSurge1h,
		"volume_surge_5m":    volumeSurge5m >= cfg.VolumeSurge5m,
	}
	return results
}

func allPass(results map[string]bool) bool {
	for _, ok := range results {
		if !ok {
			return false
		}
	}
	return true
}

// MarketQualityConfig holds the flat-market pre-filter thresholds
// (supplemented feature, grounded on
// original_source/breakout_bot/strategy/market_quality_filter.py).
type MarketQualityConfig struct {
	MinATRPct        float64
	MinPriceRangePct float64
	MinNoiseRatio    float64
}

// MarketQualityResult carries the pre-filter's pass/fail plus its three
// diagnostic ratios.
type MarketQualityResult struct {
	Pass          bool
	ATRPct        float64
	PriceRangePct float64
	NoiseRatio    float64
}

// MarketQualityFilter rejects symbols whose recent candle history shows
// insufficient volatility or directional noise to be worth scanning,
// ahead of the weighted scorer.
func MarketQualityFilter(cfg MarketQualityConfig, md types.MarketData) MarketQualityResult {
	if len(md.Candles5m) == 0 || md.Price.IsZero() {
		return MarketQualityResult{Pass: false}
	}

	atrPct, _ := md.ATR5m.Div(md.Price).Mul(decimal.NewFromInt(100)).Float64()

	high, low := md.Candles5m[0].High, md.Candles5m[0].Low
	var bodySum, rangeSum decimal.Decimal
	for _, c := range md.Candles5m {
		if c.High.GreaterThan(high) {
			high = c.High
		}
		if c.Low.LessThan(low) {
			low = c.Low
		}
		bodySum = bodySum.Add(c.Body())
		rangeSum = rangeSum.Add(c.Range())
	}

	priceRangePct := 0.0
	if md.Price.IsPositive() {
		priceRangePct, _ = high.Sub(low).Div(md.Price).Mul(decimal.NewFromInt(100)).Float64()
	}

	noiseRatio := 0.0
	if rangeSum.IsPositive() {
		noiseRatio, _ = bodySum.Div(rangeSum).Float64()
	}

	result := MarketQualityResult{
		ATRPct:        atrPct,
		PriceRangePct: priceRangePct,
		NoiseRatio:    noiseRatio,
	}
	result.Pass = atrPct >= cfg.MinATRPct && priceRangePct >= cfg.MinPriceRangePct && noiseRatio >= cfg.MinNoiseRatio
	return result
}
