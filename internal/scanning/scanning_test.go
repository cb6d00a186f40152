package scanning

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/breakout-engine/pkg/types"
)

func goodMarketData(symbol string) types.MarketData {
	candles := make([]types.Candle, 0, 120)
	price := decimal.NewFromInt(100)
	now := time.Now().Add(-120 * 5 * time.Minute)
	for i := 0; i < 120; i++ {
		open := price
		close := price.Add(decimal.NewFromFloat(0.3))
		if i%10 == 0 {
			close = price.Sub(decimal.NewFromFloat(0.5))
		}
		high := decimal.Max(open, close).Add(decimal.NewFromFloat(0.2))
		low := decimal.Min(open, close).Sub(decimal.NewFromFloat(0.2))
		vol := decimal.NewFromInt(1000)
		if i == 119 {
			vol = decimal.NewFromInt(4000)
		}
		candles = append(candles, types.Candle{
			TimestampMs: now.Add(time.Duration(i) * 5 * time.Minute).UnixMilli(),
			Open: open, High: high, Low: low, Close: close, Volume: vol,
		})
		price = close
	}
	return types.MarketData{
		Symbol:          symbol,
		Price:           price,
		Volume24hUSD:    decimal.NewFromInt(10_000_000),
		OpenInterestUSD: decimal.NewFromInt(2_000_000),
		TradesPerMinute: 10,
		ATR5m:           decimal.NewFromFloat(1.0),
		ATR15m:          decimal.NewFromFloat(1.5),
		L2Depth: types.L2Depth{
			BidUSDAt03Pct: decimal.NewFromInt(100_000), AskUSDAt03Pct: decimal.NewFromInt(100_000),
			BidUSDAt05Pct: decimal.NewFromInt(200_000), AskUSDAt05Pct: decimal.NewFromInt(200_000),
			SpreadBps: decimal.NewFromInt(2),
		},
		Candles5m: candles,
	}
}

func testConfig() Config {
	return Config{
		Filter: FilterConfig{
			Min24hVolume: decimal.NewFromInt(1_000_000), MinOI: decimal.NewFromInt(500_000),
			MaxSpreadPct: 0.1, MinDepth03Pct: decimal.NewFromInt(10_000), MinDepth05Pct: decimal.NewFromInt(10_000),
			MinTradesPerMin: 1, ATRMinPct: 0.1, ATRMaxPct: 10, VolumeSurge1h: 1.1, VolumeSurge5m: 1.1,
		},
		MarketQuality: MarketQualityConfig{MinATRPct: 0.05, MinPriceRangePct: 0.1, MinNoiseRatio: 0.01},
		Weights:       Weights{Liquidity: 0.25, Volatility: 0.25, Momentum: 0.25, Volume: 0.25},
		Levels:        LevelConfig{LookbackCandles: 100, MinTouches: 2, TouchThresholdATR: 0.5, MergeThresholdATR: 0.5},
		MaxCandidates: 20,
		FetchTimeout:  2 * time.Second,
		Concurrency:   4,
	}
}

func TestScan_ReturnsCandidatesForPassingSymbols(t *testing.T) {
	mgr := New(zap.NewNop(), testConfig(),
		func(ctx context.Context) ([]string, error) { return []string{"AAA"}, nil },
		func(ctx context.Context, symbol string) (types.MarketData, error) { return goodMarketData(symbol), nil },
	)
	results, diag, err := mgr.Scan(context.Background(), "sess1", nil)
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, 1, diag.MarketsConsidered)
}

func TestScan_AppliesWhitelist(t *testing.T) {
	cfg := testConfig()
	cfg.Whitelist = []string{"BBB"}
	mgr := New(zap.NewNop(), cfg,
		func(ctx context.Context) ([]string, error) { return []string{"AAA", "BBB"}, nil },
		func(ctx context.Context, symbol string) (types.MarketData, error) { return goodMarketData(symbol), nil },
	)
	results, _, err := mgr.Scan(context.Background(), "sess1", nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "BBB", results[0].Symbol)
}

func TestScan_PartialResultsOnFetchError(t *testing.T) {
	mgr := New(zap.NewNop(), testConfig(),
		func(ctx context.Context) ([]string, error) { return []string{"AAA", "BAD"}, nil },
		func(ctx context.Context, symbol string) (types.MarketData, error) {
			if symbol == "BAD" {
				return types.MarketData{}, assertErr
			}
			return goodMarketData(symbol), nil
		},
	)
	results, diag, err := mgr.Scan(context.Background(), "sess1", nil)
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, 2, diag.MarketsConsidered)
}

var assertErr = &fetchErr{}

type fetchErr struct{}

func (*fetchErr) Error() string { return "boom" }

func TestMarketQualityFilter_RejectsFlatMarket(t *testing.T) {
	md := goodMarketData("FLAT")
	md.ATR5m = decimal.NewFromFloat(0.00004).Mul(md.Price)
	for i := range md.Candles5m {
		md.Candles5m[i].High = md.Price
		md.Candles5m[i].Low = md.Price
		md.Candles5m[i].Open = md.Price
		md.Candles5m[i].Close = md.Price
	}
	result := MarketQualityFilter(MarketQualityConfig{MinATRPct: 0.1, MinPriceRangePct: 0.3, MinNoiseRatio: 0.3}, md)
	assert.False(t, result.Pass)
}

func TestBuildLevels_FindsResistanceWithEnoughTouches(t *testing.T) {
	candles := []types.Candle{}
	now := time.Now()
	prices := []float64{100, 105, 100, 106, 100, 104, 100}
	for i, p := range prices {
		candles = append(candles, types.Candle{
			TimestampMs: now.Add(time.Duration(i) * 5 * time.Minute).UnixMilli(),
			Open: decimal.NewFromFloat(p), High: decimal.NewFromFloat(p + 1), Low: decimal.NewFromFloat(p - 1), Close: decimal.NewFromFloat(p),
			Volume: decimal.NewFromInt(100),
		})
	}
	levels := BuildLevels(LevelConfig{LookbackCandles: 7, MinTouches: 2, TouchThresholdATR: 2, MergeThresholdATR: 1}, candles)
	assert.NotEmpty(t, levels)
}
