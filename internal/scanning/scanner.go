// Package scanning implements the Scanning Manager (C4): universe
// fetch/fan-out, the market-quality pre-filter, candidate filtering and
// weighted scoring, and swing-based S/R level construction.
package scanning

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/breakout-engine/pkg/types"
)

// Weights is the scorer's preset-defined component weighting.
type Weights struct {
	Liquidity  float64
	Volatility float64
	Momentum   float64
	Volume     float64
}

// LevelConfig tunes swing-level construction (§4.4 "Level construction").
type LevelConfig struct {
	LookbackCandles   int
	MinTouches        int
	TouchThresholdATR float64
	MergeThresholdATR float64
	StrengthThreshold float64
}

// Config bundles everything a Manager needs beyond its collaborators.
type Config struct {
	Filter        FilterConfig
	MarketQuality MarketQualityConfig
	Weights       Weights
	Levels        LevelConfig
	MaxCandidates int
	FetchLimit    int // 0 means unbounded, ENGINE_MARKET_FETCH_LIMIT override
	Whitelist     []string
	FetchTimeout  time.Duration
	Concurrency   int
}

// MarketDataFetcher fetches one symbol's MarketData (the orchestrator
// supplies a closure wired to the exchange client + cache).
type MarketDataFetcher func(ctx context.Context, symbol string) (types.MarketData, error)

// UniverseFetcher returns the full available symbol universe.
type UniverseFetcher func(ctx context.Context) ([]string, error)

// Manager is the Scanning Manager.
type Manager struct {
	cfg       Config
	universe  UniverseFetcher
	fetchOne  MarketDataFetcher
	logger    *zap.Logger
}

// New builds a Manager.
func New(logger *zap.Logger, cfg Config, universe UniverseFetcher, fetchOne MarketDataFetcher) *Manager {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 120 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	return &Manager{cfg: cfg, universe: universe, fetchOne: fetchOne, logger: logger.Named("scanning")}
}

// Diagnostics is the scanner diagnostics snapshot (§6).
type Diagnostics struct {
	MarketsConsidered int
	AvgScore          float64
	MinScore          float64
	MaxScore          float64
	FilterPass        map[string]int
	FilterFail        map[string]int
	SignalCount       int
}

// Scan runs one scanning cycle (§4.4's algorithm, steps 1-4; step 5's
// stream subscription is the orchestrator's responsibility since it
// depends on the optional TradeStreamer collaborator).
func (m *Manager) Scan(ctx context.Context, sessionID string, btc *types.MarketData) ([]types.ScanResult, Diagnostics, error) {
	symbols, err := m.universe(ctx)
	if err != nil {
		return nil, Diagnostics{}, fmt.Errorf("scanning: fetch universe: %w", err)
	}

	symbols = applyWhitelist(symbols, m.cfg.Whitelist)
	if m.cfg.FetchLimit > 0 && len(symbols) > m.cfg.FetchLimit {
		symbols = symbols[:m.cfg.FetchLimit]
	}

	fetchCtx, cancel := context.WithTimeout(ctx, m.cfg.FetchTimeout)
	defer cancel()

	snapshots := m.fetchAll(fetchCtx, symbols)

	diag := Diagnostics{
		MarketsConsidered: len(symbols),
		FilterPass:        make(map[string]int),
		FilterFail:        make(map[string]int),
	}

	results := make([]types.ScanResult, 0, len(snapshots))
	var scoreSum float64
	first := true

	for _, md := range snapshots {
		mq := MarketQualityFilter(m.cfg.MarketQuality, md)
		if !mq.Pass {
			continue
		}

		volSurge1h, volSurge5m := volumeSurgeRatios(md)
		filterResults := runFilters(m.cfg.Filter, md, volSurge1h, volSurge5m)
		for name, ok := range filterResults {
			if ok {
				diag.FilterPass[name]++
			} else {
				diag.FilterFail[name]++
			}
		}
		if !allPass(filterResults) {
			continue
		}

		btcCorr := 0.0
		if btc != nil {
			btcCorr = md.BTCCorrelation
		}
		scoreComponents := score(m.cfg.Weights, md, volSurge1h, btcCorr)
		total := scoreComponents["liquidity"]*m.cfg.Weights.Liquidity +
			scoreComponents["volatility"]*m.cfg.Weights.Volatility +
			scoreComponents["momentum"]*m.cfg.Weights.Momentum +
			scoreComponents["volume"]*m.cfg.Weights.Volume

		levels := BuildLevels(m.cfg.Levels, md.Candles5m)

		results = append(results, types.ScanResult{
			Symbol:          md.Symbol,
			Score:           total,
			FilterResults:   filterResults,
			ScoreComponents: scoreComponents,
			Levels:          levels,
			MarketData:      md,
			TimestampMs:     time.Now().UnixMilli(),
			CorrelationID:   uuid.NewString(),
		})

		if first || total < diag.MinScore {
			diag.MinScore = total
		}
		if first || total > diag.MaxScore {
			diag.MaxScore = total
		}
		scoreSum += total
		first = false
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	for i := range results {
		results[i].Rank = i + 1
	}

	if m.cfg.MaxCandidates > 0 && len(results) > m.cfg.MaxCandidates {
		results = results[:m.cfg.MaxCandidates]
	}

	if len(results) > 0 {
		diag.AvgScore = scoreSum / float64(len(results))
	}

	m.logger.Info("scan complete",
		zap.String("session", sessionID),
		zap.Int("considered", diag.MarketsConsidered),
		zap.Int("candidates", len(results)))

	return results, diag, nil
}

// fetchAll fans out MarketData fetches across the universe with bounded
// concurrency; per-symbol errors are logged and dropped rather than
// aborting the cycle, so a timeout yields a well-typed partial result
// (§4.4 "Failure semantics").
func (m *Manager) fetchAll(ctx context.Context, symbols []string) []types.MarketData {
	type result struct {
		md types.MarketData
		ok bool
	}

	sem := make(chan struct{}, m.cfg.Concurrency)
	var wg sync.WaitGroup
	resultsCh := make(chan result, len(symbols))

	for _, symbol := range symbols {
		symbol := symbol
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				resultsCh <- result{ok: false}
				return
			}

			md, err := m.fetchOne(ctx, symbol)
			if err != nil {
				m.logger.Debug("market data fetch failed", zap.String("symbol", symbol), zap.Error(err))
				resultsCh <- result{ok: false}
				return
			}
			resultsCh <- result{md: md, ok: true}
		}()
	}

	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	out := make([]types.MarketData, 0, len(symbols))
	for r := range resultsCh {
		if r.ok {
			out = append(out, r.md)
		}
	}
	return out
}

func applyWhitelist(symbols, whitelist []string) []string {
	if len(whitelist) == 0 {
		return symbols
	}
	allowed := make(map[string]bool, len(whitelist))
	for _, s := range whitelist {
		allowed[s] = true
	}
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if allowed[s] {
			out = append(out, s)
		}
	}
	return out
}

// volumeSurgeRatios derives the 1h/5m surge ratios from the candle
// history: latest bar volume vs. the trailing average.
func volumeSurgeRatios(md types.MarketData) (h1, m5 float64) {
	n := len(md.Candles5m)
	if n == 0 {
		return 0, 0
	}
	latest := md.Candles5m[n-1].Volume

	avg5 := trailingAvgVolume(md.Candles5m, 3)
	if avg5.IsPositive() {
		m5, _ = latest.Div(avg5).Float64()
	}

	avg1h := trailingAvgVolume(md.Candles5m, 12)
	if avg1h.IsPositive() {
		h1, _ = latest.Div(avg1h).Float64()
	}
	return h1, m5
}

func trailingAvgVolume(candles []types.Candle, window int) decimal.Decimal {
	n := len(candles)
	if n <= 1 {
		return decimal.Zero
	}
	start := n - 1 - window
	if start < 0 {
		start = 0
	}
	end := n - 1
	if end <= start {
		return decimal.Zero
	}
	sum := decimal.Zero
	count := 0
	for i := start; i < end; i++ {
		sum = sum.Add(candles[i].Volume)
		count++
	}
	if count == 0 {
		return decimal.Zero
	}
	return sum.Div(decimal.NewFromInt(int64(count)))
}
