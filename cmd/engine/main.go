// Package main wires the breakout engine's components together and
// drives the Trading Orchestrator's loop until a shutdown signal arrives.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlas-desktop/breakout-engine/internal/config"
	"github.com/atlas-desktop/breakout-engine/internal/errs"
	"github.com/atlas-desktop/breakout-engine/internal/exchange"
	"github.com/atlas-desktop/breakout-engine/internal/execution"
	"github.com/atlas-desktop/breakout-engine/internal/fsm"
	"github.com/atlas-desktop/breakout-engine/internal/health"
	"github.com/atlas-desktop/breakout-engine/internal/marketcache"
	"github.com/atlas-desktop/breakout-engine/internal/notify"
	"github.com/atlas-desktop/breakout-engine/internal/orchestrator"
	"github.com/atlas-desktop/breakout-engine/internal/position"
	"github.com/atlas-desktop/breakout-engine/internal/risk"
	"github.com/atlas-desktop/breakout-engine/internal/scanning"
	"github.com/atlas-desktop/breakout-engine/internal/signals"
	"github.com/atlas-desktop/breakout-engine/internal/takeprofit"
	"github.com/atlas-desktop/breakout-engine/internal/telemetry"
	"github.com/atlas-desktop/breakout-engine/pkg/types"
)

func main() {
	presetPath := flag.String("preset", "", "Path to a YAML preset file (optional)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	universeFlag := flag.String("universe", "BTCUSDT,ETHUSDT,SOLUSDT", "Comma-separated trading universe (paper mode)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	preset, err := config.Load(*presetPath)
	if err != nil {
		logger.Fatal("failed to load preset", zap.Error(err))
	}

	logger.Info("starting breakout engine",
		zap.String("preset", preset.Name),
		zap.String("trading_mode", preset.Environment.TradingMode))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	universe := splitUniverse(*universeFlag)

	var client exchange.Client
	if preset.Environment.TradingMode == "live" {
		logger.Warn("live trading mode requested but no live exchange adapter is wired; falling back to paper")
	}
	client = exchange.NewPaperClient(logger, universe, preset.Environment.PaperStartingBalance, 20)

	metrics := telemetry.NewMetrics()
	_ = metrics // registered for scrape; updated from PeriodicSummary below

	machine := fsm.New(logger, fsm.PhaseIdle, func(t fsm.Transition) error {
		logger.Debug("fsm transition", zap.String("from", string(t.From)), zap.String("to", string(t.To)), zap.String("reason", t.Reason))
		return nil
	})

	sink := notify.LoggingSink{Log: func(eventType string, payload map[string]any) {
		logger.Info("notify", zap.String("type", eventType), zap.Any("payload", payload))
	}}

	healthMonitor := health.New(logger, health.Thresholds{
		DailyRiskLimit:       preset.Risk.DailyRiskLimit,
		KillSwitchLossLimit:  preset.Risk.KillSwitchLossLimit,
		MaxConsecutiveLosses: preset.Risk.MaxConsecutiveLosses,
	}, sink)

	cache := marketcache.New(logger, preset.MaxCacheSize)

	universeFetcher := func(ctx context.Context) ([]string, error) {
		return client.FetchMarkets(ctx)
	}
	fetchOne := buildMarketDataFetcher(client)

	scanner := scanning.New(logger, scanning.Config{
		Filter: scanning.FilterConfig{
			Min24hVolume:    preset.Scanner.Min24hVolume,
			MinOI:           preset.Scanner.MinOI,
			MaxSpreadPct:    preset.Scanner.MaxSpreadPct,
			MinDepth03Pct:   preset.Scanner.MinDepth03Pct,
			MinDepth05Pct:   preset.Scanner.MinDepth05Pct,
			MinTradesPerMin: preset.Scanner.MinTradesPerMin,
			ATRMinPct:       preset.Scanner.ATRMinPct,
			ATRMaxPct:       preset.Scanner.ATRMaxPct,
			VolumeSurge1h:   preset.Scanner.VolumeSurge1h,
			VolumeSurge5m:   preset.Scanner.VolumeSurge5m,
		},
		MarketQuality: scanning.MarketQualityConfig{
			MinATRPct:        preset.MarketQuality.MinATRPct,
			MinPriceRangePct: preset.MarketQuality.MinPriceRangePct,
			MinNoiseRatio:    preset.MarketQuality.MinNoiseRatio,
		},
		Weights: scanning.Weights{
			Liquidity:  preset.Scanner.WeightLiquidity,
			Volatility: preset.Scanner.WeightVolatility,
			Momentum:   preset.Scanner.WeightMomentum,
			Volume:     preset.Scanner.WeightVolume,
		},
		Levels: scanning.LevelConfig{
			LookbackCandles:   preset.Levels.LookbackCandles,
			MinTouches:        preset.Levels.MinTouches,
			TouchThresholdATR: preset.Levels.TouchThresholdATR,
			MergeThresholdATR: preset.Levels.MergeThresholdATR,
			StrengthThreshold: preset.Levels.StrengthThreshold,
		},
		MaxCandidates: preset.Scanner.MaxCandidates,
		FetchLimit:    preset.Scanner.MarketFetchLimit,
		FetchTimeout:  preset.Environment.MarketDataTimeout,
		Concurrency:   preset.Environment.LiveScanConcurrency,
	}, universeFetcher, fetchOne)

	tpLevels := make([]takeprofit.LevelConfig, len(preset.Positions.TPLevels))
	for i, lvl := range preset.Positions.TPLevels {
		tpLevels[i] = takeprofit.LevelConfig{RewardMultiple: lvl.RewardMultiple, SizePct: lvl.SizePct}
	}
	tpSmart := takeprofit.SmartPlacement{
		Enabled:              preset.Positions.TPSmartPlacement.Enabled,
		AvoidDensityZones:    preset.Positions.TPSmartPlacement.AvoidDensityZones,
		AvoidSRLevels:        preset.Positions.TPSmartPlacement.AvoidSRLevels,
		DensityZoneBufferBps: preset.Positions.TPSmartPlacement.DensityZoneBufferBps,
		SRLevelBufferBps:     preset.Positions.TPSmartPlacement.SRLevelBufferBps,
	}

	sigMgr := signals.New(logger, signals.Config{
		MaxActiveSignals: preset.MaxActiveSignals,
		SignalTimeout:    time.Duration(preset.SignalTimeoutMin * float64(time.Minute)),
		Momentum: signals.MomentumConfig{
			EpsilonBps:       preset.Momentum.EpsilonBps,
			VolumeMultiplier: preset.Momentum.VolumeMultiplier,
			BodyRatioMin:     preset.Momentum.BodyRatioMin,
		},
		Retest: signals.RetestConfig{
			PierceToleranceBps: preset.Retest.PierceToleranceBps,
			MaxPierceATR:       preset.Retest.MaxPierceATR,
		},
		Microstructure: signals.MicrostructureConfig{
			EnterOnDensityEatRatio: preset.Microstructure.EnterOnDensityEatRatio,
			ActivityDropThreshold:  preset.Microstructure.ActivityDropThreshold,
		},
		TPLevels: tpLevels,
		TPSmart:  tpSmart,
	}, nil, nil, nil)

	riskGate := risk.New(logger, risk.Config{
		MaxConcurrentPositions: preset.Risk.MaxConcurrentPos,
		CorrelationLimit:       preset.Risk.CorrelationLimit,
		PerTradeRiskR:          preset.Risk.PerTradeRiskR,
	}, healthMonitor)

	errHandler := errs.NewHandler(logger, 3, 2.0, 1000, func(info errs.Info) error {
		logger.Warn("classified error", zap.String("component", info.Component), zap.String("severity", string(info.Severity)))
		return nil
	})

	execMgr := execution.New(logger, execution.Config{
		EnableTWAP:            preset.Execution.EnableTWAP,
		EnableIceberg:         preset.Execution.EnableIceberg,
		TWAPMinSlices:         preset.Execution.TWAPMinSlices,
		TWAPMaxSlices:         preset.Execution.TWAPMaxSlices,
		TWAPIntervalSec:       preset.Execution.TWAPIntervalSec,
		TWAPNotionalThreshold: preset.Execution.TWAPNotionalThreshold,
		IcebergMinNotional:    preset.Execution.IcebergMinNotional,
		MaxDepthFraction:      preset.Execution.MaxDepthFraction,
		LimitOffsetBps:        preset.Execution.LimitOffsetBps,
		DeadmanTimeout:        time.Duration(preset.Execution.DeadmanTimeoutMs) * time.Millisecond,
		TakerFeeBps:           preset.Execution.TakerFeeBps,
		MakerFeeBps:           preset.Execution.MakerFeeBps,
	}, client, errHandler)

	newPSM := func() *position.Machine {
		return position.New(logger, position.Config{
			EntryConfirmationBars:      preset.FSM.EntryConfirmationBars,
			BreakevenLockProfitEnabled: preset.FSM.BreakevenLockProfitEnabled,
			RunningBreakevenTriggerR:   preset.FSM.RunningBreakevenTriggerR,
			BreakevenBufferBps:         preset.FSM.BreakevenBufferBps,
			TrailingActivationR:        preset.FSM.TrailingActivationR,
			TrailingStepBps:            preset.FSM.TrailingStepBps,
			PartialClosedTrailEnabled:  preset.FSM.PartialClosedTrailEnabled,
			PartialClosedTrailStepBps:  preset.FSM.PartialClosedTrailStepBps,
		})
	}

	engine := orchestrator.New(
		logger,
		orchestrator.Config{
			MaxConcurrentPositions: preset.Risk.MaxConcurrentPos,
			EquityBase:             preset.Environment.PaperStartingBalance,
			PerTradeRiskR:          preset.Risk.PerTradeRiskR,
		},
		machine, healthMonitor, scanner, sigMgr, riskGate, execMgr, cache, client, errHandler, newPSM,
	)

	resourceMonitor := health.NewResourceMonitor(logger, 0, 0, 0, 0, nil)
	go resourceMonitor.Run(ctx, 5*time.Second, func(sample health.ResourceSample) {
		logger.Warn("resource optimization pass triggered", zap.Int("goroutines", sample.NumGoroutine))
	})
	startingBalance, _ := preset.Environment.PaperStartingBalance.Float64()
	go telemetry.PeriodicSummary(ctx, logger, metrics, 30*time.Second, func() telemetry.Summary {
		snap := engine.Snapshot()
		return telemetry.Summary{
			ScanCount:     snap.LastScanCount,
			SignalCount:   len(snap.ActiveSignals),
			PositionCount: len(snap.OpenPositions),
			EquityUSD:     startingBalance,
			KillSwitch:    snap.KillSwitchActive,
		}
	})

	if _, err := machine.Transition(ctx, fsm.PhaseScanning, "engine start", nil, true); err != nil {
		logger.Fatal("failed to start engine state machine", zap.Error(err))
	}

	runErr := make(chan error, 1)
	go func() { runErr <- engine.Run(ctx) }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-runErr:
		if err != nil {
			logger.Error("engine loop exited with error", zap.Error(err))
		}
	}

	engine.Stop()
	cancel()
	logger.Info("breakout engine stopped")
}

// buildMarketDataFetcher adapts the exchange.Client's REST surface into
// the scanning.MarketDataFetcher shape. open_interest and trades-per-
// minute have no equivalent on a paper venue, so they're approximated
// (documented in DESIGN.md) rather than left zero, which would make
// every candidate fail the corresponding filters outright.
func buildMarketDataFetcher(client exchange.Client) scanning.MarketDataFetcher {
	return func(ctx context.Context, symbol string) (types.MarketData, error) {
		candles, err := client.FetchOHLCV(ctx, symbol, 5, 120)
		if err != nil {
			return types.MarketData{}, err
		}
		if len(candles) == 0 {
			return types.MarketData{}, nil
		}

		book, err := client.FetchOrderBook(ctx, symbol, 50)
		if err != nil {
			return types.MarketData{}, err
		}

		price := candles[len(candles)-1].Close
		atr := averageCandleRange(candles)

		volume24h := decimal.Zero
		for _, c := range candles {
			volume24h = volume24h.Add(c.Volume.Mul(c.Close))
		}

		depth := depthBands(book, price)

		return types.MarketData{
			Symbol:          symbol,
			Price:           price,
			Volume24hUSD:    volume24h,
			OpenInterestUSD: volume24h, // no OI feed on a paper venue; volume is the closest proxy
			TradesPerMinute: 10,        // paper venues don't expose trade counts; a conservative floor
			ATR5m:           atr,
			ATR15m:          atr.Mul(decimal.NewFromFloat(1.5)),
			L2Depth:         depth,
			Candles5m:       candles,
		}, nil
	}
}

func averageCandleRange(candles []types.Candle) decimal.Decimal {
	if len(candles) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, c := range candles {
		sum = sum.Add(c.Range())
	}
	return sum.Div(decimal.NewFromInt(int64(len(candles))))
}

func depthBands(book exchange.OrderBook, mid decimal.Decimal) types.L2Depth {
	band03 := mid.Mul(decimal.NewFromFloat(0.003))
	band05 := mid.Mul(decimal.NewFromFloat(0.005))

	var bid03, ask03, bid05, ask05 decimal.Decimal
	for _, lvl := range book.Bids {
		dist := mid.Sub(lvl.Price)
		notional := lvl.Price.Mul(lvl.Size)
		if dist.LessThanOrEqual(band03) {
			bid03 = bid03.Add(notional)
		}
		if dist.LessThanOrEqual(band05) {
			bid05 = bid05.Add(notional)
		}
	}
	for _, lvl := range book.Asks {
		dist := lvl.Price.Sub(mid)
		notional := lvl.Price.Mul(lvl.Size)
		if dist.LessThanOrEqual(band03) {
			ask03 = ask03.Add(notional)
		}
		if dist.LessThanOrEqual(band05) {
			ask05 = ask05.Add(notional)
		}
	}

	spreadBps := decimal.Zero
	if len(book.Bids) > 0 && len(book.Asks) > 0 && mid.IsPositive() {
		spreadBps = book.Asks[0].Price.Sub(book.Bids[0].Price).Div(mid).Mul(decimal.NewFromInt(10000))
	}

	return types.L2Depth{
		BidUSDAt03Pct: bid03, AskUSDAt03Pct: ask03,
		BidUSDAt05Pct: bid05, AskUSDAt05Pct: ask05,
		SpreadBps: spreadBps,
	}
}

func splitUniverse(raw string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				out = append(out, raw[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
