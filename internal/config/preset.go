// Package config loads the engine's trading preset: risk limits, scanner
// thresholds, signal/microstructure parameters, execution slicing settings,
// position/TP ladder configuration, and FSM timing. It mirrors the Python
// preset loader described as an external collaborator in the engine spec,
// backed by viper so presets can be YAML files, env vars, or both.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// RiskConfig holds the risk/kill-switch thresholds (§6 "Risk").
type RiskConfig struct {
	DailyRiskLimit       decimal.Decimal `mapstructure:"dailyRiskLimit"`
	KillSwitchLossLimit  decimal.Decimal `mapstructure:"killSwitchLossLimit"`
	MaxConcurrentPos     int             `mapstructure:"maxConcurrentPositions"`
	MaxConsecutiveLosses int             `mapstructure:"maxConsecutiveLosses"`
	CorrelationLimit     float64         `mapstructure:"correlationLimit"`
	PerTradeRiskR        decimal.Decimal `mapstructure:"perTradeRiskR"`
}

// ScannerConfig holds the candidate-filtering thresholds (§6 "Scanner").
type ScannerConfig struct {
	Min24hVolume      decimal.Decimal `mapstructure:"min24hVolume"`
	MinOI             decimal.Decimal `mapstructure:"minOi"`
	MaxSpreadPct      float64         `mapstructure:"maxSpreadPct"`
	MinDepth03Pct     decimal.Decimal `mapstructure:"minDepth03Pct"`
	MinDepth05Pct     decimal.Decimal `mapstructure:"minDepth05Pct"`
	MinTradesPerMin   float64         `mapstructure:"minTradesPerMinute"`
	ATRMinPct         float64         `mapstructure:"atrMinPct"`
	ATRMaxPct         float64         `mapstructure:"atrMaxPct"`
	VolumeSurge1h     float64         `mapstructure:"volumeSurge1h"`
	VolumeSurge5m     float64         `mapstructure:"volumeSurge5m"`
	MaxCandidates     int             `mapstructure:"maxCandidates"`
	MarketFetchLimit  int             `mapstructure:"marketFetchLimit"`
	WeightLiquidity   float64         `mapstructure:"weightLiquidity"`
	WeightVolatility  float64         `mapstructure:"weightVolatility"`
	WeightMomentum    float64         `mapstructure:"weightMomentum"`
	WeightVolume      float64         `mapstructure:"weightVolume"`
}

// MarketQualityConfig holds the flat-market pre-filter thresholds
// (supplemented from original_source's market_quality_filter.py).
type MarketQualityConfig struct {
	MinATRPct        float64 `mapstructure:"minAtrPct"`
	MinPriceRangePct float64 `mapstructure:"minPriceRangePct"`
	MinNoiseRatio    float64 `mapstructure:"minNoiseRatio"`
}

// LevelsConfig holds S/R level construction parameters (§6 "Levels").
type LevelsConfig struct {
	LookbackCandles  int     `mapstructure:"lookbackCandles"`
	MinTouches       int     `mapstructure:"minTouches"`
	TouchThresholdATR float64 `mapstructure:"touchThresholdAtr"`
	MergeThresholdATR float64 `mapstructure:"mergeThresholdAtr"`
	StrengthThreshold float64 `mapstructure:"strengthThreshold"`
}

// MomentumConfig holds momentum-strategy parameters (§6 "Signals (momentum)").
type MomentumConfig struct {
	EpsilonBps        float64 `mapstructure:"epsilonBps"`
	VolumeMultiplier  float64 `mapstructure:"volumeMultiplier"`
	BodyRatioMin      float64 `mapstructure:"bodyRatioMin"`
}

// RetestConfig holds retest-strategy parameters (§6 "Signals (retest)").
type RetestConfig struct {
	PierceToleranceBps float64 `mapstructure:"pierceToleranceBps"`
	MaxPierceATR       float64 `mapstructure:"maxPierceAtr"`
}

// MicrostructureConfig holds the microstructure filter thresholds
// (§6 "Microstructure").
type MicrostructureConfig struct {
	L2ImbalanceThreshold  float64 `mapstructure:"l2ImbalanceThreshold"`
	VWAPGapMaxATR         float64 `mapstructure:"vwapGapMaxAtr"`
	EnterOnDensityEatRatio float64 `mapstructure:"enterOnDensityEatRatio"`
	ActivityDropThreshold  float64 `mapstructure:"activityDropThreshold"`
}

// ExecutionConfig holds slicing/fee settings (§6 "Execution").
type ExecutionConfig struct {
	EnableTWAP        bool            `mapstructure:"enableTwap"`
	EnableIceberg     bool            `mapstructure:"enableIceberg"`
	TWAPMinSlices     int             `mapstructure:"twapMinSlices"`
	TWAPMaxSlices     int             `mapstructure:"twapMaxSlices"`
	TWAPIntervalSec   float64         `mapstructure:"twapIntervalSeconds"`
	TWAPNotionalThreshold decimal.Decimal `mapstructure:"twapNotionalThreshold"`
	IcebergMinNotional decimal.Decimal `mapstructure:"icebergMinNotional"`
	MaxDepthFraction  float64         `mapstructure:"maxDepthFraction"`
	LimitOffsetBps    float64         `mapstructure:"limitOffsetBps"`
	SpreadWidenBps    float64         `mapstructure:"spreadWidenBps"`
	DeadmanTimeoutMs  int             `mapstructure:"deadmanTimeoutMs"`
	TakerFeeBps       float64         `mapstructure:"takerFeeBps"`
	MakerFeeBps       float64         `mapstructure:"makerFeeBps"`
}

// TPLevelConfig is one configured rung of the take-profit ladder.
type TPLevelConfig struct {
	RewardMultiple float64 `mapstructure:"rewardMultiple"`
	SizePct        float64 `mapstructure:"sizePct"`
}

// TPSmartPlacementConfig holds the density/SR avoidance toggles
// (§6 "Positions & TP").
type TPSmartPlacementConfig struct {
	Enabled            bool    `mapstructure:"enabled"`
	AvoidDensityZones  bool    `mapstructure:"avoidDensityZones"`
	AvoidSRLevels      bool    `mapstructure:"avoidSrLevels"`
	DensityZoneBufferBps float64 `mapstructure:"densityZoneBufferBps"`
	SRLevelBufferBps   float64 `mapstructure:"srLevelBufferBps"`
}

// PositionsConfig holds the TP ladder and smart-placement settings.
type PositionsConfig struct {
	TPLevels         []TPLevelConfig        `mapstructure:"tpLevels"`
	TPSmartPlacement TPSmartPlacementConfig `mapstructure:"tpSmartPlacement"`
}

// FSMConfig holds the Position State Machine's timing thresholds
// (§6 "FSM").
type FSMConfig struct {
	EntryConfirmationBars       int     `mapstructure:"entryConfirmationBars"`
	BreakevenLockProfitEnabled  bool    `mapstructure:"breakevenLockProfitEnabled"`
	RunningBreakevenTriggerR    float64 `mapstructure:"runningBreakevenTriggerR"`
	BreakevenBufferBps          float64 `mapstructure:"breakevenBufferBps"`
	TrailingActivationR         float64 `mapstructure:"trailingActivationR"`
	TrailingStepBps             float64 `mapstructure:"trailingStepBps"`
	PartialClosedTrailEnabled   bool    `mapstructure:"partialClosedTrailEnabled"`
	PartialClosedTrailStepBps   float64 `mapstructure:"partialClosedTrailStepBps"`
}

// EnvironmentConfig holds the §6 "Environment overrides" surface.
type EnvironmentConfig struct {
	MarketDataTimeout     time.Duration `mapstructure:"marketDataTimeout"`
	LiveScanConcurrency   int           `mapstructure:"liveScanConcurrency"`
	TradingMode           string        `mapstructure:"tradingMode"` // "paper" | "live"
	PaperStartingBalance  decimal.Decimal `mapstructure:"paperStartingBalance"`
}

// Preset is the full set of tunables driving one engine instance.
type Preset struct {
	Name            string               `mapstructure:"name"`
	Risk            RiskConfig           `mapstructure:"risk"`
	Scanner         ScannerConfig        `mapstructure:"scanner"`
	MarketQuality   MarketQualityConfig  `mapstructure:"marketQuality"`
	Levels          LevelsConfig         `mapstructure:"levels"`
	Momentum        MomentumConfig       `mapstructure:"momentum"`
	Retest          RetestConfig         `mapstructure:"retest"`
	Microstructure  MicrostructureConfig `mapstructure:"microstructure"`
	Execution       ExecutionConfig      `mapstructure:"execution"`
	Positions       PositionsConfig      `mapstructure:"positions"`
	FSM             FSMConfig            `mapstructure:"fsm"`
	Environment     EnvironmentConfig    `mapstructure:"environment"`
	MaxActiveSignals   int     `mapstructure:"maxActiveSignals"`
	SignalTimeoutMin   float64 `mapstructure:"signalTimeoutMinutes"`
	MaxCacheSize       int     `mapstructure:"maxCacheSize"`
}

// Default returns the built-in default preset, used when no file is
// supplied and as the base that file/env values are merged onto.
func Default() Preset {
	return Preset{
		Name: "default",
		Risk: RiskConfig{
			DailyRiskLimit:       decimal.NewFromFloat(0.05),
			KillSwitchLossLimit:  decimal.NewFromFloat(0.08),
			MaxConcurrentPos:     5,
			MaxConsecutiveLosses: 5,
			CorrelationLimit:     0.7,
			PerTradeRiskR:        decimal.NewFromFloat(0.01),
		},
		Scanner: ScannerConfig{
			Min24hVolume:     decimal.NewFromInt(5_000_000),
			MinOI:            decimal.NewFromInt(1_000_000),
			MaxSpreadPct:     0.05,
			MinDepth03Pct:    decimal.NewFromInt(50_000),
			MinDepth05Pct:    decimal.NewFromInt(100_000),
			MinTradesPerMin:  5,
			ATRMinPct:        0.1,
			ATRMaxPct:        5,
			VolumeSurge1h:    1.5,
			VolumeSurge5m:    1.3,
			MaxCandidates:    20,
			MarketFetchLimit: 0,
			WeightLiquidity:  0.25,
			WeightVolatility: 0.25,
			WeightMomentum:   0.25,
			WeightVolume:     0.25,
		},
		MarketQuality: MarketQualityConfig{
			MinATRPct:        0.1,
			MinPriceRangePct: 0.3,
			MinNoiseRatio:    0.3,
		},
		Levels: LevelsConfig{
			LookbackCandles:   100,
			MinTouches:        2,
			TouchThresholdATR: 0.25,
			MergeThresholdATR: 0.5,
			StrengthThreshold: 0.3,
		},
		Momentum: MomentumConfig{
			EpsilonBps:       8,
			VolumeMultiplier: 2.5,
			BodyRatioMin:     0.5,
		},
		Retest: RetestConfig{
			PierceToleranceBps: 15,
			MaxPierceATR:       0.25,
		},
		Microstructure: MicrostructureConfig{
			L2ImbalanceThreshold:   0.3,
			VWAPGapMaxATR:          1.0,
			EnterOnDensityEatRatio: 0.75,
			ActivityDropThreshold:  0.5,
		},
		Execution: ExecutionConfig{
			EnableTWAP:            true,
			EnableIceberg:         true,
			TWAPMinSlices:         4,
			TWAPMaxSlices:         12,
			TWAPIntervalSec:       2.5,
			TWAPNotionalThreshold: decimal.NewFromInt(25_000),
			IcebergMinNotional:    decimal.NewFromInt(10_000),
			MaxDepthFraction:      0.2,
			LimitOffsetBps:        5,
			SpreadWidenBps:        2,
			DeadmanTimeoutMs:      8_000,
			TakerFeeBps:           4,
			MakerFeeBps:           2,
		},
		Positions: PositionsConfig{
			TPLevels: []TPLevelConfig{
				{RewardMultiple: 1.0, SizePct: 0.3},
				{RewardMultiple: 2.0, SizePct: 0.3},
				{RewardMultiple: 3.5, SizePct: 0.4},
			},
			TPSmartPlacement: TPSmartPlacementConfig{
				Enabled:               true,
				AvoidDensityZones:     true,
				AvoidSRLevels:         true,
				DensityZoneBufferBps:  10,
				SRLevelBufferBps:      10,
			},
		},
		FSM: FSMConfig{
			EntryConfirmationBars:      2,
			BreakevenLockProfitEnabled: true,
			RunningBreakevenTriggerR:   1.5,
			BreakevenBufferBps:         5,
			TrailingActivationR:        2.0,
			TrailingStepBps:            50,
			PartialClosedTrailEnabled:  true,
			PartialClosedTrailStepBps:  30,
		},
		Environment: EnvironmentConfig{
			MarketDataTimeout:    120 * time.Second,
			LiveScanConcurrency:  10,
			TradingMode:          "paper",
			PaperStartingBalance: decimal.NewFromInt(10_000),
		},
		MaxActiveSignals: 50,
		SignalTimeoutMin: 15,
		MaxCacheSize:     500,
	}
}

// Load reads a preset from the given YAML path (if non-empty) layered onto
// Default(), then applies the §6 environment-variable overrides. An empty
// path returns Default() with only env overrides applied.
func Load(path string) (Preset, error) {
	preset := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("ENGINE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Preset{}, fmt.Errorf("config: read preset %q: %w", path, err)
		}
		if err := v.Unmarshal(&preset); err != nil {
			return Preset{}, fmt.Errorf("config: decode preset %q: %w", path, err)
		}
	}

	applyEnvOverrides(&preset)
	return preset, nil
}

// mapstructureDecoderConfig is an empty struct alias; it is not
// mapstructure's DecoderConfig, and Load passes no decode options to viper.
type mapstructureDecoderConfig = struct{}

// applyEnvOverrides binds the explicit §6 "Environment overrides" list.
// These are read directly (not through viper's generic Unmarshal) because
// they must apply even when no preset file was loaded.
func applyEnvOverrides(p *Preset) {
	if v, ok := lookupInt("ENGINE_MARKET_FETCH_LIMIT"); ok {
		p.Scanner.MarketFetchLimit = v
	}
	if v, ok := lookupDuration("MARKET_DATA_TIMEOUT"); ok {
		p.Environment.MarketDataTimeout = v
	}
	if v, ok := lookupInt("LIVE_SCAN_CONCURRENCY"); ok {
		p.Environment.LiveScanConcurrency = v
	}
	if v, ok := lookupString("TRADING_MODE"); ok {
		p.Environment.TradingMode = v
	}
	if v, ok := lookupDecimal("PAPER_STARTING_BALANCE"); ok {
		p.Environment.PaperStartingBalance = v
	}
}
