// Package takeprofit implements the Take-Profit Optimizer (C8): builds
// the configured TP ladder from entry/stop-loss and nudges levels away
// from density zones and S/R structure.
package takeprofit

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/breakout-engine/pkg/types"
)

// ErrNoTPLevels is returned when the configured TP ladder is empty.
var ErrNoTPLevels = errors.New("takeprofit: no configured tp levels")

// LevelConfig is one configured rung of the ladder (reward multiple +
// size share); mirrors config.TPLevelConfig decoupled from the preset
// package.
type LevelConfig struct {
	RewardMultiple float64
	SizePct        float64
}

// SmartPlacement toggles and tunes density/S-R avoidance.
type SmartPlacement struct {
	Enabled              bool
	AvoidDensityZones    bool
	AvoidSRLevels        bool
	DensityZoneBufferBps float64
	SRLevelBufferBps     float64
}

// Request bundles the optimizer's inputs (§4.8).
type Request struct {
	Entry          decimal.Decimal
	StopLoss       decimal.Decimal
	IsLong         bool
	Levels         []LevelConfig
	Smart          SmartPlacement
	DensityZones   []types.DensityZone
	SRLevels       []types.SRLevel
}

// Result is the optimized ladder plus the aggregate expected reward.
type Result struct {
	Levels         []types.TakeProfitLevel
	ExpectedReward float64
}

const sizeTolerance = 0.0001 // ±0.01%

// Optimize builds and (optionally) adjusts the TP ladder per §4.8.
func Optimize(logger *zap.Logger, req Request) (Result, error) {
	log := logger.Named("takeprofit")

	if len(req.Levels) == 0 {
		return Result{}, ErrNoTPLevels
	}

	var sizeSum float64
	for _, l := range req.Levels {
		sizeSum += l.SizePct
	}
	if sizeSum < 1-sizeTolerance || sizeSum > 1+sizeTolerance {
		return Result{}, fmt.Errorf("takeprofit: configured size_pct sums to %.6f, want 1.0 ± %.4f", sizeSum, sizeTolerance)
	}

	risk := req.Entry.Sub(req.StopLoss).Abs()
	if risk.LessThanOrEqual(decimal.Zero) {
		return Result{}, errors.New("takeprofit: entry and stop_loss imply zero risk")
	}

	levels := make([]types.TakeProfitLevel, len(req.Levels))
	for i, cfg := range req.Levels {
		basePrice := basePriceFor(req.Entry, risk, cfg.RewardMultiple, req.IsLong)
		levels[i] = types.TakeProfitLevel{
			Price:          basePrice,
			SizePct:        cfg.SizePct,
			RewardMultiple: cfg.RewardMultiple,
		}
	}

	if req.Smart.Enabled {
		for i := range levels {
			adjustSmart(&levels[i], req, log)
		}
	}

	if err := validateMonotone(levels, req.IsLong); err != nil {
		// Smart placement degrades to base levels on validation failure
		// (§4.8 "Smart placement failures degrade to base levels and log").
		log.Warn("smart placement produced invalid ladder, reverting to base levels", zap.Error(err))
		for i, cfg := range req.Levels {
			levels[i] = types.TakeProfitLevel{
				Price:          basePriceFor(req.Entry, risk, cfg.RewardMultiple, req.IsLong),
				SizePct:        cfg.SizePct,
				RewardMultiple: cfg.RewardMultiple,
			}
		}
		if err := validateMonotone(levels, req.IsLong); err != nil {
			return Result{}, fmt.Errorf("takeprofit: base ladder invalid: %w", err)
		}
	}

	expected := 0.0
	for _, lvl := range levels {
		actualMultiple, _ := lvl.Price.Sub(req.Entry).Abs().Div(risk).Float64()
		expected += lvl.SizePct * actualMultiple
	}

	return Result{Levels: levels, ExpectedReward: expected}, nil
}

func basePriceFor(entry, risk decimal.Decimal, rewardMultiple float64, isLong bool) decimal.Decimal {
	offset := risk.Mul(decimal.NewFromFloat(rewardMultiple))
	if isLong {
		return entry.Add(offset)
	}
	return entry.Sub(offset)
}

func adjustSmart(lvl *types.TakeProfitLevel, req Request, log *zap.Logger) {
	if req.Smart.AvoidDensityZones {
		for _, zone := range req.DensityZones {
			if zone.Contains(lvl.Price) {
				buffer := lvl.Price.Mul(decimal.NewFromFloat(req.Smart.DensityZoneBufferBps / 10_000))
				if req.IsLong {
					lvl.Price = zone.PriceStart.Sub(buffer)
				} else {
					lvl.Price = zone.PriceEnd.Add(buffer)
				}
				lvl.WasAdjusted = true
				lvl.AdjustReason = "density_zone"
				return
			}
		}
	}

	if req.Smart.AvoidSRLevels {
		for _, sr := range req.SRLevels {
			distBps := lvl.Price.Sub(sr.Price).Abs().Div(lvl.Price).Mul(decimal.NewFromInt(10_000))
			threshold := decimal.NewFromFloat(req.Smart.SRLevelBufferBps)
			if distBps.LessThanOrEqual(threshold) && onWrongSide(lvl.Price, sr.Price, req.IsLong) {
				buffer := lvl.Price.Mul(decimal.NewFromFloat(req.Smart.SRLevelBufferBps / 10_000))
				if req.IsLong {
					lvl.Price = sr.Price.Sub(buffer)
				} else {
					lvl.Price = sr.Price.Add(buffer)
				}
				lvl.WasAdjusted = true
				lvl.AdjustReason = "sr_level"
				return
			}
		}
	}
}

// onWrongSide reports whether price has traveled past (or to) the S/R
// level in the direction of travel, meaning the TP would sit on/through
// structure instead of just short of it.
func onWrongSide(price, srPrice decimal.Decimal, isLong bool) bool {
	if isLong {
		return price.GreaterThanOrEqual(srPrice)
	}
	return price.LessThanOrEqual(srPrice)
}

func validateMonotone(levels []types.TakeProfitLevel, isLong bool) error {
	var sizeSum float64
	for _, l := range levels {
		sizeSum += l.SizePct
	}
	if sizeSum < 1-sizeTolerance || sizeSum > 1+sizeTolerance {
		return fmt.Errorf("size_pct sums to %.6f after adjustment", sizeSum)
	}
	for i := 1; i < len(levels); i++ {
		if isLong {
			if !levels[i].Price.GreaterThan(levels[i-1].Price) {
				return fmt.Errorf("tp[%d]=%s not strictly greater than tp[%d]=%s", i, levels[i].Price, i-1, levels[i-1].Price)
			}
		} else {
			if !levels[i].Price.LessThan(levels[i-1].Price) {
				return fmt.Errorf("tp[%d]=%s not strictly less than tp[%d]=%s", i, levels[i].Price, i-1, levels[i-1].Price)
			}
		}
	}
	return nil
}
