package takeprofit

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/breakout-engine/pkg/types"
)

func TestOptimize_BaseLaddderNoSmartPlacement(t *testing.T) {
	req := Request{
		Entry:    decimal.NewFromInt(100),
		StopLoss: decimal.NewFromInt(95),
		IsLong:   true,
		Levels: []LevelConfig{
			{RewardMultiple: 1, SizePct: 0.5},
			{RewardMultiple: 2, SizePct: 0.5},
		},
	}
	result, err := Optimize(zap.NewNop(), req)
	require.NoError(t, err)
	assert.True(t, result.Levels[0].Price.Equal(decimal.NewFromInt(105)))
	assert.True(t, result.Levels[1].Price.Equal(decimal.NewFromInt(110)))
	assert.InDelta(t, 1.5, result.ExpectedReward, 0.0001)
}

func TestOptimize_DensityZoneAvoidance(t *testing.T) {
	req := Request{
		Entry:    decimal.NewFromInt(100),
		StopLoss: decimal.NewFromInt(95),
		IsLong:   true,
		Levels: []LevelConfig{
			{RewardMultiple: 4, SizePct: 1.0},
		},
		Smart: SmartPlacement{
			Enabled:              true,
			AvoidDensityZones:    true,
			DensityZoneBufferBps: 10,
		},
		DensityZones: []types.DensityZone{
			{PriceStart: decimal.NewFromInt(118), PriceEnd: decimal.NewFromInt(122)},
		},
	}
	result, err := Optimize(zap.NewNop(), req)
	require.NoError(t, err)
	assert.True(t, result.Levels[0].WasAdjusted)
	expected := decimal.NewFromFloat(117.88)
	assert.True(t, result.Levels[0].Price.Sub(expected).Abs().LessThan(decimal.NewFromFloat(0.0001)),
		"got %s want ~%s", result.Levels[0].Price, expected)
}

func TestOptimize_ShortSideMirrors(t *testing.T) {
	req := Request{
		Entry:    decimal.NewFromInt(100),
		StopLoss: decimal.NewFromInt(105),
		IsLong:   false,
		Levels: []LevelConfig{
			{RewardMultiple: 1, SizePct: 1.0},
		},
	}
	result, err := Optimize(zap.NewNop(), req)
	require.NoError(t, err)
	assert.True(t, result.Levels[0].Price.Equal(decimal.NewFromInt(95)))
}

func TestOptimize_RejectsEmptyLevels(t *testing.T) {
	_, err := Optimize(zap.NewNop(), Request{
		Entry:    decimal.NewFromInt(100),
		StopLoss: decimal.NewFromInt(95),
		IsLong:   true,
	})
	assert.ErrorIs(t, err, ErrNoTPLevels)
}

func TestOptimize_RejectsBadSizeSum(t *testing.T) {
	_, err := Optimize(zap.NewNop(), Request{
		Entry:    decimal.NewFromInt(100),
		StopLoss: decimal.NewFromInt(95),
		IsLong:   true,
		Levels: []LevelConfig{
			{RewardMultiple: 1, SizePct: 0.5},
			{RewardMultiple: 2, SizePct: 0.3},
		},
	})
	assert.Error(t, err)
}

func TestOptimize_IdempotentWithoutZonesOrLevels(t *testing.T) {
	req := Request{
		Entry:    decimal.NewFromInt(100),
		StopLoss: decimal.NewFromInt(95),
		IsLong:   true,
		Levels: []LevelConfig{
			{RewardMultiple: 1, SizePct: 1.0},
		},
		Smart: SmartPlacement{Enabled: true, AvoidDensityZones: true, AvoidSRLevels: true},
	}
	first, err := Optimize(zap.NewNop(), req)
	require.NoError(t, err)
	second, err := Optimize(zap.NewNop(), req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestOptimize_MonotoneMultiLevelLong(t *testing.T) {
	req := Request{
		Entry:    decimal.NewFromInt(50_000),
		StopLoss: decimal.NewFromInt(49_000),
		IsLong:   true,
		Levels: []LevelConfig{
			{RewardMultiple: 1.0, SizePct: 0.3},
			{RewardMultiple: 2.0, SizePct: 0.3},
			{RewardMultiple: 3.5, SizePct: 0.4},
		},
	}
	result, err := Optimize(zap.NewNop(), req)
	require.NoError(t, err)
	for i := 1; i < len(result.Levels); i++ {
		assert.True(t, result.Levels[i].Price.GreaterThan(result.Levels[i-1].Price))
	}
}
