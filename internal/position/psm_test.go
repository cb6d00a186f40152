package position

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func defaultConfig() Config {
	return Config{
		EntryConfirmationBars:      2,
		BreakevenLockProfitEnabled: true,
		RunningBreakevenTriggerR:   1.5,
		BreakevenBufferBps:        5,
		TrailingActivationR:       2.0,
		TrailingStepBps:           50,
		PartialClosedTrailEnabled: true,
		PartialClosedTrailStepBps: 30,
	}
}

func TestPSM_EntryConfirmationToRunning(t *testing.T) {
	m := New(zap.NewNop(), defaultConfig())
	phase, _ := m.Update(Snapshot{
		EntryPrice: decimal.NewFromInt(50_000), StopLoss: decimal.NewFromInt(49_000),
		CurrentPrice: decimal.NewFromInt(50_100), IsLong: true, BarsSinceEntry: 1,
	})
	assert.Equal(t, PhaseEntryConfirmation, phase)

	phase, _ = m.Update(Snapshot{
		EntryPrice: decimal.NewFromInt(50_000), StopLoss: decimal.NewFromInt(49_000),
		CurrentPrice: decimal.NewFromInt(50_100), IsLong: true, BarsSinceEntry: 2,
	})
	assert.Equal(t, PhaseRunning, phase)
}

func TestPSM_RunningToBreakevenToTrailing(t *testing.T) {
	m := New(zap.NewNop(), defaultConfig())
	m.Update(Snapshot{EntryPrice: decimal.NewFromInt(50_000), StopLoss: decimal.NewFromInt(49_000), IsLong: true, BarsSinceEntry: 5, CurrentPrice: decimal.NewFromInt(50_000)})
	assert.Equal(t, PhaseRunning, m.Phase())

	phase, r := m.Update(Snapshot{
		EntryPrice: decimal.NewFromInt(50_000), StopLoss: decimal.NewFromInt(49_000),
		CurrentPrice: decimal.NewFromInt(51_500), IsLong: true, BarsSinceEntry: 6,
	})
	assert.Equal(t, PhaseBreakeven, phase)
	assert.True(t, r.Equal(decimal.NewFromFloat(1.5)))

	phase, r = m.Update(Snapshot{
		EntryPrice: decimal.NewFromInt(50_000), StopLoss: decimal.NewFromInt(49_000),
		CurrentPrice: decimal.NewFromInt(52_000), IsLong: true, BarsSinceEntry: 7,
	})
	assert.Equal(t, PhaseTrailing, phase)
	assert.True(t, r.Equal(decimal.NewFromInt(2)))
}

func TestPSM_PartialClosedWhenTPHitAndSizeReduced(t *testing.T) {
	m := New(zap.NewNop(), defaultConfig())
	m.Update(Snapshot{EntryPrice: decimal.NewFromInt(50_000), StopLoss: decimal.NewFromInt(49_000), IsLong: true, BarsSinceEntry: 5, CurrentPrice: decimal.NewFromInt(50_000)})

	phase, _ := m.Update(Snapshot{
		EntryPrice: decimal.NewFromInt(50_000), StopLoss: decimal.NewFromInt(49_000),
		CurrentPrice: decimal.NewFromInt(50_500), IsLong: true, BarsSinceEntry: 6,
		TPLevelsHit: []int{0}, RemainingSizePct: 70,
	})
	assert.Equal(t, PhasePartialClosed, phase)
}

func TestPSM_CloseForcesClosedFromAnyPhase(t *testing.T) {
	m := New(zap.NewNop(), defaultConfig())
	m.Close("stop_loss_hit")
	assert.Equal(t, PhaseClosed, m.Phase())

	phase, _ := m.Update(Snapshot{EntryPrice: decimal.NewFromInt(100), StopLoss: decimal.NewFromInt(90), CurrentPrice: decimal.NewFromInt(200), IsLong: true})
	assert.Equal(t, PhaseClosed, phase)
}

func TestPSM_NewStopLossBreakevenFormula(t *testing.T) {
	m := New(zap.NewNop(), defaultConfig())
	m.Update(Snapshot{EntryPrice: decimal.NewFromInt(50_000), StopLoss: decimal.NewFromInt(49_000), IsLong: true, BarsSinceEntry: 5, CurrentPrice: decimal.NewFromInt(50_000)})
	m.Update(Snapshot{EntryPrice: decimal.NewFromInt(50_000), StopLoss: decimal.NewFromInt(49_000), CurrentPrice: decimal.NewFromInt(51_500), IsLong: true, BarsSinceEntry: 6})

	sl, ok := m.NewStopLoss(Snapshot{EntryPrice: decimal.NewFromInt(50_000), CurrentPrice: decimal.NewFromInt(51_500), IsLong: true})
	assert.True(t, ok)
	// 50000 + 50000*0.0005 = 50025
	assert.True(t, sl.Equal(decimal.NewFromInt(50_025)))
}

func TestPSM_NewStopLossNoneInEntryConfirmation(t *testing.T) {
	m := New(zap.NewNop(), defaultConfig())
	_, ok := m.NewStopLoss(Snapshot{EntryPrice: decimal.NewFromInt(100), CurrentPrice: decimal.NewFromInt(105), IsLong: true})
	assert.False(t, ok)
}

func TestShouldUpdateStopLoss_RatchetLong(t *testing.T) {
	assert.True(t, ShouldUpdateStopLoss(true, decimal.NewFromInt(100), decimal.NewFromInt(101)))
	assert.False(t, ShouldUpdateStopLoss(true, decimal.NewFromInt(100), decimal.NewFromInt(99)))
}

func TestShouldUpdateStopLoss_RatchetShort(t *testing.T) {
	assert.True(t, ShouldUpdateStopLoss(false, decimal.NewFromInt(100), decimal.NewFromInt(99)))
	assert.False(t, ShouldUpdateStopLoss(false, decimal.NewFromInt(100), decimal.NewFromInt(101)))
}
