package fsm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMachine_ValidTransitionSequence(t *testing.T) {
	m := New(zap.NewNop(), PhaseIdle, nil)

	seq := []Phase{
		PhaseInitializing, PhaseScanning, PhaseLevelBuilding,
		PhaseSignalWait, PhaseSizing, PhaseExecution, PhaseManaging, PhaseScanning,
	}
	for _, to := range seq {
		ok, err := m.Transition(context.Background(), to, "advance", nil, false)
		require.NoError(t, err)
		assert.Truef(t, ok, "expected transition to %s to succeed", to)
		assert.Equal(t, to, m.Current())
	}
}

func TestMachine_RejectsInvalidTransition(t *testing.T) {
	m := New(zap.NewNop(), PhaseIdle, nil)

	ok, err := m.Transition(context.Background(), PhaseExecution, "skip ahead", nil, false)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, PhaseIdle, m.Current())
}

func TestMachine_ForceBypassesValidation(t *testing.T) {
	m := New(zap.NewNop(), PhaseIdle, nil)

	ok, err := m.Transition(context.Background(), PhaseExecution, "forced", nil, true)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, PhaseExecution, m.Current())
}

func TestMachine_ManagingSelfTransitionIsRecordedAndNotified(t *testing.T) {
	var notified []Transition
	m := New(zap.NewNop(), PhaseManaging, func(t Transition) error {
		notified = append(notified, t)
		return nil
	})

	ok, err := m.Transition(context.Background(), PhaseManaging, "keepalive", nil, false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, PhaseManaging, m.Current())
	history := m.History(0)
	require.Len(t, history, 1)
	assert.Equal(t, PhaseManaging, history[0].From)
	assert.Equal(t, PhaseManaging, history[0].To)
	require.Len(t, notified, 1)
}

func TestMachine_SameStateTransitionOutsideManagingIsRejected(t *testing.T) {
	m := New(zap.NewNop(), PhaseScanning, nil)

	ok, err := m.Transition(context.Background(), PhaseScanning, "noop", nil, false)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, m.History(0))
}

func TestMachine_HistoryBounded(t *testing.T) {
	m := New(zap.NewNop(), PhaseManaging, nil)

	for i := 0; i < maxHistory+10; i++ {
		to := PhaseScanning
		if i%2 == 1 {
			to = PhaseManaging
		}
		_, err := m.Transition(context.Background(), to, "cycle", nil, true)
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, len(m.History(0)), maxHistory)
}

func TestMachine_NotifyCallbackInvoked(t *testing.T) {
	var got Transition
	m := New(zap.NewNop(), PhaseIdle, func(tr Transition) error {
		got = tr
		return nil
	})

	_, err := m.Transition(context.Background(), PhaseScanning, "go", nil, true)
	require.NoError(t, err)
	assert.Equal(t, PhaseIdle, got.From)
	assert.Equal(t, PhaseScanning, got.To)
}

func TestMachine_TerminalAndErrorAndActive(t *testing.T) {
	m := New(zap.NewNop(), PhaseStopped, nil)
	assert.True(t, m.IsTerminal())

	m2 := New(zap.NewNop(), PhaseError, nil)
	assert.True(t, m2.IsErrorPhase())

	m3 := New(zap.NewNop(), PhaseExecution, nil)
	assert.True(t, m3.IsTradingActive())
}

func TestMachine_ResetToInitial(t *testing.T) {
	m := New(zap.NewNop(), PhaseManaging, nil)
	m.ResetToInitial("test reset")
	assert.Equal(t, PhaseIdle, m.Current())
	assert.Equal(t, PhaseManaging, m.Previous())
}
