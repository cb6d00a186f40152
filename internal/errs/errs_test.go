package errs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/breakout-engine/internal/fsm"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute, 2)
	assert.Equal(t, "closed", cb.State())

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, "closed", cb.State())
	cb.RecordFailure()
	assert.Equal(t, "open", cb.State())
	assert.False(t, cb.CanExecute())
}

func TestCircuitBreaker_HalfOpenAfterRecoveryTimeout(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond, 1)
	cb.RecordFailure()
	require.Equal(t, "open", cb.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, "half_open", cb.State())
	assert.True(t, cb.CanExecute())

	cb.RecordSuccess()
	assert.Equal(t, "closed", cb.State())
}

func TestHandler_ClassifiesSentinelErrors(t *testing.T) {
	h := NewHandler(zap.NewNop(), 3, 2.0, 100, nil)

	action := h.Handle(context.Background(), ErrNetwork, "scanner", "fetch", 0, nil)
	assert.Equal(t, StrategyRetry, action.Strategy)
	assert.True(t, action.ShouldRetry)
	assert.Greater(t, action.Delay, time.Duration(0))
}

func TestHandler_EmergencyStrategyRecommendsEmergencyPhase(t *testing.T) {
	h := NewHandler(zap.NewNop(), 3, 2.0, 100, nil)

	action := h.Handle(context.Background(), ErrCritical, "risk", "check", 0, nil)
	assert.True(t, action.Emergency)
	assert.Equal(t, fsm.PhaseEmergency, action.NextPhase)
}

func TestHandler_MaxRetriesExceeded(t *testing.T) {
	h := NewHandler(zap.NewNop(), 2, 2.0, 100, nil)

	action := h.Handle(context.Background(), ErrNetwork, "exchange", "order", 2, nil)
	assert.Equal(t, Strategy("max_retries_exceeded"), action.Strategy)
	assert.Equal(t, fsm.PhaseError, action.NextPhase)
	assert.False(t, action.ShouldRetry)
}

func TestHandler_CircuitOpenShortCircuitsAction(t *testing.T) {
	h := NewHandler(zap.NewNop(), 5, 2.0, 100, nil)
	for i := 0; i < 5; i++ {
		h.Handle(context.Background(), ErrNetwork, "exchange", "order", 0, nil)
	}
	action := h.Handle(context.Background(), ErrNetwork, "exchange", "order", 0, nil)
	assert.Equal(t, Strategy("circuit_open"), action.Strategy)
}

func TestHandler_UnknownErrorClassifiesByMessage(t *testing.T) {
	h := NewHandler(zap.NewNop(), 3, 2.0, 100, nil)

	action := h.Handle(context.Background(), errors.New("connection reset by peer"), "exchange", "ws", 0, nil)
	assert.Equal(t, StrategyRetry, action.Strategy)
}

func TestHandler_WrapRetryableSucceedsAfterTransientFailure(t *testing.T) {
	h := NewHandler(zap.NewNop(), 3, 1.01, 100, nil)
	calls := 0
	err := h.WrapRetryable(context.Background(), "exchange", "ping", func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return ErrNetwork
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestHandler_WrapRetryableReturnsCircuitOpen(t *testing.T) {
	h := NewHandler(zap.NewNop(), 1, 1.01, 100, nil)
	// Each run records up to two failures (one attempt plus one retry); three
	// runs reach the breaker's default threshold of 5 failures and open it.
	for i := 0; i < 3; i++ {
		_ = h.WrapRetryable(context.Background(), "exchange", "ping", func(ctx context.Context) error {
			return ErrNetwork
		})
	}
	err := h.WrapRetryable(context.Background(), "exchange", "ping", func(ctx context.Context) error {
		return ErrNetwork
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestHandler_StatsAndRecentErrors(t *testing.T) {
	h := NewHandler(zap.NewNop(), 3, 2.0, 2, nil)
	h.Handle(context.Background(), ErrData, "signals", "parse", 0, nil)
	h.Handle(context.Background(), ErrData, "signals", "parse", 0, nil)
	h.Handle(context.Background(), ErrData, "signals", "parse", 0, nil)

	stats := h.Stats()
	assert.Equal(t, 3, stats.TotalErrors)
	assert.Equal(t, 3, stats.ErrorsByCategory[CategoryData])
	assert.Len(t, h.RecentErrors(0), 2) // bounded by maxHistory=2
}
