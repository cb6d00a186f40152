// Package errs implements the engine's centralized error handling: error
// classification into severity/category/recovery strategy, per-component
// circuit breakers, and retry backoff computation. It is the Go
// counterpart of the Python ErrorHandler/CircuitBreaker collaborators,
// generalized from the teacher's mutex-guarded manager pattern.
package errs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/atlas-desktop/breakout-engine/internal/fsm"
)

// Severity ranks how serious a classified error is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Category groups errors by originating subsystem.
type Category string

const (
	CategoryNetwork       Category = "network"
	CategoryData          Category = "data"
	CategoryTrading       Category = "trading"
	CategorySystem        Category = "system"
	CategoryExternal      Category = "external"
	CategoryLogic         Category = "logic"
	CategoryConfiguration Category = "config"
)

// Strategy is the recovery strategy associated with a classified error.
type Strategy string

const (
	StrategyRetry     Strategy = "retry"
	StrategySkip      Strategy = "skip"
	StrategyReset     Strategy = "reset"
	StrategyEmergency Strategy = "emergency"
	StrategyIgnore    Strategy = "ignore"
)

// Sentinel errors components can classify explicitly by wrapping them,
// so classification does not have to rely on substring matching alone.
var (
	ErrNetwork  = errors.New("errs: network failure")
	ErrTimeout  = errors.New("errs: timeout")
	ErrData     = errors.New("errs: invalid data")
	ErrCritical = errors.New("errs: critical system failure")

	// ErrCircuitOpen is returned by WrapRetryable when the component/operation's
	// circuit breaker is open and the call is not attempted.
	ErrCircuitOpen = errors.New("errs: circuit breaker open")
)

type classification struct {
	severity Severity
	category Category
	strategy Strategy
}

// classifyBySentinel maps known sentinel causes to a classification,
// grounded on ERROR_CLASSIFICATION's exception-type table.
var classifyBySentinel = []struct {
	target error
	classification
}{
	{ErrNetwork, classification{SeverityHigh, CategoryNetwork, StrategyRetry}},
	{ErrTimeout, classification{SeverityMedium, CategoryNetwork, StrategyRetry}},
	{ErrData, classification{SeverityMedium, CategoryData, StrategySkip}},
	{ErrCritical, classification{SeverityCritical, CategorySystem, StrategyEmergency}},
}

func classify(err error) classification {
	for _, c := range classifyBySentinel {
		if errors.Is(err, c.target) {
			return c.classification
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "timeout", "connection", "network"):
		return classification{SeverityMedium, CategoryNetwork, StrategyRetry}
	case containsAny(msg, "permission", "access", "forbidden"):
		return classification{SeverityHigh, CategorySystem, StrategyEmergency}
	default:
		return classification{SeverityMedium, CategoryLogic, StrategyReset}
	}
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// Info describes one handled error occurrence.
type Info struct {
	Err         error
	Severity    Severity
	Category    Category
	Strategy    Strategy
	Component   string
	Operation   string
	Context     map[string]any
	Timestamp   time.Time
	RetryCount  int
}

// Action is the recommended follow-up after Handle classifies an error.
type Action struct {
	Strategy    Strategy
	ShouldRetry bool
	Delay       time.Duration
	NextPhase   fsm.Phase // empty means "no forced phase transition"
	Emergency   bool
}

// NotifyFunc is invoked for every handled error; errors it returns are
// logged, never propagated.
type NotifyFunc func(Info) error

// breakerState is the three-state circuit breaker machine.
type breakerState string

const (
	breakerClosed   breakerState = "closed"
	breakerOpen     breakerState = "open"
	breakerHalfOpen breakerState = "half_open"
)

// CircuitBreaker guards a single component/operation pair against
// cascading failures, grounded on the Python CircuitBreaker class.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	recoveryTimeout  time.Duration
	successThreshold int

	failureCount int
	successCount int
	lastFailure  time.Time
	state        breakerState
}

// NewCircuitBreaker builds a breaker with the given thresholds. Zero
// values fall back to the Python defaults (5 failures, 60s recovery, 3
// successes to close).
func NewCircuitBreaker(failureThreshold int, recoveryTimeout time.Duration, successThreshold int) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 60 * time.Second
	}
	if successThreshold <= 0 {
		successThreshold = 3
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		successThreshold: successThreshold,
		state:            breakerClosed,
	}
}

// State returns the breaker's current state, promoting open -> half_open
// once the recovery timeout has elapsed.
func (b *CircuitBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.stateLocked())
}

func (b *CircuitBreaker) stateLocked() breakerState {
	if b.state == breakerOpen && !b.lastFailure.IsZero() && time.Since(b.lastFailure) > b.recoveryTimeout {
		b.state = breakerHalfOpen
		b.successCount = 0
	}
	return b.state
}

// RecordSuccess registers a successful call.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.stateLocked() {
	case breakerHalfOpen:
		b.successCount++
		if b.successCount >= b.successThreshold {
			b.state = breakerClosed
			b.failureCount = 0
		}
	case breakerClosed:
		if b.failureCount > 0 {
			b.failureCount--
		}
	}
}

// RecordFailure registers a failed call.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount++
	b.lastFailure = timeNow()
	if b.failureCount >= b.failureThreshold {
		b.state = breakerOpen
	}
}

// CanExecute reports whether a call should be attempted.
func (b *CircuitBreaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stateLocked()
	return s == breakerClosed || s == breakerHalfOpen
}

// Handler is the centralized error-handling system: classification,
// history, per-(component,operation) circuit breakers, and retry backoff.
type Handler struct {
	mu sync.Mutex

	maxRetries     int
	retryBackoff   float64
	maxHistory     int
	notify         NotifyFunc
	logger         *zap.Logger

	history      []Info
	breakers     map[string]*CircuitBreaker
	errorCounts  map[Category]int
	totalErrors  int
}

// NewHandler builds a Handler. maxRetries/retryBackoff/maxHistory fall
// back to the Python defaults (3, 2.0, 1000) when zero.
func NewHandler(logger *zap.Logger, maxRetries int, retryBackoff float64, maxHistory int, notify NotifyFunc) *Handler {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryBackoff <= 0 {
		retryBackoff = 2.0
	}
	if maxHistory <= 0 {
		maxHistory = 1000
	}
	return &Handler{
		maxRetries:   maxRetries,
		retryBackoff: retryBackoff,
		maxHistory:   maxHistory,
		notify:       notify,
		logger:       logger.Named("errs"),
		breakers:     make(map[string]*CircuitBreaker),
		errorCounts:  make(map[Category]int),
	}
}

func circuitKey(component, operation string) string {
	return component + ":" + operation
}

// Breaker returns (creating if necessary) the circuit breaker for a
// component/operation pair.
func (h *Handler) Breaker(component, operation string) *CircuitBreaker {
	key := circuitKey(component, operation)
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.breakers[key]
	if !ok {
		b = NewCircuitBreaker(0, 0, 0)
		h.breakers[key] = b
	}
	return b
}

// RecordSuccess marks a successful call against the component/operation's
// circuit breaker.
func (h *Handler) RecordSuccess(component, operation string) {
	h.Breaker(component, operation).RecordSuccess()
}

// Handle classifies err, updates history/stats/circuit breaker state, and
// returns the recommended Action. retryCount is the number of prior
// attempts already made for this same logical operation.
func (h *Handler) Handle(ctx context.Context, err error, component, operation string, retryCount int, errCtx map[string]any) Action {
	cls := classify(err)
	info := Info{
		Err:        err,
		Severity:   cls.severity,
		Category:   cls.category,
		Strategy:   cls.strategy,
		Component:  component,
		Operation:  operation,
		Context:    errCtx,
		Timestamp:  timeNow(),
		RetryCount: retryCount,
	}

	h.mu.Lock()
	h.history = append(h.history, info)
	if len(h.history) > h.maxHistory {
		h.history = h.history[len(h.history)-h.maxHistory:]
	}
	h.errorCounts[cls.category]++
	h.totalErrors++
	h.mu.Unlock()

	breaker := h.Breaker(component, operation)
	breaker.RecordFailure()

	action := h.determineAction(info, breaker)

	if h.notify != nil {
		if nerr := h.notify(info); nerr != nil {
			h.logger.Error("error notification callback failed", zap.Error(nerr))
		}
	}

	h.logResult(info, action)
	return action
}

func (h *Handler) determineAction(info Info, breaker *CircuitBreaker) Action {
	action := Action{Strategy: info.Strategy}

	if !breaker.CanExecute() {
		action.Strategy = "circuit_open"
		action.NextPhase = fsm.PhaseError
		return action
	}

	switch info.Strategy {
	case StrategyRetry:
		if info.RetryCount < h.maxRetries {
			action.ShouldRetry = true
			b := &backoff.Backoff{
				Min:    time.Duration(float64(time.Second) * 1),
				Max:    60 * time.Second,
				Factor: h.retryBackoff,
				Jitter: false,
			}
			// Advance the backoff generator to retryCount attempts so the
			// delay matches retry_backoff**retry_count, capped at 60s.
			var delay time.Duration
			for i := 0; i <= info.RetryCount; i++ {
				delay = b.Duration()
			}
			if delay > 60*time.Second {
				delay = 60 * time.Second
			}
			action.Delay = delay
		} else {
			action.Strategy = "max_retries_exceeded"
			action.NextPhase = fsm.PhaseError
		}
	case StrategyEmergency:
		action.Emergency = true
		action.NextPhase = fsm.PhaseEmergency
	case StrategyReset:
		action.NextPhase = fsm.PhaseIdle
	case StrategySkip, StrategyIgnore:
		// no-op, caller continues
	}
	return action
}

func (h *Handler) logResult(info Info, action Action) {
	fields := []zap.Field{
		zap.String("component", info.Component),
		zap.String("operation", info.Operation),
		zap.String("category", string(info.Category)),
		zap.String("recovery", string(action.Strategy)),
		zap.Error(info.Err),
	}
	switch info.Severity {
	case SeverityCritical:
		h.logger.Error("critical error", fields...)
	case SeverityHigh:
		h.logger.Error("high severity error", fields...)
	case SeverityMedium:
		h.logger.Warn("medium severity error", fields...)
	default:
		h.logger.Info("low severity error", fields...)
	}
}

// Statistics is a snapshot of the handler's error counters.
type Statistics struct {
	TotalErrors     int
	ErrorsByCategory map[Category]int
	CircuitBreakers  map[string]string
	RecentErrors     int
}

// Stats returns a snapshot of the handler's error statistics.
func (h *Handler) Stats() Statistics {
	h.mu.Lock()
	defer h.mu.Unlock()

	byCategory := make(map[Category]int, len(h.errorCounts))
	for k, v := range h.errorCounts {
		byCategory[k] = v
	}
	breakers := make(map[string]string, len(h.breakers))
	for k, b := range h.breakers {
		breakers[k] = b.State()
	}
	return Statistics{
		TotalErrors:      h.totalErrors,
		ErrorsByCategory: byCategory,
		CircuitBreakers:  breakers,
		RecentErrors:     len(h.history),
	}
}

// RecentErrors returns up to limit of the most recently handled errors
// (all of them if limit <= 0).
func (h *Handler) RecentErrors(limit int) []Info {
	h.mu.Lock()
	defer h.mu.Unlock()
	if limit <= 0 || limit >= len(h.history) {
		out := make([]Info, len(h.history))
		copy(out, h.history)
		return out
	}
	out := make([]Info, limit)
	copy(out, h.history[len(h.history)-limit:])
	return out
}

// WrapRetryable is a convenience helper for callers that want classify +
// circuit-breaker gating around a single fallible call without threading
// retryCount manually: it runs fn until it succeeds, the breaker opens, or
// the action says to stop retrying, sleeping the recommended delay
// between attempts.
func (h *Handler) WrapRetryable(ctx context.Context, component, operation string, fn func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if !h.Breaker(component, operation).CanExecute() {
			return fmt.Errorf("%s.%s: %w", component, operation, ErrCircuitOpen)
		}
		err := fn(ctx)
		if err == nil {
			h.RecordSuccess(component, operation)
			return nil
		}
		action := h.Handle(ctx, err, component, operation, attempt, nil)
		if !action.ShouldRetry {
			return fmt.Errorf("%s.%s: %w", component, operation, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(action.Delay):
		}
	}
}

var timeNow = time.Now
