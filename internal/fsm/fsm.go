// Package fsm implements the engine's global phase state machine: phase
// transition validation, bounded transition history, and transition
// notification callbacks. It is the Go counterpart of the Python
// StateMachine collaborator, generalized from the teacher's mutex-guarded
// component pattern (internal/execution/risk_manager.go).
package fsm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Phase is one state of the engine state machine (ESM).
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseInitializing   Phase = "initializing"
	PhaseScanning       Phase = "scanning"
	PhaseLevelBuilding  Phase = "level_building"
	PhaseSignalWait     Phase = "signal_wait"
	PhaseSizing         Phase = "sizing"
	PhaseExecution      Phase = "execution"
	PhaseManaging       Phase = "managing"
	PhasePaused         Phase = "paused"
	PhaseError          Phase = "error"
	PhaseEmergency      Phase = "emergency"
	PhaseStopped        Phase = "stopped"
)

// transitionTimeout bounds how long Transition will wait to acquire the
// machine's lock before giving up, mirroring the Python implementation's
// asyncio.timeout(5.0) around the critical section.
const transitionTimeout = 5 * time.Second

// maxHistory bounds the retained transition log.
const maxHistory = 100

// validTransitions is the allowed-transition table, grounded verbatim on
// original_source/breakout_bot/core/state_machine.py's VALID_TRANSITIONS.
var validTransitions = map[Phase]map[Phase]bool{
	PhaseIdle: set(PhaseInitializing, PhaseScanning, PhaseStopped, PhaseError),
	PhaseInitializing: set(PhaseScanning, PhaseError, PhaseEmergency, PhaseStopped),
	PhaseScanning: set(PhaseLevelBuilding, PhaseManaging, PhasePaused, PhaseError, PhaseEmergency, PhaseStopped),
	PhaseLevelBuilding: set(PhaseSignalWait, PhaseScanning, PhaseError, PhaseEmergency, PhaseStopped),
	PhaseSignalWait: set(PhaseSizing, PhaseManaging, PhaseScanning, PhasePaused, PhaseError, PhaseEmergency, PhaseStopped),
	PhaseSizing: set(PhaseExecution, PhaseScanning, PhaseError, PhaseEmergency, PhaseStopped),
	PhaseExecution: set(PhaseManaging, PhaseScanning, PhaseError, PhaseEmergency, PhaseStopped),
	PhaseManaging: set(PhaseScanning, PhaseManaging, PhasePaused, PhaseError, PhaseEmergency, PhaseStopped),
	PhasePaused: set(PhaseScanning, PhaseManaging, PhaseIdle, PhaseError, PhaseEmergency, PhaseStopped),
	PhaseError: set(PhaseScanning, PhaseManaging, PhaseIdle, PhaseEmergency, PhaseStopped),
	PhaseEmergency: set(PhaseStopped, PhaseIdle),
	PhaseStopped: set(PhaseIdle, PhaseInitializing),
}

func set(phases ...Phase) map[Phase]bool {
	m := make(map[Phase]bool, len(phases))
	for _, p := range phases {
		m[p] = true
	}
	return m
}

// Transition records a single phase change.
type Transition struct {
	From      Phase
	To        Phase
	Reason    string
	Metadata  map[string]any
	Timestamp time.Time
}

// NotifyFunc is invoked after a committed transition. Errors are logged,
// never propagated back to the caller of Transition.
type NotifyFunc func(Transition) error

// Machine is the engine state machine: it owns the current phase, the
// previous phase, and a bounded transition history, and validates every
// transition against validTransitions unless forced.
type Machine struct {
	mu sync.Mutex

	current  Phase
	previous Phase
	history  []Transition
	notify   NotifyFunc

	logger *zap.Logger
}

// New constructs a Machine starting in initial (PhaseIdle if empty).
func New(logger *zap.Logger, initial Phase, notify NotifyFunc) *Machine {
	if initial == "" {
		initial = PhaseIdle
	}
	return &Machine{
		current: initial,
		logger:  logger.Named("fsm"),
		notify:  notify,
	}
}

// Current returns the current phase.
func (m *Machine) Current() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Previous returns the phase before the current one.
func (m *Machine) Previous() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.previous
}

// CanTransition reports whether to can be reached from the current phase.
func (m *Machine) CanTransition(to Phase) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canTransitionLocked(to)
}

func (m *Machine) canTransitionLocked(to Phase) bool {
	allowed, ok := validTransitions[m.current]
	if !ok {
		return false
	}
	return allowed[to]
}

// Transition attempts to move the machine to the given phase. force skips
// the allowed-transition check. It returns false, nil if the transition was
// rejected as invalid, and a non-nil error only if the lock could not be
// acquired within transitionTimeout.
func (m *Machine) Transition(ctx context.Context, to Phase, reason string, metadata map[string]any, force bool) (bool, error) {
	lockCtx, cancel := context.WithTimeout(ctx, transitionTimeout)
	defer cancel()

	acquired := make(chan struct{})
	go func() {
		m.mu.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-lockCtx.Done():
		m.logger.Error("timeout waiting for fsm lock", zap.String("to", string(to)))
		return false, fmt.Errorf("fsm: timeout acquiring lock for transition to %s: %w", to, lockCtx.Err())
	}
	defer m.mu.Unlock()

	if !force && !m.canTransitionLocked(to) {
		m.logger.Warn("invalid transition attempt",
			zap.String("from", string(m.current)), zap.String("to", string(to)), zap.String("reason", reason))
		return false, nil
	}

	transition := Transition{
		From:      m.current,
		To:        to,
		Reason:    reason,
		Metadata:  metadata,
		Timestamp: timeNow(),
	}

	m.previous = m.current
	m.current = to
	m.history = append(m.history, transition)
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-maxHistory:]
	}

	m.logger.Info("state transition",
		zap.String("from", string(transition.From)), zap.String("to", string(transition.To)), zap.String("reason", reason))

	if m.notify != nil {
		if err := m.notify(transition); err != nil {
			m.logger.Error("transition notify callback failed", zap.Error(err))
		}
	}
	return true, nil
}

// History returns up to limit of the most recent transitions (all of them
// if limit <= 0).
func (m *Machine) History(limit int) []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit >= len(m.history) {
		out := make([]Transition, len(m.history))
		copy(out, m.history)
		return out
	}
	out := make([]Transition, limit)
	copy(out, m.history[len(m.history)-limit:])
	return out
}

// ValidNextPhases returns the phases reachable from the current phase.
func (m *Machine) ValidNextPhases() []Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	allowed := validTransitions[m.current]
	out := make([]Phase, 0, len(allowed))
	for p := range allowed {
		out = append(out, p)
	}
	return out
}

// IsTerminal reports whether the current phase is stopped or emergency.
func (m *Machine) IsTerminal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current == PhaseStopped || m.current == PhaseEmergency
}

// IsErrorPhase reports whether the current phase is error or emergency.
func (m *Machine) IsErrorPhase() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current == PhaseError || m.current == PhaseEmergency
}

// IsTradingActive reports whether the current phase is one of the
// actively-trading phases.
func (m *Machine) IsTradingActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.current {
	case PhaseScanning, PhaseLevelBuilding, PhaseSignalWait, PhaseSizing, PhaseExecution, PhaseManaging:
		return true
	default:
		return false
	}
}

// ResetToInitial forces the machine back to idle, bypassing validation.
func (m *Machine) ResetToInitial(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger.Info("resetting fsm to idle", zap.String("reason", reason))
	m.previous = m.current
	m.current = PhaseIdle
}

// timeNow is a package-level indirection so tests can stub time if needed;
// production code always uses the wall clock.
var timeNow = time.Now
