// Package position implements the Position State Machine (C9): the
// per-position lifecycle from entry confirmation through running,
// breakeven, trailing, and partial-closed to closed, plus the stop-loss
// ratchet that derives new SL proposals from each state.
package position

import (
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Phase is one state of the per-position lifecycle (PSM).
type Phase string

const (
	PhaseEntryConfirmation Phase = "entry_confirmation"
	PhaseRunning           Phase = "running"
	PhaseBreakeven         Phase = "breakeven"
	PhaseTrailing          Phase = "trailing"
	PhasePartialClosed     Phase = "partial_closed"
	PhaseClosed            Phase = "closed"
)

// Config holds the PSM's timing/threshold tunables (mirrors
// config.FSMConfig, decoupled from the preset package).
type Config struct {
	EntryConfirmationBars     int
	BreakevenLockProfitEnabled bool
	RunningBreakevenTriggerR  float64
	BreakevenBufferBps        float64
	TrailingActivationR       float64
	TrailingStepBps           float64
	PartialClosedTrailEnabled bool
	PartialClosedTrailStepBps float64
}

// Snapshot is the per-update input (§4.9 "PositionSnapshot").
type Snapshot struct {
	CurrentPrice      decimal.Decimal
	EntryPrice        decimal.Decimal
	StopLoss          decimal.Decimal
	IsLong            bool
	BarsSinceEntry    int
	HighestPrice      decimal.Decimal
	LowestPrice       decimal.Decimal
	TPLevelsHit       []int
	RemainingSizePct  float64
	UnrealizedPnLR    decimal.Decimal
	MaxUnrealizedPnLR decimal.Decimal
}

// Machine is one position's state machine instance.
type Machine struct {
	mu sync.Mutex

	cfg    Config
	phase  Phase
	logger *zap.Logger

	maxUnrealizedPnLR decimal.Decimal
}

// New builds a Machine starting in entry_confirmation.
func New(logger *zap.Logger, cfg Config) *Machine {
	return &Machine{
		cfg:    cfg,
		phase:  PhaseEntryConfirmation,
		logger: logger.Named("psm"),
	}
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// currentR computes current_r = (is_long ? current-entry : entry-current) / |entry-stop_loss|.
func currentR(s Snapshot) decimal.Decimal {
	denom := s.EntryPrice.Sub(s.StopLoss).Abs()
	if denom.IsZero() {
		return decimal.Zero
	}
	if s.IsLong {
		return s.CurrentPrice.Sub(s.EntryPrice).Div(denom)
	}
	return s.EntryPrice.Sub(s.CurrentPrice).Div(denom)
}

// Update evaluates the snapshot against the transition table (§4.9) and
// returns the (possibly updated) phase and the current R multiple.
func (m *Machine) Update(s Snapshot) (Phase, decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := currentR(s)
	if r.GreaterThan(m.maxUnrealizedPnLR) {
		m.maxUnrealizedPnLR = r
	}

	if m.phase == PhaseClosed {
		return m.phase, r
	}

	if m.phase == PhaseEntryConfirmation && s.BarsSinceEntry >= m.cfg.EntryConfirmationBars {
		m.transition(PhaseRunning)
	}

	rFloat, _ := r.Float64()

	if (m.phase == PhaseRunning) && m.cfg.BreakevenLockProfitEnabled && rFloat >= m.cfg.RunningBreakevenTriggerR {
		m.transition(PhaseBreakeven)
	}

	if (m.phase == PhaseRunning || m.phase == PhaseBreakeven) && m.cfg.TrailingActivationR > 0 && rFloat >= m.cfg.TrailingActivationR {
		m.transition(PhaseTrailing)
	}

	if m.isActive() && m.cfg.PartialClosedTrailEnabled && len(s.TPLevelsHit) > 0 && s.RemainingSizePct < 100 {
		m.transition(PhasePartialClosed)
	}

	return m.phase, r
}

func (m *Machine) isActive() bool {
	switch m.phase {
	case PhaseEntryConfirmation, PhaseRunning, PhaseBreakeven, PhaseTrailing, PhasePartialClosed:
		return true
	default:
		return false
	}
}

func (m *Machine) transition(to Phase) {
	if m.phase == to {
		return
	}
	m.logger.Debug("psm transition", zap.String("from", string(m.phase)), zap.String("to", string(to)))
	m.phase = to
}

// Close forces the machine to closed, bypassing the normal transition
// rules (§4.9 "any -> external close_position(reason) -> closed").
func (m *Machine) Close(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger.Info("psm closed", zap.String("reason", reason), zap.String("from", string(m.phase)))
	m.phase = PhaseClosed
}

// NewStopLoss computes the stop-loss proposal per §4.9's formulas. The
// second return is false when the current phase does not propose a new
// SL (only breakeven/trailing/partial_closed do).
func (m *Machine) NewStopLoss(s Snapshot) (decimal.Decimal, bool) {
	m.mu.Lock()
	phase := m.phase
	m.mu.Unlock()

	bps := func(v float64) decimal.Decimal { return decimal.NewFromFloat(v / 10_000) }

	switch phase {
	case PhaseBreakeven:
		offset := s.EntryPrice.Mul(bps(m.cfg.BreakevenBufferBps))
		if s.IsLong {
			return s.EntryPrice.Add(offset), true
		}
		return s.EntryPrice.Sub(offset), true
	case PhaseTrailing:
		offset := s.CurrentPrice.Mul(bps(m.cfg.TrailingStepBps))
		if s.IsLong {
			return s.CurrentPrice.Sub(offset), true
		}
		return s.CurrentPrice.Add(offset), true
	case PhasePartialClosed:
		if m.cfg.PartialClosedTrailStepBps <= 0 {
			return decimal.Zero, false
		}
		offset := s.CurrentPrice.Mul(bps(m.cfg.PartialClosedTrailStepBps))
		if s.IsLong {
			return s.CurrentPrice.Sub(offset), true
		}
		return s.CurrentPrice.Add(offset), true
	default:
		return decimal.Zero, false
	}
}

// ShouldUpdateStopLoss returns true only when proposed is strictly better
// than current for the position's side — the ratchet invariant that SL
// never moves against the trade.
func ShouldUpdateStopLoss(isLong bool, current, proposed decimal.Decimal) bool {
	if isLong {
		return proposed.GreaterThan(current)
	}
	return proposed.LessThan(current)
}
