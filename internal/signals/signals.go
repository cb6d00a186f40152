// Package signals implements the Signal Manager (C5): turns scan
// candidates into momentum/retest signals, expires stale ones, drops
// duplicates, and applies the microstructure filters (§4.5).
package signals

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/breakout-engine/internal/exchange"
	"github.com/atlas-desktop/breakout-engine/internal/takeprofit"
	"github.com/atlas-desktop/breakout-engine/pkg/types"
)

// MomentumConfig mirrors config.MomentumConfig, decoupled from the
// preset package.
type MomentumConfig struct {
	EpsilonBps       float64
	VolumeMultiplier float64
	BodyRatioMin     float64
}

// RetestConfig mirrors config.RetestConfig.
type RetestConfig struct {
	PierceToleranceBps float64
	MaxPierceATR       float64
}

// MicrostructureConfig mirrors config.MicrostructureConfig.
type MicrostructureConfig struct {
	EnterOnDensityEatRatio float64
	ActivityDropThreshold  float64
}

// Config bundles the Signal Manager's tunables.
type Config struct {
	MaxActiveSignals   int
	MaxHistory         int
	SignalTimeout      time.Duration
	DuplicateTolerance float64 // fraction, default 0.001 (0.1%)
	Momentum           MomentumConfig
	Retest             RetestConfig
	Microstructure     MicrostructureConfig
	TPLevels           []takeprofit.LevelConfig
	TPSmart            takeprofit.SmartPlacement
}

// Manager is the Signal Manager (C5). Collaborators are optional: a nil
// interface simply disables the corresponding microstructure check.
type Manager struct {
	mu sync.Mutex

	cfg    Config
	logger *zap.Logger

	tpmTracker exchange.TradesPerMinuteTracker
	density    exchange.DensityDetector
	activity   exchange.ActivityTracker

	active  []types.Signal
	history []types.Signal
}

// New builds a Manager. Any of tpm/density/activity may be nil.
func New(logger *zap.Logger, cfg Config, tpm exchange.TradesPerMinuteTracker, density exchange.DensityDetector, activity exchange.ActivityTracker) *Manager {
	if cfg.MaxActiveSignals <= 0 {
		cfg.MaxActiveSignals = 50
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 1000
	}
	if cfg.SignalTimeout <= 0 {
		cfg.SignalTimeout = 15 * time.Minute
	}
	if cfg.DuplicateTolerance <= 0 {
		cfg.DuplicateTolerance = 0.001
	}
	return &Manager{
		cfg:        cfg,
		logger:     logger.Named("signals"),
		tpmTracker: tpm,
		density:    density,
		activity:   activity,
	}
}

// ActiveSignals returns a copy of the currently active signals.
func (m *Manager) ActiveSignals() []types.Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Signal, len(m.active))
	copy(out, m.active)
	return out
}

// History returns up to limit most-recent historical signals.
func (m *Manager) History(limit int) []types.Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.history) {
		limit = len(m.history)
	}
	out := make([]types.Signal, limit)
	copy(out, m.history[len(m.history)-limit:])
	return out
}

// Process runs one Signal Manager cycle over the latest scan results
// (§4.5, steps 1-5) and returns the newly admitted signals.
func (m *Manager) Process(now time.Time, results []types.ScanResult) []types.Signal {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expireLocked(now)

	var admitted []types.Signal
	for _, r := range results {
		candidates := m.generateLocked(now, r)
		for _, sig := range candidates {
			if m.isDuplicateLocked(sig) {
				continue
			}
			if !m.passesMicrostructureLocked(sig) {
				continue
			}
			if len(m.active) >= m.cfg.MaxActiveSignals {
				m.logger.Warn("active signal cap reached, dropping candidate",
					zap.String("symbol", sig.Symbol), zap.Int("cap", m.cfg.MaxActiveSignals))
				continue
			}
			m.active = append(m.active, sig)
			admitted = append(admitted, sig)
		}
	}
	return admitted
}

// MarkExecuted/MarkFailed/MarkRemoved move an active signal to history
// with the given terminal status.
func (m *Manager) MarkExecuted(id string) { m.retire(id, types.SignalStatusExecuted) }
func (m *Manager) MarkFailed(id string)   { m.retire(id, types.SignalStatusFailed) }
func (m *Manager) MarkRemoved(id string)  { m.retire(id, types.SignalStatusRemoved) }

func (m *Manager) retire(id string, status types.SignalStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.active {
		if s.ID == id {
			s.Status = status
			m.active = append(m.active[:i], m.active[i+1:]...)
			m.appendHistoryLocked(s)
			return
		}
	}
}

func (m *Manager) expireLocked(now time.Time) {
	kept := m.active[:0:0]
	for _, s := range m.active {
		if now.Sub(s.CreatedAt) > m.cfg.SignalTimeout {
			s.Status = types.SignalStatusExpired
			m.appendHistoryLocked(s)
			continue
		}
		kept = append(kept, s)
	}
	m.active = kept
}

func (m *Manager) appendHistoryLocked(s types.Signal) {
	m.history = append(m.history, s)
	if len(m.history) > m.cfg.MaxHistory {
		m.history = m.history[len(m.history)-m.cfg.MaxHistory:]
	}
}

// isDuplicateLocked reports whether sig matches an active signal on
// symbol, side, and entry within the configured tolerance (§4.5 step 3).
func (m *Manager) isDuplicateLocked(sig types.Signal) bool {
	tol := decimal.NewFromFloat(m.cfg.DuplicateTolerance)
	for _, a := range m.active {
		if a.Symbol != sig.Symbol || a.Side != sig.Side {
			continue
		}
		if a.Entry.IsZero() {
			continue
		}
		diff := sig.Entry.Sub(a.Entry).Abs().Div(a.Entry)
		if diff.LessThanOrEqual(tol) {
			return true
		}
	}
	return false
}

// passesMicrostructureLocked applies §4.5.3's filters.
func (m *Manager) passesMicrostructureLocked(sig types.Signal) bool {
	if m.activity != nil && m.activity.IsDropping(sig.Symbol) {
		return false
	}
	if sig.Strategy == types.StrategyRetest && m.tpmTracker != nil {
		tpm, ok := m.tpmTracker.TradesPerMinute(sig.Symbol)
		if ok && tpm == 0 {
			return false
		}
	}
	// Density eaten-ratio is diagnostic-only for momentum (§4.5.3); it is
	// noted in the signal's Reason by momentumSignal rather than used to
	// reject here.
	return true
}

func (m *Manager) generateLocked(now time.Time, r types.ScanResult) []types.Signal {
	var out []types.Signal
	if sig, ok := m.momentumSignal(now, r); ok {
		out = append(out, sig)
	}
	if sig, ok := m.retestSignal(now, r); ok {
		out = append(out, sig)
	}
	return out
}

func (m *Manager) densityEatenRatio(symbol string, side types.Side) (float64, bool) {
	if m.density == nil {
		return 0, false
	}
	return m.density.EatenRatio(symbol, side)
}
