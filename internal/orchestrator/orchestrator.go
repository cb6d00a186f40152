// Package orchestrator implements the Trading Orchestrator (C10): a
// single-threaded async loop that dispatches the Engine State Machine's
// phases to C2-C9 collaborators (§4.10).
package orchestrator

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/breakout-engine/internal/errs"
	"github.com/atlas-desktop/breakout-engine/internal/exchange"
	"github.com/atlas-desktop/breakout-engine/internal/execution"
	"github.com/atlas-desktop/breakout-engine/internal/fsm"
	"github.com/atlas-desktop/breakout-engine/internal/health"
	"github.com/atlas-desktop/breakout-engine/internal/marketcache"
	"github.com/atlas-desktop/breakout-engine/internal/position"
	"github.com/atlas-desktop/breakout-engine/internal/risk"
	"github.com/atlas-desktop/breakout-engine/internal/scanning"
	"github.com/atlas-desktop/breakout-engine/internal/signals"
	"github.com/atlas-desktop/breakout-engine/pkg/types"
)

// Pacing mirrors the §4.10 "Phase pacing" table.
type Pacing struct {
	Scanning   time.Duration
	SignalWait time.Duration
	Managing   time.Duration
	Execution  time.Duration
	Other      time.Duration
}

// DefaultPacing returns the spec's literal defaults.
func DefaultPacing() Pacing {
	return Pacing{
		Scanning:   5 * time.Second,
		SignalWait: 2 * time.Second,
		Managing:   1 * time.Second,
		Execution:  100 * time.Millisecond,
		Other:      500 * time.Millisecond,
	}
}

// Config bundles the orchestrator's own tunables.
type Config struct {
	Pacing                Pacing
	MaxConcurrentPositions int
	EquityBase            decimal.Decimal
	PerTradeRiskR         decimal.Decimal
}

// Engine wires the Trading Orchestrator's collaborators.
type Engine struct {
	cfg Config

	fsm     *fsm.Machine
	health  *health.Monitor
	scanner *scanning.Manager
	signals *signals.Manager
	riskGate *risk.Gate
	exec    *execution.Manager
	cache   *marketcache.Cache
	client  exchange.Client
	handler *errs.Handler
	psms    map[string]*position.Machine
	newPSM  func() *position.Machine

	positions    map[string]*types.Position
	lastScan     []types.ScanResult
	pendingSizes []sizedSignal
	dailyPnL     decimal.Decimal

	logger *zap.Logger
	stop   chan struct{}
}

// New builds an Engine. newPSM constructs a fresh per-position Machine
// with whatever Config the caller wants every position to share.
func New(
	logger *zap.Logger,
	cfg Config,
	machine *fsm.Machine,
	healthMonitor *health.Monitor,
	scanner *scanning.Manager,
	signalMgr *signals.Manager,
	riskGate *risk.Gate,
	execMgr *execution.Manager,
	cache *marketcache.Cache,
	client exchange.Client,
	handler *errs.Handler,
	newPSM func() *position.Machine,
) *Engine {
	if cfg.Pacing == (Pacing{}) {
		cfg.Pacing = DefaultPacing()
	}
	return &Engine{
		cfg:       cfg,
		fsm:       machine,
		health:    healthMonitor,
		scanner:   scanner,
		signals:   signalMgr,
		riskGate:  riskGate,
		exec:      execMgr,
		cache:     cache,
		client:    client,
		handler:   handler,
		newPSM:    newPSM,
		psms:      make(map[string]*position.Machine),
		positions: make(map[string]*types.Position),
		logger:    logger.Named("orchestrator"),
		stop:      make(chan struct{}),
	}
}

// Stop requests the loop exit on its next interruptible sleep.
func (e *Engine) Stop() {
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
}

// Run drives the engine loop until the ESM reaches a terminal phase, the
// context is cancelled, or Stop is called (§4.10).
func (e *Engine) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-e.stop:
			return nil
		default:
		}

		phase := e.fsm.Current()
		if e.fsm.IsTerminal() {
			return nil
		}

		e.runHealthCheck(ctx)

		stateChanged, delay := e.dispatch(ctx, phase)

		if stateChanged && isFastPhase(phase) {
			continue
		}
		if !e.sleep(ctx, delay) {
			return nil
		}
	}
}

func isFastPhase(phase fsm.Phase) bool {
	switch phase {
	case fsm.PhaseLevelBuilding, fsm.PhaseSignalWait, fsm.PhaseSizing:
		return true
	}
	return false
}

// sleep performs an interruptible wait-with-timeout on the stop event
// (§5 "Cancellation & timeouts"). Returns false if the loop should exit.
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-e.stop:
		return false
	case <-ctx.Done():
		return false
	}
}

// runHealthCheck implements §4.10 step 2.
func (e *Engine) runHealthCheck(ctx context.Context) {
	if e.health == nil {
		return
	}
	balances, err := e.client.FetchBalance(ctx)
	e.health.RecordConnectivity(err == nil)
	if err != nil {
		e.logger.Warn("balance fetch failed", zap.Error(err))
		if !e.health.ConnectivityHealthy() {
			e.transition(ctx, fsm.PhaseError, "connectivity_unhealthy")
		}
		return
	}
	_ = balances

	status := e.health.Evaluate(e.cfg.EquityBase, e.dailyPnL)
	if status.KillSwitchActive {
		e.transition(ctx, fsm.PhasePaused, "kill_switch_active")
	} else if status.ShouldPause {
		e.transition(ctx, fsm.PhasePaused, status.Reason)
	}
}

func (e *Engine) transition(ctx context.Context, to fsm.Phase, reason string) {
	if _, err := e.fsm.Transition(ctx, to, reason, nil, false); err != nil {
		e.logger.Error("fsm transition failed", zap.Error(err), zap.String("to", string(to)))
	}
}

// dispatch runs the phase handler for phase and returns whether a state
// transition happened plus the pacing delay to apply if it did not.
func (e *Engine) dispatch(ctx context.Context, phase fsm.Phase) (bool, time.Duration) {
	switch phase {
	case fsm.PhaseScanning:
		return e.handleScanning(ctx)
	case fsm.PhaseLevelBuilding:
		e.transition(ctx, fsm.PhaseSignalWait, "levels built during scan")
		return true, 0
	case fsm.PhaseSignalWait:
		return e.handleSignalWait(ctx)
	case fsm.PhaseSizing:
		return e.handleSizing(ctx)
	case fsm.PhaseExecution:
		return e.handleExecution(ctx)
	case fsm.PhaseManaging:
		return e.handleManaging(ctx)
	default:
		return false, e.cfg.Pacing.Other
	}
}

func (e *Engine) handleScanning(ctx context.Context) (bool, time.Duration) {
	results, _, err := e.scanner.Scan(ctx, "", nil)
	if err != nil {
		e.handleErr(ctx, err, "scanning", "scan")
		return false, e.cfg.Pacing.Scanning
	}
	e.cache.PutAll(marketDataOf(results))
	e.lastScan = results

	if len(results) == 0 {
		return false, e.cfg.Pacing.Scanning
	}
	e.transition(ctx, fsm.PhaseLevelBuilding, "candidates found")
	return true, 0
}

func marketDataOf(results []types.ScanResult) []types.MarketData {
	out := make([]types.MarketData, len(results))
	for i, r := range results {
		out[i] = r.MarketData
	}
	return out
}

func (e *Engine) handleSignalWait(ctx context.Context) (bool, time.Duration) {
	if len(e.positions) > 0 {
		e.transition(ctx, fsm.PhaseManaging, "open positions present")
		return true, 0
	}

	admitted := e.signals.Process(time.Now(), e.lastScan)
	if len(admitted) == 0 {
		return false, e.cfg.Pacing.SignalWait
	}
	e.transition(ctx, fsm.PhaseSizing, "signals admitted")
	return true, 0
}

func (e *Engine) handleSizing(ctx context.Context) (bool, time.Duration) {
	active := e.signals.ActiveSignals()
	equity := e.cfg.EquityBase
	remaining := equity

	open := e.openPositionsForRisk()
	approvedAny := false

	for _, sig := range active {
		var md types.MarketData
		if cached, ok := e.cache.Get(sig.Symbol); ok {
			md = cached
		} else {
			md = sig.Meta.MarketData
		}
		decision := e.riskGate.Evaluate(sig, equity, remaining, open, md)
		if !decision.Approved {
			e.signals.MarkFailed(sig.ID)
			continue
		}
		approvedAny = true
		remaining = remaining.Sub(decision.Size.NotionalUSD)
		open = append(open, risk.OpenPosition{Symbol: sig.Symbol, BTCCorrelation: md.BTCCorrelation, NotionalUSD: decision.Size.NotionalUSD})
		e.pendingSizes = append(e.pendingSizes, sizedSignal{signal: sig, size: decision.Size})
	}

	if approvedAny {
		e.transition(ctx, fsm.PhaseExecution, "signals sized")
		return true, 0
	}
	e.transition(ctx, fsm.PhaseScanning, "no signal sized")
	return true, 0
}

func (e *Engine) openPositionsForRisk() []risk.OpenPosition {
	out := make([]risk.OpenPosition, 0, len(e.positions))
	for _, p := range e.positions {
		md, _ := e.cache.Get(p.Symbol)
		out = append(out, risk.OpenPosition{Symbol: p.Symbol, BTCCorrelation: md.BTCCorrelation, NotionalUSD: p.Qty.Mul(p.Entry)})
	}
	return out
}

func (e *Engine) handleExecution(ctx context.Context) (bool, time.Duration) {
	pending := e.pendingSizes
	e.pendingSizes = nil

	openedAny := false
	for _, ps := range pending {
		order, err := e.exec.Execute(ctx, execution.Request{
			Symbol:   ps.signal.Symbol,
			Side:     ps.signal.Side,
			Intent:   types.IntentEntry,
			Quantity: ps.size.Quantity,
		})
		if err != nil {
			e.handleErr(ctx, err, "execution", "execute_entry")
			e.signals.MarkFailed(ps.signal.ID)
			continue
		}
		if order.FilledQty.IsZero() {
			e.signals.MarkFailed(ps.signal.ID)
			continue
		}

		pos := newPositionFromFill(ps.signal, order)
		e.positions[pos.ID] = pos
		e.psms[pos.ID] = e.newPSM()
		e.signals.MarkExecuted(ps.signal.ID)
		openedAny = true
	}

	if openedAny {
		e.transition(ctx, fsm.PhaseManaging, "positions opened")
	} else {
		e.transition(ctx, fsm.PhaseScanning, "no fills")
	}
	return true, e.cfg.Pacing.Execution
}

type sizedSignal struct {
	signal types.Signal
	size   types.PositionSize
}

func newPositionFromFill(sig types.Signal, order types.Order) *types.Position {
	now := time.Now()
	tp := decimal.Zero
	if len(sig.TakeProfits) > 0 {
		tp = sig.TakeProfits[0].Price
	}
	return &types.Position{
		ID:       order.ID,
		Symbol:   sig.Symbol,
		Side:     sig.Side,
		Strategy: sig.Strategy,
		Qty:      order.FilledQty,
		Entry:    order.AvgFillPrice,
		StopLoss: sig.StopLoss,
		NextTP:   tp,
		Status:   types.PositionStatusOpen,
		FeesUSD:  order.FeesUSD,
		Timestamps: types.PositionTimestamps{OpenedAt: now},
		Meta: types.PositionMeta{
			InitialQty:       order.FilledQty,
			StopDistance:     sig.Entry.Sub(sig.StopLoss).Abs(),
			TPLevelsHit:      nil,
			RemainingSizePct: 100,
			EntryOrder:       &order,
		},
	}
}

// handleManaging implements §4.10's managing phase handler.
func (e *Engine) handleManaging(ctx context.Context) (bool, time.Duration) {
	for id, pos := range e.positions {
		e.manageOne(ctx, id, pos)
	}

	if len(e.positions) < e.cfg.MaxConcurrentPositions || e.cfg.MaxConcurrentPositions == 0 {
		e.transition(ctx, fsm.PhaseScanning, "slots available")
		return true, 0
	}
	return false, e.cfg.Pacing.Managing
}

func (e *Engine) manageOne(ctx context.Context, id string, pos *types.Position) {
	md, ok := e.cache.Get(pos.Symbol)
	if !ok {
		return
	}
	pos.PnLUSD = pnlUSD(pos, md.Price)
	stopDistance := pos.Meta.StopDistance
	if stopDistance.IsPositive() {
		if pos.Side == types.SideLong {
			pos.PnLR = md.Price.Sub(pos.Entry).Div(stopDistance)
		} else {
			pos.PnLR = pos.Entry.Sub(md.Price).Div(stopDistance)
		}
	}

	psm := e.psms[id]
	if psm == nil {
		return
	}
	snap := position.Snapshot{
		CurrentPrice:     md.Price,
		EntryPrice:       pos.Entry,
		StopLoss:         pos.StopLoss,
		IsLong:           pos.Side == types.SideLong,
		TPLevelsHit:      pos.Meta.TPLevelsHit,
		RemainingSizePct: pos.Meta.RemainingSizePct,
	}
	_, _ = psm.Update(snap)

	if newSL, ok := psm.NewStopLoss(snap); ok {
		if position.ShouldUpdateStopLoss(snap.IsLong, pos.StopLoss, newSL) {
			pos.StopLoss = newSL
			pos.Timestamps.StopUpdates = append(pos.Timestamps.StopUpdates, time.Now())
		}
	}

	stopViolated := (pos.Side == types.SideLong && md.Price.LessThanOrEqual(pos.StopLoss)) ||
		(pos.Side == types.SideShort && md.Price.GreaterThanOrEqual(pos.StopLoss))
	if stopViolated {
		e.closePosition(ctx, id, pos, "stop_loss_violated")
	}
}

func pnlUSD(pos *types.Position, current decimal.Decimal) decimal.Decimal {
	if pos.Side == types.SideLong {
		return current.Sub(pos.Entry).Mul(pos.Qty)
	}
	return pos.Entry.Sub(current).Mul(pos.Qty)
}

func (e *Engine) closePosition(ctx context.Context, id string, pos *types.Position, reason string) {
	order, err := e.exec.Execute(ctx, execution.Request{
		Symbol:     pos.Symbol,
		Side:       pos.Side.Opposite(),
		Intent:     types.IntentSL,
		Quantity:   pos.Qty,
		ReduceOnly: true,
	})
	if err != nil {
		e.handleErr(ctx, err, "execution", "close_position")
		return
	}
	pos.Status = types.PositionStatusClosed
	pos.Qty = decimal.Zero
	pos.Meta.ExitReason = reason
	pos.Meta.ExitOrder = &order
	now := time.Now()
	pos.Timestamps.ClosedAt = &now

	e.dailyPnL = e.dailyPnL.Add(pos.PnLUSD)
	e.health.RecordTradeResult(pos.PnLUSD)

	delete(e.positions, id)
	delete(e.psms, id)
}

func (e *Engine) handleErr(ctx context.Context, err error, component, operation string) {
	if e.handler == nil {
		e.logger.Error("unhandled error", zap.String("component", component), zap.Error(err))
		return
	}
	action := e.handler.Handle(ctx, err, component, operation, 0, nil)
	if action.NextPhase != "" {
		e.transition(ctx, action.NextPhase, "error handler verdict")
	}
}

// Snapshot returns the engine's current state for external inspection
// (supplemented feature, grounded on tests/test_enhanced_states.py's
// get_full_state()).
type EngineSnapshot struct {
	Phase            fsm.Phase
	OpenPositions    []types.Position
	ActiveSignals    []types.Signal
	LastScanCount    int
	KillSwitchActive bool
	DailyPnLUSD      decimal.Decimal
}

func (e *Engine) Snapshot() EngineSnapshot {
	positions := make([]types.Position, 0, len(e.positions))
	for _, p := range e.positions {
		positions = append(positions, *p)
	}
	killSwitch := false
	if e.health != nil {
		killSwitch = e.health.IsKillSwitchActive()
	}
	return EngineSnapshot{
		Phase:            e.fsm.Current(),
		OpenPositions:    positions,
		ActiveSignals:    e.signals.ActiveSignals(),
		LastScanCount:    len(e.lastScan),
		KillSwitchActive: killSwitch,
		DailyPnLUSD:      e.dailyPnL,
	}
}
