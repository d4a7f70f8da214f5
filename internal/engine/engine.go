package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"optionsPilot/internal/domain"
	"optionsPilot/internal/monitor"
	"optionsPilot/internal/ports"
)

// Lifecycle result values. Calling Start on a running engine (or Stop on a
// stopped one) is a distinct success, not an error.
const (
	ResultStarted        = "engine:started"
	ResultAlreadyRunning = "engine:already-running"
	ResultStopped        = "engine:stopped"
	ResultAlreadyStopped = "engine:already-stopped"
)

// Engine is the tick orchestrator. It owns lifecycle state, drives the
// per-tick sequence and composes the risk gate, exit-plan store and
// re-strike manager each cycle.
//
// Lifecycle fields are single-writer atomics so GetState never shares a
// lock with a tick in progress.
type Engine struct {
	cfg Config

	logger    ports.Logger
	risk      ports.RiskService
	strategy  ports.StrategyService
	proposals ports.ProposalRepository
	orders    ports.OrderClient
	market    ports.MarketDataClient
	portfolio ports.PortfolioService
	session   ports.SessionGuard
	audit     ports.AuditPublisher
	metrics   *monitor.Metrics

	gate     RiskGate
	exits    *ExitPlanStore
	restrike *RestrikeManager

	running      atomic.Bool
	ticks        atomic.Uint64
	lastExecuted atomic.Uint32
	startedAt    atomic.Int64 // unix nanos; 0 until first start
	lastTick     atomic.Int64 // unix nanos
	asOf         atomic.Int64 // unix nanos
	lastError    atomic.Value // string

	// lastTripped caches the previous gate outcome so circuit audit
	// events fire only on transitions.
	lastTripped atomic.Bool

	// In-flight guards: a timer firing while its previous invocation is
	// still running skips the cycle rather than queueing it.
	tickBusy     atomic.Bool
	analysisBusy atomic.Bool

	now func() time.Time
}

// Deps collects the engine's collaborators. All are required except
// Metrics, which may be nil.
type Deps struct {
	Logger    ports.Logger
	Risk      ports.RiskService
	Strategy  ports.StrategyService
	Proposals ports.ProposalRepository
	Orders    ports.OrderClient
	Market    ports.MarketDataClient
	Portfolio ports.PortfolioService
	Session   ports.SessionGuard
	Audit     ports.AuditPublisher
	Metrics   *monitor.Metrics
}

// New creates the orchestrator and its owned sub-components.
func New(cfg Config, d Deps) (*Engine, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if d.Logger == nil || d.Risk == nil || d.Strategy == nil || d.Proposals == nil ||
		d.Orders == nil || d.Market == nil || d.Portfolio == nil || d.Session == nil || d.Audit == nil {
		return nil, fmt.Errorf("missing required dependencies for Engine")
	}

	e := &Engine{
		cfg:       cfg,
		logger:    d.Logger,
		risk:      d.Risk,
		strategy:  d.Strategy,
		proposals: d.Proposals,
		orders:    d.Orders,
		market:    d.Market,
		portfolio: d.Portfolio,
		session:   d.Session,
		audit:     d.Audit,
		metrics:   d.Metrics,
		exits:     NewExitPlanStore(),
		now:       time.Now,
	}
	e.lastError.Store("")
	e.restrike = NewRestrikeManager(cfg, d.Logger, d.Proposals, d.Market, d.Strategy, d.Risk, e.EntryAllowed, d.Metrics)
	return e, nil
}

// ExitPlans exposes the store for sub-component tests and the monitor.
func (e *Engine) ExitPlans() *ExitPlanStore { return e.exits }

// --- Lifecycle ---

// Start flips the engine to running. Idempotent: a second Start returns
// ResultAlreadyRunning as a success.
func (e *Engine) Start(ctx context.Context) (string, error) {
	if !e.session.IsAuthenticated(ctx) {
		return "", ports.ErrUnauthenticated
	}
	if !e.running.CompareAndSwap(false, true) {
		return ResultAlreadyRunning, nil
	}
	if e.startedAt.Load() == 0 {
		e.startedAt.Store(e.now().UnixNano())
	}
	e.asOf.Store(e.now().UnixNano())
	e.audit.Publish("engine.started", map[string]interface{}{
		"startedAt": time.Unix(0, e.startedAt.Load()).UTC().Format(time.RFC3339),
	})
	e.logger.Info(ctx, "engine started")
	return ResultStarted, nil
}

// Stop flips the engine to stopped. A tick already in progress runs to
// completion; Stop only clears the running flag.
func (e *Engine) Stop(ctx context.Context) (string, error) {
	if !e.session.IsAuthenticated(ctx) {
		return "", ports.ErrUnauthenticated
	}
	if !e.running.CompareAndSwap(true, false) {
		return ResultAlreadyStopped, nil
	}
	uptime := time.Duration(0)
	if s := e.startedAt.Load(); s > 0 {
		uptime = e.now().Sub(time.Unix(0, s))
	}
	e.asOf.Store(e.now().UnixNano())
	e.audit.Publish("engine.stopped", map[string]interface{}{
		"uptimeSeconds": int64(uptime.Seconds()),
		"ticks":         e.ticks.Load(),
	})
	e.logger.Info(ctx, "engine stopped", map[string]interface{}{"uptime": uptime.String()})
	return ResultStopped, nil
}

// GetState returns an atomic snapshot of the observable engine state.
// This path never blocks on a tick.
func (e *Engine) GetState(ctx context.Context) (domain.EngineState, error) {
	if !e.session.IsAuthenticated(ctx) {
		return domain.EngineState{}, ports.ErrUnauthenticated
	}
	return e.snapshotState(), nil
}

func (e *Engine) snapshotState() domain.EngineState {
	st := domain.EngineState{
		Running:      e.running.Load(),
		Ticks:        e.ticks.Load(),
		LastExecuted: e.lastExecuted.Load(),
		LastError:    e.lastError.Load().(string),
	}
	if v := e.startedAt.Load(); v > 0 {
		st.StartedAt = time.Unix(0, v)
	}
	if v := e.lastTick.Load(); v > 0 {
		st.LastTick = time.Unix(0, v)
	}
	if v := e.asOf.Load(); v > 0 {
		st.AsOf = time.Unix(0, v)
	}
	return st
}

// --- Scheduling ---

// Run drives the two periodic timers until the context is cancelled: the
// fast tick running the full orchestration sequence and the slow analysis
// tick refreshing observability signals. Re-entrant fires of the same
// timer are skipped, never queued; the two timers may overlap each other.
func (e *Engine) Run(ctx context.Context) {
	tick := time.NewTicker(e.cfg.TickInterval)
	defer tick.Stop()
	analysis := time.NewTicker(e.cfg.AnalysisInterval)
	defer analysis.Stop()

	e.logger.Info(ctx, "engine scheduler running", map[string]interface{}{
		"tickInterval":     e.cfg.TickInterval.String(),
		"analysisInterval": e.cfg.AnalysisInterval.String(),
	})

	for {
		select {
		case <-ctx.Done():
			e.logger.Info(ctx, "engine scheduler stopping")
			return
		case <-tick.C:
			if !e.tickBusy.CompareAndSwap(false, true) {
				e.logger.Warn(ctx, "tick still in progress, skipping cycle")
				continue
			}
			go func() {
				defer e.tickBusy.Store(false)
				e.Tick(ctx)
			}()
		case <-analysis.C:
			if !e.analysisBusy.CompareAndSwap(false, true) {
				continue
			}
			go func() {
				defer e.analysisBusy.Store(false)
				e.AnalysisTick(ctx)
			}()
		}
	}
}

// AnalysisTick refreshes downstream observability signals. It is not part
// of the correctness-critical path; failures are logged and dropped.
func (e *Engine) AnalysisTick(ctx context.Context) {
	if !e.running.Load() || !e.session.IsAuthenticated(ctx) {
		return
	}
	if err := e.strategy.RefreshSignalCaches(ctx); err != nil {
		e.logger.Debug(ctx, "analysis: signal cache refresh failed", map[string]interface{}{"error": err.Error()})
	}
}

// --- The tick ---

// Tick runs one orchestration cycle. It is a no-op when the engine is not
// running or the session is invalid. Every step is fault-isolated: a step
// failure is logged, overwrites LastError, and never prevents later steps.
func (e *Engine) Tick(ctx context.Context) {
	if !e.running.Load() || !e.session.IsAuthenticated(ctx) {
		return
	}
	e.lastError.Store("")

	// 1. Refresh realized loss figures from the venue.
	if err := e.risk.RefreshDailyLossFromBroker(ctx); err != nil {
		e.stepFailed(ctx, "risk refresh", err)
	}

	// 2. Risk snapshot, headroom and the circuit gate.
	headroom, tripped, snapOK := e.evaluateGate(ctx)

	// 3. Compact engine-inputs message, fire-and-forget.
	e.publishInputs(ctx, headroom)

	// 4. Strategy generation, gated on admission control.
	if snapOK && headroom && !tripped {
		if created, err := e.strategy.GenerateProposalsNow(ctx); err != nil {
			e.stepFailed(ctx, "strategy generation", err)
		} else if created > 0 {
			e.logger.Info(ctx, "tick: proposals generated", map[string]interface{}{"created": created})
		}
	} else {
		e.logger.Debug(ctx, "tick: strategy generation skipped", map[string]interface{}{
			"headroom": headroom,
			"tripped":  tripped,
		})
	}

	// 5. Protective-order management always runs; risk-reducing actions
	// are never blocked by the circuit breaker.
	e.sweepExitPlans(ctx)

	// 6. Lightweight signal caches, best-effort.
	if err := e.strategy.RefreshSignalCaches(ctx); err != nil {
		e.logger.Debug(ctx, "tick: signal cache refresh failed", map[string]interface{}{"error": err.Error()})
	}

	// 7. Re-strike pass.
	if err := e.restrike.Run(ctx); err != nil {
		e.stepFailed(ctx, "restrike", err)
	}

	// 8. Execute pending proposals, newest first, up to the per-tick cap.
	executed := e.executePending(ctx)

	// 9. Finalize and publish.
	e.finalizeTick(ctx, executed)
}

// evaluateGate fetches the risk snapshot, derives headroom and the tripped
// flag, and emits a circuit audit event on a tripped-state transition.
func (e *Engine) evaluateGate(ctx context.Context) (headroom, tripped, snapOK bool) {
	snap, err := e.risk.GetSummary(ctx)
	if err != nil {
		e.stepFailed(ctx, "risk summary", err)
		// No snapshot: assume no headroom, keep the previous trip flag so
		// a blind tick cannot fabricate a transition.
		return false, e.lastTripped.Load(), false
	}

	headroom = snap.Headroom()
	tripped = e.gate.Tripped(snap)

	// The venue-side daily kill switch is OR'd into gating; the gate
	// itself stays a pure function of the snapshot.
	if venueTripped, vErr := e.risk.IsDailyCircuitTripped(ctx); vErr == nil && venueTripped {
		tripped = true
	}

	if prev := e.lastTripped.Swap(tripped); prev != tripped {
		event := "engine.circuit.closed"
		if tripped {
			event = "engine.circuit.open"
		}
		e.audit.Publish(event, map[string]interface{}{
			"reasons":        e.gate.TripReasons(snap),
			"riskBudgetLeft": snap.RiskBudgetLeft,
			"dailyLossPct":   snap.DailyLossPct,
		})
		if e.metrics != nil {
			e.metrics.CircuitTransitions.Inc()
		}
		e.logger.Warn(ctx, "tick: circuit state changed", map[string]interface{}{
			"tripped": tripped,
			"reasons": e.gate.TripReasons(snap),
		})
	}
	return headroom, tripped, true
}

func (e *Engine) publishInputs(ctx context.Context, headroom bool) {
	data := map[string]interface{}{
		"headroom":           headroom,
		"minutesSinceLastSl": e.risk.GetMinutesSinceLastSL(ctx, e.cfg.Underlying),
		"restrikesToday":     e.risk.GetRestrikesToday(ctx, e.cfg.Underlying),
	}
	if snap, err := e.risk.GetSummary(ctx); err == nil && snap.OrdersPerMinPct != nil {
		data["ordersPerMinPct"] = *snap.OrdersPerMinPct
	}
	e.audit.Publish("engine.inputs", data)
}

// EntryAllowed is the admission-control query: true only when the freshest
// snapshot shows headroom, the circuit gate is closed, and the venue-side
// daily kill switch is not open. Any failure to obtain a snapshot or to
// query the kill switch blocks entries.
func (e *Engine) EntryAllowed(ctx context.Context) bool {
	snap, err := e.risk.GetSummary(ctx)
	if err != nil {
		return false
	}
	if venueTripped, vErr := e.risk.IsDailyCircuitTripped(ctx); vErr != nil || venueTripped {
		return false
	}
	return snap.Headroom() && !e.gate.Tripped(snap)
}

// executePending fetches up to ScanLimit PENDING proposals, orders them
// newest-created-first (zero timestamps last, ties by insertion order) and
// executes until MaxExecPerTick succeed or the list is exhausted.
func (e *Engine) executePending(ctx context.Context) uint32 {
	limit := e.cfg.ScanLimit
	if limit < 1 {
		limit = 1
	}
	pending, err := e.proposals.FindPending(ctx, limit)
	if err != nil {
		e.stepFailed(ctx, "pending scan", err)
		return 0
	}

	sort.SliceStable(pending, func(i, j int) bool {
		ti, tj := pending[i].CreatedAt, pending[j].CreatedAt
		if ti.IsZero() {
			return false
		}
		if tj.IsZero() {
			return true
		}
		return ti.After(tj)
	})

	var executed uint32
	for _, p := range pending {
		if executed >= uint32(e.cfg.MaxExecPerTick) {
			break
		}
		if err := e.proposals.Execute(ctx, p.ID); err != nil {
			e.stepFailed(ctx, "proposal execution", fmt.Errorf("proposal %s: %w", p.ID, err))
			continue
		}
		executed++
		e.risk.NoteOrder(ctx)
		if e.metrics != nil {
			e.metrics.ProposalsExecuted.Inc()
		}
		e.logger.Info(ctx, "tick: proposal executed", map[string]interface{}{
			"proposalId": p.ID,
			"symbol":     p.Symbol,
			"side":       string(p.Side),
		})
	}
	return executed
}

func (e *Engine) finalizeTick(ctx context.Context, executed uint32) {
	e.lastExecuted.Store(executed)
	e.ticks.Add(1)

	if summary, err := e.portfolio.GetSummary(ctx); err != nil {
		e.stepFailed(ctx, "portfolio summary", err)
	} else if summary.DayPnL < 0 {
		e.risk.UpdateDailyLossAbs(ctx, math.Abs(summary.DayPnL))
	}

	now := e.now().UnixNano()
	e.lastTick.Store(now)
	e.asOf.Store(now)
	if e.metrics != nil {
		e.metrics.TicksTotal.Inc()
	}
}

// stepFailed records a step-level failure without aborting the tick.
// LastError holds only the most recent failure of the current tick.
func (e *Engine) stepFailed(ctx context.Context, step string, err error) {
	e.lastError.Store(fmt.Sprintf("%s: %v", step, err))
	e.logger.Error(ctx, err, "tick step failed", map[string]interface{}{"step": step})
}

// --- Proposal event hooks (ports.ProposalListener) ---

// OnProposalCreated parses an embedded exit hint and registers an exit
// plan. Malformed input is swallowed: the engine stays resilient to
// whatever the upstream strategy writes into the reason field.
func (e *Engine) OnProposalCreated(p *domain.Proposal) {
	ctx := context.Background()
	if p == nil || p.InstrumentKey == "" || p.Quantity <= 0 {
		return
	}
	hint, err := domain.ParseExitHint(p.Reason)
	if err != nil {
		e.logger.Debug(ctx, "no exit plan registered for proposal", map[string]interface{}{
			"proposalId": p.ID,
			"reason":     err.Error(),
		})
		return
	}
	plan := domain.NewExitPlan(p.InstrumentKey, int32(p.Quantity), hint, e.now())
	e.exits.Register(plan)
	e.logger.Info(ctx, "exit plan registered", map[string]interface{}{
		"instrument": plan.InstrumentKey,
		"sl":         plan.SLInitial,
		"tp":         plan.TPInitial,
		"expiresAt":  plan.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// OnProposalExecuted attaches the protective orders to the matching plan.
// Each leg is placed at most once; a failed leg stays unset and is retried
// only on the next execution event for the same instrument.
func (e *Engine) OnProposalExecuted(p *domain.Proposal) {
	ctx := context.Background()
	if p == nil {
		return
	}
	plan, ok := e.exits.Get(p.InstrumentKey)
	if !ok {
		return
	}

	if plan.SLOrderID == "" {
		if id, err := e.orders.PlaceStopLoss(ctx, plan.InstrumentKey, plan.Qty, plan.SLInitial); err != nil {
			e.logger.Error(ctx, err, "SL placement failed, will retry on next execution event", map[string]interface{}{"instrument": plan.InstrumentKey})
		} else {
			e.risk.NoteOrder(ctx)
			e.exits.Update(plan.InstrumentKey, func(cur *domain.ExitPlan) bool {
				if cur.SLOrderID != "" {
					return false
				}
				cur.SLOrderID = id
				return true
			})
		}
	}

	// Re-read: the SL update above may have swapped the slot.
	plan, ok = e.exits.Get(p.InstrumentKey)
	if !ok {
		return
	}
	if plan.TPOrderID == "" {
		if id, err := e.orders.PlaceTarget(ctx, plan.InstrumentKey, plan.Qty, plan.TPInitial); err != nil {
			e.logger.Error(ctx, err, "TP placement failed, will retry on next execution event", map[string]interface{}{"instrument": plan.InstrumentKey})
		} else {
			e.risk.NoteOrder(ctx)
			e.exits.Update(plan.InstrumentKey, func(cur *domain.ExitPlan) bool {
				if cur.TPOrderID != "" {
					return false
				}
				cur.TPOrderID = id
				return true
			})
		}
	}
}
