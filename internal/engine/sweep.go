package engine

import (
	"context"

	"optionsPilot/internal/domain"
)

// sweepExitPlans runs the per-tick exit-plan pass over a snapshot of the
// store: time-stop, trailing, then cleanup. Each plan is handled
// independently; an error for one instrument never aborts the others, and
// no lock is held across a broker call.
func (e *Engine) sweepExitPlans(ctx context.Context) {
	for _, plan := range e.exits.Snapshot() {
		e.sweepOne(ctx, plan)
	}

	// Post-sweep census: plans that survived are the open positions.
	var qty int32
	remaining := e.exits.Snapshot()
	for _, plan := range remaining {
		qty += plan.Qty
	}
	e.risk.SetLotsUsed(ctx, int(qty)/e.cfg.LotSize)
	if e.metrics != nil {
		e.metrics.ActiveExitPlans.Set(float64(len(remaining)))
	}
}

func (e *Engine) sweepOne(ctx context.Context, plan *domain.ExitPlan) {
	now := e.now()

	if plan.Expired(now) {
		// Time-stop: one forcing amend, removal deferred to a later sweep
		// once the broker reports the order no longer working. Amending to
		// the traded price makes the fill imminent without a tight loop.
		if plan.SLOrderID != "" {
			if price, ok := e.market.GetLastPrice(ctx, plan.InstrumentKey); ok {
				if err := e.orders.AmendPrice(ctx, plan.SLOrderID, price); err != nil {
					e.logger.Error(ctx, err, "sweep: time-stop amend failed", map[string]interface{}{"instrument": plan.InstrumentKey})
				} else {
					e.logger.Info(ctx, "sweep: time-stop forced SL to market", map[string]interface{}{
						"instrument": plan.InstrumentKey,
						"price":      price,
					})
				}
			} else {
				e.logger.Debug(ctx, "sweep: no last price for expired plan, skipping force", map[string]interface{}{"instrument": plan.InstrumentKey})
			}
		}
	} else if plan.SLOrderID != "" {
		e.trailToBreakeven(ctx, plan)
	}

	e.cleanupIfDone(ctx, plan)
}

// trailToBreakeven moves the live SL up to the estimated entry once price
// has run TrailTriggerRatio past it. Entry is estimated from the initial
// stop-loss hint, which is authored SLEntryRatio below entry. SLLive only
// ever moves toward reduced risk; the CAS update re-checks against the
// current slot value so a concurrent writer never regresses it.
func (e *Engine) trailToBreakeven(ctx context.Context, plan *domain.ExitPlan) {
	price, ok := e.market.GetLastPrice(ctx, plan.InstrumentKey)
	if !ok {
		return
	}

	entry := plan.SLInitial / e.cfg.SLEntryRatio
	if price < entry*e.cfg.TrailTriggerRatio || entry <= plan.SLLive {
		return
	}

	if err := e.orders.AmendPrice(ctx, plan.SLOrderID, entry); err != nil {
		e.logger.Error(ctx, err, "sweep: breakeven amend failed", map[string]interface{}{"instrument": plan.InstrumentKey})
		return
	}

	updated, ok := e.exits.Update(plan.InstrumentKey, func(p *domain.ExitPlan) bool {
		if entry <= p.SLLive {
			return false
		}
		p.SLLive = entry
		return true
	})
	if ok {
		e.logger.Info(ctx, "sweep: trailed SL to breakeven", map[string]interface{}{
			"instrument": updated.InstrumentKey,
			"slLive":     updated.SLLive,
		})
	}
}

// cleanupIfDone removes the plan once neither protective order is working.
// A query failure counts as "not working": the bias is toward removal so a
// dead order ID can never pin a plan forever.
func (e *Engine) cleanupIfDone(ctx context.Context, plan *domain.ExitPlan) {
	if plan.SLOrderID == "" && plan.TPOrderID == "" {
		return // Not yet protected; nothing to reconcile.
	}

	anyWorking := false
	for _, id := range []string{plan.SLOrderID, plan.TPOrderID} {
		if id == "" {
			continue
		}
		working, err := e.orders.IsWorking(ctx, id)
		if err != nil {
			e.logger.Warn(ctx, "sweep: order status query failed, treating as not working", map[string]interface{}{
				"instrument": plan.InstrumentKey,
				"orderId":    id,
			})
			continue
		}
		if working {
			anyWorking = true
		}
	}

	if !anyWorking {
		e.exits.Remove(plan.InstrumentKey)
		e.logger.Info(ctx, "sweep: exit plan closed out", map[string]interface{}{"instrument": plan.InstrumentKey})
	}
}
