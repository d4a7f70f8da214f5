package engine

import (
	"sync"

	"optionsPilot/internal/domain"
)

// ExitPlanStore is a concurrent map of instrument key -> *domain.ExitPlan.
// Plans are immutable values: every update clones the current plan, mutates
// the clone, and compare-and-swaps the slot. Writers are the tick sweep and
// the proposal event callbacks; CAS per key means a callback attaching an
// order ID and a concurrent sweep amending SLLive cannot lose updates, and
// a slow broker query for one instrument never blocks mutation for another.
type ExitPlanStore struct {
	plans sync.Map // instrumentKey -> *domain.ExitPlan
}

// NewExitPlanStore creates an empty store.
func NewExitPlanStore() *ExitPlanStore {
	return &ExitPlanStore{}
}

// Register inserts or replaces the plan for its instrument (last-write-wins).
func (s *ExitPlanStore) Register(plan *domain.ExitPlan) {
	s.plans.Store(plan.InstrumentKey, plan)
}

// Get returns the current plan for an instrument, if any.
func (s *ExitPlanStore) Get(instrumentKey string) (*domain.ExitPlan, bool) {
	v, ok := s.plans.Load(instrumentKey)
	if !ok {
		return nil, false
	}
	return v.(*domain.ExitPlan), true
}

// Remove deletes the plan for an instrument.
func (s *ExitPlanStore) Remove(instrumentKey string) {
	s.plans.Delete(instrumentKey)
}

// Len counts plans currently in the store.
func (s *ExitPlanStore) Len() int {
	n := 0
	s.plans.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// Snapshot returns a point-in-time view of all plans. The sweep iterates
// this view while callbacks may create or remove entries concurrently.
func (s *ExitPlanStore) Snapshot() []*domain.ExitPlan {
	var out []*domain.ExitPlan
	s.plans.Range(func(_, v interface{}) bool {
		out = append(out, v.(*domain.ExitPlan))
		return true
	})
	return out
}

// Update applies mutate to a clone of the instrument's current plan and
// swaps it in atomically, retrying on contention. It returns the updated
// plan, or (nil, false) if no plan exists or mutate declines the update
// by returning false.
func (s *ExitPlanStore) Update(instrumentKey string, mutate func(p *domain.ExitPlan) bool) (*domain.ExitPlan, bool) {
	for {
		v, ok := s.plans.Load(instrumentKey)
		if !ok {
			return nil, false
		}
		cur := v.(*domain.ExitPlan)
		next := cur.Clone()
		if !mutate(next) {
			return cur, false
		}
		if s.plans.CompareAndSwap(instrumentKey, cur, next) {
			return next, true
		}
		// Slot changed underneath us; reload and retry.
	}
}
