// Package lifecycle implements the per-persona finite-state machine (C3):
// time-based sweeps and event-driven transitions over the states declared
// in pkg/models (NewSignup, Active, PowerUser, ChurnRisk, UpgradePending,
// PaymentFailed, Churned). Response shaping from lifecycle state lives
// outside the core as pluggable modifiers — the engine only tracks state
// and history.
package lifecycle

import (
	"sort"
	"time"

	"github.com/mockforge/core/pkg/models"
)

// Engine holds the declared transition rules, grouped by origin state, and
// drives PersonaLifecycle instances through them.
type Engine struct {
	// rulesByState preserves declaration order per state, since both sweep
	// and event-driven evaluation must try rules "in declaration order".
	rulesByState map[models.LifecycleState][]models.TransitionRule
}

// NewEngine builds an Engine from an ordered rule list.
func NewEngine(rules []models.TransitionRule) *Engine {
	e := &Engine{rulesByState: make(map[models.LifecycleState][]models.TransitionRule)}
	for _, r := range rules {
		e.rulesByState[r.From] = append(e.rulesByState[r.From], r)
	}
	return e
}

// NewPersonaLifecycle creates a fresh lifecycle starting in initialState at
// createdAt, with the required single history entry already recorded.
func NewPersonaLifecycle(personaID string, initialState models.LifecycleState, createdAt time.Time) *models.PersonaLifecycle {
	return &models.PersonaLifecycle{
		PersonaID:      personaID,
		CurrentState:   initialState,
		StateEnteredAt: createdAt,
		History:        []models.LifecycleHistoryEntry{{Timestamp: createdAt, State: initialState}},
	}
}

// Sweep applies the first time-based rule of the current state whose
// after_days elapsed by now, per spec §4.C3.1. Terminal states and states
// with no eligible rule are left unchanged. Returns true if a transition
// fired.
func (e *Engine) Sweep(pl *models.PersonaLifecycle, persona *models.PersonaProfile, now time.Time) bool {
	if pl.CurrentState.Terminal() {
		return false
	}
	for _, rule := range e.rulesByState[pl.CurrentState] {
		if rule.AfterDays == nil {
			continue
		}
		due := pl.StateEnteredAt.AddDate(0, 0, *rule.AfterDays)
		if !due.After(now) { // due <= now
			e.applyTransition(pl, persona, rule, now)
			return true
		}
	}
	return false
}

// Fire evaluates event-driven rules of the current state whose Condition
// matches eventName, in declaration order, regardless of elapsed time.
// Returns true if a transition fired.
func (e *Engine) Fire(pl *models.PersonaLifecycle, persona *models.PersonaProfile, eventName string, now time.Time) bool {
	if pl.CurrentState.Terminal() {
		return false
	}
	for _, rule := range e.rulesByState[pl.CurrentState] {
		if rule.Condition != "" && rule.Condition == eventName {
			e.applyTransition(pl, persona, rule, now)
			return true
		}
	}
	return false
}

func (e *Engine) applyTransition(pl *models.PersonaLifecycle, persona *models.PersonaProfile, rule models.TransitionRule, now time.Time) {
	from := pl.CurrentState
	pl.CurrentState = rule.To
	pl.StateEnteredAt = now
	pl.History = append(pl.History, models.LifecycleHistoryEntry{Timestamp: now, State: rule.To})
	if persona != nil {
		persona.LifecycleState = rule.To
	}
	if rule.OnTransition != nil {
		rule.OnTransition(persona, from, rule.To)
	}
}

// DefaultTransitionRules returns a starter rule set giving every
// non-terminal state at least one outgoing edge, so a freshly constructed
// core has sane lifecycle behavior before a caller supplies its own
// domain-specific rules. Every non-terminal state except UpgradePending
// has a time-based edge; UpgradePending leaves only on the
// payment_succeeded or payment_failed condition.
func DefaultTransitionRules() []models.TransitionRule {
	days := func(n int) *int { return &n }
	return []models.TransitionRule{
		{From: models.LifecycleNewSignup, To: models.LifecycleActive, AfterDays: days(7)},
		{From: models.LifecycleActive, To: models.LifecyclePowerUser, AfterDays: days(30)},
		{From: models.LifecycleActive, To: models.LifecycleChurnRisk, AfterDays: days(60)},
		{From: models.LifecyclePowerUser, To: models.LifecycleChurnRisk, AfterDays: days(90)},
		{From: models.LifecycleChurnRisk, To: models.LifecycleChurned, AfterDays: days(30)},
		{From: models.LifecycleUpgradePending, To: models.LifecyclePowerUser, Condition: "payment_succeeded"},
		{From: models.LifecycleUpgradePending, To: models.LifecyclePaymentFailed, Condition: "payment_failed"},
		{From: models.LifecyclePaymentFailed, To: models.LifecycleChurned, AfterDays: days(14)},
		{From: models.LifecyclePaymentFailed, To: models.LifecycleActive, Condition: "payment_succeeded"},
	}
}

// SortHistory is a test/debug helper ensuring History is chronological;
// production code never needs it since transitions are always appended,
// but deterministic-replay fixtures sometimes reconstruct history out of
// order before replaying.
func SortHistory(pl *models.PersonaLifecycle) {
	sort.Slice(pl.History, func(i, j int) bool {
		return pl.History[i].Timestamp.Before(pl.History[j].Timestamp)
	})
}
