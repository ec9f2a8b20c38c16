// Package consistency implements the Consistency Engine (C11): the
// integrator that owns UnifiedState per workspace, coordinates the
// persona/lifecycle/reality/continuum subsystems, and publishes
// StateChangeEvent onto per-workspace buses so protocol adapters stay in
// sync.
package consistency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mockforge/core/internal/bus"
	"github.com/mockforge/core/internal/persona"
	"github.com/mockforge/core/pkg/contracts"
	"github.com/mockforge/core/pkg/models"
)

// relatedSearchDepth bounds the BFS depth used by FindRelatedEntities; the
// persona graph is expected to be shallow (a handful of relationship hops
// at most), and an unbounded caller-supplied depth has no use case yet.
const relatedSearchDepth = 8

// workspaceEntry pairs a workspace's UnifiedState with its own
// StateChangeEvent bus, since subscribers may filter by workspace.
type workspaceEntry struct {
	state models.UnifiedState
	bus   *bus.StateBus
}

// Engine is the Consistency Engine. The zero value is not usable; use New.
type Engine struct {
	mu    sync.RWMutex
	ws    map[string]*workspaceEntry
	// allBus fans out every workspace's events to subscribers that asked
	// for all workspaces (SubscribeToEvents(nil)).
	allBus *bus.StateBus

	adaptersMu sync.Mutex
	adapters   []contracts.ProtocolAdapter

	broadcastCapacity int
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithBroadcastCapacity overrides the per-workspace event bus capacity
// (default bus.DefaultCapacity).
func WithBroadcastCapacity(n int) Option {
	return func(e *Engine) { e.broadcastCapacity = n }
}

// New returns an empty Engine; workspaces are materialised lazily on first
// write, per spec.
func New(opts ...Option) *Engine {
	e := &Engine{
		ws:                make(map[string]*workspaceEntry),
		broadcastCapacity: bus.DefaultCapacity,
	}
	for _, o := range opts {
		o(e)
	}
	e.allBus = bus.NewStateBus(e.broadcastCapacity)
	return e
}

// RegisterAdapter adds a protocol adapter sink; OnStateChange is invoked
// for every mutation, in registration order, outside the state lock.
func (e *Engine) RegisterAdapter(adapter contracts.ProtocolAdapter) {
	e.adaptersMu.Lock()
	defer e.adaptersMu.Unlock()
	e.adapters = append(e.adapters, adapter)
}

// entryFor returns (creating if absent) the workspace entry for ws. Caller
// must hold e.mu for writing.
func (e *Engine) entryFor(ws string) *workspaceEntry {
	we, ok := e.ws[ws]
	if !ok {
		we = &workspaceEntry{
			state: models.UnifiedState{
				WorkspaceID:   ws,
				RealityLevel:  models.RealityStaticStubs,
				EntityState:   make(map[models.EntityKey]models.EntityState),
				ProtocolState: make(map[models.Protocol]any),
				PersonaGraph:  models.NewPersonaGraph(),
			},
			bus: bus.NewStateBus(e.broadcastCapacity),
		}
		e.ws[ws] = we
	}
	return we
}

// GetState returns a snapshot of ws's UnifiedState, or nil if the
// workspace has never been written to.
func (e *Engine) GetState(_ context.Context, workspaceID string) (*models.UnifiedState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	we, ok := e.ws[workspaceID]
	if !ok {
		return nil, nil
	}
	snap := we.state.Clone()
	return &snap, nil
}

// GetEntity looks up one entity by key within ws.
func (e *Engine) GetEntity(_ context.Context, workspaceID, entityType, entityID string) (*models.EntityState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	we, ok := e.ws[workspaceID]
	if !ok {
		return nil, nil
	}
	ent, ok := we.state.EntityState[models.EntityKey{EntityType: entityType, EntityID: entityID}]
	if !ok {
		return nil, nil
	}
	return &ent, nil
}

// FindRelatedEntities resolves personaID's related persona IDs of
// targetEntityType (via the persona graph, if enabled) and returns the
// corresponding EntityStates that are linked to those personas.
func (e *Engine) FindRelatedEntities(_ context.Context, workspaceID, personaID, targetEntityType string, relFilter *string) ([]models.EntityState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	we, ok := e.ws[workspaceID]
	if !ok || we.state.PersonaGraph == nil {
		return nil, nil
	}
	relatedIDs := persona.FindRelatedByEntityType(we.state.PersonaGraph, personaID, targetEntityType, relFilter, relatedSearchDepth)
	related := make(map[string]bool, len(relatedIDs))
	for _, id := range relatedIDs {
		related[id] = true
	}
	var out []models.EntityState
	for _, ent := range we.state.EntityState {
		if ent.PersonaID != "" && related[ent.PersonaID] {
			out = append(out, ent)
		}
	}
	return out, nil
}

// mutate runs fn under the write lock against ws's entry, bumps the
// version, and returns the post-mutation version. fn must not broadcast;
// broadcasting happens after the lock is released, per the locking
// discipline in spec §4.C11.
func (e *Engine) mutate(workspaceID string, fn func(we *workspaceEntry)) uint64 {
	e.mu.Lock()
	we := e.entryFor(workspaceID)
	fn(we)
	we.state.Version++
	version := we.state.Version
	e.mu.Unlock()
	return version
}

// publish fans event out to the workspace-specific bus, the all-workspaces
// bus, and every registered adapter. Must be called outside e.mu.
func (e *Engine) publish(event models.StateChangeEvent) {
	e.mu.RLock()
	we, ok := e.ws[event.WorkspaceID]
	e.mu.RUnlock()
	if ok {
		we.bus.Publish(event)
	}
	e.allBus.Publish(event)

	e.adaptersMu.Lock()
	adapters := append([]contracts.ProtocolAdapter(nil), e.adapters...)
	e.adaptersMu.Unlock()

	ctx := context.Background()
	for _, a := range adapters {
		if err := a.OnStateChange(ctx, event); err != nil {
			log.Error().Err(err).
				Str("workspace_id", event.WorkspaceID).
				Str("protocol", string(a.Protocol())).
				Str("kind", string(event.Kind)).
				Msg("consistency engine: adapter rejected state change")
		}
	}
}

// SetActivePersona replaces ws's active persona and emits PersonaChanged.
func (e *Engine) SetActivePersona(_ context.Context, workspaceID string, persona models.PersonaProfile) error {
	version := e.mutate(workspaceID, func(we *workspaceEntry) {
		we.state.ActivePersona = &persona
	})
	e.publish(models.StateChangeEvent{
		Kind: models.StateChangePersonaChanged, WorkspaceID: workspaceID, Version: version,
		Timestamp: time.Now(), Persona: &persona,
	})
	return nil
}

// SetActiveScenario replaces ws's active scenario and emits ScenarioChanged.
func (e *Engine) SetActiveScenario(_ context.Context, workspaceID string, scenarioID string) error {
	version := e.mutate(workspaceID, func(we *workspaceEntry) {
		we.state.ActiveScenario = &scenarioID
	})
	e.publish(models.StateChangeEvent{
		Kind: models.StateChangeScenarioChanged, WorkspaceID: workspaceID, Version: version,
		Timestamp: time.Now(), ScenarioID: &scenarioID,
	})
	return nil
}

// SetRealityLevel replaces ws's reality level and emits RealityLevelChanged.
func (e *Engine) SetRealityLevel(_ context.Context, workspaceID string, level models.RealityLevel) error {
	if !level.Valid() {
		return fmt.Errorf("consistency: invalid reality level %d", level)
	}
	version := e.mutate(workspaceID, func(we *workspaceEntry) {
		we.state.RealityLevel = level
	})
	e.publish(models.StateChangeEvent{
		Kind: models.StateChangeRealityLevelChanged, WorkspaceID: workspaceID, Version: version,
		Timestamp: time.Now(), RealityLevel: &level,
	})
	return nil
}

// SetRealityRatio clamps ratio to [0,1], sets it, and emits
// RealityRatioChanged.
func (e *Engine) SetRealityRatio(_ context.Context, workspaceID string, ratio float64) error {
	if ratio < 0 {
		ratio = 0
	} else if ratio > 1 {
		ratio = 1
	}
	version := e.mutate(workspaceID, func(we *workspaceEntry) {
		we.state.ContinuumRatio = ratio
	})
	e.publish(models.StateChangeEvent{
		Kind: models.StateChangeRealityRatioChanged, WorkspaceID: workspaceID, Version: version,
		Timestamp: time.Now(), RealityRatio: &ratio,
	})
	return nil
}

// RegisterEntity inserts or overwrites entity in ws, auto-linking it into
// the persona graph (if enabled) using the heuristics named in spec §4.C11.
func (e *Engine) RegisterEntity(_ context.Context, workspaceID string, entity models.EntityState) error {
	now := time.Now()
	var created bool
	version := e.mutate(workspaceID, func(we *workspaceEntry) {
		key := entity.Key()
		_, existed := we.state.EntityState[key]
		created = !existed
		if entity.CreatedAt.IsZero() {
			if existed {
				entity.CreatedAt = we.state.EntityState[key].CreatedAt
			} else {
				entity.CreatedAt = now
			}
		}
		entity.UpdatedAt = now
		we.state.EntityState[key] = entity
		if we.state.PersonaGraph != nil {
			autoLinkEntity(we.state.PersonaGraph, entity)
		}
	})

	kind := models.StateChangeEntityUpdated
	if created {
		kind = models.StateChangeEntityCreated
	}
	e.publish(models.StateChangeEvent{
		Kind: kind, WorkspaceID: workspaceID, Version: version,
		Timestamp: now, Entity: &entity,
	})
	return nil
}

// autoLinkEntity applies the heuristic entity->persona auto-linking rules:
// a "user_id"/"userId" field links the entity to persona "user:<id>"; a
// "payment" entity carrying "order_id" links to persona "order:<id>".
func autoLinkEntity(g *models.PersonaGraph, entity models.EntityState) {
	selfPersona := entity.PersonaID
	if selfPersona == "" {
		selfPersona = entity.EntityType + ":" + entity.EntityID
	}
	g.AddNode(selfPersona, entity.EntityType)

	if uid, ok := stringField(entity.Data, "user_id", "userId"); ok {
		g.AddEdge(selfPersona, "user:"+uid, "belongs_to")
	}
	if entity.EntityType == "payment" {
		if oid, ok := stringField(entity.Data, "order_id", "orderId"); ok {
			g.AddEdge(selfPersona, "order:"+oid, "pays_for")
		}
	}
}

func stringField(data map[string]any, names ...string) (string, bool) {
	for _, name := range names {
		if v, ok := data[name]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// ActivateChaosRule replaces-by-name-then-appends rule into ws and emits
// ChaosRuleActivated.
func (e *Engine) ActivateChaosRule(_ context.Context, workspaceID string, rule models.ChaosRule) error {
	version := e.mutate(workspaceID, func(we *workspaceEntry) {
		rules := we.state.ChaosRules[:0:0]
		replaced := false
		for _, r := range we.state.ChaosRules {
			if r.Name == rule.Name {
				rules = append(rules, rule)
				replaced = true
			} else {
				rules = append(rules, r)
			}
		}
		if !replaced {
			rules = append(rules, rule)
		}
		we.state.ChaosRules = rules
	})
	e.publish(models.StateChangeEvent{
		Kind: models.StateChangeChaosRuleActivated, WorkspaceID: workspaceID, Version: version,
		Timestamp: time.Now(), ChaosRule: &rule,
	})
	return nil
}

// DeactivateChaosRule removes the named rule from ws (no-op if absent) and
// emits ChaosRuleDeactivated.
func (e *Engine) DeactivateChaosRule(_ context.Context, workspaceID string, name string) error {
	version := e.mutate(workspaceID, func(we *workspaceEntry) {
		rules := we.state.ChaosRules[:0:0]
		for _, r := range we.state.ChaosRules {
			if r.Name != name {
				rules = append(rules, r)
			}
		}
		we.state.ChaosRules = rules
	})
	e.publish(models.StateChangeEvent{
		Kind: models.StateChangeChaosRuleDeactivated, WorkspaceID: workspaceID, Version: version,
		Timestamp: time.Now(), ChaosRuleName: name,
	})
	return nil
}

// RestoreState atomically replaces ws's entire UnifiedState and re-emits
// every logical event so adapters can resync from a crash or a Lagged
// notification, per the backpressure policy in spec §5.
func (e *Engine) RestoreState(_ context.Context, state models.UnifiedState) error {
	now := time.Now()
	e.mu.Lock()
	we := e.entryFor(state.WorkspaceID)
	we.state = state.Clone()
	we.state.Version++
	version := we.state.Version
	e.mu.Unlock()

	if state.ActivePersona != nil {
		e.publish(models.StateChangeEvent{Kind: models.StateChangePersonaChanged, WorkspaceID: state.WorkspaceID, Version: version, Timestamp: now, Persona: state.ActivePersona})
	}
	if state.ActiveScenario != nil {
		e.publish(models.StateChangeEvent{Kind: models.StateChangeScenarioChanged, WorkspaceID: state.WorkspaceID, Version: version, Timestamp: now, ScenarioID: state.ActiveScenario})
	}
	level := state.RealityLevel
	e.publish(models.StateChangeEvent{Kind: models.StateChangeRealityLevelChanged, WorkspaceID: state.WorkspaceID, Version: version, Timestamp: now, RealityLevel: &level})
	ratio := state.ContinuumRatio
	e.publish(models.StateChangeEvent{Kind: models.StateChangeRealityRatioChanged, WorkspaceID: state.WorkspaceID, Version: version, Timestamp: now, RealityRatio: &ratio})
	for _, ent := range state.EntityState {
		ent := ent
		e.publish(models.StateChangeEvent{Kind: models.StateChangeEntityUpdated, WorkspaceID: state.WorkspaceID, Version: version, Timestamp: now, Entity: &ent})
	}
	for _, rule := range state.ChaosRules {
		rule := rule
		e.publish(models.StateChangeEvent{Kind: models.StateChangeChaosRuleActivated, WorkspaceID: state.WorkspaceID, Version: version, Timestamp: now, ChaosRule: &rule})
	}
	return nil
}

// SubscribeToEvents returns an event stream scoped to workspaceID, or to
// every workspace when workspaceID is nil.
func (e *Engine) SubscribeToEvents(workspaceID *string) contracts.EventStream {
	if workspaceID == nil {
		return e.allBus.Subscribe()
	}
	e.mu.Lock()
	we := e.entryFor(*workspaceID)
	e.mu.Unlock()
	return we.bus.Subscribe()
}

var _ contracts.ConsistencyEngine = (*Engine)(nil)
