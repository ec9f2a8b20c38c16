package contracts

import (
	"context"
	"time"

	"github.com/mockforge/core/pkg/models"
)

// ── Event stream ─────────────────────────────────────────────

// EventStream is an independent, ordered subscription to state-change
// events, starting at the next event published after Subscribe was called.
// Lagged is non-nil exactly on the tick after the subscriber missed one or
// more events because it could not keep up with the bounded channel.
type EventStream interface {
	// Next blocks until an event is available or ctx is done. ok is false
	// only when the stream has been closed (process/workspace teardown).
	Next(ctx context.Context) (event models.StateChangeEvent, lagged *uint64, ok bool)
	// Close releases the subscription.
	Close()
}

// ── Consistency Engine (C11) ────────────────────────────────

// ConsistencyEngine is the integrator: it owns UnifiedState per workspace,
// coordinates the persona/lifecycle/reality/continuum subsystems, and
// publishes StateChangeEvent onto the bus. All operations are safe for
// concurrent use across workspaces; within one workspace, mutations are
// linearizable (see spec §5).
type ConsistencyEngine interface {
	GetState(ctx context.Context, workspaceID string) (*models.UnifiedState, error)
	GetEntity(ctx context.Context, workspaceID, entityType, entityID string) (*models.EntityState, error)
	FindRelatedEntities(ctx context.Context, workspaceID, personaID, targetEntityType string, relFilter *string) ([]models.EntityState, error)

	SetActivePersona(ctx context.Context, workspaceID string, persona models.PersonaProfile) error
	SetActiveScenario(ctx context.Context, workspaceID string, scenarioID string) error
	SetRealityLevel(ctx context.Context, workspaceID string, level models.RealityLevel) error
	SetRealityRatio(ctx context.Context, workspaceID string, ratio float64) error
	RegisterEntity(ctx context.Context, workspaceID string, entity models.EntityState) error
	ActivateChaosRule(ctx context.Context, workspaceID string, rule models.ChaosRule) error
	DeactivateChaosRule(ctx context.Context, workspaceID string, name string) error
	RestoreState(ctx context.Context, state models.UnifiedState) error

	SubscribeToEvents(workspaceID *string) EventStream

	// RegisterAdapter adds a protocol adapter sink to the notification
	// list; on_state_change is invoked for every mutation, in registration
	// order, outside the state lock.
	RegisterAdapter(adapter ProtocolAdapter)
}

// ProtocolAdapter is the small capability set a protocol front-end (HTTP,
// WebSocket, gRPC, GraphQL) implements to receive state-change
// notifications. Adapter identity is opaque to the core.
type ProtocolAdapter interface {
	Protocol() models.Protocol
	OnStateChange(ctx context.Context, event models.StateChangeEvent) error
}

// ── Proxy / Migration Controller (C9) ───────────────────────

// ProxyDecision is the oracle protocol adapters consult before deciding
// whether to synthesize a mock response, proxy upstream, run both
// (shadow), or pass the request through untouched.
type ProxyDecision interface {
	Decide(ctx context.Context, method, uri string, headers map[string][]string, body []byte) (models.ProxyDisposition, error)
	ApplyRequestBodyTransforms(ctx context.Context, url string, body []byte) ([]byte, error)
	ApplyResponseBodyTransforms(ctx context.Context, url string, status int, body []byte) ([]byte, error)

	// ToggleRouteMigration cycles a single rule's mode Mock -> Shadow ->
	// Real -> Mock (Auto resets to Mock) and returns the new mode.
	ToggleRouteMigration(pathPattern string) (models.MigrationMode, error)
	// ToggleGroupMigration cycles a migration group's mode the same way.
	ToggleGroupMigration(group string) (models.MigrationMode, error)
}

// ── Recorder (C6) ────────────────────────────────────────────

// Recorder persists captured requests/responses for later diffing,
// verification, and sync-driven fixture updates.
type Recorder interface {
	RecordHTTPRequest(ctx context.Context, method, path string, query map[string]string, headers map[string][]string, body []byte, rc models.RecordContext) (requestID string, err error)
	RecordHTTPResponse(ctx context.Context, requestID string, status int, headers map[string][]string, body []byte, latencyMs int64) error

	GetExchange(ctx context.Context, requestID string) (*models.Exchange, error)
	GetResponse(ctx context.Context, requestID string) (*models.RecordedResponse, error)
	ListRecent(ctx context.Context, limit int) ([]models.RecordedRequest, error)

	Clear(ctx context.Context) error
	Purge(ctx context.Context, olderThan time.Time) error
}

// ── Reality Continuum (C8) ──────────────────────────────────

// RealityContinuum exposes the per-route real/mock blend ratio and the
// merge helpers used to combine shadow-mode dual responses.
type RealityContinuum interface {
	GetBlendRatio(path string) float64
	// MergeShadowResponses combines a mock and a real response body under
	// the continuum's configured MergeStrategy.
	MergeShadowResponses(mock, real []byte) ([]byte, error)
}
