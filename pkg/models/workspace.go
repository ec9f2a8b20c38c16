// Package models holds the data types shared across the MockForge
// consistency core: workspaces, personas, recorded exchanges, proxy
// configuration, reality settings, and the pipeline/state-change events
// that tie them together. Protocol adapters (HTTP, WebSocket, gRPC,
// GraphQL — none of which live in this module) consume these types
// through pkg/contracts.
package models

import "time"

// Workspace is the unit of isolation: every piece of mutable state in the
// core is keyed by a Workspace's opaque ID.
type Workspace struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
}

// WorkspaceStats tracks the running request-volume/latency profile of a
// workspace, maintained by the Multi-Tenant Registry (C12).
type WorkspaceStats struct {
	TotalRequests   int64
	AvgResponseMs   float64
	CreatedAt       time.Time
	LastAccessed    time.Time
}

// RealityLevel is the 1..5 realism knob of the Reality Engine (C7).
type RealityLevel int

const (
	RealityStaticStubs     RealityLevel = 1
	RealityLightSim        RealityLevel = 2
	RealityModerateRealism RealityLevel = 3
	RealityHighRealism     RealityLevel = 4
	RealityProductionChaos RealityLevel = 5
)

// Valid reports whether l is one of the five defined levels.
func (l RealityLevel) Valid() bool {
	return l >= RealityStaticStubs && l <= RealityProductionChaos
}

func (l RealityLevel) String() string {
	switch l {
	case RealityStaticStubs:
		return "StaticStubs"
	case RealityLightSim:
		return "LightSim"
	case RealityModerateRealism:
		return "ModerateRealism"
	case RealityHighRealism:
		return "HighRealism"
	case RealityProductionChaos:
		return "ProductionChaos"
	default:
		return "Unknown"
	}
}

// Protocol identifies which front-end captured or owns a piece of state.
type Protocol string

const (
	ProtocolHTTP      Protocol = "http"
	ProtocolWebSocket Protocol = "websocket"
	ProtocolGRPC      Protocol = "grpc"
	ProtocolGraphQL   Protocol = "graphql"
)

// EntityKey identifies an EntityState within a workspace.
type EntityKey struct {
	EntityType string
	EntityID   string
}

// EntityState is a piece of the running mocked world: an order, a user, a
// payment, or any other domain object a scenario has accumulated.
type EntityState struct {
	EntityType string
	EntityID   string
	PersonaID  string // optional; "" means unlinked
	Data       map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Key returns the EntityKey this state is stored under.
func (e EntityState) Key() EntityKey {
	return EntityKey{EntityType: e.EntityType, EntityID: e.EntityID}
}

// UnifiedState is the single mutable record the Consistency Engine (C11)
// maintains per workspace and that every protocol adapter consults.
type UnifiedState struct {
	WorkspaceID   string
	Version       uint64
	ActivePersona *PersonaProfile
	ActiveScenario *string
	RealityLevel  RealityLevel
	ContinuumRatio float64
	EntityState   map[EntityKey]EntityState
	ChaosRules    []ChaosRule
	ProtocolState map[Protocol]any
	PersonaGraph  *PersonaGraph // nil only before the workspace's first write
}

// Clone returns a deep-enough copy of s suitable for safe concurrent reads:
// it clones the maps/slices the caller might retain a reference to, while
// reusing value-typed fields is immaterial; reusing *PersonaProfile is safe
// because persona profiles are frozen at construction (C2 determinism
// contract).
func (s UnifiedState) Clone() UnifiedState {
	out := s
	out.EntityState = make(map[EntityKey]EntityState, len(s.EntityState))
	for k, v := range s.EntityState {
		out.EntityState[k] = v
	}
	out.ChaosRules = append([]ChaosRule(nil), s.ChaosRules...)
	out.ProtocolState = make(map[Protocol]any, len(s.ProtocolState))
	for k, v := range s.ProtocolState {
		out.ProtocolState[k] = v
	}
	return out
}

// ChaosRule is a named, active fault-injection rule layered on top of the
// Reality Engine's level-derived defaults.
type ChaosRule struct {
	Name        string
	ErrorRate   float64
	DelayRate   float64
	MinDelayMs  int
	MaxDelayMs  int
	StatusCode  int
	TargetPaths []string
}
