package models

import "time"

// PipelineEventType is the closed set of pipeline-visible event kinds.
type PipelineEventType string

const (
	EventSchemaChanged       PipelineEventType = "schema.changed"
	EventScenarioPublished   PipelineEventType = "scenario.published"
	EventDriftThresholdExceeded PipelineEventType = "drift.threshold_exceeded"
	EventPromotionCompleted  PipelineEventType = "promotion.completed"
	EventWorkspaceCreated    PipelineEventType = "workspace.created"
	EventPersonaPublished    PipelineEventType = "persona.published"
	EventConfigChanged       PipelineEventType = "config.changed"
)

// PipelineEvent is the typed payload broadcast on the process-wide pipeline
// event bus (C1), driving downstream automation (PR generation, drift
// alerts, etc. — all external to this module).
type PipelineEvent struct {
	ID          string
	Type        PipelineEventType
	WorkspaceID string // "" if not workspace-scoped
	OrgID       string // "" if not set
	Payload     map[string]any
	Timestamp   time.Time
	Source      string // emitting subsystem, e.g. "consistency_engine"
}

// StateChangeKind is the tag of the StateChangeEvent sum type.
type StateChangeKind string

const (
	StateChangePersonaChanged      StateChangeKind = "persona_changed"
	StateChangeScenarioChanged     StateChangeKind = "scenario_changed"
	StateChangeRealityLevelChanged StateChangeKind = "reality_level_changed"
	StateChangeRealityRatioChanged StateChangeKind = "reality_ratio_changed"
	StateChangeEntityCreated       StateChangeKind = "entity_created"
	StateChangeEntityUpdated       StateChangeKind = "entity_updated"
	StateChangeChaosRuleActivated  StateChangeKind = "chaos_rule_activated"
	StateChangeChaosRuleDeactivated StateChangeKind = "chaos_rule_deactivated"
)

// StateChangeEvent is the tagged sum broadcast per-workspace whenever the
// Consistency Engine mutates UnifiedState; only the fields relevant to Kind
// are populated, matching the spec's "minimum payload to re-derive
// adapter-local state".
type StateChangeEvent struct {
	Kind        StateChangeKind
	WorkspaceID string
	Version     uint64
	Timestamp   time.Time

	Persona       *PersonaProfile // PersonaChanged
	ScenarioID    *string         // ScenarioChanged
	RealityLevel  *RealityLevel   // RealityLevelChanged
	RealityRatio  *float64        // RealityRatioChanged
	Entity        *EntityState    // EntityCreated / EntityUpdated
	ChaosRule     *ChaosRule      // ChaosRuleActivated
	ChaosRuleName string          // ChaosRuleDeactivated
}
