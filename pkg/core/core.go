// Package core is the public entry point for initializing MockForge Core:
// it wires C1-C12 from a Config and returns a ready Core with each
// component's handle exposed, mirroring how the teacher's pkg/server.New
// builds and exposes its services for both OSS and downstream embedders.
package core

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mockforge/core/internal/bus"
	"github.com/mockforge/core/internal/config"
	"github.com/mockforge/core/internal/consistency"
	"github.com/mockforge/core/internal/continuum"
	"github.com/mockforge/core/internal/lifecycle"
	"github.com/mockforge/core/internal/persona"
	"github.com/mockforge/core/internal/proxy"
	"github.com/mockforge/core/internal/recorder"
	"github.com/mockforge/core/internal/scrub"
	"github.com/mockforge/core/internal/tenant"
	"github.com/mockforge/core/pkg/contracts"
	"github.com/mockforge/core/pkg/models"
)

// Core holds every initialized MockForge Core component. Fields are
// exported so an embedding application (HTTP/WS/gRPC/GraphQL adapter) can
// reach into any subsystem directly, the same way the teacher's Server
// exposes Store/Router/Notifier for its Pro tier to extend.
type Core struct {
	Config *config.Config

	// PipelineBus is the process-wide PipelineEvent broadcaster (C1).
	PipelineBus *bus.PipelineBus

	// Consistency is the integrator owning UnifiedState per workspace
	// (C11); protocol adapters register themselves via
	// Consistency.RegisterAdapter.
	Consistency *consistency.Engine

	// Personas is the deterministic persona/graph registry (C2).
	Personas *persona.Registry

	// Lifecycle drives per-persona FSM transitions (C3).
	Lifecycle *lifecycle.Engine

	// Scrubber and CaptureFilter back every Recorder constructed by this
	// Core (C5); shared so scrub rules apply identically regardless of
	// which workspace's recorder is in use.
	Scrubber      *scrub.Scrubber
	CaptureFilter *scrub.CaptureFilter

	// Continuum is the per-route real/mock blend ratio controller (C8).
	Continuum *continuum.Continuum

	// Proxy is the migration/disposition controller (C9).
	Proxy *proxy.Controller

	// Tenant maps workspace IDs to route tables, stats, and per-workspace
	// recorders (C12).
	Tenant *tenant.Registry
}

// New loads Config from the environment and builds a Core.
func New(ctx context.Context) (*Core, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig builds a Core from an explicit Config.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Core, error) {
	pipelineBus := bus.NewPipelineBus(cfg.BroadcastCapacity)

	consistencyEngine := consistency.New(consistency.WithBroadcastCapacity(cfg.BroadcastCapacity))
	log.Info().Msg("consistency engine initialized")

	personaRegistry := persona.NewRegistry()
	log.Info().Msg("persona registry initialized")

	lifecycleEngine := lifecycle.NewEngine(lifecycle.DefaultTransitionRules())
	log.Info().Msg("lifecycle engine initialized")

	scrubber := scrub.New(cfg.Scrubber)
	captureFilter := scrub.NewCaptureFilter(cfg.CaptureFilter)
	log.Info().Msg("scrubber and capture filter initialized")

	continuumEngine, err := continuum.New(cfg.Continuum)
	if err != nil {
		return nil, fmt.Errorf("core: init continuum: %w", err)
	}
	log.Info().Msg("reality continuum initialized")

	proxyController, err := proxy.New(cfg.Proxy)
	if err != nil {
		return nil, fmt.Errorf("core: init proxy controller: %w", err)
	}
	log.Info().Msg("proxy/migration controller initialized")

	recorderFactory := func(workspaceID string) contracts.Recorder {
		return recorder.NewMemoryRecorder(scrubber, captureFilter, cfg.Scrubber.Deterministic)
	}
	tenantRegistry := tenant.NewRegistry(cfg.Tenant, recorderFactory)
	log.Info().Msg("multi-tenant registry initialized")

	c := &Core{
		Config:        cfg,
		PipelineBus:   pipelineBus,
		Consistency:   consistencyEngine,
		Personas:      personaRegistry,
		Lifecycle:     lifecycleEngine,
		Scrubber:      scrubber,
		CaptureFilter: captureFilter,
		Continuum:     continuumEngine,
		Proxy:         proxyController,
		Tenant:        tenantRegistry,
	}

	if err := c.seedDefaultWorkspace(ctx); err != nil {
		return nil, fmt.Errorf("core: seed default workspace: %w", err)
	}

	pipelineBus.Publish(models.PipelineEvent{
		Type:        models.EventWorkspaceCreated,
		WorkspaceID: cfg.Workspace.DefaultID,
		Source:      "core",
	})

	return c, nil
}

// seedDefaultWorkspace materialises the configured default workspace's
// UnifiedState at its configured starting reality level/ratio.
func (c *Core) seedDefaultWorkspace(ctx context.Context) error {
	ws := c.Config.Workspace.DefaultID
	if err := c.Consistency.SetRealityLevel(ctx, ws, c.Config.Reality.DefaultLevel); err != nil {
		return err
	}
	if err := c.Consistency.SetRealityRatio(ctx, ws, c.Config.Reality.DefaultRatio); err != nil {
		return err
	}
	return nil
}

// Recorder returns the Recorder owned by workspaceID, constructing it
// lazily on first access via Tenant's recorder factory.
func (c *Core) Recorder(workspaceID string) (contracts.Recorder, error) {
	return c.Tenant.Recorder(workspaceID)
}
