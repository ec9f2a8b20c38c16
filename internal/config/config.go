// Package config loads MockForge Core's configuration from environment
// variables with sensible defaults, following the same envStr/envInt/
// envBool pattern the control-plane teacher used for its own Config.Load.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/mockforge/core/internal/bus"
	"github.com/mockforge/core/pkg/models"
)

// Config holds all configuration for the core: the ambient bus/telemetry
// knobs plus each component's declarative settings (C5, C7-C9, C12).
// Rule lists (scrub rules, proxy rules, continuum routes, body-transform
// rules) are not environment-loadable — callers assemble those
// programmatically and attach them after Load, e.g.
// cfg.Scrubber.Rules = append(cfg.Scrubber.Rules, ...).
type Config struct {
	Port      int
	Version   string
	Telemetry TelemetryConfig

	Workspace     WorkspaceConfig
	Reality       RealityConfig
	Continuum     models.ContinuumConfig
	Proxy         models.ProxyConfig
	Scrubber      models.ScrubberConfig
	CaptureFilter models.CaptureFilterConfig
	Tenant        models.TenantConfig

	// BroadcastCapacity bounds every bounded channel the event bus (C1)
	// and the consistency engine's per-workspace buses use.
	BroadcastCapacity int
}

// TelemetryConfig controls the ambient OTLP tracer the core emits spans
// onto; the core never configures its own exporter (that is the embedding
// application's job), it only reads whether tracing is enabled and under
// what service name to label its own spans.
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// WorkspaceConfig seeds the default workspace materialised at startup.
type WorkspaceConfig struct {
	DefaultID          string
	DefaultDisplayName string
}

// RealityConfig carries the startup reality level and ratio; per-level
// ChaosConfig/LatencyProfile/BehaviorConfig are derived by
// internal/reality.ForLevel, not configured directly.
type RealityConfig struct {
	DefaultLevel models.RealityLevel
	DefaultRatio float64
}

// Load reads configuration from environment variables with sensible
// defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("MOCKFORGE_PORT", 8080),
		Version: envStr("MOCKFORGE_VERSION", "0.1.0"),
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "mockforge-core"),
		},
		Workspace: WorkspaceConfig{
			DefaultID:          envStr("MOCKFORGE_WORKSPACE_DEFAULT_ID", "default"),
			DefaultDisplayName: envStr("MOCKFORGE_WORKSPACE_DEFAULT_NAME", "Default Workspace"),
		},
		Reality: RealityConfig{
			DefaultLevel: models.RealityLevel(envInt("MOCKFORGE_REALITY_LEVEL", int(models.RealityStaticStubs))),
			DefaultRatio: envFloat("MOCKFORGE_REALITY_RATIO", 0.0),
		},
		Continuum: models.ContinuumConfig{
			Enabled:        envBool("MOCKFORGE_CONTINUUM_ENABLED", false),
			DefaultRatio:   envFloat("MOCKFORGE_CONTINUUM_DEFAULT_RATIO", 0.0),
			TransitionMode: models.TransitionMode(envStr("MOCKFORGE_CONTINUUM_TRANSITION_MODE", string(models.TransitionManual))),
			MergeStrategy:  models.MergeStrategy(envStr("MOCKFORGE_CONTINUUM_MERGE_STRATEGY", string(models.MergeWeighted))),
			Schedule:       envStr("MOCKFORGE_CONTINUUM_SCHEDULE", ""),
		},
		Proxy: models.ProxyConfig{
			Enabled:              envBool("MOCKFORGE_PROXY_ENABLED", false),
			TargetURL:            envStr("MOCKFORGE_PROXY_TARGET_URL", ""),
			TimeoutSeconds:       envInt("MOCKFORGE_PROXY_TIMEOUT_SECONDS", 10),
			FollowRedirects:      envBool("MOCKFORGE_PROXY_FOLLOW_REDIRECTS", true),
			Prefix:               envStr("MOCKFORGE_PROXY_PREFIX", ""),
			PassthroughByDefault: envBool("MOCKFORGE_PROXY_PASSTHROUGH_DEFAULT", false),
			MigrationEnabled:     envBool("MOCKFORGE_PROXY_MIGRATION_ENABLED", false),
		},
		Scrubber: models.ScrubberConfig{
			Deterministic: envBool("MOCKFORGE_SCRUBBER_DETERMINISTIC", false),
			CounterSeed:   uint64(envInt("MOCKFORGE_SCRUBBER_COUNTER_SEED", 0)),
		},
		CaptureFilter: models.CaptureFilterConfig{
			Methods:      envStrList("MOCKFORGE_CAPTURE_FILTER_METHODS", nil),
			PathPatterns: envStrList("MOCKFORGE_CAPTURE_FILTER_PATH_PATTERNS", nil),
			ErrorsOnly:   envBool("MOCKFORGE_CAPTURE_FILTER_ERRORS_ONLY", false),
		},
		Tenant: models.TenantConfig{
			WorkspacePrefix:    envStr("MOCKFORGE_WORKSPACE_PREFIX", "/ws"),
			DefaultWorkspaceID: envStr("MOCKFORGE_WORKSPACE_DEFAULT_ID", "default"),
			MaxWorkspaces:      envInt("MOCKFORGE_MAX_WORKSPACES", 0),
			GlobalLogCapacity:  envInt("MOCKFORGE_GLOBAL_LOG_CAPACITY", 10000),
		},
		BroadcastCapacity: envInt("MOCKFORGE_BROADCAST_CAPACITY", bus.DefaultCapacity),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// envStrList splits a comma-separated environment variable into a
// trimmed, non-empty-entry slice; an unset variable returns fallback.
func envStrList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
