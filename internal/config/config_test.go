package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mockforge/core/internal/config"
	"github.com/mockforge/core/pkg/models"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := config.Load()
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, models.RealityStaticStubs, cfg.Reality.DefaultLevel)
	require.Equal(t, "default", cfg.Workspace.DefaultID)
	require.Equal(t, "/ws", cfg.Tenant.WorkspacePrefix)
	require.Equal(t, 10000, cfg.Tenant.GlobalLogCapacity)
	require.False(t, cfg.Proxy.Enabled)
	require.Equal(t, models.TransitionManual, cfg.Continuum.TransitionMode)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MOCKFORGE_PORT", "9090")
	t.Setenv("MOCKFORGE_REALITY_LEVEL", "3")
	t.Setenv("MOCKFORGE_PROXY_ENABLED", "true")
	t.Setenv("MOCKFORGE_CAPTURE_FILTER_METHODS", "GET, POST,, DELETE")

	cfg := config.Load()
	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, models.RealityModerateRealism, cfg.Reality.DefaultLevel)
	require.True(t, cfg.Proxy.Enabled)
	require.Equal(t, []string{"GET", "POST", "DELETE"}, cfg.CaptureFilter.Methods)
}

func TestLoad_InvalidIntFallsBackToDefault(t *testing.T) {
	t.Setenv("MOCKFORGE_PORT", "not-a-number")
	cfg := config.Load()
	require.Equal(t, 8080, cfg.Port)
}
