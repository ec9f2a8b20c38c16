package tenant_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mockforge/core/internal/tenant"
	"github.com/mockforge/core/pkg/contracts"
	"github.com/mockforge/core/pkg/models"
)

func TestExtractWorkspaceID(t *testing.T) {
	id, ok := tenant.ExtractWorkspaceID("/ws", "/ws/acme/api/users")
	require.True(t, ok)
	require.Equal(t, "acme", id)

	_, ok = tenant.ExtractWorkspaceID("/ws", "/ws/")
	require.False(t, ok, "empty segment must not match")

	_, ok = tenant.ExtractWorkspaceID("/ws", "/api/users")
	require.False(t, ok)

	_, ok = tenant.ExtractWorkspaceID("", "/ws/acme")
	require.False(t, ok, "empty prefix disables path-based extraction")
}

func TestStripWorkspacePrefix(t *testing.T) {
	require.Equal(t, "/api/users", tenant.StripWorkspacePrefix("/ws", "/ws/acme/api/users", "acme"))
	require.Equal(t, "/", tenant.StripWorkspacePrefix("/ws", "/ws/acme", "acme"))
}

func TestResolveWorkspace(t *testing.T) {
	require.Equal(t, "default", tenant.ResolveWorkspace(nil, "default"))
	id := "acme"
	require.Equal(t, "acme", tenant.ResolveWorkspace(&id, "default"))
	empty := ""
	require.Equal(t, "default", tenant.ResolveWorkspace(&empty, "default"))
}

func TestRegisterWorkspace_RefusesOverMax(t *testing.T) {
	r := tenant.NewRegistry(models.TenantConfig{MaxWorkspaces: 1, DefaultWorkspaceID: "default"}, nil)
	err := r.RegisterWorkspace(models.Workspace{ID: "extra"})
	require.Error(t, err)

	// Re-registering the existing (default) workspace is fine, not a new slot.
	require.NoError(t, r.RegisterWorkspace(models.Workspace{ID: "default", Name: "renamed"}))
	ws, ok := r.Get("default")
	require.True(t, ok)
	require.Equal(t, "renamed", ws.Name)
}

func TestRemoveWorkspace_RefusesDefault(t *testing.T) {
	r := tenant.NewRegistry(models.TenantConfig{DefaultWorkspaceID: "default"}, nil)
	require.Error(t, r.RemoveWorkspace("default"))

	require.NoError(t, r.RegisterWorkspace(models.Workspace{ID: "acme"}))
	require.NoError(t, r.RemoveWorkspace("acme"))
	_, ok := r.Get("acme")
	require.False(t, ok)
}

func TestUpdateWorkspaceStats_RunningAverage(t *testing.T) {
	r := tenant.NewRegistry(models.TenantConfig{}, nil)
	r.UpdateWorkspaceStats("ws1", 100)
	r.UpdateWorkspaceStats("ws1", 200)

	stats, ok := r.Stats("ws1")
	require.True(t, ok)
	require.EqualValues(t, 2, stats.TotalRequests)
	require.Equal(t, 150.0, stats.AvgResponseMs)
}

func TestRecorder_LazilyConstructedViaFactory(t *testing.T) {
	calls := 0
	r := tenant.NewRegistry(models.TenantConfig{}, func(ws string) contracts.Recorder {
		calls++
		return fakeRecorder{}
	})
	rec1, err := r.Recorder("ws1")
	require.NoError(t, err)
	rec2, err := r.Recorder("ws1")
	require.NoError(t, err)
	require.Equal(t, rec1, rec2)
	require.Equal(t, 1, calls, "factory must be invoked only once per workspace")
}

func TestRecorder_ErrorsWithoutFactory(t *testing.T) {
	r := tenant.NewRegistry(models.TenantConfig{}, nil)
	_, err := r.Recorder("ws1")
	require.Error(t, err)
}

func TestGlobalLog_BoundedRingBuffer(t *testing.T) {
	r := tenant.NewRegistry(models.TenantConfig{GlobalLogCapacity: 2}, nil)
	r.LogGlobal(models.RecordedRequest{ID: "1"})
	r.LogGlobal(models.RecordedRequest{ID: "2"})
	r.LogGlobal(models.RecordedRequest{ID: "3"})

	log := r.GlobalLog()
	require.Len(t, log, 2)
	require.Equal(t, "2", log[0].ID)
	require.Equal(t, "3", log[1].ID)
}

func TestRegisterRoute_AndRoutes(t *testing.T) {
	r := tenant.NewRegistry(models.TenantConfig{}, nil)
	r.RegisterRoute("ws1", "/api/users")
	r.RegisterRoute("ws1", "/api/orders")
	routes := r.Routes("ws1")
	require.ElementsMatch(t, []string{"/api/users", "/api/orders"}, routes)
}

type fakeRecorder struct{}

func (fakeRecorder) RecordHTTPRequest(context.Context, string, string, map[string]string, map[string][]string, []byte, models.RecordContext) (string, error) {
	return "", nil
}
func (fakeRecorder) RecordHTTPResponse(context.Context, string, int, map[string][]string, []byte, int64) error {
	return nil
}
func (fakeRecorder) GetExchange(context.Context, string) (*models.Exchange, error) { return nil, nil }
func (fakeRecorder) GetResponse(context.Context, string) (*models.RecordedResponse, error) {
	return nil, nil
}
func (fakeRecorder) ListRecent(context.Context, int) ([]models.RecordedRequest, error) {
	return nil, nil
}
func (fakeRecorder) Clear(context.Context) error                 { return nil }
func (fakeRecorder) Purge(context.Context, time.Time) error { return nil }

var _ contracts.Recorder = fakeRecorder{}
