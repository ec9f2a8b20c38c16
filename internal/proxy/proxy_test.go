package proxy_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mockforge/core/internal/proxy"
	"github.com/mockforge/core/pkg/models"
)

func TestDecide_ProxyDisabledAlwaysMock(t *testing.T) {
	c, err := proxy.New(models.ProxyConfig{Enabled: false})
	require.NoError(t, err)
	d, err := c.Decide(context.Background(), "GET", "/api/x", nil, nil)
	require.NoError(t, err)
	require.Equal(t, models.DispositionMock, d)
}

func TestDecide_MigrationModeOverridesRuleMatch(t *testing.T) {
	c, err := proxy.New(models.ProxyConfig{
		Enabled:          true,
		MigrationEnabled: true,
		Rules: []models.ProxyRule{
			{PathPattern: "/api/users", Enabled: true, MigrationMode: models.MigrationReal},
		},
	})
	require.NoError(t, err)
	d, err := c.Decide(context.Background(), "GET", "/api/users", nil, nil)
	require.NoError(t, err)
	require.Equal(t, models.DispositionProxyOnly, d)
}

func TestDecide_MigrationShadow(t *testing.T) {
	c, err := proxy.New(models.ProxyConfig{
		Enabled:          true,
		MigrationEnabled: true,
		Rules: []models.ProxyRule{
			{PathPattern: "/api/users", Enabled: true, MigrationMode: models.MigrationShadow},
		},
	})
	require.NoError(t, err)
	d, err := c.Decide(context.Background(), "GET", "/api/users", nil, nil)
	require.NoError(t, err)
	require.Equal(t, models.DispositionShadow, d)
}

func TestDecide_GroupOverridesRuleLevel(t *testing.T) {
	c, err := proxy.New(models.ProxyConfig{
		Enabled:          true,
		MigrationEnabled: true,
		MigrationGroups:  map[string]models.MigrationMode{"g1": models.MigrationReal},
		Rules: []models.ProxyRule{
			{PathPattern: "/api/users", Enabled: true, MigrationMode: models.MigrationMock, MigrationGroup: "g1"},
		},
	})
	require.NoError(t, err)
	d, err := c.Decide(context.Background(), "GET", "/api/users", nil, nil)
	require.NoError(t, err)
	require.Equal(t, models.DispositionProxyOnly, d, "group override must win over rule-level mode")
}

func TestDecide_AutoFallsThroughToConditionMatch(t *testing.T) {
	c, err := proxy.New(models.ProxyConfig{
		Enabled: true,
		Rules: []models.ProxyRule{
			{PathPattern: "/api/*", Enabled: true, Condition: `method == "POST"`},
		},
	})
	require.NoError(t, err)

	d, err := c.Decide(context.Background(), "POST", "/api/users", nil, nil)
	require.NoError(t, err)
	require.Equal(t, models.DispositionProxyOnly, d)

	d2, err := c.Decide(context.Background(), "GET", "/api/users", nil, nil)
	require.NoError(t, err)
	require.Equal(t, models.DispositionMock, d2)
}

func TestDecide_UnconditionalRuleMatchesAlways(t *testing.T) {
	c, err := proxy.New(models.ProxyConfig{
		Enabled: true,
		Rules:   []models.ProxyRule{{PathPattern: "/api/*", Enabled: true}},
	})
	require.NoError(t, err)
	d, err := c.Decide(context.Background(), "GET", "/api/anything", nil, nil)
	require.NoError(t, err)
	require.Equal(t, models.DispositionProxyOnly, d)
}

func TestDecide_PrefixFallback(t *testing.T) {
	c, err := proxy.New(models.ProxyConfig{Enabled: true, Prefix: "/legacy/"})
	require.NoError(t, err)
	d, err := c.Decide(context.Background(), "GET", "/legacy/old-endpoint", nil, nil)
	require.NoError(t, err)
	require.Equal(t, models.DispositionProxyOnly, d)

	d2, err := c.Decide(context.Background(), "GET", "/new-endpoint", nil, nil)
	require.NoError(t, err)
	require.Equal(t, models.DispositionMock, d2)
}

func TestDecide_PassthroughDefault(t *testing.T) {
	c, err := proxy.New(models.ProxyConfig{Enabled: true, PassthroughByDefault: true})
	require.NoError(t, err)
	d, err := c.Decide(context.Background(), "GET", "/whatever", nil, nil)
	require.NoError(t, err)
	require.Equal(t, models.DispositionPassThrough, d)
}

func TestToggleRouteMigration_Cycles(t *testing.T) {
	c, err := proxy.New(models.ProxyConfig{
		Rules: []models.ProxyRule{{PathPattern: "/x", MigrationMode: models.MigrationMock}},
	})
	require.NoError(t, err)

	m1, err := c.ToggleRouteMigration("/x")
	require.NoError(t, err)
	require.Equal(t, models.MigrationShadow, m1)

	m2, _ := c.ToggleRouteMigration("/x")
	require.Equal(t, models.MigrationReal, m2)

	m3, _ := c.ToggleRouteMigration("/x")
	require.Equal(t, models.MigrationMock, m3)
}

func TestToggleGroupMigration_AutoResetsToMock(t *testing.T) {
	c, err := proxy.New(models.ProxyConfig{MigrationGroups: map[string]models.MigrationMode{"g1": models.MigrationAuto}})
	require.NoError(t, err)
	m, err := c.ToggleGroupMigration("g1")
	require.NoError(t, err)
	require.Equal(t, models.MigrationMock, m)
}

func TestApplyRequestBodyTransforms_ReplaceAndRemove(t *testing.T) {
	c, err := proxy.New(models.ProxyConfig{
		RequestReplacements: []models.BodyTransformRule{
			{Pattern: "/api/*", JSONPath: "secret", Replace: "REDACTED", Operation: models.TransformReplace},
			{Pattern: "/api/*", JSONPath: "internal_flag", Operation: models.TransformRemove},
		},
	})
	require.NoError(t, err)

	out, err := c.ApplyRequestBodyTransforms(context.Background(), "/api/users", []byte(`{"secret":"s3cr3t","internal_flag":true,"name":"bob"}`))
	require.NoError(t, err)
	require.Contains(t, string(out), `"secret":"REDACTED"`)
	require.NotContains(t, string(out), "internal_flag")
	require.Contains(t, string(out), `"name":"bob"`)
}

func TestCallUpstream_RetriesTransientFailureThenSucceeds(t *testing.T) {
	var attempts int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			// simulate a transient failure by hijacking and closing the
			// connection without writing a response, so client.Do returns
			// an error that CallUpstream's retry loop should recover from.
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			_ = conn.Close()
			return
		}
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	c, err := proxy.New(models.ProxyConfig{MaxUpstreamRetries: 3})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, upstream.URL, nil)
	require.NoError(t, err)
	resp, err := c.CallUpstream(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(3))
}

func TestCallUpstream_PermanentFailureReturnsUpstreamError(t *testing.T) {
	c, err := proxy.New(models.ProxyConfig{MaxUpstreamRetries: 1})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, "http://127.0.0.1:0/unreachable", nil)
	require.NoError(t, err)
	_, err = c.CallUpstream(context.Background(), req)
	require.Error(t, err)
}

func TestTargetFor_FallsBackToControllerWideTarget(t *testing.T) {
	c, err := proxy.New(models.ProxyConfig{
		TargetURL: "https://default.example.com",
		Rules: []models.ProxyRule{
			{PathPattern: "/api/users", Enabled: true, TargetURL: "https://users.example.com"},
		},
	})
	require.NoError(t, err)

	require.Equal(t, "https://users.example.com", c.TargetFor("/api/users"))
	require.Equal(t, "https://default.example.com", c.TargetFor("/api/orders"))
}

func TestExecuteShadow_RealArmFailureDoesNotFailCall(t *testing.T) {
	c, err := proxy.New(models.ProxyConfig{})
	require.NoError(t, err)

	mockBody, realBody, err := c.ExecuteShadow(context.Background(),
		func(context.Context) ([]byte, error) { return []byte(`{"ok":true}`), nil },
		func(context.Context) ([]byte, error) { return nil, context.DeadlineExceeded },
	)
	require.NoError(t, err)
	require.Equal(t, []byte(`{"ok":true}`), mockBody)
	require.Nil(t, realBody)
}

func TestExecuteShadow_MockArmFailureFailsCall(t *testing.T) {
	c, err := proxy.New(models.ProxyConfig{})
	require.NoError(t, err)

	_, _, err = c.ExecuteShadow(context.Background(),
		func(context.Context) ([]byte, error) { return nil, context.Canceled },
		func(context.Context) ([]byte, error) { return []byte("real"), nil },
	)
	require.Error(t, err)
}

func TestApplyResponseBodyTransforms_StatusCodeFilter(t *testing.T) {
	c, err := proxy.New(models.ProxyConfig{
		ResponseReplacements: []models.BodyTransformRule{
			{Pattern: "/api/*", JSONPath: "id", Replace: "{{uuid}}", Operation: models.TransformAdd, StatusCodes: []int{404}},
		},
	})
	require.NoError(t, err)

	out, err := c.ApplyResponseBodyTransforms(context.Background(), "/api/users", 200, []byte(`{}`))
	require.NoError(t, err)
	require.JSONEq(t, `{}`, string(out), "rule must not apply when status is filtered out")
}
