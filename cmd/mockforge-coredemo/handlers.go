package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/mockforge/core/internal/telemetry"
	"github.com/mockforge/core/pkg/core"
	"github.com/mockforge/core/pkg/models"
)

// router builds the demo HTTP surface: one handler per component family,
// enough to exercise SetActivePersona/Decide/Recorder/GetBlendRatio end to
// end without pulling in a full protocol-adapter implementation (those
// are out of the core's scope).
func newRouter(c *core.Core) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/ws/{workspaceID}", func(r chi.Router) {
		r.Get("/state", getState(c))
		r.Post("/persona/{personaID}", setActivePersona(c))
		r.Post("/reality/{level}", setRealityLevel(c))
		r.Get("/decide", decide(c))
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func getState(c *core.Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := chi.URLParam(r, "workspaceID")
		ctx, span := telemetry.StartSpan(r.Context(), "consistency.get_state", ws)
		defer span.End()
		state, err := c.Consistency.GetState(ctx, ws)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if state == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "workspace not found"})
			return
		}
		writeJSON(w, http.StatusOK, state)
	}
}

func setActivePersona(c *core.Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := chi.URLParam(r, "workspaceID")
		ctx, span := telemetry.StartSpan(r.Context(), "consistency.set_active_persona", ws)
		defer span.End()
		personaID := chi.URLParam(r, "personaID")
		domain := models.Domain(r.URL.Query().Get("domain"))
		if domain == "" {
			domain = models.DomainGeneral
		}
		p := c.Personas.GetOrCreate(personaID, domain)
		if err := c.Consistency.SetActivePersona(ctx, ws, *p); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func setRealityLevel(c *core.Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := chi.URLParam(r, "workspaceID")
		ctx, span := telemetry.StartSpan(r.Context(), "consistency.set_reality_level", ws)
		defer span.End()
		levelStr := chi.URLParam(r, "level")
		level, err := strconv.Atoi(levelStr)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid level"})
			return
		}
		if err := c.Consistency.SetRealityLevel(ctx, ws, models.RealityLevel(level)); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"level": level})
	}
}

func decide(c *core.Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := chi.URLParam(r, "workspaceID")
		ctx, span := telemetry.StartSpan(r.Context(), "proxy.decide", ws)
		defer span.End()

		path := r.URL.Query().Get("path")
		if path == "" {
			path = "/"
		}
		body, _ := io.ReadAll(io.LimitReader(r.Body, 1<<20))

		disposition, err := c.Proxy.Decide(ctx, http.MethodGet, path, r.Header, body)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}

		rec, err := c.Recorder(ws)
		if err == nil {
			_, _ = rec.RecordHTTPRequest(ctx, http.MethodGet, path, nil, r.Header, body, models.RecordContext{
				Protocol: models.ProtocolHTTP,
			})
		}

		resp := map[string]any{
			"disposition":     disposition,
			"blend_ratio":     c.Continuum.GetBlendRatio(path),
			"recorded_at_utc": time.Now().UTC(),
		}

		if disposition == models.DispositionShadow {
			merged, shadowErr := runShadowArm(ctx, c, path, body)
			if shadowErr != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": shadowErr.Error()})
				return
			}
			resp["merged_body"] = json.RawMessage(merged)
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

// runShadowArm executes the mock and real arms of a Shadow-mode decision
// concurrently via c.Proxy.ExecuteShadow, then merges their bodies per the
// continuum's configured MergeStrategy. A failing or timed-out real arm
// never fails the request; only a failing mock arm does.
func runShadowArm(ctx context.Context, c *core.Core, path string, body []byte) ([]byte, error) {
	mockFn := func(context.Context) ([]byte, error) {
		return json.Marshal(map[string]any{"path": path, "source": "mock"})
	}
	realFn := func(rctx context.Context) ([]byte, error) {
		target := c.Proxy.TargetFor(path)
		if target == "" {
			return nil, errNoUpstreamTarget
		}
		req, err := http.NewRequestWithContext(rctx, http.MethodGet, target+path, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.Proxy.CallUpstream(rctx, req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	}

	mockBody, realBody, err := c.Proxy.ExecuteShadow(ctx, mockFn, realFn)
	if err != nil {
		return nil, err
	}
	if realBody == nil {
		return mockBody, nil
	}
	return c.Continuum.MergeShadowResponses(mockBody, realBody)
}

// errNoUpstreamTarget marks "no upstream target configured" as a realFn
// failure that ExecuteShadow swallows, rather than a malformed request.
var errNoUpstreamTarget = errors.New("proxy: no upstream target configured for path")
