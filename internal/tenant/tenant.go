// Package tenant implements the Multi-Tenant Registry (C12): mapping
// workspace IDs extracted from a request path to per-workspace route
// tables, stats, and recorders, plus a bounded global request log
// aggregating across all workspaces for observability.
//
// ExtractWorkspaceID generalizes the teacher's
// api/middleware.TenantExtractor (header -> query-param -> default
// fallback chain, scoped to one HTTP framework) into a protocol-agnostic
// pure function over a request path, usable by any adapter.
package tenant

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mockforge/core/pkg/contracts"
	"github.com/mockforge/core/pkg/models"
)

// DefaultGlobalLogCapacity is used when TenantConfig.GlobalLogCapacity is
// zero.
const DefaultGlobalLogCapacity = 10000

// ExtractWorkspaceID returns the workspace ID embedded in path under
// prefix, if any. path must start with "<prefix>/"; the first following
// path segment is the workspace ID. An empty segment (e.g. a trailing
// slash right after the prefix) yields ("", false). An empty prefix
// disables path-based extraction entirely.
func ExtractWorkspaceID(prefix, path string) (string, bool) {
	if prefix == "" {
		return "", false
	}
	marker := prefix + "/"
	if !strings.HasPrefix(path, marker) {
		return "", false
	}
	rest := path[len(marker):]
	seg := rest
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		seg = rest[:idx]
	}
	if seg == "" {
		return "", false
	}
	return seg, true
}

// StripWorkspacePrefix removes "<prefix>/<ws>" from the front of path,
// normalising an empty remainder to "/".
func StripWorkspacePrefix(prefix, path, ws string) string {
	marker := prefix + "/" + ws
	trimmed := strings.TrimPrefix(path, marker)
	if trimmed == "" {
		return "/"
	}
	return trimmed
}

// ResolveWorkspace returns optID's value if present, else defaultID.
func ResolveWorkspace(optID *string, defaultID string) string {
	if optID != nil && *optID != "" {
		return *optID
	}
	return defaultID
}

// workspaceEntry holds one workspace's registry-owned state.
type workspaceEntry struct {
	workspace models.Workspace
	stats     models.WorkspaceStats
	routes    map[string]struct{} // registered route patterns, insertion-agnostic set
	recorder  contracts.Recorder
}

// Registry owns per-workspace route tables, stats, and recorders, plus a
// bounded global request log.
type Registry struct {
	mu  sync.RWMutex
	cfg models.TenantConfig
	ws  map[string]*workspaceEntry

	recorderFactory func(workspaceID string) contracts.Recorder

	globalLogMu  sync.Mutex
	globalLog    []models.RecordedRequest
	globalLogCap int
	globalLogPos int
}

// NewRegistry returns a Registry seeded with the default workspace.
// recorderFactory builds a fresh Recorder the first time a workspace is
// touched; it may be nil if the caller never calls Recorder.
func NewRegistry(cfg models.TenantConfig, recorderFactory func(workspaceID string) contracts.Recorder) *Registry {
	cap := cfg.GlobalLogCapacity
	if cap <= 0 {
		cap = DefaultGlobalLogCapacity
	}
	r := &Registry{
		cfg:             cfg,
		ws:              make(map[string]*workspaceEntry),
		recorderFactory: recorderFactory,
		globalLogCap:    cap,
	}
	if cfg.DefaultWorkspaceID != "" {
		_ = r.RegisterWorkspace(models.Workspace{ID: cfg.DefaultWorkspaceID, Name: cfg.DefaultWorkspaceID})
	}
	return r
}

// RegisterWorkspace adds ws, refusing when max_workspaces is already
// reached. Re-registering an existing ID is a no-op update of its
// display fields.
func (r *Registry) RegisterWorkspace(ws models.Workspace) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ws[ws.ID]; !exists && r.cfg.MaxWorkspaces > 0 && len(r.ws) >= r.cfg.MaxWorkspaces {
		return fmt.Errorf("tenant: max_workspaces (%d) reached", r.cfg.MaxWorkspaces)
	}
	if ws.CreatedAt.IsZero() {
		ws.CreatedAt = time.Now()
	}
	if e, exists := r.ws[ws.ID]; exists {
		e.workspace = ws
		return nil
	}
	r.ws[ws.ID] = &workspaceEntry{
		workspace: ws,
		stats:     models.WorkspaceStats{CreatedAt: ws.CreatedAt},
		routes:    make(map[string]struct{}),
	}
	return nil
}

// RemoveWorkspace deletes ws, refusing to remove the configured default
// workspace.
func (r *Registry) RemoveWorkspace(workspaceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if workspaceID == r.cfg.DefaultWorkspaceID {
		return fmt.Errorf("tenant: cannot remove the default workspace %q", workspaceID)
	}
	delete(r.ws, workspaceID)
	return nil
}

// Get returns the workspace record for workspaceID, if registered.
func (r *Registry) Get(workspaceID string) (models.Workspace, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.ws[workspaceID]
	if !ok {
		return models.Workspace{}, false
	}
	return e.workspace, true
}

// Stats returns a copy of workspaceID's running stats.
func (r *Registry) Stats(workspaceID string) (models.WorkspaceStats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.ws[workspaceID]
	if !ok {
		return models.WorkspaceStats{}, false
	}
	return e.stats, true
}

// UpdateWorkspaceStats folds one more observed response time (ms) into
// workspaceID's running average: avg' = ((avg*(n-1)) + rt) / n where n is
// the new total_requests. Auto-registers the workspace on first use.
func (r *Registry) UpdateWorkspaceStats(workspaceID string, responseTimeMs float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.ws[workspaceID]
	if !ok {
		e = &workspaceEntry{
			workspace: models.Workspace{ID: workspaceID, CreatedAt: time.Now()},
			routes:    make(map[string]struct{}),
		}
		r.ws[workspaceID] = e
	}
	n := e.stats.TotalRequests + 1
	e.stats.AvgResponseMs = ((e.stats.AvgResponseMs * float64(e.stats.TotalRequests)) + responseTimeMs) / float64(n)
	e.stats.TotalRequests = n
	e.stats.LastAccessed = time.Now()
}

// RegisterRoute records pathPattern as owned by workspaceID's route table.
func (r *Registry) RegisterRoute(workspaceID, pathPattern string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entryLocked(workspaceID)
	e.routes[pathPattern] = struct{}{}
}

// Routes lists workspaceID's registered route patterns.
func (r *Registry) Routes(workspaceID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.ws[workspaceID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(e.routes))
	for p := range e.routes {
		out = append(out, p)
	}
	return out
}

// entryLocked returns (creating if absent) workspaceID's entry. Caller
// must hold r.mu for writing.
func (r *Registry) entryLocked(workspaceID string) *workspaceEntry {
	e, ok := r.ws[workspaceID]
	if !ok {
		e = &workspaceEntry{
			workspace: models.Workspace{ID: workspaceID, CreatedAt: time.Now()},
			stats:     models.WorkspaceStats{CreatedAt: time.Now()},
			routes:    make(map[string]struct{}),
		}
		r.ws[workspaceID] = e
	}
	return e
}

// Recorder returns workspaceID's Recorder, constructing it lazily via the
// configured factory on first access.
func (r *Registry) Recorder(workspaceID string) (contracts.Recorder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entryLocked(workspaceID)
	if e.recorder == nil {
		if r.recorderFactory == nil {
			return nil, fmt.Errorf("tenant: no recorder factory configured")
		}
		e.recorder = r.recorderFactory(workspaceID)
	}
	return e.recorder, nil
}

// LogGlobal appends req to the bounded global request log, overwriting
// the oldest entry once capacity is reached.
func (r *Registry) LogGlobal(req models.RecordedRequest) {
	r.globalLogMu.Lock()
	defer r.globalLogMu.Unlock()
	if len(r.globalLog) < r.globalLogCap {
		r.globalLog = append(r.globalLog, req)
		return
	}
	r.globalLog[r.globalLogPos] = req
	r.globalLogPos = (r.globalLogPos + 1) % r.globalLogCap
}

// GlobalLog returns a snapshot of the global request log, oldest first.
func (r *Registry) GlobalLog() []models.RecordedRequest {
	r.globalLogMu.Lock()
	defer r.globalLogMu.Unlock()
	if len(r.globalLog) < r.globalLogCap {
		return append([]models.RecordedRequest(nil), r.globalLog...)
	}
	out := make([]models.RecordedRequest, 0, r.globalLogCap)
	out = append(out, r.globalLog[r.globalLogPos:]...)
	out = append(out, r.globalLog[:r.globalLogPos]...)
	return out
}
