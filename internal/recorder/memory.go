// Package recorder implements the Recorder / Database component (C6): a
// durable store of RecordedExchange with in-memory and Postgres backings,
// both scrubbing and filtering through the configured Scrubber and
// CaptureFilter before persistence.
package recorder

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mockforge/core/internal/scrub"
	"github.com/mockforge/core/pkg/contracts"
	"github.com/mockforge/core/pkg/models"
)

// MemoryRecorder is an in-memory Recorder backing, the default when no
// Postgres DSN is configured. Mutex-guarded maps keyed by request ID,
// mirroring the shape of a per-kitchen in-memory store generalized to a
// single workspace's exchange log.
type MemoryRecorder struct {
	mu            sync.RWMutex
	requests      map[string]*models.RecordedRequest
	responses     map[string]*models.RecordedResponse
	order         []string // insertion order, oldest first
	scrubber      *scrub.Scrubber
	filter        *scrub.CaptureFilter
	deterministic bool
	idCounter     atomic.Uint64
}

// NewMemoryRecorder builds a MemoryRecorder scrubbing/filtering through s
// and f. When deterministic is true, request IDs are counter-derived
// instead of random UUIDv4s, per the deterministic-replay contract.
func NewMemoryRecorder(s *scrub.Scrubber, f *scrub.CaptureFilter, deterministic bool) *MemoryRecorder {
	return &MemoryRecorder{
		requests:      make(map[string]*models.RecordedRequest),
		responses:     make(map[string]*models.RecordedResponse),
		scrubber:      s,
		filter:        f,
		deterministic: deterministic,
	}
}

func (r *MemoryRecorder) nextID() string {
	if r.deterministic {
		n := r.idCounter.Add(1) - 1
		return uuid.Must(uuid.FromBytes(counterBytes(n))).String()
	}
	return uuid.New().String()
}

func counterBytes(n uint64) []byte {
	b := make([]byte, 16)
	for i := 15; i >= 8; i-- {
		b[i] = byte(n)
		n >>= 8
	}
	return b
}

// RecordHTTPRequest scrubs headers/body and persists the request row,
// assigning it a fresh ID.
func (r *MemoryRecorder) RecordHTTPRequest(_ context.Context, method, path string, query map[string]string, headers map[string][]string, body []byte, rc models.RecordContext) (string, error) {
	ts := time.Now().UTC()
	if r.deterministic {
		ts = scrub.NormalizeTimestamp(ts)
	}

	scrubbedHeaders := headers
	scrubbedBody := body
	clientIP := rc.ClientIP
	if r.scrubber != nil {
		scrubbedHeaders = r.scrubber.ScrubHeaders(headers, models.ScrubRequest)
		scrubbedBody = r.scrubber.ScrubBody(body, models.ScrubRequest)
		clientIP = r.scrubber.ScrubClientIP(rc.ClientIP)
	}

	id := r.nextID()
	req := &models.RecordedRequest{
		ID:          id,
		Protocol:    rc.Protocol,
		Timestamp:   ts,
		Method:      method,
		Path:        path,
		Query:       query,
		Headers:     scrubbedHeaders,
		Body:        scrubbedBody,
		ClientIP:    clientIP,
		TraceID:     rc.TraceID,
		SpanID:      rc.SpanID,
		Tags:        rc.Tags,
	}

	r.mu.Lock()
	r.requests[id] = req
	r.order = append(r.order, id)
	r.mu.Unlock()

	return id, nil
}

// RecordHTTPResponse scrubs headers/body, evaluates the CaptureFilter,
// and persists the response row iff the filter allows it; the request
// row is never removed regardless of the filter's decision.
func (r *MemoryRecorder) RecordHTTPResponse(_ context.Context, requestID string, status int, headers map[string][]string, body []byte, latencyMs int64) error {
	r.mu.Lock()
	req, ok := r.requests[requestID]
	r.mu.Unlock()
	if !ok {
		return &contracts.NotFoundError{Entity: "recorded_request", Key: requestID}
	}

	if r.filter != nil && !r.filter.AllowExchange(*req, &models.RecordedResponse{RequestID: requestID, StatusCode: status}) {
		r.mu.Lock()
		sc := status
		req.StatusCode = &sc
		r.mu.Unlock()
		return nil
	}

	scrubbedHeaders := headers
	scrubbedBody := body
	if r.scrubber != nil {
		scrubbedHeaders = r.scrubber.ScrubHeaders(headers, models.ScrubResponse)
		scrubbedBody = r.scrubber.ScrubBody(body, models.ScrubResponse)
	}

	resp := &models.RecordedResponse{
		RequestID: requestID,
		StatusCode: status,
		Headers:   scrubbedHeaders,
		Body:      scrubbedBody,
		LatencyMs: latencyMs,
	}

	r.mu.Lock()
	r.responses[requestID] = resp
	sc := status
	req.StatusCode = &sc
	durationMs := latencyMs
	req.DurationMs = &durationMs
	r.mu.Unlock()

	return nil
}

// GetExchange returns the request paired with its response, if recorded.
func (r *MemoryRecorder) GetExchange(_ context.Context, requestID string) (*models.Exchange, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.requests[requestID]
	if !ok {
		return nil, &contracts.NotFoundError{Entity: "recorded_request", Key: requestID}
	}
	reqCopy := *req
	var respCopy *models.RecordedResponse
	if resp, ok := r.responses[requestID]; ok {
		rc := *resp
		respCopy = &rc
	}
	return &models.Exchange{Request: reqCopy, Response: respCopy}, nil
}

// GetResponse returns the response row alone, if recorded.
func (r *MemoryRecorder) GetResponse(_ context.Context, requestID string) (*models.RecordedResponse, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	resp, ok := r.responses[requestID]
	if !ok {
		return nil, &contracts.NotFoundError{Entity: "recorded_response", Key: requestID}
	}
	rc := *resp
	return &rc, nil
}

// ListRecent returns up to limit requests in reverse chronological order.
func (r *MemoryRecorder) ListRecent(_ context.Context, limit int) ([]models.RecordedRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.order)
	if limit <= 0 || limit > n {
		limit = n
	}
	result := make([]models.RecordedRequest, 0, limit)
	for i := n - 1; i >= 0 && len(result) < limit; i-- {
		if req, ok := r.requests[r.order[i]]; ok {
			result = append(result, *req)
		}
	}
	return result, nil
}

// Clear removes all recorded requests/responses.
func (r *MemoryRecorder) Clear(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = make(map[string]*models.RecordedRequest)
	r.responses = make(map[string]*models.RecordedResponse)
	r.order = nil
	return nil
}

// Purge removes requests (and their responses) recorded before olderThan.
func (r *MemoryRecorder) Purge(_ context.Context, olderThan time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.order[:0:0]
	for _, id := range r.order {
		req, ok := r.requests[id]
		if !ok {
			continue
		}
		if req.Timestamp.Before(olderThan) {
			delete(r.requests, id)
			delete(r.responses, id)
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
	return nil
}

var _ contracts.Recorder = (*MemoryRecorder)(nil)
