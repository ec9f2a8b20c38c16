package recorder

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // registers the "pgx5://" driver scheme
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/mockforge/core/internal/scrub"
	"github.com/mockforge/core/pkg/contracts"
	"github.com/mockforge/core/pkg/models"
)

//go:embed migrations
var migrationsFS embed.FS

// PostgresRecorder is the durable Recorder backing for workspaces that
// configure a Postgres DSN. Schema migrations apply automatically at
// construction time via golang-migrate against the embedded migrations
// directory.
type PostgresRecorder struct {
	pool          *pgxpool.Pool
	scrubber      *scrub.Scrubber
	filter        *scrub.CaptureFilter
	deterministic bool
	idCounter     uint64
}

// NewPostgresRecorder connects to dsn, applies pending migrations, and
// returns a ready Recorder.
func NewPostgresRecorder(ctx context.Context, dsn string, s *scrub.Scrubber, f *scrub.CaptureFilter, deterministic bool) (*PostgresRecorder, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("recorder: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("recorder: ping postgres: %w", err)
	}

	if err := applyMigrations(dsn); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresRecorder{pool: pool, scrubber: s, filter: f, deterministic: deterministic}, nil
}

func applyMigrations(dsn string) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("recorder: migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, dsnToMigrateURL(dsn))
	if err != nil {
		return fmt.Errorf("recorder: migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("recorder: apply migrations: %w", err)
	}
	log.Info().Msg("recorder: postgres schema up to date")
	return nil
}

// dsnToMigrateURL adapts a pgx connection string into the pgx/v5
// golang-migrate driver's expected "pgx5://" scheme.
func dsnToMigrateURL(dsn string) string {
	return "pgx5://" + trimScheme(dsn)
}

func trimScheme(dsn string) string {
	for _, scheme := range []string{"postgres://", "postgresql://", "pgx5://"} {
		if len(dsn) > len(scheme) && dsn[:len(scheme)] == scheme {
			return dsn[len(scheme):]
		}
	}
	return dsn
}

// Close releases the connection pool.
func (r *PostgresRecorder) Close() {
	r.pool.Close()
}

func (r *PostgresRecorder) nextID() string {
	if r.deterministic {
		r.idCounter++
		return fmt.Sprintf("00000000-0000-0000-0000-%012d", r.idCounter-1)
	}
	return uuid.New().String()
}

func headersJSON(h map[string][]string) []byte {
	if h == nil {
		return nil
	}
	b, _ := json.Marshal(h)
	return b
}

func queryJSON(q map[string]string) []byte {
	if q == nil {
		return nil
	}
	b, _ := json.Marshal(q)
	return b
}

func tagsJSON(t map[string]string) []byte {
	if t == nil {
		return nil
	}
	b, _ := json.Marshal(t)
	return b
}

// RecordHTTPRequest scrubs then inserts a request row.
func (r *PostgresRecorder) RecordHTTPRequest(ctx context.Context, method, path string, query map[string]string, headers map[string][]string, body []byte, rc models.RecordContext) (string, error) {
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
	_, err := r.pool.Exec(ctx, `
		INSERT INTO recorded_requests
			(id, protocol, recorded_at, method, path, query, headers, body, client_ip, trace_id, span_id, tags)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		id, string(rc.Protocol), ts, method, path, queryJSON(query), headersJSON(scrubbedHeaders), scrubbedBody,
		clientIP, rc.TraceID, rc.SpanID, tagsJSON(rc.Tags))
	if err != nil {
		return "", fmt.Errorf("recorder: insert request: %w", err)
	}
	return id, nil
}

// RecordHTTPResponse scrubs, filters, then inserts a response row (and
// updates the request's denormalized status/duration columns).
func (r *PostgresRecorder) RecordHTTPResponse(ctx context.Context, requestID string, status int, headers map[string][]string, body []byte, latencyMs int64) error {
	var method, path string
	err := r.pool.QueryRow(ctx, `SELECT method, path FROM recorded_requests WHERE id = $1`, requestID).Scan(&method, &path)
	if errors.Is(err, pgx.ErrNoRows) {
		return &contracts.NotFoundError{Entity: "recorded_request", Key: requestID}
	}
	if err != nil {
		return fmt.Errorf("recorder: lookup request: %w", err)
	}

	if _, err := r.pool.Exec(ctx, `UPDATE recorded_requests SET status_code = $1, duration_ms = $2 WHERE id = $3`, status, latencyMs, requestID); err != nil {
		return fmt.Errorf("recorder: update request status: %w", err)
	}

	if r.filter != nil {
		req := models.RecordedRequest{Method: method, Path: path}
		if !r.filter.AllowExchange(req, &models.RecordedResponse{RequestID: requestID, StatusCode: status}) {
			return nil
		}
	}

	scrubbedHeaders := headers
	scrubbedBody := body
	if r.scrubber != nil {
		scrubbedHeaders = r.scrubber.ScrubHeaders(headers, models.ScrubResponse)
		scrubbedBody = r.scrubber.ScrubBody(body, models.ScrubResponse)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO recorded_responses (request_id, status_code, headers, body, latency_ms)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (request_id) DO UPDATE SET status_code = $2, headers = $3, body = $4, latency_ms = $5`,
		requestID, status, headersJSON(scrubbedHeaders), scrubbedBody, latencyMs)
	if err != nil {
		return fmt.Errorf("recorder: insert response: %w", err)
	}
	return nil
}

// GetExchange loads a request joined with its response, if any.
func (r *PostgresRecorder) GetExchange(ctx context.Context, requestID string) (*models.Exchange, error) {
	req, err := r.scanRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	resp, err := r.GetResponse(ctx, requestID)
	if err != nil {
		var nf *contracts.NotFoundError
		if !errors.As(err, &nf) {
			return nil, err
		}
		resp = nil
	}
	return &models.Exchange{Request: *req, Response: resp}, nil
}

func (r *PostgresRecorder) scanRequest(ctx context.Context, requestID string) (*models.RecordedRequest, error) {
	var req models.RecordedRequest
	var queryB, headersB, tagsB []byte
	err := r.pool.QueryRow(ctx, `
		SELECT id, protocol, recorded_at, method, path, query, headers, body, client_ip, trace_id, span_id, duration_ms, status_code, tags
		FROM recorded_requests WHERE id = $1`, requestID).Scan(
		&req.ID, &req.Protocol, &req.Timestamp, &req.Method, &req.Path, &queryB, &headersB, &req.Body,
		&req.ClientIP, &req.TraceID, &req.SpanID, &req.DurationMs, &req.StatusCode, &tagsB)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &contracts.NotFoundError{Entity: "recorded_request", Key: requestID}
	}
	if err != nil {
		return nil, fmt.Errorf("recorder: scan request: %w", err)
	}
	_ = json.Unmarshal(queryB, &req.Query)
	_ = json.Unmarshal(headersB, &req.Headers)
	_ = json.Unmarshal(tagsB, &req.Tags)
	return &req, nil
}

// GetResponse loads a response row alone.
func (r *PostgresRecorder) GetResponse(ctx context.Context, requestID string) (*models.RecordedResponse, error) {
	var resp models.RecordedResponse
	var headersB []byte
	resp.RequestID = requestID
	err := r.pool.QueryRow(ctx, `SELECT status_code, headers, body, latency_ms FROM recorded_responses WHERE request_id = $1`, requestID).
		Scan(&resp.StatusCode, &headersB, &resp.Body, &resp.LatencyMs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &contracts.NotFoundError{Entity: "recorded_response", Key: requestID}
	}
	if err != nil {
		return nil, fmt.Errorf("recorder: scan response: %w", err)
	}
	_ = json.Unmarshal(headersB, &resp.Headers)
	return &resp, nil
}

// ListRecent returns up to limit requests in reverse chronological order.
func (r *PostgresRecorder) ListRecent(ctx context.Context, limit int) ([]models.RecordedRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, protocol, recorded_at, method, path, query, headers, body, client_ip, trace_id, span_id, duration_ms, status_code, tags
		FROM recorded_requests ORDER BY recorded_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recorder: list recent: %w", err)
	}
	defer rows.Close()

	var out []models.RecordedRequest
	for rows.Next() {
		var req models.RecordedRequest
		var queryB, headersB, tagsB []byte
		if err := rows.Scan(&req.ID, &req.Protocol, &req.Timestamp, &req.Method, &req.Path, &queryB, &headersB, &req.Body,
			&req.ClientIP, &req.TraceID, &req.SpanID, &req.DurationMs, &req.StatusCode, &tagsB); err != nil {
			return nil, fmt.Errorf("recorder: scan recent row: %w", err)
		}
		_ = json.Unmarshal(queryB, &req.Query)
		_ = json.Unmarshal(headersB, &req.Headers)
		_ = json.Unmarshal(tagsB, &req.Tags)
		out = append(out, req)
	}
	return out, rows.Err()
}

// Clear truncates both tables.
func (r *PostgresRecorder) Clear(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `TRUNCATE recorded_responses, recorded_requests`)
	if err != nil {
		return fmt.Errorf("recorder: clear: %w", err)
	}
	return nil
}

// Purge deletes requests (cascading to responses) older than olderThan.
func (r *PostgresRecorder) Purge(ctx context.Context, olderThan time.Time) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM recorded_requests WHERE recorded_at < $1`, olderThan)
	if err != nil {
		return fmt.Errorf("recorder: purge: %w", err)
	}
	return nil
}

var _ contracts.Recorder = (*PostgresRecorder)(nil)
