// Package proxy implements the Proxy / Migration Controller (C9): per-
// request disposition (Mock/ProxyOnly/Shadow/PassThrough), route and
// group migration-mode toggling, and the body-transform pipeline applied
// to proxied exchanges.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/sony/gobreaker"
	"github.com/tidwall/match"
	"golang.org/x/sync/errgroup"

	"github.com/mockforge/core/pkg/contracts"
	"github.com/mockforge/core/pkg/models"
)

// compiledRule pairs a ProxyRule with its pre-compiled condition program,
// so decide() never re-parses an expression on the request hot path.
type compiledRule struct {
	rule    models.ProxyRule
	program *vm.Program
}

// Controller evaluates decide() and owns the toggle state for routes and
// migration groups.
type Controller struct {
	mu      sync.RWMutex
	cfg     models.ProxyConfig
	rules   []compiledRule
	reqXform  []models.BodyTransformRule
	respXform []models.BodyTransformRule
	breaker *gobreaker.CircuitBreaker
	client  *http.Client

	upstreamRetries uint64
}

// defaultUpstreamRetries bounds CallUpstream's retry loop when
// ProxyConfig.MaxUpstreamRetries is left at its zero value.
const defaultUpstreamRetries = 2

// New compiles cfg's rule conditions and body-transform templates once.
func New(cfg models.ProxyConfig) (*Controller, error) {
	upstreamRetries := cfg.MaxUpstreamRetries
	if upstreamRetries == 0 {
		upstreamRetries = defaultUpstreamRetries
	}
	c := &Controller{cfg: cfg, reqXform: cfg.RequestReplacements, respXform: cfg.ResponseReplacements, upstreamRetries: upstreamRetries}
	for _, r := range cfg.Rules {
		cr := compiledRule{rule: r}
		if r.Condition != "" {
			prog, err := expr.Compile(r.Condition, expr.AsBool())
			if err != nil {
				return nil, fmt.Errorf("proxy: compile condition %q: %w", r.Condition, err)
			}
			cr.program = prog
		}
		c.rules = append(c.rules, cr)
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c.client = &http.Client{Timeout: timeout}
	if !cfg.FollowRedirects {
		c.client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "proxy-upstream",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return c, nil
}

// Decide implements the five-step algorithm of spec.md §4.C9.
func (c *Controller) Decide(_ context.Context, method, uri string, headers map[string][]string, body []byte) (models.ProxyDisposition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.cfg.Enabled {
		return models.DispositionMock, nil
	}

	if c.cfg.MigrationEnabled {
		if rule, ok := c.matchingRule(uri); ok {
			mode := c.effectiveMode(rule.rule)
			switch mode {
			case models.MigrationMock:
				return models.DispositionMock, nil
			case models.MigrationReal:
				return models.DispositionProxyOnly, nil
			case models.MigrationShadow:
				return models.DispositionShadow, nil
				// MigrationAuto falls through to step 3 below.
			}
		}
	}

	reqCtx := requestContext(method, uri, headers, body)
	for _, cr := range c.rules {
		if !cr.rule.Enabled || !routeMatches(cr.rule.PathPattern, uri) {
			continue
		}
		if cr.program == nil {
			return models.DispositionProxyOnly, nil
		}
		out, err := expr.Run(cr.program, reqCtx)
		if err != nil {
			return models.DispositionMock, fmt.Errorf("proxy: evaluate condition for %q: %w", cr.rule.PathPattern, err)
		}
		if truthy, ok := out.(bool); ok && truthy {
			return models.DispositionProxyOnly, nil
		}
	}

	if c.cfg.Prefix != "" && strings.HasPrefix(uri, c.cfg.Prefix) && !c.anyConditionalRule() {
		return models.DispositionProxyOnly, nil
	}

	if c.cfg.PassthroughByDefault {
		return models.DispositionPassThrough, nil
	}
	return models.DispositionMock, nil
}

func (c *Controller) anyConditionalRule() bool {
	for _, cr := range c.rules {
		if cr.rule.Enabled && cr.program != nil {
			return true
		}
	}
	return false
}

func (c *Controller) matchingRule(uri string) (compiledRule, bool) {
	for _, cr := range c.rules {
		if cr.rule.Enabled && routeMatches(cr.rule.PathPattern, uri) {
			return cr, true
		}
	}
	return compiledRule{}, false
}

// effectiveMode applies "group override > rule-level mode".
func (c *Controller) effectiveMode(rule models.ProxyRule) models.MigrationMode {
	if rule.MigrationGroup != "" {
		if mode, ok := c.cfg.MigrationGroups[rule.MigrationGroup]; ok {
			return mode
		}
	}
	return rule.MigrationMode
}

func routeMatches(pattern, path string) bool {
	if pattern == "" {
		return true
	}
	if strings.ContainsAny(pattern, "*?[") {
		return match.Match(path, pattern)
	}
	return strings.HasPrefix(path, pattern)
}

func requestContext(method, uri string, headers map[string][]string, body []byte) map[string]any {
	h := make(map[string]any, len(headers))
	for k, v := range headers {
		if len(v) > 0 {
			h[k] = v[0]
		}
	}
	return map[string]any{
		"method":  method,
		"path":    uri,
		"headers": h,
		"body":    string(body),
	}
}

// ToggleRouteMigration cycles the named rule's mode via MigrationMode.Next.
func (c *Controller) ToggleRouteMigration(pathPattern string) (models.MigrationMode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.rules {
		if c.rules[i].rule.PathPattern == pathPattern {
			next := c.rules[i].rule.MigrationMode.Next()
			c.rules[i].rule.MigrationMode = next
			return next, nil
		}
	}
	return "", &contracts.NotFoundError{Entity: "proxy_rule", Key: pathPattern}
}

// ToggleGroupMigration cycles a migration group's mode.
func (c *Controller) ToggleGroupMigration(group string) (models.MigrationMode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.MigrationGroups == nil {
		c.cfg.MigrationGroups = make(map[string]models.MigrationMode)
	}
	current := c.cfg.MigrationGroups[group]
	next := current.Next()
	c.cfg.MigrationGroups[group] = next
	return next, nil
}

// ApplyRequestBodyTransforms runs the request-phase transform pipeline
// for url against body.
func (c *Controller) ApplyRequestBodyTransforms(_ context.Context, url string, body []byte) ([]byte, error) {
	c.mu.RLock()
	rules := c.reqXform
	c.mu.RUnlock()
	return applyTransforms(rules, url, nil, body)
}

// ApplyResponseBodyTransforms runs the response-phase transform pipeline
// for url/status against body.
func (c *Controller) ApplyResponseBodyTransforms(_ context.Context, url string, status int, body []byte) ([]byte, error) {
	c.mu.RLock()
	rules := c.respXform
	c.mu.RUnlock()
	return applyTransforms(rules, url, &status, body)
}

func applyTransforms(rules []models.BodyTransformRule, url string, status *int, body []byte) ([]byte, error) {
	out := body
	for _, r := range rules {
		if r.Pattern != "" && !routeMatches(r.Pattern, url) {
			continue
		}
		if status != nil && len(r.StatusCodes) > 0 && !containsInt(r.StatusCodes, *status) {
			continue
		}
		updated, err := applyBodyTransform(out, r)
		if err != nil {
			return out, err
		}
		out = updated
	}
	return out, nil
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

// CallUpstream invokes req against its own URL through a circuit breaker,
// retrying transient failures with exponential backoff, so a flapping
// real backend trips open rather than cascading timeouts into every
// inbound request. An open breaker is not retried — it fails fast.
func (c *Controller) CallUpstream(ctx context.Context, req *http.Request) (*http.Response, error) {
	var bodyBytes []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, &contracts.UpstreamError{URL: req.URL.String(), Cause: err}
		}
		_ = req.Body.Close()
		bodyBytes = b
	}

	var resp *http.Response
	attempt := func() error {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			req.ContentLength = int64(len(bodyBytes))
		}
		result, err := c.breaker.Execute(func() (any, error) {
			return c.client.Do(req.WithContext(ctx))
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = result.(*http.Response)
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.upstreamRetries), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		return nil, &contracts.UpstreamError{URL: req.URL.String(), Cause: err}
	}
	return resp, nil
}

// TargetFor returns the TargetURL of the first enabled rule matching uri,
// falling back to the controller-wide TargetURL when no rule matches.
func (c *Controller) TargetFor(uri string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if cr, ok := c.matchingRule(uri); ok && cr.rule.TargetURL != "" {
		return cr.rule.TargetURL
	}
	return c.cfg.TargetURL
}

// ExecuteShadow runs mockFn and realFn concurrently for a Shadow-mode
// request, per spec's "execute both arms; merge per merge_strategy":
// realFn is bounded by the controller's configured upstream timeout, and
// a failing or timed-out real arm abandons the shadow comparison rather
// than failing the request — only a failing mockFn fails the whole call.
func (c *Controller) ExecuteShadow(ctx context.Context, mockFn, realFn func(context.Context) ([]byte, error)) (mockBody, realBody []byte, err error) {
	c.mu.RLock()
	timeout := c.client.Timeout
	c.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := mockFn(gctx)
		if err != nil {
			return err
		}
		mockBody = b
		return nil
	})
	g.Go(func() error {
		rctx, cancel := context.WithTimeout(gctx, timeout)
		defer cancel()
		b, rerr := realFn(rctx)
		if rerr != nil {
			return nil // shadow arm abandoned; never fails the overall call
		}
		realBody = b
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return mockBody, realBody, nil
}

var _ contracts.ProxyDecision = (*Controller)(nil)
