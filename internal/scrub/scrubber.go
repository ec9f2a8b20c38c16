// Package scrub implements the Scrubber + Capture Filter (C5): an ordered
// redaction pipeline applied to recorded requests/responses, and a
// predicate deciding whether a response is persisted at all.
package scrub

import (
	"net/http"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/match"
	"github.com/tidwall/sjson"

	"github.com/mockforge/core/pkg/models"
)

var (
	emailPattern = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	uuidPattern  = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	ipPattern    = regexp.MustCompile(`\b(?:(?:\d{1,3}\.){3}\d{1,3})\b|(?:[0-9a-fA-F]{1,4}:){2,7}[0-9a-fA-F]{1,4}`)
)

// compiledRule is one ScrubRule with its regex and template expander
// pre-built, so the hot path never re-compiles anything.
type compiledRule struct {
	kind       models.ScrubRuleKind
	pattern    *regexp.Regexp
	headerName string
	jsonPath   string
	target     models.ScrubTarget
	expand     *expander
}

// Scrubber runs an ordered pipeline of compiled rules over headers, body,
// and metadata. Output of rule N is input to rule N+1, per spec.
type Scrubber struct {
	rules         []compiledRule
	deterministic bool
	counter       *atomic.Uint64
}

// New compiles cfg's declarative rules into an executable Scrubber.
// counter is shared across all rules in the pipeline (not per rule) and
// is seeded from cfg.CounterSeed here, once. Recorders built over the same
// Scrubber share its counter; building a recorder does not reset it.
func New(cfg models.ScrubberConfig) *Scrubber {
	counter := &atomic.Uint64{}
	counter.Store(cfg.CounterSeed)

	s := &Scrubber{deterministic: cfg.Deterministic, counter: counter}
	for _, r := range cfg.Rules {
		cr := compiledRule{
			kind:       r.Kind,
			headerName: r.HeaderName,
			jsonPath:   r.JSONPath,
			target:     r.Target,
			expand:     newExpander(r.Replacement, cfg.Deterministic, counter),
		}
		switch r.Kind {
		case models.ScrubKindEmail:
			cr.pattern = emailPattern
		case models.ScrubKindUUID:
			cr.pattern = uuidPattern
		case models.ScrubKindIPAddress:
			cr.pattern = ipPattern
		case models.ScrubKindRegex:
			if r.Pattern != "" {
				cr.pattern = regexp.MustCompile(r.Pattern)
			}
		}
		s.rules = append(s.rules, cr)
	}
	return s
}

// ScrubBody runs all body/All-targeted rules over a raw JSON body,
// returning the scrubbed bytes. Non-JSON bodies are only touched by the
// text-pattern rules (Email/Uuid/IpAddress/Regex); Field rules are
// skipped since they require gjson/sjson path addressing.
func (s *Scrubber) ScrubBody(body []byte, target models.ScrubTarget) []byte {
	out := body
	for _, r := range s.rules {
		if !appliesTo(r.target, target) {
			continue
		}
		switch r.kind {
		case models.ScrubKindEmail, models.ScrubKindUUID, models.ScrubKindIPAddress, models.ScrubKindRegex:
			out = r.pattern.ReplaceAllFunc(out, func([]byte) []byte { return []byte(r.expand.Expand()) })
		case models.ScrubKindField:
			out = scrubField(out, r)
		}
	}
	return out
}

func scrubField(body []byte, r compiledRule) []byte {
	if r.jsonPath == "" || !gjson.ValidBytes(body) {
		return body
	}
	if !gjson.GetBytes(body, r.jsonPath).Exists() {
		return body
	}
	updated, err := sjson.SetBytes(body, r.jsonPath, r.expand.Expand())
	if err != nil {
		return body
	}
	return updated
}

// ScrubHeaders applies Header rules (and text-pattern rules, for values
// that happen to contain emails/UUIDs/IPs) to a header map, returning a
// new map; the input is left untouched.
func (s *Scrubber) ScrubHeaders(headers map[string][]string, target models.ScrubTarget) map[string][]string {
	out := make(map[string][]string, len(headers))
	for k, vs := range headers {
		nv := make([]string, len(vs))
		copy(nv, vs)
		out[k] = nv
	}
	for _, r := range s.rules {
		if !appliesTo(r.target, target) {
			continue
		}
		switch r.kind {
		case models.ScrubKindHeader:
			if r.headerName == "" {
				continue
			}
			canonical := http.CanonicalHeaderKey(r.headerName)
			if _, ok := out[canonical]; ok {
				out[canonical] = []string{r.expand.Expand()}
			}
		case models.ScrubKindEmail, models.ScrubKindUUID, models.ScrubKindIPAddress, models.ScrubKindRegex:
			for k, vs := range out {
				nv := make([]string, len(vs))
				for i, v := range vs {
					nv[i] = r.pattern.ReplaceAllString(v, r.expand.Expand())
				}
				out[k] = nv
			}
		}
	}
	return out
}

// ScrubClientIP applies IP-address rules (and Regex rules targeting All,
// where an unset target counts as All) to raw client-IP metadata, per the
// deterministic-mode contract that client-IP metadata flows through the
// same pipeline.
func (s *Scrubber) ScrubClientIP(ip string) string {
	out := ip
	for _, r := range s.rules {
		isIP := r.kind == models.ScrubKindIPAddress
		isAllRegex := r.kind == models.ScrubKindRegex && r.pattern != nil && (r.target == "" || r.target == models.ScrubAll)
		if !isIP && !isAllRegex {
			continue
		}
		out = r.pattern.ReplaceAllString(out, r.expand.Expand())
	}
	return out
}

// NormalizeTimestamp truncates t to the start of its UTC day, per the
// deterministic-mode contract for recorded timestamps.
func NormalizeTimestamp(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func appliesTo(ruleTarget, requested models.ScrubTarget) bool {
	if ruleTarget == "" || ruleTarget == models.ScrubAll {
		return true
	}
	return ruleTarget == requested
}

// CaptureFilter decides whether a captured response is persisted.
type CaptureFilter struct {
	cfg          models.CaptureFilterConfig
	methods      map[string]bool
	statusCodes  map[int]bool
	pathPatterns []string
}

// NewCaptureFilter compiles cfg into an executable predicate.
func NewCaptureFilter(cfg models.CaptureFilterConfig) *CaptureFilter {
	f := &CaptureFilter{cfg: cfg, pathPatterns: cfg.PathPatterns}
	if len(cfg.Methods) > 0 {
		f.methods = make(map[string]bool, len(cfg.Methods))
		for _, m := range cfg.Methods {
			f.methods[m] = true
		}
	}
	if len(cfg.StatusCodes) > 0 {
		f.statusCodes = make(map[int]bool, len(cfg.StatusCodes))
		for _, c := range cfg.StatusCodes {
			f.statusCodes[c] = true
		}
	}
	return f
}

// Allow reports whether the exchange should be persisted, per spec's "all
// criteria hold" conjunction. status is nil when the response status is
// not yet known (request-time evaluation).
func (f *CaptureFilter) Allow(method, path string, status *int) bool {
	if f.methods != nil && !f.methods[method] {
		return false
	}
	if f.statusCodes != nil && status != nil && !f.statusCodes[*status] {
		return false
	}
	if len(f.pathPatterns) > 0 {
		matched := false
		for _, p := range f.pathPatterns {
			if match.Match(path, p) {
				matched = true
				break
			}
			// A pattern with no wildcard character is also tried as a regexp.
			if !strings.ContainsAny(p, "*?[") {
				if re, err := regexp.Compile(p); err == nil && re.MatchString(path) {
					matched = true
					break
				}
			}
		}
		if !matched {
			return false
		}
	}
	if f.cfg.ErrorsOnly && status != nil && (*status < 400 || *status > 599) {
		return false
	}
	return true
}

// AllowExchange evaluates the full predicate, including any custom
// Predicate callback, against a concrete request/response pair.
func (f *CaptureFilter) AllowExchange(req models.RecordedRequest, resp *models.RecordedResponse) bool {
	var status *int
	if resp != nil {
		status = &resp.StatusCode
	}
	if !f.Allow(req.Method, req.Path, status) {
		return false
	}
	if f.cfg.Predicate != nil {
		return f.cfg.Predicate(req, resp)
	}
	return true
}
