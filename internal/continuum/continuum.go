// Package continuum implements the Reality Continuum (C8): per-route
// real/mock blend ratios with longest-prefix matching, and ratio drift
// under TimeBased/Scheduled transition modes.
package continuum

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tidwall/match"

	"github.com/mockforge/core/pkg/models"
)

// Continuum owns the configured routes and the current per-route ratio,
// guarded by a mutex since TimeBased/Scheduled drift mutates it from a
// background goroutine while requests read it concurrently.
type Continuum struct {
	mu       sync.RWMutex
	cfg      models.ContinuumConfig
	ratios   map[string]float64 // pattern -> current ratio, seeded from cfg.Routes
	schedule cron.Schedule
	stopCh   chan struct{}
}

// New builds a Continuum from cfg. Scheduled mode parses cfg.Schedule with
// the standard five-field cron parser; a parse failure disables drift and
// falls back to the static configured ratios (logged by the caller).
func New(cfg models.ContinuumConfig) (*Continuum, error) {
	c := &Continuum{cfg: cfg, ratios: make(map[string]float64, len(cfg.Routes))}
	for _, r := range cfg.Routes {
		c.ratios[r.Pattern] = r.Ratio
	}

	if cfg.TransitionMode == models.TransitionScheduled && cfg.Schedule != "" {
		sched, err := cron.ParseStandard(cfg.Schedule)
		if err != nil {
			return nil, fmt.Errorf("continuum: parse schedule %q: %w", cfg.Schedule, err)
		}
		c.schedule = sched
	}
	return c, nil
}

// GetBlendRatio returns the longest-prefix-matching route's ratio for
// path, or cfg.DefaultRatio when nothing matches. Patterns may use
// tidwall/match wildcards (*, ?); a pattern with no wildcard is compared
// as a plain prefix.
func (c *Continuum) GetBlendRatio(path string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	bestLen := -1
	best := c.cfg.DefaultRatio
	for _, r := range c.cfg.Routes {
		if !routeMatches(r.Pattern, path) {
			continue
		}
		prefixLen := staticPrefixLen(r.Pattern)
		if prefixLen > bestLen {
			bestLen = prefixLen
			best = c.currentRatio(r.Pattern, r.Ratio)
		}
	}
	return best
}

func routeMatches(pattern, path string) bool {
	if strings.ContainsAny(pattern, "*?[") {
		return match.Match(path, pattern)
	}
	return strings.HasPrefix(path, pattern)
}

// staticPrefixLen is the length of a pattern's literal prefix before its
// first wildcard character, used to rank competing matches by specificity
// ("longest-prefix match").
func staticPrefixLen(pattern string) int {
	if i := strings.IndexAny(pattern, "*?["); i >= 0 {
		return i
	}
	return len(pattern)
}

func (c *Continuum) currentRatio(pattern string, fallback float64) float64 {
	if r, ok := c.ratios[pattern]; ok {
		return r
	}
	return fallback
}

// SetRatio manually overrides a route's current ratio (Manual mode, or an
// operator override regardless of mode).
func (c *Continuum) SetRatio(pattern string, ratio float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ratios[pattern] = clamp01(ratio)
}

// AdvanceTimeBased nudges every route's ratio toward 1.0 by step, for
// TransitionTimeBased mode; callers drive this from their own ticker.
func (c *Continuum) AdvanceTimeBased(step float64) {
	if c.cfg.TransitionMode != models.TransitionTimeBased {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.cfg.Routes {
		c.ratios[r.Pattern] = clamp01(c.currentRatio(r.Pattern, r.Ratio) + step)
	}
}

// StartScheduledDrift runs AdvanceTimeBased-equivalent ratio drift on the
// configured cron schedule until stop is closed; no-op when TransitionMode is
// not Scheduled or the schedule failed to parse.
func (c *Continuum) StartScheduledDrift(step float64, stop <-chan struct{}) {
	if c.cfg.TransitionMode != models.TransitionScheduled || c.schedule == nil {
		return
	}
	go func() {
		next := c.schedule.Next(time.Now())
		for {
			timer := time.NewTimer(time.Until(next))
			select {
			case <-stop:
				timer.Stop()
				return
			case <-timer.C:
				c.mu.Lock()
				for _, r := range c.cfg.Routes {
					c.ratios[r.Pattern] = clamp01(c.currentRatio(r.Pattern, r.Ratio) + step)
				}
				c.mu.Unlock()
				next = c.schedule.Next(time.Now())
			}
		}
	}()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// MergeShadowResponses combines mock and real response bodies per the
// configured MergeStrategy.
func (c *Continuum) MergeShadowResponses(mock, real []byte) ([]byte, error) {
	switch c.cfg.MergeStrategy {
	case models.MergeFieldLevel:
		return mergeFieldLevel(mock, real)
	case models.MergeBodyBlend:
		return mergeBodyBlend(mock, real, c.cfg.DefaultRatio)
	default: // MergeWeighted: real wins once the blend ratio favors it
		if c.cfg.DefaultRatio >= 0.5 {
			return real, nil
		}
		return mock, nil
	}
}
