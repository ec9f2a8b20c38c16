// Package reality implements the Reality Engine (C7): a pure mapping from
// RealityLevel to a frozen RealityConfig, plus latency sampling over the
// distributions the table names.
package reality

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/mockforge/core/pkg/models"
)

// ForLevel returns the frozen configuration for level, per spec.md §4.C7's
// table. Unknown levels fall back to StaticStubs (the safest, most
// predictable behavior).
func ForLevel(level models.RealityLevel) models.RealityConfig {
	switch level {
	case models.RealityStaticStubs:
		return models.RealityConfig{
			Level:    level,
			Chaos:    models.ChaosConfig{},
			Latency:  models.LatencyProfile{Distribution: models.LatencyFixed, MinMs: 0, MaxMs: 0},
			Behavior: models.BehaviorConfig{},
		}
	case models.RealityLightSim:
		return models.RealityConfig{
			Level:    level,
			Chaos:    models.ChaosConfig{},
			Latency:  models.LatencyProfile{Distribution: models.LatencyFixed, MinMs: 10, MaxMs: 50},
			Behavior: models.BehaviorConfig{Enabled: true},
		}
	case models.RealityModerateRealism:
		return models.RealityConfig{
			Level: level,
			Chaos: models.ChaosConfig{Enabled: true, ErrorRate: 0.05, DelayRate: 0.10},
			Latency: models.LatencyProfile{
				Distribution: models.LatencyNormal, MinMs: 50, MaxMs: 200, Mu: 125, Sigma: 30,
			},
			Behavior: models.BehaviorConfig{Enabled: true},
		}
	case models.RealityHighRealism:
		return models.RealityConfig{
			Level: level,
			Chaos: models.ChaosConfig{Enabled: true, ErrorRate: 0.10, DelayRate: 0.20},
			Latency: models.LatencyProfile{
				Distribution: models.LatencyNormal, MinMs: 100, MaxMs: 500, Mu: 300, Sigma: 80,
			},
			Behavior: models.BehaviorConfig{Enabled: true, HistorySize: 100, TTL: time.Hour},
		}
	case models.RealityProductionChaos:
		return models.RealityConfig{
			Level: level,
			Chaos: models.ChaosConfig{
				Enabled: true, ErrorRate: 0.15, DelayRate: 0.30,
				InjectTimeouts: true, TimeoutAfter: 5 * time.Second,
			},
			Latency: models.LatencyProfile{
				Distribution: models.LatencyPareto, MinMs: 200, MaxMs: 2000, Alpha: 2,
			},
			Behavior: models.BehaviorConfig{Enabled: true, HistorySize: 200, TTL: 2 * time.Hour},
		}
	default:
		return ForLevel(models.RealityStaticStubs)
	}
}

// SampleLatency draws one latency duration from p using rng. rng is
// injected so callers can seed it for deterministic replay; a nil rng
// falls back to an unseeded process-global source.
func SampleLatency(p models.LatencyProfile, rng *rand.Rand) time.Duration {
	if p.MaxMs <= p.MinMs {
		return time.Duration(p.MinMs) * time.Millisecond
	}
	switch p.Distribution {
	case models.LatencyNormal:
		v := sampleNormal(rng, p.Mu, p.Sigma)
		return clampMs(v, p.MinMs, p.MaxMs)
	case models.LatencyPareto:
		v := sampleParetoMs(rng, p.Alpha, float64(p.MinMs))
		return clampMs(v, p.MinMs, p.MaxMs)
	default: // LatencyFixed and anything unrecognized: uniform fixed-range
		v := float64(p.MinMs) + randFloat(rng)*float64(p.MaxMs-p.MinMs)
		return clampMs(v, p.MinMs, p.MaxMs)
	}
}

func randFloat(rng *rand.Rand) float64 {
	if rng == nil {
		return rand.Float64()
	}
	return rng.Float64()
}

// sampleNormal draws from Normal(mu, sigma) via the Box-Muller transform.
func sampleNormal(rng *rand.Rand, mu, sigma float64) float64 {
	u1, u2 := randFloat(rng), randFloat(rng)
	if u1 <= 0 {
		u1 = 1e-12
	}
	z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
	return mu + sigma*z
}

// sampleParetoMs draws from a Pareto(alpha) distribution via inverse-CDF
// transform (standard technique: x = xm / u^(1/alpha)), scaled so the
// minimum (xm) sits at the level's MinMs.
func sampleParetoMs(rng *rand.Rand, alpha, minMs float64) float64 {
	u := randFloat(rng)
	if u <= 0 {
		u = 1e-12
	}
	if alpha <= 0 {
		alpha = 1
	}
	if minMs <= 0 {
		minMs = 1
	}
	return minMs / math.Pow(u, 1/alpha)
}

func clampMs(v float64, minMs, maxMs int) time.Duration {
	if v < float64(minMs) {
		v = float64(minMs)
	}
	if v > float64(maxMs) {
		v = float64(maxMs)
	}
	return time.Duration(v) * time.Millisecond
}

// ApplyToConfig projects level's frozen RealityConfig onto target, per
// spec's apply_to_config contract: mutations to target outside this call
// never feed back into RealityConfig.
func ApplyToConfig(level models.RealityLevel, target *ServerConfigView) {
	cfg := ForLevel(level)
	target.ChaosEnabled = cfg.Chaos.Enabled
	target.ChaosErrorRate = cfg.Chaos.ErrorRate
	target.ChaosDelayRate = cfg.Chaos.DelayRate
	target.InjectTimeouts = cfg.Chaos.InjectTimeouts
	target.TimeoutAfter = cfg.Chaos.TimeoutAfter
	target.Latency = cfg.Latency
	target.BehaviorEnabled = cfg.Behavior.Enabled
	target.BehaviorHistorySize = cfg.Behavior.HistorySize
	target.BehaviorTTL = cfg.Behavior.TTL
}

// ServerConfigView is the mutable projection surface named by
// apply_to_config; protocol adapters embed or copy from it when wiring a
// reality level into their own server configuration.
type ServerConfigView struct {
	ChaosEnabled        bool
	ChaosErrorRate      float64
	ChaosDelayRate      float64
	InjectTimeouts      bool
	TimeoutAfter        time.Duration
	Latency             models.LatencyProfile
	BehaviorEnabled     bool
	BehaviorHistorySize int
	BehaviorTTL         time.Duration
}
