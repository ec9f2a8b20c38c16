package scrub

import (
	"fmt"
	"regexp"
	"sync/atomic"

	"github.com/google/uuid"
)

// templateToken matches {{counter:NN}}, {{counter}}, {{uuid}}, and
// {{faker.*}} placeholders so they can be compiled once per rule and
// expanded on the hot path without re-parsing the template string.
var templateToken = regexp.MustCompile(`\{\{\s*(counter(?::(\d+))?|uuid|faker\.[a-zA-Z0-9_.]+)\s*\}\}`)

// Expander expands a compiled replacement template. Building one per rule
// at construction time keeps expansion itself allocation-light and keeps
// the regexp scan off the hot path for replacement strings with no tokens.
// Shared by the scrubber and the proxy body-transform pipeline, which use
// an identical token grammar per spec.
type Expander = expander

type expander struct {
	raw           string
	hasTokens     bool
	deterministic bool
	counter       *atomic.Uint64
}

// NewExpander compiles replacement once; counter may be nil when the
// template contains no {{counter}}/{{uuid}} tokens needing one.
func NewExpander(replacement string, deterministic bool, counter *atomic.Uint64) *Expander {
	return newExpander(replacement, deterministic, counter)
}

func newExpander(replacement string, deterministic bool, counter *atomic.Uint64) *expander {
	return &expander{
		raw:           replacement,
		hasTokens:     templateToken.MatchString(replacement),
		deterministic: deterministic,
		counter:       counter,
	}
}

// Expand returns the replacement text for one match occurrence, advancing
// any counter token exactly once per call.
func (e *expander) Expand() string {
	if !e.hasTokens {
		return e.raw
	}
	return templateToken.ReplaceAllStringFunc(e.raw, func(tok string) string {
		groups := templateToken.FindStringSubmatch(tok)
		switch {
		case groups[1] == "uuid":
			if e.deterministic {
				return deterministicUUID(e.nextCount())
			}
			return uuid.New().String()
		case len(groups[1]) >= 7 && groups[1][:7] == "counter":
			width := 0
			if groups[2] != "" {
				fmt.Sscanf(groups[2], "%d", &width)
			}
			n := e.nextCount()
			if width > 0 {
				return fmt.Sprintf("%0*d", width, n)
			}
			return fmt.Sprintf("%d", n)
		case len(groups[1]) >= 6 && groups[1][:6] == "faker.":
			return fakerValue(groups[1][6:], e.nextCount())
		default:
			return tok
		}
	})
}

func (e *expander) nextCount() uint64 {
	if e.counter == nil {
		return 0
	}
	return e.counter.Add(1) - 1
}

// deterministicUUID derives a stable, replayable UUID from a monotonic
// counter instead of crypto/rand, matching the recorder's
// deterministic-replay contract.
func deterministicUUID(n uint64) string {
	return fmt.Sprintf("00000000-0000-0000-0000-%012d", n)
}

// fakerValue provides a tiny, deterministic stand-in for the faker.*
// namespace named in the template grammar (e.g. faker.name, faker.email).
// It is intentionally minimal: the scrubber only needs stable, replayable
// substitute values, not realistic synthetic data generation (that is the
// persona registry's job).
func fakerValue(kind string, n uint64) string {
	switch kind {
	case "email":
		return fmt.Sprintf("faker%d@example.com", n)
	case "name":
		return fmt.Sprintf("Faker Person %d", n)
	case "uuid":
		return deterministicUUID(n)
	default:
		return fmt.Sprintf("faker-%s-%d", kind, n)
	}
}
