package models

// ScrubTarget selects which side(s) of an exchange a rule applies to.
type ScrubTarget string

const (
	ScrubRequest  ScrubTarget = "request"
	ScrubResponse ScrubTarget = "response"
	ScrubAll      ScrubTarget = "all"
)

// ScrubRuleKind is the tag of the ScrubRule declarative-config sum type.
type ScrubRuleKind string

const (
	ScrubKindEmail     ScrubRuleKind = "email"
	ScrubKindUUID      ScrubRuleKind = "uuid"
	ScrubKindIPAddress ScrubRuleKind = "ip_address"
	ScrubKindHeader    ScrubRuleKind = "header"
	ScrubKindField     ScrubRuleKind = "field"
	ScrubKindRegex     ScrubRuleKind = "regex"
)

// ScrubRule is the declarative configuration for one scrub step; internal/
// scrub compiles a list of these into an ordered pipeline of executable
// rules. Only the fields relevant to Kind are meaningful, mirroring the
// spec's tagged-union rule set.
type ScrubRule struct {
	Kind        ScrubRuleKind
	Replacement string      // Email, Uuid, IpAddress — and the replacement text for Header/Field/Regex
	HeaderName  string      // Header
	JSONPath    string      // Field
	Target      ScrubTarget // Field, Regex
	Pattern     string      // Regex
}

// ScrubberConfig configures the Scrubber pipeline (C5).
type ScrubberConfig struct {
	Rules         []ScrubRule
	Deterministic bool
	CounterSeed   uint64
}

// CaptureFilterConfig configures the Capture Filter predicate (C5).
type CaptureFilterConfig struct {
	Methods      []string // empty => all
	StatusCodes  []int    // empty => all
	PathPatterns []string // empty => all; wildcard or regex
	ErrorsOnly   bool
	// Predicate, if set, is an additional custom gate; a nil predicate
	// always passes.
	Predicate func(req RecordedRequest, resp *RecordedResponse) bool
}
