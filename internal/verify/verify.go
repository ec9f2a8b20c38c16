// Package verify implements the Verification Engine (C10): matching a
// VerificationRequest pattern against the recorder's log and checking
// count- or sequence-based assertions over the matches.
package verify

import (
	"regexp"
	"strings"

	"github.com/mockforge/core/pkg/models"
)

// Matches reports whether req of the log matches pattern's method, path,
// query, headers, and body criteria. An empty field in pattern always
// matches.
func Matches(pattern models.VerificationRequest, req models.RecordedRequest, resp *models.RecordedResponse) bool {
	if pattern.Method != "" && !strings.EqualFold(pattern.Method, req.Method) {
		return false
	}
	if pattern.PathPattern != "" && !pathMatches(pattern.PathPattern, req.Path) {
		return false
	}
	for k, v := range pattern.Query {
		if req.Query[k] != v {
			return false
		}
	}
	if len(pattern.Headers) > 0 && !headersMatch(pattern.Headers, req.Headers) {
		return false
	}
	if pattern.BodyPattern != "" {
		var body []byte
		if resp != nil {
			body = resp.Body
		} else {
			body = req.Body
		}
		if !bodyMatches(pattern.BodyPattern, body) {
			return false
		}
	}
	return true
}

// pathMatches tries, in order: exact equality, an anchored wildcard match
// ("*" matches within a single path segment, "**" matches zero or more
// characters across segments, "?" matches one non-"/" character), then
// regex — only when the pattern contains no wildcard character, per spec.
func pathMatches(pattern, path string) bool {
	if pattern == path {
		return true
	}
	if strings.ContainsAny(pattern, "*?[") {
		glob := strings.NewReplacer(`\*\*`, `.*`, `\*`, `[^/]*`, `\?`, `[^/]`).Replace(regexp.QuoteMeta(pattern))
		re, err := regexp.Compile("^" + glob + "$")
		return err == nil && re.MatchString(path)
	}
	if re, err := regexp.Compile(pattern); err == nil {
		return re.MatchString(path)
	}
	return false
}

func headersMatch(want map[string]string, have map[string][]string) bool {
	lower := make(map[string][]string, len(have))
	for k, v := range have {
		lower[strings.ToLower(k)] = v
	}
	for k, v := range want {
		vals, ok := lower[strings.ToLower(k)]
		if !ok {
			return false
		}
		found := false
		for _, hv := range vals {
			if hv == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func bodyMatches(pattern string, body []byte) bool {
	if re, err := regexp.Compile(pattern); err == nil {
		return re.Match(body)
	}
	return string(body) == pattern
}

// CountMatches counts how many log entries match pattern. log is assumed
// chronological, as returned by a recorder in insertion order.
func CountMatches(pattern models.VerificationRequest, log []models.Exchange) int {
	n := 0
	for _, ex := range log {
		if Matches(pattern, ex.Request, ex.Response) {
			n++
		}
	}
	return n
}

// Verify checks count.Satisfied against the number of log entries
// matching pattern.
func Verify(pattern models.VerificationRequest, count models.VerificationCount, log []models.Exchange) bool {
	return count.Satisfied(CountMatches(pattern, log))
}

// VerifySequence requires a subsequence of log (in chronological order)
// where each pattern in patterns matches a distinct entry, in order;
// non-matching entries between matches are skipped.
func VerifySequence(patterns []models.VerificationRequest, log []models.Exchange) bool {
	idx := 0
	for _, ex := range log {
		if idx >= len(patterns) {
			break
		}
		if Matches(patterns[idx], ex.Request, ex.Response) {
			idx++
		}
	}
	return idx == len(patterns)
}
