package continuum

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// mergeFieldLevel starts from the mock body and overlays every top-level
// field present in the real response, field by field, via gjson/sjson —
// the same read/write pairing the scrubber and proxy body-transform
// pipelines use for JSON-path addressed rewrites.
func mergeFieldLevel(mock, real []byte) ([]byte, error) {
	if !gjson.ValidBytes(real) {
		return mock, nil
	}
	if !gjson.ValidBytes(mock) {
		return real, nil
	}

	out := mock
	var mergeErr error
	gjson.ParseBytes(real).ForEach(func(key, value gjson.Result) bool {
		updated, err := sjson.SetBytes(out, key.String(), value.Value())
		if err != nil {
			mergeErr = fmt.Errorf("continuum: field-level merge: %w", err)
			return false
		}
		out = updated
		return true
	})
	return out, mergeErr
}

// mergeBodyBlend picks whichever body the ratio favors: the real body when
// ratio >= 0.5, the mock body otherwise, the same choice rule as the
// Weighted strategy. The choice is deterministic for a given ratio, and
// the two bodies are never combined byte- or field-wise.
func mergeBodyBlend(mock, real []byte, ratio float64) ([]byte, error) {
	if ratio >= 0.5 {
		return real, nil
	}
	return mock, nil
}
