package proxy

import (
	"sync/atomic"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/mockforge/core/internal/scrub"
	"github.com/mockforge/core/pkg/models"
)

// bodyTransformCounter backs {{counter:NN}} tokens in Replace templates.
// It is package-level, so every transform rule of every Controller in the
// process draws from one monotonic sequence that starts at zero and is
// never reset. Templates are expanded with the deterministic flag off, so
// {{uuid}} tokens always yield random UUIDs.
var bodyTransformCounter atomic.Uint64

func applyBodyTransform(body []byte, rule models.BodyTransformRule) ([]byte, error) {
	if rule.JSONPath == "" {
		return body, nil
	}
	exp := scrub.NewExpander(rule.Replace, false, &bodyTransformCounter)

	switch rule.Operation {
	case models.TransformRemove:
		if !gjson.ValidBytes(body) || !gjson.GetBytes(body, rule.JSONPath).Exists() {
			return body, nil
		}
		return sjson.DeleteBytes(body, rule.JSONPath)
	case models.TransformAdd:
		if gjson.ValidBytes(body) && gjson.GetBytes(body, rule.JSONPath).Exists() {
			return body, nil // Add never overwrites an existing value
		}
		return sjson.SetBytes(body, rule.JSONPath, exp.Expand())
	default: // TransformReplace
		if !gjson.ValidBytes(body) || !gjson.GetBytes(body, rule.JSONPath).Exists() {
			return body, nil
		}
		return sjson.SetBytes(body, rule.JSONPath, exp.Expand())
	}
}
