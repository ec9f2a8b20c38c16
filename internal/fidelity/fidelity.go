// Package fidelity implements the Fidelity Calculator (C4): total, bounded
// comparators between mock and real schemas/samples, yielding a
// FidelityScore in [0,1].
package fidelity

import (
	"reflect"

	"github.com/mockforge/core/pkg/models"
)

// SchemaSimilarity compares two JSON-like schemas (nested
// map[string]any describing keys -> type names or nested schemas),
// weighted by key depth: a mismatch deeper in the tree counts less than
// one at the root. Identical inputs yield 1.0; completely disjoint inputs
// yield 0.0. The function never panics regardless of input shape.
func SchemaSimilarity(mockSchema, realSchema map[string]any) float64 {
	return schemaSimilarityAt(mockSchema, realSchema, 1)
}

func schemaSimilarityAt(mockSchema, realSchema map[string]any, depth int) float64 {
	if len(realSchema) == 0 && len(mockSchema) == 0 {
		return 1.0
	}
	if len(realSchema) == 0 {
		return 0.0
	}

	weight := 1.0 / float64(depth)
	var totalWeight, matchedWeight float64

	for key, realVal := range realSchema {
		totalWeight += weight
		mockVal, present := mockSchema[key]
		if !present {
			continue
		}
		realNested, realIsMap := realVal.(map[string]any)
		mockNested, mockIsMap := mockVal.(map[string]any)
		switch {
		case realIsMap && mockIsMap:
			matchedWeight += weight * schemaSimilarityAt(mockNested, realNested, depth+1)
		case realIsMap != mockIsMap:
			// type-shape mismatch (one is a nested object, other is a leaf)
		default:
			if typeName(realVal) == typeName(mockVal) {
				matchedWeight += weight
			}
		}
	}
	if totalWeight == 0 {
		return 1.0
	}
	return clamp01(matchedWeight / totalWeight)
}

func typeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case float64, int, int64, float32:
		return "number"
	case bool:
		return "bool"
	case []any:
		return "array"
	case nil:
		return "null"
	default:
		return "object"
	}
}

// SampleSimilarity compares real samples against the best-matching mock
// sample (by key-overlap and value-equality), averaging the match scores;
// unmatched real samples contribute 0. Total and bounded in [0,1].
func SampleSimilarity(mockSamples, realSamples []map[string]any) float64 {
	if len(realSamples) == 0 {
		return 1.0
	}
	var sum float64
	for _, real := range realSamples {
		best := 0.0
		for _, mock := range mockSamples {
			if s := sampleMatch(mock, real); s > best {
				best = s
			}
		}
		sum += best
	}
	return clamp01(sum / float64(len(realSamples)))
}

func sampleMatch(mock, real map[string]any) float64 {
	if len(real) == 0 {
		if len(mock) == 0 {
			return 1.0
		}
		return 0.0
	}
	var matched float64
	for k, rv := range real {
		if mv, ok := mock[k]; ok && equalValue(mv, rv) {
			matched++
		}
	}
	return clamp01(matched / float64(len(real)))
}

func equalValue(a, b any) bool {
	af, aIsNum := toFloat(a)
	bf, bIsNum := toFloat(b)
	if aIsNum && bIsNum {
		return af == bf
	}
	// a/b may hold map or slice values (ordinary nested JSON sample
	// content) — those aren't comparable with ==, which panics rather
	// than returning false, so comparators must be total. DeepEqual
	// handles every dynamic type, comparable or not.
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
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

// Overall blends SchemaSimilarity and SampleSimilarity into a single
// FidelityScore using w (falling back to models.DefaultFidelityWeights
// when w is the zero value).
func Overall(schemaSim, sampleSim float64, w models.FidelityWeights) models.FidelityScore {
	if w.Schema == 0 && w.Sample == 0 {
		w = models.DefaultFidelityWeights
	}
	total := w.Schema + w.Sample
	var overall float64
	if total > 0 {
		overall = clamp01((schemaSim*w.Schema + sampleSim*w.Sample) / total)
	}
	return models.FidelityScore{
		Overall:          overall,
		SchemaSimilarity: clamp01(schemaSim),
		SampleSimilarity: clamp01(sampleSim),
	}
}
