package models

// FidelityScore compares mock vs. real schema and sample data, each
// component and the Overall blend bounded to [0,1] (Fidelity Calculator,
// C4).
type FidelityScore struct {
	Overall           float64
	SchemaSimilarity  float64
	SampleSimilarity  float64
}

// FidelityWeights controls how FidelityScore.Overall is blended from its
// components; weights are expected to sum to 1 but callers may supply any
// positive values (the calculator normalizes).
type FidelityWeights struct {
	Schema float64
	Sample float64
}

// DefaultFidelityWeights is used when the caller does not supply its own.
var DefaultFidelityWeights = FidelityWeights{Schema: 0.5, Sample: 0.5}
