// Package mt provides machine translation as a source of external
// translation suggestions.
package mt

import (
	"context"
)

// Translator translates source texts into weighted candidates.
// The result maps each source text to its candidate values and their weights.
// Texts the backend could not translate are absent from the result.
type Translator interface {
	Translate(ctx context.Context, texts []string, from, to string) (map[string]map[string]float64, error)
}

// Provider is a single machine translation backend. It returns alternative
// translations of one text, best first.
type Provider interface {
	// Name identifies the engine. Cached results are keyed by it.
	Name() string
	Candidates(ctx context.Context, text, from, to string) ([]string, error)
}

// MaxCandidates bounds how many alternatives a provider is asked for.
const MaxCandidates = 3

// rankWeight converts a zero-based rank into a weight in (0, 1].
func rankWeight(rank int) float64 {
	return 1 / float64(rank+1)
}

// weigh turns ranked candidates into weights, dropping empty and repeated
// values. The first occurrence of a value keeps its rank.
func weigh(candidates []string) map[string]float64 {
	out := make(map[string]float64, len(candidates))
	rank := 0
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, ok := out[c]; ok {
			continue
		}
		out[c] = rankWeight(rank)
		rank++
	}
	return out
}
