package models

import (
	"time"

	"github.com/google/uuid"
)

// KeySuggestion counts how often a value was accepted for a key in a
// (language, target) pair.
type KeySuggestion struct {
	Key            string `json:"key"`
	Language       string `json:"language"`
	TargetAudience string `json:"target_audience"`
	Value          string `json:"value"`
	Count          int    `json:"count"`
}

// ValueSuggestion counts how often a value was accepted for a source text,
// independent of the key it appeared under.
type ValueSuggestion struct {
	SourceText     string `json:"source_text"`
	Language       string `json:"language"`
	TargetAudience string `json:"target_audience"`
	Value          string `json:"value"`
	Count          int    `json:"count"`
}

// ExternalSuggestion is a cached machine-translation candidate.
type ExternalSuggestion struct {
	ID             uuid.UUID `json:"id"`
	Engine         string    `json:"engine"`
	SourceHash     string    `json:"source_hash"`
	SourceText     string    `json:"source_text"`
	OriginLanguage string    `json:"origin_language"`
	Language       string    `json:"language"`
	Value          string    `json:"value"`
	Weight         float64   `json:"weight"`
	CreatedAt      time.Time `json:"created_at"`
}

// Suggestion is a ranked candidate translation. Weight is normalized so the
// best candidate of a key has weight 1.
type Suggestion struct {
	Value  string  `json:"value"`
	Weight float64 `json:"weight"`
}
