package models

import (
	"time"

	"github.com/google/uuid"
)

// TargetAll is the target audience used when a bundle is not aimed at a
// specific age group.
const TargetAll = "ALL"

// Bundle is one (language, target audience) pair under a source.
// IsFromDeveloper is sticky: once set it is never cleared.
type Bundle struct {
	ID              uuid.UUID `json:"id"`
	SourceID        uuid.UUID `json:"source_id"`
	Language        string    `json:"language"`
	TargetAudience  string    `json:"target_audience"`
	IsFromDeveloper bool      `json:"is_from_developer"`
	CreatedAt       time.Time `json:"created_at"`
}

// BundleRef identifies a bundle within a source.
type BundleRef struct {
	Language       string `json:"language"`
	TargetAudience string `json:"target_audience"`
}

// Ref returns the (language, target) pair of the bundle.
func (b *Bundle) Ref() BundleRef {
	return BundleRef{Language: b.Language, TargetAudience: b.TargetAudience}
}
