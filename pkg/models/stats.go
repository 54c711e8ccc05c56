package models

import "time"

// BundleProgress is the raw count of translated keys of one bundle.
type BundleProgress struct {
	Language       string     `json:"language"`
	TargetAudience string     `json:"target_audience"`
	Translated     int        `json:"translated"`
	FirstModified  *time.Time `json:"first_modified,omitempty"`
	LastModified   *time.Time `json:"last_modified,omitempty"`
}

// TargetStats is the progress of one (language, target) pair of a source.
type TargetStats struct {
	Name         string     `json:"name"`
	Translated   int        `json:"translated"`
	Items        int        `json:"items"`
	Percent      float64    `json:"percent"`
	CreationDate *time.Time `json:"creation_date,omitempty"`
	ModifiedDate *time.Time `json:"modification_date,omitempty"`
}

// LanguageStats groups target progress by language.
type LanguageStats struct {
	Name    string                  `json:"name"`
	Targets map[string]*TargetStats `json:"targets"`
}

// SourceStats is the translation progress of a source against its manifest.
type SourceStats struct {
	SourceURL string                    `json:"source_url"`
	Items     int                       `json:"items"`
	Languages map[string]*LanguageStats `json:"languages"`
}
