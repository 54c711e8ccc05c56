package models

import (
	"time"

	"github.com/google/uuid"
)

// ChangeCount is the number of human changes an author made in one language.
type ChangeCount struct {
	Language string    `json:"language"`
	AuthorID uuid.UUID `json:"author_id"`
	Count    int       `json:"count"`
}

// AuthorChanges is one author's contribution inside a digest.
type AuthorChanges struct {
	AuthorID    uuid.UUID `json:"author_id"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email"`
	Count       int       `json:"count"`
}

// LanguageChanges lists the authors who changed one language.
type LanguageChanges struct {
	Language     string          `json:"language"`
	LanguageName string          `json:"language_name"`
	Authors      []AuthorChanges `json:"authors"`
}

// Digest is the summary of changes delivered to one subscriber of a source.
type Digest struct {
	RecipientEmail string            `json:"recipient_email"`
	SourceURL      string            `json:"source_url"`
	Since          time.Time         `json:"since"`
	Until          time.Time         `json:"until"`
	Changes        []LanguageChanges `json:"changes"`
}
