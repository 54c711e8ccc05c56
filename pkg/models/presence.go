package models

import (
	"time"

	"github.com/google/uuid"
)

// ActiveEditor records when a user last had a bundle open.
type ActiveEditor struct {
	UserID   uuid.UUID `json:"user_id"`
	BundleID uuid.UUID `json:"bundle_id"`
	LastSeen time.Time `json:"last_seen"`
}

// Collaborator is another user currently editing the same bundle.
// EmailHash is the md5 hex digest of the e-mail, suitable for avatars.
type Collaborator struct {
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	EmailHash   string    `json:"email_hash"`
	LastSeen    time.Time `json:"last_seen"`
}

// EditingStatus summarizes who changed a bundle last and who is editing it.
type EditingStatus struct {
	ModifiedAt        *time.Time     `json:"modified_at"`
	ModifiedByOtherAt *time.Time     `json:"modified_by_other_at"`
	Now               time.Time      `json:"now"`
	Collaborators     []Collaborator `json:"collaborators"`
}

// AuthorActivity is the latest active-entry timestamp per author in a bundle.
type AuthorActivity struct {
	AuthorID     uuid.UUID `json:"author_id"`
	LastModified time.Time `json:"last_modified"`
}
