package models

import (
	"time"

	"github.com/google/uuid"
)

// User is an author of translation edits: a human translator or a service
// account such as the engine's default author.
type User struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	IsService   bool      `json:"is_service"`
	CreatedAt   time.Time `json:"created_at"`
}
