package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncRun brackets one synchronization batch. A run without EndedAt is
// still in progress or crashed.
type SyncRun struct {
	ID           uuid.UUID  `json:"id"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Source       string     `json:"source"`
	Cached       bool       `json:"cached"`
	SingleAppURL string     `json:"single_app_url,omitempty"`
	AppCount     *int       `json:"app_count,omitempty"`
}

// InProgress reports whether the run has not been closed.
func (r *SyncRun) InProgress() bool {
	return r.EndedAt == nil
}
