package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-translator/pkg/models"
	"github.com/ekaya-inc/ekaya-translator/pkg/repositories"
)

// activeWrite describes a value to record for a key: the history row to
// append and the active row that materializes it.
type activeWrite struct {
	BundleID         uuid.UUID
	Key              string
	Value            string
	AuthorID         uuid.UUID
	ParentID         *uuid.UUID
	At               time.Time
	TakenFromDefault bool
	FromDeveloper    bool
	Fields           models.MessageFields
}

// activeWriter appends history and maintains the active projection. Every
// value change goes through it so history and active rows always agree.
type activeWriter struct {
	historyRepo repositories.HistoryRepository
	activeRepo  repositories.ActiveRepository
}

// write appends a history entry and creates the active entry pointing at it.
func (w activeWriter) write(ctx context.Context, in activeWrite) (*models.ActiveEntry, error) {
	history := &models.HistoryEntry{
		BundleID:         in.BundleID,
		Key:              in.Key,
		Value:            in.Value,
		AuthorID:         in.AuthorID,
		CreatedAt:        in.At,
		ParentID:         in.ParentID,
		TakenFromDefault: in.TakenFromDefault,
		FromDeveloper:    in.FromDeveloper,
		MessageFields:    in.Fields,
	}
	if err := w.historyRepo.Append(ctx, history); err != nil {
		return nil, fmt.Errorf("failed to record %q: %w", in.Key, err)
	}

	active := &models.ActiveEntry{
		BundleID:         in.BundleID,
		Key:              in.Key,
		Value:            in.Value,
		HistoryID:        history.ID,
		UpdatedAt:        in.At,
		TakenFromDefault: in.TakenFromDefault,
		FromDeveloper:    in.FromDeveloper,
		MessageFields:    in.Fields,
		AuthorID:         in.AuthorID,
	}
	if err := w.activeRepo.Create(ctx, active); err != nil {
		return nil, fmt.Errorf("failed to activate %q: %w", in.Key, err)
	}
	return active, nil
}

// replace deletes old and writes in parented on old's history entry. The
// superseded history entry stays in the log.
func (w activeWriter) replace(ctx context.Context, old *models.ActiveEntry, in activeWrite) (*models.ActiveEntry, error) {
	if err := w.activeRepo.Delete(ctx, old.ID); err != nil {
		return nil, fmt.Errorf("failed to remove active %q: %w", old.Key, err)
	}
	parent := old.HistoryID
	in.BundleID = old.BundleID
	in.Key = old.Key
	in.ParentID = &parent
	return w.write(ctx, in)
}
