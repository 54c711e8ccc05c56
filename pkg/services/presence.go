package services

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-translator/pkg/models"
	"github.com/ekaya-inc/ekaya-translator/pkg/repositories"
)

// DefaultPresenceWindow is how recently a user must have been seen to count
// as editing a bundle.
const DefaultPresenceWindow = time.Minute

// PresenceService tracks who is editing which bundle.
type PresenceService interface {
	// Touch records that userID has bundleID open.
	Touch(ctx context.Context, userID, bundleID uuid.UUID) error

	// Collaborators lists the users other than userID seen on the bundle
	// within window. A non-positive window uses the configured default.
	Collaborators(ctx context.Context, bundleID, userID uuid.UUID, window time.Duration) ([]models.Collaborator, error)

	// Status reports when userID and others last changed the bundle, plus
	// the current collaborators.
	Status(ctx context.Context, bundleID, userID uuid.UUID, window time.Duration) (*models.EditingStatus, error)
}

type presenceService struct {
	scope         ScopeFunc
	presenceRepo  repositories.PresenceRepository
	bundleRepo    repositories.BundleRepository
	activeRepo    repositories.ActiveRepository
	userRepo      repositories.UserRepository
	defaultWindow time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

// NewPresenceService creates a new presence service.
func NewPresenceService(
	scope ScopeFunc,
	presenceRepo repositories.PresenceRepository,
	bundleRepo repositories.BundleRepository,
	activeRepo repositories.ActiveRepository,
	userRepo repositories.UserRepository,
	defaultWindow time.Duration,
	logger *zap.Logger,
) PresenceService {
	if defaultWindow <= 0 {
		defaultWindow = DefaultPresenceWindow
	}
	return &presenceService{
		scope:         scope,
		presenceRepo:  presenceRepo,
		bundleRepo:    bundleRepo,
		activeRepo:    activeRepo,
		userRepo:      userRepo,
		defaultWindow: defaultWindow,
		logger:        logger.Named("presence-service"),
		now:           time.Now,
	}
}

var _ PresenceService = (*presenceService)(nil)

func (s *presenceService) Touch(ctx context.Context, userID, bundleID uuid.UUID) error {
	ctx, cleanup, err := s.scope(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire database scope: %w", err)
	}
	defer cleanup()

	if _, err := s.bundleRepo.GetByID(ctx, bundleID); err != nil {
		return err
	}
	return s.presenceRepo.Touch(ctx, userID, bundleID, s.now())
}

func (s *presenceService) Collaborators(ctx context.Context, bundleID, userID uuid.UUID, window time.Duration) ([]models.Collaborator, error) {
	ctx, cleanup, err := s.scope(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire database scope: %w", err)
	}
	defer cleanup()

	return s.collaborators(ctx, bundleID, userID, s.now(), window)
}

func (s *presenceService) collaborators(ctx context.Context, bundleID, userID uuid.UUID, now time.Time, window time.Duration) ([]models.Collaborator, error) {
	if window <= 0 {
		window = s.defaultWindow
	}

	editors, err := s.presenceRepo.ListSince(ctx, bundleID, now.Add(-window))
	if err != nil {
		return nil, err
	}

	var ids []uuid.UUID
	for _, e := range editors {
		if e.UserID != userID {
			ids = append(ids, e.UserID)
		}
	}
	collaborators := []models.Collaborator{}
	if len(ids) == 0 {
		return collaborators, nil
	}

	users, err := s.userRepo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, e := range editors {
		user, ok := users[e.UserID]
		if !ok || e.UserID == userID {
			continue
		}
		collaborators = append(collaborators, models.Collaborator{
			UserID:      user.ID,
			DisplayName: user.DisplayName,
			EmailHash:   emailHash(user.Email),
			LastSeen:    e.LastSeen,
		})
	}
	sort.SliceStable(collaborators, func(i, j int) bool {
		return collaborators[i].LastSeen.After(collaborators[j].LastSeen)
	})
	return collaborators, nil
}

func (s *presenceService) Status(ctx context.Context, bundleID, userID uuid.UUID, window time.Duration) (*models.EditingStatus, error) {
	ctx, cleanup, err := s.scope(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire database scope: %w", err)
	}
	defer cleanup()

	if _, err := s.bundleRepo.GetByID(ctx, bundleID); err != nil {
		return nil, err
	}

	activity, err := s.activeRepo.LastModifiedByAuthor(ctx, bundleID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	status := &models.EditingStatus{Now: now}
	for _, a := range activity {
		at := a.LastModified
		if a.AuthorID == userID {
			status.ModifiedAt = &at
			continue
		}
		if status.ModifiedByOtherAt == nil || status.ModifiedByOtherAt.Before(at) {
			status.ModifiedByOtherAt = &at
		}
	}
	if status.ModifiedAt == nil && status.ModifiedByOtherAt != nil {
		at := *status.ModifiedByOtherAt
		status.ModifiedAt = &at
	}

	status.Collaborators, err = s.collaborators(ctx, bundleID, userID, now, window)
	if err != nil {
		return nil, err
	}
	return status, nil
}

// emailHash is the md5 hex digest of the normalized address.
func emailHash(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}
