package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-translator/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-translator/pkg/models"
	"github.com/ekaya-inc/ekaya-translator/pkg/repositories"
)

// IdentityService resolves the authors of translation edits.
type IdentityService interface {
	// DefaultAuthor returns the service account that authors structural
	// resyncs, creating it on first use.
	DefaultAuthor(ctx context.Context) (*models.User, error)

	// EnsureUser returns the translator with the given e-mail, creating it
	// when missing.
	EnsureUser(ctx context.Context, email, displayName string) (*models.User, error)
}

// DefaultAuthorConfig identifies the engine's service account.
type DefaultAuthorConfig struct {
	Email       string
	DisplayName string
}

type identityService struct {
	scope    ScopeFunc
	userRepo repositories.UserRepository
	author   DefaultAuthorConfig
	logger   *zap.Logger

	mu            sync.Mutex
	defaultAuthor *models.User
}

// NewIdentityService creates a new identity service.
func NewIdentityService(scope ScopeFunc, userRepo repositories.UserRepository, author DefaultAuthorConfig, logger *zap.Logger) IdentityService {
	return &identityService{
		scope:    scope,
		userRepo: userRepo,
		author:   author,
		logger:   logger.Named("identity-service"),
	}
}

var _ IdentityService = (*identityService)(nil)

func (s *identityService) DefaultAuthor(ctx context.Context) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.defaultAuthor != nil {
		return s.defaultAuthor, nil
	}

	user, err := s.getOrCreate(ctx, s.author.Email, s.author.DisplayName, true)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve default author: %w", err)
	}
	s.defaultAuthor = user
	s.logger.Debug("Resolved default author",
		zap.String("user_id", user.ID.String()),
		zap.String("email", user.Email))
	return user, nil
}

func (s *identityService) EnsureUser(ctx context.Context, email, displayName string) (*models.User, error) {
	return s.getOrCreate(ctx, email, displayName, false)
}

func (s *identityService) getOrCreate(ctx context.Context, email, displayName string, isService bool) (*models.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, &apperrors.ValidationError{Field: "email", Reason: "is empty"}
	}
	if displayName == "" {
		displayName = email
	}

	ctx, cleanup, err := s.scope(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire database scope: %w", err)
	}
	defer cleanup()

	return s.userRepo.GetOrCreate(ctx, email, displayName, isService)
}
