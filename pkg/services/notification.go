package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-translator/pkg/languages"
	"github.com/ekaya-inc/ekaya-translator/pkg/models"
	"github.com/ekaya-inc/ekaya-translator/pkg/repositories"
)

// DefaultStillWorking holds back changes younger than this from digests.
const DefaultStillWorking = 5 * time.Minute

// Notifier delivers change digests to subscribers.
type Notifier interface {
	Notify(ctx context.Context, digests []models.Digest) error
}

// LogNotifier writes digests to the log instead of sending them.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier that logs every digest.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notifier")}
}

var _ Notifier = (*LogNotifier)(nil)

func (n *LogNotifier) Notify(ctx context.Context, digests []models.Digest) error {
	for _, d := range digests {
		changes := 0
		for _, lc := range d.Changes {
			for _, a := range lc.Authors {
				changes += a.Count
			}
		}
		n.logger.Info("Translation digest",
			zap.String("recipient", d.RecipientEmail),
			zap.String("source_url", d.SourceURL),
			zap.Time("since", d.Since),
			zap.Time("until", d.Until),
			zap.Int("languages", len(d.Changes)),
			zap.Int("changes", changes))
	}
	return nil
}

// NotificationService sends subscribers digests of translator activity.
type NotificationService interface {
	// RunDigest builds and delivers one digest per subscription with new
	// translator changes, then advances the subscriptions' last check.
	// Returns the number of digests delivered.
	RunDigest(ctx context.Context) (int, error)

	// RunScheduler starts a background goroutine that runs RunDigest
	// immediately and then every interval. Cancel the context to stop it.
	RunScheduler(ctx context.Context, interval time.Duration)
}

type notificationService struct {
	scope        ScopeFunc
	identity     IdentityService
	subRepo      repositories.SubscriptionRepository
	sourceRepo   repositories.SourceRepository
	historyRepo  repositories.HistoryRepository
	userRepo     repositories.UserRepository
	languages    *languages.Table
	notifier     Notifier
	stillWorking time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

// NewNotificationService creates a new notification service.
func NewNotificationService(
	scope ScopeFunc,
	identity IdentityService,
	subRepo repositories.SubscriptionRepository,
	sourceRepo repositories.SourceRepository,
	historyRepo repositories.HistoryRepository,
	userRepo repositories.UserRepository,
	langs *languages.Table,
	notifier Notifier,
	stillWorking time.Duration,
	logger *zap.Logger,
) NotificationService {
	if stillWorking <= 0 {
		stillWorking = DefaultStillWorking
	}
	return &notificationService{
		scope:        scope,
		identity:     identity,
		subRepo:      subRepo,
		sourceRepo:   sourceRepo,
		historyRepo:  historyRepo,
		userRepo:     userRepo,
		languages:    langs,
		notifier:     notifier,
		stillWorking: stillWorking,
		logger:       logger.Named("notification-service"),
		now:          time.Now,
	}
}

var _ NotificationService = (*notificationService)(nil)

func (s *notificationService) RunDigest(ctx context.Context) (int, error) {
	author, err := s.identity.DefaultAuthor(ctx)
	if err != nil {
		return 0, err
	}

	ctx, cleanup, err := s.scope(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to acquire database scope: %w", err)
	}
	defer cleanup()

	subs, err := s.subRepo.ListAll(ctx, models.SubscriptionMechanismSource)
	if err != nil {
		return 0, err
	}
	if len(subs) == 0 {
		return 0, nil
	}

	until := s.now().Add(-s.stillWorking)
	sources := make(map[uuid.UUID]*models.Source)
	var digests []models.Digest
	var covered []uuid.UUID

	for _, sub := range subs {
		if !sub.LastCheck.Before(until) {
			continue
		}
		counts, err := s.historyRepo.CountChanges(ctx, sub.SourceID, sub.LastCheck, until, author.ID)
		if err != nil {
			return 0, err
		}
		if len(counts) == 0 {
			continue
		}

		source, ok := sources[sub.SourceID]
		if !ok {
			source, err = s.sourceRepo.GetByID(ctx, sub.SourceID)
			if err != nil {
				return 0, err
			}
			sources[sub.SourceID] = source
		}

		changes, err := s.groupChanges(ctx, counts)
		if err != nil {
			return 0, err
		}
		digests = append(digests, models.Digest{
			RecipientEmail: sub.RecipientEmail,
			SourceURL:      source.URL,
			Since:          sub.LastCheck,
			Until:          until,
			Changes:        changes,
		})
		covered = append(covered, sub.ID)
	}

	if len(digests) == 0 {
		return 0, nil
	}

	if err := s.notifier.Notify(ctx, digests); err != nil {
		return 0, fmt.Errorf("failed to deliver digests: %w", err)
	}
	if err := s.subRepo.MarkChecked(ctx, covered, until); err != nil {
		return 0, err
	}

	s.logger.Info("Delivered digests",
		zap.Int("digests", len(digests)),
		zap.Time("until", until))
	return len(digests), nil
}

// groupChanges turns per-(language, author) counts into digest sections,
// languages sorted by code and authors by descending count.
func (s *notificationService) groupChanges(ctx context.Context, counts []models.ChangeCount) ([]models.LanguageChanges, error) {
	ids := make([]uuid.UUID, 0, len(counts))
	for _, c := range counts {
		ids = append(ids, c.AuthorID)
	}
	users, err := s.userRepo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	byLanguage := make(map[string]*models.LanguageChanges)
	for _, c := range counts {
		lc, ok := byLanguage[c.Language]
		if !ok {
			lc = &models.LanguageChanges{
				Language:     c.Language,
				LanguageName: s.languages.LanguageName(c.Language),
			}
			byLanguage[c.Language] = lc
		}
		author := models.AuthorChanges{AuthorID: c.AuthorID, Count: c.Count}
		if u, ok := users[c.AuthorID]; ok {
			author.DisplayName = u.DisplayName
			author.Email = u.Email
		}
		lc.Authors = append(lc.Authors, author)
	}

	out := make([]models.LanguageChanges, 0, len(byLanguage))
	for _, code := range sortedKeys(byLanguage) {
		lc := byLanguage[code]
		sort.SliceStable(lc.Authors, func(i, j int) bool { return lc.Authors[i].Count > lc.Authors[j].Count })
		out = append(out, *lc)
	}
	return out, nil
}

// RunScheduler starts a background loop that delivers digests.
func (s *notificationService) RunScheduler(ctx context.Context, interval time.Duration) {
	go func() {
		s.logger.Info("Digest scheduler started",
			zap.Duration("interval", interval),
			zap.Duration("still_working", s.stillWorking))

		// Run immediately on startup, then at each interval
		s.runOnce(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Digest scheduler stopped")
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()
}

func (s *notificationService) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.RunDigest(ctx); err != nil {
		s.logger.Error("Digest scheduler: run failed", zap.Error(err))
	}
}
