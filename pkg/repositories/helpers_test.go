//go:build integration

package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-translator/pkg/database"
	"github.com/ekaya-inc/ekaya-translator/pkg/models"
	"github.com/ekaya-inc/ekaya-translator/pkg/testhelpers"
)

// baseTime anchors every timestamp written by the repository tests.
var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// repoTestContext holds the shared engine database and the repositories
// under test.
type repoTestContext struct {
	t        *testing.T
	engineDB *testhelpers.EngineDB

	users    UserRepository
	sources  SourceRepository
	bundles  BundleRepository
	history  HistoryRepository
	active   ActiveRepository
	subs     SubscriptionRepository
	suggest  SuggestionRepository
	external ExternalSuggestionRepository
	presence PresenceRepository
	runs     SyncRunRepository
}

// setupRepoTest empties the translation tables and returns a fresh context.
func setupRepoTest(t *testing.T) *repoTestContext {
	engineDB := testhelpers.GetEngineDB(t)
	tc := &repoTestContext{
		t:        t,
		engineDB: engineDB,
		users:    NewUserRepository(),
		sources:  NewSourceRepository(),
		bundles:  NewBundleRepository(),
		history:  NewHistoryRepository(),
		active:   NewActiveRepository(),
		subs:     NewSubscriptionRepository(),
		suggest:  NewSuggestionRepository(),
		external: NewExternalSuggestionRepository(),
		presence: NewPresenceRepository(),
		runs:     NewSyncRunRepository(),
	}
	tc.cleanup()
	return tc
}

func (tc *repoTestContext) cleanup() {
	tc.t.Helper()
	_, err := tc.engineDB.DB.Exec(context.Background(), `
		TRUNCATE translation_active_editors, translation_active, translation_history,
			translation_bundles, translation_subscriptions, translation_recipients,
			translation_apps, translation_sources, translation_users,
			translation_key_suggestions, translation_value_suggestions,
			translation_external_suggestions, translation_sync_runs
		CASCADE`)
	if err != nil {
		tc.t.Fatalf("Failed to truncate translation tables: %v", err)
	}
}

// createTestContext returns a context carrying a pooled connection scope.
func (tc *repoTestContext) createTestContext() (context.Context, func()) {
	tc.t.Helper()
	ctx := context.Background()
	scope, err := tc.engineDB.DB.WithScope(ctx)
	if err != nil {
		tc.t.Fatalf("Failed to create scope: %v", err)
	}
	return database.SetScope(ctx, scope), scope.Close
}

func (tc *repoTestContext) createUser(ctx context.Context, email string) *models.User {
	tc.t.Helper()
	user, err := tc.users.GetOrCreate(ctx, email, email, false)
	if err != nil {
		tc.t.Fatalf("Failed to create user %s: %v", email, err)
	}
	return user
}

func (tc *repoTestContext) createSource(ctx context.Context, url string) *models.Source {
	tc.t.Helper()
	src, _, err := tc.sources.GetOrCreate(ctx, url, true, "")
	if err != nil {
		tc.t.Fatalf("Failed to create source %s: %v", url, err)
	}
	return src
}

func (tc *repoTestContext) createBundle(ctx context.Context, sourceID uuid.UUID, language string) *models.Bundle {
	tc.t.Helper()
	b := &models.Bundle{SourceID: sourceID, Language: language, TargetAudience: models.TargetAll, CreatedAt: baseTime}
	if err := tc.bundles.Create(ctx, b); err != nil {
		tc.t.Fatalf("Failed to create bundle: %v", err)
	}
	return b
}

// entrySpec describes one history row and its active projection.
type entrySpec struct {
	key, value    string
	author        uuid.UUID
	at            time.Time
	fromDefault   bool
	fromDeveloper bool
	fields        models.MessageFields
	parent        *uuid.UUID
	historyOnly   bool
}

// addEntry appends a history row and, unless historyOnly, activates it.
func (tc *repoTestContext) addEntry(ctx context.Context, bundleID uuid.UUID, in entrySpec) (*models.HistoryEntry, *models.ActiveEntry) {
	tc.t.Helper()
	h := &models.HistoryEntry{
		BundleID:         bundleID,
		Key:              in.key,
		Value:            in.value,
		AuthorID:         in.author,
		CreatedAt:        in.at,
		ParentID:         in.parent,
		TakenFromDefault: in.fromDefault,
		FromDeveloper:    in.fromDeveloper,
		MessageFields:    in.fields,
	}
	if err := tc.history.Append(ctx, h); err != nil {
		tc.t.Fatalf("Failed to append history %s: %v", in.key, err)
	}
	if in.historyOnly {
		return h, nil
	}

	a := &models.ActiveEntry{
		BundleID:         bundleID,
		Key:              in.key,
		Value:            in.value,
		HistoryID:        h.ID,
		UpdatedAt:        in.at,
		TakenFromDefault: in.fromDefault,
		FromDeveloper:    in.fromDeveloper,
		MessageFields:    in.fields,
	}
	if err := tc.active.Create(ctx, a); err != nil {
		tc.t.Fatalf("Failed to create active entry %s: %v", in.key, err)
	}
	return h, a
}
