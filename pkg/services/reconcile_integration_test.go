//go:build integration

package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-translator/pkg/database"
	"github.com/ekaya-inc/ekaya-translator/pkg/languages"
	"github.com/ekaya-inc/ekaya-translator/pkg/models"
	"github.com/ekaya-inc/ekaya-translator/pkg/repositories"
	"github.com/ekaya-inc/ekaya-translator/pkg/testhelpers"
)

// pgEngine wires the write-side services over the shared engine database.
type pgEngine struct {
	db          *database.DB
	reconciler  Reconciler
	translation TranslationService
	translator  *models.User
}

func newPGEngine(t *testing.T) *pgEngine {
	t.Helper()

	db := testhelpers.GetEngineDB(t).DB
	_, err := db.Exec(context.Background(), `
		TRUNCATE translation_active_editors, translation_active, translation_history,
			translation_bundles, translation_subscriptions, translation_recipients,
			translation_apps, translation_sources, translation_users,
			translation_key_suggestions, translation_value_suggestions,
			translation_external_suggestions, translation_sync_runs
		CASCADE`)
	require.NoError(t, err)

	logger := zap.NewNop()
	scope := NewScopeFunc(db)
	bundles := repositories.NewBundleRepository()
	history := repositories.NewHistoryRepository()
	active := repositories.NewActiveRepository()

	rec := NewReconciler(db, bundles, history, active, repositories.NewSuggestionRepository(), logger)
	reg := NewRegistryService(scope, db, repositories.NewSourceRepository(), repositories.NewSubscriptionRepository(),
		bundles, history, active, logger)
	svc := NewTranslationService(scope, reg, rec, repositories.NewSourceRepository(), bundles, history, active,
		languages.New(), logger)

	ctx, cleanup, err := scope(context.Background())
	require.NoError(t, err)
	defer cleanup()
	translator, err := repositories.NewUserRepository().GetOrCreate(ctx, "ana@example.com", "Ana", false)
	require.NoError(t, err)

	return &pgEngine{db: db, reconciler: rec, translation: svc, translator: translator}
}

// seed pushes manifest for appURL and returns the bundle it landed in.
func (e *pgEngine) seed(t *testing.T, appURL, language string, manifest models.Manifest) uuid.UUID {
	t.Helper()
	_, err := e.translation.Submit(context.Background(), SubmitRequest{
		AppURL:    appURL,
		SourceURL: appURL,
		Language:  language,
		Target:    models.TargetAll,
		AuthorID:  e.translator.ID,
		Manifest:  manifest,
	})
	require.NoError(t, err)

	var id uuid.UUID
	err = e.db.QueryRow(context.Background(), `
		SELECT b.id FROM translation_bundles b
		JOIN translation_sources s ON s.id = b.source_id
		WHERE s.url = $1 AND b.language = $2 AND b.target_audience = $3`,
		appURL, language, models.TargetAll).Scan(&id)
	require.NoError(t, err)
	return id
}

// reconcileAll runs every request at once and returns the first error.
func (e *pgEngine) reconcileAll(reqs []ReconcileRequest) error {
	var g errgroup.Group
	for _, req := range reqs {
		g.Go(func() error {
			_, err := e.reconciler.Reconcile(context.Background(), req)
			return err
		})
	}
	return g.Wait()
}

func (e *pgEngine) activeValue(t *testing.T, bundleID uuid.UUID, key string) string {
	t.Helper()
	var value string
	err := e.db.QueryRow(context.Background(),
		`SELECT value FROM translation_active WHERE bundle_id = $1 AND key = $2`, bundleID, key).Scan(&value)
	require.NoError(t, err)
	return value
}

// requireConsistent checks the stored rows: one active entry per key, each
// pointing at history of its own bundle with the same value, and parent
// chains without cycles.
func (e *pgEngine) requireConsistent(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	var duplicates int
	err := e.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM (
			SELECT bundle_id, key FROM translation_active
			GROUP BY bundle_id, key HAVING COUNT(*) > 1
		) d`).Scan(&duplicates)
	require.NoError(t, err)
	assert.Zero(t, duplicates, "keys with more than one active entry")

	var mismatched int
	err = e.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM translation_active a
		JOIN translation_history h ON h.id = a.history_id
		WHERE h.bundle_id <> a.bundle_id OR h.key <> a.key OR h.value <> a.value`).Scan(&mismatched)
	require.NoError(t, err)
	assert.Zero(t, mismatched, "active entries disagreeing with their history row")

	rows, err := e.db.Query(ctx, `SELECT id, parent_id FROM translation_history`)
	require.NoError(t, err)
	parents := make(map[uuid.UUID]*uuid.UUID)
	for rows.Next() {
		var id uuid.UUID
		var parent *uuid.UUID
		require.NoError(t, rows.Scan(&id, &parent))
		parents[id] = parent
	}
	rows.Close()
	require.NoError(t, rows.Err())

	for id := range parents {
		seen := map[uuid.UUID]bool{id: true}
		for p := parents[id]; p != nil; p = parents[*p] {
			require.False(t, seen[*p], "history %s has a cyclic parent chain", id)
			seen[*p] = true
		}
	}
}

func TestReconcile_Concurrent_SameKeyDifferentValues(t *testing.T) {
	e := newPGEngine(t)
	bundleID := e.seed(t, appA, "fr", greetingManifest())

	values := make(map[string]bool)
	var reqs []ReconcileRequest
	for i := 0; i < 8; i++ {
		value := fmt.Sprintf("Bonjour %d", i)
		values[value] = true
		reqs = append(reqs, ReconcileRequest{
			BundleID: bundleID,
			AuthorID: e.translator.ID,
			Values:   map[string]string{"greeting": value},
			Manifest: greetingManifest(),
		})
	}

	require.NoError(t, e.reconcileAll(reqs))

	e.requireConsistent(t)
	assert.True(t, values[e.activeValue(t, bundleID, "greeting")])
	assert.Equal(t, "Bye", e.activeValue(t, bundleID, "farewell"))
}

func TestReconcile_Concurrent_SameValueTwice(t *testing.T) {
	e := newPGEngine(t)
	bundleID := e.seed(t, appA, "fr", greetingManifest())

	req := ReconcileRequest{
		BundleID: bundleID,
		AuthorID: e.translator.ID,
		Values:   map[string]string{"greeting": "Bonjour"},
		Manifest: greetingManifest(),
	}
	require.NoError(t, e.reconcileAll([]ReconcileRequest{req, req, req, req}))

	e.requireConsistent(t)
	assert.Equal(t, "Bonjour", e.activeValue(t, bundleID, "greeting"))
}

func TestReconcile_Concurrent_NamespacePropagation(t *testing.T) {
	e := newPGEngine(t)
	manifest := namespacedManifest("common")
	a := e.seed(t, appA, "es", manifest)
	b := e.seed(t, appB, "es", manifest)

	values := map[string]bool{"Vale": true, "De acuerdo": true, "OK": true}
	var reqs []ReconcileRequest
	for i := 0; i < 4; i++ {
		reqs = append(reqs,
			ReconcileRequest{BundleID: a, AuthorID: e.translator.ID, Values: map[string]string{"ok": "Vale"}, Manifest: manifest},
			ReconcileRequest{BundleID: b, AuthorID: e.translator.ID, Values: map[string]string{"ok": "De acuerdo"}, Manifest: manifest},
		)
	}

	require.NoError(t, e.reconcileAll(reqs))

	e.requireConsistent(t)
	assert.True(t, values[e.activeValue(t, a, "ok")])
	assert.True(t, values[e.activeValue(t, b, "ok")])
}
