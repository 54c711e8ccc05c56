package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-translator/pkg/languages"
	"github.com/ekaya-inc/ekaya-translator/pkg/models"
)

// stepClock advances one second per reading.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// engine wires the write-side services over one memStore.
type engine struct {
	store       *memStore
	tx          *mockTransactor
	clock       *stepClock
	reconciler  Reconciler
	registry    RegistryService
	translation TranslationService

	translator *models.User
	developer  *models.User
}

func newEngine(t *testing.T) *engine {
	t.Helper()

	store := newMemStore()
	tx := &mockTransactor{store: store}
	clock := newStepClock()
	logger := zap.NewNop()

	rec := NewReconciler(tx, mockBundleRepo{store}, mockHistoryRepo{store}, mockActiveRepo{store}, mockSuggestionRepo{store}, logger)
	rec.(*reconciler).now = clock.Now

	reg := NewRegistryService(noopScope, tx, mockSourceRepo{store}, mockSubscriptionRepo{store},
		mockBundleRepo{store}, mockHistoryRepo{store}, mockActiveRepo{store}, logger)
	reg.(*registryService).now = clock.Now

	svc := NewTranslationService(noopScope, reg, rec, mockSourceRepo{store}, mockBundleRepo{store},
		mockHistoryRepo{store}, mockActiveRepo{store}, languages.New(), logger)

	ctx := context.Background()
	translator, err := mockUserRepo{store}.GetOrCreate(ctx, "ana@example.com", "Ana", false)
	require.NoError(t, err)
	developer, err := mockUserRepo{store}.GetOrCreate(ctx, "dev@example.com", "Dev", false)
	require.NoError(t, err)

	return &engine{
		store:       store,
		tx:          tx,
		clock:       clock,
		reconciler:  rec,
		registry:    reg,
		translation: svc,
		translator:  translator,
		developer:   developer,
	}
}

// push submits values for appURL as the translator, or as the developer when
// fromDeveloper is set. The application's source is appURL itself.
func (e *engine) push(t *testing.T, appURL, language string, manifest models.Manifest, values map[string]string, fromDeveloper bool) *ReconcileResult {
	t.Helper()
	author := e.translator.ID
	if fromDeveloper {
		author = e.developer.ID
	}
	res, err := e.translation.Submit(context.Background(), SubmitRequest{
		AppURL:        appURL,
		SourceURL:     appURL,
		Language:      language,
		Target:        models.TargetAll,
		AuthorID:      author,
		Values:        values,
		Manifest:      manifest,
		FromDeveloper: fromDeveloper,
	})
	require.NoError(t, err)
	return res
}

// bundle returns the bundle of sourceURL for (language, ALL).
func (e *engine) bundle(t *testing.T, sourceURL, language string) *models.Bundle {
	t.Helper()
	ctx := context.Background()
	source, err := mockSourceRepo{e.store}.GetByURL(ctx, sourceURL)
	require.NoError(t, err)
	b, err := mockBundleRepo{e.store}.Get(ctx, source.ID, language, models.TargetAll)
	require.NoError(t, err)
	return b
}

// emptyBundle creates a source with one bundle without reconciling anything.
func (e *engine) emptyBundle(t *testing.T, sourceURL, language string) *models.Bundle {
	t.Helper()
	ctx := context.Background()
	source, _, err := mockSourceRepo{e.store}.GetOrCreate(ctx, sourceURL, true, "")
	require.NoError(t, err)
	b, err := e.translation.EnsureBundle(ctx, source.ID, language, models.TargetAll, false)
	require.NoError(t, err)
	return b
}

// requireConsistent checks the invariants every bundle must hold after any
// sequence of operations: at most one active entry per key, active entries
// point at history of their own bundle with the same value, and parent links
// are acyclic and point backwards in time.
func (e *engine) requireConsistent(t *testing.T) {
	t.Helper()
	e.store.mu.Lock()
	defer e.store.mu.Unlock()

	history := make(map[uuid.UUID]models.HistoryEntry, len(e.store.state.history))
	for _, h := range e.store.state.history {
		history[h.ID] = h
	}

	type slot struct {
		bundle uuid.UUID
		key    string
	}
	seen := make(map[slot]bool)
	for _, a := range e.store.state.active {
		s := slot{a.BundleID, a.Key}
		require.Falsef(t, seen[s], "key %q has more than one active entry", a.Key)
		seen[s] = true

		h, ok := history[a.HistoryID]
		require.Truef(t, ok, "active %q points at missing history", a.Key)
		require.Equal(t, a.BundleID, h.BundleID)
		require.Equal(t, a.Key, h.Key)
		require.Equal(t, a.Value, h.Value)
	}

	for _, h := range e.store.state.history {
		visited := map[uuid.UUID]bool{h.ID: true}
		cur := h
		for cur.ParentID != nil {
			parent, ok := history[*cur.ParentID]
			require.Truef(t, ok, "history %s has a dangling parent", cur.ID)
			require.Falsef(t, visited[parent.ID], "history of %q has a cycle", h.Key)
			require.Equal(t, cur.BundleID, parent.BundleID)
			require.False(t, parent.CreatedAt.After(cur.CreatedAt))
			visited[parent.ID] = true
			cur = parent
		}
	}
}
