package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-translator/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-translator/pkg/database"
	"github.com/ekaya-inc/ekaya-translator/pkg/models"
	"github.com/ekaya-inc/ekaya-translator/pkg/repositories"
)

// memState is the full content of the in-memory store. Rows are held by
// value so a transaction snapshot is a plain copy.
type memState struct {
	users      []models.User
	sources    []models.Source
	apps       []models.Application
	recipients []models.NotificationRecipient
	subs       []models.Subscription
	bundles    []models.Bundle
	history    []models.HistoryEntry
	active     []models.ActiveEntry
	keySugg    []models.KeySuggestion
	valueSugg  []models.ValueSuggestion
	presence   []models.ActiveEditor
	runs       []models.SyncRun
}

func (s memState) clone() memState {
	return memState{
		users:      append([]models.User(nil), s.users...),
		sources:    append([]models.Source(nil), s.sources...),
		apps:       append([]models.Application(nil), s.apps...),
		recipients: append([]models.NotificationRecipient(nil), s.recipients...),
		subs:       append([]models.Subscription(nil), s.subs...),
		bundles:    append([]models.Bundle(nil), s.bundles...),
		history:    append([]models.HistoryEntry(nil), s.history...),
		active:     append([]models.ActiveEntry(nil), s.active...),
		keySugg:    append([]models.KeySuggestion(nil), s.keySugg...),
		valueSugg:  append([]models.ValueSuggestion(nil), s.valueSugg...),
		presence:   append([]models.ActiveEditor(nil), s.presence...),
		runs:       append([]models.SyncRun(nil), s.runs...),
	}
}

// memStore implements every repository over memState. The active table
// enforces its (bundle, key) uniqueness like the real schema; insertActive
// bypasses it to seed legacy duplicates.
type memStore struct {
	mu    sync.Mutex
	state memState
	clock time.Time
}

func newMemStore() *memStore {
	return &memStore{clock: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

// tick returns strictly increasing timestamps for rows created without one.
func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Millisecond)
	return m.clock
}

func (m *memStore) insertActive(e models.ActiveEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	m.state.active = append(m.state.active, e)
}

func (m *memStore) historyByID(id uuid.UUID) (models.HistoryEntry, bool) {
	for _, h := range m.state.history {
		if h.ID == id {
			return h, true
		}
	}
	return models.HistoryEntry{}, false
}

func (m *memStore) bundleByID(id uuid.UUID) (models.Bundle, bool) {
	for _, b := range m.state.bundles {
		if b.ID == id {
			return b, true
		}
	}
	return models.Bundle{}, false
}

// resolved returns a copy of an active row with its author filled in.
func (m *memStore) resolved(a models.ActiveEntry) *models.ActiveEntry {
	if h, ok := m.historyByID(a.HistoryID); ok {
		a.AuthorID = h.AuthorID
	}
	return &a
}

// mockTransactor snapshots the store and restores it when fn fails. Errors
// queued in failures are returned by the next transactions instead of
// running fn.
type mockTransactor struct {
	store    *memStore
	mu       sync.Mutex
	failures []error
	calls    int
}

type inTxKey struct{}

var _ database.Transactor = (*mockTransactor)(nil)

func (t *mockTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (database.TxOutcome, error) {
	if ctx.Value(inTxKey{}) != nil {
		err := fn(ctx)
		return database.Classify(err), err
	}

	t.mu.Lock()
	t.calls++
	if len(t.failures) > 0 {
		err := t.failures[0]
		t.failures = t.failures[1:]
		t.mu.Unlock()
		return database.Classify(err), err
	}
	t.mu.Unlock()

	t.store.mu.Lock()
	snapshot := t.store.state.clone()
	t.store.mu.Unlock()

	err := fn(context.WithValue(ctx, inTxKey{}, true))
	if err != nil {
		t.store.mu.Lock()
		t.store.state = snapshot
		t.store.mu.Unlock()
	}
	return database.Classify(err), err
}

func noopScope(ctx context.Context) (context.Context, func(), error) {
	return ctx, func() {}, nil
}

// ---- users ----

type mockUserRepo struct{ m *memStore }

var _ repositories.UserRepository = mockUserRepo{}

func (r mockUserRepo) GetOrCreate(ctx context.Context, email, displayName string, isService bool) (*models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, u := range r.m.state.users {
		if u.Email == email {
			return &u, nil
		}
	}
	u := models.User{ID: uuid.New(), Email: email, DisplayName: displayName, IsService: isService, CreatedAt: r.m.tick()}
	r.m.state.users = append(r.m.state.users, u)
	return &u, nil
}

func (r mockUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, u := range r.m.state.users {
		if u.ID == id {
			return &u, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r mockUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, u := range r.m.state.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r mockUserRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make(map[uuid.UUID]*models.User)
	for _, id := range ids {
		for _, u := range r.m.state.users {
			if u.ID == id {
				out[id] = &u
			}
		}
	}
	return out, nil
}

// ---- sources and applications ----

type mockSourceRepo struct{ m *memStore }

var _ repositories.SourceRepository = mockSourceRepo{}

func (r mockSourceRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Source, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, s := range r.m.state.sources {
		if s.ID == id {
			return &s, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r mockSourceRepo) GetByURL(ctx context.Context, url string) (*models.Source, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, s := range r.m.state.sources {
		if s.URL == url {
			return &s, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r mockSourceRepo) GetOrCreate(ctx context.Context, url string, automatic bool, attributes string) (*models.Source, bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, s := range r.m.state.sources {
		if s.URL == url {
			return &s, false, nil
		}
	}
	now := r.m.tick()
	s := models.Source{ID: uuid.New(), URL: url, IsAutomaticUpdate: automatic, Attributes: attributes, CreatedAt: now, UpdatedAt: now}
	r.m.state.sources = append(r.m.state.sources, s)
	return &s, true, nil
}

func (r mockSourceRepo) UpdateFlags(ctx context.Context, id uuid.UUID, automatic bool, attributes string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for i := range r.m.state.sources {
		if r.m.state.sources[i].ID == id {
			r.m.state.sources[i].IsAutomaticUpdate = automatic
			r.m.state.sources[i].Attributes = attributes
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (r mockSourceRepo) GetApplication(ctx context.Context, appURL string) (*models.Application, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, a := range r.m.state.apps {
		if a.AppURL == appURL {
			return &a, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r mockSourceRepo) CreateApplication(ctx context.Context, app *models.Application) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, a := range r.m.state.apps {
		if a.AppURL == app.AppURL {
			return apperrors.ErrConflict
		}
	}
	if app.ID == uuid.Nil {
		app.ID = uuid.New()
	}
	now := r.m.tick()
	app.CreatedAt, app.UpdatedAt = now, now
	r.m.state.apps = append(r.m.state.apps, *app)
	return nil
}

func (r mockSourceRepo) SetApplicationSource(ctx context.Context, appID, sourceID uuid.UUID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for i := range r.m.state.apps {
		if r.m.state.apps[i].ID == appID {
			r.m.state.apps[i].SourceID = sourceID
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (r mockSourceRepo) ListApplications(ctx context.Context, sourceID uuid.UUID) ([]*models.Application, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Application
	for _, a := range r.m.state.apps {
		if a.SourceID == sourceID {
			out = append(out, &a)
		}
	}
	return out, nil
}

// ---- subscriptions ----

type mockSubscriptionRepo struct{ m *memStore }

var _ repositories.SubscriptionRepository = mockSubscriptionRepo{}

func (r mockSubscriptionRepo) GetOrCreateRecipient(ctx context.Context, email string) (*models.NotificationRecipient, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, rc := range r.m.state.recipients {
		if rc.Email == email {
			return &rc, nil
		}
	}
	rc := models.NotificationRecipient{ID: uuid.New(), Email: email, CreatedAt: r.m.tick()}
	r.m.state.recipients = append(r.m.state.recipients, rc)
	return &rc, nil
}

func (r mockSubscriptionRepo) withEmail(s models.Subscription) *models.Subscription {
	for _, rc := range r.m.state.recipients {
		if rc.ID == s.RecipientID {
			s.RecipientEmail = rc.Email
		}
	}
	return &s
}

func (r mockSubscriptionRepo) ListBySource(ctx context.Context, sourceID uuid.UUID, mechanism string) ([]*models.Subscription, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Subscription
	for _, s := range r.m.state.subs {
		if s.SourceID == sourceID && s.Mechanism == mechanism {
			out = append(out, r.withEmail(s))
		}
	}
	return out, nil
}

func (r mockSubscriptionRepo) ListAll(ctx context.Context, mechanism string) ([]*models.Subscription, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Subscription
	for _, s := range r.m.state.subs {
		if s.Mechanism == mechanism {
			out = append(out, r.withEmail(s))
		}
	}
	return out, nil
}

func (r mockSubscriptionRepo) Add(ctx context.Context, sourceID, recipientID uuid.UUID, mechanism string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, s := range r.m.state.subs {
		if s.SourceID == sourceID && s.RecipientID == recipientID && s.Mechanism == mechanism {
			return nil
		}
	}
	r.m.state.subs = append(r.m.state.subs, models.Subscription{
		ID: uuid.New(), SourceID: sourceID, RecipientID: recipientID, Mechanism: mechanism, LastCheck: r.m.clock,
	})
	return nil
}

func (r mockSubscriptionRepo) Remove(ctx context.Context, id uuid.UUID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for i, s := range r.m.state.subs {
		if s.ID == id {
			r.m.state.subs = append(r.m.state.subs[:i], r.m.state.subs[i+1:]...)
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (r mockSubscriptionRepo) MarkChecked(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, id := range ids {
		for i := range r.m.state.subs {
			if r.m.state.subs[i].ID == id {
				r.m.state.subs[i].LastCheck = at
			}
		}
	}
	return nil
}

// ---- bundles ----

type mockBundleRepo struct{ m *memStore }

var _ repositories.BundleRepository = mockBundleRepo{}

func (r mockBundleRepo) Get(ctx context.Context, sourceID uuid.UUID, language, target string) (*models.Bundle, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, b := range r.m.state.bundles {
		if b.SourceID == sourceID && b.Language == language && b.TargetAudience == target {
			return &b, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r mockBundleRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Bundle, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if b, ok := r.m.bundleByID(id); ok {
		return &b, nil
	}
	return nil, apperrors.ErrNotFound
}

func (r mockBundleRepo) Create(ctx context.Context, bundle *models.Bundle) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, b := range r.m.state.bundles {
		if b.SourceID == bundle.SourceID && b.Language == bundle.Language && b.TargetAudience == bundle.TargetAudience {
			return apperrors.ErrConflict
		}
	}
	if bundle.ID == uuid.Nil {
		bundle.ID = uuid.New()
	}
	if bundle.CreatedAt.IsZero() {
		bundle.CreatedAt = r.m.tick()
	}
	r.m.state.bundles = append(r.m.state.bundles, *bundle)
	return nil
}

func (r mockBundleRepo) ListBySource(ctx context.Context, sourceID uuid.UUID) ([]*models.Bundle, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Bundle
	for _, b := range r.m.state.bundles {
		if b.SourceID == sourceID {
			out = append(out, &b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Language != out[j].Language {
			return out[i].Language < out[j].Language
		}
		return out[i].TargetAudience < out[j].TargetAudience
	})
	return out, nil
}

func (r mockBundleRepo) MarkFromDeveloper(ctx context.Context, id uuid.UUID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for i := range r.m.state.bundles {
		if r.m.state.bundles[i].ID == id {
			r.m.state.bundles[i].IsFromDeveloper = true
			return nil
		}
	}
	return apperrors.ErrNotFound
}

// ---- history ----

type mockHistoryRepo struct{ m *memStore }

var _ repositories.HistoryRepository = mockHistoryRepo{}

func (r mockHistoryRepo) Append(ctx context.Context, entry *models.HistoryEntry) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.m.tick()
	}
	r.m.state.history = append(r.m.state.history, *entry)
	return nil
}

func (r mockHistoryRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.HistoryEntry, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if h, ok := r.m.historyByID(id); ok {
		return &h, nil
	}
	return nil, apperrors.ErrNotFound
}

func (r mockHistoryRepo) LatestDeveloperValues(ctx context.Context, bundleID uuid.UUID) (map[string]string, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make(map[string]string)
	for _, h := range r.m.sortedHistory(bundleID, "") {
		if h.FromDeveloper {
			out[h.Key] = h.Value
		}
	}
	return out, nil
}

// sortedHistory returns the entries of a bundle, optionally of one key, by
// creation time. Ties keep insertion order.
func (m *memStore) sortedHistory(bundleID uuid.UUID, key string) []*models.HistoryEntry {
	var out []*models.HistoryEntry
	for _, h := range m.state.history {
		if h.BundleID == bundleID && (key == "" || h.Key == key) {
			out = append(out, &h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r mockHistoryRepo) ListByBundle(ctx context.Context, bundleID uuid.UUID) ([]*models.HistoryEntry, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.m.sortedHistory(bundleID, ""), nil
}

func (r mockHistoryRepo) ListByKey(ctx context.Context, bundleID uuid.UUID, key string) ([]*models.HistoryEntry, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.m.sortedHistory(bundleID, key), nil
}

func (r mockHistoryRepo) CountChanges(ctx context.Context, sourceID uuid.UUID, since, until time.Time, excludeAuthor uuid.UUID) ([]models.ChangeCount, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	type groupKey struct {
		lang   string
		author uuid.UUID
	}
	counts := make(map[groupKey]int)
	for _, h := range r.m.state.history {
		b, ok := r.m.bundleByID(h.BundleID)
		if !ok || b.SourceID != sourceID {
			continue
		}
		if !h.CreatedAt.After(since) || h.CreatedAt.After(until) {
			continue
		}
		if h.TakenFromDefault || h.FromDeveloper || h.AuthorID == excludeAuthor {
			continue
		}
		counts[groupKey{b.Language, h.AuthorID}]++
	}
	var out []models.ChangeCount
	for k, n := range counts {
		out = append(out, models.ChangeCount{Language: k.lang, AuthorID: k.author, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Language != out[j].Language {
			return out[i].Language < out[j].Language
		}
		return out[i].Count > out[j].Count
	})
	return out, nil
}

// ---- active projection ----

type mockActiveRepo struct{ m *memStore }

var _ repositories.ActiveRepository = mockActiveRepo{}

// sortedActive returns the active rows matching keep ordered by key and age.
func (m *memStore) sortedActive(keep func(models.ActiveEntry) bool) []*models.ActiveEntry {
	var out []*models.ActiveEntry
	for _, a := range m.state.active {
		if keep(a) {
			out = append(out, m.resolved(a))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out
}

func (r mockActiveRepo) ListByBundle(ctx context.Context, bundleID uuid.UUID) ([]*models.ActiveEntry, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.m.sortedActive(func(a models.ActiveEntry) bool { return a.BundleID == bundleID }), nil
}

func (r mockActiveRepo) GetByKey(ctx context.Context, bundleID uuid.UUID, key string) (*models.ActiveEntry, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	rows := r.m.sortedActive(func(a models.ActiveEntry) bool { return a.BundleID == bundleID && a.Key == key })
	if len(rows) == 0 {
		return nil, apperrors.ErrNotFound
	}
	return rows[0], nil
}

func (r mockActiveRepo) Create(ctx context.Context, entry *models.ActiveEntry) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, a := range r.m.state.active {
		if a.BundleID == entry.BundleID && a.Key == entry.Key {
			return apperrors.ErrConflict
		}
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = r.m.tick()
	}
	row := *entry
	row.AuthorID = uuid.Nil
	r.m.state.active = append(r.m.state.active, row)
	return nil
}

func (r mockActiveRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for i, a := range r.m.state.active {
		if a.ID == id {
			r.m.state.active = append(r.m.state.active[:i], r.m.state.active[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("active entry %s already removed: %w", id, apperrors.ErrConflict)
}

func (r mockActiveRepo) UpdateFields(ctx context.Context, id uuid.UUID, fields models.MessageFields) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for i := range r.m.state.active {
		if r.m.state.active[i].ID == id {
			r.m.state.active[i].MessageFields = fields
			return nil
		}
	}
	return fmt.Errorf("active entry %s already removed: %w", id, apperrors.ErrConflict)
}

// sameGroup reports whether a row belongs to another bundle of the pair.
func (m *memStore) sameGroup(a models.ActiveEntry, excludeBundleID uuid.UUID, language, target string) bool {
	if a.BundleID == excludeBundleID {
		return false
	}
	b, ok := m.bundleByID(a.BundleID)
	return ok && b.Language == language && b.TargetAudience == target
}

func (r mockActiveRepo) FindNamespaceDonors(ctx context.Context, excludeBundleID uuid.UUID, language, target string, keys []models.NamespaceKey) (map[models.NamespaceKey]*models.NamespaceDonor, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	wanted := make(map[models.NamespaceKey]bool, len(keys))
	for _, k := range keys {
		wanted[k] = true
	}
	donors := make(map[models.NamespaceKey]*models.NamespaceDonor)
	newest := make(map[models.NamespaceKey]time.Time)
	for _, a := range r.m.state.active {
		nk := models.NamespaceKey{Key: a.Key, Namespace: a.Namespace}
		if !wanted[nk] || a.TakenFromDefault || !r.m.sameGroup(a, excludeBundleID, language, target) {
			continue
		}
		if at, ok := newest[nk]; ok && !a.UpdatedAt.After(at) {
			continue
		}
		full := r.m.resolved(a)
		newest[nk] = a.UpdatedAt
		donors[nk] = &models.NamespaceDonor{
			Key: a.Key, Namespace: a.Namespace, Value: a.Value,
			FromDeveloper: a.FromDeveloper, AuthorID: full.AuthorID, BundleID: a.BundleID,
		}
	}
	return donors, nil
}

func (r mockActiveRepo) FindNamespaceConflicts(ctx context.Context, excludeBundleID uuid.UUID, language, target, key, namespace, value string) ([]*models.ActiveEntry, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.m.sortedActive(func(a models.ActiveEntry) bool {
		return a.Key == key && a.Namespace == namespace && a.Value != value &&
			r.m.sameGroup(a, excludeBundleID, language, target)
	}), nil
}

func (r mockActiveRepo) BundlesWithNamespaceValues(ctx context.Context, keys []models.NamespaceKey) ([]models.BundleRef, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	wanted := make(map[models.NamespaceKey]bool, len(keys))
	for _, k := range keys {
		wanted[k] = true
	}
	seen := make(map[models.BundleRef]bool)
	var refs []models.BundleRef
	for _, a := range r.m.state.active {
		if a.TakenFromDefault || !wanted[models.NamespaceKey{Key: a.Key, Namespace: a.Namespace}] {
			continue
		}
		b, ok := r.m.bundleByID(a.BundleID)
		if !ok || seen[b.Ref()] {
			continue
		}
		seen[b.Ref()] = true
		refs = append(refs, b.Ref())
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Language != refs[j].Language {
			return refs[i].Language < refs[j].Language
		}
		return refs[i].TargetAudience < refs[j].TargetAudience
	})
	return refs, nil
}

func (r mockActiveRepo) LastModifiedByAuthor(ctx context.Context, bundleID uuid.UUID) ([]models.AuthorActivity, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	latest := make(map[uuid.UUID]time.Time)
	for _, a := range r.m.sortedActive(func(a models.ActiveEntry) bool { return a.BundleID == bundleID }) {
		if at, ok := latest[a.AuthorID]; !ok || a.UpdatedAt.After(at) {
			latest[a.AuthorID] = a.UpdatedAt
		}
	}
	var out []models.AuthorActivity
	for id, at := range latest {
		out = append(out, models.AuthorActivity{AuthorID: id, LastModified: at})
	}
	return out, nil
}

func (r mockActiveRepo) ProgressBySource(ctx context.Context, sourceID uuid.UUID, keys []string) ([]models.BundleProgress, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	wanted := make(map[string]bool, len(keys))
	for _, k := range keys {
		wanted[k] = true
	}
	type agg struct {
		keys        map[string]bool
		first, last time.Time
	}
	groups := make(map[models.BundleRef]*agg)
	for _, a := range r.m.state.active {
		b, ok := r.m.bundleByID(a.BundleID)
		if !ok || b.SourceID != sourceID || !wanted[a.Key] || a.TakenFromDefault || !a.SameTool {
			continue
		}
		g, ok := groups[b.Ref()]
		if !ok {
			g = &agg{keys: make(map[string]bool), first: a.UpdatedAt, last: a.UpdatedAt}
			groups[b.Ref()] = g
		}
		g.keys[a.Key] = true
		if a.UpdatedAt.Before(g.first) {
			g.first = a.UpdatedAt
		}
		if a.UpdatedAt.After(g.last) {
			g.last = a.UpdatedAt
		}
	}
	var out []models.BundleProgress
	for ref, g := range groups {
		first, last := g.first, g.last
		out = append(out, models.BundleProgress{
			Language: ref.Language, TargetAudience: ref.TargetAudience,
			Translated: len(g.keys), FirstModified: &first, LastModified: &last,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Language+"/"+out[i].TargetAudience < out[j].Language+"/"+out[j].TargetAudience
	})
	return out, nil
}

// ---- suggestions ----

type mockSuggestionRepo struct{ m *memStore }

var _ repositories.SuggestionRepository = mockSuggestionRepo{}

func (r mockSuggestionRepo) IncrementKey(ctx context.Context, key, language, target, value string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for i, s := range r.m.state.keySugg {
		if s.Key == key && s.Language == language && s.TargetAudience == target && s.Value == value {
			r.m.state.keySugg[i].Count++
			return nil
		}
	}
	r.m.state.keySugg = append(r.m.state.keySugg, models.KeySuggestion{
		Key: key, Language: language, TargetAudience: target, Value: value, Count: 1,
	})
	return nil
}

func (r mockSuggestionRepo) IncrementValue(ctx context.Context, sourceText, language, target, value string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for i, s := range r.m.state.valueSugg {
		if s.SourceText == sourceText && s.Language == language && s.TargetAudience == target && s.Value == value {
			r.m.state.valueSugg[i].Count++
			return nil
		}
	}
	r.m.state.valueSugg = append(r.m.state.valueSugg, models.ValueSuggestion{
		SourceText: sourceText, Language: language, TargetAudience: target, Value: value, Count: 1,
	})
	return nil
}

func (r mockSuggestionRepo) ListByKeys(ctx context.Context, keys []string, language, target string) ([]*models.KeySuggestion, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	wanted := make(map[string]bool, len(keys))
	for _, k := range keys {
		wanted[k] = true
	}
	var out []*models.KeySuggestion
	for _, s := range r.m.state.keySugg {
		if wanted[s.Key] && s.Language == language && s.TargetAudience == target {
			out = append(out, &s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (r mockSuggestionRepo) ListBySourceTexts(ctx context.Context, texts []string, language, target string) ([]*models.ValueSuggestion, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	wanted := make(map[string]bool, len(texts))
	for _, t := range texts {
		wanted[t] = true
	}
	var out []*models.ValueSuggestion
	for _, s := range r.m.state.valueSugg {
		if wanted[s.SourceText] && s.Language == language && s.TargetAudience == target {
			out = append(out, &s)
		}
	}
	return out, nil
}

// ---- presence ----

type mockPresenceRepo struct{ m *memStore }

var _ repositories.PresenceRepository = mockPresenceRepo{}

func (r mockPresenceRepo) Touch(ctx context.Context, userID, bundleID uuid.UUID, at time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for i, e := range r.m.state.presence {
		if e.UserID == userID && e.BundleID == bundleID {
			r.m.state.presence[i].LastSeen = at
			return nil
		}
	}
	r.m.state.presence = append(r.m.state.presence, models.ActiveEditor{UserID: userID, BundleID: bundleID, LastSeen: at})
	return nil
}

func (r mockPresenceRepo) ListSince(ctx context.Context, bundleID uuid.UUID, since time.Time) ([]*models.ActiveEditor, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.ActiveEditor
	for _, e := range r.m.state.presence {
		if e.BundleID == bundleID && e.LastSeen.After(since) {
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	return out, nil
}

// ---- sync runs ----

type mockSyncRunRepo struct{ m *memStore }

var _ repositories.SyncRunRepository = mockSyncRunRepo{}

func (r mockSyncRunRepo) Start(ctx context.Context, run *models.SyncRun) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	run.ID = uuid.New()
	r.m.state.runs = append(r.m.state.runs, *run)
	return nil
}

func (r mockSyncRunRepo) End(ctx context.Context, id uuid.UUID, endedAt time.Time, appCount int) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for i := range r.m.state.runs {
		if r.m.state.runs[i].ID == id {
			ended, count := endedAt, appCount
			r.m.state.runs[i].EndedAt = &ended
			r.m.state.runs[i].AppCount = &count
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (r mockSyncRunRepo) ListRecent(ctx context.Context, limit int) ([]*models.SyncRun, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.SyncRun
	for _, run := range r.m.state.runs {
		out = append(out, &run)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- helpers ----

// activeValues returns key -> value of a bundle's active rows.
func (m *memStore) activeValues(bundleID uuid.UUID) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for _, a := range m.state.active {
		if a.BundleID == bundleID {
			out[a.Key] = a.Value
		}
	}
	return out
}

// activeRows returns copies of a bundle's active rows ordered by key.
func (m *memStore) activeRows(bundleID uuid.UUID) []*models.ActiveEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedActive(func(a models.ActiveEntry) bool { return a.BundleID == bundleID })
}

func (m *memStore) historyCount(bundleID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, h := range m.state.history {
		if h.BundleID == bundleID {
			n++
		}
	}
	return n
}

