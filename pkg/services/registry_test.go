package services

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-translator/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-translator/pkg/models"
)

const sharedSource = "https://shared.example.com/strings"

func subscribedEmails(t *testing.T, e *engine, sourceURL string) []string {
	t.Helper()
	ctx := context.Background()
	source, err := mockSourceRepo{e.store}.GetByURL(ctx, sourceURL)
	require.NoError(t, err)
	subs, err := mockSubscriptionRepo{e.store}.ListBySource(ctx, source.ID, models.SubscriptionMechanismSource)
	require.NoError(t, err)
	emails := make([]string, 0, len(subs))
	for _, s := range subs {
		emails = append(emails, s.RecipientEmail)
	}
	sort.Strings(emails)
	return emails
}

func TestRegistryService_RegisterCreatesSourceAndApplication(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	manual := false

	app, err := e.registry.RegisterApplication(ctx, appA, sharedSource, models.AppMetadata{
		Automatic:  &manual,
		Attributes: "beta",
		Emails:     []string{"ops@example.com", " lead@example.com ", ""},
	})
	require.NoError(t, err)

	source, err := mockSourceRepo{e.store}.GetByURL(ctx, sharedSource)
	require.NoError(t, err)
	assert.Equal(t, source.ID, app.SourceID)
	assert.Equal(t, appA, app.AppURL)
	assert.False(t, source.IsAutomaticUpdate)
	assert.Equal(t, "beta", source.Attributes)
	assert.Equal(t, []string{"lead@example.com", "ops@example.com"}, subscribedEmails(t, e, sharedSource))
}

func TestRegistryService_ReregisterSyncsMetadata(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	manual := false

	_, err := e.registry.RegisterApplication(ctx, appA, sharedSource, models.AppMetadata{
		Automatic: &manual,
		Emails:    []string{"ops@example.com", "lead@example.com"},
	})
	require.NoError(t, err)

	app, err := e.registry.RegisterApplication(ctx, appA, sharedSource, models.AppMetadata{
		Emails: []string{"lead@example.com", "qa@example.com"},
	})
	require.NoError(t, err)

	source, err := mockSourceRepo{e.store}.GetByID(ctx, app.SourceID)
	require.NoError(t, err)
	assert.True(t, source.IsAutomaticUpdate)
	assert.Equal(t, []string{"lead@example.com", "qa@example.com"}, subscribedEmails(t, e, sharedSource))
	assert.Len(t, e.store.state.apps, 1)
}

func TestRegistryService_RejectsEmptyURLs(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.registry.RegisterApplication(ctx, " ", sharedSource, models.AppMetadata{})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	_, err = e.registry.RepointApplication(ctx, appA, "", models.AppMetadata{})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestRegistryService_RepointCopiesBundlesWithHistory(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	e.push(t, appA, "fr", greetingManifest(), map[string]string{"greeting": "Bonjour"}, false)
	e.push(t, appA, "fr", greetingManifest(), map[string]string{"greeting": "Salut"}, false)
	oldBundle := e.bundle(t, appA, "fr")
	oldValues := e.store.activeValues(oldBundle.ID)

	app, err := e.registry.RepointApplication(ctx, appA, sharedSource, models.AppMetadata{})
	require.NoError(t, err)

	newBundle := e.bundle(t, sharedSource, "fr")
	assert.Equal(t, newBundle.SourceID, app.SourceID)
	assert.NotEqual(t, oldBundle.ID, newBundle.ID)
	assert.Equal(t, oldValues, e.store.activeValues(newBundle.ID))
	assert.Equal(t, e.store.historyCount(oldBundle.ID), e.store.historyCount(newBundle.ID))

	chain, err := e.translation.History(ctx, newBundle.ID, "greeting")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, "Bonjour", chain[0].Value)
	assert.Equal(t, "Salut", chain[1].Value)

	// The old source keeps its content.
	assert.Equal(t, oldValues, e.store.activeValues(oldBundle.ID))
	e.requireConsistent(t)
}

func TestRegistryService_RepointMergeNeverRegresses(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.translation.Submit(ctx, SubmitRequest{
		AppURL:    appB,
		SourceURL: sharedSource,
		Language:  "fr",
		Target:    models.TargetAll,
		AuthorID:  e.translator.ID,
		Values:    map[string]string{"x": "Real B"},
		Manifest: models.Manifest{
			"w": {Text: "W"},
			"x": {Text: "X"},
			"y": {Text: "Y"},
		},
	})
	require.NoError(t, err)

	e.push(t, appA, "fr", models.Manifest{
		"w": {Text: "W"},
		"x": {Text: "X"},
		"y": {Text: "Y"},
		"z": {Text: "Z"},
	}, map[string]string{"x": "Real A", "y": "Real Y", "z": "Real Z"}, false)

	_, err = e.registry.RepointApplication(ctx, appA, sharedSource, models.AppMetadata{})
	require.NoError(t, err)

	shared := e.bundle(t, sharedSource, "fr")
	assert.Equal(t, map[string]string{
		"w": "W",
		"x": "Real B",
		"y": "Real Y",
		"z": "Real Z",
	}, e.store.activeValues(shared.ID))

	for _, row := range e.store.activeRows(shared.ID) {
		if row.Key != "w" {
			assert.False(t, row.TakenFromDefault, row.Key)
		}
	}
	e.requireConsistent(t)
}

func TestRegistryService_RepointToSameSourceIsNoop(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.push(t, appA, "fr", greetingManifest(), nil, false)
	historyBefore := len(e.store.state.history)

	app, err := e.registry.RepointApplication(ctx, appA, appA, models.AppMetadata{})
	require.NoError(t, err)

	assert.Equal(t, e.bundle(t, appA, "fr").SourceID, app.SourceID)
	assert.Len(t, e.store.state.bundles, 1)
	assert.Equal(t, historyBefore, len(e.store.state.history))
}

func TestRegistryService_RepeatedConflictReturnsStoredApplication(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	existing, err := e.registry.RegisterApplication(ctx, appA, appA, models.AppMetadata{})
	require.NoError(t, err)

	e.tx.failures = []error{apperrors.ErrConflict, apperrors.ErrConflict}
	app, err := e.registry.RepointApplication(ctx, appA, sharedSource, models.AppMetadata{})
	require.NoError(t, err)

	assert.Equal(t, existing.ID, app.ID)
	assert.Equal(t, existing.SourceID, app.SourceID)
}

func TestRegistryService_NamespaceBundles(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	e.push(t, appA, "en_GB", namespacedManifest("common"), map[string]string{"ok": "Sure"}, false)
	e.push(t, appA, "fr", namespacedManifest("common"), nil, false)

	refs, err := e.registry.NamespaceBundles(ctx, []models.NamespaceKey{
		{Key: "ok", Namespace: "common"},
		{Key: "greeting"},
	})
	require.NoError(t, err)
	assert.Equal(t, []models.BundleRef{{Language: "en_GB", TargetAudience: models.TargetAll}}, refs)

	refs, err = e.registry.NamespaceBundles(ctx, []models.NamespaceKey{{Key: "greeting"}})
	require.NoError(t, err)
	assert.NotNil(t, refs)
	assert.Empty(t, refs)
}
