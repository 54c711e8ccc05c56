package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-translator/pkg/logging"
	"github.com/ekaya-inc/ekaya-translator/pkg/models"
)

// reconcileRun holds the state of one reconcile attempt. A fresh run is built
// for every transaction attempt.
type reconcileRun struct {
	r        *reconciler
	req      ReconcileRequest
	manifest models.Manifest
	skipped  map[string]bool
	now      time.Time
	writer   activeWriter
	bundle   *models.Bundle
	result   *ReconcileResult
}

// apply runs the reconcile steps in order. It must run inside a transaction.
func (run *reconcileRun) apply(ctx context.Context) error {
	bundle, err := run.r.bundleRepo.GetByID(ctx, run.req.BundleID)
	if err != nil {
		return fmt.Errorf("failed to load bundle %s: %w", run.req.BundleID, err)
	}
	run.bundle = bundle

	values := run.incomingValues()

	if run.req.FromDeveloper && values != nil {
		if err := run.suppressDeveloperRepeats(ctx, values); err != nil {
			return err
		}
	}

	if run.req.FromDeveloper && !bundle.IsFromDeveloper {
		if err := run.r.bundleRepo.MarkFromDeveloper(ctx, bundle.ID); err != nil {
			return fmt.Errorf("failed to promote bundle: %w", err)
		}
		bundle.IsFromDeveloper = true
	}

	if len(values) == 0 {
		values = nil
	}

	candidates, err := run.syncStructure(ctx)
	if err != nil {
		return err
	}
	if err := run.healNamespaces(ctx, candidates); err != nil {
		return err
	}
	if values != nil {
		if err := run.applyValues(ctx, values); err != nil {
			return err
		}
	}
	if err := run.createMissing(ctx); err != nil {
		return err
	}
	if err := run.deleteRemoved(ctx); err != nil {
		return err
	}
	return run.dedup(ctx)
}

// incomingValues copies the batch, keeping only keys the manifest knows.
func (run *reconcileRun) incomingValues() map[string]string {
	if run.req.Values == nil {
		return nil
	}
	values := make(map[string]string, len(run.req.Values))
	for key, value := range run.req.Values {
		if _, ok := run.manifest[key]; !ok {
			continue
		}
		values[key] = value
	}
	return values
}

// suppressDeveloperRepeats drops developer values that equal the last value
// the developer pushed for the key while the active value has moved on.
func (run *reconcileRun) suppressDeveloperRepeats(ctx context.Context, values map[string]string) error {
	latest, err := run.r.historyRepo.LatestDeveloperValues(ctx, run.bundle.ID)
	if err != nil {
		return fmt.Errorf("failed to load developer history: %w", err)
	}
	if len(latest) == 0 {
		return nil
	}

	entries, err := run.r.activeRepo.ListByBundle(ctx, run.bundle.ID)
	if err != nil {
		return fmt.Errorf("failed to load active entries: %w", err)
	}
	current := make(map[string]string, len(entries))
	for _, e := range entries {
		if _, ok := current[e.Key]; !ok {
			current[e.Key] = e.Value
		}
	}

	for _, key := range sortedKeys(values) {
		previous, ok := latest[key]
		if !ok {
			continue
		}
		value := values[key]
		active, hasActive := current[key]
		if value == previous && (!hasActive || value != active) {
			delete(values, key)
			run.result.Suppressed = append(run.result.Suppressed, key)
		}
	}
	return nil
}

// syncStructure refreshes structural fields from the manifest and returns the
// default-derived namespaced entries that may be healed.
func (run *reconcileRun) syncStructure(ctx context.Context) ([]*models.ActiveEntry, error) {
	entries, err := run.r.activeRepo.ListByBundle(ctx, run.bundle.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active entries: %w", err)
	}

	var candidates []*models.ActiveEntry
	for _, e := range entries {
		msg, ok := run.manifest[e.Key]
		if !ok {
			continue
		}
		if e.MessageFields != msg.MessageFields {
			if err := run.r.activeRepo.UpdateFields(ctx, e.ID, msg.MessageFields); err != nil {
				return nil, fmt.Errorf("failed to refresh %q: %w", e.Key, err)
			}
			e.MessageFields = msg.MessageFields
		}
		if e.Namespace != "" && e.TakenFromDefault {
			candidates = append(candidates, e)
		}
	}
	return candidates, nil
}

// healNamespaces replaces default-derived entries with a real value another
// bundle of the same language and target holds for the same (key, namespace).
func (run *reconcileRun) healNamespaces(ctx context.Context, candidates []*models.ActiveEntry) error {
	if len(candidates) == 0 {
		return nil
	}

	keys := make([]models.NamespaceKey, 0, len(candidates))
	for _, e := range candidates {
		keys = append(keys, models.NamespaceKey{Key: e.Key, Namespace: e.Namespace})
	}
	donors, err := run.r.activeRepo.FindNamespaceDonors(ctx, run.bundle.ID, run.bundle.Language, run.bundle.TargetAudience, keys)
	if err != nil {
		return err
	}

	for _, e := range candidates {
		donor, ok := donors[models.NamespaceKey{Key: e.Key, Namespace: e.Namespace}]
		if !ok {
			continue
		}
		_, err := run.writer.replace(ctx, e, activeWrite{
			Value:         donor.Value,
			AuthorID:      donor.AuthorID,
			At:            run.now,
			FromDeveloper: donor.FromDeveloper,
			Fields:        e.MessageFields,
		})
		if err != nil {
			return err
		}
		run.result.Healed = append(run.result.Healed, e.Key)
	}
	return nil
}

// applyValues writes the incoming values, propagates them through namespaces
// and learns suggestions from them.
func (run *reconcileRun) applyValues(ctx context.Context, values map[string]string) error {
	entries, err := run.r.activeRepo.ListByBundle(ctx, run.bundle.ID)
	if err != nil {
		return fmt.Errorf("failed to load active entries: %w", err)
	}
	byKey := groupByKey(entries)

	for _, key := range sortedKeys(values) {
		value := values[key]
		msg := run.manifest[key]

		var parent *uuid.UUID
		kept := false
		for _, e := range byKey[key] {
			if !run.supersedes(e, value) {
				kept = true
				continue
			}
			if err := run.r.activeRepo.Delete(ctx, e.ID); err != nil {
				return fmt.Errorf("failed to remove active %q: %w", key, err)
			}
			historyID := e.HistoryID
			parent = &historyID
		}
		if kept {
			run.result.Unchanged = append(run.result.Unchanged, key)
			continue
		}

		placeholder := msg.IsPlaceholder(value)
		_, err := run.writer.write(ctx, activeWrite{
			BundleID:         run.bundle.ID,
			Key:              key,
			Value:            value,
			AuthorID:         run.req.AuthorID,
			ParentID:         parent,
			At:               run.now,
			TakenFromDefault: run.req.FromDeveloper && placeholder,
			FromDeveloper:    run.req.FromDeveloper,
			Fields:           msg.MessageFields,
		})
		if err != nil {
			return err
		}
		run.result.Replaced = append(run.result.Replaced, key)

		if placeholder {
			continue
		}
		if msg.Namespace != "" {
			if err := run.propagate(ctx, key, msg.Namespace, value); err != nil {
				return err
			}
		}
		if err := run.learn(ctx, key, msg, value); err != nil {
			return err
		}
	}
	return nil
}

// supersedes reports whether value replaces the existing entry. An empty
// value only replaces a default-derived entry.
func (run *reconcileRun) supersedes(e *models.ActiveEntry, value string) bool {
	if value != "" && e.Value != value {
		return true
	}
	return !run.req.FromDeveloper && e.TakenFromDefault
}

// propagate overwrites the entries of other bundles sharing the key and
// namespace so the whole group reads the same value.
func (run *reconcileRun) propagate(ctx context.Context, key, namespace, value string) error {
	others, err := run.r.activeRepo.FindNamespaceConflicts(ctx, run.bundle.ID, run.bundle.Language, run.bundle.TargetAudience, key, namespace, value)
	if err != nil {
		return err
	}
	for _, e := range others {
		_, err := run.writer.replace(ctx, e, activeWrite{
			Value:         value,
			AuthorID:      run.req.AuthorID,
			At:            run.now,
			FromDeveloper: run.req.FromDeveloper,
			Fields:        e.MessageFields,
		})
		if err != nil {
			return err
		}
		run.result.Propagated++
		run.r.logger.Debug("Propagated namespace value",
			zap.String("key", key),
			zap.String("namespace", namespace),
			zap.String("value", logging.Preview(value)),
			zap.String("bundle_id", e.BundleID.String()))
	}
	return nil
}

func (run *reconcileRun) learn(ctx context.Context, key string, msg models.OriginalMessage, value string) error {
	lang, target := run.bundle.Language, run.bundle.TargetAudience
	if err := run.r.suggestionRepo.IncrementKey(ctx, key, lang, target, value); err != nil {
		return err
	}
	return run.r.suggestionRepo.IncrementValue(ctx, msg.SuggestionText(), lang, target, value)
}

// createMissing gives every manifest key without an entry a default-derived
// one, or the real value of a namespace donor when one exists.
func (run *reconcileRun) createMissing(ctx context.Context) error {
	entries, err := run.r.activeRepo.ListByBundle(ctx, run.bundle.ID)
	if err != nil {
		return fmt.Errorf("failed to load active entries: %w", err)
	}
	existing := groupByKey(entries)

	var missing []string
	var nsKeys []models.NamespaceKey
	for _, key := range run.manifest.Keys() {
		if _, ok := existing[key]; ok {
			continue
		}
		missing = append(missing, key)
		if ns := run.manifest[key].Namespace; ns != "" {
			nsKeys = append(nsKeys, models.NamespaceKey{Key: key, Namespace: ns})
		}
	}
	if len(missing) == 0 {
		return nil
	}

	donors, err := run.r.activeRepo.FindNamespaceDonors(ctx, run.bundle.ID, run.bundle.Language, run.bundle.TargetAudience, nsKeys)
	if err != nil {
		return err
	}

	for _, key := range missing {
		msg := run.manifest[key]
		in := activeWrite{
			BundleID:         run.bundle.ID,
			Key:              key,
			Value:            msg.Text,
			AuthorID:         run.req.AuthorID,
			At:               run.now,
			TakenFromDefault: true,
			Fields:           msg.MessageFields,
		}
		if donor, ok := donors[models.NamespaceKey{Key: key, Namespace: msg.Namespace}]; ok && msg.Namespace != "" {
			in.Value = donor.Value
			in.AuthorID = donor.AuthorID
			in.FromDeveloper = donor.FromDeveloper
			in.TakenFromDefault = false
		}
		if _, err := run.writer.write(ctx, in); err != nil {
			return err
		}
		run.result.Created = append(run.result.Created, key)
	}
	return nil
}

// deleteRemoved drops the entries of keys the manifest no longer has. Their
// history stays.
func (run *reconcileRun) deleteRemoved(ctx context.Context) error {
	entries, err := run.r.activeRepo.ListByBundle(ctx, run.bundle.ID)
	if err != nil {
		return fmt.Errorf("failed to load active entries: %w", err)
	}

	deleted := make(map[string]bool)
	for _, e := range entries {
		if _, ok := run.manifest[e.Key]; ok || run.skipped[e.Key] {
			continue
		}
		if err := run.r.activeRepo.Delete(ctx, e.ID); err != nil {
			return fmt.Errorf("failed to remove active %q: %w", e.Key, err)
		}
		if !deleted[e.Key] {
			deleted[e.Key] = true
			run.result.Deleted = append(run.result.Deleted, e.Key)
		}
	}
	return nil
}

// dedup keeps one active entry per key: real over default-derived, then
// developer over translator, then the oldest.
func (run *reconcileRun) dedup(ctx context.Context) error {
	entries, err := run.r.activeRepo.ListByBundle(ctx, run.bundle.ID)
	if err != nil {
		return fmt.Errorf("failed to load active entries: %w", err)
	}

	byKey := groupByKey(entries)
	for _, key := range sortedKeys(byKey) {
		group := byKey[key]
		if len(group) < 2 {
			continue
		}
		best := group[0]
		for _, e := range group[1:] {
			if preferEntry(e, best) {
				best = e
			}
		}
		for _, e := range group {
			if e == best {
				continue
			}
			if err := run.r.activeRepo.Delete(ctx, e.ID); err != nil {
				return fmt.Errorf("failed to remove duplicate %q: %w", key, err)
			}
			run.result.Deduplicated++
		}
		run.r.logger.Warn("Removed duplicate active entries",
			zap.String("bundle_id", run.bundle.ID.String()),
			zap.String("key", key),
			zap.Int("duplicates", len(group)-1))
	}
	return nil
}

// preferEntry reports whether a should be kept over b.
func preferEntry(a, b *models.ActiveEntry) bool {
	if a.TakenFromDefault != b.TakenFromDefault {
		return !a.TakenFromDefault
	}
	if a.FromDeveloper != b.FromDeveloper {
		return a.FromDeveloper
	}
	return false
}

// groupByKey groups entries by key, keeping their order.
func groupByKey(entries []*models.ActiveEntry) map[string][]*models.ActiveEntry {
	byKey := make(map[string][]*models.ActiveEntry, len(entries))
	for _, e := range entries {
		byKey[e.Key] = append(byKey[e.Key], e)
	}
	return byKey
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
