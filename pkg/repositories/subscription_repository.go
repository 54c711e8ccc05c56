package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-translator/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-translator/pkg/database"
	"github.com/ekaya-inc/ekaya-translator/pkg/models"
)

// SubscriptionRepository defines data access for digest recipients and their
// subscriptions to sources.
type SubscriptionRepository interface {
	GetOrCreateRecipient(ctx context.Context, email string) (*models.NotificationRecipient, error)

	// ListBySource returns the subscriptions of a source for one mechanism.
	ListBySource(ctx context.Context, sourceID uuid.UUID, mechanism string) ([]*models.Subscription, error)

	// ListAll returns every subscription for one mechanism, grouped by source.
	ListAll(ctx context.Context, mechanism string) ([]*models.Subscription, error)

	// Add subscribes a recipient. Adding an existing subscription is a no-op.
	Add(ctx context.Context, sourceID, recipientID uuid.UUID, mechanism string) error
	Remove(ctx context.Context, id uuid.UUID) error

	// MarkChecked advances last_check of the given subscriptions.
	MarkChecked(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

type subscriptionRepository struct{}

// NewSubscriptionRepository creates a new subscription repository.
func NewSubscriptionRepository() SubscriptionRepository {
	return &subscriptionRepository{}
}

var _ SubscriptionRepository = (*subscriptionRepository)(nil)

const subscriptionSelect = `
	SELECT s.id, s.source_id, s.recipient_id, r.email, s.mechanism, s.last_check
	FROM translation_subscriptions s
	JOIN translation_recipients r ON r.id = s.recipient_id`

func (r *subscriptionRepository) GetOrCreateRecipient(ctx context.Context, email string) (*models.NotificationRecipient, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	var rec models.NotificationRecipient
	err = q.QueryRow(ctx, `
		INSERT INTO translation_recipients (email)
		VALUES ($1)
		ON CONFLICT (email) DO NOTHING
		RETURNING id, email, created_at`, email).Scan(&rec.ID, &rec.Email, &rec.CreatedAt)
	if err == nil {
		return &rec, nil
	}
	if !database.IsNoRows(err) {
		return nil, fmt.Errorf("failed to create recipient: %w", err)
	}

	err = q.QueryRow(ctx,
		`SELECT id, email, created_at FROM translation_recipients WHERE email = $1`, email).
		Scan(&rec.ID, &rec.Email, &rec.CreatedAt)
	if err != nil {
		return nil, mapReadError(err, "get recipient")
	}
	return &rec, nil
}

func (r *subscriptionRepository) ListBySource(ctx context.Context, sourceID uuid.UUID, mechanism string) ([]*models.Subscription, error) {
	return r.list(ctx, subscriptionSelect+`
		WHERE s.source_id = $1 AND s.mechanism = $2
		ORDER BY r.email`, sourceID, mechanism)
}

func (r *subscriptionRepository) ListAll(ctx context.Context, mechanism string) ([]*models.Subscription, error) {
	return r.list(ctx, subscriptionSelect+`
		WHERE s.mechanism = $1
		ORDER BY s.source_id, r.email`, mechanism)
}

func (r *subscriptionRepository) list(ctx context.Context, query string, args ...any) ([]*models.Subscription, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*models.Subscription
	for rows.Next() {
		var s models.Subscription
		if err := rows.Scan(&s.ID, &s.SourceID, &s.RecipientID, &s.RecipientEmail, &s.Mechanism, &s.LastCheck); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscriptions: %w", err)
	}
	return subs, nil
}

func (r *subscriptionRepository) Add(ctx context.Context, sourceID, recipientID uuid.UUID, mechanism string) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO translation_subscriptions (source_id, recipient_id, mechanism)
		VALUES ($1, $2, $3)
		ON CONFLICT (source_id, recipient_id, mechanism) DO NOTHING`,
		sourceID, recipientID, mechanism)
	if err != nil {
		return fmt.Errorf("failed to add subscription: %w", err)
	}
	return nil
}

func (r *subscriptionRepository) Remove(ctx context.Context, id uuid.UUID) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	result, err := q.Exec(ctx, `DELETE FROM translation_subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to remove subscription: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *subscriptionRepository) MarkChecked(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	q, err := querier(ctx)
	if err != nil {
		return err
	}

	if _, err := q.Exec(ctx, `UPDATE translation_subscriptions SET last_check = $2 WHERE id = ANY($1)`, ids, at); err != nil {
		return fmt.Errorf("failed to mark subscriptions checked: %w", err)
	}
	return nil
}
