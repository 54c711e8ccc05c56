package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-translator/pkg/database"
	"github.com/ekaya-inc/ekaya-translator/pkg/models"
)

// UserRepository defines data access for translators and service accounts.
type UserRepository interface {
	// GetOrCreate returns the user with the given e-mail, creating it when
	// absent. A concurrent creation of the same e-mail is resolved in-statement.
	GetOrCreate(ctx context.Context, email, displayName string, isService bool) (*models.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.User, error)
}

type userRepository struct{}

// NewUserRepository creates a new user repository.
func NewUserRepository() UserRepository {
	return &userRepository{}
}

var _ UserRepository = (*userRepository)(nil)

const userColumns = `id, email, display_name, is_service, created_at`

func (r *userRepository) GetOrCreate(ctx context.Context, email, displayName string, isService bool) (*models.User, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO translation_users (email, display_name, is_service)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO NOTHING
		RETURNING ` + userColumns

	user, err := scanUser(q.QueryRow(ctx, query, email, displayName, isService))
	switch {
	case err == nil:
		return user, nil
	case database.IsNoRows(err):
		// Someone else created it first
		return r.GetByEmail(ctx, email)
	default:
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
}

func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	user, err := scanUser(q.QueryRow(ctx, `SELECT `+userColumns+` FROM translation_users WHERE id = $1`, id))
	if err != nil {
		return nil, mapReadError(err, "get user")
	}
	return user, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	user, err := scanUser(q.QueryRow(ctx, `SELECT `+userColumns+` FROM translation_users WHERE email = $1`, email))
	if err != nil {
		return nil, mapReadError(err, "get user by email")
	}
	return user, nil
}

func (r *userRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.User, error) {
	result := make(map[uuid.UUID]*models.User, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `SELECT `+userColumns+` FROM translation_users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		result[user.ID] = user
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return result, nil
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.IsService, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}
