package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/flexaargo/loginlab/internal/auth/domain"
	apperrors "github.com/flexaargo/loginlab/internal/errors"
)

// DB is the subset of pgxpool.Pool the repositories need. pgxmock satisfies
// it in tests.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresRepository struct {
	db DB
}

func NewPostgresRepository(db DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `id, full_name, email, display_name, COALESCE(profile_image_url, ''), created_at, updated_at`

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
		LIMIT 1;
	`, id)

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}

	return user, nil
}

func (r *PostgresRepository) GetIdentityByProviderUser(ctx context.Context, provider, providerUserID string) (*domain.Identity, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, user_id, provider, COALESCE(provider_user_id, ''), COALESCE(identifier, ''),
		       COALESCE(provider_refresh_token_enc, ''), provider_refresh_token_updated_at,
		       created_at, updated_at
		FROM identities
		WHERE provider = $1 AND provider_user_id = $2
		LIMIT 1;
	`, provider, providerUserID)

	return scanIdentity(row)
}

func (r *PostgresRepository) GetIdentityByUser(ctx context.Context, userID, provider string) (*domain.Identity, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, user_id, provider, COALESCE(provider_user_id, ''), COALESCE(identifier, ''),
		       COALESCE(provider_refresh_token_enc, ''), provider_refresh_token_updated_at,
		       created_at, updated_at
		FROM identities
		WHERE user_id = $1 AND provider = $2
		LIMIT 1;
	`, userID, provider)

	return scanIdentity(row)
}

// CreateUserWithIdentity inserts the user and its identity in one transaction
// so a failed identity insert never leaves an orphaned user.
func (r *PostgresRepository) CreateUserWithIdentity(ctx context.Context, user *domain.User, identity *domain.Identity) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO users (id, full_name, email, display_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, user.FullName, user.Email, user.DisplayName, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO identities (id, user_id, provider, provider_user_id, identifier,
		                        provider_refresh_token_enc, provider_refresh_token_updated_at,
		                        created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, identity.ID, identity.UserID, identity.Provider, identity.ProviderUserID, identity.Identifier,
		identity.ProviderRefreshTokenEnc, identity.ProviderRefreshTokenUpdatedAt,
		identity.CreatedAt, identity.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create identity: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *PostgresRepository) UpdateIdentityProviderToken(ctx context.Context, identityID, tokenEnc string, updatedAt time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE identities
		SET provider_refresh_token_enc = $2,
		    provider_refresh_token_updated_at = $3,
		    updated_at = now()
		WHERE id = $1
	`, identityID, tokenEnc, updatedAt)
	if err != nil {
		return fmt.Errorf("failed to update identity provider token: %w", err)
	}

	return nil
}

// UpdateProfile changes only the non-nil fields and returns the updated row.
func (r *PostgresRepository) UpdateProfile(ctx context.Context, userID string, fullName, displayName, profileImageKey *string) (*domain.User, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE users
		SET full_name = COALESCE($2, full_name),
		    display_name = COALESCE($3, display_name),
		    profile_image_url = COALESCE($4, profile_image_url),
		    updated_at = now()
		WHERE id = $1
		RETURNING `+userColumns+`
	`, userID, fullName, displayName, profileImageKey)

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}

	return user, nil
}

// DeleteUser removes the user row; identities and sessions go with it via
// ON DELETE CASCADE.
func (r *PostgresRepository) DeleteUser(ctx context.Context, userID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrUserNotFound
	}

	return nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var user domain.User
	err := row.Scan(&user.ID, &user.FullName, &user.Email, &user.DisplayName,
		&user.ProfileImageKey, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}

	return &user, nil
}

func scanIdentity(row pgx.Row) (*domain.Identity, error) {
	var identity domain.Identity
	var tokenUpdatedAt *time.Time

	err := row.Scan(&identity.ID, &identity.UserID, &identity.Provider, &identity.ProviderUserID,
		&identity.Identifier, &identity.ProviderRefreshTokenEnc, &tokenUpdatedAt,
		&identity.CreatedAt, &identity.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}

	if tokenUpdatedAt != nil {
		identity.ProviderRefreshTokenUpdatedAt = *tokenUpdatedAt
	}

	return &identity, nil
}
