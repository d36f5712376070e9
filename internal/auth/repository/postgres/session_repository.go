package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/flexaargo/loginlab/internal/auth/domain"
	apperrors "github.com/flexaargo/loginlab/internal/errors"
)

type SessionRepository struct {
	db DB
}

func NewSessionRepository(db DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, session *domain.Session) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO sessions (id, user_id, refresh_token_hash, refresh_token_expires_at,
		                      created_at, user_agent, device_name, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, session.ID, session.UserID, session.RefreshTokenHash, session.RefreshTokenExpiresAt,
		session.CreatedAt, session.UserAgent, session.DeviceName, session.IPAddress)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// Rotate revokes the active session matching oldHash and inserts next for the
// same user, all in one transaction. The FOR UPDATE lock serializes concurrent
// rotations of the same token across processes: a loser blocks until the
// winner commits, then no longer sees an active row and fails.
func (r *SessionRepository) Rotate(ctx context.Context, oldHash string, next *domain.Session) (string, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var (
		oldID     string
		userID    string
		expiresAt time.Time
	)
	err = tx.QueryRow(ctx, `
		SELECT id, user_id, refresh_token_expires_at
		FROM sessions
		WHERE refresh_token_hash = $1 AND revoked_at IS NULL
		FOR UPDATE
	`, oldHash).Scan(&oldID, &userID, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperrors.ErrRefreshTokenNotFound
		}
		return "", fmt.Errorf("failed to look up session: %w", err)
	}

	if time.Now().After(expiresAt) {
		// Expiry on use: the session transitions to revoked even though the
		// rotation itself fails.
		_, err = tx.Exec(ctx, `
			UPDATE sessions
			SET revoked_at = now(), revoke_reason = $2, last_used_at = now()
			WHERE id = $1
		`, oldID, domain.RevokeReasonExpired)
		if err != nil {
			return "", fmt.Errorf("failed to expire session: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return "", fmt.Errorf("failed to commit: %w", err)
		}

		return "", apperrors.ErrRefreshTokenExpired
	}

	next.UserID = userID

	_, err = tx.Exec(ctx, `
		INSERT INTO sessions (id, user_id, refresh_token_hash, refresh_token_expires_at,
		                      created_at, user_agent, device_name, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, next.ID, next.UserID, next.RefreshTokenHash, next.RefreshTokenExpiresAt,
		next.CreatedAt, next.UserAgent, next.DeviceName, next.IPAddress)
	if err != nil {
		return "", fmt.Errorf("failed to insert rotated session: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE sessions
		SET revoked_at = now(), revoke_reason = $2, replaced_by_session_id = $3, last_used_at = now()
		WHERE id = $1
	`, oldID, domain.RevokeReasonRotated, next.ID)
	if err != nil {
		return "", fmt.Errorf("failed to revoke rotated session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit rotation: %w", err)
	}

	return userID, nil
}

// Revoke marks the active session matching hash as revoked. Reports found
// rather than failing when nothing matched: revocation is idempotent.
func (r *SessionRepository) Revoke(ctx context.Context, hash, reason string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE sessions
		SET revoked_at = now(), revoke_reason = $2, last_used_at = now()
		WHERE refresh_token_hash = $1 AND revoked_at IS NULL
	`, hash, reason)
	if err != nil {
		return false, fmt.Errorf("failed to revoke session: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}
