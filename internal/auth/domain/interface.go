package domain

import (
	"context"
	"time"
)

type UserRepository interface {
	GetByID(ctx context.Context, id string) (*User, error)
	GetIdentityByProviderUser(ctx context.Context, provider, providerUserID string) (*Identity, error)
	GetIdentityByUser(ctx context.Context, userID, provider string) (*Identity, error)
	// CreateUserWithIdentity inserts both rows in one transaction.
	CreateUserWithIdentity(ctx context.Context, user *User, identity *Identity) error
	UpdateIdentityProviderToken(ctx context.Context, identityID, tokenEnc string, updatedAt time.Time) error
	UpdateProfile(ctx context.Context, userID string, fullName, displayName, profileImageKey *string) (*User, error)
	DeleteUser(ctx context.Context, userID string) error
}

type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	// Rotate atomically revokes the active session matching oldHash and
	// inserts next for the same user. Under concurrent calls with the same
	// hash exactly one caller succeeds; the rest get ErrRefreshTokenNotFound.
	Rotate(ctx context.Context, oldHash string, next *Session) (userID string, err error)
	// Revoke marks the active session matching hash as revoked. Returns false
	// without error when no active session matches.
	Revoke(ctx context.Context, hash, reason string) (bool, error)
}
