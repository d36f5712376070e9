package domain

import "time"

const ProviderApple = "apple"

// Session revoke reasons. A revoked session never transitions again.
const (
	RevokeReasonExpired = "expired"
	RevokeReasonRotated = "rotated"
	RevokeReasonLogout  = "logout"
)

type User struct {
	ID              string
	FullName        string
	Email           string
	DisplayName     string
	ProfileImageKey string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Identity struct {
	ID                            string
	UserID                        string
	Provider                      string
	ProviderUserID                string
	Identifier                    string
	ProviderRefreshTokenEnc       string
	ProviderRefreshTokenUpdatedAt time.Time
	CreatedAt                     time.Time
	UpdatedAt                     time.Time
}

// Session is one link in a refresh-token rotation lineage. Only the keyed
// hash of the refresh token is ever stored.
type Session struct {
	ID                    string
	UserID                string
	RefreshTokenHash      string
	RefreshTokenExpiresAt time.Time
	CreatedAt             time.Time
	LastUsedAt            *time.Time
	RevokedAt             *time.Time
	RevokeReason          string
	ReplacedBySessionID   string
	UserAgent             string
	DeviceName            string
	IPAddress             string
}

// DeviceInfo is the per-request client metadata recorded on each session.
type DeviceInfo struct {
	UserAgent  string
	DeviceName string
	IPAddress  string
}
