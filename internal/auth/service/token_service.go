package service

//go:generate mockgen -destination=../../mocks/mock_token_generator.go -package=mocks github.com/flexaargo/loginlab/internal/auth/service TokenGenerator

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/flexaargo/loginlab/internal/errors"
)

const refreshTokenBytes = 32

type TokenGenerator interface {
	GenerateAccessToken(userID string) (string, time.Time, error)
	VerifyAccessToken(tokenString string) (string, error)
	GenerateRefreshToken() (string, time.Time, error)
	HashRefreshToken(token string) string
}

// TokenService mints and verifies first-party access tokens and generates and
// hashes opaque refresh tokens. The signing secret and the hashing pepper are
// independent: leaking one must not compromise the other.
type TokenService struct {
	jwtSecret          []byte
	refreshTokenPepper []byte
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
}

type accessTokenClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

func NewTokenService(jwtSecret, refreshTokenPepper string, accessMinutes, refreshMinutes int) *TokenService {
	return &TokenService{
		jwtSecret:          []byte(jwtSecret),
		refreshTokenPepper: []byte(refreshTokenPepper),
		AccessTokenExpiry:  time.Duration(accessMinutes) * time.Minute,
		RefreshTokenExpiry: time.Duration(refreshMinutes) * time.Minute,
	}
}

// GenerateAccessToken signs a short-lived HS256 token carrying the user ID.
func (ts *TokenService) GenerateAccessToken(userID string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ts.AccessTokenExpiry)

	claims := accessTokenClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.jwtSecret)
	if err != nil {
		return "", time.Time{}, err
	}

	return token, expiresAt, nil
}

// VerifyAccessToken checks signature and expiry and returns the user ID.
// Callers cannot distinguish expired from malformed from badly signed: every
// failure is ErrInvalidAccessToken.
func (ts *TokenService) VerifyAccessToken(tokenString string) (string, error) {
	claims := &accessTokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ts.jwtSecret, nil
	}, jwt.WithExpirationRequired())

	if err != nil || !token.Valid || claims.UserID == "" {
		return "", apperrors.ErrInvalidAccessToken
	}

	return claims.UserID, nil
}

// GenerateRefreshToken produces an opaque URL-safe token with 32 bytes of
// entropy. The plaintext is returned exactly once and never stored.
func (ts *TokenService) GenerateRefreshToken() (string, time.Time, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), time.Now().Add(ts.RefreshTokenExpiry), nil
}

// HashRefreshToken is the keyed one-way transform used to store and look up
// sessions. HMAC keyed by the pepper, so a leaked sessions table alone does
// not allow offline guessing.
func (ts *TokenService) HashRefreshToken(token string) string {
	mac := hmac.New(sha256.New, ts.refreshTokenPepper)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}
