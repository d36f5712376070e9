package service

//go:generate mockgen -destination=../../mocks/mock_identity_provider.go -package=mocks github.com/flexaargo/loginlab/internal/auth/service IdentityVerifier,CredentialExchanger,ImageStore,TokenSealer
//go:generate mockgen -destination=../../mocks/mock_repository.go -package=mocks github.com/flexaargo/loginlab/internal/auth/domain UserRepository,SessionRepository

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/flexaargo/loginlab/internal/auth/apple"
	"github.com/flexaargo/loginlab/internal/auth/domain"
	"github.com/flexaargo/loginlab/internal/auth/dto"
	apperrors "github.com/flexaargo/loginlab/internal/errors"
	"github.com/flexaargo/loginlab/internal/metrics"
)

// IdentityVerifier validates an Apple identity token against the caller's nonce.
type IdentityVerifier interface {
	Verify(ctx context.Context, identityToken, nonce string) (*apple.IdentityClaims, error)
}

// TokenSealer encrypts the provider refresh token before persistence.
type TokenSealer interface {
	Seal(plaintext string) (string, error)
	Open(ciphertext string) (string, error)
}

// CredentialExchanger talks to the provider token endpoints.
type CredentialExchanger interface {
	Exchange(ctx context.Context, authorizationCode string) (*apple.TokenResponse, error)
	Revoke(ctx context.Context, providerRefreshToken string) error
}

// ImageStore persists profile images in object storage.
type ImageStore interface {
	Upload(ctx context.Context, key string, data []byte, mimeType string) error
	SignedURL(ctx context.Context, key string) (string, error)
	DeletePrefix(ctx context.Context, prefix string) error
}

var imageExtensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
}

// AuthService composes verification, code exchange, persistence and token
// issuance into the sign-in, refresh, sign-out, profile and account-deletion
// flows. It is the only component touching user and identity records.
type AuthService struct {
	userRepo    domain.UserRepository
	sessionRepo domain.SessionRepository
	tokens      TokenGenerator
	verifier    IdentityVerifier
	provider    CredentialExchanger
	images      ImageStore
	cipher      TokenSealer
}

func NewAuthService(
	userRepo domain.UserRepository,
	sessionRepo domain.SessionRepository,
	tokens TokenGenerator,
	verifier IdentityVerifier,
	provider CredentialExchanger,
	images ImageStore,
	cipher TokenSealer,
) *AuthService {
	return &AuthService{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		tokens:      tokens,
		verifier:    verifier,
		provider:    provider,
		images:      images,
		cipher:      cipher,
	}
}

// SignIn verifies the identity token and exchanges the authorization code
// concurrently, then signs the user up on first contact or refreshes the
// stored provider token for a returning identity, and issues a session.
func (s *AuthService) SignIn(ctx context.Context, input dto.SignInInput) (*dto.SignInResult, error) {
	var (
		claims    *apple.IdentityClaims
		tokenResp *apple.TokenResponse
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		claims, err = s.verifier.Verify(gctx, input.IdentityToken, input.Nonce)
		return err
	})
	g.Go(func() error {
		var err error
		tokenResp, err = s.provider.Exchange(gctx, input.AuthorizationCode)
		return err
	})
	if err := g.Wait(); err != nil {
		s.countSignIn(err)
		return nil, err
	}

	providerUserID := claims.Subject

	identity, err := s.userRepo.GetIdentityByProviderUser(ctx, domain.ProviderApple, providerUserID)
	if err != nil {
		metrics.SignInsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	tokenEnc, err := s.cipher.Seal(tokenResp.RefreshToken)
	if err != nil {
		metrics.SignInsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to encrypt provider token: %w", err)
	}

	var user *domain.User
	created := false

	if identity == nil {
		// First sign-in must carry enrollment data: Apple only exposes name
		// and email to the client once.
		if input.Email == "" || input.FullName == "" {
			metrics.SignInsTotal.WithLabelValues("rejected").Inc()
			return nil, apperrors.ErrMissingSignupFields
		}

		now := time.Now()
		user = &domain.User{
			ID:          uuid.NewString(),
			FullName:    input.FullName,
			Email:       input.Email,
			DisplayName: displayNameFor(input.FullName, claims.Email),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		identity = &domain.Identity{
			ID:                            uuid.NewString(),
			UserID:                        user.ID,
			Provider:                      domain.ProviderApple,
			ProviderUserID:                providerUserID,
			Identifier:                    strings.ToLower(input.Email),
			ProviderRefreshTokenEnc:       tokenEnc,
			ProviderRefreshTokenUpdatedAt: now,
			CreatedAt:                     now,
			UpdatedAt:                     now,
		}

		if err := s.userRepo.CreateUserWithIdentity(ctx, user, identity); err != nil {
			metrics.SignInsTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		created = true
	} else {
		if err := s.userRepo.UpdateIdentityProviderToken(ctx, identity.ID, tokenEnc, time.Now()); err != nil {
			metrics.SignInsTotal.WithLabelValues("error").Inc()
			return nil, err
		}

		user, err = s.userRepo.GetByID(ctx, identity.UserID)
		if err != nil {
			metrics.SignInsTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		if user == nil {
			return nil, apperrors.ErrUserNotFound
		}
	}

	pair, err := s.issueSession(ctx, user.ID, deviceInfo(input.UserAgent, input.DeviceName, input.IPAddress))
	if err != nil {
		metrics.SignInsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	if created {
		metrics.SignInsTotal.WithLabelValues("created").Inc()
	} else {
		metrics.SignInsTotal.WithLabelValues("existing").Inc()
	}

	return &dto.SignInResult{
		User:                  s.userOutput(ctx, user),
		AccessToken:           pair.AccessToken,
		AccessTokenExpiresAt:  pair.AccessTokenExpiresAt,
		RefreshToken:          pair.RefreshToken,
		RefreshTokenExpiresAt: pair.RefreshTokenExpiresAt,
		Created:               created,
	}, nil
}

// Refresh rotates the presented refresh token and mints a fresh access token.
// Reuse of an already-rotated token fails here via the session store.
func (s *AuthService) Refresh(ctx context.Context, input dto.RefreshInput) (*dto.TokenPair, error) {
	oldHash := s.tokens.HashRefreshToken(input.RefreshToken)

	newRefreshToken, refreshExpiresAt, err := s.tokens.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}

	device := deviceInfo(input.UserAgent, input.DeviceName, input.IPAddress)
	next := &domain.Session{
		ID:                    uuid.NewString(),
		RefreshTokenHash:      s.tokens.HashRefreshToken(newRefreshToken),
		RefreshTokenExpiresAt: refreshExpiresAt,
		CreatedAt:             time.Now(),
		UserAgent:             device.UserAgent,
		DeviceName:            device.DeviceName,
		IPAddress:             device.IPAddress,
	}

	userID, err := s.sessionRepo.Rotate(ctx, oldHash, next)
	if err != nil {
		if apperrors.IsAuthentication(err) {
			metrics.RotationsTotal.WithLabelValues("rejected").Inc()
		} else {
			metrics.RotationsTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	accessToken, accessExpiresAt, err := s.tokens.GenerateAccessToken(userID)
	if err != nil {
		return nil, err
	}

	metrics.RotationsTotal.WithLabelValues("rotated").Inc()

	return &dto.TokenPair{
		AccessToken:           accessToken,
		AccessTokenExpiresAt:  accessExpiresAt.Unix(),
		RefreshToken:          newRefreshToken,
		RefreshTokenExpiresAt: refreshExpiresAt.Unix(),
	}, nil
}

// SignOut revokes the session for the presented refresh token. Idempotent:
// an unknown or already-revoked token reports found=false, not an error.
func (s *AuthService) SignOut(ctx context.Context, refreshToken string) (bool, error) {
	hash := s.tokens.HashRefreshToken(refreshToken)
	return s.sessionRepo.Revoke(ctx, hash, domain.RevokeReasonLogout)
}

// CurrentUser loads the authenticated user's profile.
func (s *AuthService) CurrentUser(ctx context.Context, userID string) (*dto.UserOutput, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperrors.ErrUserNotFound
	}

	out := s.userOutput(ctx, user)
	return &out, nil
}

// UpdateProfile updates only the provided fields. A new image is uploaded to
// object storage before the row is touched.
func (s *AuthService) UpdateProfile(ctx context.Context, userID string, input dto.UpdateProfileInput) (*dto.UserOutput, error) {
	var imageKey *string

	if input.ImageBase64 != nil {
		if input.ImageMimeType == nil {
			return nil, apperrors.ErrUnsupportedImageType
		}
		ext, ok := imageExtensions[*input.ImageMimeType]
		if !ok {
			return nil, apperrors.ErrUnsupportedImageType
		}

		data, err := base64.StdEncoding.DecodeString(*input.ImageBase64)
		if err != nil || len(data) == 0 {
			return nil, apperrors.ErrEmptyImage
		}

		key := fmt.Sprintf("%s%s.%s", profileImagePrefix(userID), uuid.NewString(), ext)
		if err := s.images.Upload(ctx, key, data, *input.ImageMimeType); err != nil {
			return nil, fmt.Errorf("failed to upload profile image: %w", err)
		}
		imageKey = &key
	}

	user, err := s.userRepo.UpdateProfile(ctx, userID, input.FullName, input.DisplayName, imageKey)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperrors.ErrUserNotFound
	}

	out := s.userOutput(ctx, user)
	return &out, nil
}

// DeleteAccount requires a freshly completed provider re-authentication on
// top of the access token, revokes the provider grant, and only then deletes
// the user. A provider failure aborts: the account stays intact.
func (s *AuthService) DeleteAccount(ctx context.Context, userID string, input dto.DeleteAccountInput) error {
	claims, err := s.verifier.Verify(ctx, input.IdentityToken, input.Nonce)
	if err != nil {
		return err
	}

	tokenResp, err := s.provider.Exchange(ctx, input.AuthorizationCode)
	if err != nil {
		metrics.ProviderErrorsTotal.WithLabelValues("exchange").Inc()
		return err
	}

	identity, err := s.userRepo.GetIdentityByUser(ctx, userID, domain.ProviderApple)
	if err != nil {
		return err
	}
	if identity == nil || identity.ProviderUserID != claims.Subject {
		return apperrors.ErrIdentityMismatch
	}

	if err := s.provider.Revoke(ctx, tokenResp.RefreshToken); err != nil {
		metrics.ProviderErrorsTotal.WithLabelValues("revoke").Inc()
		return err
	}

	if err := s.userRepo.DeleteUser(ctx, userID); err != nil {
		return err
	}

	// Orphaned objects are harmless; deletion of the rows already succeeded.
	if err := s.images.DeletePrefix(ctx, profileImagePrefix(userID)); err != nil {
		slog.Warn("failed to delete profile images", "user_id", userID, "error", err)
	}

	return nil
}

func (s *AuthService) issueSession(ctx context.Context, userID string, device domain.DeviceInfo) (*dto.TokenPair, error) {
	refreshToken, refreshExpiresAt, err := s.tokens.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}

	session := &domain.Session{
		ID:                    uuid.NewString(),
		UserID:                userID,
		RefreshTokenHash:      s.tokens.HashRefreshToken(refreshToken),
		RefreshTokenExpiresAt: refreshExpiresAt,
		CreatedAt:             time.Now(),
		UserAgent:             device.UserAgent,
		DeviceName:            device.DeviceName,
		IPAddress:             device.IPAddress,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, err
	}

	accessToken, accessExpiresAt, err := s.tokens.GenerateAccessToken(userID)
	if err != nil {
		return nil, err
	}

	return &dto.TokenPair{
		AccessToken:           accessToken,
		AccessTokenExpiresAt:  accessExpiresAt.Unix(),
		RefreshToken:          refreshToken,
		RefreshTokenExpiresAt: refreshExpiresAt.Unix(),
	}, nil
}

func (s *AuthService) userOutput(ctx context.Context, user *domain.User) dto.UserOutput {
	out := dto.UserOutput{
		ID:          user.ID,
		FullName:    user.FullName,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		CreatedAt:   user.CreatedAt,
		UpdatedAt:   user.UpdatedAt,
	}

	if user.ProfileImageKey != "" {
		url, err := s.images.SignedURL(ctx, user.ProfileImageKey)
		if err != nil {
			slog.Warn("failed to sign profile image URL", "user_id", user.ID, "error", err)
		} else {
			out.ProfileImageURL = &url
		}
	}

	return out
}

func (s *AuthService) countSignIn(err error) {
	if apperrors.IsProvider(err) {
		metrics.ProviderErrorsTotal.WithLabelValues("exchange").Inc()
	}
	if apperrors.IsAuthentication(err) || apperrors.IsProvider(err) {
		metrics.SignInsTotal.WithLabelValues("rejected").Inc()
	} else {
		metrics.SignInsTotal.WithLabelValues("error").Inc()
	}
}

func displayNameFor(fullName, claimedEmail string) string {
	if fullName != "" {
		return fullName
	}
	if at := strings.Index(claimedEmail, "@"); at > 0 {
		return claimedEmail[:at]
	}
	return "Anonymous"
}

func deviceInfo(userAgent, deviceName, ipAddress string) domain.DeviceInfo {
	return domain.DeviceInfo{UserAgent: userAgent, DeviceName: deviceName, IPAddress: ipAddress}
}

func profileImagePrefix(userID string) string {
	return "profile-images/" + userID + "/"
}
