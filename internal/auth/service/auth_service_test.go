package service_test

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexaargo/loginlab/internal/auth/apple"
	"github.com/flexaargo/loginlab/internal/auth/domain"
	"github.com/flexaargo/loginlab/internal/auth/dto"
	"github.com/flexaargo/loginlab/internal/auth/service"
	apperrors "github.com/flexaargo/loginlab/internal/errors"
	"github.com/flexaargo/loginlab/internal/metrics"
	"github.com/flexaargo/loginlab/internal/mocks"
)

type fixture struct {
	userRepo    *mocks.MockUserRepository
	sessionRepo *mocks.MockSessionRepository
	tokens      *mocks.MockTokenGenerator
	verifier    *mocks.MockIdentityVerifier
	provider    *mocks.MockCredentialExchanger
	images      *mocks.MockImageStore
	svc         *service.AuthService
}

func newFixture(t *testing.T, ctrl *gomock.Controller) *fixture {
	t.Helper()

	f := &fixture{
		userRepo:    mocks.NewMockUserRepository(ctrl),
		sessionRepo: mocks.NewMockSessionRepository(ctrl),
		tokens:      mocks.NewMockTokenGenerator(ctrl),
		verifier:    mocks.NewMockIdentityVerifier(ctrl),
		provider:    mocks.NewMockCredentialExchanger(ctrl),
		images:      mocks.NewMockImageStore(ctrl),
	}

	cipher, err := service.NewTokenCipher(hex.EncodeToString(make([]byte, 32)))
	require.NoError(t, err)

	f.svc = service.NewAuthService(f.userRepo, f.sessionRepo, f.tokens, f.verifier, f.provider, f.images, cipher)

	return f
}

func appleClaims(sub, email, nonce string) *apple.IdentityClaims {
	return &apple.IdentityClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: sub},
		Email:            email,
		Nonce:            nonce,
		NonceSupported:   true,
	}
}

func expectSessionIssue(t *testing.T, f *fixture, userID string) {
	t.Helper()

	f.tokens.EXPECT().GenerateRefreshToken().Return("new-refresh", time.Now().Add(30*24*time.Hour), nil)
	f.tokens.EXPECT().HashRefreshToken("new-refresh").Return("new-refresh-hash")
	f.sessionRepo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, s *domain.Session) error {
			assert.Equal(t, "new-refresh-hash", s.RefreshTokenHash)
			if userID != "" {
				assert.Equal(t, userID, s.UserID)
			}
			return nil
		})
	f.tokens.EXPECT().GenerateAccessToken(gomock.Any()).Return("access-token", time.Now().Add(15*time.Minute), nil)
}

func TestAuthService_SignIn_NewUser(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newFixture(t, ctrl)
	ctx := context.Background()

	f.verifier.EXPECT().Verify(gomock.Any(), "id-token", "nonce-1").Return(appleClaims("apple-sub-1", "a@b.com", "nonce-1"), nil)
	f.provider.EXPECT().Exchange(gomock.Any(), "auth-code").Return(&apple.TokenResponse{RefreshToken: "apple-rt"}, nil)
	f.userRepo.EXPECT().GetIdentityByProviderUser(gomock.Any(), domain.ProviderApple, "apple-sub-1").Return(nil, nil)

	f.userRepo.EXPECT().CreateUserWithIdentity(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, user *domain.User, identity *domain.Identity) error {
			assert.Equal(t, "A B", user.FullName)
			assert.Equal(t, "a@b.com", user.Email)
			assert.Equal(t, "A B", user.DisplayName)
			assert.NotEmpty(t, user.ID)

			assert.Equal(t, user.ID, identity.UserID)
			assert.Equal(t, domain.ProviderApple, identity.Provider)
			assert.Equal(t, "apple-sub-1", identity.ProviderUserID)
			assert.Equal(t, "a@b.com", identity.Identifier)
			// The provider token is stored encrypted, never in the clear.
			assert.NotEmpty(t, identity.ProviderRefreshTokenEnc)
			assert.NotContains(t, identity.ProviderRefreshTokenEnc, "apple-rt")
			return nil
		})

	expectSessionIssue(t, f, "")

	result, err := f.svc.SignIn(ctx, dto.SignInInput{
		IdentityToken:     "id-token",
		AuthorizationCode: "auth-code",
		Nonce:             "nonce-1",
		Email:             "a@b.com",
		FullName:          "A B",
	})

	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Equal(t, "a@b.com", result.User.Email)
	assert.Equal(t, "access-token", result.AccessToken)
	assert.Equal(t, "new-refresh", result.RefreshToken)
	assert.NotZero(t, result.RefreshTokenExpiresAt)
}

func TestAuthService_SignIn_ExistingIdentity(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newFixture(t, ctrl)
	ctx := context.Background()

	existingIdentity := &domain.Identity{
		ID:             "ident-1",
		UserID:         "user-1",
		Provider:       domain.ProviderApple,
		ProviderUserID: "apple-sub-1",
	}
	existingUser := &domain.User{ID: "user-1", Email: "a@b.com", FullName: "A B", DisplayName: "A B"}

	f.verifier.EXPECT().Verify(gomock.Any(), "id-token", "nonce-1").Return(appleClaims("apple-sub-1", "a@b.com", "nonce-1"), nil)
	f.provider.EXPECT().Exchange(gomock.Any(), "auth-code").Return(&apple.TokenResponse{RefreshToken: "apple-rt-2"}, nil)
	f.userRepo.EXPECT().GetIdentityByProviderUser(gomock.Any(), domain.ProviderApple, "apple-sub-1").Return(existingIdentity, nil)
	f.userRepo.EXPECT().UpdateIdentityProviderToken(gomock.Any(), "ident-1", gomock.Any(), gomock.Any()).Return(nil)
	f.userRepo.EXPECT().GetByID(gomock.Any(), "user-1").Return(existingUser, nil)

	expectSessionIssue(t, f, "user-1")

	result, err := f.svc.SignIn(ctx, dto.SignInInput{
		IdentityToken:     "id-token",
		AuthorizationCode: "auth-code",
		Nonce:             "nonce-1",
	})

	require.NoError(t, err)
	assert.False(t, result.Created)
	assert.Equal(t, "user-1", result.User.ID)
}

func TestAuthService_SignIn_MissingEnrollmentData(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newFixture(t, ctrl)
	ctx := context.Background()

	f.verifier.EXPECT().Verify(gomock.Any(), "id-token", "nonce-1").Return(appleClaims("apple-sub-9", "", "nonce-1"), nil)
	f.provider.EXPECT().Exchange(gomock.Any(), "auth-code").Return(&apple.TokenResponse{RefreshToken: "apple-rt"}, nil)
	f.userRepo.EXPECT().GetIdentityByProviderUser(gomock.Any(), domain.ProviderApple, "apple-sub-9").Return(nil, nil)

	// No fullName for a brand-new identity: nothing may be created.
	_, err := f.svc.SignIn(ctx, dto.SignInInput{
		IdentityToken:     "id-token",
		AuthorizationCode: "auth-code",
		Nonce:             "nonce-1",
		Email:             "a@b.com",
	})

	assert.ErrorIs(t, err, apperrors.ErrMissingSignupFields)
}

func TestAuthService_SignIn_VerifierRejects(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newFixture(t, ctrl)
	ctx := context.Background()

	f.verifier.EXPECT().Verify(gomock.Any(), "bad-token", "nonce-1").Return(nil, apperrors.ErrInvalidIdentityAssertion)
	f.provider.EXPECT().Exchange(gomock.Any(), "auth-code").Return(&apple.TokenResponse{RefreshToken: "apple-rt"}, nil).AnyTimes()

	_, err := f.svc.SignIn(ctx, dto.SignInInput{
		IdentityToken:     "bad-token",
		AuthorizationCode: "auth-code",
		Nonce:             "nonce-1",
	})

	assert.ErrorIs(t, err, apperrors.ErrInvalidIdentityAssertion)
}

type signInCtxKey struct{}

func TestAuthService_SignIn_VerifierGetsRequestContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newFixture(t, ctrl)
	ctx := context.WithValue(context.Background(), signInCtxKey{}, "request-scoped")

	// The verify branch must run under the request context, not a detached one.
	f.verifier.EXPECT().Verify(gomock.Any(), "id-token", "nonce-1").DoAndReturn(
		func(ctx context.Context, _, _ string) (*apple.IdentityClaims, error) {
			assert.Equal(t, "request-scoped", ctx.Value(signInCtxKey{}))
			return nil, apperrors.ErrInvalidIdentityAssertion
		})
	f.provider.EXPECT().Exchange(gomock.Any(), "auth-code").Return(&apple.TokenResponse{RefreshToken: "apple-rt"}, nil).AnyTimes()

	_, err := f.svc.SignIn(ctx, dto.SignInInput{
		IdentityToken:     "id-token",
		AuthorizationCode: "auth-code",
		Nonce:             "nonce-1",
	})

	assert.ErrorIs(t, err, apperrors.ErrInvalidIdentityAssertion)
}

func TestAuthService_SignIn_SealFailureCounted(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newFixture(t, ctrl)
	ctx := context.Background()

	sealer := mocks.NewMockTokenSealer(ctrl)
	svc := service.NewAuthService(f.userRepo, f.sessionRepo, f.tokens, f.verifier, f.provider, f.images, sealer)

	f.verifier.EXPECT().Verify(gomock.Any(), "id-token", "nonce-1").Return(appleClaims("apple-sub-1", "a@b.com", "nonce-1"), nil)
	f.provider.EXPECT().Exchange(gomock.Any(), "auth-code").Return(&apple.TokenResponse{RefreshToken: "apple-rt"}, nil)
	f.userRepo.EXPECT().GetIdentityByProviderUser(gomock.Any(), domain.ProviderApple, "apple-sub-1").Return(nil, nil)
	sealer.EXPECT().Seal("apple-rt").Return("", assert.AnError)

	before := testutil.ToFloat64(metrics.SignInsTotal.WithLabelValues("error"))

	_, err := svc.SignIn(ctx, dto.SignInInput{
		IdentityToken:     "id-token",
		AuthorizationCode: "auth-code",
		Nonce:             "nonce-1",
		Email:             "a@b.com",
		FullName:          "A B",
	})

	require.Error(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.SignInsTotal.WithLabelValues("error")))
}

func TestAuthService_Refresh(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newFixture(t, ctrl)
	ctx := context.Background()

	refreshExp := time.Now().Add(30 * 24 * time.Hour)
	accessExp := time.Now().Add(15 * time.Minute)

	f.tokens.EXPECT().HashRefreshToken("old-token").Return("old-hash")
	f.tokens.EXPECT().GenerateRefreshToken().Return("new-token", refreshExp, nil)
	f.tokens.EXPECT().HashRefreshToken("new-token").Return("new-hash")
	f.sessionRepo.EXPECT().Rotate(gomock.Any(), "old-hash", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, next *domain.Session) (string, error) {
			assert.Equal(t, "new-hash", next.RefreshTokenHash)
			assert.NotEmpty(t, next.ID)
			return "user-1", nil
		})
	f.tokens.EXPECT().GenerateAccessToken("user-1").Return("access-token", accessExp, nil)

	pair, err := f.svc.Refresh(ctx, dto.RefreshInput{RefreshToken: "old-token"})

	require.NoError(t, err)
	assert.Equal(t, "access-token", pair.AccessToken)
	assert.Equal(t, "new-token", pair.RefreshToken)
	assert.Equal(t, refreshExp.Unix(), pair.RefreshTokenExpiresAt)
}

func TestAuthService_Refresh_ReusedToken(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newFixture(t, ctrl)
	ctx := context.Background()

	f.tokens.EXPECT().HashRefreshToken("rotated-token").Return("rotated-hash")
	f.tokens.EXPECT().GenerateRefreshToken().Return("new-token", time.Now().Add(time.Hour), nil)
	f.tokens.EXPECT().HashRefreshToken("new-token").Return("new-hash")
	f.sessionRepo.EXPECT().Rotate(gomock.Any(), "rotated-hash", gomock.Any()).Return("", apperrors.ErrRefreshTokenNotFound)

	_, err := f.svc.Refresh(ctx, dto.RefreshInput{RefreshToken: "rotated-token"})

	assert.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
	assert.True(t, apperrors.IsAuthentication(err))
}

func TestAuthService_SignOut(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newFixture(t, ctrl)
	ctx := context.Background()

	f.tokens.EXPECT().HashRefreshToken("token-x").Return("hash-x").Times(2)
	f.sessionRepo.EXPECT().Revoke(gomock.Any(), "hash-x", domain.RevokeReasonLogout).Return(true, nil)
	f.sessionRepo.EXPECT().Revoke(gomock.Any(), "hash-x", domain.RevokeReasonLogout).Return(false, nil)

	found, err := f.svc.SignOut(ctx, "token-x")
	require.NoError(t, err)
	assert.True(t, found)

	// Second sign-out with the same token is a no-op, not an error.
	found, err = f.svc.SignOut(ctx, "token-x")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAuthService_DeleteAccount(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newFixture(t, ctrl)
	ctx := context.Background()

	identity := &domain.Identity{ID: "ident-1", UserID: "user-1", Provider: domain.ProviderApple, ProviderUserID: "apple-sub-1"}

	f.verifier.EXPECT().Verify(gomock.Any(), "fresh-id-token", "nonce-2").Return(appleClaims("apple-sub-1", "", "nonce-2"), nil)
	f.provider.EXPECT().Exchange(gomock.Any(), "fresh-code").Return(&apple.TokenResponse{RefreshToken: "fresh-apple-rt"}, nil)
	f.userRepo.EXPECT().GetIdentityByUser(gomock.Any(), "user-1", domain.ProviderApple).Return(identity, nil)
	f.provider.EXPECT().Revoke(gomock.Any(), "fresh-apple-rt").Return(nil)
	f.userRepo.EXPECT().DeleteUser(gomock.Any(), "user-1").Return(nil)
	f.images.EXPECT().DeletePrefix(gomock.Any(), "profile-images/user-1/").Return(nil)

	err := f.svc.DeleteAccount(ctx, "user-1", dto.DeleteAccountInput{
		IdentityToken:     "fresh-id-token",
		AuthorizationCode: "fresh-code",
		Nonce:             "nonce-2",
	})

	require.NoError(t, err)
}

func TestAuthService_DeleteAccount_ProviderRevokeFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newFixture(t, ctrl)
	ctx := context.Background()

	identity := &domain.Identity{ID: "ident-1", UserID: "user-1", Provider: domain.ProviderApple, ProviderUserID: "apple-sub-1"}

	f.verifier.EXPECT().Verify(gomock.Any(), "fresh-id-token", "nonce-2").Return(appleClaims("apple-sub-1", "", "nonce-2"), nil)
	f.provider.EXPECT().Exchange(gomock.Any(), "fresh-code").Return(&apple.TokenResponse{RefreshToken: "fresh-apple-rt"}, nil)
	f.userRepo.EXPECT().GetIdentityByUser(gomock.Any(), "user-1", domain.ProviderApple).Return(identity, nil)
	f.provider.EXPECT().Revoke(gomock.Any(), "fresh-apple-rt").Return(&apperrors.ProviderError{Op: "revoke", StatusCode: 503})

	// DeleteUser must not be called: a failed provider revocation aborts the
	// whole deletion.
	err := f.svc.DeleteAccount(ctx, "user-1", dto.DeleteAccountInput{
		IdentityToken:     "fresh-id-token",
		AuthorizationCode: "fresh-code",
		Nonce:             "nonce-2",
	})

	assert.True(t, apperrors.IsProvider(err))
}

func TestAuthService_DeleteAccount_IdentityMismatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newFixture(t, ctrl)
	ctx := context.Background()

	identity := &domain.Identity{ID: "ident-1", UserID: "user-1", Provider: domain.ProviderApple, ProviderUserID: "apple-sub-1"}

	// The fresh assertion belongs to a different Apple account.
	f.verifier.EXPECT().Verify(gomock.Any(), "fresh-id-token", "nonce-2").Return(appleClaims("someone-else", "", "nonce-2"), nil)
	f.provider.EXPECT().Exchange(gomock.Any(), "fresh-code").Return(&apple.TokenResponse{RefreshToken: "fresh-apple-rt"}, nil)
	f.userRepo.EXPECT().GetIdentityByUser(gomock.Any(), "user-1", domain.ProviderApple).Return(identity, nil)

	err := f.svc.DeleteAccount(ctx, "user-1", dto.DeleteAccountInput{
		IdentityToken:     "fresh-id-token",
		AuthorizationCode: "fresh-code",
		Nonce:             "nonce-2",
	})

	assert.ErrorIs(t, err, apperrors.ErrIdentityMismatch)
}

func TestAuthService_UpdateProfile_WithImage(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newFixture(t, ctrl)
	ctx := context.Background()

	imageBytes := []byte("fake-png-bytes")
	imageBase64 := base64.StdEncoding.EncodeToString(imageBytes)
	mimeType := "image/png"
	displayName := "New Name"

	var uploadedKey string
	f.images.EXPECT().Upload(gomock.Any(), gomock.Any(), imageBytes, mimeType).DoAndReturn(
		func(_ context.Context, key string, _ []byte, _ string) error {
			assert.True(t, strings.HasPrefix(key, "profile-images/user-1/"))
			assert.True(t, strings.HasSuffix(key, ".png"))
			uploadedKey = key
			return nil
		})
	f.userRepo.EXPECT().UpdateProfile(gomock.Any(), "user-1", gomock.Nil(), &displayName, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, _, _, imageKey *string) (*domain.User, error) {
			require.NotNil(t, imageKey)
			assert.Equal(t, uploadedKey, *imageKey)
			return &domain.User{ID: "user-1", DisplayName: displayName, ProfileImageKey: *imageKey}, nil
		})
	f.images.EXPECT().SignedURL(gomock.Any(), gomock.Any()).Return("https://bucket.example/signed", nil)

	user, err := f.svc.UpdateProfile(ctx, "user-1", dto.UpdateProfileInput{
		DisplayName:   &displayName,
		ImageBase64:   &imageBase64,
		ImageMimeType: &mimeType,
	})

	require.NoError(t, err)
	assert.Equal(t, displayName, user.DisplayName)
	require.NotNil(t, user.ProfileImageURL)
	assert.Equal(t, "https://bucket.example/signed", *user.ProfileImageURL)
}

func TestAuthService_UpdateProfile_UnsupportedImage(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newFixture(t, ctrl)
	ctx := context.Background()

	payload := base64.StdEncoding.EncodeToString([]byte("gif"))
	mimeType := "image/gif"

	_, err := f.svc.UpdateProfile(ctx, "user-1", dto.UpdateProfileInput{
		ImageBase64:   &payload,
		ImageMimeType: &mimeType,
	})

	assert.ErrorIs(t, err, apperrors.ErrUnsupportedImageType)
}

func TestAuthService_CurrentUser_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newFixture(t, ctrl)
	ctx := context.Background()

	f.userRepo.EXPECT().GetByID(gomock.Any(), "ghost").Return(nil, nil)

	_, err := f.svc.CurrentUser(ctx, "ghost")
	assert.ErrorIs(t, err, apperrors.ErrUserNotFound)
}
