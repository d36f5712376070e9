package apple

import (
	"context"
	"fmt"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/flexaargo/loginlab/internal/errors"
)

// Reference: https://developer.apple.com/videos/play/wwdc2022/10122/
const (
	// DefaultKeysURL is Apple's public key JWKS endpoint.
	DefaultKeysURL = "https://appleid.apple.com/auth/keys"
	// Issuer is the exact iss value of every Apple identity token.
	Issuer = "https://appleid.apple.com"
)

// IdentityClaims is the payload of the Apple identity token. sub is the user
// identifier assigned by Apple; email is present only when requested.
type IdentityClaims struct {
	jwt.RegisteredClaims
	Email          string `json:"email,omitempty"`
	EmailVerified  bool   `json:"email_verified,omitempty"`
	Nonce          string `json:"nonce,omitempty"`
	NonceSupported bool   `json:"nonce_supported"`
}

// Verifier validates Apple identity tokens against Apple's published keys.
// The key set is fetched once and refreshed in the background, so Verify does
// not hit the network per call.
type Verifier struct {
	clientID string
	keys     keyfunc.Keyfunc
}

// NewVerifier fetches the provider JWKS from keysURL and starts its refresh
// loop. The loop stops when ctx is cancelled.
func NewVerifier(ctx context.Context, clientID, keysURL string) (*Verifier, error) {
	if keysURL == "" {
		keysURL = DefaultKeysURL
	}

	keys, err := keyfunc.NewDefaultCtx(ctx, []string{keysURL})
	if err != nil {
		return nil, fmt.Errorf("failed to load provider JWKS: %w", err)
	}

	return &Verifier{clientID: clientID, keys: keys}, nil
}

// Verify checks the identity token's signature, issuer, audience and expiry,
// and matches the embedded nonce against the caller's nonce when the token
// declares nonce support. Every failure collapses to ErrInvalidIdentityAssertion.
// ctx bounds any key-set refresh triggered by an unknown kid.
func (v *Verifier) Verify(ctx context.Context, identityToken, nonce string) (*IdentityClaims, error) {
	claims := &IdentityClaims{}

	_, err := jwt.ParseWithClaims(identityToken, claims, v.keys.KeyfuncCtx(ctx),
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(v.clientID),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidIdentityAssertion, err)
	}

	if claims.NonceSupported && claims.Nonce != nonce {
		return nil, fmt.Errorf("%w: nonce mismatch", apperrors.ErrInvalidIdentityAssertion)
	}

	return claims, nil
}
