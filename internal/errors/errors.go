package errors

import (
	"errors"
	"fmt"
)

// Authentication failures. The HTTP layer maps every one of these to a plain
// 401 so a caller cannot tell which check rejected it.
var (
	ErrInvalidIdentityAssertion = errors.New("invalid identity assertion")
	ErrInvalidAccessToken       = errors.New("invalid access token")
	ErrRefreshTokenNotFound     = errors.New("refresh token not found")
	ErrRefreshTokenExpired      = errors.New("refresh token expired")
	ErrIdentityMismatch         = errors.New("identity does not match authenticated user")
)

// Validation failures, mapped to 400.
var (
	ErrMissingSignupFields  = errors.New("email and full name are required for new users")
	ErrEmptyImage           = errors.New("image payload is empty")
	ErrUnsupportedImageType = errors.New("unsupported image MIME type")
)

var ErrUserNotFound = errors.New("user not found")

// ProviderError reports a non-2xx response from the identity provider. The
// upstream status and body are kept for logs only, never sent to the client.
type ProviderError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("apple %s failed with status %d: %s", e.Op, e.StatusCode, e.Body)
}

// IsAuthentication reports whether err belongs to the 401 family.
func IsAuthentication(err error) bool {
	return errors.Is(err, ErrInvalidIdentityAssertion) ||
		errors.Is(err, ErrInvalidAccessToken) ||
		errors.Is(err, ErrRefreshTokenNotFound) ||
		errors.Is(err, ErrRefreshTokenExpired) ||
		errors.Is(err, ErrIdentityMismatch)
}

// IsValidation reports whether err belongs to the 400 family.
func IsValidation(err error) bool {
	return errors.Is(err, ErrMissingSignupFields) ||
		errors.Is(err, ErrEmptyImage) ||
		errors.Is(err, ErrUnsupportedImageType)
}

// IsProvider reports whether err belongs to the 502 family.
func IsProvider(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
