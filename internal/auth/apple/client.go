package apple

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/flexaargo/loginlab/internal/errors"
)

const (
	defaultTokenURL  = "https://appleid.apple.com/auth/token"
	defaultRevokeURL = "https://appleid.apple.com/auth/revoke"
)

// ClientConfig configures the token endpoint client. TokenURL and RevokeURL
// are overridable for tests.
type ClientConfig struct {
	ClientID     string
	ClientSecret string
	Timeout      time.Duration

	TokenURL  string
	RevokeURL string
}

// Client talks to Apple's token endpoints: authorization-code exchange and
// refresh-token revocation.
type Client struct {
	config ClientConfig
	http   *http.Client
}

// TokenResponse is the token endpoint response for a code exchange.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int    `json:"expires_in"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
}

func NewClient(config ClientConfig) *Client {
	if config.TokenURL == "" {
		config.TokenURL = defaultTokenURL
	}
	if config.RevokeURL == "" {
		config.RevokeURL = defaultRevokeURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
	}
}

// Exchange trades a one-time authorization code for provider tokens.
func (c *Client) Exchange(ctx context.Context, authorizationCode string) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {authorizationCode},
		"client_id":     {c.config.ClientID},
		"client_secret": {c.config.ClientSecret},
	}

	body, err := c.postForm(ctx, "exchange", c.config.TokenURL, data)
	if err != nil {
		return nil, err
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, &apperrors.ProviderError{Op: "exchange", Body: fmt.Sprintf("malformed token response: %v", err)}
	}
	if tokenResp.RefreshToken == "" {
		return nil, &apperrors.ProviderError{Op: "exchange", Body: "empty refresh token in response"}
	}

	return &tokenResp, nil
}

// Revoke invalidates a provider refresh token. Called before account deletion
// so the user's Apple ID is unlinked from the app.
// https://developer.apple.com/documentation/sign_in_with_apple/revoking_tokens
func (c *Client) Revoke(ctx context.Context, providerRefreshToken string) error {
	data := url.Values{
		"client_id":       {c.config.ClientID},
		"client_secret":   {c.config.ClientSecret},
		"token":           {providerRefreshToken},
		"token_type_hint": {"refresh_token"},
	}

	_, err := c.postForm(ctx, "revoke", c.config.RevokeURL, data)
	return err
}

// postForm sends a form-encoded POST and returns the response body. Transport
// failures and timeouts surface as ProviderError, never silently retried.
func (c *Client) postForm(ctx context.Context, op, endpoint string, data url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &apperrors.ProviderError{Op: op, Body: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &apperrors.ProviderError{Op: op, StatusCode: resp.StatusCode, Body: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &apperrors.ProviderError{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
	}

	return body, nil
}
