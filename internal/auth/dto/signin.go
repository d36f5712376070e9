package dto

type SignInInput struct {
	IdentityToken     string `json:"identityToken"`
	AuthorizationCode string `json:"authorizationCode"`
	Nonce             string `json:"nonce"`
	Email             string `json:"email"`
	FullName          string `json:"fullName"`
	UserAgent         string `json:"-"`
	DeviceName        string `json:"-"`
	IPAddress         string `json:"-"`
}

type SignInResult struct {
	User                  UserOutput `json:"user"`
	AccessToken           string     `json:"accessToken"`
	AccessTokenExpiresAt  int64      `json:"accessTokenExpiresAt"`
	RefreshToken          string     `json:"refreshToken"`
	RefreshTokenExpiresAt int64      `json:"refreshTokenExpiresAt"`
	// Created distinguishes first sign-in (201) from a returning user (200).
	Created bool `json:"-"`
}
