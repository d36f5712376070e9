package dto

type RefreshInput struct {
	RefreshToken string `json:"refreshToken"`
	UserAgent    string `json:"-"`
	DeviceName   string `json:"-"`
	IPAddress    string `json:"-"`
}

type TokenPair struct {
	AccessToken           string `json:"accessToken"`
	AccessTokenExpiresAt  int64  `json:"accessTokenExpiresAt"`
	RefreshToken          string `json:"refreshToken"`
	RefreshTokenExpiresAt int64  `json:"refreshTokenExpiresAt"`
}
