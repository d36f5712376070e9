package dto

import "time"

type UserOutput struct {
	ID              string    `json:"id"`
	FullName        string    `json:"fullName"`
	Email           string    `json:"email"`
	DisplayName     string    `json:"displayName"`
	ProfileImageURL *string   `json:"profileImageUrl"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type SignOutInput struct {
	RefreshToken string `json:"refreshToken"`
}

type SignOutResult struct {
	Found bool `json:"found"`
}

type UpdateProfileInput struct {
	FullName      *string `json:"fullName"`
	DisplayName   *string `json:"displayName"`
	ImageBase64   *string `json:"imageBase64"`
	ImageMimeType *string `json:"imageMimeType"`
}

type DeleteAccountInput struct {
	IdentityToken     string `json:"identityToken"`
	AuthorizationCode string `json:"authorizationCode"`
	Nonce             string `json:"nonce"`
}
