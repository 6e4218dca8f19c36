package models

import (
	"time"

	"github.com/google/uuid"
)

// OAuthProvider is the administratively configured description of an
// external identity provider.
type OAuthProvider struct {
	ID           uuid.UUID
	Key          string
	DisplayName  string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	ProfileURL   string
	RedirectURL  string
	Scope        string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OAuthConnection links an account to one provider identity. Provider tokens
// are stored sealed.
type OAuthConnection struct {
	ID             uuid.UUID
	AccountID      uuid.UUID
	ProviderID     uuid.UUID
	ProviderUserID string
	Email          *string
	DisplayName    *string
	AvatarURL      *string
	AccessToken    *string
	RefreshToken   *string
	ExpiresAt      *time.Time
	RawProfile     []byte
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
