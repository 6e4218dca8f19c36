package models

import (
	"time"

	"github.com/google/uuid"
)

// TokenPurpose scopes a verification token to one flow.
type TokenPurpose string

const (
	PurposeEmailVerification TokenPurpose = "email_verification"
	PurposePasswordReset     TokenPurpose = "password_reset"
)

// VerificationToken is a single-use, expiring token. It is redeemable while
// UsedAt is nil and the current time is before ExpiresAt.
type VerificationToken struct {
	ID        uuid.UUID
	AccountID uuid.NullUUID
	Token     string
	Purpose   TokenPurpose
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}
