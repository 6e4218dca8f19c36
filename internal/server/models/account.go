package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Account is a local identity. Accounts are soft-deleted only.
type Account struct {
	ID            uuid.UUID
	Email         string
	Username      string
	PasswordHash  string
	DisplayName   *string
	AvatarURL     *string
	Role          string
	EmailVerified bool
	Active        bool
	LastLoginAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}
