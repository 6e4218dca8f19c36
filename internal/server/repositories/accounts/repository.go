package accounts

import (
	"context"

	"github.com/google/uuid"
	"github.com/safatanc/safatanc-connect-core/internal/server/models"
)

// Repository persists accounts. Lookups never return soft-deleted rows and
// report common.ErrorNotFound when nothing matches; unique violations are
// reported as common.ErrorAlreadyExists.
type Repository interface {
	Create(ctx context.Context, a *models.Account) (*models.Account, error)
	// CreateIfAbsent inserts a unless it collides with an existing email or
	// username, in which case it returns (nil, false, nil).
	CreateIfAbsent(ctx context.Context, a *models.Account) (*models.Account, bool, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	FindByEmail(ctx context.Context, email string) (*models.Account, error)
	FindByUsername(ctx context.Context, username string) (*models.Account, error)
	// Lock takes a row lock on the account for the rest of the transaction.
	Lock(ctx context.Context, id uuid.UUID) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	MarkEmailVerified(ctx context.Context, id uuid.UUID) error
	TouchLastLogin(ctx context.Context, id uuid.UUID) error
	UpdateRole(ctx context.Context, id uuid.UUID, role string) error
}
