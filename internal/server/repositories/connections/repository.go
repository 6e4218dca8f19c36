package connections

import (
	"context"

	"github.com/google/uuid"
	"github.com/safatanc/safatanc-connect-core/internal/server/models"
)

// Repository stores links between accounts and provider identities.
type Repository interface {
	// Upsert inserts the connection or refreshes the existing one for the
	// same (account, provider). A provider identity already linked to a
	// different account is reported as common.ErrorAlreadyExists.
	Upsert(ctx context.Context, c *models.OAuthConnection) (*models.OAuthConnection, error)
	// FindByProviderIdentity returns the connection for a provider's native
	// user id, or common.ErrorNotFound.
	FindByProviderIdentity(ctx context.Context, providerID uuid.UUID, providerUserID string) (*models.OAuthConnection, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.OAuthConnection, error)
}
