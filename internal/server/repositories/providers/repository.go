package providers

import (
	"context"

	"github.com/safatanc/safatanc-connect-core/internal/server/models"
)

// Repository stores OAuth provider configuration.
type Repository interface {
	FindByKey(ctx context.Context, key string) (*models.OAuthProvider, error)
	List(ctx context.Context, activeOnly bool) ([]*models.OAuthProvider, error)
	// Upsert inserts p or replaces the provider with the same key.
	Upsert(ctx context.Context, p *models.OAuthProvider) (*models.OAuthProvider, error)
}
