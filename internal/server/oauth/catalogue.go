package oauth

import (
	"context"

	"github.com/safatanc/safatanc-connect-core/internal/server/models"
)

// ProviderInfo is the public view of a provider.
type ProviderInfo struct {
	Key         string
	DisplayName string
}

// Providers lists the active providers ordered by key.
func (f *Federator) Providers(ctx context.Context) ([]ProviderInfo, error) {
	list, err := f.repomanager.Providers(f.db).List(ctx, true)
	if err != nil {
		return nil, databaseError(err)
	}
	out := make([]ProviderInfo, 0, len(list))
	for _, p := range list {
		out = append(out, ProviderInfo{Key: p.Key, DisplayName: p.DisplayName})
	}
	return out, nil
}

// SyncProviders upserts provider definitions, typically from configuration
// at startup. Providers absent from defs are left untouched.
func (f *Federator) SyncProviders(ctx context.Context, defs []*models.OAuthProvider) error {
	repo := f.repomanager.Providers(f.db)
	for _, d := range defs {
		d.Key = normalizeKey(d.Key)
		if _, err := repo.Upsert(ctx, d); err != nil {
			return databaseError(err)
		}
		f.logger.Info(ctx, "oauth provider synced", "provider", d.Key, "active", d.Active)
	}
	return nil
}
