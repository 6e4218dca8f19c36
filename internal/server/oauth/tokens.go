package oauth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/safatanc/safatanc-connect-core/internal/common"
	"golang.org/x/oauth2"
)

// ProviderToken returns the decrypted provider credentials stored for the
// account's connection to providerKey, for calling the provider's API on the
// user's behalf. The provider need not be active.
func (f *Federator) ProviderToken(ctx context.Context, accountID uuid.UUID, providerKey string) (*oauth2.Token, error) {
	key := normalizeKey(providerKey)
	p, err := f.repomanager.Providers(f.db).FindByKey(ctx, key)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.NewError(common.ErrorNotFound, "unknown oauth provider: "+key)
		}
		return nil, databaseError(err)
	}

	conns, err := f.repomanager.Connections(f.db).ListByAccount(ctx, accountID)
	if err != nil {
		return nil, databaseError(err)
	}

	for _, c := range conns {
		if c.ProviderID != p.ID {
			continue
		}
		token := &oauth2.Token{TokenType: "Bearer"}
		if c.AccessToken != nil {
			if token.AccessToken, err = f.sealer.Open(*c.AccessToken); err != nil {
				return nil, common.Wrap(common.ErrorInternal, "internal error", err)
			}
		}
		if c.RefreshToken != nil {
			if token.RefreshToken, err = f.sealer.Open(*c.RefreshToken); err != nil {
				return nil, common.Wrap(common.ErrorInternal, "internal error", err)
			}
		}
		if c.ExpiresAt != nil {
			token.Expiry = *c.ExpiresAt
		}
		return token, nil
	}

	return nil, common.NewError(common.ErrorNotFound, "account is not connected to "+key)
}
