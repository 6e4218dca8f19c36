package connections

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/safatanc/safatanc-connect-core/internal/common"
	"github.com/safatanc/safatanc-connect-core/internal/dbx"
	"github.com/safatanc/safatanc-connect-core/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Upsert(ctx context.Context, c *models.OAuthConnection) (*models.OAuthConnection, error) {
	// provider refresh tokens are often sent only on first consent, keep the old one
	query :=
		`INSERT INTO oauth_connections (account_id, provider_id, provider_user_id, email, display_name, avatar_url,
			access_token, refresh_token, expires_at, raw_profile)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (account_id, provider_id) DO UPDATE SET
			provider_user_id = EXCLUDED.provider_user_id,
			email = EXCLUDED.email,
			display_name = EXCLUDED.display_name,
			avatar_url = EXCLUDED.avatar_url,
			access_token = EXCLUDED.access_token,
			refresh_token = COALESCE(EXCLUDED.refresh_token, oauth_connections.refresh_token),
			expires_at = EXCLUDED.expires_at,
			raw_profile = EXCLUDED.raw_profile,
			updated_at = NOW()
		 RETURNING id, created_at, updated_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		c.AccountID, c.ProviderID, c.ProviderUserID, c.Email, c.DisplayName, c.AvatarURL,
		c.AccessToken, c.RefreshToken, c.ExpiresAt, c.RawProfile,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if constraint, ok := dbx.UniqueViolation(err); ok {
			return nil, fmt.Errorf("%w: %s", common.ErrorAlreadyExists, constraint)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return c, nil
}

const selectColumns = `SELECT id, account_id, provider_id, provider_user_id, email, display_name, avatar_url,
			access_token, refresh_token, expires_at, raw_profile, created_at, updated_at
		 FROM oauth_connections`

type scanner interface {
	Scan(dest ...any) error
}

func scanConnection(row scanner) (*models.OAuthConnection, error) {
	c := &models.OAuthConnection{}
	err := row.Scan(&c.ID, &c.AccountID, &c.ProviderID, &c.ProviderUserID, &c.Email, &c.DisplayName,
		&c.AvatarURL, &c.AccessToken, &c.RefreshToken, &c.ExpiresAt, &c.RawProfile, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *PostgresRepository) FindByProviderIdentity(ctx context.Context, providerID uuid.UUID, providerUserID string) (*models.OAuthConnection, error) {
	query := selectColumns + `
		 WHERE provider_id = $1 AND provider_user_id = $2
		 `

	c, err := scanConnection(r.db.QueryRowContext(ctx, query, providerID, providerUserID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

func (r *PostgresRepository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.OAuthConnection, error) {
	query := selectColumns + `
		 WHERE account_id = $1
		 ORDER BY created_at
		 `

	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.OAuthConnection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}
