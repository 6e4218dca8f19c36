package providers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safatanc/safatanc-connect-core/internal/common"
	"github.com/safatanc/safatanc-connect-core/internal/dbx"
	"github.com/safatanc/safatanc-connect-core/internal/server/models"
)

const selectProvider = `SELECT id, provider_key, display_name, client_id, client_secret, auth_url, token_url,
		profile_url, redirect_url, scope, active, created_at, updated_at
		 FROM oauth_providers`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProvider(s scanner) (*models.OAuthProvider, error) {
	p := &models.OAuthProvider{}
	err := s.Scan(&p.ID, &p.Key, &p.DisplayName, &p.ClientID, &p.ClientSecret, &p.AuthURL, &p.TokenURL,
		&p.ProfileURL, &p.RedirectURL, &p.Scope, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *PostgresRepository) FindByKey(ctx context.Context, key string) (*models.OAuthProvider, error) {
	p, err := scanProvider(r.db.QueryRowContext(ctx, selectProvider+` WHERE provider_key = $1`, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) List(ctx context.Context, activeOnly bool) ([]*models.OAuthProvider, error) {
	query := selectProvider
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY provider_key`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.OAuthProvider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, p *models.OAuthProvider) (*models.OAuthProvider, error) {
	query :=
		`INSERT INTO oauth_providers (provider_key, display_name, client_id, client_secret, auth_url, token_url,
			profile_url, redirect_url, scope, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (provider_key) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			client_id = EXCLUDED.client_id,
			client_secret = EXCLUDED.client_secret,
			auth_url = EXCLUDED.auth_url,
			token_url = EXCLUDED.token_url,
			profile_url = EXCLUDED.profile_url,
			redirect_url = EXCLUDED.redirect_url,
			scope = EXCLUDED.scope,
			active = EXCLUDED.active,
			updated_at = NOW()
		 RETURNING id, created_at, updated_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		p.Key, p.DisplayName, p.ClientID, p.ClientSecret, p.AuthURL, p.TokenURL,
		p.ProfileURL, p.RedirectURL, p.Scope, p.Active,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}
