package accounts

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

const selectAccount = `SELECT id, email, username, password_hash, display_name, avatar_url, role,
		email_verified, active, last_login_at, created_at, updated_at, deleted_at
		 FROM accounts`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, a *models.Account) (*models.Account, error) {
	query :=
		`INSERT INTO accounts (email, username, password_hash, display_name, avatar_url, role, email_verified, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at, updated_at
		 `

	err := r.db.QueryRowContext(ctx, query, insertArgs(a)...).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if constraint, ok := dbx.UniqueViolation(err); ok {
			return nil, fmt.Errorf("%w: %s", common.ErrorAlreadyExists, constraint)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return a, nil
}

func (r *PostgresRepository) CreateIfAbsent(ctx context.Context, a *models.Account) (*models.Account, bool, error) {
	query :=
		`INSERT INTO accounts (email, username, password_hash, display_name, avatar_url, role, email_verified, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT DO NOTHING
		 RETURNING id, created_at, updated_at
		 `

	err := r.db.QueryRowContext(ctx, query, insertArgs(a)...).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("db error: %w", err)
	}

	return a, true, nil
}

func (r *PostgresRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return r.findOne(ctx, selectAccount+` WHERE id = $1 AND deleted_at IS NULL`, id)
}

func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.findOne(ctx, selectAccount+` WHERE email = $1 AND deleted_at IS NULL`, email)
}

func (r *PostgresRepository) FindByUsername(ctx context.Context, username string) (*models.Account, error) {
	return r.findOne(ctx, selectAccount+` WHERE username = $1 AND deleted_at IS NULL`, username)
}

func (r *PostgresRepository) Lock(ctx context.Context, id uuid.UUID) error {
	var locked uuid.UUID
	err := r.db.QueryRowContext(ctx, `SELECT id FROM accounts WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.ErrorNotFound
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return r.execOne(ctx,
		`UPDATE accounts SET password_hash = $2, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`,
		id, passwordHash)
}

func (r *PostgresRepository) MarkEmailVerified(ctx context.Context, id uuid.UUID) error {
	return r.execOne(ctx,
		`UPDATE accounts SET email_verified = TRUE, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`,
		id)
}

func (r *PostgresRepository) TouchLastLogin(ctx context.Context, id uuid.UUID) error {
	return r.execOne(ctx,
		`UPDATE accounts SET last_login_at = NOW() WHERE id = $1 AND deleted_at IS NULL`,
		id)
}

func (r *PostgresRepository) UpdateRole(ctx context.Context, id uuid.UUID, role string) error {
	return r.execOne(ctx,
		`UPDATE accounts SET role = $2, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`,
		id, role)
}

func (r *PostgresRepository) findOne(ctx context.Context, query string, args ...any) (*models.Account, error) {
	a := &models.Account{}
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&a.ID, &a.Email, &a.Username, &a.PasswordHash, &a.DisplayName, &a.AvatarURL, &a.Role,
		&a.EmailVerified, &a.Active, &a.LastLoginAt, &a.CreatedAt, &a.UpdatedAt, &a.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func insertArgs(a *models.Account) []any {
	if a.Role == "" {
		a.Role = models.RoleUser
	}
	return []any{a.Email, a.Username, a.PasswordHash, a.DisplayName, a.AvatarURL, a.Role, a.EmailVerified, a.Active}
}
