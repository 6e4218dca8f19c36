package verificationtokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

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

func (r *PostgresRepository) Create(ctx context.Context, t *models.VerificationToken, ttl time.Duration) (bool, error) {
	query :=
		`INSERT INTO verification_tokens (account_id, token, purpose, expires_at)
		 VALUES ($1, $2, $3, NOW() + make_interval(secs => $4))
		 ON CONFLICT (token) DO NOTHING
		 RETURNING id, expires_at, created_at
		 `

	err := r.db.QueryRowContext(ctx, query, t.AccountID, t.Token, string(t.Purpose), ttl.Seconds()).
		Scan(&t.ID, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("db error: %w", err)
	}

	return true, nil
}

func (r *PostgresRepository) InvalidateUnused(ctx context.Context, accountID uuid.UUID, purpose models.TokenPurpose) (int64, error) {
	query :=
		`UPDATE verification_tokens SET used_at = NOW()
		 WHERE account_id = $1 AND purpose = $2 AND used_at IS NULL
		 `

	res, err := r.db.ExecContext(ctx, query, accountID, string(purpose))
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) Redeem(ctx context.Context, token string, purpose models.TokenPurpose) (*models.VerificationToken, error) {
	query :=
		`UPDATE verification_tokens SET used_at = NOW()
		 WHERE token = $1 AND purpose = $2 AND used_at IS NULL AND expires_at > NOW()
		 RETURNING id, account_id, token, purpose, expires_at, used_at, created_at
		 `

	t := &models.VerificationToken{}
	var p string
	err := r.db.QueryRowContext(ctx, query, token, string(purpose)).
		Scan(&t.ID, &t.AccountID, &t.Token, &p, &t.ExpiresAt, &t.UsedAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	t.Purpose = models.TokenPurpose(p)

	return t, nil
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM verification_tokens WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
