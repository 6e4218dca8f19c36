package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/safatanc/safatanc-connect-core/internal/common"
	"github.com/safatanc/safatanc-connect-core/internal/dbx"
	"github.com/safatanc/safatanc-connect-core/internal/logging"
	"github.com/safatanc/safatanc-connect-core/internal/server/metrics"
	"github.com/safatanc/safatanc-connect-core/internal/server/models"
	"github.com/safatanc/safatanc-connect-core/internal/server/repositories/repomanager"
)

const (
	verificationTokenLength = 32
	maxTokenAttempts        = 5
)

// VerificationTokenService manages single-use, purpose-scoped tokens.
// Issuing a token invalidates every older unredeemed token of the same
// (account, purpose) in the same transaction, so at most one is usable.
type VerificationTokenService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	metrics     *metrics.Metrics
	logger      logging.Logger
}

// NewVerificationTokenService constructs a VerificationTokenService backed by
// the verification token repository of m.
func NewVerificationTokenService(db *sql.DB, m repomanager.RepositoryManager, mt *metrics.Metrics, l logging.Logger) *VerificationTokenService {
	return &VerificationTokenService{
		db:          db,
		repomanager: m,
		metrics:     mt,
		logger:      l.With("module", "verification"),
	}
}

// Issue creates a token in its own transaction.
func (s *VerificationTokenService) Issue(ctx context.Context, accountID uuid.NullUUID, purpose models.TokenPurpose, ttl time.Duration) (*models.VerificationToken, error) {
	t, err := dbx.WithTxValue(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) (*models.VerificationToken, error) {
		return s.IssueTx(ctx, tx, accountID, purpose, ttl)
	})
	if err != nil {
		return nil, databaseError(err)
	}
	return t, nil
}

// IssueTx creates a token on a caller-owned transaction.
func (s *VerificationTokenService) IssueTx(ctx context.Context, tx dbx.DBTX, accountID uuid.NullUUID, purpose models.TokenPurpose, ttl time.Duration) (*models.VerificationToken, error) {
	if ttl <= 0 {
		return nil, common.NewError(common.ErrValidation, "token ttl must be positive")
	}
	tokens := s.repomanager.VerificationTokens(tx)

	if accountID.Valid {
		// serializes concurrent issuers for the same account
		if err := s.repomanager.Accounts(tx).Lock(ctx, accountID.UUID); err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return nil, common.NewError(common.ErrorNotFound, "account not found")
			}
			return nil, databaseError(err)
		}
		n, err := tokens.InvalidateUnused(ctx, accountID.UUID, purpose)
		if err != nil {
			return nil, databaseError(err)
		}
		if n > 0 {
			s.logger.Debug(ctx, "previous tokens invalidated", "account_id", accountID.UUID, "purpose", purpose, "count", n)
		}
	}

	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		value, err := common.MakeRandAlphanumeric(verificationTokenLength)
		if err != nil {
			return nil, common.Wrap(common.ErrorInternal, "internal error", err)
		}

		t := &models.VerificationToken{AccountID: accountID, Token: value, Purpose: purpose}
		created, err := tokens.Create(ctx, t, ttl)
		if err != nil {
			return nil, databaseError(err)
		}
		if created {
			s.metrics.RecordTokenIssued(string(purpose))
			return t, nil
		}
		s.logger.Warn(ctx, "verification token collision, regenerating", "attempt", attempt+1)
	}

	return nil, common.NewError(common.ErrorInternal, "could not allocate a unique token")
}

// Redeem consumes token and returns its owning account. Absent, redeemed and
// expired tokens all fail with common.ErrInvalidToken.
func (s *VerificationTokenService) Redeem(ctx context.Context, token string, purpose models.TokenPurpose) (uuid.NullUUID, error) {
	return s.RedeemTx(ctx, s.db, token, purpose)
}

// RedeemTx is Redeem on a caller-owned transaction.
func (s *VerificationTokenService) RedeemTx(ctx context.Context, tx dbx.DBTX, token string, purpose models.TokenPurpose) (uuid.NullUUID, error) {
	if token == "" {
		s.metrics.RecordTokenRedeemed(string(purpose), metrics.OutcomeRejected)
		return uuid.NullUUID{}, invalidTokenError()
	}

	t, err := s.repomanager.VerificationTokens(tx).Redeem(ctx, token, purpose)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.metrics.RecordTokenRedeemed(string(purpose), metrics.OutcomeRejected)
			return uuid.NullUUID{}, invalidTokenError()
		}
		s.metrics.RecordTokenRedeemed(string(purpose), metrics.OutcomeFailure)
		return uuid.NullUUID{}, databaseError(err)
	}

	s.metrics.RecordTokenRedeemed(string(purpose), metrics.OutcomeSuccess)
	return t.AccountID, nil
}

// PurgeExpired deletes every token past its expiry, redeemed or not.
func (s *VerificationTokenService) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.repomanager.VerificationTokens(s.db).DeleteExpired(ctx)
	if err != nil {
		return 0, databaseError(err)
	}
	s.metrics.RecordPurged(n)
	return n, nil
}

func invalidTokenError() error {
	return common.NewError(common.ErrInvalidToken, "invalid or expired token")
}

// databaseError keeps typed errors and hides everything else behind a
// generic Database error.
func databaseError(err error) error {
	var e *common.Error
	if errors.As(err, &e) {
		return err
	}
	return common.Wrap(common.ErrDatabase, "database error", err)
}
