// Package services contains server-side business logic: direct-credential
// flows (AuthService) and the single-use token lifecycle
// (VerificationTokenService).
package services

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/safatanc/safatanc-connect-core/internal/async"
	"github.com/safatanc/safatanc-connect-core/internal/common"
	"github.com/safatanc/safatanc-connect-core/internal/cryptox"
	"github.com/safatanc/safatanc-connect-core/internal/dbx"
	"github.com/safatanc/safatanc-connect-core/internal/logging"
	"github.com/safatanc/safatanc-connect-core/internal/server/auth"
	"github.com/safatanc/safatanc-connect-core/internal/server/metrics"
	"github.com/safatanc/safatanc-connect-core/internal/server/models"
	"github.com/safatanc/safatanc-connect-core/internal/server/repositories/repomanager"
	"github.com/safatanc/safatanc-connect-core/internal/validation"
)

const taskTouchLastLogin = "touch_last_login"

// AuthConfig holds the tunables of AuthService.
type AuthConfig struct {
	EmailVerificationTTL time.Duration
	PasswordResetTTL     time.Duration
	// FrontendURL is the base of the links sent by the Notifier.
	FrontendURL string
}

// AuthDeps are the collaborators of AuthService.
type AuthDeps struct {
	Hasher       *cryptox.PasswordHasher
	Tokens       *auth.TokenIssuer
	Verification *VerificationTokenService
	Notifier     Notifier
	Runner       *async.Runner
	Metrics      *metrics.Metrics
	Logger       logging.Logger
}

// Registration is the input of RegisterWithVerification.
type Registration struct {
	Email       string
	Username    string
	Password    string
	DisplayName *string
	AvatarURL   *string
}

// LoginResult is a session pair plus the account it was minted for.
type LoginResult struct {
	Account *models.Account
	Tokens  *auth.TokenPair
}

// AuthService composes password hashing, session tokens and verification
// tokens into login, registration, password reset and email verification.
type AuthService struct {
	db           *sql.DB
	repomanager  repomanager.RepositoryManager
	hasher       *cryptox.PasswordHasher
	tokens       *auth.TokenIssuer
	verification *VerificationTokenService
	notifier     Notifier
	runner       *async.Runner
	metrics      *metrics.Metrics
	logger       logging.Logger
	cfg          AuthConfig

	// dummyHash is verified against when the identifier is unknown so that
	// lookups of missing accounts cost the same as wrong passwords.
	dummyHash string
}

// NewAuthService constructs an AuthService. It fails with a configuration
// error when a required dependency in deps is missing.
func NewAuthService(db *sql.DB, m repomanager.RepositoryManager, deps AuthDeps, cfg AuthConfig) (*AuthService, error) {
	if deps.Hasher == nil || deps.Tokens == nil || deps.Verification == nil || deps.Runner == nil {
		return nil, common.NewError(common.ErrConfiguration, "auth service is missing a dependency")
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.Notifier == nil {
		deps.Notifier = NewLogNotifier(deps.Logger)
	}

	dummy, err := deps.Hasher.Hash(hex.EncodeToString(common.GenerateRandByteArray(16)))
	if err != nil {
		return nil, fmt.Errorf("dummy hash: %w", err)
	}

	return &AuthService{
		db:           db,
		repomanager:  m,
		hasher:       deps.Hasher,
		tokens:       deps.Tokens,
		verification: deps.Verification,
		notifier:     deps.Notifier,
		runner:       deps.Runner,
		metrics:      deps.Metrics,
		logger:       deps.Logger.With("module", "auth"),
		cfg:          cfg,
		dummyHash:    dummy,
	}, nil
}

func invalidCredentials() error {
	return common.AuthError(nil, "invalid credentials")
}

// Login authenticates by email (identifier contains "@") or username. Unknown
// identifiers, wrong passwords and inactive accounts fail identically.
// Accounts with an unverified email may log in.
func (s *AuthService) Login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	identifier = strings.TrimSpace(identifier)
	repo := s.repomanager.Accounts(s.db)

	var (
		a   *models.Account
		err error
	)
	switch {
	case identifier == "":
		err = common.ErrorNotFound
	case strings.Contains(identifier, "@"):
		a, err = repo.FindByEmail(ctx, validation.NormalizeEmail(identifier))
	default:
		a, err = repo.FindByUsername(ctx, identifier)
	}
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			_, _ = s.hasher.Verify(password, s.dummyHash)
			s.metrics.RecordLogin(metrics.OutcomeRejected)
			return nil, invalidCredentials()
		}
		s.metrics.RecordLogin(metrics.OutcomeFailure)
		return nil, databaseError(err)
	}

	ok, err := s.hasher.Verify(password, a.PasswordHash)
	if err != nil {
		s.logger.Error(ctx, "stored password hash is unreadable", "account_id", a.ID, "error", err)
		s.metrics.RecordLogin(metrics.OutcomeFailure)
		return nil, err
	}
	if !ok || !a.Active {
		s.metrics.RecordLogin(metrics.OutcomeRejected)
		return nil, invalidCredentials()
	}

	pair, err := s.tokens.Mint(a)
	if err != nil {
		s.metrics.RecordLogin(metrics.OutcomeFailure)
		return nil, err
	}

	s.touchLastLogin(ctx, a.ID)
	s.metrics.RecordLogin(metrics.OutcomeSuccess)
	s.logger.Info(ctx, "login succeeded", "account_id", a.ID)

	return &LoginResult{Account: a, Tokens: pair}, nil
}

func (s *AuthService) touchLastLogin(ctx context.Context, id uuid.UUID) {
	s.runner.Go(ctx, taskTouchLastLogin, func(ctx context.Context) error {
		return s.repomanager.Accounts(s.db).TouchLastLogin(ctx, id)
	})
}

// Logout only confirms the account exists. Issued tokens stay valid until
// they expire.
func (s *AuthService) Logout(ctx context.Context, accountID uuid.UUID) error {
	if _, err := s.findAccount(ctx, s.db, accountID); err != nil {
		return err
	}
	s.logger.Info(ctx, "logout", "account_id", accountID)
	return nil
}

// RegisterWithVerification creates an account and its first email
// verification token atomically, then sends the verification link.
func (s *AuthService) RegisterWithVerification(ctx context.Context, r Registration) (*models.Account, *models.VerificationToken, error) {
	email := validation.NormalizeEmail(r.Email)
	if err := validation.Email(email); err != nil {
		return nil, nil, err
	}
	if err := validation.Username(r.Username); err != nil {
		return nil, nil, err
	}
	if err := validation.Password(r.Password); err != nil {
		return nil, nil, err
	}

	hash, err := s.hasher.Hash(r.Password)
	if err != nil {
		return nil, nil, err
	}

	a := &models.Account{
		Email:        email,
		Username:     r.Username,
		PasswordHash: hash,
		DisplayName:  r.DisplayName,
		AvatarURL:    r.AvatarURL,
		Role:         models.RoleUser,
		Active:       true,
	}

	var token *models.VerificationToken
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := s.repomanager.Accounts(tx).Create(ctx, a); err != nil {
			return err
		}
		t, err := s.verification.IssueTx(ctx, tx, uuid.NullUUID{UUID: a.ID, Valid: true},
			models.PurposeEmailVerification, s.cfg.EmailVerificationTTL)
		if err != nil {
			return err
		}
		token = t
		return nil
	})
	if err != nil {
		s.metrics.RecordRegistration(metrics.OutcomeFailure)
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, nil, duplicateAccountError(err)
		}
		return nil, nil, databaseError(err)
	}

	s.metrics.RecordRegistration(metrics.OutcomeSuccess)
	s.logger.Info(ctx, "account registered", "account_id", a.ID)

	if err := s.notifier.SendVerification(ctx, a, s.link("verify-email", token.Token)); err != nil {
		s.logger.Warn(ctx, "verification email not sent", "account_id", a.ID, "error", err)
	}

	return a, token, nil
}

func duplicateAccountError(err error) error {
	msg := "email or username already registered"
	switch {
	case strings.Contains(err.Error(), "accounts_email_key"):
		msg = "email already registered"
	case strings.Contains(err.Error(), "accounts_username_key"):
		msg = "username already taken"
	}
	return common.Wrap(common.ErrValidation, msg, err)
}

// RequestPasswordReset always returns nil for a well-formed email, whether or
// not an account exists. Failures after validation are only logged.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	email = validation.NormalizeEmail(email)
	if err := validation.Email(email); err != nil {
		return err
	}

	a, ok := s.lookupForNotice(ctx, email)
	if !ok {
		return nil
	}

	t, err := s.verification.Issue(ctx, uuid.NullUUID{UUID: a.ID, Valid: true},
		models.PurposePasswordReset, s.cfg.PasswordResetTTL)
	if err != nil {
		s.logger.Error(ctx, "password reset token not issued", "account_id", a.ID, "error", err)
		return nil
	}

	if err := s.notifier.SendPasswordReset(ctx, a, s.link("reset-password", t.Token)); err != nil {
		s.logger.Warn(ctx, "password reset email not sent", "account_id", a.ID, "error", err)
	}
	return nil
}

// ResendVerification issues a fresh email verification token for an
// unverified account. Like RequestPasswordReset it does not reveal whether
// the account exists.
func (s *AuthService) ResendVerification(ctx context.Context, email string) error {
	email = validation.NormalizeEmail(email)
	if err := validation.Email(email); err != nil {
		return err
	}

	a, ok := s.lookupForNotice(ctx, email)
	if !ok || a.EmailVerified {
		return nil
	}

	t, err := s.verification.Issue(ctx, uuid.NullUUID{UUID: a.ID, Valid: true},
		models.PurposeEmailVerification, s.cfg.EmailVerificationTTL)
	if err != nil {
		s.logger.Error(ctx, "verification token not issued", "account_id", a.ID, "error", err)
		return nil
	}

	if err := s.notifier.SendVerification(ctx, a, s.link("verify-email", t.Token)); err != nil {
		s.logger.Warn(ctx, "verification email not sent", "account_id", a.ID, "error", err)
	}
	return nil
}

func (s *AuthService) lookupForNotice(ctx context.Context, email string) (*models.Account, bool) {
	a, err := s.repomanager.Accounts(s.db).FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, common.ErrorNotFound) {
			s.logger.Error(ctx, "account lookup failed", "error", err)
		}
		return nil, false
	}
	if !a.Active {
		return nil, false
	}
	return a, true
}

// ResetPassword redeems a password reset token and sets the new password in
// one transaction.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := validation.Password(newPassword); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		accountID, err := s.verification.RedeemTx(ctx, tx, token, models.PurposePasswordReset)
		if err != nil {
			return err
		}
		if !accountID.Valid {
			return invalidTokenError()
		}
		if err := s.repomanager.Accounts(tx).UpdatePassword(ctx, accountID.UUID, hash); err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.NewError(common.ErrorNotFound, "account not found")
			}
			return err
		}
		s.logger.Info(ctx, "password reset", "account_id", accountID.UUID)
		return nil
	})
	if err != nil {
		return databaseError(err)
	}
	return nil
}

// VerifyEmail redeems an email verification token and marks the account
// verified. The token is consumed even if the account already was.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) (*models.Account, error) {
	a, err := dbx.WithTxValue(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) (*models.Account, error) {
		accountID, err := s.verification.RedeemTx(ctx, tx, token, models.PurposeEmailVerification)
		if err != nil {
			return nil, err
		}
		if !accountID.Valid {
			return nil, invalidTokenError()
		}

		a, err := s.findAccount(ctx, tx, accountID.UUID)
		if err != nil {
			return nil, err
		}
		if a.EmailVerified {
			return a, nil
		}
		if err := s.repomanager.Accounts(tx).MarkEmailVerified(ctx, a.ID); err != nil {
			return nil, err
		}
		a.EmailVerified = true
		return a, nil
	})
	if err != nil {
		return nil, databaseError(err)
	}

	s.logger.Info(ctx, "email verified", "account_id", a.ID)
	return a, nil
}

// Refresh mints a new access token from a refresh token of an account that
// still exists and is active.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (string, error) {
	claims, err := s.tokens.Verify(refreshToken)
	if err != nil {
		return "", err
	}
	id, err := claims.AccountID()
	if err != nil {
		return "", err
	}

	a, err := s.repomanager.Accounts(s.db).FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return "", common.AuthError(common.ErrInvalidToken, "invalid token")
		}
		return "", databaseError(err)
	}
	if !a.Active {
		return "", common.AuthError(common.ErrInvalidToken, "invalid token")
	}

	return s.tokens.Refresh(refreshToken)
}

// ChangePassword replaces the password of a logged-in account after checking
// the current one.
func (s *AuthService) ChangePassword(ctx context.Context, accountID uuid.UUID, current, next string) error {
	if err := validation.Password(next); err != nil {
		return err
	}

	a, err := s.findAccount(ctx, s.db, accountID)
	if err != nil {
		return err
	}
	ok, err := s.hasher.Verify(current, a.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return invalidCredentials()
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}
	if err := s.repomanager.Accounts(s.db).UpdatePassword(ctx, a.ID, hash); err != nil {
		return databaseError(err)
	}
	s.logger.Info(ctx, "password changed", "account_id", a.ID)
	return nil
}

func (s *AuthService) findAccount(ctx context.Context, db dbx.DBTX, id uuid.UUID) (*models.Account, error) {
	a, err := s.repomanager.Accounts(db).FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.NewError(common.ErrorNotFound, "account not found")
		}
		return nil, databaseError(err)
	}
	return a, nil
}

func (s *AuthService) link(path, token string) string {
	return strings.TrimRight(s.cfg.FrontendURL, "/") + "/auth/" + path + "/" + token
}
