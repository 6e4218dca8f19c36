package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/safatanc/safatanc-connect-core/internal/common"
	"github.com/safatanc/safatanc-connect-core/internal/cryptox"
	"github.com/safatanc/safatanc-connect-core/internal/logging"
	"github.com/safatanc/safatanc-connect-core/internal/server/models"
	"github.com/safatanc/safatanc-connect-core/internal/server/repositories/repomanager"
	"github.com/safatanc/safatanc-connect-core/internal/validation"
)

// AdminService holds the operator actions that have no public endpoint.
type AdminService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	hasher      *cryptox.PasswordHasher
	logger      logging.Logger
}

func NewAdminService(db *sql.DB, m repomanager.RepositoryManager, h *cryptox.PasswordHasher, l logging.Logger) *AdminService {
	return &AdminService{db: db, repomanager: m, hasher: h, logger: l.With("module", "admin_service")}
}

// CreateAdmin creates an active administrator whose email is already
// verified.
func (s *AdminService) CreateAdmin(ctx context.Context, email, username, password string) (*models.Account, error) {
	email = validation.NormalizeEmail(email)
	if err := validation.Email(email); err != nil {
		return nil, err
	}
	if err := validation.Username(username); err != nil {
		return nil, err
	}
	if err := validation.Password(password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	a, err := s.repomanager.Accounts(s.db).Create(ctx, &models.Account{
		Email:         email,
		Username:      username,
		PasswordHash:  hash,
		Role:          models.RoleAdmin,
		EmailVerified: true,
		Active:        true,
	})
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, duplicateAccountError(err)
		}
		return nil, databaseError(err)
	}

	s.logger.Info(ctx, "admin created", "account_id", a.ID)
	return a, nil
}

// SetRole changes the role of the account found by email or username.
func (s *AdminService) SetRole(ctx context.Context, identifier, role string) (*models.Account, error) {
	if role != models.RoleAdmin && role != models.RoleUser {
		return nil, common.NewError(common.ErrValidation, "role must be admin or user")
	}

	repo := s.repomanager.Accounts(s.db)

	var (
		a   *models.Account
		err error
	)
	if strings.Contains(identifier, "@") {
		a, err = repo.FindByEmail(ctx, validation.NormalizeEmail(identifier))
	} else {
		a, err = repo.FindByUsername(ctx, identifier)
	}
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.NewError(common.ErrorNotFound, "account not found")
		}
		return nil, databaseError(err)
	}

	if err := repo.UpdateRole(ctx, a.ID, role); err != nil {
		return nil, databaseError(err)
	}
	a.Role = role

	s.logger.Info(ctx, "role changed", "account_id", a.ID, "role", role)
	return a, nil
}
