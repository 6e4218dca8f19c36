// Package memstore is an in-memory RepositoryManager. It mirrors the
// constraints of the PostgreSQL schema (unique keys, conditional redemption,
// upsert conflict targets) but has no transactions: the DBTX argument is
// ignored and writes are visible immediately.
package memstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/safatanc/safatanc-connect-core/internal/common"
	"github.com/safatanc/safatanc-connect-core/internal/dbx"
	"github.com/safatanc/safatanc-connect-core/internal/server/models"
	"github.com/safatanc/safatanc-connect-core/internal/server/repositories/accounts"
	"github.com/safatanc/safatanc-connect-core/internal/server/repositories/connections"
	"github.com/safatanc/safatanc-connect-core/internal/server/repositories/providers"
	"github.com/safatanc/safatanc-connect-core/internal/server/repositories/verificationtokens"
)

type Store struct {
	mu          sync.Mutex
	accounts    map[uuid.UUID]*models.Account
	tokens      map[string]*models.VerificationToken
	providers   map[string]*models.OAuthProvider
	connections map[uuid.UUID]*models.OAuthConnection
	failures    map[string]error

	// Now is the store clock. Tests may move it.
	Now func() time.Time
}

func New() *Store {
	return &Store{
		accounts:    make(map[uuid.UUID]*models.Account),
		tokens:      make(map[string]*models.VerificationToken),
		providers:   make(map[string]*models.OAuthProvider),
		connections: make(map[uuid.UUID]*models.OAuthConnection),
		failures:    make(map[string]error),
		Now:         time.Now,
	}
}

// FailOn makes every call of op (e.g. "connections.Upsert") return err.
// A nil err clears the failure.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

func (s *Store) fail(op string) error {
	return s.failures[op]
}

func (s *Store) RunMigrations(context.Context, *sql.DB) error { return nil }

func (s *Store) Accounts(dbx.DBTX) accounts.Repository { return (*accountRepo)(s) }

func (s *Store) VerificationTokens(dbx.DBTX) verificationtokens.Repository {
	return (*tokenRepo)(s)
}

func (s *Store) Providers(dbx.DBTX) providers.Repository { return (*providerRepo)(s) }

func (s *Store) Connections(dbx.DBTX) connections.Repository { return (*connectionRepo)(s) }

// AccountCount returns the number of stored accounts.
func (s *Store) AccountCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}

// ConnectionCount returns the number of stored connections.
func (s *Store) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connections)
}

// Tokens returns copies of all stored tokens ordered by creation.
func (s *Store) Tokens() []models.VerificationToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.VerificationToken, 0, len(s.tokens))
	for _, t := range s.tokens {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// SetActive flips the active flag of a stored account.
func (s *Store) SetActive(id uuid.UUID, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok {
		a.Active = active
	}
}

// AllConnections returns copies of all stored connections.
func (s *Store) AllConnections() []models.OAuthConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.OAuthConnection, 0, len(s.connections))
	for _, c := range s.connections {
		out = append(out, *c)
	}
	return out
}

type accountRepo Store

func (r *accountRepo) store() *Store { return (*Store)(r) }

func (r *accountRepo) conflict(a *models.Account) string {
	for _, existing := range r.accounts {
		if existing.DeletedAt != nil {
			continue
		}
		if existing.Email == a.Email {
			return "accounts_email_key"
		}
		if existing.Username == a.Username {
			return "accounts_username_key"
		}
	}
	return ""
}

func (r *accountRepo) insert(a *models.Account) *models.Account {
	now := r.Now()
	if a.Role == "" {
		a.Role = models.RoleUser
	}
	a.ID = uuid.New()
	a.CreatedAt, a.UpdatedAt = now, now
	cp := *a
	r.accounts[a.ID] = &cp
	return a
}

func (r *accountRepo) Create(_ context.Context, a *models.Account) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store().fail("accounts.Create"); err != nil {
		return nil, err
	}
	if c := r.conflict(a); c != "" {
		return nil, fmt.Errorf("%w: %s", common.ErrorAlreadyExists, c)
	}
	return r.insert(a), nil
}

func (r *accountRepo) CreateIfAbsent(_ context.Context, a *models.Account) (*models.Account, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store().fail("accounts.CreateIfAbsent"); err != nil {
		return nil, false, err
	}
	if r.conflict(a) != "" {
		return nil, false, nil
	}
	return r.insert(a), true, nil
}

func (r *accountRepo) find(op string, match func(*models.Account) bool) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store().fail(op); err != nil {
		return nil, err
	}
	for _, a := range r.accounts {
		if a.DeletedAt == nil && match(a) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *accountRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Account, error) {
	return r.find("accounts.FindByID", func(a *models.Account) bool { return a.ID == id })
}

func (r *accountRepo) FindByEmail(_ context.Context, email string) (*models.Account, error) {
	return r.find("accounts.FindByEmail", func(a *models.Account) bool { return a.Email == email })
}

func (r *accountRepo) FindByUsername(_ context.Context, username string) (*models.Account, error) {
	return r.find("accounts.FindByUsername", func(a *models.Account) bool { return a.Username == username })
}

func (r *accountRepo) Lock(_ context.Context, id uuid.UUID) error {
	return r.update("accounts.Lock", id, func(*models.Account) {})
}

func (r *accountRepo) update(op string, id uuid.UUID, fn func(*models.Account)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store().fail(op); err != nil {
		return err
	}
	a, ok := r.accounts[id]
	if !ok || a.DeletedAt != nil {
		return common.ErrorNotFound
	}
	fn(a)
	return nil
}

func (r *accountRepo) UpdatePassword(_ context.Context, id uuid.UUID, passwordHash string) error {
	return r.update("accounts.UpdatePassword", id, func(a *models.Account) {
		a.PasswordHash = passwordHash
		a.UpdatedAt = r.Now()
	})
}

func (r *accountRepo) MarkEmailVerified(_ context.Context, id uuid.UUID) error {
	return r.update("accounts.MarkEmailVerified", id, func(a *models.Account) {
		a.EmailVerified = true
		a.UpdatedAt = r.Now()
	})
}

func (r *accountRepo) TouchLastLogin(_ context.Context, id uuid.UUID) error {
	return r.update("accounts.TouchLastLogin", id, func(a *models.Account) {
		now := r.Now()
		a.LastLoginAt = &now
	})
}

func (r *accountRepo) UpdateRole(_ context.Context, id uuid.UUID, role string) error {
	return r.update("accounts.UpdateRole", id, func(a *models.Account) {
		a.Role = role
		a.UpdatedAt = r.Now()
	})
}

type tokenRepo Store

func (r *tokenRepo) store() *Store { return (*Store)(r) }

func (r *tokenRepo) Create(_ context.Context, t *models.VerificationToken, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store().fail("verificationtokens.Create"); err != nil {
		return false, err
	}
	if _, taken := r.tokens[t.Token]; taken {
		return false, nil
	}
	if t.AccountID.Valid {
		for _, existing := range r.tokens {
			if existing.AccountID == t.AccountID && existing.Purpose == t.Purpose && existing.UsedAt == nil {
				return false, fmt.Errorf("db error: %w: verification_tokens_one_active_idx", common.ErrorAlreadyExists)
			}
		}
	}
	now := r.Now()
	t.ID = uuid.New()
	t.CreatedAt = now
	t.ExpiresAt = now.Add(ttl)
	cp := *t
	r.tokens[t.Token] = &cp
	return true, nil
}

func (r *tokenRepo) InvalidateUnused(_ context.Context, accountID uuid.UUID, purpose models.TokenPurpose) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store().fail("verificationtokens.InvalidateUnused"); err != nil {
		return 0, err
	}
	var n int64
	now := r.Now()
	for _, t := range r.tokens {
		if t.AccountID.Valid && t.AccountID.UUID == accountID && t.Purpose == purpose && t.UsedAt == nil {
			used := now
			t.UsedAt = &used
			n++
		}
	}
	return n, nil
}

func (r *tokenRepo) Redeem(_ context.Context, token string, purpose models.TokenPurpose) (*models.VerificationToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store().fail("verificationtokens.Redeem"); err != nil {
		return nil, err
	}
	now := r.Now()
	t, ok := r.tokens[token]
	if !ok || t.Purpose != purpose || t.UsedAt != nil || !now.Before(t.ExpiresAt) {
		return nil, common.ErrorNotFound
	}
	t.UsedAt = &now
	cp := *t
	return &cp, nil
}

func (r *tokenRepo) DeleteExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store().fail("verificationtokens.DeleteExpired"); err != nil {
		return 0, err
	}
	var n int64
	now := r.Now()
	for k, t := range r.tokens {
		if t.ExpiresAt.Before(now) {
			delete(r.tokens, k)
			n++
		}
	}
	return n, nil
}

type providerRepo Store

func (r *providerRepo) store() *Store { return (*Store)(r) }

func (r *providerRepo) FindByKey(_ context.Context, key string) (*models.OAuthProvider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store().fail("providers.FindByKey"); err != nil {
		return nil, err
	}
	p, ok := r.providers[key]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *providerRepo) List(_ context.Context, activeOnly bool) ([]*models.OAuthProvider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store().fail("providers.List"); err != nil {
		return nil, err
	}
	var out []*models.OAuthProvider
	for _, p := range r.providers {
		if activeOnly && !p.Active {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (r *providerRepo) Upsert(_ context.Context, p *models.OAuthProvider) (*models.OAuthProvider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store().fail("providers.Upsert"); err != nil {
		return nil, err
	}
	now := r.Now()
	if existing, ok := r.providers[p.Key]; ok {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
	} else {
		p.ID = uuid.New()
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	cp := *p
	r.providers[p.Key] = &cp
	return p, nil
}

type connectionRepo Store

func (r *connectionRepo) store() *Store { return (*Store)(r) }

func (r *connectionRepo) Upsert(_ context.Context, c *models.OAuthConnection) (*models.OAuthConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store().fail("connections.Upsert"); err != nil {
		return nil, err
	}
	now := r.Now()
	var existing *models.OAuthConnection
	for _, e := range r.connections {
		if e.AccountID == c.AccountID && e.ProviderID == c.ProviderID {
			existing = e
			continue
		}
		if e.ProviderID == c.ProviderID && e.ProviderUserID == c.ProviderUserID {
			return nil, fmt.Errorf("%w: oauth_connections_provider_identity_key", common.ErrorAlreadyExists)
		}
	}
	if existing != nil {
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
		if c.RefreshToken == nil {
			c.RefreshToken = existing.RefreshToken
		}
	} else {
		c.ID = uuid.New()
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	cp := *c
	r.connections[c.ID] = &cp
	return c, nil
}

func (r *connectionRepo) FindByProviderIdentity(_ context.Context, providerID uuid.UUID, providerUserID string) (*models.OAuthConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store().fail("connections.FindByProviderIdentity"); err != nil {
		return nil, err
	}
	for _, c := range r.connections {
		if c.ProviderID == providerID && c.ProviderUserID == providerUserID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *connectionRepo) ListByAccount(_ context.Context, accountID uuid.UUID) ([]*models.OAuthConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store().fail("connections.ListByAccount"); err != nil {
		return nil, err
	}
	var out []*models.OAuthConnection
	for _, c := range r.connections {
		if c.AccountID == accountID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
