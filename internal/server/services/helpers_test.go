package services

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/safatanc/safatanc-connect-core/internal/async"
	"github.com/safatanc/safatanc-connect-core/internal/cryptox"
	"github.com/safatanc/safatanc-connect-core/internal/logging"
	"github.com/safatanc/safatanc-connect-core/internal/server/auth"
	"github.com/safatanc/safatanc-connect-core/internal/server/models"
	"github.com/safatanc/safatanc-connect-core/internal/server/repositories/memstore"
	"github.com/safatanc/safatanc-connect-core/internal/server/repositories/repomanager"
)

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("sql expectations: %v", err)
		}
		_ = db.Close()
	})
	return db, mock
}

func testHasher() *cryptox.PasswordHasher {
	return cryptox.NewPasswordHasher(cryptox.Argon2Params{Time: 1, MemoryKiB: 1024, Threads: 1})
}

type sentNotice struct {
	account *models.Account
	link    string
}

type recordingNotifier struct {
	mu            sync.Mutex
	verifications []sentNotice
	resets        []sentNotice
	err           error
}

func (n *recordingNotifier) SendVerification(_ context.Context, a *models.Account, link string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.verifications = append(n.verifications, sentNotice{a, link})
	return n.err
}

func (n *recordingNotifier) SendPasswordReset(_ context.Context, a *models.Account, link string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resets = append(n.resets, sentNotice{a, link})
	return n.err
}

type authFixture struct {
	svc      *AuthService
	store    *memstore.Store
	notifier *recordingNotifier
	runner   *async.Runner
	tokens   *auth.TokenIssuer
	hasher   *cryptox.PasswordHasher
}

func newAuthFixture(t *testing.T, db *sql.DB) *authFixture {
	t.Helper()
	return newAuthFixtureWith(t, db, memstore.New())
}

func newAuthFixtureWith(t *testing.T, db *sql.DB, store *memstore.Store) *authFixture {
	t.Helper()
	return newAuthFixtureManager(t, db, store, store)
}

func newAuthFixtureManager(t *testing.T, db *sql.DB, store *memstore.Store, m repomanager.RepositoryManager) *authFixture {
	t.Helper()

	tokens, err := auth.NewTokenIssuer([]byte("k"), time.Hour, 2*time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	hasher := testHasher()
	runner := async.NewRunner(4, time.Second, logging.NewNop())
	notifier := &recordingNotifier{}

	svc, err := NewAuthService(db, m, AuthDeps{
		Hasher:       hasher,
		Tokens:       tokens,
		Verification: NewVerificationTokenService(db, m, nil, logging.NewNop()),
		Notifier:     notifier,
		Runner:       runner,
		Logger:       logging.NewNop(),
	}, AuthConfig{
		EmailVerificationTTL: 24 * time.Hour,
		PasswordResetTTL:     time.Hour,
		FrontendURL:          "https://app.example.com/",
	})
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}

	return &authFixture{svc: svc, store: store, notifier: notifier, runner: runner, tokens: tokens, hasher: hasher}
}

// seedAccount stores an account with the given password directly.
func (f *authFixture) seedAccount(t *testing.T, email, username, password string, active bool) *models.Account {
	t.Helper()
	hash, err := f.hasher.Hash(password)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	a, err := f.store.Accounts(nil).Create(context.Background(), &models.Account{
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		Active:       active,
	})
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return a
}
