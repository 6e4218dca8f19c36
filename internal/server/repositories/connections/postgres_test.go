package connections

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/safatanc/safatanc-connect-core/internal/common"
	"github.com/safatanc/safatanc-connect-core/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewPostgresRepository(db), mock
}

const upsertQ = `(?s)^INSERT\s+INTO\s+oauth_connections.*ON\s+CONFLICT\s*\(account_id,\s*provider_id\)\s*DO\s+UPDATE\s+SET.*refresh_token\s*=\s*COALESCE\(EXCLUDED\.refresh_token,\s*oauth_connections\.refresh_token\).*RETURNING\s+id,\s*created_at,\s*updated_at\s*$`

func strp(s string) *string { return &s }

func TestUpsert_Success(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	accountID, providerID, connID := uuid.New(), uuid.New(), uuid.New()

	mock.ExpectQuery(upsertQ).
		WithArgs(accountID, providerID, "583231", "octocat@github.user", "The Octocat", nil,
			"sealed-access", nil, nil, []byte(`{"id":583231}`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(connID.String(), time.Now(), time.Now()))

	c, err := repo.Upsert(context.Background(), &models.OAuthConnection{
		AccountID:      accountID,
		ProviderID:     providerID,
		ProviderUserID: "583231",
		Email:          strp("octocat@github.user"),
		DisplayName:    strp("The Octocat"),
		AccessToken:    strp("sealed-access"),
		RawProfile:     []byte(`{"id":583231}`),
	})
	require.NoError(t, err)
	assert.Equal(t, connID, c.ID)
}

func TestUpsert_IdentityLinkedElsewhere(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(upsertQ).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "oauth_connections_provider_identity_key"})

	_, err := repo.Upsert(context.Background(), &models.OAuthConnection{AccountID: uuid.New(), ProviderID: uuid.New()})
	assert.ErrorIs(t, err, common.ErrorAlreadyExists)
}

func TestUpsert_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(upsertQ).WillReturnError(errors.New("db down"))

	_, err := repo.Upsert(context.Background(), &models.OAuthConnection{})
	require.Error(t, err)
	assert.Regexp(t, `db error: .*db down`, err.Error())
}

func TestListByAccount(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	accountID, providerID := uuid.New(), uuid.New()
	now := time.Now()

	cols := []string{"id", "account_id", "provider_id", "provider_user_id", "email", "display_name", "avatar_url",
		"access_token", "refresh_token", "expires_at", "raw_profile", "created_at", "updated_at"}
	mock.ExpectQuery(`(?s)^SELECT.*FROM\s+oauth_connections\s+WHERE\s+account_id\s*=\s*\$1\s+ORDER\s+BY\s+created_at\s*$`).
		WithArgs(accountID).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(uuid.NewString(), accountID.String(), providerID.String(), "42", nil, "Name", nil, "tok", nil, nil, []byte(`{}`), now, now))

	list, err := repo.ListByAccount(context.Background(), accountID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, providerID, list[0].ProviderID)
	assert.Nil(t, list[0].Email)
	assert.Equal(t, "Name", *list[0].DisplayName)
}

const findByIdentityQ = `(?s)^SELECT.*FROM\s+oauth_connections\s+WHERE\s+provider_id\s*=\s*\$1\s+AND\s+provider_user_id\s*=\s*\$2\s*$`

func TestFindByProviderIdentity(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	accountID, providerID := uuid.New(), uuid.New()
	now := time.Now()

	cols := []string{"id", "account_id", "provider_id", "provider_user_id", "email", "display_name", "avatar_url",
		"access_token", "refresh_token", "expires_at", "raw_profile", "created_at", "updated_at"}
	mock.ExpectQuery(findByIdentityQ).
		WithArgs(providerID, "42").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(uuid.NewString(), accountID.String(), providerID.String(), "42", "old@x.com", nil, nil, "tok", nil, nil, []byte(`{}`), now, now))

	c, err := repo.FindByProviderIdentity(context.Background(), providerID, "42")
	require.NoError(t, err)
	assert.Equal(t, accountID, c.AccountID)
	assert.Equal(t, "old@x.com", *c.Email)
}

func TestFindByProviderIdentity_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(findByIdentityQ).WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByProviderIdentity(context.Background(), uuid.New(), "42")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}
