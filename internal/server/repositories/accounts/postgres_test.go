package accounts

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
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

var accountCols = []string{
	"id", "email", "username", "password_hash", "display_name", "avatar_url", "role",
	"email_verified", "active", "last_login_at", "created_at", "updated_at", "deleted_at",
}

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

func newAccount() *models.Account {
	return &models.Account{
		Email:        "a@x.com",
		Username:     "alice",
		PasswordHash: "$argon2id$...",
		Active:       true,
	}
}

const insertQ = `(?s)^INSERT\s+INTO\s+accounts\s*\(email,\s*username,\s*password_hash,\s*display_name,\s*avatar_url,\s*role,\s*email_verified,\s*active\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5,\s*\$6,\s*\$7,\s*\$8\)\s*RETURNING\s+id,\s*created_at,\s*updated_at\s*$`

func TestCreate_Success(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	id := uuid.New()
	now := time.Now()

	mock.ExpectQuery(insertQ).
		WithArgs("a@x.com", "alice", "$argon2id$...", nil, nil, models.RoleUser, false, true).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(id.String(), now, now))

	got, err := repo.Create(context.Background(), newAccount())
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, models.RoleUser, got.Role)
}

func TestCreate_UniqueViolation(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(insertQ).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "accounts_email_key"})

	_, err := repo.Create(context.Background(), newAccount())
	require.ErrorIs(t, err, common.ErrorAlreadyExists)
	assert.Contains(t, err.Error(), "accounts_email_key")
}

func TestCreate_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(insertQ).WillReturnError(errors.New("db down"))

	_, err := repo.Create(context.Background(), newAccount())
	require.Error(t, err)
	assert.Regexp(t, regexp.MustCompile(`db error: .*db down`), err.Error())
}

func TestCreateIfAbsent(t *testing.T) {
	q := `(?s)^INSERT\s+INTO\s+accounts.*ON\s+CONFLICT\s+DO\s+NOTHING\s+RETURNING\s+id,\s*created_at,\s*updated_at\s*$`

	t.Run("inserted", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		id := uuid.New()
		mock.ExpectQuery(q).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(id.String(), time.Now(), time.Now()))

		got, created, err := repo.CreateIfAbsent(context.Background(), newAccount())
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, id, got.ID)
	})

	t.Run("conflict", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectQuery(q).WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}))

		got, created, err := repo.CreateIfAbsent(context.Background(), newAccount())
		require.NoError(t, err)
		assert.False(t, created)
		assert.Nil(t, got)
	})
}

func TestFindByEmail_Found(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	id := uuid.New()
	now := time.Now()

	q := `(?s)^SELECT\s+id,\s*email,.*FROM\s+accounts\s+WHERE\s+email\s*=\s*\$1\s+AND\s+deleted_at\s+IS\s+NULL$`
	mock.ExpectQuery(q).
		WithArgs("a@x.com").
		WillReturnRows(sqlmock.NewRows(accountCols).
			AddRow(id.String(), "a@x.com", "alice", "hash", "Alice", nil, "admin", true, true, now, now, now, nil))

	got, err := repo.FindByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "alice", got.Username)
	require.NotNil(t, got.DisplayName)
	assert.Equal(t, "Alice", *got.DisplayName)
	assert.Nil(t, got.AvatarURL)
	assert.Equal(t, models.RoleAdmin, got.Role)
	assert.True(t, got.EmailVerified)
	require.NotNil(t, got.LastLoginAt)
	assert.Nil(t, got.DeletedAt)
}

func TestFindByUsername_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	q := `(?s)^SELECT.*FROM\s+accounts\s+WHERE\s+username\s*=\s*\$1\s+AND\s+deleted_at\s+IS\s+NULL$`
	mock.ExpectQuery(q).WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByUsername(context.Background(), "ghost")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestFindByID_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	id := uuid.New()

	q := `(?s)^SELECT.*FROM\s+accounts\s+WHERE\s+id\s*=\s*\$1\s+AND\s+deleted_at\s+IS\s+NULL$`
	mock.ExpectQuery(q).WithArgs(id).WillReturnError(errors.New("db err"))

	_, err := repo.FindByID(context.Background(), id)
	require.Error(t, err)
	assert.Regexp(t, `db error: .*db err`, err.Error())
}

func TestLock(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	id := uuid.New()
	q := `(?s)^SELECT\s+id\s+FROM\s+accounts\s+WHERE\s+id\s*=\s*\$1\s+FOR\s+UPDATE$`

	mock.ExpectQuery(q).WithArgs(id).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id.String()))
	require.NoError(t, repo.Lock(context.Background(), id))

	mock.ExpectQuery(q).WithArgs(id).WillReturnError(sql.ErrNoRows)
	assert.ErrorIs(t, repo.Lock(context.Background(), id), common.ErrorNotFound)
}

func TestUpdatePassword(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	id := uuid.New()
	q := `(?s)^UPDATE\s+accounts\s+SET\s+password_hash\s*=\s*\$2,\s*updated_at\s*=\s*NOW\(\)\s+WHERE\s+id\s*=\s*\$1\s+AND\s+deleted_at\s+IS\s+NULL$`

	mock.ExpectExec(q).WithArgs(id, "new-hash").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdatePassword(context.Background(), id, "new-hash"))

	mock.ExpectExec(q).WithArgs(id, "new-hash").WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.UpdatePassword(context.Background(), id, "new-hash"), common.ErrorNotFound)

	mock.ExpectExec(q).WithArgs(id, "new-hash").WillReturnError(errors.New("db err"))
	err := repo.UpdatePassword(context.Background(), id, "new-hash")
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrorNotFound)
}

func TestMarkEmailVerified(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	id := uuid.New()

	mock.ExpectExec(`(?s)^UPDATE\s+accounts\s+SET\s+email_verified\s*=\s*TRUE`).
		WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkEmailVerified(context.Background(), id))
}

func TestTouchLastLogin(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	id := uuid.New()

	mock.ExpectExec(`(?s)^UPDATE\s+accounts\s+SET\s+last_login_at\s*=\s*NOW\(\)`).
		WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.TouchLastLogin(context.Background(), id))
}

func TestUpdateRole(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	id := uuid.New()

	mock.ExpectExec(`(?s)^UPDATE\s+accounts\s+SET\s+role\s*=\s*\$2`).
		WithArgs(id, models.RoleAdmin).WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateRole(context.Background(), id, models.RoleAdmin))
}
