package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/safatanc/safatanc-connect-core/internal/common"
	"github.com/safatanc/safatanc-connect-core/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIssuer(t *testing.T) *TokenIssuer {
	t.Helper()
	i, err := NewTokenIssuer([]byte("super-secret"), time.Hour, 7*24*time.Hour)
	require.NoError(t, err)
	return i
}

func testAccount() *models.Account {
	return &models.Account{ID: uuid.New(), Email: "a@x.io", Role: models.RoleUser}
}

func TestNewTokenIssuer_RejectsBadConfig(t *testing.T) {
	t.Parallel()

	_, err := NewTokenIssuer(nil, time.Hour, time.Hour)
	assert.ErrorIs(t, err, common.ErrConfiguration)

	_, err = NewTokenIssuer([]byte("k"), 0, time.Hour)
	assert.ErrorIs(t, err, common.ErrConfiguration)
}

func TestMintAndVerify_Success(t *testing.T) {
	t.Parallel()

	i := newIssuer(t)
	a := testAccount()

	pair, err := i.Mint(a)
	require.NoError(t, err)

	access, err := i.Verify(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, a.ID.String(), access.Subject)
	assert.Equal(t, a.Email, access.Email)
	assert.Equal(t, a.Role, access.Role)
	assert.Equal(t, UseAccess, access.Use)
	assert.NotEmpty(t, access.ID)

	refresh, err := i.Verify(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, UseRefresh, refresh.Use)
	assert.NotEqual(t, access.ID, refresh.ID)

	assert.Equal(t, time.Hour, access.ExpiresAt.Sub(access.IssuedAt.Time))
	assert.Equal(t, 7*24*time.Hour, refresh.ExpiresAt.Sub(refresh.IssuedAt.Time))
}

func TestVerify_Expired(t *testing.T) {
	t.Parallel()

	i := newIssuer(t)
	i.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	pair, err := i.Mint(testAccount())
	require.NoError(t, err)

	i.now = time.Now
	_, err = i.Verify(pair.AccessToken)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrAuthentication)
	assert.ErrorIs(t, err, common.ErrTokenExpired)
	assert.NotErrorIs(t, err, common.ErrInvalidToken)
}

func TestVerify_WrongSecret(t *testing.T) {
	t.Parallel()

	pair, err := newIssuer(t).Mint(testAccount())
	require.NoError(t, err)

	other, err := NewTokenIssuer([]byte("wrong-secret"), time.Hour, time.Hour)
	require.NoError(t, err)

	_, err = other.Verify(pair.AccessToken)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
	assert.ErrorIs(t, err, common.ErrAuthentication)
}

func TestVerify_Tampered(t *testing.T) {
	t.Parallel()

	i := newIssuer(t)
	pair, err := i.Mint(testAccount())
	require.NoError(t, err)

	parts := strings.Split(pair.AccessToken, ".")
	require.Len(t, parts, 3)
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	_, err = i.Verify(parts[0] + "." + parts[1] + "." + string(sig))
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestVerify_RejectsOtherAlgorithms(t *testing.T) {
	t.Parallel()

	i := newIssuer(t)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	s, err := tok.SignedString([]byte("super-secret"))
	require.NoError(t, err)

	_, err = i.Verify(s)
	assert.ErrorIs(t, err, common.ErrInvalidToken)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	s, err = unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = i.Verify(s)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestVerify_Malformed(t *testing.T) {
	t.Parallel()

	_, err := newIssuer(t).Verify("not.a.jwt")
	if !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestRefresh_MintsNewAccessToken(t *testing.T) {
	t.Parallel()

	i := newIssuer(t)
	a := testAccount()
	pair, err := i.Mint(a)
	require.NoError(t, err)

	later := time.Now().Add(time.Minute)
	i.now = func() time.Time { return later }

	access, err := i.Refresh(pair.RefreshToken)
	require.NoError(t, err)

	claims, err := i.Verify(access)
	require.NoError(t, err)
	assert.Equal(t, a.ID.String(), claims.Subject)
	assert.Equal(t, a.Email, claims.Email)
	assert.Equal(t, a.Role, claims.Role)
	assert.Equal(t, UseAccess, claims.Use)
	assert.Equal(t, later.Unix(), claims.IssuedAt.Unix())
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	t.Parallel()

	i := newIssuer(t)
	pair, err := i.Mint(testAccount())
	require.NoError(t, err)

	_, err = i.Refresh(pair.AccessToken)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestRefresh_Expired(t *testing.T) {
	t.Parallel()

	i, err := NewTokenIssuer([]byte("k"), time.Hour, time.Minute)
	require.NoError(t, err)
	i.now = func() time.Time { return time.Now().Add(-time.Hour) }
	pair, err := i.Mint(testAccount())
	require.NoError(t, err)
	i.now = time.Now

	_, err = i.Refresh(pair.RefreshToken)
	assert.ErrorIs(t, err, common.ErrTokenExpired)
}

func TestSubjectOf(t *testing.T) {
	t.Parallel()

	i := newIssuer(t)
	a := testAccount()
	pair, err := i.Mint(a)
	require.NoError(t, err)

	id, err := i.SubjectOf(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, a.ID, id)

	_, err = i.SubjectOf("garbage")
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}
