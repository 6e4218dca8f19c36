package cryptox

import (
	"errors"
	"strings"
	"testing"

	"github.com/safatanc/safatanc-connect-core/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testParams = Argon2Params{Time: 1, MemoryKiB: 1024, Threads: 1}

func TestHash_FormatAndFreshSalt(t *testing.T) {
	h := NewPasswordHasher(testParams)

	a, err := h.Hash("Secret1!")
	require.NoError(t, err)
	b, err := h.Hash("Secret1!")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a, "$argon2id$v=19$m=1024,t=1,p=1$"), a)
	assert.NotEqual(t, a, b, "two hashes of the same password must differ")
}

func TestVerify_RoundTrip(t *testing.T) {
	h := NewPasswordHasher(testParams)

	for _, pw := range []string{"Secret1!", "", "пароль-с-юникодом", strings.Repeat("x", 200)} {
		enc, err := h.Hash(pw)
		require.NoError(t, err)

		ok, err := h.Verify(pw, enc)
		require.NoError(t, err)
		assert.True(t, ok, "password %q must verify", pw)

		ok, err = h.Verify(pw+"?", enc)
		require.NoError(t, err)
		assert.False(t, ok, "different password must not verify")
	}
}

func TestVerify_UsesEmbeddedParams(t *testing.T) {
	enc, err := NewPasswordHasher(Argon2Params{Time: 2, MemoryKiB: 2048, Threads: 2}).Hash("Secret1!")
	require.NoError(t, err)

	ok, err := NewPasswordHasher(testParams).Verify("Secret1!", enc)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerify_MalformedIsInternal(t *testing.T) {
	h := NewPasswordHasher(testParams)

	for _, enc := range []string{
		"",
		"plaintext",
		"$argon2i$v=19$m=1024,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=18$m=1024,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=1024,t=1,p=1$!!!$a2V5",
		"$argon2id$v=19$m=1024,t=1,p=1$c2FsdA$",
	} {
		ok, err := h.Verify("x", enc)
		assert.False(t, ok)
		require.Error(t, err, "hash %q", enc)
		assert.True(t, errors.Is(err, common.ErrorInternal), "hash %q: %v", enc, err)
		assert.True(t, errors.Is(err, ErrMalformedHash), "hash %q: %v", enc, err)
	}
}

func TestSealer_RoundTrip(t *testing.T) {
	s, err := NewSealer(DeriveKey([]byte("jwt-secret"), "provider-tokens"))
	require.NoError(t, err)

	sealed, err := s.Seal("gho_providertoken")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "gho_providertoken")

	plain, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "gho_providertoken", plain)
}

func TestSealer_RejectsTamperingAndWrongKey(t *testing.T) {
	s1, err := NewSealer(DeriveKey([]byte("k1"), "x"))
	require.NoError(t, err)
	s2, err := NewSealer(DeriveKey([]byte("k2"), "x"))
	require.NoError(t, err)

	sealed, err := s1.Seal("value")
	require.NoError(t, err)

	_, err = s2.Open(sealed)
	assert.Error(t, err)

	_, err = s1.Open("AAAA")
	assert.Error(t, err)

	_, err = NewSealer([]byte("short"))
	assert.Error(t, err)
}

func TestSealer_SealOptional(t *testing.T) {
	s, err := NewSealer(DeriveKey([]byte("k"), "x"))
	require.NoError(t, err)

	v, err := s.SealOptional("")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = s.SealOptional("tok")
	require.NoError(t, err)
	require.NotNil(t, v)
	plain, err := s.Open(*v)
	require.NoError(t, err)
	assert.Equal(t, "tok", plain)
}
