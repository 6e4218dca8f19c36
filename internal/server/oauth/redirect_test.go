package oauth

import (
	"testing"

	"github.com/safatanc/safatanc-connect-core/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedirectPolicy_Resolve(t *testing.T) {
	p, err := NewRedirectPolicy("https://app.example.com/base/", []string{"https://admin.example.com"})
	require.NoError(t, err)

	ok := map[string]string{
		"":                                "",
		"/dashboard":                      "https://app.example.com/dashboard",
		"https://app.example.com/x?y=1":   "https://app.example.com/x?y=1",
		"https://ADMIN.example.com/panel": "https://ADMIN.example.com/panel",
	}
	for in, want := range ok {
		got, err := p.Resolve(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{
		"https://evil.example.net",
		"//evil.example.net/x",
		`/\evil.example.net`,
		"javascript:alert(1)",
		"relative/path",
		"http://app.example.com/x",
		"https://user@app.example.com/x",
		"https://app.example.com.evil.net/",
	} {
		_, err := p.Resolve(in)
		assert.ErrorIs(t, err, common.ErrValidation, in)
	}
}

func TestNewRedirectPolicy_Invalid(t *testing.T) {
	_, err := NewRedirectPolicy("app.example.com", nil)
	assert.ErrorIs(t, err, common.ErrConfiguration)

	_, err = NewRedirectPolicy("https://app.example.com", []string{"not a url"})
	assert.ErrorIs(t, err, common.ErrConfiguration)
}
