package config

import (
	"errors"
	"testing"
	"time"

	"github.com/safatanc/safatanc-connect-core/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, ":50051", c.EndpointAddrGRPC)
	assert.Equal(t, ":9090", c.MetricsAddr)
	assert.Equal(t, "secretKey", c.SecretKey)
	assert.Equal(t, time.Hour, c.AccessTokenValidityDuration)
	assert.Equal(t, 7*24*time.Hour, c.RefreshTokenValidityDuration)
	assert.Equal(t, 24*time.Hour, c.EmailVerificationTTL)
	assert.Equal(t, 24*time.Hour, c.PasswordResetTTL)
	assert.Equal(t, "@hourly", c.PurgeSchedule)
	require.Contains(t, c.Providers, "google")
	require.Contains(t, c.Providers, "github")
	assert.Equal(t, "https://oauth2.googleapis.com/token", c.Providers["google"].TokenURL)
	assert.Equal(t, "https://api.github.com/user", c.Providers["github"].UserInfoURL)
	assert.Equal(t, "http://localhost:8080/api/auth/oauth/github/callback", c.Providers["github"].RedirectURL)
	assert.False(t, c.Providers["google"].Enabled)
}

func TestLoad_UsesDefaultsWithoutOverrides(t *testing.T) {
	c, err := load(nil, map[string]string{})
	require.NoError(t, err)

	var want Config
	want.LoadDefaults()
	assert.Equal(t, &want, c)
}

func TestLoad_Precedence(t *testing.T) {
	path := writeTempJSON(t, map[string]any{
		"endpoint_addr_grpc": ":7000",
		"database_dsn":       "postgres://file",
		"frontend_url":       "https://file.example",
	})

	c, err := load([]string{"-c", path, "-a", ":9000"}, map[string]string{
		"CONNECT_GRPC_ADDRESS": ":8000",
		"CONNECT_DATABASE_DSN": "postgres://env",
	})
	require.NoError(t, err)

	assert.Equal(t, ":9000", c.EndpointAddrGRPC, "flags win over env")
	assert.Equal(t, "postgres://env", c.DatabaseDSN, "env wins over file")
	assert.Equal(t, "https://file.example", c.FrontendURL, "file wins over defaults")
}

func TestValidate(t *testing.T) {
	var c Config
	c.LoadDefaults()
	require.NoError(t, c.Validate())

	c.SecretKey = ""
	c.StateTTL = 0
	c.Providers["google"] = ProviderConfig{Enabled: true}

	err := c.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrConfiguration))
	assert.Contains(t, err.Error(), "jwt secret is empty")
	assert.Contains(t, err.Error(), "oauth state ttl must be positive")
	assert.Contains(t, err.Error(), "provider google is enabled but incomplete")
}

func TestProviderDefinitions(t *testing.T) {
	var c Config
	c.LoadDefaults()
	p := c.Providers["google"]
	p.ClientID = "cid"
	p.Enabled = true
	c.Providers["google"] = p

	defs := c.ProviderDefinitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "github", defs[0].Key)
	assert.False(t, defs[0].Active)
	assert.Equal(t, "google", defs[1].Key)
	assert.True(t, defs[1].Active)
	assert.Equal(t, "cid", defs[1].ClientID)
	assert.Equal(t, "openid email profile", defs[1].Scope)
	assert.Equal(t, "https://www.googleapis.com/oauth2/v2/userinfo", defs[1].ProfileURL)
}

func TestKeys_DerivedFromSecretUnlessSet(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Len(t, c.SealKey(), 32)
	assert.NotEqual(t, c.StateKey(), c.SealKey())

	derived := c.StateKey()
	c.StateSecret = "explicit"
	assert.Equal(t, []byte("explicit"), c.StateKey())
	assert.NotEqual(t, derived, c.StateKey())
}
