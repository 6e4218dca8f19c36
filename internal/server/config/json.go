package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/safatanc/safatanc-connect-core/internal/flagx"
	"github.com/safatanc/safatanc-connect-core/internal/timex"
)

// JsonConfig is the file form of Config. Durations accept strings such as
// "15m" or integer nanoseconds. Zero values leave the current setting alone.
type JsonConfig struct {
	EndpointAddrGRPC             string                    `json:"endpoint_addr_grpc"`
	MetricsAddr                  string                    `json:"metrics_addr"`
	DatabaseDSN                  string                    `json:"database_dsn"`
	SecretKey                    string                    `json:"secret_key"`
	AccessTokenValidityDuration  timex.Duration            `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration timex.Duration            `json:"refresh_token_validity_duration"`
	EmailVerificationTTL         timex.Duration            `json:"email_verification_ttl"`
	PasswordResetTTL             timex.Duration            `json:"password_reset_ttl"`
	StateSecret                  string                    `json:"oauth_state_secret"`
	StateTTL                     timex.Duration            `json:"oauth_state_ttl"`
	TokenEncryptionKey           string                    `json:"token_encryption_key"`
	FrontendURL                  string                    `json:"frontend_url"`
	AllowedRedirectOrigins       []string                  `json:"allowed_redirect_origins"`
	Argon2                       *Argon2Config             `json:"argon2"`
	PurgeSchedule                string                    `json:"purge_schedule"`
	PurgeTimeout                 timex.Duration            `json:"purge_timeout"`
	LastLoginWorkers             int64                     `json:"last_login_workers"`
	LogLevel                     string                    `json:"log_level"`
	Providers                    map[string]ProviderConfig `json:"providers"`
}

// parseJson overlays the JSON file named by -c or -config, if any.
// Provider entries override the preset of the same key only in the
// non-empty fields they set; "enabled" is always taken from the file.
func parseJson(config *Config, args []string) error {

	jsonConfigFile := flagx.ConfigPath(args)

	// nothing to load
	if jsonConfigFile == "" {
		return nil
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.MetricsAddr, c.MetricsAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)
	setDuration(&config.RefreshTokenValidityDuration, c.RefreshTokenValidityDuration)
	setDuration(&config.EmailVerificationTTL, c.EmailVerificationTTL)
	setDuration(&config.PasswordResetTTL, c.PasswordResetTTL)
	setString(&config.StateSecret, c.StateSecret)
	setDuration(&config.StateTTL, c.StateTTL)
	setString(&config.TokenEncryptionKey, c.TokenEncryptionKey)
	setString(&config.FrontendURL, c.FrontendURL)
	if c.AllowedRedirectOrigins != nil {
		config.AllowedRedirectOrigins = c.AllowedRedirectOrigins
	}
	if c.Argon2 != nil {
		config.Argon2 = *c.Argon2
	}
	setString(&config.PurgeSchedule, c.PurgeSchedule)
	setDuration(&config.PurgeTimeout, c.PurgeTimeout)
	if c.LastLoginWorkers > 0 {
		config.LastLoginWorkers = c.LastLoginWorkers
	}
	setString(&config.LogLevel, c.LogLevel)

	for key, p := range c.Providers {
		config.Providers[key] = mergeProvider(config.Providers[key], p)
	}

	return nil
}

func mergeProvider(base, over ProviderConfig) ProviderConfig {
	setString(&base.DisplayName, over.DisplayName)
	setString(&base.ClientID, over.ClientID)
	setString(&base.ClientSecret, over.ClientSecret)
	setString(&base.AuthURL, over.AuthURL)
	setString(&base.TokenURL, over.TokenURL)
	setString(&base.UserInfoURL, over.UserInfoURL)
	setString(&base.RedirectURL, over.RedirectURL)
	if over.Scopes != nil {
		base.Scopes = over.Scopes
	}
	base.Enabled = over.Enabled
	return base
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
