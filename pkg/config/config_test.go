package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setTokenEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ACCESS_TOKEN_SECRET", "access-secret")
	t.Setenv("REFRESH_TOKEN_SECRET", "refresh-secret")
	t.Setenv("ACCESS_TOKEN_EXPIRY", "15m")
	t.Setenv("REFRESH_TOKEN_EXPIRY", "30d")
	t.Setenv("TOKEN_ISSUER", "course-api")
	t.Setenv("TOKEN_AUDIENCE", "course-web")
}

func TestLoadWithTokenSettings(t *testing.T) {
	setTokenEnv(t)
	t.Setenv("ENV", EnvProduction)
	t.Setenv("DEV_ACCESS_TOKEN_EXPIRY", "12h")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "access-secret", cfg.Token.AccessSecret)
	assert.Equal(t, "30d", cfg.Token.RefreshExpiry)
	assert.Equal(t, "course-web", cfg.Token.Audience)
	assert.Equal(t, "15m", cfg.Token.EffectiveAccessExpiry(cfg.Env))
	assert.Equal(t, "12h", cfg.Token.EffectiveAccessExpiry(EnvDevelopment))
	assert.Equal(t, time.Hour, cfg.Housekeeping.Interval)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
}

func TestLoadFailsWithoutSecrets(t *testing.T) {
	setTokenEnv(t)
	t.Setenv("ACCESS_TOKEN_SECRET", "")
	t.Setenv("TOKEN_AUDIENCE", "")

	_, err := Load()
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Problems, "ACCESS_TOKEN_SECRET is required")
	assert.Contains(t, verr.Problems, "TOKEN_AUDIENCE is required")
}

func TestValidateRejectsSharedSecretAndBadExpiry(t *testing.T) {
	cfg := &Config{Token: TokenConfig{
		AccessSecret:  "same",
		RefreshSecret: "same",
		AccessExpiry:  "15 minutes",
		RefreshExpiry: "30d",
		Issuer:        "course-api",
		Audience:      "course-web",
	}}

	err := cfg.Validate()
	require.Error(t, err)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Problems, 2)
	assert.Contains(t, err.Error(), "must differ")
	assert.Contains(t, err.Error(), "ACCESS_TOKEN_EXPIRY")
}

func TestValidateLeewayBounds(t *testing.T) {
	cfg := &Config{Token: TokenConfig{
		AccessSecret:  "a",
		RefreshSecret: "b",
		AccessExpiry:  "15m",
		RefreshExpiry: "30d",
		Issuer:        "course-api",
		Audience:      "course-web",
		Leeway:        5 * time.Minute,
	}}
	assert.Error(t, cfg.Validate())

	cfg.Token.Leeway = 5 * time.Second
	assert.NoError(t, cfg.Validate())
}

func TestValidateBootstrapPair(t *testing.T) {
	cfg := &Config{
		Token: TokenConfig{
			AccessSecret:  "a",
			RefreshSecret: "b",
			AccessExpiry:  "15m",
			RefreshExpiry: "30d",
			Issuer:        "course-api",
			Audience:      "course-web",
		},
		Bootstrap: BootstrapConfig{AdminEmail: "root@example.com"},
	}
	assert.ErrorContains(t, cfg.Validate(), "BOOTSTRAP_ADMIN_PASSWORD")

	cfg.Bootstrap.AdminPassword = "bootstrap-pass"
	assert.NoError(t, cfg.Validate())
}

func TestLoadDefaultsToProduction(t *testing.T) {
	setTokenEnv(t)
	t.Setenv("ENV", "")
	t.Setenv("DEV_ACCESS_TOKEN_EXPIRY", "12h")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, EnvProduction, cfg.Env)
	assert.Equal(t, "15m", cfg.Token.EffectiveAccessExpiry(cfg.Env))
}

func TestLoadRejectsUnparseableLeeway(t *testing.T) {
	setTokenEnv(t)
	t.Setenv("TOKEN_LEEWAY", "five seconds")

	_, err := Load()
	require.Error(t, err)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Problems, 1)
	assert.Contains(t, verr.Problems[0], "TOKEN_LEEWAY")
}

func TestLoadParsesLeeway(t *testing.T) {
	setTokenEnv(t)
	t.Setenv("TOKEN_LEEWAY", "5s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Token.Leeway)
}
