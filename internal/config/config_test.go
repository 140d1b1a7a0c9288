package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("SHUFTI_CLIENT_ID", "client")
	t.Setenv("SHUFTI_SECRET_KEY", "secret")
	t.Setenv("CALLBACK_URL", "https://api.example.com/kyc/webhook")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "https://api.shuftipro.com", cfg.KYC.BaseURL)
	assert.Equal(t, time.Hour, cfg.KYC.VerificationTTL)
	assert.Equal(t, 30*time.Second, cfg.KYC.WebhookTimeout)
	assert.Equal(t, 3, cfg.KYC.MaxAttempts)
	assert.Equal(t, []string{"passport", "id_card", "driving_license"}, cfg.KYC.DocumentTypes)
	assert.True(t, cfg.IsDevelopment())
	assert.Same(t, cfg, Get())
}

func TestLoadConfigOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ENVIRONMENT", "Production")
	t.Setenv("SHUFTI_BASE_URL", "https://sandbox.example.com/")
	t.Setenv("VERIFICATION_TTL", "43200")
	t.Setenv("WEBHOOK_TIMEOUT", "10")
	t.Setenv("MAX_VERIFICATION_ATTEMPTS", "5")
	t.Setenv("KYC_SUPPORTED_COUNTRIES", "us, gb ,")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "https://sandbox.example.com", cfg.KYC.BaseURL)
	assert.Equal(t, 12*time.Hour, cfg.KYC.VerificationTTL)
	assert.Equal(t, 10*time.Second, cfg.KYC.WebhookTimeout)
	assert.Equal(t, 5, cfg.KYC.MaxAttempts)
	assert.Equal(t, []string{"us", "gb"}, cfg.KYC.SupportedCountries)
}

func TestLoadConfigCollectsErrors(t *testing.T) {
	t.Setenv("ENVIRONMENT", "staging")
	t.Setenv("SHUFTI_CLIENT_ID", "")
	t.Setenv("SHUFTI_SECRET_KEY", "")
	t.Setenv("CALLBACK_URL", "")
	t.Setenv("VERIFICATION_TTL", "60")
	t.Setenv("MAX_VERIFICATION_ATTEMPTS", "11")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))

	for _, want := range []string{
		"ENVIRONMENT",
		"SHUFTI_CLIENT_ID",
		"SHUFTI_SECRET_KEY",
		"CALLBACK_URL",
		"VERIFICATION_TTL",
		"MAX_VERIFICATION_ATTEMPTS",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestDebugModeForcesDebugLevel(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.False(t, cfg.DebugMode)
	assert.Equal(t, "warn", cfg.LogLevel())

	t.Setenv("DEBUG_MODE", "true")
	cfg, err = LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.DebugMode)
	assert.Equal(t, "debug", cfg.LogLevel())
}
