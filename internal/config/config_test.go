package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "JWT_SECRET", "POLL_INTERVAL", "POLL_MAX_ATTEMPTS", "SIGNUP_BONUS", "CORS_ALLOWED_ORIGINS"} {
		t.Setenv(k, "")
	}
	cfg := Load()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, 10*time.Second, cfg.Jobs.PollInterval)
	assert.Equal(t, 60, cfg.Jobs.PollMaxAttempts)
	assert.Equal(t, 15*time.Minute, cfg.Jobs.PollMaxDuration)
	assert.EqualValues(t, 100, cfg.Ledger.SignupBonus)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("POLL_INTERVAL", "2s")
	t.Setenv("POLL_MAX_DURATION", "120")
	t.Setenv("POLL_MAX_ATTEMPTS", "5")
	t.Setenv("PROVIDER_TIMEOUT", "not-a-duration")
	t.Setenv("SIGNUP_BONUS", "25")

	cfg := Load()

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, 2*time.Second, cfg.Jobs.PollInterval)
	assert.Equal(t, 2*time.Minute, cfg.Jobs.PollMaxDuration)
	assert.Equal(t, 5, cfg.Jobs.PollMaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Provider.Timeout)
	assert.EqualValues(t, 25, cfg.Ledger.SignupBonus)
}
