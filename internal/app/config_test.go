package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testenv "github.com/odyssey-erp/odyssey-auth/testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	testenv.SetSecrets(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 720*time.Hour, cfg.RefreshTokenTTL)
	assert.Equal(t, 30*time.Minute, cfg.SessionIdleTimeout)
	assert.Equal(t, 12*time.Hour, cfg.SessionMaxLifetime)
	assert.Equal(t, "odyssey_session", cfg.SessionCookieName)
	assert.False(t, cfg.IsProduction())

	policy := cfg.LockoutPolicy()
	assert.EqualValues(t, 5, policy.IdentityThreshold)
	assert.Equal(t, 15*time.Minute, policy.IdentityWindow)
	assert.EqualValues(t, 50, policy.SourceThreshold)

	params := cfg.PasswordParams()
	assert.EqualValues(t, 65536, params.MemoryKiB)
	assert.EqualValues(t, 3, params.Iterations)
	assert.EqualValues(t, 2, params.Parallelism)
}

func TestLoadConfigRequiresSecrets(t *testing.T) {
	t.Setenv("TOKEN_SIGNING_SECRET", "")
	t.Setenv("PASSWORD_PEPPER", "")
	t.Setenv("SESSION_SECRET", "")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			TokenSigningSecret: testenv.SigningSecret,
			PasswordPepper:     "pepper",
			SessionSecret:      "session-secret",
			AccessTokenTTL:     15 * time.Minute,
			RefreshTokenTTL:    720 * time.Hour,
			SessionIdleTimeout: 30 * time.Minute,
			SessionMaxLifetime: 12 * time.Hour,
			ArgonMemoryKiB:     65536,
			ArgonIterations:    3,
			ArgonParallelism:   2,
		}
	}

	cfg := valid()
	require.NoError(t, cfg.Validate())

	tests := map[string]func(*Config){
		"short signing secret": func(c *Config) { c.TokenSigningSecret = "short" },
		"missing pepper":       func(c *Config) { c.PasswordPepper = "" },
		"missing session key":  func(c *Config) { c.SessionSecret = "" },
		"lifetime below idle":  func(c *Config) { c.SessionMaxLifetime = time.Minute },
		"refresh below access": func(c *Config) { c.RefreshTokenTTL = time.Minute },
		"weak argon in prod": func(c *Config) {
			c.AppEnv = "production"
			c.ArgonIterations = 1
		},
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	dev := valid()
	dev.ArgonIterations = 1
	assert.NoError(t, dev.Validate(), "weak argon is tolerated outside production")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel("debug").String())
	assert.Equal(t, "WARN", parseLevel(" Warning ").String())
	assert.Equal(t, "ERROR", parseLevel("error").String())
	assert.Equal(t, "INFO", parseLevel("").String())
}

func TestInTestMode(t *testing.T) {
	assert.True(t, InTestMode(), "importing the testing package enables test mode")
	t.Setenv(TestModeEnv, "1")
	assert.True(t, InTestMode())
	t.Setenv(TestModeEnv, "false")
	assert.False(t, InTestMode())
	t.Setenv(TestModeEnv, "")
	assert.False(t, InTestMode())
}
