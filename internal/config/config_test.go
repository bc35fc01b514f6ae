// File: internal/config/config_test.go
package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "console", cfg.Logger.Format)
	assert.Equal(t, "enroll-cli", cfg.Logger.ServiceName)

	assert.Equal(t, 40001, cfg.Proxy.PortRangeStart)
	assert.Equal(t, 49999, cfg.Proxy.PortRangeEnd)

	assert.Equal(t, "file", cfg.Ledger.Backend)
	assert.Equal(t, 30*time.Minute, cfg.Ledger.StaleReservationAge)

	assert.Equal(t, 45*time.Second, cfg.Workflow.StageTimeout)
	assert.Equal(t, 3, cfg.Workflow.StageRetries)
	assert.Equal(t, 1, cfg.Workflow.Concurrency)
	assert.Equal(t, "exponential", cfg.Workflow.BackoffPolicy)

	assert.Equal(t, 2*time.Minute, cfg.OTP.Timeout)
	assert.Equal(t, "skip", cfg.OTP.SkipToken)
	assert.Equal(t, "127.0.0.1:8484", cfg.OTP.CallbackAddr)

	assert.Equal(t, 2, cfg.Provisioner.RetryBudget)

	require.NoError(t, cfg.Validate())
}

func TestNewConfigFromViperOverrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("workflow.concurrency", 4)
	v.Set("workflow.stage_timeout", "90s")
	v.Set("ledger.backend", "postgres")
	v.Set("ledger.postgres_url", "postgres://localhost/enroll")

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Workflow.Concurrency)
	assert.Equal(t, 90*time.Second, cfg.Workflow.StageTimeout)
	assert.Equal(t, "postgres", cfg.Ledger.Backend)
}

func TestExpandPathsAnchorsRelativeToDataDir(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("paths.data_dir", t.TempDir())

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	assert.True(t, filepath.IsAbs(cfg.Paths.PoolFile), "pool file: %s", cfg.Paths.PoolFile)
	assert.True(t, filepath.IsAbs(cfg.Paths.LedgerFile), "ledger file: %s", cfg.Paths.LedgerFile)
	assert.True(t, filepath.IsAbs(cfg.Paths.AccountsDir), "accounts dir: %s", cfg.Paths.AccountsDir)
}

func TestValidateRejectsBadValues(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{"zero concurrency", func(cfg *Config) { cfg.Workflow.Concurrency = 0 }},
		{"negative retries", func(cfg *Config) { cfg.Workflow.StageRetries = -1 }},
		{"inverted port range", func(cfg *Config) {
			cfg.Proxy.PortRangeStart = 5000
			cfg.Proxy.PortRangeEnd = 4000
		}},
		{"unknown ledger backend", func(cfg *Config) { cfg.Ledger.Backend = "dynamodb" }},
		{"postgres backend without url", func(cfg *Config) {
			cfg.Ledger.Backend = "postgres"
			cfg.Ledger.PostgresURL = ""
		}},
		{"unknown backoff policy", func(cfg *Config) { cfg.Workflow.BackoffPolicy = "jittered" }},
		{"callback mode without address", func(cfg *Config) {
			cfg.OTP.Mode = "callback"
			cfg.OTP.CallbackAddr = ""
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
