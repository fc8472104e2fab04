package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creditdispatch/inference-broker/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"APP_ENV", "MODE", "DEFAULT_REQUEST_COST", "MAX_REPLENISH_AMOUNT"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "dev", cfg.AppEnv)
	assert.Equal(t, "PROD", cfg.Mode)
	assert.Equal(t, int64(1), cfg.DefaultRequestCost)
	assert.Equal(t, int64(10000), cfg.MaxReplenishAmount)
	assert.True(t, cfg.IsDev())
	assert.False(t, cfg.AutoApprovePending())
}

func TestAutoApprovePending(t *testing.T) {
	cfg := config.Config{Mode: "dev"}
	assert.True(t, cfg.AutoApprovePending())

	cfg.Mode = "PROD"
	assert.False(t, cfg.AutoApprovePending())
}

func TestAdminEnabled(t *testing.T) {
	cfg := config.Config{}
	assert.False(t, cfg.AdminEnabled())

	cfg.AdminUsername = "root"
	cfg.AdminPassword = "secret"
	assert.True(t, cfg.AdminEnabled())
}
