package server

import (
	"testing"

	"github.com/creasty/defaults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) *Config {
	t.Helper()

	cfg := &Config{}
	require.NoError(t, defaults.Set(cfg))

	cfg.Database.Host = "localhost"
	cfg.Database.Database = "warehouse"
	cfg.Database.Username = "granary"
	cfg.Redis.Address = "localhost:6379"

	return cfg
}

func TestConfigValidate(t *testing.T) {
	cfg := validConfig(t)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "info", cfg.Logging)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, "granary", cfg.Redis.Prefix)
	assert.Equal(t, "./exports", cfg.Export.Directory)
}

func TestConfigValidatePropagatesSectionErrors(t *testing.T) {
	cfg := validConfig(t)
	cfg.Redis.Address = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}

func TestConfigValidateRequiresDatabase(t *testing.T) {
	cfg := validConfig(t)
	cfg.Database.Host = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database")
}
