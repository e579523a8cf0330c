package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adaptivecoach/memcore/types"
)

func TestDefaultConfigIsValid(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 7, cfg.Memory.RetentionDays)
	assert.Equal(t, 3900, cfg.Budgets.Global)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "memcore.yaml")
	data := []byte("budgets:\n  global: 5000\nmemory:\n  retention_days: 14\n  session_ttl: 30m\n")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.Budgets.Global)
	assert.Equal(t, 14, cfg.Memory.RetentionDays)
	assert.Equal(t, 30*time.Minute, cfg.Memory.SessionTTL.Std())
	// Untouched keys keep their defaults.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("MEMCORE_REDIS_ADDR", "redis:7000")
	t.Setenv("MEMCORE_RETENTION_DAYS", "3")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "redis:7000", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Memory.RetentionDays)
}

func TestValidate_ProtectedBudgetsExceedGlobal(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Budgets.Global = 600 // < fixed(500) + query(200)
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, types.IsConfiguration(err))
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
