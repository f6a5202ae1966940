package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-filecache/types"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
name: test-cache
store:
  type: disk
  cleanup_interval: 1m
  config:
    path: /tmp/test-cache
    compression: brotli
signature:
  algorithm: sha512
interval:
  default: "0 8 * * *"
  timezone: Europe/Berlin
`)

	loader := NewLoader()
	cfg, err := loader.LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "test-cache", cfg.Name)
	assert.Equal(t, "disk", cfg.Store.Type)
	assert.Equal(t, "1m", cfg.Store.CleanupInterval)
	assert.Equal(t, "sha512", cfg.Signature.Algorithm)
	assert.Equal(t, "0 8 * * *", cfg.Interval.Default)
	assert.Equal(t, "Europe/Berlin", cfg.Interval.Timezone)
}

func TestLoadFromFileAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
name: minimal
`)

	loader := NewLoader()
	cfg, err := loader.LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, "sha256", cfg.Signature.Algorithm)
	assert.Equal(t, "24h", cfg.Interval.Default)
	assert.False(t, cfg.Metrics.Enabled)
	assert.False(t, cfg.Server.Enabled)
}

func TestLoadFromFileErrors(t *testing.T) {
	loader := NewLoader()

	t.Run("empty path", func(t *testing.T) {
		_, err := loader.LoadFromFile("")
		assert.ErrorIs(t, err, types.ErrConfigNotFound)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := loader.LoadFromFile(filepath.Join(t.TempDir(), "absent.yml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := writeConfigFile(t, "name: [unclosed")
		_, err := loader.LoadFromFile(path)
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	loader := NewLoader()

	t.Run("nil config", func(t *testing.T) {
		assert.ErrorIs(t, loader.Validate(nil), types.ErrConfigIsNil)
	})

	t.Run("missing store type", func(t *testing.T) {
		cfg := loader.Defaults()
		cfg.Store.Type = ""

		assert.Error(t, loader.Validate(cfg))
	})

	t.Run("invalid server port", func(t *testing.T) {
		cfg := loader.Defaults()
		cfg.Server.Port = 70000

		assert.Error(t, loader.Validate(cfg))
	})

	t.Run("defaults are valid", func(t *testing.T) {
		assert.NoError(t, loader.Validate(loader.Defaults()))
	})
}

func TestManagerWithConfig(t *testing.T) {
	t.Run("fills defaults", func(t *testing.T) {
		manager, err := NewManagerWithConfig(&types.Config{Name: "partial"})
		require.NoError(t, err)

		cfg := manager.GetConfig()
		assert.Equal(t, "partial", cfg.Name)
		assert.Equal(t, "memory", cfg.Store.Type)
		assert.Equal(t, "sha256", cfg.Signature.Algorithm)
	})

	t.Run("nil config", func(t *testing.T) {
		_, err := NewManagerWithConfig(nil)
		assert.ErrorIs(t, err, types.ErrConfigIsNil)
	})
}
