package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDefaults(t *testing.T) {
	cfg := &Config{Telegram: TelegramConfig{Token: "t", RunMode: "polling"}}
	require.NoError(t, Normalize(cfg))
	assert.Equal(t, RunModeLongpoll, cfg.Telegram.RunMode)
	assert.Equal(t, 50, cfg.Logging.MaxSizeMB)
}

func TestNormalizeRejects(t *testing.T) {
	assert.Error(t, Normalize(&Config{}))
	assert.Error(t, Normalize(&Config{Telegram: TelegramConfig{Token: "t", RunMode: "webhook"}}))
	assert.Error(t, Normalize(&Config{
		Telegram:  TelegramConfig{Token: "t"},
		RateLimit: RateLimitConfig{ExcludeUpdates: []string{"poll"}},
	}))
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("telegram:\n  token: from-file\n  admin_ids: [1, 2]\n"), 0o600))
	t.Setenv("BOT_TOKEN", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Telegram.Token)
	assert.True(t, cfg.Telegram.IsAdmin(2))
	assert.False(t, cfg.Telegram.IsAdmin(3))
}
