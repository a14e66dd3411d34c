package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TRELLIS_DB_PATH", filepath.Join(t.TempDir(), "trellis.db"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 5, cfg.LockoutThreshold)
	assert.Equal(t, 15, cfg.LockoutMinutes)
	assert.Equal(t, 365, cfg.RetentionDays)
	assert.Equal(t, 587, cfg.SMTP.Port)
	assert.Equal(t, "starttls", cfg.SMTP.Encryption)
	assert.Empty(t, cfg.AlertURLs)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TRELLIS_DB_PATH", filepath.Join(t.TempDir(), "trellis.db"))
	t.Setenv("TRELLIS_ENV", "production")
	t.Setenv("TRELLIS_LOCKOUT_THRESHOLD", "3")
	t.Setenv("TRELLIS_LOCKOUT_MINUTES", "not-a-number")
	t.Setenv("TRELLIS_ALERT_URLS", " discord://tok@chan , , gotify://host/tok ")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 3, cfg.LockoutThreshold)
	// Unparseable integers keep the default.
	assert.Equal(t, 15, cfg.LockoutMinutes)
	assert.Equal(t, []string{"discord://tok@chan", "gotify://host/tok"}, cfg.AlertURLs)
}
