package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snackapp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
project_url: https://proj.supabase.co
anon_key: anon-123
timeout: 10s
log_level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://proj.supabase.co", cfg.ProjectURL)
	assert.Equal(t, "anon-123", cfg.AnonKey)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
project_url: https://proj.supabase.co
anon_key: from-file
`)
	t.Setenv("SNACKAPP_ANON_KEY", "from-env")
	t.Setenv("SNACKAPP_REFRESH_TOKEN", "rt-1")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.AnonKey)
	assert.Equal(t, "rt-1", cfg.RefreshToken)
	assert.Equal(t, 30*time.Second, cfg.Timeout, "default timeout applies")
}

func TestEnvOnly(t *testing.T) {
	t.Setenv("SNACKAPP_PROJECT_URL", "https://env.supabase.co")
	t.Setenv("SNACKAPP_ANON_KEY", "anon-env")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err, "a missing config file is not an error")
	assert.Equal(t, "https://env.supabase.co", cfg.ProjectURL)
}

func TestLoadRejectsIncomplete(t *testing.T) {
	path := writeConfig(t, `anon_key: only-key`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "project_url")
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "project_url: [unclosed")

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := &Config{ProjectURL: "https://x", AnonKey: "k", Timeout: time.Second}
	assert.NoError(t, cfg.Validate())

	cfg.Timeout = 0
	assert.Error(t, cfg.Validate())
}
