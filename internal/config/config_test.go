package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 3001, cfg.Port)
	assert.Equal(t, 4000, cfg.Workers.PortRangeLow)
	assert.Equal(t, 4100, cfg.Workers.PortRangeHigh)
}

func TestLoad_CreatesDefaultWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3001, cfg.Port)

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("ZEUS_TEST_PROMPT", "be helpful")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Default()
	cfg.Providers[0].SystemPrompt = "${ZEUS_TEST_PROMPT}"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "be helpful", loaded.Providers[0].SystemPrompt)
}

func TestValidate_RejectsBadPortRange(t *testing.T) {
	cfg := Default()
	cfg.Workers.PortRangeHigh = cfg.Workers.PortRangeLow
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsDuplicateProviders(t *testing.T) {
	cfg := Default()
	cfg.Providers = append(cfg.Providers, ProviderConfig{Name: cfg.Providers[0].Name})
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsUnknownLaunchMode(t *testing.T) {
	cfg := Default()
	cfg.Workers.LaunchMode = "vm"
	assert.Error(t, cfg.Validate())
}

func TestProvider_LookupByName(t *testing.T) {
	cfg := Default()
	p := cfg.Provider("claude")
	require.NotNil(t, p)
	assert.Equal(t, "claude-sonnet-4-6", p.DefaultModel)

	assert.Nil(t, cfg.Provider("nonexistent"))
}

func TestLoadSecretsFile_DoesNotOverrideExistingEnv(t *testing.T) {
	t.Setenv("ZEUS_SECRET_KEY", "from-shell")

	dir := t.TempDir()
	secrets := filepath.Join(dir, "secrets.env")
	require.NoError(t, os.WriteFile(secrets, []byte("ZEUS_SECRET_KEY=from-file\n"), 0600))

	cfg := Default()
	cfg.SecretsFile = secrets
	require.NoError(t, cfg.loadSecretsFile())

	assert.Equal(t, "from-shell", os.Getenv("ZEUS_SECRET_KEY"))
}
