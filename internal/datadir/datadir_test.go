package datadir

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_EnvVarWins(t *testing.T) {
	dir := t.TempDir()
	envDir := filepath.Join(dir, "env-root")
	t.Setenv(EnvVar, envDir)

	dd, err := New("ignored-config-value")
	require.NoError(t, err)
	assert.Equal(t, envDir, dd.Root())
}

func TestNew_ConfigFallback(t *testing.T) {
	t.Setenv(EnvVar, "")
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "from-config")

	dd, err := New(cfgDir)
	require.NoError(t, err)
	assert.Equal(t, cfgDir, dd.Root())
}

func TestNew_DefaultHome(t *testing.T) {
	t.Setenv(EnvVar, "")
	home, _ := os.UserHomeDir()

	dd, err := New("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, DefaultDirName), dd.Root())
}

func TestDataDir_Subdirectories(t *testing.T) {
	root := t.TempDir()
	t.Setenv(EnvVar, root)

	dd, err := New("")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "config"), dd.ConfigDir())
	assert.Equal(t, filepath.Join(root, "prompts"), dd.PromptsDir())
	assert.Equal(t, filepath.Join(root, "workspace"), dd.WorkspaceDir())
	assert.Equal(t, filepath.Join(root, "data"), dd.DatabaseDir())
	assert.Equal(t, filepath.Join(root, "logs"), dd.LogsDir())
}

func TestDataDir_FilePaths(t *testing.T) {
	root := t.TempDir()
	t.Setenv(EnvVar, root)

	dd, err := New("")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "somefile"), dd.FilePath("somefile"))
	assert.Equal(t, filepath.Join(root, "prompts", "claude.txt"), dd.PromptFilePath("claude"))
}

func TestDataDir_EnsureDirs(t *testing.T) {
	root := filepath.Join(t.TempDir(), "fresh")
	t.Setenv(EnvVar, root)

	dd, err := New("")
	require.NoError(t, err)

	// Before EnsureDirs, root should not exist.
	_, err = os.Stat(root)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, dd.EnsureDirs())

	// All subdirectories should exist with 0700.
	for _, dir := range []string{
		dd.Root(),
		dd.ConfigDir(),
		dd.PromptsDir(),
		dd.WorkspaceDir(),
		dd.DatabaseDir(),
		dd.LogsDir(),
	} {
		info, err := os.Stat(dir)
		require.NoError(t, err, "dir should exist: %s", dir)
		assert.True(t, info.IsDir(), "should be directory: %s", dir)
		assert.Equal(t, os.FileMode(0700), info.Mode().Perm(), "permissions of %s", dir)
	}
}

func TestDataDir_EnsureDirs_Idempotent(t *testing.T) {
	root := t.TempDir()
	t.Setenv(EnvVar, root)

	dd, err := New("")
	require.NoError(t, err)

	require.NoError(t, dd.EnsureDirs())
	// Write a file into one of the subdirs.
	require.NoError(t, os.WriteFile(filepath.Join(dd.WorkspaceDir(), "test"), []byte("data"), 0600))

	// Second call should not fail or remove the file.
	require.NoError(t, dd.EnsureDirs())

	data, err := os.ReadFile(filepath.Join(dd.WorkspaceDir(), "test"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
}
