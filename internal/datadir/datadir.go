package datadir

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default data directory name under $HOME.
	DefaultDirName = ".zeus"

	// EnvVar is the environment variable that overrides the data directory.
	EnvVar = "ZEUS_DATA_DIR"

	// subdirectory names inside the data root
	configSubdir    = "config"
	promptsSubdir   = "prompts"
	workspaceSubdir = "workspace"
	databaseSubdir  = "data"
	logsSubdir      = "logs"
)

// DataDir provides a single source of truth for all data-directory paths.
// Use New to construct an instance, which resolves the root and optionally
// creates the directory tree.
type DataDir struct {
	root string
}

// New returns a DataDir rooted at the resolved data directory.
// It does NOT create subdirectories; call EnsureDirs for that.
//
// Resolution priority:
//  1. ZEUS_DATA_DIR environment variable
//  2. configValue argument (from config.json data_dir field)
//  3. ~/.zeus/
func New(configValue string) (*DataDir, error) {
	root, err := resolveRoot(configValue)
	if err != nil {
		return nil, err
	}
	return &DataDir{root: root}, nil
}

// Root returns the base data directory path.
func (d *DataDir) Root() string { return d.root }

// ConfigDir returns {root}/config/.
func (d *DataDir) ConfigDir() string { return filepath.Join(d.root, configSubdir) }

// PromptsDir returns {root}/prompts/, the shared directory ConfigStore
// materializes per-provider system prompt files into and workers bind-mount
// read-only.
func (d *DataDir) PromptsDir() string { return filepath.Join(d.root, promptsSubdir) }

// WorkspaceDir returns {root}/workspace/, bind-mounted read/write into
// every launched worker.
func (d *DataDir) WorkspaceDir() string { return filepath.Join(d.root, workspaceSubdir) }

// DatabaseDir returns {root}/data/.
func (d *DataDir) DatabaseDir() string { return filepath.Join(d.root, databaseSubdir) }

// LogsDir returns {root}/logs/. Worker output tails for the get_logs
// command are kept in memory by the Launcher, not written here.
func (d *DataDir) LogsDir() string { return filepath.Join(d.root, logsSubdir) }

// PromptFilePath returns the path to a provider's materialized system
// prompt file.
func (d *DataDir) PromptFilePath(provider string) string {
	return filepath.Join(d.PromptsDir(), provider+".txt")
}

// FilePath returns the full path to a file directly inside the root directory.
func (d *DataDir) FilePath(filename string) string {
	return filepath.Join(d.root, filename)
}

// subdirectories returns all managed subdirectory paths.
func (d *DataDir) subdirectories() []string {
	return []string{
		d.ConfigDir(),
		d.PromptsDir(),
		d.WorkspaceDir(),
		d.DatabaseDir(),
		d.LogsDir(),
	}
}

// EnsureDirs creates the root and all subdirectories with 0700 permissions.
func (d *DataDir) EnsureDirs() error {
	dirs := append([]string{d.root}, d.subdirectories()...)
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// resolveRoot determines the root path without creating it.
func resolveRoot(configValue string) (string, error) {
	dir := os.Getenv(EnvVar)
	if dir == "" {
		dir = configValue
	}
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		dir = filepath.Join(home, DefaultDirName)
	}
	return dir, nil
}
