// Package configstore owns per-provider runtime configuration: reading
// it, applying patches, and materializing system prompts to the shared
// file workers read from. Per spec.md §4.6.
package configstore

import (
	"fmt"
	"os"
	"sync"

	"zeusgateway/internal/config"
	"zeusgateway/internal/datadir"
	"zeusgateway/internal/registry"
)

// Patch describes a partial update to a ProviderConfig. Nil fields are
// left unchanged.
type Patch struct {
	Model        *string
	SystemPrompt *string
	AutoSpawn    *bool
	Env          map[string]string // merged key by key, never wholesale replaced
}

// Store is the gateway's single source of truth for provider
// configuration, guarding config.Config's provider slice with its own
// lock since multiple Router goroutines may read/update concurrently.
type Store struct {
	mu      sync.Mutex
	cfg     *config.Config
	dataDir *datadir.DataDir
	reg     *registry.Registry
}

// New constructs a Store over cfg's provider list.
func New(cfg *config.Config, dd *datadir.DataDir, reg *registry.Registry) *Store {
	return &Store{cfg: cfg, dataDir: dd, reg: reg}
}

// Get returns a copy of provider's current configuration.
func (s *Store) Get(provider string) (config.ProviderConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.cfg.Provider(provider)
	if p == nil {
		return config.ProviderConfig{}, false
	}
	return *p, true
}

// Update applies patch to provider's configuration and returns the ids of
// live workers that must be restarted for the change to take effect —
// currently only a changed SystemPrompt requires this, since model/
// autospawn/env take effect on the next spawn regardless (spec.md §4.6).
func (s *Store) Update(provider string, patch Patch) ([]string, error) {
	s.mu.Lock()
	p := s.cfg.Provider(provider)
	if p == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("configstore: unknown provider %q", provider)
	}

	promptChanged := patch.SystemPrompt != nil && *patch.SystemPrompt != p.SystemPrompt

	if patch.Model != nil {
		p.DefaultModel = *patch.Model
	}
	if patch.SystemPrompt != nil {
		p.SystemPrompt = *patch.SystemPrompt
	}
	if patch.AutoSpawn != nil {
		p.AutoSpawn = *patch.AutoSpawn
	}
	if len(patch.Env) > 0 {
		if p.Env == nil {
			p.Env = make(map[string]string, len(patch.Env))
		}
		for k, v := range patch.Env {
			p.Env[k] = v
		}
	}
	s.mu.Unlock()

	if !promptChanged {
		return nil, nil
	}

	if _, err := s.MaterializePrompt(provider); err != nil {
		return nil, fmt.Errorf("configstore: materialize prompt: %w", err)
	}

	affected := make([]string, 0)
	for _, w := range s.reg.List(provider) {
		affected = append(affected, w.ID)
	}
	return affected, nil
}

// MaterializePrompt writes provider's current system prompt to the shared
// prompts directory and returns the path, implementing
// supervisor.PromptMaterializer. Called both on spawn and on every prompt
// update so the worker's bind-mounted read-only copy stays current.
func (s *Store) MaterializePrompt(provider string) (string, error) {
	s.mu.Lock()
	p := s.cfg.Provider(provider)
	s.mu.Unlock()
	if p == nil {
		return "", fmt.Errorf("configstore: unknown provider %q", provider)
	}

	path := s.dataDir.PromptFilePath(provider)
	if err := os.WriteFile(path, []byte(p.SystemPrompt), 0644); err != nil {
		return "", fmt.Errorf("configstore: write prompt file: %w", err)
	}
	return path, nil
}
