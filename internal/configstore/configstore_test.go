package configstore

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zeusgateway/internal/config"
	"zeusgateway/internal/datadir"
	"zeusgateway/internal/registry"
	"zeusgateway/internal/worker"
)

func newTestStore(t *testing.T) (*Store, *registry.Registry) {
	cfg := config.Default()
	dd, err := datadir.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, dd.EnsureDirs())

	reg := registry.New()
	return New(cfg, dd, reg), reg
}

func TestGet_ReturnsConfiguredProvider(t *testing.T) {
	s, _ := newTestStore(t)

	p, ok := s.Get("claude")
	require.True(t, ok)
	assert.Equal(t, "claude", p.Name)
}

func TestGet_UnknownProviderReturnsFalse(t *testing.T) {
	s, _ := newTestStore(t)

	_, ok := s.Get("nonexistent")
	assert.False(t, ok)
}

func TestUpdate_ModelChangeRequiresNoRestart(t *testing.T) {
	s, _ := newTestStore(t)

	model := "claude-opus"
	affected, err := s.Update("claude", Patch{Model: &model})
	require.NoError(t, err)
	assert.Empty(t, affected)

	p, _ := s.Get("claude")
	assert.Equal(t, "claude-opus", p.DefaultModel)
}

func TestUpdate_SystemPromptChangeReturnsAffectedWorkersAndWritesFile(t *testing.T) {
	s, reg := newTestStore(t)
	reg.Insert(&worker.Worker{ID: "zeus-claude-4000", Provider: "claude", Port: 4000})
	reg.Insert(&worker.Worker{ID: "zeus-claude-4001", Provider: "claude", Port: 4001})
	reg.Insert(&worker.Worker{ID: "zeus-gemini-4100", Provider: "gemini", Port: 4100})

	prompt := "You are a careful assistant."
	affected, err := s.Update("claude", Patch{SystemPrompt: &prompt})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"zeus-claude-4000", "zeus-claude-4001"}, affected)

	path := s.dataDir.PromptFilePath("claude")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, prompt, string(data))
}

func TestUpdate_SamePromptValueRequiresNoRestart(t *testing.T) {
	s, _ := newTestStore(t)

	p, _ := s.Get("claude")
	same := p.SystemPrompt
	affected, err := s.Update("claude", Patch{SystemPrompt: &same})
	require.NoError(t, err)
	assert.Empty(t, affected)
}

func TestUpdate_UnknownProviderErrors(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Update("nonexistent", Patch{})
	assert.Error(t, err)
}

func TestMaterializePrompt_WritesCurrentContent(t *testing.T) {
	s, _ := newTestStore(t)

	path, err := s.MaterializePrompt("claude")
	require.NoError(t, err)

	p, _ := s.Get("claude")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, p.SystemPrompt, string(data))
}
