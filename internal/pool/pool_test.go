package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zeusgateway/internal/registry"
	"zeusgateway/internal/worker"
)

func newTestWorker(id, provider string, port int) *worker.Worker {
	return &worker.Worker{
		ID:       id,
		Provider: provider,
		Port:     port,
		Status:   worker.StatusStarting,
		Health:   worker.HealthUnknown,
	}
}

func TestSelect_ReturnsFalseWhenEmpty(t *testing.T) {
	reg := registry.New()
	p := New(reg)

	_, ok := p.Select("claude")
	assert.False(t, ok)
}

func TestRecompute_IncludesOnlyHealthyWorkers(t *testing.T) {
	reg := registry.New()
	p := New(reg)

	reg.Insert(newTestWorker("zeus-claude-4000", "claude", 4000))
	reg.MutateStatus("zeus-claude-4000", worker.StatusRunning, worker.HealthHealthy)
	reg.Insert(newTestWorker("zeus-claude-4001", "claude", 4001))
	reg.MutateStatus("zeus-claude-4001", worker.StatusDegraded, worker.HealthUnhealthy)

	p.Recompute("claude")

	assert.Equal(t, []string{"zeus-claude-4000"}, p.Members("claude"))
}

func TestSelect_NeverReturnsNonHealthyWorker(t *testing.T) {
	reg := registry.New()
	p := New(reg)

	reg.Insert(newTestWorker("zeus-claude-4000", "claude", 4000))
	reg.MutateStatus("zeus-claude-4000", worker.StatusRunning, worker.HealthHealthy)
	reg.Insert(newTestWorker("zeus-claude-4001", "claude", 4001))
	reg.MutateStatus("zeus-claude-4001", worker.StatusFailed, worker.HealthUnhealthy)
	p.Recompute("claude")

	for i := 0; i < 20; i++ {
		id, ok := p.Select("claude")
		require.True(t, ok)
		assert.Equal(t, "zeus-claude-4000", id)
	}
}

func TestRecompute_RemovesProviderWhenNoHealthyWorkersRemain(t *testing.T) {
	reg := registry.New()
	p := New(reg)

	reg.Insert(newTestWorker("zeus-claude-4000", "claude", 4000))
	reg.MutateStatus("zeus-claude-4000", worker.StatusRunning, worker.HealthHealthy)
	p.Recompute("claude")
	require.Equal(t, 1, p.Size("claude"))

	reg.MutateStatus("zeus-claude-4000", worker.StatusFailed, worker.HealthUnhealthy)
	p.Recompute("claude")

	assert.Equal(t, 0, p.Size("claude"))
	_, ok := p.Select("claude")
	assert.False(t, ok)
}

func TestRecompute_WiredAsRegistryListener(t *testing.T) {
	reg := registry.New()
	p := New(reg)
	reg.OnEvent(func(ev worker.Event) { p.Recompute(ev.Provider) })

	reg.Insert(newTestWorker("zeus-gemini-4100", "gemini", 4100))
	reg.MutateStatus("zeus-gemini-4100", worker.StatusRunning, worker.HealthHealthy)
	p.Recompute("gemini") // MutateStatus itself emits no event; supervisor/health do

	id, ok := p.Select("gemini")
	require.True(t, ok)
	assert.Equal(t, "zeus-gemini-4100", id)

	reg.Remove("zeus-gemini-4100", false, "")
	p.Recompute("gemini")
	_, ok = p.Select("gemini")
	assert.False(t, ok)
}
