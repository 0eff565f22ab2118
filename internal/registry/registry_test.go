package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zeusgateway/internal/worker"
)

func newTestWorker(id, provider string, port int) *worker.Worker {
	return &worker.Worker{
		ID:        id,
		Provider:  provider,
		Port:      port,
		Status:    worker.StatusStarting,
		Health:    worker.HealthUnknown,
		CreatedAt: time.Now(),
	}
}

func TestInsert_EmitsWorkerStarted(t *testing.T) {
	r := New()
	var got worker.Event
	r.OnEvent(func(e worker.Event) { got = e })

	r.Insert(newTestWorker("zeus-p-4000", "p", 4000))

	assert.Equal(t, worker.EventStarted, got.Type)
	assert.Equal(t, "zeus-p-4000", got.WorkerID)
}

func TestGet_ReturnsSnapshot(t *testing.T) {
	r := New()
	w := newTestWorker("zeus-p-4000", "p", 4000)
	r.Insert(w)

	snap, ok := r.Get("zeus-p-4000")
	require.True(t, ok)
	assert.Equal(t, "p", snap.Provider)

	// Mutating the returned snapshot must not affect the registry's copy.
	snap.Provider = "mutated"
	snap2, _ := r.Get("zeus-p-4000")
	assert.Equal(t, "p", snap2.Provider)
}

func TestRemove_IsIdempotent(t *testing.T) {
	r := New()
	r.Insert(newTestWorker("zeus-p-4000", "p", 4000))

	r.Remove("zeus-p-4000", false, "stopped by test")
	r.Remove("zeus-p-4000", false, "stopped again") // must not panic

	_, ok := r.Get("zeus-p-4000")
	assert.False(t, ok)
}

func TestList_FiltersByProvider(t *testing.T) {
	r := New()
	r.Insert(newTestWorker("zeus-a-4000", "a", 4000))
	r.Insert(newTestWorker("zeus-a-4001", "a", 4001))
	r.Insert(newTestWorker("zeus-b-4002", "b", 4002))

	assert.Len(t, r.List("a"), 2)
	assert.Len(t, r.List("b"), 1)
	assert.Len(t, r.List(""), 3)
}

func TestHealthy_ExcludesNonHealthyWorkers(t *testing.T) {
	r := New()
	r.Insert(newTestWorker("zeus-a-4000", "a", 4000))
	r.MutateStatus("zeus-a-4000", worker.StatusRunning, worker.HealthHealthy)

	r.Insert(newTestWorker("zeus-a-4001", "a", 4001))
	r.MutateStatus("zeus-a-4001", worker.StatusDegraded, worker.HealthUnhealthy)

	healthy := r.Healthy("a")
	require.Len(t, healthy, 1)
	assert.Equal(t, "zeus-a-4000", healthy[0].ID)
}

func TestRoundTripIntrospection_SpawnThenList(t *testing.T) {
	r := New()
	r.Insert(newTestWorker("zeus-a-4000", "a", 4000))
	r.Insert(newTestWorker("zeus-a-4001", "a", 4001))
	r.Remove("zeus-a-4000", false, "")

	ids := make([]string, 0)
	for _, w := range r.List("a") {
		ids = append(ids, w.ID)
	}
	assert.Equal(t, []string{"zeus-a-4001"}, ids)
}
