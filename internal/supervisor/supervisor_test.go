package supervisor

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zeusgateway/internal/config"
	"zeusgateway/internal/datadir"
	"zeusgateway/internal/pool"
	"zeusgateway/internal/portalloc"
	"zeusgateway/internal/registry"
)

// fakeLauncher stands in for a real subprocess/container launcher in
// tests: it does nothing but mark itself launched, since the test's
// fake worker is really an httptest.Server listening on the chosen port.
type fakeLauncher struct {
	launched map[string]bool
	stopped  map[string]bool
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{launched: map[string]bool{}, stopped: map[string]bool{}}
}

func (f *fakeLauncher) Launch(ctx context.Context, spec LaunchSpec) (LaunchHandle, error) {
	f.launched[spec.WorkerID] = true
	return LaunchHandle{WorkerID: spec.WorkerID}, nil
}

func (f *fakeLauncher) Stop(ctx context.Context, handle LaunchHandle, grace time.Duration) error {
	f.stopped[handle.WorkerID] = true
	return nil
}

func (f *fakeLauncher) IsAlive(handle LaunchHandle) bool { return f.launched[handle.WorkerID] }

func (f *fakeLauncher) CleanupStale(ctx context.Context, prefix string) error { return nil }

type fakePrompts struct{}

func (fakePrompts) MaterializePrompt(provider string) (string, error) { return "/tmp/prompt.txt", nil }

var upgrader = websocket.Upgrader{}

// newFakeWorkerServer starts an httptest server on a fixed port that
// answers /health, /status and accepts /stream connections, simulating
// the worker contract from spec.md §6.
func newFakeWorkerServer(t *testing.T, port int) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok","ready":true,"authenticated":true,"uptime":1}`))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"test-model","availableModels":["test-model"]}`))
	})
	mux.HandleFunc("/stream", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"connected","payload":{}}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	ln, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
	require.NoError(t, err)
	srv := httptest.NewUnstartedServer(mux)
	srv.Listener.Close()
	srv.Listener = ln
	srv.Start()
	t.Cleanup(srv.Close)
	return srv
}

func newTestSupervisor(t *testing.T, launcher Launcher, onEvent func(string, string, []byte)) (*Supervisor, *config.Config) {
	cfg := config.Default()
	cfg.Workers.ReadyTimeoutSeconds = 2
	cfg.Workers.GraceStopSeconds = 1

	ports, err := portalloc.New(29000, 29010)
	require.NoError(t, err)

	reg := registry.New()
	p := pool.New(reg)

	dd, err := datadir.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, dd.EnsureDirs())

	sup := New(Options{
		Config:        cfg,
		Registry:      reg,
		Pool:          p,
		Ports:         ports,
		Launcher:      launcher,
		Prompts:       fakePrompts{},
		DataDir:       dd,
		OnWorkerEvent: onEvent,
	})
	return sup, cfg
}

func TestStart_BecomesHealthyAndConnects(t *testing.T) {
	launcher := newFakeLauncher()
	var gotEvents [][]byte
	sup, cfg := newTestSupervisor(t, launcher, func(id, provider string, raw []byte) {
		gotEvents = append(gotEvents, raw)
	})
	_ = cfg

	const port = 29001
	newFakeWorkerServer(t, port)

	w, err := sup.Start(context.Background(), "claude", StartOptions{Port: port})
	require.NoError(t, err)
	assert.Equal(t, "running", string(w.Status))
	assert.Equal(t, "healthy", string(w.Health))
	assert.Equal(t, "test-model", w.Model)
	assert.True(t, launcher.launched[w.ID])

	require.Eventually(t, func() bool { return len(gotEvents) > 0 }, time.Second, 10*time.Millisecond)
}

func TestStart_UnknownProviderFails(t *testing.T) {
	launcher := newFakeLauncher()
	sup, _ := newTestSupervisor(t, launcher, nil)

	_, err := sup.Start(context.Background(), "nonexistent", StartOptions{})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestStart_TimesOutWhenWorkerNeverHealthy(t *testing.T) {
	launcher := newFakeLauncher()
	sup, _ := newTestSupervisor(t, launcher, nil)

	// No fake worker server listening on this port: health probe always fails.
	_, err := sup.Start(context.Background(), "claude", StartOptions{Port: 29002})
	assert.ErrorIs(t, err, ErrSpawnTimeout)

	// Port must be released after the failed start (spec §8 port reclaim).
	_, ok := sup.ports.OwnerOf(29002)
	assert.False(t, ok)
}

func TestStop_IsIdempotent(t *testing.T) {
	launcher := newFakeLauncher()
	sup, _ := newTestSupervisor(t, launcher, nil)
	newFakeWorkerServer(t, 29003)

	w, err := sup.Start(context.Background(), "claude", StartOptions{Port: 29003})
	require.NoError(t, err)

	require.NoError(t, sup.Stop(context.Background(), w.ID))
	require.NoError(t, sup.Stop(context.Background(), w.ID)) // must not error or hang

	assert.True(t, launcher.stopped[w.ID])
	_, ok := sup.reg.Get(w.ID)
	assert.False(t, ok)
}

func TestReadLoop_UnexpectedStreamClose_ReleasesPortAndClearsState(t *testing.T) {
	launcher := newFakeLauncher()
	sup, _ := newTestSupervisor(t, launcher, nil)

	const port = 29004
	srv := newFakeWorkerServer(t, port)

	w, err := sup.Start(context.Background(), "claude", StartOptions{Port: port})
	require.NoError(t, err)

	// Simulate the worker process crashing out from under an open stream:
	// force the connection closed without going through sup.Stop.
	srv.CloseClientConnections()

	require.Eventually(t, func() bool {
		_, ok := sup.reg.Get(w.ID)
		return !ok
	}, time.Second, 10*time.Millisecond, "registry entry must be removed after unexpected stream close")

	_, ok := sup.ports.OwnerOf(port)
	assert.False(t, ok, "port must be released after unexpected stream close")

	sup.mu.Lock()
	_, hasHandle := sup.handles[w.ID]
	_, hasStream := sup.streams[w.ID]
	sup.mu.Unlock()
	assert.False(t, hasHandle, "handle must be cleared after unexpected stream close")
	assert.False(t, hasStream, "stream must be cleared after unexpected stream close")
}

func TestHandleCrash_ReleasesPortAndClearsHandleAndStream(t *testing.T) {
	launcher := newFakeLauncher()
	sup, _ := newTestSupervisor(t, launcher, nil)

	const port = 29005
	newFakeWorkerServer(t, port)

	w, err := sup.Start(context.Background(), "claude", StartOptions{Port: port})
	require.NoError(t, err)

	// Simulate what HealthMonitor calls when its liveness probe finds the
	// process gone.
	sup.HandleCrash(w.ID, "process exited")

	_, ok := sup.reg.Get(w.ID)
	assert.False(t, ok)

	_, ok = sup.ports.OwnerOf(port)
	assert.False(t, ok, "port must be released when HealthMonitor detects a dead process")

	sup.mu.Lock()
	_, hasHandle := sup.handles[w.ID]
	_, hasStream := sup.streams[w.ID]
	sup.mu.Unlock()
	assert.False(t, hasHandle)
	assert.False(t, hasStream)
}

func TestHandleCrash_IsIdempotent(t *testing.T) {
	launcher := newFakeLauncher()
	sup, _ := newTestSupervisor(t, launcher, nil)

	const port = 29006
	newFakeWorkerServer(t, port)

	w, err := sup.Start(context.Background(), "claude", StartOptions{Port: port})
	require.NoError(t, err)

	sup.HandleCrash(w.ID, "process exited")
	sup.HandleCrash(w.ID, "process exited") // must not double-release or panic on a closed channel

	_, ok := sup.ports.OwnerOf(port)
	assert.False(t, ok)
}

func TestSend_FailsWhenNotConnected(t *testing.T) {
	launcher := newFakeLauncher()
	sup, _ := newTestSupervisor(t, launcher, nil)

	err := sup.Send("zeus-claude-9999", []byte(`{"type":"ping"}`))
	assert.ErrorIs(t, err, ErrNotConnected)
}
