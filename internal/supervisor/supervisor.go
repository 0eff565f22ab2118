// Package supervisor owns each worker's whole lifetime: launch, a
// bidirectional stream to it, health polling during startup, and stop.
// Per spec.md §4.2.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"zeusgateway/internal/config"
	"zeusgateway/internal/datadir"
	"zeusgateway/internal/pool"
	"zeusgateway/internal/portalloc"
	"zeusgateway/internal/registry"
	"zeusgateway/internal/worker"
)

// PromptMaterializer writes a provider's current system prompt to the
// shared prompts directory and returns the path a worker should read it
// from. Implemented by internal/configstore; declared here, narrowly, to
// avoid an import cycle.
type PromptMaterializer interface {
	MaterializePrompt(provider string) (string, error)
}

// StartOptions carries the optional fields of a spawn request.
type StartOptions struct {
	Model string
	Port  int // explicit host port; 0 means "allocate one"
}

// Options configures a Supervisor.
type Options struct {
	Config   *config.Config
	Registry *registry.Registry
	Pool     *pool.Pool
	Ports    *portalloc.Allocator
	Launcher Launcher
	Prompts  PromptMaterializer
	DataDir  *datadir.DataDir

	// OnWorkerEvent is invoked with a worker's raw stream frame and its
	// provider, for every frame read, including the initial connected{}.
	// Wired to Fanout by GatewayFacade.
	OnWorkerEvent func(workerID, provider string, raw []byte)
}

// Supervisor implements spec.md §4.2's start/stop/connect/send contract
// for every worker the gateway manages.
type Supervisor struct {
	cfg      *config.Config
	reg      *registry.Registry
	pool     *pool.Pool
	ports    *portalloc.Allocator
	launcher Launcher
	prompts  PromptMaterializer
	dataDir  *datadir.DataDir
	onEvent  func(workerID, provider string, raw []byte)

	httpClient *http.Client

	mu        sync.Mutex
	handles   map[string]LaunchHandle
	streams   map[string]*workerStream
	stopping  map[string]bool
}

// workerStream is the bidirectional channel to one worker's process.
type workerStream struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// New constructs a Supervisor from opts.
func New(opts Options) *Supervisor {
	return &Supervisor{
		cfg:        opts.Config,
		reg:        opts.Registry,
		pool:       opts.Pool,
		ports:      opts.Ports,
		launcher:   opts.Launcher,
		prompts:    opts.Prompts,
		dataDir:    opts.DataDir,
		onEvent:    opts.OnWorkerEvent,
		httpClient: &http.Client{Timeout: 3 * time.Second},
		handles:    make(map[string]LaunchHandle),
		streams:    make(map[string]*workerStream),
		stopping:   make(map[string]bool),
	}
}

// CleanupStale sweeps OS-level artifacts left behind by a previous
// gateway run, matching the configured naming prefix (spec.md §4.2).
func (s *Supervisor) CleanupStale(ctx context.Context) error {
	return s.launcher.CleanupStale(ctx, s.cfg.Workers.NamingPrefix)
}

// Start launches a new worker for provider and waits for it to report
// healthy, per spec.md §4.2 steps 1-5.
func (s *Supervisor) Start(ctx context.Context, provider string, opts StartOptions) (worker.Worker, error) {
	provCfg := s.cfg.Provider(provider)
	if provCfg == nil {
		return worker.Worker{}, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	promptPath, err := s.prompts.MaterializePrompt(provider)
	if err != nil {
		return worker.Worker{}, fmt.Errorf("supervisor: materialize prompt: %w", err)
	}

	var hostPort int
	if opts.Port != 0 {
		if err := s.ports.AllocateSpecific(opts.Port, ""); err != nil {
			return worker.Worker{}, fmt.Errorf("supervisor: %w", err)
		}
		hostPort = opts.Port
	} else {
		hostPort, err = s.ports.Allocate("")
		if err != nil {
			return worker.Worker{}, fmt.Errorf("supervisor: %w", err)
		}
	}

	workerID := worker.NewID(provider, hostPort)
	s.ports.Retag(hostPort, workerID)

	innerPort := provCfg.DefaultInnerPort
	model := opts.Model
	if model == "" {
		model = provCfg.DefaultModel
	}

	spec := LaunchSpec{
		WorkerID:     workerID,
		Provider:     provider,
		HostPort:     hostPort,
		InnerPort:    innerPort,
		WorkspaceDir: s.dataDir.WorkspaceDir(),
		PromptsDir:   s.dataDir.PromptsDir(),
		Env:          map[string]string{"PROMPT_FILE": promptPath, "MODEL": model},
	}

	handle, err := s.launcher.Launch(ctx, spec)
	if err != nil {
		s.ports.Release(hostPort)
		return worker.Worker{}, fmt.Errorf("supervisor: launch: %w", err)
	}

	s.mu.Lock()
	s.handles[workerID] = handle
	s.mu.Unlock()

	w := &worker.Worker{
		ID:        workerID,
		Provider:  provider,
		Port:      hostPort,
		Status:    worker.StatusStarting,
		Health:    worker.HealthUnknown,
		Model:     model,
		CreatedAt: time.Now(),
	}
	s.reg.Insert(w)

	readyModel, availableModels, err := s.awaitHealthy(ctx, hostPort)
	if err != nil {
		_ = s.Stop(ctx, workerID)
		return worker.Worker{}, err
	}

	if readyModel != "" {
		s.reg.MutateModel(workerID, readyModel, availableModels)
	}
	snap, _ := s.reg.MutateStatus(workerID, worker.StatusRunning, worker.HealthHealthy)
	s.pool.Recompute(provider)

	if err := s.connect(workerID, provider, hostPort); err != nil {
		_ = s.Stop(ctx, workerID)
		return worker.Worker{}, fmt.Errorf("supervisor: connect stream: %w", err)
	}

	return snap, nil
}

// awaitHealthy polls <hostPort>/health until ready or the configured
// readiness deadline elapses (spec.md §4.2 step 4, §5's suspension point).
func (s *Supervisor) awaitHealthy(ctx context.Context, hostPort int) (model string, availableModels []string, err error) {
	deadline := time.Duration(s.cfg.Workers.ReadyTimeoutSeconds) * time.Second
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", hostPort)
	statusURL := fmt.Sprintf("http://127.0.0.1:%d/status", hostPort)
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()

	for {
		if ok, _ := s.probeHealth(url); ok {
			model, availableModels = s.probeStatus(statusURL)
			return model, availableModels, nil
		}
		select {
		case <-ctx.Done():
			return "", nil, ErrSpawnTimeout
		case <-ticker.C:
		}
	}
}

type healthResponse struct {
	Status        string `json:"status"`
	Ready         bool   `json:"ready"`
	Authenticated bool   `json:"authenticated"`
}

func (s *Supervisor) probeHealth(url string) (bool, error) {
	resp, err := s.httpClient.Get(url)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	var h healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return false, err
	}
	return h.Ready, nil
}

type statusResponse struct {
	Model           string   `json:"model"`
	AvailableModels []string `json:"availableModels"`
}

func (s *Supervisor) probeStatus(url string) (string, []string) {
	resp, err := s.httpClient.Get(url)
	if err != nil {
		return "", nil
	}
	defer resp.Body.Close()
	var st statusResponse
	if json.NewDecoder(resp.Body).Decode(&st) != nil {
		return "", nil
	}
	return st.Model, st.AvailableModels
}

// connect opens the persistent bidirectional stream to a worker and
// starts its read/write goroutines, grounded on the teacher's
// handleClientRead/handleClientWrite websocket shape.
func (s *Supervisor) connect(workerID, provider string, hostPort int) error {
	url := fmt.Sprintf("ws://127.0.0.1:%d/stream", hostPort)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return err
	}

	ws := &workerStream{
		conn: conn,
		send: make(chan []byte, 64),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	s.streams[workerID] = ws
	s.mu.Unlock()

	go s.writeLoop(ws)
	go s.readLoop(workerID, provider, ws)
	return nil
}

func (s *Supervisor) writeLoop(ws *workerStream) {
	for {
		select {
		case msg := <-ws.send:
			if err := ws.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ws.done:
			return
		}
	}
}

func (s *Supervisor) readLoop(workerID, provider string, ws *workerStream) {
	for {
		_, data, err := ws.conn.ReadMessage()
		if err != nil {
			break
		}
		if s.onEvent != nil {
			func() {
				defer func() {
					if p := recover(); p != nil {
						log.Printf("supervisor: event handler panic for %s: %v", workerID, p)
					}
				}()
				s.onEvent(workerID, provider, data)
			}()
		}
	}

	s.mu.Lock()
	alreadyStopping := s.stopping[workerID]
	s.mu.Unlock()

	if !alreadyStopping {
		// Stream closed without an in-flight Stop: treat as a crash, same
		// cleanup path HealthMonitor uses for a liveness-detected death.
		s.HandleCrash(workerID, "worker stream closed unexpectedly")
		return
	}

	// Stop() already closed ws.done/ws.conn and cleared handles/streams;
	// nothing left to release here.
}

// HandleCrash releases every resource a worker owns when it dies out from
// under the gateway instead of through a requested Stop — detected either
// by HealthMonitor's liveness probe or by readLoop's stream closing
// unexpectedly. It is the single cleanup path for both: release the port,
// drop the handle/stream bookkeeping, close any still-open stream, then
// remove the registry entry and recompute the provider pool. Idempotent
// via the stopping flag, so whichever caller notices the crash first does
// the work and the other is a no-op (spec.md §5's "every allocation paired
// with a release on every exit path"; Data Model invariant 1).
func (s *Supervisor) HandleCrash(workerID, reason string) {
	s.mu.Lock()
	if s.stopping[workerID] {
		s.mu.Unlock()
		return
	}
	s.stopping[workerID] = true
	ws := s.streams[workerID]
	delete(s.handles, workerID)
	delete(s.streams, workerID)
	s.mu.Unlock()

	if ws != nil {
		close(ws.done)
		_ = ws.conn.Close()
	}

	w, ok := s.reg.Get(workerID)
	wasHealthy := ok && w.Health == worker.HealthHealthy
	if ok {
		s.ports.Release(w.Port)
	}
	s.reg.Remove(workerID, wasHealthy, reason)
	if ok {
		s.pool.Recompute(w.Provider)
	}

	s.mu.Lock()
	delete(s.stopping, workerID)
	s.mu.Unlock()
}

// Send writes envelope bytes to a worker's outbound stream, per spec.md
// §4.2. Returns ErrNotConnected if the stream isn't open.
func (s *Supervisor) Send(workerID string, data []byte) error {
	s.mu.Lock()
	ws := s.streams[workerID]
	s.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}
	select {
	case ws.send <- data:
		return nil
	case <-ws.done:
		return ErrNotConnected
	}
}

// Stop gracefully (then forcefully) terminates a worker, idempotent per
// spec.md §4.2.
func (s *Supervisor) Stop(ctx context.Context, workerID string) error {
	s.mu.Lock()
	if s.stopping[workerID] {
		s.mu.Unlock()
		return nil
	}
	s.stopping[workerID] = true
	handle, hasHandle := s.handles[workerID]
	ws := s.streams[workerID]
	delete(s.handles, workerID)
	delete(s.streams, workerID)
	s.mu.Unlock()

	if ws != nil {
		close(ws.done)
		_ = ws.conn.Close()
	}

	if hasHandle {
		grace := time.Duration(s.cfg.Workers.GraceStopSeconds) * time.Second
		_ = s.launcher.Stop(ctx, handle, grace)
	}

	w, ok := s.reg.Get(workerID)
	if ok {
		s.ports.Release(w.Port)
	}
	s.reg.Remove(workerID, false, "stopped")
	if ok {
		s.pool.Recompute(w.Provider)
	}

	s.mu.Lock()
	delete(s.stopping, workerID)
	s.mu.Unlock()
	return nil
}

// IsAlive reports whether the OS-level artifact backing workerID (process
// or container) is still running, for HealthMonitor's liveness check
// (spec.md §4.5 step 1).
func (s *Supervisor) IsAlive(workerID string) bool {
	s.mu.Lock()
	handle, ok := s.handles[workerID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return s.launcher.IsAlive(handle)
}

// GetLogs returns the last n lines of a worker's output, if the active
// Launcher supports log tailing.
func (s *Supervisor) GetLogs(workerID string, n int) ([]string, error) {
	tailer, ok := s.launcher.(LogTailer)
	if !ok {
		return nil, nil
	}
	return tailer.Tail(workerID, n)
}

// LastOutputAt reports the last time workerID produced stdout/stderr
// output, for HealthMonitor's stall check (SPEC_FULL.md §12). Returns
// ok=false when the active Launcher doesn't track output (container mode)
// or no output has been observed yet.
func (s *Supervisor) LastOutputAt(workerID string) (time.Time, bool) {
	reporter, ok := s.launcher.(StallReporter)
	if !ok {
		return time.Time{}, false
	}
	return reporter.LastOutputAt(workerID)
}
