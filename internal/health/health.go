// Package health periodically probes every registered worker and drives
// its status/health transitions, per spec.md §4.5.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"zeusgateway/internal/pool"
	"zeusgateway/internal/registry"
	"zeusgateway/internal/worker"
)

// LivenessChecker reports whether the OS-level artifact backing a worker
// id is still running, and releases a worker's port/handle/stream
// bookkeeping when it has died out from under the gateway. Implemented by
// internal/supervisor; declared here, narrowly, to avoid an import cycle.
type LivenessChecker interface {
	IsAlive(workerID string) bool
	HandleCrash(workerID, reason string)
}

// StallChecker reports the last time a worker produced stdout/stderr
// output, for subprocess-mode stall detection (SPEC_FULL.md §12, grounded
// on stringwork's activityWriter/ProcessInfo.LastOutputAt pattern). Monitor
// type-asserts its LivenessChecker for this; the check is skipped when the
// checker doesn't implement it or reports ok=false (the Supervisor does so
// in container mode, whose launcher tracks no output).
type StallChecker interface {
	LastOutputAt(workerID string) (time.Time, bool)
}

// staleSweepInterval is how often Monitor re-runs the configured
// stale-artifact sweep once the gateway is up, on top of the one-shot
// sweep GatewayFacade runs at startup (SPEC_FULL.md §11.3).
const staleSweepInterval = 5 * time.Minute

// Monitor probes every worker on a fixed interval, independently and
// without blocking other probes (spec.md §4.5, §5).
type Monitor struct {
	reg      *registry.Registry
	pool     *pool.Pool
	alive    LivenessChecker
	client   *http.Client
	interval time.Duration
	timeout  time.Duration
	maxFails int

	cron         *cron.Cron
	staleSweep   func(context.Context) error
	stallTimeout time.Duration

	mu       sync.Mutex
	failures map[string]int
}

// New constructs a Monitor. intervalSeconds/timeoutSeconds/maxFails come
// from config.WorkersConfig (spec.md §4.5 defaults: 30s interval, 2s probe
// timeout, 3 consecutive failures before degrading).
func New(reg *registry.Registry, p *pool.Pool, alive LivenessChecker, intervalSeconds, timeoutSeconds, maxFails int) *Monitor {
	return &Monitor{
		reg:      reg,
		pool:     p,
		alive:    alive,
		client:   &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
		interval: time.Duration(intervalSeconds) * time.Second,
		timeout:  time.Duration(timeoutSeconds) * time.Second,
		maxFails: maxFails,
		cron:     cron.New(cron.WithSeconds()),
		failures: make(map[string]int),
	}
}

// SetStallTimeout enables subprocess stall detection: a worker that is
// alive and answering its HTTP health probe, but whose log tailer hasn't
// seen output in longer than d, is treated as a probe failure (same
// consecutive-failure backoff as an unreachable health endpoint). Zero
// disables the check; containers and freshly started workers that haven't
// produced any output yet are never flagged (SPEC_FULL.md §12).
func (m *Monitor) SetStallTimeout(d time.Duration) {
	m.stallTimeout = d
}

// SetStaleSweeper registers the OS-level stale-artifact sweep (Supervisor's
// CleanupStale) to run on staleSweepInterval once Start's cron scheduler is
// running. GatewayFacade still runs it once, synchronously, before Start —
// this only adds the "then on a slow interval" half of SPEC_FULL.md §11.3.
func (m *Monitor) SetStaleSweeper(fn func(context.Context) error) {
	m.staleSweep = fn
}

// Start schedules the probe loop and performs one probe pass immediately,
// matching the teacher's scheduler's "run once at Start, then on ticks" shape.
// If a stale sweeper is registered, it is scheduled alongside the probe job.
func (m *Monitor) Start() error {
	seconds := int(m.interval.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	spec := fmt.Sprintf("@every %ds", seconds)
	if _, err := m.cron.AddFunc(spec, m.probeAll); err != nil {
		return fmt.Errorf("health: schedule probe loop: %w", err)
	}

	if m.staleSweep != nil {
		sweepSpec := fmt.Sprintf("@every %ds", int(staleSweepInterval.Seconds()))
		if _, err := m.cron.AddFunc(sweepSpec, m.runStaleSweep); err != nil {
			return fmt.Errorf("health: schedule stale-artifact sweep: %w", err)
		}
	}

	m.cron.Start()
	go m.probeAll()
	return nil
}

func (m *Monitor) runStaleSweep() {
	if err := m.staleSweep(context.Background()); err != nil {
		log.Printf("health: periodic stale-artifact sweep: %v", err)
	}
}

// Stop halts the probe schedule, waiting only for a running probeAll pass
// to return; probeAll returns once it has launched its per-worker probe
// goroutines, and those are not waited for.
func (m *Monitor) Stop() {
	<-m.cron.Stop().Done()
}

func (m *Monitor) probeAll() {
	for _, w := range m.reg.All() {
		go m.probeOne(w)
	}
}

func (m *Monitor) probeOne(w worker.Worker) {
	if !m.alive.IsAlive(w.ID) {
		m.transition(w, worker.StatusStopped, worker.HealthUnhealthy, true)
		m.mu.Lock()
		delete(m.failures, w.ID)
		m.mu.Unlock()
		return
	}

	if m.probeEndpoint(w.Port) && !m.stalled(w) {
		m.mu.Lock()
		m.failures[w.ID] = 0
		m.mu.Unlock()
		m.transition(w, worker.StatusRunning, worker.HealthHealthy, false)
		return
	}

	m.mu.Lock()
	m.failures[w.ID]++
	exceeded := m.failures[w.ID] >= m.maxFails
	m.mu.Unlock()

	if exceeded {
		m.transition(w, worker.StatusDegraded, worker.HealthUnhealthy, false)
	}
}

// stalled reports whether w's process is alive and HTTP-healthy but has
// produced no stdout/stderr output in longer than m.stallTimeout. A zero
// stallTimeout disables the check; a worker whose last output time is
// unknown (no StallChecker, container mode, or no output recorded yet) is
// never flagged (SPEC_FULL.md §12).
func (m *Monitor) stalled(w worker.Worker) bool {
	if m.stallTimeout <= 0 {
		return false
	}
	checker, ok := m.alive.(StallChecker)
	if !ok {
		return false
	}
	last, ok := checker.LastOutputAt(w.ID)
	if !ok {
		return false
	}
	return time.Since(last) > m.stallTimeout
}

// transition applies a status/health change, emits WorkerFailed when a
// previously healthy worker becomes non-healthy, and recomputes the
// provider's pool after every applied change (spec.md §4.5). wasLiveness distinguishes a not-alive transition
// (worker removed outright, via the LivenessChecker's crash-cleanup path)
// from a degrade-in-place transition.
func (m *Monitor) transition(w worker.Worker, status worker.Status, health worker.Health, wasLiveness bool) {
	if status == w.Status && health == w.Health {
		return
	}

	if wasLiveness {
		// HandleCrash releases the port and handle/stream bookkeeping
		// before removing the registry entry (emitting WorkerFailed or
		// WorkerStopped itself, depending on prior health) and
		// recomputing the pool — the same cleanup readLoop's unexpected
		// stream close uses.
		m.alive.HandleCrash(w.ID, "process exited")
		return
	}

	wasHealthy := w.Health == worker.HealthHealthy
	if _, ok := m.reg.MutateStatus(w.ID, status, health); !ok {
		return
	}
	if wasHealthy && health != worker.HealthHealthy {
		m.reg.Emit(worker.Event{Type: worker.EventFailed, WorkerID: w.ID, Provider: w.Provider, Port: w.Port, Reason: "health probe failing"})
	}
	m.pool.Recompute(w.Provider)
}

type healthResponse struct {
	Ready bool `json:"ready"`
}

func (m *Monitor) probeEndpoint(port int) bool {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://127.0.0.1:%d/health", port), nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	var h healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		log.Printf("health: decode probe response for port %d: %v", port, err)
		return false
	}
	return h.Ready
}
