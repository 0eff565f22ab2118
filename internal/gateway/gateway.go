// Package gateway wires every owning component together and exposes the
// client-facing stream plus the auxiliary HTTP status surface, per
// spec.md §4.10.
package gateway

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"zeusgateway/internal/clienthub"
	"zeusgateway/internal/config"
	"zeusgateway/internal/configstore"
	"zeusgateway/internal/datadir"
	"zeusgateway/internal/eventlog"
	"zeusgateway/internal/fanout"
	"zeusgateway/internal/health"
	"zeusgateway/internal/pool"
	"zeusgateway/internal/portalloc"
	"zeusgateway/internal/registry"
	"zeusgateway/internal/router"
	"zeusgateway/internal/supervisor"
	"zeusgateway/pkg/protocol"
)

// Gateway owns every component's lifetime and the two external surfaces:
// the client-facing bidirectional stream and the auxiliary HTTP endpoints.
type Gateway struct {
	cfg     *config.Config
	dataDir *datadir.DataDir

	registry *registry.Registry
	pool     *pool.Pool
	ports    *portalloc.Allocator
	store    *configstore.Store
	hub      *clienthub.Hub
	fanout   *fanout.Fanout
	sup      *supervisor.Supervisor
	monitor  *health.Monitor
	router   *router.Router
	events   *eventlog.Store

	upgrader websocket.Upgrader
	server   *http.Server
	startAt  time.Time

	clientsMu sync.Mutex
	streams   map[string]*clientStream
}

// clientStream is one connected client's websocket plus the outbound
// queue clienthub.Hub delivers onto.
type clientStream struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// New wires every component from cfg. It does not start anything — call
// Start to run the gateway.
func New(cfg *config.Config) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("gateway: invalid configuration: %w", err)
	}

	dd, err := datadir.New(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("gateway: resolve data dir: %w", err)
	}
	if err := dd.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("gateway: create data dir: %w", err)
	}

	reg := registry.New()
	p := pool.New(reg)
	ports, err := portalloc.New(cfg.Workers.PortRangeLow, cfg.Workers.PortRangeHigh)
	if err != nil {
		return nil, fmt.Errorf("gateway: port allocator: %w", err)
	}
	store := configstore.New(cfg, dd, reg)
	hub := clienthub.New()
	fo := fanout.New(hub)

	events, err := eventlog.Open(dd.DatabaseDir())
	if err != nil {
		return nil, fmt.Errorf("gateway: open event log: %w", err)
	}
	reg.OnEvent(events.Append)

	launcher, err := buildLauncher(cfg)
	if err != nil {
		return nil, err
	}

	sup := supervisor.New(supervisor.Options{
		Config:        cfg,
		Registry:      reg,
		Pool:          p,
		Ports:         ports,
		Launcher:      launcher,
		Prompts:       store,
		DataDir:       dd,
		OnWorkerEvent: fo.Dispatch,
	})

	monitor := health.New(reg, p, sup,
		cfg.Workers.ProbeIntervalSeconds,
		cfg.Workers.ProbeTimeoutSeconds,
		cfg.Workers.MaxConsecutiveFailures,
	)
	monitor.SetStallTimeout(time.Duration(cfg.Workers.StallTimeoutSeconds) * time.Second)

	rt := router.New(router.Deps{
		Config:      cfg,
		Registry:    reg,
		Pool:        p,
		Supervisor:  sup,
		Hub:         hub,
		ConfigStore: store,
	})

	return &Gateway{
		cfg:      cfg,
		dataDir:  dd,
		registry: reg,
		pool:     p,
		ports:    ports,
		store:    store,
		hub:      hub,
		fanout:   fo,
		sup:      sup,
		monitor:  monitor,
		router:   rt,
		events:   events,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		streams:  make(map[string]*clientStream),
	}, nil
}

func buildLauncher(cfg *config.Config) (supervisor.Launcher, error) {
	switch cfg.Workers.LaunchMode {
	case config.LaunchContainer:
		return supervisor.NewContainerLauncher(cfg.Workers.ContainerImage, cfg.Workers.NamingPrefix), nil
	case config.LaunchSubprocess:
		return supervisor.NewSubprocessLauncher(cfg.Workers.SubprocessCommand), nil
	default:
		return nil, fmt.Errorf("gateway: unknown launch mode %q", cfg.Workers.LaunchMode)
	}
}

// Start runs the gateway's full lifecycle: cleanup stale artifacts, start
// the health monitor, open listeners, accept. Blocks until ctx is
// cancelled, then runs the stop sequence (spec.md §4.10).
func (g *Gateway) Start(ctx context.Context) error {
	g.startAt = time.Now()

	if err := g.sup.CleanupStale(ctx); err != nil {
		log.Printf("gateway: cleanup stale artifacts: %v", err)
	}

	g.monitor.SetStaleSweeper(g.sup.CleanupStale)
	if err := g.monitor.Start(); err != nil {
		return fmt.Errorf("gateway: start health monitor: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/stream", cors(http.HandlerFunc(g.handleStream)))
	mux.Handle("/health", cors(http.HandlerFunc(g.handleHealth)))
	mux.Handle("/status", cors(http.HandlerFunc(g.handleStatus)))
	mux.Handle("/providers", cors(http.HandlerFunc(g.handleProviders)))
	mux.Handle("/processes", cors(http.HandlerFunc(g.handleProcesses)))
	mux.Handle("/logs/", cors(http.HandlerFunc(g.handleLogs)))
	mux.Handle("/config/", cors(http.HandlerFunc(g.handleConfig)))
	mux.Handle("/serve/", cors(http.HandlerFunc(g.handleServe)))
	mux.Handle("/diagnostics", cors(http.HandlerFunc(g.handleDiagnostics)))
	mux.Handle("/metrics", cors(http.HandlerFunc(g.handleMetrics)))

	g.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", g.cfg.Port),
		Handler: mux,
	}

	go func() {
		if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("gateway: HTTP server error: %v", err)
		}
	}()

	log.Printf("gateway: listening on port %d", g.cfg.Port)

	<-ctx.Done()
	return g.shutdown()
}

// shutdown implements spec.md §4.10's stop sequence: stop accepting,
// close all client streams with a shutdown reason, stop HealthMonitor,
// stop all workers in parallel, close listeners.
func (g *Gateway) shutdown() error {
	log.Println("gateway: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := g.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("gateway: HTTP shutdown error: %v", err)
	}

	shutdownNotice := protocol.MustOutbound(protocol.EvtError, protocol.ErrorPayload{Message: "gateway shutting down"})
	g.clientsMu.Lock()
	streams := make([]*clientStream, 0, len(g.streams))
	for _, cs := range g.streams {
		streams = append(streams, cs)
	}
	g.clientsMu.Unlock()
	for _, cs := range streams {
		select {
		case cs.send <- shutdownNotice:
		case <-cs.done:
		}
		_ = cs.conn.Close()
	}

	g.monitor.Stop()

	var wg sync.WaitGroup
	for _, w := range g.registry.All() {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := g.sup.Stop(shutdownCtx, id); err != nil {
				log.Printf("gateway: stop worker %s: %v", id, err)
			}
		}(w.ID)
	}
	wg.Wait()

	if err := g.events.Close(); err != nil {
		log.Printf("gateway: close event log: %v", err)
	}

	return nil
}
