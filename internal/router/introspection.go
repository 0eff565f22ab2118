package router

import (
	"time"

	"zeusgateway/pkg/protocol"
)

func (r *Router) handlePing(clientID string) {
	r.reply(clientID, protocol.EvtPong, map[string]any{"timestamp": time.Now().UnixMilli()})
}

func (r *Router) handleStatus(clientID string) {
	workers := r.deps.Registry.All()
	views := make([]workerView, 0, len(workers))
	for _, w := range workers {
		views = append(views, toWorkerView(w))
	}
	r.reply(clientID, protocol.EvtStatus, map[string]any{
		"uptimeSeconds": time.Since(r.startedAt).Seconds(),
		"clientCount":   r.deps.Hub.Count(),
		"workerCount":   len(workers),
		"providers":     r.deps.Config.ProviderNames(),
		"processes":     views,
	})
}

func (r *Router) handleListProcesses(clientID string, env *protocol.Envelope) {
	provider := env.GetString("provider")
	workers := r.deps.Registry.List(provider)
	views := make([]workerView, 0, len(workers))
	for _, w := range workers {
		views = append(views, toWorkerView(w))
	}
	r.reply(clientID, protocol.EvtProcesses, map[string]any{"processes": views})
}

func (r *Router) handleListProviders(clientID string) {
	type providerView struct {
		Name         string `json:"name"`
		DefaultModel string `json:"defaultModel,omitempty"`
		AutoSpawn    bool   `json:"autoSpawn"`
	}
	views := make([]providerView, 0, len(r.deps.Config.Providers))
	for _, p := range r.deps.Config.Providers {
		views = append(views, providerView{Name: p.Name, DefaultModel: p.DefaultModel, AutoSpawn: p.AutoSpawn})
	}
	r.reply(clientID, protocol.EvtProviders, map[string]any{"providers": views})
}

func (r *Router) handleListModels(clientID string, env *protocol.Envelope) {
	provider := env.GetString("provider")

	models := make(map[string]bool)
	if p := r.deps.Config.Provider(provider); p != nil && p.DefaultModel != "" {
		models[p.DefaultModel] = true
	}
	for _, w := range r.deps.Registry.List(provider) {
		for _, m := range w.AvailableModels {
			models[m] = true
		}
	}
	out := make([]string, 0, len(models))
	for m := range models {
		out = append(out, m)
	}
	r.reply(clientID, protocol.EvtModels, map[string]any{"provider": provider, "models": out})
}

func (r *Router) handleListSubscriptions(clientID string) {
	processes, providers, err := r.deps.Hub.SubscriptionsOf(clientID)
	if err != nil {
		r.replyError(clientID, err.Error(), nil)
		return
	}
	r.reply(clientID, protocol.EvtSubscriptions, map[string]any{"processes": processes, "providers": providers})
}
