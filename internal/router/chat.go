package router

import (
	"context"
	"time"

	"zeusgateway/internal/supervisor"
	"zeusgateway/pkg/protocol"
)

// handleChat implements spec.md §4.8's chat algorithm: select a healthy
// worker (auto-spawning one if the provider allows it and none exists),
// record affinity, forward, and clear affinity on send failure.
func (r *Router) handleChat(clientID string, env *protocol.Envelope, raw []byte) {
	provider := env.GetString("provider")
	if provider == "" {
		r.replyError(clientID, "chat requires a provider", nil)
		return
	}

	workerID, ok := r.deps.Pool.Select(provider)
	if !ok {
		provCfg := r.deps.Config.Provider(provider)
		if provCfg == nil || !provCfg.AutoSpawn {
			r.replyError(clientID, "no healthy worker available for "+provider, map[string]any{"type": "spawn", "provider": provider})
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.deps.Config.Workers.ReadyTimeoutSeconds+5)*time.Second)
		w, err := r.deps.Supervisor.Start(ctx, provider, supervisor.StartOptions{})
		cancel()
		if err != nil {
			r.replyError(clientID, err.Error(), map[string]any{"type": "spawn", "provider": provider})
			return
		}
		workerID = w.ID
	}

	if err := r.deps.Hub.SetCurrentWorker(clientID, workerID); err != nil {
		r.replyError(clientID, err.Error(), nil)
		return
	}

	if err := r.deps.Supervisor.Send(workerID, raw); err != nil {
		_ = r.deps.Hub.SetCurrentWorker(clientID, "")
		r.replyError(clientID, err.Error(), map[string]any{"reason": "worker may still be starting"})
	}
}

// handleForward implements the orchestration-forward command set (spec.md
// §4.8): select a worker by explicit processId or by provider, forward
// the envelope unchanged, and record affinity so the response routes back
// through Fanout.
func (r *Router) handleForward(clientID string, env *protocol.Envelope, raw []byte) {
	workerID := env.GetString("processId")
	if workerID == "" {
		provider := env.GetString("provider")
		if provider == "" {
			r.replyError(clientID, env.Type+" requires processId or provider", nil)
			return
		}
		selected, ok := r.deps.Pool.Select(provider)
		if !ok {
			r.replyError(clientID, "no healthy worker available for "+provider, nil)
			return
		}
		workerID = selected
	}

	if _, ok := r.deps.Registry.Get(workerID); !ok {
		r.replyError(clientID, "worker not found: "+workerID, nil)
		return
	}

	if err := r.deps.Hub.SetCurrentWorker(clientID, workerID); err != nil {
		r.replyError(clientID, err.Error(), nil)
		return
	}

	if err := r.deps.Supervisor.Send(workerID, raw); err != nil {
		_ = r.deps.Hub.SetCurrentWorker(clientID, "")
		r.replyError(clientID, err.Error(), map[string]any{"reason": "worker may still be starting"})
	}
}

// handleSetModel affinity-marks processId and forwards the envelope
// unchanged (spec.md §4.8).
func (r *Router) handleSetModel(clientID string, env *protocol.Envelope, raw []byte) {
	processID := env.GetString("processId")
	model := env.GetString("model")
	if processID == "" || model == "" {
		r.replyError(clientID, "set_model requires processId and model", nil)
		return
	}
	if _, ok := r.deps.Registry.Get(processID); !ok {
		r.replyError(clientID, "worker not found: "+processID, nil)
		return
	}

	if err := r.deps.Hub.SetCurrentWorker(clientID, processID); err != nil {
		r.replyError(clientID, err.Error(), nil)
		return
	}
	if err := r.deps.Supervisor.Send(processID, raw); err != nil {
		_ = r.deps.Hub.SetCurrentWorker(clientID, "")
		r.replyError(clientID, err.Error(), map[string]any{"reason": "worker may still be starting"})
	}
}
