package router

import (
	"context"

	"zeusgateway/internal/supervisor"
	"zeusgateway/pkg/protocol"
)

func (r *Router) handleSpawn(ctx context.Context, clientID string, env *protocol.Envelope) {
	provider := env.GetString("provider")
	if provider == "" {
		r.replyError(clientID, "spawn requires a provider", nil)
		return
	}
	port, _ := env.GetInt("port")

	r.reply(clientID, protocol.EvtSpawning, map[string]any{"provider": provider})

	w, err := r.deps.Supervisor.Start(ctx, provider, supervisor.StartOptions{
		Model: env.GetString("model"),
		Port:  port,
	})
	if err != nil {
		r.replyError(clientID, err.Error(), map[string]any{"type": "spawn", "provider": provider})
		return
	}
	r.reply(clientID, protocol.EvtSpawned, map[string]any{"worker": toWorkerView(w)})
}

func (r *Router) handleStop(ctx context.Context, clientID string, env *protocol.Envelope) {
	processID := env.GetString("processId")
	provider := env.GetString("provider")

	switch {
	case processID != "":
		if err := r.deps.Supervisor.Stop(ctx, processID); err != nil {
			r.replyError(clientID, err.Error(), nil)
			return
		}
		r.reply(clientID, protocol.EvtStopped, map[string]any{"processId": processID, "count": 1})

	case provider != "":
		workers := r.deps.Registry.List(provider)
		for _, w := range workers {
			_ = r.deps.Supervisor.Stop(ctx, w.ID)
		}
		r.reply(clientID, protocol.EvtStopped, map[string]any{"provider": provider, "count": len(workers)})

	default:
		r.replyError(clientID, "stop requires processId or provider", nil)
	}
}

func (r *Router) handleScale(ctx context.Context, clientID string, env *protocol.Envelope) {
	provider := env.GetString("provider")
	count, ok := env.GetInt("count")
	if provider == "" || !ok {
		r.replyError(clientID, "scale requires provider and count", nil)
		return
	}

	current := r.deps.Registry.List(provider)
	previous := len(current)

	switch {
	case count > previous:
		for i := 0; i < count-previous; i++ {
			if _, err := r.deps.Supervisor.Start(ctx, provider, supervisor.StartOptions{}); err != nil {
				r.replyError(clientID, err.Error(), map[string]any{"type": "spawn", "provider": provider})
				return
			}
		}
	case count < previous:
		toStop := previous - count
		for i := 0; i < toStop && i < len(current); i++ {
			_ = r.deps.Supervisor.Stop(ctx, current[i].ID)
		}
	}

	r.reply(clientID, protocol.EvtScaled, map[string]any{
		"provider": provider,
		"previous": previous,
		"current":  len(r.deps.Registry.List(provider)),
	})
}
