// Package router parses inbound client envelopes and dispatches them to
// the right component, per spec.md §4.8.
package router

import (
	"context"
	"fmt"
	"log"
	"time"

	"zeusgateway/internal/clienthub"
	"zeusgateway/internal/config"
	"zeusgateway/internal/configstore"
	"zeusgateway/internal/pool"
	"zeusgateway/internal/registry"
	"zeusgateway/internal/supervisor"
	"zeusgateway/internal/worker"
	"zeusgateway/pkg/protocol"
)

// Deps are the components a Router dispatches into.
type Deps struct {
	Config      *config.Config
	Registry    *registry.Registry
	Pool        *pool.Pool
	Supervisor  *supervisor.Supervisor
	Hub         *clienthub.Hub
	ConfigStore *configstore.Store
}

// Router dispatches every inbound envelope from a connected client.
type Router struct {
	deps      Deps
	startedAt time.Time
}

// New constructs a Router over deps.
func New(deps Deps) *Router {
	return &Router{deps: deps, startedAt: time.Now()}
}

// Handle parses raw as an envelope and dispatches it on behalf of
// clientID. Never returns an error: all failure paths reply with an
// error envelope to the client instead (spec.md §7), including a panic
// raised while handling the envelope.
func (r *Router) Handle(ctx context.Context, clientID string, raw []byte) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("router: panic handling envelope from %s: %v", clientID, p)
			r.replyError(clientID, fmt.Sprintf("internal error: %v", p), nil)
		}
	}()

	env, err := protocol.ParseEnvelope(raw)
	if err != nil {
		r.replyError(clientID, err.Error(), nil)
		return
	}

	switch env.Type {
	case protocol.CmdPing:
		r.handlePing(clientID)
	case protocol.CmdStatus:
		r.handleStatus(clientID)
	case protocol.CmdListProcesses:
		r.handleListProcesses(clientID, env)
	case protocol.CmdListProviders:
		r.handleListProviders(clientID)
	case protocol.CmdListModels:
		r.handleListModels(clientID, env)
	case protocol.CmdListSubscriptions:
		r.handleListSubscriptions(clientID)
	case protocol.CmdSpawn:
		r.handleSpawn(ctx, clientID, env)
	case protocol.CmdStop:
		r.handleStop(ctx, clientID, env)
	case protocol.CmdScale:
		r.handleScale(ctx, clientID, env)
	case protocol.CmdChat:
		r.handleChat(clientID, env, raw)
	case protocol.CmdSubscribe:
		r.handleSubscribe(clientID, env)
	case protocol.CmdUnsubscribe:
		r.handleUnsubscribe(clientID, env)
	case protocol.CmdSetModel:
		r.handleSetModel(clientID, env, raw)
	case protocol.CmdGetLogs:
		r.handleGetLogs(clientID, env)
	default:
		if protocol.OrchestrationForwardCommands[env.Type] {
			r.handleForward(clientID, env, raw)
			return
		}
		r.replyError(clientID, fmt.Sprintf("Unknown command: %s", env.Type), nil)
	}
}

func (r *Router) reply(clientID, typ string, payload any) {
	data, err := protocol.Outbound(typ, payload)
	if err != nil {
		log.Printf("router: marshal %s reply for %s: %v", typ, clientID, err)
		return
	}
	if err := r.deps.Hub.Send(clientID, data); err != nil {
		log.Printf("router: deliver %s reply to %s: %v", typ, clientID, err)
	}
}

func (r *Router) replyError(clientID, message string, hint any) {
	r.reply(clientID, protocol.EvtError, protocol.ErrorPayload{Message: message, Hint: hint})
}

// workerView is the wire shape for a Worker (spec.md §6).
type workerView struct {
	ID              string    `json:"id"`
	Provider        string    `json:"provider"`
	Port            int       `json:"port"`
	Status          string    `json:"status"`
	Health          string    `json:"health"`
	Model           string    `json:"model,omitempty"`
	AvailableModels []string  `json:"availableModels,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

func toWorkerView(w worker.Worker) workerView {
	return workerView{
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
