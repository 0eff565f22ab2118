package router

import "zeusgateway/pkg/protocol"

func (r *Router) handleSubscribe(clientID string, env *protocol.Envelope) {
	if processID := env.GetString("processId"); processID != "" {
		if err := r.deps.Hub.AddSub(clientID, true, processID); err != nil {
			r.replyError(clientID, err.Error(), nil)
			return
		}
		r.reply(clientID, protocol.EvtSubscribed, map[string]any{"processId": processID})
		return
	}
	if provider := env.GetString("provider"); provider != "" {
		if err := r.deps.Hub.AddSub(clientID, false, provider); err != nil {
			r.replyError(clientID, err.Error(), nil)
			return
		}
		r.reply(clientID, protocol.EvtSubscribed, map[string]any{"provider": provider})
		return
	}
	r.replyError(clientID, "subscribe requires processId or provider", nil)
}

func (r *Router) handleUnsubscribe(clientID string, env *protocol.Envelope) {
	all := env.GetBool("all")
	processID := env.GetString("processId")
	provider := env.GetString("provider")

	switch {
	case processID != "":
		if err := r.deps.Hub.RemoveSub(clientID, true, processID, all); err != nil {
			r.replyError(clientID, err.Error(), nil)
			return
		}
		r.reply(clientID, protocol.EvtUnsubscribed, map[string]any{"processId": processID, "all": all})

	case provider != "":
		if err := r.deps.Hub.RemoveSub(clientID, false, provider, all); err != nil {
			r.replyError(clientID, err.Error(), nil)
			return
		}
		r.reply(clientID, protocol.EvtUnsubscribed, map[string]any{"provider": provider, "all": all})

	case all:
		if err := r.deps.Hub.RemoveSub(clientID, true, "", true); err != nil {
			r.replyError(clientID, err.Error(), nil)
			return
		}
		if err := r.deps.Hub.RemoveSub(clientID, false, "", true); err != nil {
			r.replyError(clientID, err.Error(), nil)
			return
		}
		r.reply(clientID, protocol.EvtUnsubscribed, map[string]any{"all": true})

	default:
		r.replyError(clientID, "unsubscribe requires processId, provider, or all", nil)
	}
}

func (r *Router) handleGetLogs(clientID string, env *protocol.Envelope) {
	processID := env.GetString("processId")
	if processID == "" {
		r.replyError(clientID, "get_logs requires processId", nil)
		return
	}
	tail, ok := env.GetInt("tail")
	if !ok || tail <= 0 {
		tail = 100
	}

	lines, err := r.deps.Supervisor.GetLogs(processID, tail)
	if err != nil {
		r.replyError(clientID, err.Error(), nil)
		return
	}
	r.reply(clientID, protocol.EvtLogs, map[string]any{"processId": processID, "logs": lines})
}
