// Package fanout delivers worker events to the clients that should see
// them, in the dedup order spec.md §4.9 requires: affinity, then worker
// subscribers, then provider subscribers.
package fanout

import (
	"encoding/json"
	"log"

	"zeusgateway/internal/clienthub"
	"zeusgateway/pkg/protocol"
)

// Fanout reads clienthub's affinity and subscription indexes directly; it
// holds no state of its own.
type Fanout struct {
	hub *clienthub.Hub
}

// New constructs a Fanout over hub.
func New(hub *clienthub.Hub) *Fanout {
	return &Fanout{hub: hub}
}

// Dispatch delivers one worker event frame to every client that should
// receive it. Errors in building a wrapped frame are logged, not
// returned: a malformed event from one worker must not interrupt
// delivery to other clients.
func (f *Fanout) Dispatch(workerID, provider string, raw []byte) {
	env, err := protocol.ParseEnvelope(raw)
	if err != nil {
		log.Printf("fanout: dropping malformed event from %s: %v", workerID, err)
		return
	}

	served := make(map[string]bool)

	for _, clientID := range f.hub.ClientsWithAffinity(workerID) {
		served[clientID] = true
		if err := f.hub.Send(clientID, raw); err != nil {
			log.Printf("fanout: deliver to %s: %v", clientID, err)
		}
		if protocol.TerminalEvents[env.Type] {
			_ = f.hub.SetCurrentWorker(clientID, "")
		}
	}

	workerSubs := f.hub.ClientsSubscribedToWorker(workerID)
	if len(workerSubs) > 0 {
		wrapped, err := wrap(protocol.StreamWrapper{
			Type:      protocol.EvtStream,
			Source:    "process",
			Event:     env.Type,
			Payload:   env.Payload,
			Provider:  provider,
			ProcessID: workerID,
		})
		if err != nil {
			log.Printf("fanout: wrap worker event from %s: %v", workerID, err)
		} else {
			for _, clientID := range workerSubs {
				if served[clientID] {
					continue
				}
				served[clientID] = true
				if err := f.hub.Send(clientID, wrapped); err != nil {
					log.Printf("fanout: deliver to %s: %v", clientID, err)
				}
			}
		}
	}

	provSubs := f.hub.ClientsSubscribedToProvider(provider)
	if len(provSubs) == 0 {
		return
	}
	wrapped, err := wrap(protocol.StreamWrapper{
		Type:      protocol.EvtStream,
		Source:    "provider",
		Event:     env.Type,
		Payload:   env.Payload,
		Provider:  provider,
		ProcessID: workerID,
	})
	if err != nil {
		log.Printf("fanout: wrap provider event from %s: %v", workerID, err)
		return
	}
	for _, clientID := range provSubs {
		if served[clientID] {
			continue
		}
		if err := f.hub.Send(clientID, wrapped); err != nil {
			log.Printf("fanout: deliver to %s: %v", clientID, err)
		}
	}
}

func wrap(w protocol.StreamWrapper) ([]byte, error) {
	return json.Marshal(w)
}
