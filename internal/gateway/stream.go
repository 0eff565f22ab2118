package gateway

import (
	"context"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"zeusgateway/pkg/protocol"
)

// handleStream upgrades a client connection and starts its read/write
// goroutines, grounded on the teacher's handleWebSocket/handleClientRead/
// handleClientWrite shape.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("gateway: websocket upgrade failed: %v", err)
		return
	}

	send := make(chan []byte, 256)
	clientID := g.hub.Attach(send)

	cs := &clientStream{conn: conn, send: send, done: make(chan struct{})}
	g.clientsMu.Lock()
	g.streams[clientID] = cs
	g.clientsMu.Unlock()

	log.Printf("gateway: client connected: %s", clientID)

	_ = g.hub.Send(clientID, protocol.MustOutbound(protocol.EvtConnected, map[string]any{
		"clientId":  clientID,
		"sessionId": clientID,
		"providers": g.cfg.ProviderNames(),
	}))

	go g.writeClient(clientID, cs)
	go g.readClient(clientID, cs)
}

func (g *Gateway) writeClient(clientID string, cs *clientStream) {
	defer cs.conn.Close()
	for {
		select {
		case msg := <-cs.send:
			if err := cs.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-cs.done:
			return
		}
	}
}

func (g *Gateway) readClient(clientID string, cs *clientStream) {
	defer g.detachClient(clientID, cs)

	for {
		_, data, err := cs.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("gateway: client %s closed normally", clientID)
			} else {
				log.Printf("gateway: read error from %s: %v", clientID, err)
			}
			return
		}
		g.router.Handle(context.Background(), clientID, data)
	}
}

// detachClient clears clientID's affinity and subscription indexes and
// closes its outbound queue (spec.md §5's cancellation rule: client
// disconnect cancels that client's subscriptions and affinity).
func (g *Gateway) detachClient(clientID string, cs *clientStream) {
	g.clientsMu.Lock()
	delete(g.streams, clientID)
	g.clientsMu.Unlock()

	close(cs.done)
	g.hub.Detach(clientID)
	cs.conn.Close()
	log.Printf("gateway: client disconnected: %s", clientID)
}
