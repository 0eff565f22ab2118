package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// TestHandleStream_ConnectedEventCarriesClientAndSessionID exercises a real
// websocket upgrade end to end, confirming the first frame off the wire is
// connected{clientId, sessionId, providers} per spec.md's EXTERNAL
// INTERFACES table — sessionId previously went out as an undefined field.
func TestHandleStream_ConnectedEventCarriesClientAndSessionID(t *testing.T) {
	g := newTestGateway(t)
	g.upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(g.handleStream))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var env struct {
		Type    string `json:"type"`
		Payload struct {
			ClientID  string   `json:"clientId"`
			SessionID string   `json:"sessionId"`
			Providers []string `json:"providers"`
		} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &env))

	require.Equal(t, "connected", env.Type)
	require.NotEmpty(t, env.Payload.ClientID)
	require.Equal(t, env.Payload.ClientID, env.Payload.SessionID)
	require.NotEmpty(t, env.Payload.Providers)
}
