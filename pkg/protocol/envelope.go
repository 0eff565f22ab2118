// Package protocol defines the JSON envelope spoken on both the
// client-facing stream and the worker-facing stream.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Client -> gateway command types (spec.md §6, §4.8).
const (
	CmdPing               = "ping"
	CmdStatus             = "status"
	CmdChat               = "chat"
	CmdSpawn              = "spawn"
	CmdStop               = "stop"
	CmdScale              = "scale"
	CmdSetModel           = "set_model"
	CmdListProcesses      = "list_processes"
	CmdListProviders      = "list_providers"
	CmdListModels         = "list_models"
	CmdSubscribe          = "subscribe"
	CmdUnsubscribe        = "unsubscribe"
	CmdListSubscriptions  = "list_subscriptions"
	CmdGetLogs            = "get_logs"

	// Orchestration-forward set (§4.8) - routed verbatim to a worker.
	CmdNewSession              = "new_session"
	CmdSetSession              = "set_session"
	CmdGetSession              = "get_session"
	CmdSetSystemPrompt         = "set_system_prompt"
	CmdSetAppendSystemPrompt   = "set_append_system_prompt"
	CmdGetSystemPrompt         = "get_system_prompt"
	CmdSetAllowedTools         = "set_allowed_tools"
	CmdGetAllowedTools         = "get_allowed_tools"
	CmdGetAgentState           = "get_agent_state"
)

// OrchestrationForwardCommands is the full orchestration-forward command
// set: selected by processId or provider, forwarded to the worker verbatim.
var OrchestrationForwardCommands = map[string]bool{
	CmdNewSession:            true,
	CmdSetSession:            true,
	CmdGetSession:            true,
	CmdSetSystemPrompt:       true,
	CmdSetAppendSystemPrompt: true,
	CmdGetSystemPrompt:       true,
	CmdSetAllowedTools:       true,
	CmdGetAllowedTools:       true,
	CmdGetAgentState:         true,
}

// Gateway -> client event/response types (spec.md §6).
const (
	EvtConnected      = "connected"
	EvtPong           = "pong"
	EvtStatus         = "status"
	EvtProcesses      = "processes"
	EvtProviders      = "providers"
	EvtModels         = "models"
	EvtSpawning       = "spawning"
	EvtSpawned        = "spawned"
	EvtStopped        = "stopped"
	EvtScaled         = "scaled"
	EvtSubscribed     = "subscribed"
	EvtUnsubscribed   = "unsubscribed"
	EvtSubscriptions  = "subscriptions"
	EvtLogs           = "logs"
	EvtError          = "error"

	// Worker chat-stream event types, passed through unwrapped to the
	// affinity client and wrapped for subscribers (§4.9).
	EvtThinking     = "thinking"
	EvtStreaming    = "streaming"
	EvtContentDelta = "content_delta"
	EvtContent      = "content"
	EvtThought      = "thought"
	EvtToolCall     = "tool_call"
	EvtToolResult   = "tool_result"
	EvtDone         = "done"

	// EvtStream wraps a worker event for subscription delivery (§4.9).
	EvtStream = "stream"
)

// TerminalEvents are the worker event types that clear client affinity
// once delivered (spec.md §3 invariant 4, §4.9 step 1).
var TerminalEvents = map[string]bool{
	EvtDone:  true,
	EvtError: true,
}

// Envelope is the generic decoded shape of any inbound frame. The gateway
// accepts both {type, payload:{k:v}} and the legacy flat {type, k:v} form;
// ParseEnvelope normalizes both into Payload.
type Envelope struct {
	Type    string         `json:"type"`
	ID      string         `json:"id,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// ParseEnvelope decodes a single inbound JSON frame. Unknown top-level
// fields are ignored, per spec.md §6.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	typ, _ := raw["type"].(string)
	if typ == "" {
		return nil, fmt.Errorf("envelope missing required field \"type\"")
	}

	env := &Envelope{Type: typ}
	if id, ok := raw["id"].(string); ok {
		env.ID = id
	}

	if payload, ok := raw["payload"].(map[string]any); ok {
		env.Payload = payload
		return env, nil
	}

	// Legacy flat form: every field except "type"/"id" is the payload.
	flat := make(map[string]any, len(raw))
	for k, v := range raw {
		if k == "type" || k == "id" {
			continue
		}
		flat[k] = v
	}
	env.Payload = flat
	return env, nil
}

// GetString returns a string field from the payload, or "" if absent/wrong type.
func (e *Envelope) GetString(key string) string {
	if e.Payload == nil {
		return ""
	}
	if v, ok := e.Payload[key].(string); ok {
		return v
	}
	return ""
}

// GetInt returns a numeric field from the payload as an int, or ok=false.
func (e *Envelope) GetInt(key string) (int, bool) {
	if e.Payload == nil {
		return 0, false
	}
	switch v := e.Payload[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

// GetBool returns a boolean field from the payload.
func (e *Envelope) GetBool(key string) bool {
	if e.Payload == nil {
		return false
	}
	v, _ := e.Payload[key].(bool)
	return v
}

// Has reports whether key is present in the payload.
func (e *Envelope) Has(key string) bool {
	if e.Payload == nil {
		return false
	}
	_, ok := e.Payload[key]
	return ok
}

// Outbound marshals a {type, payload} frame for delivery to a client or
// worker stream.
func Outbound(typ string, payload any) ([]byte, error) {
	return json.Marshal(struct {
		Type    string `json:"type"`
		Payload any    `json:"payload,omitempty"`
	}{Type: typ, Payload: payload})
}

// MustOutbound is Outbound but panics on marshal failure; only used for
// payloads built entirely from this package's own structs, where a
// marshal failure indicates a programming error, not bad input.
func MustOutbound(typ string, payload any) []byte {
	data, err := Outbound(typ, payload)
	if err != nil {
		panic(fmt.Sprintf("protocol: outbound marshal of %q failed: %v", typ, err))
	}
	return data
}

// StreamWrapper is the shape Fanout uses to deliver a worker event to a
// worker- or provider-level subscriber (§4.9 steps 2-3).
type StreamWrapper struct {
	Type        string         `json:"type"` // always EvtStream
	Source      string         `json:"source"` // "process" | "provider"
	Event       string         `json:"event"`
	Payload     map[string]any `json:"payload,omitempty"`
	Provider    string         `json:"provider"`
	ProcessID   string         `json:"processId"`
	ProcessName string         `json:"processName,omitempty"`
}

// ErrorPayload is the payload shape for an EvtError frame.
type ErrorPayload struct {
	Message string `json:"message"`
	Hint    any    `json:"hint,omitempty"`
}
