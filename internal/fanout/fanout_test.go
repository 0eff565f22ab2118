package fanout

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zeusgateway/internal/clienthub"
)

func drain(t *testing.T, ch chan []byte) []byte {
	select {
	case data := <-ch:
		return data
	default:
		t.Fatal("expected a delivered frame, got none")
		return nil
	}
}

func assertEmpty(t *testing.T, ch chan []byte) {
	select {
	case data := <-ch:
		t.Fatalf("expected no delivery, got %s", data)
	default:
	}
}

func TestDispatch_AffinityClientGetsUnwrappedEvent(t *testing.T) {
	hub := clienthub.New()
	ch := make(chan []byte, 4)
	id := hub.Attach(ch)
	require.NoError(t, hub.SetCurrentWorker(id, "zeus-p-4000"))

	f := New(hub)
	raw := []byte(`{"type":"content","payload":{"text":"hi"}}`)
	f.Dispatch("zeus-p-4000", "p", raw)

	got := drain(t, ch)
	assert.JSONEq(t, string(raw), string(got))
}

func TestDispatch_TerminalEventClearsAffinity(t *testing.T) {
	hub := clienthub.New()
	ch := make(chan []byte, 4)
	id := hub.Attach(ch)
	require.NoError(t, hub.SetCurrentWorker(id, "zeus-p-4000"))

	f := New(hub)
	f.Dispatch("zeus-p-4000", "p", []byte(`{"type":"done","payload":{}}`))

	_, ok := hub.CurrentWorker(id)
	assert.False(t, ok)
}

func TestDispatch_WorkerSubscriberNotAlsoServedByAffinityGetsWrapped(t *testing.T) {
	hub := clienthub.New()
	affCh := make(chan []byte, 4)
	subCh := make(chan []byte, 4)
	affID := hub.Attach(affCh)
	subID := hub.Attach(subCh)
	require.NoError(t, hub.SetCurrentWorker(affID, "zeus-p-4000"))
	require.NoError(t, hub.AddSub(subID, true, "zeus-p-4000"))

	f := New(hub)
	f.Dispatch("zeus-p-4000", "p", []byte(`{"type":"content","payload":{"text":"hi"}}`))

	drain(t, affCh) // unwrapped
	wrapped := drain(t, subCh)

	var w struct {
		Type      string `json:"type"`
		Source    string `json:"source"`
		Event     string `json:"event"`
		ProcessID string `json:"processId"`
	}
	require.NoError(t, json.Unmarshal(wrapped, &w))
	assert.Equal(t, "stream", w.Type)
	assert.Equal(t, "process", w.Source)
	assert.Equal(t, "content", w.Event)
	assert.Equal(t, "zeus-p-4000", w.ProcessID)
}

func TestDispatch_NeverDeliversTwiceWhenMatchingMultipleCriteria(t *testing.T) {
	hub := clienthub.New()
	ch := make(chan []byte, 4)
	id := hub.Attach(ch)
	require.NoError(t, hub.SetCurrentWorker(id, "zeus-p-4000"))
	require.NoError(t, hub.AddSub(id, true, "zeus-p-4000"))
	require.NoError(t, hub.AddSub(id, false, "p"))

	f := New(hub)
	f.Dispatch("zeus-p-4000", "p", []byte(`{"type":"content","payload":{}}`))

	drain(t, ch)
	assertEmpty(t, ch)
}

func TestDispatch_ProviderSubscriberGetsWrappedWithProviderSource(t *testing.T) {
	hub := clienthub.New()
	ch := make(chan []byte, 4)
	id := hub.Attach(ch)
	require.NoError(t, hub.AddSub(id, false, "p"))

	f := New(hub)
	f.Dispatch("zeus-p-4000", "p", []byte(`{"type":"content","payload":{}}`))

	wrapped := drain(t, ch)
	var w struct{ Source string `json:"source"` }
	require.NoError(t, json.Unmarshal(wrapped, &w))
	assert.Equal(t, "provider", w.Source)
}

func TestDispatch_UnrelatedClientReceivesNothing(t *testing.T) {
	hub := clienthub.New()
	ch := make(chan []byte, 4)
	hub.Attach(ch)

	f := New(hub)
	f.Dispatch("zeus-p-4000", "p", []byte(`{"type":"content","payload":{}}`))

	assertEmpty(t, ch)
}
