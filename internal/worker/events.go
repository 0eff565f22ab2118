package worker

import "time"

// EventType enumerates WorkerRegistry lifecycle events (spec.md §4.2, §4.3).
type EventType string

const (
	EventStarted EventType = "WorkerStarted"
	EventStopped EventType = "WorkerStopped"
	EventFailed  EventType = "WorkerFailed"
)

// Event is one lifecycle transition, emitted by the Registry (on Insert,
// Remove, or an explicit Emit from HealthMonitor) to its listeners, such
// as the persisted event log.
type Event struct {
	Type      EventType `json:"type"`
	WorkerID  string    `json:"workerId"`
	Provider  string    `json:"provider"`
	Port      int       `json:"port"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
