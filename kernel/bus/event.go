// ABOUTME: KernelEvent definitions for the turn loop, tool dispatch, and lifecycle.
// ABOUTME: Adapted from agent.SessionEvent (teacher) into the tagged union spec.md §3 describes.

package bus

import (
	"encoding/json"
	"time"
)

// EventKind discriminates the type of a KernelEvent.
type EventKind string

const (
	EventAgentStart      EventKind = "agent_start"
	EventAgentEnd        EventKind = "agent_end"
	EventTurnStart       EventKind = "turn_start"
	EventTurnEnd         EventKind = "turn_end"
	EventUserMessage     EventKind = "user_message"
	EventAssistantMsg    EventKind = "assistant_message"
	EventToolCallStart   EventKind = "tool_call_start"
	EventToolCallEnd     EventKind = "tool_call_end"
	EventHarnessReloaded EventKind = "harness_reloaded"
	EventError           EventKind = "error"
)

// Event is a single entry on the event bus. Data carries the event-specific
// payload and is what gets persisted verbatim as JSON. Every event carries
// the session id it belongs to, per spec.md §3.
type Event struct {
	Kind      EventKind      `json:"kind"`
	SessionID string         `json:"session_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Payload marshals Data to JSON for persistence and harness hand-off.
func (e Event) Payload() (json.RawMessage, error) {
	if e.Data == nil {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(e.Data)
}

// NewEvent creates an Event, stamping the session id and current time.
func NewEvent(sessionID string, kind EventKind, data map[string]any) Event {
	return Event{
		Kind:      kind,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Data:      data,
	}
}
