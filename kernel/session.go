// ABOUTME: Session State: in-memory conversation history, queues, and turn counters.
// ABOUTME: Adapted from agent.Session (teacher), adding rehydration from the event log.

package kernel

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/bedrockkernel/kernel/bus"
	"github.com/haasonsaas/bedrockkernel/kernel/store"
	"github.com/haasonsaas/bedrockkernel/llm"
)

// State is the lifecycle state of a Session.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateEnded   State = "ended"
)

// Turn is the interface implemented by every conversation turn type.
type Turn interface {
	TurnType() string
	TurnTimestamp() time.Time
}

// UserTurn is a user-submitted prompt.
type UserTurn struct {
	Content   string
	Timestamp time.Time
}

func (t UserTurn) TurnType() string        { return "user" }
func (t UserTurn) TurnTimestamp() time.Time { return t.Timestamp }

// AssistantTurn is the model's response, optionally carrying tool calls.
type AssistantTurn struct {
	Content   string
	ToolCalls []llm.ToolCallData
	Usage     llm.Usage
	Timestamp time.Time
}

func (t AssistantTurn) TurnType() string        { return "assistant" }
func (t AssistantTurn) TurnTimestamp() time.Time { return t.Timestamp }

// ToolResultsTurn holds the results of one tool phase.
type ToolResultsTurn struct {
	Results   []llm.ToolResult
	Timestamp time.Time
}

func (t ToolResultsTurn) TurnType() string        { return "tool_results" }
func (t ToolResultsTurn) TurnTimestamp() time.Time { return t.Timestamp }

// SteeringTurn is a host-injected message presented to the model as a user turn.
type SteeringTurn struct {
	Content   string
	Timestamp time.Time
}

func (t SteeringTurn) TurnType() string        { return "steering" }
func (t SteeringTurn) TurnTimestamp() time.Time { return t.Timestamp }

// Session holds one conversation's in-memory state: history, prompt
// queue, turn index, and token counters. It is the derived projection
// the event log can always rebuild, per spec.md §4.6.
type Session struct {
	ID        string
	State     State
	History   []Turn
	TurnIndex int

	InputTokens  int
	OutputTokens int

	mu           sync.Mutex
	promptQueue  []string
	bus          *bus.Bus
	harnessVer   uint64 // not set by the turn loop; tool-call hooks use whatever script is loaded when each call is made
}

// NewSession creates a fresh Session with a generated id.
func NewSession(b *bus.Bus) *Session {
	return &Session{
		ID:    uuid.New().String(),
		State: StateIdle,
		bus:   b,
	}
}

// Enqueue adds a prompt to the session's input queue.
func (s *Session) Enqueue(prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promptQueue = append(s.promptQueue, prompt)
}

// Dequeue removes and returns the next queued prompt, or ("", false) if empty.
func (s *Session) Dequeue() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.promptQueue) == 0 {
		return "", false
	}
	p := s.promptQueue[0]
	s.promptQueue = s.promptQueue[1:]
	return p, true
}

// AppendTurn adds a turn to history and emits nothing itself; callers emit
// the corresponding KernelEvent through the bus before or alongside this.
func (s *Session) AppendTurn(t Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.History = append(s.History, t)
}

// AddUsage accumulates token counts reported by the provider.
func (s *Session) AddUsage(usage llm.Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InputTokens += usage.InputTokens
	s.OutputTokens += usage.OutputTokens
}

// LastAssistantText returns the text content of the most recent
// AssistantTurn in history, or "" if none exists.
func (s *Session) LastAssistantText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.History) - 1; i >= 0; i-- {
		if at, ok := s.History[i].(AssistantTurn); ok {
			return at.Content
		}
	}
	return ""
}

// Messages converts the session's history into provider-facing messages.
func (s *Session) Messages() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return convertHistoryToMessages(s.History)
}

func convertHistoryToMessages(history []Turn) []llm.Message {
	messages := make([]llm.Message, 0, len(history))
	for _, turn := range history {
		switch t := turn.(type) {
		case UserTurn:
			messages = append(messages, llm.UserMessage(t.Content))
		case SteeringTurn:
			messages = append(messages, llm.UserMessage(t.Content))
		case AssistantTurn:
			parts := make([]llm.ContentPart, 0)
			if t.Content != "" {
				parts = append(parts, llm.TextPart(t.Content))
			}
			for _, tc := range t.ToolCalls {
				parts = append(parts, llm.ToolCallPart(tc.ID, tc.Name, tc.Arguments))
			}
			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: parts})
		case ToolResultsTurn:
			for _, r := range t.Results {
				messages = append(messages, llm.ToolResultMessage(r.ToolCallID, r.Content, r.IsError))
			}
		}
	}
	return messages
}

// rehydratedEvent is the minimal shape needed to reconstruct history from
// the persisted payload of user_message/assistant_message/tool_call_end events.
type rehydratedEvent struct {
	Content   string              `json:"content"`
	ToolCalls []llm.ToolCallData  `json:"tool_calls,omitempty"`
	Usage     llm.Usage           `json:"usage"`
	ID        string              `json:"id"`
	Output    string              `json:"output"`
	Error     string              `json:"error"`
	IsError   bool                `json:"is_error"`
}

// Rehydrate rebuilds a Session's history and turn index from the event
// log, per spec.md §4.6 ("a session... may be rehydrated from the event
// log"). Unrecognized or malformed events are skipped rather than
// aborting rehydration, since the log may carry events the current
// binary doesn't model (e.g. HarnessReloaded, Error).
func Rehydrate(ctx context.Context, st *store.Store, b *bus.Bus, sessionID string) (*Session, error) {
	rows, err := st.GetEvents(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	s := &Session{ID: sessionID, State: StateIdle, bus: b}
	for _, row := range rows {
		var payload rehydratedEvent
		if err := json.Unmarshal([]byte(row.Payload), &payload); err != nil {
			continue
		}

		switch bus.EventKind(row.EventType) {
		case bus.EventTurnStart:
			s.TurnIndex++
		case bus.EventUserMessage:
			s.History = append(s.History, UserTurn{Content: payload.Content})
		case bus.EventAssistantMsg:
			s.History = append(s.History, AssistantTurn{
				Content:   payload.Content,
				ToolCalls: payload.ToolCalls,
				Usage:     payload.Usage,
			})
			s.InputTokens += payload.Usage.InputTokens
			s.OutputTokens += payload.Usage.OutputTokens
		case bus.EventToolCallEnd:
			content := payload.Output
			if payload.IsError {
				content = payload.Error
			}
			s.History = append(s.History, ToolResultsTurn{
				Results: []llm.ToolResult{{
					ToolCallID: payload.ID,
					Content:    content,
					IsError:    payload.IsError,
				}},
			})
		}
	}
	return s, nil
}
