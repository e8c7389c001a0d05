package kernel

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/haasonsaas/bedrockkernel/kernel/store"
	"github.com/haasonsaas/bedrockkernel/llm"
)

func TestSessionEnqueueDequeue(t *testing.T) {
	s := NewSession(nil)
	if _, ok := s.Dequeue(); ok {
		t.Fatal("expected empty queue to report false")
	}
	s.Enqueue("a")
	s.Enqueue("b")
	p, ok := s.Dequeue()
	if !ok || p != "a" {
		t.Fatalf("got %q, %v, want a, true", p, ok)
	}
	p, ok = s.Dequeue()
	if !ok || p != "b" {
		t.Fatalf("got %q, %v, want b, true", p, ok)
	}
}

func TestLastAssistantText(t *testing.T) {
	s := NewSession(nil)
	if s.LastAssistantText() != "" {
		t.Fatal("expected empty text with no history")
	}
	s.AppendTurn(UserTurn{Content: "hi"})
	s.AppendTurn(AssistantTurn{Content: "hello"})
	s.AppendTurn(ToolResultsTurn{})
	if got := s.LastAssistantText(); got != "hello" {
		t.Fatalf("got %q, want hello", got)
	}
}

func TestMessagesConvertsHistory(t *testing.T) {
	s := NewSession(nil)
	s.AppendTurn(UserTurn{Content: "hi"})
	s.AppendTurn(AssistantTurn{Content: "hello", ToolCalls: []llm.ToolCallData{{ID: "t1", Name: "echo", Arguments: []byte(`{}`)}}})
	s.AppendTurn(ToolResultsTurn{Results: []llm.ToolResult{{ToolCallID: "t1", Content: "ok", IsError: false}}})

	msgs := s.Messages()
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[0].Role != llm.RoleUser {
		t.Fatalf("got role %v, want user", msgs[0].Role)
	}
	if msgs[1].Role != llm.RoleAssistant {
		t.Fatalf("got role %v, want assistant", msgs[1].Role)
	}
}

func TestRehydrateRebuildsHistoryFromEventLog(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	sessionID := "s1"
	mustInsert(t, st, sessionID, "turn_start", `{}`)
	mustInsert(t, st, sessionID, "user_message", `{"content":"hi"}`)
	mustInsert(t, st, sessionID, "assistant_message", `{"content":"hello","usage":{"input_tokens":5,"output_tokens":3}}`)
	mustInsert(t, st, sessionID, "tool_call_end", `{"id":"t1","output":"done","verdict":"allow","is_error":false}`)

	s, err := Rehydrate(ctx, st, nil, sessionID)
	if err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	if s.TurnIndex != 1 {
		t.Fatalf("got turn index %d, want 1", s.TurnIndex)
	}
	if len(s.History) != 3 {
		t.Fatalf("got %d history entries, want 3", len(s.History))
	}
	if s.InputTokens != 5 || s.OutputTokens != 3 {
		t.Fatalf("got tokens %d/%d, want 5/3", s.InputTokens, s.OutputTokens)
	}
	if s.LastAssistantText() != "hello" {
		t.Fatalf("got %q, want hello", s.LastAssistantText())
	}
}

func TestRehydrateSkipsMalformedEvents(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	sessionID := "s1"
	mustInsert(t, st, sessionID, "user_message", `not json`)
	mustInsert(t, st, sessionID, "user_message", `{"content":"ok"}`)

	s, err := Rehydrate(ctx, st, nil, sessionID)
	if err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	if len(s.History) != 1 {
		t.Fatalf("got %d history entries, want 1", len(s.History))
	}
}

func mustInsert(t *testing.T, st *store.Store, sessionID, eventType, payload string) {
	t.Helper()
	if err := st.InsertEvent(context.Background(), sessionID, eventType, []byte(payload)); err != nil {
		t.Fatalf("insert %s: %v", eventType, err)
	}
}
