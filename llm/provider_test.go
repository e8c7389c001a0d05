// ABOUTME: Tests for the ProviderAdapter interface and message manipulation utilities.

package llm

import (
	"strings"
	"testing"
)

func TestExtractSystemMessages(t *testing.T) {
	messages := []Message{
		SystemMessage("You are a helpful assistant."),
		DeveloperMessage("Be concise."),
		UserMessage("Hello"),
		AssistantMessage("Hi there!"),
		SystemMessage("Additional instructions."),
		UserMessage("What is 2+2?"),
	}

	systemText, remaining := ExtractSystemMessages(messages)

	wantSystem := "You are a helpful assistant.\nBe concise.\nAdditional instructions."
	if systemText != wantSystem {
		t.Errorf("systemText = %q, want %q", systemText, wantSystem)
	}

	if len(remaining) != 3 {
		t.Fatalf("remaining has %d messages, want 3", len(remaining))
	}

	expectedRoles := []Role{RoleUser, RoleAssistant, RoleUser}
	for i, msg := range remaining {
		if msg.Role != expectedRoles[i] {
			t.Errorf("remaining[%d].Role = %q, want %q", i, msg.Role, expectedRoles[i])
		}
	}
}

func TestExtractSystemMessagesNoSystem(t *testing.T) {
	messages := []Message{
		UserMessage("Hello"),
		AssistantMessage("Hi"),
	}

	systemText, remaining := ExtractSystemMessages(messages)

	if systemText != "" {
		t.Errorf("systemText = %q, want empty", systemText)
	}
	if len(remaining) != 2 {
		t.Errorf("remaining has %d messages, want 2", len(remaining))
	}
}

func TestExtractSystemMessagesAllSystem(t *testing.T) {
	messages := []Message{
		SystemMessage("First"),
		DeveloperMessage("Second"),
	}

	systemText, remaining := ExtractSystemMessages(messages)

	if systemText != "First\nSecond" {
		t.Errorf("systemText = %q, want %q", systemText, "First\nSecond")
	}
	if len(remaining) != 0 {
		t.Errorf("remaining has %d messages, want 0", len(remaining))
	}
}

func TestExtractSystemMessagesEmpty(t *testing.T) {
	systemText, remaining := ExtractSystemMessages(nil)

	if systemText != "" {
		t.Errorf("systemText = %q, want empty", systemText)
	}
	if len(remaining) != 0 {
		t.Errorf("remaining has %d messages, want 0", len(remaining))
	}
}

func TestMergeConsecutiveMessagesBasic(t *testing.T) {
	messages := []Message{
		UserMessage("Hello"),
		UserMessage("How are you?"),
		AssistantMessage("I'm fine."),
		AssistantMessage("Thanks for asking!"),
		UserMessage("Great"),
	}

	merged := MergeConsecutiveMessages(messages)

	if len(merged) != 3 {
		t.Fatalf("merged has %d messages, want 3", len(merged))
	}

	// First merged user message should have 2 content parts
	if merged[0].Role != RoleUser {
		t.Errorf("merged[0].Role = %q, want %q", merged[0].Role, RoleUser)
	}
	if len(merged[0].Content) != 2 {
		t.Errorf("merged[0] has %d parts, want 2", len(merged[0].Content))
	}
	if merged[0].Content[0].Text != "Hello" {
		t.Errorf("merged[0].Content[0].Text = %q, want %q", merged[0].Content[0].Text, "Hello")
	}
	if merged[0].Content[1].Text != "How are you?" {
		t.Errorf("merged[0].Content[1].Text = %q, want %q", merged[0].Content[1].Text, "How are you?")
	}

	// Merged assistant message should have 2 content parts
	if merged[1].Role != RoleAssistant {
		t.Errorf("merged[1].Role = %q, want %q", merged[1].Role, RoleAssistant)
	}
	if len(merged[1].Content) != 2 {
		t.Errorf("merged[1] has %d parts, want 2", len(merged[1].Content))
	}

	// Last user message should be unchanged
	if merged[2].Role != RoleUser {
		t.Errorf("merged[2].Role = %q, want %q", merged[2].Role, RoleUser)
	}
	if len(merged[2].Content) != 1 {
		t.Errorf("merged[2] has %d parts, want 1", len(merged[2].Content))
	}
}

func TestMergeConsecutiveMessagesAlreadyAlternating(t *testing.T) {
	messages := []Message{
		UserMessage("Hello"),
		AssistantMessage("Hi"),
		UserMessage("Bye"),
	}

	merged := MergeConsecutiveMessages(messages)

	if len(merged) != 3 {
		t.Fatalf("merged has %d messages, want 3 (no-op)", len(merged))
	}

	for i, msg := range messages {
		if merged[i].Role != msg.Role {
			t.Errorf("merged[%d].Role = %q, want %q", i, merged[i].Role, msg.Role)
		}
		if len(merged[i].Content) != len(msg.Content) {
			t.Errorf("merged[%d] content length changed", i)
		}
	}
}

func TestMergeConsecutiveMessagesEmpty(t *testing.T) {
	merged := MergeConsecutiveMessages(nil)
	if len(merged) != 0 {
		t.Errorf("merged has %d messages, want 0", len(merged))
	}
}

func TestMergeConsecutiveMessagesSingle(t *testing.T) {
	messages := []Message{
		UserMessage("Hello"),
	}

	merged := MergeConsecutiveMessages(messages)

	if len(merged) != 1 {
		t.Fatalf("merged has %d messages, want 1", len(merged))
	}
	if merged[0].TextContent() != "Hello" {
		t.Errorf("text = %q, want %q", merged[0].TextContent(), "Hello")
	}
}

func TestMergeConsecutiveMessagesMultipleConsecutive(t *testing.T) {
	messages := []Message{
		UserMessage("A"),
		UserMessage("B"),
		UserMessage("C"),
	}

	merged := MergeConsecutiveMessages(messages)

	if len(merged) != 1 {
		t.Fatalf("merged has %d messages, want 1", len(merged))
	}
	if len(merged[0].Content) != 3 {
		t.Errorf("merged[0] has %d parts, want 3", len(merged[0].Content))
	}
	if merged[0].Content[0].Text != "A" {
		t.Errorf("part 0 text = %q, want %q", merged[0].Content[0].Text, "A")
	}
	if merged[0].Content[1].Text != "B" {
		t.Errorf("part 1 text = %q, want %q", merged[0].Content[1].Text, "B")
	}
	if merged[0].Content[2].Text != "C" {
		t.Errorf("part 2 text = %q, want %q", merged[0].Content[2].Text, "C")
	}
}

func TestMergeConsecutiveMessagesPreservesMultiPartContent(t *testing.T) {
	msg1 := UserMessageWithParts(
		TextPart("Look at this"),
		ImageURLPart("https://example.com/img.png"),
	)
	msg2 := UserMessage("What do you think?")

	merged := MergeConsecutiveMessages([]Message{msg1, msg2})

	if len(merged) != 1 {
		t.Fatalf("merged has %d messages, want 1", len(merged))
	}
	if len(merged[0].Content) != 3 {
		t.Errorf("merged[0] has %d parts, want 3", len(merged[0].Content))
	}
	if merged[0].Content[0].Kind != ContentText {
		t.Errorf("part 0 kind = %q, want text", merged[0].Content[0].Kind)
	}
	if merged[0].Content[1].Kind != ContentImage {
		t.Errorf("part 1 kind = %q, want image", merged[0].Content[1].Kind)
	}
	if merged[0].Content[2].Kind != ContentText {
		t.Errorf("part 2 kind = %q, want text", merged[0].Content[2].Kind)
	}
}

func TestGenerateCallID(t *testing.T) {
	id := GenerateCallID()

	if !strings.HasPrefix(id, "call_") {
		t.Errorf("GenerateCallID() = %q, should start with %q", id, "call_")
	}

	// Should be "call_" + UUID, so at least 10 chars
	if len(id) < 10 {
		t.Errorf("GenerateCallID() = %q, too short (len=%d)", id, len(id))
	}

	// Generate multiple and check uniqueness
	ids := make(map[string]bool)
	for i := 0; i < 100; i++ {
		newID := GenerateCallID()
		if ids[newID] {
			t.Errorf("GenerateCallID() produced duplicate: %q", newID)
		}
		ids[newID] = true
	}
}

func TestGenerateCallIDFormat(t *testing.T) {
	id := GenerateCallID()

	// Should only contain "call_" prefix followed by hex chars and dashes
	suffix := strings.TrimPrefix(id, "call_")
	for _, c := range suffix {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || c == '-') {
			t.Errorf("GenerateCallID() suffix contains unexpected char %q in %q", string(c), id)
		}
	}
}

