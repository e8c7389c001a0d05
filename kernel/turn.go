// ABOUTME: The turn loop for one caller-supplied prompt: TurnStart -> Infer -> (ToolPhase -> Infer)* -> TurnEnd.
// ABOUTME: Adapted from agent.ProcessInput (teacher), adding harness verdict gating and bounded concurrent dispatch.

package kernel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/bedrockkernel/kernel/bus"
	"github.com/haasonsaas/bedrockkernel/kernel/errs"
	"github.com/haasonsaas/bedrockkernel/kernel/harness"
	"github.com/haasonsaas/bedrockkernel/kernel/tool"
	"github.com/haasonsaas/bedrockkernel/llm"
)

// Default timeouts, per spec.md §5 ("Timeouts: provider call (default
// 120s), tool execute (30s), harness hook (2s)...").
const (
	DefaultProviderTimeout = 120 * time.Second
	DefaultToolTimeout     = 30 * time.Second
	DefaultMaxConcurrency  = 4
)

// RunnerConfig configures one Kernel's turn loop behavior.
type RunnerConfig struct {
	Model           string
	Provider        string
	ProviderTimeout time.Duration
	ToolTimeout     time.Duration
	MaxConcurrency  int
	WorkspaceRoot   string

	// FailTurnOnPersistError, when true, persists the turn's TurnStart
	// event synchronously and aborts the turn with a PersistError if that
	// write still fails after the bus's retries; later events of the turn
	// go through the bus as usual. Default false: the bus retries and
	// logs, the turn proceeds regardless.
	FailTurnOnPersistError bool
}

// DefaultRunnerConfig returns spec-documented defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		ProviderTimeout: DefaultProviderTimeout,
		ToolTimeout:     DefaultToolTimeout,
		MaxConcurrency:  DefaultMaxConcurrency,
	}
}

// Runner drives one session's turn loop: inference, harness-gated tool
// dispatch, and persistence via the Event Bus.
type Runner struct {
	cfg       RunnerConfig
	client    *llm.Client
	tools     *tool.Registry
	harness   *harness.Harness
	bus       *bus.Bus
	sysPrompt string
}

// NewRunner builds a Runner wired to the given client, tool registry,
// harness, and bus.
func NewRunner(cfg RunnerConfig, client *llm.Client, tools *tool.Registry, h *harness.Harness, b *bus.Bus, systemPrompt string) *Runner {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultProviderTimeout
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = DefaultToolTimeout
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	return &Runner{cfg: cfg, client: client, tools: tools, harness: h, bus: b, sysPrompt: systemPrompt}
}

// RunTurn processes exactly one queued prompt through the Infer ->
// ToolPhase -> Infer cycle described in spec.md §4.3 step 4: a single
// turn keeps calling the provider with accumulated tool results until
// the assistant produces no tool_calls, then Finalizes. TurnStart and
// TurnEnd are each emitted exactly once, bracketing every Infer/ToolPhase
// round the turn takes, per spec.md §2 ("loops until the assistant
// produces no tool calls").
func (r *Runner) RunTurn(ctx context.Context, session *Session, prompt string) error {
	session.State = StateRunning
	session.TurnIndex++
	turnIndex := session.TurnIndex

	if r.cfg.FailTurnOnPersistError {
		if err := r.bus.PersistNow(ctx, session.ID, bus.EventTurnStart, map[string]any{"turn_index": turnIndex}); err != nil {
			session.State = StateIdle
			return errs.NewPersistError("persist turn_start failed, aborting turn", err)
		}
	} else {
		r.bus.Emit(session.ID, bus.EventTurnStart, map[string]any{"turn_index": turnIndex})
	}

	if prompt != "" {
		session.AppendTurn(UserTurn{Content: prompt, Timestamp: time.Now()})
		r.bus.Emit(session.ID, bus.EventUserMessage, map[string]any{"content": prompt})
	}

	for {
		result, err := r.infer(ctx, session)
		if err != nil {
			r.bus.Emit(session.ID, bus.EventError, map[string]any{"stage": "provider", "message": err.Error()})
			session.State = StateIdle
			r.bus.Emit(session.ID, bus.EventTurnEnd, map[string]any{"turn_index": turnIndex})
			return err
		}

		if len(result.ToolCalls) == 0 {
			break
		}

		results := r.toolPhase(ctx, session, result.ToolCalls)
		session.AppendTurn(ToolResultsTurn{Results: results, Timestamp: time.Now()})
		// Loop back to Infer with the tool results folded into history,
		// same turn index — the assistant reacts to tool output before
		// the turn finalizes.
	}

	session.State = StateIdle
	r.bus.Emit(session.ID, bus.EventTurnEnd, map[string]any{"turn_index": turnIndex})
	return nil
}

func providerToolDefs(defs []tool.Definition) []llm.ToolDefinition {
	out := make([]llm.ToolDefinition, len(defs))
	for i, d := range defs {
		out[i] = llm.ToolDefinition{Name: d.Name, Description: d.Description, Parameters: d.Parameters}
	}
	return out
}

type inferResult struct {
	Content   string
	ToolCalls []llm.ToolCallData
	Usage     llm.Usage
}

// infer calls the provider with a bounded timeout and retries retryable
// errors up to 3 times, waiting a fixed 250ms, 1s, then 4s between
// attempts; the waits are not jittered.
func (r *Runner) infer(ctx context.Context, session *Session) (*inferResult, error) {
	messages := make([]llm.Message, 0, len(session.Messages())+1)
	if r.sysPrompt != "" {
		messages = append(messages, llm.SystemMessage(r.sysPrompt))
	}
	messages = append(messages, session.Messages()...)

	request := llm.Request{
		Model:      r.cfg.Model,
		Messages:   messages,
		Tools:      providerToolDefs(r.tools.Definitions()),
		ToolChoice: &llm.ToolChoice{Mode: llm.ToolChoiceAuto},
		Provider:   r.cfg.Provider,
	}

	backoffs := []time.Duration{250 * time.Millisecond, 1 * time.Second, 4 * time.Second}
	var lastErr error
	for attempt := 0; attempt <= len(backoffs); attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.ProviderTimeout)
		response, err := r.client.Complete(callCtx, request)
		cancel()
		if err == nil {
			usageZero := response.Usage.InputTokens == 0 && response.Usage.OutputTokens == 0
			data := map[string]any{
				"content":    response.TextContent(),
				"tool_calls": response.ToolCalls(),
				"usage":      response.Usage,
			}
			if usageZero {
				data["usage_estimated"] = true
			}
			session.AppendTurn(AssistantTurn{
				Content:   response.TextContent(),
				ToolCalls: response.ToolCalls(),
				Usage:     response.Usage,
				Timestamp: time.Now(),
			})
			session.AddUsage(response.Usage)
			r.bus.Emit(session.ID, bus.EventAssistantMsg, data)
			return &inferResult{Content: response.TextContent(), ToolCalls: response.ToolCalls(), Usage: response.Usage}, nil
		}

		lastErr = err
		if !isRetryableProviderErr(err) || attempt == len(backoffs) {
			break
		}
		select {
		case <-time.After(backoffs[attempt]):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, errs.NewProviderError(errs.ProviderFatal, "provider call failed", lastErr)
}

func isRetryableProviderErr(err error) bool {
	var perr *errs.ProviderError
	if ok := asProviderError(err, &perr); ok {
		return perr.IsRetryable()
	}
	// Providers that don't wrap errors into errs.ProviderError (the
	// common case, since llm's own adapters return plain errors) are
	// treated conservatively as retryable network-class failures.
	return true
}

func asProviderError(err error, target **errs.ProviderError) bool {
	for err != nil {
		if pe, ok := err.(*errs.ProviderError); ok {
			*target = pe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// toolPhase dispatches tool calls with bounded concurrency, gates each
// through the harness, and returns results in the original call order
// regardless of completion order, per spec.md §4.3/§5.
func (r *Runner) toolPhase(ctx context.Context, session *Session, calls []llm.ToolCallData) []llm.ToolResult {
	results := make([]llm.ToolResult, len(calls))
	sem := make(chan struct{}, r.cfg.MaxConcurrency)
	var wg sync.WaitGroup
	wg.Add(len(calls))

	for i, call := range calls {
		sem <- struct{}{}
		go func(idx int, c llm.ToolCallData) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = r.dispatchOne(ctx, session, c)
		}(i, call)
	}
	wg.Wait()
	return results
}

// dispatchOne runs a single tool call through the harness verdict gate,
// honoring the per-call timeout, and emits ToolCallStart/ToolCallEnd.
func (r *Runner) dispatchOne(ctx context.Context, session *Session, call llm.ToolCallData) llm.ToolResult {
	r.bus.Emit(session.ID, bus.EventToolCallStart, map[string]any{
		"id": call.ID, "name": call.Name, "args": json.RawMessage(call.Arguments),
	})

	start := time.Now()

	var args map[string]any
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return r.finishToolCall(session, call, start, "", fmt.Sprintf("Tool error (%s): invalid arguments: %s", call.Name, err), true, "reject")
		}
	} else {
		args = make(map[string]any)
	}

	verdict := r.harness.OnToolCall(ctx, session.ID, harness.ToolCall{ID: call.ID, Name: call.Name, Args: args})

	switch verdict.Kind {
	case harness.Reject:
		return r.finishToolCall(session, call, start, "", verdict.Reason, true, string(harness.Reject))
	case harness.Substitute:
		return r.finishToolCall(session, call, start, verdict.Output, verdict.Output, false, string(harness.Substitute))
	case harness.Rewrite:
		if verdict.NewArgs != nil {
			args = verdict.NewArgs
		}
	}

	t := r.tools.Get(call.Name)
	if t == nil {
		msg := fmt.Sprintf("Unknown tool: %s", call.Name)
		return r.finishToolCall(session, call, start, "", msg, true, string(harness.Allow))
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.ToolTimeout)
	defer cancel()

	out, err := t.Execute(callCtx, args, tool.Context{WorkspaceRoot: r.cfg.WorkspaceRoot, SessionID: session.ID})
	if callCtx.Err() == context.DeadlineExceeded {
		msg := fmt.Sprintf("tool timed out after %ds", int(r.cfg.ToolTimeout.Seconds()))
		return r.finishToolCall(session, call, start, "", msg, true, string(harness.Allow))
	}
	if err != nil {
		msg := err.Error()
		if te, ok := err.(*errs.ToolError); ok {
			msg = te.Format(call.Name)
		}
		return r.finishToolCall(session, call, start, "", msg, true, string(harness.Allow))
	}

	return r.finishToolCall(session, call, start, out.Content, out.Content, false, string(harness.Allow))
}

func (r *Runner) finishToolCall(session *Session, call llm.ToolCallData, start time.Time, rawOutput, resultContent string, isError bool, verdict string) llm.ToolResult {
	durationMs := time.Since(start).Milliseconds()
	data := map[string]any{
		"id":          call.ID,
		"duration_ms": durationMs,
		"verdict":     verdict,
		"is_error":    isError,
	}
	if isError {
		data["error"] = resultContent
	} else {
		data["output"] = rawOutput
	}
	r.bus.Emit(session.ID, bus.EventToolCallEnd, data)

	return llm.ToolResult{
		ToolCallID: call.ID,
		Content:    resultContent,
		IsError:    isError,
	}
}
