// ABOUTME: Error taxonomy for the kernel: Config, Persist, Provider, Tool, and Harness errors.
// ABOUTME: Mirrors the llm package's SDKError-embedding pattern so errors.As/Is work across kinds.

package errs

import "fmt"

// Base is the root of the kernel error taxonomy. All other error types
// embed Base either directly or transitively.
type Base struct {
	Message string
	Cause   error
}

func (e *Base) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Base) Unwrap() error { return e.Cause }

// ConfigError reports an invalid or missing configuration. Fatal at startup.
type ConfigError struct{ Base }

func NewConfigError(msg string, cause error) *ConfigError {
	return &ConfigError{Base{Message: msg, Cause: cause}}
}

// PersistError reports a State Store failure. Recovered via retry in the
// bus consumer; surfaced as an Error event on final failure. It aborts a
// turn only when the runner's FailTurnOnPersistError is set and the
// turn's TurnStart event cannot be persisted.
type PersistError struct{ Base }

func NewPersistError(msg string, cause error) *PersistError {
	return &PersistError{Base{Message: msg, Cause: cause}}
}

// ProviderErrorKind discriminates whether a provider failure should be retried.
type ProviderErrorKind string

const (
	ProviderRetryable ProviderErrorKind = "retryable"
	ProviderFatal     ProviderErrorKind = "fatal"
)

// ProviderError wraps an inference-provider failure with its retry kind.
type ProviderError struct {
	Base
	Kind ProviderErrorKind
}

func NewProviderError(kind ProviderErrorKind, msg string, cause error) *ProviderError {
	return &ProviderError{Base: Base{Message: msg, Cause: cause}, Kind: kind}
}

func (e *ProviderError) IsRetryable() bool { return e.Kind == ProviderRetryable }

// ToolErrorKind discriminates the reason a tool call did not produce output.
type ToolErrorKind string

const (
	ToolInvalidParams    ToolErrorKind = "invalid_params"
	ToolPermissionDenied ToolErrorKind = "permission_denied"
	ToolExecutionError   ToolErrorKind = "execution_error"
	ToolUnknown          ToolErrorKind = "unknown_tool"
	ToolTimeout          ToolErrorKind = "timeout"
	ToolCancelled         ToolErrorKind = "cancelled"
)

// ToolError reports a tool invocation failure. Never aborts a turn: it is
// always converted into a tool-result message surfaced to the model.
type ToolError struct {
	Base
	Kind ToolErrorKind
}

func NewToolError(kind ToolErrorKind, msg string) *ToolError {
	return &ToolError{Base: Base{Message: msg}, Kind: kind}
}

// Format renders the error the way it should appear in a tool-result message.
func (e *ToolError) Format(toolName string) string {
	switch e.Kind {
	case ToolUnknown:
		return fmt.Sprintf("Unknown tool: %s", toolName)
	case ToolTimeout:
		return e.Message
	default:
		return fmt.Sprintf("Tool error (%s): %s", toolName, e.Message)
	}
}

// HarnessError reports a script load or hook failure. Load errors at
// startup are fatal; hot-reload failures keep the previous script; hook
// failures default-allow and are logged, never raised here.
type HarnessError struct{ Base }

func NewHarnessError(msg string, cause error) *HarnessError {
	return &HarnessError{Base{Message: msg, Cause: cause}}
}
