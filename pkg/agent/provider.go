package agent

import (
	"context"
	"fmt"
)

// Provider is the contract over a concrete LLM backend.
//
// Chat and ChatStream either succeed per-contract or fail with a typed error
// (*ProviderError, or *AbortedError when ctx is cancelled); the session never
// retries automatically. The message encoders are pure and idempotent and
// must faithfully round-trip every tool call and result, so the next turn
// sees exactly what was executed.
type Provider interface {
	// Name returns the provider identifier ("anthropic", "openai").
	Name() string

	// Chat performs a single non-streaming model turn.
	Chat(ctx context.Context, systemPrompt string, messages []Message, tools []ToolDescriptor) (*LLMResponse, error)

	// ChatStream performs the same turn but reports text deltas and tool
	// invocations through cb as they arrive, then resolves with the same
	// aggregate response a non-streaming call would produce.
	ChatStream(ctx context.Context, systemPrompt string, messages []Message, tools []ToolDescriptor, cb *StreamCallbacks) (*LLMResponse, error)

	// MakeAssistantMessage encodes a model response as a transcript message.
	MakeAssistantMessage(resp *LLMResponse) Message

	// MakeToolResultMessage packs one round of tool results into the single
	// message the backend expects, preserving the given order.
	MakeToolResultMessage(results []ToolResult) Message
}

// StreamCallbacks are caller-supplied observation hooks for a streaming send.
// Any field may be nil; a nil *StreamCallbacks disables streaming entirely.
type StreamCallbacks struct {
	OnText      func(delta string)
	OnToolStart func(call ToolCall)
	OnToolEnd   func(call ToolCall, result ToolResult)
	OnComplete  func()
	OnError     func(err error)
}

func (cb *StreamCallbacks) text(delta string) {
	if cb != nil && cb.OnText != nil && delta != "" {
		cb.OnText(delta)
	}
}

func (cb *StreamCallbacks) toolStart(call ToolCall) {
	if cb != nil && cb.OnToolStart != nil {
		cb.OnToolStart(call)
	}
}

func (cb *StreamCallbacks) toolEnd(call ToolCall, result ToolResult) {
	if cb != nil && cb.OnToolEnd != nil {
		cb.OnToolEnd(call, result)
	}
}

func (cb *StreamCallbacks) complete() {
	if cb != nil && cb.OnComplete != nil {
		cb.OnComplete()
	}
}

func (cb *StreamCallbacks) fail(err error) {
	if cb != nil && cb.OnError != nil {
		cb.OnError(err)
	}
}

// ProviderOptions carries model settings shared by all backends.
type ProviderOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// NewProvider creates a provider for the named backend using a session-scoped
// credential cache.
func NewProvider(name string, creds *CredentialCache, opts ProviderOptions) (Provider, error) {
	switch name {
	case "anthropic":
		return NewAnthropicProvider(creds, opts), nil
	case "openai":
		return NewOpenAIProvider(creds, opts), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}
