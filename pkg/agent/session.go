package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultMaxRounds bounds the provider/tool loop for a single send.
const DefaultMaxRounds = 20

// Dispatcher executes one resolved tool call and exposes the tool catalog a
// session may offer to the model. Dispatch never returns an error: failures
// of any kind come back as error-flagged results.
type Dispatcher interface {
	Dispatch(ctx context.Context, call ToolCall) ToolResult
	Catalog() []ToolDescriptor
}

// SessionConfig configures a conversation session.
type SessionConfig struct {
	Provider     Provider
	Dispatcher   Dispatcher
	SystemPrompt string
	MaxRounds    int
	Logger       zerolog.Logger
}

// Session owns one conversation: the transcript, a fixed system prompt, and
// the tool catalog computed once at construction. The same state machine
// serves interactive streaming chat and one-shot report/agent runs; the only
// difference is whether callbacks are supplied.
type Session struct {
	provider     Provider
	dispatcher   Dispatcher
	systemPrompt string
	catalog      []ToolDescriptor
	maxRounds    int
	logger       zerolog.Logger

	mu      sync.Mutex
	history []Message
}

// SendResult is the outcome of one send: the assistant text produced across
// all rounds, aggregate usage, and whether the round limit cut the loop off.
type SendResult struct {
	Text            string
	StopReason      StopReason
	Usage           TokenUsage
	Rounds          int
	RoundsExhausted bool
}

// NewSession creates a session. The tool catalog is captured from the
// dispatcher here and never changes for the session's life.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	maxRounds := cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}

	return &Session{
		provider:     cfg.Provider,
		dispatcher:   cfg.Dispatcher,
		systemPrompt: cfg.SystemPrompt,
		catalog:      cfg.Dispatcher.Catalog(),
		maxRounds:    maxRounds,
		logger:       cfg.Logger,
	}, nil
}

// Send runs the round loop for one user message without streaming.
func (s *Session) Send(ctx context.Context, userText string) (*SendResult, error) {
	return s.SendStream(ctx, userText, nil)
}

// SendStream runs the round loop for one user message, reporting progress
// through cb when non-nil.
//
// The user message is appended first, unconditionally, so the transcript
// always reflects what was asked even when the loop fails afterwards. Only
// provider failures and cancellation escape as errors; tool failures are
// folded into the transcript, and exhausting the round budget is reported on
// the result rather than thrown.
func (s *Session) SendStream(ctx context.Context, userText string, cb *StreamCallbacks) (*SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, TextMessage(RoleUser, userText))

	result := &SendResult{}
	for round := 0; round < s.maxRounds; round++ {
		result.Rounds = round + 1

		resp, err := s.callProvider(ctx, cb)
		if err != nil {
			// ChatStream has already reported the failure through cb.OnError.
			return nil, err
		}

		result.Text += resp.Text
		if resp.Usage != nil {
			result.Usage.InputTokens += resp.Usage.InputTokens
			result.Usage.OutputTokens += resp.Usage.OutputTokens
		}

		// The assistant message, tool-call blocks included, lands in the
		// transcript before dispatch so an interrupted round still leaves a
		// consistent prefix.
		s.history = append(s.history, s.provider.MakeAssistantMessage(resp))

		if resp.StopReason != StopToolUse || len(resp.ToolCalls) == 0 {
			result.StopReason = resp.StopReason
			cb.complete()
			return result, nil
		}

		results, err := s.dispatchRound(ctx, resp.ToolCalls, cb)
		if err != nil {
			cb.fail(err)
			return nil, err
		}
		s.history = append(s.history, s.provider.MakeToolResultMessage(results))
	}

	s.logger.Error().
		Int("max_rounds", s.maxRounds).
		Msg("Round limit reached without end of turn")

	result.StopReason = StopToolUse
	result.RoundsExhausted = true
	cb.complete()
	return result, nil
}

func (s *Session) callProvider(ctx context.Context, cb *StreamCallbacks) (*LLMResponse, error) {
	if cb == nil {
		return s.provider.Chat(ctx, s.systemPrompt, s.history, s.catalog)
	}
	return s.provider.ChatStream(ctx, s.systemPrompt, s.history, s.catalog, cb)
}

// dispatchRound fans out every tool call in the round concurrently and waits
// for all of them. Results land at the index of the call that produced them,
// so the packed tool-result message preserves call-issue order regardless of
// completion order. A failing call never cancels its siblings.
func (s *Session) dispatchRound(ctx context.Context, calls []ToolCall, cb *StreamCallbacks) ([]ToolResult, error) {
	results := make([]ToolResult, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call ToolCall) {
			defer wg.Done()
			cb.toolStart(call)
			res := s.dispatcher.Dispatch(ctx, call)
			res.ToolCallID = call.ID
			results[i] = res
			cb.toolEnd(call, res)
		}(i, call)
	}
	wg.Wait()

	// A cancelled round resolves as aborted, not as a partial success.
	if err := ctx.Err(); err != nil {
		return nil, &AbortedError{Err: err}
	}
	return results, nil
}

// Clear resets the transcript to empty. The system prompt and tool catalog
// survive; the session behaves like a fresh conversation on the same setup.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

// History returns a copy of the transcript.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}

// SystemPrompt returns the immutable system prompt.
func (s *Session) SystemPrompt() string { return s.systemPrompt }

// Catalog returns a copy of the tool catalog offered to the model.
func (s *Session) Catalog() []ToolDescriptor {
	out := make([]ToolDescriptor, len(s.catalog))
	copy(out, s.catalog)
	return out
}
