package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProvider replays a fixed sequence of responses and records every
// request it receives.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*LLMResponse
	calls     int
	seenMsgs  [][]Message
	seenTools [][]ToolDescriptor

	// streamErr, when set, is returned instead of the next response.
	streamErr error
	// blockUntilCancel makes ChatStream wait for ctx cancellation, mimicking
	// a long-lived transport that is aborted mid-stream.
	blockUntilCancel bool
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) next(ctx context.Context, messages []Message, tools []ToolDescriptor) (*LLMResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seenMsgs = append(p.seenMsgs, messages)
	p.seenTools = append(p.seenTools, tools)

	if p.blockUntilCancel {
		p.mu.Unlock()
		<-ctx.Done()
		p.mu.Lock()
		return nil, &AbortedError{Err: ctx.Err()}
	}
	if p.streamErr != nil {
		return nil, p.streamErr
	}

	idx := p.calls
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	p.calls++
	return p.responses[idx], nil
}

func (p *scriptedProvider) Chat(ctx context.Context, systemPrompt string, messages []Message, tools []ToolDescriptor) (*LLMResponse, error) {
	return p.next(ctx, messages, tools)
}

func (p *scriptedProvider) ChatStream(ctx context.Context, systemPrompt string, messages []Message, tools []ToolDescriptor, cb *StreamCallbacks) (*LLMResponse, error) {
	resp, err := p.next(ctx, messages, tools)
	if err != nil {
		cb.fail(err)
		return nil, err
	}
	cb.text(resp.Text)
	for _, call := range resp.ToolCalls {
		cb.toolStart(ToolCall{ID: call.ID, Name: call.Name})
	}
	return resp, nil
}

func (p *scriptedProvider) MakeAssistantMessage(resp *LLMResponse) Message {
	msg := Message{Role: RoleAssistant}
	if resp.Text != "" {
		msg.Blocks = append(msg.Blocks, Block{Type: BlockText, Text: resp.Text})
	}
	for i := range resp.ToolCalls {
		call := resp.ToolCalls[i]
		msg.Blocks = append(msg.Blocks, Block{Type: BlockToolUse, Call: &call})
	}
	return msg
}

func (p *scriptedProvider) MakeToolResultMessage(results []ToolResult) Message {
	msg := Message{Role: RoleUser}
	for i := range results {
		res := results[i]
		msg.Blocks = append(msg.Blocks, Block{Type: BlockToolResult, Result: &res})
	}
	return msg
}

// handlerFunc executes a single tool call in tests.
type handlerFunc func(ctx context.Context, call ToolCall) (string, error)

// fakeDispatcher routes calls to named handlers and converts failures into
// error-flagged results, mirroring the real dispatcher contract.
type fakeDispatcher struct {
	handlers map[string]handlerFunc
	catalog  []ToolDescriptor
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, call ToolCall) ToolResult {
	handler, ok := d.handlers[call.Name]
	if !ok {
		return ToolResult{ToolCallID: call.ID, Content: fmt.Sprintf("Error: unknown tool: %s", call.Name), IsError: true}
	}
	out, err := handler(ctx, call)
	if err != nil {
		return ToolResult{ToolCallID: call.ID, Content: fmt.Sprintf("Error: %v", err), IsError: true}
	}
	return ToolResult{ToolCallID: call.ID, Content: out}
}

func (d *fakeDispatcher) Catalog() []ToolDescriptor { return d.catalog }

func endTurn(text string) *LLMResponse {
	return &LLMResponse{StopReason: StopEndTurn, Text: text, Usage: &TokenUsage{InputTokens: 5, OutputTokens: 3}}
}

func toolTurn(calls ...ToolCall) *LLMResponse {
	return &LLMResponse{StopReason: StopToolUse, ToolCalls: calls}
}

func newTestSession(t *testing.T, provider Provider, dispatcher Dispatcher, maxRounds int) *Session {
	t.Helper()
	sess, err := NewSession(SessionConfig{
		Provider:     provider,
		Dispatcher:   dispatcher,
		SystemPrompt: "You are VWork.",
		MaxRounds:    maxRounds,
		Logger:       zerolog.New(os.Stdout).Level(zerolog.Disabled),
	})
	require.NoError(t, err)
	return sess
}

func TestNewSession(t *testing.T) {
	t.Run("should fail without provider", func(t *testing.T) {
		_, err := NewSession(SessionConfig{Dispatcher: &fakeDispatcher{}})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "provider")
	})

	t.Run("should fail without dispatcher", func(t *testing.T) {
		_, err := NewSession(SessionConfig{Provider: &scriptedProvider{}})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "dispatcher")
	})

	t.Run("should capture catalog at construction", func(t *testing.T) {
		dispatcher := &fakeDispatcher{catalog: []ToolDescriptor{{Name: "file__read"}}}
		sess := newTestSession(t, &scriptedProvider{responses: []*LLMResponse{endTurn("ok")}}, dispatcher, 0)

		dispatcher.catalog = append(dispatcher.catalog, ToolDescriptor{Name: "late__tool"})
		assert.Len(t, sess.Catalog(), 1)
	})
}

func TestSendEndToEnd(t *testing.T) {
	t.Run("should produce user and assistant turns for a plain answer", func(t *testing.T) {
		provider := &scriptedProvider{responses: []*LLMResponse{endTurn("hello")}}
		sess := newTestSession(t, provider, &fakeDispatcher{}, 0)

		completes := 0
		errs := 0
		result, err := sess.SendStream(context.Background(), "hi", &StreamCallbacks{
			OnComplete: func() { completes++ },
			OnError:    func(error) { errs++ },
		})

		require.NoError(t, err)
		assert.Equal(t, "hello", result.Text)
		assert.Equal(t, StopEndTurn, result.StopReason)
		assert.Equal(t, 1, result.Rounds)

		history := sess.History()
		require.Len(t, history, 2)
		assert.Equal(t, RoleUser, history[0].Role)
		assert.Equal(t, "hi", history[0].Text())
		assert.Equal(t, RoleAssistant, history[1].Role)
		assert.Equal(t, "hello", history[1].Text())

		assert.Equal(t, 1, completes)
		assert.Equal(t, 0, errs)
	})

	t.Run("should run an echo tool round and finish with done", func(t *testing.T) {
		provider := &scriptedProvider{responses: []*LLMResponse{
			toolTurn(ToolCall{ID: "call-1", Name: "demo__echo", Input: map[string]interface{}{"x": 1}}),
			endTurn("done"),
		}}
		dispatcher := &fakeDispatcher{handlers: map[string]handlerFunc{
			"demo__echo": func(_ context.Context, call ToolCall) (string, error) {
				data, err := json.Marshal(call.Input)
				return string(data), err
			},
		}}
		sess := newTestSession(t, provider, dispatcher, 0)

		result, err := sess.Send(context.Background(), "echo it back")
		require.NoError(t, err)
		assert.Equal(t, "done", result.Text)
		assert.Equal(t, 2, result.Rounds)

		history := sess.History()
		require.Len(t, history, 4) // user, assistant+tool_use, tool_result, assistant

		var resultMsgs []ToolResult
		for _, b := range history[2].Blocks {
			require.Equal(t, BlockToolResult, b.Type)
			resultMsgs = append(resultMsgs, *b.Result)
		}
		require.Len(t, resultMsgs, 1)
		assert.Equal(t, "call-1", resultMsgs[0].ToolCallID)
		assert.JSONEq(t, `{"x":1}`, resultMsgs[0].Content)
		assert.False(t, resultMsgs[0].IsError)

		assert.Equal(t, "done", history[3].Text())
	})
}

func TestDispatchOrdering(t *testing.T) {
	t.Run("should preserve call-issue order regardless of completion order", func(t *testing.T) {
		calls := []ToolCall{
			{ID: "a", Name: "demo__slow"},
			{ID: "b", Name: "demo__medium"},
			{ID: "c", Name: "demo__fast"},
		}
		provider := &scriptedProvider{responses: []*LLMResponse{toolTurn(calls...), endTurn("done")}}

		delays := map[string]time.Duration{
			"demo__slow":   60 * time.Millisecond,
			"demo__medium": 30 * time.Millisecond,
			"demo__fast":   0,
		}
		var completionOrder []string
		var mu sync.Mutex
		handlers := map[string]handlerFunc{}
		for name, delay := range delays {
			name, delay := name, delay
			handlers[name] = func(context.Context, ToolCall) (string, error) {
				time.Sleep(delay)
				mu.Lock()
				completionOrder = append(completionOrder, name)
				mu.Unlock()
				return "result of " + name, nil
			}
		}

		sess := newTestSession(t, provider, &fakeDispatcher{handlers: handlers}, 0)
		_, err := sess.Send(context.Background(), "run all three")
		require.NoError(t, err)

		// The slow call finished last but still comes first in the packed
		// tool-result message.
		assert.Equal(t, []string{"demo__fast", "demo__medium", "demo__slow"}, completionOrder)

		history := sess.History()
		resultMsg := history[2]
		require.Len(t, resultMsg.Blocks, 3)
		assert.Equal(t, "a", resultMsg.Blocks[0].Result.ToolCallID)
		assert.Equal(t, "b", resultMsg.Blocks[1].Result.ToolCallID)
		assert.Equal(t, "c", resultMsg.Blocks[2].Result.ToolCallID)
	})

	t.Run("should isolate a failing handler from its siblings", func(t *testing.T) {
		provider := &scriptedProvider{responses: []*LLMResponse{
			toolTurn(
				ToolCall{ID: "ok", Name: "demo__good"},
				ToolCall{ID: "bad", Name: "demo__bad"},
			),
			endTurn("done"),
		}}
		dispatcher := &fakeDispatcher{handlers: map[string]handlerFunc{
			"demo__good": func(context.Context, ToolCall) (string, error) { return "fine", nil },
			"demo__bad":  func(context.Context, ToolCall) (string, error) { return "", fmt.Errorf("disk on fire") },
		}}

		sess := newTestSession(t, provider, dispatcher, 0)
		_, err := sess.Send(context.Background(), "both")
		require.NoError(t, err)

		resultMsg := sess.History()[2]
		require.Len(t, resultMsg.Blocks, 2)

		good := resultMsg.Blocks[0].Result
		assert.False(t, good.IsError)
		assert.Equal(t, "fine", good.Content)

		bad := resultMsg.Blocks[1].Result
		assert.True(t, bad.IsError)
		assert.Contains(t, bad.Content, "disk on fire")
	})
}

func TestRoundLimit(t *testing.T) {
	t.Run("should stop softly after the configured number of rounds", func(t *testing.T) {
		// Always asks for another tool call, never ends its turn.
		provider := &scriptedProvider{responses: []*LLMResponse{
			toolTurn(ToolCall{ID: "loop", Name: "demo__again"}),
		}}
		dispatcher := &fakeDispatcher{handlers: map[string]handlerFunc{
			"demo__again": func(context.Context, ToolCall) (string, error) { return "again", nil },
		}}

		sess := newTestSession(t, provider, dispatcher, 4)
		result, err := sess.Send(context.Background(), "loop forever")

		require.NoError(t, err)
		assert.True(t, result.RoundsExhausted)
		assert.Equal(t, 4, result.Rounds)
		assert.Equal(t, 4, provider.calls)
	})

	t.Run("should default to twenty rounds", func(t *testing.T) {
		sess := newTestSession(t, &scriptedProvider{responses: []*LLMResponse{endTurn("ok")}}, &fakeDispatcher{}, 0)
		assert.Equal(t, DefaultMaxRounds, sess.maxRounds)
	})
}

func TestClear(t *testing.T) {
	t.Run("should empty the transcript but keep prompt and catalog", func(t *testing.T) {
		provider := &scriptedProvider{responses: []*LLMResponse{endTurn("first")}}
		dispatcher := &fakeDispatcher{catalog: []ToolDescriptor{{Name: "file__read"}, {Name: "todo__add"}}}
		sess := newTestSession(t, provider, dispatcher, 0)

		_, err := sess.Send(context.Background(), "hello")
		require.NoError(t, err)
		require.Len(t, sess.History(), 2)

		sess.Clear()
		assert.Empty(t, sess.History())
		assert.Equal(t, "You are VWork.", sess.SystemPrompt())
		assert.Len(t, sess.Catalog(), 2)

		// The next send starts from an empty history while offering the same
		// tools to the model.
		_, err = sess.Send(context.Background(), "again")
		require.NoError(t, err)
		lastSeen := provider.seenMsgs[len(provider.seenMsgs)-1]
		require.Len(t, lastSeen, 1)
		assert.Equal(t, "again", lastSeen[0].Text())
		assert.Len(t, provider.seenTools[len(provider.seenTools)-1], 2)
	})
}

func TestCancellation(t *testing.T) {
	t.Run("should abort mid-stream without appending past the cancellation", func(t *testing.T) {
		provider := &scriptedProvider{blockUntilCancel: true}
		sess := newTestSession(t, provider, &fakeDispatcher{}, 0)

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		errs := 0
		_, err := sess.SendStream(ctx, "never finishes", &StreamCallbacks{
			OnError: func(error) { errs++ },
		})

		require.Error(t, err)
		assert.True(t, IsAborted(err))
		assert.Equal(t, 1, errs)

		// Only the user message made it into the transcript.
		history := sess.History()
		require.Len(t, history, 1)
		assert.Equal(t, RoleUser, history[0].Role)
	})

	t.Run("should abort a round cancelled during tool dispatch", func(t *testing.T) {
		provider := &scriptedProvider{responses: []*LLMResponse{
			toolTurn(ToolCall{ID: "w", Name: "demo__wait"}),
			endTurn("done"),
		}}
		dispatcher := &fakeDispatcher{handlers: map[string]handlerFunc{
			"demo__wait": func(ctx context.Context, _ ToolCall) (string, error) {
				<-ctx.Done()
				return "", ctx.Err()
			},
		}}
		sess := newTestSession(t, provider, dispatcher, 0)

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		_, err := sess.Send(ctx, "wait for it")
		require.Error(t, err)
		assert.True(t, IsAborted(err))

		// The assistant message with its tool-call blocks was appended before
		// dispatch; nothing after it was.
		history := sess.History()
		require.Len(t, history, 2)
		assert.Equal(t, RoleAssistant, history[1].Role)
	})
}

func TestProviderFailure(t *testing.T) {
	t.Run("should surface provider errors and keep the transcript for retry", func(t *testing.T) {
		provider := &scriptedProvider{streamErr: &ProviderError{Provider: "scripted", Err: fmt.Errorf("429 rate limit")}}
		sess := newTestSession(t, provider, &fakeDispatcher{}, 0)

		_, err := sess.Send(context.Background(), "hi")
		require.Error(t, err)
		assert.True(t, IsProviderError(err))

		history := sess.History()
		require.Len(t, history, 1)
		assert.Equal(t, "hi", history[0].Text())
	})

	t.Run("should report a streaming failure through OnError exactly once", func(t *testing.T) {
		provider := &scriptedProvider{streamErr: &ProviderError{Provider: "scripted", Err: fmt.Errorf("boom")}}
		sess := newTestSession(t, provider, &fakeDispatcher{}, 0)

		errs := 0
		completes := 0
		_, err := sess.SendStream(context.Background(), "hi", &StreamCallbacks{
			OnError:    func(error) { errs++ },
			OnComplete: func() { completes++ },
		})

		require.Error(t, err)
		assert.Equal(t, 1, errs)
		assert.Equal(t, 0, completes)
	})
}
