package report

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Voyage-Pet-AI/vwork/pkg/agent"
	"github.com/Voyage-Pet-AI/vwork/pkg/session"
)

// stubProvider answers every prompt with a fixed text or error.
type stubProvider struct {
	text string
	err  error
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Chat(context.Context, string, []agent.Message, []agent.ToolDescriptor) (*agent.LLMResponse, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &agent.LLMResponse{StopReason: agent.StopEndTurn, Text: p.text}, nil
}

func (p *stubProvider) ChatStream(ctx context.Context, system string, messages []agent.Message, tools []agent.ToolDescriptor, cb *agent.StreamCallbacks) (*agent.LLMResponse, error) {
	return p.Chat(ctx, system, messages, tools)
}

func (p *stubProvider) MakeAssistantMessage(resp *agent.LLMResponse) agent.Message {
	return agent.TextMessage(agent.RoleAssistant, resp.Text)
}

func (p *stubProvider) MakeToolResultMessage([]agent.ToolResult) agent.Message {
	return agent.Message{Role: agent.RoleUser}
}

type noopDispatcher struct{}

func (noopDispatcher) Dispatch(_ context.Context, call agent.ToolCall) agent.ToolResult {
	return agent.ToolResult{ToolCallID: call.ID, Content: "ok"}
}

func (noopDispatcher) Catalog() []agent.ToolDescriptor { return nil }

func disabledLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).Level(zerolog.Disabled)
}

func factoryFor(provider agent.Provider) SessionFactory {
	return func() (*agent.Session, error) {
		return agent.NewSession(agent.SessionConfig{
			Provider:     provider,
			Dispatcher:   noopDispatcher{},
			SystemPrompt: "You write reports.",
			Logger:       disabledLogger(),
		})
	}
}

func TestService(t *testing.T) {
	t.Run("should record a successful run", func(t *testing.T) {
		service, err := NewService(factoryFor(&stubProvider{text: "weekly summary"}), nil, disabledLogger())
		require.NoError(t, err)

		run, err := service.Generate(context.Background(), "summarize the week")
		require.NoError(t, err)
		assert.NotEmpty(t, run.ID)
		assert.Equal(t, StatusSucceeded, run.Status)
		assert.Equal(t, "weekly summary", run.Text)
		assert.Equal(t, 1, run.Rounds)
		assert.False(t, run.FinishedAt.IsZero())
	})

	t.Run("should record a failed run without returning a Go error", func(t *testing.T) {
		provider := &stubProvider{err: &agent.ProviderError{Provider: "stub", Err: fmt.Errorf("503")}}
		service, err := NewService(factoryFor(provider), nil, disabledLogger())
		require.NoError(t, err)

		run, err := service.Generate(context.Background(), "summarize the week")
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, run.Status)
		assert.Contains(t, run.Error, "503")
		assert.Empty(t, run.Text)
	})

	t.Run("should isolate runs in fresh sessions", func(t *testing.T) {
		built := 0
		factory := func() (*agent.Session, error) {
			built++
			return agent.NewSession(agent.SessionConfig{
				Provider:   &stubProvider{text: "out"},
				Dispatcher: noopDispatcher{},
				Logger:     disabledLogger(),
			})
		}
		service, err := NewService(factory, nil, disabledLogger())
		require.NoError(t, err)

		_, err = service.Generate(context.Background(), "first")
		require.NoError(t, err)
		_, err = service.Generate(context.Background(), "second")
		require.NoError(t, err)
		assert.Equal(t, 2, built)
	})

	t.Run("should archive successful runs to the transcript store", func(t *testing.T) {
		store, err := session.NewStore(t.TempDir(), disabledLogger())
		require.NoError(t, err)
		service, err := NewService(factoryFor(&stubProvider{text: "archived output"}), store, disabledLogger())
		require.NoError(t, err)

		run, err := service.Generate(context.Background(), "archive me")
		require.NoError(t, err)

		turns, err := store.Load("report-" + run.ID)
		require.NoError(t, err)
		require.Len(t, turns, 2)
		assert.Equal(t, "archive me", turns[0].Content)
		assert.Equal(t, "archived output", turns[1].Content)
	})

	t.Run("should reject an empty prompt", func(t *testing.T) {
		service, err := NewService(factoryFor(&stubProvider{text: "x"}), nil, disabledLogger())
		require.NoError(t, err)
		_, err = service.Generate(context.Background(), "")
		assert.Error(t, err)
	})

	t.Run("should list runs newest first", func(t *testing.T) {
		service, err := NewService(factoryFor(&stubProvider{text: "x"}), nil, disabledLogger())
		require.NoError(t, err)

		first, err := service.Generate(context.Background(), "one")
		require.NoError(t, err)
		second, err := service.Generate(context.Background(), "two")
		require.NoError(t, err)

		runs := service.List()
		require.Len(t, runs, 2)
		assert.Equal(t, second.ID, runs[0].ID)
		assert.Equal(t, first.ID, runs[1].ID)
	})
}

func TestScheduler(t *testing.T) {
	t.Run("should reject invalid cron expressions", func(t *testing.T) {
		service, err := NewService(factoryFor(&stubProvider{text: "x"}), nil, disabledLogger())
		require.NoError(t, err)
		scheduler := NewScheduler(service, disabledLogger())

		_, err = scheduler.Add("not a cron", "daily report")
		assert.Error(t, err)
	})

	t.Run("should reject an empty prompt", func(t *testing.T) {
		service, err := NewService(factoryFor(&stubProvider{text: "x"}), nil, disabledLogger())
		require.NoError(t, err)
		scheduler := NewScheduler(service, disabledLogger())

		_, err = scheduler.Add("0 9 * * *", "")
		assert.Error(t, err)
	})

	t.Run("should accept a five-field expression and compute the next run", func(t *testing.T) {
		service, err := NewService(factoryFor(&stubProvider{text: "x"}), nil, disabledLogger())
		require.NoError(t, err)
		scheduler := NewScheduler(service, disabledLogger())

		id, err := scheduler.Add("0 9 * * 1", "weekly report")
		require.NoError(t, err)
		defer scheduler.Remove(id)

		next, err := scheduler.NextRun("0 9 * * 1", "")
		require.NoError(t, err)
		assert.False(t, next.IsZero())
	})

	t.Run("should reject an unknown timezone", func(t *testing.T) {
		service, err := NewService(factoryFor(&stubProvider{text: "x"}), nil, disabledLogger())
		require.NoError(t, err)
		scheduler := NewScheduler(service, disabledLogger())

		_, err = scheduler.NextRun("0 9 * * *", "Mars/Olympus")
		assert.Error(t, err)
	})
}
