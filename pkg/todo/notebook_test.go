package todo

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Voyage-Pet-AI/vwork/pkg/agent"
	"github.com/Voyage-Pet-AI/vwork/pkg/toolexecutor"
)

func newTestNotebook(t *testing.T) (*Notebook, string) {
	t.Helper()
	dir := t.TempDir()
	notebook, err := NewNotebook(dir, zerolog.New(os.Stdout).Level(zerolog.Disabled))
	require.NoError(t, err)
	t.Cleanup(func() { notebook.Stop() })
	return notebook, dir
}

func TestNotebook(t *testing.T) {
	const day = "2026-08-29"

	t.Run("should return an empty list for a missing day", func(t *testing.T) {
		notebook, _ := newTestNotebook(t)
		items, err := notebook.Read(day)
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("should add items with sequential indexes", func(t *testing.T) {
		notebook, _ := newTestNotebook(t)

		first, err := notebook.Add(day, "buy milk")
		require.NoError(t, err)
		second, err := notebook.Add(day, "send invoice")
		require.NoError(t, err)

		assert.Equal(t, 1, first.Index)
		assert.Equal(t, 2, second.Index)

		items, err := notebook.Read(day)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "buy milk", items[0].Text)
		assert.False(t, items[0].Done)
	})

	t.Run("should persist as a markdown checklist", func(t *testing.T) {
		notebook, dir := newTestNotebook(t)
		_, err := notebook.Add(day, "buy milk")
		require.NoError(t, err)
		_, err = notebook.Complete(day, 1)
		require.NoError(t, err)

		data, err := os.ReadFile(filepath.Join(dir, day+".md"))
		require.NoError(t, err)
		assert.Equal(t, "# "+day+"\n\n- [x] buy milk\n", string(data))
	})

	t.Run("should reject completion of an unknown index", func(t *testing.T) {
		notebook, _ := newTestNotebook(t)
		_, err := notebook.Complete(day, 3)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no item 3")
	})

	t.Run("should reject malformed dates and multi-line text", func(t *testing.T) {
		notebook, _ := newTestNotebook(t)
		_, err := notebook.Read("29-08-2026")
		assert.Error(t, err)
		_, err = notebook.Add(day, "one\ntwo")
		assert.Error(t, err)
		_, err = notebook.Add(day, "   ")
		assert.Error(t, err)
	})

	t.Run("should parse files written by hand", func(t *testing.T) {
		notebook, dir := newTestNotebook(t)
		content := "# " + day + "\n\nsome prose\n- [ ] pending task\n- [x] finished task\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, day+".md"), []byte(content), 0644))

		items, err := notebook.Read(day)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "pending task", items[0].Text)
		assert.True(t, items[1].Done)
	})

	t.Run("should pick up external edits through the watcher", func(t *testing.T) {
		notebook, dir := newTestNotebook(t)
		require.NoError(t, notebook.Watch())

		_, err := notebook.Add(day, "original")
		require.NoError(t, err)

		// Edit the file behind the notebook's back.
		content := "# " + day + "\n\n- [ ] replaced externally\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, day+".md"), []byte(content), 0644))

		require.Eventually(t, func() bool {
			items, err := notebook.Read(day)
			return err == nil && len(items) == 1 && items[0].Text == "replaced externally"
		}, 2*time.Second, 25*time.Millisecond)
	})
}

func TestTodoTools(t *testing.T) {
	const day = "2026-08-29"

	setup := func(t *testing.T) *toolexecutor.Dispatcher {
		t.Helper()
		notebook, _ := newTestNotebook(t)
		logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
		registry := toolexecutor.NewRegistry(logger)
		require.NoError(t, RegisterTodoTools(registry, notebook))
		return toolexecutor.NewDispatcher(registry, logger)
	}

	t.Run("should add, list, and complete through tool calls", func(t *testing.T) {
		dispatcher := setup(t)
		ctx := context.Background()

		result := dispatcher.Dispatch(ctx, agent.ToolCall{
			ID: "1", Name: "todo__add",
			Input: map[string]interface{}{"text": "water plants", "date": day},
		})
		require.False(t, result.IsError, result.Content)
		assert.Contains(t, result.Content, `"index":1`)

		result = dispatcher.Dispatch(ctx, agent.ToolCall{
			ID: "2", Name: "todo__read",
			Input: map[string]interface{}{"date": day},
		})
		require.False(t, result.IsError)
		assert.Contains(t, result.Content, "1. [ ] water plants")

		result = dispatcher.Dispatch(ctx, agent.ToolCall{
			ID: "3", Name: "todo__complete",
			Input: map[string]interface{}{"index": float64(1), "date": day},
		})
		require.False(t, result.IsError)
		assert.Equal(t, "Completed 1. water plants", result.Content)

		result = dispatcher.Dispatch(ctx, agent.ToolCall{
			ID: "4", Name: "todo__read",
			Input: map[string]interface{}{"date": day},
		})
		require.False(t, result.IsError)
		assert.Contains(t, result.Content, "1. [x] water plants")
	})

	t.Run("should report an empty day", func(t *testing.T) {
		dispatcher := setup(t)
		result := dispatcher.Dispatch(context.Background(), agent.ToolCall{
			ID: "5", Name: "todo__read",
			Input: map[string]interface{}{"date": day},
		})
		require.False(t, result.IsError)
		assert.Equal(t, "No tasks for "+day+".", result.Content)
	})

	t.Run("should flag schema violations as error results", func(t *testing.T) {
		dispatcher := setup(t)
		result := dispatcher.Dispatch(context.Background(), agent.ToolCall{
			ID: "6", Name: "todo__add", Input: map[string]interface{}{},
		})
		assert.True(t, result.IsError)
	})
}
