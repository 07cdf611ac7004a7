package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewStore(dir, zerolog.New(os.Stdout).Level(zerolog.Disabled))
	require.NoError(t, err)
	return store, dir
}

func TestNewSessionKey(t *testing.T) {
	t.Run("should mint distinct keys", func(t *testing.T) {
		a := NewSessionKey()
		b := NewSessionKey()
		assert.NotEmpty(t, a)
		assert.NotEqual(t, a, b)
	})

	t.Run("should mint keys safe to use as file names", func(t *testing.T) {
		assert.NoError(t, validateSessionKey(NewSessionKey()))
	})
}

func TestStore(t *testing.T) {
	t.Run("should append and load turns in order", func(t *testing.T) {
		store, _ := newTestStore(t)

		require.NoError(t, store.Append("chat", Turn{Role: "user", Content: "hi"}))
		require.NoError(t, store.Append("chat", Turn{Role: "assistant", Content: "hello"}))

		turns, err := store.Load("chat")
		require.NoError(t, err)
		require.Len(t, turns, 2)
		assert.Equal(t, "user", turns[0].Role)
		assert.Equal(t, "hello", turns[1].Content)
		assert.False(t, turns[0].Timestamp.IsZero())
	})

	t.Run("should return empty for a missing session", func(t *testing.T) {
		store, _ := newTestStore(t)
		turns, err := store.Load("never-written")
		require.NoError(t, err)
		assert.Empty(t, turns)
	})

	t.Run("should reject empty role or content", func(t *testing.T) {
		store, _ := newTestStore(t)
		assert.Error(t, store.Append("chat", Turn{Content: "no role"}))
		assert.Error(t, store.Append("chat", Turn{Role: "user"}))
	})

	t.Run("should reject session keys that escape the directory", func(t *testing.T) {
		store, _ := newTestStore(t)
		assert.Error(t, store.Append("../evil", Turn{Role: "user", Content: "x"}))
		assert.Error(t, store.Append("a/b", Turn{Role: "user", Content: "x"}))
		assert.Error(t, store.Append("", Turn{Role: "user", Content: "x"}))
	})

	t.Run("should skip corrupted lines on load", func(t *testing.T) {
		store, dir := newTestStore(t)
		require.NoError(t, store.Append("chat", Turn{Role: "user", Content: "good"}))

		path := filepath.Join(dir, "chat.jsonl")
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
		require.NoError(t, err)
		_, err = f.WriteString("{not json\n")
		require.NoError(t, err)
		require.NoError(t, f.Close())
		require.NoError(t, store.Append("chat", Turn{Role: "assistant", Content: "after"}))

		turns, err := store.Load("chat")
		require.NoError(t, err)
		require.Len(t, turns, 2)
		assert.Equal(t, "good", turns[0].Content)
		assert.Equal(t, "after", turns[1].Content)
	})

	t.Run("should drop corrupted lines for good on repair", func(t *testing.T) {
		store, dir := newTestStore(t)
		require.NoError(t, store.Append("chat", Turn{Role: "user", Content: "keep"}))

		path := filepath.Join(dir, "chat.jsonl")
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
		require.NoError(t, err)
		_, err = f.WriteString("garbage line\n")
		require.NoError(t, err)
		require.NoError(t, f.Close())

		require.NoError(t, store.Repair("chat"))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "garbage")
		assert.Contains(t, string(data), "keep")
	})

	t.Run("should list and delete transcripts", func(t *testing.T) {
		store, _ := newTestStore(t)
		require.NoError(t, store.Append("one", Turn{Role: "user", Content: "a"}))
		require.NoError(t, store.Append("two", Turn{Role: "user", Content: "b"}))

		keys, err := store.List()
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"one", "two"}, keys)

		require.NoError(t, store.Delete("one"))
		require.NoError(t, store.Delete("one")) // already gone, still fine

		keys, err = store.List()
		require.NoError(t, err)
		assert.Equal(t, []string{"two"}, keys)
	})

	t.Run("should report transcript metadata", func(t *testing.T) {
		store, _ := newTestStore(t)
		require.NoError(t, store.Append("chat", Turn{Role: "user", Content: "hi"}))
		require.NoError(t, store.Append("chat", Turn{Role: "assistant", Content: "hello"}))

		info, err := store.Stat("chat")
		require.NoError(t, err)
		assert.Equal(t, "chat", info.SessionKey)
		assert.Equal(t, 2, info.TurnCount)
		assert.Greater(t, info.Size, int64(0))
	})
}

func TestCleanup(t *testing.T) {
	t.Run("should delete transcripts older than the retention window", func(t *testing.T) {
		store, dir := newTestStore(t)
		require.NoError(t, store.Append("old", Turn{Role: "user", Content: "stale"}))
		require.NoError(t, store.Append("new", Turn{Role: "user", Content: "fresh"}))

		past := time.Now().Add(-48 * time.Hour)
		require.NoError(t, os.Chtimes(filepath.Join(dir, "old.jsonl"), past, past))

		cleanup := NewCleanup(store, 24*time.Hour, zerolog.New(os.Stdout).Level(zerolog.Disabled))
		removed, err := cleanup.SweepOnce()
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		keys, err := store.List()
		require.NoError(t, err)
		assert.Equal(t, []string{"new"}, keys)
	})

	t.Run("should refuse double start and stop", func(t *testing.T) {
		store, _ := newTestStore(t)
		cleanup := NewCleanup(store, 0, zerolog.New(os.Stdout).Level(zerolog.Disabled))

		require.NoError(t, cleanup.Start())
		assert.Error(t, cleanup.Start())
		require.NoError(t, cleanup.Stop())
		assert.Error(t, cleanup.Stop())
	})
}
