package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader(t *testing.T) {
	t.Run("should return defaults when the file is missing", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "vwork.json")
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "anthropic", cfg.Provider.Name)
		assert.Equal(t, 3141, cfg.Gateway.Port)
	})

	t.Run("should merge file values over defaults", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "vwork.json")
		body := `{
			"provider": {"name": "openai", "model": "gpt-4o"},
			"gateway": {"port": 4242},
			"workspace": "` + filepath.ToSlash(dir) + `"
		}`
		require.NoError(t, os.WriteFile(path, []byte(body), 0644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "openai", cfg.Provider.Name)
		assert.Equal(t, "gpt-4o", cfg.Provider.Model)
		assert.Equal(t, 4242, cfg.Gateway.Port)
		// Untouched defaults survive the merge.
		assert.Equal(t, 20, cfg.Agent.MaxRounds)
	})

	t.Run("should fill derived paths from the data dir", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "vwork.json")
		body := `{"data_dir": "` + filepath.ToSlash(dir) + `"}`
		require.NoError(t, os.WriteFile(path, []byte(body), 0644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "workspace"), cfg.Workspace)
		assert.Equal(t, filepath.Join(dir, "notebook"), cfg.Notebook.Dir)
		assert.Equal(t, filepath.Join(dir, "transcripts"), cfg.Transcripts.Dir)
		assert.Equal(t, filepath.Join(dir, "vwork.log"), cfg.Logging.File)
	})

	t.Run("should let VWORK env vars override file values", func(t *testing.T) {
		t.Setenv("VWORK_PROVIDER_MODEL", "gpt-4.1")
		t.Setenv("VWORK_GATEWAY_PORT", "5252")

		dir := t.TempDir()
		path := filepath.Join(dir, "vwork.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"provider": {"model": "from-file"}}`), 0644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "gpt-4.1", cfg.Provider.Model)
		assert.Equal(t, 5252, cfg.Gateway.Port)
	})

	t.Run("should pick the API key from the environment", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "env-key")
		path := filepath.Join(t.TempDir(), "vwork.json")
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "env-key", cfg.Provider.APIKey)
	})

	t.Run("should error on malformed JSON", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "vwork.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("should round trip through save", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "vwork.json")
		cfg := DefaultConfig()
		cfg.Provider.Model = "claude-opus-4-20250514"
		cfg.Gateway.Port = 5151

		require.NoError(t, NewLoader(path).Save(cfg))

		loaded, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "claude-opus-4-20250514", loaded.Provider.Model)
		assert.Equal(t, 5151, loaded.Gateway.Port)
	})
}
