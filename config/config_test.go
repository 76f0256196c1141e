package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "mock", cfg.Model.Provider)
	assert.True(t, cfg.Model.Stream)
	assert.Equal(t, 100, cfg.Flow.MaxSteps)
	assert.Equal(t, 30, cfg.Flow.MaxMessages)
	assert.Equal(t, 10, cfg.Turn.MaxIterations)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.True(t, cfg.MCP.Builtin)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model:
  provider: openai
  name: qwen/qwen3-30b-a3b-2507
  base_url: http://localhost:1234/v1/
flow:
  max_messages: 12
store:
  driver: sqlite
  dsn: /tmp/x.db
`), 0o600))

	t.Setenv("FLOWMESH_MODEL_API_KEY", "secret")
	t.Setenv("FLOWMESH_FLOW_MAX_STEPS", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Model.Provider)
	assert.Equal(t, "qwen/qwen3-30b-a3b-2507", cfg.Model.Name)
	assert.Equal(t, "http://localhost:1234/v1/", cfg.Model.BaseURL)
	assert.Equal(t, "secret", cfg.Model.APIKey)
	assert.Equal(t, 7, cfg.Flow.MaxSteps)
	assert.Equal(t, 12, cfg.Flow.MaxMessages)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/tmp/x.db", cfg.Store.DSN)
}

func TestLoad_MissingFiles(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "mock", cfg.Model.Provider)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Model.Provider = "gemini"
	cfg.Store.Driver = "postgres"
	cfg.Log.Level = "loud"
	cfg.Turn.MaxIterations = -1

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"model.provider", "store.driver", "log.level", "turn.max_iterations"} {
		assert.Contains(t, err.Error(), want)
	}

	t.Chdir(t.TempDir())
	t.Setenv("FLOWMESH_MODEL_PROVIDER", "gemini")
	_, err = Load("")
	assert.ErrorContains(t, err, "model.provider")
}

func TestLogger(t *testing.T) {
	cfg := Default()
	cfg.Log.Format = "json"

	var buf bytes.Buffer
	cfg.Logger(&buf).Info("config.loaded", "provider", cfg.Model.Provider)
	assert.Contains(t, buf.String(), `"msg":"config.loaded"`)
	assert.Contains(t, buf.String(), `"provider":"mock"`)
}
