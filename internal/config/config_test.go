package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpgmcp/rpgmcp/internal/config"
)

func TestLoad_DefaultsApplyWithNoFileOrEnv(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "stdio", cfg.Transport.Mode)
	assert.Equal(t, 50, cfg.Encoding.BatchSize)
	assert.Equal(t, 30, cfg.Collaborators.TimeoutSeconds)
	assert.Equal(t, "", cfg.Collaborators.ParserURL)
}

func TestLoad_FileValuesOverrideDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[encoding]
batch_size = 25

[collaborators]
parser_url = "http://localhost:9001/parse"
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Encoding.BatchSize)
	assert.Equal(t, "http://localhost:9001/parse", cfg.Collaborators.ParserURL)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[encoding]
batch_size = 25
`), 0o644))

	t.Setenv("RPGMCP_BATCH_SIZE", "99")
	t.Setenv("RPGMCP_EMBEDDING_URL", "http://localhost:9002/embed")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 99, cfg.Encoding.BatchSize)
	assert.Equal(t, "http://localhost:9002/embed", cfg.Collaborators.EmbeddingURL)
}

func TestLoad_ValidatesTransportMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[transport]
mode = "carrier-pigeon"
`), 0o644))

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoad_ValidatesDriftThresholdOrdering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[encoding]
drift_ignore_threshold = 0.9
drift_auto_threshold = 0.2
`), 0o644))

	_, err := config.Load(path)
	assert.Error(t, err)
}
