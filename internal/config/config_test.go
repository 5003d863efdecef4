package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/kronos.yaml")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_FileOverridesMergeOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/kronos.yaml"
	require.NoError(t, writeFile(path, `
nats:
  url: "nats://broker.internal:4222"
scheduler:
  poll_interval: 500ms
`))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "nats://broker.internal:4222", cfg.NATS.URL)
	assert.Equal(t, 500*time.Millisecond, cfg.Scheduler.PollInterval)
	assert.Equal(t, Default().Store.Path, cfg.Store.Path, "unset keys keep their default")
}

func writeFile(path, contents string) error {
	return os.WriteFile(path, []byte(contents), 0o644)
}
