package xconf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
tracing:
  distributed_enabled: true
  auto_propagate: true
  sample_rate: 0.25
reservoir:
  event_capacity: 500
harvest:
  interval: 30s
  timeout: 5s
  max_retries: 2
  orphan_timeout: 5m
log:
  level: debug
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadYAML(t *testing.T) {
	l, err := Load(writeConfig(t, "agent.yaml", sampleYAML))
	require.NoError(t, err)

	cfg := l.Config()
	assert.True(t, cfg.Tracing.DistributedEnabled)
	assert.True(t, cfg.Tracing.AutoPropagate)
	assert.InDelta(t, 0.25, cfg.Tracing.SampleRate, 1e-9)
	assert.Equal(t, 500, cfg.Reservoir.EventCapacity)
	assert.Equal(t, 30*time.Second, cfg.Harvest.Interval)
	assert.Equal(t, 5*time.Minute, cfg.Harvest.OrphanTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadJSON(t *testing.T) {
	l, err := Load(writeConfig(t, "agent.json", `{"reservoir":{"event_capacity":64}}`))
	require.NoError(t, err)
	assert.Equal(t, 64, l.Config().Reservoir.EventCapacity)
}

func TestLoadAppliesDefaults(t *testing.T) {
	l, err := Load(writeConfig(t, "agent.yaml", "log:\n  level: warn\n"))
	require.NoError(t, err)

	cfg := l.Config()
	def := Default()
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, def.Reservoir.EventCapacity, cfg.Reservoir.EventCapacity)
	assert.Equal(t, def.Harvest.Interval, cfg.Harvest.Interval)
	assert.Equal(t, def.Tracing.SampleRate, cfg.Tracing.SampleRate)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load("")
	assert.ErrorIs(t, err, ErrEmptyPath)

	_, err = Load("/tmp/agent.toml")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrLoadFailed)

	_, err = Load(writeConfig(t, "bad.yaml", "tracing: ["))
	assert.ErrorIs(t, err, ErrParseFailed)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"sample rate above 1", "tracing:\n  sample_rate: 1.5\n"},
		{"zero capacity", "reservoir:\n  event_capacity: 0\n"},
		{"negative interval", "harvest:\n  interval: -1s\n"},
		{"unknown log level", "log:\n  level: loud\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "agent.yaml", tc.yaml))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadBytes(t *testing.T) {
	l, err := LoadBytes([]byte(sampleYAML), FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, 500, l.Config().Reservoir.EventCapacity)
	assert.Empty(t, l.Path())

	// 字节来源不支持 Reload 与 Watch
	assert.ErrorIs(t, l.Reload(), ErrLoadFailed)
	_, err = l.Watch(nil)
	assert.ErrorIs(t, err, ErrLoadFailed)

	_, err = LoadBytes(nil, Format("toml"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestReloadKeepsOldSnapshotOnError(t *testing.T) {
	path := writeConfig(t, "agent.yaml", sampleYAML)
	l, err := Load(path)
	require.NoError(t, err)
	old := l.Config()

	require.NoError(t, os.WriteFile(path, []byte("reservoir:\n  event_capacity: -1\n"), 0o600))
	assert.ErrorIs(t, l.Reload(), ErrInvalidConfig)
	assert.Same(t, old, l.Config(), "failed reload must not replace the snapshot")

	require.NoError(t, os.WriteFile(path, []byte("reservoir:\n  event_capacity: 9\n"), 0o600))
	require.NoError(t, l.Reload())
	assert.Equal(t, 9, l.Config().Reservoir.EventCapacity)
}

func TestDefaultValidates(t *testing.T) {
	assert.NoError(t, Default().Validate())
}
