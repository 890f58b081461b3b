package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom("", envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, "8080", cfg.APIPort)
	assert.Equal(t, 2, cfg.FanOut.Count)
	assert.Equal(t, []string{"line", "facebook"}, cfg.FanOut.Channels)
	assert.Equal(t, 10*time.Second, cfg.Worker.PollInterval)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Empty(t, cfg.Scheduler.Triggers)
}

func TestLoadFrom_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "durable.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store: memory
api_port: "9000"
fanout:
  count: 5
  channels: [sms]
worker:
  concurrency: 8
  poll_interval: 2s
scheduler:
  triggers:
    - name: nightly
      cron: "0 3 * * *"
      orchestration: messaging
      input: '{"count":1}'
`), 0o600))

	cfg, err := LoadFrom(path, envMap(map[string]string{
		"API_PORT":        "9100",
		"FANOUT_CHANNELS": "line, email ,",
		"TRACING_ENABLED": "true",
	}))
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, "9100", cfg.APIPort)
	assert.Equal(t, 5, cfg.FanOut.Count)
	assert.Equal(t, []string{"line", "email"}, cfg.FanOut.Channels)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
	assert.Equal(t, 2*time.Second, cfg.Worker.PollInterval)
	assert.True(t, cfg.Tracing.Enabled)
	require.Len(t, cfg.Scheduler.Triggers, 1)
	assert.Equal(t, "nightly", cfg.Scheduler.Triggers[0].Name)
	assert.Equal(t, `{"count":1}`, cfg.Scheduler.Triggers[0].Input)

	orch := cfg.Orchestrator()
	assert.Equal(t, 5, orch.Count)
	assert.Equal(t, []string{"line", "email"}, orch.Channels)
}

func TestLoadFrom_ScheduleCron(t *testing.T) {
	cfg, err := LoadFrom("", envMap(map[string]string{"SCHEDULE_CRON": "*/5 * * * *"}))
	require.NoError(t, err)

	require.Len(t, cfg.Scheduler.Triggers, 1)
	assert.Equal(t, "*/5 * * * *", cfg.Scheduler.Triggers[0].Cron)
	assert.Equal(t, "messaging", cfg.Scheduler.Triggers[0].Orchestration)
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad count", map[string]string{"FANOUT_COUNT": "two"}},
		{"negative count", map[string]string{"FANOUT_COUNT": "-1"}},
		{"bad store", map[string]string{"STORE": "redis"}},
		{"bad interval", map[string]string{"POLL_INTERVAL": "soon"}},
		{"bad bool", map[string]string{"TRACING_ENABLED": "maybe"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom("", envMap(tt.env))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoadFrom_MissingFile(t *testing.T) {
	_, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"), envMap(nil))
	assert.Error(t, err)
}
