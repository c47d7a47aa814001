package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/backlog"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backlog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultSource_Load(t *testing.T) {
	k := koanf.New(".")
	require.NoError(t, (&DefaultSource{}).Load(k))

	assert.Equal(t, "info", k.String("log.level"))
	assert.Equal(t, DriverRedis, k.String("store.driver"))
	assert.Equal(t, DefaultStoreURL, k.String("store.url"))
	assert.Equal(t, 1, k.Int("worker.concurrency"))
	assert.Equal(t, []string{backlog.DefaultQueue}, k.Strings("worker.queues"))
}

func TestSourcePriorities(t *testing.T) {
	sources := DefaultSources("", nil, false)
	require.Len(t, sources, 4)
	for i := 1; i < len(sources); i++ {
		assert.Less(t, sources[i-1].Priority(), sources[i].Priority())
	}
}

func TestFileSource_OptionalMissing(t *testing.T) {
	k := koanf.New(".")
	src := &FileSource{Path: "/nonexistent/backlog.yaml"}
	require.NoError(t, src.Load(k))
}

func TestFileSource_RequiredMissing(t *testing.T) {
	k := koanf.New(".")
	src := &FileSource{Path: "/nonexistent/backlog.yaml", Required: true}

	err := src.Load(k)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "config file not found")
	assert.Contains(t, err.Error(), "/nonexistent/backlog.yaml")
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(DefaultSources("", nil, false)...)
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, slog.LevelInfo, cfg.Level())
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
log:
  level: warn
store:
  driver: redis
  url: redis://localhost:6379/0
  prefix: "app:"
worker:
  concurrency: 4
  queues: [high, low]
  poll_interval: 250ms
queues:
  - name: high
    max_concurrency: 2
    rate_limit: 10
    rate_burst: 5
`)

	cfg, err := Load(DefaultSources(path, nil, false)...)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, DriverRedis, cfg.Store.Driver)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Store.URL)
	assert.Equal(t, "app:", cfg.Store.Prefix)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, []string{"high", "low"}, cfg.Worker.Queues)
	assert.Equal(t, 250*time.Millisecond, cfg.Worker.PollInterval)

	require.Len(t, cfg.Queues, 1)
	assert.Equal(t, "high", cfg.Queues[0].Name)
	assert.Equal(t, 2, cfg.Queues[0].MaxConcurrency)
	assert.Equal(t, 10.0, cfg.Queues[0].RateLimit)
	assert.Equal(t, 5, cfg.Queues[0].RateBurst)

	// Untouched keys keep their defaults.
	assert.Equal(t, Default().Worker.ShutdownTimeout, cfg.Worker.ShutdownTimeout)
}

func TestLoad_Schedules(t *testing.T) {
	path := writeFile(t, `
schedules:
  - name: nightly
    schedule: "0 3 * * *"
    job: cleanup
    queue: maintenance
    args:
      days: 30
  - name: ping
    schedule: "@every 1m"
    job: test
`)

	cfg, err := Load(DefaultSources(path, nil, false)...)
	require.NoError(t, err)
	require.Len(t, cfg.Schedules, 2)

	nightly := cfg.Schedules[0]
	assert.Equal(t, "nightly", nightly.Name)
	assert.Equal(t, "0 3 * * *", nightly.Schedule)
	assert.Equal(t, "cleanup", nightly.Job)
	assert.Equal(t, "maintenance", nightly.Queue)
	assert.NotNil(t, nightly.Args)

	assert.Equal(t, "@every 1m", cfg.Schedules[1].Schedule)
	assert.Nil(t, cfg.Schedules[1].Args)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "worker:\n  concurrency: 2\n")
	t.Setenv("BACKLOG_WORKER_CONCURRENCY", "8")
	t.Setenv("BACKLOG_WORKER_POLL_INTERVAL", "3s")
	t.Setenv("BACKLOG_LOG_LEVEL", "error")

	cfg, err := Load(DefaultSources(path, nil, false)...)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Worker.Concurrency)
	assert.Equal(t, 3*time.Second, cfg.Worker.PollInterval)
	assert.Equal(t, slog.LevelError, cfg.Level())
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("BACKLOG_WORKER_CONCURRENCY", "8")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int("concurrency", 1, "")
	fs.String("store", DriverPostgres, "")
	fs.Bool("burst", false, "")
	require.NoError(t, fs.Parse([]string{"--concurrency", "3", "--burst"}))

	cfg, err := Load(DefaultSources("", fs, true)...)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Worker.Concurrency)
	assert.Equal(t, DriverRedis, cfg.Store.Driver, "unchanged flag must not override")
	assert.Equal(t, slog.LevelDebug, cfg.Level())
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(DefaultSources("/nonexistent/backlog.yaml", nil, false)...)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad driver", func(c *Config) { c.Store.Driver = "sqlite" }, "store.driver"},
		{"postgres without url", func(c *Config) { c.Store.Driver, c.Store.URL = DriverPostgres, "" }, "store.url"},
		{"zero concurrency", func(c *Config) { c.Worker.Concurrency = 0 }, "worker.concurrency"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad output", func(c *Config) { c.Output = "xml" }, "output"},
		{"bad schedule", func(c *Config) {
			c.Schedules = []ScheduleConfig{{Name: "n", Schedule: "every day", Job: "j"}}
		}, "schedules[0].schedule"},
		{"schedule without job", func(c *Config) {
			c.Schedules = []ScheduleConfig{{Name: "n", Schedule: "@daily"}}
		}, "schedules[0].job"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, backlog.ErrValidation)

			var ve *backlog.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestEngineConfig(t *testing.T) {
	cfg := Default()
	cfg.Worker.Queues = nil
	cfg.Worker.Concurrency = 3
	cfg.Worker.JobTimeout = time.Minute

	eng := cfg.Engine()
	assert.Equal(t, 3, eng.Concurrency)
	assert.Equal(t, []string{backlog.DefaultQueue}, eng.Queues)
	assert.Equal(t, time.Minute, eng.DefaultTimeout)
}
