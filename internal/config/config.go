// Package config loads the backlog CLI configuration from layered sources
// (defaults, a YAML file, BACKLOG_* environment variables and flags) and
// validates the result.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/v2"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/cron"
	"github.com/xraph/backlog/queue"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverBun      = "bun"
	DriverMongo    = "mongo"
)

// DefaultStoreURL is the store used when no configuration names one.
const DefaultStoreURL = "redis://localhost:6379/0"

// Config is the full CLI configuration.
type Config struct {
	Log       LogConfig        `koanf:"log"`
	Store     StoreConfig      `koanf:"store"`
	Worker    WorkerConfig     `koanf:"worker"`
	Queues    []queue.Config   `koanf:"queues" validate:"dive"`
	Schedules []ScheduleConfig `koanf:"schedules" validate:"dive"`
	Output    string           `koanf:"output" validate:"oneof=text json"`
}

// LogConfig controls the CLI's slog handler.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// StoreConfig selects the job store.
type StoreConfig struct {
	Driver string `koanf:"driver" validate:"oneof=memory redis postgres bun mongo"`
	URL    string `koanf:"url" validate:"required_unless=Driver memory"`

	// Prefix namespaces queue storage keys. Empty keeps the store default.
	Prefix string `koanf:"prefix"`
}

// WorkerConfig holds the worker pool settings.
type WorkerConfig struct {
	Concurrency       int           `koanf:"concurrency" validate:"min=1"`
	Queues            []string      `koanf:"queues"`
	PollInterval      time.Duration `koanf:"poll_interval" validate:"gt=0"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout" validate:"gte=0"`
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval" validate:"gte=0"`
	StaleJobThreshold time.Duration `koanf:"stale_job_threshold" validate:"gte=0"`
	JobTimeout        time.Duration `koanf:"job_timeout" validate:"gte=0"`
}

// ScheduleConfig is a recurring job run by `jobs worker`.
type ScheduleConfig struct {
	Name     string `koanf:"name" validate:"required"`
	Schedule string `koanf:"schedule" validate:"required,cronexpr"`
	Job      string `koanf:"job" validate:"required"`
	Queue    string `koanf:"queue"`
	Title    string `koanf:"title"`

	// Args are JSON-encoded into the job payload.
	Args any `koanf:"args"`
}

// Default returns the baseline configuration: an in-memory store and one
// worker on the default queue.
func Default() Config {
	eng := backlog.DefaultConfig()
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Store: StoreConfig{
			Driver: DriverRedis,
			URL:    DefaultStoreURL,
		},
		Worker: WorkerConfig{
			Concurrency:       eng.Concurrency,
			Queues:            eng.Queues,
			PollInterval:      eng.PollInterval,
			ShutdownTimeout:   eng.ShutdownTimeout,
			HeartbeatInterval: eng.HeartbeatInterval,
			StaleJobThreshold: eng.StaleJobThreshold,
			JobTimeout:        eng.DefaultTimeout,
		},
		Output: "text",
	}
}

// DefaultAsMap flattens Default() for the confmap provider so every key is
// known to koanf before flags are applied.
func DefaultAsMap() map[string]interface{} {
	def := Default()
	return map[string]interface{}{
		"log.level":  def.Log.Level,
		"log.format": def.Log.Format,

		"store.driver": def.Store.Driver,
		"store.url":    def.Store.URL,
		"store.prefix": def.Store.Prefix,

		"worker.concurrency":         def.Worker.Concurrency,
		"worker.queues":              def.Worker.Queues,
		"worker.poll_interval":       def.Worker.PollInterval,
		"worker.shutdown_timeout":    def.Worker.ShutdownTimeout,
		"worker.heartbeat_interval":  def.Worker.HeartbeatInterval,
		"worker.stale_job_threshold": def.Worker.StaleJobThreshold,
		"worker.job_timeout":         def.Worker.JobTimeout,

		"output": def.Output,
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("cronexpr", func(fl validator.FieldLevel) bool {
		_, err := cron.ParseSchedule(fl.Field().String())
		return err == nil
	})
	return v
}

// Load applies sources in priority order, unmarshals and validates.
func Load(sources ...Source) (Config, error) {
	sorted := append([]Source(nil), sources...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority() < sorted[j].Priority() })

	k := koanf.New(".")
	for _, src := range sorted {
		if err := src.Load(k); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints and reports the first violation as a
// *backlog.ValidationError.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		reason := "invalid value (" + fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		reason += ") for"
		return &backlog.ValidationError{Field: fieldPath(fe.Namespace()), Reason: reason}
	}
	return fmt.Errorf("validate config: %w", err)
}

// fieldPath turns "Config.Worker.PollInterval" into "worker.pollinterval"
// and "Config.Schedules[0].Job" into "schedules[0].job".
func fieldPath(ns string) string {
	ns = strings.TrimPrefix(ns, "Config.")
	return strings.ToLower(ns)
}

// Engine converts the worker settings into the engine runtime config.
func (c Config) Engine() backlog.Config {
	queues := c.Worker.Queues
	if len(queues) == 0 {
		queues = []string{backlog.DefaultQueue}
	}
	return backlog.Config{
		Concurrency:       c.Worker.Concurrency,
		Queues:            queues,
		PollInterval:      c.Worker.PollInterval,
		ShutdownTimeout:   c.Worker.ShutdownTimeout,
		HeartbeatInterval: c.Worker.HeartbeatInterval,
		StaleJobThreshold: c.Worker.StaleJobThreshold,
		DefaultTimeout:    c.Worker.JobTimeout,
	}
}

// Level parses Log.Level into a slog level.
func (c Config) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
