// Package bind turns loaded CLI configuration into a store and an engine.
package bind

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/xraph/backlog"
	audithook "github.com/xraph/backlog/audit_hook"
	"github.com/xraph/backlog/cron"
	"github.com/xraph/backlog/engine"
	"github.com/xraph/backlog/internal/config"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/store"
	bunstore "github.com/xraph/backlog/store/bun"
	"github.com/xraph/backlog/store/memory"
	"github.com/xraph/backlog/store/mongo"
	"github.com/xraph/backlog/store/postgres"
	"github.com/xraph/backlog/store/redis"
)

// Store opens and migrates the store selected by cfg.Driver. The memory
// driver lives only as long as the process, so every CLI run starts empty.
func Store(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (store.Store, error) {
	var (
		s   store.Store
		err error
	)

	switch cfg.Driver {
	case config.DriverMemory:
		logger.Warn("memory store: jobs are lost when this process exits")
		s = memory.New()
	case config.DriverRedis:
		opts := []redis.Option{redis.WithLogger(logger)}
		if cfg.Prefix != "" {
			opts = append(opts, redis.WithNamespace(cfg.Prefix))
		}
		s, err = redis.Open(ctx, cfg.URL, opts...)
	case config.DriverPostgres:
		opts := []postgres.Option{postgres.WithLogger(logger)}
		if cfg.Prefix != "" {
			opts = append(opts, postgres.WithPrefix(cfg.Prefix))
		}
		s, err = postgres.New(ctx, cfg.URL, opts...)
	case config.DriverBun:
		opts := []bunstore.Option{bunstore.WithLogger(logger)}
		if cfg.Prefix != "" {
			opts = append(opts, bunstore.WithPrefix(cfg.Prefix))
		}
		s = bunstore.Open(cfg.URL, opts...)
	case config.DriverMongo:
		opts := []mongo.Option{mongo.WithLogger(logger)}
		if cfg.Prefix != "" {
			opts = append(opts, mongo.WithPrefix(cfg.Prefix))
		}
		s, err = mongo.Open(ctx, cfg.URL, opts...)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}

	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate %s store: %w", cfg.Driver, err)
	}

	logger.Debug("store ready", slog.String("driver", cfg.Driver))
	return s, nil
}

// Engine builds an engine over s from the worker and queue settings in cfg.
// Job lifecycle events are audited to logger at debug level. extra options
// are applied last.
func Engine(cfg config.Config, s store.Store, logger *slog.Logger, extra ...engine.Option) (*engine.Engine, error) {
	opts := []engine.Option{
		engine.WithConfig(cfg.Engine()),
		engine.WithLogger(logger),
		engine.WithExtension(audithook.New(
			audithook.LogRecorder(logger, slog.LevelDebug),
			audithook.WithLogger(logger),
		)),
	}
	if len(cfg.Queues) > 0 {
		opts = append(opts, engine.WithQueueConfig(cfg.Queues...))
	}
	opts = append(opts, extra...)

	return engine.New(s, opts...)
}

// Scheduler builds a cron scheduler holding cfg.Schedules. Every scheduled
// job must already be registered on eng.
func Scheduler(cfg config.Config, eng *engine.Engine, opts ...cron.SchedulerOption) (*cron.Scheduler, error) {
	s := eng.NewScheduler(opts...)
	for _, sc := range cfg.Schedules {
		if _, ok := eng.Registry().Get(sc.Job); !ok {
			return nil, fmt.Errorf("schedule %q: job %q: %w", sc.Name, sc.Job, backlog.ErrUnknownJob)
		}

		var payload []byte
		if sc.Args != nil {
			var err error
			if payload, err = json.Marshal(sc.Args); err != nil {
				return nil, fmt.Errorf("schedule %q: encode args: %w", sc.Name, err)
			}
		}

		err := s.Add(cron.Entry{
			Name:     sc.Name,
			Schedule: sc.Schedule,
			JobName:  sc.Job,
			Queue:    sc.Queue,
			Title:    sc.Title,
			Payload:  payload,
			Codec:    job.CodecJSON,
		})
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}
