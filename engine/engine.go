package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/backoff"
	"github.com/xraph/backlog/cron"
	"github.com/xraph/backlog/dlq"
	"github.com/xraph/backlog/ext"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
	mw "github.com/xraph/backlog/middleware"
	"github.com/xraph/backlog/observability"
	"github.com/xraph/backlog/queue"
	"github.com/xraph/backlog/store"
	"github.com/xraph/backlog/worker"
)

// TestJobName is the built-in no-op job every Engine registers. It lets an
// operator check that enqueue and workers are wired end to end.
const TestJobName = "test"

const instrumentationName = "github.com/xraph/backlog"

// Engine ties a store to the job registry, extensions, middleware and
// worker construction.
type Engine struct {
	config     backlog.Config
	store      store.Store
	extensions *ext.Registry
	registry   *job.Registry
	queues     *queue.Registry
	dlqService *dlq.Service
	bo         backoff.Strategy
	executor   *worker.Executor
	mws        []mw.Middleware
	logger     *slog.Logger

	// Queue subsystem.
	queueConfigs []queue.Config
	queueManager *queue.Manager

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	pendingExts []ext.Extension
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the runtime configuration. Defaults to
// backlog.DefaultConfig().
func WithConfig(cfg backlog.Config) Option {
	return func(eng *Engine) {
		eng.config = cfg
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) {
		eng.logger = l
	}
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.pendingExts = append(eng.pendingExts, e)
	}
}

// WithMiddleware adds middleware to the engine's chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff strategy for the engine.
// If not set, backoff.DefaultStrategy() (exponential with jitter) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithQueueConfig registers queue-level rate limiting and concurrency
// configurations. Queues not listed have no limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider used by both the
// metrics middleware and the observability extension.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// New creates an Engine over s.
func New(s store.Store, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, backlog.ErrNoStore
	}

	eng := &Engine{
		config:   backlog.DefaultConfig(),
		store:    s,
		registry: job.NewRegistry(),
		queues:   queue.NewRegistry(s),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}

	logger := eng.logger
	eng.extensions = ext.NewRegistry(logger)
	eng.dlqService = dlq.NewService(s, s)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware and extension (custom provider or global).
	var metricsMw mw.Middleware
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		metricsMw = mw.Metrics()
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)
	for _, e := range eng.pendingExts {
		eng.extensions.Register(e)
	}
	eng.pendingExts = nil

	// Default stack: tracing → metrics → logging → timeout → user middleware.
	// The executor adds panic recovery innermost.
	allMws := []mw.Middleware{
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(logger, eng.config.DefaultTimeout),
	}
	allMws = append(allMws, eng.mws...)

	eng.executor = worker.NewExecutor(eng.registry, eng.extensions, s, eng.dlqService, eng.bo, logger, allMws...)

	if len(eng.queueConfigs) > 0 {
		eng.queueManager = queue.NewManager(eng.queueConfigs...)
	}

	eng.registry.Register(TestJobName, func(ctx context.Context, j *job.Job) error {
		logger.InfoContext(ctx, "test job ran", slog.String("job_id", j.ID.String()))
		return nil
	})

	return eng, nil
}

// Register registers a typed job definition with the engine.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)
}

// ──────────────────────────────────────────────────
// Enqueue
// ──────────────────────────────────────────────────

// Enqueue encodes args with the job's codec and appends a new job to its
// queue. The definition's registered options apply first, then opts.
// A *backlog.SerializationError is returned, and nothing is stored, when
// name has no handler or args cannot be encoded.
func Enqueue[T any](ctx context.Context, eng *Engine, name string, args T, opts ...job.Option) (*job.Job, error) {
	o, err := eng.options(name, opts)
	if err != nil {
		return nil, err
	}

	codec, err := job.LookupCodec(o.Codec)
	if err != nil {
		return nil, &backlog.SerializationError{Name: name, Err: err}
	}
	payload, err := codec.Marshal(args)
	if err != nil {
		return nil, &backlog.SerializationError{Name: name, Err: err}
	}

	return eng.enqueue(ctx, name, payload, o)
}

// EnqueueRaw enqueues a job with a pre-encoded payload.
func (eng *Engine) EnqueueRaw(ctx context.Context, name string, payload []byte, opts ...job.Option) (*job.Job, error) {
	o, err := eng.options(name, opts)
	if err != nil {
		return nil, err
	}
	if _, err := job.LookupCodec(o.Codec); err != nil {
		return nil, &backlog.SerializationError{Name: name, Err: err}
	}
	return eng.enqueue(ctx, name, payload, o)
}

func (eng *Engine) options(name string, opts []job.Option) (job.Options, error) {
	if _, ok := eng.registry.Get(name); !ok {
		return job.Options{}, &backlog.SerializationError{Name: name, Err: backlog.ErrUnknownJob}
	}
	o, _ := eng.registry.Defaults(name)
	for _, opt := range opts {
		opt(&o)
	}
	if o.Codec == "" {
		o.Codec = job.CodecJSON
	}
	return o, nil
}

func (eng *Engine) enqueue(ctx context.Context, name string, payload []byte, o job.Options) (*job.Job, error) {
	now := time.Now().UTC()
	j := &job.Job{
		ID:         id.NewJobID(),
		Queue:      queue.Normalize(o.Queue),
		Name:       name,
		Payload:    payload,
		Codec:      o.Codec,
		Title:      o.Title,
		State:      job.StateQueued,
		EnqueuedAt: now.Truncate(time.Second),
		RunAt:      now,
		MaxRetries: o.MaxRetries,
		Timeout:    o.Timeout,
	}

	if err := eng.store.EnqueueJob(ctx, j); err != nil {
		return nil, fmt.Errorf("enqueue job %q: %w", name, err)
	}

	eng.extensions.EmitJobEnqueued(ctx, j)
	eng.logger.Debug("job enqueued",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", name),
		slog.String("queue", j.Queue),
	)
	return j, nil
}

// ──────────────────────────────────────────────────
// Introspection
// ──────────────────────────────────────────────────

// List returns the queued jobs of the named queues, or of every queue
// when none are named, ordered by queue name then FIFO.
func (eng *Engine) List(ctx context.Context, queues ...string) ([]*job.Job, error) {
	return eng.store.ListJobs(ctx, queues)
}

// Show returns a queued or running job. Unknown and malformed IDs both
// yield backlog.ErrJobNotFound.
func (eng *Engine) Show(ctx context.Context, jobID string) (*job.Job, error) {
	jID, err := id.ParseJobID(jobID)
	if err != nil {
		return nil, backlog.ErrJobNotFound
	}
	return eng.store.GetJob(ctx, jID)
}

// Cancel removes a queued job without running it. A job that is unknown,
// already cancelled or already claimed yields backlog.ErrJobNotFound.
func (eng *Engine) Cancel(ctx context.Context, jobID string) (*job.Job, error) {
	jID, err := id.ParseJobID(jobID)
	if err != nil {
		return nil, backlog.ErrJobNotFound
	}
	j, err := eng.store.CancelJob(ctx, jID)
	if err != nil {
		return nil, err
	}

	eng.extensions.EmitJobCancelled(ctx, j)
	eng.logger.Info("job cancelled",
		slog.String("job_id", j.ID.String()),
		slog.String("queue", j.Queue),
	)
	return j, nil
}

// Clear empties the named queues, or every non-empty queue when none are
// named, and returns the names of the queues cleared.
func (eng *Engine) Clear(ctx context.Context, queues ...string) ([]string, error) {
	cleared, err := eng.store.ClearQueues(ctx, queues)
	if err != nil {
		return nil, err
	}
	if len(cleared) > 0 {
		eng.extensions.EmitQueuesCleared(ctx, cleared)
	}
	return cleared, nil
}

// Queues returns handles for every queue holding work, sorted by name.
func (eng *Engine) Queues(ctx context.Context) ([]queue.Queue, error) {
	return eng.queues.ListNonEmpty(ctx)
}

// ──────────────────────────────────────────────────
// Failures
// ──────────────────────────────────────────────────

// Failed returns recorded failures, oldest first.
func (eng *Engine) Failed(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	return eng.dlqService.List(ctx, opts)
}

// Requeue enqueues a recorded failure again as a new job. Unknown and
// malformed IDs both yield backlog.ErrDLQNotFound.
func (eng *Engine) Requeue(ctx context.Context, failureID string) (*job.Job, error) {
	fID, err := id.ParseFailureID(failureID)
	if err != nil {
		return nil, backlog.ErrDLQNotFound
	}
	j, err := eng.dlqService.Requeue(ctx, fID)
	if j == nil {
		return nil, err
	}
	if err != nil {
		eng.logger.Warn("requeued failure could not be marked",
			slog.String("failure_id", failureID),
			slog.String("error", err.Error()),
		)
	}
	eng.extensions.EmitJobEnqueued(ctx, j)
	return j, nil
}

// ──────────────────────────────────────────────────
// Workers
// ──────────────────────────────────────────────────

// NewPool builds a worker pool from the engine configuration; opts
// override it.
func (eng *Engine) NewPool(opts ...worker.PoolOption) *worker.Pool {
	cfg := eng.config
	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(cfg.Concurrency),
		worker.WithPoolQueues(cfg.Queues),
		worker.WithPollInterval(cfg.PollInterval),
		worker.WithHeartbeatInterval(cfg.HeartbeatInterval),
		worker.WithStaleJobThreshold(cfg.StaleJobThreshold),
	}
	if eng.queueManager != nil {
		poolOpts = append(poolOpts, worker.WithQueueManager(eng.queueManager))
	}
	poolOpts = append(poolOpts, opts...)

	return worker.NewPool(eng.store, eng.executor, eng.extensions, eng.logger, poolOpts...)
}

// NewWorker builds a single worker over the engine's executor.
func (eng *Engine) NewWorker() *worker.Worker {
	opts := []worker.Option{worker.WithWorkerPollInterval(eng.config.PollInterval)}
	if eng.queueManager != nil {
		opts = append(opts, worker.WithWorkerQueueManager(eng.queueManager))
	}
	return worker.NewWorker(eng.store, eng.executor, eng.extensions, eng.logger, opts...)
}

// NewScheduler builds a cron scheduler that enqueues through the engine.
func (eng *Engine) NewScheduler(opts ...cron.SchedulerOption) *cron.Scheduler {
	return cron.NewScheduler(eng.EnqueueRaw, eng.logger, opts...)
}

// ──────────────────────────────────────────────────
// Accessors
// ──────────────────────────────────────────────────

// Store returns the backing store.
func (eng *Engine) Store() store.Store { return eng.store }

// Config returns the runtime configuration.
func (eng *Engine) Config() backlog.Config { return eng.config }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// QueueRegistry returns the queue registry.
func (eng *Engine) QueueRegistry() *queue.Registry { return eng.queues }

// DLQService returns the engine's failure service.
func (eng *Engine) DLQService() *dlq.Service { return eng.dlqService }

// QueueManager returns the queue manager, or nil if no queue configs
// were provided.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }

// Close closes the backing store.
func (eng *Engine) Close() error { return eng.store.Close() }
