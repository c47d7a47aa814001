package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/cmd/backlog/internal/bind"
	"github.com/xraph/backlog/dlq"
	"github.com/xraph/backlog/engine"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/stream"
	"github.com/xraph/backlog/worker"
)

// TestJobTitle is the title given to jobs enqueued by `jobs test`.
const TestJobTitle = "A test job"

// argSpec describes the positional arguments of a jobs command.
type argSpec struct {
	// required are the names of mandatory leading arguments.
	required []string
	// variadic names optional trailing arguments. Empty means none.
	variadic string
}

func (s argSpec) usage() string {
	parts := make([]string, 0, len(s.required)+1)
	for _, name := range s.required {
		parts = append(parts, "<"+name+">")
	}
	if s.variadic != "" {
		parts = append(parts, "["+s.variadic+"...]")
	}
	return strings.Join(parts, " ")
}

// validate reports the first missing argument, or unexpected extras.
func (s argSpec) validate(args []string) error {
	if len(args) < len(s.required) {
		return backlog.MissingArgument(s.required[len(args)])
	}
	if s.variadic == "" && len(args) > len(s.required) {
		return fmt.Errorf("got unexpected extra argument (%s)", strings.Join(args[len(s.required):], " "))
	}
	return nil
}

type handler func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error

// jobsCommand is one row of the jobs command table.
type jobsCommand struct {
	name  string
	short string
	args  argSpec
	flags func(fs *pflag.FlagSet)
	run   handler
}

var jobsCommands = []jobsCommand{
	{
		name:  "list",
		short: "List queued jobs, oldest first",
		args:  argSpec{variadic: "queue"},
		run:   runList,
	},
	{
		name:  "show",
		short: "Show the full record of a job",
		args:  argSpec{required: []string{"id"}},
		run:   runShow,
	},
	{
		name:  "cancel",
		short: "Remove a queued job without running it",
		args:  argSpec{required: []string{"id"}},
		run:   runCancel,
	},
	{
		name:  "clear",
		short: "Empty the named queues, or all queues",
		args:  argSpec{variadic: "queue"},
		run:   runClear,
	},
	{
		name:  "test",
		short: "Enqueue a no-op test job on each named queue",
		args:  argSpec{variadic: "queue"},
		run:   runTest,
	},
	{
		name:  "worker",
		short: "Process jobs from the named queues",
		args:  argSpec{variadic: "queue"},
		flags: func(fs *pflag.FlagSet) {
			fs.Bool("burst", false, "Exit once all queues are empty")
			fs.Int("concurrency", 1, "Number of workers to run")
			fs.Bool("events", false, "Print job lifecycle events to stdout")
		},
		run: runWorker,
	},
	{
		name:  "failed",
		short: "List jobs that exhausted their retries",
		args:  argSpec{variadic: "queue"},
		flags: func(fs *pflag.FlagSet) {
			fs.Int("limit", 0, "Maximum number of entries (0 for all)")
		},
		run: runFailed,
	},
	{
		name:  "requeue",
		short: "Enqueue a failed job again",
		args:  argSpec{required: []string{"failure-id"}},
		run:   runRequeue,
	},
	{
		name:  "schedules",
		short: "List configured recurring jobs and their next run",
		run:   runSchedules,
	},
}

// newJobsCommand walks the command table and builds the cobra tree.
func newJobsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage background jobs",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return noSuchCommand(args[0])
			}
			return cmd.Help()
		},
	}

	for _, spec := range jobsCommands {
		cmd.AddCommand(spec.command(a))
	}
	return cmd
}

func (c jobsCommand) command(a *app) *cobra.Command {
	use := c.name
	if u := c.args.usage(); u != "" {
		use += " " + u
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: c.short,
		Args: func(_ *cobra.Command, args []string) error {
			return c.args.validate(args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd.Context(), a, cmd, args)
		},
	}
	if c.flags != nil {
		c.flags(cmd.Flags())
	}
	return cmd
}

// ──────────────────────────────────────────────────
// Handlers
// ──────────────────────────────────────────────────

func runList(ctx context.Context, a *app, _ *cobra.Command, args []string) error {
	eng, err := a.open(ctx)
	if err != nil {
		return err
	}
	jobs, err := eng.List(ctx, args...)
	if err != nil {
		return err
	}
	return a.out.PrintJobs(jobs)
}

func runShow(ctx context.Context, a *app, _ *cobra.Command, args []string) error {
	eng, err := a.open(ctx)
	if err != nil {
		return err
	}
	j, err := eng.Show(ctx, args[0])
	if err != nil {
		return jobError(args[0], err)
	}
	return a.out.PrintJob(j)
}

func runCancel(ctx context.Context, a *app, _ *cobra.Command, args []string) error {
	eng, err := a.open(ctx)
	if err != nil {
		return err
	}
	j, err := eng.Cancel(ctx, args[0])
	if err != nil {
		return jobError(args[0], err)
	}
	return a.out.PrintSummary("Cancelled job " + j.ID.String())
}

func runClear(ctx context.Context, a *app, _ *cobra.Command, args []string) error {
	eng, err := a.open(ctx)
	if err != nil {
		return err
	}
	cleared, err := eng.Clear(ctx, args...)
	if err != nil {
		return err
	}
	for _, name := range cleared {
		if err := a.out.PrintSummary(fmt.Sprintf("Cleared queue %q", name)); err != nil {
			return err
		}
	}
	return nil
}

func runTest(ctx context.Context, a *app, _ *cobra.Command, args []string) error {
	eng, err := a.open(ctx)
	if err != nil {
		return err
	}
	queues := args
	if len(queues) == 0 {
		queues = []string{backlog.DefaultQueue}
	}
	for _, q := range queues {
		j, err := engine.Enqueue(ctx, eng, engine.TestJobName, TestJobTitle,
			job.WithQueue(q), job.WithTitle(TestJobTitle))
		if err != nil {
			return err
		}
		msg := fmt.Sprintf("Added test job %s to queue %q", j.ID, j.Queue)
		if err := a.out.PrintSummary(msg); err != nil {
			return err
		}
	}
	return nil
}

func runWorker(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	eng, err := a.open(ctx)
	if err != nil {
		return err
	}
	burst, _ := cmd.Flags().GetBool("burst")

	var opts []worker.PoolOption
	if len(args) > 0 {
		opts = append(opts, worker.WithPoolQueues(args))
	}
	pool := eng.NewPool(opts...)

	if events, _ := cmd.Flags().GetBool("events"); events {
		stop := a.tailEvents(eng)
		defer stop()
	}

	// Job failures are recorded by the executor and never fail the command.
	if burst {
		return pool.Run(ctx, true)
	}

	sched, err := bind.Scheduler(a.cfg, eng)
	if err != nil {
		return err
	}
	if err := pool.Start(ctx); err != nil {
		return err
	}
	if len(a.cfg.Schedules) > 0 {
		if err := sched.Start(ctx); err != nil {
			return err
		}
	}
	<-ctx.Done()

	stopCtx := context.WithoutCancel(ctx)
	if d := eng.Config().ShutdownTimeout; d > 0 {
		var cancel context.CancelFunc
		stopCtx, cancel = context.WithTimeout(stopCtx, d)
		defer cancel()
	}
	if err := sched.Stop(stopCtx); err != nil {
		a.logger.Warn("scheduler stop", slog.String("error", err.Error()))
	}
	return pool.Stop(stopCtx)
}

// tailEvents prints every lifecycle event until the pool shuts down. The
// returned func waits for the printer to drain.
func (a *app) tailEvents(eng *engine.Engine) func() {
	const subscriber = "cli"

	broker := stream.NewBroker(a.logger, stream.WithBufferSize(4096))
	eng.Extensions().Register(broker)
	sub := broker.Subscribe(subscriber, stream.TopicFirehose)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for evt := range sub.C() {
			if err := a.out.PrintEvent(evt); err != nil {
				a.logger.Warn("print event", slog.String("error", err.Error()))
			}
		}
	}()

	return func() {
		broker.RemoveSubscriber(subscriber)
		<-done
		if n := sub.Dropped(); n > 0 {
			a.logger.Warn("events dropped", slog.Int64("count", n))
		}
	}
}

func runSchedules(ctx context.Context, a *app, _ *cobra.Command, _ []string) error {
	eng, err := a.open(ctx)
	if err != nil {
		return err
	}
	sched, err := bind.Scheduler(a.cfg, eng)
	if err != nil {
		return err
	}
	return a.out.PrintSchedules(sched.Entries())
}

func runFailed(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	eng, err := a.open(ctx)
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	entries, err := eng.Failed(ctx, dlq.ListOpts{Queues: args, Limit: limit})
	if err != nil {
		return err
	}
	return a.out.PrintFailures(entries)
}

func runRequeue(ctx context.Context, a *app, _ *cobra.Command, args []string) error {
	eng, err := a.open(ctx)
	if err != nil {
		return err
	}
	j, err := eng.Requeue(ctx, args[0])
	if err != nil {
		if errors.Is(err, backlog.ErrDLQNotFound) {
			return fmt.Errorf("there is no failed job with id %q", args[0])
		}
		return err
	}
	return a.out.PrintSummary(fmt.Sprintf("Requeued failure %s as job %s on queue %q", args[0], j.ID, j.Queue))
}

// jobError names the job in not-found errors.
func jobError(jobID string, err error) error {
	if errors.Is(err, backlog.ErrJobNotFound) {
		return fmt.Errorf("there is no job with id %q", jobID)
	}
	return err
}
