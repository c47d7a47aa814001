// Package commands builds the backlog command tree.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xraph/backlog/cmd/backlog/internal/bind"
	"github.com/xraph/backlog/cmd/backlog/internal/format"
	"github.com/xraph/backlog/engine"
	"github.com/xraph/backlog/internal/config"
	"github.com/xraph/backlog/store"
)

const cliExecutable = "backlog"

// ConfigEnv names the environment variable read when --config is not given.
const ConfigEnv = "BACKLOG_CONFIG"

var errMissingCommand = errors.New("missing command")

func noSuchCommand(name string) error {
	return fmt.Errorf("no such command %q", name)
}

// Option customizes the command tree.
type Option func(*app)

// WithStore makes every command use s instead of opening the configured
// store. The caller keeps ownership of s.
func WithStore(s store.Store) Option {
	return func(a *app) { a.store = s }
}

// WithEngineOptions adds engine options such as extensions or middleware.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(a *app) { a.engineOpts = append(a.engineOpts, opts...) }
}

// WithSetup runs fn on every engine the CLI builds, before any command
// uses it. It is where an application registers its job handlers.
func WithSetup(fn func(*engine.Engine)) Option {
	return func(a *app) { a.setups = append(a.setups, fn) }
}

// app is the state shared by one command invocation.
type app struct {
	configFile string
	debug      bool

	cfg    config.Config
	logger *slog.Logger
	out    *format.Formatter

	store      store.Store
	ownsStore  bool
	engineOpts []engine.Option
	setups     []func(*engine.Engine)
	eng        *engine.Engine
}

func newApp(opts []Option) *app {
	a := &app{}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewCommand constructs the top-level backlog command.
func NewCommand(opts ...Option) *cobra.Command {
	return newRootCommand(newApp(opts))
}

func newRootCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           cliExecutable,
		Short:         "Inspect and process background job queues",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return noSuchCommand(args[0])
			}
			if a.configPath() != "" {
				return errMissingCommand
			}
			return cmd.Help()
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&a.configFile, "config", "c", "", "Configuration file path (env "+ConfigEnv+")")
	pf.BoolVar(&a.debug, "debug", false, "Enable debug logging")
	pf.StringP("output", "o", string(format.ModeText), "Output format (text, json)")
	pf.String("store", config.DriverRedis, "Store driver (memory, redis, postgres, bun, mongo)")
	pf.String("store-url", "", "Store connection URL")

	cmd.AddCommand(newJobsCommand(a))
	return cmd
}

// Execute runs the command tree with args and returns the process exit
// code. Errors are printed as `Error: <message>` on stderr.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer, opts ...Option) int {
	a := newApp(opts)
	cmd := newRootCommand(a)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if cerr := a.close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = format.New(stdout, stderr, format.ModeText, colorEnabled(stderr)).PrintError(err)
		return 1
	}
	return 0
}

func (a *app) configPath() string {
	if a.configFile != "" {
		return a.configFile
	}
	return os.Getenv(ConfigEnv)
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(config.DefaultSources(a.configPath(), cmd.Flags(), a.debug)...)
	if err != nil {
		return err
	}
	a.cfg = cfg

	hopts := &slog.HandlerOptions{Level: cfg.Level()}
	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(cmd.ErrOrStderr(), hopts)
	} else {
		handler = slog.NewTextHandler(cmd.ErrOrStderr(), hopts)
	}
	a.logger = slog.New(handler)

	stdout := cmd.OutOrStdout()
	a.out = format.New(stdout, cmd.ErrOrStderr(), format.ParseMode(cfg.Output), colorEnabled(stdout))

	a.logger.Debug("configuration loaded",
		slog.String("config", a.configPath()),
		slog.String("store", cfg.Store.Driver),
	)
	return nil
}

// open opens the store and builds the engine on first use.
func (a *app) open(ctx context.Context) (*engine.Engine, error) {
	if a.eng != nil {
		return a.eng, nil
	}

	s := a.store
	if s == nil {
		opened, err := bind.Store(ctx, a.cfg.Store, a.logger)
		if err != nil {
			return nil, err
		}
		s = opened
		a.store = opened
		a.ownsStore = true
	}

	eng, err := bind.Engine(a.cfg, s, a.logger, a.engineOpts...)
	if err != nil {
		return nil, err
	}
	for _, fn := range a.setups {
		fn(eng)
	}
	a.eng = eng
	return eng, nil
}

func (a *app) close() error {
	if !a.ownsStore || a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store, a.eng, a.ownsStore = nil, nil, false
	return err
}

// colorEnabled reports whether w is the terminal fatih/color detected.
func colorEnabled(w io.Writer) bool {
	return !color.NoColor && (w == os.Stdout || w == os.Stderr)
}
