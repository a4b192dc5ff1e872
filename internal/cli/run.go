package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/splithost/internal/api"
	"github.com/roach88/splithost/internal/config"
	"github.com/roach88/splithost/internal/host"
	"github.com/roach88/splithost/internal/journal"
	"github.com/roach88/splithost/internal/luamod"
	"github.com/roach88/splithost/internal/module"
	"github.com/roach88/splithost/internal/procscan"
	"github.com/roach88/splithost/internal/scheduler"
	"github.com/roach88/splithost/internal/telemetry"
	"github.com/roach88/splithost/internal/timer"
	"github.com/roach88/splithost/internal/watch"
)

// shutdownTimeout bounds how long the control API drains on exit.
const shutdownTimeout = 5 * time.Second

// RunOptions holds flags for the run command. Flags override the
// SPLITHOST_* environment only when given.
type RunOptions struct {
	*RootOptions
	Listen   string
	Journal  string
	Script   string
	Settings string
	DumpPath string
	NoWatch  bool

	// IDs overrides the journal session id generator (for testing).
	IDs journal.IDGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [module]",
		Short: "Run the module host",
		Long: `Run the module host: tick scheduler, control API, file watcher and
optional session journal.

The module is optional; one can be loaded later through the control API.
Configuration comes from SPLITHOST_* environment variables; flags override
them.

Example:
  splithost run ./splitter.lua
  splithost run ./splitter.lua --journal ./session.db --listen 127.0.0.1:9000
  splithost run --no-watch --script ./route.txt ./splitter.lua`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			modulePath := ""
			if len(args) == 1 {
				modulePath = args[0]
			}
			return runHost(opts, modulePath, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "control API address, empty string disables it")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite session journal")
	cmd.Flags().StringVar(&opts.Script, "script", "", "auxiliary script handed to the module")
	cmd.Flags().StringVar(&opts.Settings, "settings", "", "YAML file seeding the module settings")
	cmd.Flags().StringVar(&opts.DumpPath, "dump-path", "", "memory dump target")
	cmd.Flags().BoolVar(&opts.NoWatch, "no-watch", false, "disable reloading on file change")

	return cmd
}

// loadConfig parses the environment and applies the flags that were set.
func loadConfig(opts *RunOptions, cmd *cobra.Command) (config.Config, error) {
	var cfg config.Config
	if err := config.ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Listen = opts.Listen
	}
	if flags.Changed("journal") {
		cfg.Journal = opts.Journal
	}
	if flags.Changed("script") {
		cfg.Script = opts.Script
	}
	if flags.Changed("settings") {
		cfg.SettingsFile = opts.Settings
	}
	if flags.Changed("dump-path") {
		cfg.DumpPath = opts.DumpPath
	}
	if opts.NoWatch {
		cfg.Watch = false
	}
	return cfg, cfg.Validate()
}

func runHost(opts *RunOptions, modulePath string, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions)
	slog.SetDefault(logger)

	cfg, err := loadConfig(opts, cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	initial, err := cfg.InitialSettings()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load settings", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	t := timer.New(timer.WithLogger(logger))
	tel := telemetry.New()
	handle := &module.Handle{}

	engineOpts := []luamod.Option{
		luamod.WithHookInterval(cfg.HookInterval),
		luamod.WithStartTimeout(cfg.StartTimeout),
		luamod.WithLogger(logger),
	}
	if finder, err := procscan.NewProcFS(""); err != nil {
		slog.Warn("process lookup unavailable", "error", err)
	} else {
		engineOpts = append(engineOpts, luamod.WithFinder(finder))
	}

	hostOpts := []host.Option{
		host.WithGuard(host.Guard{Attempts: cfg.LivenessAttempts, Backoff: cfg.LivenessBackoff}),
		host.WithLogger(logger),
	}
	if initial != nil {
		hostOpts = append(hostOpts, host.WithInitialSettings(initial))
	}
	h := host.New(luamod.New(engineOpts...), handle, t, tel, hostOpts...)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Journal != "" {
		writer, closeJournal, err := openJournal(gctx, opts, cfg.Journal, modulePath, logger)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer closeJournal()
		t.Subscribe(writer.Observe)
		g.Go(func() error { return writer.Run(gctx) })
	}

	if modulePath != "" {
		if err := h.Load(modulePath); err != nil {
			slog.Warn("module not loaded", "path", modulePath, "error", err)
		}
	}
	if cfg.Script != "" {
		if err := h.SetScriptPath(cfg.Script); err != nil {
			slog.Warn("script not applied", "path", cfg.Script, "error", err)
		}
	}

	sched := scheduler.New(handle, tel, t, scheduler.WithLogger(logger))
	g.Go(func() error { return sched.Run(gctx) })

	if cfg.Listen != "" {
		serveAPI(gctx, g, cfg, opts.RootOptions, h, handle, t, tel, logger)
	}

	if cfg.Watch {
		w, err := watch.New(h, cfg.WatchDebounce, logger)
		if err != nil {
			slog.Warn("file watching disabled", "error", err)
		} else {
			g.Go(func() error { return w.Run(gctx) })
		}
	}

	slog.Info("host starting", "module", modulePath, "listen", cfg.Listen, "journal", cfg.Journal, "watch", cfg.Watch)
	fmt.Fprintln(cmd.OutOrStdout(), "Host started.")
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "host error", err)
	}

	slog.Info("host stopped gracefully")
	return nil
}

// openJournal opens the journal and starts a session. The returned func
// closes the store.
func openJournal(ctx context.Context, opts *RunOptions, path, modulePath string, logger *slog.Logger) (*journal.Writer, func(), error) {
	st, err := journal.Open(path)
	if err != nil {
		return nil, nil, err
	}
	ids := opts.IDs
	if ids == nil {
		ids = journal.UUIDv7Generator{}
	}
	session, err := st.BeginSession(ctx, ids, time.Now(), modulePath)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	slog.Info("journal session started", "path", path, "session", session)

	closeFn := func() {
		if err := st.Close(); err != nil {
			slog.Error("error closing journal", "error", err)
		}
	}
	return journal.NewWriter(st, session, logger), closeFn, nil
}

// serveAPI starts the control API and its shutdown watcher in g.
func serveAPI(ctx context.Context, g *errgroup.Group, cfg config.Config, opts *RootOptions,
	h *host.Host, handle *module.Handle, t *timer.Timer, tel *telemetry.State, logger *slog.Logger) {
	if opts.Verbose {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	telemetry.RegisterMetrics(reg, tel)

	handlers := api.NewHandlers(h, handle, t, tel, api.WithDumpPath(cfg.DumpPath), api.WithLogger(logger))
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.NewRouter(handlers, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("control api: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
