package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"linkreload/internal/cache"
	"linkreload/internal/config"
	"linkreload/internal/devserver"
	"linkreload/internal/logging"
	"linkreload/internal/metrics"
	"linkreload/internal/notify"
	"linkreload/internal/reload"
	"linkreload/internal/version"
	"linkreload/internal/watcher"

	"github.com/spf13/cobra"
)

const httpServerShutdownTimeout = 5 * time.Second

func newServeCommand(env environment, flags *configFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Watch linked packages and serve the reload endpoint",
		Long: `Starts the dev server. Package output is served under /@pkg/<name>/<path>,
browsers connect to /__reload (or load /__client.js) and receive a
full-reload message whenever a linked package finishes rebuilding.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, warnings, err := flags.load(cmd, env)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, warnings, cmd.ErrOrStderr(), env.ready)
		},
	}
	flags.registerServe(cmd)
	return cmd
}

func runServe(ctx context.Context, cfg config.Config, warnings []string, output io.Writer, ready func(addr string)) error {
	level := cfg.LogLevel
	if cfg.Verbose {
		level = logging.LevelDebug
	}
	logger := logging.NewLoggerWithOutput(logging.NewLogBuffer(logging.DefaultBufferSize), level, output)
	logger.Info(version.Get().Label(), nil)
	logStartupFlags(logger, cfg)
	if cfg.Path != "" {
		logger.Info("config loaded", map[string]string{
			"path":     cfg.Path,
			"packages": strconv.Itoa(len(cfg.Packages)),
		})
	}
	for _, warning := range warnings {
		logger.Warn("config warning", map[string]string{
			"warning": warning,
		})
	}

	reg, err := cfg.Registry()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stats := &metrics.Registry{}
	fsWatcher, err := watcher.NewWithOptions(watcher.Options{
		Logger: logger,
		ErrorHandler: func(err error) {
			logger.Error("file watcher stopped", map[string]string{
				"error": err.Error(),
			})
			cancel()
		},
	})
	if err != nil {
		return fmt.Errorf("start file watcher: %w", err)
	}
	hub := watcher.NewEventHub(ctx, fsWatcher)
	moduleCache := cache.NewModuleCacheSize(cfg.CacheSize)
	broadcaster := notify.NewBroadcaster(ctx, notify.Options{
		Logger:         logger,
		AllowedOrigins: cfg.AllowedOrigins,
		HistorySize:    16,
	})

	shutdown := newShutdownCoordinator(logger)
	shutdown.Add("event hub", func(context.Context) error { return hub.Close() })
	shutdown.Add("file watcher", func(context.Context) error { return fsWatcher.Close() })
	shutdown.Add("reload clients", func(context.Context) error {
		broadcaster.Close()
		return nil
	})
	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), httpServerShutdownTimeout)
		defer cancelShutdown()
		_ = shutdown.Run(shutdownCtx)
	}()

	session, err := reload.New(reload.Options{
		Registry: reg,
		WatchDir: cfg.WatchDir,
		Debounce: cfg.Debounce,
		Verbose:  cfg.Verbose,
		Rescan:   cfg.Rescan,
		Watcher:  hub,
		Events:   hub,
		Cache:    moduleCache,
		Notifier: broadcaster,
		Logger:   logger,
		Metrics:  stats,
	})
	if err != nil {
		return err
	}
	// The runner closes the session first on a normal exit. This phase covers
	// early returns and keeps cycles away from a closed broadcaster.
	shutdown.Prepend("reload session", func(context.Context) error { return session.Close() })

	dev, err := devserver.New(devserver.Options{
		Registry: reg,
		WatchDir: cfg.WatchDir,
		Cache:    moduleCache,
		Reload:   broadcaster,
		Session:  session,
		Watcher:  fsWatcher,
		Logger:   logger,
		Metrics:  stats,
	})
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Listen, err)
	}
	if err := session.Start(ctx); err != nil {
		_ = listener.Close()
		return fmt.Errorf("start watch session: %w", err)
	}

	httpServer := &http.Server{
		Handler:           dev.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	address := listener.Addr().String()
	logger.Info("linkreload listening", map[string]string{
		"addr":   address,
		"client": "http://" + address + devserver.ClientPath,
	})
	if ready != nil {
		ready(address)
	}

	runner := &devServerRunner{
		server:          httpServer,
		listener:        listener,
		session:         session,
		logger:          logger,
		shutdownTimeout: httpServerShutdownTimeout,
	}
	return runner.run(ctx)
}
