package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/dirsync/internal/config"
	"github.com/tonimelisma/dirsync/internal/control"
	"github.com/tonimelisma/dirsync/internal/history"
	"github.com/tonimelisma/dirsync/internal/monitor"
	"github.com/tonimelisma/dirsync/internal/notify"
	"github.com/tonimelisma/dirsync/internal/orchestrator"
	"github.com/tonimelisma/dirsync/internal/registry"
	"github.com/tonimelisma/dirsync/internal/scheduler"
)

// Daemon flags. loadConfig only applies them when set explicitly.
var (
	flagLogFile   string
	flagPairsFile string
	flagWorkers   int
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the synchronization daemon",
		Long: `Run the daemon in the foreground.

Directory pairs are loaded from the pairs file and fully synchronized at
startup. Commands are read from the fss_in pipe in the control directory and
replies are written to fss_out. SIGINT or SIGTERM (or the shutdown command)
finishes all queued work and exits; a second signal exits immediately.`,
		Args: cobra.NoArgs,
		RunE: runDaemon,
	}

	cmd.Flags().StringVarP(&flagLogFile, "log-file", "l", "", "message log file (overrides log_file)")
	cmd.Flags().StringVarP(&flagPairsFile, "pairs", "c", "", "directory pairs file (overrides pairs_file)")
	cmd.Flags().IntVarP(&flagWorkers, "workers", "n", 0, "maximum concurrent workers (overrides worker_limit)")

	return cmd
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg := resolvedCfg
	logger := buildLogger()

	release, err := acquireLock(cfg.LockFile)
	if err != nil {
		return err
	}
	defer release()

	logFile, err := notify.OpenLogFile(notify.LogFileOptions{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	if err != nil {
		return err
	}
	defer logFile.Close()

	ctx := shutdownContext(cmd.Context(), logger)

	hist, err := history.Open(ctx, cfg.HistoryDB, logger)
	if err != nil {
		return err
	}
	defer hist.Close()

	channel, err := control.Open(cfg.ControlDir, logger)
	if err != nil {
		return fmt.Errorf("opening control channel: %w", err)
	}
	defer channel.Close()

	mon, err := monitor.Start(cfg.MonitorBackend, logger)
	if err != nil {
		return err
	}

	reg := registry.New(logger)
	loadPairs(reg, cfg.PairsFile, logger)

	spawner, err := newSpawner(cfg)
	if err != nil {
		return err
	}

	sink := notify.NewSink(logFile, channel, logger)

	sched := scheduler.New(scheduler.Config{
		WorkerLimit: cfg.WorkerLimit,
		Spawner:     spawner,
		Registry:    reg,
		Sink:        sink,
		History:     hist,
		Logger:      logger,
	})

	stopChildren := sched.WatchChildren()
	defer stopChildren()

	orch := orchestrator.New(orchestrator.Config{
		Registry:     reg,
		Monitor:      mon,
		Scheduler:    sched,
		Sink:         sink,
		Logger:       logger,
		PollInterval: cfg.PollDuration(),
	})

	defer func() {
		if err := orch.Close(); err != nil {
			logger.Warn("closing monitor", slog.String("error", err.Error()))
		}
	}()

	logger.Info("daemon started",
		slog.String("version", version),
		slog.Int("pid", os.Getpid()),
		slog.Int("workers", cfg.WorkerLimit),
		slog.String("control_dir", cfg.ControlDir),
		slog.String("session", hist.Session()),
	)

	orch.Bootstrap()

	return serve(ctx, orch, channel, logger)
}

// serve runs the control loop with the channel listener feeding it.
func serve(ctx context.Context, orch *orchestrator.Orchestrator, channel *control.Channel, logger *slog.Logger) error {
	listenCtx, stopListen := context.WithCancel(ctx)
	defer stopListen()

	lines := make(chan string, 16)

	var g errgroup.Group

	g.Go(func() error {
		return channel.Listen(listenCtx, lines)
	})

	runErr := orch.Run(ctx, lines)
	stopListen()

	if err := g.Wait(); err != nil {
		logger.Warn("control channel listener stopped", slog.String("error", err.Error()))
	}

	return runErr
}

// loadPairs fills reg from the pairs file. A bad line stops the load but
// keeps the pairs read before it; the daemon runs with those.
func loadPairs(reg *registry.Registry, path string, logger *slog.Logger) {
	n, err := reg.LoadFile(path)
	if err != nil {
		var cfgErr *registry.ConfigError
		if !errors.As(err, &cfgErr) {
			logger.Error("reading directory pairs", slog.String("error", err.Error()))
		} else {
			logger.Error("directory pairs load aborted",
				slog.String("file", cfgErr.File),
				slog.Int("line", cfgErr.Line),
				slog.String("error", cfgErr.Err.Error()),
			)
		}
	}

	if n == 0 {
		logger.Info("no directory pairs loaded, starting with empty configuration", slog.String("path", path))
		return
	}

	logger.Info("directory pairs loaded", slog.Int("count", n), slog.String("path", path))
}

// newSpawner builds the worker spawner. Without a configured executor the
// daemon re-executes its own binary with the hidden exec command.
func newSpawner(cfg *config.Config) (*scheduler.ExecSpawner, error) {
	if cfg.ExecutorPath != "" {
		return &scheduler.ExecSpawner{Path: cfg.ExecutorPath}, nil
	}

	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locating own executable: %w", err)
	}

	return &scheduler.ExecSpawner{
		Path: self,
		Args: []string{"exec", "--copy-concurrency=" + strconv.Itoa(cfg.CopyConcurrency), "--"},
	}, nil
}
