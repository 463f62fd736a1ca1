// Package daemonrun composes the daemon process: logging, PID file,
// engine pool, supply pipeline, player, history store, and the daemon
// itself, then blocks until a termination signal.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"medley/internal/config"
	"medley/internal/daemon"
	"medley/internal/dedup"
	"medley/internal/engine/gstengine"
	"medley/internal/feeder"
	"medley/internal/history"
	"medley/internal/logging"
	"medley/internal/player"
	"medley/internal/pool"
	"medley/internal/rootset"
	"medley/internal/sampler"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the medley daemon and blocks until the context is cancelled
// or a termination signal arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("medley-%s.log", runID))

	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logStartupSnapshot(logger, cfg)
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update medley.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "medley-*.log", Exclude: []string{logPath}},
	)

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	roots := rootset.New(cfg.Library.Roots, cfg.Library.DisabledRoots)
	smp := sampler.New(sampler.Options{Parallelism: cfg.Sampler.Parallelism, Logger: logger})
	factory := gstengine.NewFactory(gstengine.Options{
		VideoSink: cfg.Engine.VideoSink,
		AudioSink: cfg.Engine.AudioSink,
		Width:     cfg.Engine.VideoWidth,
		Height:    cfg.Engine.VideoHeight,
		Logger:    logger,
	})
	engines := pool.New(factory, logger, pool.Options{})
	supply := feeder.New(cfg, smp, dedup.New(cfg.Supply.DedupCapacity), roots, engines, logger)

	var store *history.Store
	if cfg.History.Enabled {
		store, err = history.Open(cfg)
		if err != nil {
			logger.Error("open history store", logging.Error(err))
			return err
		}
	}

	ctl, err := player.New(cfg, supply, store, logger)
	if err != nil {
		closeStore(store)
		return fmt.Errorf("create player: %w", err)
	}

	d, err := daemon.New(cfg, roots, engines, supply, ctl, store, logger)
	if err != nil {
		closeStore(store)
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check the lock file, api bind address, and data directory permissions"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("medley daemon shutting down")
	return nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "medley.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func closeStore(store *history.Store) {
	if store != nil {
		_ = store.Close()
	}
}

func logStartupSnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("startup snapshot",
		logging.String(logging.FieldEventType, "startup_snapshot"),
		logging.Int("roots", len(cfg.Library.Roots)),
		logging.Int("disabled_roots", len(cfg.Library.DisabledRoots)),
		logging.Int("ready_capacity", cfg.Supply.ReadyCapacity),
		logging.Int("preroll_capacity", cfg.Supply.PrerollCapacity),
		logging.Int("dedup_capacity", cfg.Supply.DedupCapacity),
		logging.Bool("autoplay", cfg.Playback.Autoplay),
		logging.String("video_sink", cfg.Engine.VideoSink),
		logging.String("audio_sink", cfg.Engine.AudioSink),
		logging.Bool("history", cfg.History.Enabled),
		logging.String("api_bind", cfg.Paths.APIBind),
	)
}
