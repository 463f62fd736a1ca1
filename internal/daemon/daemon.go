package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"medley/internal/config"
	"medley/internal/feeder"
	"medley/internal/history"
	"medley/internal/logging"
	"medley/internal/media"
	"medley/internal/player"
	"medley/internal/pool"
	"medley/internal/rootset"
)

// Daemon coordinates the supply pipeline, the built-in player, and the root
// monitors, and enforces single-instance execution through a lock file.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	roots   *rootset.Set
	engines *pool.Pool
	supply  *feeder.Feeder
	player  *player.Controller
	store   *history.Store

	lockPath string
	lock     *flock.Flock

	api     *apiServer
	watcher *rootMonitor
	netlink *netlinkMonitor

	running   atomic.Bool
	startedAt time.Time
	wg        sync.WaitGroup

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	// roots the monitors disabled on their own; only these may be
	// re-enabled automatically once they become reachable again
	autoDisabled map[string]bool
}

// Status represents daemon runtime information.
type Status struct {
	Running           bool
	PID               int
	StartedAt         time.Time
	LockFilePath      string
	HistoryDBPath     string
	Supply            feeder.Status
	Roots             []RootHealth
	Player            player.Status
	NetlinkMonitoring bool
	RootWatcher       bool
}

// New constructs a daemon with initialized dependencies. The history store
// may be nil when play history is disabled.
func New(
	cfg *config.Config,
	roots *rootset.Set,
	engines *pool.Pool,
	supply *feeder.Feeder,
	ctl *player.Controller,
	store *history.Store,
	logger *slog.Logger,
) (*Daemon, error) {
	if cfg == nil || roots == nil || engines == nil || supply == nil || ctl == nil || logger == nil {
		return nil, errors.New("daemon requires config, roots, engine pool, supply, player, and logger")
	}

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:          cfg,
		logger:       logger,
		roots:        roots,
		engines:      engines,
		supply:       supply,
		player:       ctl,
		store:        store,
		lockPath:     lockPath,
		lock:         flock.New(lockPath),
		autoDisabled: make(map[string]bool),
	}
	d.watcher = newRootMonitor(roots, logger, d.revalidateRoots)
	d.netlink = newNetlinkMonitor(logger, d.revalidateRoots)

	srv, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = srv
	return d, nil
}

// Start acquires the daemon lock and brings the services up in order: engine
// pool, supply, player when autoplay is configured, monitors, API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another medley daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.ctx = runCtx
	d.cancel = cancel
	d.mu.Unlock()

	abort := func() {
		cancel()
		d.mu.Lock()
		d.ctx = nil
		d.cancel = nil
		d.mu.Unlock()
		_ = d.lock.Unlock()
	}

	if err := d.engines.Start(runCtx); err != nil {
		abort()
		return fmt.Errorf("start engine pool: %w", err)
	}
	if err := d.supply.Start(runCtx); err != nil {
		d.engines.Stop()
		abort()
		return fmt.Errorf("start supply: %w", err)
	}
	if d.cfg.Playback.Autoplay {
		if err := d.player.Start(runCtx); err != nil {
			d.supply.Stop()
			d.engines.Stop()
			abort()
			return fmt.Errorf("start player: %w", err)
		}
	}

	// Monitors are best-effort; the daemon serves fine without them.
	if err := d.watcher.Start(runCtx); err != nil {
		d.logger.Warn("root monitor unavailable", logging.Error(err))
	}
	if err := d.netlink.Start(runCtx); err != nil {
		d.logger.Warn("netlink monitor unavailable", logging.Error(err))
	}

	if err := d.api.start(runCtx); err != nil {
		d.netlink.Stop()
		d.watcher.Stop()
		d.player.Stop()
		d.supply.Stop()
		d.engines.Stop()
		abort()
		return fmt.Errorf("start api server: %w", err)
	}

	if d.store != nil && d.cfg.History.RetentionDays > 0 {
		d.wg.Add(1)
		go d.pruneLoop(runCtx)
	}

	d.startedAt = time.Now().UTC()
	d.running.Store(true)
	d.logger.Info("medley daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop shuts the services down in reverse start order and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.mu.Lock()
	cancel := d.cancel
	d.ctx = nil
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	d.api.stop()
	d.netlink.Stop()
	d.watcher.Stop()
	d.player.Stop()
	d.supply.Stop()
	d.engines.Stop()
	d.wg.Wait()

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("medley daemon stopped")
}

// Close stops the daemon and releases the history store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether Start has completed and Stop has not.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// APIAddr returns the bound API listener address, or "" when the API server
// is disabled or not started.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	historyPath := ""
	if d.store != nil {
		historyPath = d.cfg.HistoryDBPath()
	}
	return Status{
		Running:           d.running.Load(),
		PID:               os.Getpid(),
		StartedAt:         d.startedAt,
		LockFilePath:      d.lockPath,
		HistoryDBPath:     historyPath,
		Supply:            d.supply.Status(),
		Roots:             d.RootHealth(),
		Player:            d.player.Status(),
		NetlinkMonitoring: d.netlink.Running(),
		RootWatcher:       d.watcher.Running(),
	}
}

// SupplyStatus reports the ready-queue fill and outstanding counts.
func (d *Daemon) SupplyStatus() feeder.Status {
	return d.supply.Status()
}

// NextItem withdraws the next ready item, optionally narrowed by kind.
func (d *Daemon) NextItem(ctx context.Context, kinds ...media.Kind) (feeder.Item, error) {
	return d.supply.Next(ctx, kinds...)
}

// ReleaseItem disposes the prepared engine behind a withdrawn item. External
// consumers play the file themselves, so the warmed engine is surplus once
// the path is handed over.
func (d *Daemon) ReleaseItem(item feeder.Item) {
	if item.Handle == nil {
		return
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := item.Handle.Close(closeCtx); err != nil {
		d.logger.Warn("failed to dispose withdrawn engine",
			logging.Error(err),
			logging.String(logging.FieldPath, item.Path),
		)
	}
}

// ResetSupply clears the ready queue and the dedup cache.
func (d *Daemon) ResetSupply() {
	d.supply.Reset()
}

// History returns the most recent plays, newest first. The result is empty
// when history is disabled.
func (d *Daemon) History(ctx context.Context, limit int) ([]*history.Play, error) {
	if d.store == nil {
		return nil, nil
	}
	return d.store.Recent(ctx, limit)
}

// RootHealth probes every configured root and reports eligibility along
// with filesystem availability and capacity.
func (d *Daemon) RootHealth() []RootHealth {
	return probeRoots(d.roots.Roots())
}

// EnableRoot marks a root eligible again. A manual enable clears any
// monitor bookkeeping for the root.
func (d *Daemon) EnableRoot(path string) error {
	if err := d.roots.Enable(path); err != nil {
		return err
	}
	d.mu.Lock()
	delete(d.autoDisabled, path)
	d.mu.Unlock()
	return nil
}

// DisableRoot marks a root ineligible. A manual disable sticks: the
// monitors will not re-enable the root even while it stays reachable.
func (d *Daemon) DisableRoot(path string) error {
	if err := d.roots.Disable(path); err != nil {
		return err
	}
	d.mu.Lock()
	delete(d.autoDisabled, path)
	d.mu.Unlock()
	return nil
}

// AddRoot registers a new root at runtime and starts watching its parent
// directory. The path must exist; a single file is a valid root.
func (d *Daemon) AddRoot(path string) error {
	expanded, err := config.ExpandPath(strings.TrimSpace(path))
	if err != nil {
		return err
	}
	if _, err := os.Stat(expanded); err != nil {
		return fmt.Errorf("stat root %q: %w", expanded, err)
	}
	if err := d.roots.Add(expanded); err != nil {
		return err
	}
	d.watcher.Watch(expanded)
	d.logger.Info("media root added", logging.String(logging.FieldRoot, expanded))
	return nil
}

// ApplyRootChanges validates a batch of root mutations and then applies
// them; on any validation failure nothing is changed.
func (d *Daemon) ApplyRootChanges(enable, disable, add []string) error {
	enablePaths, err := normalizeRootPaths(enable)
	if err != nil {
		return err
	}
	disablePaths, err := normalizeRootPaths(disable)
	if err != nil {
		return err
	}
	addPaths, err := normalizeRootPaths(add)
	if err != nil {
		return err
	}

	known := make(map[string]bool)
	for _, root := range d.roots.Roots() {
		known[root.Path] = true
	}
	for _, path := range enablePaths {
		if !known[path] {
			return fmt.Errorf("unknown root %q", path)
		}
	}
	for _, path := range disablePaths {
		if !known[path] {
			return fmt.Errorf("unknown root %q", path)
		}
	}
	for _, path := range addPaths {
		if known[path] {
			return fmt.Errorf("root %q already configured", path)
		}
		known[path] = true
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("stat root %q: %w", path, err)
		}
	}

	for _, path := range addPaths {
		if err := d.AddRoot(path); err != nil {
			return err
		}
	}
	for _, path := range enablePaths {
		if err := d.EnableRoot(path); err != nil {
			return err
		}
	}
	for _, path := range disablePaths {
		if err := d.DisableRoot(path); err != nil {
			return err
		}
	}
	return nil
}

func normalizeRootPaths(values []string) ([]string, error) {
	out := make([]string, 0, len(values))
	for _, raw := range values {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			return nil, errors.New("root path is required")
		}
		expanded, err := config.ExpandPath(trimmed)
		if err != nil {
			return nil, err
		}
		out = append(out, expanded)
	}
	return out, nil
}

// PlayerStatus reports the built-in player's state.
func (d *Daemon) PlayerStatus() player.Status {
	return d.player.Status()
}

// StartPlayer launches the built-in player against the daemon's run context.
func (d *Daemon) StartPlayer() error {
	runCtx := d.runContext()
	if runCtx == nil {
		return errors.New("daemon not running")
	}
	return d.player.Start(runCtx)
}

// AdvancePlayer starts the player when it is stopped, otherwise skips the
// current item. The returned flag reports whether a fresh start happened.
func (d *Daemon) AdvancePlayer(ctx context.Context) (bool, error) {
	if !d.player.Running() {
		return true, d.StartPlayer()
	}
	return false, d.player.Skip(ctx)
}

// PausePlayer pauses active playback.
func (d *Daemon) PausePlayer(ctx context.Context) error {
	return d.player.Pause(ctx)
}

// ResumePlayer resumes paused playback.
func (d *Daemon) ResumePlayer(ctx context.Context) error {
	return d.player.Resume(ctx)
}

// SkipPlayer abandons the current item.
func (d *Daemon) SkipPlayer(ctx context.Context) error {
	return d.player.Skip(ctx)
}

// SetPlayerSpeed applies an absolute rate such as "2x", or steps the current
// rate with "faster" or "slower". The effective speed is returned.
func (d *Daemon) SetPlayerSpeed(ctx context.Context, value string) (media.Speed, error) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	var target media.Speed
	switch trimmed {
	case "":
		return "", errors.New("speed is required")
	case "faster":
		target = d.player.Speed().Faster()
	case "slower":
		target = d.player.Speed().Slower()
	default:
		parsed, err := media.ParseSpeed(trimmed)
		if err != nil {
			return "", err
		}
		target = parsed
	}
	if err := d.player.SetSpeed(ctx, target); err != nil {
		return "", err
	}
	return target, nil
}

func (d *Daemon) runContext() context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ctx
}

// revalidateRoots reconciles configured roots against filesystem reality.
// Roots that vanished are disabled; roots the monitors disabled earlier are
// re-enabled once they are reachable again. Manually disabled roots are
// never touched.
func (d *Daemon) revalidateRoots(ctx context.Context, trigger string) {
	for _, root := range d.roots.Roots() {
		health := probeRoot(root.Path, root.Enabled)
		switch {
		case root.Enabled && !health.Available:
			d.mu.Lock()
			d.autoDisabled[root.Path] = true
			d.mu.Unlock()
			if err := d.roots.Disable(root.Path); err != nil {
				continue
			}
			d.logger.Warn("media root unavailable, disabling",
				logging.String(logging.FieldRoot, root.Path),
				logging.String("trigger", trigger),
			)
		case !root.Enabled && health.Available:
			d.mu.Lock()
			auto := d.autoDisabled[root.Path]
			if auto {
				delete(d.autoDisabled, root.Path)
			}
			d.mu.Unlock()
			if !auto {
				continue
			}
			if err := d.roots.Enable(root.Path); err != nil {
				continue
			}
			d.logger.Info("media root reachable again, enabling",
				logging.String(logging.FieldRoot, root.Path),
				logging.String("trigger", trigger),
			)
		}
	}
}

func (d *Daemon) pruneLoop(ctx context.Context) {
	defer d.wg.Done()

	retention := time.Duration(d.cfg.History.RetentionDays) * 24 * time.Hour
	d.pruneHistory(ctx, retention)

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.pruneHistory(ctx, retention)
		}
	}
}

func (d *Daemon) pruneHistory(ctx context.Context, retention time.Duration) {
	pruneCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	removed, err := d.store.Prune(pruneCtx, retention)
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Warn("history prune failed", logging.Error(err))
		}
		return
	}
	if removed > 0 {
		d.logger.Info("pruned play history",
			logging.Int64("removed", removed),
			logging.Duration("retention", retention),
		)
	}
}
