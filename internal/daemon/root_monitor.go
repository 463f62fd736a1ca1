package daemon

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"medley/internal/logging"
	"medley/internal/rootset"
)

const (
	// rootMonitorDebounce coalesces bursts of mount churn into one probe.
	rootMonitorDebounce = 2 * time.Second
	// rootMonitorInterval backstops fsnotify with a periodic probe, and is
	// the only trigger when the watcher could not be created.
	rootMonitorInterval = 30 * time.Second
)

// rootMonitor watches the parent directories of the configured media roots
// and triggers a health revalidation when entries appear or disappear, so a
// root on a freshly mounted drive comes back without operator action.
type rootMonitor struct {
	logger  *slog.Logger
	roots   *rootset.Set
	handler func(ctx context.Context, trigger string)

	debounce time.Duration
	interval time.Duration

	mu      sync.Mutex
	running bool
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func newRootMonitor(roots *rootset.Set, logger *slog.Logger, handler func(ctx context.Context, trigger string)) *rootMonitor {
	if roots == nil {
		return nil
	}
	return &rootMonitor{
		logger:   logging.NewComponentLogger(logger, "root-monitor"),
		roots:    roots,
		handler:  handler,
		debounce: rootMonitorDebounce,
		interval: rootMonitorInterval,
	}
}

// Start begins watching. Failure to create the filesystem watcher is not
// fatal; the monitor then relies on its periodic probe alone.
func (m *rootMonitor) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return errors.New("root monitor already running")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.logger.Warn("filesystem watcher unavailable, falling back to periodic probes",
			logging.Error(err),
		)
		watcher = nil
	}
	if watcher != nil {
		for _, dir := range m.watchTargets() {
			if err := watcher.Add(dir); err != nil {
				m.logger.Debug("cannot watch directory",
					logging.String("dir", dir),
					logging.Error(err),
				)
			}
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.watcher = watcher
	m.cancel = cancel
	m.running = true

	m.wg.Add(1)
	go m.loop(runCtx, watcher)

	m.logger.Info("root monitor started",
		logging.Bool("fsnotify", watcher != nil),
	)
	return nil
}

// Stop shuts the monitor down and waits for its loop to exit.
func (m *rootMonitor) Stop() {
	if m == nil {
		return
	}
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	watcher := m.watcher
	m.cancel = nil
	m.watcher = nil
	m.running = false
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if watcher != nil {
		_ = watcher.Close()
	}
	m.wg.Wait()

	m.logger.Info("root monitor stopped")
}

// Running reports whether the monitor is active.
func (m *rootMonitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Watch adds the parent of a runtime-added root to the watch list.
func (m *rootMonitor) Watch(root string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watcher == nil {
		return
	}
	dir := filepath.Dir(root)
	if err := m.watcher.Add(dir); err != nil {
		m.logger.Debug("cannot watch directory",
			logging.String("dir", dir),
			logging.Error(err),
		)
	}
}

func (m *rootMonitor) watchTargets() []string {
	seen := make(map[string]struct{})
	var dirs []string
	for _, root := range m.roots.Roots() {
		dir := filepath.Dir(root.Path)
		if _, ok := seen[dir]; ok {
			continue
		}
		seen[dir] = struct{}{}
		dirs = append(dirs, dir)
	}
	return dirs
}

func (m *rootMonitor) loop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer m.wg.Done()

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if watcher != nil {
		events = watcher.Events
		errs = watcher.Errors
	}

	m.fire(ctx, "startup")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	var (
		pending *time.Timer
		due     <-chan time.Time
	)
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !m.relevant(event) {
				continue
			}
			if pending == nil {
				pending = time.NewTimer(m.debounce)
			} else {
				if !pending.Stop() {
					select {
					case <-pending.C:
					default:
					}
				}
				pending.Reset(m.debounce)
			}
			due = pending.C
		case <-due:
			due = nil
			m.fire(ctx, "fsnotify")
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			m.logger.Warn("filesystem watcher error", logging.Error(err))
		case <-ticker.C:
			m.fire(ctx, "interval")
		}
	}
}

// relevant reports whether the event touches one of the roots themselves,
// as opposed to unrelated churn in the watched parent directories.
func (m *rootMonitor) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Clean(event.Name)
	for _, root := range m.roots.Roots() {
		if name == root.Path {
			return true
		}
	}
	return false
}

func (m *rootMonitor) fire(ctx context.Context, trigger string) {
	if m.handler == nil || ctx.Err() != nil {
		return
	}
	m.handler(ctx, trigger)
}
