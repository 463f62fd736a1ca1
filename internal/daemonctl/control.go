// Package daemonctl inspects the daemon process on behalf of the CLI.
// It answers liveness questions from the PID file and builds status
// snapshots that fall back to local probes when the HTTP API is
// unreachable.
package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"medley/internal/api"
	"medley/internal/config"
	"medley/internal/history"
	"medley/internal/media"
)

// Snapshot is the status view rendered by the CLI. Online reports
// whether the daemon API answered; offline snapshots carry locally
// probed roots and play counts read straight from the history database.
type Snapshot struct {
	Online     bool
	Status     api.DaemonStatus
	PlayCounts map[media.Kind]int
}

// BuildStatusSnapshot collects daemon status over the API and applies
// offline fallbacks when the daemon cannot be reached.
func BuildStatusSnapshot(ctx context.Context, client *api.Client, cfg *config.Config) (*Snapshot, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}

	if client != nil {
		if status, err := client.Status(ctx); err == nil && status != nil {
			return &Snapshot{Online: true, Status: *status}, nil
		}
	}

	snap := &Snapshot{}
	if running, pid, err := ProcessInfo(cfg); err == nil && running {
		// Process alive but API unreachable.
		snap.Status.Running = true
		snap.Status.PID = pid
	}
	snap.Status.LockFilePath = cfg.LockPath()
	if cfg.History.Enabled {
		snap.Status.HistoryDBPath = cfg.HistoryDBPath()
	}
	snap.Status.Roots = localRootStatuses(cfg)

	if cfg.History.Enabled && !snap.Status.Running {
		queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		snap.PlayCounts = historyPlayCounts(queryCtx, cfg)
	}
	return snap, nil
}

// ProcessInfo reports whether a daemon process is alive according to the
// PID file, along with the recorded PID.
func ProcessInfo(cfg *config.Config) (bool, int, error) {
	if cfg == nil {
		return false, 0, errors.New("configuration not available")
	}
	pid, err := readPIDFile(cfg.PIDPath())
	if err != nil {
		return false, 0, err
	}
	if pid <= 0 {
		return false, 0, nil
	}
	if !processAlive(pid) {
		return false, pid, nil
	}
	return true, pid, nil
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read pid file %q: %w", path, err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0, nil
	}
	pid, err := strconv.Atoi(text)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("malformed pid file %q: %q", path, text)
	}
	return pid, nil
}

// processAlive probes pid with signal 0. EPERM still means the process
// exists, just under another owner.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}

// localRootStatuses probes the configured roots directly. Free-space
// figures are left zero; only the live daemon reports those.
func localRootStatuses(cfg *config.Config) []api.RootStatus {
	disabled := make(map[string]bool, len(cfg.Library.DisabledRoots))
	for _, root := range cfg.Library.DisabledRoots {
		disabled[filepath.Clean(root)] = true
	}
	statuses := make([]api.RootStatus, 0, len(cfg.Library.Roots))
	for _, root := range cfg.Library.Roots {
		root = filepath.Clean(root)
		_, err := os.Stat(root)
		statuses = append(statuses, api.RootStatus{
			Path:      root,
			Enabled:   !disabled[root],
			Available: err == nil,
		})
	}
	return statuses
}

func historyPlayCounts(ctx context.Context, cfg *config.Config) map[media.Kind]int {
	store, err := history.Open(cfg)
	if err != nil {
		return nil
	}
	defer store.Close()
	counts, err := store.CountsByKind(ctx)
	if err != nil {
		return nil
	}
	return counts
}
