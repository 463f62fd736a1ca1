package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"medley/internal/logging"
	"medley/internal/rootset"
	"medley/internal/testsupport"
)

func TestRootMonitorLifecycle(t *testing.T) {
	t.Run("nil monitor is inert", func(t *testing.T) {
		var m *rootMonitor
		if err := m.Start(context.Background()); err != nil {
			t.Errorf("Start on nil monitor: %v", err)
		}
		m.Stop()
		m.Watch(t.TempDir())
		if m.Running() {
			t.Error("nil monitor reports running")
		}
	})

	t.Run("start stop restart", func(t *testing.T) {
		m := newRootMonitor(rootset.New([]string{t.TempDir()}, nil), logging.NewNop(), nil)
		if m.Running() {
			t.Error("monitor running before start")
		}
		if err := m.Start(context.Background()); err != nil {
			t.Fatalf("start: %v", err)
		}
		if !m.Running() {
			t.Error("monitor not running after start")
		}
		if err := m.Start(context.Background()); err == nil {
			t.Error("second start succeeded, want error")
		}
		m.Stop()
		m.Stop()
		if m.Running() {
			t.Error("monitor still running after stop")
		}
		if err := m.Start(context.Background()); err != nil {
			t.Fatalf("restart: %v", err)
		}
		m.Stop()
	})
}

func TestRootMonitorWatchTargetsDeduplicated(t *testing.T) {
	base := t.TempDir()
	first := filepath.Join(base, "movies")
	second := filepath.Join(base, "shows")
	elsewhere := filepath.Join(t.TempDir(), "music")

	m := newRootMonitor(rootset.New([]string{first, second, elsewhere}, nil), logging.NewNop(), nil)
	targets := m.watchTargets()
	if len(targets) != 2 {
		t.Fatalf("watch targets = %v, want two parent directories", targets)
	}
	if targets[0] != base || targets[1] != filepath.Dir(elsewhere) {
		t.Errorf("watch targets = %v, want [%s %s]", targets, base, filepath.Dir(elsewhere))
	}
}

func TestRootMonitorRelevant(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "media")
	m := newRootMonitor(rootset.New([]string{root}, nil), logging.NewNop(), nil)

	cases := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{"root created", fsnotify.Event{Name: root, Op: fsnotify.Create}, true},
		{"root removed", fsnotify.Event{Name: root, Op: fsnotify.Remove}, true},
		{"root renamed", fsnotify.Event{Name: root, Op: fsnotify.Rename}, true},
		{"root with trailing slash", fsnotify.Event{Name: root + string(filepath.Separator), Op: fsnotify.Remove}, true},
		{"write to root ignored", fsnotify.Event{Name: root, Op: fsnotify.Write}, false},
		{"chmod ignored", fsnotify.Event{Name: root, Op: fsnotify.Chmod}, false},
		{"sibling churn ignored", fsnotify.Event{Name: filepath.Join(base, "scratch"), Op: fsnotify.Remove}, false},
		{"file inside root ignored", fsnotify.Event{Name: filepath.Join(root, "clip.mp4"), Op: fsnotify.Create}, false},
	}
	for _, tc := range cases {
		if got := m.relevant(tc.event); got != tc.want {
			t.Errorf("%s: relevant = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestRootMonitorFiresOnRootRemoval(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "media")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}

	var fires atomic.Int64
	handler := func(ctx context.Context, trigger string) {
		if trigger == "fsnotify" {
			fires.Add(1)
		}
	}
	m := newRootMonitor(rootset.New([]string{root}, nil), logging.NewNop(), handler)
	m.debounce = 50 * time.Millisecond
	m.interval = time.Hour
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(m.Stop)

	if err := os.Remove(root); err != nil {
		t.Fatalf("remove root: %v", err)
	}
	testsupport.Eventually(t, func() bool {
		return fires.Load() >= 1
	}, "root removal never triggered a probe")
}

func TestRevalidateRootsTogglesAvailability(t *testing.T) {
	base := t.TempDir()
	stable := filepath.Join(base, "stable")
	flaky := filepath.Join(base, "flaky")
	cfg := testsupport.NewConfig(t, testsupport.WithRoots(stable, flaky))
	d := newTestDaemon(t, cfg)
	ctx := context.Background()

	if err := os.RemoveAll(flaky); err != nil {
		t.Fatal(err)
	}
	d.revalidateRoots(ctx, "test")
	if h := rootByPath(t, d.RootHealth(), flaky); h.Enabled || h.Available {
		t.Errorf("vanished root state = enabled %v available %v, want disabled and unavailable", h.Enabled, h.Available)
	}
	if h := rootByPath(t, d.RootHealth(), stable); !h.Enabled || !h.Available {
		t.Errorf("untouched root state = enabled %v available %v, want enabled and available", h.Enabled, h.Available)
	}

	// The root coming back reverses an automatic disable.
	if err := os.MkdirAll(flaky, 0o755); err != nil {
		t.Fatal(err)
	}
	d.revalidateRoots(ctx, "test")
	if h := rootByPath(t, d.RootHealth(), flaky); !h.Enabled || !h.Available {
		t.Errorf("returned root state = enabled %v available %v, want enabled and available", h.Enabled, h.Available)
	}
}

func TestRevalidateRootsRespectsManualDisable(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "media")
	cfg := testsupport.NewConfig(t, testsupport.WithRoots(root))
	d := newTestDaemon(t, cfg)
	ctx := context.Background()

	if err := d.DisableRoot(root); err != nil {
		t.Fatalf("disable root: %v", err)
	}
	d.revalidateRoots(ctx, "test")
	if h := rootByPath(t, d.RootHealth(), root); h.Enabled {
		t.Error("revalidation re-enabled a manually disabled root")
	}
}

func rootByPath(t *testing.T, healths []RootHealth, path string) RootHealth {
	t.Helper()
	for _, h := range healths {
		if h.Path == path {
			return h
		}
	}
	t.Fatalf("root %q not in %v", path, healths)
	return RootHealth{}
}
