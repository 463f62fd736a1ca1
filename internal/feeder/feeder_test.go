package feeder_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"medley/internal/config"
	"medley/internal/dedup"
	"medley/internal/engine"
	"medley/internal/engine/enginetest"
	"medley/internal/feeder"
	"medley/internal/logging"
	"medley/internal/media"
	"medley/internal/pool"
	"medley/internal/rootset"
	"medley/internal/sampler"
	"medley/internal/testsupport"
)

type fixture struct {
	feeder  *feeder.Feeder
	factory *enginetest.Factory
	roots   *rootset.Set
	pool    *pool.Pool
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	logger := logging.NewNop()
	factory := enginetest.NewFactory()
	engines := pool.New(factory, logger, pool.Options{Workers: 2})
	t.Cleanup(engines.Stop)
	roots := rootset.New(cfg.Library.Roots, nil)
	smp := sampler.New(sampler.Options{Parallelism: 2, Logger: logger})
	cache := dedup.New(cfg.Supply.DedupCapacity)
	f := feeder.New(cfg, smp, cache, roots, engines, logger)
	t.Cleanup(f.Stop)
	return &fixture{feeder: f, factory: factory, roots: roots, pool: engines}
}

func (fx *fixture) start(t *testing.T) {
	t.Helper()
	if err := fx.feeder.Start(context.Background()); err != nil {
		t.Fatalf("start feeder: %v", err)
	}
}

func (fx *fixture) withdraw(t *testing.T, kinds ...media.Kind) feeder.Item {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	item, err := fx.feeder.Next(ctx, kinds...)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	return item
}

func TestFeederSuppliesPrerolledItems(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithSupply(4, 2, 100))
	root := testsupport.MediaRoot(cfg)
	paths := testsupport.WriteTree(t, root, "a.mp4", "b.mkv", filepath.Join("nested", "c.webm"))

	fx := newFixture(t, cfg)
	fx.start(t)

	testsupport.Eventually(t, func() bool {
		return fx.feeder.Status().ReadyCount >= 1
	}, "ready queue never filled")

	counters := fx.feeder.Status().Counters
	if counters.Video < 1 {
		t.Errorf("video counter = %d, want >= 1", counters.Video)
	}
	if counters.Image != 0 || counters.Audio != 0 {
		t.Errorf("unexpected non-video counts: %+v", counters)
	}

	want := make(map[string]bool, len(paths))
	for _, p := range paths {
		want[p] = true
	}
	seen := make(map[string]bool)
	for attempt := 0; attempt < 30 && len(seen) < len(want); attempt++ {
		item := fx.withdraw(t)
		if !want[item.Path] {
			t.Fatalf("withdrew unexpected path %s", item.Path)
		}
		if item.Kind != media.KindVideo {
			t.Errorf("item kind = %s, want video", item.Kind)
		}
		if item.Root != root {
			t.Errorf("item root = %s, want %s", item.Root, root)
		}
		if got := item.Handle.State(); got != engine.StatePaused {
			t.Errorf("withdrawn engine state = %s, want paused", got)
		}
		seen[item.Path] = true
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := item.Handle.Close(ctx); err != nil {
			t.Fatalf("close withdrawn handle: %v", err)
		}
		cancel()
	}
	if len(seen) != len(want) {
		t.Fatalf("saw %d distinct paths, want %d: %v", len(seen), len(want), seen)
	}
}

func TestNextKindFilterRequeuesOthers(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithSupply(4, 2, 100))
	root := testsupport.MediaRoot(cfg)
	testsupport.WriteTree(t, root, "clip.mp4", "still.png")

	fx := newFixture(t, cfg)
	fx.start(t)

	item := fx.withdraw(t, media.KindImage)
	if item.Kind != media.KindImage {
		t.Fatalf("filtered withdrawal kind = %s, want image", item.Kind)
	}
	item = fx.withdraw(t, media.KindVideo)
	if item.Kind != media.KindVideo {
		t.Fatalf("filtered withdrawal kind = %s, want video", item.Kind)
	}
}

func TestNextOnEmptyLibraryTimesOut(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithSupply(2, 1, 10))

	fx := newFixture(t, cfg)
	fx.start(t)

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	if _, err := fx.feeder.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("next on empty library = %v, want deadline exceeded", err)
	}
}

func TestDisableEvictsQueuedCandidates(t *testing.T) {
	base := t.TempDir()
	rootA := filepath.Join(base, "a")
	rootB := filepath.Join(base, "b")
	cfg := testsupport.NewConfig(t,
		testsupport.WithRoots(rootA, rootB),
		testsupport.WithSupply(8, 4, 100),
	)
	aPaths := testsupport.WriteTree(t, rootA, "a1.mp4", "a2.mp4")
	testsupport.WriteTree(t, rootB, "b1.mp4", "b2.mp4")

	fx := newFixture(t, cfg)
	fx.start(t)

	testsupport.Eventually(t, func() bool {
		for _, p := range aPaths {
			if _, ok := fx.factory.Engine(p); !ok {
				return false
			}
		}
		return true
	}, "candidates under root a never prerolled")

	if err := fx.roots.Disable(rootA); err != nil {
		t.Fatalf("disable root: %v", err)
	}

	testsupport.Eventually(t, func() bool {
		for _, eng := range fx.factory.Engines() {
			if strings.HasPrefix(eng.Path(), rootA) && !eng.Closed() {
				return false
			}
		}
		return true
	}, "evicted engines never closed")

	for {
		item, ok := fx.feeder.TryNext()
		if !ok {
			break
		}
		if !strings.HasPrefix(item.Path, rootB+string(filepath.Separator)) {
			t.Fatalf("withdrew %s after disabling %s", item.Path, rootA)
		}
	}
}

func TestConstructionFailureSkipsCandidate(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithSupply(4, 2, 100))
	root := testsupport.MediaRoot(cfg)
	paths := testsupport.WriteTree(t, root, "bad.mp4", "good.mp4")

	fx := newFixture(t, cfg)
	fx.factory.FailPath(paths[0], errors.New("no decoder"))
	fx.start(t)

	item := fx.withdraw(t)
	if item.Path != paths[1] {
		t.Fatalf("withdrew %s, want %s", item.Path, paths[1])
	}
	if _, ok := fx.factory.Engine(paths[0]); ok {
		t.Errorf("engine for failing path was constructed")
	}
}

func TestFullReadyQueueThrottlesPreroll(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithSupply(1, 1, 10))
	root := testsupport.MediaRoot(cfg)
	testsupport.WriteTree(t, root, "a.mp4", "b.mp4", "c.mp4", "d.mp4")

	fx := newFixture(t, cfg)
	fx.start(t)

	// One item in the ready queue and one prerolled engine held back.
	testsupport.Eventually(t, func() bool {
		return fx.feeder.Status().ReadyCount == 1 && fx.pool.Active() == 2
	}, "pipeline never reached steady state")
	time.Sleep(300 * time.Millisecond)
	if active := fx.pool.Active(); active != 2 {
		t.Fatalf("pool active = %d after settle, want 2", active)
	}

	item := fx.withdraw(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := item.Handle.Close(ctx); err != nil {
		t.Fatalf("close withdrawn handle: %v", err)
	}
	testsupport.Eventually(t, func() bool {
		return fx.feeder.Status().ReadyCount == 1
	}, "queue never refilled after withdrawal")
}

func TestResetRestocksSupply(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithSupply(4, 2, 50))
	root := testsupport.MediaRoot(cfg)
	testsupport.WriteTree(t, root, "a.mp4", "b.mp4")

	fx := newFixture(t, cfg)
	fx.start(t)

	testsupport.Eventually(t, func() bool {
		return fx.feeder.Status().ReadyCount >= 1
	}, "ready queue never filled")

	fx.feeder.Reset()

	testsupport.Eventually(t, func() bool {
		for _, eng := range fx.factory.Engines() {
			if eng.Closed() {
				return true
			}
		}
		return false
	}, "reset never disposed a queued engine")
	testsupport.Eventually(t, func() bool {
		return fx.feeder.Status().ReadyCount >= 1
	}, "supply never recovered after reset")
}

func TestStopDisposesSupply(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithSupply(4, 2, 50))
	root := testsupport.MediaRoot(cfg)
	testsupport.WriteTree(t, root, "a.mp4", "b.mp4", "c.mp4")

	fx := newFixture(t, cfg)
	fx.start(t)

	testsupport.Eventually(t, func() bool {
		return fx.feeder.Status().ReadyCount >= 2
	}, "ready queue never filled")

	fx.feeder.Stop()

	if _, err := fx.feeder.Next(context.Background()); !errors.Is(err, feeder.ErrStopped) {
		t.Fatalf("next after stop = %v, want ErrStopped", err)
	}
	if total := fx.feeder.Status().Counters.Total(); total != 0 {
		t.Errorf("counters total = %d after stop, want 0", total)
	}
	testsupport.Eventually(t, func() bool {
		return fx.pool.Active() == 0
	}, "engines survived feeder stop")
}

func TestLifecycleFlags(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithSupply(2, 1, 10))

	fx := newFixture(t, cfg)
	fx.start(t)

	if err := fx.feeder.Start(context.Background()); err == nil {
		t.Fatal("second start succeeded, want error")
	}
	fx.feeder.Stop()
	fx.feeder.Stop()
	if err := fx.feeder.Start(context.Background()); !errors.Is(err, feeder.ErrStopped) {
		t.Fatalf("start after stop = %v, want ErrStopped", err)
	}
	if _, ok := fx.feeder.TryNext(); ok {
		t.Fatal("try-next after stop returned an item")
	}
}
