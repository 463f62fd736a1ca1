package pool_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"medley/internal/engine"
	"medley/internal/engine/enginetest"
	"medley/internal/logging"
	"medley/internal/media"
	"medley/internal/pool"
	"medley/internal/testsupport"
)

func newPool(t *testing.T, factory *enginetest.Factory, opts pool.Options) *pool.Pool {
	t.Helper()
	p := pool.New(factory, logging.NewNop(), opts)
	t.Cleanup(p.Stop)
	return p
}

func mustCreate(t *testing.T, p *pool.Pool, path string) *pool.Handle {
	t.Helper()
	handle, err := p.Create(context.Background(), path, media.KindVideo)
	if err != nil {
		t.Fatalf("Create(%s): %v", path, err)
	}
	return handle
}

func receiveEvent(t *testing.T, handle *pool.Handle) engine.Event {
	t.Helper()
	select {
	case ev, ok := <-handle.Events():
		if !ok {
			t.Fatal("event stream closed while waiting for an event")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event arrived")
	}
	return engine.Event{}
}

func TestCreateBuildsEngineOnWorker(t *testing.T) {
	factory := enginetest.NewFactory()
	p := newPool(t, factory, pool.Options{})

	handle := mustCreate(t, p, "/lib/a.mkv")

	if handle.Path() != "/lib/a.mkv" {
		t.Errorf("Path() = %q", handle.Path())
	}
	if handle.Kind() != media.KindVideo {
		t.Errorf("Kind() = %q", handle.Kind())
	}
	if got := handle.State(); got != engine.StateNull {
		t.Errorf("fresh handle state = %s, want null", got)
	}
	if factory.Created() != 1 {
		t.Errorf("factory built %d engines, want 1", factory.Created())
	}
	if p.Active() != 1 {
		t.Errorf("Active() = %d, want 1", p.Active())
	}
}

func TestWorkersServeIndependently(t *testing.T) {
	factory := enginetest.NewFactory()
	p := newPool(t, factory, pool.Options{Workers: 2})
	release := factory.BlockPath("/lib/slow.mkv")
	defer release()

	slowDone := make(chan error, 1)
	go func() {
		_, err := p.Create(context.Background(), "/lib/slow.mkv", media.KindVideo)
		slowDone <- err
	}()

	// The second create lands on the other worker, so a stuck
	// construction must not delay it.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := p.Create(ctx, "/lib/fast.mkv", media.KindVideo); err != nil {
		t.Fatalf("fast create stalled behind slow one: %v", err)
	}

	release()
	if err := <-slowDone; err != nil {
		t.Fatalf("slow create: %v", err)
	}
}

func TestStateMirrorFollowsCommands(t *testing.T) {
	factory := enginetest.NewFactory()
	p := newPool(t, factory, pool.Options{})
	handle := mustCreate(t, p, "/lib/a.mkv")
	ctx := context.Background()

	if err := handle.SetState(ctx, engine.StatePaused); err != nil {
		t.Fatalf("SetState(paused): %v", err)
	}
	if got := handle.State(); got != engine.StatePaused {
		t.Errorf("state after paused resolved = %s, want paused", got)
	}

	if err := handle.SetState(ctx, engine.StatePlaying); err != nil {
		t.Fatalf("SetState(playing): %v", err)
	}
	if got := handle.State(); got != engine.StatePlaying {
		t.Errorf("state after playing resolved = %s, want playing", got)
	}
}

func TestEventsForwardedInOrder(t *testing.T) {
	factory := enginetest.NewFactory()
	p := newPool(t, factory, pool.Options{})
	handle := mustCreate(t, p, "/lib/a.mkv")

	fake, ok := factory.Engine("/lib/a.mkv")
	if !ok {
		t.Fatal("fake engine not recorded")
	}
	fake.EmitError("decode failed")
	fake.EmitEndOfStream()

	first := receiveEvent(t, handle)
	if first.Type != engine.EventError {
		t.Fatalf("first event = %s, want error", first.Type)
	}
	if first.Err == nil || !strings.Contains(first.Err.Error(), "decode failed") {
		t.Errorf("error event carries %v", first.Err)
	}
	second := receiveEvent(t, handle)
	if second.Type != engine.EventEndOfStream {
		t.Errorf("second event = %s, want end-of-stream", second.Type)
	}
}

func TestSelfTransitionUpdatesMirror(t *testing.T) {
	factory := enginetest.NewFactory()
	p := newPool(t, factory, pool.Options{})
	handle := mustCreate(t, p, "/lib/a.mkv")

	fake, _ := factory.Engine("/lib/a.mkv")
	fake.QueueEvent(engine.Event{
		Type: engine.EventStateChanged,
		From: engine.StateNull,
		To:   engine.StatePlaying,
	})

	ev := receiveEvent(t, handle)
	if ev.Type != engine.EventStateChanged || ev.To != engine.StatePlaying {
		t.Fatalf("event = %+v, want state change to playing", ev)
	}
	testsupport.Eventually(t, func() bool {
		return handle.State() == engine.StatePlaying
	}, "mirror never reflected the engine's own transition")
}

func TestCreateFailureLeavesNothingBehind(t *testing.T) {
	factory := enginetest.NewFactory()
	p := newPool(t, factory, pool.Options{})
	factory.FailPath("/lib/bad.mkv", errors.New("no such codec"))

	_, err := p.Create(context.Background(), "/lib/bad.mkv", media.KindVideo)
	if err == nil || !strings.Contains(err.Error(), "no such codec") {
		t.Fatalf("Create error = %v, want construction failure", err)
	}
	if p.Active() != 0 {
		t.Errorf("Active() = %d after failed create, want 0", p.Active())
	}
	if factory.Created() != 0 {
		t.Errorf("factory recorded %d engines, want 0", factory.Created())
	}
}

func TestCloseDisposesEngine(t *testing.T) {
	factory := enginetest.NewFactory()
	p := newPool(t, factory, pool.Options{})
	handle := mustCreate(t, p, "/lib/a.mkv")
	fake, _ := factory.Engine("/lib/a.mkv")
	ctx := context.Background()

	if err := handle.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !fake.Closed() {
		t.Error("engine not released on close")
	}
	states := fake.RequestedStates()
	if len(states) == 0 || states[len(states)-1] != engine.StateNull {
		t.Errorf("requested states %v, want trailing null", states)
	}
	if _, ok := <-handle.Events(); ok {
		t.Error("event stream still open after close")
	}
	if p.Active() != 0 {
		t.Errorf("Active() = %d after close, want 0", p.Active())
	}

	if err := handle.Close(ctx); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
	if err := handle.SetState(ctx, engine.StatePlaying); !errors.Is(err, pool.ErrHandleClosed) {
		t.Errorf("SetState after close = %v, want ErrHandleClosed", err)
	}
}

func TestStopDisposesAllEngines(t *testing.T) {
	factory := enginetest.NewFactory()
	p := newPool(t, factory, pool.Options{})
	for _, path := range []string{"/lib/a.mkv", "/lib/b.mkv", "/lib/c.mkv"} {
		mustCreate(t, p, path)
	}

	p.Stop()

	for _, fake := range factory.Engines() {
		if !fake.Closed() {
			t.Errorf("engine %s survived Stop", fake.Path())
		}
	}
	if _, err := p.Create(context.Background(), "/lib/d.mkv", media.KindVideo); !errors.Is(err, pool.ErrPoolClosed) {
		t.Errorf("Create after Stop = %v, want ErrPoolClosed", err)
	}
	if p.Active() != 0 {
		t.Errorf("Active() = %d after Stop, want 0", p.Active())
	}
}

func TestSeekReachesEngine(t *testing.T) {
	factory := enginetest.NewFactory()
	p := newPool(t, factory, pool.Options{})
	handle := mustCreate(t, p, "/lib/a.mkv")
	fake, _ := factory.Engine("/lib/a.mkv")
	ctx := context.Background()

	if err := handle.Seek(ctx, 90*time.Second, 2.0); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	seeks := fake.SeekCalls()
	if len(seeks) != 1 || seeks[0].Position != 90*time.Second || seeks[0].Rate != 2.0 {
		t.Errorf("seek calls = %+v", seeks)
	}

	fake.FailSeek(errors.New("stream not seekable"))
	if err := handle.Seek(ctx, time.Second, 1.0); err == nil || !strings.Contains(err.Error(), "not seekable") {
		t.Errorf("failed seek = %v", err)
	}
}

func TestResizeHintReachesEngine(t *testing.T) {
	factory := enginetest.NewFactory()
	p := newPool(t, factory, pool.Options{})
	handle := mustCreate(t, p, "/lib/a.mkv")
	fake, _ := factory.Engine("/lib/a.mkv")

	if err := handle.Resize(1280, 720); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	testsupport.Eventually(t, func() bool {
		resizes := fake.Resizes()
		return len(resizes) == 1 && resizes[0] == enginetest.Resize{Width: 1280, Height: 720}
	}, "resize hint never reached the engine")
}

func TestSlowConsumerLosesEventsNotWorker(t *testing.T) {
	factory := enginetest.NewFactory()
	p := newPool(t, factory, pool.Options{
		EventBuffer:  1,
		PollInterval: 100 * time.Millisecond,
	})
	handle := mustCreate(t, p, "/lib/a.mkv")
	fake, _ := factory.Engine("/lib/a.mkv")

	fake.EmitError("one")
	fake.EmitError("two")
	fake.EmitError("three")

	testsupport.Eventually(t, func() bool {
		return handle.DroppedEvents() == 2
	}, "overflow events were not counted as dropped")

	// The oldest event survives in the stream; the overflow was discarded.
	ev := receiveEvent(t, handle)
	if ev.Type != engine.EventError || ev.Err == nil || !strings.Contains(ev.Err.Error(), "one") {
		t.Fatalf("surviving event = %+v, want the first error", ev)
	}
}

func TestCreateAutoStartsAndExplicitStartIsNoop(t *testing.T) {
	factory := enginetest.NewFactory()
	p := newPool(t, factory, pool.Options{})

	mustCreate(t, p, "/lib/a.mkv")
	if err := p.Start(context.Background()); err != nil {
		t.Errorf("Start on running pool = %v, want nil", err)
	}
}

func TestStartAfterStop(t *testing.T) {
	factory := enginetest.NewFactory()
	p := pool.New(factory, logging.NewNop(), pool.Options{})
	p.Stop()

	if err := p.Start(context.Background()); !errors.Is(err, pool.ErrPoolClosed) {
		t.Errorf("Start after Stop = %v, want ErrPoolClosed", err)
	}
}

func TestAbandonedCreateRetiresEngine(t *testing.T) {
	factory := enginetest.NewFactory()
	p := newPool(t, factory, pool.Options{})
	release := factory.BlockPath("/lib/slow.mkv")
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Create(ctx, "/lib/slow.mkv", media.KindVideo); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Create = %v, want deadline exceeded", err)
	}

	release()
	testsupport.Eventually(t, func() bool {
		fake, ok := factory.Engine("/lib/slow.mkv")
		return ok && fake.Closed() && p.Active() == 0
	}, "abandoned create left its engine alive")
}
