package pool

import (
	"context"
	"sync/atomic"
	"time"

	"medley/internal/engine"
	"medley/internal/media"
)

// EngineID identifies one engine for the lifetime of its handle.
type EngineID string

// Handle is the caller-side reference to an engine living on a pool
// worker. State reads are served locally from a mirrored cell; every
// mutation travels to the owning worker as a message. The handle stays
// valid until Close.
type Handle struct {
	id      EngineID
	path    string
	kind    media.Kind
	pool    *Pool
	state   atomic.Int32
	events  chan engine.Event
	dropped atomic.Uint64
	closed  atomic.Bool
}

func (h *Handle) ID() EngineID     { return h.id }
func (h *Handle) Path() string     { return h.path }
func (h *Handle) Kind() media.Kind { return h.kind }

// State returns the last lifecycle state the owning worker observed.
// Immediately after Create this is StateNull; once a SetState call's
// result resolves, State reflects at least that target.
func (h *Handle) State() engine.State {
	return engine.State(h.state.Load())
}

// Events is the handle's pipeline-level event stream. The channel is
// closed when the engine is disposed. Slow consumers lose events rather
// than stalling the worker; DroppedEvents counts the losses.
func (h *Handle) Events() <-chan engine.Event {
	return h.events
}

func (h *Handle) DroppedEvents() uint64 {
	return h.dropped.Load()
}

// SetState asks the owning worker to drive the engine to target and
// waits for the outcome.
func (h *Handle) SetState(ctx context.Context, target engine.State) error {
	if h.closed.Load() {
		return ErrHandleClosed
	}
	reply := make(chan error, 1)
	if err := h.pool.dispatch(h.id, cmdSetState{id: h.id, target: target, reply: reply}); err != nil {
		return err
	}
	return await(ctx, reply)
}

// Seek repositions playback and applies a new rate in one operation.
func (h *Handle) Seek(ctx context.Context, position time.Duration, rate float64) error {
	if h.closed.Load() {
		return ErrHandleClosed
	}
	reply := make(chan error, 1)
	if err := h.pool.dispatch(h.id, cmdSeek{id: h.id, position: position, rate: rate, reply: reply}); err != nil {
		return err
	}
	return await(ctx, reply)
}

// Resize hints the video surface size. It does not wait for the engine
// to apply it.
func (h *Handle) Resize(width, height int) error {
	if h.closed.Load() {
		return ErrHandleClosed
	}
	return h.pool.dispatch(h.id, cmdResize{id: h.id, width: width, height: height})
}

// Close disposes the engine on its owning worker. The first call wins;
// later calls return nil without touching the pool. The disposal still
// completes even if ctx expires first.
func (h *Handle) Close(ctx context.Context) error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	reply := make(chan error, 1)
	if err := h.pool.dispatch(h.id, cmdClose{id: h.id, reply: reply}); err != nil {
		return err
	}
	return await(ctx, reply)
}

// await joins a one-shot reply with context cancellation. Replies are
// buffered, so abandoning one never blocks the worker.
func await(ctx context.Context, reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
