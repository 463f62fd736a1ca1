// Package enginetest provides a scriptable in-memory engine and factory
// for exercising the worker pool and the acquisition pipeline without
// touching a real media stack.
package enginetest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"medley/internal/engine"
	"medley/internal/media"
)

// Factory constructs fake engines and remembers every construction.
type Factory struct {
	mu       sync.Mutex
	engines  []*Engine
	failures map[string]error
	gates    map[string]chan struct{}
}

func NewFactory() *Factory {
	return &Factory{
		failures: make(map[string]error),
		gates:    make(map[string]chan struct{}),
	}
}

// FailPath makes construction for path fail with err.
func (f *Factory) FailPath(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[path] = err
}

// BlockPath makes construction for path block until the returned
// release function is called.
func (f *Factory) BlockPath(path string) (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gates[path] = gate
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() { close(gate) })
	}
}

func (f *Factory) New(path string, kind media.Kind) (engine.Engine, error) {
	f.mu.Lock()
	gate := f.gates[path]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failures[path]; err != nil {
		return nil, err
	}
	e := &Engine{path: path, kind: kind}
	f.engines = append(f.engines, e)
	return e, nil
}

// Created reports how many engines have been constructed.
func (f *Factory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.engines)
}

// Engines returns every constructed engine in construction order.
func (f *Factory) Engines() []*Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	engines := make([]*Engine, len(f.engines))
	copy(engines, f.engines)
	return engines
}

// Engine returns the most recently constructed engine for path.
func (f *Factory) Engine(path string) (*Engine, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.engines) - 1; i >= 0; i-- {
		if f.engines[i].path == path {
			return f.engines[i], true
		}
	}
	return nil, false
}

// SeekCall records one Seek invocation.
type SeekCall struct {
	Position time.Duration
	Rate     float64
}

// Resize records one SetVideoSize invocation.
type Resize struct {
	Width  int
	Height int
}

// Engine is a fake engine. Successful SetState calls transition
// immediately and queue the matching StateChanged event, so pool
// workers observe the same event flow a real pipeline produces.
type Engine struct {
	mu         sync.Mutex
	path       string
	kind       media.Kind
	state      engine.State
	requested  []engine.State
	events     []engine.Event
	stateFails map[engine.State]error
	seeks      []SeekCall
	seekErr    error
	resizes    []Resize
	closed     bool
}

func (e *Engine) Path() string     { return e.path }
func (e *Engine) Kind() media.Kind { return e.kind }

// State returns the current lifecycle state.
func (e *Engine) State() engine.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// RequestedStates returns every target successfully applied, in order.
func (e *Engine) RequestedStates() []engine.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	states := make([]engine.State, len(e.requested))
	copy(states, e.requested)
	return states
}

func (e *Engine) SeekCalls() []SeekCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	seeks := make([]SeekCall, len(e.seeks))
	copy(seeks, e.seeks)
	return seeks
}

func (e *Engine) Resizes() []Resize {
	e.mu.Lock()
	defer e.mu.Unlock()
	resizes := make([]Resize, len(e.resizes))
	copy(resizes, e.resizes)
	return resizes
}

func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// FailSetState makes the next SetState(target) return err without
// transitioning.
func (e *Engine) FailSetState(target engine.State, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stateFails == nil {
		e.stateFails = make(map[engine.State]error)
	}
	e.stateFails[target] = err
}

// FailSeek makes subsequent Seek calls return err.
func (e *Engine) FailSeek(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seekErr = err
}

// QueueEvent appends an event for the next PollEvent.
func (e *Engine) QueueEvent(ev engine.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

// EmitError queues a runtime pipeline error.
func (e *Engine) EmitError(msg string) {
	e.QueueEvent(engine.Event{Type: engine.EventError, Err: errors.New(msg)})
}

// EmitEndOfStream queues an end-of-stream event.
func (e *Engine) EmitEndOfStream() {
	e.QueueEvent(engine.Event{Type: engine.EventEndOfStream})
}

func (e *Engine) SetState(target engine.State) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("engine closed: %s", e.path)
	}
	if err := e.stateFails[target]; err != nil {
		delete(e.stateFails, target)
		return err
	}
	from := e.state
	e.state = target
	e.requested = append(e.requested, target)
	e.events = append(e.events, engine.Event{
		Type: engine.EventStateChanged,
		From: from,
		To:   target,
	})
	return nil
}

func (e *Engine) Seek(position time.Duration, rate float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("engine closed: %s", e.path)
	}
	if e.seekErr != nil {
		return e.seekErr
	}
	e.seeks = append(e.seeks, SeekCall{Position: position, Rate: rate})
	return nil
}

func (e *Engine) SetVideoSize(width, height int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("engine closed: %s", e.path)
	}
	e.resizes = append(e.resizes, Resize{Width: width, Height: height})
	return nil
}

func (e *Engine) PollEvent() (engine.Event, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.events) == 0 {
		return engine.Event{}, false
	}
	ev := e.events[0]
	e.events = e.events[1:]
	return ev, true
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
