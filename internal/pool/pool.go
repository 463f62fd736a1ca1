// Package pool multiplexes live media engines across a fixed set of
// dedicated worker goroutines. Engines are constructed on a worker
// picked round-robin at create time and never leave it; all commands
// for an engine are serialized through its worker's mailbox, so engine
// implementations need no locking of their own.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"medley/internal/engine"
	"medley/internal/logging"
	"medley/internal/media"
)

// DefaultWorkers is the number of engine workers when Options leaves it
// unset.
const DefaultWorkers = 3

const (
	defaultPollInterval = 10 * time.Millisecond
	defaultEventBuffer  = 64
)

var (
	// ErrPoolClosed is returned for any operation after Stop.
	ErrPoolClosed = errors.New("engine pool closed")
	// ErrHandleClosed is returned for operations on a closed handle.
	ErrHandleClosed = errors.New("engine handle closed")
)

// Options tunes a Pool. Zero values select defaults.
type Options struct {
	Workers      int
	PollInterval time.Duration
	EventBuffer  int
}

// Pool is the engine worker pool service.
type Pool struct {
	factory     engine.Factory
	logger      *slog.Logger
	size        int
	tick        time.Duration
	eventBuffer int

	next atomic.Uint64

	mu      sync.Mutex
	started bool
	closed  bool
	routing map[EngineID]int
	workers []*worker
	wg      sync.WaitGroup
	done    chan struct{}
}

// New builds a pool. Workers do not run until Start or the first
// Create.
func New(factory engine.Factory, logger *slog.Logger, opts Options) *Pool {
	size := opts.Workers
	if size <= 0 {
		size = DefaultWorkers
	}
	tick := opts.PollInterval
	if tick <= 0 {
		tick = defaultPollInterval
	}
	eventBuffer := opts.EventBuffer
	if eventBuffer <= 0 {
		eventBuffer = defaultEventBuffer
	}
	return &Pool{
		factory:     factory,
		logger:      logging.NewComponentLogger(logger, "pool"),
		size:        size,
		tick:        tick,
		eventBuffer: eventBuffer,
		routing:     make(map[EngineID]int),
		done:        make(chan struct{}),
	}
}

// Start launches the workers and ties the pool's lifetime to ctx.
// Starting a started pool is a no-op.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	already := p.started
	if !already {
		p.startLocked()
	}
	p.mu.Unlock()
	if already {
		return nil
	}

	go func() {
		select {
		case <-ctx.Done():
			p.Stop()
		case <-p.done:
		}
	}()
	return nil
}

func (p *Pool) startLocked() {
	p.workers = make([]*worker, p.size)
	for i := range p.workers {
		w := newWorker(i, p.factory, p.tick, p.unroute, p.logger)
		p.workers[i] = w
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.run()
		}()
	}
	p.started = true
	p.logger.Debug("pool started", logging.Int("workers", p.size))
}

// Stop closes every mailbox, waits for queued commands to be served,
// and disposes all engines the workers still own. Stop is idempotent.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	started := p.started
	workers := p.workers
	p.mu.Unlock()

	if started {
		for _, w := range workers {
			w.mailbox.close()
		}
		p.wg.Wait()
	}
	close(p.done)
	p.logger.Debug("pool stopped")
}

// Create constructs an engine for path on a round-robin worker and
// returns its handle. An unstarted pool starts on first use. If ctx
// expires before construction finishes, the engine is disposed as soon
// as it materializes.
func (p *Pool) Create(ctx context.Context, path string, kind media.Kind) (*Handle, error) {
	if err := p.ensureStarted(); err != nil {
		return nil, err
	}

	handle := &Handle{
		id:     EngineID(uuid.NewString()),
		path:   path,
		kind:   kind,
		pool:   p,
		events: make(chan engine.Event, p.eventBuffer),
	}
	index := int(p.next.Add(1)-1) % p.size

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.routing[handle.id] = index
	p.mu.Unlock()

	reply := make(chan error, 1)
	if err := p.dispatch(handle.id, cmdCreate{handle: handle, reply: reply}); err != nil {
		p.unroute(handle.id)
		return nil, err
	}

	select {
	case err := <-reply:
		if err != nil {
			p.unroute(handle.id)
			return nil, err
		}
		return handle, nil
	case <-ctx.Done():
		// Construction may still complete on the worker; retire the
		// engine as soon as it does.
		go func() {
			if err := <-reply; err != nil {
				p.unroute(handle.id)
				return
			}
			handle.closed.Store(true)
			discard := make(chan error, 1)
			_ = p.dispatch(handle.id, cmdClose{id: handle.id, reply: discard})
		}()
		return nil, ctx.Err()
	}
}

func (p *Pool) ensureStarted() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	if !p.started {
		p.startLocked()
	}
	return nil
}

// dispatch routes a command to the worker owning id. A missing routing
// entry on an open pool means the caller holds an identifier the pool
// never issued, or kept one across disposal; both break the 1:1
// routing/lifetime invariant.
func (p *Pool) dispatch(id EngineID, cmd command) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	index, ok := p.routing[id]
	if !ok {
		panic(fmt.Sprintf("pool: no routing entry for engine %s", id))
	}
	p.workers[index].mailbox.send(cmd)
	return nil
}

func (p *Pool) unroute(id EngineID) {
	p.mu.Lock()
	delete(p.routing, id)
	p.mu.Unlock()
}

// Active reports how many engines the pool currently routes.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.routing)
}
