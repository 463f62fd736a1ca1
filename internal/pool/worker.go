package pool

import (
	"fmt"
	"log/slog"
	"time"

	"medley/internal/engine"
	"medley/internal/logging"
)

// command is one message on a worker's mailbox.
type command interface{}

type cmdCreate struct {
	handle *Handle
	reply  chan error
}

type cmdSetState struct {
	id     EngineID
	target engine.State
	reply  chan error
}

type cmdSeek struct {
	id       EngineID
	position time.Duration
	rate     float64
	reply    chan error
}

type cmdResize struct {
	id     EngineID
	width  int
	height int
}

type cmdClose struct {
	id    EngineID
	reply chan error
}

type ownedEngine struct {
	engine engine.Engine
	handle *Handle
}

// worker owns a set of engines and serializes every operation on them
// onto its goroutine. Engines never migrate between workers.
type worker struct {
	index   int
	factory engine.Factory
	tick    time.Duration
	unroute func(EngineID)
	logger  *slog.Logger
	mailbox *mailbox
	engines map[EngineID]*ownedEngine
}

func newWorker(index int, factory engine.Factory, tick time.Duration, unroute func(EngineID), logger *slog.Logger) *worker {
	return &worker{
		index:   index,
		factory: factory,
		tick:    tick,
		unroute: unroute,
		logger:  logger.With(logging.Int(logging.FieldWorker, index)),
		mailbox: newMailbox(),
		engines: make(map[EngineID]*ownedEngine),
	}
}

// run serves commands until the mailbox closes, polling owned engines
// for events between commands. All engines still owned when the mailbox
// drains are disposed before returning.
func (w *worker) run() {
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case cmd, ok := <-w.mailbox.out:
			if !ok {
				w.shutdown()
				return
			}
			w.serve(cmd)
		case <-ticker.C:
			w.pollEngines()
		}
	}
}

func (w *worker) serve(cmd command) {
	switch c := cmd.(type) {
	case cmdCreate:
		eng, err := w.factory.New(c.handle.path, c.handle.kind)
		if err != nil {
			c.reply <- fmt.Errorf("construct engine for %s: %w", c.handle.path, err)
			return
		}
		w.engines[c.handle.id] = &ownedEngine{engine: eng, handle: c.handle}
		c.reply <- nil
	case cmdSetState:
		owned := w.mustOwn(c.id)
		err := owned.engine.SetState(c.target)
		if err == nil {
			owned.handle.state.Store(int32(c.target))
		}
		c.reply <- err
	case cmdSeek:
		owned := w.mustOwn(c.id)
		c.reply <- owned.engine.Seek(c.position, c.rate)
	case cmdResize:
		owned := w.mustOwn(c.id)
		if err := owned.engine.SetVideoSize(c.width, c.height); err != nil {
			w.logger.Warn("resize hint rejected",
				logging.String(logging.FieldEngineID, string(c.id)),
				logging.Error(err),
			)
		}
	case cmdClose:
		owned := w.mustOwn(c.id)
		c.reply <- w.dispose(c.id, owned)
	default:
		panic(fmt.Sprintf("pool: unknown command %T on worker %d", cmd, w.index))
	}
}

// mustOwn resolves an engine this worker owns. The routing table and
// engine lifetime are one-to-one; a miss means the invariant is broken
// and continuing would operate on someone else's engine.
func (w *worker) mustOwn(id EngineID) *ownedEngine {
	owned, ok := w.engines[id]
	if !ok {
		panic(fmt.Sprintf("pool: engine %s is not owned by worker %d", id, w.index))
	}
	return owned
}

// dispose drives the engine down, releases it, and retires the handle.
func (w *worker) dispose(id EngineID, owned *ownedEngine) error {
	if err := owned.engine.SetState(engine.StateNull); err != nil {
		w.logger.Debug("drive to null before close",
			logging.String(logging.FieldEngineID, string(id)),
			logging.Error(err),
		)
	}
	err := owned.engine.Close()
	delete(w.engines, id)
	w.unroute(id)
	owned.handle.state.Store(int32(engine.StateNull))
	close(owned.handle.events)
	return err
}

func (w *worker) shutdown() {
	if len(w.engines) > 0 {
		w.logger.Debug("disposing engines at shutdown", logging.Int("count", len(w.engines)))
	}
	for id, owned := range w.engines {
		if err := w.dispose(id, owned); err != nil {
			w.logger.Warn("engine close failed during shutdown",
				logging.String(logging.FieldEngineID, string(id)),
				logging.Error(err),
			)
		}
	}
}

// pollEngines drains every owned engine's pending events, mirrors
// lifecycle transitions into the handle state cell, and forwards the
// events to the handle stream. A full stream drops the event rather
// than stalling the worker.
func (w *worker) pollEngines() {
	for _, owned := range w.engines {
		for {
			ev, ok := owned.engine.PollEvent()
			if !ok {
				break
			}
			if ev.Type == engine.EventStateChanged {
				owned.handle.state.Store(int32(ev.To))
			}
			select {
			case owned.handle.events <- ev:
			default:
				owned.handle.dropped.Add(1)
			}
		}
	}
}
