// Package player runs the built-in playback front end: a loop that
// withdraws prerolled items from the acquisition pipeline, drives their
// engines to Playing, and advances on end-of-stream, error, or skip.
// Speed changes reposition the stream with a rate-scaled wall-clock
// position estimate; finished plays are recorded into history.
package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"medley/internal/config"
	"medley/internal/engine"
	"medley/internal/feeder"
	"medley/internal/history"
	"medley/internal/logging"
	"medley/internal/media"
)

// ErrNotPlaying is returned by playback commands when no item is active.
var ErrNotPlaying = errors.New("no active playback")

type command interface{}

type cmdPause struct{ reply chan error }
type cmdResume struct{ reply chan error }
type cmdSkip struct{ reply chan error }
type cmdSetSpeed struct {
	speed media.Speed
	reply chan error
}

// State is the front end's coarse position in its loop.
type State string

const (
	StateStopped State = "stopped"
	StateIdle    State = "idle"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
)

// Status is a point-in-time snapshot of the player.
type Status struct {
	Running   bool          `json:"running"`
	State     State         `json:"state"`
	Path      string        `json:"path,omitempty"`
	Kind      media.Kind    `json:"kind,omitempty"`
	Speed     string        `json:"speed"`
	Position  time.Duration `json:"position_ns"`
	StartedAt time.Time     `json:"started_at,omitzero"`
}

// Controller is the playback front end service. All engine interaction
// happens on the run loop; commands are messages into it.
type Controller struct {
	cfg      *config.Config
	feeder   *feeder.Feeder
	history  *history.Store
	logger   *slog.Logger
	commands chan command

	imageDuration time.Duration

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	speed   media.Speed

	status statusCell
}

// statusCell holds the mutable snapshot the run loop publishes.
type statusCell struct {
	mu        sync.Mutex
	state     State
	path      string
	kind      media.Kind
	speed     media.Speed
	startedAt time.Time

	// Wall-clock position estimate: accumulated progress plus, while
	// playing, rate-scaled time since segmentStart.
	accumulated  time.Duration
	segmentStart time.Time
	rate         float64
	running      bool
}

// New builds a Controller. store may be nil when history is disabled.
func New(cfg *config.Config, supply *feeder.Feeder, store *history.Store, logger *slog.Logger) (*Controller, error) {
	speed, err := media.ParseSpeed(cfg.Playback.Speed)
	if err != nil {
		return nil, fmt.Errorf("playback.speed: %w", err)
	}
	return &Controller{
		cfg:           cfg,
		feeder:        supply,
		history:       store,
		logger:        logging.NewComponentLogger(logger, "player"),
		commands:      make(chan command, 8),
		imageDuration: time.Duration(cfg.Playback.ImageDurationSeconds) * time.Second,
		speed:         speed,
	}, nil
}

// Start launches the playback loop. The player is restartable: a
// stopped controller can be started again.
func (p *Controller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errors.New("player already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.started = true
	p.status.setState(StateIdle)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(runCtx)
	}()
	return nil
}

// Stop interrupts the current play, if any, and halts the loop. Stop is
// idempotent.
func (p *Controller) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.started = false
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	p.drainCommands()
	p.status.setState(StateStopped)
}

// Running reports whether the playback loop is live.
func (p *Controller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

// Pause suspends the current play.
func (p *Controller) Pause(ctx context.Context) error {
	reply := make(chan error, 1)
	return p.exec(ctx, cmdPause{reply: reply}, reply)
}

// Resume continues a paused play.
func (p *Controller) Resume(ctx context.Context) error {
	reply := make(chan error, 1)
	return p.exec(ctx, cmdResume{reply: reply}, reply)
}

// Skip abandons the current play and advances to the next item.
func (p *Controller) Skip(ctx context.Context) error {
	reply := make(chan error, 1)
	return p.exec(ctx, cmdSkip{reply: reply}, reply)
}

// SetSpeed switches the playback rate, repositioning the stream at the
// estimated current position.
func (p *Controller) SetSpeed(ctx context.Context, speed media.Speed) error {
	reply := make(chan error, 1)
	return p.exec(ctx, cmdSetSpeed{speed: speed, reply: reply}, reply)
}

// Speed returns the rate applied to the next (and current) play.
func (p *Controller) Speed() media.Speed {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speed
}

// Status returns the current snapshot with a live position estimate.
func (p *Controller) Status() Status {
	p.mu.Lock()
	running := p.started
	speed := p.speed
	p.mu.Unlock()
	return p.status.snapshot(running, speed)
}

func (p *Controller) exec(ctx context.Context, cmd command, reply chan error) error {
	if !p.status.active() {
		return ErrNotPlaying
	}
	select {
	case p.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drainCommands answers commands that raced a play ending.
func (p *Controller) drainCommands() {
	for {
		select {
		case cmd := <-p.commands:
			replyTo(cmd, ErrNotPlaying)
			continue
		default:
		}
		return
	}
}

func replyTo(cmd command, err error) {
	switch c := cmd.(type) {
	case cmdPause:
		c.reply <- err
	case cmdResume:
		c.reply <- err
	case cmdSkip:
		c.reply <- err
	case cmdSetSpeed:
		c.reply <- err
	}
}

func (p *Controller) run(ctx context.Context) {
	for {
		p.status.setState(StateIdle)
		item, err := p.feeder.Next(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, feeder.ErrStopped) {
				p.logger.Error("withdrawing next item failed", logging.Error(err))
			}
			return
		}
		p.play(ctx, item)
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// play drives one item from Playing to its end and disposes the engine.
func (p *Controller) play(ctx context.Context, item feeder.Item) {
	defer p.drainCommands()
	p.drainCommands()

	if p.cfg.Playback.PrecacheBytes > 0 {
		if err := media.Precache(item.Path, p.cfg.Playback.PrecacheBytes, p.cfg.Playback.PrecacheChunk); err != nil {
			p.logger.Warn("precache failed", logging.String("path", item.Path), logging.Error(err))
		}
	}

	var playID int64
	if p.history != nil && p.cfg.History.Enabled {
		id, err := p.history.Record(ctx, history.Play{
			Path:       item.Path,
			Kind:       item.Kind,
			EngineID:   string(item.Handle.ID()),
			SourceRoot: item.Root,
		})
		if err != nil {
			p.logger.Warn("recording play failed", logging.Error(err))
		} else {
			playID = id
		}
	}

	speed := p.Speed()
	p.status.beginPlay(item, speed)
	p.logger.Info("playing",
		logging.String("path", item.Path),
		logging.String("kind", string(item.Kind)),
		logging.String("speed", speed.String()))

	finish := func(outcome history.Outcome, errMsg string) {
		p.finishPlay(item, playID, outcome, errMsg)
	}

	if err := item.Handle.SetState(ctx, engine.StatePlaying); err != nil {
		if ctx.Err() != nil {
			finish(history.OutcomeInterrupted, "")
			return
		}
		p.logger.Warn("starting playback failed",
			logging.String("path", item.Path), logging.Error(err))
		finish(history.OutcomeFailed, err.Error())
		return
	}
	if rate := speed.Rate(); rate != 1 && item.Kind != media.KindImage {
		if err := item.Handle.Seek(ctx, 0, rate); err != nil && ctx.Err() == nil {
			p.logger.Warn("applying playback speed failed",
				logging.String("speed", speed.String()), logging.Error(err))
		}
	}

	var imageRemaining time.Duration
	var imageCh <-chan time.Time
	if item.Kind == media.KindImage {
		imageRemaining = p.imageDuration
		imageCh = time.After(imageRemaining)
	}
	segmentStart := time.Now()

	for {
		select {
		case ev, ok := <-item.Handle.Events():
			if !ok {
				finish(history.OutcomeInterrupted, "engine disposed")
				return
			}
			switch ev.Type {
			case engine.EventEndOfStream:
				finish(history.OutcomeCompleted, "")
				return
			case engine.EventError:
				msg := ""
				if ev.Err != nil {
					msg = ev.Err.Error()
				}
				p.logger.Warn("playback error",
					logging.String("path", item.Path), logging.Error(ev.Err))
				finish(history.OutcomeFailed, msg)
				return
			case engine.EventStateChanged:
				p.logger.Debug("engine state changed",
					logging.String("from", ev.From.String()),
					logging.String("to", ev.To.String()))
			}

		case <-imageCh:
			finish(history.OutcomeCompleted, "")
			return

		case cmd := <-p.commands:
			switch c := cmd.(type) {
			case cmdPause:
				err := item.Handle.SetState(ctx, engine.StatePaused)
				if err == nil {
					p.status.pause()
					if imageCh != nil {
						imageRemaining -= time.Since(segmentStart)
						imageCh = nil
					}
				}
				c.reply <- err
			case cmdResume:
				err := item.Handle.SetState(ctx, engine.StatePlaying)
				if err == nil {
					p.status.resume()
					segmentStart = time.Now()
					if item.Kind == media.KindImage && imageCh == nil {
						if imageRemaining < 0 {
							imageRemaining = 0
						}
						imageCh = time.After(imageRemaining)
					}
				}
				c.reply <- err
			case cmdSkip:
				c.reply <- nil
				finish(history.OutcomeSkipped, "")
				return
			case cmdSetSpeed:
				c.reply <- p.applySpeed(ctx, item, c.speed)
			}

		case <-ctx.Done():
			finish(history.OutcomeInterrupted, "")
			return
		}
	}
}

// applySpeed repositions the stream at the estimated position with the
// new rate. Images have no timeline; the rate only carries forward.
func (p *Controller) applySpeed(ctx context.Context, item feeder.Item, speed media.Speed) error {
	if item.Kind != media.KindImage {
		position := p.status.position()
		if err := item.Handle.Seek(ctx, position, speed.Rate()); err != nil {
			return err
		}
		p.status.rebase(position, speed)
	}
	p.mu.Lock()
	p.speed = speed
	p.mu.Unlock()
	p.logger.Info("playback speed changed", logging.String("speed", speed.String()))
	return nil
}

func (p *Controller) finishPlay(item feeder.Item, playID int64, outcome history.Outcome, errMsg string) {
	p.status.endPlay()
	if playID != 0 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := p.history.Finish(ctx, playID, outcome, errMsg); err != nil {
			p.logger.Warn("finishing play record failed", logging.Error(err))
		}
		cancel()
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = item.Handle.Close(closeCtx)
	p.logger.Info("play finished",
		logging.String("path", item.Path),
		logging.String("outcome", string(outcome)))
}

func (c *statusCell) setState(state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
	if state == StateIdle || state == StateStopped {
		c.path = ""
		c.kind = ""
		c.running = false
	}
}

func (c *statusCell) beginPlay(item feeder.Item, speed media.Speed) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StatePlaying
	c.path = item.Path
	c.kind = item.Kind
	c.speed = speed
	c.startedAt = time.Now()
	c.accumulated = 0
	c.segmentStart = c.startedAt
	c.rate = speed.Rate()
	c.running = true
}

func (c *statusCell) pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePlaying {
		return
	}
	c.accumulated += time.Duration(float64(time.Since(c.segmentStart)) * c.rate)
	c.state = StatePaused
}

func (c *statusCell) resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePaused {
		return
	}
	c.segmentStart = time.Now()
	c.state = StatePlaying
}

func (c *statusCell) endPlay() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateIdle
	c.path = ""
	c.kind = ""
	c.running = false
}

// position estimates how far into the stream playback is.
func (c *statusCell) position() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positionLocked()
}

func (c *statusCell) positionLocked() time.Duration {
	position := c.accumulated
	if c.state == StatePlaying {
		position += time.Duration(float64(time.Since(c.segmentStart)) * c.rate)
	}
	return position
}

// rebase restarts the position clock after a rate-changing seek.
func (c *statusCell) rebase(position time.Duration, speed media.Speed) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accumulated = position
	c.segmentStart = time.Now()
	c.rate = speed.Rate()
	c.speed = speed
}

func (c *statusCell) active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *statusCell) snapshot(running bool, fallbackSpeed media.Speed) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	speed := c.speed
	if !c.running {
		speed = fallbackSpeed
	}
	status := Status{
		Running: running,
		State:   c.state,
		Path:    c.path,
		Kind:    c.kind,
		Speed:   speed.String(),
	}
	if c.state == "" || !running {
		status.State = StateStopped
	}
	if c.running {
		status.Position = c.positionLocked()
		status.StartedAt = c.startedAt
	}
	return status
}
