// Package feeder runs the acquisition pipeline that keeps playback
// supplied. Three stages connect through bounded channels: discovery
// samples the enabled roots for candidate files, preroll constructs an
// engine per candidate and drives it to Paused, and the ready queue
// holds prerolled items until the front end withdraws them. Every
// channel send blocks, so a full ready queue throttles preroll and a
// full preroll working set throttles discovery.
package feeder

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"medley/internal/config"
	"medley/internal/dedup"
	"medley/internal/engine"
	"medley/internal/logging"
	"medley/internal/media"
	"medley/internal/pool"
	"medley/internal/rootset"
	"medley/internal/sampler"
)

const (
	// missPenalty is added to the sampling budget for each consecutive
	// empty sample, so a sparse library is rescanned at a slowing
	// cadence instead of in a tight loop.
	missPenalty = time.Second

	// emptyRootsWait paces the discovery loop while no root is enabled.
	emptyRootsWait = time.Second

	// refillTimeout bounds how long preroll waits for a new candidate
	// before revisiting the engines it already holds.
	refillTimeout = 100 * time.Millisecond

	// holdTick paces preroll while its working set is full.
	holdTick = 100 * time.Millisecond
)

// ErrStopped is returned by Next once the feeder has shut down.
var ErrStopped = errors.New("feeder stopped")

// Item is one fully prerolled playback candidate. The handle's engine
// sits in Paused; the consumer drives it to Playing.
type Item struct {
	Handle *pool.Handle
	Path   string
	Kind   media.Kind
	Root   string
}

// candidate is an admitted path that does not have a ready engine yet.
type candidate struct {
	path string
	kind media.Kind
	root string
}

// prerollEntry tracks one candidate from admission until its engine
// reaches Paused and moves to the ready queue.
type prerollEntry struct {
	candidate
	handle *pool.Handle
	paused bool
}

// Feeder is the acquisition pipeline service.
type Feeder struct {
	cfg     *config.Config
	sampler *sampler.Sampler
	cache   *dedup.Cache
	roots   *rootset.Set
	pool    *pool.Pool
	logger  *slog.Logger

	counters media.Counters
	changes  <-chan rootset.Change

	admitted chan candidate
	ready    chan Item

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	stopping  chan struct{}
	requeueWG sync.WaitGroup
}

// New wires the pipeline. The channel capacities come from the supply
// section of cfg; the root subscription is drained for the feeder's
// lifetime once Start runs.
func New(cfg *config.Config, smp *sampler.Sampler, cache *dedup.Cache, roots *rootset.Set, engines *pool.Pool, logger *slog.Logger) *Feeder {
	return &Feeder{
		cfg:      cfg,
		sampler:  smp,
		cache:    cache,
		roots:    roots,
		pool:     engines,
		logger:   logging.NewComponentLogger(logger, "feeder"),
		changes:  roots.Subscribe(),
		admitted: make(chan candidate, cfg.Supply.PrerollCapacity),
		ready:    make(chan Item, cfg.Supply.ReadyCapacity),
		stopping: make(chan struct{}),
	}
}

// Start launches the discovery and preroll stages.
func (f *Feeder) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return ErrStopped
	}
	if f.started {
		return errors.New("feeder already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.started = true

	f.wg.Add(2)
	go func() {
		defer f.wg.Done()
		f.discoverLoop(runCtx)
	}()
	go func() {
		defer f.wg.Done()
		f.prerollLoop(runCtx)
	}()
	return nil
}

// Stop shuts both stages down, disposes every engine still queued, and
// closes the ready queue. Stop is idempotent; the feeder cannot be
// restarted afterwards.
func (f *Feeder) Stop() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.stopped = true
	cancel := f.cancel
	f.mu.Unlock()

	close(f.stopping)
	if cancel != nil {
		cancel()
	}
	f.wg.Wait()
	f.requeueWG.Wait()

	// Both stages are down and no requeue is in flight, so this
	// goroutine owns the channels now.
	for {
		select {
		case item := <-f.ready:
			f.closeHandle(item.Handle)
			f.counters.Remove(item.Kind)
			continue
		default:
		}
		break
	}
	close(f.ready)
	for {
		select {
		case cand := <-f.admitted:
			f.counters.Remove(cand.kind)
			continue
		default:
		}
		break
	}
	f.logger.Debug("feeder stopped")
}

// Next blocks until a ready item can be withdrawn. Items whose root was
// disabled while they sat in the queue are disposed and skipped.
// Optional kinds narrow the result; non-matching items return to the
// queue behind whatever is there by then.
func (f *Feeder) Next(ctx context.Context, kinds ...media.Kind) (Item, error) {
	var skipped []Item
	defer func() { f.requeue(skipped) }()
	for {
		select {
		case item, ok := <-f.ready:
			if !ok {
				return Item{}, ErrStopped
			}
			if !f.roots.Contains(item.Path) {
				f.logger.Info("dropping item outside enabled roots",
					logging.String("path", item.Path))
				f.closeHandle(item.Handle)
				f.evict(item.Path, item.Kind)
				continue
			}
			if len(kinds) > 0 && !kindMatches(item.Kind, kinds) {
				skipped = append(skipped, item)
				continue
			}
			f.counters.Remove(item.Kind)
			return item, nil
		case <-ctx.Done():
			return Item{}, ctx.Err()
		}
	}
}

// TryNext withdraws a ready item without waiting.
func (f *Feeder) TryNext(kinds ...media.Kind) (Item, bool) {
	var skipped []Item
	defer func() { f.requeue(skipped) }()
	for {
		select {
		case item, ok := <-f.ready:
			if !ok {
				return Item{}, false
			}
			if !f.roots.Contains(item.Path) {
				f.closeHandle(item.Handle)
				f.evict(item.Path, item.Kind)
				continue
			}
			if len(kinds) > 0 && !kindMatches(item.Kind, kinds) {
				skipped = append(skipped, item)
				continue
			}
			f.counters.Remove(item.Kind)
			return item, true
		default:
			return Item{}, false
		}
	}
}

// Reset discards everything currently queued, zeroes the counters, and
// clears the dedup cache. Candidates still prerolling surface
// afterwards against the fresh count.
func (f *Feeder) Reset() {
	for {
		select {
		case item, ok := <-f.ready:
			if !ok {
				return
			}
			f.closeHandle(item.Handle)
			continue
		default:
		}
		break
	}
	f.counters.Reset()
	f.cache.Reset()
	f.logger.Info("supply state reset")
}

// Status reports the ready-queue fill and the per-kind outstanding
// counts.
type Status struct {
	ReadyCount    int                   `json:"ready_count"`
	ReadyCapacity int                   `json:"ready_capacity"`
	DedupCount    int                   `json:"dedup_count"`
	Counters      media.CounterSnapshot `json:"counters"`
}

func (f *Feeder) Status() Status {
	return Status{
		ReadyCount:    len(f.ready),
		ReadyCapacity: cap(f.ready),
		DedupCount:    f.cache.Len(),
		Counters:      f.counters.Snapshot(),
	}
}

// discoverLoop samples the enabled roots and admits playable,
// non-duplicate paths into the preroll stage.
func (f *Feeder) discoverLoop(ctx context.Context) {
	misses := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		enabled := f.roots.Enabled()
		if len(enabled) == 0 {
			if !sleepCtx(ctx, emptyRootsWait) {
				return
			}
			misses = 0
			continue
		}

		busy := f.busyBudget() + time.Duration(misses)*missPenalty
		start := time.Now()
		path, ok := f.sampler.Sample(ctx, enabled, busy, 2*busy)
		if !ok {
			if ctx.Err() != nil {
				return
			}
			misses++
			f.logger.Debug("sample found nothing",
				logging.Int("misses", misses),
				logging.Duration("budget", busy))
			if !sleepCtx(ctx, busy-time.Since(start)) {
				return
			}
			continue
		}
		misses = 0

		kind := media.DetectKind(path)
		if !kind.Playable() {
			f.logger.Debug("skipping unplayable file", logging.String("path", path))
			continue
		}
		if !f.cache.Toggle(path) {
			f.logger.Debug("suppressing recently seen path", logging.String("path", path))
			continue
		}

		root, _ := f.roots.RootOf(path)
		f.counters.Add(kind)
		select {
		case f.admitted <- candidate{path: path, kind: kind, root: root}:
			f.logger.Info("admitted candidate",
				logging.String("path", path),
				logging.String("kind", string(kind)))
		case <-ctx.Done():
			f.counters.Remove(kind)
			return
		}
	}
}

// busyBudget scales the sampler's admission budget with ready-queue
// pressure: an empty queue wants a fast answer, a full one can afford a
// deep scan.
func (f *Feeder) busyBudget() time.Duration {
	base := 100 * time.Millisecond
	span := 9900 * time.Millisecond
	return base + span*time.Duration(len(f.ready))/time.Duration(cap(f.ready))
}

// prerollLoop holds up to PrerollCapacity candidates, constructs their
// engines, and moves each to the ready queue once it reaches Paused. A
// candidate whose engine cannot be pushed stays in the working set,
// which in turn stops refilling and throttles discovery.
func (f *Feeder) prerollLoop(ctx context.Context) {
	capacity := f.cfg.Supply.PrerollCapacity
	working := make([]*prerollEntry, 0, capacity)
	defer func() {
		for _, entry := range working {
			f.closeHandle(entry.handle)
			f.counters.Remove(entry.kind)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		f.drainRootChanges(ctx, &working)
		f.driveEntries(ctx, &working)

		if len(working) >= capacity {
			if !sleepCtx(ctx, holdTick) {
				return
			}
			continue
		}
		select {
		case cand := <-f.admitted:
			working = append(working, &prerollEntry{candidate: cand})
		case <-time.After(refillTimeout):
		case <-ctx.Done():
			return
		}
	}
}

// drainRootChanges collapses pending root notifications into one
// eviction sweep.
func (f *Feeder) drainRootChanges(ctx context.Context, working *[]*prerollEntry) {
	dirty := false
	for {
		select {
		case change := <-f.changes:
			f.logger.Debug("root changed",
				logging.String("root", change.Root),
				logging.Bool("enabled", change.Enabled))
			dirty = true
			continue
		default:
		}
		break
	}
	if dirty {
		f.evictStale(ctx, working)
	}
}

// evictStale removes every queued-but-unconsumed candidate whose path
// no longer sits under an enabled root: admitted candidates, the
// working set, and the ready queue. Survivors keep their order.
func (f *Feeder) evictStale(ctx context.Context, working *[]*prerollEntry) {
	kept := (*working)[:0]
	for _, entry := range *working {
		if f.roots.Contains(entry.path) {
			kept = append(kept, entry)
			continue
		}
		f.logger.Info("evicting candidate outside enabled roots",
			logging.String("path", entry.path))
		f.closeHandle(entry.handle)
		f.evict(entry.path, entry.kind)
	}
	*working = kept

	// Admitted candidates have no engine yet; survivors move straight
	// into the working set rather than back through the channel, which
	// discovery may have refilled by now.
	for {
		select {
		case cand := <-f.admitted:
			if f.roots.Contains(cand.path) {
				*working = append(*working, &prerollEntry{candidate: cand})
			} else {
				f.evict(cand.path, cand.kind)
			}
			continue
		default:
		}
		break
	}

	survivors := make([]Item, 0, len(f.ready))
	for {
		select {
		case item := <-f.ready:
			if f.roots.Contains(item.Path) {
				survivors = append(survivors, item)
				continue
			}
			f.logger.Info("evicting ready item outside enabled roots",
				logging.String("path", item.Path))
			f.closeHandle(item.Handle)
			f.evict(item.Path, item.Kind)
			continue
		default:
		}
		break
	}
	for i, item := range survivors {
		select {
		case f.ready <- item:
		case <-ctx.Done():
			for _, rest := range survivors[i:] {
				f.closeHandle(rest.Handle)
				f.counters.Remove(rest.Kind)
			}
			return
		}
	}
}

// driveEntries advances every candidate in the working set, removing
// the ones that finished or failed.
func (f *Feeder) driveEntries(ctx context.Context, working *[]*prerollEntry) {
	kept := (*working)[:0]
	for _, entry := range *working {
		if f.driveEntry(ctx, entry) {
			kept = append(kept, entry)
		}
	}
	*working = kept
}

// driveEntry advances one candidate: construct its engine, consume its
// events, and hand it to the ready queue once Paused. It reports
// whether the entry stays in the working set.
func (f *Feeder) driveEntry(ctx context.Context, entry *prerollEntry) bool {
	if entry.handle == nil {
		// A root change can land between admission and construction;
		// never build an engine for a path that is already outside the
		// enabled roots.
		if !f.roots.Contains(entry.path) {
			f.evict(entry.path, entry.kind)
			return false
		}
		handle, err := f.pool.Create(ctx, entry.path, entry.kind)
		if err != nil {
			if ctx.Err() == nil {
				f.logger.Warn("engine construction failed",
					logging.String("path", entry.path),
					logging.Error(err))
			}
			f.counters.Remove(entry.kind)
			return false
		}
		entry.handle = handle
		if err := handle.SetState(ctx, engine.StatePaused); err != nil {
			if ctx.Err() == nil {
				f.logger.Warn("preroll request failed",
					logging.String("path", entry.path),
					logging.Error(err))
			}
			f.closeHandle(entry.handle)
			f.counters.Remove(entry.kind)
			return false
		}
	}

drain:
	for {
		select {
		case ev, ok := <-entry.handle.Events():
			if !ok {
				// Disposed underneath us, pool shutdown most likely.
				f.counters.Remove(entry.kind)
				return false
			}
			switch ev.Type {
			case engine.EventError:
				f.logger.Warn("candidate failed preroll",
					logging.String("path", entry.path),
					logging.String("kind", string(entry.kind)),
					logging.Error(ev.Err))
				f.closeHandle(entry.handle)
				f.counters.Remove(entry.kind)
				return false
			case engine.EventEndOfStream:
				f.logger.Warn("candidate ended during preroll",
					logging.String("path", entry.path))
				f.closeHandle(entry.handle)
				f.counters.Remove(entry.kind)
				return false
			case engine.EventStateChanged:
				if ev.To == engine.StatePaused {
					entry.paused = true
				}
			}
		default:
			break drain
		}
	}

	if !entry.paused {
		return true
	}
	item := Item{Handle: entry.handle, Path: entry.path, Kind: entry.kind, Root: entry.root}
	select {
	case f.ready <- item:
		f.logger.Debug("candidate ready",
			logging.String("path", entry.path),
			logging.Int("queued", len(f.ready)))
		return false
	default:
		// Ready queue full; hold the prerolled engine here.
		return true
	}
}

// evict drops a queued candidate and releases its dedup entry, so the
// path can be admitted again as soon as its root returns. Failed
// preroll keeps the dedup entry instead, so a broken file is not
// immediately resampled.
func (f *Feeder) evict(path string, kind media.Kind) {
	f.counters.Remove(kind)
	f.cache.Release(path)
}

// requeue returns skipped items to the ready queue in the background,
// since the queue can be full again by the time the withdrawal returns.
// Items that cannot be returned before shutdown are disposed.
func (f *Feeder) requeue(items []Item) {
	if len(items) == 0 {
		return
	}
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		for _, item := range items {
			f.closeHandle(item.Handle)
			f.counters.Remove(item.Kind)
		}
		return
	}
	f.requeueWG.Add(1)
	f.mu.Unlock()

	go func() {
		defer f.requeueWG.Done()
		for _, item := range items {
			select {
			case f.ready <- item:
			case <-f.stopping:
				f.closeHandle(item.Handle)
				f.counters.Remove(item.Kind)
			}
		}
	}()
}

func (f *Feeder) closeHandle(h *pool.Handle) {
	if h == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = h.Close(ctx)
}

func kindMatches(kind media.Kind, kinds []media.Kind) bool {
	for _, want := range kinds {
		if kind == want {
			return true
		}
	}
	return false
}

// sleepCtx waits for d unless ctx ends first, reporting whether the
// full wait elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
