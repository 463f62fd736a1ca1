// Package sampler selects one leaf file uniformly at random from a set
// of directory trees, under a time budget.
//
// Traversal streams a weighted-reservoir reduction: every leaf becomes a
// Result with count 1, and Combine keeps either side's candidate with
// probability proportional to its count. The rule is associative and
// commutative in distribution, so parallel walkers can fold leaves in
// any grouping and the final candidate is still uniform over every leaf
// examined, independent of directory shape.
package sampler

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"medley/internal/logging"
)

// Result accumulates "one uniformly-chosen candidate among Count leaves
// examined so far". The zero Result is the identity for Combine.
type Result struct {
	Selected string
	Count    uint64
}

// Combine merges two accumulators, keeping a's candidate with
// probability a.Count/(a.Count+b.Count).
func Combine(a, b Result) Result {
	total := a.Count + b.Count
	if total == 0 {
		return Result{}
	}
	if a.Count == 0 {
		return b
	}
	if b.Count == 0 {
		return a
	}
	if rand.Uint64N(total) < a.Count {
		return Result{Selected: a.Selected, Count: total}
	}
	return Result{Selected: b.Selected, Count: total}
}

// Options configures a Sampler.
type Options struct {
	// Parallelism is the number of concurrent walkers; 0 selects one
	// per CPU.
	Parallelism int
	Logger      *slog.Logger
}

// Sampler walks root sets and draws uniform random leaves.
type Sampler struct {
	parallelism int
	logger      *slog.Logger
}

// New constructs a Sampler.
func New(opts Options) *Sampler {
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}
	return &Sampler{
		parallelism: parallelism,
		logger:      logging.NewComponentLogger(opts.Logger, "sampler"),
	}
}

// frontierCap bounds the shared directory queue; walkers spilling past
// it descend inline instead of blocking each other.
const frontierCap = 1024

// Sample returns one path drawn uniformly at random from the leaf files
// under roots, or false when nothing was found. Leaves stop being
// admitted once busyTimeout elapses; the whole call returns by roughly
// scanTimeout with whatever partial results were combined by then. A
// root that is itself a file counts as a single leaf. Unreadable roots
// and entries are skipped.
func (s *Sampler) Sample(ctx context.Context, roots []string, busyTimeout, scanTimeout time.Duration) (string, bool) {
	if len(roots) == 0 || ctx.Err() != nil {
		return "", false
	}

	start := time.Now()
	walk := &walkState{
		busyDeadline: start.Add(busyTimeout),
		dirs:         make(chan string, frontierCap),
		results:      make(chan Result, s.parallelism+len(roots)),
		abandoned:    make(chan struct{}),
	}

	var workers sync.WaitGroup
	workers.Add(s.parallelism)
	for i := 0; i < s.parallelism; i++ {
		go func() {
			defer workers.Done()
			walk.run()
		}()
	}

	for _, root := range roots {
		if walk.stopped() {
			break
		}
		info, err := os.Stat(root)
		if err != nil {
			continue
		}
		if !info.IsDir() {
			walk.results <- Result{Selected: root, Count: 1}
			continue
		}
		walk.pending.Add(1)
		walk.dirs <- root
	}

	go func() {
		walk.pending.Wait()
		close(walk.dirs)
	}()
	go func() {
		workers.Wait()
		close(walk.results)
	}()

	var total Result
	scanTimer := time.NewTimer(scanTimeout)
	defer scanTimer.Stop()

	// Leaving the loop early abandons in-flight walkers: they observe
	// the cancel flag, stop descending, and never block on the results
	// channel once abandoned is closed.
	abandon := func() {
		walk.cancelled.Store(true)
		close(walk.abandoned)
	}

collect:
	for {
		select {
		case result, ok := <-walk.results:
			if !ok {
				break collect
			}
			total = Combine(total, result)
		case <-scanTimer.C:
			abandon()
			break collect
		case <-ctx.Done():
			abandon()
			break collect
		}
	}

	s.logger.Debug("sample finished",
		logging.Int("roots", len(roots)),
		logging.Uint64("leaves", total.Count),
		logging.Duration("elapsed", time.Since(start)),
		logging.Bool("found", total.Selected != ""),
	)

	if total.Count == 0 || total.Selected == "" {
		return "", false
	}
	return total.Selected, true
}

// walkState is the shared traversal context for one Sample call.
type walkState struct {
	busyDeadline time.Time
	cancelled    atomic.Bool
	pending      sync.WaitGroup
	dirs         chan string
	results      chan Result
	abandoned    chan struct{}
}

func (w *walkState) stopped() bool {
	return w.cancelled.Load() || time.Now().After(w.busyDeadline)
}

// run drains the directory frontier. Each directory folds its leaves
// into a local accumulator; subdirectories go back onto the frontier,
// or are walked inline when the frontier is full.
func (w *walkState) run() {
	for dir := range w.dirs {
		local := w.walkDir(dir)
		if local.Count > 0 {
			select {
			case w.results <- local:
			case <-w.abandoned:
			}
		}
		w.pending.Done()
	}
}

func (w *walkState) walkDir(dir string) Result {
	var local Result
	if w.stopped() {
		return local
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return local
	}
	for _, entry := range entries {
		if w.stopped() {
			break
		}
		path := filepath.Join(dir, entry.Name())
		if !entry.IsDir() {
			local = Combine(local, Result{Selected: path, Count: 1})
			continue
		}
		w.pending.Add(1)
		select {
		case w.dirs <- path:
		default:
			w.pending.Done()
			local = Combine(local, w.walkInline(path))
		}
	}
	return local
}

// walkInline descends a subtree on the calling walker when the frontier
// has no room.
func (w *walkState) walkInline(dir string) Result {
	var local Result
	if w.stopped() {
		return local
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return local
	}
	for _, entry := range entries {
		if w.stopped() {
			break
		}
		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			local = Combine(local, w.walkInline(path))
		} else {
			local = Combine(local, Result{Selected: path, Count: 1})
		}
	}
	return local
}
