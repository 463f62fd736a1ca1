// Package rootset tracks the configured library roots and which of them
// are currently eligible for sampling.
package rootset

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Root describes one configured root and its current eligibility.
type Root struct {
	Path    string `json:"path"`
	Enabled bool   `json:"enabled"`
}

// Change records a single eligibility transition.
type Change struct {
	Root    string
	Enabled bool
}

// Set is a concurrency-safe partition of configured roots into enabled
// and disabled. Roots come from configuration and can be extended at
// runtime with Add; eligibility transitions are fanned out to
// subscribers so downstream holders of sampled paths can react.
type Set struct {
	mu       sync.RWMutex
	order    []string
	disabled map[string]bool
	subs     []chan Change
}

// New builds a Set from the configured roots. Roots listed in disabled
// start out ineligible; disabled entries that name no configured root
// are ignored. Duplicate roots collapse to one entry.
func New(roots, disabled []string) *Set {
	s := &Set{disabled: make(map[string]bool)}
	seen := make(map[string]bool, len(roots))
	for _, root := range roots {
		root = filepath.Clean(root)
		if root == "" || seen[root] {
			continue
		}
		seen[root] = true
		s.order = append(s.order, root)
	}
	for _, root := range disabled {
		root = filepath.Clean(root)
		if seen[root] {
			s.disabled[root] = true
		}
	}
	return s
}

// Enabled returns the eligible roots in configuration order.
func (s *Set) Enabled() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	enabled := make([]string, 0, len(s.order))
	for _, root := range s.order {
		if !s.disabled[root] {
			enabled = append(enabled, root)
		}
	}
	return enabled
}

// Roots returns every configured root with its eligibility, in
// configuration order.
func (s *Set) Roots() []Root {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roots := make([]Root, 0, len(s.order))
	for _, root := range s.order {
		roots = append(roots, Root{Path: root, Enabled: !s.disabled[root]})
	}
	return roots
}

// Contains reports whether path lies under any enabled root. A root
// contains itself.
func (s *Set) Contains(path string) bool {
	_, ok := s.RootOf(path)
	return ok
}

// RootOf returns the enabled root containing path.
func (s *Set) RootOf(path string) (string, bool) {
	path = filepath.Clean(path)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, root := range s.order {
		if s.disabled[root] {
			continue
		}
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return root, true
		}
	}
	return "", false
}

// Enable marks root eligible. Unknown roots are an error; enabling an
// already-enabled root is a no-op and notifies nobody.
func (s *Set) Enable(root string) error {
	return s.transition(root, true)
}

// Disable marks root ineligible. Unknown roots are an error; disabling
// an already-disabled root is a no-op and notifies nobody.
func (s *Set) Disable(root string) error {
	return s.transition(root, false)
}

func (s *Set) transition(root string, enable bool) error {
	root = filepath.Clean(root)

	s.mu.Lock()
	if !s.known(root) {
		s.mu.Unlock()
		return fmt.Errorf("unknown root %q", root)
	}
	if enabled := !s.disabled[root]; enabled == enable {
		// Already in the requested state.
		s.mu.Unlock()
		return nil
	}
	if enable {
		delete(s.disabled, root)
	} else {
		s.disabled[root] = true
	}
	subs := make([]chan Change, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	change := Change{Root: root, Enabled: enable}
	for _, sub := range subs {
		sub <- change
	}
	return nil
}

// Add registers a new root as enabled and notifies subscribers. Adding
// a root that is already configured is an error.
func (s *Set) Add(root string) error {
	root = filepath.Clean(root)
	if root == "" || root == "." {
		return fmt.Errorf("root path is required")
	}

	s.mu.Lock()
	if s.known(root) {
		s.mu.Unlock()
		return fmt.Errorf("root %q already configured", root)
	}
	s.order = append(s.order, root)
	delete(s.disabled, root)
	subs := make([]chan Change, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	change := Change{Root: root, Enabled: true}
	for _, sub := range subs {
		sub <- change
	}
	return nil
}

func (s *Set) known(root string) bool {
	for _, candidate := range s.order {
		if candidate == root {
			return true
		}
	}
	return false
}

// Subscribe registers a listener for eligibility transitions. The
// returned channel is buffered; subscribers must keep draining it or
// transitions will block.
func (s *Set) Subscribe() <-chan Change {
	ch := make(chan Change, 64)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

// DisabledSorted returns the ineligible roots sorted by path, for
// persistence and display.
func (s *Set) DisabledSorted() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	disabled := make([]string, 0, len(s.disabled))
	for root := range s.disabled {
		disabled = append(disabled, root)
	}
	sort.Strings(disabled)
	return disabled
}
