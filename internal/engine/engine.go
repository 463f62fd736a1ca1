// Package engine defines the media engine capability: an opaque
// decode/render pipeline bound to one media file. The worker pool owns
// engine instances; everything else talks to them through pool handles.
package engine

import (
	"time"

	"medley/internal/media"
)

// State is an engine lifecycle state. The zero value is StateNull.
type State int32

const (
	StateNull State = iota
	StateReady
	StatePaused
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateNull:
		return "null"
	case StateReady:
		return "ready"
	case StatePaused:
		return "paused"
	case StatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// EventType classifies the pipeline-level events an engine surfaces.
type EventType string

const (
	EventEndOfStream  EventType = "end-of-stream"
	EventError        EventType = "error"
	EventStateChanged EventType = "state-changed"
)

// Event is one pipeline-level occurrence. Err is set for EventError;
// From and To are set for EventStateChanged.
type Event struct {
	Type EventType
	Err  error
	From State
	To   State
}

// Engine is one live media pipeline. Implementations are not required
// to be safe for concurrent use; the worker pool serializes all calls
// onto the owning worker goroutine.
type Engine interface {
	// SetState requests a lifecycle transition. The transition may
	// complete asynchronously; completion is visible as a
	// StateChanged event.
	SetState(target State) error

	// Seek repositions playback and sets the playback rate in one
	// operation.
	Seek(position time.Duration, rate float64) error

	// SetVideoSize hints the output surface dimensions. Engines
	// without a video surface ignore it.
	SetVideoSize(width, height int) error

	// PollEvent returns the next pending pipeline-level event, if any.
	// It never blocks.
	PollEvent() (Event, bool)

	// Close releases the pipeline. The engine is unusable afterwards.
	Close() error
}

// Factory constructs engines for sampled media files.
type Factory interface {
	New(path string, kind media.Kind) (Engine, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(path string, kind media.Kind) (Engine, error)

func (f FactoryFunc) New(path string, kind media.Kind) (Engine, error) {
	return f(path, kind)
}
