package media

import "sync/atomic"

// Counters tracks items currently outstanding in the supply chain, one
// gauge per media kind. Add on admission, Remove on withdrawal or
// eviction, Reset when the administration surface clears state.
type Counters struct {
	video atomic.Int64
	image atomic.Int64
	audio atomic.Int64
}

// CounterSnapshot is a point-in-time copy of the per-kind gauges.
type CounterSnapshot struct {
	Video int64 `json:"video"`
	Image int64 `json:"image"`
	Audio int64 `json:"audio"`
}

// Total sums the per-kind gauges.
func (s CounterSnapshot) Total() int64 {
	return s.Video + s.Image + s.Audio
}

func (c *Counters) gauge(kind Kind) *atomic.Int64 {
	switch kind {
	case KindVideo:
		return &c.video
	case KindImage:
		return &c.image
	case KindAudio:
		return &c.audio
	}
	return nil
}

// Add increments the gauge for kind. Unknown kinds are ignored.
func (c *Counters) Add(kind Kind) {
	if g := c.gauge(kind); g != nil {
		g.Add(1)
	}
}

// Remove decrements the gauge for kind. Unknown kinds are ignored.
func (c *Counters) Remove(kind Kind) {
	if g := c.gauge(kind); g != nil {
		g.Add(-1)
	}
}

// Reset zeroes every gauge.
func (c *Counters) Reset() {
	c.video.Store(0)
	c.image.Store(0)
	c.audio.Store(0)
}

// Snapshot returns the current gauge values.
func (c *Counters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		Video: c.video.Load(),
		Image: c.image.Load(),
		Audio: c.audio.Load(),
	}
}
