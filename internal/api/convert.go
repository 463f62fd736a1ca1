package api

import (
	"time"

	"medley/internal/feeder"
	"medley/internal/history"
	"medley/internal/player"
)

// SupplyStatusFrom converts the feeder's internal status snapshot.
func SupplyStatusFrom(s feeder.Status) SupplyStatus {
	return SupplyStatus{
		ReadyCount:    s.ReadyCount,
		ReadyCapacity: s.ReadyCapacity,
		DedupCount:    s.DedupCount,
		Counts: KindCounts{
			Video: s.Counters.Video,
			Image: s.Counters.Image,
			Audio: s.Counters.Audio,
		},
	}
}

// PlayerStatusFrom converts the player's internal status snapshot.
func PlayerStatusFrom(s player.Status) PlayerStatus {
	return PlayerStatus{
		Running:    s.Running,
		State:      string(s.State),
		Path:       s.Path,
		Kind:       string(s.Kind),
		Speed:      s.Speed,
		PositionMS: s.Position.Milliseconds(),
		StartedAt:  formatTime(s.StartedAt),
	}
}

// PlayFrom converts one history row.
func PlayFrom(p *history.Play) Play {
	out := Play{
		ID:         p.ID,
		Path:       p.Path,
		Kind:       string(p.Kind),
		EngineID:   p.EngineID,
		SourceRoot: p.SourceRoot,
		StartedAt:  formatTime(p.StartedAt),
		Outcome:    string(p.Outcome),
		Error:      p.Error,
	}
	if p.FinishedAt != nil {
		out.FinishedAt = formatTime(*p.FinishedAt)
	}
	return out
}

// PlaysFrom converts a batch of history rows, most recent first.
func PlaysFrom(plays []*history.Play) []Play {
	out := make([]Play, 0, len(plays))
	for _, p := range plays {
		out = append(out, PlayFrom(p))
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
