package history_test

import (
	"context"
	"testing"
	"time"

	"medley/internal/history"
	"medley/internal/media"
	"medley/internal/testsupport"
)

func TestRecordAndFinish(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()

	id, err := store.Record(ctx, history.Play{
		Path:       "/media/clip.mp4",
		Kind:       media.KindVideo,
		EngineID:   "engine-1",
		SourceRoot: "/media",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if id == 0 {
		t.Fatal("expected play id to be assigned")
	}

	plays, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(plays) != 1 {
		t.Fatalf("recent returned %d plays, want 1", len(plays))
	}
	play := plays[0]
	if play.Path != "/media/clip.mp4" || play.Kind != media.KindVideo {
		t.Fatalf("unexpected play: %+v", play)
	}
	if play.FinishedAt != nil || play.Outcome != "" {
		t.Fatalf("play finished before Finish: %+v", play)
	}
	if play.StartedAt.IsZero() {
		t.Fatal("started_at not defaulted")
	}

	if err := store.Finish(ctx, id, history.OutcomeCompleted, ""); err != nil {
		t.Fatalf("finish: %v", err)
	}
	plays, err = store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent after finish: %v", err)
	}
	play = plays[0]
	if play.FinishedAt == nil {
		t.Fatal("finished_at not set")
	}
	if play.Outcome != history.OutcomeCompleted {
		t.Fatalf("outcome = %s, want completed", play.Outcome)
	}
}

func TestFinishUnknownPlay(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)

	if err := store.Finish(context.Background(), 404, history.OutcomeFailed, "boom"); err == nil {
		t.Fatal("finish of unknown play succeeded")
	}
}

func TestRecentOrdersNewestFirstAndLimits(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()

	var ids []int64
	for _, path := range []string{"/m/a.mp4", "/m/b.mp4", "/m/c.mp4"} {
		id, err := store.Record(ctx, history.Play{Path: path, Kind: media.KindVideo})
		if err != nil {
			t.Fatalf("record %s: %v", path, err)
		}
		ids = append(ids, id)
	}

	plays, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(plays) != 2 {
		t.Fatalf("recent returned %d plays, want 2", len(plays))
	}
	if plays[0].ID != ids[2] || plays[1].ID != ids[1] {
		t.Fatalf("recent order = [%d %d], want [%d %d]", plays[0].ID, plays[1].ID, ids[2], ids[1])
	}
}

func TestCountsByKind(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()

	records := []history.Play{
		{Path: "/m/a.mp4", Kind: media.KindVideo},
		{Path: "/m/b.mkv", Kind: media.KindVideo},
		{Path: "/m/c.mp3", Kind: media.KindAudio},
	}
	for _, rec := range records {
		if _, err := store.Record(ctx, rec); err != nil {
			t.Fatalf("record %s: %v", rec.Path, err)
		}
	}

	counts, err := store.CountsByKind(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts[media.KindVideo] != 2 || counts[media.KindAudio] != 1 {
		t.Fatalf("counts = %v", counts)
	}
	if counts[media.KindImage] != 0 {
		t.Fatalf("image count = %d, want 0", counts[media.KindImage])
	}
}

func TestPruneRemovesAgedPlays(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()

	old := history.Play{
		Path:      "/m/old.mp4",
		Kind:      media.KindVideo,
		StartedAt: time.Now().Add(-48 * time.Hour),
	}
	if _, err := store.Record(ctx, old); err != nil {
		t.Fatalf("record old: %v", err)
	}
	fresh := history.Play{Path: "/m/fresh.mp4", Kind: media.KindVideo}
	if _, err := store.Record(ctx, fresh); err != nil {
		t.Fatalf("record fresh: %v", err)
	}

	removed, err := store.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("pruned %d plays, want 1", removed)
	}

	plays, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(plays) != 1 || plays[0].Path != "/m/fresh.mp4" {
		t.Fatalf("surviving plays = %+v", plays)
	}

	// Zero retention disables pruning.
	removed, err = store.Prune(ctx, 0)
	if err != nil {
		t.Fatalf("prune with zero retention: %v", err)
	}
	if removed != 0 {
		t.Fatalf("zero-retention prune removed %d plays", removed)
	}
}

func TestReopenKeepsPlays(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()

	if _, err := store.Record(ctx, history.Play{Path: "/m/a.mp4", Kind: media.KindVideo}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := history.Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	plays, err := reopened.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent after reopen: %v", err)
	}
	if len(plays) != 1 {
		t.Fatalf("recent after reopen returned %d plays, want 1", len(plays))
	}
}
