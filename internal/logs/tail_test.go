package logs_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"medley/internal/logs"
	"medley/internal/testsupport"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestTailLastLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "medley.log")
	if err := os.WriteFile(path, []byte("a\nb\nc\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	var out bytes.Buffer
	if err := logs.Tail(context.Background(), path, logs.Options{Lines: 2}, &out); err != nil {
		t.Fatalf("tail: %v", err)
	}
	if got := out.String(); got != "b\nc\n" {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestTailMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "medley.log")

	var out bytes.Buffer
	if err := logs.Tail(context.Background(), path, logs.Options{Lines: 5}, &out); err != nil {
		t.Fatalf("tail: %v", err)
	}
	if !strings.Contains(out.String(), "No log entries available") {
		t.Fatalf("expected empty-log message, got %q", out.String())
	}
}

func TestTailSkipsUnterminatedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "medley.log")
	if err := os.WriteFile(path, []byte("done\npartial"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	var out bytes.Buffer
	if err := logs.Tail(context.Background(), path, logs.Options{Lines: 5}, &out); err != nil {
		t.Fatalf("tail: %v", err)
	}
	if got := out.String(); got != "done\n" {
		t.Fatalf("expected only the terminated line, got %q", got)
	}
}

func TestTailFollowStreamsAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "medley.log")
	if err := os.WriteFile(path, []byte("start\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- logs.Tail(ctx, path, logs.Options{Lines: 1, Follow: true, PollInterval: 20 * time.Millisecond}, out)
	}()

	testsupport.Eventually(t, func() bool {
		return strings.Contains(out.String(), "start")
	}, "initial line not printed")

	appendLine(t, path, "later\n")
	testsupport.Eventually(t, func() bool {
		return strings.Contains(out.String(), "later")
	}, "appended line not streamed")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("follow returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("follow did not exit after cancel")
	}
}

func TestTailFollowPicksUpRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "medley.log")
	if err := os.WriteFile(path, []byte("old line one\nold line two\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	out := &syncBuffer{}
	go func() {
		_ = logs.Tail(ctx, path, logs.Options{Lines: 1, Follow: true, PollInterval: 20 * time.Millisecond}, out)
	}()
	testsupport.Eventually(t, func() bool {
		return strings.Contains(out.String(), "old line two")
	}, "initial line not printed")

	// A daemon restart points medley.log at a new, shorter file.
	if err := os.WriteFile(path, []byte("fresh\n"), 0o644); err != nil {
		t.Fatalf("rewrite log: %v", err)
	}
	testsupport.Eventually(t, func() bool {
		return strings.Contains(out.String(), "fresh")
	}, "rotated line not streamed")
	if strings.Count(out.String(), "old line") != 1 {
		t.Fatalf("follower replayed pre-follow lines: %q", out.String())
	}
}

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		t.Fatalf("append log: %v", err)
	}
}
