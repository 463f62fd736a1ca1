package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Options configure a tail of the daemon log.
type Options struct {
	// Lines is the number of trailing lines printed before following.
	// Zero prints nothing and starts at the end of the file.
	Lines int
	// Follow keeps streaming appended lines until the context ends.
	Follow bool
	// PollInterval is how often a follower re-reads the file. Zero
	// selects a 250ms default.
	PollInterval time.Duration
}

// Tail writes the last Options.Lines lines of the log at path to out.
// With Follow set it then streams appended lines until ctx is cancelled,
// re-resolving path on every poll so a repointed or rotated log is picked
// up where the new file begins.
//
// Only newline-terminated lines are emitted; a partial line mid-write
// surfaces once its terminator lands.
func Tail(ctx context.Context, path string, opts Options, out io.Writer) error {
	if opts.Lines < 0 {
		opts.Lines = 0
	}

	lines, offset, err := lastLines(path, opts.Lines)
	if err != nil {
		return err
	}
	for _, line := range lines {
		fmt.Fprintln(out, line)
	}
	if !opts.Follow {
		if len(lines) == 0 {
			fmt.Fprintln(out, "No log entries available")
		}
		return nil
	}

	interval := opts.PollInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if size, ok := fileSize(path); ok && size < offset {
			// The pointer moved to a fresh run log. Start it from the top.
			offset = 0
		}
		appended, next, err := readForward(path, offset)
		if err != nil {
			return err
		}
		for _, line := range appended {
			fmt.Fprintln(out, line)
		}
		offset = next
	}
}

// lastLines returns up to limit trailing complete lines and the offset
// just past the last one. A missing file yields no lines and offset zero.
func lastLines(path string, limit int) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return nil, 0, fmt.Errorf("log path %q is a directory", path)
	}

	var ring []string
	if limit > 0 {
		ring = make([]string, limit)
	}
	count := 0
	idx := 0

	reader := bufio.NewReader(file)
	var offset int64
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, 0, fmt.Errorf("read log file: %w", err)
		}
		offset += int64(len(line))
		if limit == 0 {
			continue
		}
		ring[idx] = strings.TrimSuffix(line, "\n")
		idx = (idx + 1) % limit
		if count < limit {
			count++
		}
	}

	lines := make([]string, count)
	if count == limit && limit > 0 {
		for i := 0; i < count; i++ {
			lines[i] = ring[(idx+i)%limit]
		}
	} else {
		copy(lines, ring[:count])
	}
	return lines, offset, nil
}

// readForward returns the complete lines appended after offset and the
// offset to resume from.
func readForward(path string, offset int64) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, offset, nil
		}
		return nil, offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReader(file)
	var lines []string
	next := offset
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, offset, fmt.Errorf("read log file: %w", err)
		}
		lines = append(lines, strings.TrimSuffix(line, "\n"))
		next += int64(len(line))
	}
	return lines, next, nil
}

func fileSize(path string) (int64, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return info.Size(), true
}
