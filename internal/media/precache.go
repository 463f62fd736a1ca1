package media

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Precache reads up to total bytes from the head of path in chunk-sized
// reads, warming the page cache so playback starts without disk stalls.
// A total of 0 disables the read. Short files are read to their end.
func Precache(path string, total, chunk int64) error {
	if total <= 0 {
		return nil
	}
	if chunk <= 0 || chunk > total {
		chunk = total
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("precache open: %w", err)
	}
	defer file.Close()

	buf := make([]byte, chunk)
	var read int64
	for read < total {
		want := chunk
		if remaining := total - read; remaining < want {
			want = remaining
		}
		n, err := file.Read(buf[:want])
		read += int64(n)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("precache read: %w", err)
		}
	}
	return nil
}
