package daemon

import (
	"os"

	"golang.org/x/sys/unix"

	"medley/internal/rootset"
)

// RootHealth reports one media root's eligibility together with the health
// of the filesystem behind it.
type RootHealth struct {
	Path       string
	Enabled    bool
	Available  bool
	FreeBytes  uint64
	TotalBytes uint64
}

func probeRoots(roots []rootset.Root) []RootHealth {
	out := make([]RootHealth, 0, len(roots))
	for _, root := range roots {
		out = append(out, probeRoot(root.Path, root.Enabled))
	}
	return out
}

// probeRoot checks that the root still exists and, when it does, reads
// filesystem capacity. A root may be a directory tree or a single file; a
// root on an unmounted or yanked drive comes back unavailable rather than
// erroring.
func probeRoot(path string, enabled bool) RootHealth {
	health := RootHealth{Path: path, Enabled: enabled}

	if _, err := os.Stat(path); err != nil {
		return health
	}
	health.Available = true

	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err == nil {
		blockSize := uint64(stat.Bsize)
		health.FreeBytes = stat.Bavail * blockSize
		health.TotalBytes = stat.Blocks * blockSize
	}
	return health
}
