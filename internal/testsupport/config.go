package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"medley/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// One media root is created under the temp base; MediaRoot returns it.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	root := filepath.Join(base, "media")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("mkdir media root: %v", err)
	}
	cfgVal.Library.Roots = []string{root}
	cfgVal.Playback.Autoplay = false

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithRoots replaces the library roots, creating each directory.
func WithRoots(roots ...string) ConfigOption {
	return func(b *configBuilder) {
		for _, root := range roots {
			if err := os.MkdirAll(root, 0o755); err != nil {
				b.t.Fatalf("mkdir root %s: %v", root, err)
			}
		}
		b.cfg.Library.Roots = roots
	}
}

// WithSupply overrides the pipeline capacities.
func WithSupply(ready, preroll, dedup int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Supply.ReadyCapacity = ready
		b.cfg.Supply.PrerollCapacity = preroll
		b.cfg.Supply.DedupCapacity = dedup
	}
}

// MediaRoot returns the first configured library root.
func MediaRoot(cfg *config.Config) string {
	return cfg.Library.Roots[0]
}
