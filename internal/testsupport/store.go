package testsupport

import (
	"testing"

	"medley/internal/config"
	"medley/internal/history"
)

// MustOpenHistory opens the play-history store for cfg and closes it at
// test cleanup.
func MustOpenHistory(t testing.TB, cfg *config.Config) *history.Store {
	t.Helper()
	store, err := history.Open(cfg)
	if err != nil {
		t.Fatalf("open history store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
