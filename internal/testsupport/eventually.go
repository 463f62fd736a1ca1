package testsupport

import (
	"testing"
	"time"
)

// Eventually polls cond until it holds or five seconds pass.
func Eventually(t testing.TB, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}
