package pool

import (
	"strings"
	"testing"

	"medley/internal/engine/enginetest"
	"medley/internal/logging"
)

func TestDispatchUnknownEnginePanics(t *testing.T) {
	p := New(enginetest.NewFactory(), logging.NewNop(), Options{})
	defer p.Stop()

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("dispatch with unknown engine id did not panic")
		}
		if msg, ok := r.(string); !ok || !strings.Contains(msg, "no routing entry") {
			t.Errorf("panic value = %v", r)
		}
	}()
	_ = p.dispatch(EngineID("not-issued"), cmdResize{id: "not-issued", width: 1, height: 1})
}

func TestMailboxPreservesOrderAndFlushesOnClose(t *testing.T) {
	m := newMailbox()

	const n = 100
	for i := 0; i < n; i++ {
		m.send(cmdResize{width: i})
	}
	m.close()

	for i := 0; i < n; i++ {
		cmd, ok := <-m.out
		if !ok {
			t.Fatalf("mailbox closed after %d of %d commands", i, n)
		}
		resize, isResize := cmd.(cmdResize)
		if !isResize || resize.width != i {
			t.Fatalf("command %d = %#v, want width %d", i, cmd, i)
		}
	}
	if _, ok := <-m.out; ok {
		t.Error("mailbox produced extra command after flush")
	}
}
