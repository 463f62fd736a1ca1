package daemon

import (
	"context"
	"testing"

	"github.com/pilebones/go-udev/netlink"

	"medley/internal/logging"
)

func TestNetlinkMonitorRunning(t *testing.T) {
	t.Run("nil monitor returns false", func(t *testing.T) {
		var m *netlinkMonitor
		if m.Running() {
			t.Error("expected Running() to return false for nil monitor")
		}
	})

	t.Run("unstarted monitor returns false", func(t *testing.T) {
		m := newNetlinkMonitor(logging.NewNop(), nil)
		if m.Running() {
			t.Error("expected Running() to return false for unstarted monitor")
		}
	})
}

func TestNetlinkMonitorStopStartIdempotency(t *testing.T) {
	t.Run("stop on nil monitor is safe", func(t *testing.T) {
		var m *netlinkMonitor
		m.Stop() // must not panic
	})

	t.Run("start on nil monitor is safe", func(t *testing.T) {
		var m *netlinkMonitor
		if err := m.Start(context.Background()); err != nil {
			t.Fatalf("Start on nil monitor should return nil, got: %v", err)
		}
	})

	t.Run("stop on unstarted monitor is safe", func(t *testing.T) {
		m := newNetlinkMonitor(logging.NewNop(), nil)
		m.Stop() // must not panic
		if m.Running() {
			t.Error("expected Running() to return false after Stop on unstarted monitor")
		}
	})

	t.Run("double stop is safe", func(t *testing.T) {
		m := newNetlinkMonitor(logging.NewNop(), nil)
		m.Stop() // first stop on unstarted
		m.Stop() // second stop - must not panic
	})

	t.Run("start after stop without prior start is safe", func(t *testing.T) {
		m := newNetlinkMonitor(logging.NewNop(), nil)
		m.Stop()
		// Start will try to connect to netlink (will fail in test env without
		// privileges) but must not panic or return a hard error
		_ = m.Start(context.Background())
		m.Stop()
	})
}

func TestNetlinkBuildMatcher(t *testing.T) {
	m := newNetlinkMonitor(logging.NewNop(), nil)

	matcher := m.buildMatcher()
	if matcher == nil {
		t.Fatal("expected non-nil matcher")
	}

	// Block device arrival matches
	addEvent := netlink.UEvent{
		Action: netlink.ADD,
		Env: map[string]string{
			"SUBSYSTEM": "block",
			"DEVNAME":   "/dev/sdb1",
		},
	}
	if !matcher.Evaluate(addEvent) {
		t.Error("expected matcher to accept ADD of block device")
	}

	// Block device removal matches too; a yanked drive invalidates roots
	removeEvent := netlink.UEvent{
		Action: netlink.REMOVE,
		Env: map[string]string{
			"SUBSYSTEM": "block",
			"DEVNAME":   "/dev/sdb1",
		},
	}
	if !matcher.Evaluate(removeEvent) {
		t.Error("expected matcher to accept REMOVE of block device")
	}

	// Media change on an existing device is not an attach/detach
	changeEvent := netlink.UEvent{
		Action: netlink.CHANGE,
		Env: map[string]string{
			"SUBSYSTEM": "block",
			"DEVNAME":   "/dev/sdb1",
		},
	}
	if matcher.Evaluate(changeEvent) {
		t.Error("expected matcher to reject CHANGE action")
	}

	// Non-block subsystems are someone else's problem
	usbEvent := netlink.UEvent{
		Action: netlink.ADD,
		Env: map[string]string{
			"SUBSYSTEM": "usb",
			"DEVNAME":   "/dev/bus/usb/001/004",
		},
	}
	if matcher.Evaluate(usbEvent) {
		t.Error("expected matcher to reject non-block subsystem")
	}
}

func TestNetlinkHandleEvent(t *testing.T) {
	t.Run("ignores event without device name", func(t *testing.T) {
		var handlerCalled bool
		handler := func(ctx context.Context, trigger string) {
			handlerCalled = true
		}

		m := newNetlinkMonitor(logging.NewNop(), handler)
		m.handleEvent(context.Background(), netlink.UEvent{
			Action: netlink.ADD,
			Env:    map[string]string{},
		})

		if handlerCalled {
			t.Error("handler should not be called for event without device name")
		}
	})

	t.Run("fires handler with device trigger", func(t *testing.T) {
		var receivedTrigger string
		handler := func(ctx context.Context, trigger string) {
			receivedTrigger = trigger
		}

		m := newNetlinkMonitor(logging.NewNop(), handler)
		m.handleEvent(context.Background(), netlink.UEvent{
			Action: netlink.ADD,
			Env: map[string]string{
				"DEVNAME": "/dev/sdb1",
			},
		})

		if receivedTrigger != "udev:/dev/sdb1" {
			t.Errorf("expected trigger udev:/dev/sdb1, got %s", receivedTrigger)
		}
	})

	t.Run("extracts device from DEVPATH when DEVNAME missing", func(t *testing.T) {
		var receivedTrigger string
		handler := func(ctx context.Context, trigger string) {
			receivedTrigger = trigger
		}

		m := newNetlinkMonitor(logging.NewNop(), handler)
		m.handleEvent(context.Background(), netlink.UEvent{
			Action: netlink.REMOVE,
			Env: map[string]string{
				"DEVPATH": "/devices/pci0000:00/0000:00:1f.2/ata1/host0/target0:0:0/0:0:0:0/block/sdb",
			},
		})

		if receivedTrigger != "udev:/dev/sdb" {
			t.Errorf("expected trigger udev:/dev/sdb from DEVPATH, got %s", receivedTrigger)
		}
	})

	t.Run("nil handler does not panic", func(t *testing.T) {
		m := newNetlinkMonitor(logging.NewNop(), nil)
		m.handleEvent(context.Background(), netlink.UEvent{
			Action: netlink.ADD,
			Env: map[string]string{
				"DEVNAME": "/dev/sdb1",
			},
		})
	})
}
