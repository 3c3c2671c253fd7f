//go:build linux

package hotplug

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"
)

func TestParseUEvent(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		ok        bool
		action    string
		subsystem string
		node      string
	}{
		{"empty", "", false, "", "", ""},
		{"no separator", "invalid", false, "", "", ""},
		{"missing action", "@/devices/foo", false, "", "", ""},
		{"libudev header", "libudev\x00\xfe\xed\x00add@/devices/x\x00", false, "", "", ""},
		{"camera added", "add@/devices/pci0000:00/video4linux/video0\x00SUBSYSTEM=video4linux\x00DEVNAME=video0\x00", true, "add", "video4linux", "/dev/video0"},
		{"absolute devname", "remove@/devices/v/video2\x00SUBSYSTEM=video4linux\x00DEVNAME=/dev/video2\x00", true, "remove", "video4linux", "/dev/video2"},
		{"no node", "change@/devices/usb/1-1\x00SUBSYSTEM=usb\x00\x00", true, "change", "usb", ""},
		{"malformed pair", "add@/devices/x\x00GARBAGE\x00=v\x00SUBSYSTEM=video4linux\x00", true, "add", "video4linux", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := ParseUEvent([]byte(tt.input))
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if ev.Action != tt.action || ev.Subsystem != tt.subsystem || ev.Node() != tt.node {
				t.Errorf("got action=%q subsystem=%q node=%q", ev.Action, ev.Subsystem, ev.Node())
			}
		})
	}
}

func TestParseUEventKeepsEnv(t *testing.T) {
	ev, ok := ParseUEvent([]byte("add@/d\x00SUBSYSTEM=video4linux\x00ID_SERIAL=cam_1234\x00EMPTY=\x00"))
	if !ok {
		t.Fatal("expected event")
	}
	if ev.Env["ID_SERIAL"] != "cam_1234" {
		t.Errorf("ID_SERIAL = %q", ev.Env["ID_SERIAL"])
	}
	if v, present := ev.Env["EMPTY"]; !present || v != "" {
		t.Errorf("EMPTY = %q, present = %v", v, present)
	}
}

func newTestMonitor(t *testing.T) *Monitor {
	t.Helper()
	m, err := NewMonitor()
	if err != nil {
		if errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPROTONOSUPPORT) {
			t.Skipf("netlink unavailable: %v", err)
		}
		t.Fatalf("NewMonitor: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestMonitorDefaultsToVideo(t *testing.T) {
	m := newTestMonitor(t)
	if _, ok := m.subsystems[SubsystemVideo4Linux]; !ok || len(m.subsystems) != 1 {
		t.Errorf("subsystems = %v", m.subsystems)
	}
}

func TestWatchNodeReturnsOnCancel(t *testing.T) {
	m := newTestMonitor(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- m.WatchNode(ctx, "/dev/video99", func(Event) {})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("WatchNode = %v, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("WatchNode did not return after cancel")
	}
}
