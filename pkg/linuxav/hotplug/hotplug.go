//go:build linux

// Package hotplug reports video device arrival and removal from kernel
// uevents, read straight off a netlink socket without cgo or udev.
package hotplug

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"syscall"
)

// Uevent actions a camera node cares about.
const (
	ActionAdd    = "add"
	ActionRemove = "remove"
	ActionChange = "change"
)

// SubsystemVideo4Linux is the kernel subsystem of /dev/videoN nodes.
const SubsystemVideo4Linux = "video4linux"

const (
	netlinkKobjectUEvent = 15
	kernelGroup          = 1
	recvBufferSize       = 8192
)

// Event is one kernel uevent.
type Event struct {
	Action    string
	Subsystem string
	DevName   string // relative to /dev, e.g. "video0"
	Env       map[string]string
}

// Node returns the /dev path of the event's device, or "" if the event
// names none.
func (e Event) Node() string {
	if e.DevName == "" {
		return ""
	}
	if strings.HasPrefix(e.DevName, "/") {
		return e.DevName
	}
	return "/dev/" + e.DevName
}

// Monitor reads uevents for a fixed set of subsystems.
type Monitor struct {
	fd         int
	subsystems map[string]struct{}
}

// NewMonitor opens a netlink socket on the kernel broadcast group. With no
// subsystems given, only video4linux events are reported.
func NewMonitor(subsystems ...string) (*Monitor, error) {
	if len(subsystems) == 0 {
		subsystems = []string{SubsystemVideo4Linux}
	}

	fd, err := syscall.Socket(syscall.AF_NETLINK, syscall.SOCK_DGRAM|syscall.SOCK_CLOEXEC, netlinkKobjectUEvent)
	if err != nil {
		return nil, err
	}
	if err := syscall.Bind(fd, &syscall.SockaddrNetlink{Family: syscall.AF_NETLINK, Groups: kernelGroup}); err != nil {
		_ = syscall.Close(fd)
		return nil, err
	}
	// Receive wakes once a second so Next can observe ctx
	tv := syscall.Timeval{Sec: 1}
	if err := syscall.SetsockoptTimeval(fd, syscall.SOL_SOCKET, syscall.SO_RCVTIMEO, &tv); err != nil {
		_ = syscall.Close(fd)
		return nil, err
	}

	m := &Monitor{fd: fd, subsystems: make(map[string]struct{}, len(subsystems))}
	for _, s := range subsystems {
		m.subsystems[s] = struct{}{}
	}
	return m, nil
}

// Close releases the socket.
func (m *Monitor) Close() error {
	return syscall.Close(m.fd)
}

// Next blocks until a matching event arrives or ctx is done.
func (m *Monitor) Next(ctx context.Context) (Event, error) {
	buf := make([]byte, recvBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}

		n, _, err := syscall.Recvfrom(m.fd, buf, 0)
		if err != nil {
			if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EINTR) {
				continue
			}
			return Event{}, err
		}

		ev, ok := ParseUEvent(buf[:n])
		if !ok {
			continue
		}
		if _, want := m.subsystems[ev.Subsystem]; want {
			return ev, nil
		}
	}
}

// WatchNode calls fn for every add or remove of the device node path until
// ctx is done. It returns nil on cancellation.
func (m *Monitor) WatchNode(ctx context.Context, path string, fn func(Event)) error {
	for {
		ev, err := m.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if ev.Node() != path {
			continue
		}
		if ev.Action == ActionAdd || ev.Action == ActionRemove {
			fn(ev)
		}
	}
}

// ParseUEvent decodes "ACTION@KOBJ\0KEY=VALUE\0...". Messages rebroadcast by
// udevd carry a binary "libudev" header and are rejected.
func ParseUEvent(data []byte) (Event, bool) {
	if len(data) == 0 || bytes.HasPrefix(data, []byte("libudev")) {
		return Event{}, false
	}

	parts := bytes.Split(data, []byte{0})
	action, _, found := strings.Cut(string(parts[0]), "@")
	if !found || action == "" {
		return Event{}, false
	}

	ev := Event{Action: action, Env: make(map[string]string, len(parts)-1)}
	for _, part := range parts[1:] {
		key, value, ok := strings.Cut(string(part), "=")
		if !ok || key == "" {
			continue
		}
		ev.Env[key] = value
		switch key {
		case "SUBSYSTEM":
			ev.Subsystem = value
		case "DEVNAME":
			ev.DevName = value
		}
	}
	return ev, true
}
