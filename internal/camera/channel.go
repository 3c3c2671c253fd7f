package camera

import (
	"context"
	"sync"
)

// Channel serializes all access to a Camera. Only code running inside Do
// can reach the device, so the control registers and the capture queue
// always have a single owner.
type Channel struct {
	mu  sync.Mutex
	cam Camera
}

// NewChannel takes ownership of cam.
func NewChannel(cam Camera) *Channel {
	return &Channel{cam: cam}
}

// Handle is the device view granted inside an exclusive section. It must
// not be retained after the section returns.
type Handle struct {
	Camera
}

// Do runs fn with exclusive access to the camera. The context is checked
// before the lock is taken; an in-flight device call is never interrupted.
func (c *Channel) Do(ctx context.Context, fn func(h *Handle) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn(&Handle{Camera: c.cam})
}

// Close closes the underlying camera once no section is running.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cam.Close()
}
