package audiodevice

import (
	"sync"
	"time"
)

// NullCapture is a Capture that yields silence, paced to the configured
// frame duration so callers relying on Read's blocking behavior still see
// realistic timing in tests and headless deployments.
type NullCapture struct {
	frameDur time.Duration
	mu       sync.Mutex
	closed   bool
}

// NewNullCapture returns a NullCapture pacing reads at frameDur.
func NewNullCapture(frameDur time.Duration) *NullCapture {
	return &NullCapture{frameDur: frameDur}
}

// Read implements Capture.
func (c *NullCapture) Read(buf []int16) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return errClosed
	}
	time.Sleep(c.frameDur)
	for i := range buf {
		buf[i] = 0
	}
	return nil
}

// Close implements Capture.
func (c *NullCapture) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// NullPlayback is a Playback that discards every frame after pacing to the
// configured frame duration.
type NullPlayback struct {
	frameDur time.Duration
	mu       sync.Mutex
	closed   bool
}

// NewNullPlayback returns a NullPlayback pacing writes at frameDur.
func NewNullPlayback(frameDur time.Duration) *NullPlayback {
	return &NullPlayback{frameDur: frameDur}
}

// Write implements Playback.
func (p *NullPlayback) Write(buf []int16) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return errClosed
	}
	time.Sleep(p.frameDur)
	return nil
}

// Close implements Playback.
func (p *NullPlayback) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}
