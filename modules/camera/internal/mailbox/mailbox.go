// Package mailbox is the latest-frame slot between a capture callback thread
// and the frame loop.
//
// Publish never blocks: a new frame replaces the previous one, and replacing a
// frame nobody read counts as a drop. Latest never consumes: the current frame
// stays readable until a newer one arrives or the mailbox closes, the same
// way a video element keeps showing its last picture.
package mailbox

import (
	"sync"
	"sync/atomic"
	"time"
)

// Frame is one tightly packed RGBA picture.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Pix       []byte
	TraceID   string
}

// Stats is a snapshot of mailbox counters.
type Stats struct {
	Published uint64
	Drops     uint64 // frames overwritten before anyone read them
}

// Mailbox is a single-slot overwrite buffer.
type Mailbox struct {
	mu     sync.Mutex
	frame  *Frame
	unread bool
	closed bool

	published uint64 // atomic
	drops     uint64 // atomic
}

// New returns an empty, open mailbox.
func New() *Mailbox {
	return &Mailbox{}
}

// Publish stores frame as the current one. frame.Pix must not be modified
// afterwards. Publishing to a closed mailbox is a no-op.
func (m *Mailbox) Publish(frame *Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if m.unread {
		atomic.AddUint64(&m.drops, 1)
	}
	m.frame = frame
	m.unread = true
	atomic.AddUint64(&m.published, 1)
}

// Latest returns the current frame. ok is false before the first Publish
// and after Close.
func (m *Mailbox) Latest() (frame *Frame, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.frame == nil {
		return nil, false
	}
	m.unread = false
	return m.frame, true
}

// Peek returns the current frame without marking it read.
func (m *Mailbox) Peek() (frame *Frame, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.frame == nil {
		return nil, false
	}
	return m.frame, true
}

// Close drops the current frame; later publishes are ignored. Idempotent.
func (m *Mailbox) Close() {
	m.mu.Lock()
	m.closed = true
	m.frame = nil
	m.unread = false
	m.mu.Unlock()
}

// Closed reports whether Close has been called.
func (m *Mailbox) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Stats returns current counters.
func (m *Mailbox) Stats() Stats {
	return Stats{
		Published: atomic.LoadUint64(&m.published),
		Drops:     atomic.LoadUint64(&m.drops),
	}
}
