package overlay

import (
	"image"
	"sync"
)

// Canvas is the working drawing surface shared by the frame loop (writer) and
// the host display (reader).
//
// Paint reallocates the buffer only when the requested size changes, so a
// device that rotates or reports its real resolution late gets a correctly
// sized buffer on the next frame.
type Canvas struct {
	mu       sync.Mutex
	img      *image.RGBA
	detached bool
}

// NewCanvas returns an attached, empty canvas.
func NewCanvas() *Canvas {
	return &Canvas{}
}

// Paint resizes the buffer to width×height and runs fn on it while holding
// the canvas lock. It returns false without calling fn when the canvas is
// detached or the size is not positive.
func (c *Canvas) Paint(width, height int, fn func(buf *image.RGBA)) bool {
	if width <= 0 || height <= 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.detached {
		return false
	}
	if c.img == nil || c.img.Rect.Dx() != width || c.img.Rect.Dy() != height {
		c.img = image.NewRGBA(image.Rect(0, 0, width, height))
	}
	fn(c.img)
	return true
}

// Detach drops the drawing context; Paint fails until Attach.
func (c *Canvas) Detach() {
	c.mu.Lock()
	c.detached = true
	c.img = nil
	c.mu.Unlock()
}

// Attach restores the drawing context.
func (c *Canvas) Attach() {
	c.mu.Lock()
	c.detached = false
	c.mu.Unlock()
}

// Snapshot returns a copy of the current buffer, or nil if nothing has been painted.
func (c *Canvas) Snapshot() *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.img == nil {
		return nil
	}
	out := image.NewRGBA(c.img.Rect)
	copy(out.Pix, c.img.Pix)
	return out
}

// Size returns the current buffer size (0×0 before the first Paint).
func (c *Canvas) Size() (width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.img == nil {
		return 0, 0
	}
	return c.img.Rect.Dx(), c.img.Rect.Dy()
}
