package camera

import (
	"context"
	"image"
	"time"
)

// Facing selects which camera an open should prefer.
type Facing int

const (
	// FacingAny accepts whatever camera the device offers.
	FacingAny Facing = iota
	// FacingEnvironment asks for the rear (world-facing) camera.
	FacingEnvironment
	// FacingUser asks for the front (selfie) camera.
	FacingUser
)

// String returns a human-readable representation of the facing mode.
func (f Facing) String() string {
	switch f {
	case FacingAny:
		return "any"
	case FacingEnvironment:
		return "environment"
	case FacingUser:
		return "user"
	default:
		return "unknown"
	}
}

// Constraints describe what an open asks of a device.
type Constraints struct {
	Facing Facing
	// Width and Height are ideal resolutions; zero means device default.
	Width  int
	Height int
}

// Device opens video streams.
//
// Implementations should return an *AcquisitionError so failures can be
// classified; plain errors are treated as KindGenericFailure.
type Device interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Track is one media track of a stream.
type Track interface {
	ID() string
	// Stop ends the track and frees its resources. Idempotent.
	Stop()
	Live() bool
}

// VideoSource is the per-frame view of a stream used by the frame loop.
type VideoSource interface {
	// HasData reports whether a current frame is available.
	HasData() bool
	// VideoSize is the native size of the current frame. It may change
	// between frames (rotation, late resolution report).
	VideoSize() (width, height int)
	// DrawTo copies the current frame into dst, which must already have
	// the size returned by VideoSize. It returns false if the frame is gone
	// or its size no longer matches.
	DrawTo(dst *image.RGBA) (FrameInfo, bool)
}

// FrameInfo identifies the frame a DrawTo call copied.
type FrameInfo struct {
	Seq        uint64
	CapturedAt time.Time
	TraceID    string
}

// Stream is an acquired video stream.
type Stream interface {
	VideoSource
	ID() string
	Tracks() []Track
}
