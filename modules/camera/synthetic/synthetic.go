// Package synthetic is a camera.Device that replays a fixed image sequence.
//
// Each DrawTo shows the current image and advances; the last image repeats
// until the stream is stopped. Failures, missing facings and slow opens can
// be injected for tests and demos.
package synthetic

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-scan/modules/camera"
	"github.com/e7canasta/orion-scan/modules/decoder"
)

// Device replays frames. The zero value is not usable; call New or FromDir.
type Device struct {
	frames []*image.RGBA

	mu          sync.Mutex
	failures    []error
	unavailable map[camera.Facing]bool
	gate        chan struct{}
	ignoreCtx   bool
	opens       []camera.Constraints
	streams     []*Stream
}

// New returns a Device replaying frames in order.
func New(frames ...image.Image) *Device {
	d := &Device{unavailable: make(map[camera.Facing]bool)}
	for _, f := range frames {
		d.frames = append(d.frames, decoder.ToRGBA(f))
	}
	return d
}

// FromDir loads every png, jpeg and gif file of dir in lexical order.
func FromDir(dir string) (*Device, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("synthetic: read dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg", ".gif":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("synthetic: no images in %s", dir)
	}

	imgs := make([]image.Image, 0, len(names))
	for _, name := range names {
		img, err := loadImage(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		imgs = append(imgs, img)
	}
	return New(imgs...), nil
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("synthetic: open %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("synthetic: decode %s: %w", path, err)
	}
	return img, nil
}

// FailNext makes the next len(errs) opens fail with errs, in order.
func (d *Device) FailNext(errs ...error) {
	d.mu.Lock()
	d.failures = append(d.failures, errs...)
	d.mu.Unlock()
}

// WithoutFacing makes opens asking for f fail with KindConstraintsUnsatisfiable.
func (d *Device) WithoutFacing(f camera.Facing) *Device {
	d.mu.Lock()
	d.unavailable[f] = true
	d.mu.Unlock()
	return d
}

// Hold makes opens block until the returned release func is called.
// With ignoreCancel the blocked open also ignores ctx, modelling a platform
// that delivers a stream after the caller gave up.
func (d *Device) Hold(ignoreCancel bool) (release func()) {
	gate := make(chan struct{})
	d.mu.Lock()
	d.gate = gate
	d.ignoreCtx = ignoreCancel
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			d.gate = nil
			d.mu.Unlock()
			close(gate)
		})
	}
}

// Opens returns the constraints of every Open call so far.
func (d *Device) Opens() []camera.Constraints {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]camera.Constraints(nil), d.opens...)
}

// Streams returns every stream handed out so far.
func (d *Device) Streams() []*Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Stream(nil), d.streams...)
}

// Open implements camera.Device.
func (d *Device) Open(ctx context.Context, c camera.Constraints) (camera.Stream, error) {
	d.mu.Lock()
	d.opens = append(d.opens, c)
	gate, ignoreCtx := d.gate, d.ignoreCtx
	d.mu.Unlock()

	if gate != nil {
		if ignoreCtx {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.failures) > 0 {
		err := d.failures[0]
		d.failures = d.failures[1:]
		return nil, err
	}
	if d.unavailable[c.Facing] {
		return nil, camera.NewError(camera.KindConstraintsUnsatisfiable,
			fmt.Errorf("no %s-facing camera", c.Facing))
	}
	if len(d.frames) == 0 {
		return nil, camera.NewError(camera.KindNoDeviceFound, fmt.Errorf("no frames configured"))
	}

	s := &Stream{
		id:     uuid.NewString(),
		frames: d.frames,
		track:  &Track{id: uuid.NewString()},
	}
	s.track.live.Store(true)
	d.streams = append(d.streams, s)
	return s, nil
}

// Stream is a replaying camera.Stream.
type Stream struct {
	id     string
	frames []*image.RGBA
	track  *Track

	mu    sync.Mutex
	index int
	drawn int
}

// ID implements camera.Stream.
func (s *Stream) ID() string { return s.id }

// Tracks implements camera.Stream.
func (s *Stream) Tracks() []camera.Track { return []camera.Track{s.track} }

// HasData implements camera.VideoSource.
func (s *Stream) HasData() bool {
	return s.track.Live()
}

// VideoSize implements camera.VideoSource.
func (s *Stream) VideoSize() (width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.frames[s.index].Rect
	return b.Dx(), b.Dy()
}

// DrawTo implements camera.VideoSource. Frames are stamped when drawn.
func (s *Stream) DrawTo(dst *image.RGBA) (camera.FrameInfo, bool) {
	if !s.track.Live() {
		return camera.FrameInfo{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.frames[s.index]
	if dst.Rect.Dx() != src.Rect.Dx() || dst.Rect.Dy() != src.Rect.Dy() {
		return camera.FrameInfo{}, false
	}
	for y := 0; y < src.Rect.Dy(); y++ {
		copy(dst.Pix[y*dst.Stride:y*dst.Stride+src.Rect.Dx()*4], src.Pix[y*src.Stride:])
	}
	if s.index < len(s.frames)-1 {
		s.index++
	}
	s.drawn++
	return camera.FrameInfo{
		Seq:        uint64(s.drawn),
		CapturedAt: time.Now(),
		TraceID:    uuid.NewString(),
	}, true
}

// Drawn counts successful DrawTo calls.
func (s *Stream) Drawn() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drawn
}

// Track is the single video track of a Stream.
type Track struct {
	id   string
	live atomic.Bool
}

// ID implements camera.Track.
func (t *Track) ID() string { return t.id }

// Stop implements camera.Track.
func (t *Track) Stop() { t.live.Store(false) }

// Live implements camera.Track.
func (t *Track) Live() bool { return t.live.Load() }
