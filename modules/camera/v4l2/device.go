// Package v4l2 is a camera.Device backed by a GStreamer v4l2src pipeline.
package v4l2

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-scan/internal/log"
	"github.com/e7canasta/orion-scan/modules/camera"
	"github.com/e7canasta/orion-scan/modules/camera/internal/mailbox"
)

// DefaultDevice is used for unconstrained opens when none is configured.
const DefaultDevice = "/dev/video0"

const (
	playingTimeout = 5 * time.Second
	stopTimeout    = 3 * time.Second
)

// Config maps facing modes to device nodes.
type Config struct {
	// EnvironmentDevice is the world-facing camera node. Empty means the
	// host has none, so environment-facing opens are unsatisfiable.
	EnvironmentDevice string
	// UserDevice is the front camera node, if any.
	UserDevice string
	// DefaultDevice serves unconstrained opens.
	DefaultDevice string
	// Width and Height request a resolution; zero keeps the native one.
	Width  int
	Height int
}

func (c Config) withDefaults() Config {
	if c.DefaultDevice == "" {
		c.DefaultDevice = DefaultDevice
	}
	return c
}

func (c Config) node(f camera.Facing) (string, bool) {
	switch f {
	case camera.FacingEnvironment:
		return c.EnvironmentDevice, c.EnvironmentDevice != ""
	case camera.FacingUser:
		return c.UserDevice, c.UserDevice != ""
	default:
		return c.DefaultDevice, c.DefaultDevice != ""
	}
}

// Device opens V4L2 capture nodes.
type Device struct {
	cfg    Config
	logger zerolog.Logger
}

// New returns a Device.
func New(cfg Config, logger zerolog.Logger) *Device {
	return &Device{cfg: cfg.withDefaults(), logger: logger}
}

// Open implements camera.Device.
//
// The node is probed before GStreamer is involved so that missing devices
// and permission problems get precise kinds. Open then waits, bounded by ctx
// and a fixed timeout, for the pipeline to reach PLAYING.
func (d *Device) Open(ctx context.Context, c camera.Constraints) (camera.Stream, error) {
	node, ok := d.cfg.node(c.Facing)
	if !ok {
		return nil, camera.NewError(camera.KindConstraintsUnsatisfiable,
			fmt.Errorf("no %s-facing device configured", c.Facing))
	}
	if err := probe(node, c.Facing); err != nil {
		return nil, err
	}

	width, height := d.cfg.Width, d.cfg.Height
	if c.Width > 0 && c.Height > 0 {
		width, height = c.Width, c.Height
	}

	elements, err := createPipeline(node, width, height)
	if err != nil {
		return nil, camera.NewError(camera.KindGenericFailure, err)
	}

	logger := d.logger.With().Str(log.FieldDevice, node).Logger()
	s := newStream(node, elements, logger)

	elements.AppSink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return onNewSample(sink, s.callbackCtx)
		},
	})

	if err := elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		_ = destroyPipeline(elements)
		return nil, camera.NewError(camera.KindGenericFailure, fmt.Errorf("failed to start pipeline: %w", err))
	}

	if err := waitPlaying(ctx, elements.Pipeline); err != nil {
		_ = destroyPipeline(elements)
		return nil, err
	}

	s.start()
	logger.Info().
		Str(log.FieldFacing, c.Facing.String()).
		Str("stream_id", s.id).
		Msg("v4l2: pipeline playing")
	return s, nil
}

// probe checks that node exists and can be opened.
func probe(node string, f camera.Facing) error {
	if _, err := os.Stat(node); err != nil {
		if errors.Is(err, os.ErrNotExist) && f != camera.FacingAny {
			return camera.NewError(camera.KindConstraintsUnsatisfiable, err)
		}
		return camera.NewError(camera.KindOf(err), err)
	}

	fd, err := os.OpenFile(node, os.O_RDWR, 0)
	if err != nil {
		return camera.NewError(camera.KindOf(err), err)
	}
	return fd.Close()
}

// waitPlaying polls the bus until the pipeline reports PLAYING, an error, or
// ctx ends.
func waitPlaying(ctx context.Context, pipeline *gst.Pipeline) error {
	bus := pipeline.GetPipelineBus()
	deadline := time.Now().Add(playingTimeout)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return camera.NewError(camera.KindGenericFailure,
				fmt.Errorf("pipeline did not reach PLAYING within %s", playingTimeout))
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			return camera.NewError(ClassifyGStreamerError(gerr),
				fmt.Errorf("%s: %s", gerr.Error(), gerr.DebugString()))

		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				if _, newState := msg.ParseStateChanged(); newState == gst.StatePlaying {
					return nil
				}
			}
		}
	}
}

// Stream is a live V4L2 camera.Stream.
type Stream struct {
	id       string
	node     string
	elements *pipelineElements
	mailbox  *mailbox.Mailbox
	track    *Track
	logger   zerolog.Logger

	callbackCtx *callbackContext
	frameCount  uint64
	bytesRead   uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newStream(node string, elements *pipelineElements, logger zerolog.Logger) *Stream {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Stream{
		id:       uuid.NewString(),
		node:     node,
		elements: elements,
		mailbox:  mailbox.New(),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.callbackCtx = &callbackContext{
		Mailbox:      s.mailbox,
		FrameCounter: &s.frameCount,
		BytesRead:    &s.bytesRead,
		Logger:       logger,
	}
	s.track = &Track{id: uuid.NewString(), stream: s}
	s.track.live.Store(true)
	return s
}

func (s *Stream) start() {
	s.wg.Add(1)
	go s.monitor()
}

// monitor watches the bus; an error or EOS ends the track.
func (s *Stream) monitor() {
	defer s.wg.Done()

	bus := s.elements.Pipeline.GetPipelineBus()
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			s.logger.Info().
				Uint64("frames", atomic.LoadUint64(&s.frameCount)).
				Msg("v4l2: end of stream")
			s.track.end()
			return

		case gst.MessageError:
			gerr := msg.ParseError()
			s.logger.Error().
				Str(log.FieldKind, ClassifyGStreamerError(gerr).String()).
				Str("debug", gerr.DebugString()).
				Uint64("frames", atomic.LoadUint64(&s.frameCount)).
				Msg("v4l2: pipeline error: " + gerr.Error())
			s.track.end()
			return
		}
	}
}

// ID implements camera.Stream.
func (s *Stream) ID() string { return s.id }

// Tracks implements camera.Stream.
func (s *Stream) Tracks() []camera.Track { return []camera.Track{s.track} }

// HasData implements camera.VideoSource.
func (s *Stream) HasData() bool {
	if !s.track.Live() {
		return false
	}
	_, ok := s.mailbox.Peek()
	return ok
}

// VideoSize implements camera.VideoSource.
func (s *Stream) VideoSize() (width, height int) {
	f, ok := s.mailbox.Peek()
	if !ok {
		return 0, 0
	}
	return f.Width, f.Height
}

// DrawTo implements camera.VideoSource.
func (s *Stream) DrawTo(dst *image.RGBA) (camera.FrameInfo, bool) {
	f, ok := s.mailbox.Latest()
	if !ok || dst.Rect.Dx() != f.Width || dst.Rect.Dy() != f.Height {
		return camera.FrameInfo{}, false
	}
	row := f.Width * 4
	for y := 0; y < f.Height; y++ {
		copy(dst.Pix[y*dst.Stride:y*dst.Stride+row], f.Pix[y*row:(y+1)*row])
	}
	return camera.FrameInfo{Seq: f.Seq, CapturedAt: f.Timestamp, TraceID: f.TraceID}, true
}

// Stats reports capture counters.
func (s *Stream) Stats() (frames, bytesRead, drops uint64) {
	return atomic.LoadUint64(&s.frameCount), atomic.LoadUint64(&s.bytesRead), s.mailbox.Stats().Drops
}

func (s *Stream) shutdown() {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		s.logger.Warn().Msg("v4l2: stop timeout exceeded, monitor may still be running")
	}

	if err := destroyPipeline(s.elements); err != nil {
		s.logger.Error().Err(err).Msg("v4l2: failed to destroy pipeline")
	}
	s.mailbox.Close()

	frames, bytesRead, drops := s.Stats()
	s.logger.Info().
		Uint64("frames", frames).
		Uint64("bytes", bytesRead).
		Uint64("drops", drops).
		Msg("v4l2: stream stopped")
}

// Track is the video track of a Stream.
type Track struct {
	id     string
	stream *Stream
	live   atomic.Bool
	once   sync.Once
}

// ID implements camera.Track.
func (t *Track) ID() string { return t.id }

// Live implements camera.Track.
func (t *Track) Live() bool { return t.live.Load() }

// Stop implements camera.Track: tears the pipeline down. Idempotent.
func (t *Track) Stop() {
	t.once.Do(func() {
		t.live.Store(false)
		t.stream.shutdown()
	})
}

// end marks the track dead without tearing down; Stop still cleans up.
func (t *Track) end() {
	t.live.Store(false)
	t.stream.mailbox.Close()
}
