// Package framescanner runs the per-frame decode loop over a live video source.
//
// Each refresh the scanner copies the current video frame into the drawing
// surface, decodes it, and paints guidance or success feedback on top. The
// first hit of a generation ends the loop; after a confirmation delay the
// payload is resolved and handed to the hooks.
//
// A generation number, supplied by the owner, is the only authority for
// callback validity: a callback carrying a generation other than the active
// one does nothing.
package framescanner

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/e7canasta/orion-scan/internal/log"
	"github.com/e7canasta/orion-scan/internal/metrics"
	"github.com/e7canasta/orion-scan/modules/camera"
	"github.com/e7canasta/orion-scan/modules/decoder"
	"github.com/e7canasta/orion-scan/modules/overlay"
	"github.com/e7canasta/orion-scan/modules/resolver"
)

// DefaultConfirmationDelay is how long the success overlay stays before hand-off.
const DefaultConfirmationDelay = 1500 * time.Millisecond

// Surface is the drawing surface the loop paints into.
type Surface interface {
	// Paint sizes the buffer to width×height and runs fn on it. It returns
	// false when no drawing context is available.
	Paint(width, height int, fn func(buf *image.RGBA)) bool
}

// Hooks are invoked on the scheduler goroutine, never under the scanner lock.
// A panicking hook is logged and recovered.
type Hooks struct {
	// OnDetected fires once per generation, right after the success overlay.
	OnDetected func(gen uint64, res *decoder.Result)
	// OnResolved fires after the confirmation delay with the resolved reference.
	OnResolved func(gen uint64, ref resolver.ProductReference)
	// OnInvalidPayload fires instead of OnResolved when nothing can be resolved.
	OnInvalidPayload func(gen uint64, payload string)
}

// Options configures a Scanner. Scheduler and Surface are required.
type Options struct {
	Scheduler         Scheduler
	Surface           Surface
	Decoder           decoder.Decoder
	Resolver          *resolver.Resolver
	Renderer          *overlay.Renderer
	Hooks             Hooks
	ConfirmationDelay time.Duration
	GuidanceText      string
	SuccessText       string
	Logger            zerolog.Logger
}

type phase int

const (
	phaseIdle phase = iota
	phaseScanning
	phaseHandoff
)

// Scanner is the frame loop. Methods are safe for concurrent use and may be
// called from inside hooks.
type Scanner struct {
	sched    Scheduler
	surface  Surface
	dec      decoder.Decoder
	res      *resolver.Resolver
	renderer *overlay.Renderer
	hooks    Hooks
	guidance string
	success  string
	logger   zerolog.Logger

	mu       sync.Mutex
	gen      uint64
	phase    phase
	video    camera.VideoSource
	frameH   Handle
	handoffH Handle
	delay    time.Duration
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeMiss
	outcomeHit
)

// New validates opts and returns an idle Scanner.
func New(opts Options) (*Scanner, error) {
	if opts.Scheduler == nil {
		return nil, errors.New("framescanner: scheduler is required")
	}
	if opts.Surface == nil {
		return nil, errors.New("framescanner: surface is required")
	}
	if opts.ConfirmationDelay < 0 {
		return nil, fmt.Errorf("framescanner: invalid confirmation delay %s", opts.ConfirmationDelay)
	}

	s := &Scanner{
		sched:    opts.Scheduler,
		surface:  opts.Surface,
		dec:      opts.Decoder,
		res:      opts.Resolver,
		renderer: opts.Renderer,
		hooks:    opts.Hooks,
		guidance: opts.GuidanceText,
		success:  opts.SuccessText,
		logger:   opts.Logger,
		delay:    opts.ConfirmationDelay,
	}
	if s.dec == nil {
		s.dec = decoder.New()
	}
	if s.res == nil {
		s.res = resolver.New(resolver.DefaultPathKeyword)
	}
	if s.renderer == nil {
		s.renderer = overlay.NewRenderer(overlay.DefaultStyle())
	}
	if s.delay == 0 {
		s.delay = DefaultConfirmationDelay
	}
	return s, nil
}

// Run starts the loop for gen over video.
//
// A second call with the active generation is a no-op, whether the loop is
// still scanning or waiting to hand off. A call with another generation
// replaces whatever was running.
func (s *Scanner) Run(gen uint64, video camera.VideoSource) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != phaseIdle && s.gen == gen {
		return
	}
	s.cancelLocked()

	s.gen = gen
	s.video = video
	s.phase = phaseScanning
	s.frameH = s.sched.RequestFrame(s.frameFunc(gen))

	s.logger.Debug().Uint64(log.FieldGeneration, gen).Msg("framescanner: loop started")
}

// Stop cancels the pending frame and the pending hand-off. Idempotent.
func (s *Scanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == phaseIdle {
		return
	}
	s.cancelLocked()
	s.phase = phaseIdle
	s.video = nil

	s.logger.Debug().Uint64(log.FieldGeneration, s.gen).Msg("framescanner: loop stopped")
}

func (s *Scanner) cancelLocked() {
	if s.frameH != 0 {
		s.sched.Cancel(s.frameH)
		s.frameH = 0
	}
	if s.handoffH != 0 {
		s.sched.Cancel(s.handoffH)
		s.handoffH = 0
	}
}

// Active reports whether a loop or hand-off is pending.
func (s *Scanner) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase != phaseIdle
}

// SetConfirmationDelay changes the delay for hand-offs scheduled from now on.
// Zero restores DefaultConfirmationDelay, as it does in Options; negative
// values are ignored.
func (s *Scanner) SetConfirmationDelay(d time.Duration) {
	if d < 0 {
		return
	}
	if d == 0 {
		d = DefaultConfirmationDelay
	}
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

func (s *Scanner) frameFunc(gen uint64) FrameFunc {
	return func(now time.Time) { s.onFrame(gen, now) }
}

func (s *Scanner) onFrame(gen uint64, now time.Time) {
	s.mu.Lock()
	if s.phase != phaseScanning || s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.frameH = 0
	video := s.video
	s.mu.Unlock()

	out, res, info := s.processFrame(video, now)
	switch out {
	case outcomeHit:
		metrics.RecordFrame(metrics.OutcomeHit)
		s.detected(gen, res, info)
		return
	case outcomeMiss:
		metrics.RecordFrame(metrics.OutcomeMiss)
	default:
		metrics.RecordFrame(metrics.OutcomeSkipped)
	}

	s.mu.Lock()
	if s.phase == phaseScanning && s.gen == gen {
		s.frameH = s.sched.RequestFrame(s.frameFunc(gen))
	}
	s.mu.Unlock()
}

// processFrame handles one refresh. A panic is contained to the frame and
// counted as a miss. A hit is stamped with the capture time of the frame, or
// with now when the source does not report one.
func (s *Scanner) processFrame(video camera.VideoSource, now time.Time) (out outcome, res *decoder.Result, info camera.FrameInfo) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordFrame(metrics.OutcomeError)
			s.logger.Error().
				Interface("panic", r).
				Msg("framescanner: frame processing failed")
			out, res, info = outcomeMiss, nil, camera.FrameInfo{}
		}
	}()

	if video == nil || !video.HasData() {
		return outcomeSkipped, nil, info
	}

	// re-query every frame: the stream may rotate or report its real size late
	width, height := video.VideoSize()
	if width <= 0 || height <= 0 {
		return outcomeSkipped, nil, info
	}

	drawn := false
	painted := s.surface.Paint(width, height, func(buf *image.RGBA) {
		info, drawn = video.DrawTo(buf)
		if !drawn {
			return
		}

		start := time.Now()
		r, ok := s.dec.Decode(buf.Pix, width, height)
		metrics.ObserveDecode(metrics.SourceCamera, start)

		if ok {
			r.Timestamp = info.CapturedAt
			if r.Timestamp.IsZero() {
				r.Timestamp = now
			}
			res = r
			s.renderer.Success(buf, r.Corners, s.success)
			return
		}
		s.renderer.Guidance(buf, s.guidance)
	})

	switch {
	case !painted || !drawn:
		return outcomeSkipped, nil, camera.FrameInfo{}
	case res != nil:
		return outcomeHit, res, info
	default:
		s.logger.Trace().
			Uint64(log.FieldFrameSeq, info.Seq).
			Str(log.FieldResolution, fmt.Sprintf("%dx%d", width, height)).
			Msg("framescanner: no symbol")
		return outcomeMiss, nil, info
	}
}

func (s *Scanner) detected(gen uint64, res *decoder.Result, info camera.FrameInfo) {
	s.logger.Info().
		Uint64(log.FieldGeneration, gen).
		Str(log.FieldTraceID, info.TraceID).
		Uint64(log.FieldFrameSeq, info.Seq).
		Str(log.FieldPayload, res.RawPayload).
		Bool(log.FieldInverted, res.Inverted).
		Msg("framescanner: symbol detected")

	if s.hooks.OnDetected != nil {
		s.callHook(gen, "detected", func() { s.hooks.OnDetected(gen, res) })
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// stopped or replaced from inside the hook
	if s.phase != phaseScanning || s.gen != gen {
		return
	}
	s.phase = phaseHandoff
	s.video = nil
	s.handoffH = s.sched.AfterFunc(s.delay, func() { s.handoff(gen, res) })
}

func (s *Scanner) handoff(gen uint64, res *decoder.Result) {
	s.mu.Lock()
	if s.phase != phaseHandoff || s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.phase = phaseIdle
	s.handoffH = 0
	s.mu.Unlock()

	ref, ok := s.res.Resolve(res.RawPayload)
	if !ok {
		s.logger.Warn().Uint64(log.FieldGeneration, gen).Msg("framescanner: payload could not be resolved")
		if s.hooks.OnInvalidPayload != nil {
			s.callHook(gen, "invalid_payload", func() { s.hooks.OnInvalidPayload(gen, res.RawPayload) })
		}
		return
	}

	s.logger.Info().
		Uint64(log.FieldGeneration, gen).
		Str(log.FieldIdentifier, ref.Identifier).
		Str(log.FieldMethod, ref.Method.String()).
		Msg("framescanner: payload resolved")
	if s.hooks.OnResolved != nil {
		s.callHook(gen, "resolved", func() { s.hooks.OnResolved(gen, ref) })
	}
}

// callHook runs fn on the scheduler goroutine. A panic is logged and
// swallowed; the scan state machine continues as if fn had returned.
func (s *Scanner) callHook(gen uint64, event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Uint64(log.FieldGeneration, gen).
				Str(log.FieldEvent, event).
				Interface("panic", r).
				Msg("framescanner: hook failed")
		}
	}()
	fn()
}
