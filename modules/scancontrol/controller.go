// Package scancontrol orchestrates a scan session: camera acquisition, the
// frame loop, upload decoding and the hand-off to navigation.
//
// Lifecycle transitions:
//
//	Idle      → Starting   Start
//	Starting  → Streaming  stream acquired
//	Starting  → Idle       acquisition failed or Stop
//	Streaming → Detected   first symbol of the generation
//	Streaming → Idle       Stop
//	Detected  → Idle       hand-off after the confirmation delay, or Stop
//	any       → Stopped    Close
//
// The generation counter increases on every Start and every Stop. Scanner
// callbacks carrying an older generation are ignored.
package scancontrol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/e7canasta/orion-scan/internal/log"
	"github.com/e7canasta/orion-scan/internal/metrics"
	"github.com/e7canasta/orion-scan/modules/camera"
	"github.com/e7canasta/orion-scan/modules/decoder"
	"github.com/e7canasta/orion-scan/modules/framescanner"
	"github.com/e7canasta/orion-scan/modules/overlay"
	"github.com/e7canasta/orion-scan/modules/resolver"
	"github.com/e7canasta/orion-scan/modules/upload"
)

// Options wires a Controller. Session, Scheduler, Surface and Navigator are
// required; the rest have defaults.
type Options struct {
	Session           *camera.Session
	Scheduler         framescanner.Scheduler
	Surface           framescanner.Surface
	Decoder           decoder.Decoder
	Resolver          *resolver.Resolver
	Renderer          *overlay.Renderer
	Uploads           *upload.Decoder
	Navigator         Navigator
	Observer          Observer
	PreferEnvironment bool
	ConfirmationDelay time.Duration
	Logger            zerolog.Logger
}

// Controller owns one scan session.
type Controller struct {
	session   *camera.Session
	scanner   *framescanner.Scanner
	resolver  *resolver.Resolver
	uploads   *upload.Decoder
	navigator Navigator
	observer  Observer
	preferEnv bool
	logger    zerolog.Logger

	mu            sync.Mutex
	lifecycle     Lifecycle
	generation    uint64
	sessionID     string
	lastError     error
	lastResult    *resolver.ProductReference
	cancelAcquire context.CancelFunc
}

// New validates opts and returns an Idle controller.
func New(opts Options) (*Controller, error) {
	if opts.Session == nil {
		return nil, errors.New("scancontrol: camera session is required")
	}
	if opts.Navigator == nil {
		return nil, errors.New("scancontrol: navigator is required")
	}
	if opts.Resolver == nil {
		opts.Resolver = resolver.New(resolver.DefaultPathKeyword)
	}
	if opts.Decoder == nil {
		opts.Decoder = decoder.New()
	}
	if opts.Uploads == nil {
		opts.Uploads = upload.New(opts.Decoder, upload.DefaultReferenceWidth, opts.Logger)
	}

	c := &Controller{
		session:   opts.Session,
		resolver:  opts.Resolver,
		uploads:   opts.Uploads,
		navigator: opts.Navigator,
		observer:  opts.Observer,
		preferEnv: opts.PreferEnvironment,
		logger:    opts.Logger,
	}

	scanner, err := framescanner.New(framescanner.Options{
		Scheduler:         opts.Scheduler,
		Surface:           opts.Surface,
		Decoder:           opts.Decoder,
		Resolver:          opts.Resolver,
		Renderer:          opts.Renderer,
		ConfirmationDelay: opts.ConfirmationDelay,
		Logger:            opts.Logger,
		Hooks: framescanner.Hooks{
			OnDetected:       c.onDetected,
			OnResolved:       c.onResolved,
			OnInvalidPayload: c.onInvalidPayload,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("scancontrol: %w", err)
	}
	c.scanner = scanner
	return c, nil
}

// Start acquires the camera and starts the frame loop. It blocks until the
// acquisition finishes and returns its error, if any.
//
// Start outside Idle is a no-op. A Stop while Start is acquiring cancels the
// acquisition; a stream that still arrives is released and Start returns nil.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.lifecycle == Stopped {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.lifecycle != Idle {
		c.mu.Unlock()
		return nil
	}

	c.generation++
	gen := c.generation
	c.sessionID = uuid.NewString()
	c.lastError = nil
	acqCtx, cancel := context.WithCancel(ctx)
	c.cancelAcquire = cancel
	c.transitionLocked(Starting)
	st := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(st)

	stream, err := c.session.Acquire(acqCtx, c.preferEnv)
	cancel()

	c.mu.Lock()
	if c.generation != gen || c.lifecycle != Starting {
		c.mu.Unlock()
		if err == nil {
			c.session.Discard(stream)
		}
		c.logger.Debug().
			Uint64(log.FieldGeneration, gen).
			Msg("scancontrol: acquisition outlived its generation")
		return nil
	}
	c.cancelAcquire = nil

	if err != nil {
		if !camera.IsCanceled(err) {
			c.lastError = err
		}
		c.transitionLocked(Idle)
		st = c.snapshotLocked()
		c.mu.Unlock()
		c.notify(st)
		return err
	}

	c.transitionLocked(Streaming)
	c.scanner.Run(gen, stream)
	st = c.snapshotLocked()
	c.mu.Unlock()
	c.notify(st)
	return nil
}

// Stop ends scanning: it cancels a pending acquisition, the frame loop and a
// pending hand-off, releases the camera and returns to Idle. Idempotent.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.lifecycle == Stopped {
		c.mu.Unlock()
		return
	}
	c.haltLocked()
	c.transitionLocked(Idle)
	st := c.snapshotLocked()
	c.mu.Unlock()

	c.session.Release()
	c.notify(st)
}

// Close stops everything and makes the controller unusable. Idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.lifecycle == Stopped {
		c.mu.Unlock()
		return
	}
	c.haltLocked()
	c.transitionLocked(Stopped)
	st := c.snapshotLocked()
	c.mu.Unlock()

	c.session.Release()
	c.notify(st)
}

func (c *Controller) haltLocked() {
	c.generation++
	if c.cancelAcquire != nil {
		c.cancelAcquire()
		c.cancelAcquire = nil
	}
	c.scanner.Stop()
}

// HandleUpload decodes an uploaded image and hands the reference off. It does
// not change the lifecycle; LastResult and LastError are updated.
func (c *Controller) HandleUpload(ctx context.Context, blob upload.Blob) (resolver.ProductReference, error) {
	c.mu.Lock()
	closed := c.lifecycle == Stopped
	c.mu.Unlock()
	if closed {
		return resolver.ProductReference{}, ErrClosed
	}

	res, err := c.uploads.Decode(ctx, blob)
	if err != nil {
		c.fail(err)
		return resolver.ProductReference{}, err
	}

	ref, ok := c.resolver.Resolve(res.RawPayload)
	if !ok {
		err := fmt.Errorf("%w: upload %q", ErrInvalidPayload, blob.Name)
		c.fail(err)
		return resolver.ProductReference{}, err
	}

	c.logger.Info().
		Str(log.FieldIdentifier, ref.Identifier).
		Str(log.FieldMethod, ref.Method.String()).
		Str("file", blob.Name).
		Msg("scancontrol: upload resolved")
	c.deliver(ref)
	return ref, nil
}

// State returns a snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// SetConfirmationDelay changes the success-overlay duration for later detections.
func (c *Controller) SetConfirmationDelay(d time.Duration) {
	c.scanner.SetConfirmationDelay(d)
}

// SetReferenceWidth changes the upload rescale target.
func (c *Controller) SetReferenceWidth(w int) {
	c.uploads.SetReferenceWidth(w)
}

func (c *Controller) onDetected(gen uint64, res *decoder.Result) {
	c.mu.Lock()
	if gen != c.generation || c.lifecycle != Streaming {
		c.mu.Unlock()
		return
	}
	c.transitionLocked(Detected)
	st := c.snapshotLocked()
	c.mu.Unlock()

	// the camera is not needed during the confirmation delay
	c.session.Release()
	c.notify(st)
}

func (c *Controller) onResolved(gen uint64, ref resolver.ProductReference) {
	c.mu.Lock()
	if gen != c.generation || c.lifecycle != Detected {
		c.mu.Unlock()
		return
	}
	c.transitionLocked(Idle)
	c.mu.Unlock()

	c.deliver(ref)
}

func (c *Controller) onInvalidPayload(gen uint64, payload string) {
	c.mu.Lock()
	if gen != c.generation || c.lifecycle != Detected {
		c.mu.Unlock()
		return
	}
	c.lastError = fmt.Errorf("%w: %q", ErrInvalidPayload, payload)
	c.transitionLocked(Idle)
	st := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(st)
}

func (c *Controller) deliver(ref resolver.ProductReference) {
	c.mu.Lock()
	r := ref
	c.lastResult = &r
	c.lastError = nil
	st := c.snapshotLocked()
	c.mu.Unlock()

	metrics.RecordHandoff(ref.Method.String())
	c.navigator.Navigate(ref)
	c.notify(st)
}

func (c *Controller) fail(err error) {
	c.mu.Lock()
	c.lastError = err
	st := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(st)
}

func (c *Controller) transitionLocked(to Lifecycle) {
	if c.lifecycle == to {
		return
	}
	c.logger.Info().
		Str(log.FieldSessionID, c.sessionID).
		Uint64(log.FieldGeneration, c.generation).
		Str(log.FieldOldState, c.lifecycle.String()).
		Str(log.FieldNewState, to.String()).
		Msg("scancontrol: state changed")
	c.lifecycle = to
}

func (c *Controller) snapshotLocked() State {
	return State{
		Lifecycle:  c.lifecycle,
		Permission: c.session.Permission(),
		Generation: c.generation,
		SessionID:  c.sessionID,
		LastError:  c.lastError,
		LastResult: c.lastResult,
	}
}

func (c *Controller) notify(st State) {
	if c.observer != nil {
		c.observer(st)
	}
}
