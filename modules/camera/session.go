// Package camera owns camera acquisition for a scan session.
//
// A Session holds at most one stream. Acquire always tears down the previous
// stream first, prefers the environment-facing camera and falls back once to
// an unconstrained open when the preference cannot be satisfied. Permission
// denials are never retried.
package camera

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/e7canasta/orion-scan/internal/log"
	"github.com/e7canasta/orion-scan/internal/metrics"
)

// Session manages the single live stream of a scan session.
//
// Thread-safety: all methods are safe for concurrent use; acquisitions are
// serialized.
type Session struct {
	dev    Device
	logger zerolog.Logger

	acquireMu sync.Mutex // serializes Acquire

	mu         sync.Mutex // protects stream and permission
	stream     Stream
	permission Permission
}

// NewSession returns a Session backed by dev.
func NewSession(dev Device, logger zerolog.Logger) *Session {
	return &Session{
		dev:        dev,
		logger:     logger,
		permission: PermissionPending,
	}
}

// Acquire releases any held stream and opens a new one.
//
// With preferEnvironment the first open asks for FacingEnvironment; a
// KindConstraintsUnsatisfiable failure is retried exactly once with
// FacingAny. Any other failure is returned as is. Errors are always
// *AcquisitionError.
//
// If ctx is cancelled while the device is opening, a stream obtained late is
// stopped before Acquire returns.
func (s *Session) Acquire(ctx context.Context, preferEnvironment bool) (Stream, error) {
	s.acquireMu.Lock()
	defer s.acquireMu.Unlock()

	s.Release()

	s.mu.Lock()
	s.permission = PermissionPending
	s.mu.Unlock()

	first := Constraints{Facing: FacingAny}
	if preferEnvironment {
		first.Facing = FacingEnvironment
	}

	stream, err := s.open(ctx, first)
	if err != nil && preferEnvironment && KindOf(err) == KindConstraintsUnsatisfiable && ctx.Err() == nil {
		s.logger.Info().
			Str(log.FieldFacing, first.Facing.String()).
			Err(err).
			Msg("camera: preferred facing unavailable, retrying unconstrained")
		stream, err = s.open(ctx, Constraints{Facing: FacingAny})
	}

	if err == nil && ctx.Err() != nil {
		stopTracks(stream)
		stream, err = nil, ctx.Err()
	}

	if err != nil {
		aerr := classify(err)
		if IsCanceled(err) {
			s.logger.Debug().Err(err).Msg("camera: acquisition cancelled")
			return nil, aerr
		}

		s.mu.Lock()
		s.permission = permissionFor(aerr.Kind)
		s.mu.Unlock()

		metrics.RecordAcquisition(aerr.Kind.String())
		s.logger.Warn().
			Str(log.FieldKind, aerr.Kind.String()).
			Err(aerr.Err).
			Msg("camera: acquisition failed")
		return nil, aerr
	}

	s.mu.Lock()
	s.stream = stream
	s.permission = PermissionGranted
	s.mu.Unlock()

	w, h := stream.VideoSize()
	metrics.RecordAcquisition("ok")
	s.logger.Info().
		Str("stream_id", stream.ID()).
		Int("tracks", len(stream.Tracks())).
		Int("width", w).
		Int("height", h).
		Msg("camera: stream acquired")
	return stream, nil
}

func (s *Session) open(ctx context.Context, c Constraints) (Stream, error) {
	s.logger.Debug().Str(log.FieldFacing, c.Facing.String()).Msg("camera: opening device")
	stream, err := s.dev.Open(ctx, c)
	if err == nil && stream == nil {
		err = NewError(KindGenericFailure, nil)
	}
	return stream, err
}

// classify normalizes device errors. A constraint failure that survives the
// unconstrained retry is surfaced as generic.
func classify(err error) *AcquisitionError {
	kind := KindOf(err)
	if kind == KindConstraintsUnsatisfiable {
		kind = KindGenericFailure
	}
	return &AcquisitionError{Kind: kind, Err: err}
}

// Release stops every track of the held stream and forgets it. Idempotent.
func (s *Session) Release() {
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if stream == nil {
		return
	}
	stopTracks(stream)
	s.logger.Debug().Str("stream_id", stream.ID()).Msg("camera: stream released")
}

// Discard stops stream's tracks and forgets it if it is the held stream.
// Unlike Release it never touches a newer stream acquired since.
func (s *Session) Discard(stream Stream) {
	if stream == nil {
		return
	}
	s.mu.Lock()
	if s.stream == stream {
		s.stream = nil
	}
	s.mu.Unlock()

	stopTracks(stream)
	s.logger.Debug().Str("stream_id", stream.ID()).Msg("camera: stale stream discarded")
}

func stopTracks(stream Stream) {
	for _, t := range stream.Tracks() {
		t.Stop()
	}
}

// Stream returns the held stream, or nil.
func (s *Session) Stream() Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

// Permission returns the last known permission state.
func (s *Session) Permission() Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permission
}

// ActiveTracks counts live tracks of the held stream.
func (s *Session) ActiveTracks() int {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()

	if stream == nil {
		return 0
	}
	n := 0
	for _, t := range stream.Tracks() {
		if t.Live() {
			n++
		}
	}
	return n
}
