package camera_test

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/e7canasta/orion-scan/internal/log"
	"github.com/e7canasta/orion-scan/modules/camera"
	"github.com/e7canasta/orion-scan/modules/camera/synthetic"
	"github.com/e7canasta/orion-scan/modules/decoder/qrtest"
)

func newDevice() *synthetic.Device {
	return synthetic.New(qrtest.Blank(32, 24, color.RGBA{A: 255}))
}

func TestSession_AcquirePrefersEnvironment(t *testing.T) {
	dev := newDevice()
	s := camera.NewSession(dev, log.Nop())

	assert.Equal(t, camera.PermissionPending, s.Permission())

	stream, err := s.Acquire(context.Background(), true)
	require.NoError(t, err)
	require.NotNil(t, stream)

	assert.Equal(t, []camera.Constraints{{Facing: camera.FacingEnvironment}}, dev.Opens())
	assert.Equal(t, camera.PermissionGranted, s.Permission())
	assert.Equal(t, 1, s.ActiveTracks())
	assert.Same(t, stream, s.Stream())
}

func TestSession_FallbackOnUnsatisfiableConstraints(t *testing.T) {
	dev := newDevice().WithoutFacing(camera.FacingEnvironment)
	s := camera.NewSession(dev, log.Nop())

	_, err := s.Acquire(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, []camera.Constraints{
		{Facing: camera.FacingEnvironment},
		{Facing: camera.FacingAny},
	}, dev.Opens())
	assert.Equal(t, camera.PermissionGranted, s.Permission())
}

func TestSession_DenialIsNotRetried(t *testing.T) {
	dev := newDevice()
	dev.FailNext(camera.NewError(camera.KindPermissionDenied, errors.New("NotAllowedError")))
	s := camera.NewSession(dev, log.Nop())

	_, err := s.Acquire(context.Background(), true)
	require.Error(t, err)

	var aerr *camera.AcquisitionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, camera.KindPermissionDenied, aerr.Kind)
	assert.Len(t, dev.Opens(), 1, "no second open after a denial")
	assert.Equal(t, camera.PermissionDenied, s.Permission())
	assert.Zero(t, s.ActiveTracks())
}

func TestSession_FailureClassification(t *testing.T) {
	tests := []struct {
		name       string
		errs       []error
		kind       camera.ErrorKind
		permission camera.Permission
		opens      int
	}{
		{
			name:       "no device",
			errs:       []error{camera.NewError(camera.KindNoDeviceFound, nil)},
			kind:       camera.KindNoDeviceFound,
			permission: camera.PermissionUnavailable,
			opens:      1,
		},
		{
			name:       "os permission error",
			errs:       []error{fmt.Errorf("open /dev/video0: %w", os.ErrPermission)},
			kind:       camera.KindPermissionDenied,
			permission: camera.PermissionDenied,
			opens:      1,
		},
		{
			name:       "plain error is generic",
			errs:       []error{errors.New("device busy")},
			kind:       camera.KindGenericFailure,
			permission: camera.PermissionUnavailable,
			opens:      1,
		},
		{
			name: "unsatisfiable twice surfaces as generic",
			errs: []error{
				camera.NewError(camera.KindConstraintsUnsatisfiable, nil),
				camera.NewError(camera.KindConstraintsUnsatisfiable, nil),
			},
			kind:       camera.KindGenericFailure,
			permission: camera.PermissionUnavailable,
			opens:      2,
		},
		{
			name: "denied on the retry",
			errs: []error{
				camera.NewError(camera.KindConstraintsUnsatisfiable, nil),
				camera.NewError(camera.KindPermissionDenied, nil),
			},
			kind:       camera.KindPermissionDenied,
			permission: camera.PermissionDenied,
			opens:      2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newDevice()
			dev.FailNext(tt.errs...)
			s := camera.NewSession(dev, log.Nop())

			_, err := s.Acquire(context.Background(), true)
			require.Error(t, err)
			assert.Equal(t, tt.kind, camera.KindOf(err))
			assert.Equal(t, tt.permission, s.Permission())
			assert.Len(t, dev.Opens(), tt.opens)
		})
	}
}

func TestSession_NoPreferenceOpensUnconstrained(t *testing.T) {
	dev := newDevice()
	dev.FailNext(camera.NewError(camera.KindConstraintsUnsatisfiable, nil))
	s := camera.NewSession(dev, log.Nop())

	_, err := s.Acquire(context.Background(), false)
	require.Error(t, err)
	assert.Equal(t, []camera.Constraints{{Facing: camera.FacingAny}}, dev.Opens())
}

func TestSession_AcquireReleasesPreviousStream(t *testing.T) {
	dev := newDevice()
	s := camera.NewSession(dev, log.Nop())

	_, err := s.Acquire(context.Background(), true)
	require.NoError(t, err)
	_, err = s.Acquire(context.Background(), true)
	require.NoError(t, err)

	streams := dev.Streams()
	require.Len(t, streams, 2)
	assert.False(t, streams[0].Tracks()[0].Live(), "first stream stopped")
	assert.True(t, streams[1].Tracks()[0].Live())
	assert.Equal(t, 1, s.ActiveTracks())
}

func TestSession_ReleaseIsIdempotent(t *testing.T) {
	s := camera.NewSession(newDevice(), log.Nop())
	_, err := s.Acquire(context.Background(), true)
	require.NoError(t, err)

	s.Release()
	s.Release()

	assert.Zero(t, s.ActiveTracks())
	assert.Nil(t, s.Stream())
	assert.Equal(t, camera.PermissionGranted, s.Permission(), "release keeps the permission verdict")
}

func TestSession_LateStreamAfterCancelIsStopped(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dev := newDevice()
	release := dev.Hold(true)
	s := camera.NewSession(dev, log.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	var (
		wg  sync.WaitGroup
		err error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err = s.Acquire(ctx, true)
	}()

	require.Eventually(t, func() bool { return len(dev.Opens()) == 1 }, time.Second, time.Millisecond)
	cancel()
	release()
	wg.Wait()

	require.Error(t, err)
	assert.True(t, camera.IsCanceled(err))
	streams := dev.Streams()
	require.Len(t, streams, 1)
	assert.False(t, streams[0].Tracks()[0].Live(), "late stream must be stopped")
	assert.Zero(t, s.ActiveTracks())
	assert.Equal(t, camera.PermissionPending, s.Permission())
}

func TestSession_CancelWhileOpening(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dev := newDevice()
	release := dev.Hold(false)
	defer release()
	s := camera.NewSession(dev, log.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Acquire(ctx, true)
	require.Error(t, err)
	assert.True(t, camera.IsCanceled(err))
	assert.Empty(t, dev.Streams())
}

func TestErrorKind_String(t *testing.T) {
	assert.Equal(t, "permission_denied", camera.KindPermissionDenied.String())
	assert.Equal(t, "no_device_found", camera.KindNoDeviceFound.String())
	assert.Equal(t, "generic_failure", camera.KindGenericFailure.String())
	assert.Equal(t, "constraints_unsatisfiable", camera.KindConstraintsUnsatisfiable.String())
	assert.Equal(t, "unknown", camera.ErrorKind(99).String())
}

func TestAcquisitionError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	err := fmt.Errorf("wrapped: %w", camera.NewError(camera.KindNoDeviceFound, inner))

	assert.ErrorIs(t, err, inner)
	assert.Equal(t, camera.KindNoDeviceFound, camera.KindOf(err))
	assert.Contains(t, err.Error(), "no_device_found")
}

func TestSession_DiscardOnlyTouchesGivenStream(t *testing.T) {
	dev := newDevice()
	s := camera.NewSession(dev, log.Nop())

	old, err := s.Acquire(context.Background(), true)
	require.NoError(t, err)
	current, err := s.Acquire(context.Background(), true)
	require.NoError(t, err)

	s.Discard(old)
	assert.Same(t, current, s.Stream())
	assert.Equal(t, 1, s.ActiveTracks())

	s.Discard(current)
	assert.Nil(t, s.Stream())
	assert.Zero(t, s.ActiveTracks())

	s.Discard(nil)
}
