package camera

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// ErrorKind classifies an acquisition failure.
type ErrorKind int

const (
	// KindGenericFailure covers everything not otherwise classified.
	KindGenericFailure ErrorKind = iota
	// KindPermissionDenied means the user or OS refused camera access.
	KindPermissionDenied
	// KindNoDeviceFound means no camera is present.
	KindNoDeviceFound
	// KindConstraintsUnsatisfiable means the requested facing or
	// resolution is not available. Session retries unconstrained once.
	KindConstraintsUnsatisfiable
)

// String returns a human-readable representation of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindGenericFailure:
		return "generic_failure"
	case KindPermissionDenied:
		return "permission_denied"
	case KindNoDeviceFound:
		return "no_device_found"
	case KindConstraintsUnsatisfiable:
		return "constraints_unsatisfiable"
	default:
		return "unknown"
	}
}

// AcquisitionError is returned by Session.Acquire and by devices.
type AcquisitionError struct {
	Kind ErrorKind
	Err  error
}

func (e *AcquisitionError) Error() string {
	if e.Err == nil {
		return "camera: " + e.Kind.String()
	}
	return fmt.Sprintf("camera: %s: %v", e.Kind, e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// NewError wraps err with a kind.
func NewError(kind ErrorKind, err error) *AcquisitionError {
	return &AcquisitionError{Kind: kind, Err: err}
}

// KindOf classifies any error returned by a device.
//
// An *AcquisitionError anywhere in the chain wins; otherwise os permission
// and not-exist errors map to their kinds and everything else is generic.
func KindOf(err error) ErrorKind {
	var ae *AcquisitionError
	switch {
	case err == nil:
		return KindGenericFailure
	case errors.As(err, &ae):
		return ae.Kind
	case errors.Is(err, os.ErrPermission):
		return KindPermissionDenied
	case errors.Is(err, os.ErrNotExist):
		return KindNoDeviceFound
	default:
		return KindGenericFailure
	}
}

// IsCanceled reports whether err came from a cancelled acquisition.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
