package scancontrol

import (
	"errors"

	"github.com/e7canasta/orion-scan/modules/camera"
	"github.com/e7canasta/orion-scan/modules/upload"
)

var (
	// ErrInvalidPayload means a decoded symbol carried nothing resolvable.
	ErrInvalidPayload = errors.New("scancontrol: QR code does not contain a product reference")
	// ErrClosed is returned by every entry point after Close.
	ErrClosed = errors.New("scancontrol: controller closed")
)

// UserMessage maps an error from Start or HandleUpload to a message the
// person holding the camera can act on. nil maps to "".
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, upload.ErrInvalidFileType):
		return "The selected file is not an image. Choose a PNG, JPEG or other image file."
	case errors.Is(err, upload.ErrImageLoadFailed):
		return "The image could not be loaded. Try another file."
	case errors.Is(err, upload.ErrNoSymbolFound):
		return "No QR code was found in the image. Try a sharper, well-lit photo."
	case errors.Is(err, ErrInvalidPayload):
		return "This QR code does not point to a product."
	case errors.Is(err, ErrClosed):
		return "The scanner is closed."
	case camera.IsCanceled(err):
		return "Scanning was cancelled."
	}

	var aerr *camera.AcquisitionError
	if errors.As(err, &aerr) {
		switch aerr.Kind {
		case camera.KindPermissionDenied:
			return "Camera access was denied. Enable camera permission in your settings and try again."
		case camera.KindNoDeviceFound:
			return "No camera detected. Use image upload instead."
		default:
			return "The camera could not be started. Try again or use image upload."
		}
	}
	return "Something went wrong. Please try again."
}
