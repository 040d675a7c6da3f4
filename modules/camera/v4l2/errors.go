package v4l2

import (
	"strings"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/e7canasta/orion-scan/modules/camera"
)

// ClassifyGStreamerError maps a GStreamer bus error to an acquisition kind.
//
// go-gst's GError does not expose the error domain, so classification relies
// on keywords in the message and debug string.
func ClassifyGStreamerError(gerr *gst.GError) camera.ErrorKind {
	if gerr == nil {
		return camera.KindGenericFailure
	}
	return classifyMessage(gerr.Error(), gerr.DebugString())
}

func classifyMessage(errMsg, debugStr string) camera.ErrorKind {
	combined := strings.ToLower(errMsg + " " + debugStr)

	// Priority 1: permission (most specific)
	if containsAny(combined, permissionKeywords) {
		return camera.KindPermissionDenied
	}

	// Priority 2: missing device
	if containsAny(combined, noDeviceKeywords) {
		return camera.KindNoDeviceFound
	}

	// Priority 3: the device exists but cannot produce the requested format
	if containsAny(combined, constraintKeywords) {
		return camera.KindConstraintsUnsatisfiable
	}

	return camera.KindGenericFailure
}

var permissionKeywords = []string{
	"permission denied",
	"not permitted",
	"eacces",
	"eperm",
	"access denied",
}

var noDeviceKeywords = []string{
	"no such file",
	"no such device",
	"does not exist",
	"enoent",
	"enodev",
	"cannot identify device",
	"not a capture device",
}

var constraintKeywords = []string{
	"not-negotiated",
	"not negotiated",
	"could not negotiate",
	"caps",
	"format",
	"resolution",
	"device is busy",
	"ebusy",
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
