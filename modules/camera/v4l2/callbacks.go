package v4l2

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-scan/modules/camera/internal/mailbox"
)

// callbackContext holds state needed by the appsink callback.
type callbackContext struct {
	Mailbox      *mailbox.Mailbox
	FrameCounter *uint64
	BytesRead    *uint64
	Logger       zerolog.Logger
}

// onNewSample copies the newest sample into the mailbox.
//
// The resolution is read from the sample caps every time: a camera may
// report its real size only after negotiation, or change it on rotation.
// A bad sample is skipped, never fatal.
func onNewSample(sink *app.Sink, ctx *callbackContext) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		ctx.Logger.Warn().Msg("v4l2: failed to pull sample, skipping frame")
		return gst.FlowOK
	}

	width, height := sampleSize(sample)
	if width <= 0 || height <= 0 {
		ctx.Logger.Warn().Msg("v4l2: sample without dimensions, skipping frame")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		ctx.Logger.Warn().Msg("v4l2: failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	need := width * height * 4
	if len(data) < need {
		buffer.Unmap()
		ctx.Logger.Warn().
			Int("size_bytes", len(data)).
			Int("expected_bytes", need).
			Msg("v4l2: short buffer, skipping frame")
		return gst.FlowOK
	}

	// GStreamer reuses the buffer
	pix := make([]byte, need)
	copy(pix, data)
	buffer.Unmap()

	seq := atomic.AddUint64(ctx.FrameCounter, 1)
	atomic.AddUint64(ctx.BytesRead, uint64(need))

	ctx.Mailbox.Publish(&mailbox.Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     width,
		Height:    height,
		Pix:       pix,
		TraceID:   uuid.NewString(),
	})
	return gst.FlowOK
}

func sampleSize(sample *gst.Sample) (width, height int) {
	caps := sample.GetCaps()
	if caps == nil {
		return 0, 0
	}
	st := caps.GetStructureAt(0)
	if st == nil {
		return 0, 0
	}
	w, err := st.GetValue("width")
	if err != nil {
		return 0, 0
	}
	h, err := st.GetValue("height")
	if err != nil {
		return 0, 0
	}
	return capsDimension(w), capsDimension(h)
}

func capsDimension(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case uint:
		return int(n)
	case uint32:
		return int(n)
	default:
		return 0
	}
}
