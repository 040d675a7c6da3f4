// Package decoder wraps the QR bit-decoding primitive used by the scan pipeline.
//
// Decoding is pure: the same pixels always yield the same Result. Every call
// tries the normal luminance interpretation first and the inverted one second,
// so dark-on-light and light-on-dark symbols both decode in a single call.
//
// The pixel layout is tightly packed RGBA (4 bytes per pixel, stride = 4*width),
// which is what the camera devices and the working canvas produce.
package decoder

import (
	"image"
	"image/draw"
	"time"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// Point is a 2D location in source-frame pixel coordinates.
type Point struct {
	X float64
	Y float64
}

// Result is the output of a successful decode.
type Result struct {
	// RawPayload is the decoded text content.
	RawPayload string

	// Corners locates the symbol in the source frame, ordered top-left,
	// top-right, bottom-right, bottom-left. Nil when the reader reported no
	// usable points. Only the overlay consumes it.
	Corners []Point

	// Inverted is true when the luminance-reversed interpretation matched.
	Inverted bool

	// Timestamp is the capture time of the source frame. Decode leaves it
	// zero; the caller stamps it.
	Timestamp time.Time
}

// Decoder turns a raster buffer into a decoded payload.
type Decoder interface {
	// Decode returns the decoded result, or false when no symbol was found.
	Decode(pixels []byte, width, height int) (*Result, bool)
}

// QR is the gozxing-backed Decoder.
type QR struct {
	tryHarder bool
}

// Option configures a QR decoder.
type Option func(*QR)

// WithTryHarder toggles the reader's exhaustive search mode (default on).
func WithTryHarder(on bool) Option {
	return func(q *QR) { q.tryHarder = on }
}

// New returns a QR decoder.
func New(opts ...Option) *QR {
	q := &QR{tryHarder: true}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Decode implements Decoder.
//
// Geometry that does not match the buffer (non-positive size, short buffer)
// is reported as a miss.
func (q *QR) Decode(pixels []byte, width, height int) (*Result, bool) {
	if width <= 0 || height <= 0 || len(pixels) < width*height*4 {
		return nil, false
	}
	img := &image.RGBA{
		Pix:    pixels[:width*height*4],
		Stride: width * 4,
		Rect:   image.Rect(0, 0, width, height),
	}
	return q.decodeSource(gozxing.NewLuminanceSourceFromImage(img))
}

// DecodeImage decodes any image.Image.
func (q *QR) DecodeImage(img image.Image) (*Result, bool) {
	if img == nil || img.Bounds().Empty() {
		return nil, false
	}
	rgba := ToRGBA(img)
	return q.Decode(rgba.Pix, rgba.Rect.Dx(), rgba.Rect.Dy())
}

func (q *QR) decodeSource(src gozxing.LuminanceSource) (*Result, bool) {
	if res, ok := q.decodeOnce(src); ok {
		return res, true
	}
	res, ok := q.decodeOnce(src.Invert())
	if !ok {
		return nil, false
	}
	res.Inverted = true
	return res, true
}

func (q *QR) decodeOnce(src gozxing.LuminanceSource) (*Result, bool) {
	bmp, err := gozxing.NewBinaryBitmap(gozxing.NewHybridBinarizer(src))
	if err != nil {
		return nil, false
	}

	hints := map[gozxing.DecodeHintType]interface{}{}
	if q.tryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}

	// QRCodeReader is not safe for concurrent use; one per attempt.
	out, err := qrcode.NewQRCodeReader().Decode(bmp, hints)
	if err != nil || out == nil {
		return nil, false
	}

	return &Result{
		RawPayload: out.GetText(),
		Corners:    corners(out.GetResultPoints()),
	}, true
}

// corners converts the reader's finder-pattern centres (bottom-left,
// top-left, top-right, optional alignment) into four symbol corners. The
// bottom-right corner is completed as a parallelogram.
func corners(points []gozxing.ResultPoint) []Point {
	if len(points) < 3 {
		return nil
	}
	bl := Point{points[0].GetX(), points[0].GetY()}
	tl := Point{points[1].GetX(), points[1].GetY()}
	tr := Point{points[2].GetX(), points[2].GetY()}
	br := Point{X: tr.X + bl.X - tl.X, Y: tr.Y + bl.Y - tl.Y}
	return []Point{tl, tr, br, bl}
}

// ToRGBA returns img as a tightly packed *image.RGBA anchored at the origin,
// copying only when necessary.
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) && rgba.Stride == b.Dx()*4 {
		return rgba
	}
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
