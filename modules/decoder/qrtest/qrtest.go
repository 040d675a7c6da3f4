// Package qrtest renders QR fixtures for tests across the scan modules.
package qrtest

import (
	"image"
	"image/color"
	"testing"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// Options controls how a fixture is rendered.
type Options struct {
	// Scale is the edge length of one module in pixels (default 4).
	Scale int
	// Quiet is the quiet-zone width in modules (default 4).
	Quiet int
	// Inverted renders light modules on a dark background.
	Inverted bool
	// Canvas, when non-zero, places the symbol at Offset on a canvas of this
	// size filled with the background colour.
	Canvas image.Point
	Offset image.Point
}

// Render returns an RGBA image of payload as a QR symbol.
func Render(tb testing.TB, payload string, opts Options) *image.RGBA {
	tb.Helper()

	if opts.Scale <= 0 {
		opts.Scale = 4
	}
	if opts.Quiet <= 0 {
		opts.Quiet = 4
	}

	hints := map[gozxing.EncodeHintType]interface{}{
		gozxing.EncodeHintType_MARGIN: 0,
	}
	matrix, err := qrcode.NewQRCodeWriter().Encode(payload, gozxing.BarcodeFormat_QR_CODE, 0, 0, hints)
	if err != nil {
		tb.Fatalf("qrtest: encode %q: %v", payload, err)
	}

	dark, light := color.RGBA{0, 0, 0, 255}, color.RGBA{255, 255, 255, 255}
	if opts.Inverted {
		dark, light = light, dark
	}

	modules := matrix.GetWidth()
	side := (modules + 2*opts.Quiet) * opts.Scale

	size := opts.Canvas
	if size == (image.Point{}) {
		size = image.Pt(side, side)
		opts.Offset = image.Point{}
	}

	img := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	fill(img, img.Bounds(), light)

	origin := opts.Offset.Add(image.Pt(opts.Quiet*opts.Scale, opts.Quiet*opts.Scale))
	for y := 0; y < matrix.GetHeight(); y++ {
		for x := 0; x < modules; x++ {
			if !matrix.Get(x, y) {
				continue
			}
			min := origin.Add(image.Pt(x*opts.Scale, y*opts.Scale))
			fill(img, image.Rectangle{Min: min, Max: min.Add(image.Pt(opts.Scale, opts.Scale))}, dark)
		}
	}
	return img
}

// Blank returns a uniformly filled frame with no symbol.
func Blank(width, height int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	fill(img, img.Bounds(), c)
	return img
}

// Noise returns a deterministic pseudo-random grey frame with no symbol.
func Noise(width, height int, seed uint32) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	state := seed | 1
	for i := 0; i < len(img.Pix); i += 4 {
		state ^= state << 13
		state ^= state >> 17
		state ^= state << 5
		v := uint8(state)
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = v, v, v, 255
	}
	return img
}

func fill(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	r = r.Intersect(img.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}
