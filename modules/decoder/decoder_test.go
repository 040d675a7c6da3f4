package decoder_test

import (
	"image"
	"image/color"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-scan/modules/decoder"
	"github.com/e7canasta/orion-scan/modules/decoder/qrtest"
)

func TestQR_Decode_BothPolarities(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		inverted bool
	}{
		{name: "url dark on light", payload: "https://app/product/XYZ"},
		{name: "url light on dark", payload: "https://app/product/XYZ", inverted: true},
		{name: "bare id dark on light", payload: "ABC123"},
		{name: "bare id light on dark", payload: "ABC123", inverted: true},
		{name: "lot code", payload: "LOT-2024-0042/B"},
	}

	dec := decoder.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := qrtest.Render(t, tt.payload, qrtest.Options{Inverted: tt.inverted})

			res, ok := dec.Decode(img.Pix, img.Rect.Dx(), img.Rect.Dy())
			require.True(t, ok, "symbol should decode")
			assert.Equal(t, tt.payload, res.RawPayload)
			assert.Equal(t, tt.inverted, res.Inverted)
			assert.True(t, res.Timestamp.IsZero(), "decoder never stamps capture time")
		})
	}
}

func TestQR_Decode_CornersInsideFrame(t *testing.T) {
	img := qrtest.Render(t, "ABC123", qrtest.Options{
		Canvas: image.Pt(240, 200),
		Offset: image.Pt(40, 20),
	})

	res, ok := decoder.New().Decode(img.Pix, 240, 200)
	require.True(t, ok)
	require.Len(t, res.Corners, 4)

	for _, p := range res.Corners {
		assert.GreaterOrEqual(t, p.X, 40.0)
		assert.GreaterOrEqual(t, p.Y, 20.0)
		assert.Less(t, p.X, 240.0)
		assert.Less(t, p.Y, 200.0)
	}
	// top-left is left of top-right, bottom-left is below top-left
	assert.Less(t, res.Corners[0].X, res.Corners[1].X)
	assert.Less(t, res.Corners[0].Y, res.Corners[3].Y)
}

func TestQR_Decode_Misses(t *testing.T) {
	dec := decoder.New()

	blank := qrtest.Blank(64, 48, color.RGBA{200, 200, 200, 255})
	noise := qrtest.Noise(64, 48, 7)

	tests := []struct {
		name   string
		pixels []byte
		w, h   int
	}{
		{name: "blank frame", pixels: blank.Pix, w: 64, h: 48},
		{name: "noise frame", pixels: noise.Pix, w: 64, h: 48},
		{name: "zero size", pixels: blank.Pix, w: 0, h: 0},
		{name: "negative size", pixels: blank.Pix, w: -1, h: 48},
		{name: "short buffer", pixels: blank.Pix[:100], w: 64, h: 48},
		{name: "nil buffer", pixels: nil, w: 64, h: 48},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, ok := dec.Decode(tt.pixels, tt.w, tt.h)
			assert.False(t, ok)
			assert.Nil(t, res)
		})
	}
}

func TestQR_Decode_Deterministic(t *testing.T) {
	img := qrtest.Render(t, "https://app/product/XYZ", qrtest.Options{Inverted: true})
	dec := decoder.New()

	first, ok := dec.Decode(img.Pix, img.Rect.Dx(), img.Rect.Dy())
	require.True(t, ok)
	for i := 0; i < 3; i++ {
		again, ok := dec.Decode(img.Pix, img.Rect.Dx(), img.Rect.Dy())
		require.True(t, ok)
		assert.Equal(t, first, again)
	}
}

func TestQR_DecodeImage_ConvertsSubImage(t *testing.T) {
	img := qrtest.Render(t, "ABC123", qrtest.Options{Canvas: image.Pt(300, 300), Offset: image.Pt(100, 100)})
	sub := img.SubImage(image.Rect(80, 80, 280, 280))

	res, ok := decoder.New().DecodeImage(sub)
	require.True(t, ok)
	assert.Equal(t, "ABC123", res.RawPayload)
}

func TestQR_Decode_PolarityInvariance(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 15
	properties := gopter.NewProperties(parameters)

	dec := decoder.New()
	properties.Property("dark-on-light and light-on-dark decode to the same payload", prop.ForAll(
		func(id string) bool {
			payload := "https://host/product/" + id
			normal := qrtest.Render(t, payload, qrtest.Options{})
			inverted := qrtest.Render(t, payload, qrtest.Options{Inverted: true})

			a, okA := dec.Decode(normal.Pix, normal.Rect.Dx(), normal.Rect.Dy())
			b, okB := dec.Decode(inverted.Pix, inverted.Rect.Dx(), inverted.Rect.Dy())
			return okA && okB && a.RawPayload == payload && b.RawPayload == payload
		},
		gen.Identifier().Map(func(s string) string {
			if len(s) > 40 {
				return s[:40]
			}
			return s
		}),
	))

	properties.TestingRun(t)
}

func TestQR_WithTryHarderOff(t *testing.T) {
	img := qrtest.Render(t, "FAST-PATH", qrtest.Options{})
	res, ok := decoder.New(decoder.WithTryHarder(false)).DecodeImage(img)
	require.True(t, ok)
	assert.Equal(t, "FAST-PATH", res.RawPayload)
}
