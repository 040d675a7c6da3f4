// Package upload decodes a QR symbol from a user-supplied image file.
//
// Decoding is two-tier: the image is tried at its native resolution first,
// then rescaled to a reference width (aspect preserved) and tried again.
// Small or very large photos often only decode after normalisation.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/e7canasta/orion-scan/internal/log"
	"github.com/e7canasta/orion-scan/internal/metrics"
	"github.com/e7canasta/orion-scan/modules/decoder"
)

// DefaultReferenceWidth is the width the second tier rescales to.
const DefaultReferenceWidth = 1024

// MaxPixels bounds both the declared size of an upload and the size of the
// rescaled frame. Larger images are rejected; a rescale that would exceed it
// is skipped.
const MaxPixels = 40_000_000

var (
	// ErrInvalidFileType means the declared content type is not an image.
	ErrInvalidFileType = errors.New("upload: not an image file")
	// ErrImageLoadFailed means the bytes could not be decoded as an image.
	ErrImageLoadFailed = errors.New("upload: image could not be loaded")
	// ErrNoSymbolFound means neither tier found a QR symbol.
	ErrNoSymbolFound = errors.New("upload: no QR code found in image")
)

// Tier names which pass produced a result.
type Tier string

const (
	TierNative   Tier = "native"
	TierRescaled Tier = "rescaled"
)

// Blob is an uploaded file.
type Blob struct {
	Name        string
	ContentType string
	Data        []byte
}

// Decoder runs the two-tier upload decode.
type Decoder struct {
	dec            decoder.Decoder
	referenceWidth atomic.Int64
	logger         zerolog.Logger
}

// New returns a Decoder. A nil dec uses decoder.New(); referenceWidth <= 0
// uses DefaultReferenceWidth.
func New(dec decoder.Decoder, referenceWidth int, logger zerolog.Logger) *Decoder {
	if dec == nil {
		dec = decoder.New()
	}
	d := &Decoder{dec: dec, logger: logger}
	d.SetReferenceWidth(referenceWidth)
	return d
}

// SetReferenceWidth changes the rescale target; values <= 0 restore the default.
func (d *Decoder) SetReferenceWidth(w int) {
	if w <= 0 {
		w = DefaultReferenceWidth
	}
	d.referenceWidth.Store(int64(w))
}

// ReferenceWidth returns the current rescale target.
func (d *Decoder) ReferenceWidth() int {
	return int(d.referenceWidth.Load())
}

// Decode extracts a QR result from blob.
//
// Errors wrap ErrInvalidFileType, ErrImageLoadFailed or ErrNoSymbolFound,
// or are ctx.Err() when ctx ends between tiers.
func (d *Decoder) Decode(ctx context.Context, blob Blob) (*decoder.Result, error) {
	res, tier, err := d.decode(ctx, blob)

	result := "ok"
	switch {
	case errors.Is(err, ErrInvalidFileType):
		result = "invalid_file_type"
	case errors.Is(err, ErrImageLoadFailed):
		result = "image_load_failed"
	case errors.Is(err, ErrNoSymbolFound):
		result = "no_symbol"
	case err != nil:
		result = "cancelled"
	}
	metrics.RecordUpload(result, string(tier))

	ev := d.logger.Info()
	if err != nil {
		ev = d.logger.Warn().Err(err)
	}
	ev.Str("file", blob.Name).
		Str("content_type", blob.ContentType).
		Int("size_bytes", len(blob.Data)).
		Str(log.FieldTier, string(tier)).
		Msg("upload: decode finished")

	return res, err
}

func (d *Decoder) decode(ctx context.Context, blob Blob) (*decoder.Result, Tier, error) {
	if !isImageType(blob.ContentType) {
		return nil, "", fmt.Errorf("%w: %q", ErrInvalidFileType, blob.ContentType)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(blob.Data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrImageLoadFailed, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", fmt.Errorf("%w: empty %s image", ErrImageLoadFailed, format)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, "", fmt.Errorf("%w: %s image of %dx%d exceeds %d pixels",
			ErrImageLoadFailed, format, cfg.Width, cfg.Height, MaxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(blob.Data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrImageLoadFailed, err)
	}
	native := decoder.ToRGBA(img)
	w, h := native.Rect.Dx(), native.Rect.Dy()
	if w == 0 || h == 0 {
		return nil, "", fmt.Errorf("%w: empty %s image", ErrImageLoadFailed, format)
	}

	if res, ok := d.try(native); ok {
		return res, TierNative, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	ref := d.ReferenceWidth()
	if w == ref {
		return nil, "", fmt.Errorf("%w: %dx%d", ErrNoSymbolFound, w, h)
	}
	if rh := rescaledHeight(w, h, ref); int64(ref)*int64(rh) > MaxPixels {
		d.logger.Debug().
			Int("width", w).
			Int("height", h).
			Int("target_height", rh).
			Msg("upload: rescale skipped, target too large")
		return nil, "", fmt.Errorf("%w: %dx%d (rescale to width %d skipped)", ErrNoSymbolFound, w, h, ref)
	}

	if res, ok := d.try(Rescale(native, ref)); ok {
		return res, TierRescaled, nil
	}
	return nil, "", fmt.Errorf("%w: %dx%d (rescaled to width %d)", ErrNoSymbolFound, w, h, ref)
}

func (d *Decoder) try(img *image.RGBA) (*decoder.Result, bool) {
	start := time.Now()
	defer metrics.ObserveDecode(metrics.SourceUpload, start)
	return d.dec.Decode(img.Pix, img.Rect.Dx(), img.Rect.Dy())
}

// Rescale resizes img to width, preserving the aspect ratio (height at least 1).
func Rescale(img *image.RGBA, width int) *image.RGBA {
	b := img.Bounds()
	height := rescaledHeight(b.Dx(), b.Dy(), width)
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func rescaledHeight(w, h, width int) int {
	height := int(float64(h)*float64(width)/float64(w) + 0.5)
	if height < 1 {
		height = 1
	}
	return height
}

func isImageType(contentType string) bool {
	mt := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return strings.HasPrefix(mt, "image/") && len(mt) > len("image/")
}
