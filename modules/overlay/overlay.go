// Package overlay draws scanning feedback onto the working canvas.
//
// Two overlays exist: Guidance (no symbol yet: dimmed surround, scan-area
// frame, corner markers, instruction text) and Success (symbol located:
// highlighted corners and confirmation text). Rendering is a pure side effect
// on the destination buffer; nothing in-process reads it back.
package overlay

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/e7canasta/orion-scan/modules/decoder"
)

// Default texts.
const (
	GuidanceText = "Align the QR code within the frame"
	SuccessText  = "QR code detected"
)

// Style controls colours and geometry.
type Style struct {
	Guide   color.RGBA // scan-area frame and markers
	Success color.RGBA // detected-symbol outline
	Shade   color.RGBA // premultiplied dimming outside the scan area
	Text    color.RGBA
	TextBG  color.RGBA // premultiplied

	// ScanArea is the side of the square scan area as a fraction of the
	// shorter frame edge (0.1-1.0).
	ScanArea float64
	// Marker is the corner marker length as a fraction of the scan-area side.
	Marker float64
	// Stroke is the line thickness in pixels.
	Stroke int
}

// DefaultStyle returns the stock look.
func DefaultStyle() Style {
	return Style{
		Guide:    color.RGBA{255, 255, 255, 255},
		Success:  color.RGBA{0, 200, 83, 255},
		Shade:    color.RGBA{0, 0, 0, 110},
		Text:     color.RGBA{255, 255, 255, 255},
		TextBG:   color.RGBA{0, 0, 0, 160},
		ScanArea: 0.65,
		Marker:   0.18,
		Stroke:   3,
	}
}

// Renderer draws overlays with a fixed style.
type Renderer struct {
	style Style
}

// NewRenderer returns a Renderer; out-of-range style values fall back to defaults.
func NewRenderer(style Style) *Renderer {
	def := DefaultStyle()
	if style.ScanArea < 0.1 || style.ScanArea > 1 {
		style.ScanArea = def.ScanArea
	}
	if style.Marker <= 0 || style.Marker > 0.5 {
		style.Marker = def.Marker
	}
	if style.Stroke <= 0 {
		style.Stroke = def.Stroke
	}
	return &Renderer{style: style}
}

// ScanArea returns the centred square the user is asked to aim at.
func (r *Renderer) ScanArea(bounds image.Rectangle) image.Rectangle {
	w, h := bounds.Dx(), bounds.Dy()
	side := int(float64(min(w, h)) * r.style.ScanArea)
	x0 := bounds.Min.X + (w-side)/2
	y0 := bounds.Min.Y + (h-side)/2
	return image.Rect(x0, y0, x0+side, y0+side)
}

// Guidance draws the neutral "keep aiming" overlay.
func (r *Renderer) Guidance(dst draw.Image, text string) {
	b := dst.Bounds()
	if b.Empty() {
		return
	}
	area := r.ScanArea(b)
	shade := image.NewUniform(r.style.Shade)

	// dim everything outside the scan area
	for _, rect := range []image.Rectangle{
		image.Rect(b.Min.X, b.Min.Y, b.Max.X, area.Min.Y),
		image.Rect(b.Min.X, area.Max.Y, b.Max.X, b.Max.Y),
		image.Rect(b.Min.X, area.Min.Y, area.Min.X, area.Max.Y),
		image.Rect(area.Max.X, area.Min.Y, b.Max.X, area.Max.Y),
	} {
		draw.Draw(dst, rect, shade, image.Point{}, draw.Over)
	}

	r.rect(dst, area, 1, r.style.Guide)

	m := int(float64(area.Dx()) * r.style.Marker)
	s := r.style.Stroke
	for _, c := range []struct{ corner, dx, dy image.Point }{
		{area.Min, image.Pt(1, 0), image.Pt(0, 1)},
		{image.Pt(area.Max.X-1, area.Min.Y), image.Pt(-1, 0), image.Pt(0, 1)},
		{image.Pt(area.Min.X, area.Max.Y-1), image.Pt(1, 0), image.Pt(0, -1)},
		{image.Pt(area.Max.X-1, area.Max.Y-1), image.Pt(-1, 0), image.Pt(0, -1)},
	} {
		r.line(dst, c.corner, c.corner.Add(c.dx.Mul(m)), s, r.style.Guide)
		r.line(dst, c.corner, c.corner.Add(c.dy.Mul(m)), s, r.style.Guide)
	}

	if text == "" {
		text = GuidanceText
	}
	r.label(dst, text, area.Max.Y+8)
}

// Success draws the outline of the located symbol and a confirmation label.
// Corners may be nil, in which case only the label is drawn.
func (r *Renderer) Success(dst draw.Image, corners []decoder.Point, text string) {
	b := dst.Bounds()
	if b.Empty() {
		return
	}

	if len(corners) >= 2 {
		s := r.style.Stroke + 1
		for i := range corners {
			p0 := toPoint(corners[i])
			p1 := toPoint(corners[(i+1)%len(corners)])
			r.line(dst, p0, p1, s, r.style.Success)
		}
		for _, c := range corners {
			p := toPoint(c)
			dot := image.Rect(p.X-s*2, p.Y-s*2, p.X+s*2, p.Y+s*2)
			draw.Draw(dst, dot, image.NewUniform(r.style.Success), image.Point{}, draw.Src)
		}
	}

	if text == "" {
		text = SuccessText
	}
	r.label(dst, text, b.Min.Y+b.Dy()/2+24)
}

func (r *Renderer) rect(dst draw.Image, rect image.Rectangle, stroke int, c color.RGBA) {
	r.line(dst, rect.Min, image.Pt(rect.Max.X-1, rect.Min.Y), stroke, c)
	r.line(dst, image.Pt(rect.Max.X-1, rect.Min.Y), image.Pt(rect.Max.X-1, rect.Max.Y-1), stroke, c)
	r.line(dst, image.Pt(rect.Max.X-1, rect.Max.Y-1), image.Pt(rect.Min.X, rect.Max.Y-1), stroke, c)
	r.line(dst, image.Pt(rect.Min.X, rect.Max.Y-1), rect.Min, stroke, c)
}

// line stamps a stroke×stroke square along a Bresenham walk from p0 to p1.
func (r *Renderer) line(dst draw.Image, p0, p1 image.Point, stroke int, c color.RGBA) {
	src := image.NewUniform(c)
	half := stroke / 2

	dx := abs(p1.X - p0.X)
	dy := -abs(p1.Y - p0.Y)
	sx, sy := sign(p1.X-p0.X), sign(p1.Y-p0.Y)
	e := dx + dy

	x, y := p0.X, p0.Y
	for {
		draw.Draw(dst, image.Rect(x-half, y-half, x-half+stroke, y-half+stroke), src, image.Point{}, draw.Src)
		if x == p1.X && y == p1.Y {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x += sx
		}
		if e2 <= dx {
			e += dx
			y += sy
		}
	}
}

// label draws centred text on a translucent band whose top edge is at y,
// clamped to stay inside the frame.
func (r *Renderer) label(dst draw.Image, text string, y int) {
	b := dst.Bounds()
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: dst, Src: image.NewUniform(r.style.Text), Face: face}

	width := d.MeasureString(text).Ceil()
	height := face.Metrics().Height.Ceil()
	pad := 4

	if y+height+2*pad > b.Max.Y {
		y = b.Max.Y - height - 2*pad
	}
	if y < b.Min.Y {
		y = b.Min.Y
	}
	x := b.Min.X + (b.Dx()-width)/2

	band := image.Rect(x-pad, y, x+width+pad, y+height+2*pad).Intersect(b)
	draw.Draw(dst, band, image.NewUniform(r.style.TextBG), image.Point{}, draw.Over)

	d.Dot = fixed.P(x, y+pad+face.Metrics().Ascent.Ceil())
	d.DrawString(text)
}

func toPoint(p decoder.Point) image.Point {
	return image.Pt(int(math.Round(p.X)), int(math.Round(p.Y)))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
