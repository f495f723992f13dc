package markup

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// MaxOverlayPixels caps the source image size BoxesImage will decode.
const MaxOverlayPixels = 64 << 20

// ErrImageTooLarge is returned by BoxesImage for images above MaxOverlayPixels.
var ErrImageTooLarge = errors.New("markup: source image too large for overlay")

const (
	outlineWidth = 2
	fillAlpha    = 0x33
	labelPadding = 2
)

var palette = []color.RGBA{
	{R: 0xe6, G: 0x19, B: 0x4b, A: 0xff},
	{R: 0x3c, G: 0xb4, B: 0x4b, A: 0xff},
	{R: 0x43, G: 0x63, B: 0xd8, A: 0xff},
	{R: 0xf5, G: 0x82, B: 0x31, A: 0xff},
	{R: 0x91, G: 0x1e, B: 0xb4, A: 0xff},
	{R: 0x42, G: 0xd4, B: 0xf4, A: 0xff},
	{R: 0xf0, G: 0x32, B: 0xe6, A: 0xff},
	{R: 0x80, G: 0x80, B: 0x00, A: 0xff},
}

// Overlay draws every detection box of segments onto a copy of img.
// It returns nil when there is nothing to draw.
func Overlay(img image.Image, segments []Segment) *image.RGBA {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	var dst *image.RGBA
	n := 0
	for _, s := range segments {
		label := s.Ref
		if label == "" {
			label = "text"
		}
		for _, b := range s.Boxes {
			if dst == nil {
				dst = image.NewRGBA(bounds)
				draw.Draw(dst, bounds, img, bounds.Min, draw.Src)
			}
			rect := b.Scale(width, height).Rect().Add(bounds.Min).Intersect(bounds)
			if rect.Empty() {
				continue
			}
			drawBox(dst, rect, palette[n%len(palette)], label)
			n++
		}
	}
	return dst
}

func drawBox(dst *image.RGBA, rect image.Rectangle, c color.RGBA, label string) {
	fill := color.NRGBA{R: c.R, G: c.G, B: c.B, A: fillAlpha}
	draw.Draw(dst, rect, image.NewUniform(fill), image.Point{}, draw.Over)

	stroke := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(rect.Min.X, rect.Min.Y, rect.Max.X, rect.Min.Y+outlineWidth),
		image.Rect(rect.Min.X, rect.Max.Y-outlineWidth, rect.Max.X, rect.Max.Y),
		image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+outlineWidth, rect.Max.Y),
		image.Rect(rect.Max.X-outlineWidth, rect.Min.Y, rect.Max.X, rect.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(rect), stroke, image.Point{}, draw.Src)
	}

	drawLabel(dst, rect, stroke, label)
}

func drawLabel(dst *image.RGBA, rect image.Rectangle, src image.Image, label string) {
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: dst, Src: src, Face: face}

	textWidth := d.MeasureString(label).Ceil()
	textHeight := face.Metrics().Height.Ceil()

	x := rect.Min.X
	y := rect.Min.Y - textHeight - labelPadding
	if y < dst.Bounds().Min.Y {
		y = rect.Min.Y + outlineWidth
	}

	background := image.Rect(x, y, x+textWidth+2*labelPadding, y+textHeight+labelPadding)
	draw.Draw(dst, background.Intersect(dst.Bounds()), image.White, image.Point{}, draw.Src)

	d.Dot = fixed.P(x+labelPadding, y+face.Metrics().Ascent.Ceil())
	d.DrawString(label)
}

// BoxesImage decodes the source image, draws the boxes found in raw and
// returns the result as base64-encoded PNG. It returns "" when raw carries no
// boxes. The image header is checked against MaxOverlayPixels before any
// pixel data is decoded.
func BoxesImage(src io.ReadSeeker, raw string) (string, error) {
	segments, err := Tokenize(raw)
	if err != nil {
		return "", err
	}

	cfg, _, err := image.DecodeConfig(src)
	if err != nil {
		return "", fmt.Errorf("decode source image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxOverlayPixels {
		return "", fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind source image: %w", err)
	}

	img, _, err := image.Decode(src)
	if err != nil {
		return "", fmt.Errorf("decode source image: %w", err)
	}

	out := Overlay(img, segments)
	if out == nil {
		return "", nil
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return "", fmt.Errorf("encode overlay: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
