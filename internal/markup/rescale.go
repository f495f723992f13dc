package markup

import "image"

// PixelBox is a Box rescaled to a concrete image size.
type PixelBox struct {
	X1, Y1, X2, Y2 int
}

// Rect returns the box as an image.Rectangle.
func (p PixelBox) Rect() image.Rectangle {
	return image.Rect(p.X1, p.Y1, p.X2, p.Y2)
}

// Scale maps the box onto a width x height image. Integer division keeps the
// floor rounding exact.
func (b Box) Scale(width, height int) PixelBox {
	return PixelBox{
		X1: rescale(b.X1, width),
		Y1: rescale(b.Y1, height),
		X2: rescale(b.X2, width),
		Y2: rescale(b.Y2, height),
	}
}

func rescale(coord, dimension int) int {
	return coord * dimension / CoordinateMax
}
