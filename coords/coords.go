// Package coords maps placement requests onto page space.
//
// Page space uses PDF units (points) with the origin at the top-left corner
// of the page, the convention callers see on a rendered preview. Rect.PDF
// converts to the bottom-left origin used inside content streams.
package coords

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidCanvas is returned when a canvas-mode request carries a
// non-positive canvas dimension.
var ErrInvalidCanvas = errors.New("canvas dimensions must be positive")

// Canvas is the pixel size of the rendered preview a legacy request was
// expressed against.
type Canvas struct {
	Width  float64
	Height float64
}

// Placement is a requested stamp position. A nil Canvas means X, Y and Size
// are already page units.
type Placement struct {
	X      float64
	Y      float64
	Size   float64
	Canvas *Canvas
}

// Rect is a square stamp area in page space, top-left origin.
type Rect struct {
	X    float64
	Y    float64
	Size float64
}

func (r Rect) String() string {
	return fmt.Sprintf("(%.2f, %.2f, %.2f)", r.X, r.Y, r.Size)
}

// PDF returns the lower-left corner of r in PDF user space for a page of the
// given height.
func (r Rect) PDF(pageHeight float64) (llx, lly float64) {
	return r.X, pageHeight - r.Y - r.Size
}

// Map converts p to a page-space rectangle on a pageWidth x pageHeight page.
//
// Canvas requests are scaled per axis and the size uniformly by the smaller
// scale factor so the stamp stays square. The position is then clamped so
// the rectangle starts inside the page and ends before its far edges. Size is
// not clamped: a stamp larger than the page still overflows.
func Map(p Placement, pageWidth, pageHeight float64) (Rect, error) {
	x, y, size := p.X, p.Y, p.Size
	if c := p.Canvas; c != nil {
		if c.Width <= 0 || c.Height <= 0 {
			return Rect{}, ErrInvalidCanvas
		}
		sx := pageWidth / c.Width
		sy := pageHeight / c.Height
		x *= sx
		y *= sy
		size *= math.Min(sx, sy)
	}
	return Rect{
		X:    clamp(x, pageWidth-size),
		Y:    clamp(y, pageHeight-size),
		Size: size,
	}, nil
}

func clamp(v, upper float64) float64 {
	return math.Max(0, math.Min(v, upper))
}
