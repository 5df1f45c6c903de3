// Package qrdetect locates and decodes QR symbols in raster images.
package qrdetect

import (
	"image"
	"math"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/makiuchi-d/gozxing/qrcode/detector"
)

// Margin is added around a detected symbol when cropping, in pixels.
const Margin = 10

// Point is a position in image pixels.
type Point struct{ X, Y float64 }

// Quad holds the symbol corners: top-left, top-right, bottom-right,
// bottom-left.
type Quad [4]Point

// Result is a detected symbol.
type Result struct {
	Quad Quad
	// Text is the decoded payload.
	Text string
}

// Detector finds QR symbols. The zero value is ready to use.
type Detector struct{}

// New returns a Detector.
func New() *Detector { return &Detector{} }

type binarizerFunc func(gozxing.LuminanceSource) gozxing.Binarizer

var strategies = []binarizerFunc{
	gozxing.NewGlobalHistgramBinarizer,
	gozxing.NewHybridBinarizer,
}

// Detect returns the first symbol found in img. A global threshold is
// tried first, then an adaptive one.
func (d *Detector) Detect(img image.Image) (Result, bool) {
	if img == nil || img.Bounds().Empty() {
		return Result{}, false
	}
	src := gozxing.NewLuminanceSourceFromImage(img)
	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	for _, binarize := range strategies {
		bmp, err := gozxing.NewBinaryBitmap(binarize(src))
		if err != nil {
			continue
		}
		res, err := qrcode.NewQRCodeReader().Decode(bmp, hints)
		if err != nil {
			continue
		}
		pts := res.GetResultPoints()
		if len(pts) < 3 {
			continue
		}
		q := corners(pts, dimension(bmp, hints))
		off := img.Bounds().Min
		for i := range q {
			q[i].X += float64(off.X)
			q[i].Y += float64(off.Y)
		}
		return Result{Quad: q, Text: res.GetText()}, true
	}
	return Result{}, false
}

// dimension returns the symbol size in modules, or 0 when unknown.
func dimension(bmp *gozxing.BinaryBitmap, hints map[gozxing.DecodeHintType]interface{}) int {
	m, err := bmp.GetBlackMatrix()
	if err != nil {
		return 0
	}
	dr, err := detector.NewDetector(m).Detect(hints)
	if err != nil || dr.GetBits() == nil {
		return 0
	}
	return dr.GetBits().GetWidth()
}

// corners extends the three finder pattern centres (bottom-left,
// top-left, top-right) to the outer corners of the symbol. Finder centres
// sit 3.5 modules inside each corner.
func corners(pts []gozxing.ResultPoint, dim int) Quad {
	bl := Point{pts[0].GetX(), pts[0].GetY()}
	tl := Point{pts[1].GetX(), pts[1].GetY()}
	tr := Point{pts[2].GetX(), pts[2].GetY()}
	if dim < 21 {
		dim = 21
	}
	span := math.Hypot(tr.X-tl.X, tr.Y-tl.Y)
	spanY := math.Hypot(bl.X-tl.X, bl.Y-tl.Y)
	if span == 0 || spanY == 0 {
		return Quad{tl, tr, {tr.X + bl.X - tl.X, tr.Y + bl.Y - tl.Y}, bl}
	}
	inset := 3.5 * span / float64(dim-7)
	insetY := 3.5 * spanY / float64(dim-7)
	ux := Point{(tr.X - tl.X) / span * inset, (tr.Y - tl.Y) / span * inset}
	uy := Point{(bl.X - tl.X) / spanY * insetY, (bl.Y - tl.Y) / spanY * insetY}
	br := Point{tr.X + bl.X - tl.X, tr.Y + bl.Y - tl.Y}
	return Quad{
		{tl.X - ux.X - uy.X, tl.Y - ux.Y - uy.Y},
		{tr.X + ux.X - uy.X, tr.Y + ux.Y - uy.Y},
		{br.X + ux.X + uy.X, br.Y + ux.Y + uy.Y},
		{bl.X - ux.X + uy.X, bl.Y - ux.Y + uy.Y},
	}
}

// Box returns the axis aligned bounds of q grown by Margin and clamped to
// bounds.
func Box(q Quad, bounds image.Rectangle) image.Rectangle {
	minX, minY := q[0].X, q[0].Y
	maxX, maxY := minX, minY
	for _, p := range q[1:] {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	r := image.Rect(
		int(math.Floor(minX))-Margin,
		int(math.Floor(minY))-Margin,
		int(math.Ceil(maxX))+Margin,
		int(math.Ceil(maxY))+Margin,
	)
	return r.Intersect(bounds)
}
