// Package imaging decodes, resizes and encodes raster images.
// All resizing uses the Catmull-Rom kernel.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// PointsPerInch is the PDF user space resolution.
const PointsPerInch = 72.0

// DefaultStampDPI is the raster resolution of stamped QR images.
const DefaultStampDPI = 300.0

// MaxStampPixels bounds the edge of a stamped image.
const MaxStampPixels = 4096

// MaxDecodePixels bounds the pixel count Decode accepts.
const MaxDecodePixels = 40_000_000

var (
	ErrEmptyImage = errors.New("image is empty")
	ErrTooLarge   = errors.New("image too large")
)

// Decode parses PNG, JPEG or GIF data of at most MaxDecodePixels pixels.
func Decode(data []byte) (image.Image, string, error) {
	return DecodeLimit(data, MaxDecodePixels)
}

// DecodeLimit is Decode with a caller supplied pixel bound. The header is
// checked before any pixel buffer is allocated.
func DecodeLimit(data []byte, maxPixels int) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmptyImage
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	if err := checkPixels(cfg.Width, cfg.Height, maxPixels); err != nil {
		return nil, "", err
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, "", ErrEmptyImage
	}
	return img, format, nil
}

func checkPixels(w, h, maxPixels int) error {
	if maxPixels > 0 && int64(w)*int64(h) > int64(maxPixels) {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooLarge, w, h, maxPixels)
	}
	return nil
}

// Resize scales img to w x h pixels with the Catmull-Rom kernel.
func Resize(img image.Image, w, h int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

// EncodePNG encodes img losslessly.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Crop copies the part of img inside r. r is clipped to the image bounds.
func Crop(img image.Image, r image.Rectangle) (*image.NRGBA, error) {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return nil, errors.New("crop region outside image bounds")
	}
	dst := image.NewNRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst, nil
}

// Place composites src onto dst. m maps source pixel coordinates to
// destination pixel coordinates.
func Place(dst draw.Image, src image.Image, m f64.Aff3) {
	draw.BiLinear.Transform(dst, m, src, src.Bounds(), draw.Over, nil)
}

// NewCanvas returns a white w x h canvas.
func NewCanvas(w, h int) *image.RGBA {
	c := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(c, c.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	return c
}

// StampPixels is the pixel edge of a square stamp of sizePt points at dpi.
func StampPixels(sizePt, dpi float64) int {
	if dpi <= 0 {
		dpi = DefaultStampDPI
	}
	px := int(math.Ceil(sizePt * dpi / PointsPerInch))
	if px < 1 {
		px = 1
	}
	if px > MaxStampPixels {
		px = MaxStampPixels
	}
	return px
}

// PrepareStamp decodes a QR image, resizes it to a square of sizePt points at
// dpi and returns the PNG encoding with its pixel edge.
func PrepareStamp(data []byte, sizePt, dpi float64) ([]byte, int, error) {
	img, _, err := Decode(data)
	if err != nil {
		return nil, 0, err
	}
	px := StampPixels(sizePt, dpi)
	out, err := EncodePNG(Resize(img, px, px))
	if err != nil {
		return nil, 0, err
	}
	return out, px, nil
}
