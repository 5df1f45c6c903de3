// Package pdfdoc opens PDF documents, reads page text, rasterises page
// images and stamps images onto pages.
package pdfdoc

import (
	"errors"
	"image"

	"github.com/wudi/diplomaqr/coords"
)

var (
	ErrEmptyDocument    = errors.New("empty document")
	ErrTooLarge         = errors.New("document exceeds size limit")
	ErrPageOutOfRange   = errors.New("page index out of range")
	ErrClosed           = errors.New("document closed")
	ErrRasterTooLarge   = errors.New("raster exceeds pixel limit")
	ErrInvalidScale     = errors.New("scale must be positive")
	ErrInvalidPlacement = errors.New("invalid image placement")
)

// Opener parses PDF bytes.
type Opener interface {
	Open(data []byte) (Document, error)
}

// Document is an opened PDF. Pages are addressed by zero-based index.
type Document interface {
	NumPages() int
	Page(i int) (Page, error)
	// Save serialises the document including queued stamps.
	Save() ([]byte, error)
	Close() error
}

// Page is one page of a Document. Coordinates are in points with the
// origin at the top-left corner of the visible page.
type Page interface {
	Text() (string, error)
	Bounds() (w, h float64)
	Rasterize(scale float64) (image.Image, error)
	InsertImage(r coords.Rect, png []byte) error
}

// Limits bounds the resources spent on one document.
type Limits struct {
	// Maximum input size in bytes. Default: 64 MB.
	MaxDocumentSize int64
	// Maximum Form XObject nesting followed while reading a page. Default: 8.
	MaxXObjectDepth int
	// Maximum pixels of one page raster. Default: 40 million.
	MaxRasterPixels int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxDocumentSize: 64 * 1024 * 1024,
		MaxXObjectDepth: 8,
		MaxRasterPixels: 40_000_000,
	}
}

// Option configures the pdfcpu backed Opener.
type Option func(*opener)

// WithLimits replaces DefaultLimits.
func WithLimits(l Limits) Option { return func(o *opener) { o.limits = l } }

// WithPassword sets the user password for encrypted documents.
func WithPassword(pw string) Option { return func(o *opener) { o.password = pw } }
