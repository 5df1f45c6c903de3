package ocr

import (
	"context"
	"image"
)

// Input is one page raster submitted for recognition.
type Input struct {
	// ID is echoed back in Result.InputID.
	ID string
	// Image holds PNG bytes.
	Image     []byte
	PageIndex int
	// DPI is the raster resolution; zero means unknown.
	DPI int
	// Languages are trained data names such as "por" or "eng".
	Languages []string
	// Region limits recognition to part of the raster, in pixels. Nil means
	// the whole image.
	Region *image.Rectangle
	// Variables are engine settings passed through verbatim.
	Variables map[string]string
}

// Line is one recognised text line.
type Line struct {
	Text   string
	Bounds image.Rectangle
	// Confidence is in [0, 1].
	Confidence float64
}

// Result is the text recognised in one Input.
type Result struct {
	InputID string
	// PlainText is the page text, one line per row.
	PlainText  string
	Lines      []Line
	Confidence float64
	Language   string
}

// Engine recognises one raster at a time.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, input Input) (Result, error)
}

// BatchEngine recognises several rasters in one call.
type BatchEngine interface {
	Engine
	RecognizeBatch(ctx context.Context, inputs []Input) ([]Result, error)
}
