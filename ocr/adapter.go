package ocr

import (
	"fmt"
	"image"

	"github.com/wudi/diplomaqr/imaging"
)

// InputOption adjusts an Input built by InputFromImage.
type InputOption func(*Input)

func WithLanguages(langs ...string) InputOption {
	return func(in *Input) { in.Languages = append([]string(nil), langs...) }
}

// WithRegion limits recognition to r. An empty r selects the whole image.
func WithRegion(r image.Rectangle) InputOption {
	return func(in *Input) {
		if r.Empty() {
			in.Region = nil
			return
		}
		in.Region = &r
	}
}

func WithDPI(dpi int) InputOption {
	return func(in *Input) { in.DPI = dpi }
}

// WithVariables copies engine settings onto the input, replacing any set
// before.
func WithVariables(vars map[string]string) InputOption {
	return func(in *Input) {
		in.Variables = nil
		for k, v := range vars {
			setVariable(in, k, v)
		}
	}
}

// InputFromImage encodes a page raster as PNG. The ID is "page-N".
func InputFromImage(img image.Image, page int, opts ...InputOption) (Input, error) {
	data, err := imaging.EncodePNG(img)
	if err != nil {
		return Input{}, fmt.Errorf("encode page %d: %w", page, err)
	}
	in := Input{ID: fmt.Sprintf("page-%d", page), Image: data, PageIndex: page}
	for _, opt := range opts {
		opt(&in)
	}
	return in, nil
}
