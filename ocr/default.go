package ocr

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync/atomic"
)

var defaultEngine atomic.Value

func init() { defaultEngine.Store(engineHolder{noopEngine{}}) }

type engineHolder struct{ Engine }

// DefaultEngine returns the registered engine. Without registration it
// recognises nothing.
func DefaultEngine() Engine {
	return defaultEngine.Load().(engineHolder).Engine
}

// SetDefaultEngine registers engine as the default. Engine packages call it
// from init.
func SetDefaultEngine(engine Engine) {
	if engine == nil {
		engine = noopEngine{}
	}
	defaultEngine.Store(engineHolder{engine})
}

// PageImage is a page raster with its zero-based index.
type PageImage struct {
	Index int
	Image image.Image
}

// RecognizePages runs engine over pages in order, in one call when the
// engine is a BatchEngine.
func RecognizePages(ctx context.Context, engine Engine, pages []PageImage, opts ...InputOption) ([]Result, error) {
	inputs := make([]Input, 0, len(pages))
	for _, p := range pages {
		in, err := InputFromImage(p.Image, p.Index, opts...)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, in)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b, ok := engine.(BatchEngine); ok {
		return b.RecognizeBatch(ctx, inputs)
	}
	results := make([]Result, 0, len(inputs))
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := engine.Recognize(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("%s: recognize %s: %w", engine.Name(), in.ID, err)
		}
		results = append(results, res)
	}
	return results, nil
}

// PageText recognises one page raster and returns its trimmed text.
func PageText(ctx context.Context, engine Engine, img image.Image, page int, opts ...InputOption) (string, error) {
	results, err := RecognizePages(ctx, engine, []PageImage{{Index: page, Image: img}}, opts...)
	if err != nil {
		return "", err
	}
	var parts []string
	for _, r := range results {
		if t := strings.TrimSpace(r.PlainText); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n"), nil
}

type noopEngine struct{}

func (noopEngine) Name() string { return "noop" }

func (noopEngine) Recognize(_ context.Context, in Input) (Result, error) {
	return Result{InputID: in.ID}, nil
}
