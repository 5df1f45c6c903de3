// Package tesseract recognises page rasters with Tesseract through
// gosseract. Importing it makes Tesseract the default ocr engine.
package tesseract

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/wudi/diplomaqr/imaging"
	"github.com/wudi/diplomaqr/ocr"
)

func init() {
	ocr.SetDefaultEngine(New())
}

// Engine implements ocr.BatchEngine.
type Engine struct {
	newClient func() *gosseract.Client
}

func New() *Engine {
	return &Engine{newClient: gosseract.NewClient}
}

func (e *Engine) Name() string { return "tesseract" }

func (e *Engine) Recognize(ctx context.Context, in ocr.Input) (ocr.Result, error) {
	c := e.newClient()
	defer c.Close()
	return recognize(ctx, c, in)
}

// RecognizeBatch shares one client between inputs.
func (e *Engine) RecognizeBatch(ctx context.Context, inputs []ocr.Input) ([]ocr.Result, error) {
	c := e.newClient()
	defer c.Close()
	results := make([]ocr.Result, 0, len(inputs))
	for _, in := range inputs {
		res, err := recognize(ctx, c, in)
		if err != nil {
			return nil, fmt.Errorf("recognize %s: %w", in.ID, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func recognize(ctx context.Context, c *gosseract.Client, in ocr.Input) (ocr.Result, error) {
	if err := ctx.Err(); err != nil {
		return ocr.Result{}, err
	}
	data, err := regionPNG(in)
	if err != nil {
		return ocr.Result{}, err
	}
	if err := c.SetImageFromBytes(data); err != nil {
		return ocr.Result{}, fmt.Errorf("set image: %w", err)
	}
	if len(in.Languages) > 0 {
		if err := c.SetLanguage(in.Languages...); err != nil {
			return ocr.Result{}, fmt.Errorf("set languages: %w", err)
		}
	}
	vars := map[string]string{}
	if in.DPI > 0 {
		vars["user_defined_dpi"] = strconv.Itoa(in.DPI)
	}
	for k, v := range in.Variables {
		vars[k] = v
	}
	for k, v := range vars {
		if err := c.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			return ocr.Result{}, fmt.Errorf("set %s: %w", k, err)
		}
	}
	text, err := c.Text()
	if err != nil {
		return ocr.Result{}, fmt.Errorf("recognize text: %w", err)
	}
	res := ocr.Result{InputID: in.ID, PlainText: strings.TrimSpace(text)}
	if len(in.Languages) > 0 {
		res.Language = in.Languages[0]
	}
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err == nil {
		res.Lines, res.Confidence = lines(boxes)
	}
	return res, nil
}

// lines converts line boxes, dropping blank rows. The confidence is the
// mean over the kept lines.
func lines(boxes []gosseract.BoundingBox) ([]ocr.Line, float64) {
	var out []ocr.Line
	var sum float64
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		conf := b.Confidence / 100
		sum += conf
		out = append(out, ocr.Line{Text: text, Bounds: b.Box, Confidence: conf})
	}
	if len(out) == 0 {
		return nil, 0
	}
	return out, sum / float64(len(out))
}

// regionPNG returns the input image cropped to its region.
func regionPNG(in ocr.Input) ([]byte, error) {
	if in.Region == nil || in.Region.Empty() {
		return in.Image, nil
	}
	img, _, err := imaging.Decode(in.Image)
	if err != nil {
		return nil, fmt.Errorf("decode for region: %w", err)
	}
	cropped, err := imaging.Crop(img, *in.Region)
	if err != nil {
		return nil, err
	}
	return imaging.EncodePNG(cropped)
}
