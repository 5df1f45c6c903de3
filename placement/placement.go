// Package placement parses caller-supplied stamp positions.
//
// Input is strictly schema validated JSON. Anything that does not conform
// to the documented shape is rejected as a whole; nothing is evaluated.
//
//	{"x": 420, "y": 700, "size": 90}
//	[{"page": 0, "x": 630, "y": 1050, "size": 135, "canvas_width": 892.5, "canvas_height": 1263}]
//	{"0": [{"x": 420, "y": 700, "size": 90}], "2": [...]}   (ParsePageMap)
package placement

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/wudi/diplomaqr/coords"
)

// ErrInvalid marks malformed placement input.
var ErrInvalid = errors.New("invalid placement")

// Request places one stamp on one page.
type Request struct {
	// Page is the zero-based page index.
	Page int
	coords.Placement
}

// wire is the accepted JSON shape of a single placement.
type wire struct {
	Page         *int     `json:"page"`
	X            *float64 `json:"x"`
	Y            *float64 `json:"y"`
	Size         *float64 `json:"size"`
	CanvasWidth  *float64 `json:"canvas_width"`
	CanvasHeight *float64 `json:"canvas_height"`
	RealWidth    *float64 `json:"real_width"`
	RealHeight   *float64 `json:"real_height"`
}

// Parse accepts a single placement object or a list of them.
func Parse(data []byte) ([]Request, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrInvalid)
	}
	var items []wire
	switch trimmed[0] {
	case '{':
		var w wire
		if err := decodeStrict(trimmed, &w); err != nil {
			return nil, err
		}
		items = []wire{w}
	case '[':
		if err := decodeStrict(trimmed, &items); err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return nil, fmt.Errorf("%w: empty list", ErrInvalid)
		}
	default:
		return nil, fmt.Errorf("%w: expected object or list", ErrInvalid)
	}
	out := make([]Request, 0, len(items))
	for i, w := range items {
		r, err := w.request(nil)
		if err != nil {
			return nil, fmt.Errorf("placement %d: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// ParsePageMap accepts an object keyed by zero-based page index whose values
// are lists of placements. A "page" field inside an item must agree with its
// key. Pages with empty lists are skipped. Results are ordered by page.
func ParsePageMap(data []byte) ([]Request, error) {
	var m map[string][]json.RawMessage
	if err := decodeStrict(bytes.TrimSpace(data), &m); err != nil {
		return nil, err
	}
	pages := make([]int, 0, len(m))
	byPage := make(map[int][]json.RawMessage, len(m))
	for k, items := range m {
		page, err := strconv.Atoi(k)
		if err != nil || page < 0 {
			return nil, fmt.Errorf("%w: page key %q", ErrInvalid, k)
		}
		pages = append(pages, page)
		byPage[page] = items
	}
	sort.Ints(pages)
	var out []Request
	for _, page := range pages {
		for i, raw := range byPage[page] {
			var w wire
			if err := decodeStrict(raw, &w); err != nil {
				return nil, fmt.Errorf("page %d placement %d: %w", page, i, err)
			}
			p := page
			r, err := w.request(&p)
			if err != nil {
				return nil, fmt.Errorf("page %d placement %d: %w", page, i, err)
			}
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no placements", ErrInvalid)
	}
	return out, nil
}

func decodeStrict(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data", ErrInvalid)
	}
	return nil
}

func (w wire) request(page *int) (Request, error) {
	if w.X == nil || w.Y == nil || w.Size == nil {
		return Request{}, fmt.Errorf("%w: x, y and size are required", ErrInvalid)
	}
	fields := []struct {
		name string
		v    *float64
	}{
		{"x", w.X}, {"y", w.Y}, {"size", w.Size},
		{"canvas_width", w.CanvasWidth}, {"canvas_height", w.CanvasHeight},
		{"real_width", w.RealWidth}, {"real_height", w.RealHeight},
	}
	for _, f := range fields {
		if f.v != nil && (math.IsNaN(*f.v) || math.IsInf(*f.v, 0) || *f.v < 0) {
			return Request{}, fmt.Errorf("%w: %s must be a non-negative number", ErrInvalid, f.name)
		}
	}
	if *w.Size == 0 {
		return Request{}, fmt.Errorf("%w: size must be positive", ErrInvalid)
	}
	r := Request{Placement: coords.Placement{X: *w.X, Y: *w.Y, Size: *w.Size}}
	switch {
	case w.Page != nil && page != nil && *w.Page != *page:
		return Request{}, fmt.Errorf("%w: page %d listed under page %d", ErrInvalid, *w.Page, *page)
	case w.Page != nil:
		if *w.Page < 0 {
			return Request{}, fmt.Errorf("%w: page must be non-negative", ErrInvalid)
		}
		r.Page = *w.Page
	case page != nil:
		r.Page = *page
	}
	if (w.RealWidth == nil) != (w.RealHeight == nil) {
		return Request{}, fmt.Errorf("%w: real_width and real_height go together", ErrInvalid)
	}
	if w.RealWidth != nil {
		// Page-space marker: positions are already page units.
		return r, nil
	}
	if (w.CanvasWidth == nil) != (w.CanvasHeight == nil) {
		return Request{}, fmt.Errorf("%w: canvas_width and canvas_height go together", ErrInvalid)
	}
	if w.CanvasWidth != nil {
		if *w.CanvasWidth == 0 || *w.CanvasHeight == 0 {
			return Request{}, fmt.Errorf("%w: canvas dimensions must be positive", ErrInvalid)
		}
		r.Canvas = &coords.Canvas{Width: *w.CanvasWidth, Height: *w.CanvasHeight}
	}
	return r, nil
}

// ForPage returns the requests that target page.
func ForPage(reqs []Request, page int) []Request {
	var out []Request
	for _, r := range reqs {
		if r.Page == page {
			out = append(out, r)
		}
	}
	return out
}

// Validate applies the Parse rules to a request built in code.
func (r Request) Validate() error {
	if r.Page < 0 {
		return fmt.Errorf("%w: page must be non-negative", ErrInvalid)
	}
	for _, v := range []float64{r.X, r.Y, r.Size} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%w: x, y and size must be non-negative numbers", ErrInvalid)
		}
	}
	if r.Size == 0 {
		return fmt.Errorf("%w: size must be positive", ErrInvalid)
	}
	if c := r.Canvas; c != nil && !(c.Width > 0 && c.Height > 0) {
		return fmt.Errorf("%w: canvas dimensions must be positive", ErrInvalid)
	}
	return nil
}
