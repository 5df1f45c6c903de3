package contentstream

import (
	"errors"
	"math"
	"strings"

	"github.com/wudi/diplomaqr/coords"
)

// DefaultMaxDepth bounds Form XObject nesting.
const DefaultMaxDepth = 8

// Resources resolves names used by a content stream.
type Resources interface {
	// Font returns the font registered under name, or nil.
	Font(name string) *Font
	// XObject returns the external object registered under name.
	XObject(name string) (XObject, bool)
}

// XObject is an image or form referenced by the Do operator.
type XObject struct {
	Subtype string // "Image" or "Form"
	// Key identifies the underlying object, e.g. its object number.
	Key string
	// Form fields.
	Matrix    coords.Matrix
	Content   []byte
	Resources Resources // nil inherits the caller's resources
}

// ImagePlacement is an image drawn by the content stream. CTM maps the
// unit square to user space.
type ImagePlacement struct {
	Name string
	Key  string
	CTM  coords.Matrix
}

// Result is the outcome of interpreting a page.
type Result struct {
	Lines  []string
	Images []ImagePlacement
}

// Text joins the lines with newlines.
func (r *Result) Text() string { return strings.Join(r.Lines, "\n") }

type GraphicsState struct {
	CTM   coords.Matrix
	Text  TextState
	stack []savedState
}

type savedState struct {
	ctm  coords.Matrix
	text TextState
}

func (gs *GraphicsState) Save() { gs.stack = append(gs.stack, savedState{gs.CTM, gs.Text}) }
func (gs *GraphicsState) Restore() error {
	n := len(gs.stack)
	if n == 0 {
		return errors.New("state stack empty")
	}
	gs.CTM, gs.Text = gs.stack[n-1].ctm, gs.stack[n-1].text
	gs.stack = gs.stack[:n-1]
	return nil
}

type TextState struct {
	Font           *Font
	FontSize       float64
	CharSpacing    float64
	WordSpacing    float64
	HScale         float64 // Tz / 100
	Leading        float64
	Rise           float64
	TextMatrix     coords.Matrix
	TextLineMatrix coords.Matrix
}

// Option configures Interpret.
type Option func(*interpreter)

// WithMaxDepth bounds Form XObject recursion.
func WithMaxDepth(n int) Option { return func(in *interpreter) { in.maxDepth = n } }

// Interpret runs content against res and collects text lines and image
// placements. Text inside Form XObjects is included in drawing order.
// Unbalanced Q operators are ignored; a parse error stops interpretation
// and returns what was collected so far together with the error.
func Interpret(content []byte, res Resources, opts ...Option) (*Result, error) {
	in := &interpreter{maxDepth: DefaultMaxDepth, result: &Result{}}
	for _, opt := range opts {
		opt(in)
	}
	ts := TextState{HScale: 1, TextMatrix: coords.Identity(), TextLineMatrix: coords.Identity()}
	err := in.run(content, res, coords.Identity(), ts, 0)
	in.flush()
	return in.result, err
}

type interpreter struct {
	maxDepth int
	result   *Result

	line    strings.Builder
	hasText bool
	lastY   float64
	lastX   float64 // end of the previous run on the line
	lastSz  float64
}

func (in *interpreter) run(content []byte, res Resources, ctm coords.Matrix, ts TextState, depth int) error {
	ops, parseErr := Parse(content)
	gs := &GraphicsState{CTM: ctm, Text: ts}
	for _, op := range ops {
		if err := in.apply(op, gs, res, depth); err != nil {
			return err
		}
	}
	return parseErr
}

func (in *interpreter) apply(op Operation, gs *GraphicsState, res Resources, depth int) error {
	ts := &gs.Text
	args := op.Operands
	switch op.Operator {
	case "q":
		gs.Save()
	case "Q":
		_ = gs.Restore()
	case "cm":
		if v, ok := numbers(args, 6); ok {
			gs.CTM = toMatrix(v).Multiply(gs.CTM)
		}
	case "BT":
		ts.TextMatrix = coords.Identity()
		ts.TextLineMatrix = coords.Identity()
	case "Tf":
		if len(args) >= 2 {
			if name, ok := args[len(args)-2].(Name); ok && res != nil {
				ts.Font = res.Font(string(name))
			}
			if size, ok := number(args[len(args)-1]); ok {
				ts.FontSize = size
			}
		}
	case "Tc":
		if v, ok := numbers(args, 1); ok {
			ts.CharSpacing = v[0]
		}
	case "Tw":
		if v, ok := numbers(args, 1); ok {
			ts.WordSpacing = v[0]
		}
	case "Tz":
		if v, ok := numbers(args, 1); ok {
			ts.HScale = v[0] / 100
		}
	case "TL":
		if v, ok := numbers(args, 1); ok {
			ts.Leading = v[0]
		}
	case "Ts":
		if v, ok := numbers(args, 1); ok {
			ts.Rise = v[0]
		}
	case "Td":
		if v, ok := numbers(args, 2); ok {
			moveLine(ts, v[0], v[1])
		}
	case "TD":
		if v, ok := numbers(args, 2); ok {
			ts.Leading = -v[1]
			moveLine(ts, v[0], v[1])
		}
	case "Tm":
		if v, ok := numbers(args, 6); ok {
			ts.TextLineMatrix = toMatrix(v)
			ts.TextMatrix = ts.TextLineMatrix
		}
	case "T*":
		moveLine(ts, 0, -ts.Leading)
	case "Tj":
		if len(args) > 0 {
			if s, ok := args[len(args)-1].(string); ok {
				in.show(gs, s)
			}
		}
	case "'":
		moveLine(ts, 0, -ts.Leading)
		if len(args) > 0 {
			if s, ok := args[len(args)-1].(string); ok {
				in.show(gs, s)
			}
		}
	case "\"":
		if len(args) >= 3 {
			if v, ok := numbers(args[:len(args)-1], 2); ok {
				ts.WordSpacing, ts.CharSpacing = v[0], v[1]
			}
			moveLine(ts, 0, -ts.Leading)
			if s, ok := args[len(args)-1].(string); ok {
				in.show(gs, s)
			}
		}
	case "TJ":
		if len(args) > 0 {
			if arr, ok := args[len(args)-1].([]Object); ok {
				for _, el := range arr {
					switch v := el.(type) {
					case string:
						in.show(gs, v)
					case float64:
						tx := -v / 1000 * ts.FontSize * ts.HScale
						ts.TextMatrix = coords.Translate(tx, 0).Multiply(ts.TextMatrix)
					}
				}
			}
		}
	case "Do":
		if len(args) > 0 {
			if name, ok := args[len(args)-1].(Name); ok {
				return in.do(string(name), gs, res, depth)
			}
		}
	}
	return nil
}

func (in *interpreter) do(name string, gs *GraphicsState, res Resources, depth int) error {
	if res == nil {
		return nil
	}
	xo, ok := res.XObject(name)
	if !ok {
		return nil
	}
	switch xo.Subtype {
	case "Image":
		in.result.Images = append(in.result.Images, ImagePlacement{Name: name, Key: xo.Key, CTM: gs.CTM})
	case "Form":
		if depth+1 > in.maxDepth {
			return nil
		}
		m := xo.Matrix
		if m == (coords.Matrix{}) {
			m = coords.Identity()
		}
		inner := xo.Resources
		if inner == nil {
			inner = res
		}
		// Errors inside a form only truncate that form.
		_ = in.run(xo.Content, inner, m.Multiply(gs.CTM), gs.Text, depth+1)
	}
	return nil
}

func moveLine(ts *TextState, tx, ty float64) {
	ts.TextLineMatrix = coords.Translate(tx, ty).Multiply(ts.TextLineMatrix)
	ts.TextMatrix = ts.TextLineMatrix
}

func toMatrix(v []float64) coords.Matrix {
	return coords.Matrix{v[0], v[1], v[2], v[3], v[4], v[5]}
}

// show decodes s, appends it to the current line and advances the text
// matrix. A baseline change starts a new line; a horizontal gap wider than
// a fraction of the font size inserts a space.
func (in *interpreter) show(gs *GraphicsState, s string) {
	ts := &gs.Text
	glyphs := ts.Font.glyphs(s)
	if len(glyphs) == 0 {
		return
	}
	trm := ts.TextMatrix.Multiply(gs.CTM)
	start := trm.Transform(coords.Point{Y: ts.Rise})
	size := math.Abs(ts.FontSize) * math.Hypot(trm[2], trm[3])
	if size == 0 {
		size = 1
	}

	var text strings.Builder
	for _, g := range glyphs {
		text.WriteString(g.text)
		tx := g.width/1000*ts.FontSize + ts.CharSpacing
		if g.space {
			tx += ts.WordSpacing
		}
		ts.TextMatrix = coords.Translate(tx*ts.HScale, 0).Multiply(ts.TextMatrix)
	}
	end := ts.TextMatrix.Multiply(gs.CTM).Transform(coords.Point{Y: ts.Rise})
	in.appendRun(text.String(), start, end, size)
}

func (in *interpreter) appendRun(text string, start, end coords.Point, size float64) {
	if text == "" {
		in.lastX = end.X
		return
	}
	if in.hasText {
		tol := math.Max(size, in.lastSz) / 2
		switch {
		case math.Abs(start.Y-in.lastY) > tol:
			in.flush()
		case start.X-in.lastX > size*0.15:
			cur := in.line.String()
			if !strings.HasSuffix(cur, " ") && !strings.HasPrefix(text, " ") {
				in.line.WriteByte(' ')
			}
		}
	}
	in.line.WriteString(text)
	in.hasText = true
	in.lastY, in.lastX, in.lastSz = start.Y, end.X, size
}

func (in *interpreter) flush() {
	if !in.hasText {
		return
	}
	if line := strings.TrimSpace(in.line.String()); line != "" {
		in.result.Lines = append(in.result.Lines, line)
	}
	in.line.Reset()
	in.hasText = false
}
