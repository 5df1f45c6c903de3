package contentstream

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// FontSpec carries the font dictionary entries needed to decode shown
// strings and advance the text position.
type FontSpec struct {
	Subtype      string // Type0, Type1, TrueType, Type3
	BaseEncoding string // WinAnsiEncoding, MacRomanEncoding, StandardEncoding
	Differences  map[int]string
	FirstChar    int
	Widths       []float64
	// CIDWidths and DefaultWidth come from the descendant font of a Type0
	// font (/W and /DW).
	CIDWidths    map[int]float64
	DefaultWidth float64
	ToUnicode    []byte
}

// Font decodes character codes of one font resource.
type Font struct {
	composite    bool
	toUnicode    *CMap
	simple       [256]string
	widths       map[int]float64
	defaultWidth float64
}

// NewFont builds a decoder from spec.
func NewFont(spec FontSpec) *Font {
	f := &Font{
		composite: spec.Subtype == "Type0",
		widths:    map[int]float64{},
	}
	if len(spec.ToUnicode) > 0 {
		f.toUnicode = ParseCMap(spec.ToUnicode)
	}
	if f.composite {
		f.defaultWidth = spec.DefaultWidth
		if f.defaultWidth == 0 {
			f.defaultWidth = 1000
		}
		for c, w := range spec.CIDWidths {
			f.widths[c] = w
		}
		return f
	}
	f.defaultWidth = 500
	for i, w := range spec.Widths {
		f.widths[spec.FirstChar+i] = w
	}
	f.simple = baseEncoding(spec.BaseEncoding)
	for code, name := range spec.Differences {
		if code >= 0 && code < 256 {
			f.simple[code] = glyphText(name)
		}
	}
	return f
}

// defaultFont decodes strings shown with a font that could not be resolved.
var defaultFont = NewFont(FontSpec{})

func baseEncoding(name string) [256]string {
	cm := charmap.Windows1252
	if name == "MacRomanEncoding" {
		cm = charmap.Macintosh
	}
	var table [256]string
	for i := 0; i < 256; i++ {
		if i < 0x20 {
			continue
		}
		r := cm.DecodeByte(byte(i))
		if r == utf8.RuneError {
			continue
		}
		table[i] = string(r)
	}
	return table
}

// glyph is one decoded character code.
type glyph struct {
	code  int
	text  string
	width float64 // glyph space, 1/1000 em
	space bool    // single byte code 32, subject to word spacing
}

func (f *Font) glyphs(s string) []glyph {
	if f == nil {
		f = defaultFont
	}
	var out []glyph
	if f.composite {
		n := 2
		if f.toUnicode != nil && len(f.toUnicode.codeLengths) == 1 {
			n = f.toUnicode.codeLengths[0]
		}
		for i := 0; i < len(s); i += n {
			end := i + n
			if end > len(s) {
				end = len(s)
			}
			code := int(codeValue(s[i:end]))
			text, _ := f.toUnicode.Lookup([]byte(s[i:end]))
			out = append(out, glyph{code: code, text: text, width: f.width(code)})
		}
		return out
	}
	for i := 0; i < len(s); i++ {
		code := int(s[i])
		text, ok := f.toUnicode.Lookup([]byte{s[i]})
		if !ok {
			text = f.simple[code]
		}
		out = append(out, glyph{code: code, text: text, width: f.width(code), space: code == 32})
	}
	return out
}

func (f *Font) width(code int) float64 {
	if w, ok := f.widths[code]; ok && w > 0 {
		return w
	}
	if !f.composite && code == 32 {
		return 250
	}
	return f.defaultWidth
}

// Decode returns the text of a shown string.
func (f *Font) Decode(s string) string {
	var b strings.Builder
	for _, g := range f.glyphs(s) {
		b.WriteString(g.text)
	}
	return b.String()
}
