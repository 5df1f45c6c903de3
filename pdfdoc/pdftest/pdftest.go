// Package pdftest writes small PDF files for tests.
package pdftest

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	"github.com/klauspost/compress/zlib"
)

// Page describes one generated page.
type Page struct {
	Width, Height float64 // default 595 x 842 (A4)
	Lines         []Line
	Images        []Image
}

// Line is Helvetica text with its baseline at X, Y (bottom-left origin).
type Line struct {
	X, Y, Size float64
	Text       string
}

// Image draws Gray at X, Y with the given size in points.
type Image struct {
	X, Y, W, H float64
	Gray       *image.Gray
	// Compress stores the samples with FlateDecode.
	Compress bool
}

// Build returns a PDF with the given pages.
func Build(pages ...Page) []byte {
	w := &writer{}
	w.reserve(3) // catalog, page tree, font
	var kids []string
	for _, p := range pages {
		kids = append(kids, fmt.Sprintf("%d 0 R", w.page(p)))
	}
	w.set(1, "<< /Type /Catalog /Pages 2 0 R >>")
	w.set(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(kids)))
	w.set(3, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")
	return w.bytes()
}

type writer struct {
	objs [][]byte
}

func (w *writer) reserve(n int) {
	for i := 0; i < n; i++ {
		w.objs = append(w.objs, nil)
	}
}

func (w *writer) add(body []byte) int {
	w.objs = append(w.objs, body)
	return len(w.objs)
}

func (w *writer) set(num int, body string) { w.objs[num-1] = []byte(body) }

func stream(dict string, data []byte) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "<< %s /Length %d >>\nstream\n", dict, len(data))
	b.Write(data)
	b.WriteString("\nendstream")
	return b.Bytes()
}

func (w *writer) page(p Page) int {
	if p.Width == 0 {
		p.Width, p.Height = 595, 842
	}
	var content bytes.Buffer
	var xobjs []string
	for i, img := range p.Images {
		name := fmt.Sprintf("Im%d", i+1)
		b := img.Gray.Bounds()
		data := make([]byte, 0, b.Dx()*b.Dy())
		for y := b.Min.Y; y < b.Max.Y; y++ {
			data = append(data, img.Gray.Pix[img.Gray.PixOffset(b.Min.X, y):img.Gray.PixOffset(b.Max.X, y)]...)
		}
		dict := fmt.Sprintf("/Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /DeviceGray /BitsPerComponent 8", b.Dx(), b.Dy())
		if img.Compress {
			var z bytes.Buffer
			zw := zlib.NewWriter(&z)
			zw.Write(data)
			zw.Close()
			data = z.Bytes()
			dict += " /Filter /FlateDecode"
		}
		num := w.add(stream(dict, data))
		xobjs = append(xobjs, fmt.Sprintf("/%s %d 0 R", name, num))
		fmt.Fprintf(&content, "q %g 0 0 %g %g %g cm /%s Do Q\n", img.W, img.H, img.X, img.Y, name)
	}
	for _, l := range p.Lines {
		size := l.Size
		if size == 0 {
			size = 12
		}
		fmt.Fprintf(&content, "BT /F1 %g Tf %g %g Td (%s) Tj ET\n", size, l.X, l.Y, escape(l.Text))
	}
	contentNum := w.add(stream("", content.Bytes()))
	res := "/Font << /F1 3 0 R >>"
	if len(xobjs) > 0 {
		res += " /XObject << " + strings.Join(xobjs, " ") + " >>"
	}
	return w.add([]byte(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %g %g] /Resources << %s >> /Contents %d 0 R >>",
		p.Width, p.Height, res, contentNum)))
}

// escape encodes s as a WinAnsi literal string body.
func escape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '(' || r == ')' || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r < 0x80:
			b.WriteRune(r)
		case r <= 0xff:
			fmt.Fprintf(&b, "\\%03o", r)
		default:
			b.WriteByte('?')
		}
	}
	return b.String()
}

func (w *writer) bytes() []byte {
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")
	offsets := make([]int, len(w.objs))
	for i, body := range w.objs {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n", i+1)
		b.Write(body)
		b.WriteString("\nendobj\n")
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(w.objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(w.objs)+1, xref)
	return b.Bytes()
}
