package imaging

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"testing"
)

func checkerboard(n, cell int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, n, n))
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			if (x/cell+y/cell)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 0})
			} else {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img
}

func TestPrepareStamp(t *testing.T) {
	src, err := EncodePNG(checkerboard(21, 3))
	if err != nil {
		t.Fatalf("EncodePNG() error = %v", err)
	}
	out, px, err := PrepareStamp(src, 72, 150)
	if err != nil {
		t.Fatalf("PrepareStamp() error = %v", err)
	}
	if px != 150 {
		t.Fatalf("expected 150px edge, got %d", px)
	}
	img, format, err := Decode(out)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if format != "png" || img.Bounds().Dx() != 150 || img.Bounds().Dy() != 150 {
		t.Fatalf("unexpected stamp: %s %v", format, img.Bounds())
	}
	// The centre of the first module stays dark after resizing.
	r, g, b, _ := img.At(10, 10).RGBA()
	if r > 0x4000 || g > 0x4000 || b > 0x4000 {
		t.Fatalf("module colour lost: %v %v %v", r, g, b)
	}
}

func TestDecodeRejects(t *testing.T) {
	if _, _, err := Decode(nil); !errors.Is(err, ErrEmptyImage) {
		t.Fatalf("expected ErrEmptyImage, got %v", err)
	}
	if _, _, err := Decode([]byte("not an image")); err == nil {
		t.Fatalf("expected decode error")
	}
}

// pngHeader returns a PNG holding only an IHDR for a w x h RGBA image.
func pngHeader(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	chunk := func(typ string, data []byte) {
		binary.Write(&buf, binary.BigEndian, uint32(len(data)))
		body := append([]byte(typ), data...)
		buf.Write(body)
		binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(body))
	}
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8], ihdr[9] = 8, 6
	chunk("IHDR", ihdr)
	chunk("IDAT", nil)
	chunk("IEND", nil)
	return buf.Bytes()
}

func TestDecodeRejectsOversizedHeader(t *testing.T) {
	forged := pngHeader(60000, 60000)
	if _, _, err := Decode(forged); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	if _, _, err := PrepareStamp(forged, 50, 300); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("PrepareStamp: expected ErrTooLarge, got %v", err)
	}
	if _, _, err := DecodeLimit(pngHeader(200, 200), 100*100); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("DecodeLimit: expected ErrTooLarge, got %v", err)
	}
	// Within the bound the header passes and the missing pixel data fails.
	if _, _, err := Decode(pngHeader(20, 20)); err == nil || errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected a decode error, got %v", err)
	}
}

func TestStampPixels(t *testing.T) {
	tests := []struct {
		size, dpi float64
		want      int
	}{
		{72, 300, 300},
		{90, 0, 375},
		{0.001, 72, 1},
		{10000, 300, MaxStampPixels},
	}
	for _, tt := range tests {
		if got := StampPixels(tt.size, tt.dpi); got != tt.want {
			t.Fatalf("StampPixels(%v, %v) = %d, want %d", tt.size, tt.dpi, got, tt.want)
		}
	}
}

func TestCrop(t *testing.T) {
	img := checkerboard(10, 5)
	c, err := Crop(img, image.Rect(5, 0, 20, 5))
	if err != nil {
		t.Fatalf("Crop() error = %v", err)
	}
	if c.Bounds().Dx() != 5 || c.Bounds().Dy() != 5 {
		t.Fatalf("crop not clipped: %v", c.Bounds())
	}
	if r, _, _, _ := c.At(0, 0).RGBA(); r != 0xffff {
		t.Fatalf("expected white cell at crop origin, got %v", r)
	}
	if _, err := Crop(img, image.Rect(20, 20, 30, 30)); err == nil {
		t.Fatalf("expected error for region outside image")
	}
}

func TestNewCanvas(t *testing.T) {
	c := NewCanvas(3, 2)
	if got := c.RGBAAt(2, 1); got != (color.RGBA{255, 255, 255, 255}) {
		t.Fatalf("canvas not white: %v", got)
	}
}

func TestFromSamples(t *testing.T) {
	img, err := FromSamples(Samples{Width: 3, Height: 1, BitsPerComponent: 1, Components: 1, Data: []byte{0xa0}})
	if err != nil {
		t.Fatalf("FromSamples() error = %v", err)
	}
	for x, want := range []uint32{0xffff, 0, 0xffff} {
		if r, _, _, _ := img.At(x, 0).RGBA(); r != want {
			t.Fatalf("pixel %d = %x, want %x", x, r, want)
		}
	}

	mask, err := FromSamples(Samples{Width: 2, Height: 1, Mask: true, Data: []byte{0x40}})
	if err != nil {
		t.Fatalf("mask error = %v", err)
	}
	if _, _, _, a := mask.At(0, 0).RGBA(); a != 0xffff {
		t.Fatalf("mask should paint where sample is 0")
	}
	if _, _, _, a := mask.At(1, 0).RGBA(); a != 0 {
		t.Fatalf("mask should be transparent where sample is 1")
	}

	pal := []color.Color{color.RGBA{255, 0, 0, 255}, color.RGBA{0, 0, 255, 255}}
	idx, err := FromSamples(Samples{Width: 2, Height: 1, BitsPerComponent: 8, Components: 1, Palette: pal, Data: []byte{1, 0}})
	if err != nil {
		t.Fatalf("indexed error = %v", err)
	}
	if r, _, b, _ := idx.At(0, 0).RGBA(); r != 0 || b != 0xffff {
		t.Fatalf("palette lookup failed")
	}

	cmyk, err := FromSamples(Samples{Width: 1, Height: 1, BitsPerComponent: 8, Components: 4, Data: []byte{0, 0, 0, 255}})
	if err != nil {
		t.Fatalf("cmyk error = %v", err)
	}
	if r, g, b, _ := cmyk.At(0, 0).RGBA(); r != 0 || g != 0 || b != 0 {
		t.Fatalf("full black CMYK should be black")
	}
}

func TestFromSamplesRejectsOversized(t *testing.T) {
	_, err := FromSamples(Samples{Width: 50000, Height: 50000, BitsPerComponent: 1, Components: 1, Mask: true})
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestFromSamplesRejects(t *testing.T) {
	bad := []Samples{
		{Width: 0, Height: 1, BitsPerComponent: 8, Components: 1},
		{Width: 1, Height: 1, BitsPerComponent: 3, Components: 1, Data: []byte{0}},
		{Width: 1, Height: 1, BitsPerComponent: 8, Components: 2, Data: []byte{0, 0}},
		{Width: 4, Height: 4, BitsPerComponent: 8, Components: 3, Data: []byte{1, 2, 3}},
	}
	for i, s := range bad {
		if _, err := FromSamples(s); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}
