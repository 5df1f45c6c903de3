package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// Samples describes uncompressed image data as stored in a PDF image
// XObject.
type Samples struct {
	Width, Height    int
	BitsPerComponent int
	Components       int // 1, 3 or 4; 1 when Palette is set
	Data             []byte
	// Palette maps index samples to colours (Indexed colour spaces).
	Palette []color.Color
	// Invert flips single component samples (Decode [1 0]).
	Invert bool
	// Mask marks a stencil mask: painted where the sample is 0.
	Mask bool
}

var ErrSampleFormat = errors.New("unsupported sample format")

// FromSamples converts raw samples into an image of at most
// MaxDecodePixels pixels.
func FromSamples(s Samples) (image.Image, error) {
	if s.Width <= 0 || s.Height <= 0 {
		return nil, ErrEmptyImage
	}
	if err := checkPixels(s.Width, s.Height, MaxDecodePixels); err != nil {
		return nil, err
	}
	if s.Mask {
		s.BitsPerComponent, s.Components = 1, 1
	}
	switch s.BitsPerComponent {
	case 1, 2, 4, 8, 16:
	default:
		return nil, fmt.Errorf("%w: %d bits per component", ErrSampleFormat, s.BitsPerComponent)
	}
	if s.Components != 1 && s.Components != 3 && s.Components != 4 {
		return nil, fmt.Errorf("%w: %d components", ErrSampleFormat, s.Components)
	}
	stride := (s.Width*s.Components*s.BitsPerComponent + 7) / 8
	if len(s.Data) < stride*s.Height {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrSampleFormat, stride*s.Height, len(s.Data))
	}

	img := image.NewNRGBA(image.Rect(0, 0, s.Width, s.Height))
	maxVal := uint32(1)<<uint(min(s.BitsPerComponent, 8)) - 1
	vals := make([]uint32, s.Components)
	for y := 0; y < s.Height; y++ {
		row := s.Data[y*stride : (y+1)*stride]
		bit := 0
		for x := 0; x < s.Width; x++ {
			for c := range vals {
				vals[c] = readSample(row, bit, s.BitsPerComponent)
				bit += s.BitsPerComponent
			}
			img.SetNRGBA(x, y, s.pixel(vals, maxVal))
		}
	}
	return img, nil
}

func readSample(row []byte, bit, bpc int) uint32 {
	switch bpc {
	case 8:
		return uint32(row[bit/8])
	case 16:
		return uint32(row[bit/8])
	}
	b := row[bit/8]
	shift := 8 - bpc - bit%8
	return uint32(b>>uint(shift)) & (1<<uint(bpc) - 1)
}

func scale8(v, maxVal uint32) uint8 { return uint8(v * 255 / maxVal) }

func (s Samples) pixel(vals []uint32, maxVal uint32) color.NRGBA {
	if s.Mask {
		if vals[0] == 0 {
			return color.NRGBA{A: 255}
		}
		return color.NRGBA{}
	}
	if s.Palette != nil {
		idx := int(vals[0])
		if idx >= len(s.Palette) {
			return color.NRGBA{A: 255}
		}
		return color.NRGBAModel.Convert(s.Palette[idx]).(color.NRGBA)
	}
	switch s.Components {
	case 1:
		g := scale8(vals[0], maxVal)
		if s.Invert {
			g = 255 - g
		}
		return color.NRGBA{g, g, g, 255}
	case 3:
		return color.NRGBA{scale8(vals[0], maxVal), scale8(vals[1], maxVal), scale8(vals[2], maxVal), 255}
	default:
		r, g, b := color.CMYKToRGB(scale8(vals[0], maxVal), scale8(vals[1], maxVal), scale8(vals[2], maxVal), scale8(vals[3], maxVal))
		return color.NRGBA{r, g, b, 255}
	}
}
