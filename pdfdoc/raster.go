package pdfdoc

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"golang.org/x/image/math/f64"

	"github.com/wudi/diplomaqr/coords"
	"github.com/wudi/diplomaqr/imaging"
)

var errUnsupportedImage = errors.New("unsupported image encoding")

// Rasterize composites the page's image XObjects onto a white canvas at
// scale pixels per point. Vector content and text are not drawn.
func (p *page) Rasterize(scale float64) (image.Image, error) {
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return nil, ErrInvalidScale
	}
	w := int(math.Ceil(p.width * scale))
	h := int(math.Ceil(p.height * scale))
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("page %d: empty page box", p.index)
	}
	if limit := p.doc.limits.MaxRasterPixels; limit > 0 && w*h > limit {
		return nil, fmt.Errorf("%w: %dx%d", ErrRasterTooLarge, w, h)
	}
	res, err := p.interpret()
	if err != nil {
		return nil, err
	}
	canvas := imaging.NewCanvas(w, h)
	decoded := map[string]image.Image{}
	for _, pl := range res.Images {
		img, ok := decoded[pl.Key]
		if !ok {
			sd := p.images[pl.Key]
			if sd == nil {
				continue
			}
			img, err = p.decodeImage(sd)
			if err != nil {
				// Images we cannot decode are left blank.
				decoded[pl.Key] = nil
				continue
			}
			decoded[pl.Key] = img
		}
		if img == nil {
			continue
		}
		imaging.Place(canvas, img, p.imageTransform(pl.CTM, img.Bounds(), scale))
	}
	return canvas, nil
}

// imageTransform maps image pixels to canvas pixels. Image space is the
// unit square flipped vertically; the canvas origin is the top-left corner
// of the page box.
func (p *page) imageTransform(ctm coords.Matrix, b image.Rectangle, s float64) f64.Aff3 {
	iw, ih := float64(b.Dx()), float64(b.Dy())
	a, bb, c, d, e, f := ctm[0], ctm[1], ctm[2], ctm[3], ctm[4], ctm[5]
	return f64.Aff3{
		s * a / iw, -s * c / ih, s*(c+e-p.llx) - s*a/iw*float64(b.Min.X) + s*c/ih*float64(b.Min.Y),
		-s * bb / iw, s * d / ih, s*(p.ury-d-f) + s*bb/iw*float64(b.Min.X) - s*d/ih*float64(b.Min.Y),
	}
}

func (p *page) decodeImage(sd *types.StreamDict) (image.Image, error) {
	fp := sd.FilterPipeline
	if n := len(fp); n > 0 {
		switch fp[n-1].Name {
		case "DCTDecode":
			if n > 1 {
				return nil, errUnsupportedImage
			}
			img, _, err := imaging.DecodeLimit(sd.Raw, p.doc.limits.MaxRasterPixels)
			return img, err
		case "JPXDecode", "JBIG2Decode", "CCITTFaxDecode":
			return nil, errUnsupportedImage
		}
	}
	data, err := decodeStream(sd)
	if err != nil {
		return nil, err
	}
	s := imaging.Samples{Data: data, BitsPerComponent: 8}
	if v := sd.IntEntry("Width"); v != nil {
		s.Width = *v
	}
	if v := sd.IntEntry("Height"); v != nil {
		s.Height = *v
	}
	if v := sd.IntEntry("BitsPerComponent"); v != nil {
		s.BitsPerComponent = *v
	}
	if m := sd.BooleanEntry("ImageMask"); m != nil && *m {
		s.Mask = true
		if p.decodeInverted(sd.Dict["Decode"]) {
			inverted := make([]byte, len(data))
			for i, b := range data {
				inverted[i] = ^b
			}
			s.Data = inverted
		}
		return imaging.FromSamples(s)
	}
	cs, err := p.colorSpace(sd.Dict["ColorSpace"], 0)
	if err != nil {
		return nil, err
	}
	s.Components, s.Palette = cs.components, cs.palette
	s.Invert = cs.subtractive != p.decodeInverted(sd.Dict["Decode"])
	return imaging.FromSamples(s)
}

// decodeInverted reports a /Decode array of the form [1 0].
func (p *page) decodeInverted(o types.Object) bool {
	if o == nil {
		return false
	}
	v, err := p.doc.ctx.Dereference(o)
	if err != nil {
		return false
	}
	arr, ok := v.(types.Array)
	if !ok || len(arr) < 2 {
		return false
	}
	lo, _ := number(arr[0])
	hi, _ := number(arr[1])
	return lo > hi
}

type colorSpace struct {
	components int
	palette    []color.Color
	// subtractive marks single ink spaces where 1 means full ink.
	subtractive bool
}

func (p *page) colorSpace(o types.Object, depth int) (colorSpace, error) {
	if depth > 4 {
		return colorSpace{}, errUnsupportedImage
	}
	v, err := p.doc.ctx.Dereference(o)
	if err != nil {
		return colorSpace{}, err
	}
	switch cs := v.(type) {
	case nil:
		return colorSpace{components: 1}, nil
	case types.Name:
		switch cs {
		case "DeviceGray", "CalGray", "G":
			return colorSpace{components: 1}, nil
		case "DeviceRGB", "CalRGB", "RGB", "Lab":
			return colorSpace{components: 3}, nil
		case "DeviceCMYK", "CMYK":
			return colorSpace{components: 4}, nil
		}
		// Named colour space from the page resources.
		if p.resDict != nil {
			if named, err := p.doc.ctx.DereferenceDict(p.resDict["ColorSpace"]); err == nil && named != nil {
				if def, ok := named[string(cs)]; ok {
					return p.colorSpace(def, depth+1)
				}
			}
		}
	case types.Array:
		if len(cs) == 0 {
			break
		}
		family, _ := cs[0].(types.Name)
		switch family {
		case "CalGray":
			return colorSpace{components: 1}, nil
		case "CalRGB", "Lab":
			return colorSpace{components: 3}, nil
		case "ICCBased":
			if len(cs) > 1 {
				if sd, _, err := p.doc.ctx.DereferenceStreamDict(cs[1]); err == nil && sd != nil {
					if n := sd.IntEntry("N"); n != nil {
						return colorSpace{components: *n}, nil
					}
				}
			}
			return colorSpace{components: 3}, nil
		case "Separation", "DeviceN":
			return colorSpace{components: 1, subtractive: true}, nil
		case "Indexed", "I":
			if len(cs) < 4 {
				break
			}
			return p.indexed(cs, depth)
		}
	}
	return colorSpace{}, fmt.Errorf("%w: colour space %v", errUnsupportedImage, v)
}

func (p *page) indexed(cs types.Array, depth int) (colorSpace, error) {
	base, err := p.colorSpace(cs[1], depth+1)
	if err != nil || base.palette != nil {
		return colorSpace{}, errUnsupportedImage
	}
	hv, err := p.doc.ctx.Dereference(cs[2])
	if err != nil {
		return colorSpace{}, err
	}
	hival, _ := number(hv)
	lookup, err := p.lookupBytes(cs[3])
	if err != nil {
		return colorSpace{}, err
	}
	n := base.components
	var pal []color.Color
	for i := 0; i <= int(hival) && (i+1)*n <= len(lookup); i++ {
		c := lookup[i*n : (i+1)*n]
		switch n {
		case 1:
			pal = append(pal, color.Gray{Y: c[0]})
		case 3:
			pal = append(pal, color.RGBA{c[0], c[1], c[2], 255})
		case 4:
			pal = append(pal, color.CMYK{c[0], c[1], c[2], c[3]})
		}
	}
	if len(pal) == 0 {
		return colorSpace{}, errUnsupportedImage
	}
	return colorSpace{components: 1, palette: pal}, nil
}

func (p *page) lookupBytes(o types.Object) ([]byte, error) {
	v, err := p.doc.ctx.Dereference(o)
	if err != nil {
		return nil, err
	}
	switch l := v.(type) {
	case types.StringLiteral:
		return types.Unescape(string(l))
	case types.HexLiteral:
		return l.Bytes()
	case types.StreamDict:
		return decodeStream(&l)
	}
	return nil, errUnsupportedImage
}
