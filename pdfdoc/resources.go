package pdfdoc

import (
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/wudi/diplomaqr/contentstream"
	"github.com/wudi/diplomaqr/coords"
)

// resources adapts a pdfcpu resource dictionary to contentstream.Resources.
type resources struct {
	ctx    *model.Context
	dict   types.Dict
	fonts  map[string]*contentstream.Font
	images map[string]*types.StreamDict
}

func newResources(ctx *model.Context, dict types.Dict, images map[string]*types.StreamDict) *resources {
	return &resources{ctx: ctx, dict: dict, fonts: map[string]*contentstream.Font{}, images: images}
}

// entry returns the raw object registered under name in a resource
// category such as /Font or /XObject.
func (r *resources) entry(category, name string) types.Object {
	if r.dict == nil {
		return nil
	}
	cat, err := r.ctx.DereferenceDict(r.dict[category])
	if err != nil || cat == nil {
		return nil
	}
	return cat[name]
}

func (r *resources) Font(name string) *contentstream.Font {
	if f, ok := r.fonts[name]; ok {
		return f
	}
	var f *contentstream.Font
	if fd, err := r.ctx.DereferenceDict(r.entry("Font", name)); err == nil && fd != nil {
		f = contentstream.NewFont(r.fontSpec(fd))
	}
	r.fonts[name] = f
	return f
}

func (r *resources) fontSpec(fd types.Dict) contentstream.FontSpec {
	var spec contentstream.FontSpec
	if st := fd.Subtype(); st != nil {
		spec.Subtype = *st
	}
	switch enc := r.deref(fd["Encoding"]).(type) {
	case types.Name:
		spec.BaseEncoding = string(enc)
	case types.Dict:
		if be := enc.NameEntry("BaseEncoding"); be != nil {
			spec.BaseEncoding = *be
		}
		if arr, ok := r.deref(enc["Differences"]).(types.Array); ok {
			spec.Differences = differences(arr)
		}
	}
	if fc := fd.IntEntry("FirstChar"); fc != nil {
		spec.FirstChar = *fc
	}
	if arr, ok := r.deref(fd["Widths"]).(types.Array); ok {
		for _, o := range arr {
			w, _ := number(r.deref(o))
			spec.Widths = append(spec.Widths, w)
		}
	}
	if tu, ok := fd.Find("ToUnicode"); ok {
		if sd, _, err := r.ctx.DereferenceStreamDict(tu); err == nil && sd != nil {
			if data, err := decodeStream(sd); err == nil {
				spec.ToUnicode = data
			}
		}
	}
	if spec.Subtype == "Type0" {
		r.descendant(fd, &spec)
	}
	return spec
}

func (r *resources) descendant(fd types.Dict, spec *contentstream.FontSpec) {
	arr, ok := r.deref(fd["DescendantFonts"]).(types.Array)
	if !ok || len(arr) == 0 {
		return
	}
	desc, ok := r.deref(arr[0]).(types.Dict)
	if !ok {
		return
	}
	if dw, ok := number(r.deref(desc["DW"])); ok {
		spec.DefaultWidth = dw
	}
	w, ok := r.deref(desc["W"]).(types.Array)
	if !ok {
		return
	}
	spec.CIDWidths = map[int]float64{}
	for i := 0; i < len(w); {
		first, ok := number(r.deref(w[i]))
		if !ok || i+1 >= len(w) {
			return
		}
		switch next := r.deref(w[i+1]).(type) {
		case types.Array:
			for j, o := range next {
				if v, ok := number(r.deref(o)); ok {
					spec.CIDWidths[int(first)+j] = v
				}
			}
			i += 2
		default:
			last, ok1 := number(next)
			if i+2 >= len(w) {
				return
			}
			v, ok2 := number(r.deref(w[i+2]))
			if ok1 && ok2 && last-first < 65536 {
				for c := int(first); c <= int(last); c++ {
					spec.CIDWidths[c] = v
				}
			}
			i += 3
		}
	}
}

func differences(arr types.Array) map[int]string {
	out := map[int]string{}
	code := -1
	for _, o := range arr {
		switch v := o.(type) {
		case types.Integer:
			code = int(v)
		case types.Name:
			if code >= 0 {
				out[code] = string(v)
				code++
			}
		}
	}
	return out
}

func (r *resources) XObject(name string) (contentstream.XObject, bool) {
	raw := r.entry("XObject", name)
	if raw == nil {
		return contentstream.XObject{}, false
	}
	key := "/" + name
	if ref, ok := raw.(types.IndirectRef); ok {
		key = fmt.Sprintf("%d %d", ref.ObjectNumber, ref.GenerationNumber)
	}
	sd, _, err := r.ctx.DereferenceStreamDict(raw)
	if err != nil || sd == nil {
		return contentstream.XObject{}, false
	}
	xo := contentstream.XObject{Key: key}
	if st := sd.Subtype(); st != nil {
		xo.Subtype = *st
	}
	switch xo.Subtype {
	case "Image":
		r.images[key] = sd
	case "Form":
		content, err := decodeStream(sd)
		if err != nil {
			return contentstream.XObject{}, false
		}
		xo.Content = content
		xo.Matrix = coords.Identity()
		if arr, ok := r.deref(sd.Dict["Matrix"]).(types.Array); ok && len(arr) == 6 {
			for i, o := range arr {
				xo.Matrix[i], _ = number(r.deref(o))
			}
		}
		if rd, err := r.ctx.DereferenceDict(sd.Dict["Resources"]); err == nil && rd != nil {
			xo.Resources = newResources(r.ctx, rd, r.images)
		}
	}
	return xo, true
}

func (r *resources) deref(o types.Object) types.Object {
	if o == nil {
		return nil
	}
	v, err := r.ctx.Dereference(o)
	if err != nil {
		return nil
	}
	return v
}

func number(o types.Object) (float64, bool) {
	switch v := o.(type) {
	case types.Integer:
		return float64(v), true
	case types.Float:
		return float64(v), true
	}
	return 0, false
}
