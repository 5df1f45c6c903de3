package pdfdoc

import (
	"bytes"
	"fmt"
	"image"
	_ "image/png"
	"math"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/wudi/diplomaqr/contentstream"
	"github.com/wudi/diplomaqr/coords"
)

var disableConfigDir sync.Once

type opener struct {
	limits   Limits
	password string
}

// NewOpener returns an Opener backed by pdfcpu.
func NewOpener(opts ...Option) Opener {
	disableConfigDir.Do(api.DisableConfigDir)
	o := &opener{limits: DefaultLimits()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *opener) Open(data []byte) (Document, error) {
	if len(data) == 0 {
		return nil, ErrEmptyDocument
	}
	if o.limits.MaxDocumentSize > 0 && int64(len(data)) > o.limits.MaxDocumentSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if o.password != "" {
		conf.UserPW = o.password
	}
	ctx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	if err := api.ValidateContext(ctx); err != nil {
		return nil, fmt.Errorf("validate pdf: %w", err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("count pages: %w", err)
	}
	return &document{ctx: ctx, limits: o.limits, stamps: map[int][]*model.Watermark{}}, nil
}

type document struct {
	ctx    *model.Context
	limits Limits
	stamps map[int][]*model.Watermark
}

func (d *document) NumPages() int {
	if d.ctx == nil {
		return 0
	}
	return d.ctx.PageCount
}

func (d *document) Page(i int) (Page, error) {
	if d.ctx == nil {
		return nil, ErrClosed
	}
	if i < 0 || i >= d.ctx.PageCount {
		return nil, fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, i, d.ctx.PageCount)
	}
	pd, _, inh, err := d.ctx.PageDict(i+1, true)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", i, err)
	}
	if pd == nil {
		return nil, fmt.Errorf("page %d: missing page dictionary", i)
	}
	p := &page{doc: d, index: i, dict: pd}
	box := pageBox(inh)
	p.llx, p.ury = box.LL.X, box.UR.Y
	p.width, p.height = box.Width(), box.Height()
	if inh != nil && inh.Resources != nil {
		p.resDict = inh.Resources
	}
	if rd, err := d.ctx.DereferenceDict(pd["Resources"]); err == nil && rd != nil {
		p.resDict = rd
	}
	return p, nil
}

func pageBox(inh *model.InheritedPageAttrs) *types.Rectangle {
	if inh != nil && inh.CropBox != nil {
		return inh.CropBox
	}
	if inh != nil && inh.MediaBox != nil {
		return inh.MediaBox
	}
	return types.NewRectangle(0, 0, 612, 792)
}

func (d *document) Save() ([]byte, error) {
	if d.ctx == nil {
		return nil, ErrClosed
	}
	if len(d.stamps) > 0 {
		if err := pdfcpu.AddWatermarksSliceMap(d.ctx, d.stamps); err != nil {
			return nil, fmt.Errorf("apply stamps: %w", err)
		}
		d.stamps = map[int][]*model.Watermark{}
	}
	var buf bytes.Buffer
	if err := api.WriteContext(d.ctx, &buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func (d *document) Close() error {
	d.ctx = nil
	d.stamps = nil
	return nil
}

type page struct {
	doc     *document
	index   int
	dict    types.Dict
	resDict types.Dict

	llx, ury      float64
	width, height float64

	result *contentstream.Result
	images map[string]*types.StreamDict
}

func (p *page) Bounds() (w, h float64) { return p.width, p.height }

// interpret reads the page content once and caches text and placements.
func (p *page) interpret() (*contentstream.Result, error) {
	if p.result != nil {
		return p.result, nil
	}
	if p.doc.ctx == nil {
		return nil, ErrClosed
	}
	content, err := pageContent(p.doc.ctx, p.dict["Contents"])
	if err != nil {
		return nil, fmt.Errorf("page %d content: %w", p.index, err)
	}
	p.images = map[string]*types.StreamDict{}
	res := newResources(p.doc.ctx, p.resDict, p.images)
	out, err := contentstream.Interpret(content, res, contentstream.WithMaxDepth(p.doc.limits.MaxXObjectDepth))
	if err != nil && out == nil {
		return nil, fmt.Errorf("page %d content: %w", p.index, err)
	}
	// A malformed tail still leaves the text read before it.
	p.result = out
	return out, nil
}

func (p *page) Text() (string, error) {
	res, err := p.interpret()
	if err != nil {
		return "", err
	}
	return res.Text(), nil
}

func (p *page) InsertImage(r coords.Rect, png []byte) error {
	if p.doc.ctx == nil {
		return ErrClosed
	}
	if r.Size <= 0 || math.IsNaN(r.X) || math.IsNaN(r.Y) {
		return fmt.Errorf("%w: %v", ErrInvalidPlacement, r)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(png))
	if err != nil {
		return fmt.Errorf("stamp image: %w", err)
	}
	edge := math.Max(float64(cfg.Width), float64(cfg.Height))
	llx, lly := r.PDF(p.height)
	desc := fmt.Sprintf("pos:bl, off:%.4f %.4f, scale:%.6f abs, rot:0, op:1", llx, lly, r.Size/edge)
	wm, err := api.ImageWatermarkForReader(bytes.NewReader(png), desc, true, false, types.POINTS)
	if err != nil {
		return fmt.Errorf("stamp image: %w", err)
	}
	nr := p.index + 1
	p.doc.stamps[nr] = append(p.doc.stamps[nr], wm)
	return nil
}

func pageContent(ctx *model.Context, o types.Object) ([]byte, error) {
	if o == nil {
		return nil, nil
	}
	obj, err := ctx.Dereference(o)
	if err != nil {
		return nil, err
	}
	switch v := obj.(type) {
	case types.StreamDict:
		return decodeStream(&v)
	case types.Array:
		var buf bytes.Buffer
		for _, el := range v {
			part, err := pageContent(ctx, el)
			if err != nil {
				return nil, err
			}
			buf.Write(part)
			buf.WriteByte('\n')
		}
		return buf.Bytes(), nil
	}
	return nil, nil
}

func decodeStream(sd *types.StreamDict) ([]byte, error) {
	if err := sd.Decode(); err != nil {
		return nil, err
	}
	return sd.Content, nil
}
