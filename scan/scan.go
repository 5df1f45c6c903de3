// Package scan inspects diplomas as rendered pages: it locates QR symbols,
// harvests per-student QR images from signed documents and renders page
// previews for interactive positioning.
package scan

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/wudi/diplomaqr/extractor"
	"github.com/wudi/diplomaqr/imaging"
	"github.com/wudi/diplomaqr/matching"
	"github.com/wudi/diplomaqr/observability"
	"github.com/wudi/diplomaqr/pdfdoc"
	"github.com/wudi/diplomaqr/qrdetect"
)

const (
	// DetectScale is the raster scale used to look for QR symbols.
	DetectScale = 3.0
	// PreviewScale is the raster scale of page previews.
	PreviewScale = 1.5
)

var errNoName = errors.New("no student name")

// Box is an axis aligned area in page units with a top-left origin.
type Box struct {
	X, Y, Width, Height float64
}

// PagePosition is the QR search result for one page.
type PagePosition struct {
	Page          int
	Width, Height float64
	Found         bool
	// Pixels is the symbol box, margin included, in raster pixels.
	Pixels image.Rectangle
	Box    Box
	// Text is the decoded payload.
	Text string
}

// Harvested is a QR image cut out of a signed diploma.
type Harvested struct {
	Asset    matching.Asset
	Source   string
	Page     int
	Strategy extractor.Strategy
	Payload  string
}

// HarvestResult lists harvested assets in document order with the
// processing log.
type HarvestResult struct {
	Items []Harvested
	Log   []string
}

// Assets returns the harvested QR images.
func (r HarvestResult) Assets() []matching.Asset {
	out := make([]matching.Asset, 0, len(r.Items))
	for _, it := range r.Items {
		out = append(out, it.Asset)
	}
	return out
}

// PageImage is a rendered page preview. Width and Height are page units;
// canvas mode placements refer to DisplayWidth and DisplayHeight.
type PageImage struct {
	Page          int
	PNG           []byte
	Width, Height float64
	DisplayWidth  int
	DisplayHeight int
}

// Scanner runs page level scans.
type Scanner struct {
	opener    pdfdoc.Opener
	detector  *qrdetect.Detector
	extractor *extractor.Extractor
	logger    observability.Logger
	scale     float64
}

// Option configures a Scanner.
type Option func(*Scanner)

func WithOpener(o pdfdoc.Opener) Option { return func(s *Scanner) { s.opener = o } }

func WithExtractor(e *extractor.Extractor) Option { return func(s *Scanner) { s.extractor = e } }

func WithLogger(l observability.Logger) Option { return func(s *Scanner) { s.logger = l } }

// WithScale overrides DetectScale.
func WithScale(scale float64) Option { return func(s *Scanner) { s.scale = scale } }

// New returns a Scanner.
func New(opts ...Option) *Scanner {
	s := &Scanner{
		detector: qrdetect.New(),
		logger:   observability.NopLogger{},
		scale:    DetectScale,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.opener == nil {
		s.opener = pdfdoc.NewOpener()
	}
	if s.extractor == nil {
		s.extractor = extractor.New()
	}
	return s
}

// DetectPositions searches every page of pdf for a QR symbol.
func (s *Scanner) DetectPositions(ctx context.Context, pdf []byte) ([]PagePosition, error) {
	doc, err := s.opener.Open(pdf)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	out := make([]PagePosition, 0, doc.NumPages())
	for i := 0; i < doc.NumPages(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pg, err := doc.Page(i)
		if err != nil {
			return nil, err
		}
		pos, _, err := s.detect(pg, i)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		out = append(out, pos)
	}
	return out, nil
}

func (s *Scanner) detect(pg pdfdoc.Page, i int) (PagePosition, image.Image, error) {
	w, h := pg.Bounds()
	pos := PagePosition{Page: i, Width: w, Height: h}
	img, err := pg.Rasterize(s.scale)
	if err != nil {
		return pos, nil, err
	}
	res, ok := s.detector.Detect(img)
	if !ok {
		return pos, img, nil
	}
	px := qrdetect.Box(res.Quad, img.Bounds())
	if px.Empty() {
		return pos, img, nil
	}
	pos.Found = true
	pos.Pixels = px
	pos.Text = res.Text
	pos.Box = Box{
		X:      float64(px.Min.X) / s.scale,
		Y:      float64(px.Min.Y) / s.scale,
		Width:  float64(px.Dx()) / s.scale,
		Height: float64(px.Dy()) / s.scale,
	}
	return pos, img, nil
}

// Harvest cuts the first QR symbol out of each signed diploma and names it
// after the student, producing assets ready for a batch run. A document
// that fails or carries no QR is logged and skipped.
func (s *Scanner) Harvest(ctx context.Context, files []matching.File) (HarvestResult, error) {
	var res HarvestResult
	logf := func(format string, args ...interface{}) {
		res.Log = append(res.Log, fmt.Sprintf(format, args...))
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		logf("processing %s", f.Name)
		item, found, err := s.harvestOne(f)
		log := s.logger.With(observability.String(observability.KeyDocument, f.Name))
		switch {
		case err != nil:
			logf("error processing %s: %v", f.Name, err)
			log.Error("harvest failed", observability.Error("error", err))
		case !found:
			logf("no QR found in %s", f.Name)
			log.Info("no QR found")
		default:
			logf("name from %s: %q", item.Strategy, item.Asset.Name)
			logf("QR extracted from %s page %d", f.Name, item.Page+1)
			log.Info("QR harvested",
				observability.String(observability.KeyName, item.Asset.Name),
				observability.Int(observability.KeyPage, item.Page))
			res.Items = append(res.Items, item)
		}
	}
	logf("extracted %d of %d documents", len(res.Items), len(files))
	return res, nil
}

func (s *Scanner) harvestOne(f matching.File) (item Harvested, found bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	doc, err := s.opener.Open(f.Data)
	if err != nil {
		return item, false, err
	}
	defer doc.Close()

	first, err := doc.Page(0)
	if err != nil {
		return item, false, err
	}
	text, err := first.Text()
	if err != nil {
		return item, false, err
	}
	cand, ok := s.extractor.Extract(text)
	if !ok {
		cand = extractor.FromFilename(f.Name)
	}
	if cand.Name == "" {
		return item, false, errNoName
	}

	for i := 0; i < doc.NumPages(); i++ {
		pg, err := doc.Page(i)
		if err != nil {
			return item, false, err
		}
		pos, img, err := s.detect(pg, i)
		if err != nil {
			return item, false, fmt.Errorf("page %d: %w", i, err)
		}
		if !pos.Found {
			continue
		}
		crop, err := imaging.Crop(img, pos.Pixels)
		if err != nil {
			return item, false, err
		}
		data, err := imaging.EncodePNG(crop)
		if err != nil {
			return item, false, err
		}
		return Harvested{
			Asset:    matching.NewAsset(cand.Name+".png", data),
			Source:   f.Name,
			Page:     i,
			Strategy: cand.Source,
			Payload:  pos.Text,
		}, true, nil
	}
	return item, false, nil
}

// RenderPages rasterises every page of pdf at scale for previewing.
func RenderPages(opener pdfdoc.Opener, pdf []byte, scale float64) ([]PageImage, error) {
	doc, err := opener.Open(pdf)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	out := make([]PageImage, 0, doc.NumPages())
	for i := 0; i < doc.NumPages(); i++ {
		pg, err := doc.Page(i)
		if err != nil {
			return nil, err
		}
		img, err := pg.Rasterize(scale)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		data, err := imaging.EncodePNG(img)
		if err != nil {
			return nil, err
		}
		w, h := pg.Bounds()
		b := img.Bounds()
		out = append(out, PageImage{
			Page:          i,
			PNG:           data,
			Width:         w,
			Height:        h,
			DisplayWidth:  b.Dx(),
			DisplayHeight: b.Dy(),
		})
	}
	return out, nil
}
