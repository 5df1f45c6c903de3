// Package batch stamps per-student QR codes onto a set of diplomas.
//
// A run extracts the student's name from the first page of every diploma,
// finds the QR image belonging to that student and inserts it at the
// requested positions. Documents are processed one after another and a
// failure in one document never aborts the others.
package batch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/wudi/diplomaqr/coords"
	"github.com/wudi/diplomaqr/extractor"
	"github.com/wudi/diplomaqr/imaging"
	"github.com/wudi/diplomaqr/matching"
	"github.com/wudi/diplomaqr/normalize"
	"github.com/wudi/diplomaqr/observability"
	"github.com/wudi/diplomaqr/ocr"
	"github.com/wudi/diplomaqr/pdfdoc"
	"github.com/wudi/diplomaqr/placement"
)

// ErrInvalidRequest is wrapped by every RequestError.
var ErrInvalidRequest = errors.New("invalid batch request")

// RequestError reports a request rejected before any document was opened.
type RequestError struct {
	Reason string
}

func (e *RequestError) Error() string { return ErrInvalidRequest.Error() + ": " + e.Reason }

func (e *RequestError) Unwrap() error { return ErrInvalidRequest }

// OutputSuffix is appended to the base name of every stamped document.
const OutputSuffix = "_com_qr"

// Document is one diploma. ID is its file name and identifies it in logs
// and results.
type Document struct {
	ID   string
	Data []byte
}

// Request is the input of a run. Either Assets or Shared must be set; when
// Shared is set every document receives it and Assets are ignored.
type Request struct {
	Documents  []Document
	Assets     []matching.Asset
	Shared     *matching.Asset
	Placements []placement.Request
}

// Validate checks the request shape.
func (r Request) Validate() error {
	if len(r.Documents) == 0 {
		return &RequestError{Reason: "no documents"}
	}
	if len(r.Assets) == 0 && r.Shared == nil {
		return &RequestError{Reason: "no QR assets"}
	}
	if len(r.Placements) == 0 {
		return &RequestError{Reason: "no placement"}
	}
	for i, p := range r.Placements {
		if err := p.Validate(); err != nil {
			return &RequestError{Reason: fmt.Sprintf("placement %d: %v", i, err)}
		}
	}
	return nil
}

// Outcome is the final state of one document.
type Outcome string

const (
	OutcomeStamped Outcome = "stamped"
	OutcomeNoMatch Outcome = "no_match"
	OutcomeError   Outcome = "error"
)

// Stamp is one inserted QR image.
type Stamp struct {
	Page int
	Rect coords.Rect
}

// Result describes what happened to one document.
type Result struct {
	DocumentID string
	// Name is the extracted candidate; empty when the document failed
	// before extraction.
	Name   string
	Source extractor.Strategy
	Key    *normalize.MatchKey
	Asset  *matching.Asset
	Tier   matching.Tier
	Stamps []Stamp

	Outcome    Outcome
	OutputName string
	Output     []byte
	Err        error
}

// Response is the outcome of a run. Results follow the order of the
// request's documents; Log is the ordered human readable trail.
type Response struct {
	RunID   string
	Results []Result
	Log     []string
}

// Stamped counts documents with OutcomeStamped.
func (r Response) Stamped() int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == OutcomeStamped {
			n++
		}
	}
	return n
}

// Outputs returns the stamped documents keyed by output name. Run gives
// every stamped document a distinct name.
func (r Response) Outputs() map[string][]byte {
	out := make(map[string][]byte)
	for _, res := range r.Results {
		if res.Outcome == OutcomeStamped {
			out[res.OutputName] = res.Output
		}
	}
	return out
}

// OutputName returns the file name of the stamped copy of id.
func OutputName(id string) string {
	base := filepath.Base(id)
	ext := filepath.Ext(base)
	if ext == "" {
		ext = ".pdf"
	}
	return strings.TrimSuffix(base, filepath.Ext(base)) + OutputSuffix + ext
}

// DefaultOCRScale renders pages at 300 dpi for recognition.
const DefaultOCRScale = 300.0 / imaging.PointsPerInch

// Orchestrator runs batches. It holds no per-run state and may be reused.
type Orchestrator struct {
	opener    pdfdoc.Opener
	extractor *extractor.Extractor
	logger    observability.Logger
	engine    ocr.Engine
	ocrOpts   []ocr.InputOption
	ocrScale  float64
	dpi       float64
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithOpener replaces the pdfcpu backed opener.
func WithOpener(o pdfdoc.Opener) Option { return func(b *Orchestrator) { b.opener = o } }

// WithExtractor replaces the default name extractor.
func WithExtractor(e *extractor.Extractor) Option { return func(b *Orchestrator) { b.extractor = e } }

// WithLogger sets the structured logger.
func WithLogger(l observability.Logger) Option { return func(b *Orchestrator) { b.logger = l } }

// WithOCR enables recognition of image-only first pages.
func WithOCR(engine ocr.Engine, opts ...ocr.InputOption) Option {
	return func(b *Orchestrator) {
		b.engine = engine
		b.ocrOpts = opts
	}
}

// WithOCRScale sets the raster scale, in pixels per point, handed to OCR.
func WithOCRScale(scale float64) Option { return func(b *Orchestrator) { b.ocrScale = scale } }

// WithStampDPI sets the resolution QR images are resampled to.
func WithStampDPI(dpi float64) Option { return func(b *Orchestrator) { b.dpi = dpi } }

// New returns an Orchestrator. Without options it opens documents with
// pdfdoc, extracts with the default rules, does not run OCR and logs
// nothing.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		logger:   observability.NopLogger{},
		ocrScale: DefaultOCRScale,
		dpi:      imaging.DefaultStampDPI,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.opener == nil {
		o.opener = pdfdoc.NewOpener()
	}
	if o.extractor == nil {
		o.extractor = extractor.New()
	}
	if o.logger == nil {
		o.logger = observability.NopLogger{}
	}
	return o
}

// run carries the state of one Run call.
type run struct {
	id     string
	index  *matching.Index
	logger observability.Logger
	lines  []string
	// outputs maps claimed output names to their document id.
	outputs map[string]string
}

// outputName claims OutputName(id) for the run. A name already taken by an
// earlier document gets a numeric suffix before the extension.
func (r *run) outputName(id string, log observability.Logger) string {
	name := OutputName(id)
	if prev, taken := r.outputs[name]; taken {
		ext := filepath.Ext(name)
		base := strings.TrimSuffix(name, ext)
		unique := name
		for n := 2; taken; n++ {
			unique = fmt.Sprintf("%s_%d%s", base, n, ext)
			_, taken = r.outputs[unique]
		}
		r.logf("output %q of %s already used by %s, writing %q", name, id, prev, unique)
		log.Warn("output name collision",
			observability.String("output", name),
			observability.String("previous", prev),
			observability.String("renamed", unique))
		name = unique
	}
	r.outputs[name] = id
	return name
}

func (r *run) logf(format string, args ...interface{}) {
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
}

// Run processes every document of req. A malformed request returns a
// *RequestError and no response. Otherwise the response always holds the
// results and log gathered so far; a non-nil error then means ctx ended
// the run early.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Response, error) {
	if err := req.Validate(); err != nil {
		return Response{}, err
	}
	r := &run{id: uuid.NewString(), outputs: map[string]string{}}
	r.logger = o.logger.With(observability.String(observability.KeyRunID, r.id))
	r.logf("starting batch of %d documents", len(req.Documents))
	r.logger.Info("batch started", observability.Int("documents", len(req.Documents)))

	if req.Shared != nil {
		r.index = matching.Shared(*req.Shared)
		r.logf("QR %q applied to every document", req.Shared.Filename)
	} else {
		r.index = matching.Build(req.Assets)
		for _, a := range req.Assets {
			r.logf("QR %q mapped to %q", a.Filename, a.Name)
		}
		for _, c := range r.index.Collisions() {
			r.logf("QR %q replaces %q for key %q", c.Current, c.Previous, c.Form)
			r.logger.Warn("asset key collision",
				observability.String("key", c.Form),
				observability.String("previous", c.Previous),
				observability.String("current", c.Current))
		}
	}

	resp := Response{RunID: r.id}
	var err error
	for _, doc := range req.Documents {
		if err = ctx.Err(); err != nil {
			r.logf("run cancelled: %v", err)
			break
		}
		resp.Results = append(resp.Results, o.process(ctx, r, doc, req.Placements))
	}
	resp.Log = r.lines
	stamped := resp.Stamped()
	resp.Log = append(resp.Log, fmt.Sprintf("processed %d of %d documents", stamped, len(req.Documents)))
	r.logger.Info("batch finished",
		observability.Int("stamped", stamped),
		observability.Int("documents", len(req.Documents)))
	return resp, err
}

// process handles one document. It never panics.
func (o *Orchestrator) process(ctx context.Context, r *run, d Document, reqs []placement.Request) (res Result) {
	res = Result{DocumentID: d.ID}
	log := r.logger.With(observability.String(observability.KeyDocument, d.ID))
	r.logf("processing %s", d.ID)
	defer func() {
		if p := recover(); p != nil {
			res.Err = fmt.Errorf("panic: %v", p)
		}
		if res.Err != nil {
			res.Outcome = OutcomeError
			res.Output = nil
			r.logf("error processing %s: %v", d.ID, res.Err)
			log.Error("document failed", observability.Error("error", res.Err))
			return
		}
		log.Info("document done", observability.String(observability.KeyOutcome, string(res.Outcome)))
	}()

	doc, err := o.opener.Open(d.Data)
	if err != nil {
		res.Err = fmt.Errorf("open: %w", err)
		return res
	}
	defer doc.Close()

	first, err := doc.Page(0)
	if err != nil {
		res.Err = err
		return res
	}
	cand, err := o.candidate(ctx, first, d.ID, log)
	if err != nil {
		res.Err = err
		return res
	}
	res.Name, res.Source = cand.Name, cand.Source
	r.logf("name from %s: %q", cand.Source, cand.Name)

	key := cand.Key()
	res.Key = &key
	asset, tier, ok := r.index.Lookup(key)
	if !ok {
		res.Outcome = OutcomeNoMatch
		r.logf("no QR for %q", cand.Name)
		return res
	}
	res.Asset, res.Tier = &asset, tier
	log.Debug("asset matched",
		observability.String(observability.KeyName, key.Spaced),
		observability.String("asset", asset.Filename),
		observability.String("tier", string(tier)))

	for _, pr := range reqs {
		pg := first
		if pr.Page != 0 {
			if pg, err = doc.Page(pr.Page); err != nil {
				res.Err = fmt.Errorf("placement on page %d: %w", pr.Page, err)
				return res
			}
		}
		w, h := pg.Bounds()
		rect, err := coords.Map(pr.Placement, w, h)
		if err != nil {
			res.Err = err
			return res
		}
		png, _, err := imaging.PrepareStamp(asset.Data, rect.Size, o.dpi)
		if err != nil {
			res.Err = fmt.Errorf("QR %s: %w", asset.Filename, err)
			return res
		}
		if err := pg.InsertImage(rect, png); err != nil {
			res.Err = fmt.Errorf("stamp page %d: %w", pr.Page, err)
			return res
		}
		res.Stamps = append(res.Stamps, Stamp{Page: pr.Page, Rect: rect})
		log.Debug("stamp queued", observability.Int(observability.KeyPage, pr.Page),
			observability.String("rect", rect.String()))
	}

	out, err := doc.Save()
	if err != nil {
		res.Err = fmt.Errorf("save: %w", err)
		return res
	}
	res.Output = out
	res.OutputName = r.outputName(d.ID, log)
	res.Outcome = OutcomeStamped
	r.logf("QR inserted into %s", d.ID)
	return res
}

// candidate runs the name cascade: page text, OCR of the page raster when
// the page carries no text, then the file name.
func (o *Orchestrator) candidate(ctx context.Context, pg pdfdoc.Page, id string, log observability.Logger) (extractor.Candidate, error) {
	text, err := pg.Text()
	if err != nil {
		return extractor.Candidate{}, fmt.Errorf("read text: %w", err)
	}
	if c, ok := o.extractor.Extract(text); ok {
		return c, nil
	}
	if strings.TrimSpace(text) == "" && o.engine != nil {
		if c, ok := o.recognize(ctx, pg, log); ok {
			return c, nil
		}
	}
	return extractor.FromFilename(id), nil
}

// recognize is best effort; failures fall through to the file name.
func (o *Orchestrator) recognize(ctx context.Context, pg pdfdoc.Page, log observability.Logger) (extractor.Candidate, bool) {
	img, err := pg.Rasterize(o.ocrScale)
	if err != nil {
		log.Warn("rasterize for OCR failed", observability.Error("error", err))
		return extractor.Candidate{}, false
	}
	opts := append([]ocr.InputOption{ocr.WithDPI(int(math.Round(o.ocrScale * imaging.PointsPerInch)))}, o.ocrOpts...)
	text, err := ocr.PageText(ctx, o.engine, img, 0, opts...)
	if err != nil {
		log.Warn("OCR failed", observability.String("engine", o.engine.Name()), observability.Error("error", err))
		return extractor.Candidate{}, false
	}
	c, ok := o.extractor.Extract(text)
	if !ok {
		return extractor.Candidate{}, false
	}
	c.Source = extractor.StrategyOCR
	return c, true
}

// Stamp inserts one QR image at every placement and returns the stamped
// document. Placements on pages past the end of the document are skipped.
func (o *Orchestrator) Stamp(pdf, qr []byte, reqs []placement.Request) ([]byte, []Stamp, error) {
	for i, p := range reqs {
		if err := p.Validate(); err != nil {
			return nil, nil, &RequestError{Reason: fmt.Sprintf("placement %d: %v", i, err)}
		}
	}
	doc, err := o.opener.Open(pdf)
	if err != nil {
		return nil, nil, fmt.Errorf("open: %w", err)
	}
	defer doc.Close()

	var stamps []Stamp
	for _, pr := range reqs {
		if pr.Page >= doc.NumPages() {
			o.logger.Warn("placement past last page", observability.Int(observability.KeyPage, pr.Page))
			continue
		}
		pg, err := doc.Page(pr.Page)
		if err != nil {
			return nil, nil, err
		}
		w, h := pg.Bounds()
		rect, err := coords.Map(pr.Placement, w, h)
		if err != nil {
			return nil, nil, err
		}
		png, _, err := imaging.PrepareStamp(qr, rect.Size, o.dpi)
		if err != nil {
			return nil, nil, fmt.Errorf("QR image: %w", err)
		}
		if err := pg.InsertImage(rect, png); err != nil {
			return nil, nil, fmt.Errorf("stamp page %d: %w", pr.Page, err)
		}
		stamps = append(stamps, Stamp{Page: pr.Page, Rect: rect})
	}
	out, err := doc.Save()
	if err != nil {
		return nil, nil, fmt.Errorf("save: %w", err)
	}
	return out, stamps, nil
}
