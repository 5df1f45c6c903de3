package batch

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"image"
	"strings"
	"testing"

	"github.com/wudi/diplomaqr/coords"
	"github.com/wudi/diplomaqr/extractor"
	"github.com/wudi/diplomaqr/imaging"
	"github.com/wudi/diplomaqr/matching"
	"github.com/wudi/diplomaqr/ocr"
	"github.com/wudi/diplomaqr/pdfdoc"
	"github.com/wudi/diplomaqr/placement"
)

// fakeOpener serves documents keyed by their data. Unknown data fails to
// open.
type fakeOpener struct {
	docs   map[string]*fakeDoc
	opened []*fakeDoc
}

func (o *fakeOpener) Open(data []byte) (pdfdoc.Document, error) {
	d, ok := o.docs[string(data)]
	if !ok {
		return nil, errors.New("malformed PDF")
	}
	o.opened = append(o.opened, d)
	return d, nil
}

type fakeDoc struct {
	pages   []*fakePage
	closed  bool
	saveErr error
}

func (d *fakeDoc) NumPages() int { return len(d.pages) }

func (d *fakeDoc) Page(i int) (pdfdoc.Page, error) {
	if i < 0 || i >= len(d.pages) {
		return nil, pdfdoc.ErrPageOutOfRange
	}
	return d.pages[i], nil
}

func (d *fakeDoc) Save() ([]byte, error) {
	if d.saveErr != nil {
		return nil, d.saveErr
	}
	var b strings.Builder
	for i, p := range d.pages {
		for _, r := range p.stamps {
			fmt.Fprintf(&b, "%d%s;", i, r)
		}
	}
	return []byte(b.String()), nil
}

func (d *fakeDoc) Close() error {
	d.closed = true
	return nil
}

type fakePage struct {
	text   string
	w, h   float64
	panics bool
	raster image.Image
	stamps []coords.Rect
}

func (p *fakePage) Text() (string, error) {
	if p.panics {
		panic("corrupt font program")
	}
	return p.text, nil
}

func (p *fakePage) Bounds() (float64, float64) { return p.w, p.h }

func (p *fakePage) Rasterize(float64) (image.Image, error) {
	if p.raster == nil {
		return imaging.NewCanvas(10, 10), nil
	}
	return p.raster, nil
}

func (p *fakePage) InsertImage(r coords.Rect, png []byte) error {
	if _, _, err := imaging.Decode(png); err != nil {
		return err
	}
	p.stamps = append(p.stamps, r)
	return nil
}

func page(text string) *fakePage { return &fakePage{text: text, w: 595, h: 842} }

func qrPNG(t *testing.T) []byte {
	t.Helper()
	data, err := imaging.EncodePNG(image.NewGray(image.Rect(0, 0, 21, 21)))
	if err != nil {
		t.Fatalf("EncodePNG() error = %v", err)
	}
	return data
}

func at(x, y, size float64) []placement.Request {
	return []placement.Request{{Placement: coords.Placement{X: x, Y: y, Size: size}}}
}

func TestRun_ContinuesAfterFailure(t *testing.T) {
	opener := &fakeOpener{docs: map[string]*fakeDoc{
		"maria": {pages: []*fakePage{page("Certificamos que\nMaria da Silva\nconcluiu o curso")}},
		"joao":  {pages: []*fakePage{page("")}},
	}}
	qr := qrPNG(t)
	req := Request{
		Documents: []Document{
			{ID: "diploma_maria.pdf", Data: []byte("maria")},
			{ID: "broken.pdf", Data: []byte("%PDF garbage")},
			{ID: "João_Santos.pdf", Data: []byte("joao")},
		},
		Assets: []matching.Asset{
			matching.NewAsset("Maria_da_Silva.png", qr),
			matching.NewAsset("Joao_Santos.png", qr),
		},
		Placements: at(420, 700, 90),
	}
	resp, err := New(WithOpener(opener)).Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if resp.RunID == "" {
		t.Fatalf("expected a run id")
	}
	want := []Outcome{OutcomeStamped, OutcomeError, OutcomeStamped}
	for i, res := range resp.Results {
		if res.Outcome != want[i] {
			t.Fatalf("result %d outcome = %s (err %v), want %s", i, res.Outcome, res.Err, want[i])
		}
	}
	if resp.Results[0].Source != extractor.StrategyLabel || resp.Results[0].Name != "Maria da Silva" {
		t.Fatalf("unexpected first candidate: %+v", resp.Results[0])
	}
	if resp.Results[2].Source != extractor.StrategyFilename {
		t.Fatalf("expected filename fallback, got %s", resp.Results[2].Source)
	}
	if resp.Results[0].OutputName != "diploma_maria_com_qr.pdf" {
		t.Fatalf("OutputName = %q", resp.Results[0].OutputName)
	}
	if string(resp.Results[0].Output) != "0(420.00, 700.00, 90.00);" {
		t.Fatalf("unexpected output %q", resp.Results[0].Output)
	}
	if resp.Stamped() != 2 || len(resp.Outputs()) != 2 {
		t.Fatalf("expected 2 stamped outputs")
	}

	var failed bool
	for _, line := range resp.Log {
		if strings.Contains(line, "broken.pdf") && strings.Contains(line, "error") {
			failed = true
		}
	}
	if !failed {
		t.Fatalf("log does not name the failing document: %q", resp.Log)
	}
	if last := resp.Log[len(resp.Log)-1]; last != "processed 2 of 3 documents" {
		t.Fatalf("summary = %q", last)
	}
	for i, d := range opener.opened {
		if !d.closed {
			t.Fatalf("document %d left open", i)
		}
	}
}

func TestRun_SharedAsset(t *testing.T) {
	opener := &fakeOpener{docs: map[string]*fakeDoc{}}
	var docs []Document
	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("doc%d", i)
		opener.docs[key] = &fakeDoc{pages: []*fakePage{page("Nome: Pessoa Numero " + key)}}
		docs = append(docs, Document{ID: key + ".pdf", Data: []byte(key)})
	}
	opener.docs["blank"] = &fakeDoc{pages: []*fakePage{page("")}}
	docs = append(docs, Document{ID: "Carla Dias.pdf", Data: []byte("blank")})
	shared := matching.NewAsset("institucional.png", qrPNG(t))
	resp, err := New(WithOpener(opener)).Run(context.Background(), Request{
		Documents:  docs,
		Assets:     []matching.Asset{matching.NewAsset("Someone Else.png", nil)},
		Shared:     &shared,
		Placements: at(10, 10, 50),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := coords.Rect{X: 10, Y: 10, Size: 50}
	for _, res := range resp.Results {
		if res.Outcome != OutcomeStamped || res.Tier != matching.TierShared {
			t.Fatalf("%s: outcome %s tier %s err %v", res.DocumentID, res.Outcome, res.Tier, res.Err)
		}
		if res.Asset == nil || !bytes.Equal(res.Asset.Data, shared.Data) {
			t.Fatalf("%s: stamped with a different QR", res.DocumentID)
		}
		if len(res.Stamps) != 1 || res.Stamps[0].Rect != want {
			t.Fatalf("%s: stamps = %+v, want one at %v", res.DocumentID, res.Stamps, want)
		}
		if string(res.Output) != "0(10.00, 10.00, 50.00);" {
			t.Fatalf("%s: output %q", res.DocumentID, res.Output)
		}
	}
	blank := resp.Results[5]
	if blank.Source != extractor.StrategyFilename || blank.Name != "Carla Dias" {
		t.Fatalf("blank document candidate = %q from %s", blank.Name, blank.Source)
	}
	if last := resp.Log[len(resp.Log)-1]; last != "processed 6 of 6 documents" {
		t.Fatalf("summary = %q", last)
	}
}

func TestRun_NoMatch(t *testing.T) {
	opener := &fakeOpener{docs: map[string]*fakeDoc{
		"a": {pages: []*fakePage{page("Aluno: Ana Paula Souza")}},
	}}
	resp, err := New(WithOpener(opener)).Run(context.Background(), Request{
		Documents:  []Document{{ID: "a.pdf", Data: []byte("a")}},
		Assets:     []matching.Asset{matching.NewAsset("Bruno Lima.png", qrPNG(t))},
		Placements: at(0, 0, 40),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	res := resp.Results[0]
	if res.Outcome != OutcomeNoMatch || res.Output != nil || res.Key == nil || res.Key.Spaced != "ana paula souza" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(opener.docs["a"].pages[0].stamps) != 0 {
		t.Fatalf("no-match document was stamped")
	}
	if !opener.docs["a"].closed {
		t.Fatalf("document left open")
	}
	if last := resp.Log[len(resp.Log)-1]; last != "processed 0 of 1 documents" {
		t.Fatalf("summary = %q", last)
	}
}

func TestRun_CanvasPlacementOnLaterPage(t *testing.T) {
	doc := &fakeDoc{pages: []*fakePage{page("Aluno: Ana Paula Souza"), page("verso")}}
	opener := &fakeOpener{docs: map[string]*fakeDoc{"a": doc}}
	reqs := []placement.Request{{
		Page:      1,
		Placement: coords.Placement{X: 400, Y: 600, Size: 120, Canvas: &coords.Canvas{Width: 1190, Height: 1684}},
	}}
	resp, err := New(WithOpener(opener)).Run(context.Background(), Request{
		Documents:  []Document{{ID: "a.pdf", Data: []byte("a")}},
		Assets:     []matching.Asset{matching.NewAsset("Ana_Paula_Souza.png", qrPNG(t))},
		Placements: reqs,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if resp.Results[0].Outcome != OutcomeStamped {
		t.Fatalf("outcome = %s (%v)", resp.Results[0].Outcome, resp.Results[0].Err)
	}
	if len(doc.pages[0].stamps) != 0 || len(doc.pages[1].stamps) != 1 {
		t.Fatalf("stamp landed on the wrong page")
	}
	got := doc.pages[1].stamps[0]
	if got.X != 200 || got.Y != 300 || got.Size != 60 {
		t.Fatalf("mapped rect = %v", got)
	}
}

func TestRun_PageOutOfRangeIsDocumentError(t *testing.T) {
	opener := &fakeOpener{docs: map[string]*fakeDoc{"a": {pages: []*fakePage{page("Aluno: Ana Paula Souza")}}}}
	reqs := []placement.Request{{Page: 3, Placement: coords.Placement{X: 1, Y: 1, Size: 10}}}
	resp, err := New(WithOpener(opener)).Run(context.Background(), Request{
		Documents:  []Document{{ID: "a.pdf", Data: []byte("a")}},
		Assets:     []matching.Asset{matching.NewAsset("Ana_Paula_Souza.png", qrPNG(t))},
		Placements: reqs,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res := resp.Results[0]; res.Outcome != OutcomeError || !errors.Is(res.Err, pdfdoc.ErrPageOutOfRange) {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRun_RecoversFromPanic(t *testing.T) {
	bad := &fakeDoc{pages: []*fakePage{{panics: true, w: 100, h: 100}}}
	good := &fakeDoc{pages: []*fakePage{page("Aluno: Ana Paula Souza")}}
	opener := &fakeOpener{docs: map[string]*fakeDoc{"bad": bad, "good": good}}
	resp, err := New(WithOpener(opener)).Run(context.Background(), Request{
		Documents: []Document{
			{ID: "bad.pdf", Data: []byte("bad")},
			{ID: "good.pdf", Data: []byte("good")},
		},
		Assets:     []matching.Asset{matching.NewAsset("Ana_Paula_Souza.png", qrPNG(t))},
		Placements: at(5, 5, 20),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if resp.Results[0].Outcome != OutcomeError || !strings.Contains(resp.Results[0].Err.Error(), "panic") {
		t.Fatalf("unexpected first result: %+v", resp.Results[0])
	}
	if resp.Results[1].Outcome != OutcomeStamped {
		t.Fatalf("second document not stamped: %+v", resp.Results[1])
	}
	if !bad.closed {
		t.Fatalf("panicking document left open")
	}
}

func TestRun_SaveFailure(t *testing.T) {
	doc := &fakeDoc{pages: []*fakePage{page("Aluno: Ana Paula Souza")}, saveErr: errors.New("disk full")}
	opener := &fakeOpener{docs: map[string]*fakeDoc{"a": doc}}
	resp, _ := New(WithOpener(opener)).Run(context.Background(), Request{
		Documents:  []Document{{ID: "a.pdf", Data: []byte("a")}},
		Assets:     []matching.Asset{matching.NewAsset("Ana_Paula_Souza.png", qrPNG(t))},
		Placements: at(5, 5, 20),
	})
	if res := resp.Results[0]; res.Outcome != OutcomeError || res.Output != nil {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRun_RejectsInvalidRequest(t *testing.T) {
	opener := &fakeOpener{docs: map[string]*fakeDoc{}}
	asset := matching.NewAsset("A B.png", nil)
	docs := []Document{{ID: "a.pdf", Data: []byte("a")}}
	tests := []struct {
		name string
		req  Request
	}{
		{"no documents", Request{Assets: []matching.Asset{asset}, Placements: at(0, 0, 1)}},
		{"no assets", Request{Documents: docs, Placements: at(0, 0, 1)}},
		{"no placement", Request{Documents: docs, Assets: []matching.Asset{asset}}},
		{"bad placement", Request{Documents: docs, Assets: []matching.Asset{asset}, Placements: at(-1, 0, 1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(WithOpener(opener)).Run(context.Background(), tt.req)
			var reqErr *RequestError
			if !errors.As(err, &reqErr) || !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("expected RequestError, got %v", err)
			}
		})
	}
	if len(opener.opened) != 0 {
		t.Fatalf("documents opened for an invalid request")
	}
}

func TestRun_Cancelled(t *testing.T) {
	opener := &fakeOpener{docs: map[string]*fakeDoc{"a": {pages: []*fakePage{page("")}}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp, err := New(WithOpener(opener)).Run(ctx, Request{
		Documents:  []Document{{ID: "a.pdf", Data: []byte("a")}},
		Assets:     []matching.Asset{matching.NewAsset("A B.png", nil)},
		Placements: at(0, 0, 1),
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(resp.Results) != 0 || resp.Log[len(resp.Log)-1] != "processed 0 of 1 documents" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

type fakeEngine struct {
	text  string
	calls int
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) Recognize(_ context.Context, in ocr.Input) (ocr.Result, error) {
	e.calls++
	return ocr.Result{InputID: in.ID, PlainText: e.text}, nil
}

func TestRun_OCRFallback(t *testing.T) {
	scanned := &fakeDoc{pages: []*fakePage{page("")}}
	texted := &fakeDoc{pages: []*fakePage{page("Aluno: Bruno Lima Costa")}}
	opener := &fakeOpener{docs: map[string]*fakeDoc{"scan": scanned, "text": texted}}
	engine := &fakeEngine{text: "Certificamos que\nAna Paula Souza"}
	resp, err := New(WithOpener(opener), WithOCR(engine, ocr.WithLanguages("por"))).Run(context.Background(), Request{
		Documents: []Document{
			{ID: "scan_0001.pdf", Data: []byte("scan")},
			{ID: "text.pdf", Data: []byte("text")},
		},
		Assets: []matching.Asset{
			matching.NewAsset("Ana_Paula_Souza.png", qrPNG(t)),
			matching.NewAsset("Bruno_Lima_Costa.png", qrPNG(t)),
		},
		Placements: at(5, 5, 20),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res := resp.Results[0]; res.Source != extractor.StrategyOCR || res.Outcome != OutcomeStamped {
		t.Fatalf("unexpected OCR result: %+v", res)
	}
	if engine.calls != 1 {
		t.Fatalf("OCR ran %d times, want once", engine.calls)
	}
}

// oversizedPNG is a PNG header announcing a 60000x60000 RGBA image.
func oversizedPNG() []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], 60000)
	binary.BigEndian.PutUint32(ihdr[4:], 60000)
	ihdr[8], ihdr[9] = 8, 6
	body := append([]byte("IHDR"), ihdr...)
	binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	buf.Write(body)
	binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(body))
	return buf.Bytes()
}

func TestRun_OversizedAssetIsDocumentError(t *testing.T) {
	opener := &fakeOpener{docs: map[string]*fakeDoc{
		"a": {pages: []*fakePage{page("Aluno: Ana Paula Souza")}},
		"b": {pages: []*fakePage{page("Aluno: Bruno Lima Costa")}},
	}}
	resp, err := New(WithOpener(opener)).Run(context.Background(), Request{
		Documents: []Document{{ID: "a.pdf", Data: []byte("a")}, {ID: "b.pdf", Data: []byte("b")}},
		Assets: []matching.Asset{
			matching.NewAsset("Ana Paula Souza.png", oversizedPNG()),
			matching.NewAsset("Bruno Lima Costa.png", qrPNG(t)),
		},
		Placements: at(0, 0, 40),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res := resp.Results[0]; res.Outcome != OutcomeError || !errors.Is(res.Err, imaging.ErrTooLarge) {
		t.Fatalf("oversized QR: outcome %s err %v", res.Outcome, res.Err)
	}
	if resp.Results[1].Outcome != OutcomeStamped {
		t.Fatalf("second document: outcome %s err %v", resp.Results[1].Outcome, resp.Results[1].Err)
	}
	if last := resp.Log[len(resp.Log)-1]; last != "processed 1 of 2 documents" {
		t.Fatalf("summary = %q", last)
	}
}

func TestRun_DistinctOutputNames(t *testing.T) {
	opener := &fakeOpener{docs: map[string]*fakeDoc{
		"a": {pages: []*fakePage{page("Aluno: Ana Paula Souza")}},
		"b": {pages: []*fakePage{page("Aluno: Ana Paula Souza")}},
		"c": {pages: []*fakePage{page("Aluno: Ana Paula Souza")}},
	}}
	resp, err := New(WithOpener(opener)).Run(context.Background(), Request{
		Documents: []Document{
			{ID: "turma1/x.pdf", Data: []byte("a")},
			{ID: "turma2/x.pdf", Data: []byte("b")},
			{ID: "turma3/x.pdf", Data: []byte("c")},
		},
		Assets:     []matching.Asset{matching.NewAsset("Ana Paula Souza.png", qrPNG(t))},
		Placements: at(0, 0, 40),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := []string{"x_com_qr.pdf", "x_com_qr_2.pdf", "x_com_qr_3.pdf"}
	for i, res := range resp.Results {
		if res.OutputName != want[i] {
			t.Fatalf("result %d OutputName = %q, want %q", i, res.OutputName, want[i])
		}
	}
	if n := len(resp.Outputs()); n != 3 {
		t.Fatalf("Outputs() holds %d documents, want 3", n)
	}
	var noted bool
	for _, line := range resp.Log {
		if strings.Contains(line, "turma2/x.pdf") && strings.Contains(line, "x_com_qr_2.pdf") {
			noted = true
		}
	}
	if !noted {
		t.Fatalf("log does not record the renamed output: %q", resp.Log)
	}
}

func TestOutputName(t *testing.T) {
	tests := map[string]string{
		"diploma.pdf":         "diploma_com_qr.pdf",
		"dir/Ana Souza.PDF":   "Ana Souza_com_qr.PDF",
		"sem_extensao":        "sem_extensao_com_qr.pdf",
		"v1.2/diploma.v2.pdf": "diploma.v2_com_qr.pdf",
	}
	for in, want := range tests {
		if got := OutputName(in); got != want {
			t.Fatalf("OutputName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStamp(t *testing.T) {
	doc := &fakeDoc{pages: []*fakePage{page(""), page("")}}
	opener := &fakeOpener{docs: map[string]*fakeDoc{"a": doc}}
	reqs := []placement.Request{
		{Page: 0, Placement: coords.Placement{X: 10, Y: 10, Size: 50}},
		{Page: 1, Placement: coords.Placement{X: 580, Y: 830, Size: 50}},
		{Page: 7, Placement: coords.Placement{X: 10, Y: 10, Size: 50}},
	}
	out, stamps, err := New(WithOpener(opener)).Stamp([]byte("a"), qrPNG(t), reqs)
	if err != nil {
		t.Fatalf("Stamp() error = %v", err)
	}
	if len(stamps) != 2 {
		t.Fatalf("expected 2 stamps, got %d", len(stamps))
	}
	if want := "0(10.00, 10.00, 50.00);1(545.00, 792.00, 50.00);"; string(out) != want {
		t.Fatalf("output = %q, want %q", out, want)
	}
	if !doc.closed {
		t.Fatalf("document left open")
	}
	if _, _, err := New(WithOpener(opener)).Stamp([]byte("a"), qrPNG(t), at(0, 0, 0)); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if _, _, err := New(WithOpener(opener)).Stamp([]byte("a"), []byte("not an image"), at(0, 0, 10)); err == nil {
		t.Fatalf("expected error for undecodable QR")
	}
}
