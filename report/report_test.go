package report

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/wudi/diplomaqr/batch"
	"github.com/wudi/diplomaqr/extractor"
	"github.com/wudi/diplomaqr/matching"
)

func sampleResponse() batch.Response {
	asset := matching.NewAsset("Ana_Souza.png", nil)
	return batch.Response{
		RunID: "run-1",
		Results: []batch.Result{
			{DocumentID: "ana_souza.pdf", Name: "Ana Souza", Source: extractor.StrategyLabel, Asset: &asset,
				Outcome: batch.OutcomeStamped, OutputName: "ana_souza_com_qr.pdf", Output: []byte("%PDF-ana")},
			{DocumentID: "x|y.pdf", Name: "Bruno Lima", Source: extractor.StrategyHeuristic, Outcome: batch.OutcomeNoMatch},
			{DocumentID: "broken.pdf", Outcome: batch.OutcomeError, Err: errors.New("open: malformed")},
		},
		Log: []string{"processing ana_souza.pdf", "processed 1 of 3 documents"},
	}
}

func TestDigest(t *testing.T) {
	// blake2b-256 of the empty input.
	const empty = "0e5751c026e543b2e8ab2eb06099daa1d1e5df47778f7787faab45cdf12fe3a8"
	if got := Digest(nil); got != empty {
		t.Fatalf("Digest(nil) = %s", got)
	}
	if Digest([]byte("a")) == Digest([]byte("b")) {
		t.Fatalf("distinct inputs share a digest")
	}
}

func TestMarkdownListsEveryDocument(t *testing.T) {
	out := Markdown(sampleResponse())
	for _, want := range []string{
		"# Batch run-1",
		"1 of 3 documents stamped.",
		`| ana\_souza.pdf | Ana Souza | label | Ana\_Souza.png | stamped | ana\_souza\_com\_qr.pdf |`,
		`x\|y.pdf`,
		"error: open: malformed",
		Digest([]byte("%PDF-ana"))[:16],
		"- processed 1 of 3 documents",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("markdown missing %q:\n%s", want, out)
		}
	}
}

func TestHTML(t *testing.T) {
	page, err := HTML("Batch <1>", Markdown(sampleResponse()))
	if err != nil {
		t.Fatalf("HTML() error = %v", err)
	}
	html := string(page)
	for _, want := range []string{"<title>Batch &lt;1&gt;</title>", "<table>", "<td>ana_souza.pdf</td>", "<td>x|y.pdf</td>", "<h2>Log</h2>"} {
		if !strings.Contains(html, want) {
			t.Fatalf("html missing %q:\n%s", want, html)
		}
	}
}

func TestWriteZip(t *testing.T) {
	files := Bundle(sampleResponse())
	files = append(files, File{Name: "report.html", Data: []byte("<html></html>")})
	var buf bytes.Buffer
	mod := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := WriteZip(&buf, files, mod); err != nil {
		t.Fatalf("WriteZip() error = %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}
	if len(zr.File) != 2 || zr.File[0].Name != "ana_souza_com_qr.pdf" || zr.File[1].Name != "report.html" {
		t.Fatalf("unexpected entries: %v", zr.File)
	}
	rc, err := zr.File[0].Open()
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "%PDF-ana" {
		t.Fatalf("entry content = %q", data)
	}
	if !zr.File[0].Modified.Equal(mod) {
		t.Fatalf("Modified = %v", zr.File[0].Modified)
	}

	dup := []File{{Name: "a.pdf"}, {Name: "a.pdf"}}
	if err := WriteZip(io.Discard, dup, time.Time{}); err == nil {
		t.Fatalf("expected duplicate entry error")
	}
}
