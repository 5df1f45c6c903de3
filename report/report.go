// Package report summarises batch runs for people: a Markdown table, its
// HTML rendering and a ZIP bundle of the stamped diplomas.
package report

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/crypto/blake2b"

	"github.com/wudi/diplomaqr/batch"
)

// Digest returns the hex blake2b-256 sum of data.
func Digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Markdown renders resp as a Markdown document with one table row per
// document followed by the processing log.
func Markdown(resp batch.Response) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Batch %s\n\n", resp.RunID)
	fmt.Fprintf(&b, "%d of %d documents stamped.\n\n", resp.Stamped(), len(resp.Results))
	b.WriteString("| Document | Name | Source | QR | Outcome | Output | blake2b |\n")
	b.WriteString("|---|---|---|---|---|---|---|\n")
	for _, r := range resp.Results {
		asset, digest, outcome := "", "", string(r.Outcome)
		if r.Asset != nil {
			asset = r.Asset.Filename
		}
		if r.Outcome == batch.OutcomeStamped {
			digest = Digest(r.Output)[:16]
		}
		if r.Err != nil {
			outcome += ": " + r.Err.Error()
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s |\n",
			cell(r.DocumentID), cell(r.Name), cell(string(r.Source)), cell(asset),
			cell(outcome), cell(r.OutputName), digest)
	}
	if len(resp.Log) > 0 {
		b.WriteString("\n## Log\n\n")
		for _, line := range resp.Log {
			fmt.Fprintf(&b, "- %s\n", escapeInline(line))
		}
	}
	return b.String()
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(escapeInline(s), "|", `\|`)
}

var inlineEscaper = strings.NewReplacer(`\`, `\\`, "*", `\*`, "_", `\_`, "`", "\\`", "<", "&lt;", "[", `\[`)

func escapeInline(s string) string { return inlineEscaper.Replace(s) }

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// HTML converts a Markdown document into a standalone HTML page.
func HTML(title, markdown string) ([]byte, error) {
	var body bytes.Buffer
	if err := md.Convert([]byte(markdown), &body); err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	var out bytes.Buffer
	out.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>")
	out.WriteString(htmlEscaper.Replace(title))
	out.WriteString("</title></head><body>\n")
	out.Write(body.Bytes())
	out.WriteString("</body></html>\n")
	return out.Bytes(), nil
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

// File is an entry of a bundle.
type File struct {
	Name string
	Data []byte
}

// WriteZip writes files to w as a deflate compressed ZIP archive in the
// given order. Entries are stamped with modified unless it is zero.
func WriteZip(w io.Writer, files []File, modified time.Time) error {
	zw := zip.NewWriter(w)
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		if seen[f.Name] {
			return fmt.Errorf("duplicate bundle entry %q", f.Name)
		}
		seen[f.Name] = true
		hdr := &zip.FileHeader{Name: f.Name, Method: zip.Deflate}
		if !modified.IsZero() {
			hdr.Modified = modified
		}
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		if _, err := fw.Write(f.Data); err != nil {
			return err
		}
	}
	return zw.Close()
}

// Bundle collects the stamped outputs of resp in result order.
func Bundle(resp batch.Response) []File {
	var out []File
	for _, r := range resp.Results {
		if r.Outcome == batch.OutcomeStamped {
			out = append(out, File{Name: r.OutputName, Data: r.Output})
		}
	}
	return out
}
