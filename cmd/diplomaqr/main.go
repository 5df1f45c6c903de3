package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/wudi/diplomaqr/batch"
	"github.com/wudi/diplomaqr/matching"
	"github.com/wudi/diplomaqr/observability"
	"github.com/wudi/diplomaqr/ocr"
	_ "github.com/wudi/diplomaqr/ocr/tesseract"
	"github.com/wudi/diplomaqr/pdfdoc"
	"github.com/wudi/diplomaqr/placement"
	"github.com/wudi/diplomaqr/report"
	"github.com/wudi/diplomaqr/scan"
)

var commands = map[string]func(ctx context.Context, args []string) error{
	"batch":   runBatch,
	"detect":  runDetect,
	"harvest": runHarvest,
	"stamp":   runStamp,
	"pages":   runPages,
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: diplomaqr <batch|detect|harvest|stamp|pages> [flags]\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		usage()
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := cmd(ctx, os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "diplomaqr %s: %v\n", os.Args[1], err)
		var reqErr *batch.RequestError
		if errors.As(err, &reqErr) || errors.Is(err, placement.ErrInvalid) || errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

type common struct {
	verbose  *bool
	password *string
}

func commonFlags(fs *flag.FlagSet) common {
	return common{
		verbose:  fs.Bool("v", false, "Log debug records to stderr"),
		password: fs.String("password", "", "User password for encrypted PDFs"),
	}
}

func (c common) logger() observability.Logger {
	level := slog.LevelWarn
	if *c.verbose {
		level = slog.LevelDebug
	}
	return observability.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func (c common) opener() pdfdoc.Opener {
	var opts []pdfdoc.Option
	if *c.password != "" {
		opts = append(opts, pdfdoc.WithPassword(*c.password))
	}
	return pdfdoc.NewOpener(opts...)
}

func runBatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)
	c := commonFlags(fs)
	diplomas := fs.String("diplomas", "", "Directory of diploma PDFs")
	qrDir := fs.String("qrs", "", "Directory of per-student QR PNGs named after the students")
	shared := fs.String("qr", "", "Single QR image stamped on every diploma")
	position := fs.String("position", "", "Placement JSON, or @file")
	outDir := fs.String("out", "com_qr", "Output directory")
	zipPath := fs.String("zip", "", "Also bundle the stamped PDFs into this ZIP file")
	reportPath := fs.String("report", "", "Write an HTML run report to this file")
	useOCR := fs.Bool("ocr", false, "Recognise image-only first pages with tesseract")
	lang := fs.String("lang", "por", "OCR language")
	psm := fs.Int("psm", ocr.PSMAuto, "Tesseract page segmentation mode")
	names := fs.Bool("ocr-names", false, "Restrict OCR to characters found in names and labels")
	dpi := fs.Float64("dpi", 300, "Resolution of stamped QR images")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *diplomas == "" || *position == "" || (*qrDir == "") == (*shared == "") {
		fs.Usage()
		return errors.New("-diplomas, -position and exactly one of -qrs or -qr are required")
	}

	reqs, err := parsePositions(*position, false)
	if err != nil {
		return err
	}
	docs, err := readDir(*diplomas, ".pdf")
	if err != nil {
		return err
	}
	req := batch.Request{Placements: reqs}
	for _, d := range docs {
		req.Documents = append(req.Documents, batch.Document{ID: d.Name, Data: d.Data})
	}
	if *shared != "" {
		data, err := os.ReadFile(*shared)
		if err != nil {
			return err
		}
		a := matching.NewAsset(filepath.Base(*shared), data)
		req.Shared = &a
	} else {
		files, err := readDir(*qrDir, "")
		if err != nil {
			return err
		}
		req.Assets = matching.AssetsFromFiles(files)
	}

	opts := []batch.Option{
		batch.WithOpener(c.opener()),
		batch.WithLogger(c.logger()),
		batch.WithStampDPI(*dpi),
	}
	if *useOCR {
		ocrOpts := []ocr.InputOption{ocr.WithLanguages(*lang), ocr.WithTesseractPSM(*psm)}
		if *names {
			ocrOpts = append(ocrOpts, ocr.WithTesseractWhitelist(ocr.NameCharset))
		}
		opts = append(opts, batch.WithOCR(ocr.DefaultEngine(), ocrOpts...))
	}
	resp, runErr := batch.New(opts...).Run(ctx, req)
	var reqErr *batch.RequestError
	if errors.As(runErr, &reqErr) {
		return runErr
	}
	for _, line := range resp.Log {
		fmt.Println(line)
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	for name, data := range resp.Outputs() {
		if err := os.WriteFile(filepath.Join(*outDir, name), data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	if *zipPath != "" {
		var buf bytes.Buffer
		if err := report.WriteZip(&buf, report.Bundle(resp), time.Now()); err != nil {
			return fmt.Errorf("bundle: %w", err)
		}
		if err := os.WriteFile(*zipPath, buf.Bytes(), 0o644); err != nil {
			return err
		}
	}
	if *reportPath != "" {
		page, err := report.HTML("diplomaqr "+resp.RunID, report.Markdown(resp))
		if err != nil {
			return err
		}
		if err := os.WriteFile(*reportPath, page, 0o644); err != nil {
			return err
		}
	}
	return runErr
}

type positionSummary struct {
	Page   int     `json:"page"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Found  bool    `json:"found"`
	X      float64 `json:"x,omitempty"`
	Y      float64 `json:"y,omitempty"`
	BoxW   float64 `json:"box_width,omitempty"`
	BoxH   float64 `json:"box_height,omitempty"`
	Text   string  `json:"text,omitempty"`
}

func runDetect(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("detect", flag.ContinueOnError)
	c := commonFlags(fs)
	scale := fs.Float64("scale", scan.DetectScale, "Raster scale in pixels per point")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("expected one PDF")
	}
	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	s := scan.New(scan.WithOpener(c.opener()), scan.WithLogger(c.logger()), scan.WithScale(*scale))
	positions, err := s.DetectPositions(ctx, data)
	if err != nil {
		return err
	}
	out := make([]positionSummary, 0, len(positions))
	for _, p := range positions {
		out = append(out, positionSummary{
			Page: p.Page, Width: p.Width, Height: p.Height, Found: p.Found,
			X: p.Box.X, Y: p.Box.Y, BoxW: p.Box.Width, BoxH: p.Box.Height, Text: p.Text,
		})
	}
	return emitSection("positions", out)
}

func runHarvest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("harvest", flag.ContinueOnError)
	c := commonFlags(fs)
	outDir := fs.String("out", "qrs", "Directory for the harvested QR PNGs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("expected signed diploma PDFs")
	}
	var files []matching.File
	for _, path := range fs.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files = append(files, matching.File{Name: filepath.Base(path), Data: data})
	}
	s := scan.New(scan.WithOpener(c.opener()), scan.WithLogger(c.logger()))
	res, err := s.Harvest(ctx, files)
	for _, line := range res.Log {
		fmt.Println(line)
	}
	if err != nil {
		return err
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	for _, a := range res.Assets() {
		path := filepath.Join(*outDir, safeName(a.Filename))
		if err := os.WriteFile(path, a.Data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}

func runStamp(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("stamp", flag.ContinueOnError)
	c := commonFlags(fs)
	pdfPath := fs.String("pdf", "", "PDF to stamp")
	qrPath := fs.String("qr", "", "QR image")
	positions := fs.String("positions", "", "Placement JSON, or @file")
	pageMap := fs.Bool("page-map", false, `Positions are keyed by page: {"0": [...], ...}`)
	out := fs.String("out", "", "Output PDF")
	dpi := fs.Float64("dpi", 300, "Resolution of stamped QR images")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *pdfPath == "" || *qrPath == "" || *positions == "" || *out == "" {
		fs.Usage()
		return errors.New("-pdf, -qr, -positions and -out are required")
	}
	reqs, err := parsePositions(*positions, *pageMap)
	if err != nil {
		return err
	}
	pdf, err := os.ReadFile(*pdfPath)
	if err != nil {
		return err
	}
	qr, err := os.ReadFile(*qrPath)
	if err != nil {
		return err
	}
	o := batch.New(batch.WithOpener(c.opener()), batch.WithLogger(c.logger()), batch.WithStampDPI(*dpi))
	stamped, stamps, err := o.Stamp(pdf, qr, reqs)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, stamped, 0o644); err != nil {
		return err
	}
	return emitSection("stamps", stamps)
}

type pageSummary struct {
	Page          int     `json:"page_num"`
	Width         float64 `json:"width"`
	Height        float64 `json:"height"`
	DisplayWidth  int     `json:"display_width"`
	DisplayHeight int     `json:"display_height"`
	Path          string  `json:"path"`
}

func runPages(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("pages", flag.ContinueOnError)
	c := commonFlags(fs)
	scale := fs.Float64("scale", scan.PreviewScale, "Raster scale in pixels per point")
	outDir := fs.String("out", "pages", "Directory for page PNGs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("expected one PDF")
	}
	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	pages, err := scan.RenderPages(c.opener(), data, *scale)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	summaries := make([]pageSummary, 0, len(pages))
	for _, p := range pages {
		path := filepath.Join(*outDir, fmt.Sprintf("page-%03d.png", p.Page+1))
		if err := os.WriteFile(path, p.PNG, 0o644); err != nil {
			return fmt.Errorf("write page %d: %w", p.Page, err)
		}
		summaries = append(summaries, pageSummary{
			Page: p.Page, Width: p.Width, Height: p.Height,
			DisplayWidth: p.DisplayWidth, DisplayHeight: p.DisplayHeight, Path: path,
		})
	}
	return emitSection("pages", summaries)
}

// parsePositions reads placement JSON given inline or as @file.
func parsePositions(arg string, pageMap bool) ([]placement.Request, error) {
	data := []byte(arg)
	if strings.HasPrefix(arg, "@") {
		var err error
		if data, err = os.ReadFile(arg[1:]); err != nil {
			return nil, err
		}
	}
	if pageMap {
		return placement.ParsePageMap(data)
	}
	return placement.Parse(data)
}

// readDir loads the regular files of dir, optionally filtered by extension,
// in name order.
func readDir(dir, ext string) ([]matching.File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []matching.File
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if ext != "" && !strings.EqualFold(filepath.Ext(e.Name()), ext) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		files = append(files, matching.File{Name: e.Name(), Data: data})
	}
	return files, nil
}

func emitSection(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	fmt.Printf("== %s ==\n%s\n\n", name, data)
	return nil
}

func safeName(name string) string {
	if name == "" {
		return "unnamed"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
}
