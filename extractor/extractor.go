// Package extractor pulls a student's name out of the text of a diploma page.
//
// Extraction is a cascade: labelled fields ("Aluno:", "Certificamos que", ...)
// are authoritative when a template emits them; otherwise a proper-noun line
// heuristic looks for a line that reads like a person's name and is not
// institutional boilerplate. Callers fall back to a file-name derived name
// when neither succeeds.
package extractor

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/wudi/diplomaqr/normalize"
)

// Strategy tags the provenance of a Candidate.
type Strategy string

const (
	StrategyLabel     Strategy = "label"
	StrategyHeuristic Strategy = "heuristic"
	StrategyOCR       Strategy = "ocr"
	StrategyFilename  Strategy = "filename"
)

// Candidate is a string believed to be a person's full name.
type Candidate struct {
	Name   string
	Source Strategy
	// Rule names the labelled rule that matched; empty for other strategies.
	Rule string
}

// Key returns the matching key of the candidate name.
func (c Candidate) Key() normalize.MatchKey { return normalize.Normalize(c.Name) }

// Name token bounds shared by both strategies.
const (
	minNameWords = 2
	maxNameWords = 6
)

var defaultConnectors = []string{"de", "da", "do", "dos", "das", "e", "del", "van", "von"}

var defaultDenylist = []string{
	"diploma", "certificado", "curso", "universidade", "faculdade", "instituto",
	"graduação", "bacharelado", "licenciatura", "tecnólogo", "especialização",
	"mestrado", "doutorado", "pós-graduação", "conclusão", "formatura",
	"deliberação", "credenciamento", "parecer", "renovação", "data", "impressão",
	"página", "documento",
}

// forbiddenSymbols rejects heuristic lines carrying digits or punctuation.
const forbiddenSymbols = `0123456789@#$%^&*()_+={}|\:";'<>?,./`

// Extractor runs the extraction cascade. The zero value is not usable; build
// one with New.
type Extractor struct {
	rules      []Rule
	connectors map[string]struct{}
	denylist   []string
	minLine    int
	maxLine    int
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithRules replaces the labelled rule list. Rules are tried in order.
func WithRules(rules ...Rule) Option {
	return func(e *Extractor) { e.rules = append([]Rule(nil), rules...) }
}

// WithDenylist extends the heuristic's boilerplate denylist.
func WithDenylist(words ...string) Option {
	return func(e *Extractor) {
		for _, w := range words {
			e.denylist = append(e.denylist, strings.ToLower(w))
		}
	}
}

// WithConnectors extends the lowercase words accepted inside a name.
func WithConnectors(words ...string) Option {
	return func(e *Extractor) {
		for _, w := range words {
			e.connectors[strings.ToLower(w)] = struct{}{}
		}
	}
}

// New returns an Extractor using DefaultRules and the default heuristic
// vocabulary.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		rules:      DefaultRules(),
		connectors: make(map[string]struct{}, len(defaultConnectors)),
		denylist:   append([]string(nil), defaultDenylist...),
		minLine:    5,
		maxLine:    80,
	}
	for _, c := range defaultConnectors {
		e.connectors[c] = struct{}{}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the best-guess student name found in pageText.
func (e *Extractor) Extract(pageText string) (Candidate, bool) {
	if strings.TrimSpace(pageText) == "" {
		return Candidate{}, false
	}
	for _, r := range e.rules {
		name, ok := r.Apply(pageText)
		if !ok || !validWordCount(name) {
			continue
		}
		return Candidate{Name: name, Source: StrategyLabel, Rule: r.Label}, true
	}
	if line, ok := e.properNounLine(pageText); ok {
		return Candidate{Name: normalize.Clean(line), Source: StrategyHeuristic}, true
	}
	return Candidate{}, false
}

// FromFilename derives the fallback candidate from a document's file name.
func FromFilename(filename string) Candidate {
	return Candidate{Name: normalize.Clean(filename), Source: StrategyFilename}
}

func (e *Extractor) properNounLine(text string) (string, bool) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if e.looksLikeName(line) {
			return line, true
		}
	}
	return "", false
}

func (e *Extractor) looksLikeName(line string) bool {
	n := utf8.RuneCountInString(line)
	if n < e.minLine || n > e.maxLine {
		return false
	}
	words := strings.Fields(line)
	if len(words) < minNameWords || len(words) > maxNameWords {
		return false
	}
	for _, w := range words {
		if _, ok := e.connectors[strings.ToLower(w)]; ok {
			continue
		}
		first, _ := utf8.DecodeRuneInString(w)
		if utf8.RuneCountInString(w) < 2 || !unicode.IsUpper(first) {
			return false
		}
	}
	if strings.ContainsAny(line, forbiddenSymbols) {
		return false
	}
	lower := strings.ToLower(line)
	for _, word := range e.denylist {
		if strings.Contains(lower, word) {
			return false
		}
	}
	return true
}

func validWordCount(name string) bool {
	n := len(strings.Fields(name))
	return n >= minNameWords && n <= maxNameWords
}
