package extractor

import (
	"regexp"
	"strings"

	"github.com/wudi/diplomaqr/normalize"
)

// Rule is a labelled-field pattern: a label followed by a run of words.
type Rule struct {
	Label   string
	pattern *regexp.Regexp
}

// nameRun captures words of two or more letters separated by whitespace.
// Matching is case-insensitive, so all-caps and lowercase connectors stay in
// the run; the post-processing below decides where the name ends.
const nameRun = `(\pL\pL+(?:\s+\pL\pL+)*)`

// LabelRule builds a rule for label. The label is matched literally and
// case-insensitively.
func LabelRule(label string) Rule {
	return Rule{
		Label:   label,
		pattern: regexp.MustCompile(`(?i)` + regexp.QuoteMeta(label) + `\s*` + nameRun),
	}
}

// DefaultRules returns the labels emitted by the supported diploma templates,
// in priority order.
func DefaultRules() []Rule {
	return []Rule{
		LabelRule("Aluno:"),
		LabelRule("Nome do aluno:"),
		LabelRule("Certificamos que"),
		LabelRule("Nome:"),
		LabelRule("Formando:"),
		LabelRule("Graduando:"),
	}
}

var sectionLabel = regexp.MustCompile(`(?:^|\s)[Cc]urso(?::|\s|$)`)

// sectionWords end a captured name when they appear as a token.
var sectionWords = map[string]struct{}{
	"curso":          {},
	"de":             {},
	"graduação":      {},
	"pós":            {},
	"especialização": {},
}

// Apply runs the rule against text and returns the cleaned name.
func (r Rule) Apply(text string) (string, bool) {
	if r.pattern == nil {
		return "", false
	}
	m := r.pattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	captured := m[1]
	if i := strings.IndexByte(captured, '\n'); i >= 0 {
		captured = captured[:i]
	}
	if loc := sectionLabel.FindStringIndex(captured); loc != nil {
		captured = captured[:loc[0]]
	}
	var kept []string
	for _, tok := range strings.Fields(captured) {
		if _, stop := sectionWords[strings.ToLower(tok)]; stop {
			break
		}
		kept = append(kept, tok)
	}
	name := normalize.Clean(strings.Join(kept, " "))
	if name == "" {
		return "", false
	}
	return name, true
}
