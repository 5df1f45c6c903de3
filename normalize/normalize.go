// Package normalize folds person names and file names into matching keys.
//
// A diploma's extracted student name and a QR image's file name rarely agree
// byte for byte: accents, case, separators and extensions all drift. Both
// sides are reduced to a MatchKey so they can be compared directly.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MatchKey is the pair of forms a name is indexed and looked up under.
type MatchKey struct {
	// Spaced is lowercase, accent free and single spaced ("joao da silva").
	Spaced string
	// Compact is Spaced without spaces ("joaodasilva").
	Compact string
}

// IsZero reports whether the key was derived from an empty name.
func (k MatchKey) IsZero() bool { return k.Spaced == "" && k.Compact == "" }

func (k MatchKey) String() string { return k.Spaced }

var strippedExtensions = []string{".pdf", ".png"}

// Normalize derives the MatchKey for raw. It never fails; empty or
// punctuation-only input yields the zero key. Normalize is idempotent:
// Normalize(Normalize(x).Spaced) == Normalize(x).
func Normalize(raw string) MatchKey {
	cleaned := strings.ReplaceAll(fold(raw), "_", " ")
	// Lowercasing can reintroduce combining marks ("İ" becomes "i̇").
	spaced := collapseSpaces(stripAccents(strings.ToLower(cleaned)))
	return MatchKey{
		Spaced:  spaced,
		Compact: strings.ReplaceAll(spaced, " ", ""),
	}
}

// Clean returns the display form of raw: accents stripped, punctuation
// removed, whitespace collapsed and a trailing .pdf/.png dropped. Case and
// underscores are preserved.
func Clean(raw string) string {
	return collapseSpaces(fold(raw))
}

func fold(raw string) string {
	s := trimExtension(collapseSpaces(raw))
	if s == "" {
		return ""
	}
	s = stripAccents(s)
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_':
			return r
		case unicode.IsSpace(r):
			return ' '
		}
		return -1
	}, s)
}

func trimExtension(s string) string {
	lower := strings.ToLower(s)
	for _, ext := range strippedExtensions {
		if strings.HasSuffix(lower, ext) {
			return strings.TrimSpace(s[:len(s)-len(ext)])
		}
	}
	return s
}

// stripAccents decomposes to NFD, drops combining marks and recomposes so
// that characters without a decomposition (for example "ø") survive intact.
func stripAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
