package contentstream

import (
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var glyphNames = map[string]string{
	"space": " ", "exclam": "!", "quotedbl": "\"", "numbersign": "#",
	"dollar": "$", "percent": "%", "ampersand": "&", "quotesingle": "'",
	"quoteright": "’", "quoteleft": "‘", "parenleft": "(", "parenright": ")",
	"asterisk": "*", "plus": "+", "comma": ",", "hyphen": "-", "period": ".",
	"slash": "/", "colon": ":", "semicolon": ";", "less": "<", "equal": "=",
	"greater": ">", "question": "?", "at": "@", "bracketleft": "[",
	"backslash": "\\", "bracketright": "]", "underscore": "_",
	"braceleft": "{", "bar": "|", "braceright": "}", "endash": "–",
	"emdash": "—", "quotedblleft": "“", "quotedblright": "”",
	"ordfeminine": "ª", "ordmasculine": "º", "degree": "°", "nbspace": " ",
	"zero": "0", "one": "1", "two": "2", "three": "3", "four": "4",
	"five": "5", "six": "6", "seven": "7", "eight": "8", "nine": "9",
	"germandbls": "ß", "ae": "æ", "AE": "Æ", "oslash": "ø", "Oslash": "Ø",
	"fi": "fi", "fl": "fl",
}

var accentMarks = map[string]rune{
	"acute":      '\u0301',
	"grave":      '\u0300',
	"circumflex": '\u0302',
	"tilde":      '\u0303',
	"dieresis":   '\u0308',
	"ring":       '\u030A',
	"cedilla":    '\u0327',
	"caron":      '\u030C',
}

// glyphText maps a glyph name from an encoding Differences array to text.
// Unknown names map to "".
func glyphText(name string) string {
	if s, ok := glyphNames[name]; ok {
		return s
	}
	if len(name) == 1 {
		return name
	}
	if strings.HasPrefix(name, "uni") && len(name) == 7 {
		if v, err := strconv.ParseUint(name[3:], 16, 32); err == nil {
			return string(rune(v))
		}
	}
	if strings.HasPrefix(name, "u") && len(name) >= 5 && len(name) <= 7 {
		if v, err := strconv.ParseUint(name[1:], 16, 32); err == nil {
			return string(rune(v))
		}
	}
	// Accented Latin letters: "eacute", "Ccedilla", "atilde", ...
	if mark, ok := accentMarks[name[1:]]; ok {
		return norm.NFC.String(name[:1] + string(mark))
	}
	return ""
}
