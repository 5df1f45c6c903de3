package contentstream

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// TokenType classifies lexical tokens of a content stream.
type TokenType int

const (
	TokenNumber     TokenType = iota // 12, -3.5, .25
	TokenName                        // /Name
	TokenString                      // (literal) or <hex>
	TokenArrayOpen                   // [
	TokenArrayClose                  // ]
	TokenDictOpen                    // <<
	TokenDictClose                   // >>
	TokenKeyword                     // operators, true/false/null, braces
)

// Token is one lexical element.
type Token struct {
	Type   TokenType
	Number float64
	// Text holds name and keyword text, or the decoded bytes of a string.
	Text string
	Pos  int
}

// Lexer splits content stream bytes into tokens.
type Lexer struct {
	data []byte
	pos  int
}

// NewLexer returns a lexer over data.
func NewLexer(data []byte) *Lexer { return &Lexer{data: data} }

func isWhite(c byte) bool {
	switch c {
	case 0, '\t', '\n', '\f', '\r', ' ':
		return true
	}
	return false
}

func isDelim(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func (l *Lexer) skipSpaceAndComments() {
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		switch {
		case isWhite(c):
			l.pos++
		case c == '%':
			for l.pos < len(l.data) && l.data[l.pos] != '\n' && l.data[l.pos] != '\r' {
				l.pos++
			}
		default:
			return
		}
	}
}

// Next returns the next token or io.EOF.
func (l *Lexer) Next() (Token, error) {
	l.skipSpaceAndComments()
	if l.pos >= len(l.data) {
		return Token{}, io.EOF
	}
	start := l.pos
	c := l.data[l.pos]
	switch c {
	case '[':
		l.pos++
		return Token{Type: TokenArrayOpen, Pos: start}, nil
	case ']':
		l.pos++
		return Token{Type: TokenArrayClose, Pos: start}, nil
	case '{', '}':
		l.pos++
		return Token{Type: TokenKeyword, Text: string(c), Pos: start}, nil
	case '<':
		if l.peek(1) == '<' {
			l.pos += 2
			return Token{Type: TokenDictOpen, Pos: start}, nil
		}
		return l.hexString()
	case '>':
		if l.peek(1) == '>' {
			l.pos += 2
			return Token{Type: TokenDictClose, Pos: start}, nil
		}
		l.pos++
		return Token{}, fmt.Errorf("unexpected '>' at %d", start)
	case '(':
		return l.literalString()
	case '/':
		return l.name()
	case ')':
		l.pos++
		return Token{}, fmt.Errorf("unbalanced ')' at %d", start)
	}
	for l.pos < len(l.data) && !isWhite(l.data[l.pos]) && !isDelim(l.data[l.pos]) {
		l.pos++
	}
	word := string(l.data[start:l.pos])
	if looksNumeric(word) {
		if f, err := strconv.ParseFloat(word, 64); err == nil {
			return Token{Type: TokenNumber, Number: f, Text: word, Pos: start}, nil
		}
	}
	return Token{Type: TokenKeyword, Text: word, Pos: start}, nil
}

func (l *Lexer) peek(off int) byte {
	if l.pos+off < len(l.data) {
		return l.data[l.pos+off]
	}
	return 0
}

func looksNumeric(s string) bool {
	if s == "" {
		return false
	}
	digits := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			digits++
		case c == '.':
		case (c == '+' || c == '-') && i == 0:
		default:
			return false
		}
	}
	return digits > 0
}

func (l *Lexer) name() (Token, error) {
	start := l.pos
	l.pos++ // '/'
	var buf bytes.Buffer
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		if isWhite(c) || isDelim(c) {
			break
		}
		if c == '#' && l.pos+2 < len(l.data) {
			if v, err := strconv.ParseUint(string(l.data[l.pos+1:l.pos+3]), 16, 8); err == nil {
				buf.WriteByte(byte(v))
				l.pos += 3
				continue
			}
		}
		buf.WriteByte(c)
		l.pos++
	}
	return Token{Type: TokenName, Text: buf.String(), Pos: start}, nil
}

func (l *Lexer) literalString() (Token, error) {
	start := l.pos
	l.pos++ // '('
	depth := 1
	var buf bytes.Buffer
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		switch c {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				l.pos++
				return Token{Type: TokenString, Text: buf.String(), Pos: start}, nil
			}
		case '\\':
			l.pos++
			if l.pos >= len(l.data) {
				continue
			}
			l.escape(&buf)
			continue
		}
		buf.WriteByte(c)
		l.pos++
	}
	return Token{}, fmt.Errorf("unterminated string at %d", start)
}

func (l *Lexer) escape(buf *bytes.Buffer) {
	c := l.data[l.pos]
	switch c {
	case 'n':
		buf.WriteByte('\n')
	case 'r':
		buf.WriteByte('\r')
	case 't':
		buf.WriteByte('\t')
	case 'b':
		buf.WriteByte('\b')
	case 'f':
		buf.WriteByte('\f')
	case '\r':
		// Line continuation; swallow an optional following LF.
		if l.peek(1) == '\n' {
			l.pos++
		}
	case '\n':
	default:
		if c >= '0' && c <= '7' {
			v := 0
			n := 0
			for n < 3 && l.pos < len(l.data) && l.data[l.pos] >= '0' && l.data[l.pos] <= '7' {
				v = v*8 + int(l.data[l.pos]-'0')
				l.pos++
				n++
			}
			buf.WriteByte(byte(v))
			return
		}
		// \( \) \\ and unknown escapes map to the character itself.
		buf.WriteByte(c)
	}
	l.pos++
}

func (l *Lexer) hexString() (Token, error) {
	start := l.pos
	l.pos++ // '<'
	var buf bytes.Buffer
	hi, half := byte(0), false
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		l.pos++
		if c == '>' {
			if half {
				buf.WriteByte(hi << 4)
			}
			return Token{Type: TokenString, Text: buf.String(), Pos: start}, nil
		}
		if isWhite(c) {
			continue
		}
		v, ok := hexValue(c)
		if !ok {
			return Token{}, fmt.Errorf("invalid hex digit %q at %d", c, l.pos-1)
		}
		if half {
			buf.WriteByte(hi<<4 | v)
			half = false
		} else {
			hi, half = v, true
		}
	}
	return Token{}, fmt.Errorf("unterminated hex string at %d", start)
}

func hexValue(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

var errNoEI = errors.New("inline image without EI")

// skipInlineImage advances past inline image data that follows an ID
// operator. The data ends at an EI keyword delimited by whitespace.
func (l *Lexer) skipInlineImage() error {
	if l.pos < len(l.data) && isWhite(l.data[l.pos]) {
		l.pos++
	}
	for i := l.pos; i+1 < len(l.data); i++ {
		if l.data[i] != 'E' || l.data[i+1] != 'I' {
			continue
		}
		before := i == 0 || isWhite(l.data[i-1])
		after := i+2 >= len(l.data) || isWhite(l.data[i+2])
		if before && after {
			l.pos = i + 2
			return nil
		}
	}
	l.pos = len(l.data)
	return errNoEI
}
