package contentstream

import (
	"io"
	"unicode/utf16"
)

// CMap maps character codes to Unicode text, as read from a ToUnicode
// stream.
type CMap struct {
	entries map[string]string
	// codeLengths lists the byte lengths declared by codespace ranges.
	codeLengths []int
}

// ParseCMap reads bfchar, bfrange and codespacerange sections. Malformed
// sections are skipped; whatever parsed cleanly is kept.
func ParseCMap(data []byte) *CMap {
	cm := &CMap{entries: map[string]string{}}
	lex := NewLexer(data)
	var operands []Object
	for {
		tok, err := lex.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Resume after the bad byte.
			lex.pos++
			operands = nil
			continue
		}
		if tok.Type == TokenKeyword {
			switch tok.Text {
			case "endbfchar":
				cm.addChars(operands)
			case "endbfrange":
				cm.addRanges(operands)
			case "endcodespacerange":
				cm.addCodespace(operands)
			}
			operands = nil
			continue
		}
		obj, err := parseObject(lex, tok)
		if err != nil {
			operands = nil
			continue
		}
		operands = append(operands, obj)
	}
	return cm
}

func (cm *CMap) addChars(ops []Object) {
	for i := 0; i+1 < len(ops); i += 2 {
		src, ok1 := ops[i].(string)
		dst, ok2 := ops[i+1].(string)
		if !ok1 || !ok2 {
			continue
		}
		cm.entries[src] = utf16BE(dst)
	}
}

func (cm *CMap) addRanges(ops []Object) {
	for i := 0; i+2 < len(ops); i += 3 {
		lo, ok1 := ops[i].(string)
		hi, ok2 := ops[i+1].(string)
		if !ok1 || !ok2 || len(lo) != len(hi) || len(lo) == 0 || len(lo) > 4 {
			continue
		}
		start, end := codeValue(lo), codeValue(hi)
		if end < start || end-start > 0xFFFF {
			continue
		}
		switch dst := ops[i+2].(type) {
		case string:
			base := []rune(utf16BE(dst))
			if len(base) == 0 {
				continue
			}
			for c := start; c <= end; c++ {
				out := append([]rune(nil), base...)
				out[len(out)-1] += rune(c - start)
				cm.entries[codeBytes(c, len(lo))] = string(out)
			}
		case []Object:
			for j, d := range dst {
				c := start + uint32(j)
				if c > end {
					break
				}
				if s, ok := d.(string); ok {
					cm.entries[codeBytes(c, len(lo))] = utf16BE(s)
				}
			}
		}
	}
}

func (cm *CMap) addCodespace(ops []Object) {
	for i := 0; i+1 < len(ops); i += 2 {
		lo, ok := ops[i].(string)
		if !ok || len(lo) == 0 {
			continue
		}
		known := false
		for _, n := range cm.codeLengths {
			if n == len(lo) {
				known = true
			}
		}
		if !known {
			cm.codeLengths = append(cm.codeLengths, len(lo))
		}
	}
}

// Lookup returns the text for a code.
func (cm *CMap) Lookup(code []byte) (string, bool) {
	if cm == nil {
		return "", false
	}
	s, ok := cm.entries[string(code)]
	return s, ok
}

// Len reports the number of mapped codes.
func (cm *CMap) Len() int {
	if cm == nil {
		return 0
	}
	return len(cm.entries)
}

func codeValue(s string) uint32 {
	var v uint32
	for i := 0; i < len(s); i++ {
		v = v<<8 | uint32(s[i])
	}
	return v
}

func codeBytes(v uint32, n int) string {
	b := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return string(b)
}

// utf16BE decodes big-endian UTF-16 as used by ToUnicode destinations.
func utf16BE(s string) string {
	if len(s)%2 == 1 {
		s += "\x00"
	}
	u := make([]uint16, 0, len(s)/2)
	for i := 0; i+1 < len(s); i += 2 {
		u = append(u, uint16(s[i])<<8|uint16(s[i+1]))
	}
	return string(utf16.Decode(u))
}
