// Package contentstream tokenizes PDF content streams and interprets the
// text and image operators needed to read page text and locate images.
package contentstream

import (
	"errors"
	"fmt"
	"io"
)

// Object is an operand value: float64, Name, string, bool, nil, []Object
// or map[string]Object.
type Object interface{}

// Name is a PDF name operand such as /F1.
type Name string

// Operation is an operator with its operands.
type Operation struct {
	Operator string
	Operands []Object
}

// Parse splits content into operations. Inline image data is skipped and
// reported as a single BI operation.
func Parse(content []byte) ([]Operation, error) {
	lex := NewLexer(content)
	var (
		ops      []Operation
		operands []Object
	)
	for {
		tok, err := lex.Next()
		if err == io.EOF {
			return ops, nil
		}
		if err != nil {
			return ops, err
		}
		if tok.Type == TokenKeyword {
			switch tok.Text {
			case "true":
				operands = append(operands, true)
				continue
			case "false":
				operands = append(operands, false)
				continue
			case "null":
				operands = append(operands, nil)
				continue
			case "{", "}":
				continue
			case "BI":
				if err := skipInline(lex); err != nil {
					return ops, err
				}
				ops = append(ops, Operation{Operator: "BI"})
				operands = nil
				continue
			}
			ops = append(ops, Operation{Operator: tok.Text, Operands: operands})
			operands = nil
			continue
		}
		obj, err := parseObject(lex, tok)
		if err != nil {
			return ops, err
		}
		operands = append(operands, obj)
	}
}

func skipInline(lex *Lexer) error {
	for {
		tok, err := lex.Next()
		if err != nil {
			return fmt.Errorf("inline image: %w", err)
		}
		if tok.Type == TokenKeyword && tok.Text == "ID" {
			return lex.skipInlineImage()
		}
	}
}

var errUnexpectedClose = errors.New("unexpected closing delimiter")

func parseObject(lex *Lexer, tok Token) (Object, error) {
	switch tok.Type {
	case TokenNumber:
		return tok.Number, nil
	case TokenName:
		return Name(tok.Text), nil
	case TokenString:
		return tok.Text, nil
	case TokenArrayOpen:
		var arr []Object
		for {
			next, err := lex.Next()
			if err != nil {
				return nil, fmt.Errorf("array: %w", err)
			}
			if next.Type == TokenArrayClose {
				return arr, nil
			}
			obj, err := parseObject(lex, next)
			if err != nil {
				return nil, err
			}
			arr = append(arr, obj)
		}
	case TokenDictOpen:
		dict := map[string]Object{}
		for {
			next, err := lex.Next()
			if err != nil {
				return nil, fmt.Errorf("dict: %w", err)
			}
			if next.Type == TokenDictClose {
				return dict, nil
			}
			if next.Type != TokenName {
				return nil, fmt.Errorf("dict key at %d is not a name", next.Pos)
			}
			valTok, err := lex.Next()
			if err != nil {
				return nil, fmt.Errorf("dict: %w", err)
			}
			val, err := parseObject(lex, valTok)
			if err != nil {
				return nil, err
			}
			dict[next.Text] = val
		}
	case TokenKeyword:
		switch tok.Text {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, nil
	}
	return nil, fmt.Errorf("%w at %d", errUnexpectedClose, tok.Pos)
}

func number(o Object) (float64, bool) {
	f, ok := o.(float64)
	return f, ok
}

// numbers returns the first n operands as floats.
func numbers(ops []Object, n int) ([]float64, bool) {
	if len(ops) < n {
		return nil, false
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		f, ok := number(ops[len(ops)-n+i])
		if !ok {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}
