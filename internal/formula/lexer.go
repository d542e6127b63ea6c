package formula

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent    // bareword
	tokBraceRef // {column ref}
	tokOp       // + - * / % ( ) ,
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	input string
	pos   int
}

func newLexer(input string) *lexer {
	return &lexer{input: input}
}

func (l *lexer) peekByte() byte {
	if l.pos >= len(l.input) {
		return 0
	}
	return l.input[l.pos]
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.input) && unicode.IsSpace(rune(l.input[l.pos])) {
		l.pos++
	}
}

func isOpByte(b byte) bool {
	switch b {
	case '+', '-', '*', '/', '%', '(', ')', ',':
		return true
	}
	return false
}

func isIdentByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func (l *lexer) next() (token, error) {
	l.skipSpace()
	start := l.pos
	if l.pos >= len(l.input) {
		return token{kind: tokEOF, pos: start}, nil
	}
	b := l.input[l.pos]
	switch {
	case isOpByte(b):
		l.pos++
		return token{kind: tokOp, text: string(b), pos: start}, nil
	case b == '\'' || b == '"':
		return l.lexString(b)
	case b == '{':
		return l.lexBraceRef()
	case b >= '0' && b <= '9', b == '.':
		return l.lexNumber()
	case isIdentByte(b):
		for l.pos < len(l.input) && isIdentByte(l.input[l.pos]) {
			l.pos++
		}
		return token{kind: tokIdent, text: l.input[start:l.pos], pos: start}, nil
	default:
		return token{}, fmt.Errorf("unexpected character %q at %d", b, start)
	}
}

// lexString reads a single- or double-quoted literal with backslash escapes.
func (l *lexer) lexString(quote byte) (token, error) {
	start := l.pos
	l.pos++ // opening quote
	var sb strings.Builder
	for l.pos < len(l.input) {
		b := l.input[l.pos]
		switch b {
		case '\\':
			if l.pos+1 >= len(l.input) {
				return token{}, fmt.Errorf("dangling escape at %d", l.pos)
			}
			sb.WriteByte(l.input[l.pos+1])
			l.pos += 2
		case quote:
			l.pos++
			return token{kind: tokString, text: sb.String(), pos: start}, nil
		default:
			sb.WriteByte(b)
			l.pos++
		}
	}
	return token{}, fmt.Errorf("unterminated string starting at %d", start)
}

func (l *lexer) lexBraceRef() (token, error) {
	start := l.pos
	l.pos++ // opening brace
	end := strings.IndexByte(l.input[l.pos:], '}')
	if end < 0 {
		return token{}, fmt.Errorf("unterminated column reference starting at %d", start)
	}
	ref := strings.TrimSpace(l.input[l.pos : l.pos+end])
	l.pos += end + 1
	return token{kind: tokBraceRef, text: ref, pos: start}, nil
}

func (l *lexer) lexNumber() (token, error) {
	start := l.pos
	seenDot := false
	for l.pos < len(l.input) {
		b := l.input[l.pos]
		if b == '.' {
			if seenDot {
				break
			}
			seenDot = true
			l.pos++
			continue
		}
		if b < '0' || b > '9' {
			break
		}
		l.pos++
	}
	text := l.input[start:l.pos]
	if text == "." {
		return token{}, fmt.Errorf("malformed number at %d", start)
	}
	return token{kind: tokNumber, text: text, pos: start}, nil
}
