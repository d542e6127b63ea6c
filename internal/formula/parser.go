package formula

import (
	"fmt"
	"strings"
)

// Parse parses a formula string into its AST.
//
// Grammar (by precedence):
//
//	Expr   := AddSub
//	AddSub := MulDiv ((+|-) MulDiv)*
//	MulDiv := Unary ((*|/|%) Unary)*
//	Unary  := '-' Primary | Primary
//	Primary:= Number | String | '(' Expr ')' | Ident ('(' ArgList? ')')? | BraceRef
//
// An identifier followed by '(' is a function call (name uppercased); a bare
// identifier is a column reference. TRUE/FALSE/NULL barewords are literals.
func Parse(input string) (*Node, error) {
	p := &parser{lex: newLexer(input)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	node, err := p.parseAddSub()
	if err != nil {
		return nil, err
	}
	if p.cur.kind != tokEOF {
		return nil, fmt.Errorf("unexpected token %q at %d", p.cur.text, p.cur.pos)
	}
	return node, nil
}

type parser struct {
	lex *lexer
	cur token
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.cur = tok
	return nil
}

func (p *parser) acceptOp(ops ...string) (string, bool) {
	if p.cur.kind != tokOp {
		return "", false
	}
	for _, op := range ops {
		if p.cur.text == op {
			return op, true
		}
	}
	return "", false
}

func (p *parser) parseAddSub() (*Node, error) {
	left, err := p.parseMulDiv()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("+", "-")
		if !ok {
			return left, nil
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseMulDiv()
		if err != nil {
			return nil, err
		}
		left = &Node{Kind: NodeBinary, Op: op, Left: left, Right: right}
	}
}

func (p *parser) parseMulDiv() (*Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("*", "/", "%")
		if !ok {
			return left, nil
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Node{Kind: NodeBinary, Op: op, Left: left, Right: right}
	}
}

func (p *parser) parseUnary() (*Node, error) {
	if _, ok := p.acceptOp("-"); ok {
		if err := p.advance(); err != nil {
			return nil, err
		}
		primary, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		// unary minus desugars to (-1 * x)
		return &Node{
			Kind:  NodeBinary,
			Op:    "*",
			Left:  &Node{Kind: NodeNumber, Text: "-1"},
			Right: primary,
		}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (*Node, error) {
	switch p.cur.kind {
	case tokNumber:
		node := &Node{Kind: NodeNumber, Text: p.cur.text}
		return node, p.advance()
	case tokString:
		node := &Node{Kind: NodeString, Text: p.cur.text}
		return node, p.advance()
	case tokBraceRef:
		node := &Node{Kind: NodeColumnRef, Ref: p.cur.text}
		return node, p.advance()
	case tokIdent:
		name := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if _, ok := p.acceptOp("("); ok {
			return p.parseCall(name)
		}
		switch strings.ToUpper(name) {
		case "TRUE":
			return &Node{Kind: NodeBool, Bool: true}, nil
		case "FALSE":
			return &Node{Kind: NodeBool, Bool: false}, nil
		case "NULL":
			return &Node{Kind: NodeNull}, nil
		}
		return &Node{Kind: NodeColumnRef, Ref: name}, nil
	case tokOp:
		if p.cur.text == "(" {
			if err := p.advance(); err != nil {
				return nil, err
			}
			inner, err := p.parseAddSub()
			if err != nil {
				return nil, err
			}
			if _, ok := p.acceptOp(")"); !ok {
				return nil, fmt.Errorf("expected ')' at %d", p.cur.pos)
			}
			return inner, p.advance()
		}
		return nil, fmt.Errorf("unexpected operator %q at %d", p.cur.text, p.cur.pos)
	default:
		return nil, fmt.Errorf("unexpected token at %d", p.cur.pos)
	}
}

func (p *parser) parseCall(name string) (*Node, error) {
	// cur is '('
	if err := p.advance(); err != nil {
		return nil, err
	}
	call := &Node{Kind: NodeCall, Func: strings.ToUpper(name)}
	if _, ok := p.acceptOp(")"); ok {
		return call, p.advance()
	}
	for {
		arg, err := p.parseAddSub()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)
		if _, ok := p.acceptOp(","); ok {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		if _, ok := p.acceptOp(")"); ok {
			return call, p.advance()
		}
		return nil, fmt.Errorf("expected ',' or ')' at %d", p.cur.pos)
	}
}
