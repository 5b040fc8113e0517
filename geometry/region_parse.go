package geometry

import (
	"fmt"
	"strings"
	"unicode"
)

// ParseRegionExpr parses a region expression such as
//
//	cell[membrane] + nucleus - (cell[cap] * cell[top])
//
// "obj[region]" selects a named region, a bare name selects the whole object.
// '*' binds tighter than '+' and '-', which associate to the left.
func ParseRegionExpr(s string) (*RegionExpr, error) {
	p := &exprParser{src: s}
	e, err := p.parseSum()
	if err != nil {
		return nil, fmt.Errorf("region expression %q: %w", s, err)
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return nil, fmt.Errorf("region expression %q: unexpected %q at offset %d", s, p.src[p.pos], p.pos)
	}
	return e, nil
}

type exprParser struct {
	src string
	pos int
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
}

func (p *exprParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *exprParser) parseSum() (*RegionExpr, error) {
	left, err := p.parseProduct()
	if err != nil {
		return nil, err
	}
	for {
		var op ExprOp
		switch p.peek() {
		case '+':
			op = ExprUnion
		case '-':
			op = ExprDifference
		default:
			return left, nil
		}
		p.pos++
		right, err := p.parseProduct()
		if err != nil {
			return nil, err
		}
		left = &RegionExpr{Op: op, Left: left, Right: right}
	}
}

func (p *exprParser) parseProduct() (*RegionExpr, error) {
	left, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	for p.peek() == '*' {
		p.pos++
		right, err := p.parseAtom()
		if err != nil {
			return nil, err
		}
		left = &RegionExpr{Op: ExprIntersect, Left: left, Right: right}
	}
	return left, nil
}

func (p *exprParser) parseAtom() (*RegionExpr, error) {
	if p.peek() == '(' {
		p.pos++
		e, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		if p.peek() != ')' {
			return nil, fmt.Errorf("missing ')' at offset %d", p.pos)
		}
		p.pos++
		return e, nil
	}

	obj := p.ident()
	if obj == "" {
		return nil, fmt.Errorf("expected a name at offset %d", p.pos)
	}
	if p.pos < len(p.src) && p.src[p.pos] == '[' {
		p.pos++
		reg := p.ident()
		if reg == "" || p.pos >= len(p.src) || p.src[p.pos] != ']' {
			return nil, fmt.Errorf("malformed region reference after %q", obj)
		}
		p.pos++
		return &RegionExpr{Op: ExprRegion, Name: obj + "," + reg}, nil
	}
	return &RegionExpr{Op: ExprObject, Name: obj}, nil
}

func (p *exprParser) ident() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) {
		r := rune(p.src[p.pos])
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '.' {
			break
		}
		p.pos++
	}
	return strings.TrimSpace(p.src[start:p.pos])
}
