package condition

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/gyaneshwarpardhi/hawatch/internal/stats"
)

// -----------------------------------------------------------------------
// Formula AST
// -----------------------------------------------------------------------

// num carries an arithmetic result and whether it is still a whole number
// derived only from integers.
type num struct {
	v        float64
	integral bool
}

type formulaNode interface {
	eval(rec stats.Record, ctx Context) (num, bool)
}

type numberLit struct{ n num }

func (l *numberLit) eval(stats.Record, Context) (num, bool) { return l.n, true }

// fieldRef reads a numeric header from the record. Text and empty fields
// have no numeric value.
type fieldRef struct{ header string }

func (f *fieldRef) eval(rec stats.Record, _ Context) (num, bool) {
	s := rec.Get(f.header)
	v, ok := s.Float64()
	if !ok {
		return num{}, false
	}
	return num{v: v, integral: s.Kind() == stats.KindInt}, true
}

type stateRef struct{ name string }

func (s *stateRef) eval(_ stats.Record, ctx Context) (num, bool) {
	if ctx == nil {
		return num{}, false
	}
	switch s.name {
	case ProviderLastTotalSessions:
		return num{v: float64(ctx.LastTotalSessions()), integral: true}, true
	}
	return num{}, false
}

type negExpr struct{ x formulaNode }

func (n *negExpr) eval(rec stats.Record, ctx Context) (num, bool) {
	v, ok := n.x.eval(rec, ctx)
	if !ok {
		return num{}, false
	}
	return num{v: -v.v, integral: v.integral}, true
}

type arithExpr struct {
	op          byte // '+', '-', '*', '/'
	left, right formulaNode
}

func (a *arithExpr) eval(rec stats.Record, ctx Context) (num, bool) {
	l, ok := a.left.eval(rec, ctx)
	if !ok {
		return num{}, false
	}
	r, ok := a.right.eval(rec, ctx)
	if !ok {
		return num{}, false
	}
	integral := l.integral && r.integral
	switch a.op {
	case '+':
		return num{v: l.v + r.v, integral: integral}, true
	case '-':
		return num{v: l.v - r.v, integral: integral}, true
	case '*':
		return num{v: l.v * r.v, integral: integral}, true
	case '/':
		if r.v == 0 {
			return num{}, false
		}
		return num{v: l.v / r.v}, true
	}
	return num{}, false
}

// -----------------------------------------------------------------------
// Tokenizer
// -----------------------------------------------------------------------

type tokenKind int

const (
	tokIdent  tokenKind = iota // header name or $state
	tokNumber                  // 42 | 0.70
	tokOp                      // + - * /
	tokLParen
	tokRParen
	tokEOF
)

type token struct {
	kind tokenKind
	val  string
	pos  int
}

func isIdentRune(ch byte) bool {
	return ch == '_' || unicode.IsLetter(rune(ch)) || unicode.IsDigit(rune(ch))
}

func tokenize(expr string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(expr) {
		ch := expr[i]
		if unicode.IsSpace(rune(ch)) {
			i++
			continue
		}
		switch {
		case ch == '(':
			tokens = append(tokens, token{tokLParen, "(", i})
			i++
		case ch == ')':
			tokens = append(tokens, token{tokRParen, ")", i})
			i++
		case ch == '+' || ch == '-' || ch == '*' || ch == '/':
			tokens = append(tokens, token{tokOp, string(ch), i})
			i++
		case unicode.IsDigit(rune(ch)) || ch == '.':
			j := i
			for j < len(expr) && (unicode.IsDigit(rune(expr[j])) || expr[j] == '.') {
				j++
			}
			tokens = append(tokens, token{tokNumber, expr[i:j], i})
			i = j
		case ch == '$' || ch == '_' || unicode.IsLetter(rune(ch)):
			j := i + 1
			for j < len(expr) && isIdentRune(expr[j]) {
				j++
			}
			tokens = append(tokens, token{tokIdent, expr[i:j], i})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", ch, i)
		}
	}
	tokens = append(tokens, token{tokEOF, "", len(expr)})
	return tokens, nil
}

// -----------------------------------------------------------------------
// Recursive-descent parser
// -----------------------------------------------------------------------

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) consume() token {
	t := p.tokens[p.pos]
	p.pos++
	return t
}

// ParseFormula compiles an arithmetic expression over record headers into
// a Provider, e.g. "0.70 * slim" or "$last_total_sessions - 100".
func ParseFormula(expr string) (Provider, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	root, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("unexpected token %q at position %d", t.val, t.pos)
	}
	return func(rec stats.Record, ctx Context) (stats.Scalar, bool) {
		n, ok := root.eval(rec, ctx)
		if !ok {
			return stats.Empty, false
		}
		if n.integral {
			return stats.Int(int64(n.v)), true
		}
		return stats.Float(n.v), true
	}, nil
}

// sum = product ( ("+" | "-") product )*
func (p *parser) parseSum() (formulaNode, error) {
	left, err := p.parseProduct()
	if err != nil {
		return nil, err
	}
	for t := p.peek(); t.kind == tokOp && (t.val == "+" || t.val == "-"); t = p.peek() {
		p.consume()
		right, err := p.parseProduct()
		if err != nil {
			return nil, err
		}
		left = &arithExpr{op: t.val[0], left: left, right: right}
	}
	return left, nil
}

// product = unary ( ("*" | "/") unary )*
func (p *parser) parseProduct() (formulaNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for t := p.peek(); t.kind == tokOp && (t.val == "*" || t.val == "/"); t = p.peek() {
		p.consume()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &arithExpr{op: t.val[0], left: left, right: right}
	}
	return left, nil
}

// unary = [ "-" ] primary
func (p *parser) parseUnary() (formulaNode, error) {
	if t := p.peek(); t.kind == tokOp && t.val == "-" {
		p.consume()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &negExpr{x: x}, nil
	}
	return p.parsePrimary()
}

// primary = number | ident | "(" sum ")"
func (p *parser) parsePrimary() (formulaNode, error) {
	t := p.consume()
	switch t.kind {
	case tokNumber:
		if !strings.Contains(t.val, ".") {
			n, err := strconv.ParseInt(t.val, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid integer %q", t.val)
			}
			return &numberLit{n: num{v: float64(n), integral: true}}, nil
		}
		f, err := strconv.ParseFloat(t.val, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", t.val)
		}
		return &numberLit{n: num{v: f}}, nil
	case tokIdent:
		if strings.HasPrefix(t.val, "$") {
			name := t.val[1:]
			if name != ProviderLastTotalSessions {
				return nil, fmt.Errorf("unknown state reference %q at position %d", t.val, t.pos)
			}
			return &stateRef{name: name}, nil
		}
		return &fieldRef{header: t.val}, nil
	case tokLParen:
		inner, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, fmt.Errorf("expected \")\" at position %d", p.peek().pos)
		}
		p.consume()
		return inner, nil
	case tokEOF:
		return nil, fmt.Errorf("unexpected end of formula")
	}
	return nil, fmt.Errorf("expected operand, got %q at position %d", t.val, t.pos)
}
