package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// LoadString compiles src into a callable Function that evaluates a single
// expression against the machine it is called on, resolving free names
// against that machine's Globals. Locals of the calling frame are not
// consulted (namesOf never reports any local names). It backs the
// visitor's load/eval operations (spec §4.6), which need D to compile and
// run debugger-side source without pulling in a full language front end.
//
// The grammar is a small expression language, not the host language
// itself: literals (nil, true, false, integers, floats, strings),
// identifiers, dotted/bracket indexing, function calls, unary - and not,
// and the usual arithmetic/comparison/concatenation binary operators.
func LoadString(source, chunkName string) (*Function, error) {
	toks, err := tokenize(source)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("%s: unexpected trailing input at %q", chunkName, p.toks[p.pos].text)
	}
	fn := &Function{
		Name:   chunkName,
		Source: &Location{Source: chunkName},
	}
	fn.Body = func(m *Machine, upvalues []Value, args []Value) ([]Value, error) {
		v, err := evalExpr(m, expr)
		if err != nil {
			return nil, err
		}
		return []Value{v}, nil
	}
	return fn, nil
}

// --- tokenizer ---

type tokKind int

const (
	tokEOF tokKind = iota
	tokIdent
	tokNumber
	tokString
	tokPunct
)

type token struct {
	kind tokKind
	text string
}

func tokenize(src string) ([]token, error) {
	var toks []token
	i := 0
	n := len(src)
	for i < n {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '"' || c == '\'':
			quote := c
			j := i + 1
			var sb strings.Builder
			for j < n && src[j] != quote {
				if src[j] == '\\' && j+1 < n {
					j++
				}
				sb.WriteByte(src[j])
				j++
			}
			if j >= n {
				return nil, fmt.Errorf("unterminated string literal")
			}
			toks = append(toks, token{tokString, sb.String()})
			i = j + 1
		case isDigit(c):
			j := i
			for j < n && (isDigit(src[j]) || src[j] == '.' || src[j] == 'e' || src[j] == 'E') {
				j++
			}
			toks = append(toks, token{tokNumber, src[i:j]})
			i = j
		case isIdentStart(c):
			j := i
			for j < n && isIdentPart(src[j]) {
				j++
			}
			toks = append(toks, token{tokIdent, src[i:j]})
			i = j
		default:
			two := ""
			if i+1 < n {
				two = src[i : i+2]
			}
			switch two {
			case "==", "~=", "<=", ">=", "..":
				toks = append(toks, token{tokPunct, two})
				i += 2
				continue
			}
			toks = append(toks, token{tokPunct, string(c)})
			i++
		}
	}
	return toks, nil
}

func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool { return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isIdentPart(c byte) bool  { return isIdentStart(c) || isDigit(c) }

// --- AST ---

type exprKind int

const (
	exprNil exprKind = iota
	exprTrue
	exprFalse
	exprInt
	exprFloat
	exprString
	exprIdent
	exprIndex
	exprCall
	exprUnary
	exprBinary
	exprTable
)

type expr struct {
	kind  exprKind
	i     int64
	f     float64
	s     string
	op    string
	a, b  *expr
	args  []*expr
	items []tableItem
}

type tableItem struct {
	key *expr
	val *expr
}

// --- parser (precedence climbing) ---

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token {
	if p.pos >= len(p.toks) {
		return token{kind: tokEOF}
	}
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.peek()
	p.pos++
	return t
}

func (p *parser) expectPunct(s string) error {
	t := p.next()
	if t.kind != tokPunct || t.text != s {
		return fmt.Errorf("expected %q, got %q", s, t.text)
	}
	return nil
}

var binPrec = map[string]int{
	"or": 1, "and": 2,
	"<": 3, ">": 3, "<=": 3, ">=": 3, "==": 3, "~=": 3,
	"..": 4,
	"+":  5, "-": 5,
	"*": 6, "/": 6, "%": 6,
}

func (p *parser) parseExpr() (*expr, error) { return p.parseBin(0) }

func (p *parser) parseBin(minPrec int) (*expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		op := t.text
		prec, isBin := binPrec[op]
		if !isBin || (t.kind != tokPunct && t.kind != tokIdent) || prec < minPrec {
			return left, nil
		}
		p.next()
		right, err := p.parseBin(prec + 1)
		if err != nil {
			return nil, err
		}
		left = &expr{kind: exprBinary, op: op, a: left, b: right}
	}
}

func (p *parser) parseUnary() (*expr, error) {
	t := p.peek()
	if (t.kind == tokPunct && t.text == "-") || (t.kind == tokIdent && t.text == "not") {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &expr{kind: exprUnary, op: t.text, a: operand}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (*expr, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokPunct {
			return e, nil
		}
		switch t.text {
		case ".":
			p.next()
			name := p.next()
			if name.kind != tokIdent {
				return nil, fmt.Errorf("expected field name after '.', got %q", name.text)
			}
			e = &expr{kind: exprIndex, a: e, b: &expr{kind: exprString, s: name.text}}
		case "[":
			p.next()
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct("]"); err != nil {
				return nil, err
			}
			e = &expr{kind: exprIndex, a: e, b: idx}
		case "(":
			p.next()
			var args []*expr
			if p.peek().text != ")" {
				for {
					a, err := p.parseExpr()
					if err != nil {
						return nil, err
					}
					args = append(args, a)
					if p.peek().text == "," {
						p.next()
						continue
					}
					break
				}
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			e = &expr{kind: exprCall, a: e, args: args}
		default:
			return e, nil
		}
	}
}

func (p *parser) parsePrimary() (*expr, error) {
	t := p.next()
	switch {
	case t.kind == tokNumber:
		if strings.ContainsAny(t.text, ".eE") {
			f, err := strconv.ParseFloat(t.text, 64)
			if err != nil {
				return nil, err
			}
			return &expr{kind: exprFloat, f: f}, nil
		}
		n, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return nil, err
		}
		return &expr{kind: exprInt, i: n}, nil
	case t.kind == tokString:
		return &expr{kind: exprString, s: t.text}, nil
	case t.kind == tokIdent && t.text == "nil":
		return &expr{kind: exprNil}, nil
	case t.kind == tokIdent && t.text == "true":
		return &expr{kind: exprTrue}, nil
	case t.kind == tokIdent && t.text == "false":
		return &expr{kind: exprFalse}, nil
	case t.kind == tokIdent:
		return &expr{kind: exprIdent, s: t.text}, nil
	case t.kind == tokPunct && t.text == "(":
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return e, nil
	case t.kind == tokPunct && t.text == "{":
		return p.parseTable()
	}
	return nil, fmt.Errorf("unexpected token %q", t.text)
}

func (p *parser) parseTable() (*expr, error) {
	e := &expr{kind: exprTable}
	nextIndex := int64(1)
	for p.peek().text != "}" {
		if p.peek().text == "[" {
			p.next()
			k, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct("]"); err != nil {
				return nil, err
			}
			if err := p.expectPunct("="); err != nil {
				return nil, err
			}
			v, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			e.items = append(e.items, tableItem{key: k, val: v})
		} else if p.peek().kind == tokIdent && p.pos+1 < len(p.toks) && p.toks[p.pos+1].text == "=" {
			name := p.next()
			p.next()
			v, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			e.items = append(e.items, tableItem{key: &expr{kind: exprString, s: name.text}, val: v})
		} else {
			v, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			e.items = append(e.items, tableItem{key: &expr{kind: exprInt, i: nextIndex}, val: v})
			nextIndex++
		}
		if p.peek().text == "," || p.peek().text == ";" {
			p.next()
			continue
		}
		break
	}
	if err := p.expectPunct("}"); err != nil {
		return nil, err
	}
	return e, nil
}

// --- evaluator ---

func evalExpr(m *Machine, e *expr) (Value, error) {
	switch e.kind {
	case exprNil:
		return Nil, nil
	case exprTrue:
		return Bool(true), nil
	case exprFalse:
		return Bool(false), nil
	case exprInt:
		return Int(e.i), nil
	case exprFloat:
		return Float(e.f), nil
	case exprString:
		return String(e.s), nil
	case exprIdent:
		if f := m.FrameAt(0); f != nil {
			for i, name := range namesOf(f) {
				if name == e.s {
					v, _ := f.Local(i + 1)
					return v, nil
				}
			}
		}
		return m.Globals.Get(String(e.s)), nil
	case exprIndex:
		base, err := evalExpr(m, e.a)
		if err != nil {
			return Nil, err
		}
		key, err := evalExpr(m, e.b)
		if err != nil {
			return Nil, err
		}
		t := base.AsTable()
		if t == nil {
			return Nil, fmt.Errorf("attempt to index a %s value", base.Type())
		}
		return t.Get(key), nil
	case exprCall:
		callee, err := evalExpr(m, e.a)
		if err != nil {
			return Nil, err
		}
		fn := callee.AsFunction()
		if fn == nil {
			return Nil, fmt.Errorf("attempt to call a %s value", callee.Type())
		}
		args := make([]Value, len(e.args))
		for i, a := range e.args {
			v, err := evalExpr(m, a)
			if err != nil {
				return Nil, err
			}
			args[i] = v
		}
		res, err := m.Call(fn, args)
		if err != nil {
			return Nil, err
		}
		if len(res) == 0 {
			return Nil, nil
		}
		return res[0], nil
	case exprUnary:
		v, err := evalExpr(m, e.a)
		if err != nil {
			return Nil, err
		}
		if e.op == "not" {
			return Bool(!truthy(v)), nil
		}
		switch v.Type() {
		case TypeInteger:
			return Int(-v.AsInt()), nil
		case TypeFloat:
			return Float(-v.AsFloat()), nil
		}
		return Nil, fmt.Errorf("attempt to negate a %s value", v.Type())
	case exprBinary:
		return evalBinary(m, e)
	case exprTable:
		t := NewTable()
		for _, item := range e.items {
			k, err := evalExpr(m, item.key)
			if err != nil {
				return Nil, err
			}
			v, err := evalExpr(m, item.val)
			if err != nil {
				return Nil, err
			}
			t.Set(k, v)
		}
		return TableValue(t), nil
	}
	return Nil, fmt.Errorf("unhandled expression kind %d", e.kind)
}

func namesOf(f *Frame) []string {
	// Anonymous locals: this expression grammar has no let/local syntax of
	// its own, and no local names are reported for any frame, so name
	// lookup always falls straight through to globals.
	return nil
}

func truthy(v Value) bool {
	if v.IsNil() {
		return false
	}
	if v.Type() == TypeBoolean {
		return v.AsBool()
	}
	return true
}

func evalBinary(m *Machine, e *expr) (Value, error) {
	a, err := evalExpr(m, e.a)
	if err != nil {
		return Nil, err
	}
	if e.op == "and" {
		if !truthy(a) {
			return a, nil
		}
		return evalExpr(m, e.b)
	}
	if e.op == "or" {
		if truthy(a) {
			return a, nil
		}
		return evalExpr(m, e.b)
	}
	b, err := evalExpr(m, e.b)
	if err != nil {
		return Nil, err
	}
	switch e.op {
	case "==":
		return Bool(RawEqual(a, b)), nil
	case "~=":
		return Bool(!RawEqual(a, b)), nil
	case "..":
		return String(toDisplayString(a) + toDisplayString(b)), nil
	}
	af, aok := numeric(a)
	bf, bok := numeric(b)
	if !aok || !bok {
		return Nil, fmt.Errorf("attempt to perform arithmetic on a %s value", a.Type())
	}
	switch e.op {
	case "+":
		return arithResult(a, b, af+bf), nil
	case "-":
		return arithResult(a, b, af-bf), nil
	case "*":
		return arithResult(a, b, af*bf), nil
	case "/":
		return Float(af / bf), nil
	case "%":
		return arithResult(a, b, af-bf*math.Floor(af/bf)), nil
	case "<":
		return Bool(af < bf), nil
	case "<=":
		return Bool(af <= bf), nil
	case ">":
		return Bool(af > bf), nil
	case ">=":
		return Bool(af >= bf), nil
	}
	return Nil, fmt.Errorf("unknown operator %q", e.op)
}

func numeric(v Value) (float64, bool) {
	switch v.Type() {
	case TypeInteger:
		return float64(v.AsInt()), true
	case TypeFloat:
		return v.AsFloat(), true
	}
	return 0, false
}

func arithResult(a, b Value, f float64) Value {
	if a.Type() == TypeInteger && b.Type() == TypeInteger {
		return Int(int64(f))
	}
	return Float(f)
}

func toDisplayString(v Value) string {
	switch v.Type() {
	case TypeString:
		return v.AsString()
	case TypeInteger:
		return strconv.FormatInt(v.AsInt(), 10)
	case TypeFloat:
		return strconv.FormatFloat(v.AsFloat(), 'g', -1, 64)
	case TypeNil:
		return "nil"
	case TypeBoolean:
		if v.AsBool() {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%s: %s", v.Type(), v.PointerString())
	}
}
