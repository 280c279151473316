package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// CalculatorName is the tool name the model calls.
const CalculatorName = "calculator"

var (
	errDivisionByZero = errors.New("Division by zero")
	errDomain         = errors.New("math domain error")
)

// Calculator evaluates arithmetic expressions. Only numbers, the arithmetic
// operators, parentheses, an allow-list of math functions and the constants
// pi and e are accepted; anything else is rejected while parsing, before any
// value is computed.
type Calculator struct{}

// NewCalculator returns the calculator tool.
func NewCalculator() *Calculator { return &Calculator{} }

func (*Calculator) Name() string { return CalculatorName }

func (*Calculator) Description() string {
	return "Evaluate a mathematical expression. Supports + - * / // % **, parentheses, " +
		"abs, round, min, max, sum, sqrt, sin, cos, tan, log, log10, exp and the constants pi and e."
}

func (*Calculator) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": stringParam("Expression to evaluate, e.g. '25 * 4 + 10' or 'sqrt(16) + 2**3'"),
		},
		"required": []string{"expression"},
	}
}

func (c *Calculator) Execute(_ context.Context, input json.RawMessage) Result {
	var params struct {
		Expression string `json:"expression"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return Errorf("Invalid parameters: %v", err)
	}
	return c.Evaluate(params.Expression)
}

// Evaluate computes expression and wraps the outcome in an envelope.
func (*Calculator) Evaluate(expression string) Result {
	v, err := Eval(expression)
	switch {
	case errors.Is(err, errDivisionByZero):
		return Result{Status: StatusError, Message: errDivisionByZero.Error()}
	case err != nil:
		return Errorf("Evaluation failed: %v", err)
	}
	return Result{Status: StatusSuccess, Expression: expression, Value: &v}
}

// Eval parses and evaluates expression.
func Eval(expression string) (float64, error) {
	toks, err := lex(expression)
	if err != nil {
		return 0, err
	}
	p := &parser{toks: toks}
	root, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return 0, fmt.Errorf("unexpected %q at position %d", t.text, t.pos)
	}

	v, err := root.eval()
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("result is not a finite number")
	}
	return v, nil
}

type tokKind int

const (
	tokEOF tokKind = iota
	tokNum
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokKind
	text string
	num  float64
	pos  int
}

func lex(s string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(s) {
		c := rune(s[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c >= '0' && c <= '9' || c == '.':
			start := i
			for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.' || s[i] == '_') {
				i++
			}
			if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
				j := i + 1
				if j < len(s) && (s[j] == '+' || s[j] == '-') {
					j++
				}
				if j < len(s) && s[j] >= '0' && s[j] <= '9' {
					i = j
					for i < len(s) && s[i] >= '0' && s[i] <= '9' {
						i++
					}
				}
			}
			text := s[start:i]
			n, err := strconv.ParseFloat(strings.ReplaceAll(text, "_", ""), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q", text)
			}
			toks = append(toks, token{kind: tokNum, text: text, num: n, pos: start})
		case c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z':
			start := i
			for i < len(s) && (s[i] == '_' || s[i] >= 'a' && s[i] <= 'z' || s[i] >= 'A' && s[i] <= 'Z' || s[i] >= '0' && s[i] <= '9') {
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: s[start:i], pos: start})
		case c == '*' || c == '/':
			if i+1 < len(s) && s[i+1] == s[i] {
				toks = append(toks, token{kind: tokOp, text: s[i : i+2], pos: i})
				i += 2
				continue
			}
			toks = append(toks, token{kind: tokOp, text: string(c), pos: i})
			i++
		case c == '+' || c == '-' || c == '%':
			toks = append(toks, token{kind: tokOp, text: string(c), pos: i})
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case c == ',':
			toks = append(toks, token{kind: tokComma, text: ",", pos: i})
			i++
		default:
			return nil, fmt.Errorf("unsupported character %q at position %d", s[i], i)
		}
	}
	if len(toks) == 0 {
		return nil, errors.New("empty expression")
	}
	return append(toks, token{kind: tokEOF, pos: len(s)}), nil
}

// node is an evaluable expression tree.
type node interface {
	eval() (float64, error)
}

type numNode float64

func (n numNode) eval() (float64, error) { return float64(n), nil }

type unaryNode struct {
	op string
	x  node
}

func (n unaryNode) eval() (float64, error) {
	v, err := n.x.eval()
	if err != nil {
		return 0, err
	}
	if n.op == "-" {
		return -v, nil
	}
	return v, nil
}

type binaryNode struct {
	op   string
	l, r node
}

func (n binaryNode) eval() (float64, error) {
	a, err := n.l.eval()
	if err != nil {
		return 0, err
	}
	b, err := n.r.eval()
	if err != nil {
		return 0, err
	}
	switch n.op {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/":
		if b == 0 {
			return 0, errDivisionByZero
		}
		return a / b, nil
	case "//":
		if b == 0 {
			return 0, errDivisionByZero
		}
		return math.Floor(a / b), nil
	case "%":
		if b == 0 {
			return 0, errDivisionByZero
		}
		// Result takes the sign of the divisor.
		return a - b*math.Floor(a/b), nil
	case "**":
		if a == 0 && b < 0 {
			return 0, errDivisionByZero
		}
		if a < 0 && b != math.Trunc(b) {
			return 0, errDomain
		}
		return math.Pow(a, b), nil
	}
	return 0, fmt.Errorf("unsupported operator %q", n.op)
}

type callNode struct {
	fn   function
	name string
	args []node
}

func (n callNode) eval() (float64, error) {
	vals := make([]float64, len(n.args))
	for i, a := range n.args {
		v, err := a.eval()
		if err != nil {
			return 0, err
		}
		vals[i] = v
	}
	if len(vals) < n.fn.minArgs || (n.fn.maxArgs >= 0 && len(vals) > n.fn.maxArgs) {
		return 0, fmt.Errorf("%s() takes %s", n.name, n.fn.arity())
	}
	return n.fn.call(vals)
}

type function struct {
	minArgs, maxArgs int // maxArgs < 0 means variadic
	call             func([]float64) (float64, error)
}

func (f function) arity() string {
	switch {
	case f.maxArgs < 0:
		return fmt.Sprintf("at least %d argument(s)", f.minArgs)
	case f.minArgs == f.maxArgs:
		return fmt.Sprintf("exactly %d argument(s)", f.minArgs)
	default:
		return fmt.Sprintf("%d to %d arguments", f.minArgs, f.maxArgs)
	}
}

func unary(fn func(float64) float64) function {
	return function{minArgs: 1, maxArgs: 1, call: func(v []float64) (float64, error) {
		return fn(v[0]), nil
	}}
}

var functions = map[string]function{
	"abs": unary(math.Abs),
	"sin": unary(math.Sin),
	"cos": unary(math.Cos),
	"tan": unary(math.Tan),
	"exp": unary(math.Exp),
	"sqrt": {minArgs: 1, maxArgs: 1, call: func(v []float64) (float64, error) {
		if v[0] < 0 {
			return 0, errDomain
		}
		return math.Sqrt(v[0]), nil
	}},
	"log10": {minArgs: 1, maxArgs: 1, call: func(v []float64) (float64, error) {
		if v[0] <= 0 {
			return 0, errDomain
		}
		return math.Log10(v[0]), nil
	}},
	"log": {minArgs: 1, maxArgs: 2, call: func(v []float64) (float64, error) {
		if v[0] <= 0 {
			return 0, errDomain
		}
		if len(v) == 1 {
			return math.Log(v[0]), nil
		}
		if v[1] <= 0 || v[1] == 1 {
			return 0, errDomain
		}
		return math.Log(v[0]) / math.Log(v[1]), nil
	}},
	"round": {minArgs: 1, maxArgs: 2, call: func(v []float64) (float64, error) {
		if len(v) == 1 {
			return math.RoundToEven(v[0]), nil
		}
		scale := math.Pow(10, math.Trunc(v[1]))
		return math.RoundToEven(v[0]*scale) / scale, nil
	}},
	"min": {minArgs: 1, maxArgs: -1, call: func(v []float64) (float64, error) {
		m := v[0]
		for _, x := range v[1:] {
			m = math.Min(m, x)
		}
		return m, nil
	}},
	"max": {minArgs: 1, maxArgs: -1, call: func(v []float64) (float64, error) {
		m := v[0]
		for _, x := range v[1:] {
			m = math.Max(m, x)
		}
		return m, nil
	}},
	"sum": {minArgs: 0, maxArgs: -1, call: func(v []float64) (float64, error) {
		var s float64
		for _, x := range v {
			s += x
		}
		return s, nil
	}},
}

var constants = map[string]float64{
	"pi": math.Pi,
	"e":  math.E,
}

// parser is a recursive-descent parser over the grammar
//
//	expr    = term { ("+" | "-") term }
//	term    = factor { ("*" | "/" | "//" | "%") factor }
//	factor  = ("+" | "-") factor | power
//	power   = primary [ "**" factor ]
//	primary = number | const | name "(" [ expr { "," expr } ] ")" | "(" expr ")"
type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isOp(ops ...string) bool {
	t := p.peek()
	if t.kind != tokOp {
		return false
	}
	for _, op := range ops {
		if t.text == op {
			return true
		}
	}
	return false
}

func (p *parser) parseExpr() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.isOp("+", "-") {
		op := p.next().text
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, l: left, r: right}
	}
	return left, nil
}

func (p *parser) parseTerm() (node, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for p.isOp("*", "/", "//", "%") {
		op := p.next().text
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, l: left, r: right}
	}
	return left, nil
}

func (p *parser) parseFactor() (node, error) {
	if p.isOp("+", "-") {
		op := p.next().text
		x, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: op, x: x}, nil
	}
	return p.parsePower()
}

func (p *parser) parsePower() (node, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if p.isOp("**") {
		p.next()
		exp, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return binaryNode{op: "**", l: base, r: exp}, nil
	}
	return base, nil
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNum:
		return numNode(t.num), nil
	case tokLParen:
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.next().kind != tokRParen {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		return inner, nil
	case tokIdent:
		if p.peek().kind == tokLParen {
			return p.parseCall(t)
		}
		if v, ok := constants[t.text]; ok {
			return numNode(v), nil
		}
		return nil, fmt.Errorf("name %q is not allowed", t.text)
	case tokEOF:
		return nil, errors.New("unexpected end of expression")
	}
	return nil, fmt.Errorf("unexpected %q at position %d", t.text, t.pos)
}

func (p *parser) parseCall(name token) (node, error) {
	fn, ok := functions[name.text]
	if !ok {
		return nil, fmt.Errorf("function %q is not allowed", name.text)
	}
	p.next() // (

	call := callNode{fn: fn, name: name.text}
	if p.peek().kind == tokRParen {
		p.next()
		return call, nil
	}
	for {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		call.args = append(call.args, arg)

		switch p.next().kind {
		case tokComma:
			continue
		case tokRParen:
			return call, nil
		default:
			return nil, fmt.Errorf("malformed arguments to %s()", name.text)
		}
	}
}
