// Package expr implements the restricted expression grammar for custom
// indicators. Expressions support arithmetic, comparison and a small set of
// aggregate functions over whitelisted feature names; nothing else. There is
// no attribute access, no assignment and no way to reach host code, and every
// evaluation runs under a CPU-time budget.
//
// Grammar (precedence low to high):
//
//	expr       = comparison
//	comparison = additive { ("<" | "<=" | ">" | ">=" | "==" | "!=") additive }
//	additive   = term { ("+" | "-") term }
//	term       = unary { ("*" | "/") unary }
//	unary      = [ "-" ] primary
//	primary    = NUMBER | IDENT | IDENT "(" args ")" | "(" expr ")"
//
// Comparisons yield 1 or 0 so they compose with arithmetic.
package expr

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
)

// DefaultBudget is the per-evaluation CPU-time budget.
const DefaultBudget = 50 * time.Millisecond

// maxLength bounds the source text; anything longer is rejected at compile.
const maxLength = 512

// functions is the callable whitelist.
var functions = map[string]func(args []float64) (float64, error){
	"min": func(args []float64) (float64, error) {
		if len(args) == 0 {
			return 0, fmt.Errorf("min requires at least one argument")
		}
		m := args[0]
		for _, a := range args[1:] {
			m = math.Min(m, a)
		}
		return m, nil
	},
	"max": func(args []float64) (float64, error) {
		if len(args) == 0 {
			return 0, fmt.Errorf("max requires at least one argument")
		}
		m := args[0]
		for _, a := range args[1:] {
			m = math.Max(m, a)
		}
		return m, nil
	},
	"abs": func(args []float64) (float64, error) {
		if len(args) != 1 {
			return 0, fmt.Errorf("abs requires exactly one argument")
		}
		return math.Abs(args[0]), nil
	},
	"round": func(args []float64) (float64, error) {
		if len(args) != 1 {
			return 0, fmt.Errorf("round requires exactly one argument")
		}
		return math.Round(args[0]), nil
	},
}

// Program is a compiled expression, safe for concurrent evaluation.
// Programs hold no mutable state: nothing is shared between evaluations.
type Program struct {
	source string
	root   node
	idents []string
}

// Compile parses the expression against the identifier whitelist.
// Unknown identifiers, unknown functions and syntax errors are configuration
// errors: the indicator is broken, not the evaluation.
func Compile(source string, allowedIdents []string) (*Program, error) {
	if strings.TrimSpace(source) == "" {
		return nil, shared.WrapError("expr", "Compile", shared.ErrConfiguration,
			"empty expression", nil)
	}
	if len(source) > maxLength {
		return nil, shared.WrapError("expr", "Compile", shared.ErrConfiguration,
			fmt.Sprintf("expression longer than %d characters", maxLength), nil)
	}

	allowed := make(map[string]bool, len(allowedIdents))
	for _, id := range allowedIdents {
		allowed[id] = true
	}

	p := &parser{tokens: tokenize(source), allowed: allowed}
	root, err := p.parseExpr()
	if err != nil {
		return nil, shared.WrapError("expr", "Compile", shared.ErrConfiguration, err.Error(), nil)
	}
	if p.pos < len(p.tokens) {
		return nil, shared.WrapError("expr", "Compile", shared.ErrConfiguration,
			fmt.Sprintf("unexpected token %q", p.tokens[p.pos].text), nil)
	}
	return &Program{source: source, root: root, idents: p.seen}, nil
}

// Source returns the original expression text.
func (p *Program) Source() string { return p.source }

// Identifiers returns the feature names the expression reads.
func (p *Program) Identifiers() []string {
	out := make([]string, len(p.idents))
	copy(out, p.idents)
	return out
}

// Eval evaluates the program against the given feature values under the
// time budget. Exceeding the budget is a sandbox violation.
func (p *Program) Eval(values map[string]float64, budget time.Duration) (float64, error) {
	if budget <= 0 {
		budget = DefaultBudget
	}
	env := &env{values: values, deadline: time.Now().Add(budget)}
	result, err := p.root.eval(env)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0, shared.WrapError("expr", "Eval", shared.ErrSandboxViolation,
			"expression produced a non-finite value", nil)
	}
	return result, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// AST
// ─────────────────────────────────────────────────────────────────────────────

type env struct {
	values   map[string]float64
	deadline time.Time
	steps    int
}

// check enforces the evaluation budget. The step counter keeps the deadline
// check off the hot path.
func (e *env) check() error {
	e.steps++
	if e.steps%64 == 0 && time.Now().After(e.deadline) {
		return shared.WrapError("expr", "Eval", shared.ErrSandboxViolation,
			"evaluation time budget exceeded", nil)
	}
	return nil
}

type node interface {
	eval(e *env) (float64, error)
}

type literal struct{ value float64 }

func (n literal) eval(e *env) (float64, error) { return n.value, nil }

type ident struct{ name string }

func (n ident) eval(e *env) (float64, error) {
	if err := e.check(); err != nil {
		return 0, err
	}
	v, ok := e.values[n.name]
	if !ok {
		return 0, shared.WrapError("expr", "Eval", shared.ErrSandboxViolation,
			fmt.Sprintf("identifier %q has no value", n.name), nil)
	}
	return v, nil
}

type binary struct {
	op          string
	left, right node
}

func (n binary) eval(e *env) (float64, error) {
	if err := e.check(); err != nil {
		return 0, err
	}
	l, err := n.left.eval(e)
	if err != nil {
		return 0, err
	}
	r, err := n.right.eval(e)
	if err != nil {
		return 0, err
	}
	switch n.op {
	case "+":
		return l + r, nil
	case "-":
		return l - r, nil
	case "*":
		return l * r, nil
	case "/":
		if r == 0 {
			return 0, shared.WrapError("expr", "Eval", shared.ErrSandboxViolation,
				"division by zero", nil)
		}
		return l / r, nil
	case "<":
		return boolTo(l < r), nil
	case "<=":
		return boolTo(l <= r), nil
	case ">":
		return boolTo(l > r), nil
	case ">=":
		return boolTo(l >= r), nil
	case "==":
		return boolTo(math.Abs(l-r) < 1e-9), nil
	case "!=":
		return boolTo(math.Abs(l-r) >= 1e-9), nil
	}
	return 0, fmt.Errorf("unknown operator %q", n.op)
}

type negate struct{ operand node }

func (n negate) eval(e *env) (float64, error) {
	v, err := n.operand.eval(e)
	if err != nil {
		return 0, err
	}
	return -v, nil
}

type call struct {
	name string
	args []node
}

func (n call) eval(e *env) (float64, error) {
	if err := e.check(); err != nil {
		return 0, err
	}
	fn := functions[n.name]
	args := make([]float64, len(n.args))
	for i, a := range n.args {
		v, err := a.eval(e)
		if err != nil {
			return 0, err
		}
		args[i] = v
	}
	result, err := fn(args)
	if err != nil {
		return 0, shared.WrapError("expr", "Eval", shared.ErrSandboxViolation, err.Error(), nil)
	}
	return result, nil
}

func boolTo(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// ─────────────────────────────────────────────────────────────────────────────
// Lexer
// ─────────────────────────────────────────────────────────────────────────────

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
	tokInvalid
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(source string) []token {
	var tokens []token
	runes := []rune(source)
	i := 0
	for i < len(runes) {
		c := runes[i]
		switch {
		case unicode.IsSpace(c):
			i++
		case unicode.IsDigit(c) || c == '.':
			j := i
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.') {
				j++
			}
			tokens = append(tokens, token{tokNumber, string(runes[i:j])})
			i = j
		case unicode.IsLetter(c) || c == '_':
			j := i
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_') {
				j++
			}
			tokens = append(tokens, token{tokIdent, string(runes[i:j])})
			i = j
		case c == '(':
			tokens = append(tokens, token{tokLParen, "("})
			i++
		case c == ')':
			tokens = append(tokens, token{tokRParen, ")"})
			i++
		case c == ',':
			tokens = append(tokens, token{tokComma, ","})
			i++
		case strings.ContainsRune("+-*/", c):
			tokens = append(tokens, token{tokOp, string(c)})
			i++
		case c == '<' || c == '>' || c == '=' || c == '!':
			if i+1 < len(runes) && runes[i+1] == '=' {
				tokens = append(tokens, token{tokOp, string(runes[i : i+2])})
				i += 2
			} else {
				tokens = append(tokens, token{tokOp, string(c)})
				i++
			}
		default:
			tokens = append(tokens, token{tokInvalid, string(c)})
			i++
		}
	}
	return tokens
}

// ─────────────────────────────────────────────────────────────────────────────
// Parser
// ─────────────────────────────────────────────────────────────────────────────

type parser struct {
	tokens  []token
	pos     int
	allowed map[string]bool
	seen    []string
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.tokens) {
		return token{}, false
	}
	return p.tokens[p.pos], true
}

func (p *parser) accept(kind tokenKind, texts ...string) (token, bool) {
	t, ok := p.peek()
	if !ok || t.kind != kind {
		return token{}, false
	}
	if len(texts) > 0 {
		match := false
		for _, want := range texts {
			if t.text == want {
				match = true
				break
			}
		}
		if !match {
			return token{}, false
		}
	}
	p.pos++
	return t, true
}

func (p *parser) parseExpr() (node, error) {
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.accept(tokOp, "<", "<=", ">", ">=", "==", "!=")
		if !ok {
			return left, nil
		}
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = binary{op: op.text, left: left, right: right}
	}
}

func (p *parser) parseAdditive() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.accept(tokOp, "+", "-")
		if !ok {
			return left, nil
		}
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = binary{op: op.text, left: left, right: right}
	}
}

func (p *parser) parseTerm() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.accept(tokOp, "*", "/")
		if !ok {
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binary{op: op.text, left: left, right: right}
	}
}

func (p *parser) parseUnary() (node, error) {
	if _, ok := p.accept(tokOp, "-"); ok {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return negate{operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	t, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("unexpected end of expression")
	}

	switch t.kind {
	case tokNumber:
		p.pos++
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", t.text)
		}
		return literal{value: v}, nil

	case tokIdent:
		p.pos++
		if _, isCall := p.accept(tokLParen); isCall {
			if _, known := functions[t.text]; !known {
				return nil, fmt.Errorf("unknown function %q", t.text)
			}
			var args []node
			if _, closed := p.accept(tokRParen); !closed {
				for {
					arg, err := p.parseExpr()
					if err != nil {
						return nil, err
					}
					args = append(args, arg)
					if _, more := p.accept(tokComma); more {
						continue
					}
					if _, closed := p.accept(tokRParen); closed {
						break
					}
					return nil, fmt.Errorf("expected ',' or ')' in call to %q", t.text)
				}
			}
			return call{name: t.text, args: args}, nil
		}
		if !p.allowed[t.text] {
			return nil, fmt.Errorf("identifier %q is not a known feature", t.text)
		}
		p.seen = append(p.seen, t.text)
		return ident{name: t.text}, nil

	case tokLParen:
		p.pos++
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, closed := p.accept(tokRParen); !closed {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		return inner, nil

	default:
		return nil, fmt.Errorf("unexpected token %q", t.text)
	}
}
