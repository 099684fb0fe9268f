package tools

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Calculation 是表达式求值结果。
type Calculation struct {
	Success    bool    `json:"success"`
	Expression string  `json:"expression"`
	Result     string  `json:"result,omitempty"`
	Value      float64 `json:"value,omitempty"`
	Type       string  `json:"type,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// Text 返回给模型阅读的文本形式。
func (c Calculation) Text() string {
	if !c.Success {
		return fmt.Sprintf("Calculation error for '%s': %s", c.Expression, c.Error)
	}
	return fmt.Sprintf("CALCULATION RESULT:\n\nExpression: %s\nResult: %s\nType: %s", c.Expression, c.Result, c.Type)
}

// Calculate 安全地计算算术表达式，支持 + - * / // % **、括号、常用数学函数与常量。
func Calculate(expression string) Calculation {
	out := Calculation{Expression: expression}
	if strings.TrimSpace(expression) == "" {
		out.Error = "expression is empty"
		return out
	}
	if len(expression) > maxExpressionLength {
		out.Error = "expression is too long"
		return out
	}
	tokens, err := lex(expression)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	p := &parser{tokens: tokens}
	n, err := p.parseExpr()
	if err == nil && p.peek().kind != tokEOF {
		err = fmt.Errorf("unexpected token %q", p.peek().text)
	}
	if err != nil {
		out.Error = err.Error()
		return out
	}
	if math.IsNaN(n.v) {
		out.Error = "math domain error"
		return out
	}
	out.Success = true
	out.Value = n.v
	out.Result, out.Type = n.format()
	return out
}

type number struct {
	v     float64
	isInt bool
}

func (n number) format() (string, string) {
	if n.isInt && !math.IsInf(n.v, 0) {
		return strconv.FormatFloat(n.v, 'f', -1, 64), "int"
	}
	s := strconv.FormatFloat(n.v, 'g', -1, 64)
	switch {
	case math.IsInf(n.v, 1):
		s = "inf"
	case math.IsInf(n.v, -1):
		s = "-inf"
	case !strings.ContainsAny(s, ".e"):
		s += ".0"
	}
	return s, "float"
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
}

func lex(input string) ([]token, error) {
	var tokens []token
	runes := []rune(input)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsDigit(r) || (r == '.' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			start := i
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.' || runes[i] == '_') {
				i++
			}
			if i < len(runes) && (runes[i] == 'e' || runes[i] == 'E') {
				j := i + 1
				if j < len(runes) && (runes[j] == '+' || runes[j] == '-') {
					j++
				}
				if j < len(runes) && unicode.IsDigit(runes[j]) {
					i = j
					for i < len(runes) && unicode.IsDigit(runes[i]) {
						i++
					}
				}
			}
			tokens = append(tokens, token{kind: tokNumber, text: string(runes[start:i])})
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			tokens = append(tokens, token{kind: tokIdent, text: string(runes[start:i])})
		case r == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "("})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")"})
			i++
		case r == ',':
			tokens = append(tokens, token{kind: tokComma, text: ","})
			i++
		case strings.ContainsRune("+-*/%^", r):
			op := string(r)
			if (r == '*' || r == '/') && i+1 < len(runes) && runes[i+1] == r {
				op += string(r)
				i++
			}
			if op == "^" {
				op = "**"
			}
			tokens = append(tokens, token{kind: tokOp, text: op})
			i++
		default:
			return nil, fmt.Errorf("invalid character %q", r)
		}
	}
	return append(tokens, token{kind: tokEOF}), nil
}

type parser struct {
	tokens []token
	pos    int
	depth  int
}

const (
	maxDepth            = 200
	maxExpressionLength = 1000
)

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) parseExpr() (number, error) {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > maxDepth {
		return number{}, errors.New("expression is nested too deeply")
	}
	left, err := p.parseTerm()
	if err != nil {
		return number{}, err
	}
	for t := p.peek(); t.kind == tokOp && (t.text == "+" || t.text == "-"); t = p.peek() {
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return number{}, err
		}
		if t.text == "+" {
			left = number{left.v + right.v, left.isInt && right.isInt}
		} else {
			left = number{left.v - right.v, left.isInt && right.isInt}
		}
	}
	return left, nil
}

func (p *parser) parseTerm() (number, error) {
	left, err := p.parseUnary()
	if err != nil {
		return number{}, err
	}
	for t := p.peek(); t.kind == tokOp && (t.text == "*" || t.text == "/" || t.text == "//" || t.text == "%"); t = p.peek() {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return number{}, err
		}
		bothInt := left.isInt && right.isInt
		switch t.text {
		case "*":
			left = number{left.v * right.v, bothInt}
		case "/":
			if right.v == 0 {
				return number{}, errors.New("division by zero")
			}
			left = number{left.v / right.v, false}
		case "//":
			if right.v == 0 {
				return number{}, errors.New("integer division or modulo by zero")
			}
			left = number{math.Floor(left.v / right.v), bothInt}
		case "%":
			if right.v == 0 {
				return number{}, errors.New("integer division or modulo by zero")
			}
			m := math.Mod(left.v, right.v)
			if m != 0 && (m < 0) != (right.v < 0) {
				m += right.v
			}
			left = number{m, bothInt}
		}
	}
	return left, nil
}

func (p *parser) parseUnary() (number, error) {
	if t := p.peek(); t.kind == tokOp && (t.text == "-" || t.text == "+") {
		p.next()
		n, err := p.parseUnary()
		if err != nil {
			return number{}, err
		}
		if t.text == "-" {
			n.v = -n.v
		}
		return n, nil
	}
	return p.parsePower()
}

func (p *parser) parsePower() (number, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return number{}, err
	}
	if t := p.peek(); t.kind == tokOp && t.text == "**" {
		p.next()
		exp, err := p.parseUnary()
		if err != nil {
			return number{}, err
		}
		if base.v == 0 && exp.v < 0 {
			return number{}, errors.New("0.0 cannot be raised to a negative power")
		}
		return number{math.Pow(base.v, exp.v), base.isInt && exp.isInt && exp.v >= 0}, nil
	}
	return base, nil
}

func (p *parser) parsePrimary() (number, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		text := strings.ReplaceAll(t.text, "_", "")
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return number{}, fmt.Errorf("invalid number %q", t.text)
		}
		return number{v, !strings.ContainsAny(text, ".eE")}, nil
	case tokLParen:
		n, err := p.parseExpr()
		if err != nil {
			return number{}, err
		}
		if p.next().kind != tokRParen {
			return number{}, errors.New("missing closing parenthesis")
		}
		return n, nil
	case tokIdent:
		if p.peek().kind == tokLParen {
			p.next()
			args, err := p.parseArgs()
			if err != nil {
				return number{}, err
			}
			return callFunction(t.text, args)
		}
		if v, ok := constants[t.text]; ok {
			return number{v, false}, nil
		}
		return number{}, fmt.Errorf("name '%s' is not defined", t.text)
	case tokEOF:
		return number{}, errors.New("unexpected end of expression")
	default:
		return number{}, fmt.Errorf("unexpected token %q", t.text)
	}
}

func (p *parser) parseArgs() ([]number, error) {
	var args []number
	if p.peek().kind == tokRParen {
		p.next()
		return args, nil
	}
	for {
		n, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, n)
		switch p.next().kind {
		case tokComma:
			continue
		case tokRParen:
			return args, nil
		default:
			return nil, errors.New("expected ',' or ')' in argument list")
		}
	}
}

var constants = map[string]float64{
	"pi":  math.Pi,
	"e":   math.E,
	"tau": 2 * math.Pi,
	"inf": math.Inf(1),
}

type function struct {
	min, max int
	fn       func(args []number) (number, error)
}

func float1(f func(float64) float64) function {
	return function{1, 1, func(a []number) (number, error) { return number{f(a[0].v), false}, nil }}
}

func intResult(f func(float64) float64) function {
	return function{1, 1, func(a []number) (number, error) { return number{f(a[0].v), true}, nil }}
}

var functions = map[string]function{
	"sqrt": {1, 1, func(a []number) (number, error) {
		if a[0].v < 0 {
			return number{}, errors.New("math domain error")
		}
		return number{math.Sqrt(a[0].v), false}, nil
	}},
	"sin":     float1(math.Sin),
	"cos":     float1(math.Cos),
	"tan":     float1(math.Tan),
	"asin":    float1(math.Asin),
	"acos":    float1(math.Acos),
	"atan":    float1(math.Atan),
	"sinh":    float1(math.Sinh),
	"cosh":    float1(math.Cosh),
	"tanh":    float1(math.Tanh),
	"exp":     float1(math.Exp),
	"log10":   float1(math.Log10),
	"log2":    float1(math.Log2),
	"degrees": float1(func(x float64) float64 { return x * 180 / math.Pi }),
	"radians": float1(func(x float64) float64 { return x * math.Pi / 180 }),
	"floor":   intResult(math.Floor),
	"ceil":    intResult(math.Ceil),
	"trunc":   intResult(math.Trunc),
	"abs": {1, 1, func(a []number) (number, error) {
		return number{math.Abs(a[0].v), a[0].isInt}, nil
	}},
	"round": {1, 2, func(a []number) (number, error) {
		if len(a) == 1 {
			return number{math.RoundToEven(a[0].v), true}, nil
		}
		scale := math.Pow(10, math.Trunc(a[1].v))
		return number{math.RoundToEven(a[0].v*scale) / scale, a[0].isInt}, nil
	}},
	"log": {1, 2, func(a []number) (number, error) {
		if a[0].v <= 0 {
			return number{}, errors.New("math domain error")
		}
		if len(a) == 2 {
			return number{math.Log(a[0].v) / math.Log(a[1].v), false}, nil
		}
		return number{math.Log(a[0].v), false}, nil
	}},
	"pow": {2, 2, func(a []number) (number, error) {
		return number{math.Pow(a[0].v, a[1].v), false}, nil
	}},
	"atan2": {2, 2, func(a []number) (number, error) {
		return number{math.Atan2(a[0].v, a[1].v), false}, nil
	}},
	"hypot": {2, 2, func(a []number) (number, error) {
		return number{math.Hypot(a[0].v, a[1].v), false}, nil
	}},
	"min": {1, -1, func(a []number) (number, error) {
		best := a[0]
		for _, n := range a[1:] {
			if n.v < best.v {
				best = n
			}
		}
		return best, nil
	}},
	"max": {1, -1, func(a []number) (number, error) {
		best := a[0]
		for _, n := range a[1:] {
			if n.v > best.v {
				best = n
			}
		}
		return best, nil
	}},
	"factorial": {1, 1, func(a []number) (number, error) {
		if !a[0].isInt || a[0].v < 0 {
			return number{}, errors.New("factorial() only accepts non-negative integral values")
		}
		if a[0].v > 170 {
			return number{}, errors.New("factorial() argument too large")
		}
		result := 1.0
		for i := 2.0; i <= a[0].v; i++ {
			result *= i
		}
		return number{result, true}, nil
	}},
}

func callFunction(name string, args []number) (number, error) {
	fn, ok := functions[name]
	if !ok {
		return number{}, fmt.Errorf("name '%s' is not defined", name)
	}
	if len(args) < fn.min || (fn.max >= 0 && len(args) > fn.max) {
		return number{}, fmt.Errorf("%s() got %d arguments", name, len(args))
	}
	return fn.fn(args)
}
