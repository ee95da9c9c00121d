package signal

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"math"
	"strconv"
)

// ErrExpression is wrapped by every compile and evaluation failure of a
// custom expression.
var ErrExpression = errors.New("invalid expression")

var functions = map[string]func(float64) float64{
	"sin":  math.Sin,
	"cos":  math.Cos,
	"tan":  math.Tan,
	"exp":  math.Exp,
	"log":  math.Log,
	"sqrt": math.Sqrt,
	"abs":  math.Abs,
}

var constants = map[string]float64{
	"pi": math.Pi,
	"e":  math.E,
}

// Expression is a compiled arithmetic expression over the elapsed time t.
type Expression struct {
	src  string
	root node
}

type node interface {
	eval(t float64) float64
}

type constNode float64

func (n constNode) eval(float64) float64 { return float64(n) }

type timeNode struct{}

func (timeNode) eval(t float64) float64 { return t }

type negNode struct{ x node }

func (n negNode) eval(t float64) float64 { return -n.x.eval(t) }

type binaryNode struct {
	op   token.Token
	x, y node
}

func (n binaryNode) eval(t float64) float64 {
	return apply(n.op, n.x.eval(t), n.y.eval(t))
}

type callNode struct {
	fn  func(float64) float64
	arg node
}

func (n callNode) eval(t float64) float64 { return n.fn(n.arg.eval(t)) }

func apply(op token.Token, a, b float64) float64 {
	switch op {
	case token.ADD:
		return a + b
	case token.SUB:
		return a - b
	case token.MUL:
		return a * b
	default:
		return a / b
	}
}

// Compile parses src once into an evaluable tree. Only numbers, t, pi, e,
// + - * /, unary signs, parentheses and the functions sin, cos, tan, exp,
// log, sqrt and abs are accepted. Constant sub-trees are folded.
func Compile(src string) (*Expression, error) {
	if src == "" {
		return nil, fmt.Errorf("%w: empty", ErrExpression)
	}
	tree, err := parser.ParseExpr(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrExpression, src, err)
	}
	root, err := lower(tree)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrExpression, src, err)
	}
	return &Expression{src: src, root: root}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(src string) *Expression {
	e, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return e
}

func lower(expr ast.Expr) (node, error) {
	switch x := expr.(type) {
	case *ast.BasicLit:
		if x.Kind != token.INT && x.Kind != token.FLOAT {
			return nil, fmt.Errorf("unsupported literal %s", x.Value)
		}
		v, err := strconv.ParseFloat(x.Value, 64)
		if err != nil {
			return nil, err
		}
		return constNode(v), nil

	case *ast.Ident:
		if x.Name == "t" {
			return timeNode{}, nil
		}
		if v, ok := constants[x.Name]; ok {
			return constNode(v), nil
		}
		return nil, fmt.Errorf("unknown identifier %q", x.Name)

	case *ast.ParenExpr:
		return lower(x.X)

	case *ast.UnaryExpr:
		inner, err := lower(x.X)
		if err != nil {
			return nil, err
		}
		switch x.Op {
		case token.ADD:
			return inner, nil
		case token.SUB:
			if c, ok := inner.(constNode); ok {
				return -c, nil
			}
			return negNode{x: inner}, nil
		}
		return nil, fmt.Errorf("unsupported unary operator %s", x.Op)

	case *ast.BinaryExpr:
		switch x.Op {
		case token.ADD, token.SUB, token.MUL, token.QUO:
		default:
			return nil, fmt.Errorf("unsupported operator %s", x.Op)
		}
		left, err := lower(x.X)
		if err != nil {
			return nil, err
		}
		right, err := lower(x.Y)
		if err != nil {
			return nil, err
		}
		lc, lok := left.(constNode)
		rc, rok := right.(constNode)
		if lok && rok {
			return constNode(apply(x.Op, float64(lc), float64(rc))), nil
		}
		return binaryNode{op: x.Op, x: left, y: right}, nil

	case *ast.CallExpr:
		ident, ok := x.Fun.(*ast.Ident)
		if !ok {
			return nil, fmt.Errorf("unsupported call target")
		}
		fn, ok := functions[ident.Name]
		if !ok {
			return nil, fmt.Errorf("unknown function %q", ident.Name)
		}
		if len(x.Args) != 1 || x.Ellipsis.IsValid() {
			return nil, fmt.Errorf("%s takes exactly one argument", ident.Name)
		}
		arg, err := lower(x.Args[0])
		if err != nil {
			return nil, err
		}
		if c, ok := arg.(constNode); ok {
			return constNode(fn(float64(c))), nil
		}
		return callNode{fn: fn, arg: arg}, nil
	}
	return nil, fmt.Errorf("unsupported syntax %T", expr)
}

// Eval computes the expression at t. Non-finite results are reported as
// errors.
func (e *Expression) Eval(t float64) (float64, error) {
	v := e.root.eval(t)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q is not finite at t=%g", ErrExpression, e.src, t)
	}
	return v, nil
}

// IsConstant reports whether folding reduced the expression to a constant.
func (e *Expression) IsConstant() bool {
	_, ok := e.root.(constNode)
	return ok
}

func (e *Expression) String() string {
	return e.src
}
