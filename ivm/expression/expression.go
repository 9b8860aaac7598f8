// Package expression compiles and evaluates the pipeline's expression
// grammar: literals, field paths, system variables, operator objects, and
// object-shape projections, all against a (current, root, ctx) environment.
//
// Operator implementations live in the function subpackage and register
// themselves into this package's operator registry via Register, called
// from their init functions. This package never imports function: the
// composition root blank-imports it to trigger registration, breaking the
// cyclic dependency between the evaluator and the operator library the
// same way spec.md's design notes describe — an injected capability
// instead of a direct import cycle.
package expression

import (
	"fmt"
	"strings"

	"github.com/TomNeyland/modash-go/ivm"
)

// Expression is a compiled node of the expression tree. Eval receives the
// current document (or, inside a sub-projection/reducer, whatever value
// current has been narrowed to) and the evaluation context carrying root,
// $$NOW, and reducer-local bindings.
type Expression interface {
	Eval(current interface{}, ec *ivm.EvalContext) (interface{}, error)
}

// Thunk is a nullary, lazily-forced argument handed to an operator
// function, matching spec.md's "operator receives nullary thunks for each
// argument and chooses which to force" contract — required for $and/$or/
// $cond/$ifNull short-circuiting.
type Thunk func() (interface{}, error)

// Builder compiles an operator's raw argument value (already walked out of
// its single-key wrapping document) into an Expression.
type Builder func(raw interface{}) (Expression, error)

var registry = make(map[string]Builder)

// Register adds an operator builder under name (e.g. "$add"). Called from
// function package init()s.
func Register(name string, b Builder) {
	registry[name] = b
}

// Lookup returns the builder for an operator name, if registered.
func Lookup(name string) (Builder, bool) {
	b, ok := registry[name]
	return b, ok
}

// Compile turns a raw expression value (as decoded from a pipeline's
// stage spec — nil, bool, float64, string, *ivm.Document, or ivm.Array)
// into an Expression.
func Compile(raw interface{}) (Expression, error) {
	switch v := raw.(type) {
	case nil:
		return literalExpr{nil}, nil
	case bool, float64, int, int64:
		return literalExpr{v}, nil
	case string:
		return compileString(v)
	case *ivm.Document:
		return compileDocumentExpr(v)
	case ivm.Array:
		return compileArrayExpr(v)
	default:
		return literalExpr{v}, nil
	}
}

func compileString(s string) (Expression, error) {
	switch {
	case strings.HasPrefix(s, "$$"):
		return compileSystemVariable(s)
	case strings.HasPrefix(s, "$"):
		return fieldPathExpr{path: s[1:]}, nil
	default:
		return literalExpr{s}, nil
	}
}

func compileDocumentExpr(doc *ivm.Document) (Expression, error) {
	keys := doc.Keys()
	if len(keys) == 1 && strings.HasPrefix(keys[0], "$") {
		name := keys[0]
		builder, ok := Lookup(name)
		if !ok {
			return nil, ivm.ErrUnknownOperator.New(name)
		}
		arg, _ := doc.Get(name)
		return builder(arg)
	}
	return compileObjectShape(doc)
}

func compileArrayExpr(arr ivm.Array) (Expression, error) {
	elems := make([]Expression, len(arr))
	for i, e := range arr {
		ce, err := Compile(e)
		if err != nil {
			return nil, err
		}
		elems[i] = ce
	}
	return arrayExpr{elems: elems}, nil
}

type literalExpr struct{ value interface{} }

func (l literalExpr) Eval(_ interface{}, _ *ivm.EvalContext) (interface{}, error) {
	return l.value, nil
}

type arrayExpr struct{ elems []Expression }

func (a arrayExpr) Eval(current interface{}, ec *ivm.EvalContext) (interface{}, error) {
	out := make(ivm.Array, len(a.elems))
	for i, e := range a.elems {
		v, err := e.Eval(current, ec)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type fieldPathExpr struct{ path string }

func (f fieldPathExpr) Eval(current interface{}, _ *ivm.EvalContext) (interface{}, error) {
	return ivm.ResolvePath(current, f.path), nil
}

// thunkOf closes over (current, ec) to produce a lazily-forced Thunk for
// operator functions that want to choose which arguments to evaluate.
func thunkOf(e Expression, current interface{}, ec *ivm.EvalContext) Thunk {
	return func() (interface{}, error) { return e.Eval(current, ec) }
}

// Eval is the package-level eval(doc, expr, root, ctx) entry point: compile
// raw once via Compile, then Eval repeatedly against documents.
func Eval(doc interface{}, raw interface{}, ec *ivm.EvalContext) (interface{}, error) {
	e, err := Compile(raw)
	if err != nil {
		return nil, err
	}
	return e.Eval(doc, ec)
}

// MustCompile panics on a compile error; used for tests and for
// compiling operator sub-arguments whose shape bugs should surface loudly
// rather than be swallowed.
func MustCompile(raw interface{}) Expression {
	e, err := Compile(raw)
	if err != nil {
		panic(fmt.Sprintf("expression: compile failed: %v", err))
	}
	return e
}
