// Package function implements the aggregation pipeline's operator
// library — arithmetic, comparison, logical, set, string, conditional, and
// array-reducer operators — registering each into the expression package's
// operator registry from its own init(). Importing this package (a blank
// import from the composition root is enough) is what makes the operators
// available to Compile; the expression package itself never imports
// function, avoiding the cyclic evaluator/operator-library dependency
// spec.md's design notes call out.
package function

import (
	"github.com/TomNeyland/modash-go/ivm"
	"github.com/TomNeyland/modash-go/ivm/expression"
)

// OperatorFunc receives nullary, lazily-forced thunks for each compiled
// argument — spec.md's required shape for short-circuiting operators.
type OperatorFunc func(ec *ivm.EvalContext, current interface{}, args []expression.Thunk) (interface{}, error)

type opExpr struct {
	args []expression.Expression
	fn   OperatorFunc
}

func (o opExpr) Eval(current interface{}, ec *ivm.EvalContext) (interface{}, error) {
	thunks := make([]expression.Thunk, len(o.args))
	for i := range o.args {
		sub := o.args[i]
		thunks[i] = func() (interface{}, error) { return sub.Eval(current, ec) }
	}
	return o.fn(ec, current, thunks)
}

// positional compiles an operator's raw argument into a flat arg list: an
// Array becomes one compiled Expression per element, anything else becomes
// a single-element list.
func positional(raw interface{}) ([]expression.Expression, error) {
	if arr, ok := raw.(ivm.Array); ok {
		out := make([]expression.Expression, len(arr))
		for i, e := range arr {
			ce, err := expression.Compile(e)
			if err != nil {
				return nil, err
			}
			out[i] = ce
		}
		return out, nil
	}
	ce, err := expression.Compile(raw)
	if err != nil {
		return nil, err
	}
	return []expression.Expression{ce}, nil
}

// registerPositional registers an operator whose argument is either a bare
// expression or an array of expressions, evaluated via lazy thunks.
func registerPositional(name string, fn OperatorFunc) {
	expression.Register(name, func(raw interface{}) (expression.Expression, error) {
		args, err := positional(raw)
		if err != nil {
			return nil, err
		}
		return opExpr{args: args, fn: fn}, nil
	})
}

// force evaluates every thunk in order, short-circuiting on the first
// error, and returns the resulting values.
func force(args []expression.Thunk) ([]interface{}, error) {
	out := make([]interface{}, len(args))
	for i, t := range args {
		v, err := t()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
