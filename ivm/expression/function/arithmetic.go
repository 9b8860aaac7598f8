package function

import (
	"math"

	"github.com/TomNeyland/modash-go/ivm"
	"github.com/TomNeyland/modash-go/ivm/expression"
)

func init() {
	registerPositional("$add", func(_ *ivm.EvalContext, _ interface{}, args []expression.Thunk) (interface{}, error) {
		vals, err := force(args)
		if err != nil {
			return nil, err
		}
		sum := 0.0
		for _, v := range vals {
			sum += ivm.ToNumber(v)
		}
		return sum, nil
	})

	registerPositional("$subtract", func(_ *ivm.EvalContext, _ interface{}, args []expression.Thunk) (interface{}, error) {
		vals, err := force(args)
		if err != nil {
			return nil, err
		}
		if len(vals) != 2 {
			return nil, ivm.ErrTypeMismatch.New("$subtract requires exactly 2 arguments")
		}
		return ivm.ToNumber(vals[0]) - ivm.ToNumber(vals[1]), nil
	})

	registerPositional("$multiply", func(_ *ivm.EvalContext, _ interface{}, args []expression.Thunk) (interface{}, error) {
		vals, err := force(args)
		if err != nil {
			return nil, err
		}
		product := 1.0
		for _, v := range vals {
			product *= ivm.ToNumber(v)
		}
		return product, nil
	})

	registerPositional("$divide", func(_ *ivm.EvalContext, _ interface{}, args []expression.Thunk) (interface{}, error) {
		vals, err := force(args)
		if err != nil {
			return nil, err
		}
		if len(vals) != 2 {
			return nil, ivm.ErrTypeMismatch.New("$divide requires exactly 2 arguments")
		}
		denom := ivm.ToNumber(vals[1])
		if denom == 0 {
			return nil, nil
		}
		return ivm.ToNumber(vals[0]) / denom, nil
	})

	registerPositional("$mod", func(_ *ivm.EvalContext, _ interface{}, args []expression.Thunk) (interface{}, error) {
		vals, err := force(args)
		if err != nil {
			return nil, err
		}
		if len(vals) != 2 {
			return nil, ivm.ErrTypeMismatch.New("$mod requires exactly 2 arguments")
		}
		a, b := ivm.ToNumber(vals[0]), ivm.ToNumber(vals[1])
		if b == 0 {
			return nil, nil
		}
		if a == math.Trunc(a) && b == math.Trunc(b) {
			return math.Mod(a, b), nil
		}
		return math.Remainder(a, b), nil
	})
}
