package function

import (
	"github.com/TomNeyland/modash-go/ivm"
	"github.com/TomNeyland/modash-go/ivm/expression"
)

func binaryCompare(name string, pred func(cmp int) bool) {
	registerPositional(name, func(_ *ivm.EvalContext, _ interface{}, args []expression.Thunk) (interface{}, error) {
		vals, err := force(args)
		if err != nil {
			return nil, err
		}
		if len(vals) != 2 {
			return nil, ivm.ErrTypeMismatch.New(name + " requires exactly 2 arguments")
		}
		return pred(ivm.Compare(vals[0], vals[1])), nil
	})
}

func init() {
	registerPositional("$eq", func(_ *ivm.EvalContext, _ interface{}, args []expression.Thunk) (interface{}, error) {
		vals, err := force(args)
		if err != nil {
			return nil, err
		}
		if len(vals) != 2 {
			return nil, ivm.ErrTypeMismatch.New("$eq requires exactly 2 arguments")
		}
		return ivm.Equal(vals[0], vals[1]), nil
	})
	registerPositional("$ne", func(_ *ivm.EvalContext, _ interface{}, args []expression.Thunk) (interface{}, error) {
		vals, err := force(args)
		if err != nil {
			return nil, err
		}
		if len(vals) != 2 {
			return nil, ivm.ErrTypeMismatch.New("$ne requires exactly 2 arguments")
		}
		return !ivm.Equal(vals[0], vals[1]), nil
	})
	binaryCompare("$gt", func(c int) bool { return c > 0 })
	binaryCompare("$gte", func(c int) bool { return c >= 0 })
	binaryCompare("$lt", func(c int) bool { return c < 0 })
	binaryCompare("$lte", func(c int) bool { return c <= 0 })

	registerPositional("$cmp", func(_ *ivm.EvalContext, _ interface{}, args []expression.Thunk) (interface{}, error) {
		vals, err := force(args)
		if err != nil {
			return nil, err
		}
		if len(vals) != 2 {
			return nil, ivm.ErrTypeMismatch.New("$cmp requires exactly 2 arguments")
		}
		return float64(ivm.Compare(vals[0], vals[1])), nil
	})
}
