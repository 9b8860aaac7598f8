package function

import (
	"github.com/TomNeyland/modash-go/ivm"
	"github.com/TomNeyland/modash-go/ivm/expression"
)

func init() {
	registerPositional("$and", func(_ *ivm.EvalContext, _ interface{}, args []expression.Thunk) (interface{}, error) {
		for _, t := range args {
			v, err := t()
			if err != nil {
				return nil, err
			}
			if !ivm.Truthy(v) {
				return false, nil
			}
		}
		return true, nil
	})

	registerPositional("$or", func(_ *ivm.EvalContext, _ interface{}, args []expression.Thunk) (interface{}, error) {
		for _, t := range args {
			v, err := t()
			if err != nil {
				return nil, err
			}
			if ivm.Truthy(v) {
				return true, nil
			}
		}
		return false, nil
	})

	registerPositional("$not", func(_ *ivm.EvalContext, _ interface{}, args []expression.Thunk) (interface{}, error) {
		if len(args) != 1 {
			return nil, ivm.ErrTypeMismatch.New("$not requires exactly 1 argument")
		}
		v, err := args[0]()
		if err != nil {
			return nil, err
		}
		return !ivm.Truthy(v), nil
	})
}
