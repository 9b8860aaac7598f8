package function

import (
	"github.com/TomNeyland/modash-go/ivm"
	"github.com/TomNeyland/modash-go/ivm/expression"
)

func asArray(v interface{}) ivm.Array {
	if a, ok := v.(ivm.Array); ok {
		return a
	}
	return nil
}

func init() {
	registerPositional("$setUnion", func(_ *ivm.EvalContext, _ interface{}, args []expression.Thunk) (interface{}, error) {
		vals, err := force(args)
		if err != nil {
			return nil, err
		}
		var all ivm.Array
		for _, v := range vals {
			all = append(all, asArray(v)...)
		}
		return ivm.Dedup(all), nil
	})

	registerPositional("$setIntersection", func(_ *ivm.EvalContext, _ interface{}, args []expression.Thunk) (interface{}, error) {
		vals, err := force(args)
		if err != nil {
			return nil, err
		}
		if len(vals) == 0 {
			return ivm.Array{}, nil
		}
		result := ivm.Dedup(asArray(vals[0]))
		for _, v := range vals[1:] {
			other := asArray(v)
			var kept ivm.Array
			for _, e := range result {
				if ivm.Contains(other, e) {
					kept = append(kept, e)
				}
			}
			result = kept
		}
		return result, nil
	})

	registerPositional("$setDifference", func(_ *ivm.EvalContext, _ interface{}, args []expression.Thunk) (interface{}, error) {
		vals, err := force(args)
		if err != nil {
			return nil, err
		}
		if len(vals) != 2 {
			return nil, ivm.ErrTypeMismatch.New("$setDifference requires exactly 2 arguments")
		}
		b := asArray(vals[1])
		var out ivm.Array
		for _, e := range ivm.Dedup(asArray(vals[0])) {
			if !ivm.Contains(b, e) {
				out = append(out, e)
			}
		}
		return out, nil
	})

	registerPositional("$setEquals", func(_ *ivm.EvalContext, _ interface{}, args []expression.Thunk) (interface{}, error) {
		vals, err := force(args)
		if err != nil {
			return nil, err
		}
		if len(vals) < 2 {
			return nil, ivm.ErrTypeMismatch.New("$setEquals requires at least 2 arguments")
		}
		first := ivm.Dedup(asArray(vals[0]))
		for _, v := range vals[1:] {
			other := ivm.Dedup(asArray(v))
			if len(other) != len(first) {
				return false, nil
			}
			for _, e := range first {
				if !ivm.Contains(other, e) {
					return false, nil
				}
			}
		}
		return true, nil
	})

	registerPositional("$setIsSubset", func(_ *ivm.EvalContext, _ interface{}, args []expression.Thunk) (interface{}, error) {
		vals, err := force(args)
		if err != nil {
			return nil, err
		}
		if len(vals) != 2 {
			return nil, ivm.ErrTypeMismatch.New("$setIsSubset requires exactly 2 arguments")
		}
		b := asArray(vals[1])
		for _, e := range asArray(vals[0]) {
			if !ivm.Contains(b, e) {
				return false, nil
			}
		}
		return true, nil
	})

	registerPositional("$in", func(_ *ivm.EvalContext, _ interface{}, args []expression.Thunk) (interface{}, error) {
		vals, err := force(args)
		if err != nil {
			return nil, err
		}
		if len(vals) != 2 {
			return nil, ivm.ErrTypeMismatch.New("$in requires exactly 2 arguments")
		}
		return ivm.Contains(asArray(vals[1]), vals[0]), nil
	})
}
