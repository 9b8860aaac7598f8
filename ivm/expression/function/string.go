package function

import (
	"strings"

	"github.com/TomNeyland/modash-go/ivm"
	"github.com/TomNeyland/modash-go/ivm/expression"
	"github.com/spf13/cast"
)

func init() {
	registerPositional("$concat", func(_ *ivm.EvalContext, _ interface{}, args []expression.Thunk) (interface{}, error) {
		var b strings.Builder
		for _, t := range args {
			v, err := t()
			if err != nil {
				return nil, err
			}
			if v == nil {
				return nil, nil
			}
			s, ok := v.(string)
			if !ok {
				return nil, ivm.ErrTypeMismatch.New("$concat requires string arguments")
			}
			b.WriteString(s)
		}
		return b.String(), nil
	})

	registerPositional("$substr", func(_ *ivm.EvalContext, _ interface{}, args []expression.Thunk) (interface{}, error) {
		vals, err := force(args)
		if err != nil {
			return nil, err
		}
		if len(vals) != 3 {
			return nil, ivm.ErrTypeMismatch.New("$substr requires exactly 3 arguments")
		}
		s, ok := vals[0].(string)
		if !ok {
			return nil, ivm.ErrTypeMismatch.New("$substr requires a string as its first argument")
		}
		runes := []rune(s)
		start := clampIndex(int(ivm.ToNumber(vals[1])), len(runes))
		length := int(ivm.ToNumber(vals[2]))
		end := len(runes)
		if length >= 0 {
			end = clampIndex(start+length, len(runes))
		}
		if end < start {
			end = start
		}
		return string(runes[start:end]), nil
	})

	registerPositional("$toUpper", func(_ *ivm.EvalContext, _ interface{}, args []expression.Thunk) (interface{}, error) {
		v, err := requireOneString(args, "$toUpper")
		if err != nil {
			return nil, err
		}
		return strings.ToUpper(v), nil
	})

	registerPositional("$toLower", func(_ *ivm.EvalContext, _ interface{}, args []expression.Thunk) (interface{}, error) {
		v, err := requireOneString(args, "$toLower")
		if err != nil {
			return nil, err
		}
		return strings.ToLower(v), nil
	})

	registerPositional("$trim", func(_ *ivm.EvalContext, _ interface{}, args []expression.Thunk) (interface{}, error) {
		v, err := requireOneString(args, "$trim")
		if err != nil {
			return nil, err
		}
		return strings.TrimSpace(v), nil
	})

	registerPositional("$strLenCP", func(_ *ivm.EvalContext, _ interface{}, args []expression.Thunk) (interface{}, error) {
		v, err := requireOneString(args, "$strLenCP")
		if err != nil {
			return nil, err
		}
		return float64(len([]rune(v))), nil
	})

	registerPositional("$toString", func(_ *ivm.EvalContext, _ interface{}, args []expression.Thunk) (interface{}, error) {
		if len(args) != 1 {
			return nil, ivm.ErrTypeMismatch.New("$toString requires exactly 1 argument")
		}
		v, err := args[0]()
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, nil
		}
		return cast.ToString(v), nil
	})
}

func requireOneString(args []expression.Thunk, name string) (string, error) {
	if len(args) != 1 {
		return "", ivm.ErrTypeMismatch.New(name + " requires exactly 1 argument")
	}
	v, err := args[0]()
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", ivm.ErrTypeMismatch.New(name + " requires a string argument")
	}
	return s, nil
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}
