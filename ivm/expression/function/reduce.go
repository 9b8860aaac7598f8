package function

import (
	"github.com/TomNeyland/modash-go/ivm"
	"github.com/TomNeyland/modash-go/ivm/expression"
)

type reduceExpr struct {
	input, initial, in expression.Expression
}

func (r reduceExpr) Eval(current interface{}, ec *ivm.EvalContext) (interface{}, error) {
	inputVal, err := r.input.Eval(current, ec)
	if err != nil {
		return nil, err
	}
	arr, ok := inputVal.(ivm.Array)
	if !ok {
		return nil, nil
	}
	acc, err := r.initial.Eval(current, ec)
	if err != nil {
		return nil, err
	}
	for _, elem := range arr {
		childEC := ec.WithVar("value", acc).WithVar("this", elem)
		acc, err = r.in.Eval(current, childEC)
		if err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func init() {
	expression.Register("$reduce", func(raw interface{}) (expression.Expression, error) {
		doc, ok := raw.(*ivm.Document)
		if !ok {
			return nil, ivm.ErrInvalidPipeline.New("$reduce requires an object with input, initialValue, and in")
		}
		inputRaw, ok1 := doc.Get("input")
		initRaw, ok2 := doc.Get("initialValue")
		inRaw, ok3 := doc.Get("in")
		if !ok1 || !ok2 || !ok3 {
			return nil, ivm.ErrInvalidPipeline.New("$reduce requires input, initialValue, and in")
		}
		inputE, err := expression.Compile(inputRaw)
		if err != nil {
			return nil, err
		}
		initE, err := expression.Compile(initRaw)
		if err != nil {
			return nil, err
		}
		inE, err := expression.Compile(inRaw)
		if err != nil {
			return nil, err
		}
		return reduceExpr{input: inputE, initial: initE, in: inE}, nil
	})
}
