package function

import (
	"github.com/TomNeyland/modash-go/ivm"
	"github.com/TomNeyland/modash-go/ivm/expression"
)

type condExpr struct {
	ifE, thenE, elseE expression.Expression
}

func (c condExpr) Eval(current interface{}, ec *ivm.EvalContext) (interface{}, error) {
	v, err := c.ifE.Eval(current, ec)
	if err != nil {
		return nil, err
	}
	if ivm.Truthy(v) {
		return c.thenE.Eval(current, ec)
	}
	return c.elseE.Eval(current, ec)
}

func buildCond(raw interface{}) (expression.Expression, error) {
	var ifRaw, thenRaw, elseRaw interface{}
	switch v := raw.(type) {
	case ivm.Array:
		if len(v) != 3 {
			return nil, ivm.ErrTypeMismatch.New("$cond array form requires exactly 3 elements")
		}
		ifRaw, thenRaw, elseRaw = v[0], v[1], v[2]
	case *ivm.Document:
		var ok1, ok2, ok3 bool
		ifRaw, ok1 = v.Get("if")
		thenRaw, ok2 = v.Get("then")
		elseRaw, ok3 = v.Get("else")
		if !ok1 || !ok2 || !ok3 {
			return nil, ivm.ErrInvalidPipeline.New("$cond requires if, then, and else")
		}
	default:
		return nil, ivm.ErrInvalidPipeline.New("$cond requires an object or 3-element array")
	}
	ifE, err := expression.Compile(ifRaw)
	if err != nil {
		return nil, err
	}
	thenE, err := expression.Compile(thenRaw)
	if err != nil {
		return nil, err
	}
	elseE, err := expression.Compile(elseRaw)
	if err != nil {
		return nil, err
	}
	return condExpr{ifE: ifE, thenE: thenE, elseE: elseE}, nil
}

type switchCase struct {
	caseE, thenE expression.Expression
}

type switchExpr struct {
	cases   []switchCase
	defExpr expression.Expression
}

func (s switchExpr) Eval(current interface{}, ec *ivm.EvalContext) (interface{}, error) {
	for _, c := range s.cases {
		v, err := c.caseE.Eval(current, ec)
		if err != nil {
			return nil, err
		}
		if ivm.Truthy(v) {
			return c.thenE.Eval(current, ec)
		}
	}
	if s.defExpr != nil {
		return s.defExpr.Eval(current, ec)
	}
	return nil, nil
}

func buildSwitch(raw interface{}) (expression.Expression, error) {
	doc, ok := raw.(*ivm.Document)
	if !ok {
		return nil, ivm.ErrInvalidPipeline.New("$switch requires an object with branches")
	}
	branchesRaw, ok := doc.Get("branches")
	if !ok {
		return nil, ivm.ErrInvalidPipeline.New("$switch requires branches")
	}
	branches, ok := branchesRaw.(ivm.Array)
	if !ok {
		return nil, ivm.ErrInvalidPipeline.New("$switch branches must be an array")
	}
	sw := switchExpr{}
	for _, b := range branches {
		bd, ok := b.(*ivm.Document)
		if !ok {
			return nil, ivm.ErrInvalidPipeline.New("$switch branch must be an object with case/then")
		}
		caseRaw, ok1 := bd.Get("case")
		thenRaw, ok2 := bd.Get("then")
		if !ok1 || !ok2 {
			return nil, ivm.ErrInvalidPipeline.New("$switch branch requires case and then")
		}
		caseE, err := expression.Compile(caseRaw)
		if err != nil {
			return nil, err
		}
		thenE, err := expression.Compile(thenRaw)
		if err != nil {
			return nil, err
		}
		sw.cases = append(sw.cases, switchCase{caseE: caseE, thenE: thenE})
	}
	if defRaw, ok := doc.Get("default"); ok {
		defE, err := expression.Compile(defRaw)
		if err != nil {
			return nil, err
		}
		sw.defExpr = defE
	}
	return sw, nil
}

func init() {
	expression.Register("$cond", buildCond)
	expression.Register("$switch", buildSwitch)

	registerPositional("$ifNull", func(_ *ivm.EvalContext, _ interface{}, args []expression.Thunk) (interface{}, error) {
		for _, t := range args {
			v, err := t()
			if err != nil {
				return nil, err
			}
			if v != nil {
				return v, nil
			}
		}
		return nil, nil
	})
}
