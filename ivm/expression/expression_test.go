package expression_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TomNeyland/modash-go/ivm"
	"github.com/TomNeyland/modash-go/ivm/expression"
	_ "github.com/TomNeyland/modash-go/ivm/expression/function"
)

func eval(t *testing.T, doc *ivm.Document, raw interface{}) interface{} {
	t.Helper()
	ec := ivm.NewEvalContext(doc, time.Unix(0, 0))
	v, err := expression.Eval(doc, raw, ec)
	require.NoError(t, err)
	return v
}

func TestFieldPath(t *testing.T) {
	require := require.New(t)
	doc := ivm.DocumentOf("a", ivm.DocumentOf("b", float64(5)))
	require.Equal(float64(5), eval(t, doc, "$a.b"))
	require.Nil(eval(t, doc, "$missing"))
}

func TestSystemVariables(t *testing.T) {
	require := require.New(t)
	doc := ivm.DocumentOf("x", float64(1))
	require.Equal(doc, eval(t, doc, "$$ROOT"))
	require.Equal(doc, eval(t, doc, "$$CURRENT"))
	require.True(ivm.IsRemove(eval(t, doc, "$$REMOVE")))

	now := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	ec := ivm.NewEvalContext(doc, now)
	v, err := expression.Eval(doc, "$$NOW", ec)
	require.NoError(err)
	require.Equal(now, v)
}

func TestUnknownVariableFails(t *testing.T) {
	require := require.New(t)
	doc := ivm.NewDocument()
	ec := ivm.NewEvalContext(doc, time.Now())
	_, err := expression.Eval(doc, "$$BOGUS", ec)
	require.Error(err)
	require.True(ivm.ErrUnknownVariable.Is(err))
}

func TestUnknownOperatorFailsToCompile(t *testing.T) {
	require := require.New(t)
	_, err := expression.Compile(ivm.DocumentOf("$bogusOp", float64(1)))
	require.Error(err)
	require.True(ivm.ErrUnknownOperator.Is(err))
}

func TestArithmetic(t *testing.T) {
	require := require.New(t)
	doc := ivm.NewDocument()
	require.Equal(5.0, eval(t, doc, ivm.DocumentOf("$add", ivm.Array{float64(2), float64(3)})))
	require.Equal(-1.0, eval(t, doc, ivm.DocumentOf("$subtract", ivm.Array{float64(2), float64(3)})))
	require.Equal(6.0, eval(t, doc, ivm.DocumentOf("$multiply", ivm.Array{float64(2), float64(3)})))
	require.Nil(eval(t, doc, ivm.DocumentOf("$divide", ivm.Array{float64(2), float64(0)})))
	require.Equal(1.0, eval(t, doc, ivm.DocumentOf("$mod", ivm.Array{float64(7), float64(3)})))
}

func TestNumericCoercionInArithmetic(t *testing.T) {
	require := require.New(t)
	doc := ivm.NewDocument()
	require.Equal(4.0, eval(t, doc, ivm.DocumentOf("$add", ivm.Array{"3", true})))
}

func TestComparisonAndCmp(t *testing.T) {
	require := require.New(t)
	doc := ivm.NewDocument()
	require.Equal(true, eval(t, doc, ivm.DocumentOf("$gt", ivm.Array{float64(2), float64(1)})))
	require.Equal(-1.0, eval(t, doc, ivm.DocumentOf("$cmp", ivm.Array{float64(1), float64(2)})))
	require.Equal(true, eval(t, doc, ivm.DocumentOf("$eq", ivm.Array{
		ivm.DocumentOf("a", float64(1)), ivm.DocumentOf("a", float64(1)),
	})))
}

func TestLogicalShortCircuit(t *testing.T) {
	require := require.New(t)
	doc := ivm.NewDocument()
	// a branch that would fail at evaluation ($concat over a number) must
	// not be evaluated once an earlier argument is falsy
	expr := ivm.DocumentOf("$and", ivm.Array{false, ivm.DocumentOf("$concat", ivm.Array{float64(1)})})
	ec := ivm.NewEvalContext(doc, time.Now())
	v, err := expression.Eval(doc, expr, ec)
	require.NoError(err)
	require.Equal(false, v)
}

func TestCondObjectAndArrayForms(t *testing.T) {
	require := require.New(t)
	doc := ivm.DocumentOf("n", float64(5))
	objForm := ivm.DocumentOf("$cond", ivm.DocumentOf(
		"if", ivm.DocumentOf("$gt", ivm.Array{"$n", float64(3)}),
		"then", "big",
		"else", "small",
	))
	require.Equal("big", eval(t, doc, objForm))

	arrForm := ivm.DocumentOf("$cond", ivm.Array{
		ivm.DocumentOf("$lt", ivm.Array{"$n", float64(3)}), "big", "small",
	})
	require.Equal("small", eval(t, doc, arrForm))
}

func TestSwitch(t *testing.T) {
	require := require.New(t)
	doc := ivm.DocumentOf("n", float64(2))
	sw := ivm.DocumentOf("$switch", ivm.DocumentOf(
		"branches", ivm.Array{
			ivm.DocumentOf("case", ivm.DocumentOf("$eq", ivm.Array{"$n", float64(1)}), "then", "one"),
			ivm.DocumentOf("case", ivm.DocumentOf("$eq", ivm.Array{"$n", float64(2)}), "then", "two"),
		},
		"default", "other",
	))
	require.Equal("two", eval(t, doc, sw))
}

func TestIfNull(t *testing.T) {
	require := require.New(t)
	doc := ivm.NewDocument()
	require.Equal("fallback", eval(t, doc, ivm.DocumentOf("$ifNull", ivm.Array{nil, "fallback"})))
}

func TestReduce(t *testing.T) {
	require := require.New(t)
	doc := ivm.DocumentOf("items", ivm.Array{float64(1), float64(2), float64(3), float64(4)})
	expr := ivm.DocumentOf("$reduce", ivm.DocumentOf(
		"input", "$items",
		"initialValue", float64(0),
		"in", ivm.DocumentOf("$add", ivm.Array{"$$value", "$$this"}),
	))
	require.Equal(10.0, eval(t, doc, expr))
}

func TestReduceOnNonArrayReturnsNull(t *testing.T) {
	require := require.New(t)
	doc := ivm.DocumentOf("items", "not-an-array")
	expr := ivm.DocumentOf("$reduce", ivm.DocumentOf(
		"input", "$items", "initialValue", float64(0), "in", "$$value",
	))
	require.Nil(eval(t, doc, expr))
}

func TestSetOperators(t *testing.T) {
	require := require.New(t)
	doc := ivm.NewDocument()
	union := eval(t, doc, ivm.DocumentOf("$setUnion", ivm.Array{
		ivm.Array{float64(1), float64(2)}, ivm.Array{float64(2), float64(3)},
	}))
	require.ElementsMatch(ivm.Array{float64(1), float64(2), float64(3)}, union)

	inResult := eval(t, doc, ivm.DocumentOf("$in", ivm.Array{float64(2), ivm.Array{float64(1), float64(2)}}))
	require.Equal(true, inResult)
}

func TestClosedExpressionEvaluationIsIdempotent(t *testing.T) {
	require := require.New(t)
	doc := ivm.NewDocument()
	exprs := []interface{}{
		ivm.DocumentOf("$add", ivm.Array{float64(2), float64(3)}),
		ivm.DocumentOf("$concat", ivm.Array{"a", "b"}),
		ivm.DocumentOf("$and", ivm.Array{true, float64(1)}),
	}
	for _, e := range exprs {
		once := eval(t, doc, e)
		// a closed expression's result is a literal: evaluating it again
		// yields itself
		require.Equal(once, eval(t, doc, once))
	}
}

func TestObjectShapePassthroughAndOmit(t *testing.T) {
	require := require.New(t)
	doc := ivm.DocumentOf("a", float64(1), "b", float64(2))
	shape := ivm.DocumentOf("a", true, "b", false)
	out := eval(t, doc, shape).(*ivm.Document)
	v, ok := out.Get("a")
	require.True(ok)
	require.Equal(float64(1), v)
	_, ok = out.Get("b")
	require.False(ok)
}

func TestObjectShapeRootPath(t *testing.T) {
	require := require.New(t)
	doc := ivm.DocumentOf("a", float64(1))
	shape := ivm.DocumentOf("copy", "$a")
	out := eval(t, doc, shape).(*ivm.Document)
	v, _ := out.Get("copy")
	require.Equal(float64(1), v)
}

func TestObjectShapeNestedSubProjection(t *testing.T) {
	require := require.New(t)
	doc := ivm.DocumentOf("addr", ivm.DocumentOf("city", "NYC", "zip", "10001"))
	shape := ivm.DocumentOf("addr", ivm.DocumentOf("city", true))
	out := eval(t, doc, shape).(*ivm.Document)
	addr, _ := out.Get("addr")
	city, _ := addr.(*ivm.Document).Get("city")
	require.Equal("NYC", city)
}

func TestObjectShapeNestedFansOutOverArrays(t *testing.T) {
	require := require.New(t)
	doc := ivm.DocumentOf("items", ivm.Array{
		ivm.DocumentOf("v", float64(1)),
		ivm.DocumentOf("v", float64(2)),
	})
	shape := ivm.DocumentOf("items", ivm.DocumentOf("v", true))
	out := eval(t, doc, shape).(*ivm.Document)
	items, _ := out.Get("items")
	arr := items.(ivm.Array)
	require.Len(arr, 2)
}

func TestObjectShapeDottedOutputKey(t *testing.T) {
	require := require.New(t)
	doc := ivm.DocumentOf("x", float64(1))
	shape := ivm.DocumentOf("a.b", "$x")
	out := eval(t, doc, shape).(*ivm.Document)
	a, ok := out.Get("a")
	require.True(ok)
	b, _ := a.(*ivm.Document).Get("b")
	require.Equal(float64(1), b)
}

func TestObjectShapeOperatorObjectIsComputedEvenOverArrayField(t *testing.T) {
	require := require.New(t)
	// the field being an array must not turn the operator object into a
	// sub-projection
	doc := ivm.DocumentOf("total", ivm.Array{float64(5)})
	shape := ivm.DocumentOf("total", ivm.DocumentOf("$add", ivm.Array{float64(1), float64(2)}))
	out := eval(t, doc, shape).(*ivm.Document)
	v, _ := out.Get("total")
	require.Equal(float64(3), v)
}

func TestObjectShapeSystemVariableString(t *testing.T) {
	require := require.New(t)
	doc := ivm.DocumentOf("a", float64(1))
	shape := ivm.DocumentOf("self", "$$ROOT.a")
	out := eval(t, doc, shape).(*ivm.Document)
	v, _ := out.Get("self")
	require.Equal(float64(1), v)
}

func TestObjectShapeRemoveSentinelOmitsField(t *testing.T) {
	require := require.New(t)
	doc := ivm.DocumentOf("x", float64(1))
	shape := ivm.DocumentOf("x", ivm.DocumentOf("$cond", ivm.DocumentOf(
		"if", true, "then", "$$REMOVE", "else", "$x",
	)))
	out := eval(t, doc, shape).(*ivm.Document)
	_, ok := out.Get("x")
	require.False(ok)
}
