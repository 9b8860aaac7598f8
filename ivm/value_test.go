package ivm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCompareOrdering(t *testing.T) {
	require := require.New(t)

	// null < number < string < document < array < boolean < timestamp
	require.Equal(-1, Compare(nil, float64(1)))
	require.Equal(-1, Compare(float64(1), "a"))
	require.Equal(-1, Compare("a", NewDocument()))
	require.Equal(-1, Compare(NewDocument(), Array{}))
	require.Equal(-1, Compare(Array{}, true))
	require.Equal(-1, Compare(true, time.Unix(0, 0)))
}

func TestCompareNumeric(t *testing.T) {
	require := require.New(t)
	require.Equal(-1, Compare(float64(1), float64(2)))
	require.Equal(0, Compare(float64(2), float64(2)))
	require.Equal(1, Compare(float64(3), float64(2)))
}

func TestCompareDocumentsByRecursiveKeyOrder(t *testing.T) {
	require := require.New(t)
	a := DocumentOf("a", float64(1), "b", float64(2))
	b := DocumentOf("a", float64(1), "b", float64(3))
	require.Equal(-1, Compare(a, b))
	require.True(Equal(a, a.Clone()))
}

func TestTruthy(t *testing.T) {
	require := require.New(t)
	require.False(Truthy(nil))
	require.False(Truthy(false))
	require.False(Truthy(float64(0)))
	require.False(Truthy(""))
	require.False(Truthy(Array{}))
	require.True(Truthy(float64(0.1)))
	require.True(Truthy("x"))
	require.True(Truthy(Array{1}))
}

func TestToNumberCoercion(t *testing.T) {
	require := require.New(t)
	require.Equal(float64(0), ToNumber(nil))
	require.Equal(float64(1), ToNumber(true))
	require.Equal(float64(0), ToNumber(false))
	require.Equal(float64(0), ToNumber("not-a-number"))
	require.Equal(float64(3.5), ToNumber("3.5"))
}

func TestGetPath(t *testing.T) {
	require := require.New(t)
	doc := DocumentOf("a", DocumentOf("b", DocumentOf("c", float64(42))))
	require.Equal(float64(42), doc.GetPath("a.b.c"))
	require.Nil(doc.GetPath("a.missing.c"))
}

func TestGetPathFansOutOverArrays(t *testing.T) {
	require := require.New(t)
	doc := DocumentOf("items", Array{
		DocumentOf("v", float64(1)),
		DocumentOf("v", float64(2)),
	})
	got := doc.GetPath("items.v")
	require.Equal(Array{float64(1), float64(2)}, got)
}

func TestCanonicalHashStructuralEquality(t *testing.T) {
	require := require.New(t)
	a := DocumentOf("x", float64(1), "y", float64(2))
	b := DocumentOf("y", float64(2), "x", float64(1))
	require.Equal(CanonicalHash(a), CanonicalHash(b))
}

func TestVirtualRowIDOrdering(t *testing.T) {
	require := require.New(t)
	require.True(CompareRowID(uint64(1), VirtualRowID{Parent: uint64(1), Index: 0}) < 0)
	require.True(CompareRowID(VirtualRowID{Parent: uint64(1), Index: 0}, VirtualRowID{Parent: uint64(1), Index: 1}) < 0)
}
