package rowexec_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TomNeyland/modash-go/ivm"
	_ "github.com/TomNeyland/modash-go/ivm/expression/function"
	"github.com/TomNeyland/modash-go/ivm/rowexec"
)

func TestMatchOperatorEqualityFilter(t *testing.T) {
	require := require.New(t)
	op, err := rowexec.NewMatchOperator(ivm.DocumentOf("status", "active"))
	require.NoError(err)

	deltas, ok, err := op.OnAdd(uint64(1), ivm.DocumentOf("status", "active"))
	require.NoError(err)
	require.True(ok)
	require.Equal([]ivm.Delta{{RowID: uint64(1), Sign: 1}}, deltas)

	deltas, ok, err = op.OnAdd(uint64(2), ivm.DocumentOf("status", "inactive"))
	require.NoError(err)
	require.True(ok)
	require.Empty(deltas)

	deltas, _, _ = op.OnRemove(uint64(1))
	require.Equal([]ivm.Delta{{RowID: uint64(1), Sign: -1}}, deltas)
}

func TestMatchOperatorComparisonOperator(t *testing.T) {
	require := require.New(t)
	op, err := rowexec.NewMatchOperator(ivm.DocumentOf("amount", ivm.DocumentOf("$gt", float64(10))))
	require.NoError(err)
	_, ok, err := op.OnAdd(uint64(1), ivm.DocumentOf("amount", float64(20)))
	require.NoError(err)
	require.True(ok)
	doc, present := op.EffectiveDoc(uint64(1))
	require.True(present)
	require.NotNil(doc)
}

func TestProjectOperatorObjectShape(t *testing.T) {
	require := require.New(t)
	op, err := rowexec.NewProjectOperator(ivm.DocumentOf("name", true, "doubled", ivm.DocumentOf(
		"$multiply", ivm.Array{"$n", float64(2)},
	)))
	require.NoError(err)
	_, ok, err := op.OnAdd(uint64(1), ivm.DocumentOf("name", "a", "n", float64(3)))
	require.NoError(err)
	require.True(ok)
	out, _ := op.EffectiveDoc(uint64(1))
	v, _ := out.Get("doubled")
	require.Equal(float64(6), v)
}

func TestProjectOperatorReplacesDocument(t *testing.T) {
	require := require.New(t)
	op, err := rowexec.NewProjectOperator(ivm.DocumentOf("doubled", ivm.DocumentOf(
		"$multiply", ivm.Array{"$n", float64(2)},
	)))
	require.NoError(err)
	_, _, err = op.OnAdd(uint64(1), ivm.DocumentOf("name", "a", "n", float64(3)))
	require.NoError(err)
	out, _ := op.EffectiveDoc(uint64(1))
	_, hasName := out.Get("name")
	require.False(hasName)
	_, hasN := out.Get("n")
	require.False(hasN)
}

func TestAddFieldsOperatorPreservesUnspecifiedFields(t *testing.T) {
	require := require.New(t)
	op, err := rowexec.NewAddFieldsOperator(ivm.DocumentOf("doubled", ivm.DocumentOf(
		"$multiply", ivm.Array{"$n", float64(2)},
	)))
	require.NoError(err)
	in := ivm.DocumentOf("name", "a", "n", float64(3))
	_, _, err = op.OnAdd(uint64(1), in)
	require.NoError(err)
	out, _ := op.EffectiveDoc(uint64(1))
	name, hasName := out.Get("name")
	require.True(hasName)
	require.Equal("a", name)
	doubled, _ := out.Get("doubled")
	require.Equal(float64(6), doubled)

	// the upstream document is untouched
	_, mutated := in.Get("doubled")
	require.False(mutated)
}

func TestAddFieldsOperatorDottedKeyMergesIntoNestedDocument(t *testing.T) {
	require := require.New(t)
	op, err := rowexec.NewAddFieldsOperator(ivm.DocumentOf("addr.zip", "$zipcode"))
	require.NoError(err)
	in := ivm.DocumentOf("addr", ivm.DocumentOf("city", "NYC"), "zipcode", "10001")
	_, _, err = op.OnAdd(uint64(1), in)
	require.NoError(err)
	out, _ := op.EffectiveDoc(uint64(1))
	addr, _ := out.Get("addr")
	city, _ := addr.(*ivm.Document).Get("city")
	require.Equal("NYC", city)
	zip, _ := addr.(*ivm.Document).Get("zip")
	require.Equal("10001", zip)

	// the shared nested document was copied, not written through
	inAddr, _ := in.Get("addr")
	_, leaked := inAddr.(*ivm.Document).Get("zip")
	require.False(leaked)
}

func TestAddFieldsOperatorRemoveSentinelDeletesField(t *testing.T) {
	require := require.New(t)
	op, err := rowexec.NewAddFieldsOperator(ivm.DocumentOf("secret", "$$REMOVE"))
	require.NoError(err)
	_, _, err = op.OnAdd(uint64(1), ivm.DocumentOf("secret", "x", "kept", float64(1)))
	require.NoError(err)
	out, _ := op.EffectiveDoc(uint64(1))
	_, hasSecret := out.Get("secret")
	require.False(hasSecret)
	kept, _ := out.Get("kept")
	require.Equal(float64(1), kept)
}

func TestUnwindOperatorFansOutArray(t *testing.T) {
	require := require.New(t)
	op, err := rowexec.NewUnwindOperator("$tags")
	require.NoError(err)
	doc := ivm.DocumentOf("tags", ivm.Array{"a", "b", "c"})
	deltas, ok, err := op.OnAdd(uint64(1), doc)
	require.NoError(err)
	require.True(ok)
	require.Len(deltas, 3)

	removeDeltas, _, _ := op.OnRemove(uint64(1))
	require.Len(removeDeltas, 3)
}

func TestUnwindOperatorEmptyArraySkipsByDefault(t *testing.T) {
	require := require.New(t)
	op, err := rowexec.NewUnwindOperator("$tags")
	require.NoError(err)
	deltas, _, err := op.OnAdd(uint64(1), ivm.DocumentOf("tags", ivm.Array{}))
	require.NoError(err)
	require.Empty(deltas)
}

func TestGroupOperatorSumAndCount(t *testing.T) {
	require := require.New(t)
	op, err := rowexec.NewGroupOperator(ivm.DocumentOf(
		"_id", "$status",
		"total", ivm.DocumentOf("$sum", "$amount"),
	))
	require.NoError(err)

	_, _, err = op.OnAdd(uint64(1), ivm.DocumentOf("status", "active", "amount", float64(10)))
	require.NoError(err)
	deltas, ok, err := op.OnAdd(uint64(2), ivm.DocumentOf("status", "active", "amount", float64(15)))
	require.NoError(err)
	require.True(ok)
	require.Len(deltas, 2) // retract-old, insert-new

	rows := op.Rows()
	require.Len(rows, 1)
	total, _ := rows[0].Doc.Get("total")
	require.Equal(25.0, total)
}

func TestGroupOperatorRemoveLastMemberRetractsGroup(t *testing.T) {
	require := require.New(t)
	op, err := rowexec.NewGroupOperator(ivm.DocumentOf(
		"_id", "$status",
		"total", ivm.DocumentOf("$sum", "$amount"),
	))
	require.NoError(err)
	_, _, _ = op.OnAdd(uint64(1), ivm.DocumentOf("status", "active", "amount", float64(10)))
	deltas, ok, err := op.OnRemove(uint64(1))
	require.NoError(err)
	require.True(ok)
	require.Len(deltas, 1)
	require.Equal(-1, deltas[0].Sign)
	require.Empty(op.Rows())
}

func TestSortOperatorOrdersAndLimits(t *testing.T) {
	require := require.New(t)
	op, err := rowexec.NewSortOperator(ivm.DocumentOf("n", float64(1)), 2)
	require.NoError(err)
	_, _, _ = op.OnAdd(uint64(1), ivm.DocumentOf("n", float64(5)))
	_, _, _ = op.OnAdd(uint64(2), ivm.DocumentOf("n", float64(1)))
	_, _, _ = op.OnAdd(uint64(3), ivm.DocumentOf("n", float64(3)))

	rows := op.Rows()
	require.Len(rows, 2)
	v0, _ := rows[0].Doc.Get("n")
	v1, _ := rows[1].Doc.Get("n")
	require.Equal(float64(1), v0)
	require.Equal(float64(3), v1)
}

func TestLimitOperatorPassesFirstN(t *testing.T) {
	require := require.New(t)
	op := rowexec.NewLimitOperator(2)
	d1, ok, _ := op.OnAdd(uint64(1), ivm.NewDocument())
	require.True(ok)
	require.Len(d1, 1)
	d2, ok, _ := op.OnAdd(uint64(2), ivm.NewDocument())
	require.True(ok)
	require.Len(d2, 1)
	d3, ok, _ := op.OnAdd(uint64(3), ivm.NewDocument())
	require.True(ok)
	require.Empty(d3)
}

func TestSkipOperatorPassesAfterN(t *testing.T) {
	require := require.New(t)
	op := rowexec.NewSkipOperator(1)
	d1, ok, _ := op.OnAdd(uint64(1), ivm.NewDocument())
	require.True(ok)
	require.Empty(d1)
	d2, ok, _ := op.OnAdd(uint64(2), ivm.NewDocument())
	require.True(ok)
	require.Len(d2, 1)
}

func TestSkipOperatorBoundaryShiftsStayIncremental(t *testing.T) {
	require := require.New(t)
	op := rowexec.NewSkipOperator(1)
	_, _, _ = op.OnAdd(uint64(5), ivm.DocumentOf("n", float64(5)))
	_, _, _ = op.OnAdd(uint64(6), ivm.DocumentOf("n", float64(6)))

	// a new row arriving before the boundary pushes row 5 past it
	deltas, ok, _ := op.OnAdd(uint64(1), ivm.DocumentOf("n", float64(1)))
	require.True(ok)
	require.Equal([]ivm.Delta{{RowID: uint64(5), Sign: 1}}, deltas)

	// removing a skipped row pulls row 5 back into the skipped prefix
	deltas, ok, _ = op.OnRemove(uint64(1))
	require.True(ok)
	require.Equal([]ivm.Delta{{RowID: uint64(5), Sign: -1}}, deltas)
}

func TestLimitOperatorRemovalPromotesNextRow(t *testing.T) {
	require := require.New(t)
	op := rowexec.NewLimitOperator(2)
	_, _, _ = op.OnAdd(uint64(1), ivm.DocumentOf("n", float64(1)))
	_, _, _ = op.OnAdd(uint64(2), ivm.DocumentOf("n", float64(2)))
	_, _, _ = op.OnAdd(uint64(3), ivm.DocumentOf("n", float64(3)))

	deltas, ok, _ := op.OnRemove(uint64(1))
	require.True(ok)
	require.Equal([]ivm.Delta{
		{RowID: uint64(1), Sign: -1},
		{RowID: uint64(3), Sign: 1},
	}, deltas)
	_, present := op.EffectiveDoc(uint64(3))
	require.True(present)
}
