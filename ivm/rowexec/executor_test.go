package rowexec_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TomNeyland/modash-go/ivm"
	_ "github.com/TomNeyland/modash-go/ivm/expression/function"
	"github.com/TomNeyland/modash-go/ivm/plan"
	"github.com/TomNeyland/modash-go/ivm/rowexec"
)

type fakeBase struct {
	rows map[uint64]*ivm.Document
}

func (f *fakeBase) Rows() []rowexec.RowDoc {
	out := make([]rowexec.RowDoc, 0, len(f.rows))
	for id, d := range f.rows {
		out = append(out, rowexec.RowDoc{RowID: id, Doc: d})
	}
	return out
}

func buildExecutor(t *testing.T, pipeline ivm.Array, base *fakeBase) *rowexec.PipelineExecutor {
	t.Helper()
	p, err := plan.Compile(pipeline)
	require.NoError(t, err)
	ex, err := rowexec.NewPipelineExecutor(p, base.Rows, nil, 0)
	require.NoError(t, err)
	return ex
}

func TestExecutorThreadsMatchThenProject(t *testing.T) {
	require := require.New(t)
	base := &fakeBase{rows: map[uint64]*ivm.Document{}}
	pipeline := ivm.Array{
		ivm.DocumentOf("$match", ivm.DocumentOf("status", "active")),
		ivm.DocumentOf("$project", ivm.DocumentOf("name", true)),
	}
	ex := buildExecutor(t, pipeline, base)

	base.rows[1] = ivm.DocumentOf("status", "active", "name", "alice")
	res, err := ex.Insert(1, base.rows[1])
	require.NoError(err)
	require.False(res.Rebuilt)
	require.Len(res.Deltas, 1)
	require.Equal(1, res.Deltas[0].Sign)

	base.rows[2] = ivm.DocumentOf("status", "inactive", "name", "bob")
	res, err = ex.Insert(2, base.rows[2])
	require.NoError(err)
	require.Empty(res.Deltas)
}

func TestExecutorRemovePropagates(t *testing.T) {
	require := require.New(t)
	base := &fakeBase{rows: map[uint64]*ivm.Document{}}
	pipeline := ivm.Array{
		ivm.DocumentOf("$match", ivm.DocumentOf("status", "active")),
	}
	ex := buildExecutor(t, pipeline, base)
	base.rows[1] = ivm.DocumentOf("status", "active")
	_, err := ex.Insert(1, base.rows[1])
	require.NoError(err)

	delete(base.rows, 1)
	res, err := ex.Remove(1)
	require.NoError(err)
	require.Len(res.Deltas, 1)
	require.Equal(-1, res.Deltas[0].Sign)
}

func TestExecutorGroupPipeline(t *testing.T) {
	require := require.New(t)
	base := &fakeBase{rows: map[uint64]*ivm.Document{}}
	pipeline := ivm.Array{
		ivm.DocumentOf("$group", ivm.DocumentOf(
			"_id", "$status",
			"total", ivm.DocumentOf("$sum", "$amount"),
		)),
	}
	ex := buildExecutor(t, pipeline, base)

	base.rows[1] = ivm.DocumentOf("status", "active", "amount", float64(10))
	_, err := ex.Insert(1, base.rows[1])
	require.NoError(err)
	base.rows[2] = ivm.DocumentOf("status", "active", "amount", float64(5))
	_, err = ex.Insert(2, base.rows[2])
	require.NoError(err)

	rows := ex.FinalRows()
	require.Len(rows, 1)
	total, _ := rows[0].Doc.Get("total")
	require.Equal(15.0, total)
}

func TestExecutorLimitRemovalStaysIncremental(t *testing.T) {
	require := require.New(t)
	base := &fakeBase{rows: map[uint64]*ivm.Document{}}
	pipeline := ivm.Array{
		ivm.DocumentOf("$limit", float64(1)),
	}
	ex := buildExecutor(t, pipeline, base)

	base.rows[1] = ivm.DocumentOf("n", float64(1))
	_, err := ex.Insert(1, base.rows[1])
	require.NoError(err)
	base.rows[2] = ivm.DocumentOf("n", float64(2))
	_, err = ex.Insert(2, base.rows[2])
	require.NoError(err)

	delete(base.rows, 1)
	res, err := ex.Remove(1)
	require.NoError(err)
	require.False(res.Rebuilt)

	rows := ex.FinalRows()
	require.Len(rows, 1)
	n, _ := rows[0].Doc.Get("n")
	require.Equal(2.0, n)
}

func TestExecutorGroupFirstFollowsUpstreamSortOrder(t *testing.T) {
	require := require.New(t)
	base := &fakeBase{rows: map[uint64]*ivm.Document{}}
	pipeline := ivm.Array{
		ivm.DocumentOf("$sort", ivm.DocumentOf("rank", float64(-1))),
		ivm.DocumentOf("$group", ivm.DocumentOf(
			"_id", "$team",
			"top", ivm.DocumentOf("$first", "$name"),
		)),
	}
	ex := buildExecutor(t, pipeline, base)

	// arrival order deliberately disagrees with the sort order
	for id, row := range []*ivm.Document{
		ivm.DocumentOf("team", "a", "rank", float64(1), "name", "low"),
		ivm.DocumentOf("team", "a", "rank", float64(9), "name", "high"),
	} {
		rid := uint64(id + 1)
		base.rows[rid] = row
		_, err := ex.Insert(rid, row)
		require.NoError(err)
	}

	rows := ex.FinalRows()
	require.Len(rows, 1)
	top, _ := rows[0].Doc.Get("top")
	require.Equal("high", top)
}

func TestExecutorSortLimitPromotesOnRemoval(t *testing.T) {
	require := require.New(t)
	base := &fakeBase{rows: map[uint64]*ivm.Document{}}
	pipeline := ivm.Array{
		ivm.DocumentOf("$sort", ivm.DocumentOf("n", float64(1))),
		ivm.DocumentOf("$limit", float64(2)),
	}
	ex := buildExecutor(t, pipeline, base)

	for i, n := range []float64{3, 1, 2} {
		id := uint64(i + 1)
		base.rows[id] = ivm.DocumentOf("n", n)
		_, err := ex.Insert(id, base.rows[id])
		require.NoError(err)
	}
	rows := ex.FinalRows()
	require.Len(rows, 2)
	n0, _ := rows[0].Doc.Get("n")
	n1, _ := rows[1].Doc.Get("n")
	require.Equal(1.0, n0)
	require.Equal(2.0, n1)

	// removing the current minimum promotes the evicted row back in
	delete(base.rows, 2)
	res, err := ex.Remove(2)
	require.NoError(err)
	require.False(res.Rebuilt)
	rows = ex.FinalRows()
	require.Len(rows, 2)
	n0, _ = rows[0].Doc.Get("n")
	n1, _ = rows[1].Doc.Get("n")
	require.Equal(2.0, n0)
	require.Equal(3.0, n1)
}
