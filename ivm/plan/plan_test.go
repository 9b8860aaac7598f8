package plan_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TomNeyland/modash-go/ivm"
	"github.com/TomNeyland/modash-go/ivm/plan"
)

func TestCompileAssignsCapabilities(t *testing.T) {
	require := require.New(t)
	pipeline := ivm.Array{
		ivm.DocumentOf("$match", ivm.DocumentOf("status", "active")),
	}
	p, err := plan.Compile(pipeline)
	require.NoError(err)
	require.Len(p.Stages, 1)
	require.Equal(plan.Match, p.Stages[0].Kind)
	require.True(p.Stages[0].CanIncrement)
	require.True(p.Stages[0].CanDecrement)
}

func TestCompileUnknownStageFails(t *testing.T) {
	require := require.New(t)
	pipeline := ivm.Array{ivm.DocumentOf("$bogusStage", ivm.NewDocument())}
	_, err := plan.Compile(pipeline)
	require.Error(err)
	require.True(ivm.ErrUnsupportedStage.Is(err))
}

func TestCountExpandsToGroupAndProject(t *testing.T) {
	require := require.New(t)
	pipeline := ivm.Array{ivm.DocumentOf("$count", "total")}
	p, err := plan.Compile(pipeline)
	require.NoError(err)
	require.Len(p.Stages, 2)
	require.Equal(plan.Group, p.Stages[0].Kind)
	require.Equal(plan.Project, p.Stages[1].Kind)
}

func TestSortByCountExpandsToGroupAndSort(t *testing.T) {
	require := require.New(t)
	pipeline := ivm.Array{ivm.DocumentOf("$sortByCount", "$status")}
	p, err := plan.Compile(pipeline)
	require.NoError(err)
	require.Len(p.Stages, 2)
	require.Equal(plan.Group, p.Stages[0].Kind)
	require.Equal(plan.Sort, p.Stages[1].Kind)
	require.True(p.HasSortLimit == false)
}

func TestHasSortLimitDetectsAdjacentStages(t *testing.T) {
	require := require.New(t)
	pipeline := ivm.Array{
		ivm.DocumentOf("$sort", ivm.DocumentOf("n", float64(1))),
		ivm.DocumentOf("$limit", float64(10)),
	}
	p, err := plan.Compile(pipeline)
	require.NoError(err)
	require.True(p.HasSortLimit)
}

func TestCanVectorizeTrueForSimpleAccumulators(t *testing.T) {
	require := require.New(t)
	pipeline := ivm.Array{
		ivm.DocumentOf("$group", ivm.DocumentOf(
			"_id", "$status",
			"total", ivm.DocumentOf("$sum", "$amount"),
		)),
	}
	p, err := plan.Compile(pipeline)
	require.NoError(err)
	require.True(p.CanVectorize)
}

func TestCanVectorizeFalseForPush(t *testing.T) {
	require := require.New(t)
	pipeline := ivm.Array{
		ivm.DocumentOf("$group", ivm.DocumentOf(
			"_id", "$status",
			"items", ivm.DocumentOf("$push", "$name"),
		)),
	}
	p, err := plan.Compile(pipeline)
	require.NoError(err)
	require.False(p.CanVectorize)
}

func TestFieldDependenciesCollectsFieldPaths(t *testing.T) {
	require := require.New(t)
	pipeline := ivm.Array{
		ivm.DocumentOf("$match", ivm.DocumentOf("$gt", ivm.Array{"$amount", float64(10)})),
	}
	p, err := plan.Compile(pipeline)
	require.NoError(err)
	require.Contains(p.Stages[0].FieldDeps, "amount")
}

func TestMatchPushedBeforeUnrelatedAddFields(t *testing.T) {
	require := require.New(t)
	pipeline := ivm.Array{
		ivm.DocumentOf("$addFields", ivm.DocumentOf("computed", float64(1))),
		ivm.DocumentOf("$match", ivm.DocumentOf("status", "active")),
	}
	p, err := plan.Compile(pipeline)
	require.NoError(err)
	require.Equal(plan.Match, p.Stages[0].Kind)
	require.Equal(plan.AddFields, p.Stages[1].Kind)
}

func TestMatchNotPushedWhenDependentOnAddFields(t *testing.T) {
	require := require.New(t)
	pipeline := ivm.Array{
		ivm.DocumentOf("$addFields", ivm.DocumentOf("computed", float64(1))),
		ivm.DocumentOf("$match", ivm.DocumentOf("computed", float64(1))),
	}
	p, err := plan.Compile(pipeline)
	require.NoError(err)
	require.Equal(plan.AddFields, p.Stages[0].Kind)
	require.Equal(plan.Match, p.Stages[1].Kind)
}
