package collection_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TomNeyland/modash-go/ivm"
	"github.com/TomNeyland/modash-go/ivm/collection"
	_ "github.com/TomNeyland/modash-go/ivm/expression/function"
)

func sumField(rows []*ivm.Document) float64 {
	if len(rows) == 0 {
		return 0
	}
	v, _ := rows[0].Get("s")
	f, _ := v.(float64)
	return f
}

func TestScenarioMatchThenGroupSumTracksAddAndRemove(t *testing.T) {
	require := require.New(t)
	c := collection.New("nums", nil)
	pipeline := ivm.Array{
		ivm.DocumentOf("$match", ivm.DocumentOf("a", ivm.DocumentOf("$gte", float64(2)))),
		ivm.DocumentOf("$group", ivm.DocumentOf("_id", nil, "s", ivm.DocumentOf("$sum", "$a"))),
	}

	ids, err := c.AddBulk([]*ivm.Document{
		ivm.DocumentOf("a", float64(1)),
		ivm.DocumentOf("a", float64(2)),
		ivm.DocumentOf("a", float64(3)),
	})
	require.NoError(err)

	rows, err := c.Snapshot(pipeline)
	require.NoError(err)
	require.Equal(5.0, sumField(rows))

	_, err = c.Add(ivm.DocumentOf("a", float64(10)))
	require.NoError(err)
	rows, err = c.Snapshot(pipeline)
	require.NoError(err)
	require.Equal(15.0, sumField(rows))

	require.NoError(c.Remove(ids[1]))
	rows, err = c.Snapshot(pipeline)
	require.NoError(err)
	require.Equal(13.0, sumField(rows))
}

func TestScenarioGroupByFieldSumAndMin(t *testing.T) {
	require := require.New(t)
	c := collection.New("vals", nil)
	pipeline := ivm.Array{
		ivm.DocumentOf("$group", ivm.DocumentOf(
			"_id", "$x",
			"sum", ivm.DocumentOf("$sum", "$v"),
			"min", ivm.DocumentOf("$min", "$v"),
		)),
	}

	ids, err := c.AddBulk([]*ivm.Document{
		ivm.DocumentOf("x", "a", "v", float64(1)),
		ivm.DocumentOf("x", "b", "v", float64(2)),
		ivm.DocumentOf("x", "a", "v", float64(3)),
	})
	require.NoError(err)

	byID := func(rows []*ivm.Document) map[string][2]float64 {
		out := make(map[string][2]float64)
		for _, r := range rows {
			id, _ := r.Get("_id")
			sum, _ := r.Get("sum")
			min, _ := r.Get("min")
			out[id.(string)] = [2]float64{sum.(float64), min.(float64)}
		}
		return out
	}

	rows, err := c.Snapshot(pipeline)
	require.NoError(err)
	got := byID(rows)
	require.Equal([2]float64{4, 1}, got["a"])
	require.Equal([2]float64{2, 2}, got["b"])

	require.NoError(c.Remove(ids[0]))
	rows, err = c.Snapshot(pipeline)
	require.NoError(err)
	got = byID(rows)
	require.Equal([2]float64{3, 3}, got["a"])
	require.Equal([2]float64{2, 2}, got["b"])
}

func TestScenarioUnwindThenCount(t *testing.T) {
	require := require.New(t)
	c := collection.New("tags", nil)
	pipeline := ivm.Array{
		ivm.DocumentOf("$unwind", "$t"),
		ivm.DocumentOf("$group", ivm.DocumentOf("_id", nil, "c", ivm.DocumentOf("$sum", float64(1)))),
	}
	_, err := c.Add(ivm.DocumentOf("t", ivm.Array{float64(1), float64(2), float64(3)}))
	require.NoError(err)

	rows, err := c.Snapshot(pipeline)
	require.NoError(err)
	require.Len(rows, 1)
	v, _ := rows[0].Get("c")
	require.Equal(3.0, v)
}

func TestScenarioSortLimitTracksAdd(t *testing.T) {
	require := require.New(t)
	c := collection.New("ranked", nil)
	pipeline := ivm.Array{
		ivm.DocumentOf("$sort", ivm.DocumentOf("n", float64(1))),
		ivm.DocumentOf("$limit", float64(3)),
	}
	_, err := c.AddBulk([]*ivm.Document{
		ivm.DocumentOf("n", float64(3)),
		ivm.DocumentOf("n", float64(1)),
		ivm.DocumentOf("n", float64(2)),
		ivm.DocumentOf("n", float64(5)),
		ivm.DocumentOf("n", float64(4)),
	})
	require.NoError(err)

	rows, err := c.Snapshot(pipeline)
	require.NoError(err)
	require.Len(rows, 3)
	require.Equal([]float64{1, 2, 3}, nValues(rows))

	_, err = c.Add(ivm.DocumentOf("n", float64(0)))
	require.NoError(err)
	rows, err = c.Snapshot(pipeline)
	require.NoError(err)
	require.Equal([]float64{0, 1, 2}, nValues(rows))
}

func nValues(rows []*ivm.Document) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		v, _ := r.Get("n")
		out[i] = v.(float64)
	}
	return out
}

func TestScenarioEventSourceFeedsStreamedGroupTotal(t *testing.T) {
	require := require.New(t)
	c := collection.New("sales", nil)
	pipeline := ivm.Array{
		ivm.DocumentOf("$group", ivm.DocumentOf("_id", nil, "total", ivm.DocumentOf("$sum", "$amount"))),
	}
	sub, _, ch, err := c.Stream(pipeline)
	require.NoError(err)
	defer c.Unstream(sub)

	_, feed := c.ConnectEventSource(collection.EventSourceConfig{
		Name:   "sale-stream",
		Buffer: 8,
		Transform: func(event interface{}) (*ivm.Document, error) {
			sale := event.(*ivm.Document)
			amount, _ := sale.Get("amount")
			return ivm.DocumentOf("amount", amount), nil
		},
	})
	for _, amount := range []float64{5, 10, 15} {
		feed <- ivm.DocumentOf("type", "sale", "amount", amount)
	}
	close(feed)

	var last collection.Event
	for i := 0; i < 3; i++ {
		last = <-ch
		require.NoError(last.Err)
	}

	require.Eventually(func() bool {
		rows, err := c.Snapshot(pipeline)
		if err != nil || len(rows) != 1 {
			return false
		}
		total, _ := rows[0].Get("total")
		return total == 30.0
	}, time.Second, time.Millisecond)
}
