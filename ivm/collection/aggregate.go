package collection

import (
	"github.com/TomNeyland/modash-go/ivm"
	"github.com/TomNeyland/modash-go/ivm/plan"
	"github.com/TomNeyland/modash-go/ivm/rowexec"
)

// Aggregate runs pipeline once over docs and returns the result — the
// batch execution path, with no collection, no views, and no
// incremental state left behind. $lookup stages resolve through reg;
// pass nil when the pipeline has none.
func Aggregate(docs []*ivm.Document, pipeline ivm.Array, reg *Registry) ([]*ivm.Document, error) {
	p, err := plan.Compile(pipeline)
	if err != nil {
		return nil, err
	}
	base := func() []rowexec.RowDoc {
		rows := make([]rowexec.RowDoc, len(docs))
		for i, d := range docs {
			rows[i] = rowexec.RowDoc{RowID: uint64(i), Doc: d}
		}
		return rows
	}
	var resolver func(spec interface{}) (rowexec.ForeignSource, error)
	if reg != nil {
		resolver = func(spec interface{}) (rowexec.ForeignSource, error) {
			doc, ok := spec.(*ivm.Document)
			if !ok {
				return nil, ivm.ErrInvalidPipeline.New("$lookup requires an object")
			}
			fromRaw, ok := doc.Get("from")
			if !ok {
				return nil, ivm.ErrInvalidPipeline.New("$lookup requires from")
			}
			from, _ := fromRaw.(string)
			return reg.get(from)
		}
	}
	ex, err := rowexec.NewPipelineExecutor(p, base, resolver, 0)
	if err != nil {
		return nil, err
	}
	if _, err := ex.Rebuild(); err != nil {
		return nil, err
	}
	return docsOf(ex.FinalRows()), nil
}
