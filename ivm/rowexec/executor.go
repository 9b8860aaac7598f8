package rowexec

import (
	"github.com/TomNeyland/modash-go/ivm"
	"github.com/TomNeyland/modash-go/ivm/plan"
)

// Result is what running a single base-row change through a compiled
// pipeline produces: either the incremental deltas its final stage
// emitted, or — when some stage's capability check failed — the full
// row set that stage and everything downstream of it was rebuilt into.
type Result struct {
	Deltas       []ivm.Delta
	Rebuilt      bool
	RebuiltStage int
	FinalRows    []RowDoc
}

// PipelineExecutor threads Deltas through a chain of compiled Operators,
// one per plan.Stage, implementing the soft-failure contract: a stage
// that can't process a change incrementally is rebuilt from its
// upstream's current row set, and everything downstream of it is
// rebuilt in turn, rather than silently returning wrong output.
type PipelineExecutor struct {
	stages   []Operator
	baseRows func() []RowDoc
}

// NewPipelineExecutor builds an Operator per compiled stage. foreign
// resolves the collection named by a $lookup's "from" into a
// ForeignSource; it may be nil if the plan contains no $lookup stage.
// topK caps how large an adjacent $limit the sort stage absorbs as a
// bounded window; <= 0 uses the built-in default.
func NewPipelineExecutor(p *plan.ExecutionPlan, baseRows func() []RowDoc, foreign func(spec interface{}) (ForeignSource, error), topK int) (*PipelineExecutor, error) {
	if topK <= 0 {
		topK = defaultTopKThreshold
	}
	pe := &PipelineExecutor{baseRows: baseRows}
	for i := 0; i < len(p.Stages); i++ {
		s := p.Stages[i]
		op, err := buildOperator(s, p, i, foreign, topK)
		if err != nil {
			return nil, err
		}
		pe.stages = append(pe.stages, op)
	}
	return pe, nil
}

func buildOperator(s *plan.Stage, p *plan.ExecutionPlan, i int, foreign func(spec interface{}) (ForeignSource, error), topK int) (Operator, error) {
	switch s.Kind {
	case plan.Match:
		return NewMatchOperator(s.Spec)
	case plan.Project:
		return NewProjectOperator(s.Spec)
	case plan.AddFields, plan.Set:
		return NewAddFieldsOperator(s.Spec)
	case plan.Unwind:
		return NewUnwindOperator(s.Spec)
	case plan.Group:
		return NewGroupOperator(s.Spec, upstreamSortSpec(p, i))
	case plan.Sort:
		limit := -1
		if i+1 < len(p.Stages) && p.Stages[i+1].Kind == plan.Limit {
			if n := int(ivm.ToNumber(p.Stages[i+1].Spec)); n > 0 && n <= topK {
				limit = n
			}
		}
		return NewSortOperator(s.Spec, limit)
	case plan.Limit:
		n := int(ivm.ToNumber(s.Spec))
		return NewLimitOperator(n, upstreamSortSpec(p, i)), nil
	case plan.Skip:
		n := int(ivm.ToNumber(s.Spec))
		return NewSkipOperator(n, upstreamSortSpec(p, i)), nil
	case plan.Lookup:
		if foreign == nil {
			return nil, ivm.ErrInvalidPipeline.New("$lookup requires a foreign collection resolver")
		}
		fs, err := foreign(s.Spec)
		if err != nil {
			return nil, err
		}
		return NewLookupOperator(s.Spec, fs)
	default:
		return nil, ivm.ErrUnsupportedStage.New(string(s.Kind))
	}
}

// upstreamSortSpec finds the $sort whose order governs stage i's input:
// the nearest preceding sort with no order-replacing stage ($group) in
// between. Nil when stage i's input follows plain arrival order.
func upstreamSortSpec(p *plan.ExecutionPlan, i int) interface{} {
	for j := i - 1; j >= 0; j-- {
		switch p.Stages[j].Kind {
		case plan.Sort:
			return p.Stages[j].Spec
		case plan.Group:
			return nil
		}
	}
	return nil
}

// Insert processes the addition of a new base row.
func (pe *PipelineExecutor) Insert(rowID uint64, doc *ivm.Document) (Result, error) {
	return pe.run([]ivm.Delta{{RowID: rowID, Sign: 1}}, map[ivm.RowID]*ivm.Document{ivm.RowID(rowID): doc})
}

// Remove processes the removal of an existing base row.
func (pe *PipelineExecutor) Remove(rowID uint64) (Result, error) {
	return pe.run([]ivm.Delta{{RowID: rowID, Sign: -1}}, nil)
}

func (pe *PipelineExecutor) run(initial []ivm.Delta, baseDocs map[ivm.RowID]*ivm.Document) (Result, error) {
	cur := initial
	for stageIdx, op := range pe.stages {
		next, failed, err := pe.runStage(stageIdx, op, cur, baseDocs)
		if err != nil {
			return Result{}, err
		}
		if failed {
			rows, err := pe.rebuildFrom(stageIdx)
			if err != nil {
				return Result{}, err
			}
			return Result{Rebuilt: true, RebuiltStage: stageIdx, FinalRows: rows}, nil
		}
		cur = next
	}
	return Result{Deltas: cur}, nil
}

func (pe *PipelineExecutor) runStage(stageIdx int, op Operator, deltas []ivm.Delta, baseDocs map[ivm.RowID]*ivm.Document) ([]ivm.Delta, bool, error) {
	var out []ivm.Delta
	for _, d := range deltas {
		if d.Sign > 0 {
			doc, ok := pe.docFor(stageIdx, d.RowID, baseDocs)
			if !ok {
				continue
			}
			sd, ok, err := op.OnAdd(d.RowID, doc)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				return nil, true, nil
			}
			out = append(out, sd...)
		} else {
			sd, ok, err := op.OnRemove(d.RowID)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				return nil, true, nil
			}
			out = append(out, sd...)
		}
	}
	return out, false, nil
}

func (pe *PipelineExecutor) docFor(stageIdx int, rowID ivm.RowID, baseDocs map[ivm.RowID]*ivm.Document) (*ivm.Document, bool) {
	if stageIdx == 0 {
		d, ok := baseDocs[rowID]
		return d, ok
	}
	return pe.stages[stageIdx-1].EffectiveDoc(rowID)
}

// rebuildFrom rebuilds stage stageIdx and every stage after it from the
// upstream row set — the base collection's live rows if stageIdx is the
// first stage, or the preceding stage's current Rows() otherwise.
func (pe *PipelineExecutor) rebuildFrom(stageIdx int) ([]RowDoc, error) {
	var rows []RowDoc
	if stageIdx == 0 {
		rows = pe.baseRows()
	} else {
		rows = pe.stages[stageIdx-1].Rows()
	}
	for i := stageIdx; i < len(pe.stages); i++ {
		if err := pe.stages[i].Snapshot(rows); err != nil {
			return nil, err
		}
		rows = pe.stages[i].Rows()
	}
	return rows, nil
}

// Rebuild rebuilds the entire pipeline from the base collection's
// current live rows — the full-recompute fallback a live view takes when
// an incremental step fails, per spec.md §4.3/§7.
func (pe *PipelineExecutor) Rebuild() ([]RowDoc, error) {
	return pe.rebuildFrom(0)
}

// defaultTopKThreshold caps how large a $limit the sort stage will
// absorb as a bounded window when the caller doesn't configure one; a
// larger limit runs as a separate stage.
const defaultTopKThreshold = 1024

// FinalRows materializes the pipeline's current result in its defined
// order by chaining each stage's View over the base rows' insertion
// order, without recomputing any stage state.
func (pe *PipelineExecutor) FinalRows() []RowDoc {
	rows := pe.baseRows()
	for _, op := range pe.stages {
		rows = op.View(rows)
	}
	return rows
}
