package rowexec

import (
	"github.com/TomNeyland/modash-go/ivm"
	"github.com/TomNeyland/modash-go/ivm/expression"
	"github.com/TomNeyland/modash-go/ivm/group"
)

type accumSpec struct {
	field string
	op    string
	expr  expression.Expression
}

// upstreamOrder is the composite sort key of the nearest $sort stage
// above a $group, so $first/$last reflect the sorted order instead of
// row arrival order.
type upstreamOrder struct {
	keys []sortKey
}

func newUpstreamOrder(sortSpec interface{}) (*upstreamOrder, error) {
	doc, ok := sortSpec.(*ivm.Document)
	if !ok {
		return nil, ivm.ErrInvalidPipeline.New("$sort requires an object of field: 1|-1")
	}
	o := &upstreamOrder{}
	for _, field := range doc.Keys() {
		dirRaw, _ := doc.Get(field)
		o.keys = append(o.keys, sortKey{field: field, desc: ivm.ToNumber(dirRaw) < 0})
	}
	return o, nil
}

// keyOf extracts the composite key for one document: the sort fields'
// values in declared order.
func (o *upstreamOrder) keyOf(doc *ivm.Document) interface{} {
	out := make(ivm.Array, len(o.keys))
	for i, k := range o.keys {
		out[i] = ivm.ResolvePath(doc, k.field)
	}
	return out
}

// compare orders two composite keys per-field, honoring each field's
// direction.
func (o *upstreamOrder) compare(a, b interface{}) int {
	aa, _ := a.(ivm.Array)
	bb, _ := b.(ivm.Array)
	for i := range o.keys {
		var av, bv interface{}
		if i < len(aa) {
			av = aa[i]
		}
		if i < len(bb) {
			bv = bb[i]
		}
		c := ivm.Compare(av, bv)
		if o.keys[i].desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

// GroupOperator implements $group: one group.GroupState per distinct _id
// value, with each output row keyed by that _id's canonical hash so the
// same group's output document can be incrementally retracted and
// reinserted (rather than rescanning every member row) as membership
// changes. A group that loses its last member is itself retracted.
// Output rows surface in first-creation order of their group keys.
type GroupOperator struct {
	idExpr expression.Expression
	accums []accumSpec
	fields []string

	order *upstreamOrder

	groups    map[uint64]*group.GroupState
	groupDocs map[uint64]*ivm.Document
	members   map[uint64]map[ivm.RowID]bool
	rowGroup  map[ivm.RowID]uint64
	rowDocs   map[ivm.RowID]*ivm.Document
	keyOrder  []uint64
}

// NewGroupOperator compiles a $group stage spec: _id plus named
// accumulator fields, each a single-key {"$op": expr} document. An
// optional upstream $sort spec positions $first/$last by that sort's
// order instead of row arrival order.
func NewGroupOperator(spec interface{}, upstreamSort ...interface{}) (*GroupOperator, error) {
	doc, ok := spec.(*ivm.Document)
	if !ok {
		return nil, ivm.ErrInvalidPipeline.New("$group requires an object with _id")
	}
	idRaw, ok := doc.Get("_id")
	if !ok {
		return nil, ivm.ErrInvalidPipeline.New("$group requires _id")
	}
	idExpr, err := expression.Compile(idRaw)
	if err != nil {
		return nil, err
	}

	g := &GroupOperator{idExpr: idExpr}
	if len(upstreamSort) > 0 && upstreamSort[0] != nil {
		order, err := newUpstreamOrder(upstreamSort[0])
		if err != nil {
			return nil, err
		}
		g.order = order
	}
	g.reset()
	for _, field := range doc.Keys() {
		if field == "_id" {
			continue
		}
		accDoc, ok := doc.Get(field)
		ad, ok2 := accDoc.(*ivm.Document)
		if !ok || !ok2 || ad.Len() != 1 {
			return nil, ivm.ErrInvalidPipeline.New("$group accumulator field must be a single-operator object")
		}
		op := ad.Keys()[0]
		switch op {
		case "$sum", "$avg", "$min", "$max", "$push", "$addToSet", "$first", "$last", "$count":
		default:
			return nil, ivm.ErrUnknownOperator.New(op)
		}
		exprRaw, _ := ad.Get(op)
		expr, err := expression.Compile(exprRaw)
		if err != nil {
			return nil, err
		}
		g.fields = append(g.fields, field)
		g.accums = append(g.accums, accumSpec{field: field, op: op, expr: expr})
	}
	return g, nil
}

func (g *GroupOperator) reset() {
	g.groups = make(map[uint64]*group.GroupState)
	g.groupDocs = make(map[uint64]*ivm.Document)
	g.members = make(map[uint64]map[ivm.RowID]bool)
	g.rowGroup = make(map[ivm.RowID]uint64)
	g.rowDocs = make(map[ivm.RowID]*ivm.Document)
	g.keyOrder = nil
}

func (g *GroupOperator) groupIDValue(doc *ivm.Document) (interface{}, error) {
	ec := ivm.NewEvalContext(doc, ivm.Now())
	return g.idExpr.Eval(doc, ec)
}

func (g *GroupOperator) apply(rowID ivm.RowID, doc *ivm.Document, gs *group.GroupState, add bool) error {
	ec := ivm.NewEvalContext(doc, ivm.Now())
	for _, a := range g.accums {
		v, err := a.expr.Eval(doc, ec)
		if err != nil {
			return err
		}
		switch a.op {
		case "$sum", "$avg":
			if add {
				gs.AddSum(a.field, ivm.ToNumber(v))
			} else {
				gs.RemoveSum(a.field, ivm.ToNumber(v))
			}
		case "$count":
			if add {
				gs.AddSum(a.field, 1)
			} else {
				gs.RemoveSum(a.field, 1)
			}
		case "$min":
			if add {
				gs.AddMin(a.field, v)
			} else {
				gs.RemoveMin(a.field, v)
			}
		case "$max":
			if add {
				gs.AddMax(a.field, v)
			} else {
				gs.RemoveMax(a.field, v)
			}
		case "$push":
			if add {
				gs.AddPush(a.field, rowID, v)
			} else {
				gs.RemovePush(a.field, rowID)
			}
		case "$addToSet":
			if add {
				gs.AddToSet(a.field, rowID, v)
			} else {
				gs.RemoveFromSet(a.field, rowID, v)
			}
		case "$first", "$last":
			if add {
				var orderKey interface{}
				if g.order != nil {
					orderKey = g.order.keyOf(doc)
				}
				gs.AddFirstLast(a.field, rowID, v, orderKey)
			} else {
				gs.RemoveFirstLast(a.field, rowID)
			}
		}
	}
	return nil
}

func (g *GroupOperator) snapshotGroup(gs *group.GroupState) *ivm.Document {
	return gs.Snapshot(func(field string) interface{} {
		for _, a := range g.accums {
			if a.field != field {
				continue
			}
			switch a.op {
			case "$sum", "$count":
				return gs.Sum(field)
			case "$avg":
				return gs.Avg(field)
			case "$min":
				v, _ := gs.Min(field)
				return v
			case "$max":
				v, _ := gs.Max(field)
				return v
			case "$push":
				return gs.Push(field)
			case "$addToSet":
				return gs.Set(field)
			case "$first":
				v, _ := gs.First(field)
				return v
			case "$last":
				v, _ := gs.Last(field)
				return v
			}
		}
		return nil
	})
}

func (g *GroupOperator) OnAdd(rowID ivm.RowID, doc *ivm.Document) ([]ivm.Delta, bool, error) {
	idVal, err := g.groupIDValue(doc)
	if err != nil {
		return nil, false, err
	}
	hash := ivm.CanonicalHash(idVal)
	gs, existed := g.groups[hash]
	if !existed {
		gs = group.New(idVal, g.fields)
		if g.order != nil {
			gs.SetOrderCompare(g.order.compare)
		}
		g.groups[hash] = gs
		g.members[hash] = make(map[ivm.RowID]bool)
		g.keyOrder = append(g.keyOrder, hash)
	}
	if err := g.apply(rowID, doc, gs, true); err != nil {
		return nil, false, err
	}
	gs.Count++
	g.members[hash][rowID] = true
	g.rowGroup[rowID] = hash
	g.rowDocs[rowID] = doc

	var deltas []ivm.Delta
	if existed {
		deltas = append(deltas, ivm.Delta{RowID: hash, Sign: -1})
	}
	g.groupDocs[hash] = g.snapshotGroup(gs)
	deltas = append(deltas, ivm.Delta{RowID: hash, Sign: 1})
	return deltas, true, nil
}

func (g *GroupOperator) OnRemove(rowID ivm.RowID) ([]ivm.Delta, bool, error) {
	hash, ok := g.rowGroup[rowID]
	if !ok {
		return nil, true, nil
	}
	gs := g.groups[hash]
	doc := g.rowDocs[rowID]
	if gs == nil || doc == nil {
		return nil, false, nil
	}
	if err := g.apply(rowID, doc, gs, false); err != nil {
		return nil, false, err
	}

	delete(g.rowGroup, rowID)
	delete(g.rowDocs, rowID)
	delete(g.members[hash], rowID)
	gs.Count--

	deltas := []ivm.Delta{{RowID: hash, Sign: -1}}
	if len(g.members[hash]) == 0 {
		delete(g.groups, hash)
		delete(g.groupDocs, hash)
		delete(g.members, hash)
		for i, h := range g.keyOrder {
			if h == hash {
				g.keyOrder = append(g.keyOrder[:i], g.keyOrder[i+1:]...)
				break
			}
		}
		return deltas, true, nil
	}
	g.groupDocs[hash] = g.snapshotGroup(gs)
	deltas = append(deltas, ivm.Delta{RowID: hash, Sign: 1})
	return deltas, true, nil
}

func (g *GroupOperator) EffectiveDoc(rowID ivm.RowID) (*ivm.Document, bool) {
	hash, ok := rowID.(uint64)
	if !ok {
		return nil, false
	}
	d, ok := g.groupDocs[hash]
	return d, ok
}

func (g *GroupOperator) Snapshot(rows []RowDoc) error {
	g.reset()
	for _, r := range rows {
		if _, _, err := g.OnAdd(r.RowID, r.Doc); err != nil {
			return err
		}
	}
	return nil
}

func (g *GroupOperator) Rows() []RowDoc {
	out := make([]RowDoc, 0, len(g.keyOrder))
	for _, hash := range g.keyOrder {
		if d, ok := g.groupDocs[hash]; ok {
			out = append(out, RowDoc{RowID: hash, Doc: d})
		}
	}
	return out
}

// View replaces the upstream order: groups surface in first-creation
// order of their keys regardless of which upstream rows fed them.
func (g *GroupOperator) View(_ []RowDoc) []RowDoc {
	return g.Rows()
}
