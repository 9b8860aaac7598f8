// Package group implements $group's per-key accumulator state: Kahan-
// compensated running sums for $sum/$avg, ref-counted multisets for
// $min/$max, ordered value lists for $push/$first/$last, and a
// refcounted dedup set for $addToSet — each supporting decremental retraction so a retired row can
// leave a group without forcing a full recompute of that group.
package group

import (
	"github.com/TomNeyland/modash-go/ivm"
	"github.com/TomNeyland/modash-go/ivm/multiset"
	"github.com/TomNeyland/modash-go/ivm/orderstat"
)

// kahanSum is a Kahan compensated summation accumulator, used so
// $sum/$avg stay numerically stable across many incremental add/subtract
// calls instead of drifting the way naive running sums do.
type kahanSum struct {
	sum, comp float64
}

func (k *kahanSum) Add(x float64) {
	y := x - k.comp
	t := k.sum + y
	k.comp = (t - k.sum) - y
	k.sum = t
}

func (k *kahanSum) Sub(x float64) { k.Add(-x) }

func (k *kahanSum) Value() float64 { return k.sum }

// orderedValues tracks a group's field values in a maintained order:
// by an explicit order key (the upstream sort's composite key, for
// $first/$last after a $sort) when one is supplied, falling back to the
// row id's arrival order otherwise ($push, unsorted pipelines).
type orderedValues struct {
	order  *orderstat.Tree
	values map[ivm.RowID]interface{}
	keys   map[ivm.RowID]interface{}
}

func newOrderedValues(cmp func(a, b interface{}) int) *orderedValues {
	tree := orderstat.New()
	if cmp != nil {
		tree = orderstat.NewWithCompare(cmp)
	}
	return &orderedValues{
		order:  tree,
		values: make(map[ivm.RowID]interface{}),
		keys:   make(map[ivm.RowID]interface{}),
	}
}

func (o *orderedValues) Add(rowID ivm.RowID, value, orderKey interface{}) {
	o.order.Insert(orderKey, rowID)
	o.values[rowID] = value
	o.keys[rowID] = orderKey
}

func (o *orderedValues) Remove(rowID ivm.RowID) {
	key, ok := o.keys[rowID]
	if !ok {
		return
	}
	o.order.Remove(key, rowID)
	delete(o.values, rowID)
	delete(o.keys, rowID)
}

func (o *orderedValues) Snapshot() ivm.Array {
	out := make(ivm.Array, 0, o.order.Len())
	o.order.AscendFirstK(o.order.Len(), func(_ interface{}, rowID ivm.RowID) bool {
		out = append(out, o.values[rowID])
		return true
	})
	return out
}

func (o *orderedValues) First() (interface{}, bool) {
	_, rowID, ok := o.order.Kth(0)
	if !ok {
		return nil, false
	}
	return o.values[rowID], true
}

func (o *orderedValues) Last() (interface{}, bool) {
	_, rowID, ok := o.order.Kth(o.order.Len() - 1)
	if !ok {
		return nil, false
	}
	return o.values[rowID], true
}

// setBucket is one distinct $addToSet value and the rows currently
// contributing it.
type setBucket struct {
	value interface{}
	rows  map[ivm.RowID]struct{}
}

// setAccum maintains $addToSet's dedup-by-structural-equality semantics
// with refcounted retraction, preserving first-seen order for a stable
// snapshot.
type setAccum struct {
	buckets map[uint64]*setBucket
	order   []uint64
}

func newSetAccum() *setAccum {
	return &setAccum{buckets: make(map[uint64]*setBucket)}
}

func (s *setAccum) Add(rowID ivm.RowID, value interface{}) {
	h := ivm.CanonicalHash(value)
	b, ok := s.buckets[h]
	if !ok {
		b = &setBucket{value: value, rows: make(map[ivm.RowID]struct{})}
		s.buckets[h] = b
		s.order = append(s.order, h)
	}
	b.rows[rowID] = struct{}{}
}

func (s *setAccum) Remove(rowID ivm.RowID, value interface{}) {
	h := ivm.CanonicalHash(value)
	b, ok := s.buckets[h]
	if !ok {
		return
	}
	delete(b.rows, rowID)
	if len(b.rows) == 0 {
		delete(s.buckets, h)
		for i, oh := range s.order {
			if oh == h {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
}

func (s *setAccum) Snapshot() ivm.Array {
	out := make(ivm.Array, 0, len(s.order))
	for _, h := range s.order {
		out = append(out, s.buckets[h].value)
	}
	return out
}

// GroupState is one group's accumulator set, keyed by output field name.
// Fields preserves the declared accumulator order (plus a leading "_id")
// so snapshot output is deterministic rather than a function of Go map
// iteration.
type GroupState struct {
	ID     interface{}
	Fields []string
	Count  int

	orderCmp func(a, b interface{}) int

	sums   map[string]*kahanSum
	mins   map[string]*multiset.RefCountedMultiSet
	maxs   map[string]*multiset.RefCountedMultiSet
	pushes map[string]*orderedValues
	sets   map[string]*setAccum
	firsts map[string]*orderedValues
	lasts  map[string]*orderedValues
}

// New returns an empty GroupState for the given group key, with fields
// recording the declared output field order for deterministic snapshots.
func New(id interface{}, fields []string) *GroupState {
	return &GroupState{
		ID:     id,
		Fields: fields,
		sums:   make(map[string]*kahanSum),
		mins:   make(map[string]*multiset.RefCountedMultiSet),
		maxs:   make(map[string]*multiset.RefCountedMultiSet),
		pushes: make(map[string]*orderedValues),
		sets:   make(map[string]*setAccum),
		firsts: make(map[string]*orderedValues),
		lasts:  make(map[string]*orderedValues),
	}
}

// SetOrderCompare installs the comparator $first/$last trees order
// their keys by — the upstream sort's composite comparator when the
// pipeline has one. Call before the first contribution arrives.
func (g *GroupState) SetOrderCompare(cmp func(a, b interface{}) int) {
	g.orderCmp = cmp
}

func (g *GroupState) sumFor(field string) *kahanSum {
	s, ok := g.sums[field]
	if !ok {
		s = &kahanSum{}
		g.sums[field] = s
	}
	return s
}

// AddSum folds x into field's running $sum/$avg numerator.
func (g *GroupState) AddSum(field string, x float64) { g.sumFor(field).Add(x) }

// RemoveSum retracts x from field's running $sum/$avg numerator.
func (g *GroupState) RemoveSum(field string, x float64) { g.sumFor(field).Sub(x) }

// Sum returns field's current running sum.
func (g *GroupState) Sum(field string) float64 { return g.sumFor(field).Value() }

// Avg returns field's current running average over Count contributions.
func (g *GroupState) Avg(field string) float64 {
	if g.Count == 0 {
		return 0
	}
	return g.sumFor(field).Value() / float64(g.Count)
}

func (g *GroupState) minFor(field string) *multiset.RefCountedMultiSet {
	m, ok := g.mins[field]
	if !ok {
		m = multiset.New()
		g.mins[field] = m
	}
	return m
}

func (g *GroupState) maxFor(field string) *multiset.RefCountedMultiSet {
	m, ok := g.maxs[field]
	if !ok {
		m = multiset.New()
		g.maxs[field] = m
	}
	return m
}

// AddMin/RemoveMin feed field's $min multiset.
func (g *GroupState) AddMin(field string, v interface{}) { g.minFor(field).Push(v) }
func (g *GroupState) RemoveMin(field string, v interface{}) bool { return g.minFor(field).Pop(v) }

// Min returns field's current minimum, if any contributions remain.
func (g *GroupState) Min(field string) (interface{}, bool) { return g.minFor(field).Min() }

// AddMax/RemoveMax feed field's $max multiset.
func (g *GroupState) AddMax(field string, v interface{}) { g.maxFor(field).Push(v) }
func (g *GroupState) RemoveMax(field string, v interface{}) bool { return g.maxFor(field).Pop(v) }

// Max returns field's current maximum, if any contributions remain.
func (g *GroupState) Max(field string) (interface{}, bool) { return g.maxFor(field).Max() }

func (g *GroupState) pushFor(field string) *orderedValues {
	p, ok := g.pushes[field]
	if !ok {
		p = newOrderedValues(nil)
		g.pushes[field] = p
	}
	return p
}

// AddPush/RemovePush feed field's $push array.
func (g *GroupState) AddPush(field string, rowID ivm.RowID, v interface{}) {
	g.pushFor(field).Add(rowID, v, nil)
}
func (g *GroupState) RemovePush(field string, rowID ivm.RowID) { g.pushFor(field).Remove(rowID) }

// Push returns field's current $push array in row-arrival order.
func (g *GroupState) Push(field string) ivm.Array { return g.pushFor(field).Snapshot() }

func (g *GroupState) setFor(field string) *setAccum {
	s, ok := g.sets[field]
	if !ok {
		s = newSetAccum()
		g.sets[field] = s
	}
	return s
}

// AddToSet/RemoveFromSet feed field's $addToSet set.
func (g *GroupState) AddToSet(field string, rowID ivm.RowID, v interface{}) {
	g.setFor(field).Add(rowID, v)
}
func (g *GroupState) RemoveFromSet(field string, rowID ivm.RowID, v interface{}) {
	g.setFor(field).Remove(rowID, v)
}

// Set returns field's current $addToSet array.
func (g *GroupState) Set(field string) ivm.Array { return g.setFor(field).Snapshot() }

func (g *GroupState) firstFor(field string) *orderedValues {
	f, ok := g.firsts[field]
	if !ok {
		f = newOrderedValues(g.orderCmp)
		g.firsts[field] = f
	}
	return f
}

func (g *GroupState) lastFor(field string) *orderedValues {
	l, ok := g.lasts[field]
	if !ok {
		l = newOrderedValues(g.orderCmp)
		g.lasts[field] = l
	}
	return l
}

// AddFirstLast records rowID's contribution for both $first and $last
// tracking on field, positioned by orderKey (nil for arrival order) — a
// row always matters to both until removed.
func (g *GroupState) AddFirstLast(field string, rowID ivm.RowID, v, orderKey interface{}) {
	g.firstFor(field).Add(rowID, v, orderKey)
	g.lastFor(field).Add(rowID, v, orderKey)
}

// RemoveFirstLast retracts rowID's contribution from field's $first/$last
// tracking.
func (g *GroupState) RemoveFirstLast(field string, rowID ivm.RowID) {
	g.firstFor(field).Remove(rowID)
	g.lastFor(field).Remove(rowID)
}

// First returns field's value from the first live row in the group's
// order: the installed order comparator's order when SetOrderCompare was
// called, row-arrival order otherwise.
func (g *GroupState) First(field string) (interface{}, bool) { return g.firstFor(field).First() }

// Last returns field's value from the last live row in the same order.
func (g *GroupState) Last(field string) (interface{}, bool) { return g.lastFor(field).Last() }

// Snapshot renders the group's output document, with _id first and the
// remaining fields in declared accumulator order.
func (g *GroupState) Snapshot(accumulatorValue func(field string) interface{}) *ivm.Document {
	doc := ivm.NewDocument()
	doc.Set("_id", g.ID)
	for _, f := range g.Fields {
		doc.Set(f, accumulatorValue(f))
	}
	return doc
}
