package store

import (
	"github.com/google/btree"

	"github.com/TomNeyland/modash-go/ivm"
)

// dimItem is the google/btree element Dimension keeps its sorted-values
// view in: a canonical value plus its structural hash, ordered by value
// with the hash as a tiebreaker so structurally-equal-but-distinct values
// (e.g. two documents) still get a stable position.
type dimItem struct {
	hash  uint64
	value interface{}
}

func (a dimItem) Less(than btree.Item) bool {
	b := than.(dimItem)
	if c := ivm.Compare(a.value, b.value); c != 0 {
		return c < 0
	}
	return a.hash < b.hash
}

// dimEntry is one distinct value bucket: the set of live row ids currently
// holding that value.
type dimEntry struct {
	value  interface{}
	rowIDs map[uint64]struct{}
}

// Dimension is a crossfilter-style index over a single field path: a
// value -> rowids map for equality/range lookups, a google/btree-backed
// sorted view of distinct values for range queries (SortedValues,
// AscendRange), and a rowid -> value reverse map so a row's old value can be found and
// retracted on update or removal.
type Dimension struct {
	Path    string
	byHash  map[uint64]*dimEntry
	reverse map[uint64]uint64 // rowID -> hash of its current value
	tree    *btree.BTree
}

// NewDimension creates an empty dimension over path.
func NewDimension(path string) *Dimension {
	return &Dimension{
		Path:    path,
		byHash:  make(map[uint64]*dimEntry),
		reverse: make(map[uint64]uint64),
		tree:    btree.New(32),
	}
}

// Add records that rowID now holds value. If rowID previously held a
// different value, the old association is retracted first.
func (d *Dimension) Add(rowID uint64, value interface{}) {
	d.Remove(rowID)
	h := ivm.CanonicalHash(value)
	e, ok := d.byHash[h]
	if !ok {
		e = &dimEntry{value: value, rowIDs: make(map[uint64]struct{})}
		d.byHash[h] = e
		d.tree.ReplaceOrInsert(dimItem{hash: h, value: value})
	}
	e.rowIDs[rowID] = struct{}{}
	d.reverse[rowID] = h
}

// Remove retracts rowID's current association, if any.
func (d *Dimension) Remove(rowID uint64) {
	h, ok := d.reverse[rowID]
	if !ok {
		return
	}
	delete(d.reverse, rowID)
	e, ok := d.byHash[h]
	if !ok {
		return
	}
	delete(e.rowIDs, rowID)
	if len(e.rowIDs) == 0 {
		delete(d.byHash, h)
		d.tree.Delete(dimItem{hash: h, value: e.value})
	}
}

// RowIDsForValue returns the live row ids currently holding value.
func (d *Dimension) RowIDsForValue(value interface{}) []uint64 {
	e, ok := d.byHash[ivm.CanonicalHash(value)]
	if !ok {
		return nil
	}
	out := make([]uint64, 0, len(e.rowIDs))
	for id := range e.rowIDs {
		out = append(out, id)
	}
	return out
}

// Cardinality returns the number of distinct values currently indexed.
func (d *Dimension) Cardinality() int {
	return len(d.byHash)
}

// Selectivity estimates how selective an equality match against this
// dimension is: distinct value count divided by live row count. Higher
// means more selective (smaller buckets per value). This is an
// optimization-only hint used by the collection's dimension probe to
// choose between a bucket walk and a scan — it never affects result
// correctness.
func (d *Dimension) Selectivity(liveRowCount int) float64 {
	if liveRowCount == 0 {
		return 0
	}
	return float64(d.Cardinality()) / float64(liveRowCount)
}

// SortedValues returns the dimension's distinct values in ascending order.
func (d *Dimension) SortedValues() []interface{} {
	out := make([]interface{}, 0, d.tree.Len())
	d.tree.Ascend(func(it btree.Item) bool {
		out = append(out, it.(dimItem).value)
		return true
	})
	return out
}

// AscendRange visits distinct values v with lo <= v <= hi (per ivm.Compare)
// in ascending order, stopping early if fn returns false.
func (d *Dimension) AscendRange(lo, hi interface{}, fn func(value interface{}, rowIDs []uint64) bool) {
	loItem := dimItem{hash: 0, value: lo}
	d.tree.AscendGreaterOrEqual(loItem, func(it btree.Item) bool {
		di := it.(dimItem)
		if hi != nil && ivm.Compare(di.value, hi) > 0 {
			return false
		}
		e := d.byHash[di.hash]
		ids := make([]uint64, 0, len(e.rowIDs))
		for id := range e.rowIDs {
			ids = append(ids, id)
		}
		return fn(di.value, ids)
	})
}
