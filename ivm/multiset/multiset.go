// Package multiset implements the ref-counted multiset IVM's $min/$max
// accumulators rely on: pushing the same value twice then popping it once
// must leave the value present, and popping a value that brings its count
// to zero must update the tracked minimum/maximum in O(log n).
package multiset

import (
	"github.com/google/btree"

	"github.com/TomNeyland/modash-go/ivm"
)

type entry struct {
	hash  uint64
	value interface{}
	count int
}

func (a *entry) Less(than btree.Item) bool {
	b := than.(*entry)
	if c := ivm.Compare(a.value, b.value); c != 0 {
		return c < 0
	}
	return a.hash < b.hash
}

// RefCountedMultiSet tracks value occurrence counts with an ordered view
// for cheap min/max queries, supporting decrement so a $group accumulator
// can retract a retired row's contribution without rescanning the group.
type RefCountedMultiSet struct {
	byHash map[uint64]*entry
	tree   *btree.BTree
}

// New returns an empty multiset.
func New() *RefCountedMultiSet {
	return &RefCountedMultiSet{byHash: make(map[uint64]*entry), tree: btree.New(32)}
}

// Push records one occurrence of value.
func (m *RefCountedMultiSet) Push(value interface{}) {
	h := ivm.CanonicalHash(value)
	e, ok := m.byHash[h]
	if !ok {
		e = &entry{hash: h, value: value, count: 0}
		m.byHash[h] = e
		m.tree.ReplaceOrInsert(e)
	}
	e.count++
}

// Pop retracts one occurrence of value. It reports false if value has no
// remaining occurrences to retract — the caller's signal to fall back to
// a full recompute rather than trust a corrupted count.
func (m *RefCountedMultiSet) Pop(value interface{}) bool {
	h := ivm.CanonicalHash(value)
	e, ok := m.byHash[h]
	if !ok || e.count <= 0 {
		return false
	}
	e.count--
	if e.count == 0 {
		delete(m.byHash, h)
		m.tree.Delete(e)
	}
	return true
}

// Min returns the smallest currently-present value.
func (m *RefCountedMultiSet) Min() (interface{}, bool) {
	item := m.tree.Min()
	if item == nil {
		return nil, false
	}
	return item.(*entry).value, true
}

// Max returns the largest currently-present value.
func (m *RefCountedMultiSet) Max() (interface{}, bool) {
	item := m.tree.Max()
	if item == nil {
		return nil, false
	}
	return item.(*entry).value, true
}

// Len returns the number of distinct values currently present.
func (m *RefCountedMultiSet) Len() int {
	return m.tree.Len()
}

// Count returns how many occurrences of value are currently tracked.
func (m *RefCountedMultiSet) Count(value interface{}) int {
	e, ok := m.byHash[ivm.CanonicalHash(value)]
	if !ok {
		return 0
	}
	return e.count
}
