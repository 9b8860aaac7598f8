// Package orderstat implements an AVL-balanced order-statistic tree:
// every node additionally carries its subtree size, so rank and kth-
// smallest queries run in O(log n) alongside the usual O(log n)
// insert/delete. The $limit/$skip windows use Kth to find the row at
// their boundary without re-sorting the whole live set.
package orderstat

import (
	"github.com/TomNeyland/modash-go/ivm"
)

type node struct {
	value       interface{}
	rowID       ivm.RowID
	left, right *node
	height      int
	size        int
}

func height(n *node) int {
	if n == nil {
		return 0
	}
	return n.height
}

func size(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func update(n *node) {
	n.height = 1 + max(height(n.left), height(n.right))
	n.size = 1 + size(n.left) + size(n.right)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func balanceFactor(n *node) int {
	if n == nil {
		return 0
	}
	return height(n.left) - height(n.right)
}

func rotateRight(y *node) *node {
	x := y.left
	t2 := x.right
	x.right = y
	y.left = t2
	update(y)
	update(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	t2 := y.left
	y.left = x
	x.right = t2
	update(x)
	update(y)
	return y
}

func rebalance(n *node) *node {
	update(n)
	bf := balanceFactor(n)
	if bf > 1 {
		if balanceFactor(n.left) < 0 {
			n.left = rotateLeft(n.left)
		}
		return rotateRight(n)
	}
	if bf < -1 {
		if balanceFactor(n.right) > 0 {
			n.right = rotateRight(n.right)
		}
		return rotateLeft(n)
	}
	return n
}

// Tree is an AVL order-statistic tree ordered by (value, rowID) with
// rowID as the final tiebreak, so every pair is unique even when values
// collide. The value comparator defaults to ivm.Compare; NewWithCompare
// swaps in a custom one (e.g. a composite multi-direction sort key).
type Tree struct {
	root *node
	cmp  func(a, b interface{}) int
}

// New returns an empty tree ordered by ivm.Compare.
func New() *Tree {
	return NewWithCompare(ivm.Compare)
}

// NewWithCompare returns an empty tree ordered by cmp over values,
// tie-breaking on rowID.
func NewWithCompare(cmp func(a, b interface{}) int) *Tree {
	return &Tree{cmp: cmp}
}

func (t *Tree) less(aVal interface{}, aID ivm.RowID, bVal interface{}, bID ivm.RowID) bool {
	if c := t.cmp(aVal, bVal); c != 0 {
		return c < 0
	}
	return ivm.CompareRowID(aID, bID) < 0
}

func (t *Tree) insert(n *node, value interface{}, rowID ivm.RowID) *node {
	if n == nil {
		return &node{value: value, rowID: rowID, height: 1, size: 1}
	}
	if t.less(value, rowID, n.value, n.rowID) {
		n.left = t.insert(n.left, value, rowID)
	} else {
		n.right = t.insert(n.right, value, rowID)
	}
	return rebalance(n)
}

func minNode(n *node) *node {
	for n.left != nil {
		n = n.left
	}
	return n
}

func (t *Tree) remove(n *node, value interface{}, rowID ivm.RowID) *node {
	if n == nil {
		return nil
	}
	if t.less(value, rowID, n.value, n.rowID) {
		n.left = t.remove(n.left, value, rowID)
	} else if t.less(n.value, n.rowID, value, rowID) {
		n.right = t.remove(n.right, value, rowID)
	} else {
		// exact match (equal value and rowID)
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		succ := minNode(n.right)
		n.value, n.rowID = succ.value, succ.rowID
		n.right = t.remove(n.right, succ.value, succ.rowID)
	}
	return rebalance(n)
}

// Insert adds (value, rowID) to the tree.
func (t *Tree) Insert(value interface{}, rowID ivm.RowID) {
	t.root = t.insert(t.root, value, rowID)
}

// Remove deletes the (value, rowID) pair from the tree, if present.
func (t *Tree) Remove(value interface{}, rowID ivm.RowID) {
	t.root = t.remove(t.root, value, rowID)
}

// Len returns the number of elements in the tree.
func (t *Tree) Len() int {
	return size(t.root)
}

// Kth returns the k-th smallest (0-indexed) (value, rowID) pair.
func (t *Tree) Kth(k int) (interface{}, ivm.RowID, bool) {
	n := t.root
	if k < 0 || k >= size(n) {
		return nil, nil, false
	}
	for n != nil {
		ls := size(n.left)
		if k < ls {
			n = n.left
		} else if k == ls {
			return n.value, n.rowID, true
		} else {
			k -= ls + 1
			n = n.right
		}
	}
	return nil, nil, false
}

// Rank returns the number of elements strictly less than (value, rowID).
func (t *Tree) Rank(value interface{}, rowID ivm.RowID) int {
	n := t.root
	rank := 0
	for n != nil {
		if t.less(value, rowID, n.value, n.rowID) {
			n = n.left
		} else if t.less(n.value, n.rowID, value, rowID) {
			rank += size(n.left) + 1
			n = n.right
		} else {
			return rank + size(n.left)
		}
	}
	return rank
}

// AscendFirstK calls fn for the k smallest elements in ascending order,
// stopping early if fn returns false. Used to list the rows of the
// $limit/$skip windows and $group's ordered accumulator values.
func (t *Tree) AscendFirstK(k int, fn func(value interface{}, rowID ivm.RowID) bool) {
	var walk func(n *node) bool
	count := 0
	walk = func(n *node) bool {
		if n == nil || count >= k {
			return true
		}
		if !walk(n.left) {
			return false
		}
		if count >= k {
			return true
		}
		count++
		if !fn(n.value, n.rowID) {
			return false
		}
		return walk(n.right)
	}
	walk(t.root)
}
