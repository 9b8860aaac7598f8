package ivm

import "fmt"

// RowID identifies a row across the lifetime of a streaming collection and
// every plan registered against it. Two concrete shapes coexist: uint64 for
// base rows assigned on insertion, and VirtualRowID for rows synthesized by
// a fan-out stage ($unwind). Both are comparable, so RowID is safe to use
// as a map key.
type RowID interface{}

// VirtualRowID is the identity of a row an operator derives from an
// upstream row rather than from a store insertion — an $unwind child keyed
// by its parent's id and its array index, per spec.md's design notes on
// virtual row ids needing stable identity across deltas.
type VirtualRowID struct {
	Parent RowID
	Index  int
}

func (v VirtualRowID) String() string {
	return fmt.Sprintf("%v[%d]", v.Parent, v.Index)
}

// CompareRowID gives RowID a total order for tie-breaking sort/order-stat
// comparisons: base ids order numerically, virtual ids order after all
// base ids by (parent, index), and two virtual ids order by that pair.
func CompareRowID(a, b RowID) int {
	switch av := a.(type) {
	case uint64:
		switch bv := b.(type) {
		case uint64:
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			default:
				return 0
			}
		case VirtualRowID:
			return -1
		}
	case VirtualRowID:
		switch bv := b.(type) {
		case uint64:
			return 1
		case VirtualRowID:
			if c := CompareRowID(av.Parent, bv.Parent); c != 0 {
				return c
			}
			switch {
			case av.Index < bv.Index:
				return -1
			case av.Index > bv.Index:
				return 1
			default:
				return 0
			}
		}
	}
	return 0
}

// Delta is the atomic unit of change propagated through a compiled plan.
type Delta struct {
	RowID RowID
	Sign  int // +1 for insertion, -1 for removal
}

// removeSentinel is the dynamic type of Remove, the value $$REMOVE
// evaluates to: its presence as a field's computed value causes an
// object-shape projection to omit that field entirely.
type removeSentinel struct{}

// Remove is the $$REMOVE sentinel value.
var Remove interface{} = removeSentinel{}

// IsRemove reports whether v is the $$REMOVE sentinel.
func IsRemove(v interface{}) bool {
	_, ok := v.(removeSentinel)
	return ok
}
