package store

import (
	"github.com/RoaringBitmap/roaring"
)

// LiveSet tracks which base row ids are currently live, backed by a
// Roaring bitmap. Virtual row ids (unwind children) are not tracked here —
// their liveness is derived from their parent's membership at read time.
//
// Invariants: count == bitmap.GetCardinality(), and isSet(id) implies
// id < maxRowID+1.
type LiveSet struct {
	bits     *roaring.Bitmap
	maxRowID uint64
	hasAny   bool
}

// NewLiveSet returns an empty LiveSet.
func NewLiveSet() *LiveSet {
	return &LiveSet{bits: roaring.New()}
}

// Insert marks rowID live. rowID must fit in 32 bits — the in-memory
// engine's practical scale limit for a single base collection.
func (ls *LiveSet) Insert(rowID uint64) {
	ls.bits.Add(uint32(rowID))
	if !ls.hasAny || rowID > ls.maxRowID {
		ls.maxRowID = rowID
		ls.hasAny = true
	}
}

// Remove marks rowID dead. maxRowID is left untouched: it tracks the
// high-water mark of ids ever assigned, not the live count.
func (ls *LiveSet) Remove(rowID uint64) {
	ls.bits.Remove(uint32(rowID))
}

// IsSet reports whether rowID is currently live.
func (ls *LiveSet) IsSet(rowID uint64) bool {
	return ls.bits.Contains(uint32(rowID))
}

// Count returns the number of live rows.
func (ls *LiveSet) Count() uint64 {
	return ls.bits.GetCardinality()
}

// MaxRowID returns the highest row id ever inserted (live or since removed).
func (ls *LiveSet) MaxRowID() uint64 {
	return ls.maxRowID
}

// Iterate calls fn for each live row id in ascending order. Iteration
// stops early if fn returns false.
func (ls *LiveSet) Iterate(fn func(rowID uint64) bool) {
	it := ls.bits.Iterator()
	for it.HasNext() {
		if !fn(uint64(it.Next())) {
			return
		}
	}
}

// Clone returns a deep copy that shares no state with ls.
func (ls *LiveSet) Clone() *LiveSet {
	return &LiveSet{bits: ls.bits.Clone(), maxRowID: ls.maxRowID, hasAny: ls.hasAny}
}
