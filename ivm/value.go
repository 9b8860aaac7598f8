package ivm

import (
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/hashstructure"
	"github.com/spf13/cast"
)

// Array is the ordered-sequence member of the value domain.
type Array []interface{}

// Document is the ordered-mapping member of the value domain: null,
// boolean, number, string, timestamp, Array, and *Document are the only
// dynamic types a Value may hold. Field order is preserved so that
// projections and $group snapshots are reproducible.
type Document struct {
	keys   []string
	values map[string]interface{}
}

// NewDocument builds an empty ordered document.
func NewDocument() *Document {
	return &Document{values: make(map[string]interface{})}
}

// DocumentOf builds a document from key/value pairs in the given order,
// the same order they're returned from Keys.
func DocumentOf(pairs ...interface{}) *Document {
	d := NewDocument()
	for i := 0; i+1 < len(pairs); i += 2 {
		d.Set(pairs[i].(string), pairs[i+1])
	}
	return d
}

// Get returns the value at key and whether it was present.
func (d *Document) Get(key string) (interface{}, bool) {
	if d == nil {
		return nil, false
	}
	v, ok := d.values[key]
	return v, ok
}

// Set assigns key to value, appending it to the key order on first use.
func (d *Document) Set(key string, value interface{}) {
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
}

// Delete removes key, if present.
func (d *Document) Delete(key string) {
	if _, ok := d.values[key]; !ok {
		return
	}
	delete(d.values, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the field names in insertion order.
func (d *Document) Keys() []string {
	if d == nil {
		return nil
	}
	return d.keys
}

// Len returns the number of fields.
func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

// Clone returns a shallow copy safe to mutate independently of d.
func (d *Document) Clone() *Document {
	if d == nil {
		return NewDocument()
	}
	c := &Document{
		keys:   append([]string(nil), d.keys...),
		values: make(map[string]interface{}, len(d.values)),
	}
	for k, v := range d.values {
		c.values[k] = v
	}
	return c
}

// GetPath resolves a dotted field path ("a.b.c") against the document,
// returning nil when any segment is missing or the traversal hits a
// non-document value. Array segments fan out elementwise per spec.
func (d *Document) GetPath(path string) interface{} {
	v, _ := getPath(d, splitPath(path))
	return v
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// ResolvePath resolves a dotted field path against any value, not just a
// *Document — used by field-path expressions, which may evaluate against a
// narrowed "current" value inside a sub-projection or reducer.
func ResolvePath(v interface{}, path string) interface{} {
	if path == "" {
		return v
	}
	result, _ := getPath(v, splitPath(path))
	return result
}

// HasPath reports whether path resolves to a present cell in v, so
// $exists can tell a field explicitly set to null apart from one that
// is absent.
func HasPath(v interface{}, path string) bool {
	_, ok := getPath(v, splitPath(path))
	return ok
}

func getPath(v interface{}, segs []string) (interface{}, bool) {
	if len(segs) == 0 {
		return v, true
	}
	switch cur := v.(type) {
	case *Document:
		child, ok := cur.Get(segs[0])
		if !ok {
			return nil, false
		}
		return getPath(child, segs[1:])
	case Array:
		out := make(Array, 0, len(cur))
		any := false
		for _, elem := range cur {
			if ev, ok := getPath(elem, segs); ok {
				out = append(out, ev)
				any = true
			} else {
				out = append(out, nil)
			}
		}
		if !any {
			return nil, false
		}
		return out, true
	default:
		return nil, false
	}
}

// typeRank implements the total order spec.md defines over the value
// domain: null < number < string < document < array < boolean < timestamp.
func typeRank(v interface{}) int {
	switch v.(type) {
	case nil:
		return 0
	case float64, int, int64:
		return 1
	case string:
		return 2
	case *Document:
		return 3
	case Array:
		return 4
	case bool:
		return 5
	case time.Time:
		return 6
	default:
		return 7
	}
}

// Compare implements $cmp: -1, 0, or 1. Cross-type comparisons order by
// typeRank; same-type comparisons use numeric/lexicographic/recursive-key
// ordering as specified.
func Compare(a, b interface{}) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch av := a.(type) {
	case nil:
		return 0
	case string:
		bv := b.(string)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case bool:
		bv := b.(bool)
		if av == bv {
			return 0
		}
		if !av {
			return -1
		}
		return 1
	case time.Time:
		bv := b.(time.Time)
		switch {
		case av.Before(bv):
			return -1
		case av.After(bv):
			return 1
		default:
			return 0
		}
	case *Document:
		return compareDocuments(av, b.(*Document))
	case Array:
		return compareArrays(av, b.(Array))
	default:
		af, bf := toNumber(a), toNumber(b)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
}

func compareDocuments(a, b *Document) int {
	n := len(a.keys)
	if len(b.keys) < n {
		n = len(b.keys)
	}
	for i := 0; i < n; i++ {
		if a.keys[i] != b.keys[i] {
			if a.keys[i] < b.keys[i] {
				return -1
			}
			return 1
		}
		if c := Compare(a.values[a.keys[i]], b.values[b.keys[i]]); c != 0 {
			return c
		}
	}
	switch {
	case len(a.keys) < len(b.keys):
		return -1
	case len(a.keys) > len(b.keys):
		return 1
	default:
		return 0
	}
}

func compareArrays(a, b Array) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// Less reports the canonical total order over (value, rowID) pairs,
// tie-breaking on rowID so every pair is unique even when values collide.
func Less(aVal interface{}, aID RowID, bVal interface{}, bID RowID) bool {
	if c := Compare(aVal, bVal); c != 0 {
		return c < 0
	}
	return CompareRowID(aID, bID) < 0
}

// Equal implements structural equality over the value domain, as required
// by $eq, $addToSet, and the set operators.
func Equal(a, b interface{}) bool {
	return Compare(a, b) == 0 && typeRank(a) == typeRank(b)
}

// CanonicalHash returns a stable hash of v usable as a set/map key for
// structural-equality containers ($addToSet, set operators), grounded on
// the teacher's mitchellh/hashstructure dependency.
func CanonicalHash(v interface{}) uint64 {
	h, err := hashstructure.Hash(canonicalize(v), nil)
	if err != nil {
		// hashstructure only errors on unsupported kinds (chan/func),
		// which never appear in the value domain.
		panic(err)
	}
	return h
}

func canonicalize(v interface{}) interface{} {
	switch t := v.(type) {
	case *Document:
		keys := append([]string(nil), t.keys...)
		sort.Strings(keys)
		m := make(map[string]interface{}, len(keys))
		for _, k := range keys {
			m[k] = canonicalize(t.values[k])
		}
		return m
	case Array:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = canonicalize(e)
		}
		return out
	default:
		return t
	}
}

// Truthy implements the logical-truthiness rule: everything is truthy
// except null, false, 0, the empty string, and the empty array.
func Truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case Array:
		return len(t) != 0
	default:
		if n, ok := asNumber(v); ok {
			return n != 0
		}
		return true
	}
}

func asNumber(v interface{}) (float64, bool) {
	switch v.(type) {
	case float64, int, int64, int32:
		return cast.ToFloat64(v), true
	default:
		return 0, false
	}
}

// toNumber implements arithmetic numeric coercion: strings parse as float
// (NaN on failure becomes 0), booleans are 0/1, timestamps are epoch
// millis, null is 0 — grounded on the teacher's spf13/cast dependency.
func toNumber(v interface{}) float64 {
	switch t := v.(type) {
	case nil:
		return 0
	case bool:
		if t {
			return 1
		}
		return 0
	case time.Time:
		return float64(t.UnixMilli())
	case string:
		f, err := cast.ToFloat64E(t)
		if err != nil {
			return 0
		}
		return f
	default:
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return 0
		}
		return f
	}
}

// ToNumber exports toNumber for the operator library.
func ToNumber(v interface{}) float64 { return toNumber(v) }

// Dedup removes structurally-equal duplicates from arr, preserving the
// order of first occurrence, as required by the set operators' "operate on
// deduplicated element-sequences compared structurally" rule.
func Dedup(arr Array) Array {
	buckets := make(map[uint64][]interface{})
	out := make(Array, 0, len(arr))
	for _, v := range arr {
		h := CanonicalHash(v)
		dup := false
		for _, existing := range buckets[h] {
			if Equal(existing, v) {
				dup = true
				break
			}
		}
		if !dup {
			buckets[h] = append(buckets[h], v)
			out = append(out, v)
		}
	}
	return out
}

// Contains reports whether arr holds an element structurally equal to v.
func Contains(arr Array, v interface{}) bool {
	for _, e := range arr {
		if Equal(e, v) {
			return true
		}
	}
	return false
}
