package collection

import (
	"github.com/TomNeyland/modash-go/ivm"
	"github.com/TomNeyland/modash-go/ivm/store"
)

// probeSelectivityFloor is the cutoff below which a dimension probe is
// judged no better than a sequential scan: a column with only a couple
// of distinct values yields buckets nearly as large as the live set,
// and walking one loses to a straight scan on constant factors.
const probeSelectivityFloor = 0.01

// projectIntoStoreLocked writes doc's scalar field paths into the
// column store and every maintained dimension, the per-insert half of
// the store's data flow. Nested documents flatten to dotted paths;
// arrays (including any documents inside them) land in their column as
// whole values.
func (c *StreamingCollection) projectIntoStoreLocked(rowID uint64, doc *ivm.Document) {
	flattenScalars("", doc, func(path string, value interface{}) {
		c.columns.Set(path, int(rowID), value)
	})
	for path, d := range c.dims {
		if v := ivm.ResolvePath(doc, path); v != nil {
			d.Add(rowID, v)
		}
	}
}

func flattenScalars(prefix string, doc *ivm.Document, emit func(path string, value interface{})) {
	for _, k := range doc.Keys() {
		v, _ := doc.Get(k)
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if sub, ok := v.(*ivm.Document); ok {
			flattenScalars(path, sub, emit)
			continue
		}
		emit(path, v)
	}
}

// EnsureDimension returns the maintained dimension over path, building
// it from the current live rows on first request. Subsequent adds and
// removals keep it current.
func (c *StreamingCollection) EnsureDimension(path string) *store.Dimension {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureDimensionLocked(path)
}

func (c *StreamingCollection) ensureDimensionLocked(path string) *store.Dimension {
	if d, ok := c.dims[path]; ok {
		return d
	}
	d := store.NewDimension(path)
	col := (*store.Column)(nil)
	if c.columns.HasColumn(path) {
		col = c.columns.Column(path)
	}
	c.live.Iterate(func(rowID uint64) bool {
		var v interface{}
		if col != nil {
			v, _ = col.Get(int(rowID))
		} else {
			v = ivm.ResolvePath(c.rows[rowID], path)
		}
		if v != nil {
			d.Add(rowID, v)
		}
		return true
	})
	c.dims[path] = d
	c.ctx.Logger.WithField("collection", c.name).WithField("path", path).Debug("dimension built")
	return d
}

// probeCandidatesLocked answers an equality/$in lookup through a maintained
// dimension when one exists for the path and its selectivity makes a
// bucket walk worthwhile. ok is false when the caller should fall back
// to a sequential scan; candidates are a superset check — the caller
// still verifies each row against the full predicate.
func (c *StreamingCollection) probeCandidatesLocked(spec interface{}) ([]uint64, bool) {
	doc, ok := spec.(*ivm.Document)
	if !ok || doc.Len() != 1 {
		return nil, false
	}
	path := doc.Keys()[0]
	if len(path) == 0 || path[0] == '$' {
		return nil, false
	}
	cond, _ := doc.Get(path)
	var values []interface{}
	switch v := cond.(type) {
	case *ivm.Document:
		if v.Len() == 1 {
			if eq, ok := v.Get("$eq"); ok {
				values = []interface{}{eq}
			} else if inRaw, ok := v.Get("$in"); ok {
				if arr, ok := inRaw.(ivm.Array); ok {
					values = arr
				}
			}
		}
		if values == nil {
			return nil, false
		}
	case ivm.Array:
		return nil, false
	default:
		values = []interface{}{cond}
	}

	d, ok := c.dims[path]
	if !ok {
		return nil, false
	}
	if d.Selectivity(int(c.live.Count())) < probeSelectivityFloor {
		return nil, false
	}
	var out []uint64
	for _, v := range values {
		out = append(out, d.RowIDsForValue(v)...)
	}
	return out, true
}
