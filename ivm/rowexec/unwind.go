package rowexec

import (
	"strings"

	"github.com/TomNeyland/modash-go/ivm"
)

// UnwindOperator fans a parent row out into one child row per element of
// an array field, each carrying a VirtualRowID keyed by (parent, index)
// so the child's identity survives across incremental updates as long as
// its position in the array doesn't shift.
type UnwindOperator struct {
	path                 string
	includeArrayIndex    string
	preserveNullAndEmpty bool

	children map[ivm.RowID][]ivm.VirtualRowID
	docs     map[ivm.RowID]*ivm.Document // keyed by VirtualRowID (boxed as RowID)
}

// NewUnwindOperator compiles a $unwind stage spec: either a bare field
// path string or an options document.
func NewUnwindOperator(spec interface{}) (*UnwindOperator, error) {
	u := &UnwindOperator{children: make(map[ivm.RowID][]ivm.VirtualRowID), docs: make(map[ivm.RowID]*ivm.Document)}
	switch v := spec.(type) {
	case string:
		u.path = strings.TrimPrefix(v, "$")
	case *ivm.Document:
		pathRaw, ok := v.Get("path")
		if !ok {
			return nil, ivm.ErrInvalidPipeline.New("$unwind object form requires path")
		}
		pathStr, ok := pathRaw.(string)
		if !ok {
			return nil, ivm.ErrInvalidPipeline.New("$unwind path must be a string")
		}
		u.path = strings.TrimPrefix(pathStr, "$")
		if idx, ok := v.Get("includeArrayIndex"); ok {
			u.includeArrayIndex, _ = idx.(string)
		}
		if pres, ok := v.Get("preserveNullAndEmptyArrays"); ok {
			u.preserveNullAndEmpty, _ = pres.(bool)
		}
	default:
		return nil, ivm.ErrInvalidPipeline.New("$unwind requires a string path or options object")
	}
	return u, nil
}

func (u *UnwindOperator) childDoc(parent *ivm.Document, elem interface{}, index int) *ivm.Document {
	out := parent.Clone()
	out.Set(u.path, elem)
	if u.includeArrayIndex != "" {
		if index < 0 {
			out.Set(u.includeArrayIndex, nil)
		} else {
			out.Set(u.includeArrayIndex, float64(index))
		}
	}
	return out
}

func (u *UnwindOperator) expand(rowID ivm.RowID, doc *ivm.Document) []ivm.VirtualRowID {
	val := ivm.ResolvePath(doc, u.path)
	arr, isArray := val.(ivm.Array)

	if !isArray {
		if val == nil && u.preserveNullAndEmpty {
			return []ivm.VirtualRowID{{Parent: rowID, Index: -1}}
		}
		return nil
	}
	if len(arr) == 0 {
		if u.preserveNullAndEmpty {
			return []ivm.VirtualRowID{{Parent: rowID, Index: -1}}
		}
		return nil
	}
	vids := make([]ivm.VirtualRowID, len(arr))
	for i := range arr {
		vids[i] = ivm.VirtualRowID{Parent: rowID, Index: i}
	}
	return vids
}

func (u *UnwindOperator) materialize(rowID ivm.RowID, doc *ivm.Document, vids []ivm.VirtualRowID) []ivm.Delta {
	val := ivm.ResolvePath(doc, u.path)
	arr, isArray := val.(ivm.Array)
	var deltas []ivm.Delta
	for _, vid := range vids {
		var childDoc *ivm.Document
		if isArray && vid.Index >= 0 {
			childDoc = u.childDoc(doc, arr[vid.Index], vid.Index)
		} else {
			childDoc = u.childDoc(doc, nil, -1)
		}
		u.docs[vid] = childDoc
		deltas = append(deltas, ivm.Delta{RowID: vid, Sign: 1})
	}
	return deltas
}

func (u *UnwindOperator) OnAdd(rowID ivm.RowID, doc *ivm.Document) ([]ivm.Delta, bool, error) {
	vids := u.expand(rowID, doc)
	u.children[rowID] = vids
	return u.materialize(rowID, doc, vids), true, nil
}

func (u *UnwindOperator) OnRemove(rowID ivm.RowID) ([]ivm.Delta, bool, error) {
	vids, ok := u.children[rowID]
	if !ok {
		return nil, true, nil
	}
	delete(u.children, rowID)
	deltas := make([]ivm.Delta, 0, len(vids))
	for _, vid := range vids {
		delete(u.docs, vid)
		deltas = append(deltas, ivm.Delta{RowID: vid, Sign: -1})
	}
	return deltas, true, nil
}

func (u *UnwindOperator) EffectiveDoc(rowID ivm.RowID) (*ivm.Document, bool) {
	d, ok := u.docs[rowID]
	return d, ok
}

func (u *UnwindOperator) Snapshot(rows []RowDoc) error {
	u.children = make(map[ivm.RowID][]ivm.VirtualRowID)
	u.docs = make(map[ivm.RowID]*ivm.Document)
	for _, r := range rows {
		vids := u.expand(r.RowID, r.Doc)
		u.children[r.RowID] = vids
		u.materialize(r.RowID, r.Doc, vids)
	}
	return nil
}

func (u *UnwindOperator) Rows() []RowDoc {
	out := make([]RowDoc, 0, len(u.docs))
	for id, d := range u.docs {
		out = append(out, RowDoc{RowID: id, Doc: d})
	}
	sortRowDocs(out)
	return out
}

// View expands each upstream row into its recorded children, in array
// index order.
func (u *UnwindOperator) View(upstream []RowDoc) []RowDoc {
	var out []RowDoc
	for _, r := range upstream {
		for _, vid := range u.children[r.RowID] {
			if d, ok := u.docs[ivm.RowID(vid)]; ok {
				out = append(out, RowDoc{RowID: vid, Doc: d})
			}
		}
	}
	return out
}
