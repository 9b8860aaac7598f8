package rowexec

import (
	"sort"
	"strings"

	"github.com/TomNeyland/modash-go/ivm"
	"github.com/TomNeyland/modash-go/ivm/orderstat"
)

type sortKey struct {
	field string
	desc  bool
}

// SortOperator maintains every live row in sorted order per a composite
// multi-field key, tie-breaking on row id. When limit is non-negative
// (the $sort immediately followed by $limit shape plan.HasSortLimit
// flags), only the first limit rows are exposed downstream; the rest
// stay resident so a removal inside the window can promote the next row
// without a rebuild.
type SortOperator struct {
	keys  []sortKey
	limit int // -1 for unlimited

	docs  map[ivm.RowID]*ivm.Document
	order []ivm.RowID // always kept sorted per less()
}

// NewSortOperator compiles a $sort stage spec: {field: 1 | -1, ...}.
func NewSortOperator(spec interface{}, limit int) (*SortOperator, error) {
	doc, ok := spec.(*ivm.Document)
	if !ok {
		return nil, ivm.ErrInvalidPipeline.New("$sort requires an object of field: 1|-1")
	}
	s := &SortOperator{limit: limit, docs: make(map[ivm.RowID]*ivm.Document)}
	for _, field := range doc.Keys() {
		dirRaw, _ := doc.Get(field)
		dir := ivm.ToNumber(dirRaw)
		s.keys = append(s.keys, sortKey{field: strings.TrimPrefix(field, "$"), desc: dir < 0})
	}
	return s, nil
}

func (s *SortOperator) less(a, b ivm.RowID) bool {
	da, db := s.docs[a], s.docs[b]
	for _, k := range s.keys {
		va := ivm.ResolvePath(da, k.field)
		vb := ivm.ResolvePath(db, k.field)
		c := ivm.Compare(va, vb)
		if k.desc {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
	}
	return ivm.CompareRowID(a, b) < 0
}

func (s *SortOperator) insertSorted(rowID ivm.RowID) int {
	i := sort.Search(len(s.order), func(i int) bool { return s.less(rowID, s.order[i]) })
	s.order = append(s.order, nil)
	copy(s.order[i+1:], s.order[i:])
	s.order[i] = rowID
	return i
}

func (s *SortOperator) removeFromOrder(rowID ivm.RowID) int {
	for i, id := range s.order {
		if id == rowID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return i
		}
	}
	return -1
}

func (s *SortOperator) windowed() bool { return s.limit >= 0 }

func (s *SortOperator) OnAdd(rowID ivm.RowID, doc *ivm.Document) ([]ivm.Delta, bool, error) {
	if _, exists := s.docs[rowID]; exists {
		s.removeFromOrder(rowID)
	}
	s.docs[rowID] = doc
	pos := s.insertSorted(rowID)

	if !s.windowed() {
		return []ivm.Delta{{RowID: rowID, Sign: 1}}, true, nil
	}
	if pos >= s.limit {
		// landed outside the window; nothing downstream changes
		return nil, true, nil
	}
	deltas := []ivm.Delta{{RowID: rowID, Sign: 1}}
	if len(s.order) > s.limit {
		// the row previously at the window's edge falls out
		deltas = append(deltas, ivm.Delta{RowID: s.order[s.limit], Sign: -1})
	}
	return deltas, true, nil
}

func (s *SortOperator) OnRemove(rowID ivm.RowID) ([]ivm.Delta, bool, error) {
	if _, ok := s.docs[rowID]; !ok {
		return nil, true, nil
	}
	pos := s.removeFromOrder(rowID)
	delete(s.docs, rowID)

	if !s.windowed() {
		return []ivm.Delta{{RowID: rowID, Sign: -1}}, true, nil
	}
	if pos >= s.limit {
		return nil, true, nil
	}
	deltas := []ivm.Delta{{RowID: rowID, Sign: -1}}
	if len(s.order) >= s.limit {
		// the row just past the edge is promoted into the window
		deltas = append(deltas, ivm.Delta{RowID: s.order[s.limit-1], Sign: 1})
	}
	return deltas, true, nil
}

func (s *SortOperator) EffectiveDoc(rowID ivm.RowID) (*ivm.Document, bool) {
	d, ok := s.docs[rowID]
	if !ok {
		return nil, false
	}
	if s.windowed() {
		for i, id := range s.order {
			if i >= s.limit {
				return nil, false
			}
			if id == rowID {
				break
			}
		}
	}
	return d, true
}

func (s *SortOperator) Snapshot(rows []RowDoc) error {
	s.docs = make(map[ivm.RowID]*ivm.Document)
	s.order = nil
	for _, r := range rows {
		s.docs[r.RowID] = r.Doc
		s.insertSorted(r.RowID)
	}
	return nil
}

func (s *SortOperator) Rows() []RowDoc {
	n := len(s.order)
	if s.windowed() && s.limit < n {
		n = s.limit
	}
	out := make([]RowDoc, 0, n)
	for _, id := range s.order[:n] {
		out = append(out, RowDoc{RowID: id, Doc: s.docs[id]})
	}
	return out
}

// View ignores the upstream order entirely: a sort stage defines its
// own output order.
func (s *SortOperator) View(_ []RowDoc) []RowDoc {
	return s.Rows()
}

// boundedWindow is the shared rank bookkeeping $limit and $skip sit on:
// every seen row stays resident with its document and its position key,
// so a boundary crossing in either direction resolves to concrete
// promote/demote deltas instead of a rebuild. Positions follow the
// upstream order — arrival order by default, the composite sort key
// when the stage sits below a $sort.
type boundedWindow struct {
	order *orderstat.Tree
	docs  map[ivm.RowID]*ivm.Document
	keys  map[ivm.RowID]interface{}
	byKey *upstreamOrder
}

func newBoundedWindow(upstreamSort interface{}) (*boundedWindow, error) {
	w := &boundedWindow{}
	if upstreamSort != nil {
		order, err := newUpstreamOrder(upstreamSort)
		if err != nil {
			return nil, err
		}
		w.byKey = order
	}
	w.reset()
	return w, nil
}

func (w *boundedWindow) reset() {
	if w.byKey != nil {
		w.order = orderstat.NewWithCompare(w.byKey.compare)
	} else {
		w.order = orderstat.New()
	}
	w.docs = make(map[ivm.RowID]*ivm.Document)
	w.keys = make(map[ivm.RowID]interface{})
}

func (w *boundedWindow) keyOf(doc *ivm.Document) interface{} {
	if w.byKey == nil {
		return nil
	}
	return w.byKey.keyOf(doc)
}

func (w *boundedWindow) add(rowID ivm.RowID, doc *ivm.Document) {
	if _, exists := w.docs[rowID]; exists {
		w.order.Remove(w.keys[rowID], rowID)
	}
	key := w.keyOf(doc)
	w.order.Insert(key, rowID)
	w.docs[rowID] = doc
	w.keys[rowID] = key
}

func (w *boundedWindow) remove(rowID ivm.RowID) bool {
	if _, exists := w.docs[rowID]; !exists {
		return false
	}
	w.order.Remove(w.keys[rowID], rowID)
	delete(w.docs, rowID)
	delete(w.keys, rowID)
	return true
}

func (w *boundedWindow) rank(rowID ivm.RowID) int {
	return w.order.Rank(w.keys[rowID], rowID)
}

// LimitOperator passes through only the first n rows of the upstream
// order.
type LimitOperator struct {
	n int
	w *boundedWindow
}

// NewLimitOperator builds a $limit stage for n rows. An optional
// upstream $sort spec makes "first n" follow that sort's order instead
// of row arrival order.
func NewLimitOperator(n int, upstreamSort ...interface{}) *LimitOperator {
	var sortSpec interface{}
	if len(upstreamSort) > 0 {
		sortSpec = upstreamSort[0]
	}
	w, err := newBoundedWindow(sortSpec)
	if err != nil {
		w, _ = newBoundedWindow(nil)
	}
	return &LimitOperator{n: n, w: w}
}

func (l *LimitOperator) OnAdd(rowID ivm.RowID, doc *ivm.Document) ([]ivm.Delta, bool, error) {
	l.w.add(rowID, doc)
	if l.w.rank(rowID) >= l.n {
		return nil, true, nil
	}
	deltas := []ivm.Delta{{RowID: rowID, Sign: 1}}
	if l.w.order.Len() > l.n {
		// the row pushed from position n-1 to n leaves the window
		_, displaced, ok := l.w.order.Kth(l.n)
		if ok {
			deltas = append(deltas, ivm.Delta{RowID: displaced, Sign: -1})
		}
	}
	return deltas, true, nil
}

func (l *LimitOperator) OnRemove(rowID ivm.RowID) ([]ivm.Delta, bool, error) {
	if _, ok := l.w.docs[rowID]; !ok {
		return nil, true, nil
	}
	wasPassed := l.w.rank(rowID) < l.n
	l.w.remove(rowID)
	if !wasPassed {
		return nil, true, nil
	}
	deltas := []ivm.Delta{{RowID: rowID, Sign: -1}}
	if l.w.order.Len() >= l.n {
		// the row previously at position n is promoted into the window
		_, promoted, ok := l.w.order.Kth(l.n - 1)
		if ok {
			deltas = append(deltas, ivm.Delta{RowID: promoted, Sign: 1})
		}
	}
	return deltas, true, nil
}

func (l *LimitOperator) EffectiveDoc(rowID ivm.RowID) (*ivm.Document, bool) {
	d, ok := l.w.docs[rowID]
	if !ok {
		return nil, false
	}
	if l.w.rank(rowID) >= l.n {
		return nil, false
	}
	return d, true
}

func (l *LimitOperator) Snapshot(rows []RowDoc) error {
	l.w.reset()
	for _, r := range rows {
		l.w.add(r.RowID, r.Doc)
	}
	return nil
}

func (l *LimitOperator) Rows() []RowDoc {
	out := make([]RowDoc, 0, l.n)
	l.w.order.AscendFirstK(l.n, func(_ interface{}, rowID ivm.RowID) bool {
		out = append(out, RowDoc{RowID: rowID, Doc: l.w.docs[rowID]})
		return true
	})
	return out
}

// View slices the upstream ordered sequence: $limit's output order is
// whatever order its upstream exposes, cut to the first n entries.
func (l *LimitOperator) View(upstream []RowDoc) []RowDoc {
	if len(upstream) <= l.n {
		return upstream
	}
	return upstream[:l.n]
}

// SkipOperator passes through every row after the first n of the
// upstream order.
type SkipOperator struct {
	n int
	w *boundedWindow
}

// NewSkipOperator builds a $skip stage for n rows, with the same
// optional upstream $sort handling as NewLimitOperator.
func NewSkipOperator(n int, upstreamSort ...interface{}) *SkipOperator {
	var sortSpec interface{}
	if len(upstreamSort) > 0 {
		sortSpec = upstreamSort[0]
	}
	w, err := newBoundedWindow(sortSpec)
	if err != nil {
		w, _ = newBoundedWindow(nil)
	}
	return &SkipOperator{n: n, w: w}
}

func (s *SkipOperator) OnAdd(rowID ivm.RowID, doc *ivm.Document) ([]ivm.Delta, bool, error) {
	s.w.add(rowID, doc)
	if s.w.rank(rowID) >= s.n {
		return []ivm.Delta{{RowID: rowID, Sign: 1}}, true, nil
	}
	// the new row lands inside the skipped prefix, pushing the row
	// previously at position n-1 out past the boundary
	if s.w.order.Len() > s.n {
		_, pushed, ok := s.w.order.Kth(s.n)
		if ok {
			return []ivm.Delta{{RowID: pushed, Sign: 1}}, true, nil
		}
	}
	return nil, true, nil
}

func (s *SkipOperator) OnRemove(rowID ivm.RowID) ([]ivm.Delta, bool, error) {
	if _, ok := s.w.docs[rowID]; !ok {
		return nil, true, nil
	}
	wasPassed := s.w.rank(rowID) >= s.n
	s.w.remove(rowID)
	if wasPassed {
		return []ivm.Delta{{RowID: rowID, Sign: -1}}, true, nil
	}
	// a skipped row left, so the row previously at position n slides
	// into the skipped prefix
	if s.w.order.Len() >= s.n {
		_, demoted, ok := s.w.order.Kth(s.n - 1)
		if ok {
			return []ivm.Delta{{RowID: demoted, Sign: -1}}, true, nil
		}
	}
	return nil, true, nil
}

func (s *SkipOperator) EffectiveDoc(rowID ivm.RowID) (*ivm.Document, bool) {
	d, ok := s.w.docs[rowID]
	if !ok {
		return nil, false
	}
	if s.w.rank(rowID) < s.n {
		return nil, false
	}
	return d, true
}

func (s *SkipOperator) Snapshot(rows []RowDoc) error {
	s.w.reset()
	for _, r := range rows {
		s.w.add(r.RowID, r.Doc)
	}
	return nil
}

func (s *SkipOperator) Rows() []RowDoc {
	var out []RowDoc
	skipped := 0
	s.w.order.AscendFirstK(s.w.order.Len(), func(_ interface{}, rowID ivm.RowID) bool {
		if skipped < s.n {
			skipped++
			return true
		}
		out = append(out, RowDoc{RowID: rowID, Doc: s.w.docs[rowID]})
		return true
	})
	return out
}

// View slices the upstream ordered sequence past the first n entries.
func (s *SkipOperator) View(upstream []RowDoc) []RowDoc {
	if len(upstream) <= s.n {
		return nil
	}
	return upstream[s.n:]
}
