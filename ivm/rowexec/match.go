package rowexec

import (
	"github.com/TomNeyland/modash-go/ivm"
	"github.com/TomNeyland/modash-go/ivm/store"
)

// MatchOperator maintains the live set of rows currently satisfying a
// compiled filter predicate.
type MatchOperator struct {
	pred Predicate
	live *store.LiveSet
	docs map[ivm.RowID]*ivm.Document
}

// NewMatchOperator compiles spec as a match-query predicate.
func NewMatchOperator(spec interface{}) (*MatchOperator, error) {
	pred, err := CompilePredicate(spec)
	if err != nil {
		return nil, err
	}
	return &MatchOperator{pred: pred, live: store.NewLiveSet(), docs: make(map[ivm.RowID]*ivm.Document)}, nil
}

func rowIDAsUint64(rowID ivm.RowID) (uint64, bool) {
	u, ok := rowID.(uint64)
	return u, ok
}

func (m *MatchOperator) OnAdd(rowID ivm.RowID, doc *ivm.Document) ([]ivm.Delta, bool, error) {
	if !m.pred(doc) {
		return nil, true, nil
	}
	m.docs[rowID] = doc
	if u, ok := rowIDAsUint64(rowID); ok {
		m.live.Insert(u)
	}
	return []ivm.Delta{{RowID: rowID, Sign: 1}}, true, nil
}

func (m *MatchOperator) OnRemove(rowID ivm.RowID) ([]ivm.Delta, bool, error) {
	if _, ok := m.docs[rowID]; !ok {
		return nil, true, nil
	}
	delete(m.docs, rowID)
	if u, ok := rowIDAsUint64(rowID); ok {
		m.live.Remove(u)
	}
	return []ivm.Delta{{RowID: rowID, Sign: -1}}, true, nil
}

func (m *MatchOperator) EffectiveDoc(rowID ivm.RowID) (*ivm.Document, bool) {
	d, ok := m.docs[rowID]
	return d, ok
}

func (m *MatchOperator) Snapshot(rows []RowDoc) error {
	m.live = store.NewLiveSet()
	m.docs = make(map[ivm.RowID]*ivm.Document)
	for _, r := range rows {
		if m.pred(r.Doc) {
			m.docs[r.RowID] = r.Doc
			if u, ok := rowIDAsUint64(r.RowID); ok {
				m.live.Insert(u)
			}
		}
	}
	return nil
}

func (m *MatchOperator) Rows() []RowDoc {
	out := make([]RowDoc, 0, len(m.docs))
	for id, d := range m.docs {
		out = append(out, RowDoc{RowID: id, Doc: d})
	}
	sortRowDocs(out)
	return out
}

// View keeps the upstream order, dropping rows the predicate rejected.
func (m *MatchOperator) View(upstream []RowDoc) []RowDoc {
	out := make([]RowDoc, 0, len(upstream))
	for _, r := range upstream {
		if d, ok := m.docs[r.RowID]; ok {
			out = append(out, RowDoc{RowID: r.RowID, Doc: d})
		}
	}
	return out
}
