package rowexec

import (
	"strings"

	"github.com/TomNeyland/modash-go/ivm"
)

// ForeignSource is the minimal view a LookupOperator needs of the
// collection named in a $lookup's "from" — a query by foreignField value
// and a generation counter so the operator can tell a soft rebuild is
// needed without the foreign collection pushing its own deltas through.
type ForeignSource interface {
	MatchForeignField(foreignField string, value interface{}) []*ivm.Document
	Generation() uint64
}

// LookupOperator implements $lookup's localField/foreignField form: for
// each local row, look up every foreign document sharing localField's
// value with foreignField, and attach the match array under "as". It
// incrementally handles local row arrival/departure; a foreign-side
// change is detected via Generation() changing on the next local
// arrival and reported as a capability miss, so the caller rebuilds
// this stage and everything downstream of it.
type LookupOperator struct {
	localField, foreignField, as string
	foreign                      ForeignSource
	lastGeneration               uint64

	docs map[ivm.RowID]*ivm.Document
}

// NewLookupOperator compiles a $lookup stage spec (localField/
// foreignField/as only — pipeline-form $lookup is a non-goal).
func NewLookupOperator(spec interface{}, foreign ForeignSource) (*LookupOperator, error) {
	doc, ok := spec.(*ivm.Document)
	if !ok {
		return nil, ivm.ErrInvalidPipeline.New("$lookup requires an object")
	}
	localRaw, ok1 := doc.Get("localField")
	foreignRaw, ok2 := doc.Get("foreignField")
	asRaw, ok3 := doc.Get("as")
	if !ok1 || !ok2 || !ok3 {
		return nil, ivm.ErrInvalidPipeline.New("$lookup requires localField, foreignField, and as")
	}
	localField, _ := localRaw.(string)
	foreignField, _ := foreignRaw.(string)
	as, _ := asRaw.(string)
	return &LookupOperator{
		localField:   strings.TrimPrefix(localField, "$"),
		foreignField: strings.TrimPrefix(foreignField, "$"),
		as:           as,
		foreign:      foreign,
		docs:         make(map[ivm.RowID]*ivm.Document),
	}, nil
}

func (l *LookupOperator) join(doc *ivm.Document) *ivm.Document {
	localVal := ivm.ResolvePath(doc, l.localField)
	matches := l.foreign.MatchForeignField(l.foreignField, localVal)
	arr := make(ivm.Array, len(matches))
	for i, m := range matches {
		arr[i] = m
	}
	out := doc.Clone()
	out.Set(l.as, arr)
	return out
}

func (l *LookupOperator) OnAdd(rowID ivm.RowID, doc *ivm.Document) ([]ivm.Delta, bool, error) {
	if l.foreign.Generation() != l.lastGeneration && len(l.docs) > 0 {
		return nil, false, nil
	}
	l.lastGeneration = l.foreign.Generation()
	l.docs[rowID] = l.join(doc)
	return []ivm.Delta{{RowID: rowID, Sign: 1}}, true, nil
}

func (l *LookupOperator) OnRemove(rowID ivm.RowID) ([]ivm.Delta, bool, error) {
	if _, ok := l.docs[rowID]; !ok {
		return nil, true, nil
	}
	delete(l.docs, rowID)
	return []ivm.Delta{{RowID: rowID, Sign: -1}}, true, nil
}

func (l *LookupOperator) EffectiveDoc(rowID ivm.RowID) (*ivm.Document, bool) {
	d, ok := l.docs[rowID]
	return d, ok
}

func (l *LookupOperator) Snapshot(rows []RowDoc) error {
	l.docs = make(map[ivm.RowID]*ivm.Document)
	l.lastGeneration = l.foreign.Generation()
	for _, r := range rows {
		l.docs[r.RowID] = l.join(r.Doc)
	}
	return nil
}

func (l *LookupOperator) Rows() []RowDoc {
	out := make([]RowDoc, 0, len(l.docs))
	for id, d := range l.docs {
		out = append(out, RowDoc{RowID: id, Doc: d})
	}
	sortRowDocs(out)
	return out
}

// View keeps the upstream order, substituting each row's joined
// document.
func (l *LookupOperator) View(upstream []RowDoc) []RowDoc {
	out := make([]RowDoc, 0, len(upstream))
	for _, r := range upstream {
		if d, ok := l.docs[r.RowID]; ok {
			out = append(out, RowDoc{RowID: r.RowID, Doc: d})
		}
	}
	return out
}
