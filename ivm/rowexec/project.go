package rowexec

import (
	"github.com/TomNeyland/modash-go/ivm"
	"github.com/TomNeyland/modash-go/ivm/expression"
)

// ProjectOperator implements $project/$addFields/$set: each live row is
// mapped through a compiled object-shape expression — replacing the
// document for $project, merging into it for $addFields/$set. It is
// stateless per row (no row's output depends on any other row's), so
// onAdd/onRemove never fail the capability check.
type ProjectOperator struct {
	expr expression.Expression
	docs map[ivm.RowID]*ivm.Document
}

// NewProjectOperator compiles spec as a replacing object-shape
// expression: the output document holds only the shaped fields.
func NewProjectOperator(spec interface{}) (*ProjectOperator, error) {
	expr, err := expression.Compile(spec)
	if err != nil {
		return nil, err
	}
	return &ProjectOperator{expr: expr, docs: make(map[ivm.RowID]*ivm.Document)}, nil
}

// NewAddFieldsOperator compiles spec with $addFields/$set semantics:
// shaped fields are assigned into the upstream document, every other
// field passes through untouched.
func NewAddFieldsOperator(spec interface{}) (*ProjectOperator, error) {
	expr, err := expression.CompileAddFields(spec)
	if err != nil {
		return nil, err
	}
	return &ProjectOperator{expr: expr, docs: make(map[ivm.RowID]*ivm.Document)}, nil
}

func (p *ProjectOperator) apply(doc *ivm.Document) (*ivm.Document, error) {
	ec := ivm.NewEvalContext(doc, ivm.Now())
	v, err := p.expr.Eval(doc, ec)
	if err != nil {
		return nil, err
	}
	out, ok := v.(*ivm.Document)
	if !ok {
		return nil, ivm.ErrTypeMismatch.New("$project/$addFields must evaluate to a document")
	}
	return out, nil
}

func (p *ProjectOperator) OnAdd(rowID ivm.RowID, doc *ivm.Document) ([]ivm.Delta, bool, error) {
	out, err := p.apply(doc)
	if err != nil {
		return nil, false, err
	}
	p.docs[rowID] = out
	return []ivm.Delta{{RowID: rowID, Sign: 1}}, true, nil
}

func (p *ProjectOperator) OnRemove(rowID ivm.RowID) ([]ivm.Delta, bool, error) {
	if _, ok := p.docs[rowID]; !ok {
		return nil, true, nil
	}
	delete(p.docs, rowID)
	return []ivm.Delta{{RowID: rowID, Sign: -1}}, true, nil
}

func (p *ProjectOperator) EffectiveDoc(rowID ivm.RowID) (*ivm.Document, bool) {
	d, ok := p.docs[rowID]
	return d, ok
}

func (p *ProjectOperator) Snapshot(rows []RowDoc) error {
	p.docs = make(map[ivm.RowID]*ivm.Document)
	for _, r := range rows {
		out, err := p.apply(r.Doc)
		if err != nil {
			return err
		}
		p.docs[r.RowID] = out
	}
	return nil
}

func (p *ProjectOperator) Rows() []RowDoc {
	out := make([]RowDoc, 0, len(p.docs))
	for id, d := range p.docs {
		out = append(out, RowDoc{RowID: id, Doc: d})
	}
	sortRowDocs(out)
	return out
}

// View keeps the upstream order, substituting each row's reshaped
// document.
func (p *ProjectOperator) View(upstream []RowDoc) []RowDoc {
	out := make([]RowDoc, 0, len(upstream))
	for _, r := range upstream {
		if d, ok := p.docs[r.RowID]; ok {
			out = append(out, RowDoc{RowID: r.RowID, Doc: d})
		}
	}
	return out
}
