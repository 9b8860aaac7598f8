package expression

import (
	"strings"

	"github.com/TomNeyland/modash-go/ivm"
)

// objectShapeExpr implements the object-shape projection rules:
// evaluating one produces a fresh document holding only the shaped
// fields.
type objectShapeExpr struct {
	fields []shapeField
}

type shapeFieldKind int

const (
	shapePassthrough shapeFieldKind = iota
	shapeOmit
	shapeRootPath
	shapeMaybeNested // nested *ivm.Document: sub-projection if current[key] is doc/array, else computed
	shapeComputed
)

type shapeField struct {
	outputKey string
	kind      shapeFieldKind
	rootPath  string
	nested    *objectShapeExpr // compiled as sub-projection, used when shapeMaybeNested resolves that way
	computed  Expression       // compiled as a generic expression, used for shapeComputed and the other branch of shapeMaybeNested
}

func compileObjectShape(doc *ivm.Document) (Expression, error) {
	shape := &objectShapeExpr{}
	for _, key := range doc.Keys() {
		raw, _ := doc.Get(key)
		f := shapeField{outputKey: key}
		switch v := raw.(type) {
		case bool:
			if v {
				f.kind = shapePassthrough
			} else {
				f.kind = shapeOmit
			}
		case float64:
			switch v {
			case 1:
				f.kind = shapePassthrough
			case 0:
				f.kind = shapeOmit
			default:
				f.kind = shapeComputed
				ce, err := Compile(v)
				if err != nil {
					return nil, err
				}
				f.computed = ce
			}
		case string:
			if strings.HasPrefix(v, "$$") {
				ce, err := compileSystemVariable(v)
				if err != nil {
					return nil, err
				}
				f.kind = shapeComputed
				f.computed = ce
				break
			}
			f.kind = shapeRootPath
			f.rootPath = strings.TrimPrefix(v, "$")
		case *ivm.Document:
			if v.Len() == 1 && strings.HasPrefix(v.Keys()[0], "$") {
				// operator object: always a computed expression, never a
				// sub-projection, whatever shape the current field has
				ce, err := compileDocumentExpr(v)
				if err != nil {
					return nil, err
				}
				f.kind = shapeComputed
				f.computed = ce
				break
			}
			nestedShape, err := compileObjectShape(v)
			if err != nil {
				return nil, err
			}
			computed, err := compileDocumentExpr(v)
			if err != nil {
				return nil, err
			}
			f.kind = shapeMaybeNested
			f.nested = nestedShape.(*objectShapeExpr)
			f.computed = computed
		default:
			ce, err := Compile(v)
			if err != nil {
				return nil, err
			}
			f.kind = shapeComputed
			f.computed = ce
		}
		shape.fields = append(shape.fields, f)
	}
	return shape, nil
}

// evalField resolves one shape field against current. present is false
// when the field contributes nothing (omitted, or a passthrough whose
// key is absent); a $$REMOVE result is returned as the sentinel for the
// caller to act on.
func (s *objectShapeExpr) evalField(f shapeField, current interface{}, ec *ivm.EvalContext) (interface{}, bool, error) {
	switch f.kind {
	case shapeOmit:
		return nil, false, nil
	case shapePassthrough:
		curDoc, ok := current.(*ivm.Document)
		if !ok {
			return nil, false, nil
		}
		v, ok := curDoc.Get(f.outputKey)
		return v, ok, nil
	case shapeRootPath:
		return ivm.ResolvePath(ec.Root, f.rootPath), true, nil
	case shapeMaybeNested:
		curDoc, _ := current.(*ivm.Document)
		fieldVal, hasField := (interface{})(nil), false
		if curDoc != nil {
			fieldVal, hasField = curDoc.Get(f.outputKey)
		}
		if hasField {
			if _, isDoc := fieldVal.(*ivm.Document); isDoc {
				v, err := f.nested.Eval(fieldVal, ec)
				return v, err == nil, err
			}
			if arr, isArr := fieldVal.(ivm.Array); isArr {
				projected := make(ivm.Array, len(arr))
				for i, elem := range arr {
					v, err := f.nested.Eval(elem, ec)
					if err != nil {
						return nil, false, err
					}
					projected[i] = v
				}
				return projected, true, nil
			}
		}
		v, err := f.computed.Eval(current, ec)
		return v, err == nil, err
	default: // shapeComputed
		v, err := f.computed.Eval(current, ec)
		return v, err == nil, err
	}
}

func (s *objectShapeExpr) Eval(current interface{}, ec *ivm.EvalContext) (interface{}, error) {
	out := ivm.NewDocument()
	for _, f := range s.fields {
		v, present, err := s.evalField(f, current, ec)
		if err != nil {
			return nil, err
		}
		if !present || ivm.IsRemove(v) {
			continue
		}
		setDotted(out, f.outputKey, v)
	}
	return out, nil
}

// mergeShapeExpr wraps an object shape with $addFields/$set semantics:
// the input document is kept whole and each shaped field is assigned
// into a copy of it, with $$REMOVE deleting the owning key instead.
type mergeShapeExpr struct {
	shape *objectShapeExpr
}

func (m mergeShapeExpr) Eval(current interface{}, ec *ivm.EvalContext) (interface{}, error) {
	base, ok := current.(*ivm.Document)
	if !ok {
		return m.shape.Eval(current, ec)
	}
	out := base.Clone()
	for _, f := range m.shape.fields {
		// omit and passthrough flags assign nothing; under merge the
		// existing field simply stays as it is
		if f.kind == shapeOmit || f.kind == shapePassthrough {
			continue
		}
		v, present, err := m.shape.evalField(f, current, ec)
		if err != nil {
			return nil, err
		}
		if !present {
			continue
		}
		if ivm.IsRemove(v) {
			deleteDotted(out, f.outputKey)
			continue
		}
		setDottedCOW(out, f.outputKey, v)
	}
	return out, nil
}

// CompileAddFields compiles raw as an object shape whose assignments
// merge into the evaluated document instead of replacing it — the
// $addFields/$set half of the shared projection contract.
func CompileAddFields(raw interface{}) (Expression, error) {
	doc, ok := raw.(*ivm.Document)
	if !ok {
		return nil, ivm.ErrInvalidPipeline.New("$addFields/$set requires an object")
	}
	shape, err := compileObjectShape(doc)
	if err != nil {
		return nil, err
	}
	return mergeShapeExpr{shape: shape.(*objectShapeExpr)}, nil
}

// setDotted assigns value at a possibly-dotted output key, building nested
// result documents for each segment. Array segments fan out during path
// resolution, not here: output keys always address documents.
func setDotted(doc *ivm.Document, key string, value interface{}) {
	segs := strings.Split(key, ".")
	if len(segs) == 1 {
		doc.Set(key, value)
		return
	}
	cur := doc
	for i := 0; i < len(segs)-1; i++ {
		existing, ok := cur.Get(segs[i])
		child, ok2 := existing.(*ivm.Document)
		if !ok || !ok2 {
			child = ivm.NewDocument()
			cur.Set(segs[i], child)
		}
		cur = child
	}
	cur.Set(segs[len(segs)-1], value)
}

// setDottedCOW is setDotted for a merged document whose nested children
// are still shared with the input: every existing document on the path
// is cloned before being written through, so the upstream document is
// never mutated.
func setDottedCOW(doc *ivm.Document, key string, value interface{}) {
	segs := strings.Split(key, ".")
	cur := doc
	for i := 0; i < len(segs)-1; i++ {
		existing, ok := cur.Get(segs[i])
		child, isDoc := existing.(*ivm.Document)
		if !ok || !isDoc {
			child = ivm.NewDocument()
		} else {
			child = child.Clone()
		}
		cur.Set(segs[i], child)
		cur = child
	}
	cur.Set(segs[len(segs)-1], value)
}

// deleteDotted removes a possibly-dotted key from a merged document,
// cloning shared children along the path. A missing or non-document
// segment means there is nothing to delete.
func deleteDotted(doc *ivm.Document, key string) {
	segs := strings.Split(key, ".")
	cur := doc
	for i := 0; i < len(segs)-1; i++ {
		existing, ok := cur.Get(segs[i])
		child, isDoc := existing.(*ivm.Document)
		if !ok || !isDoc {
			return
		}
		child = child.Clone()
		cur.Set(segs[i], child)
		cur = child
	}
	cur.Delete(segs[len(segs)-1])
}
