package rowexec

import (
	"regexp"

	"github.com/TomNeyland/modash-go/ivm"
)

// Predicate evaluates a compiled $match/removeByQuery filter against a
// document.
type Predicate func(doc *ivm.Document) bool

// CompilePredicate compiles a match-query document: direct equality
// ({field: value}), per-field operator objects ({field: {$gt: v}}), and
// top-level $and/$or/$nor/$not combinators. This is mongo's query
// grammar, a different surface from the $-operator expression grammar
// used by $project/$group — a match query describes a filter, not a
// value. When a field holds an array, a per-field condition matches if
// any element satisfies it.
func CompilePredicate(spec interface{}) (Predicate, error) {
	doc, ok := spec.(*ivm.Document)
	if !ok {
		return nil, ivm.ErrInvalidPipeline.New("$match/removeByQuery requires an object filter")
	}
	var preds []Predicate
	for _, key := range doc.Keys() {
		val, _ := doc.Get(key)
		switch key {
		case "$and":
			p, err := compileCombinator(val, allOf)
			if err != nil {
				return nil, err
			}
			preds = append(preds, p)
		case "$or":
			p, err := compileCombinator(val, anyOf)
			if err != nil {
				return nil, err
			}
			preds = append(preds, p)
		case "$nor":
			p, err := compileCombinator(val, anyOf)
			if err != nil {
				return nil, err
			}
			inner := p
			preds = append(preds, func(doc *ivm.Document) bool { return !inner(doc) })
		case "$not":
			inner, err := CompilePredicate(val)
			if err != nil {
				return nil, err
			}
			preds = append(preds, func(doc *ivm.Document) bool { return !inner(doc) })
		default:
			p, err := compileFieldPredicate(key, val)
			if err != nil {
				return nil, err
			}
			preds = append(preds, p)
		}
	}
	return allOf(preds), nil
}

func compileCombinator(val interface{}, combine func([]Predicate) Predicate) (Predicate, error) {
	arr, ok := val.(ivm.Array)
	if !ok {
		return nil, ivm.ErrInvalidPipeline.New("$and/$or/$nor requires an array of filter objects")
	}
	var preds []Predicate
	for _, e := range arr {
		p, err := CompilePredicate(e)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return combine(preds), nil
}

func allOf(preds []Predicate) Predicate {
	return func(doc *ivm.Document) bool {
		for _, p := range preds {
			if !p(doc) {
				return false
			}
		}
		return true
	}
}

func anyOf(preds []Predicate) Predicate {
	return func(doc *ivm.Document) bool {
		for _, p := range preds {
			if p(doc) {
				return true
			}
		}
		return false
	}
}

// anyElem lifts a scalar test over arrays: the field matches if its
// value satisfies test directly or, when the value is an array, if any
// element does.
func anyElem(test func(v interface{}) bool) func(v interface{}) bool {
	return func(v interface{}) bool {
		if test(v) {
			return true
		}
		if arr, ok := v.(ivm.Array); ok {
			for _, e := range arr {
				if test(e) {
					return true
				}
			}
		}
		return false
	}
}

func compileFieldPredicate(field string, val interface{}) (Predicate, error) {
	if opDoc, ok := val.(*ivm.Document); ok && isOperatorObject(opDoc) {
		var preds []Predicate
		var optsPattern string
		if o, ok := opDoc.Get("$options"); ok {
			optsPattern, _ = o.(string)
		}
		for _, op := range opDoc.Keys() {
			if op == "$options" {
				continue
			}
			opVal, _ := opDoc.Get(op)
			cmp, err := compileFieldOp(field, op, opVal, optsPattern)
			if err != nil {
				return nil, err
			}
			preds = append(preds, cmp)
		}
		return allOf(preds), nil
	}
	match := anyElem(func(v interface{}) bool { return ivm.Equal(v, val) })
	return func(doc *ivm.Document) bool {
		return match(ivm.ResolvePath(doc, field))
	}, nil
}

func isOperatorObject(doc *ivm.Document) bool {
	for _, k := range doc.Keys() {
		if len(k) == 0 || k[0] != '$' {
			return false
		}
	}
	return doc.Len() > 0
}

func compileFieldOp(field, op string, opVal interface{}, regexOptions string) (Predicate, error) {
	get := func(doc *ivm.Document) interface{} { return ivm.ResolvePath(doc, field) }
	lifted := func(test func(v interface{}) bool) Predicate {
		match := anyElem(test)
		return func(doc *ivm.Document) bool { return match(get(doc)) }
	}
	// an array meets an ordering bound only through its elements, unless
	// the bound is itself an array
	_, boundIsArray := opVal.(ivm.Array)
	ordered := func(test func(v interface{}) bool) func(v interface{}) bool {
		return func(v interface{}) bool {
			if _, isArray := v.(ivm.Array); isArray && !boundIsArray {
				return false
			}
			return test(v)
		}
	}
	switch op {
	case "$eq":
		return lifted(func(v interface{}) bool { return ivm.Equal(v, opVal) }), nil
	case "$ne":
		eq := anyElem(func(v interface{}) bool { return ivm.Equal(v, opVal) })
		return func(doc *ivm.Document) bool { return !eq(get(doc)) }, nil
	case "$gt":
		return lifted(ordered(func(v interface{}) bool { return ivm.Compare(v, opVal) > 0 })), nil
	case "$gte":
		return lifted(ordered(func(v interface{}) bool { return ivm.Compare(v, opVal) >= 0 })), nil
	case "$lt":
		return lifted(ordered(func(v interface{}) bool { return ivm.Compare(v, opVal) < 0 })), nil
	case "$lte":
		return lifted(ordered(func(v interface{}) bool { return ivm.Compare(v, opVal) <= 0 })), nil
	case "$in":
		arr, ok := opVal.(ivm.Array)
		if !ok {
			return nil, ivm.ErrInvalidPipeline.New("$in requires an array")
		}
		return lifted(func(v interface{}) bool { return ivm.Contains(arr, v) }), nil
	case "$nin":
		arr, ok := opVal.(ivm.Array)
		if !ok {
			return nil, ivm.ErrInvalidPipeline.New("$nin requires an array")
		}
		in := anyElem(func(v interface{}) bool { return ivm.Contains(arr, v) })
		return func(doc *ivm.Document) bool { return !in(get(doc)) }, nil
	case "$exists":
		want, _ := opVal.(bool)
		return func(doc *ivm.Document) bool {
			return ivm.HasPath(doc, field) == want
		}, nil
	case "$regex":
		pattern, ok := opVal.(string)
		if !ok {
			return nil, ivm.ErrInvalidPipeline.New("$regex requires a string pattern")
		}
		var flags string
		for _, r := range regexOptions {
			switch r {
			case 'i', 'm', 's':
				flags += string(r)
			}
		}
		if flags != "" {
			pattern = "(?" + flags + ")" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, ivm.ErrInvalidPipeline.New("$regex: " + err.Error())
		}
		return lifted(func(v interface{}) bool {
			s, ok := v.(string)
			return ok && re.MatchString(s)
		}), nil
	case "$all":
		arr, ok := opVal.(ivm.Array)
		if !ok {
			return nil, ivm.ErrInvalidPipeline.New("$all requires an array")
		}
		return func(doc *ivm.Document) bool {
			fieldArr, ok := get(doc).(ivm.Array)
			if !ok {
				return false
			}
			for _, want := range arr {
				if !ivm.Contains(fieldArr, want) {
					return false
				}
			}
			return true
		}, nil
	case "$size":
		want := int(ivm.ToNumber(opVal))
		return func(doc *ivm.Document) bool {
			arr, ok := get(doc).(ivm.Array)
			return ok && len(arr) == want
		}, nil
	case "$elemMatch":
		inner, err := elemMatchPredicate(opVal)
		if err != nil {
			return nil, err
		}
		return func(doc *ivm.Document) bool {
			arr, ok := get(doc).(ivm.Array)
			if !ok {
				return false
			}
			for _, e := range arr {
				if inner(e) {
					return true
				}
			}
			return false
		}, nil
	default:
		return nil, ivm.ErrUnknownOperator.New(op)
	}
}

// elemMatchPredicate compiles a $elemMatch operand into a test over one
// array element: a document of sub-conditions runs as a full filter
// against document elements, or — when every key is an operator — as a
// bare operator set against scalar elements.
func elemMatchPredicate(opVal interface{}) (func(elem interface{}) bool, error) {
	doc, ok := opVal.(*ivm.Document)
	if !ok {
		return nil, ivm.ErrInvalidPipeline.New("$elemMatch requires an object")
	}
	if isOperatorObject(doc) {
		var tests []func(elem interface{}) bool
		for _, op := range doc.Keys() {
			opRaw, _ := doc.Get(op)
			// reuse the field machinery by wrapping each element in a
			// one-field document probe
			p, err := compileFieldOp("v", op, opRaw, "")
			if err != nil {
				return nil, err
			}
			pred := p
			tests = append(tests, func(elem interface{}) bool {
				return pred(ivm.DocumentOf("v", elem))
			})
		}
		return func(elem interface{}) bool {
			for _, t := range tests {
				if !t(elem) {
					return false
				}
			}
			return true
		}, nil
	}
	inner, err := CompilePredicate(doc)
	if err != nil {
		return nil, err
	}
	return func(elem interface{}) bool {
		ed, ok := elem.(*ivm.Document)
		return ok && inner(ed)
	}, nil
}
