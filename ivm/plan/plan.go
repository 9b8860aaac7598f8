// Package plan compiles a pipeline specification (an array of single-key
// stage documents) into an ExecutionPlan: each stage tagged with its IVM
// capability flags, optimization hints ($sort+$limit pushdown,
// vectorizable $group), and a lightweight field-dependency map used for
// predicate pushdown. $count and $sortByCount are expanded here into the
// $group/$project/$sort stages they are shorthand for.
package plan

import (
	"strings"

	"github.com/TomNeyland/modash-go/ivm"
)

// Kind identifies a compiled stage's operator.
type Kind string

const (
	Match     Kind = "$match"
	Project   Kind = "$project"
	AddFields Kind = "$addFields"
	Set       Kind = "$set"
	Sort      Kind = "$sort"
	Limit     Kind = "$limit"
	Skip      Kind = "$skip"
	Unwind    Kind = "$unwind"
	Group     Kind = "$group"
	Lookup    Kind = "$lookup"
)

// capability records whether a stage kind can, in principle, process an
// insertion delta (canIncrement) and a removal delta (canDecrement)
// without a full recompute. The batch executor is always the fallback
// when an attempted incremental update fails at runtime regardless of
// this table — this only says what's *attempted*.
type capability struct {
	canIncrement bool
	canDecrement bool
}

var capabilities = map[Kind]capability{
	Match:     {true, true},
	Project:   {true, true},
	AddFields: {true, true},
	Set:       {true, true},
	Sort:      {true, true},
	Limit:     {true, true},
	Skip:      {true, true},
	Unwind:    {true, true},
	Group:     {true, true},
	Lookup:    {true, true},
}

// Stage is one compiled pipeline step.
type Stage struct {
	Kind         Kind
	Spec         interface{} // the stage's operand, e.g. $match's filter document
	CanIncrement bool
	CanDecrement bool
	FieldDeps    []string
}

// ExecutionPlan is a compiled, optimizable pipeline.
type ExecutionPlan struct {
	Stages       []*Stage
	HasSortLimit bool
	CanVectorize bool
}

// Compile builds an ExecutionPlan from a raw pipeline array of single-key
// stage documents, expanding $count/$sortByCount shorthands first.
func Compile(pipeline ivm.Array) (*ExecutionPlan, error) {
	expanded, err := expandShorthands(pipeline)
	if err != nil {
		return nil, err
	}

	p := &ExecutionPlan{}
	for _, raw := range expanded {
		doc, ok := raw.(*ivm.Document)
		if !ok || doc.Len() != 1 {
			return nil, ivm.ErrInvalidPipeline.New("each pipeline stage must be a single-key object")
		}
		key := doc.Keys()[0]
		spec, _ := doc.Get(key)
		kind := Kind(key)
		capa, ok := capabilities[kind]
		if !ok {
			return nil, ivm.ErrUnsupportedStage.New(key)
		}
		stage := &Stage{
			Kind:         kind,
			Spec:         spec,
			CanIncrement: capa.canIncrement,
			CanDecrement: capa.canDecrement,
			FieldDeps:    fieldDependencies(spec),
		}
		p.Stages = append(p.Stages, stage)
	}

	pushMatchStagesEarlier(p)
	p.HasSortLimit = detectSortLimit(p)
	p.CanVectorize = detectVectorizable(p)
	return p, nil
}

// detectSortLimit reports whether a $sort stage is immediately followed
// by a $limit stage — the shape whose $limit the sort stage can absorb
// as a bounded window.
func detectSortLimit(p *ExecutionPlan) bool {
	for i := 0; i+1 < len(p.Stages); i++ {
		if p.Stages[i].Kind == Sort && p.Stages[i+1].Kind == Limit {
			return true
		}
	}
	return false
}

// detectVectorizable reports whether every $group stage's accumulators are
// restricted to $sum/$avg/$min/$max — the forms the columnar float64 fast
// path (store.Column.Floats) can drive directly, as opposed to $push/
// $addToSet/$first/$last which need per-row ordered state.
func detectVectorizable(p *ExecutionPlan) bool {
	for _, s := range p.Stages {
		if s.Kind != Group {
			continue
		}
		doc, ok := s.Spec.(*ivm.Document)
		if !ok {
			return false
		}
		for _, field := range doc.Keys() {
			if field == "_id" {
				continue
			}
			v, _ := doc.Get(field)
			accDoc, ok := v.(*ivm.Document)
			if !ok || accDoc.Len() != 1 {
				return false
			}
			op := accDoc.Keys()[0]
			switch op {
			case "$sum", "$avg", "$min", "$max":
			default:
				return false
			}
		}
	}
	return true
}

// pushMatchStagesEarlier implements one predicate-pushdown rule: a
// $match stage is moved before an immediately preceding $addFields/$set
// stage when the match's field dependencies don't overlap the fields
// that preceding stage introduces. This only ever reduces intermediate
// row-processing cost; it never changes which rows ultimately match.
func pushMatchStagesEarlier(p *ExecutionPlan) {
	for i := 1; i < len(p.Stages); i++ {
		cur := p.Stages[i]
		prev := p.Stages[i-1]
		if cur.Kind != Match || (prev.Kind != AddFields && prev.Kind != Set) {
			continue
		}
		introduced := introducedFields(prev.Spec)
		if dependsOnAny(cur.FieldDeps, introduced) {
			continue
		}
		p.Stages[i-1], p.Stages[i] = p.Stages[i], p.Stages[i-1]
	}
}

func introducedFields(spec interface{}) map[string]bool {
	out := make(map[string]bool)
	if doc, ok := spec.(*ivm.Document); ok {
		for _, k := range doc.Keys() {
			out[k] = true
		}
	}
	return out
}

func dependsOnAny(deps []string, introduced map[string]bool) bool {
	for _, d := range deps {
		root := strings.SplitN(d, ".", 2)[0]
		if introduced[root] {
			return true
		}
	}
	return false
}

// fieldDependencies walks a stage's spec collecting every "$field.path"
// reference it contains, used for predicate pushdown and Dimension
// selectivity lookups.
func fieldDependencies(spec interface{}) []string {
	seen := make(map[string]bool)
	var walk func(v interface{})
	walk = func(v interface{}) {
		switch t := v.(type) {
		case string:
			if strings.HasPrefix(t, "$") && !strings.HasPrefix(t, "$$") {
				seen[strings.TrimPrefix(t, "$")] = true
			}
		case *ivm.Document:
			for _, k := range t.Keys() {
				val, _ := t.Get(k)
				if !strings.HasPrefix(k, "$") {
					seen[k] = true
				}
				walk(val)
			}
		case ivm.Array:
			for _, e := range t {
				walk(e)
			}
		}
	}
	walk(spec)
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	return out
}

// expandShorthands rewrites $count and $sortByCount stages into the
// $group/$project/$sort stages they are defined in terms of.
func expandShorthands(pipeline ivm.Array) (ivm.Array, error) {
	out := make(ivm.Array, 0, len(pipeline))
	for _, raw := range pipeline {
		doc, ok := raw.(*ivm.Document)
		if !ok || doc.Len() != 1 {
			return nil, ivm.ErrInvalidPipeline.New("each pipeline stage must be a single-key object")
		}
		key := doc.Keys()[0]
		spec, _ := doc.Get(key)

		switch key {
		case "$count":
			outputField, ok := spec.(string)
			if !ok {
				return nil, ivm.ErrInvalidPipeline.New("$count requires a string output field name")
			}
			out = append(out,
				ivm.DocumentOf("$group", ivm.DocumentOf(
					"_id", nil,
					outputField, ivm.DocumentOf("$sum", float64(1)),
				)),
				ivm.DocumentOf("$project", ivm.DocumentOf(
					"_id", false,
					outputField, true,
				)),
			)
		case "$sortByCount":
			out = append(out,
				ivm.DocumentOf("$group", ivm.DocumentOf(
					"_id", spec,
					"count", ivm.DocumentOf("$sum", float64(1)),
				)),
				ivm.DocumentOf("$sort", ivm.DocumentOf("count", float64(-1))),
			)
		default:
			out = append(out, raw)
		}
	}
	return out, nil
}
