package expression

import (
	"strings"

	"github.com/TomNeyland/modash-go/ivm"
)

// compileSystemVariable compiles a "$$NAME" or "$$NAME.path" reference.
// Recognized names: $$ROOT, $$CURRENT, $$NOW, $$REMOVE, $$value, $$this.
// Anything else fails to compile with UnknownVariable, per spec.md §4.1.
func compileSystemVariable(s string) (Expression, error) {
	rest := s[2:]
	name, path := rest, ""
	if i := strings.IndexByte(rest, '.'); i >= 0 {
		name, path = rest[:i], rest[i+1:]
	}
	switch name {
	case "ROOT":
		return systemVarExpr{kind: varRoot, path: path}, nil
	case "CURRENT":
		return systemVarExpr{kind: varCurrent, path: path}, nil
	case "NOW":
		return systemVarExpr{kind: varNow, path: path}, nil
	case "REMOVE":
		return systemVarExpr{kind: varRemove}, nil
	case "value", "this":
		return systemVarExpr{kind: varBinding, name: name, path: path}, nil
	default:
		return nil, ivm.ErrUnknownVariable.New("$$" + name)
	}
}

type sysVarKind int

const (
	varRoot sysVarKind = iota
	varCurrent
	varNow
	varRemove
	varBinding
)

type systemVarExpr struct {
	kind sysVarKind
	name string
	path string
}

func (s systemVarExpr) Eval(current interface{}, ec *ivm.EvalContext) (interface{}, error) {
	switch s.kind {
	case varRoot:
		return ivm.ResolvePath(ec.Root, s.path), nil
	case varCurrent:
		return ivm.ResolvePath(current, s.path), nil
	case varNow:
		return ec.Now, nil
	case varRemove:
		return ivm.Remove, nil
	case varBinding:
		v, ok := ec.Var(s.name)
		if !ok {
			return nil, ivm.ErrUnknownVariable.New("$$" + s.name)
		}
		return ivm.ResolvePath(v, s.path), nil
	default:
		return nil, nil
	}
}
