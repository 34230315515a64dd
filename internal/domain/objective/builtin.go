package objective

import (
	"fmt"
	"strconv"
	"strings"
)

func (e *Engine) registerDefaults() {
	e.eventOps[OpEq] = evalEq
	e.eventOps[OpNeq] = evalNeq
	e.eventOps[OpContains] = evalContains
	e.eventOps[OpPrefix] = evalPrefix
	e.eventOps[OpExists] = evalExists
	e.eventOps[OpOneOf] = evalOneOf
	e.eventOps[OpQueryEq] = evalQueryEq
	e.eventOps[OpAnd] = evalAnd
	e.eventOps[OpOr] = evalOr
	e.eventOps[OpNot] = evalNot

	e.logOps[OpAny] = evalAny
	e.logOps[OpCountAtLeast] = evalCountAtLeast
	e.logOps[OpNone] = evalNone
	e.logOps[OpAllOf] = evalAllOf
	e.logOps[OpAnyOf] = evalAnyOf
}

// Event operators.

func evalEq(_ *Engine, r Rule, s *Subject) bool {
	v, ok := s.Field(r.Field)
	return ok && equal(v, r.Value)
}

func evalNeq(_ *Engine, r Rule, s *Subject) bool {
	v, ok := s.Field(r.Field)
	return ok && !equal(v, r.Value)
}

func evalContains(_ *Engine, r Rule, s *Subject) bool {
	v, ok := s.Field(r.Field)
	if !ok {
		return false
	}
	if list, isList := v.([]any); isList {
		for _, item := range list {
			if equal(item, r.Value) {
				return true
			}
		}
		return false
	}
	return strings.Contains(text(v), text(r.Value))
}

func evalPrefix(_ *Engine, r Rule, s *Subject) bool {
	v, ok := s.Field(r.Field)
	return ok && strings.HasPrefix(text(v), text(r.Value))
}

func evalExists(_ *Engine, r Rule, s *Subject) bool {
	v, ok := s.Field(r.Field)
	return ok && truthy(v)
}

func evalOneOf(_ *Engine, r Rule, s *Subject) bool {
	v, ok := s.Field(r.Field)
	if !ok {
		return false
	}
	for _, want := range r.Values {
		if equal(v, want) {
			return true
		}
	}
	return false
}

func evalQueryEq(_ *Engine, r Rule, s *Subject) bool {
	v, ok := s.Query(r.Field)
	if !ok {
		return false
	}
	return r.Value == nil || v == text(r.Value)
}

func evalAnd(e *Engine, r Rule, s *Subject) bool {
	for _, sub := range r.Rules {
		if !e.matchEvent(sub, s) {
			return false
		}
	}
	return true
}

func evalOr(e *Engine, r Rule, s *Subject) bool {
	for _, sub := range r.Rules {
		if e.matchEvent(sub, s) {
			return true
		}
	}
	return false
}

func evalNot(e *Engine, r Rule, s *Subject) bool {
	return !evalAnd(e, r, s)
}

// Log operators.

func evalAny(e *Engine, r Rule, subjects []*Subject) bool {
	for _, s := range subjects {
		if evalAnd(e, r, s) {
			return true
		}
	}
	return false
}

func evalNone(e *Engine, r Rule, subjects []*Subject) bool {
	return !evalAny(e, r, subjects)
}

func evalCountAtLeast(e *Engine, r Rule, subjects []*Subject) bool {
	n := 0
	for _, s := range subjects {
		if evalAnd(e, r, s) {
			n++
			if n >= r.Min {
				return true
			}
		}
	}
	return n >= r.Min
}

func evalAllOf(e *Engine, r Rule, subjects []*Subject) bool {
	for _, sub := range r.Rules {
		if !e.matchLog(sub, subjects) {
			return false
		}
	}
	return true
}

func evalAnyOf(e *Engine, r Rule, subjects []*Subject) bool {
	for _, sub := range r.Rules {
		if e.matchLog(sub, subjects) {
			return true
		}
	}
	return false
}

// Value helpers. Comparison follows loose JSON semantics: numbers compare
// numerically whatever their Go type, everything else by text.

func equal(a, b any) bool {
	if fa, ok := number(a); ok {
		if fb, ok := number(b); ok {
			return fa == fb
		}
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return text(a) == text(b)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	if f, ok := number(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// truthy mirrors script truthiness: nil, false, 0 and "" are falsy.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	}
	if f, ok := number(v); ok {
		return f != 0
	}
	return true
}
