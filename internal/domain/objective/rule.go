// Package objective grades a challenge against the Observation Log.
//
// Objectives are data. Each one carries a Rule tree that an Engine
// interprets over the current event list:
//
//	id: product_data
//	label: Capture product id and price
//	rule:
//	  op: any
//	  rules:
//	    - {op: eq, field: body.event, value: add_to_cart}
//	    - {op: exists, field: "body.ecommerce.items.0.item_id|items.0.item_id"}
//
// Log operators (any, count_at_least, none, all_of, any_of) sit at the top
// of the tree and quantify over events. Event operators (eq, neq, contains,
// prefix, exists, one_of, query_eq, and, or, not) test a single event.
// Evaluation is pure and never panics; malformed bodies simply fail to
// match.
package objective

import (
	"errors"
	"fmt"
	"strings"
)

// Op names an operator.
type Op string

// Event operators.
const (
	OpEq       Op = "eq"
	OpNeq      Op = "neq"
	OpContains Op = "contains"
	OpPrefix   Op = "prefix"
	OpExists   Op = "exists"
	OpOneOf    Op = "one_of"
	OpQueryEq  Op = "query_eq"
	OpAnd      Op = "and"
	OpOr       Op = "or"
	OpNot      Op = "not"
)

// Log operators.
const (
	OpAny          Op = "any"
	OpCountAtLeast Op = "count_at_least"
	OpNone         Op = "none"
	OpAllOf        Op = "all_of"
	OpAnyOf        Op = "any_of"
)

var (
	ErrUnknownOperator   = errors.New("unknown operator")
	ErrDuplicateOperator = errors.New("operator already registered")
	ErrInvalidRule       = errors.New("invalid rule")
)

// Rule is one node of a predicate tree.
//
// For log operators, Rules are event predicates AND-ed together (any, none,
// count_at_least) or nested log rules (all_of, any_of). For and/or/not they
// are nested event predicates; not negates their conjunction.
type Rule struct {
	Op     Op     `json:"op" yaml:"op"`
	Field  string `json:"field,omitempty" yaml:"field,omitempty"`
	Value  any    `json:"value,omitempty" yaml:"value,omitempty"`
	Values []any  `json:"values,omitempty" yaml:"values,omitempty"`
	Rules  []Rule `json:"rules,omitempty" yaml:"rules,omitempty"`
	Min    int    `json:"min,omitempty" yaml:"min,omitempty"`
}

// Objective is a named rule bound to a challenge.
type Objective struct {
	ID    string `json:"id" yaml:"id"`
	Label string `json:"label" yaml:"label"`
	Rule  Rule   `json:"rule" yaml:"rule"`
}

func (r Rule) String() string {
	var sb strings.Builder
	sb.WriteString(string(r.Op))
	if r.Field != "" {
		sb.WriteString("(" + r.Field + ")")
	}
	if len(r.Rules) > 0 {
		parts := make([]string, len(r.Rules))
		for i, sub := range r.Rules {
			parts[i] = sub.String()
		}
		sb.WriteString("[" + strings.Join(parts, ", ") + "]")
	}
	return sb.String()
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRule, fmt.Sprintf(format, args...))
}

// Convenience constructors, mostly used by the built-in catalog and tests.

func Eq(field string, value any) Rule       { return Rule{Op: OpEq, Field: field, Value: value} }
func Neq(field string, value any) Rule      { return Rule{Op: OpNeq, Field: field, Value: value} }
func Contains(field string, value any) Rule { return Rule{Op: OpContains, Field: field, Value: value} }
func Prefix(field, value string) Rule       { return Rule{Op: OpPrefix, Field: field, Value: value} }
func Exists(field string) Rule              { return Rule{Op: OpExists, Field: field} }
func OneOf(field string, values ...any) Rule {
	return Rule{Op: OpOneOf, Field: field, Values: values}
}
func QueryEq(param string, value any) Rule { return Rule{Op: OpQueryEq, Field: param, Value: value} }
func And(rules ...Rule) Rule               { return Rule{Op: OpAnd, Rules: rules} }
func Or(rules ...Rule) Rule                { return Rule{Op: OpOr, Rules: rules} }
func Not(rules ...Rule) Rule               { return Rule{Op: OpNot, Rules: rules} }

func Any(rules ...Rule) Rule  { return Rule{Op: OpAny, Rules: rules} }
func None(rules ...Rule) Rule { return Rule{Op: OpNone, Rules: rules} }
func CountAtLeast(min int, rules ...Rule) Rule {
	return Rule{Op: OpCountAtLeast, Min: min, Rules: rules}
}
func AllOf(rules ...Rule) Rule { return Rule{Op: OpAllOf, Rules: rules} }
func AnyOf(rules ...Rule) Rule { return Rule{Op: OpAnyOf, Rules: rules} }
