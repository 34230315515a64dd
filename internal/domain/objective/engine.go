package objective

import (
	"fmt"
	"sync"

	"github.com/GriffinCanCode/tracklab/backend/internal/domain/capture"
)

// EventEvaluator tests one event.
type EventEvaluator func(e *Engine, r Rule, s *Subject) bool

// LogEvaluator tests the whole log.
type LogEvaluator func(e *Engine, r Rule, subjects []*Subject) bool

// Engine interprets rule trees. It is safe for concurrent use.
type Engine struct {
	mu       sync.RWMutex
	eventOps map[Op]EventEvaluator
	logOps   map[Op]LogEvaluator
}

var defaultEngine = NewEngine()

// Default returns the shared engine with the built-in operators.
func Default() *Engine { return defaultEngine }

// NewEngine creates an engine with all built-in operators registered.
func NewEngine() *Engine {
	e := &Engine{
		eventOps: make(map[Op]EventEvaluator),
		logOps:   make(map[Op]LogEvaluator),
	}
	e.registerDefaults()
	return e
}

// RegisterEventOp adds a custom event operator.
func (e *Engine) RegisterEventOp(op Op, fn EventEvaluator) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.known(op) {
		return fmt.Errorf("%w: %s", ErrDuplicateOperator, op)
	}
	e.eventOps[op] = fn
	return nil
}

// RegisterLogOp adds a custom log operator.
func (e *Engine) RegisterLogOp(op Op, fn LogEvaluator) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.known(op) {
		return fmt.Errorf("%w: %s", ErrDuplicateOperator, op)
	}
	e.logOps[op] = fn
	return nil
}

// known must be called with mu held.
func (e *Engine) known(op Op) bool {
	_, ev := e.eventOps[op]
	_, lg := e.logOps[op]
	return ev || lg
}

// IsEventOp reports whether op tests single events.
func (e *Engine) IsEventOp(op Op) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.eventOps[op]
	return ok
}

// IsLogOp reports whether op quantifies over the log.
func (e *Engine) IsLogOp(op Op) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.logOps[op]
	return ok
}

func (e *Engine) matchEvent(r Rule, s *Subject) bool {
	e.mu.RLock()
	fn, ok := e.eventOps[r.Op]
	e.mu.RUnlock()
	return ok && fn(e, r, s)
}

func (e *Engine) matchLog(r Rule, subjects []*Subject) bool {
	e.mu.RLock()
	fn, ok := e.logOps[r.Op]
	e.mu.RUnlock()
	return ok && fn(e, r, subjects)
}

// Evaluate reports whether obj is met by events. It never panics: a rule
// that blows up counts as not met.
func (e *Engine) Evaluate(obj Objective, events []capture.CapturedEvent) bool {
	return e.evaluate(obj, NewSubjects(events))
}

func (e *Engine) evaluate(obj Objective, subjects []*Subject) (met bool) {
	defer func() {
		if recover() != nil {
			met = false
		}
	}()
	return e.matchLog(obj.Rule, subjects)
}

// Validate checks that obj is well formed: a log rule at the top whose
// leaves are complete event predicates.
func (e *Engine) Validate(obj Objective) error {
	if obj.ID == "" {
		return invalid("objective without id")
	}
	if err := e.validateLog(obj.Rule); err != nil {
		return fmt.Errorf("objective %s: %w", obj.ID, err)
	}
	return nil
}

func (e *Engine) validateLog(r Rule) error {
	if !e.IsLogOp(r.Op) {
		if e.IsEventOp(r.Op) {
			return invalid("%s is an event operator; wrap it in any/none/count_at_least", r.Op)
		}
		return fmt.Errorf("%w: %q", ErrUnknownOperator, r.Op)
	}
	switch r.Op {
	case OpAllOf, OpAnyOf:
		if len(r.Rules) == 0 {
			return invalid("%s needs rules", r.Op)
		}
		for _, sub := range r.Rules {
			if err := e.validateLog(sub); err != nil {
				return err
			}
		}
		return nil
	case OpCountAtLeast:
		if r.Min < 1 {
			return invalid("count_at_least needs min >= 1")
		}
	}
	if len(r.Rules) == 0 && isBuiltin(r.Op) {
		return invalid("%s needs rules", r.Op)
	}
	for _, sub := range r.Rules {
		if err := e.validateEvent(sub); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) validateEvent(r Rule) error {
	if !e.IsEventOp(r.Op) {
		if e.IsLogOp(r.Op) {
			return invalid("log operator %s inside an event predicate", r.Op)
		}
		return fmt.Errorf("%w: %q", ErrUnknownOperator, r.Op)
	}
	switch r.Op {
	case OpAnd, OpOr, OpNot:
		if len(r.Rules) == 0 {
			return invalid("%s needs rules", r.Op)
		}
		for _, sub := range r.Rules {
			if err := e.validateEvent(sub); err != nil {
				return err
			}
		}
	case OpEq, OpNeq, OpContains, OpPrefix:
		if r.Field == "" {
			return invalid("%s needs a field", r.Op)
		}
		if r.Value == nil && r.Op != OpEq && r.Op != OpNeq {
			return invalid("%s needs a value", r.Op)
		}
	case OpExists, OpQueryEq:
		if r.Field == "" {
			return invalid("%s needs a field", r.Op)
		}
	case OpOneOf:
		if r.Field == "" || len(r.Values) == 0 {
			return invalid("one_of needs a field and values")
		}
	}
	return nil
}

func isBuiltin(op Op) bool {
	switch op {
	case OpAny, OpNone, OpCountAtLeast:
		return true
	}
	return false
}
