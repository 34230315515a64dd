package bridge

import (
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracklab/backend/internal/domain/capture"
)

// StatusSetter receives relayed tag lifecycle states. It rejects values it
// does not recognize.
type StatusSetter func(status string) error

// Outcome describes what the dispatcher did with a message.
type Outcome string

const (
	OutcomeAppended  Outcome = "appended"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeStatus    Outcome = "status"
	OutcomeIgnored   Outcome = "ignored"
)

// Observer is notified once per handled message.
type Observer func(t Type, outcome Outcome)

// Dispatcher applies bridge messages to the host context.
type Dispatcher struct {
	log       atomic.Pointer[capture.Log]
	setStatus StatusSetter
	observer  Observer
	logger    *zap.Logger
}

// NewDispatcher creates a dispatcher that appends into log.
func NewDispatcher(log *capture.Log, setStatus StatusSetter, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{setStatus: setStatus, logger: logger}
	d.log.Store(log)
	return d
}

// WithObserver attaches a metrics observer.
func (d *Dispatcher) WithObserver(o Observer) *Dispatcher {
	d.observer = o
	return d
}

// SetLog swaps the target log (used when the host context reloads).
func (d *Dispatcher) SetLog(log *capture.Log) {
	d.log.Store(log)
}

// HandleRaw decodes and applies a wire message.
func (d *Dispatcher) HandleRaw(raw []byte) Outcome {
	return d.Handle(Decode(raw))
}

// Handle applies one message. It never returns an error; anything that
// cannot be applied is ignored.
func (d *Dispatcher) Handle(msg Message) Outcome {
	outcome := d.apply(msg)
	if d.observer != nil {
		d.observer(msg.Type(), outcome)
	}
	return outcome
}

func (d *Dispatcher) apply(msg Message) Outcome {
	switch m := msg.(type) {
	case NetworkProxy:
		e := capture.NewEvent(m.Data.Kind, m.Data.Method, m.Data.URL, m.Data.Body).WithHeaders(m.Data.Headers)
		return d.append(e)

	case Log, Click, Error:
		t := msg.Type()
		kind := capture.KindCustom
		if t == TypeLog {
			kind = capture.KindLog
		}
		e := capture.NewEvent(kind, strings.ToUpper(string(t)), capture.SandboxURL, msg.Payload())
		return d.append(e)

	case TagStatus:
		if d.setStatus == nil {
			return OutcomeIgnored
		}
		if err := d.setStatus(m.Status); err != nil {
			d.logger.Debug("Ignoring tag status", zap.String("status", m.Status), zap.Error(err))
			return OutcomeIgnored
		}
		return OutcomeStatus

	case Ignored:
		d.logger.Debug("Ignoring bridge message", zap.String("reason", m.Reason))
		return OutcomeIgnored
	}
	return OutcomeIgnored
}

func (d *Dispatcher) append(e capture.CapturedEvent) Outcome {
	log := d.log.Load()
	if log == nil {
		return OutcomeIgnored
	}
	if log.Append(e) {
		return OutcomeAppended
	}
	return OutcomeDuplicate
}
