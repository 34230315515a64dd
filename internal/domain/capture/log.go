package capture

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/tracklab/backend/internal/shared/id"
)

// DefaultDedupWindow is how close two identical events must be to count as
// the same logical call observed twice.
const DefaultDedupWindow = 1000 * time.Millisecond

// ChangeType describes a mutation of the log.
type ChangeType string

const (
	ChangeAppended ChangeType = "appended"
	ChangeCleared  ChangeType = "cleared"
)

// Change is delivered to subscribers after every mutation.
type Change struct {
	Type  ChangeType
	Event *CapturedEvent
	Len   int
}

// Stats holds aggregate counters for a log.
type Stats struct {
	Appended   int `json:"appended"`
	Duplicates int `json:"duplicates"`
	Len        int `json:"len"`
}

// Option configures a Log.
type Option func(*Log)

// WithDedupWindow overrides DefaultDedupWindow. A zero window disables
// content-based deduplication; id-based deduplication always applies.
func WithDedupWindow(d time.Duration) Option {
	return func(l *Log) {
		if d >= 0 {
			l.window = d
		}
	}
}

// WithDuplicateHook registers a callback for suppressed duplicates.
func WithDuplicateHook(fn func(CapturedEvent)) Option {
	return func(l *Log) {
		l.onDuplicate = fn
	}
}

type entry struct {
	event CapturedEvent
	body  string
}

// Log is the Observation Log. All producers (host interceptors and bridge
// messages) go through Append, which makes dedup and insert one atomic step.
// It is safe for concurrent use.
type Log struct {
	mu          sync.RWMutex
	entries     []entry // oldest first
	ids         map[id.EventID]struct{}
	window      time.Duration
	subscribers map[int]func(Change)
	nextSub     int
	stats       Stats
	onDuplicate func(CapturedEvent)
}

// NewLog creates an empty log.
func NewLog(opts ...Option) *Log {
	l := &Log{
		entries:     make([]entry, 0, 64),
		ids:         make(map[id.EventID]struct{}),
		window:      DefaultDedupWindow,
		subscribers: make(map[int]func(Change)),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append inserts e unless it duplicates an existing event. It reports
// whether the event was stored.
func (l *Log) Append(e CapturedEvent) bool {
	if e.ID == "" {
		e.ID = id.NewEventID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	body := CanonicalBody(e.Body)

	l.mu.Lock()
	if l.isDuplicate(e, body) {
		l.stats.Duplicates++
		hook := l.onDuplicate
		l.mu.Unlock()
		if hook != nil {
			hook(e)
		}
		return false
	}
	l.entries = append(l.entries, entry{event: e, body: body})
	l.ids[e.ID] = struct{}{}
	l.stats.Appended++
	n := len(l.entries)
	subs := l.snapshotSubscribers()
	l.mu.Unlock()

	stored := e
	for _, fn := range subs {
		fn(Change{Type: ChangeAppended, Event: &stored, Len: n})
	}
	return true
}

// isDuplicate must be called with mu held.
func (l *Log) isDuplicate(e CapturedEvent, body string) bool {
	if _, ok := l.ids[e.ID]; ok {
		return true
	}
	if l.window <= 0 {
		return false
	}
	for i := len(l.entries) - 1; i >= 0; i-- {
		prev := l.entries[i]
		if prev.event.Kind != e.Kind ||
			prev.event.Method != e.Method ||
			prev.event.URL != e.URL ||
			prev.body != body {
			continue
		}
		delta := e.Timestamp.Sub(prev.event.Timestamp)
		if delta < 0 {
			delta = -delta
		}
		if delta < l.window {
			return true
		}
	}
	return false
}

// Events returns a copy of the visible log, most recent first.
func (l *Log) Events() []CapturedEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]CapturedEvent, len(l.entries))
	for i, en := range l.entries {
		out[len(l.entries)-1-i] = en.event
	}
	return out
}

// Find returns the event with the given id.
func (l *Log) Find(eventID id.EventID) (CapturedEvent, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, en := range l.entries {
		if en.event.ID == eventID {
			return en.event, true
		}
	}
	return CapturedEvent{}, false
}

// Len returns the number of visible events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Clear resets the visible collection.
func (l *Log) Clear() {
	l.mu.Lock()
	l.entries = make([]entry, 0, 64)
	l.ids = make(map[id.EventID]struct{})
	subs := l.snapshotSubscribers()
	l.mu.Unlock()

	for _, fn := range subs {
		fn(Change{Type: ChangeCleared})
	}
}

// Stats returns aggregate counters.
func (l *Log) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := l.stats
	s.Len = len(l.entries)
	return s
}

// Subscribe registers fn for every subsequent change. Callbacks run on the
// appending goroutine, after the lock is released. The returned function
// removes the subscription.
func (l *Log) Subscribe(fn func(Change)) func() {
	l.mu.Lock()
	key := l.nextSub
	l.nextSub++
	l.subscribers[key] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.subscribers, key)
		l.mu.Unlock()
	}
}

func (l *Log) snapshotSubscribers() []func(Change) {
	subs := make([]func(Change), 0, len(l.subscribers))
	for i := 0; i < l.nextSub; i++ {
		if fn, ok := l.subscribers[i]; ok {
			subs = append(subs, fn)
		}
	}
	return subs
}
