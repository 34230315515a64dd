package tagmanager

import (
	"sync"

	"github.com/GriffinCanCode/tracklab/backend/internal/domain/intercept"
	"github.com/GriffinCanCode/tracklab/backend/internal/domain/sandbox"
)

// DataLayer is the host page's event queue. While a container is active,
// every pushed entry carrying an event is sent as a hit through the host's
// egress primitives.
type DataLayer struct {
	mu         sync.Mutex
	entries    []map[string]any
	collectURL string
	egress     func() intercept.Primitives
	tagID      string
	active     bool
}

// NewDataLayer creates an inactive layer.
func NewDataLayer(collectURL string, egress func() intercept.Primitives) *DataLayer {
	if collectURL == "" {
		collectURL = sandbox.DefaultCollectURL
	}
	return &DataLayer{collectURL: collectURL, egress: egress}
}

// Push appends entries and returns the new length.
func (l *DataLayer) Push(entries ...map[string]any) int {
	l.mu.Lock()
	l.entries = append(l.entries, entries...)
	n := len(l.entries)
	active, tagID := l.active, l.tagID
	l.mu.Unlock()

	if active {
		l.send(tagID, entries)
	}
	return n
}

// Entries returns a copy of everything pushed so far.
func (l *DataLayer) Entries() []map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]map[string]any(nil), l.entries...)
}

// Active reports whether a container is consuming the layer.
func (l *DataLayer) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// activate hands the queue to a loaded container, which processes what was
// queued before it arrived.
func (l *DataLayer) activate(tagID string) {
	l.mu.Lock()
	if l.active {
		l.mu.Unlock()
		return
	}
	l.active, l.tagID = true, tagID
	queued := append([]map[string]any(nil), l.entries...)
	l.mu.Unlock()
	l.send(tagID, queued)
}

func (l *DataLayer) deactivate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active = false
}

func (l *DataLayer) send(tagID string, entries []map[string]any) {
	if l.egress == nil {
		return
	}
	prims := l.egress()
	for _, entry := range entries {
		if target, body, ok := sandbox.TagHit(l.collectURL, tagID, entry); ok {
			prims.Beacon(target, body)
		}
	}
}
