// Package id provides centralized ID generation for the backend.
//
// Two formats are used:
//   - ULIDs with type prefixes for long-lived entities (sessions, frames),
//     which keeps them sortable by creation time and readable in logs
//   - UUIDv4 for captured events, matching the identifiers browsers hand
//     out through crypto.randomUUID on the client side
package id

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ErrInvalidID is returned when a string is not an ID of the expected kind.
var ErrInvalidID = errors.New("invalid id")

// ============================================================================
// Type-Safe ID Wrappers
// ============================================================================

// SessionID identifies a learner session (one host context)
type SessionID string

// FrameID identifies one build of an isolated frame
type FrameID string

// EventID identifies a captured egress event
type EventID string

// RequestID correlates one API request across log lines and spans
type RequestID string

const (
	SessionPrefix = "sess"
	FramePrefix   = "frm"
	RequestPrefix = "req"
)

// ============================================================================
// ULID Generator
// ============================================================================

// Generator generates monotonic ULIDs. Entropy readers are not safe for
// concurrent use, so calls are serialized.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator. IDs made within the same millisecond
// still sort in creation order.
func NewGenerator() *Generator {
	return &Generator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// WithPrefix creates a "prefix_ULID" string.
func (g *Generator) WithPrefix(prefix string) string {
	return prefix + "_" + g.Generate().String()
}

// ============================================================================
// Typed IDs
// ============================================================================

// NewSessionID generates a new session ID
func NewSessionID() SessionID {
	return SessionID(Default().WithPrefix(SessionPrefix))
}

// NewFrameID generates a new frame ID
func NewFrameID() FrameID {
	return FrameID(Default().WithPrefix(FramePrefix))
}

// NewRequestID generates a new request ID
func NewRequestID() RequestID {
	return RequestID(Default().WithPrefix(RequestPrefix))
}

// NewEventID generates a random event ID
func NewEventID() EventID {
	return EventID(uuid.NewString())
}

func (id SessionID) String() string { return string(id) }
func (id FrameID) String() string   { return string(id) }
func (id EventID) String() string   { return string(id) }
func (id RequestID) String() string { return string(id) }

// Created returns when the session ID was minted.
func (id SessionID) Created() (time.Time, error) {
	u, err := parsePrefixed(string(id), SessionPrefix)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()), nil
}

// ParseSessionID validates s as a session ID, such as one a client asks to
// resume.
func ParseSessionID(s string) (SessionID, error) {
	if _, err := parsePrefixed(s, SessionPrefix); err != nil {
		return "", err
	}
	return SessionID(s), nil
}

func parsePrefixed(s, prefix string) (ulid.ULID, error) {
	rest, ok := strings.CutPrefix(s, prefix+"_")
	if !ok {
		return ulid.ULID{}, fmt.Errorf("%w: %q lacks prefix %s", ErrInvalidID, s, prefix)
	}
	u, err := ulid.ParseStrict(rest)
	if err != nil {
		return ulid.ULID{}, fmt.Errorf("%w: %q: %v", ErrInvalidID, s, err)
	}
	return u, nil
}

// IsValidEventID checks if an ID string is a valid UUID
func IsValidEventID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
