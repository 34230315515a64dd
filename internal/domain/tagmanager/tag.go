// Package tagmanager owns the lifecycle of the learner's tag-manager
// container: validating and persisting its id, injecting it into the host
// document, and tracking its load status.
package tagmanager

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultPrefix is the literal every container id must start with.
const DefaultPrefix = "GTM-"

// KeyTagID is the persisted-state key holding the container id.
const KeyTagID = "gtm_id"

var (
	// ErrInvalidTagID is returned for ids without the required prefix.
	ErrInvalidTagID = errors.New("invalid tag id")
	// ErrInvalidStatus is returned for unknown lifecycle states.
	ErrInvalidStatus = errors.New("invalid tag status")
)

// Status is the lifecycle state of the container.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusActive  Status = "active"
	StatusError   Status = "error"
)

// ParseStatus validates a status reported by a frame.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusIdle, StatusLoading, StatusActive, StatusError:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// NormalizeID trims and uppercases user input.
func NormalizeID(input string) string {
	return strings.ToUpper(strings.TrimSpace(input))
}

// ValidateID normalizes input and checks it carries prefix. The prefix
// comparison is case-insensitive because input is normalized first.
func ValidateID(input, prefix string) (string, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	id := NormalizeID(input)
	if id == "" || !strings.HasPrefix(id, strings.ToUpper(prefix)) {
		return "", fmt.Errorf("%w: must start with %s", ErrInvalidTagID, prefix)
	}
	return id, nil
}
