// Package capture holds the Observation Log: the append-only, deduplicating
// store of egress events every objective is evaluated against.
package capture

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bytedance/sonic"
	"github.com/gabriel-vasile/mimetype"

	"github.com/GriffinCanCode/tracklab/backend/internal/shared/id"
)

// Kind classifies where a captured event came from.
type Kind string

const (
	KindFetch  Kind = "fetch"
	KindXHR    Kind = "xhr"
	KindBeacon Kind = "beacon"
	KindImage  Kind = "image"
	KindLog    Kind = "log"
	KindCustom Kind = "custom"
)

// SandboxURL is the url recorded for runtime signals raised inside a frame.
const SandboxURL = "iframe-sandbox"

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindFetch, KindXHR, KindBeacon, KindImage, KindLog, KindCustom:
		return true
	}
	return false
}

// CapturedEvent is one observed egress call or runtime signal. Events are
// immutable once appended; Body and Headers must not be modified by readers.
type CapturedEvent struct {
	ID        id.EventID        `json:"id"`
	Timestamp time.Time         `json:"-"`
	Method    string            `json:"method"`
	URL       string            `json:"url"`
	Kind      Kind              `json:"type"`
	Body      any               `json:"body,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// NewEvent stamps a fresh id and capture time on an event.
func NewEvent(kind Kind, method, rawURL string, body any) CapturedEvent {
	if method == "" {
		method = "GET"
	}
	return CapturedEvent{
		ID:        id.NewEventID(),
		Timestamp: time.Now(),
		Method:    strings.ToUpper(method),
		URL:       rawURL,
		Kind:      kind,
		Body:      NormalizeBody(body),
	}
}

// WithHeaders returns a copy of e carrying the given headers.
func (e CapturedEvent) WithHeaders(headers map[string]string) CapturedEvent {
	if len(headers) == 0 {
		return e
	}
	cp := make(map[string]string, len(headers))
	for k, v := range headers {
		cp[k] = v
	}
	e.Headers = cp
	return e
}

type eventJSON struct {
	ID        id.EventID        `json:"id"`
	Timestamp int64             `json:"timestamp"`
	Method    string            `json:"method"`
	URL       string            `json:"url"`
	Kind      Kind              `json:"type"`
	Body      any               `json:"body,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// MarshalJSON encodes the timestamp as epoch milliseconds.
func (e CapturedEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventJSON{
		ID:        e.ID,
		Timestamp: e.Timestamp.UnixMilli(),
		Method:    e.Method,
		URL:       e.URL,
		Kind:      e.Kind,
		Body:      e.Body,
		Headers:   e.Headers,
	})
}

// UnmarshalJSON decodes the epoch-millisecond wire form.
func (e *CapturedEvent) UnmarshalJSON(data []byte) error {
	var raw eventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = CapturedEvent{
		ID:        raw.ID,
		Timestamp: time.UnixMilli(raw.Timestamp),
		Method:    raw.Method,
		URL:       raw.URL,
		Kind:      raw.Kind,
		Body:      raw.Body,
		Headers:   raw.Headers,
	}
	return nil
}

// NormalizeBody converts transport payloads into the two shapes the log
// stores: structured values pass through, everything else becomes a string.
func NormalizeBody(body any) any {
	switch v := body.(type) {
	case nil:
		return nil
	case string:
		return v
	case []byte:
		return bytesBody(v)
	case json.RawMessage:
		return bytesBody(v)
	case url.Values:
		return v.Encode()
	case map[string]any, []any, bool, float64, int, int64:
		return v
	default:
		// Round-trip through JSON so typed structs become plain maps.
		data, err := sonic.Marshal(v)
		if err != nil {
			return nil
		}
		var out any
		if err := sonic.Unmarshal(data, &out); err != nil {
			return string(data)
		}
		return out
	}
}

func bytesBody(b []byte) any {
	if len(b) == 0 {
		return ""
	}
	mt := mimetype.Detect(b)
	if strings.HasPrefix(mt.String(), "text/") || mt.Is("application/json") || utf8.Valid(b) {
		return string(b)
	}
	return "[binary " + mt.String() + "]"
}

// CanonicalBody is the serialized representation used for duplicate
// detection. Map keys are sorted so equal payloads compare equal.
func CanonicalBody(body any) string {
	if body == nil {
		return ""
	}
	s, err := sonic.ConfigStd.MarshalToString(body)
	if err != nil {
		return ""
	}
	return s
}
