// Package bridge relays runtime signals from an isolated frame to its host.
//
// Frames never touch the host's Observation Log. They post Messages through
// a Port; the host's single listener decodes them and hands them to a
// Dispatcher, which appends events or updates the tag lifecycle. Delivery is
// at-most-once and carries no acknowledgement.
package bridge

import (
	"strings"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/tracklab/backend/internal/domain/capture"
)

// Type discriminates message variants.
type Type string

const (
	TypeNetworkProxy Type = "network_proxy"
	TypeLog          Type = "log"
	TypeClick        Type = "click"
	TypeError        Type = "error"
	TypeTagStatus    Type = "gtm_status"
)

// Message is the tagged union posted across the boundary.
type Message interface {
	Type() Type
	// Payload is the full message object, type field included.
	Payload() map[string]any
}

// ProxyData is the CapturedEvent-shaped body of a network_proxy message.
type ProxyData struct {
	Kind    capture.Kind      `json:"type"`
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Body    any               `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// NetworkProxy relays one egress call observed inside the frame.
type NetworkProxy struct {
	Data ProxyData
}

// Log relays console output.
type Log struct {
	Level string
	Args  []any
}

// Click relays a user interaction.
type Click struct {
	Target string
	ID     string
}

// Error relays an uncaught exception message.
type Error struct {
	Message string
}

// TagStatus relays the frame-side tag loader state.
type TagStatus struct {
	Status string
}

// Ignored is anything that did not decode to a known variant.
type Ignored struct {
	Reason string
	Raw    map[string]any
}

func (NetworkProxy) Type() Type { return TypeNetworkProxy }
func (Log) Type() Type          { return TypeLog }
func (Click) Type() Type        { return TypeClick }
func (Error) Type() Type        { return TypeError }
func (TagStatus) Type() Type    { return TypeTagStatus }
func (Ignored) Type() Type      { return "" }

func (m NetworkProxy) Payload() map[string]any {
	data := map[string]any{
		"type":   string(m.Data.Kind),
		"method": m.Data.Method,
		"url":    m.Data.URL,
	}
	if m.Data.Body != nil {
		data["body"] = m.Data.Body
	}
	if len(m.Data.Headers) > 0 {
		data["headers"] = m.Data.Headers
	}
	return map[string]any{"type": string(TypeNetworkProxy), "data": data}
}

func (m Log) Payload() map[string]any {
	args := m.Args
	if args == nil {
		args = []any{}
	}
	p := map[string]any{"type": string(TypeLog), "args": args}
	if m.Level != "" {
		p["level"] = m.Level
	}
	return p
}

func (m Click) Payload() map[string]any {
	return map[string]any{"type": string(TypeClick), "target": m.Target, "id": m.ID}
}

func (m Error) Payload() map[string]any {
	return map[string]any{"type": string(TypeError), "message": m.Message}
}

func (m TagStatus) Payload() map[string]any {
	return map[string]any{"type": string(TypeTagStatus), "status": m.Status}
}

func (m Ignored) Payload() map[string]any { return m.Raw }

// Encode serializes a message to its wire form.
func Encode(m Message) ([]byte, error) {
	return sonic.Marshal(m.Payload())
}

// Decode parses a wire message. It never fails: malformed input or an
// unknown type yields Ignored.
func Decode(raw []byte) Message {
	var obj map[string]any
	if err := sonic.Unmarshal(raw, &obj); err != nil {
		return Ignored{Reason: "malformed json"}
	}
	return FromMap(obj)
}

// FromMap interprets an already-decoded message object, as posted from a
// frame runtime.
func FromMap(obj map[string]any) Message {
	if obj == nil {
		return Ignored{Reason: "empty message"}
	}
	t, _ := obj["type"].(string)
	switch Type(t) {
	case TypeNetworkProxy:
		data, ok := obj["data"].(map[string]any)
		if !ok {
			return Ignored{Reason: "network_proxy without data", Raw: obj}
		}
		kind := capture.Kind(stringField(data, "type"))
		if !kind.Valid() {
			return Ignored{Reason: "unknown event kind " + string(kind), Raw: obj}
		}
		return NetworkProxy{Data: ProxyData{
			Kind:    kind,
			Method:  strings.ToUpper(stringField(data, "method")),
			URL:     stringField(data, "url"),
			Body:    data["body"],
			Headers: stringMap(data["headers"]),
		}}
	case TypeLog:
		args, _ := obj["args"].([]any)
		return Log{Level: stringField(obj, "level"), Args: args}
	case TypeClick:
		return Click{Target: stringField(obj, "target"), ID: stringField(obj, "id")}
	case TypeError:
		return Error{Message: stringField(obj, "message")}
	case TypeTagStatus:
		return TagStatus{Status: stringField(obj, "status")}
	case "":
		return Ignored{Reason: "missing type", Raw: obj}
	default:
		return Ignored{Reason: "unknown type " + t, Raw: obj}
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func stringMap(v any) map[string]string {
	raw, ok := v.(map[string]any)
	if !ok || len(raw) == 0 {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, val := range raw {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	return out
}
