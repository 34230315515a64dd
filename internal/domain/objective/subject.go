package objective

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/tracklab/backend/internal/domain/capture"
)

// Subject is one event as seen by predicates. Body and query parsing happen
// lazily and at most once per evaluation pass.
type Subject struct {
	Event capture.CapturedEvent

	bodyParsed bool
	body       any
	bodyText   *string
	query      url.Values
}

// NewSubjects wraps events for one evaluation pass.
func NewSubjects(events []capture.CapturedEvent) []*Subject {
	out := make([]*Subject, len(events))
	for i := range events {
		out[i] = &Subject{Event: events[i]}
	}
	return out
}

var roots = map[string]struct{}{
	"id": {}, "kind": {}, "type": {}, "method": {}, "url": {}, "body": {}, "headers": {},
}

// Field resolves a path, trying each `|` alternative in turn. Alternatives
// without a root of their own inherit the root of the first one, so
// "body.ecommerce.items.0|items.0" reads body.items.0 as the fallback.
func (s *Subject) Field(path string) (any, bool) {
	if !strings.Contains(path, "|") {
		return s.field(path)
	}
	var (
		firstRoot string
		fallback  any
		found     bool
	)
	for i, alt := range strings.Split(path, "|") {
		alt = strings.TrimSpace(alt)
		root, _, _ := strings.Cut(alt, ".")
		if i == 0 {
			firstRoot = root
		} else if _, known := roots[root]; !known {
			alt = firstRoot + "." + alt
		}
		v, ok := s.field(alt)
		if !ok {
			continue
		}
		if truthy(v) {
			return v, true
		}
		if !found {
			fallback, found = v, true
		}
	}
	return fallback, found
}

func (s *Subject) field(path string) (any, bool) {
	root, rest, _ := strings.Cut(path, ".")
	switch root {
	case "id":
		return string(s.Event.ID), true
	case "kind", "type":
		return string(s.Event.Kind), true
	case "method":
		return s.Event.Method, true
	case "url":
		return s.urlField(rest)
	case "headers":
		if rest == "" {
			return nil, false
		}
		for k, v := range s.Event.Headers {
			if strings.EqualFold(k, rest) {
				return v, true
			}
		}
		return nil, false
	case "body":
		if rest == "" {
			return s.BodyText(), s.Event.Body != nil
		}
		return walk(s.Body(), strings.Split(rest, "."))
	}
	return nil, false
}

func (s *Subject) urlField(rest string) (any, bool) {
	if rest == "" {
		return s.Event.URL, true
	}
	u, err := url.Parse(s.Event.URL)
	if err != nil {
		return nil, false
	}
	switch {
	case rest == "host":
		return u.Host, true
	case rest == "path":
		return u.Path, true
	case strings.HasPrefix(rest, "query."):
		v, ok := s.Query(strings.TrimPrefix(rest, "query."))
		return v, ok
	}
	return nil, false
}

// Query returns the first value of a URL query parameter.
func (s *Subject) Query(param string) (string, bool) {
	if s.query == nil {
		s.query = url.Values{}
		if u, err := url.Parse(s.Event.URL); err == nil {
			s.query = u.Query()
		}
	}
	vals, ok := s.query[param]
	if !ok || len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

// Body interprets the payload: structured values are used directly, strings
// are parsed as JSON, then as a form; anything else stays an opaque string.
func (s *Subject) Body() any {
	if s.bodyParsed {
		return s.body
	}
	s.bodyParsed = true
	s.body = parseBody(s.Event.Body)
	return s.body
}

// BodyText is the canonical text form of the body.
func (s *Subject) BodyText() string {
	if s.bodyText == nil {
		var text string
		switch b := s.Event.Body.(type) {
		case nil:
		case string:
			text = b
		default:
			text = capture.CanonicalBody(b)
		}
		s.bodyText = &text
	}
	return *s.bodyText
}

func parseBody(body any) any {
	str, ok := body.(string)
	if !ok {
		return body
	}
	trimmed := strings.TrimSpace(str)
	if trimmed == "" {
		return str
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		var out any
		if err := sonic.UnmarshalString(trimmed, &out); err == nil {
			return out
		}
		return str
	}
	if strings.Contains(trimmed, "=") && !strings.ContainsAny(trimmed, " \n") {
		if form, err := url.ParseQuery(trimmed); err == nil {
			m := make(map[string]any, len(form))
			for k, v := range form {
				if len(v) > 0 {
					m[k] = v[0]
				}
			}
			return m
		}
	}
	return str
}

func walk(v any, segments []string) (any, bool) {
	cur := v
	for _, seg := range segments {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}
