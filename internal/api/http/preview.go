package http

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/bytedance/sonic"
	"github.com/microcosm-cc/bluemonday"

	"github.com/GriffinCanCode/tracklab/backend/internal/domain/capture"
	"github.com/GriffinCanCode/tracklab/backend/internal/shared/id"
)

const (
	maxPreviewText = 160
	maxConsoleText = 2000
)

var strict = bluemonday.StrictPolicy()

// eventPreview is the compact listing view of a captured event.
type eventPreview struct {
	ID        id.EventID   `json:"id"`
	Timestamp int64        `json:"timestamp"`
	Kind      capture.Kind `json:"type"`
	Method    string       `json:"method"`
	URL       string       `json:"url"`
	Preview   string       `json:"preview,omitempty"`
}

func previews(events []capture.CapturedEvent) []eventPreview {
	out := make([]eventPreview, len(events))
	for i, e := range events {
		out[i] = eventPreview{
			ID:        e.ID,
			Timestamp: e.Timestamp.UnixMilli(),
			Kind:      e.Kind,
			Method:    e.Method,
			URL:       e.URL,
			Preview:   plainText(bodyText(e.Body), maxPreviewText),
		}
	}
	return out
}

func bodyText(body any) string {
	switch v := body.(type) {
	case nil:
		return ""
	case string:
		return v
	}
	b, err := sonic.Marshal(body)
	if err != nil {
		return ""
	}
	return string(b)
}

// plainText strips markup learners may have logged, collapses whitespace
// and truncates to limit runes.
func plainText(s string, limit int) string {
	s = html.UnescapeString(strict.Sanitize(s))
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit-1]) + "…"
}
