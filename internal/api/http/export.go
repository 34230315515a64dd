package http

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracklab/backend/internal/domain/capture"
	"github.com/GriffinCanCode/tracklab/backend/internal/shared/validate"
)

// ExportEvents streams the log as gzip-compressed NDJSON, oldest first, so
// the file replays in capture order. ?gzip=false sends plain NDJSON.
func (h *Handlers) ExportEvents(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	events := filterKind(s.Events(), c.Query("type"))
	compress := c.Query("gzip") != "false"

	name := fmt.Sprintf("%s-%s.ndjson", s.ID(), time.Now().UTC().Format("20060102T150405Z"))
	if compress {
		name += ".gz"
		c.Header("Content-Type", "application/gzip")
	} else {
		c.Header("Content-Type", "application/x-ndjson")
	}
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Status(http.StatusOK)

	if err := WriteNDJSON(c.Writer, events, compress); err != nil {
		h.logger.Warn("Event export aborted", zap.String("session", s.ID().String()), zap.Error(err))
	}
}

// WriteNDJSON writes events oldest first, one JSON object per line.
func WriteNDJSON(w io.Writer, events []capture.CapturedEvent, compress bool) error {
	var (
		zw  *gzip.Writer
		out = bufio.NewWriter(w)
	)
	if compress {
		var err error
		zw, err = gzip.NewWriterLevel(out, gzip.BestSpeed)
		if err != nil {
			return err
		}
	}
	dst := func(p []byte) error {
		if zw != nil {
			_, err := zw.Write(p)
			return err
		}
		_, err := out.Write(p)
		return err
	}

	for i := len(events) - 1; i >= 0; i-- {
		line, err := sonic.Marshal(events[i])
		if err != nil {
			return fmt.Errorf("encode event %s: %w", events[i].ID, err)
		}
		if err := dst(append(line, '\n')); err != nil {
			return err
		}
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return err
		}
	}
	return out.Flush()
}

// decodeEntries accepts a single data layer object or a list of them.
func decodeEntries(raw []byte) ([]map[string]any, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return nil, fmt.Errorf("empty body")
	}
	var entries []map[string]any
	if text[0] == '[' {
		if err := sonic.UnmarshalString(text, &entries); err != nil {
			return nil, fmt.Errorf("invalid entries: %w", err)
		}
	} else {
		var one map[string]any
		if err := sonic.UnmarshalString(text, &one); err != nil {
			return nil, fmt.Errorf("invalid entry: %w", err)
		}
		entries = []map[string]any{one}
	}
	if err := validate.Entries(raw, entries); err != nil {
		return nil, err
	}
	return entries, nil
}
