package sandbox

import (
	"errors"
	"time"

	"github.com/GriffinCanCode/tracklab/backend/internal/domain/intercept"
)

var (
	// ErrFrameClosed is returned by operations on a torn down frame.
	ErrFrameClosed = errors.New("frame closed")
	// ErrElementNotFound is returned when a selector matches nothing.
	ErrElementNotFound = errors.New("element not found")
	// ErrTimeout is the interrupt value used when a task overruns.
	ErrTimeout = errors.New("execution timeout exceeded")
)

// Well-known endpoints of the emulated tag manager.
const (
	DefaultTagScriptBase = "https://www.googletagmanager.com/gtm.js"
	DefaultTagFrameBase  = "https://www.googletagmanager.com/ns.html"
	DefaultCollectURL    = "https://www.google-analytics.com/g/collect"
)

// Config defines frame configuration
type Config struct {
	Timeout          time.Duration // Per-task execution budget
	MaxCallStackSize int           // goja call stack limit
	EnableConsole    bool          // Capture console output locally
	MaxConsole       int           // Console entries kept per frame
	TagScriptBase    string        // Tag manager loader script URL
	TagFrameBase     string        // Tag manager noscript iframe URL
	CollectURL       string        // Where emulated tags send hits
	AllowList        []string      // Egress capture filter
	LoadTimeout      time.Duration // Script src load budget
}

// DefaultConfig returns the frame defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:          5 * time.Second,
		MaxCallStackSize: 1024,
		EnableConsole:    true,
		MaxConsole:       500,
		TagScriptBase:    DefaultTagScriptBase,
		TagFrameBase:     DefaultTagFrameBase,
		CollectURL:       DefaultCollectURL,
		AllowList:        intercept.DefaultAllowList,
		LoadTimeout:      10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxCallStackSize <= 0 {
		c.MaxCallStackSize = d.MaxCallStackSize
	}
	if c.MaxConsole <= 0 {
		c.MaxConsole = d.MaxConsole
	}
	if c.TagScriptBase == "" {
		c.TagScriptBase = d.TagScriptBase
	}
	if c.TagFrameBase == "" {
		c.TagFrameBase = d.TagFrameBase
	}
	if c.CollectURL == "" {
		c.CollectURL = d.CollectURL
	}
	if len(c.AllowList) == 0 {
		c.AllowList = d.AllowList
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = d.LoadTimeout
	}
	return c
}

// Content is the learner-authored part of a page.
type Content struct {
	HTML string `json:"html"`
	CSS  string `json:"css"`
	JS   string `json:"js"`
}

// LogEntry represents console output
type LogEntry struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}
