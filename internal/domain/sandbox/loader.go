package sandbox

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracklab/backend/internal/infrastructure/resilience"
)

// maxScriptBytes bounds a single script download.
const maxScriptBytes = 4 << 20

// ScriptLoader fetches the source of script elements that carry a src.
type ScriptLoader interface {
	Load(ctx context.Context, url string) (string, error)
}

// HTTPScriptLoader downloads scripts with retries behind a circuit breaker.
type HTTPScriptLoader struct {
	client  *retryablehttp.Client
	breaker *resilience.Breaker
}

// NewHTTPScriptLoader creates a loader.
func NewHTTPScriptLoader(retries int, logger *zap.Logger) *HTTPScriptLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := retryablehttp.NewClient()
	client.RetryMax = retries
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = nil

	breaker := resilience.New("script-loader", resilience.Settings{
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("Script loader circuit changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &HTTPScriptLoader{client: client, breaker: breaker}
}

// Load implements ScriptLoader.
func (l *HTTPScriptLoader) Load(ctx context.Context, url string) (string, error) {
	return resilience.Execute(l.breaker, func() (string, error) {
		req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", fmt.Errorf("build request: %w", err)
		}
		resp, err := l.client.Do(req)
		if err != nil {
			return "", fmt.Errorf("load %s: %w", url, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return "", fmt.Errorf("load %s: status %d", url, resp.StatusCode)
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxScriptBytes))
		if err != nil {
			return "", fmt.Errorf("read %s: %w", url, err)
		}
		return string(data), nil
	})
}

// StaticLoader serves scripts from memory. Unknown URLs load as empty
// scripts unless they match a failing prefix.
type StaticLoader struct {
	mu      sync.RWMutex
	scripts map[string]string
	failing []string
}

// NewStaticLoader creates an offline loader.
func NewStaticLoader(scripts map[string]string) *StaticLoader {
	l := &StaticLoader{scripts: make(map[string]string, len(scripts))}
	for k, v := range scripts {
		l.scripts[k] = v
	}
	return l
}

// Fail makes every URL with the given prefix fail to load.
func (l *StaticLoader) Fail(prefix string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failing = append(l.failing, prefix)
}

// Load implements ScriptLoader.
func (l *StaticLoader) Load(ctx context.Context, url string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, p := range l.failing {
		if strings.HasPrefix(url, p) {
			return "", fmt.Errorf("load %s: blocked", url)
		}
	}
	return l.scripts[url], nil
}
