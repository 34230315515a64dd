package intercept

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracklab/backend/internal/infrastructure/resilience"
)

// HTTPConfig configures the network-backed originals.
type HTTPConfig struct {
	Timeout   time.Duration
	UserAgent string
	Retries   int
}

// DefaultHTTPConfig returns production-ready defaults.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Timeout:   10 * time.Second,
		UserAgent: "TrackLab-Egress/1.0",
		Retries:   1,
	}
}

// HTTPPrimitives performs real network calls through resty. Beacons and
// pixels are fire-and-forget: they return immediately and complete on their
// own goroutine.
type HTTPPrimitives struct {
	client  *resty.Client
	breaker *resilience.Breaker
	logger  *zap.Logger
}

var _ Primitives = (*HTTPPrimitives)(nil)

// NewHTTPPrimitives creates network originals.
func NewHTTPPrimitives(cfg HTTPConfig, logger *zap.Logger) *HTTPPrimitives {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultHTTPConfig().Timeout
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(250*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("User-Agent", cfg.UserAgent)

	breaker := resilience.New("egress", resilience.Settings{
		Threshold: 5,
		Cooldown:  30 * time.Second,
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Info("Egress breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &HTTPPrimitives{client: client, breaker: breaker, logger: logger}
}

// Client exposes the underlying resty client (tests swap its transport).
func (p *HTTPPrimitives) Client() *resty.Client { return p.client }

func (p *HTTPPrimitives) do(ctx context.Context, method, url string, body any, headers map[string]string) (*Response, error) {
	resp, err := resilience.Execute(p.breaker, func() (*resty.Response, error) {
		req := p.client.R().SetContext(ctx).SetHeaders(headers)
		if body != nil {
			req.SetBody(body)
		}
		return req.Execute(method, url)
	})
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}

	out := &Response{
		Status:  resp.StatusCode(),
		Body:    resp.Body(),
		Headers: make(map[string]string, len(resp.Header())),
	}
	for k, v := range resp.Header() {
		if len(v) > 0 {
			out.Headers[k] = v[0]
		}
	}
	return out, nil
}

// Request performs the call with the caller's context.
func (p *HTTPPrimitives) Request(ctx context.Context, call Call) (*Response, error) {
	method := call.Method
	if method == "" {
		method = http.MethodGet
	}
	return p.do(ctx, method, call.URL, call.Body, call.Headers)
}

func (p *HTTPPrimitives) Open(method, url string) *RawRequest {
	return NewRawRequest(method, url)
}

func (p *HTTPPrimitives) Send(ctx context.Context, req *RawRequest, body any) (*Response, error) {
	if req == nil {
		return nil, fmt.Errorf("send: request not opened")
	}
	return p.do(ctx, req.Method, req.URL, body, req.Headers())
}

// Beacon queues a POST in the background.
func (p *HTTPPrimitives) Beacon(url string, body any) bool {
	go p.background(http.MethodPost, url, body)
	return true
}

// PixelLoad fetches the image address in the background.
func (p *HTTPPrimitives) PixelLoad(url string) {
	go p.background(http.MethodGet, url, nil)
}

func (p *HTTPPrimitives) background(method, url string, body any) {
	ctx, cancel := context.WithTimeout(context.Background(), p.client.GetClient().Timeout)
	defer cancel()
	if _, err := p.do(ctx, method, url, body, nil); err != nil {
		p.logger.Debug("Background egress failed", zap.String("url", url), zap.Error(err))
	}
}
