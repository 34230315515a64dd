// Package intercept wraps the network-producing primitives of an execution
// context so every tracking call is observed before it is delegated.
//
// A Registry is the single installation point per context. Install captures
// the original Primitives and returns an Interceptor that implements the same
// interface: each call is normalized into a capture.CapturedEvent, handed to
// the context's Sink, and then forwarded to the original unchanged.
package intercept

import (
	"context"
	"net/http"
	"strings"
	"sync"
)

// Call is one generic asynchronous request (the fetch shape).
type Call struct {
	Method  string
	URL     string
	Body    any
	Headers map[string]string
}

// Response is what an original request primitive resolved to.
type Response struct {
	Status  int
	Body    []byte
	Headers map[string]string
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// RawRequest is a low-level request object (the XMLHttpRequest shape).
// Method and URL are recorded at open time; the body arrives at send time.
type RawRequest struct {
	Method string
	URL    string

	mu      sync.Mutex
	headers map[string]string
	sent    bool
}

// NewRawRequest creates an opened request.
func NewRawRequest(method, url string) *RawRequest {
	if method == "" {
		method = http.MethodGet
	}
	return &RawRequest{
		Method:  strings.ToUpper(method),
		URL:     url,
		headers: make(map[string]string),
	}
}

// SetHeader records an outbound header.
func (r *RawRequest) SetHeader(key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.headers[key] = value
}

// Headers returns a copy of the recorded headers.
func (r *RawRequest) Headers() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.headers))
	for k, v := range r.headers {
		out[k] = v
	}
	return out
}

// markSent flips the sent flag and reports whether it was already set.
func (r *RawRequest) markSent() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	was := r.sent
	r.sent = true
	return was
}

// Primitives is the capability interface every execution context exposes
// for outbound traffic.
type Primitives interface {
	// Request performs a generic request and resolves to its response.
	Request(ctx context.Context, call Call) (*Response, error)
	// Open prepares a low-level request object.
	Open(method, url string) *RawRequest
	// Send transmits an opened request with its body.
	Send(ctx context.Context, req *RawRequest, body any) (*Response, error)
	// Beacon queues a fire-and-forget POST and reports whether it was queued.
	Beacon(url string, body any) bool
	// PixelLoad requests an image address.
	PixelLoad(url string)
}

// NopPrimitives answers every call locally without touching the network.
// It is used offline (CLI grading, tests, EGRESS_OFFLINE).
type NopPrimitives struct{}

var _ Primitives = NopPrimitives{}

func (NopPrimitives) Request(ctx context.Context, call Call) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Response{Status: http.StatusNoContent, Headers: map[string]string{}}, nil
}

func (NopPrimitives) Open(method, url string) *RawRequest {
	return NewRawRequest(method, url)
}

func (NopPrimitives) Send(ctx context.Context, req *RawRequest, body any) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Response{Status: http.StatusNoContent, Headers: map[string]string{}}, nil
}

func (NopPrimitives) Beacon(url string, body any) bool { return true }

func (NopPrimitives) PixelLoad(url string) {}
