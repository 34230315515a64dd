package intercept

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu     sync.Mutex
	bodies []string
	verbs  []string
}

func (c *collector) handler(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	c.mu.Lock()
	c.bodies = append(c.bodies, string(b))
	c.verbs = append(c.verbs, r.Method)
	c.mu.Unlock()
	w.Header().Set("X-Collector", "ok")
	w.WriteHeader(http.StatusNoContent)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.verbs)
}

func TestHTTPPrimitives_Request(t *testing.T) {
	col := &collector{}
	srv := httptest.NewServer(http.HandlerFunc(col.handler))
	defer srv.Close()

	p := NewHTTPPrimitives(DefaultHTTPConfig(), nil)
	resp, err := p.Request(context.Background(), Call{Method: "POST", URL: srv.URL + "/collect", Body: `{"event":"x"}`})

	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.Status)
	assert.True(t, resp.OK())
	assert.Equal(t, "ok", resp.Headers["X-Collector"])
	assert.Equal(t, []string{`{"event":"x"}`}, col.bodies)
}

func TestHTTPPrimitives_Send(t *testing.T) {
	col := &collector{}
	srv := httptest.NewServer(http.HandlerFunc(col.handler))
	defer srv.Close()

	p := NewHTTPPrimitives(DefaultHTTPConfig(), nil)
	req := p.Open("put", srv.URL)
	_, err := p.Send(context.Background(), req, "body")

	require.NoError(t, err)
	assert.Equal(t, []string{"PUT"}, col.verbs)

	_, err = p.Send(context.Background(), nil, "body")
	assert.Error(t, err)
}

func TestHTTPPrimitives_BeaconIsFireAndForget(t *testing.T) {
	col := &collector{}
	srv := httptest.NewServer(http.HandlerFunc(col.handler))
	defer srv.Close()

	p := NewHTTPPrimitives(DefaultHTTPConfig(), nil)

	assert.True(t, p.Beacon(srv.URL, "b"))
	p.PixelLoad(srv.URL + "/p.gif")

	require.Eventually(t, func() bool { return col.count() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestHTTPPrimitives_RequestHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	cfg := DefaultHTTPConfig()
	cfg.Retries = 0
	p := NewHTTPPrimitives(cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Request(ctx, Call{URL: srv.URL})
	assert.Error(t, err)
}
