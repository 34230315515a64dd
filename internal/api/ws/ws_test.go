package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/tracklab/backend/internal/domain/bridge"
	"github.com/GriffinCanCode/tracklab/backend/internal/domain/session"
)

type fixture struct {
	sessions *session.Manager
	server   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	sessions := session.NewManager(session.Config{}, session.Deps{})
	router := gin.New()
	NewHandler(sessions, nil, nil).Register(router)
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		sessions.Shutdown()
	})
	return &fixture{sessions: sessions, server: srv}
}

func (f *fixture) session(t *testing.T, challengeID string) *session.Session {
	t.Helper()
	s, err := f.sessions.Create(context.Background(), session.CreateOptions{ChallengeID: challengeID})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Frame messages posted by the last tasks may trail the first settle.
	require.NoError(t, s.Settle(ctx))
	require.NoError(t, s.Settle(ctx))
	return s
}

func (f *fixture) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readBoard reads until a board message satisfies match.
func readBoard(t *testing.T, conn *websocket.Conn, match func(BoardMessage) bool) BoardMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg BoardMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == "board" && match(msg) {
			return msg
		}
	}
}

func TestStream_PushesBoard(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, "global-travel")
	conn := f.dial(t, "/sessions/"+s.ID().String()+"/stream")

	first := readBoard(t, conn, func(BoardMessage) bool { return true })
	assert.Equal(t, "connect", first.Reason)
	assert.Equal(t, "global-travel", first.Challenge)
	assert.Equal(t, 1, first.Total)
	assert.False(t, first.Complete)
	assert.Empty(t, first.Events)

	out := s.HandleBridge([]byte(`{"type":"network_proxy","data":{"type":"beacon","method":"POST","url":"https://www.google-analytics.com/g/collect?en=page_view"}}`))
	require.Equal(t, bridge.OutcomeAppended, out)

	board := readBoard(t, conn, func(m BoardMessage) bool { return len(m.Events) == 1 })
	assert.Equal(t, session.ReasonEvents, board.Reason)
	assert.True(t, board.Complete)
	assert.Equal(t, 1, board.Met)
}

func TestStream_ClientMessages(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, "global-travel")
	conn := f.dial(t, "/sessions/"+s.ID().String()+"/stream")
	readBoard(t, conn, func(BoardMessage) bool { return true })

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "ping"}))
	var pong map[string]any
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, "pong", pong["type"])

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "refresh"}))
	board := readBoard(t, conn, func(BoardMessage) bool { return true })
	assert.Equal(t, "refresh", board.Reason)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "subscribe"}))
	var reply map[string]any
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "error", reply["type"])
	assert.Equal(t, "unknown message type", reply["message"])
}

func TestStream_UnknownSession(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/sessions/ses_missing/stream"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBridge_AcksEachMessage(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, "saas-platform")
	before := s.Log().Len()
	conn := f.dial(t, "/sessions/"+s.ID().String()+"/bridge/ws")

	send := func(raw string) bridge.Outcome {
		t.Helper()
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var ack AckMessage
		require.NoError(t, conn.ReadJSON(&ack))
		assert.Equal(t, "ack", ack.Type)
		return ack.Outcome
	}

	assert.Equal(t, bridge.OutcomeAppended, send(`{"type":"network_proxy","data":{"type":"beacon","method":"POST","url":"https://www.google-analytics.com/g/collect","body":{"event":"subscribe"}}}`))
	assert.Equal(t, bridge.OutcomeDuplicate, send(`{"type":"network_proxy","data":{"type":"beacon","method":"POST","url":"https://www.google-analytics.com/g/collect","body":{"event":"subscribe"}}}`))
	assert.Equal(t, bridge.OutcomeIgnored, send(`{"type":"resize"}`))

	assert.Equal(t, before+1, s.Log().Len())
	board, err := s.Board()
	require.NoError(t, err)
	assert.True(t, board.Complete)
}
