// Package ws provides WebSocket endpoints for live session views.
//
// Two endpoints:
//   - /sessions/:id/stream pushes the graded board whenever the session
//     changes (new events, tag status, challenge, frame rebuild, reload)
//   - /sessions/:id/bridge/ws accepts bridge messages from an isolated page
//     running outside the server, one JSON message per frame
//
// Message Types (Client → Server, stream):
//   - ping: Keep-alive ping
//   - refresh: Push the current board now
//
// Message Types (Server → Client):
//   - board: Events, objectives, completion and tag state
//   - pong: Reply to ping
//   - ack: Outcome of a bridge message
//   - error: Error occurred
//
// Bursts of changes are coalesced: a slow client gets the latest board, not
// every intermediate one.
//
// Example Usage:
//
//	handler := ws.NewHandler(sessions, metrics, logger)
//	router.GET("/sessions/:id/stream", handler.Stream)
//	router.GET("/sessions/:id/bridge/ws", handler.Bridge)
package ws
