// Package main is the entry point for the TrackLab server.
//
// TrackLab is a training environment for web-analytics instrumentation:
// learners add tracking calls and tag-manager containers to pages, and the
// server captures the resulting egress and grades it against challenge
// objectives.
//
// The server provides:
//   - REST API for sessions, challenges, tags and captured events
//   - WebSocket streaming of the live objective board
//   - Bridge ingress for isolated pages running elsewhere
//   - Persisted per-session state (SQLite)
//   - Prometheus metrics and rate limiting
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# Production mode
//	./server -port 8000 -storage /var/lib/tracklab/state.db
//
//	# Development mode (colored logs, debug level)
//	./server -dev -online
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
