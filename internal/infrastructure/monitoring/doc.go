/*
Package monitoring provides Prometheus metrics for the lab server.

# Overview

Metrics live on a private registry created by NewMetrics, alongside the Go
and process collectors. Besides HTTP traffic the collector tracks what the
lab itself does: captures per context and kind, dedup drops, bridge
messages per type and outcome, frame builds, tag status transitions, live
sessions and WebSocket connections.

*Metrics satisfies the session package's Metrics interface, so a Manager can
report into it directly.

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(monitoring.Handler(metrics)))

Snapshot returns running totals for the JSON summary endpoint.
*/
package monitoring
