// Package tracing correlates API requests across log lines.
//
// Every request gets a span carrying a trace id (taken from X-Trace-ID when
// the caller sends one) and its own span id. Both ids are echoed back in the
// response headers and stored on the request context, so handlers and the
// session they touch can log with the same identifiers. Finished spans are
// logged by a collector goroutine; when its buffer fills, spans are dropped
// rather than slowing requests down.
//
//	tracer := tracing.New("tracklab", logger)
//	router.Use(tracing.HTTPMiddleware(tracer))
//	defer tracer.Close()
package tracing
