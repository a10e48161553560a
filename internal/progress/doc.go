// Package progress provides the event primitives and the non-blocking hub the
// crawl runner uses to report progress. Events are batched on a background
// goroutine and fanned out to pluggable sinks such as Prometheus collectors or
// structured logs.
package progress
