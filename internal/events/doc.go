// Package events provides the event primitives, non-blocking hub, and emitter
// interfaces that the refresh pipeline and decision engine use to report what
// happened. It batches events on a background goroutine and fans them out to
// pluggable sinks such as Prometheus metrics or the decision audit store.
package events
