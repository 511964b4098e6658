package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/navguard/navguard/internal/events"
)

// PrometheusSink exports event-stream metrics via Prometheus. It owns all
// collectors for refresh lifecycle, list replacements, and decision outcomes.
type PrometheusSink struct {
	refreshStarted   prometheus.Counter
	refreshCompleted *prometheus.CounterVec
	refreshRunning   prometheus.Gauge
	refreshRuntime   *prometheus.HistogramVec

	payloadBytes     *prometheus.CounterVec
	listReplacements *prometheus.CounterVec
	skippedEntries   prometheus.Counter
	decisions        *prometheus.CounterVec

	tracker *refreshTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		refreshStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "navguard_refresh_started_total",
			Help: "Total refresh jobs that have started.",
		}),
		refreshCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "navguard_refresh_completed_total",
			Help: "Total refresh jobs completed partitioned by result.",
		}, []string{"result"}),
		refreshRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "navguard_refresh_running",
			Help: "Current number of running refresh jobs.",
		}),
		refreshRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "navguard_refresh_runtime_seconds",
			Help:    "Wall time per completed refresh job.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 15, 30, 60},
		}, []string{"result"}),
		payloadBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "navguard_refresh_payload_bytes_total",
			Help: "List payload bytes fetched per source.",
		}, []string{"source"}),
		listReplacements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "navguard_list_replacements_total",
			Help: "List replacements partitioned by result.",
		}, []string{"result"}),
		skippedEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "navguard_list_skipped_entries_total",
			Help: "Cumulative entries skipped across list parses.",
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "navguard_decision_events_total",
			Help: "Navigation decisions partitioned by outcome.",
		}, []string{"outcome"}),
		tracker: newRefreshTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.refreshStarted,
		s.refreshCompleted,
		s.refreshRunning,
		s.refreshRuntime,
		s.payloadBytes,
		s.listReplacements,
		s.skippedEntries,
		s.decisions,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register event collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt events.Event) {
	switch evt.Kind {
	case events.KindRefreshStart, events.KindRefreshDone, events.KindRefreshError:
		s.handleRefreshEvent(evt)
	case events.KindListReplaced:
		s.listReplacements.WithLabelValues("replaced").Inc()
		s.skippedEntries.Add(float64(evt.Skipped))
	case events.KindListRejected:
		s.listReplacements.WithLabelValues("rejected").Inc()
	case events.KindDecision:
		outcome := evt.Outcome
		if outcome == "" {
			outcome = "unknown"
		}
		s.decisions.WithLabelValues(outcome).Inc()
	}
}

func (s *PrometheusSink) handleRefreshEvent(evt events.Event) {
	switch evt.Kind {
	case events.KindRefreshStart:
		s.refreshStarted.Inc()
		if s.tracker.start(evt.ID) {
			s.refreshRunning.Inc()
		}
	case events.KindRefreshDone:
		s.refreshCompleted.WithLabelValues("success").Inc()
		s.observeRuntime(evt, "success")
		if evt.Bytes > 0 {
			source := evt.Source
			if source == "" {
				source = "unknown"
			}
			s.payloadBytes.WithLabelValues(source).Add(float64(evt.Bytes))
		}
	case events.KindRefreshError:
		s.refreshCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
	}
	if evt.Kind != events.KindRefreshStart && s.tracker.complete(evt.ID) {
		s.refreshRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt events.Event, label string) {
	if evt.Dur > 0 {
		s.refreshRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type refreshTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRefreshTracker() *refreshTracker {
	return &refreshTracker{running: make(map[[16]byte]struct{})}
}

func (t *refreshTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *refreshTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
