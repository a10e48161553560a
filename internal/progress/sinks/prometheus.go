package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/wiki-crawler/internal/progress"
)

// PrometheusSink exports crawl progress via Prometheus collectors.
type PrometheusSink struct {
	pages        *prometheus.CounterVec
	pageDuration *prometheus.HistogramVec
	pageBytes    prometheus.Counter
	challenges   prometheus.Counter
	runs         *prometheus.CounterVec
	runDuration  prometheus.Histogram
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_pages_total",
			Help: "Pages processed partitioned by result.",
		}, []string{"result"}),
		pageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_page_duration_seconds",
			Help:    "Wall time per page task partitioned by result.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 60, 120, 300, 600},
		}, []string{"result"}),
		pageBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_artifact_bytes_total",
			Help: "Bytes written to records and snapshots.",
		}),
		challenges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_challenges_total",
			Help: "Anti-bot interstitials encountered.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_runs_total",
			Help: "Completed crawl runs partitioned by result.",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crawler_run_duration_seconds",
			Help:    "Wall time per crawl run.",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 3600},
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.pages,
		s.pageDuration,
		s.pageBytes,
		s.challenges,
		s.runs,
		s.runDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StagePageDone:
		s.observePage(evt, "success")
	case progress.StagePageError:
		s.observePage(evt, "error")
	case progress.StagePageChallenge:
		s.challenges.Inc()
	case progress.StageRunDone:
		result := "success"
		if evt.Failed {
			result = "error"
		}
		s.runs.WithLabelValues(result).Inc()
		if evt.Dur > 0 {
			s.runDuration.Observe(evt.Dur.Seconds())
		}
	}
}

func (s *PrometheusSink) observePage(evt progress.Event, result string) {
	s.pages.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.pageDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if evt.Bytes > 0 {
		s.pageBytes.Add(float64(evt.Bytes))
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
