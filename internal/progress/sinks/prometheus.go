package sinks

import (
	"context"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/tap-acuite/internal/progress"
)

// PrometheusSink exports run progress via Prometheus. It owns the request
// duration histogram, per-stream record counters and run outcome collectors.
type PrometheusSink struct {
	runs        *prometheus.CounterVec
	runDuration *prometheus.HistogramVec

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestAttempts prometheus.Histogram

	records *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acuite_runs_total",
			Help: "Sync runs finished partitioned by result.",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "acuite_run_duration_seconds",
			Help:    "Wall time per finished sync run.",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 2400, 3600},
		}, []string{"result"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acuite_http_requests_total",
			Help: "API requests partitioned by resource and status class.",
		}, []string{"resource", "status_class"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "acuite_http_request_duration_seconds",
			Help:    "API request duration including retries, by resource and final status code.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"resource", "status_code"}),
		requestAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "acuite_http_request_attempts",
			Help:    "Attempts needed per API request.",
			Buckets: []float64{1, 2, 3, 4, 6, 8},
		}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acuite_records_emitted_total",
			Help: "Records emitted partitioned by stream.",
		}, []string{"stream"}),
	}
	for _, collector := range []prometheus.Collector{
		s.runs,
		s.runDuration,
		s.requests,
		s.requestDuration,
		s.requestAttempts,
		s.records,
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
		switch evt.Stage {
		case progress.StageRunDone:
			s.observeRun(evt, "success")
		case progress.StageRunError:
			s.observeRun(evt, "error")
		case progress.StageFetchDone:
			s.observeFetch(evt)
		case progress.StageStreamDone:
			if evt.Records > 0 {
				s.records.WithLabelValues(evt.Stream).Add(float64(evt.Records))
			}
		}
	}
	return nil
}

func (s *PrometheusSink) observeRun(evt progress.Event, result string) {
	s.runs.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) observeFetch(evt progress.Event) {
	resource := evt.Stream
	if resource == "" {
		resource = "unknown"
	}
	statusClass := string(evt.StatusClass)
	if statusClass == "" {
		statusClass = string(progress.StatusOther)
	}
	s.requests.WithLabelValues(resource, statusClass).Inc()
	s.requestDuration.WithLabelValues(resource, strconv.Itoa(evt.StatusCode)).Observe(evt.Dur.Seconds())
	if evt.Attempts > 0 {
		s.requestAttempts.Observe(float64(evt.Attempts))
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
