// Package metrics owns the Prometheus registry for a tap run and pushes it to
// a Pushgateway when the run ends. A batch job exits before any scrape could
// happen, so push is the only way its metrics reach Prometheus.
package metrics

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/push"
)

// NewRegistry returns a registry carrying the Go runtime and process
// collectors. Run-specific collectors are registered by their owners.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// PushConfig locates the Pushgateway.
type PushConfig struct {
	URL string
	Job string
	// Grouping adds labels to the push group, e.g. the run's tap instance.
	Grouping map[string]string
}

// Push replaces the metrics of the job's group on the Pushgateway with the
// contents of g. It is a no-op when no URL is configured.
func Push(ctx context.Context, cfg PushConfig, g prometheus.Gatherer) error {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil
	}
	if cfg.Job == "" {
		return fmt.Errorf("push metrics: job name is required")
	}
	pusher := push.New(cfg.URL, cfg.Job).Gatherer(g)
	for name, value := range cfg.Grouping {
		pusher = pusher.Grouping(name, value)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", cfg.URL, err)
	}
	return nil
}
