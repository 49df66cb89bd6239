package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/finchsearch/finch/internal/notify"
	"github.com/finchsearch/finch/internal/run"
)

// PrometheusSink exports run outcome metrics. It owns its collectors and
// registers them against the provided registry.
type PrometheusSink struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	documents     *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_runs_started_total",
			Help: "Runs started, labeled by source type.",
		}, []string{"source_type"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_runs_finished_total",
			Help: "Runs finished, labeled by source type and terminal status.",
		}, []string{"source_type", "status"}),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_run_documents_total",
			Help: "Documents reported by finished runs, labeled by source type and action.",
		}, []string{"source_type", "action"}),
	}
	for _, c := range []prometheus.Collector{s.runsStarted, s.runsCompleted, s.documents} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return s, nil
}

// Deliver implements notify.Sink.
func (s *PrometheusSink) Deliver(_ context.Context, evt notify.Event) error {
	sourceType := string(evt.SourceType)
	switch evt.Type {
	case notify.EventRunStarted:
		s.runsStarted.WithLabelValues(sourceType).Inc()
	case notify.EventRunCompleted, notify.EventRunErrored:
		status := string(evt.Status)
		if status == "" {
			status = string(run.StatusFailed)
		}
		s.runsCompleted.WithLabelValues(sourceType, status).Inc()
		s.documents.WithLabelValues(sourceType, "added").Add(float64(evt.DocumentsAdded))
		s.documents.WithLabelValues(sourceType, "updated").Add(float64(evt.DocumentsUpdated))
		s.documents.WithLabelValues(sourceType, "removed").Add(float64(evt.DocumentsRemoved))
	}
	return nil
}

// Close implements notify.Sink.
func (s *PrometheusSink) Close(context.Context) error { return nil }
