// Package metrics defines the backend-agnostic metrics surface for the
// import and query pipelines. Core code depends only on Backend; concrete
// sinks live in subpackages and are selected at startup.
package metrics

import "time"

// Labels attach low-cardinality dimensions to a metric sample.
type Labels map[string]string

// Backend receives metric samples. Implementations must be safe for
// concurrent use and must never block the caller on network IO.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Metric names published by the pipelines.
const (
	ImportsTotal          = "xiyan_imports_total"           // labels: status
	ImportRowsTotal       = "xiyan_import_rows_total"       // labels: kind (inserted|skipped)
	ImportDurationSeconds = "xiyan_import_duration_seconds" // labels: status
	QueriesTotal          = "xiyan_queries_total"           // labels: outcome
	QueryDurationSeconds  = "xiyan_query_duration_seconds"  // labels: outcome
	SessionsTotal         = "xiyan_sessions_total"          // labels: event (connect|disconnect|expired)
)

// Nop discards everything. It is the default backend.
type Nop struct{}

func (Nop) IncCounter(string, float64, Labels)       {}
func (Nop) ObserveHistogram(string, float64, Labels) {}

// Since observes the elapsed seconds since start on a histogram.
func Since(b Backend, name string, start time.Time, labels Labels) {
	b.ObserveHistogram(name, time.Since(start).Seconds(), labels)
}
