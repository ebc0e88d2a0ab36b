// Package datadog implements a Datadog backend for the internal/metrics
// package.
//
// Samples are buffered in memory under a mutex, flushed on a ticker (default
// once per minute) and once more on Close, so both a long-running server and
// a one-shot import command produce usable time series. Flush snapshots and
// resets the buffers under the lock, then submits out of it.
package datadog

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"github.com/blacksamuraiiii/xiyan-web/internal/metrics"
)

// Options controls Datadog backend configuration.
type Options struct {
	// Service becomes tag "service:<name>" on every metric. Defaults to
	// "xiyan-web".
	Service string

	// Tags are extra Datadog tags (e.g. []string{"env:prod"}).
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted.
	// If <= 0, defaults to 60 seconds.
	FlushEvery time.Duration

	// Unexported test seams: production code never sets these, unit tests
	// use them to avoid real submission and nondeterministic clocks.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the minimal slice of the Datadog SDK the backend
// needs, so tests can stub submission without HTTP.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu sync.Mutex

	importCounts  map[string]float64 // status -> count
	rowCounts     map[string]float64 // kind -> count
	queryCounts   map[string]float64 // outcome -> count
	sessionCounts map[string]float64 // event -> count
	importDur     map[string][]float64
	queryDur      map[string][]float64
}

// NewBackend constructs a Datadog backend using the official client. The
// SDK reads its site and API key from the environment (DD_SITE, DD_API_KEY)
// via dd.NewDefaultContext; network errors surface on Flush, not here.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	service := opts.Service
	if service == "" {
		service = "xiyan-web"
	}

	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 1+len(opts.Tags))
	baseTags = append(baseTags, "service:"+service)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}

	submitter := opts.submitter
	if submitter == nil {
		client := dd.NewAPIClient(dd.NewConfiguration())
		submitter = datadogV2.NewMetricsApi(client)
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,

		importCounts:  make(map[string]float64),
		rowCounts:     make(map[string]float64),
		queryCounts:   make(map[string]float64),
		sessionCounts: make(map[string]float64),
		importDur:     make(map[string][]float64),
		queryDur:      make(map[string][]float64),
	}

	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the flush loop and submits one final Flush. Close once.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.ImportsTotal:
		b.importCounts[labelOr(labels, "status", "unknown")] += delta
	case metrics.ImportRowsTotal:
		kind := labels["kind"]
		if kind == "" {
			return
		}
		b.rowCounts[kind] += delta
	case metrics.QueriesTotal:
		b.queryCounts[labelOr(labels, "outcome", "unknown")] += delta
	case metrics.SessionsTotal:
		b.sessionCounts[labelOr(labels, "event", "unknown")] += delta
	default:
		// Unknown metrics are ignored.
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.ImportDurationSeconds:
		k := labelOr(labels, "status", "unknown")
		b.importDur[k] = append(b.importDur[k], value)
	case metrics.QueryDurationSeconds:
		k := labelOr(labels, "outcome", "unknown")
		b.queryDur[k] = append(b.queryDur[k], value)
	default:
		// Unknown histograms are ignored.
	}
}

type snapshot struct {
	importCounts  map[string]float64
	rowCounts     map[string]float64
	queryCounts   map[string]float64
	sessionCounts map[string]float64
	importDur     map[string][]float64
	queryDur      map[string][]float64
}

func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{
		importCounts:  b.importCounts,
		rowCounts:     b.rowCounts,
		queryCounts:   b.queryCounts,
		sessionCounts: b.sessionCounts,
		importDur:     b.importDur,
		queryDur:      b.queryDur,
	}

	b.importCounts = make(map[string]float64)
	b.rowCounts = make(map[string]float64)
	b.queryCounts = make(map[string]float64)
	b.sessionCounts = make(map[string]float64)
	b.importDur = make(map[string][]float64)
	b.queryDur = make(map[string][]float64)

	return s
}

func (s snapshot) isEmpty() bool {
	return len(s.importCounts) == 0 &&
		len(s.rowCounts) == 0 &&
		len(s.queryCounts) == 0 &&
		len(s.sessionCounts) == 0 &&
		len(s.importDur) == 0 &&
		len(s.queryDur) == 0
}

// Flush submits buffered metrics and resets local buffers. Buffers are reset
// even when submission fails so a flaky intake never blocks the pipelines.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}

	payload := datadogV2.MetricPayload{Series: b.buildSeries(snap, b.now().Unix())}
	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries is pure (no locks, clocks or network), which keeps the naming
// and tagging contract unit-testable.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, 16)

	count := func(metric string, value float64, tags []string) {
		series = append(series, datadogV2.MetricSeries{
			Metric: metric,
			Type:   datadogV2.METRICINTAKETYPE_COUNT.Ptr(),
			Points: []datadogV2.MetricPoint{
				{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
			},
			Tags: tags,
		})
	}

	for status, v := range s.importCounts {
		count("xiyan.imports.total", v, withTags(b.baseTags, "status:"+status))
	}
	for kind, v := range s.rowCounts {
		count("xiyan.import.rows.total", v, withTags(b.baseTags, "kind:"+kind))
	}
	for outcome, v := range s.queryCounts {
		count("xiyan.queries.total", v, withTags(b.baseTags, "outcome:"+outcome))
	}
	for event, v := range s.sessionCounts {
		count("xiyan.sessions.total", v, withTags(b.baseTags, "event:"+event))
	}

	for status, samples := range s.importDur {
		addPercentiles(&series, "xiyan.import.duration_seconds", withTags(b.baseTags, "status:"+status), samples, nowUnix)
	}
	for outcome, samples := range s.queryDur {
		addPercentiles(&series, "xiyan.query.duration_seconds", withTags(b.baseTags, "outcome:"+outcome), samples, nowUnix)
	}

	return series
}

// addPercentiles appends fixed percentile gauges for a sample set. It sorts
// a copy and never mutates its input.
func addPercentiles(series *[]datadogV2.MetricSeries, metricPrefix string, tags []string, samples []float64, nowUnix int64) {
	if len(samples) == 0 {
		return
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	*series = append(*series, gaugeSeries(metricPrefix+".p50", percentileNearestRank(cp, 0.50), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".p90", percentileNearestRank(cp, 0.90), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".p99", percentileNearestRank(cp, 0.99), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".max", cp[len(cp)-1], tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".samples", float64(len(cp)), tags, nowUnix))
}

func gaugeSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func labelOr(labels metrics.Labels, key, fallback string) string {
	if v := labels[key]; v != "" {
		return v
	}
	return fallback
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	out = append(out, extras...)
	return out
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV parses comma-separated tags like "env:prod,team:data".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
