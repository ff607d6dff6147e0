// Package metrics exposes the ingester's Prometheus collectors. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "event_ingester"

// Event outcomes counted by events_total.
const (
	OutcomeValid    = "valid"
	OutcomeSkipped  = "skipped"
	OutcomeMerged   = "merged"
	OutcomeExisting = "existing"
	OutcomeStaged   = "staged"
)

type Metrics struct {
	scans          *prometheus.CounterVec
	scanDur        prometheus.Summary
	sourceFetch    *prometheus.CounterVec
	sourceErrors   *prometheus.GaugeVec
	sourceNextRun  *prometheus.GaugeVec
	recordsFetched *prometheus.CounterVec
	events         *prometheus.CounterVec
	commits        *prometheus.CounterVec
	sinkPush       *prometheus.CounterVec
}

// New builds the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{}
	m.scans = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scans_total",
		Help:      "Scan passes by result",
	}, []string{"result"})
	m.scanDur = prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace: namespace,
		Name:      "scan_duration_seconds",
		Help:      "Time spent in one scan pass",
	})
	m.sourceFetch = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "source_fetch_total",
		Help:      "Source fetches by status",
	}, []string{"source", "status"})
	m.sourceErrors = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "source_error_count",
		Help:      "Consecutive failures of a source",
	}, []string{"source"})
	m.sourceNextRun = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "source_next_run_timestamp_seconds",
		Help:      "Unix timestamp of the next scheduled fetch of a source",
	}, []string{"source"})
	m.recordsFetched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_fetched_total",
		Help:      "Raw records returned by a source",
	}, []string{"source"})
	m.events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Events by pipeline outcome",
	}, []string{"outcome"})
	m.commits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commit_events_total",
		Help:      "Events committed to the store by mode",
	}, []string{"mode"})
	m.sinkPush = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sink_push_total",
		Help:      "Sink pushes by status",
	}, []string{"sink", "status"})

	reg.MustRegister(
		m.scans, m.scanDur, m.sourceFetch, m.sourceErrors, m.sourceNextRun,
		m.recordsFetched, m.events, m.commits, m.sinkPush,
	)
	return m
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) ScanFinished(err error, d time.Duration) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(status(err)).Inc()
	m.scanDur.Observe(d.Seconds())
}

// SourceFetched records one fetch attempt and the records it produced.
func (m *Metrics) SourceFetched(source string, records int, err error) {
	if m == nil {
		return
	}
	m.sourceFetch.WithLabelValues(source, status(err)).Inc()
	if err == nil {
		m.recordsFetched.WithLabelValues(source).Add(float64(records))
	}
}

func (m *Metrics) SourceScheduled(source string, errorCount int, next time.Time) {
	if m == nil {
		return
	}
	m.sourceErrors.WithLabelValues(source).Set(float64(errorCount))
	m.sourceNextRun.WithLabelValues(source).Set(float64(next.Unix()))
}

func (m *Metrics) Events(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.events.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) Committed(mode string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.commits.WithLabelValues(mode).Add(float64(n))
}

func (m *Metrics) SinkPushed(sink string, err error) {
	if m == nil {
		return
	}
	m.sinkPush.WithLabelValues(sink, status(err)).Inc()
}
