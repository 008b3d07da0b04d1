package metrics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes used as the "outcome" label.
const (
	OutcomePublished = "published"
	OutcomeUnchanged = "unchanged"
	OutcomeNoFeed    = "no_feed"
	OutcomeError     = "error"
)

// Metrics holds the collectors for one process on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	runs          *prometheus.CounterVec
	runDur        prometheus.Summary
	stageErrors   *prometheus.CounterVec
	feedRecords   prometheus.Gauge
	attrsSkipped  prometheus.Counter
	sensorUpdates *prometheus.CounterVec
	lastSuccessTS prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{reg: prometheus.NewRegistry()}
	m.runs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "misp2bro",
		Name:      "runs_total",
		Help:      "Pipeline runs by outcome",
	}, []string{"outcome"})
	m.runDur = prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace: "misp2bro",
		Name:      "run_duration_seconds",
		Help:      "Time spent in one pipeline run",
	})
	m.stageErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "misp2bro",
		Name:      "errors_total",
		Help:      "Fatal run errors by pipeline stage",
	}, []string{"stage"})
	m.feedRecords = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "misp2bro",
		Name:      "feed_records",
		Help:      "Indicator records in the last published feed",
	})
	m.attrsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "misp2bro",
		Name:      "attributes_skipped_total",
		Help:      "Attributes dropped because they could not be mapped",
	})
	m.sensorUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "misp2bro",
		Name:      "sensor_updates_total",
		Help:      "Sensor distributions by sensor and status",
	}, []string{"sensor", "status"})
	m.lastSuccessTS = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "misp2bro",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last run that did not fail",
	})

	m.reg.MustRegister(
		m.runs, m.runDur, m.stageErrors, m.feedRecords,
		m.attrsSkipped, m.sensorUpdates, m.lastSuccessTS,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// ObserveRun records a finished run. Any outcome other than OutcomeError
// counts as a success.
func (m *Metrics) ObserveRun(outcome string, took time.Duration) {
	m.runs.WithLabelValues(outcome).Inc()
	m.runDur.Observe(took.Seconds())
	if outcome != OutcomeError {
		m.lastSuccessTS.Set(float64(time.Now().Unix()))
	}
}

func (m *Metrics) ObserveError(stage string) { m.stageErrors.WithLabelValues(stage).Inc() }

func (m *Metrics) SetFeedRecords(n int) { m.feedRecords.Set(float64(n)) }

func (m *Metrics) AddSkipped(n int) {
	if n > 0 {
		m.attrsSkipped.Add(float64(n))
	}
}

// ObserveSensor counts one sensor result; status is "ok", "failed" or "skipped".
func (m *Metrics) ObserveSensor(host, status string) {
	m.sensorUpdates.WithLabelValues(host, status).Inc()
}

// WriteTextfile writes all collectors in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.reg)
}

// Dump returns a compact, sorted snapshot of counter and gauge values for logging.
func (m *Metrics) Dump() string {
	families, err := m.reg.Gather()
	if err != nil {
		return ""
	}
	var out []string
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			var v float64
			switch {
			case metric.GetCounter() != nil:
				v = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				v = metric.GetGauge().GetValue()
			default:
				continue
			}
			labels := make([]string, 0, len(metric.GetLabel()))
			for _, lp := range metric.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			out = append(out, fmt.Sprintf("%s{%s} %g", mf.GetName(), strings.Join(labels, ","), v))
		}
	}
	sort.Strings(out)
	return strings.Join(out, " ")
}
