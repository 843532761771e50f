package metrics

import (
	"bytes"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/robotomize/browser-xunit/internal/registry"
	"github.com/robotomize/browser-xunit/internal/report"
)

const namespace = "xunit"

// Collector captures reporter metrics for one run.
type Collector struct {
	registry      *prometheus.Registry
	testsTotal    *prometheus.CounterVec
	suitesTotal   *prometheus.CounterVec
	malformed     prometheus.Counter
	persistTotal  *prometheus.CounterVec
	testDuration  *prometheus.HistogramVec
	suiteDuration *prometheus.HistogramVec
	integrity     *prometheus.CounterVec
}

// NewCollector initializes a new metrics registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	collector := &Collector{
		registry: registry,
		testsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "tests_total", Help: "Recorded test outcomes"},
			[]string{"browser", "status"},
		),
		suitesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "suites_total", Help: "Serialized testsuite documents"},
			[]string{"browser"},
		),
		malformed: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Name: "malformed_events_total", Help: "Events that could not be classified"},
		),
		persistTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "persist_total", Help: "Persisted documents by result"},
			[]string{"browser", "result"},
		),
		testDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "test_duration_seconds",
				Help:      "Test case duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"browser", "status"},
		),
		suiteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "suite_duration_seconds",
				Help:      "Testsuite duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"browser"},
		),
		integrity: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "integrity_warnings_total", Help: "Documents written with inconsistent data"},
			[]string{"browser", "kind"},
		),
	}

	registry.MustRegister(
		collector.testsTotal,
		collector.suitesTotal,
		collector.malformed,
		collector.persistTotal,
		collector.testDuration,
		collector.suiteDuration,
		collector.integrity,
	)

	return collector
}

func browserLabel(b registry.Browser) string {
	if b.Version == "" {
		return b.Name
	}

	return b.Name + " " + b.Version
}

func status(o report.Outcome) string {
	switch {
	case o.State == report.StatePassed:
		return "passed"
	case o.State == report.StateFailed:
		return "failed"
	case o.Pending:
		return "skipped"
	default:
		return "unknown"
	}
}

// ObserveOutcome records a test outcome.
func (c *Collector) ObserveOutcome(b registry.Browser, o report.Outcome) {
	label := browserLabel(b)
	c.testsTotal.WithLabelValues(label, status(o)).Inc()
	c.testDuration.WithLabelValues(label, status(o)).Observe(o.Duration.Seconds())
}

// ObserveSuite records a serialized document.
func (c *Collector) ObserveSuite(b registry.Browser, doc report.Document) {
	label := browserLabel(b)
	c.suitesTotal.WithLabelValues(label).Inc()
	c.suiteDuration.WithLabelValues(label).Observe(doc.Stats.Duration.Seconds())

	if doc.SkipDeficit > 0 {
		c.integrity.WithLabelValues(label, "negative_skipped").Inc()
	}

	if doc.ImplicitClose {
		c.integrity.WithLabelValues(label, "implicit_close").Inc()
	}
}

func (c *Collector) ObserveMalformed() {
	c.malformed.Inc()
}

// ObservePersist records the result of persisting one document.
func (c *Collector) ObservePersist(b registry.Browser, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}

	c.persistTotal.WithLabelValues(browserLabel(b), result).Inc()
}

// Gatherer exposes the underlying registry.
func (c *Collector) Gatherer() prometheus.Gatherer {
	return c.registry
}

// Write writes all metrics to a Prometheus text file.
func (c *Collector) Write(path string) error {
	metricFamilies, err := c.registry.Gather()
	if err != nil {
		return fmt.Errorf("registry Gather: %w", err)
	}

	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range metricFamilies {
		if err := enc.Encode(family); err != nil {
			return fmt.Errorf("expfmt Encode: %w", err)
		}
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("os.WriteFile: %w", err)
	}

	return nil
}
