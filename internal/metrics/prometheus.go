package metrics

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/prometheus/common/expfmt"
	log "github.com/sirupsen/logrus"
)

const namespace = "slim_eval"

// EvalMetrics holds the Prometheus view of one evaluation run.
type EvalMetrics struct {
	Registry   *prometheus.Registry
	Scalars    *prometheus.GaugeVec
	GlobalStep prometheus.Gauge
	Examples   prometheus.Gauge
	Duration   prometheus.Gauge
}

// NewEvalMetrics registers the evaluation gauges with constant labels.
func NewEvalMetrics(labels prometheus.Labels) *EvalMetrics {
	registry := prometheus.NewRegistry()
	m := &EvalMetrics{
		Registry: registry,
		Scalars: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "metric",
			Help:        "Streaming evaluation metric value by summary tag",
			ConstLabels: labels,
		}, []string{"tag"}),
		GlobalStep: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "global_step",
			Help:        "Global step of the evaluated checkpoint",
			ConstLabels: labels,
		}),
		Examples: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "examples",
			Help:        "Number of examples evaluated",
			ConstLabels: labels,
		}),
		Duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "duration_seconds",
			Help:        "Wall time of the evaluation loop",
			ConstLabels: labels,
		}),
	}
	registry.MustRegister(m.Scalars, m.GlobalStep, m.Examples, m.Duration)
	return m
}

// Observe records the scalars of a finished evaluation.
func (m *EvalMetrics) Observe(scalars []Scalar, examples int, elapsed time.Duration) {
	for _, s := range scalars {
		m.Scalars.WithLabelValues(s.Tag).Set(s.Value)
		m.GlobalStep.Set(float64(s.Step))
	}
	m.Examples.Set(float64(examples))
	m.Duration.Set(elapsed.Seconds())
}

// Push sends the registry to a Prometheus push gateway.
func (m *EvalMetrics) Push(url, job string, timeout time.Duration) error {
	pusher := push.New(url, job).
		Client(&http.Client{Timeout: timeout}).
		Gatherer(m.Registry)
	if err := pusher.Push(); err != nil {
		log.WithError(err).Error("Failed to push metrics to Prometheus")
		return errors.Wrap(err, "push metrics")
	}
	log.WithFields(log.Fields{"url": url, "job": job}).Info("Successfully pushed metrics to Prometheus")
	return nil
}

// WriteTextfile writes the registry in the Prometheus text format.
func (m *EvalMetrics) WriteTextfile(path string) error {
	families, err := m.Registry.Gather()
	if err != nil {
		return errors.Wrap(err, "gather metrics")
	}
	var b strings.Builder
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&b, mf); err != nil {
			return errors.Wrap(err, "encode metrics")
		}
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return errors.Wrap(err, "write metrics textfile")
	}
	return nil
}
