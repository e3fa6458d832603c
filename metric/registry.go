// Package metric manages Prometheus metric registration and exposure for
// pipeline stages.
package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/scanstreams/errors"
)

// MetricsRegistrar defines the interface for registering stage-specific metrics
type MetricsRegistrar interface {
	RegisterCounterVec(stageName, metricName string, counterVec *prometheus.CounterVec) error
	RegisterGaugeVec(stageName, metricName string, gaugeVec *prometheus.GaugeVec) error
	RegisterHistogramVec(stageName, metricName string, histogramVec *prometheus.HistogramVec) error
	RegisterGauge(stageName, metricName string, gauge prometheus.Gauge) error
	Unregister(stageName, metricName string) bool
}

// MetricsRegistry manages the registration and lifecycle of metrics
type MetricsRegistry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics
	registeredMetrics  map[string]prometheus.Collector
	mu                 sync.RWMutex
}

// NewMetricsRegistry creates a new metrics registry with core pipeline metrics
func NewMetricsRegistry() *MetricsRegistry {
	prometheusRegistry := prometheus.NewRegistry()

	registry := &MetricsRegistry{
		prometheusRegistry: prometheusRegistry,
		registeredMetrics:  make(map[string]prometheus.Collector),
	}

	registry.Metrics = NewMetrics()
	registry.registerCoreMetrics()

	// Add Go runtime metrics
	registry.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return registry
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// CoreMetrics returns the core pipeline metrics
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	return r.Metrics
}

func (r *MetricsRegistry) registerCoreMetrics() {
	m := r.Metrics
	r.prometheusRegistry.MustRegister(
		m.MessagesReceived,
		m.MessagesProcessed,
		m.MessagesPublished,
		m.ProcessingDuration,
		m.ErrorsTotal,
		m.BrokerConnected,
		m.BrokerReconnects,
	)
}

// register adds a collector to both the tracking map and the Prometheus registry
func (r *MetricsRegistry) register(stageName, metricName string, collector prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", stageName, metricName)

	if _, exists := r.registeredMetrics[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("metric %s already registered for stage %s", metricName, stageName),
			"MetricsRegistry", "register", "duplicate metric registration")
	}

	if err := r.prometheusRegistry.Register(collector); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if stderrors.As(err, &alreadyRegErr) {
			return errors.WrapInvalid(err, "MetricsRegistry", "register",
				fmt.Sprintf("prometheus conflict for metric %s", metricName))
		}
		return errors.WrapFatal(err, "MetricsRegistry", "register",
			"register collector with prometheus")
	}

	r.registeredMetrics[key] = collector
	return nil
}

// RegisterCounterVec registers a counter vector metric for a stage
func (r *MetricsRegistry) RegisterCounterVec(
	stageName, metricName string, counterVec *prometheus.CounterVec,
) error {
	return r.register(stageName, metricName, counterVec)
}

// RegisterGaugeVec registers a gauge vector metric for a stage
func (r *MetricsRegistry) RegisterGaugeVec(
	stageName, metricName string, gaugeVec *prometheus.GaugeVec,
) error {
	return r.register(stageName, metricName, gaugeVec)
}

// RegisterHistogramVec registers a histogram vector metric for a stage
func (r *MetricsRegistry) RegisterHistogramVec(
	stageName, metricName string, histogramVec *prometheus.HistogramVec,
) error {
	return r.register(stageName, metricName, histogramVec)
}

// RegisterGauge registers a gauge metric for a stage
func (r *MetricsRegistry) RegisterGauge(stageName, metricName string, gauge prometheus.Gauge) error {
	return r.register(stageName, metricName, gauge)
}

// Unregister removes a metric from the registry. Returns true if the metric
// was found and removed.
func (r *MetricsRegistry) Unregister(stageName, metricName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", stageName, metricName)
	collector, exists := r.registeredMetrics[key]
	if !exists {
		return false
	}

	delete(r.registeredMetrics, key)
	return r.prometheusRegistry.Unregister(collector)
}
