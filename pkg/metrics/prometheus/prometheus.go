package prometheus

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/Layr-Labs/runtime-indexer/pkg/metrics/metricsTypes"
	"github.com/Layr-Labs/runtime-indexer/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "runtime_indexer"

type PrometheusMetricsConfig struct {
	Metrics map[metricsTypes.MetricsType][]metricsTypes.MetricsTypeConfig
}

type PrometheusMetricsClient struct {
	logger   *zap.Logger
	config   *PrometheusMetricsConfig
	registry *prometheus.Registry

	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

func NewPrometheusMetricsClient(config *PrometheusMetricsConfig, l *zap.Logger) (*PrometheusMetricsClient, error) {
	client := &PrometheusMetricsClient{
		config:   config,
		logger:   l,
		registry: prometheus.NewRegistry(),

		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}

	if err := client.registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := client.initializeTypes(); err != nil {
		return nil, err
	}

	return client, nil
}

// metricName converts "block.process.duration" into a prometheus-safe name.
func metricName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}

func (pmc *PrometheusMetricsClient) exists(name string) bool {
	_, c := pmc.counters[name]
	_, g := pmc.gauges[name]
	_, h := pmc.histograms[name]
	return c || g || h
}

func (pmc *PrometheusMetricsClient) initializeTypes() error {
	for t, types := range pmc.config.Metrics {
		for _, mt := range types {
			if pmc.exists(mt.Name) {
				pmc.logger.Sugar().Warnw("Prometheus metric already exists for type",
					zap.String("type", string(t)),
					zap.String("name", mt.Name),
				)
				continue
			}
			var collector prometheus.Collector
			switch t {
			case metricsTypes.MetricsType_Incr:
				cv := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: metricName(mt.Name)}, mt.Labels)
				pmc.counters[mt.Name] = cv
				collector = cv
			case metricsTypes.MetricsType_Gauge:
				gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: metricName(mt.Name)}, mt.Labels)
				pmc.gauges[mt.Name] = gv
				collector = gv
			case metricsTypes.MetricsType_Timing:
				hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      metricName(mt.Name) + "_ms",
					Buckets:   prometheus.ExponentialBuckets(1, 2, 16),
				}, mt.Labels)
				pmc.histograms[mt.Name] = hv
				collector = hv
			default:
				continue
			}
			if err := pmc.registry.Register(collector); err != nil {
				return fmt.Errorf("failed to register metric '%s': %w", mt.Name, err)
			}
		}
	}
	return nil
}

// Handler serves the client's registry in the prometheus exposition format.
func (pmc *PrometheusMetricsClient) Handler() http.Handler {
	return promhttp.HandlerFor(pmc.registry, promhttp.HandlerOpts{Registry: pmc.registry})
}

func (pmc *PrometheusMetricsClient) formatLabels(t metricsTypes.MetricsType, name string, labels []metricsTypes.MetricsLabel) prometheus.Labels {
	l := make(prometheus.Labels)
	// every declared label must be present for With() to succeed
	for _, expected := range pmc.findExpectedLabels(t, name) {
		l[expected] = ""
	}
	for _, label := range labels {
		l[label.Name] = label.Value
	}
	return l
}

func (pmc *PrometheusMetricsClient) findExpectedLabels(t metricsTypes.MetricsType, name string) []string {
	for _, types := range pmc.config.Metrics[t] {
		if types.Name == name {
			return types.Labels
		}
	}
	return nil
}

// hasUnexpectedLabels checks if any unexpected labels are present in the given labels.
func (pmc *PrometheusMetricsClient) hasUnexpectedLabels(t metricsTypes.MetricsType, name string, providedLabels []metricsTypes.MetricsLabel) error {
	expectedLabels := pmc.findExpectedLabels(t, name)

	if len(expectedLabels) == 0 && len(providedLabels) > 0 {
		provided := utils.Map(providedLabels, func(label metricsTypes.MetricsLabel, i uint64) string {
			return label.Name
		})
		pmc.logger.Sugar().Warnw("Prometheus metric has no expected labels but received labels",
			zap.String("type", string(t)),
			zap.String("name", name),
			zap.Strings("providedLabels", provided),
		)
		return fmt.Errorf("no expected labels, received '%s'", strings.Join(provided, ", "))
	}

	unexpectedLabels := utils.Filter(providedLabels, func(label metricsTypes.MetricsLabel) bool {
		return !slices.Contains(expectedLabels, label.Name)
	})
	if len(unexpectedLabels) > 0 {
		names := utils.Map(unexpectedLabels, func(label metricsTypes.MetricsLabel, i uint64) string {
			return label.Name
		})
		pmc.logger.Sugar().Warnw("Prometheus metric has unexpected labels",
			zap.String("type", string(t)),
			zap.String("name", name),
			zap.Strings("unexpectedLabels", names),
		)
		return fmt.Errorf("unexpected labels: '%s'", strings.Join(names, ", "))
	}
	return nil
}

func (pmc *PrometheusMetricsClient) Incr(name string, labels []metricsTypes.MetricsLabel, value float64) error {
	m, ok := pmc.counters[name]
	if !ok {
		pmc.logger.Sugar().Warnw("Prometheus counter not found", zap.String("name", name))
		return nil
	}
	if err := pmc.hasUnexpectedLabels(metricsTypes.MetricsType_Incr, name, labels); err != nil {
		return err
	}
	m.With(pmc.formatLabels(metricsTypes.MetricsType_Incr, name, labels)).Add(value)
	return nil
}

func (pmc *PrometheusMetricsClient) Gauge(name string, value float64, labels []metricsTypes.MetricsLabel) error {
	m, ok := pmc.gauges[name]
	if !ok {
		pmc.logger.Sugar().Warnw("Prometheus gauge not found", zap.String("name", name))
		return nil
	}
	if err := pmc.hasUnexpectedLabels(metricsTypes.MetricsType_Gauge, name, labels); err != nil {
		return err
	}
	m.With(pmc.formatLabels(metricsTypes.MetricsType_Gauge, name, labels)).Set(value)
	return nil
}

func (pmc *PrometheusMetricsClient) Timing(name string, value time.Duration, labels []metricsTypes.MetricsLabel) error {
	m, ok := pmc.histograms[name]
	if !ok {
		pmc.logger.Sugar().Warnw("Prometheus histogram not found", zap.String("name", name))
		return nil
	}
	if err := pmc.hasUnexpectedLabels(metricsTypes.MetricsType_Timing, name, labels); err != nil {
		return err
	}
	m.With(pmc.formatLabels(metricsTypes.MetricsType_Timing, name, labels)).Observe(float64(value.Milliseconds()))
	return nil
}

func (pmc *PrometheusMetricsClient) Flush() {}
