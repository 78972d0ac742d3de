// Package metrics fans metric writes out to every configured backend.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/Layr-Labs/runtime-indexer/internal/config"
	"github.com/Layr-Labs/runtime-indexer/pkg/metrics/dogstatsd"
	"github.com/Layr-Labs/runtime-indexer/pkg/metrics/metricsTypes"
	"github.com/Layr-Labs/runtime-indexer/pkg/metrics/prometheus"
	"go.uber.org/zap"
)

type MetricsSinkConfig struct {
	DefaultLabels []metricsTypes.MetricsLabel
}

type MetricsSink struct {
	config  *MetricsSinkConfig
	clients []metricsTypes.IMetricsClient
}

// NewMetricsSink creates a sink over the given clients. A nil client list is valid and
// produces a sink that drops everything.
func NewMetricsSink(cfg *MetricsSinkConfig, clients []metricsTypes.IMetricsClient) (*MetricsSink, error) {
	if cfg == nil {
		cfg = &MetricsSinkConfig{}
	}
	return &MetricsSink{
		config:  cfg,
		clients: clients,
	}, nil
}

// InitMetricsSinksFromConfig builds the clients enabled in cfg.
func InitMetricsSinksFromConfig(cfg *config.Config, l *zap.Logger) ([]metricsTypes.IMetricsClient, error) {
	clients := make([]metricsTypes.IMetricsClient, 0)

	if cfg.DataDogConfig.StatsdConfig.Enabled {
		dd, err := dogstatsd.NewDogStatsdMetricsClient(&dogstatsd.DogStatsdMetricsConfig{
			Url:        cfg.DataDogConfig.StatsdConfig.Url,
			SampleRate: cfg.DataDogConfig.StatsdConfig.SampleRate,
			Namespace:  "runtime_indexer",
			Tags:       []string{"chain:" + cfg.Chain.String()},
		}, l)
		if err != nil {
			l.Sugar().Errorw("Failed to create dogstatsd client", zap.Error(err))
			return nil, err
		}
		clients = append(clients, dd)
	}

	if cfg.PrometheusConfig.Enabled {
		pm, err := prometheus.NewPrometheusMetricsClient(&prometheus.PrometheusMetricsConfig{
			Metrics: metricsTypes.MetricTypes,
		}, l)
		if err != nil {
			l.Sugar().Errorw("Failed to create prometheus client", zap.Error(err))
			return nil, err
		}
		clients = append(clients, pm)
	}

	return clients, nil
}

func (ms *MetricsSink) withDefaults(labels []metricsTypes.MetricsLabel) []metricsTypes.MetricsLabel {
	if len(ms.config.DefaultLabels) == 0 {
		return labels
	}
	return append(append([]metricsTypes.MetricsLabel{}, ms.config.DefaultLabels...), labels...)
}

func (ms *MetricsSink) Incr(name string, labels []metricsTypes.MetricsLabel, value float64) error {
	var errs []error
	for _, client := range ms.clients {
		errs = append(errs, client.Incr(name, ms.withDefaults(labels), value))
	}
	return errors.Join(errs...)
}

func (ms *MetricsSink) Gauge(name string, value float64, labels []metricsTypes.MetricsLabel) error {
	var errs []error
	for _, client := range ms.clients {
		errs = append(errs, client.Gauge(name, value, ms.withDefaults(labels)))
	}
	return errors.Join(errs...)
}

func (ms *MetricsSink) Timing(name string, value time.Duration, labels []metricsTypes.MetricsLabel) error {
	var errs []error
	for _, client := range ms.clients {
		errs = append(errs, client.Timing(name, value, ms.withDefaults(labels)))
	}
	return errors.Join(errs...)
}

func (ms *MetricsSink) Flush() {
	for _, client := range ms.clients {
		client.Flush()
	}
}

// PrometheusHandler returns the exporter of the first prometheus client, if any.
func (ms *MetricsSink) PrometheusHandler() (http.Handler, bool) {
	for _, client := range ms.clients {
		if pm, ok := client.(*prometheus.PrometheusMetricsClient); ok {
			return pm.Handler(), true
		}
	}
	return nil, false
}
