package dogstatsd

import (
	"fmt"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/Layr-Labs/runtime-indexer/pkg/metrics/metricsTypes"
	"github.com/Layr-Labs/runtime-indexer/pkg/utils"
	"go.uber.org/zap"
)

type DogStatsdMetricsConfig struct {
	Url        string
	SampleRate float64
	Namespace  string
	Tags       []string
}

type DogStatsdMetricsClient struct {
	client statsd.ClientInterface
	config *DogStatsdMetricsConfig
	logger *zap.Logger
}

func NewDogStatsdMetricsClient(config *DogStatsdMetricsConfig, l *zap.Logger) (*DogStatsdMetricsClient, error) {
	options := []statsd.Option{
		statsd.WithTags(config.Tags),
	}
	if config.Namespace != "" {
		options = append(options, statsd.WithNamespace(config.Namespace+"."))
	}
	client, err := statsd.New(config.Url, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create dogstatsd client: %w", err)
	}
	return NewDogStatsdMetricsClientWithClient(client, config, l), nil
}

func NewDogStatsdMetricsClientWithClient(client statsd.ClientInterface, config *DogStatsdMetricsConfig, l *zap.Logger) *DogStatsdMetricsClient {
	if config.SampleRate <= 0 {
		config.SampleRate = 1
	}
	return &DogStatsdMetricsClient{
		client: client,
		config: config,
		logger: l,
	}
}

// formatTags renders labels as datadog "name:value" tags.
func formatTags(labels []metricsTypes.MetricsLabel) []string {
	return utils.Map(labels, func(label metricsTypes.MetricsLabel, i uint64) string {
		return fmt.Sprintf("%s:%s", label.Name, label.Value)
	})
}

func (dsc *DogStatsdMetricsClient) Incr(name string, labels []metricsTypes.MetricsLabel, value float64) error {
	return dsc.client.Count(name, int64(value), formatTags(labels), dsc.config.SampleRate)
}

func (dsc *DogStatsdMetricsClient) Gauge(name string, value float64, labels []metricsTypes.MetricsLabel) error {
	return dsc.client.Gauge(name, value, formatTags(labels), dsc.config.SampleRate)
}

func (dsc *DogStatsdMetricsClient) Timing(name string, value time.Duration, labels []metricsTypes.MetricsLabel) error {
	return dsc.client.Timing(name, value, formatTags(labels), dsc.config.SampleRate)
}

func (dsc *DogStatsdMetricsClient) Flush() {
	if err := dsc.client.Flush(); err != nil {
		dsc.logger.Sugar().Warnw("Failed to flush dogstatsd client", zap.Error(err))
	}
}
