package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/Layr-Labs/runtime-indexer/internal/config"
	"github.com/Layr-Labs/runtime-indexer/pkg/logger"
	"github.com/Layr-Labs/runtime-indexer/pkg/metrics/metricsTypes"
	"github.com/stretchr/testify/assert"
)

type recordingClient struct {
	incrs  map[string]float64
	gauges map[string]float64
	labels [][]metricsTypes.MetricsLabel
	fail   bool
}

func newRecordingClient() *recordingClient {
	return &recordingClient{incrs: map[string]float64{}, gauges: map[string]float64{}}
}

func (r *recordingClient) Incr(name string, labels []metricsTypes.MetricsLabel, value float64) error {
	if r.fail {
		return errors.New("incr failed")
	}
	r.incrs[name] += value
	r.labels = append(r.labels, labels)
	return nil
}

func (r *recordingClient) Gauge(name string, value float64, labels []metricsTypes.MetricsLabel) error {
	r.gauges[name] = value
	return nil
}

func (r *recordingClient) Timing(name string, value time.Duration, labels []metricsTypes.MetricsLabel) error {
	return nil
}

func (r *recordingClient) Flush() {}

func Test_MetricsSink(t *testing.T) {
	t.Run("Fans out to every client", func(t *testing.T) {
		a, b := newRecordingClient(), newRecordingClient()
		sink, err := NewMetricsSink(&MetricsSinkConfig{}, []metricsTypes.IMetricsClient{a, b})
		assert.Nil(t, err)

		assert.Nil(t, sink.Incr(metricsTypes.Metric_Incr_BlockProcessed, nil, 1))
		assert.Nil(t, sink.Gauge(metricsTypes.Metric_Gauge_CurrentBlockHeight, 10, nil))

		for _, c := range []*recordingClient{a, b} {
			assert.Equal(t, float64(1), c.incrs[metricsTypes.Metric_Incr_BlockProcessed])
			assert.Equal(t, float64(10), c.gauges[metricsTypes.Metric_Gauge_CurrentBlockHeight])
		}
	})
	t.Run("Prepends default labels", func(t *testing.T) {
		c := newRecordingClient()
		sink, _ := NewMetricsSink(&MetricsSinkConfig{
			DefaultLabels: []metricsTypes.MetricsLabel{{Name: "chain", Value: "polkadot"}},
		}, []metricsTypes.IMetricsClient{c})

		_ = sink.Incr(metricsTypes.Metric_Incr_DispatchOutcome, []metricsTypes.MetricsLabel{{Name: "outcome", Value: "decoded"}}, 1)
		assert.Equal(t, []metricsTypes.MetricsLabel{{Name: "chain", Value: "polkadot"}, {Name: "outcome", Value: "decoded"}}, c.labels[0])
	})
	t.Run("Client errors are joined", func(t *testing.T) {
		ok, bad := newRecordingClient(), newRecordingClient()
		bad.fail = true
		sink, _ := NewMetricsSink(nil, []metricsTypes.IMetricsClient{ok, bad})

		err := sink.Incr(metricsTypes.Metric_Incr_BlockProcessed, nil, 1)
		assert.ErrorContains(t, err, "incr failed")
		assert.Equal(t, float64(1), ok.incrs[metricsTypes.Metric_Incr_BlockProcessed])
	})
	t.Run("A sink without clients drops everything", func(t *testing.T) {
		sink, _ := NewMetricsSink(&MetricsSinkConfig{}, nil)
		assert.Nil(t, sink.Timing(metricsTypes.Metric_Timing_BlockProcessDuration, time.Second, nil))
		_, ok := sink.PrometheusHandler()
		assert.False(t, ok)
	})
}

func Test_InitMetricsSinksFromConfig(t *testing.T) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	assert.Nil(t, err)

	cfg := &config.Config{Chain: config.Chain_Local}
	cfg.PrometheusConfig.Enabled = true

	clients, err := InitMetricsSinksFromConfig(cfg, l)
	assert.Nil(t, err)
	assert.Len(t, clients, 1)

	sink, _ := NewMetricsSink(&MetricsSinkConfig{}, clients)
	handler, ok := sink.PrometheusHandler()
	assert.True(t, ok)
	assert.NotNil(t, handler)
}
