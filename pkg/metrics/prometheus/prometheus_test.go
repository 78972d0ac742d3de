package prometheus

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Layr-Labs/runtime-indexer/pkg/logger"
	"github.com/Layr-Labs/runtime-indexer/pkg/metrics/metricsTypes"
	"github.com/stretchr/testify/assert"
)

func Test_UnexpectedLabelsParsing(t *testing.T) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	assert.Nil(t, err)

	pmc, err := NewPrometheusMetricsClient(&PrometheusMetricsConfig{
		Metrics: metricsTypes.MetricTypes,
	}, l)
	assert.Nil(t, err)

	t.Run("Should return no error for all labels", func(t *testing.T) {
		err := pmc.hasUnexpectedLabels(metricsTypes.MetricsType_Timing, metricsTypes.Metric_Timing_BlockProcessDuration, []metricsTypes.MetricsLabel{
			{Name: "hasFailures", Value: "true"},
			{Name: "hasError", Value: "false"},
		})
		assert.Nil(t, err)
	})
	t.Run("Should return no error for a subset labels", func(t *testing.T) {
		err := pmc.hasUnexpectedLabels(metricsTypes.MetricsType_Timing, metricsTypes.Metric_Timing_BlockProcessDuration, []metricsTypes.MetricsLabel{
			{Name: "hasFailures", Value: "true"},
		})
		assert.Nil(t, err)
	})
	t.Run("Should return an error for unexpected labels", func(t *testing.T) {
		err := pmc.hasUnexpectedLabels(metricsTypes.MetricsType_Timing, metricsTypes.Metric_Timing_BlockProcessDuration, []metricsTypes.MetricsLabel{
			{Name: "hasFailures", Value: "true"},
			{Name: "hasError", Value: "false"},
			{Name: "unexpectedLabel", Value: "unexpectedValue"},
		})
		assert.NotNil(t, err)
	})
	t.Run("Should return an error for unexpected labels when expecting 0 labels", func(t *testing.T) {
		err := pmc.hasUnexpectedLabels(metricsTypes.MetricsType_Gauge, metricsTypes.Metric_Gauge_CurrentBlockHeight, []metricsTypes.MetricsLabel{
			{Name: "hasError", Value: "false"},
		})
		assert.NotNil(t, err)
	})
}

func Test_PrometheusExport(t *testing.T) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	assert.Nil(t, err)

	pmc, err := NewPrometheusMetricsClient(&PrometheusMetricsConfig{
		Metrics: metricsTypes.MetricTypes,
	}, l)
	assert.Nil(t, err)

	assert.Nil(t, pmc.Incr(metricsTypes.Metric_Incr_DispatchOutcome, []metricsTypes.MetricsLabel{
		{Name: "outcome", Value: "decoded"},
	}, 3))
	assert.Nil(t, pmc.Gauge(metricsTypes.Metric_Gauge_CurrentBlockHeight, 1234, nil))
	assert.Nil(t, pmc.Timing(metricsTypes.Metric_Timing_BlockFetchDuration, 20*time.Millisecond, nil))
	// unknown metrics are ignored
	assert.Nil(t, pmc.Incr("not.a.metric", nil, 1))

	rec := httptest.NewRecorder()
	pmc.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	assert.Nil(t, err)

	out := string(body)
	assert.Contains(t, out, `runtime_indexer_dispatch_outcome{item_type="",outcome="decoded",pallet=""} 3`)
	assert.Contains(t, out, "runtime_indexer_currentBlockHeight 1234")
	assert.Contains(t, out, "runtime_indexer_block_fetch_duration_ms_count 1")

	t.Run("A second client owns its own registry", func(t *testing.T) {
		_, err := NewPrometheusMetricsClient(&PrometheusMetricsConfig{Metrics: metricsTypes.MetricTypes}, l)
		assert.Nil(t, err)
	})
}
