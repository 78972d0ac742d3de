package metricsTypes

import "time"

type IMetricsClient interface {
	Incr(name string, labels []MetricsLabel, value float64) error
	Gauge(name string, value float64, labels []MetricsLabel) error
	Timing(name string, value time.Duration, labels []MetricsLabel) error
	Flush()
}

type MetricsLabel struct {
	Name  string
	Value string
}

type MetricsType string

var (
	MetricsType_Incr   MetricsType = "incr"
	MetricsType_Gauge  MetricsType = "gauge"
	MetricsType_Timing MetricsType = "timing"
)

type MetricsTypeConfig struct {
	Name   string
	Labels []string
}

var (
	Metric_Incr_BlockProcessed     = "blockProcessed"
	Metric_Incr_BlockFailed        = "blockFailed"
	Metric_Incr_DispatchOutcome    = "dispatch.outcome"
	Metric_Incr_FetchRetry         = "fetcher.retry"
	Metric_Incr_RegistryRefreshed  = "registry.refreshed"
	Metric_Incr_UpgradeLagDetected = "failures.upgradeLag"
	Metric_Incr_HashCacheHit       = "hashResolver.cache.hit"
	Metric_Incr_HashCacheMiss      = "hashResolver.cache.miss"
	Metric_Incr_HttpRequest        = "rpc.http.request"

	Metric_Gauge_CurrentBlockHeight  = "currentBlockHeight"
	Metric_Gauge_CurrentSpecVersion  = "currentSpecVersion"
	Metric_Gauge_RegistryVariants    = "registry.variants"
	Metric_Gauge_FailureTotal        = "failures.total"
	Metric_Gauge_PipelineQueueLength = "pipeline.queue.length"

	Metric_Timing_BlockProcessDuration = "block.process.duration"
	Metric_Timing_BlockFetchDuration   = "block.fetch.duration"
	Metric_Timing_BlockEmitDuration    = "block.emit.duration"
	Metric_Timing_HttpDuration         = "rpc.http.duration"
)

var MetricTypes = map[MetricsType][]MetricsTypeConfig{
	MetricsType_Incr: {
		MetricsTypeConfig{
			Name:   Metric_Incr_BlockProcessed,
			Labels: []string{},
		},
		MetricsTypeConfig{
			Name: Metric_Incr_BlockFailed,
			Labels: []string{
				"block_number",
			},
		},
		MetricsTypeConfig{
			Name: Metric_Incr_DispatchOutcome,
			Labels: []string{
				"outcome",
				"item_type",
				"pallet",
			},
		},
		MetricsTypeConfig{
			Name: Metric_Incr_FetchRetry,
			Labels: []string{
				"attempt",
			},
		},
		MetricsTypeConfig{
			Name: Metric_Incr_RegistryRefreshed,
			Labels: []string{
				"source",
			},
		},
		MetricsTypeConfig{
			Name: Metric_Incr_UpgradeLagDetected,
			Labels: []string{
				"spec_version",
			},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_HashCacheHit,
			Labels: []string{},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_HashCacheMiss,
			Labels: []string{},
		},
		MetricsTypeConfig{
			Name: Metric_Incr_HttpRequest,
			Labels: []string{
				"method",
				"path",
				"pattern",
				"status_code",
			},
		},
	},
	MetricsType_Gauge: {
		MetricsTypeConfig{
			Name:   Metric_Gauge_CurrentBlockHeight,
			Labels: []string{},
		},
		MetricsTypeConfig{
			Name:   Metric_Gauge_CurrentSpecVersion,
			Labels: []string{},
		},
		MetricsTypeConfig{
			Name:   Metric_Gauge_RegistryVariants,
			Labels: []string{},
		},
		MetricsTypeConfig{
			Name: Metric_Gauge_FailureTotal,
			Labels: []string{
				"reason",
			},
		},
		MetricsTypeConfig{
			Name:   Metric_Gauge_PipelineQueueLength,
			Labels: []string{},
		},
	},
	MetricsType_Timing: {
		MetricsTypeConfig{
			Name: Metric_Timing_BlockProcessDuration,
			Labels: []string{
				"hasFailures",
				"hasError",
			},
		},
		MetricsTypeConfig{
			Name:   Metric_Timing_BlockFetchDuration,
			Labels: []string{},
		},
		MetricsTypeConfig{
			Name:   Metric_Timing_BlockEmitDuration,
			Labels: []string{},
		},
		MetricsTypeConfig{
			Name: Metric_Timing_HttpDuration,
			Labels: []string{
				"method",
				"path",
				"pattern",
				"status_code",
			},
		},
	},
}
