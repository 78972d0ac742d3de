package rpcServer

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Layr-Labs/runtime-indexer/pkg/metrics/metricsTypes"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.uber.org/zap"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withMetrics records request counts and durations labelled by route pattern.
func (rpc *RpcServer) withMetrics(method string, pattern string, h runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		h(rec, r, pathParams)

		duration := time.Since(start)
		labels := []metricsTypes.MetricsLabel{
			{Name: "method", Value: method},
			{Name: "path", Value: r.URL.Path},
			{Name: "pattern", Value: pattern},
			{Name: "status_code", Value: strconv.Itoa(rec.status)},
		}
		if rpc.metricsSink != nil {
			_ = rpc.metricsSink.Incr(metricsTypes.Metric_Incr_HttpRequest, labels, 1)
			_ = rpc.metricsSink.Timing(metricsTypes.Metric_Timing_HttpDuration, duration, labels)
		}
		rpc.Logger.Sugar().Debugw("Handled request",
			zap.String("method", method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", duration),
		)
	}
}
