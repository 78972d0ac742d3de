package prometheus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type PrometheusServerConfig struct {
	Port int
}

// PrometheusServer exposes a metrics handler on its own port at /metrics.
type PrometheusServer struct {
	config  *PrometheusServerConfig
	handler http.Handler
	logger  *zap.Logger
	server  *http.Server
}

func NewPrometheusServer(cfg *PrometheusServerConfig, handler http.Handler, l *zap.Logger) *PrometheusServer {
	return &PrometheusServer{
		config:  cfg,
		handler: handler,
		logger:  l,
	}
}

// Start serves until a value is received on shutdown.
func (ps *PrometheusServer) Start(shutdown chan bool) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", ps.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on prometheus port %d: %w", ps.config.Port, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", ps.handler)
	ps.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		ps.logger.Sugar().Infow("Prometheus server listening", zap.String("address", listener.Addr().String()))
		if err := ps.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ps.logger.Sugar().Errorw("Prometheus server stopped", zap.Error(err))
		}
	}()
	go func() {
		<-shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ps.server.Shutdown(ctx); err != nil {
			ps.logger.Sugar().Errorw("Failed to shut down prometheus server", zap.Error(err))
		}
	}()
	return nil
}
