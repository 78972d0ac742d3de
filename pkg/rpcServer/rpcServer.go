package rpcServer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Layr-Labs/runtime-indexer/internal/config"
	"github.com/Layr-Labs/runtime-indexer/pkg/eventBus/eventBusTypes"
	"github.com/Layr-Labs/runtime-indexer/pkg/failureReport"
	"github.com/Layr-Labs/runtime-indexer/pkg/metrics"
	"github.com/Layr-Labs/runtime-indexer/pkg/runtimeIndexer"
	"github.com/Layr-Labs/runtime-indexer/pkg/storage"
	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_zap "github.com/grpc-ecosystem/go-grpc-middleware/logging/zap"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const shutdownTimeout = 5 * time.Second

// IndexerService is the part of the indexer the operator API talks to.
type IndexerService interface {
	Status(ctx context.Context) (*runtimeIndexer.Status, error)
	RefreshRegistry(ctx context.Context) (*eventBusTypes.RegistryRefreshedData, error)
}

type RpcServerConfig struct {
	GrpcPort int
	HttpPort int
}

type RpcServer struct {
	Logger        *zap.Logger
	rpcConfig     *RpcServerConfig
	globalConfig  *config.Config
	blockStore    storage.BlockStore
	failureReport *failureReport.FailureReport
	indexer       IndexerService
	metricsSink   *metrics.MetricsSink

	grpcServer   *grpc.Server
	healthServer *health.Server
	httpServer   *http.Server

	mu       sync.Mutex
	grpcAddr net.Addr
	httpAddr net.Addr
}

func NewRpcServer(
	cfg *RpcServerConfig,
	bs storage.BlockStore,
	fr *failureReport.FailureReport,
	indexer IndexerService,
	ms *metrics.MetricsSink,
	gCfg *config.Config,
	l *zap.Logger,
) *RpcServer {
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(
			grpc_zap.UnaryServerInterceptor(l),
			grpc_recovery.UnaryServerInterceptor(),
		)),
		grpc.StreamInterceptor(grpc_middleware.ChainStreamServer(
			grpc_zap.StreamServerInterceptor(l),
			grpc_recovery.StreamServerInterceptor(),
		)),
	)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	return &RpcServer{
		Logger:        l,
		rpcConfig:     cfg,
		globalConfig:  gCfg,
		blockStore:    bs,
		failureReport: fr,
		indexer:       indexer,
		metricsSink:   ms,
		grpcServer:    grpcServer,
		healthServer:  healthServer,
	}
}

// HttpHandler builds the operator HTTP API.
func (rpc *RpcServer) HttpHandler() (http.Handler, error) {
	mux := runtime.NewServeMux()

	routes := []struct {
		method  string
		pattern string
		handler runtime.HandlerFunc
	}{
		{http.MethodGet, "/v1/status", rpc.handleStatus},
		{http.MethodGet, "/v1/failures", rpc.handleListFailures},
		{http.MethodGet, "/v1/failures.csv", rpc.handleFailuresCsv},
		{http.MethodGet, "/v1/blocks/{number}/records", rpc.handleBlockRecords},
		{http.MethodPost, "/v1/registry/refresh", rpc.handleRefreshRegistry},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, rpc.withMetrics(r.method, r.pattern, r.handler)); err != nil {
			return nil, fmt.Errorf("failed to register %s %s: %w", r.method, r.pattern, err)
		}
	}

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler(mux), nil
}

// Start binds the gRPC and HTTP listeners and serves until ctx is done or shutdown
// receives a value.
func (rpc *RpcServer) Start(ctx context.Context, shutdown chan bool) error {
	handler, err := rpc.HttpHandler()
	if err != nil {
		return err
	}

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", rpc.rpcConfig.GrpcPort))
	if err != nil {
		return fmt.Errorf("failed to listen on grpc port %d: %w", rpc.rpcConfig.GrpcPort, err)
	}
	httpListener, err := net.Listen("tcp", fmt.Sprintf(":%d", rpc.rpcConfig.HttpPort))
	if err != nil {
		_ = grpcListener.Close()
		return fmt.Errorf("failed to listen on http port %d: %w", rpc.rpcConfig.HttpPort, err)
	}

	rpc.mu.Lock()
	rpc.grpcAddr = grpcListener.Addr()
	rpc.httpAddr = httpListener.Addr()
	rpc.httpServer = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	rpc.mu.Unlock()

	go func() {
		rpc.Logger.Sugar().Infow("gRPC server listening", zap.String("address", grpcListener.Addr().String()))
		if err := rpc.grpcServer.Serve(grpcListener); err != nil {
			rpc.Logger.Sugar().Errorw("gRPC server stopped", zap.Error(err))
		}
	}()
	go func() {
		rpc.Logger.Sugar().Infow("HTTP server listening", zap.String("address", httpListener.Addr().String()))
		if err := rpc.httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rpc.Logger.Sugar().Errorw("HTTP server stopped", zap.Error(err))
		}
	}()
	rpc.healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	go func() {
		select {
		case <-shutdown:
		case <-ctx.Done():
		}
		rpc.Stop()
	}()
	return nil
}

// Stop marks the server as not serving and drains both servers.
func (rpc *RpcServer) Stop() {
	rpc.Logger.Sugar().Infow("Shutting down RPC server")
	rpc.healthServer.Shutdown()

	rpc.mu.Lock()
	httpServer := rpc.httpServer
	rpc.mu.Unlock()

	if httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			rpc.Logger.Sugar().Errorw("Failed to shut down HTTP server", zap.Error(err))
		}
	}
	rpc.grpcServer.GracefulStop()
}

// Addresses returns the bound gRPC and HTTP addresses once Start has returned.
func (rpc *RpcServer) Addresses() (grpcAddr net.Addr, httpAddr net.Addr) {
	rpc.mu.Lock()
	defer rpc.mu.Unlock()
	return rpc.grpcAddr, rpc.httpAddr
}
