package cmd

import (
	"context"
	"log"
	"time"

	"github.com/Layr-Labs/runtime-indexer/internal/config"
	"github.com/Layr-Labs/runtime-indexer/internal/tracer"
	"github.com/Layr-Labs/runtime-indexer/internal/version"
	"github.com/Layr-Labs/runtime-indexer/pkg/logger"
	"github.com/Layr-Labs/runtime-indexer/pkg/metrics/prometheus"
	"github.com/Layr-Labs/runtime-indexer/pkg/rpcServer"
	"github.com/Layr-Labs/runtime-indexer/pkg/shutdown"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Index from the stored checkpoint to the tip, then follow new blocks",
	Run: func(cmd *cobra.Command, args []string) {
		bindSubcommandFlags(cmd)
		cfg := config.NewConfig()
		if err := cfg.Validate(); err != nil {
			log.Fatalf("Invalid configuration: %v", err)
		}

		ctx := context.Background()

		l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})

		l.Sugar().Infow("runtime-indexer run",
			zap.String("version", version.GetVersion()),
			zap.String("commit", version.GetCommit()),
			zap.String("chain", cfg.Chain.String()),
		)

		tracer.StartTracer(cfg.DataDogConfig.EnableTracing, cfg.Chain)
		defer tracer.StopTracer()

		svc, err := buildIndexerServices(ctx, cfg, l)
		if err != nil {
			l.Sugar().Fatalw("Failed to setup indexer", zap.Error(err))
		}
		defer svc.Close()

		rpc := rpcServer.NewRpcServer(&rpcServer.RpcServerConfig{
			GrpcPort: cfg.RpcConfig.GrpcPort,
			HttpPort: cfg.RpcConfig.HttpPort,
		}, svc.blockStore, svc.failureReport, svc.indexer, svc.metricsSink, cfg, l)

		// RPC channel to notify the RPC server to shutdown gracefully
		rpcChannel := make(chan bool, 1)
		if err := rpc.Start(ctx, rpcChannel); err != nil {
			l.Sugar().Fatalw("Failed to start RPC server", zap.Error(err))
		}

		promChan := make(chan bool, 1)
		if handler, ok := svc.metricsSink.PrometheusHandler(); ok {
			pServer := prometheus.NewPrometheusServer(&prometheus.PrometheusServerConfig{
				Port: cfg.PrometheusConfig.Port,
			}, handler, l)
			if err := pServer.Start(promChan); err != nil {
				l.Sugar().Fatalw("Failed to start prometheus server", zap.Error(err))
			}
		}

		var indexErr error
		done := make(chan bool)
		go func() {
			defer close(done)
			indexErr = svc.indexer.Start(ctx)
		}()

		l.Sugar().Info("Started runtime indexer")

		shutdown.ListenForShutdown(shutdown.CreateGracefulShutdownChannel(), done, func() {
			l.Sugar().Info("Shutting down...")
			svc.indexer.ShutdownChan <- true
		}, time.Second*5, l)

		rpcChannel <- true
		promChan <- true

		select {
		case <-done:
		default:
			l.Sugar().Warn("Indexer did not stop before the shutdown timeout")
			return
		}
		if indexErr != nil {
			l.Sugar().Errorw("Indexer stopped with error", zap.Error(indexErr))
			svc.Close()
			log.Fatalf("indexer stopped: %v", indexErr)
		}
	},
}
