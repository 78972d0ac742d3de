package cmd

import (
	"context"
	"fmt"

	"github.com/Layr-Labs/runtime-indexer/internal/config"
	"github.com/Layr-Labs/runtime-indexer/pkg/callDispatcher"
	"github.com/Layr-Labs/runtime-indexer/pkg/clients/substrate"
	"github.com/Layr-Labs/runtime-indexer/pkg/eventBus"
	"github.com/Layr-Labs/runtime-indexer/pkg/failureReport"
	"github.com/Layr-Labs/runtime-indexer/pkg/fetcher"
	"github.com/Layr-Labs/runtime-indexer/pkg/hashResolver"
	"github.com/Layr-Labs/runtime-indexer/pkg/metrics"
	"github.com/Layr-Labs/runtime-indexer/pkg/pipeline"
	"github.com/Layr-Labs/runtime-indexer/pkg/postgres"
	"github.com/Layr-Labs/runtime-indexer/pkg/runtimeIndexer"
	"github.com/Layr-Labs/runtime-indexer/pkg/scaleCodec"
	"github.com/Layr-Labs/runtime-indexer/pkg/schemaRegistry/snapshotSource"
	pgStorage "github.com/Layr-Labs/runtime-indexer/pkg/storage/postgres"
	"go.uber.org/zap"
)

type indexerServices struct {
	metricsSink   *metrics.MetricsSink
	pg            *postgres.Postgres
	blockStore    *pgStorage.PostgresBlockStore
	hashCache     hashResolver.HashCache
	nodeClient    *substrate.Client
	dispatcher    *callDispatcher.CallDispatcher
	failureReport *failureReport.FailureReport
	eventBus      *eventBus.EventBus
	pipeline      *pipeline.Pipeline
	indexer       *runtimeIndexer.RuntimeIndexer
	logger        *zap.Logger
}

func newCodec(cfg *config.Config) *scaleCodec.Codec {
	return scaleCodec.NewCodec(&scaleCodec.CodecConfig{
		RenderSS58: cfg.CodecConfig.RenderSS58,
		SS58Prefix: uint16(cfg.CodecConfig.SS58Prefix),
	})
}

func newSnapshotSource(cfg *config.Config, l *zap.Logger) *snapshotSource.FileSource {
	return snapshotSource.NewFileSource(&snapshotSource.FileSourceConfig{
		Path:          cfg.RegistryConfig.SnapshotPath,
		PublicKeyPath: cfg.RegistryConfig.PublicKeyPath,
	}, l)
}

func newHashCache(cfg *config.Config) (hashResolver.HashCache, error) {
	if cfg.HashCacheConfig.Path == "" {
		return hashResolver.NewInMemoryLevelDbHashCache()
	}
	return hashResolver.NewLevelDbHashCache(cfg.HashCacheConfig.Path)
}

// buildIndexerServices wires every component needed to ingest blocks.
func buildIndexerServices(ctx context.Context, cfg *config.Config, l *zap.Logger) (*indexerServices, error) {
	metricsClients, err := metrics.InitMetricsSinksFromConfig(cfg, l)
	if err != nil {
		return nil, fmt.Errorf("failed to setup metrics sink: %w", err)
	}
	sink, err := metrics.NewMetricsSink(&metrics.MetricsSinkConfig{}, metricsClients)
	if err != nil {
		return nil, fmt.Errorf("failed to setup metrics sink: %w", err)
	}

	source := newSnapshotSource(cfg, l)
	reg, err := snapshotSource.LoadRegistry(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("failed to load registry snapshot: %w", err)
	}
	l.Sugar().Infow("Loaded registry snapshot",
		zap.String("source", reg.Info().Source),
		zap.Uint32("latestSpecVersion", reg.Info().LatestSpecVersion()),
		zap.Int("kinds", reg.Len()),
		zap.Int("variants", reg.VariantCount()),
	)

	pg, grm, err := postgres.ConnectAndMigrate(cfg, l)
	if err != nil {
		return nil, fmt.Errorf("failed to setup database: %w", err)
	}
	bs := pgStorage.NewPostgresBlockStore(grm, l, cfg)

	cache, err := newHashCache(cfg)
	if err != nil {
		_ = pg.Db.Close()
		return nil, fmt.Errorf("failed to open hash cache: %w", err)
	}

	client := substrate.NewClient(&substrate.ClientConfig{
		BaseUrl: cfg.NodeConfig.RpcUrl,
		Timeout: cfg.NodeConfig.RequestTimeout,
	}, l)
	f := fetcher.NewFetcher(client, &fetcher.FetcherConfig{Backoff: cfg.PipelineConfig.FetchBackoff}, sink, l)

	resolver := hashResolver.NewHashResolver(cache, l).WithMetricsSink(sink)
	cd := callDispatcher.NewCallDispatcher(reg, resolver, nil, l)
	fr := failureReport.NewFailureReport(&failureReport.FailureReportConfig{
		SpikeThreshold: cfg.FailuresConfig.SpikeThreshold,
	}, cd, sink, l)
	eb := eventBus.NewEventBus(l)

	p := pipeline.NewPipeline(f, cd, resolver, fr, bs, newCodec(cfg), cfg, sink, eb, l)
	ri := runtimeIndexer.NewRuntimeIndexer(&runtimeIndexer.RuntimeIndexerConfig{
		StartBlock: cfg.PipelineConfig.StartBlock,
	}, cfg, bs, p, cd, fr, source, sink, eb, l)
	ri.PublishRegistryGauges(reg)

	return &indexerServices{
		metricsSink:   sink,
		pg:            pg,
		blockStore:    bs,
		hashCache:     cache,
		nodeClient:    client,
		dispatcher:    cd,
		failureReport: fr,
		eventBus:      eb,
		pipeline:      p,
		indexer:       ri,
		logger:        l,
	}, nil
}

func (s *indexerServices) Close() {
	s.metricsSink.Flush()
	s.nodeClient.Close()
	if err := s.hashCache.Close(); err != nil {
		s.logger.Sugar().Errorw("Failed to close hash cache", zap.Error(err))
	}
	if err := s.pg.Db.Close(); err != nil {
		s.logger.Sugar().Errorw("Failed to close database", zap.Error(err))
	}
}
