// Package runtimeIndexer drives the ingestion pipeline from the stored checkpoint to the
// chain tip and keeps following it.
package runtimeIndexer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/Layr-Labs/runtime-indexer/internal/config"
	"github.com/Layr-Labs/runtime-indexer/pkg/callDispatcher"
	"github.com/Layr-Labs/runtime-indexer/pkg/eventBus/eventBusTypes"
	"github.com/Layr-Labs/runtime-indexer/pkg/failureReport"
	"github.com/Layr-Labs/runtime-indexer/pkg/metrics"
	"github.com/Layr-Labs/runtime-indexer/pkg/pipeline"
	"github.com/Layr-Labs/runtime-indexer/pkg/schemaRegistry/snapshotSource"
	"github.com/Layr-Labs/runtime-indexer/pkg/storage"
	"go.uber.org/zap"
)

type RuntimeIndexerConfig struct {
	// StartBlock is used when nothing has been indexed yet
	StartBlock uint64
}

type RuntimeIndexer struct {
	Logger         *zap.Logger
	Config         *RuntimeIndexerConfig
	GlobalConfig   *config.Config
	Storage        storage.BlockStore
	Pipeline       *pipeline.Pipeline
	Dispatcher     *callDispatcher.CallDispatcher
	FailureReport  *failureReport.FailureReport
	SnapshotSource snapshotSource.Source
	ShutdownChan   chan bool

	metricsSink    *metrics.MetricsSink
	eventBus       eventBusTypes.IEventBus
	shouldShutdown atomic.Bool
	running        atomic.Bool
	currentTip     atomic.Uint64
	refreshMu      sync.Mutex
}

func NewRuntimeIndexer(
	cfg *RuntimeIndexerConfig,
	gCfg *config.Config,
	s storage.BlockStore,
	p *pipeline.Pipeline,
	cd *callDispatcher.CallDispatcher,
	fr *failureReport.FailureReport,
	src snapshotSource.Source,
	ms *metrics.MetricsSink,
	eb eventBusTypes.IEventBus,
	l *zap.Logger,
) *RuntimeIndexer {
	return &RuntimeIndexer{
		Logger:         l,
		Config:         cfg,
		GlobalConfig:   gCfg,
		Storage:        s,
		Pipeline:       p,
		Dispatcher:     cd,
		FailureReport:  fr,
		SnapshotSource: src,
		ShutdownChan:   make(chan bool, 1),
		metricsSink:    ms,
		eventBus:       eb,
	}
}

// Start indexes from the stored checkpoint to the tip and then follows new blocks until
// ctx is cancelled or a shutdown signal arrives. A shutdown is not an error.
func (ri *RuntimeIndexer) Start(ctx context.Context) error {
	ri.Logger.Info("Starting runtime indexer")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-ri.ShutdownChan:
			ri.Logger.Sugar().Infow("Received shutdown signal")
			ri.shouldShutdown.Store(true)
			cancel()
		case <-ctx.Done():
		}
	}()

	ri.running.Store(true)
	defer ri.running.Store(false)

	next, err := ri.IndexFromCheckpointToTip(ctx)
	if err != nil {
		return ri.filterShutdown(ctx, err)
	}

	ri.Logger.Sugar().Infow("Caught up to tip, transitioning to listening for new blocks",
		zap.Uint64("nextBlock", next),
	)
	return ri.filterShutdown(ctx, ri.FollowTip(ctx, next))
}

func (ri *RuntimeIndexer) filterShutdown(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// IsRunning reports whether Start is currently indexing.
func (ri *RuntimeIndexer) IsRunning() bool {
	return ri.running.Load()
}
