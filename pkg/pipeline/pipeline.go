// Package pipeline turns fetched blocks into ordered dispatch outcomes and hands them to
// the sink, one block at a time.
package pipeline

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/Layr-Labs/runtime-indexer/internal/config"
	"github.com/Layr-Labs/runtime-indexer/pkg/callDispatcher"
	"github.com/Layr-Labs/runtime-indexer/pkg/chain"
	"github.com/Layr-Labs/runtime-indexer/pkg/eventBus/eventBusTypes"
	"github.com/Layr-Labs/runtime-indexer/pkg/failureReport"
	"github.com/Layr-Labs/runtime-indexer/pkg/fetcher"
	"github.com/Layr-Labs/runtime-indexer/pkg/hashResolver"
	"github.com/Layr-Labs/runtime-indexer/pkg/metrics"
	"github.com/Layr-Labs/runtime-indexer/pkg/metrics/metricsTypes"
	"github.com/Layr-Labs/runtime-indexer/pkg/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	ddTracer "gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
)

// Sink durably accepts one block's rows at a time.
type Sink interface {
	InsertBlock(ctx context.Context, data *storage.BlockData) error
}

type Pipeline struct {
	Fetcher       *fetcher.Fetcher
	Dispatcher    *callDispatcher.CallDispatcher
	Resolver      *hashResolver.HashResolver
	FailureReport *failureReport.FailureReport
	Sink          Sink
	Logger        *zap.Logger

	decoder      chain.FieldDecoder
	globalConfig *config.Config
	metricsSink  *metrics.MetricsSink
	eventBus     eventBusTypes.IEventBus

	lastEmitted atomic.Pointer[storage.Block]
}

func NewPipeline(
	f *fetcher.Fetcher,
	cd *callDispatcher.CallDispatcher,
	hr *hashResolver.HashResolver,
	fr *failureReport.FailureReport,
	sink Sink,
	decoder chain.FieldDecoder,
	gc *config.Config,
	ms *metrics.MetricsSink,
	eb eventBusTypes.IEventBus,
	l *zap.Logger,
) *Pipeline {
	return &Pipeline{
		Fetcher:       f,
		Dispatcher:    cd,
		Resolver:      hr,
		FailureReport: fr,
		Sink:          sink,
		Logger:        l,
		decoder:       decoder,
		globalConfig:  gc,
		metricsSink:   ms,
		eventBus:      eb,
	}
}

func (p *Pipeline) itemConcurrency() int {
	return max(1, p.globalConfig.PipelineConfig.ItemConcurrency)
}

func (p *Pipeline) workers() int {
	return max(1, p.globalConfig.PipelineConfig.Workers)
}

// LastEmitted returns the most recent block accepted by the sink during this run.
func (p *Pipeline) LastEmitted() *storage.Block {
	return p.lastEmitted.Load()
}

// ProcessFetchedBlock dispatches every item of a fetched block. Per-item failures never
// fail the block; they reach the failure report only once the block is emitted.
func (p *Pipeline) ProcessFetchedBlock(ctx context.Context, fetched *fetcher.FetchedBlock) (*ProcessedBlock, error) {
	block := fetched.Block

	span, ctx := ddTracer.StartSpanFromContext(ctx, "pipeline.ProcessFetchedBlock")
	span.SetTag("block_number", block.Number)
	span.SetTag("spec_version", block.SpecVersion)
	defer span.Finish()

	processStart := time.Now()
	pb := newProcessedBlock(block)
	hasError := false
	defer func() {
		_, failed := pb.Counts()
		_ = p.metricsSink.Timing(metricsTypes.Metric_Timing_BlockProcessDuration, time.Since(processStart), []metricsTypes.MetricsLabel{
			{Name: "hasFailures", Value: strconv.FormatBool(failed > 0)},
			{Name: "hasError", Value: strconv.FormatBool(hasError)},
		})
	}()

	items := slices.Clone(block.Items)
	if err := pb.transition(BlockState_ExtrinsicsExtracted); err != nil {
		hasError = true
		return nil, err
	}

	bctx := chain.NewBlockContext(block, p.decoder)
	outcomes := make([]*callDispatcher.DispatchOutcome, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.itemConcurrency())
	for i, item := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = p.Dispatcher.Dispatch(item, bctx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		hasError = true
		_ = pb.transition(BlockState_Failed)
		return nil, err
	}

	// dispatch order is arbitrary; emission order is the on-chain order
	slices.SortStableFunc(outcomes, func(a, b *callDispatcher.DispatchOutcome) int {
		return cmp.Compare(a.Envelope.Index, b.Envelope.Index)
	})
	pb.Outcomes = outcomes

	root, err := computeOutcomeRoot(block.Number, outcomes)
	if err != nil {
		hasError = true
		_ = pb.transition(BlockState_Failed)
		return nil, err
	}
	pb.OutcomeRoot = root

	for _, o := range outcomes {
		if !o.Succeeded() {
			p.Logger.Sugar().Debugw("Item not decoded",
				zap.Uint64("blockNumber", block.Number),
				zap.Uint32("index", o.Envelope.Index),
				zap.String("kind", o.ItemKind().String()),
				zap.String("hash", o.Hash.String()),
				zap.String("outcome", o.Kind.String()),
				zap.Error(o.Err),
			)
		} else {
			_ = p.metricsSink.Incr(metricsTypes.Metric_Incr_DispatchOutcome, []metricsTypes.MetricsLabel{
				{Name: "outcome", Value: o.Kind.String()},
				{Name: "item_type", Value: o.Envelope.Type.String()},
				{Name: "pallet", Value: o.ItemKind().Pallet()},
			}, 1)
		}
	}

	if err := pb.transition(BlockState_Dispatched); err != nil {
		hasError = true
		return nil, err
	}
	decoded, failed := pb.Counts()
	span.SetTag("items", len(outcomes))
	span.SetTag("failed_items", failed)
	p.Logger.Sugar().Debugw("Dispatched block",
		zap.Uint64("blockNumber", block.Number),
		zap.Int("decoded", decoded),
		zap.Int("failed", failed),
		zap.String("outcomeRoot", root),
		zap.Duration("duration", time.Since(processStart)),
	)
	return pb, nil
}

// Emit writes a dispatched block to the sink. Once started, emission is not cancelled
// by ctx so a block is written completely or not at all.
func (p *Pipeline) Emit(ctx context.Context, pb *ProcessedBlock) error {
	emitCtx := context.WithoutCancel(ctx)
	blockNumber := pb.Block.Number
	if pb.State != BlockState_Dispatched {
		return fmt.Errorf("block %d cannot be emitted from state %s", blockNumber, pb.State)
	}

	span, emitCtx := ddTracer.StartSpanFromContext(emitCtx, "pipeline.Emit")
	span.SetTag("block_number", blockNumber)
	defer span.Finish()

	emitStart := time.Now()
	data, err := pb.toBlockData()
	if err != nil {
		_ = pb.transition(BlockState_Failed)
		return err
	}
	if err := p.Sink.InsertBlock(emitCtx, data); err != nil {
		p.Logger.Sugar().Errorw("Failed to emit block", zap.Uint64("blockNumber", blockNumber), zap.Error(err))
		_ = pb.transition(BlockState_Failed)
		_ = p.metricsSink.Incr(metricsTypes.Metric_Incr_BlockFailed, []metricsTypes.MetricsLabel{
			{Name: "block_number", Value: strconv.FormatUint(blockNumber, 10)},
		}, 1)
		return err
	}
	if err := pb.transition(BlockState_Emitted); err != nil {
		return err
	}

	p.lastEmitted.Store(data.Block)
	p.Resolver.ReleaseBlock(pb.Block.Hash)
	for _, o := range pb.Outcomes {
		if !o.Succeeded() {
			p.FailureReport.Record(o)
		}
	}

	_ = p.metricsSink.Timing(metricsTypes.Metric_Timing_BlockEmitDuration, time.Since(emitStart), nil)
	_ = p.metricsSink.Incr(metricsTypes.Metric_Incr_BlockProcessed, nil, 1)
	_ = p.metricsSink.Gauge(metricsTypes.Metric_Gauge_CurrentBlockHeight, float64(blockNumber), nil)
	_ = p.metricsSink.Gauge(metricsTypes.Metric_Gauge_CurrentSpecVersion, float64(pb.Block.SpecVersion), nil)
	p.FailureReport.PublishTotals()

	p.HandleBlockIngestedHook(data)
	return nil
}

// RunForBlock fetches, processes and emits a single block.
func (p *Pipeline) RunForBlock(ctx context.Context, blockNumber uint64) (*ProcessedBlock, error) {
	p.Logger.Sugar().Debugw("Running pipeline for block", zap.Uint64("blockNumber", blockNumber))

	fetched, err := p.Fetcher.FetchBlockWithRetries(ctx, blockNumber)
	if err != nil {
		return nil, err
	}
	pb, err := p.ProcessFetchedBlock(ctx, fetched)
	if err != nil {
		return nil, err
	}
	if err := p.Emit(ctx, pb); err != nil {
		return pb, err
	}
	return pb, nil
}
