package runtimeIndexer

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Layr-Labs/runtime-indexer/pkg/pipeline"
	"go.uber.org/zap"
)

// ResumeHeight returns the first height that still has to be indexed. When the node tip
// is behind the stored checkpoint the stored state above the tip is deleted first.
func (ri *RuntimeIndexer) ResumeHeight(ctx context.Context) (uint64, error) {
	latest, err := ri.Storage.GetLatestBlock(ctx)
	if err != nil {
		ri.Logger.Sugar().Errorw("Failed to get last indexed block", zap.Error(err))
		return 0, err
	}
	if latest == nil {
		ri.Logger.Sugar().Infow("No blocks indexed, starting from configured start block",
			zap.Uint64("startBlock", ri.Config.StartBlock),
		)
		return ri.Config.StartBlock, nil
	}

	tip, err := ri.Pipeline.Fetcher.GetLatestBlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get current tip: %w", err)
	}
	ri.currentTip.Store(tip)

	if tip < latest.Number {
		ri.Logger.Sugar().Warnw("Node tip is behind latest indexed block, possible reorg detected",
			zap.Uint64("latestTip", tip),
			zap.Uint64("latestIndexedBlock", latest.Number),
		)
		if err := ri.DeleteCorruptedState(ctx, tip+1, latest.Number); err != nil {
			return 0, err
		}
		return tip + 1, nil
	}

	ri.Logger.Sugar().Infow("Resuming from latest indexed block",
		zap.Uint64("latestIndexedBlock", latest.Number),
		zap.Uint64("currentTip", tip),
	)
	return latest.Number + 1, nil
}

// DeleteCorruptedState removes stored blocks, records and failures in [startBlock, endBlock].
// Resolved hashes cached for the orphaned block hashes are dropped as well.
func (ri *RuntimeIndexer) DeleteCorruptedState(ctx context.Context, startBlock uint64, endBlock uint64) error {
	orphaned := make([]string, 0)
	for n := startBlock; n <= endBlock; n++ {
		b, err := ri.Storage.GetBlockByNumber(ctx, n)
		if err != nil {
			return fmt.Errorf("failed to read block %d before deleting it: %w", n, err)
		}
		if b != nil {
			orphaned = append(orphaned, b.Hash)
		}
	}

	if err := ri.Storage.DeleteCorruptedState(ctx, startBlock, endBlock); err != nil {
		ri.Logger.Sugar().Errorw("Failed to delete corrupted state from storage",
			zap.Error(err),
			zap.Uint64("startBlock", startBlock),
			zap.Uint64("endBlock", endBlock),
		)
		return fmt.Errorf("failed to delete corrupted state from storage: %w", err)
	}
	if ri.Pipeline != nil && ri.Pipeline.Resolver != nil {
		for _, hash := range orphaned {
			if err := ri.Pipeline.Resolver.ForgetBlock(hash); err != nil {
				ri.Logger.Sugar().Warnw("Failed to forget resolved hashes", zap.String("blockHash", hash), zap.Error(err))
			}
		}
	}
	ri.Logger.Sugar().Infow("Deleted corrupted state",
		zap.Int("orphanedBlocks", len(orphaned)),
		zap.Uint64("startBlock", startBlock),
		zap.Uint64("endBlock", endBlock),
	)
	return nil
}

// IndexFromCheckpointToTip indexes every block between the resume height and the tip
// observed at start, returning the next height to index.
func (ri *RuntimeIndexer) IndexFromCheckpointToTip(ctx context.Context) (uint64, error) {
	start, err := ri.ResumeHeight(ctx)
	if err != nil {
		return 0, err
	}

	tip, err := ri.Pipeline.Fetcher.GetLatestBlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get current tip: %w", err)
	}
	ri.currentTip.Store(tip)

	if start > tip {
		ri.Logger.Sugar().Infow("Already at tip", zap.Uint64("currentTip", tip))
		return start, nil
	}

	ri.Logger.Sugar().Infow("Indexing from checkpoint to tip",
		zap.Uint64("startBlock", start),
		zap.Uint64("currentTip", tip),
		zap.Uint64("difference", tip-start),
	)

	progress := NewProgress(start, &ri.currentTip, ri.Logger)
	return ri.consume(ri.Pipeline.Ingest(ctx, pipeline.NewBoundedRange(start, tip)), start, progress)
}

// FollowTip indexes new blocks from next onwards until ctx is cancelled.
func (ri *RuntimeIndexer) FollowTip(ctx context.Context, next uint64) error {
	ri.Logger.Sugar().Infow("Processing new blocks", zap.Uint64("nextBlock", next))
	_, err := ri.consume(ri.Pipeline.Ingest(ctx, pipeline.NewOpenRange(next)), next, nil)
	if err == nil {
		err = ctx.Err()
	}
	return err
}

// consume drains an ingestion stream and returns the height after the last emitted block.
func (ri *RuntimeIndexer) consume(results <-chan *pipeline.IngestResult, start uint64, progress *Progress) (uint64, error) {
	next := start
	for res := range results {
		if res.Err != nil {
			ri.Logger.Sugar().Errorw("Failed to run pipeline for block",
				zap.Uint64("blockNumber", res.BlockHeight),
				zap.Error(res.Err),
			)
			return next, res.Err
		}
		next = res.BlockHeight + 1
		if res.BlockHeight > ri.currentTip.Load() {
			ri.currentTip.Store(res.BlockHeight)
		}
		if progress != nil && res.BlockHeight%100 == 0 {
			progress.UpdateAndPrintProgress(res.BlockHeight)
		}
	}
	return next, nil
}

type Progress struct {
	StartBlock         uint64
	LastBlockProcessed uint64
	CurrentTip         *atomic.Uint64
	StartTime          time.Time
	logger             *zap.Logger
}

func NewProgress(startBlock uint64, currentTip *atomic.Uint64, l *zap.Logger) *Progress {
	return &Progress{
		StartBlock:         startBlock,
		LastBlockProcessed: startBlock,
		CurrentTip:         currentTip,
		StartTime:          time.Now(),
		logger:             l,
	}
}

// Percent returns how much of [StartBlock, CurrentTip] has been processed.
func (p *Progress) Percent() float64 {
	tip := p.CurrentTip.Load()
	if tip <= p.StartBlock {
		return 100
	}
	return float64(p.LastBlockProcessed-p.StartBlock) / float64(tip-p.StartBlock) * 100
}

func (p *Progress) UpdateAndPrintProgress(lastBlockProcessed uint64) {
	p.LastBlockProcessed = lastBlockProcessed

	blocksProcessed := lastBlockProcessed - p.StartBlock
	currentTip := p.CurrentTip.Load()
	if blocksProcessed == 0 || currentTip <= lastBlockProcessed {
		return
	}
	blocksRemaining := currentTip - lastBlockProcessed

	runningAvg := time.Since(p.StartTime).Milliseconds() / int64(blocksProcessed)
	estTimeRemainingHours := float64(runningAvg*int64(blocksRemaining)) / 1000 / 60 / 60

	p.logger.Sugar().Infow("Progress",
		zap.String("percentComplete", fmt.Sprintf("%.2f", p.Percent())),
		zap.Uint64("blocksRemaining", blocksRemaining),
		zap.Float64("estimatedTimeRemaining (hrs)", estTimeRemainingHours),
		zap.Float64("avgBlockProcessTime (ms)", float64(runningAvg)),
		zap.Uint64("currentBlock", lastBlockProcessed),
	)
}
