package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Layr-Labs/runtime-indexer/pkg/callDispatcher"
	"github.com/Layr-Labs/runtime-indexer/pkg/metrics/metricsTypes"
	"go.uber.org/zap"
)

const defaultPollInterval = 6 * time.Second

// BlockRange is an inclusive range of heights. A nil End follows the chain tip.
type BlockRange struct {
	Start uint64
	End   *uint64
}

func NewBoundedRange(start uint64, end uint64) BlockRange {
	return BlockRange{Start: start, End: &end}
}

func NewOpenRange(start uint64) BlockRange {
	return BlockRange{Start: start}
}

func (r BlockRange) IsBounded() bool {
	return r.End != nil
}

// IngestResult is one emitted block, or the error that stopped ingestion at BlockHeight.
type IngestResult struct {
	BlockHeight uint64
	Block       *ProcessedBlock
	Err         error
}

func (r *IngestResult) Outcomes() []*callDispatcher.DispatchOutcome {
	if r.Block == nil {
		return nil
	}
	return r.Block.Outcomes
}

func (p *Pipeline) pollInterval() time.Duration {
	if p.globalConfig.PipelineConfig.PollInterval > 0 {
		return p.globalConfig.PipelineConfig.PollInterval
	}
	return defaultPollInterval
}

// Ingest processes the range with a pool of workers and yields emitted blocks in height
// order. The channel is closed when a bounded range completes, when ctx is cancelled,
// or right after a result carrying an error (a *fetcher.BlockFetchFailure or a sink
// error). Blocks are never skipped.
func (p *Pipeline) Ingest(ctx context.Context, r BlockRange) <-chan *IngestResult {
	out := make(chan *IngestResult)
	go p.ingest(ctx, r, out)
	return out
}

func (p *Pipeline) ingest(parent context.Context, r BlockRange, out chan<- *IngestResult) {
	defer close(out)
	if r.End != nil && *r.End < r.Start {
		return
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	workers := p.workers()
	heights := make(chan uint64)
	results := make(chan *IngestResult, workers)
	// bounds how far workers may run ahead of the next height to emit
	window := make(chan struct{}, workers*2)

	go func() {
		defer close(heights)
		p.produceHeights(ctx, r, heights, window)
	}()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for h := range heights {
				res := p.processHeight(ctx, h)
				select {
				case results <- res:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	pending := make(map[uint64]*IngestResult)
	next := r.Start
	for res := range results {
		pending[res.BlockHeight] = res
		for {
			ready, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)

			// cancellation is honoured only between blocks
			if parent.Err() != nil {
				return
			}
			if ready.Err == nil {
				if err := p.Emit(ctx, ready.Block); err != nil {
					ready.Err = err
				}
			}
			if ready.Err != nil {
				if errors.Is(ready.Err, context.Canceled) && parent.Err() != nil {
					return
				}
				p.Logger.Sugar().Errorw("Stopping ingestion at failed block",
					zap.Uint64("blockNumber", ready.BlockHeight),
					zap.Error(ready.Err),
				)
				select {
				case out <- ready:
				case <-parent.Done():
				}
				return
			}

			select {
			case out <- ready:
			case <-parent.Done():
				return
			}
			<-window
			_ = p.metricsSink.Gauge(metricsTypes.Metric_Gauge_PipelineQueueLength, float64(len(pending)), nil)

			if r.End != nil && next == *r.End {
				return
			}
			next++
		}
	}
}

func (p *Pipeline) processHeight(ctx context.Context, height uint64) *IngestResult {
	fetched, err := p.Fetcher.FetchBlockWithRetries(ctx, height)
	if err != nil {
		return &IngestResult{BlockHeight: height, Err: err}
	}
	pb, err := p.ProcessFetchedBlock(ctx, fetched)
	if err != nil {
		return &IngestResult{BlockHeight: height, Err: err}
	}
	return &IngestResult{BlockHeight: height, Block: pb}
}

// produceHeights feeds heights in ascending order, waiting for window capacity before each.
func (p *Pipeline) produceHeights(ctx context.Context, r BlockRange, heights chan<- uint64, window chan struct{}) {
	send := func(h uint64) bool {
		select {
		case window <- struct{}{}:
		case <-ctx.Done():
			return false
		}
		select {
		case heights <- h:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if r.End != nil {
		for h := r.Start; h <= *r.End; h++ {
			if !send(h) {
				return
			}
			if h == *r.End {
				return
			}
		}
		return
	}

	next := r.Start
	for {
		tip, err := p.Fetcher.GetLatestBlockNumber(ctx)
		if err != nil {
			p.Logger.Sugar().Warnw("Failed to get chain tip", zap.Error(err))
		}
		for err == nil && next <= tip {
			if !send(next) {
				return
			}
			next++
		}

		t := time.NewTimer(p.pollInterval())
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}
