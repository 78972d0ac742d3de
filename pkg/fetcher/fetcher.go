// Package fetcher retrieves blocks from the node, retrying transient failures with
// exponential backoff.
package fetcher

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Layr-Labs/runtime-indexer/pkg/chain"
	"github.com/Layr-Labs/runtime-indexer/pkg/metrics"
	"github.com/Layr-Labs/runtime-indexer/pkg/metrics/metricsTypes"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var defaultBackoff = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
	32 * time.Second,
	64 * time.Second,
}

type FetcherConfig struct {
	// Backoff holds the wait before each retry; its length is the retry limit
	Backoff []time.Duration
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func contextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ErrNoBlockReturned is reported when the node answers without an error but also without a block.
var ErrNoBlockReturned = errors.New("node returned no block")

// BlockFetchFailure is returned once every retry for a height has failed.
type BlockFetchFailure struct {
	BlockNumber uint64
	Attempts    int
	Err         error
}

func (e *BlockFetchFailure) Error() string {
	return fmt.Sprintf("failed to fetch block %d after %d attempts: %v", e.BlockNumber, e.Attempts, e.Err)
}

func (e *BlockFetchFailure) Unwrap() error {
	return e.Err
}

type Fetcher struct {
	Node          chain.Node
	Logger        *zap.Logger
	FetcherConfig *FetcherConfig

	metricsSink *metrics.MetricsSink
	sleep       SleepFunc
}

func NewFetcher(node chain.Node, cfg *FetcherConfig, ms *metrics.MetricsSink, l *zap.Logger) *Fetcher {
	if cfg == nil {
		cfg = &FetcherConfig{}
	}
	if cfg.Backoff == nil {
		cfg.Backoff = defaultBackoff
	}
	if ms == nil {
		ms, _ = metrics.NewMetricsSink(&metrics.MetricsSinkConfig{}, nil)
	}
	l.Sugar().Infow("Created fetcher", zap.Int("retries", len(cfg.Backoff)))
	return &Fetcher{
		Node:          node,
		Logger:        l,
		FetcherConfig: cfg,
		metricsSink:   ms,
		sleep:         contextSleep,
	}
}

// WithSleepFunc replaces the wait used between retries.
func (f *Fetcher) WithSleepFunc(fn SleepFunc) *Fetcher {
	f.sleep = fn
	return f
}

type FetchedBlock struct {
	Block     *chain.Block
	FetchedAt time.Time
}

func (f *Fetcher) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	n, err := f.Node.GetLatestBlockNumber(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to get latest block number")
	}
	return n, nil
}

// FetchBlock makes a single attempt at fetching blockNumber.
func (f *Fetcher) FetchBlock(ctx context.Context, blockNumber uint64) (*FetchedBlock, error) {
	start := time.Now()
	block, err := f.Node.GetBlock(ctx, blockNumber)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get block %d", blockNumber)
	}
	if block == nil {
		return nil, errors.Wrapf(ErrNoBlockReturned, "failed to get block %d", blockNumber)
	}
	if block.Number != blockNumber {
		return nil, fmt.Errorf("node returned block %d when asked for %d", block.Number, blockNumber)
	}
	_ = f.metricsSink.Timing(metricsTypes.Metric_Timing_BlockFetchDuration, time.Since(start), nil)
	return &FetchedBlock{Block: block, FetchedAt: time.Now()}, nil
}

// FetchBlockWithRetries fetches blockNumber, retrying after each configured backoff.
// Exhausting the retries yields a *BlockFetchFailure; a cancelled ctx yields ctx.Err().
func (f *Fetcher) FetchBlockWithRetries(ctx context.Context, blockNumber uint64) (*FetchedBlock, error) {
	var lastErr error
	attempts := 0
	for i := 0; i <= len(f.FetcherConfig.Backoff); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		attempts++
		fetched, err := f.FetchBlock(ctx, blockNumber)
		if err == nil {
			if i > 0 {
				f.Logger.Sugar().Infow("Successfully fetched block after retries",
					zap.Uint64("blockNumber", blockNumber),
					zap.Int("retries", i),
				)
			}
			return fetched, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if i == len(f.FetcherConfig.Backoff) {
			break
		}

		wait := f.FetcherConfig.Backoff[i]
		f.Logger.Sugar().Infow("Failed to fetch block, retrying",
			zap.Uint64("blockNumber", blockNumber),
			zap.Duration("sleepTime", wait),
			zap.Error(err),
		)
		_ = f.metricsSink.Incr(metricsTypes.Metric_Incr_FetchRetry, []metricsTypes.MetricsLabel{
			{Name: "attempt", Value: strconv.Itoa(i + 1)},
		}, 1)
		if err := f.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	f.Logger.Sugar().Errorw("Failed to fetch block, exhausted all retries",
		zap.Uint64("blockNumber", blockNumber),
		zap.Int("attempts", attempts),
		zap.Error(lastErr),
	)
	return nil, &BlockFetchFailure{BlockNumber: blockNumber, Attempts: attempts, Err: lastErr}
}
