package fetcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Layr-Labs/runtime-indexer/pkg/chain"
	"github.com/Layr-Labs/runtime-indexer/pkg/logger"
	"github.com/stretchr/testify/assert"
)

type flakyNode struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (n *flakyNode) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	return 100, nil
}

func (n *flakyNode) GetBlock(ctx context.Context, number uint64) (*chain.Block, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.calls <= n.failures {
		return nil, errors.New("connection reset by peer")
	}
	return &chain.Block{Number: number, Hash: "0xabc", SpecVersion: 950}, nil
}

type emptyNode struct {
	calls int
}

func (n *emptyNode) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	return 100, nil
}

func (n *emptyNode) GetBlock(ctx context.Context, number uint64) (*chain.Block, error) {
	n.calls++
	return nil, nil
}

func Test_Fetcher(t *testing.T) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	assert.Nil(t, err)

	backoff := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

	newFetcher := func(node chain.Node) (*Fetcher, *[]time.Duration) {
		slept := make([]time.Duration, 0)
		f := NewFetcher(node, &FetcherConfig{Backoff: backoff}, nil, l).
			WithSleepFunc(func(ctx context.Context, d time.Duration) error {
				slept = append(slept, d)
				return nil
			})
		return f, &slept
	}

	t.Run("Fetches on the first attempt", func(t *testing.T) {
		node := &flakyNode{}
		f, slept := newFetcher(node)

		fetched, err := f.FetchBlockWithRetries(context.Background(), 7)
		assert.Nil(t, err)
		assert.Equal(t, uint64(7), fetched.Block.Number)
		assert.Empty(t, *slept)
	})

	t.Run("Retries with exponential backoff", func(t *testing.T) {
		node := &flakyNode{failures: 2}
		f, slept := newFetcher(node)

		fetched, err := f.FetchBlockWithRetries(context.Background(), 8)
		assert.Nil(t, err)
		assert.Equal(t, uint64(8), fetched.Block.Number)
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *slept)
		assert.Equal(t, 3, node.calls)
	})

	t.Run("Exhausted retries surface a BlockFetchFailure", func(t *testing.T) {
		node := &flakyNode{failures: 100}
		f, slept := newFetcher(node)

		fetched, err := f.FetchBlockWithRetries(context.Background(), 9)
		assert.Nil(t, fetched)

		var failure *BlockFetchFailure
		assert.True(t, errors.As(err, &failure))
		assert.Equal(t, uint64(9), failure.BlockNumber)
		assert.Equal(t, 4, failure.Attempts)
		assert.ErrorContains(t, err, "connection reset by peer")
		assert.Equal(t, backoff, *slept)
	})

	t.Run("A missing block is a fetch failure, not a panic", func(t *testing.T) {
		node := &emptyNode{}
		f, slept := newFetcher(node)

		fetched, err := f.FetchBlock(context.Background(), 11)
		assert.Nil(t, fetched)
		assert.True(t, errors.Is(err, ErrNoBlockReturned))

		fetched, err = f.FetchBlockWithRetries(context.Background(), 11)
		assert.Nil(t, fetched)
		var failure *BlockFetchFailure
		assert.True(t, errors.As(err, &failure))
		assert.Equal(t, uint64(11), failure.BlockNumber)
		assert.Equal(t, 4, failure.Attempts)
		assert.True(t, errors.Is(err, ErrNoBlockReturned))
		assert.Equal(t, backoff, *slept)
		assert.Equal(t, 5, node.calls)
	})

	t.Run("Cancellation stops retrying without a fetch failure", func(t *testing.T) {
		node := &flakyNode{failures: 100}
		ctx, cancel := context.WithCancel(context.Background())
		f := NewFetcher(node, &FetcherConfig{Backoff: backoff}, nil, l).
			WithSleepFunc(func(ctx context.Context, d time.Duration) error {
				cancel()
				return ctx.Err()
			})

		_, err := f.FetchBlockWithRetries(ctx, 10)
		assert.True(t, errors.Is(err, context.Canceled))
		var failure *BlockFetchFailure
		assert.False(t, errors.As(err, &failure))
		assert.Equal(t, 1, node.calls)
	})

	t.Run("Real sleep honours the context", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		assert.True(t, errors.Is(contextSleep(ctx, time.Minute), context.DeadlineExceeded))
		assert.Nil(t, contextSleep(context.Background(), time.Millisecond))
	})
}
