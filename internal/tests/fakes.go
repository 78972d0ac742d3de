package tests

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/Layr-Labs/runtime-indexer/pkg/chain"
	"github.com/Layr-Labs/runtime-indexer/pkg/storage"
)

// InMemoryBlockStore is a storage.BlockStore for tests that do not need postgres.
type InMemoryBlockStore struct {
	mu     sync.Mutex
	blocks map[uint64]*storage.BlockData
}

func NewInMemoryBlockStore() *InMemoryBlockStore {
	return &InMemoryBlockStore{blocks: make(map[uint64]*storage.BlockData)}
}

func (s *InMemoryBlockStore) InsertBlock(ctx context.Context, data *storage.BlockData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[data.Block.Number] = data
	return nil
}

func (s *InMemoryBlockStore) heights() []uint64 {
	heights := make([]uint64, 0, len(s.blocks))
	for h := range s.blocks {
		heights = append(heights, h)
	}
	slices.Sort(heights)
	return heights
}

// Heights returns the stored block numbers in ascending order.
func (s *InMemoryBlockStore) Heights() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heights()
}

func (s *InMemoryBlockStore) GetLatestBlock(ctx context.Context) (*storage.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	heights := s.heights()
	if len(heights) == 0 {
		return nil, nil
	}
	return s.blocks[heights[len(heights)-1]].Block, nil
}

func (s *InMemoryBlockStore) GetBlockByNumber(ctx context.Context, number uint64) (*storage.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if data, ok := s.blocks[number]; ok {
		return data.Block, nil
	}
	return nil, nil
}

func (s *InMemoryBlockStore) GetRecordsForBlock(ctx context.Context, number uint64) ([]*storage.DecodedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if data, ok := s.blocks[number]; ok {
		return data.Records, nil
	}
	return []*storage.DecodedRecord{}, nil
}

func (s *InMemoryBlockStore) allFailures() []*storage.DispatchFailure {
	failures := make([]*storage.DispatchFailure, 0)
	for _, h := range s.heights() {
		failures = append(failures, s.blocks[h].Failures...)
	}
	return failures
}

func (s *InMemoryBlockStore) GetFailureCounts(ctx context.Context) ([]*storage.FailureCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byKey := make(map[[2]string]int64)
	for _, f := range s.allFailures() {
		byKey[[2]string{f.Reason, f.Kind}]++
	}
	counts := make([]*storage.FailureCount, 0, len(byKey))
	for k, c := range byKey {
		counts = append(counts, &storage.FailureCount{Reason: k[0], Kind: k[1], Count: c})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		if counts[i].Reason != counts[j].Reason {
			return counts[i].Reason < counts[j].Reason
		}
		return counts[i].Kind < counts[j].Kind
	})
	return counts, nil
}

func (s *InMemoryBlockStore) ListFailures(ctx context.Context, filter *storage.FailureFilter) ([]*storage.DispatchFailure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*storage.DispatchFailure, 0)
	for _, f := range s.allFailures() {
		if filter != nil {
			if filter.Reason != "" && f.Reason != filter.Reason {
				continue
			}
			if filter.Kind != "" && f.Kind != filter.Kind {
				continue
			}
			if f.BlockNumber < filter.FromBlock {
				continue
			}
			if filter.Limit > 0 && len(out) >= filter.Limit {
				break
			}
		}
		out = append(out, f)
	}
	return out, nil
}

func (s *InMemoryBlockStore) DeleteCorruptedState(ctx context.Context, startBlockNumber uint64, endBlockNumber uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h := range s.blocks {
		if h >= startBlockNumber && h <= endBlockNumber {
			delete(s.blocks, h)
		}
	}
	return nil
}

// FakeNode serves blocks built by BlockFunc up to Tip.
type FakeNode struct {
	Tip       atomic.Uint64
	BlockFunc func(number uint64) *chain.Block

	mu          sync.Mutex
	failHeights map[uint64]error
}

func NewFakeNode(tip uint64, fn func(number uint64) *chain.Block) *FakeNode {
	n := &FakeNode{BlockFunc: fn, failHeights: make(map[uint64]error)}
	n.Tip.Store(tip)
	return n
}

// FailAt makes every fetch of number return err.
func (n *FakeNode) FailAt(number uint64, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failHeights[number] = err
}

func (n *FakeNode) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	return n.Tip.Load(), nil
}

func (n *FakeNode) GetBlock(ctx context.Context, number uint64) (*chain.Block, error) {
	n.mu.Lock()
	err := n.failHeights[number]
	n.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if number > n.Tip.Load() {
		return nil, fmt.Errorf("block %d not produced yet", number)
	}
	return n.BlockFunc(number), nil
}
