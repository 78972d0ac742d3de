// Package hashResolver answers "what is the content hash of this call or event at this block".
package hashResolver

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Layr-Labs/runtime-indexer/pkg/chain"
	"github.com/Layr-Labs/runtime-indexer/pkg/metrics"
	"github.com/Layr-Labs/runtime-indexer/pkg/metrics/metricsTypes"
	"github.com/Layr-Labs/runtime-indexer/pkg/schemaRegistry"
	"go.uber.org/zap"
)

// ErrUnknownCallKind means the chain has no metadata for the requested name at the block.
var ErrUnknownCallKind = errors.New("unknown call kind")

type memoKey struct {
	itemType schemaRegistry.ItemType
	name     string
}

// HashResolver resolves content hashes through a block-scoped chain context.
// Results are memoised per (block hash, item type, name) so retries observe the same
// answer, and optionally written through to a persistent HashCache.
type HashResolver struct {
	logger      *zap.Logger
	cache       HashCache
	metricsSink *metrics.MetricsSink

	mu   sync.RWMutex
	memo map[string]map[memoKey]schemaRegistry.ContentHash
}

// NewHashResolver creates a resolver. cache may be nil.
func NewHashResolver(cache HashCache, l *zap.Logger) *HashResolver {
	return &HashResolver{
		logger: l,
		cache:  cache,
		memo:   make(map[string]map[memoKey]schemaRegistry.ContentHash),
	}
}

// WithMetricsSink records persistent cache hits and misses on ms.
func (hr *HashResolver) WithMetricsSink(ms *metrics.MetricsSink) *HashResolver {
	hr.metricsSink = ms
	return hr
}

func (hr *HashResolver) incr(name string) {
	if hr.metricsSink == nil {
		return
	}
	_ = hr.metricsSink.Incr(name, nil, 1)
}

func cacheKey(blockHash string, key memoKey) string {
	return fmt.Sprintf("%s/%s/%s", blockHash, key.itemType, key.name)
}

func (hr *HashResolver) lookupMemo(blockHash string, key memoKey) (schemaRegistry.ContentHash, bool) {
	hr.mu.RLock()
	defer hr.mu.RUnlock()
	h, ok := hr.memo[blockHash][key]
	return h, ok
}

func (hr *HashResolver) storeMemo(blockHash string, key memoKey, hash schemaRegistry.ContentHash) {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	block, ok := hr.memo[blockHash]
	if !ok {
		block = make(map[memoKey]schemaRegistry.ContentHash)
		hr.memo[blockHash] = block
	}
	block[key] = hash
}

// CurrentHash returns the content hash of name at the block ctx is scoped to.
func (hr *HashResolver) CurrentHash(ctx chain.Context, itemType schemaRegistry.ItemType, name string) (schemaRegistry.ContentHash, error) {
	blockHash := ctx.BlockHash()
	key := memoKey{itemType: itemType, name: name}

	if h, ok := hr.lookupMemo(blockHash, key); ok {
		return h, nil
	}

	if hr.cache != nil {
		h, found, err := hr.cache.Get(cacheKey(blockHash, key))
		if err != nil {
			hr.logger.Sugar().Warnw("Failed to read hash cache", zap.Error(err))
		} else if found {
			hr.incr(metricsTypes.Metric_Incr_HashCacheHit)
			hr.storeMemo(blockHash, key, h)
			return h, nil
		} else {
			hr.incr(metricsTypes.Metric_Incr_HashCacheMiss)
		}
	}

	h, err := chain.GetItemHash(ctx, itemType, name)
	if err != nil {
		if errors.Is(err, chain.ErrUnknownItem) {
			return "", fmt.Errorf("%w: %w", ErrUnknownCallKind, err)
		}
		return "", err
	}

	hr.storeMemo(blockHash, key, h)
	if hr.cache != nil {
		if err := hr.cache.Put(cacheKey(blockHash, key), h); err != nil {
			hr.logger.Sugar().Warnw("Failed to write hash cache", zap.Error(err))
		}
	}
	return h, nil
}

// ReleaseBlock forgets the in-memory answers for a block once it has been emitted.
// Persisted entries are kept.
func (hr *HashResolver) ReleaseBlock(blockHash string) {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	delete(hr.memo, blockHash)
}

// ForgetBlock drops both in-memory and persisted answers for a block that is no
// longer canonical.
func (hr *HashResolver) ForgetBlock(blockHash string) error {
	hr.ReleaseBlock(blockHash)
	if hr.cache == nil {
		return nil
	}
	return hr.cache.DeleteBlock(blockHash)
}

// MemoizedBlocks is the number of blocks currently holding in-memory answers.
func (hr *HashResolver) MemoizedBlocks() int {
	hr.mu.RLock()
	defer hr.mu.RUnlock()
	return len(hr.memo)
}
