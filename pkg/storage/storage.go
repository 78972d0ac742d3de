// Package storage defines the persisted shape of ingested blocks.
package storage

import (
	"context"
	"time"
)

// Block is the checkpoint row written once every item of the block has been handled.
type Block struct {
	Number       uint64 `gorm:"primaryKey"`
	Hash         string
	ParentHash   string
	SpecVersion  uint32
	OutcomeRoot  string
	ItemCount    int
	DecodedCount int
	FailureCount int
	CreatedAt    time.Time
}

type DecodedRecord struct {
	BlockNumber    uint64 `gorm:"primaryKey"`
	ItemIndex      uint32 `gorm:"primaryKey"`
	ItemType       string
	Kind           string
	Hash           string
	SpecVersion    uint32
	ExtrinsicIndex *uint32
	// Fields is a JSON object whose key order follows the variant's field schema
	Fields    string `gorm:"type:jsonb"`
	CreatedAt time.Time
}

type DispatchFailure struct {
	BlockNumber    uint64  `gorm:"primaryKey" csv:"block_number"`
	ItemIndex      uint32  `gorm:"primaryKey" csv:"item_index"`
	ItemType       string  `csv:"item_type"`
	Kind           string  `csv:"kind"`
	Hash           string  `csv:"hash"`
	SpecVersion    uint32  `csv:"spec_version"`
	ExtrinsicIndex *uint32 `csv:"-"`
	Reason         string  `csv:"reason"`
	Message        string  `csv:"message"`
	// Payload is the 0x-prefixed raw item bytes, kept for diagnostics
	Payload   string    `csv:"payload"`
	CreatedAt time.Time `csv:"-"`
}

// BlockData is everything written for a single block, atomically.
type BlockData struct {
	Block    *Block
	Records  []*DecodedRecord
	Failures []*DispatchFailure
}

type FailureCount struct {
	Reason string `csv:"reason"`
	Kind   string `csv:"kind"`
	Count  int64  `csv:"count"`
}

type FailureFilter struct {
	Reason    string
	Kind      string
	FromBlock uint64
	Limit     int
}

type BlockStore interface {
	InsertBlock(ctx context.Context, data *BlockData) error
	GetLatestBlock(ctx context.Context) (*Block, error)
	GetBlockByNumber(ctx context.Context, number uint64) (*Block, error)
	GetRecordsForBlock(ctx context.Context, number uint64) ([]*DecodedRecord, error)
	GetFailureCounts(ctx context.Context) ([]*FailureCount, error)
	ListFailures(ctx context.Context, filter *FailureFilter) ([]*DispatchFailure, error)
	DeleteCorruptedState(ctx context.Context, startBlockNumber uint64, endBlockNumber uint64) error
}
