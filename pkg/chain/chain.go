// Package chain defines what the decoding core needs from a chain connection:
// block-scoped hash lookups, a generic field decoder, and the raw items of a block.
package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/Layr-Labs/runtime-indexer/pkg/schemaRegistry"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ErrUnknownItem is returned when the chain has no metadata entry for a call or event name.
var ErrUnknownItem = errors.New("unknown item")

// FieldDecoder decodes a payload against an ordered field schema.
type FieldDecoder interface {
	DecodeFields(payload []byte, fields []schemaRegistry.Field) (*orderedmap.OrderedMap[string, any], error)
}

// Context is the view of the chain scoped to a single block. Implementations must be
// safe for concurrent use; hash lookups are pure functions of (block, name).
type Context interface {
	FieldDecoder
	BlockHeight() uint64
	BlockHash() string
	SpecVersion() uint32
	GetCallHash(name string) (schemaRegistry.ContentHash, error)
	GetEventHash(name string) (schemaRegistry.ContentHash, error)
}

// GetItemHash dispatches to GetCallHash or GetEventHash.
func GetItemHash(ctx Context, itemType schemaRegistry.ItemType, name string) (schemaRegistry.ContentHash, error) {
	switch itemType {
	case schemaRegistry.ItemType_Call:
		return ctx.GetCallHash(name)
	case schemaRegistry.ItemType_Event:
		return ctx.GetEventHash(name)
	}
	return "", fmt.Errorf("%w: unsupported item type '%s'", ErrUnknownItem, itemType)
}

// RawEnvelope is an undecoded call or event as extracted from a block.
type RawEnvelope struct {
	// Index is the position of the item within the block, calls and events share one sequence
	Index uint32
	Type  schemaRegistry.ItemType
	Name  string
	// ExtrinsicIndex links an event to the extrinsic that emitted it
	ExtrinsicIndex *uint32
	Payload        []byte
}

func (e *RawEnvelope) Kind() schemaRegistry.ItemKind {
	return schemaRegistry.ItemKind{Type: e.Type, Name: e.Name}
}

// Block is a fetched block with its runtime version, item hashes and raw items.
type Block struct {
	Number      uint64
	Hash        string
	ParentHash  string
	SpecVersion uint32
	Items       []*RawEnvelope
	CallHashes  map[string]schemaRegistry.ContentHash
	EventHashes map[string]schemaRegistry.ContentHash
}

// Node is the block source.
type Node interface {
	GetLatestBlockNumber(ctx context.Context) (uint64, error)
	GetBlock(ctx context.Context, number uint64) (*Block, error)
}
