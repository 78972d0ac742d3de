package chain

import (
	"fmt"

	"github.com/Layr-Labs/runtime-indexer/pkg/schemaRegistry"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// BlockContext is a Context backed by a fetched Block and a field decoder.
type BlockContext struct {
	block   *Block
	decoder FieldDecoder
}

func NewBlockContext(block *Block, decoder FieldDecoder) *BlockContext {
	return &BlockContext{
		block:   block,
		decoder: decoder,
	}
}

func (bc *BlockContext) BlockHeight() uint64 {
	return bc.block.Number
}

func (bc *BlockContext) BlockHash() string {
	return bc.block.Hash
}

func (bc *BlockContext) SpecVersion() uint32 {
	return bc.block.SpecVersion
}

func (bc *BlockContext) GetCallHash(name string) (schemaRegistry.ContentHash, error) {
	h, ok := bc.block.CallHashes[name]
	if !ok {
		return "", fmt.Errorf("%w: call '%s' at block %d", ErrUnknownItem, name, bc.block.Number)
	}
	return h, nil
}

func (bc *BlockContext) GetEventHash(name string) (schemaRegistry.ContentHash, error) {
	h, ok := bc.block.EventHashes[name]
	if !ok {
		return "", fmt.Errorf("%w: event '%s' at block %d", ErrUnknownItem, name, bc.block.Number)
	}
	return h, nil
}

func (bc *BlockContext) DecodeFields(payload []byte, fields []schemaRegistry.Field) (*orderedmap.OrderedMap[string, any], error) {
	return bc.decoder.DecodeFields(payload, fields)
}
