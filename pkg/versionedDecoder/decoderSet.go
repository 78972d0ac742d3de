package versionedDecoder

import (
	"github.com/Layr-Labs/runtime-indexer/pkg/schemaRegistry"
)

// DecoderSet holds one decoder per registry variant, grouped by kind in the
// registry's ascending version order.
type DecoderSet struct {
	registry *schemaRegistry.SchemaRegistry
	decoders map[schemaRegistry.ItemKind][]*VersionedDecoder
}

// NewDecoderSet builds decoders for every variant of reg. overrides replaces the decode
// function for specific kinds; all others decode with their field schema.
func NewDecoderSet(reg *schemaRegistry.SchemaRegistry, overrides map[schemaRegistry.ItemKind]DecodeFunc) *DecoderSet {
	decoders := make(map[schemaRegistry.ItemKind][]*VersionedDecoder, reg.Len())
	for _, kind := range reg.Kinds() {
		fn := overrides[kind]
		variants := reg.VariantsFor(kind)
		list := make([]*VersionedDecoder, 0, len(variants))
		for _, v := range variants {
			list = append(list, NewVersionedDecoder(v, fn))
		}
		decoders[kind] = list
	}
	return &DecoderSet{
		registry: reg,
		decoders: decoders,
	}
}

func (ds *DecoderSet) Registry() *schemaRegistry.SchemaRegistry {
	return ds.registry
}

// DecodersFor returns the decoders of kind ascending by version. Callers must not modify the slice.
func (ds *DecoderSet) DecodersFor(kind schemaRegistry.ItemKind) []*VersionedDecoder {
	return ds.decoders[kind]
}
