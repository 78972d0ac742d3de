// Package versionedDecoder provides the per-variant decode unit. A decoder applies to a
// payload only when the payload's resolved content hash equals the variant's hash.
package versionedDecoder

import (
	"fmt"

	"github.com/Layr-Labs/runtime-indexer/pkg/chain"
	"github.com/Layr-Labs/runtime-indexer/pkg/schemaRegistry"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DecodeFunc turns a payload into ordered fields for one variant.
type DecodeFunc func(decoder chain.FieldDecoder, variant *schemaRegistry.SchemaVariant, payload []byte) (*orderedmap.OrderedMap[string, any], error)

// DecodeWithFieldSchema decodes the payload as the variant's field list.
func DecodeWithFieldSchema(decoder chain.FieldDecoder, variant *schemaRegistry.SchemaVariant, payload []byte) (*orderedmap.OrderedMap[string, any], error) {
	return decoder.DecodeFields(payload, variant.Fields)
}

// PreconditionError is returned by Decode when called for a hash the decoder does not match.
// Reaching it is a programming error in the caller.
type PreconditionError struct {
	Expected schemaRegistry.ContentHash
	Actual   schemaRegistry.ContentHash
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("decode called for hash %s on decoder for %s", e.Actual.Short(), e.Expected.Short())
}

type VersionedDecoder struct {
	variant  *schemaRegistry.SchemaVariant
	decodeFn DecodeFunc
}

func NewVersionedDecoder(variant *schemaRegistry.SchemaVariant, fn DecodeFunc) *VersionedDecoder {
	if fn == nil {
		fn = DecodeWithFieldSchema
	}
	return &VersionedDecoder{
		variant:  variant,
		decodeFn: fn,
	}
}

func (vd *VersionedDecoder) Variant() *schemaRegistry.SchemaVariant {
	return vd.variant
}

// Matches is exact hash equality, nothing else.
func (vd *VersionedDecoder) Matches(hash schemaRegistry.ContentHash) bool {
	return vd.variant.Hash == hash
}

// Decode decodes payload, which must belong to an item whose resolved hash is hash.
func (vd *VersionedDecoder) Decode(decoder chain.FieldDecoder, hash schemaRegistry.ContentHash, payload []byte) (*orderedmap.OrderedMap[string, any], error) {
	if !vd.Matches(hash) {
		return nil, &PreconditionError{Expected: vd.variant.Hash, Actual: hash}
	}
	return vd.decodeFn(decoder, vd.variant, payload)
}
