// Package callDispatcher routes raw calls and events to the one decoder whose variant
// hash matches the item's hash at its block.
package callDispatcher

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/Layr-Labs/runtime-indexer/pkg/chain"
	"github.com/Layr-Labs/runtime-indexer/pkg/schemaRegistry"
	"github.com/Layr-Labs/runtime-indexer/pkg/versionedDecoder"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"go.uber.org/zap"
)

var (
	ErrNoVariantsForKind = errors.New("no variants registered for kind")
	ErrHashNotRegistered = errors.New("resolved hash has no registered variant")
)

// HashResolver is the part of hashResolver.HashResolver the dispatcher needs.
type HashResolver interface {
	CurrentHash(ctx chain.Context, itemType schemaRegistry.ItemType, name string) (schemaRegistry.ContentHash, error)
}

type CallDispatcher struct {
	resolver  HashResolver
	overrides map[schemaRegistry.ItemKind]versionedDecoder.DecodeFunc
	logger    *zap.Logger

	// swapped as a unit so a dispatch never mixes two registries
	decoders atomic.Pointer[versionedDecoder.DecoderSet]
}

func NewCallDispatcher(
	reg *schemaRegistry.SchemaRegistry,
	resolver HashResolver,
	overrides map[schemaRegistry.ItemKind]versionedDecoder.DecodeFunc,
	l *zap.Logger,
) *CallDispatcher {
	cd := &CallDispatcher{
		resolver:  resolver,
		overrides: overrides,
		logger:    l,
	}
	cd.decoders.Store(versionedDecoder.NewDecoderSet(reg, overrides))
	return cd
}

func (cd *CallDispatcher) Registry() *schemaRegistry.SchemaRegistry {
	return cd.decoders.Load().Registry()
}

// SwapRegistry installs a new registry for subsequent dispatches. Dispatches already
// running finish against the registry they started with.
func (cd *CallDispatcher) SwapRegistry(reg *schemaRegistry.SchemaRegistry) *schemaRegistry.SchemaRegistry {
	previous := cd.decoders.Swap(versionedDecoder.NewDecoderSet(reg, cd.overrides))

	cd.logger.Sugar().Infow("Swapped schema registry",
		zap.Int("kinds", reg.Len()),
		zap.Int("variants", reg.VariantCount()),
		zap.String("source", reg.Info().Source),
	)
	return previous.Registry()
}

// Dispatch resolves the envelope's hash, finds the matching variant and decodes it.
// Per-item failures are returned as outcome data; Dispatch never panics.
func (cd *CallDispatcher) Dispatch(env *chain.RawEnvelope, ctx chain.Context) *DispatchOutcome {
	decoders := cd.decoders.Load()
	outcome := &DispatchOutcome{
		Envelope:    env,
		BlockHeight: ctx.BlockHeight(),
		SpecVersion: ctx.SpecVersion(),
	}

	hash, err := cd.resolver.CurrentHash(ctx, env.Type, env.Name)
	if err != nil {
		outcome.Kind = OutcomeKind_UnknownCallKind
		outcome.Err = err
		return outcome
	}
	outcome.Hash = hash

	candidates := decoders.DecodersFor(env.Kind())
	if len(candidates) == 0 {
		outcome.Kind = OutcomeKind_NoVariantForVersion
		outcome.Err = fmt.Errorf("%w: %s", ErrNoVariantsForKind, env.Kind())
		return outcome
	}

	for _, d := range candidates {
		if !d.Matches(hash) {
			continue
		}
		fields, err := safeDecode(d, ctx, hash, env.Payload)
		if err != nil {
			outcome.Kind = OutcomeKind_DecodeError
			outcome.Err = err
			return outcome
		}
		outcome.Kind = OutcomeKind_Decoded
		outcome.Record = &DecodedRecord{
			Kind:        env.Kind(),
			Hash:        hash,
			SpecVersion: ctx.SpecVersion(),
			Fields:      fields,
		}
		return outcome
	}

	outcome.Kind = OutcomeKind_NoVariantForVersion
	outcome.Err = fmt.Errorf("%w: %s hash %s at spec version %d", ErrHashNotRegistered, env.Kind(), hash.Short(), ctx.SpecVersion())
	return outcome
}

func safeDecode(d *versionedDecoder.VersionedDecoder, ctx chain.Context, hash schemaRegistry.ContentHash, payload []byte) (fields *orderedmap.OrderedMap[string, any], err error) {
	defer func() {
		if r := recover(); r != nil {
			fields = nil
			err = fmt.Errorf("decoder panicked: %v", r)
		}
	}()
	return d.Decode(ctx, hash, payload)
}
