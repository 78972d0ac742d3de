package callDispatcher

import (
	"github.com/Layr-Labs/runtime-indexer/pkg/chain"
	"github.com/Layr-Labs/runtime-indexer/pkg/schemaRegistry"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

type OutcomeKind string

const (
	OutcomeKind_Decoded             OutcomeKind = "decoded"
	OutcomeKind_UnknownCallKind     OutcomeKind = "unknown_call_kind"
	OutcomeKind_NoVariantForVersion OutcomeKind = "no_variant_for_version"
	OutcomeKind_DecodeError         OutcomeKind = "decode_error"
)

func (k OutcomeKind) String() string {
	return string(k)
}

var AllOutcomeKinds = []OutcomeKind{
	OutcomeKind_Decoded,
	OutcomeKind_UnknownCallKind,
	OutcomeKind_NoVariantForVersion,
	OutcomeKind_DecodeError,
}

// DecodedRecord is a payload successfully decoded against a matched variant.
type DecodedRecord struct {
	Kind        schemaRegistry.ItemKind
	Hash        schemaRegistry.ContentHash
	SpecVersion uint32
	Fields      *orderedmap.OrderedMap[string, any]
}

// DispatchOutcome is the result of dispatching one envelope. Exactly one of Record
// or Err is set. Outcomes are never modified after Dispatch returns them.
type DispatchOutcome struct {
	Envelope    *chain.RawEnvelope
	BlockHeight uint64
	SpecVersion uint32
	Kind        OutcomeKind
	// Hash is the resolved content hash, empty when resolution failed
	Hash   schemaRegistry.ContentHash
	Record *DecodedRecord
	Err    error
}

func (o *DispatchOutcome) Succeeded() bool {
	return o.Kind == OutcomeKind_Decoded
}

// Message is the failure description, or an empty string for decoded outcomes.
func (o *DispatchOutcome) Message() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

func (o *DispatchOutcome) ItemKind() schemaRegistry.ItemKind {
	return o.Envelope.Kind()
}
