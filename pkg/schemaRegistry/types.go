package schemaRegistry

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/Layr-Labs/runtime-indexer/pkg/utils"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

type ItemType string

const (
	ItemType_Call  ItemType = "call"
	ItemType_Event ItemType = "event"
)

func (t ItemType) String() string {
	return string(t)
}

func ParseItemType(s string) (ItemType, error) {
	switch ItemType(strings.ToLower(s)) {
	case ItemType_Call:
		return ItemType_Call, nil
	case ItemType_Event:
		return ItemType_Event, nil
	}
	return "", fmt.Errorf("unknown item type '%s'", s)
}

// ItemKind identifies a call or event independent of its encoding, e.g. call "Balances.transfer".
type ItemKind struct {
	Type ItemType
	Name string
}

func NewCallKind(name string) ItemKind {
	return ItemKind{Type: ItemType_Call, Name: name}
}

func NewEventKind(name string) ItemKind {
	return ItemKind{Type: ItemType_Event, Name: name}
}

func (k ItemKind) String() string {
	return fmt.Sprintf("%s:%s", k.Type, k.Name)
}

// Pallet returns the portion of the name before the first dot.
func (k ItemKind) Pallet() string {
	pallet, _, _ := strings.Cut(k.Name, ".")
	return pallet
}

// ContentHash is a type-structure fingerprint in lowercase hex without the 0x prefix.
type ContentHash string

func ParseContentHash(s string) (ContentHash, error) {
	stripped := utils.StripHexPrefix(s)
	if stripped == "" {
		return "", fmt.Errorf("empty content hash")
	}
	if _, err := hexutil.Decode("0x" + stripped); err != nil {
		return "", fmt.Errorf("invalid content hash '%s': %w", s, err)
	}
	return ContentHash(stripped), nil
}

func MustParseContentHash(s string) ContentHash {
	h, err := ParseContentHash(s)
	if err != nil {
		panic(err)
	}
	return h
}

func (h ContentHash) String() string {
	return string(h)
}

func (h ContentHash) Hex() string {
	return "0x" + string(h)
}

// Short returns the first eight characters, enough to tell variants apart in logs.
func (h ContentHash) Short() string {
	if len(h) <= 8 {
		return string(h)
	}
	return string(h[:8])
}

// VersionRange is an inclusive range of runtime spec versions. A nil To is open ended.
type VersionRange struct {
	From uint32
	To   *uint32
}

func NewVersionRange(from uint32, to uint32) VersionRange {
	return VersionRange{From: from, To: &to}
}

func NewOpenVersionRange(from uint32) VersionRange {
	return VersionRange{From: from}
}

func (r VersionRange) IsOpen() bool {
	return r.To == nil
}

func (r VersionRange) Validate() error {
	if r.To != nil && *r.To < r.From {
		return fmt.Errorf("invalid version range %s", r)
	}
	return nil
}

func (r VersionRange) Contains(v uint32) bool {
	if v < r.From {
		return false
	}
	return r.To == nil || v <= *r.To
}

func (r VersionRange) Overlaps(o VersionRange) bool {
	if r.To != nil && *r.To < o.From {
		return false
	}
	if o.To != nil && *o.To < r.From {
		return false
	}
	return true
}

// touches reports whether the ranges overlap or are directly adjacent.
func (r VersionRange) touches(o VersionRange) bool {
	if r.Overlaps(o) {
		return true
	}
	if r.To != nil && *r.To+1 == o.From {
		return true
	}
	return o.To != nil && *o.To+1 == r.From
}

func (r VersionRange) String() string {
	if r.To == nil {
		return fmt.Sprintf("[%d,∞)", r.From)
	}
	return fmt.Sprintf("[%d,%d]", r.From, *r.To)
}

type Field struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

func fieldsEqual(a, b []Field) bool {
	return slices.Equal(a, b)
}

// SchemaVariant is one historical encoding of an ItemKind. Immutable once the
// registry that owns it has been built.
type SchemaVariant struct {
	Kind     ItemKind
	Hash     ContentHash
	Fields   []Field
	Versions []VersionRange
}

// EarliestVersion is the lowest spec version this variant is valid for.
func (v *SchemaVariant) EarliestVersion() uint32 {
	if len(v.Versions) == 0 {
		return 0
	}
	return v.Versions[0].From
}

func (v *SchemaVariant) ValidAt(specVersion uint32) bool {
	for _, r := range v.Versions {
		if r.Contains(specVersion) {
			return true
		}
	}
	return false
}

func (v *SchemaVariant) FieldNames() []string {
	return utils.Map(v.Fields, func(f Field, i uint64) string {
		return f.Name
	})
}

func (v *SchemaVariant) String() string {
	ranges := utils.Map(v.Versions, func(r VersionRange, i uint64) string {
		return r.String()
	})
	return fmt.Sprintf("%s@%s %s", v.Kind, v.Hash.Short(), strings.Join(ranges, ","))
}

// normalizeRanges sorts ranges and coalesces overlapping or adjacent ones.
func normalizeRanges(ranges []VersionRange) []VersionRange {
	sorted := slices.Clone(ranges)
	slices.SortFunc(sorted, func(a, b VersionRange) int {
		return cmp.Compare(a.From, b.From)
	})

	out := make([]VersionRange, 0, len(sorted))
	for _, r := range sorted {
		if len(out) == 0 {
			out = append(out, r)
			continue
		}
		last := &out[len(out)-1]
		if !last.touches(r) {
			out = append(out, r)
			continue
		}
		if last.To == nil {
			continue
		}
		if r.To == nil {
			last.To = nil
			continue
		}
		if *r.To > *last.To {
			to := *r.To
			last.To = &to
		}
	}
	return out
}
