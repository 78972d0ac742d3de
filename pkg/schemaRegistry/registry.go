// Package schemaRegistry holds the per-kind history of call and event encodings.
// A registry is built once from a metadata snapshot, validated, and then only read.
package schemaRegistry

import (
	"cmp"
	"slices"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// SnapshotInfo describes where a registry's variants came from.
type SnapshotInfo struct {
	Source string
	// SpecVersions lists the runtime versions the snapshot carried exports for, ascending
	SpecVersions []uint32
	LoadedAt     time.Time
}

// LatestSpecVersion returns the highest spec version covered by an export, or 0.
func (si SnapshotInfo) LatestSpecVersion() uint32 {
	if len(si.SpecVersions) == 0 {
		return 0
	}
	return slices.Max(si.SpecVersions)
}

type SchemaRegistry struct {
	// kind -> variants ascending by earliest version
	variants *orderedmap.OrderedMap[ItemKind, []*SchemaVariant]
	byHash   map[ItemKind]map[ContentHash]*SchemaVariant
	info     SnapshotInfo
}

// NewSchemaRegistry validates variants and builds a registry from them.
//
// Entries that share a (kind, hash) pair are merged into one variant whose ranges are
// the union of both; this is how a layout that reverted at a later upgrade is expressed.
// Construction fails with a *RegistryIntegrityError when:
//   - an entry has no name, an unknown item type, no hash or no version ranges
//   - a range is inverted
//   - two entries share a (kind, hash) pair but disagree on fields
//   - two variants of the same kind have overlapping ranges and different hashes
func NewSchemaRegistry(info SnapshotInfo, variants []*SchemaVariant) (*SchemaRegistry, error) {
	grouped := orderedmap.New[ItemKind, []*SchemaVariant]()
	byHash := make(map[ItemKind]map[ContentHash]*SchemaVariant)

	for _, v := range variants {
		if err := validateEntry(v); err != nil {
			return nil, err
		}

		hashes, ok := byHash[v.Kind]
		if !ok {
			hashes = make(map[ContentHash]*SchemaVariant)
			byHash[v.Kind] = hashes
		}

		if existing, ok := hashes[v.Hash]; ok {
			if !fieldsEqual(existing.Fields, v.Fields) {
				return nil, newIntegrityError(v.Kind, v.Hash, "hash registered twice with different field schemas")
			}
			existing.Versions = normalizeRanges(append(slices.Clone(existing.Versions), v.Versions...))
			continue
		}

		copied := &SchemaVariant{
			Kind:     v.Kind,
			Hash:     v.Hash,
			Fields:   slices.Clone(v.Fields),
			Versions: normalizeRanges(v.Versions),
		}
		hashes[v.Hash] = copied

		list, _ := grouped.Get(v.Kind)
		grouped.Set(v.Kind, append(list, copied))
	}

	for pair := grouped.Oldest(); pair != nil; pair = pair.Next() {
		if err := checkNoAmbiguousRanges(pair.Value); err != nil {
			return nil, err
		}
		slices.SortStableFunc(pair.Value, func(a, b *SchemaVariant) int {
			return cmp.Compare(a.EarliestVersion(), b.EarliestVersion())
		})
	}

	return &SchemaRegistry{
		variants: grouped,
		byHash:   byHash,
		info:     info,
	}, nil
}

func validateEntry(v *SchemaVariant) error {
	if v == nil {
		return &RegistryIntegrityError{Message: "nil variant"}
	}
	if v.Kind.Name == "" {
		return newIntegrityError(v.Kind, v.Hash, "missing item name")
	}
	if v.Kind.Type != ItemType_Call && v.Kind.Type != ItemType_Event {
		return newIntegrityError(v.Kind, v.Hash, "unknown item type '%s'", v.Kind.Type)
	}
	if v.Hash == "" {
		return newIntegrityError(v.Kind, v.Hash, "missing content hash")
	}
	if len(v.Versions) == 0 {
		return newIntegrityError(v.Kind, v.Hash, "variant has no version ranges")
	}
	for _, r := range v.Versions {
		if err := r.Validate(); err != nil {
			return newIntegrityError(v.Kind, v.Hash, "%s", err.Error())
		}
	}
	return nil
}

func checkNoAmbiguousRanges(variants []*SchemaVariant) error {
	for i, a := range variants {
		for _, b := range variants[i+1:] {
			for _, ra := range a.Versions {
				for _, rb := range b.Versions {
					if ra.Overlaps(rb) {
						return &RegistryIntegrityError{
							Kind:      a.Kind,
							Hash:      a.Hash,
							OtherHash: b.Hash,
							Message:   "overlapping version ranges " + ra.String() + " and " + rb.String(),
						}
					}
				}
			}
		}
	}
	return nil
}

// VariantsFor returns the variants of kind ascending by earliest spec version.
// The returned slice is a fresh copy; an unknown kind yields an empty slice.
func (sr *SchemaRegistry) VariantsFor(kind ItemKind) []*SchemaVariant {
	list, ok := sr.variants.Get(kind)
	if !ok {
		return []*SchemaVariant{}
	}
	return slices.Clone(list)
}

func (sr *SchemaRegistry) FindByHash(kind ItemKind, hash ContentHash) (*SchemaVariant, bool) {
	hashes, ok := sr.byHash[kind]
	if !ok {
		return nil, false
	}
	v, ok := hashes[hash]
	return v, ok
}

// VariantForVersion returns the variant whose ranges contain specVersion.
// Diagnostics only: dispatch selects variants by hash, never by version.
func (sr *SchemaRegistry) VariantForVersion(kind ItemKind, specVersion uint32) (*SchemaVariant, bool) {
	list, ok := sr.variants.Get(kind)
	if !ok {
		return nil, false
	}
	for _, v := range list {
		if v.ValidAt(specVersion) {
			return v, true
		}
	}
	return nil, false
}

func (sr *SchemaRegistry) HasKind(kind ItemKind) bool {
	_, ok := sr.variants.Get(kind)
	return ok
}

// Kinds returns every registered kind in registration order.
func (sr *SchemaRegistry) Kinds() []ItemKind {
	kinds := make([]ItemKind, 0, sr.variants.Len())
	for pair := sr.variants.Oldest(); pair != nil; pair = pair.Next() {
		kinds = append(kinds, pair.Key)
	}
	return kinds
}

func (sr *SchemaRegistry) Len() int {
	return sr.variants.Len()
}

// VariantCount is the total number of variants across all kinds.
func (sr *SchemaRegistry) VariantCount() int {
	count := 0
	for pair := sr.variants.Oldest(); pair != nil; pair = pair.Next() {
		count += len(pair.Value)
	}
	return count
}

func (sr *SchemaRegistry) Info() SnapshotInfo {
	return sr.info
}
