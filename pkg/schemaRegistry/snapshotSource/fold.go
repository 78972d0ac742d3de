package snapshotSource

import (
	"fmt"
	"slices"
	"sort"

	"github.com/Layr-Labs/runtime-indexer/pkg/schemaRegistry"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

type openSegment struct {
	hash   schemaRegistry.ContentHash
	fields []schemaRegistry.Field
	from   uint32
}

// foldVersionExports turns a series of per-spec-version exports into variants.
// A kind's hash reported at version N stays valid until the next export that reports a
// different hash or no longer lists the kind; whatever is still open after the newest
// export is open ended.
func foldVersionExports(exports []*ExportFile) ([]*schemaRegistry.SchemaVariant, error) {
	sorted := slices.Clone(exports)
	sort.SliceStable(sorted, func(i, j int) bool {
		return *sorted[i].SpecVersion < *sorted[j].SpecVersion
	})

	for i := 1; i < len(sorted); i++ {
		if *sorted[i].SpecVersion == *sorted[i-1].SpecVersion {
			return nil, fmt.Errorf("duplicate exports for spec version %d (%s, %s)", *sorted[i].SpecVersion, sorted[i-1].path, sorted[i].path)
		}
	}

	open := orderedmap.New[schemaRegistry.ItemKind, *openSegment]()
	variants := make([]*schemaRegistry.SchemaVariant, 0)

	closeSegment := func(kind schemaRegistry.ItemKind, seg *openSegment, to *uint32) {
		variants = append(variants, &schemaRegistry.SchemaVariant{
			Kind:     kind,
			Hash:     seg.hash,
			Fields:   seg.fields,
			Versions: []schemaRegistry.VersionRange{{From: seg.from, To: to}},
		})
	}

	for _, export := range sorted {
		version := *export.SpecVersion
		items := exportItems(export)

		for pair := items.Oldest(); pair != nil; pair = pair.Next() {
			kind, item := pair.Key, pair.Value
			hash, err := schemaRegistry.ParseContentHash(item.Hash)
			if err != nil {
				return nil, fmt.Errorf("%s: %s: %w", export.path, kind, err)
			}

			seg, ok := open.Get(kind)
			if ok && seg.hash == hash {
				if !slices.Equal(seg.fields, item.Fields) {
					msg := fmt.Sprintf("fields changed at spec version %d (%s) without a hash change", version, export.path)
					return nil, &schemaRegistry.RegistryIntegrityError{Kind: kind, Hash: hash, Message: msg}
				}
				continue
			}
			if ok {
				to := version - 1
				closeSegment(kind, seg, &to)
			}
			open.Set(kind, &openSegment{hash: hash, fields: item.Fields, from: version})
		}

		// kinds missing from this export were retired by the upgrade
		retired := make([]schemaRegistry.ItemKind, 0)
		for pair := open.Oldest(); pair != nil; pair = pair.Next() {
			if _, ok := items.Get(pair.Key); !ok {
				to := version - 1
				closeSegment(pair.Key, pair.Value, &to)
				retired = append(retired, pair.Key)
			}
		}
		for _, kind := range retired {
			open.Delete(kind)
		}
	}

	for pair := open.Oldest(); pair != nil; pair = pair.Next() {
		closeSegment(pair.Key, pair.Value, nil)
	}
	return variants, nil
}

// exportItems flattens calls and events in a deterministic order (calls first, by name).
func exportItems(export *ExportFile) *orderedmap.OrderedMap[schemaRegistry.ItemKind, ItemExport] {
	items := orderedmap.New[schemaRegistry.ItemKind, ItemExport]()

	add := func(t schemaRegistry.ItemType, m map[string]ItemExport) {
		names := make([]string, 0, len(m))
		for name := range m {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			items.Set(schemaRegistry.ItemKind{Type: t, Name: name}, m[name])
		}
	}
	add(schemaRegistry.ItemType_Call, export.Calls)
	add(schemaRegistry.ItemType_Event, export.Events)
	return items
}

func flatVariants(export *ExportFile) ([]*schemaRegistry.SchemaVariant, error) {
	variants := make([]*schemaRegistry.SchemaVariant, 0, len(export.Variants))
	for i, v := range export.Variants {
		itemType, err := schemaRegistry.ParseItemType(v.Kind)
		if err != nil {
			return nil, fmt.Errorf("%s: variant %d: %w", export.path, i, err)
		}
		hash, err := schemaRegistry.ParseContentHash(v.Hash)
		if err != nil {
			return nil, fmt.Errorf("%s: variant %d: %w", export.path, i, err)
		}
		ranges := make([]schemaRegistry.VersionRange, 0, len(v.Versions))
		for _, r := range v.Versions {
			ranges = append(ranges, schemaRegistry.VersionRange{From: r.From, To: r.To})
		}
		variants = append(variants, &schemaRegistry.SchemaVariant{
			Kind:     schemaRegistry.ItemKind{Type: itemType, Name: v.Name},
			Hash:     hash,
			Fields:   v.Fields,
			Versions: ranges,
		})
	}
	return variants, nil
}
