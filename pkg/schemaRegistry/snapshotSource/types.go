package snapshotSource

import (
	"fmt"

	"github.com/Layr-Labs/runtime-indexer/pkg/schemaRegistry"
	"golang.org/x/mod/semver"
)

// SupportedFormatMajor is the only export format major version this reader understands.
const SupportedFormatMajor = "v1"

// ItemExport is the schema of one call or event inside a per-version export.
type ItemExport struct {
	Hash   string                 `yaml:"hash"`
	Fields []schemaRegistry.Field `yaml:"fields"`
}

type RangeExport struct {
	From uint32  `yaml:"from"`
	To   *uint32 `yaml:"to,omitempty"`
}

type VariantExport struct {
	Kind     string                 `yaml:"kind"`
	Name     string                 `yaml:"name"`
	Hash     string                 `yaml:"hash"`
	Fields   []schemaRegistry.Field `yaml:"fields"`
	Versions []RangeExport          `yaml:"versions"`
}

// ExportFile is a single metadata export document. It either describes the full set of
// calls and events of one spec version, or carries a flat list of variants with explicit ranges.
type ExportFile struct {
	FormatVersion string                `yaml:"formatVersion"`
	SpecVersion   *uint32               `yaml:"specVersion,omitempty"`
	Calls         map[string]ItemExport `yaml:"calls,omitempty"`
	Events        map[string]ItemExport `yaml:"events,omitempty"`
	Variants      []VariantExport       `yaml:"variants,omitempty"`

	path string
}

func (ef *ExportFile) IsVersionExport() bool {
	return ef.SpecVersion != nil
}

func (ef *ExportFile) validateFormat() error {
	if !semver.IsValid(ef.FormatVersion) {
		return fmt.Errorf("%s: invalid formatVersion '%s'", ef.path, ef.FormatVersion)
	}
	if semver.Major(ef.FormatVersion) != SupportedFormatMajor {
		return fmt.Errorf("%s: unsupported formatVersion '%s', expected %s.x", ef.path, ef.FormatVersion, SupportedFormatMajor)
	}
	if ef.IsVersionExport() && len(ef.Variants) > 0 {
		return fmt.Errorf("%s: specVersion exports cannot also list variants", ef.path)
	}
	if !ef.IsVersionExport() && (len(ef.Calls) > 0 || len(ef.Events) > 0) {
		return fmt.Errorf("%s: calls and events require a specVersion", ef.path)
	}
	return nil
}

// Snapshot is the decoded content of a registry source, ready to build a registry from.
type Snapshot struct {
	Info     schemaRegistry.SnapshotInfo
	Variants []*schemaRegistry.SchemaVariant
}
