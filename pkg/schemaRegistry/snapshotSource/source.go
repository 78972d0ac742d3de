// Package snapshotSource loads registry variants from metadata exports on disk.
package snapshotSource

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/Layr-Labs/runtime-indexer/pkg/schemaRegistry"
	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Source interface {
	Load(ctx context.Context) (*Snapshot, error)
}

type FileSourceConfig struct {
	// Path is either a single export file or a directory of *.yaml / *.yml exports
	Path string
	// PublicKeyPath points to an armored PGP public key. When set, every export must have
	// a detached armored signature next to it named <export>.sig
	PublicKeyPath string
}

type FileSource struct {
	config *FileSourceConfig
	logger *zap.Logger
}

func NewFileSource(cfg *FileSourceConfig, l *zap.Logger) *FileSource {
	return &FileSource{
		config: cfg,
		logger: l,
	}
}

func (fs *FileSource) listExportFiles() ([]string, error) {
	info, err := os.Stat(fs.config.Path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to stat registry snapshot path")
	}
	if !info.IsDir() {
		return []string{fs.config.Path}, nil
	}

	entries, err := os.ReadDir(fs.config.Path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read registry snapshot directory")
	}
	files := make([]string, 0)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(fs.config.Path, e.Name()))
		}
	}
	slices.Sort(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("no exports found in '%s'", fs.config.Path)
	}
	return files, nil
}

func (fs *FileSource) readKeyRing() (openpgp.EntityList, error) {
	if fs.config.PublicKeyPath == "" {
		return nil, nil
	}
	keyFile, err := os.Open(fs.config.PublicKeyPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open registry public key")
	}
	defer keyFile.Close()

	keyRing, err := openpgp.ReadArmoredKeyRing(keyFile)
	if err != nil {
		return nil, fmt.Errorf("error reading armored key ring: %w", err)
	}
	return keyRing, nil
}

func verifySignature(keyRing openpgp.EntityList, path string, contents []byte) error {
	sigFile, err := os.Open(path + ".sig")
	if err != nil {
		return fmt.Errorf("error opening signature file: %w", err)
	}
	defer sigFile.Close()

	if _, err := openpgp.CheckArmoredDetachedSignature(keyRing, bytes.NewReader(contents), sigFile, nil); err != nil {
		return fmt.Errorf("error checking signature for '%s': %w", path, err)
	}
	return nil
}

// parseExports decodes every YAML document in contents. Documents are addressed as
// <path>#<n> in errors when a file holds more than one.
func parseExports(path string, contents []byte) ([]*ExportFile, error) {
	exports := make([]*ExportFile, 0, 1)

	decoder := yaml.NewDecoder(bytes.NewReader(contents))
	decoder.KnownFields(true)
	for i := 0; ; i++ {
		export := &ExportFile{path: path}
		if i > 0 {
			export.path = fmt.Sprintf("%s#%d", path, i)
		}
		err := decoder.Decode(export)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse export '%s'", export.path)
		}
		if err := export.validateFormat(); err != nil {
			return nil, err
		}
		exports = append(exports, export)
	}
	if len(exports) == 0 {
		return nil, fmt.Errorf("export '%s' contains no documents", path)
	}
	return exports, nil
}

// Load reads, verifies and folds every export under the configured path.
func (fs *FileSource) Load(ctx context.Context) (*Snapshot, error) {
	files, err := fs.listExportFiles()
	if err != nil {
		return nil, err
	}

	keyRing, err := fs.readKeyRing()
	if err != nil {
		return nil, err
	}

	versionExports := make([]*ExportFile, 0)
	flatExports := make([]*ExportFile, 0)

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		contents, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read export '%s'", path)
		}
		if keyRing != nil {
			if err := verifySignature(keyRing, path, contents); err != nil {
				return nil, err
			}
		}

		exports, err := parseExports(path, contents)
		if err != nil {
			return nil, err
		}
		for _, export := range exports {
			if export.IsVersionExport() {
				versionExports = append(versionExports, export)
			} else {
				flatExports = append(flatExports, export)
			}
		}
	}

	variants, err := foldVersionExports(versionExports)
	if err != nil {
		return nil, err
	}

	specVersions := make([]uint32, 0, len(versionExports))
	for _, e := range versionExports {
		specVersions = append(specVersions, *e.SpecVersion)
	}

	for _, export := range flatExports {
		flat, err := flatVariants(export)
		if err != nil {
			return nil, err
		}
		for _, v := range flat {
			for _, r := range v.Versions {
				specVersions = append(specVersions, r.From)
			}
		}
		variants = append(variants, flat...)
	}
	slices.Sort(specVersions)

	fs.logger.Sugar().Infow("Loaded registry snapshot",
		zap.String("path", fs.config.Path),
		zap.Int("files", len(files)),
		zap.Int("versionExports", len(versionExports)),
		zap.Int("flatExports", len(flatExports)),
		zap.Int("variants", len(variants)),
		zap.Bool("signatureVerified", keyRing != nil),
	)

	return &Snapshot{
		Info: schemaRegistry.SnapshotInfo{
			Source:       fs.config.Path,
			SpecVersions: slices.Compact(specVersions),
			LoadedAt:     time.Now(),
		},
		Variants: variants,
	}, nil
}

// LoadRegistry loads a snapshot from source and builds a validated registry from it.
func LoadRegistry(ctx context.Context, source Source) (*schemaRegistry.SchemaRegistry, error) {
	snapshot, err := source.Load(ctx)
	if err != nil {
		return nil, err
	}
	return schemaRegistry.NewSchemaRegistry(snapshot.Info, snapshot.Variants)
}
