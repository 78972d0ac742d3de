package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/Layr-Labs/runtime-indexer/internal/config"
	"github.com/Layr-Labs/runtime-indexer/pkg/logger"
	"github.com/Layr-Labs/runtime-indexer/pkg/schemaRegistry"
	"github.com/Layr-Labs/runtime-indexer/pkg/schemaRegistry/snapshotSource"
	"github.com/Layr-Labs/runtime-indexer/pkg/utils"
	"github.com/spf13/cobra"
)

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Inspect registry snapshots",
}

var registryValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load the registry snapshot, run the integrity checks and print a summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		bindSubcommandFlags(cmd)
		cfg := config.NewConfig()
		if cfg.RegistryConfig.SnapshotPath == "" {
			return fmt.Errorf("%s is required", config.RegistrySnapshotPath)
		}

		l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})

		reg, err := snapshotSource.LoadRegistry(context.Background(), newSnapshotSource(cfg, l))
		if err != nil {
			return err
		}
		if err := validateFieldTypes(reg, cfg); err != nil {
			return err
		}
		return printRegistrySummary(reg)
	},
}

func init() {
	registryCmd.AddCommand(registryValidateCmd)
}

// validateFieldTypes checks that the codec can decode every declared field type.
func validateFieldTypes(reg *schemaRegistry.SchemaRegistry, cfg *config.Config) error {
	codec := newCodec(cfg)
	errs := make([]error, 0)
	for _, kind := range reg.Kinds() {
		for _, v := range reg.VariantsFor(kind) {
			if err := codec.ValidateFields(v.Fields); err != nil {
				errs = append(errs, fmt.Errorf("%s %s: %w", kind, v.Hash.Short(), err))
			}
		}
	}
	return errors.Join(errs...)
}

func printRegistrySummary(reg *schemaRegistry.SchemaRegistry) error {
	info := reg.Info()
	fmt.Printf("source:         %s\n", info.Source)
	fmt.Printf("spec versions:  %s\n", strings.Join(utils.Map(info.SpecVersions, func(v uint32, i uint64) string {
		return fmt.Sprintf("%d", v)
	}), ", "))
	fmt.Printf("kinds:          %d\n", reg.Len())
	fmt.Printf("variants:       %d\n\n", reg.VariantCount())

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tHASH\tVERSIONS\tFIELDS")
	for _, kind := range reg.Kinds() {
		for _, v := range reg.VariantsFor(kind) {
			versions := strings.Join(utils.Map(v.Versions, func(r schemaRegistry.VersionRange, i uint64) string {
				return r.String()
			}), " ")
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", kind, v.Hash.Short(), versions, strings.Join(v.FieldNames(), ","))
		}
	}
	return w.Flush()
}
