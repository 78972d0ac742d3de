package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/Layr-Labs/runtime-indexer/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "runtime-indexer",
	Short: "Decodes and indexes the calls and events of a Substrate chain across runtime upgrades",
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	initConfig(rootCmd)

	rootCmd.PersistentFlags().Bool(config.Debug, false, `"true" or "false"`)
	rootCmd.PersistentFlags().StringP(config.ChainKey, "c", "polkadot", "The chain to index (polkadot, kusama, westend, local)")

	rootCmd.PersistentFlags().String(config.NodeRpcUrl, "", `e.g. "http://<hostname>:9933"`)
	rootCmd.PersistentFlags().Int(config.NodeRequestTimeout, 30, `Node request timeout in seconds`)

	rootCmd.PersistentFlags().String(config.DatabaseHost, "localhost", `PostgreSQL host`)
	rootCmd.PersistentFlags().Int(config.DatabasePort, 5432, `PostgreSQL port`)
	rootCmd.PersistentFlags().String(config.DatabaseUser, "runtime_indexer", `PostgreSQL username`)
	rootCmd.PersistentFlags().String(config.DatabasePassword, "", `PostgreSQL password`)
	rootCmd.PersistentFlags().String(config.DatabaseDbName, "runtime_indexer", `PostgreSQL database name`)
	rootCmd.PersistentFlags().String(config.DatabaseSchemaName, "", `PostgreSQL schema name (default "public")`)
	rootCmd.PersistentFlags().String(config.DatabaseSSLMode, "disable", `PostgreSQL sslmode`)
	rootCmd.PersistentFlags().String(config.DatabaseSSLCert, "", `Path to the client certificate`)
	rootCmd.PersistentFlags().String(config.DatabaseSSLKey, "", `Path to the client key`)
	rootCmd.PersistentFlags().String(config.DatabaseSSLRootCert, "", `Path to the root certificate`)

	rootCmd.PersistentFlags().String(config.RegistrySnapshotPath, "", `Registry export file or directory of per-spec-version exports`)
	rootCmd.PersistentFlags().String(config.RegistryPublicKeyPath, "", `Armored PGP public key; when set every export must carry a valid .sig`)

	rootCmd.PersistentFlags().Int(config.PipelineWorkers, 4, `Number of blocks processed concurrently`)
	rootCmd.PersistentFlags().Int(config.PipelineItemConcurrency, 8, `Number of items dispatched concurrently within a block`)
	rootCmd.PersistentFlags().Uint64(config.PipelineStartBlock, 0, `Block to start from when nothing has been indexed`)
	rootCmd.PersistentFlags().Int(config.PipelinePollInterval, 6, `Seconds between chain tip polls`)
	rootCmd.PersistentFlags().IntSlice(config.PipelineFetchBackoff, config.DefaultFetchBackoffSeconds, `Seconds to wait between block fetch retries`)

	rootCmd.PersistentFlags().String(config.HashCachePath, "", `leveldb directory for resolved hashes (in memory when empty)`)

	rootCmd.PersistentFlags().Bool(config.CodecRenderSS58, false, `Render account ids as SS58 addresses`)
	rootCmd.PersistentFlags().Int(config.CodecSS58Prefix, 42, `SS58 prefix (defaults to the chain's prefix)`)

	rootCmd.PersistentFlags().Int(config.FailuresSpikeThreshold, 10, `Unmatched items for a new spec version before the registry is reported as lagging`)

	rootCmd.PersistentFlags().Int(config.RpcGrpcPort, 7100, `gRPC port`)
	rootCmd.PersistentFlags().Int(config.RpcHttpPort, 7101, `http rpc port`)

	rootCmd.PersistentFlags().Bool(config.DataDogStatsdEnabled, false, `e.g. "true" or "false"`)
	rootCmd.PersistentFlags().String(config.DataDogStatsdUrl, "", `e.g. "localhost:8125"`)
	rootCmd.PersistentFlags().Float64(config.DataDogStatsdSampleRate, 1.0, `Sample rate between 0 and 1`)
	rootCmd.PersistentFlags().Bool(config.DataDogEnableTracing, false, `e.g. "true" or "false"`)

	rootCmd.PersistentFlags().Bool(config.PrometheusEnabled, false, `e.g. "true" or "false"`)
	rootCmd.PersistentFlags().Int(config.PrometheusPort, 2112, `The port to run the prometheus server on`)

	// setup sub commands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(registryCmd)
	rootCmd.AddCommand(failuresCmd)
	rootCmd.AddCommand(runDatabaseCmd)
	rootCmd.AddCommand(runVersionCmd)

	// bind any subcommand flags
	backfillCmd.PersistentFlags().Uint64(config.BackfillStartBlock, 0, `First block to index`)
	backfillCmd.PersistentFlags().Uint64(config.BackfillEndBlock, 0, `Last block to index (inclusive)`)

	failuresCmd.PersistentFlags().String("format", "table", `Output format ("table" or "csv")`)
	failuresCmd.PersistentFlags().Bool("list", false, `List individual failures instead of counts`)
	failuresCmd.PersistentFlags().String("reason", "", `Only failures with this reason`)
	failuresCmd.PersistentFlags().String("kind", "", `Only failures of this kind, e.g. "Balances.transfer"`)
	failuresCmd.PersistentFlags().Uint64("from-block", 0, `Only failures at or above this block`)
	failuresCmd.PersistentFlags().Int("limit", 100, `Maximum failures to list`)

	rootCmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		key := config.KebabToSnakeCase(f.Name)
		viper.BindPFlag(key, f) //nolint:errcheck
		viper.BindEnv(key)      //nolint:errcheck
	})
}

func initConfig(cmd *cobra.Command) {
	viper.SetEnvPrefix(config.ENV_PREFIX)

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	viper.AutomaticEnv()
}

// bindSubcommandFlags binds the flags declared on a subcommand.
func bindSubcommandFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if err := viper.BindPFlag(config.KebabToSnakeCase(f.Name), f); err != nil {
			fmt.Printf("Failed to bind flag '%s' - %+v\n", f.Name, err)
		}
		if err := viper.BindEnv(f.Name); err != nil {
			fmt.Printf("Failed to bind env '%s' - %+v\n", f.Name, err)
		}
	})
}
