package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/Layr-Labs/runtime-indexer/internal/config"
	"github.com/Layr-Labs/runtime-indexer/pkg/logger"
	"github.com/Layr-Labs/runtime-indexer/pkg/postgres"
	"github.com/Layr-Labs/runtime-indexer/pkg/storage"
	pgStorage "github.com/Layr-Labs/runtime-indexer/pkg/storage/postgres"
	"github.com/gocarina/gocsv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var failuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "Report persisted dispatch failures",
	RunE: func(cmd *cobra.Command, args []string) error {
		bindSubcommandFlags(cmd)
		cfg := config.NewConfig()

		format := viper.GetString("format")
		if format != "table" && format != "csv" {
			return fmt.Errorf("unsupported format '%s'", format)
		}

		l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})

		pg, err := postgres.NewPostgres(postgres.PostgresConfigFromDbConfig(&cfg.DatabaseConfig))
		if err != nil {
			return err
		}
		defer pg.Db.Close()
		grm, err := postgres.NewGormFromPostgresConnection(pg.Db)
		if err != nil {
			return err
		}
		bs := pgStorage.NewPostgresBlockStore(grm, l, cfg)
		ctx := context.Background()

		if viper.GetBool("list") {
			failures, err := bs.ListFailures(ctx, &storage.FailureFilter{
				Reason:    viper.GetString("reason"),
				Kind:      viper.GetString("kind"),
				FromBlock: viper.GetUint64("from_block"),
				Limit:     viper.GetInt("limit"),
			})
			if err != nil {
				return err
			}
			if format == "csv" {
				return gocsv.Marshal(failures, os.Stdout)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "BLOCK\tINDEX\tKIND\tSPEC\tREASON\tMESSAGE")
			for _, f := range failures {
				fmt.Fprintf(w, "%d\t%d\t%s\t%d\t%s\t%s\n", f.BlockNumber, f.ItemIndex, f.Kind, f.SpecVersion, f.Reason, f.Message)
			}
			return w.Flush()
		}

		counts, err := bs.GetFailureCounts(ctx)
		if err != nil {
			return err
		}
		if format == "csv" {
			return gocsv.Marshal(counts, os.Stdout)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "REASON\tKIND\tCOUNT")
		for _, c := range counts {
			fmt.Fprintf(w, "%s\t%s\t%d\n", c.Reason, c.Kind, c.Count)
		}
		return w.Flush()
	},
}
