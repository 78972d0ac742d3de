package cmd

import (
	"github.com/Layr-Labs/runtime-indexer/internal/config"
	"github.com/Layr-Labs/runtime-indexer/pkg/logger"
	"github.com/Layr-Labs/runtime-indexer/pkg/postgres"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runDatabaseCmd = &cobra.Command{
	Use:   "database",
	Short: "Database management",
}

var runDatabaseMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database if needed and apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		bindSubcommandFlags(cmd)
		cfg := config.NewConfig()

		l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})

		if err := postgres.CreateDatabaseIfNotExists(postgres.PostgresConfigFromDbConfig(&cfg.DatabaseConfig)); err != nil {
			return err
		}
		pg, _, err := postgres.ConnectAndMigrate(cfg, l)
		if err != nil {
			l.Sugar().Errorw("Failed to migrate database", zap.Error(err))
			return err
		}
		defer pg.Db.Close()

		l.Sugar().Infow("Database migrated", zap.String("database", cfg.DatabaseConfig.DbName))
		return nil
	},
}

func init() {
	runDatabaseCmd.AddCommand(runDatabaseMigrateCmd)
}
