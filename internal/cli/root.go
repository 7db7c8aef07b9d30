package cli

import (
	"fmt"
	"os"

	"creditsystem/internal/config"
	"creditsystem/internal/infrastructure/database"
	"creditsystem/pkg/idgen"
	"creditsystem/pkg/logger"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var (
	configPath string
	workerID   int64
	debugSQL   bool
)

var rootCmd = &cobra.Command{
	Use:   "economy",
	Short: "Credit economy service",
	Long: `Ledger, transfers, marketplace escrow and trades for the in-app credit
economy. Run "economy serve" for the HTTP API and background jobs, or one of
the one-shot commands for operations.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "Path to YAML config; empty for defaults and environment only")
	rootCmd.PersistentFlags().Int64Var(&workerID, "worker-id", 1, "Snowflake worker id, unique per replica")
	rootCmd.PersistentFlags().BoolVar(&debugSQL, "debug-sql", false, "Log every SQL statement")
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootstrap loads config and opens the database; shared by every command.
func bootstrap(migrate bool) (*config.Config, *gorm.DB, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)

	if err := idgen.Init(workerID); err != nil {
		return nil, nil, err
	}

	db, err := database.Open(&cfg.MySQL, debugSQL)
	if err != nil {
		return nil, nil, err
	}
	if migrate {
		if err := database.Migrate(db); err != nil {
			return nil, nil, err
		}
	}
	return cfg, db, nil
}
