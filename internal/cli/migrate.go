package cli

import (
	"context"

	"creditsystem/internal/service"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update tables and the treasury account",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, db, err := bootstrap(true)
	if err != nil {
		return err
	}
	svc, err := service.NewServices(db, cfg, nil)
	if err != nil {
		return err
	}
	if err := svc.Accounts.EnsureTreasury(context.Background()); err != nil {
		return err
	}
	logrus.WithField("treasury_user_id", cfg.Economy.TreasuryUserID).Info("schema migrated")
	return nil
}
