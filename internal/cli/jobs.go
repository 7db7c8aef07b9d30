package cli

import (
	"context"
	"fmt"

	"creditsystem/internal/infrastructure/cache"
	"creditsystem/internal/job"
	"creditsystem/internal/model"
	"creditsystem/internal/repository"
	"creditsystem/internal/service"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(outboxCmd)
	outboxCmd.AddCommand(outboxStatsCmd)
	outboxCmd.AddCommand(outboxRequeueCmd)

	reconcileCmd.Flags().Bool("rebuild", false, "Rebuild the balance projection of every inconsistent account")
	reconcileCmd.Flags().Int64("user", 0, "Reconcile a single user instead of every account")
	outboxRequeueCmd.Flags().String("topic", "", "Only requeue messages of this topic")
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one expiry pass over listings, offers and trades",
	Args:  cobra.NoArgs,
	RunE:  runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, db, err := bootstrap(false)
	if err != nil {
		return err
	}
	rdb, err := cache.InitRedis(&cfg.Redis)
	if err != nil {
		return err
	}
	svc, err := service.NewServices(db, cfg, nil)
	if err != nil {
		return err
	}

	stats, err := job.NewExpirySweeper(svc.Marketplace, svc.Trades, rdb, cfg.Business.SweepBatchSize).Run(context.Background())
	if err != nil {
		return err
	}
	for status, n := range stats.Listings {
		fmt.Fprintf(cmd.OutOrStdout(), "listings %-10s %d\n", status, n)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "offers     expired    %d\n", stats.Offers)
	fmt.Fprintf(cmd.OutOrStdout(), "trades     expired    %d\n", stats.Trades)
	if stats.Errors > 0 {
		return fmt.Errorf("%d items failed, see log", stats.Errors)
	}
	return nil
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Compare every balance projection with its ledger sum",
	Args:  cobra.NoArgs,
	RunE:  runReconcile,
}

func runReconcile(cmd *cobra.Command, args []string) error {
	rebuild, _ := cmd.Flags().GetBool("rebuild")
	userID, _ := cmd.Flags().GetInt64("user")

	cfg, db, err := bootstrap(false)
	if err != nil {
		return err
	}
	svc, err := service.NewServices(db, cfg, nil)
	if err != nil {
		return err
	}
	ctx := context.Background()

	if userID > 0 {
		rec, err := svc.Ledger.Reconcile(ctx, userID)
		if err != nil {
			return err
		}
		printReconciliation(cmd, rec)
		if !rec.Consistent && rebuild {
			if _, err := svc.Ledger.RebuildProjection(ctx, userID); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "projection rebuilt")
		}
		return nil
	}

	checked, mismatches, err := job.NewReconciler(svc.Ledger, nil, cfg.Business.SweepBatchSize, rebuild).Run(ctx)
	if err != nil {
		return err
	}
	for _, rec := range mismatches {
		printReconciliation(cmd, rec)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "checked %d accounts, %d inconsistent\n", checked, len(mismatches))
	if len(mismatches) > 0 && !rebuild {
		return fmt.Errorf("%d accounts inconsistent, rerun with --rebuild to repair", len(mismatches))
	}
	return nil
}

func printReconciliation(cmd *cobra.Command, rec *service.Reconciliation) {
	fmt.Fprintf(cmd.OutOrStdout(), "user=%d balance=%d ledger_sum=%d reserved=%d held=%d consistent=%t\n",
		rec.UserID, rec.Balance, rec.LedgerSum, rec.Reserved, rec.HeldSum, rec.Consistent)
}

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Inspect and repair the event outbox",
}

var outboxStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count outbox messages by status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := bootstrap(false)
		if err != nil {
			return err
		}
		repo := repository.NewOutboxRepository(db)
		for _, status := range []string{model.OutboxStatusPending, model.OutboxStatusSent, model.OutboxStatusFailed} {
			n, err := repo.CountByStatus(context.Background(), status)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-8s %d\n", status, n)
		}
		return nil
	},
}

var outboxRequeueCmd = &cobra.Command{
	Use:   "requeue",
	Short: "Move failed outbox messages back to pending",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		topic, _ := cmd.Flags().GetString("topic")
		_, db, err := bootstrap(false)
		if err != nil {
			return err
		}
		n, err := repository.NewOutboxRepository(db).RequeueFailed(context.Background(), topic)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "requeued %d messages\n", n)
		return nil
	},
}
