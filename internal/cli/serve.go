package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"creditsystem/internal/handler"
	"creditsystem/internal/infrastructure/cache"
	"creditsystem/internal/infrastructure/mq"
	"creditsystem/internal/job"
	"creditsystem/internal/service"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("no-jobs", false, "Serve HTTP only; run no sweep, reconcile or outbox relay")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and background jobs",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	noJobs, _ := cmd.Flags().GetBool("no-jobs")

	cfg, db, err := bootstrap(true)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not set")
	}

	rdb, err := cache.InitRedis(&cfg.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	svc, err := service.NewServices(db, cfg, cache.NewReplayCache(rdb, cfg.Business.ReplayCacheTTL))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Accounts.EnsureTreasury(ctx); err != nil {
		return err
	}

	if !noJobs {
		producer, err := mq.NewProducer(&cfg.Kafka)
		if err != nil {
			return err
		}
		publisher := mq.NewPublisher(producer)
		defer publisher.Close()

		relay := job.NewOutboxSender(db, publisher, cfg.Business.OutboxInterval, cfg.Business.MaxRetryCount)
		go relay.Start(ctx)
		defer relay.Stop()

		scheduler := job.NewScheduler(ctx)
		sweeper := job.NewExpirySweeper(svc.Marketplace, svc.Trades, rdb, cfg.Business.SweepBatchSize)
		if err := scheduler.AddSweep(cfg.Business.SweepSchedule, sweeper); err != nil {
			return err
		}
		if err := scheduler.AddReconcile(cfg.Business.ReconcileSchedule, job.NewReconciler(svc.Ledger, rdb, cfg.Business.SweepBatchSize, false)); err != nil {
			return err
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	limiter := handler.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				limiter.Cleanup(now)
			}
		}
	}()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler.SetupRouter(svc, cfg, limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.WithField("port", cfg.Server.Port).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logrus.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("http shutdown")
	}
	logrus.Info("server stopped")
	return nil
}
