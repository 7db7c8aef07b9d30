package job

import (
	"context"
	"fmt"

	"creditsystem/pkg/logger"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler runs the periodic jobs on cron specs such as "@every 30s".
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
}

func NewScheduler(ctx context.Context) *Scheduler {
	log := cron.PrintfLogger(logrus.StandardLogger())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(log),
			cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
		),
		ctx: ctx,
	}
}

func (s *Scheduler) AddSweep(spec string, sweeper *ExpirySweeper) error {
	_, err := s.cron.AddFunc(spec, func() {
		if _, err := sweeper.Run(s.ctx); err != nil {
			logger.Job("expiry_sweep").WithError(err).Error("sweep pass failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule sweep %q: %w", spec, err)
	}
	return nil
}

func (s *Scheduler) AddReconcile(spec string, reconciler *Reconciler) error {
	_, err := s.cron.AddFunc(spec, func() {
		_, _, _ = reconciler.Run(s.ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule reconcile %q: %w", spec, err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
