package job

import (
	"context"
	"time"

	"creditsystem/internal/metrics"
	"creditsystem/internal/service"
	"creditsystem/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// Reconciler checks balance == sum(ledger) and reserved == sum(active holds)
// for every account. With rebuild set, drifted projections are recomputed
// from the ledger.
type Reconciler struct {
	ledger    *service.LedgerService
	rdb       *redis.Client
	batchSize int
	rebuild   bool
}

func NewReconciler(ledger *service.LedgerService, rdb *redis.Client, batchSize int, rebuild bool) *Reconciler {
	return &Reconciler{ledger: ledger, rdb: rdb, batchSize: batchSize, rebuild: rebuild}
}

// Run returns the number of accounts checked and the inconsistent ones.
func (r *Reconciler) Run(ctx context.Context) (int, []*service.Reconciliation, error) {
	log := logger.Job("reconcile")

	lease, ok, err := acquireLease(ctx, r.rdb, "reconcile", 30*time.Minute)
	if err != nil {
		return 0, nil, err
	}
	if !ok {
		log.Debug("another replica is reconciling, skipping")
		return 0, nil, nil
	}
	defer func() {
		if err := release(lease); err != nil {
			log.WithError(err).Warn("release reconcile lock")
		}
	}()

	checked, mismatched, err := r.ledger.ReconcileAll(ctx, r.batchSize)
	if err != nil {
		log.WithError(err).Error("reconcile pass aborted")
		return checked, mismatched, err
	}

	for _, m := range mismatched {
		metrics.RecordReconcileMismatch()
		entry := log.WithFields(logrus.Fields{
			"user_id":    m.UserID,
			"balance":    m.Balance,
			"ledger_sum": m.LedgerSum,
			"reserved":   m.Reserved,
			"held_sum":   m.HeldSum,
		})
		entry.Error("projection out of sync with ledger")

		if r.rebuild {
			if _, err := r.ledger.RebuildProjection(ctx, m.UserID); err != nil {
				entry.WithError(err).Error("rebuild projection failed")
			}
		}
	}

	log.WithFields(logrus.Fields{"checked": checked, "mismatched": len(mismatched)}).Info("reconcile pass finished")
	return checked, mismatched, nil
}
