package job

import (
	"context"
	"fmt"
	"time"

	"creditsystem/internal/metrics"
	"creditsystem/internal/service"
	"creditsystem/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const sweepLeaseTTL = 5 * time.Minute

// SweepStats counts what one sweep pass changed.
type SweepStats struct {
	Listings map[string]int
	Offers   int64
	Trades   int
	Errors   int
}

// ExpirySweeper closes listings, offers and trades whose expiry has passed.
// Every transition is a status check-and-set, so overlapping or repeated
// passes leave already-closed rows alone.
type ExpirySweeper struct {
	market    *service.MarketplaceService
	trades    *service.TradeService
	rdb       *redis.Client
	batchSize int
}

func NewExpirySweeper(market *service.MarketplaceService, trades *service.TradeService, rdb *redis.Client, batchSize int) *ExpirySweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ExpirySweeper{
		market:    market,
		trades:    trades,
		rdb:       rdb,
		batchSize: batchSize,
	}
}

// Run performs one pass. With Redis configured only one replica sweeps at a
// time; the others skip the pass.
func (j *ExpirySweeper) Run(ctx context.Context) (*SweepStats, error) {
	log := logger.Job("expiry_sweep")

	lease, ok, err := acquireLease(ctx, j.rdb, "expiry_sweep", sweepLeaseTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		log.Debug("another replica is sweeping, skipping")
		return &SweepStats{Listings: map[string]int{}}, nil
	}
	defer func() {
		if err := release(lease); err != nil {
			log.WithError(err).Warn("release sweep lock")
		}
	}()

	now := time.Now()
	stats := &SweepStats{Listings: make(map[string]int)}

	listings, err := j.market.DueListings(ctx, now, j.batchSize)
	if err != nil {
		return nil, fmt.Errorf("load due listings: %w", err)
	}
	for _, l := range listings {
		status, err := j.market.ExpireListing(ctx, l.ID)
		if err != nil {
			stats.Errors++
			log.WithError(err).WithField("listing_id", l.ID).Warn("expire listing failed")
			continue
		}
		stats.Listings[status]++
	}

	if stats.Offers, err = j.market.ExpireOffers(ctx, now); err != nil {
		stats.Errors++
		log.WithError(err).Warn("expire offers failed")
	}

	// settling auctions can take a while; keep the lease before the trade phase
	if err := renew(ctx, lease); err != nil {
		return stats, fmt.Errorf("renew sweep lock: %w", err)
	}

	trades, err := j.trades.DueTrades(ctx, now, j.batchSize)
	if err != nil {
		return nil, fmt.Errorf("load due trades: %w", err)
	}
	for _, t := range trades {
		moved, err := j.trades.ExpireTrade(ctx, t.ID)
		if err != nil {
			stats.Errors++
			log.WithError(err).WithField("trade_id", t.ID).Warn("expire trade failed")
			continue
		}
		if moved {
			stats.Trades++
		}
	}

	for status, n := range stats.Listings {
		metrics.RecordSweep("listing", status, n)
	}
	metrics.RecordSweep("offer", "EXPIRED", int(stats.Offers))
	metrics.RecordSweep("trade", "EXPIRED", stats.Trades)

	if len(listings) > 0 || stats.Offers > 0 || stats.Trades > 0 {
		log.WithFields(logrus.Fields{
			"listings": stats.Listings,
			"offers":   stats.Offers,
			"trades":   stats.Trades,
			"errors":   stats.Errors,
		}).Info("sweep pass finished")
	}
	return stats, nil
}
