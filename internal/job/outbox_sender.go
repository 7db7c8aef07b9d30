package job

import (
	"context"
	"time"

	"creditsystem/internal/metrics"
	"creditsystem/internal/model"
	"creditsystem/internal/repository"
	"creditsystem/pkg/logger"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Sender is the broker side of the relay; *mq.Publisher implements it.
type Sender interface {
	Send(topic, key, value string, headers map[string]string) error
}

// OutboxSender relays committed outbox rows to Kafka. Delivery is at least
// once: a crash between send and status update resends the row, and
// consumers dedupe on the payload's ids.
type OutboxSender struct {
	outboxRepo    *repository.OutboxRepository
	sender        Sender
	stopCh        chan struct{}
	interval      time.Duration
	batchSize     int
	maxRetryCount int
	log           *logrus.Entry
}

func NewOutboxSender(db *gorm.DB, sender Sender, interval time.Duration, maxRetryCount int) *OutboxSender {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	return &OutboxSender{
		outboxRepo:    repository.NewOutboxRepository(db),
		sender:        sender,
		stopCh:        make(chan struct{}),
		interval:      interval,
		batchSize:     100,
		maxRetryCount: maxRetryCount,
		log:           logger.Job("outbox_sender"),
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.log.WithField("interval", s.interval).Info("outbox relay started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("context done, outbox relay exiting")
			return
		case <-s.stopCh:
			s.log.Info("outbox relay stopped")
			return
		case <-ticker.C:
			s.ProcessPending(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// ProcessPending sends one batch and returns how many messages went out.
func (s *OutboxSender) ProcessPending(ctx context.Context) int {
	messages, err := s.outboxRepo.FetchPending(ctx, s.batchSize)
	if err != nil {
		s.log.WithError(err).Error("load pending messages")
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	log := s.log.WithFields(logrus.Fields{
		"id":    msg.ID,
		"topic": msg.Topic,
		"key":   msg.MessageKey,
		"event": msg.EventType,
	})

	err := s.sender.Send(msg.Topic, msg.MessageKey, msg.Payload, map[string]string{"event": msg.EventType})
	if err == nil {
		metrics.RecordOutbox("sent")
		if updateErr := s.outboxRepo.MarkSent(ctx, msg.ID, time.Now()); updateErr != nil {
			log.WithError(updateErr).Error("mark message sent")
		} else {
			log.Debug("message sent")
		}
		return true
	}

	metrics.RecordOutbox("error")
	log.WithError(err).Warn("send failed")

	giveUp := msg.RetryCount+1 >= s.maxRetryCount
	if recordErr := s.outboxRepo.RecordFailure(ctx, msg.ID, err, giveUp); recordErr != nil {
		log.WithError(recordErr).Error("record send failure")
		return false
	}
	if giveUp {
		metrics.RecordOutbox("failed")
		log.WithField("retries", msg.RetryCount+1).Error("message gave up after max retries")
	}
	return false
}
