package delivery

import (
	"context"
	"time"

	"biogate-server-go/internal/platform/logging"
	"biogate-server-go/internal/platform/storage"
)

const retryTag = "Retry"

// SchedulerConfig caps how long and how often a punch is retried.
type SchedulerConfig struct {
	Interval    time.Duration
	MaxAttempts int
	MaxAge      time.Duration
}

// Scheduler periodically redrives the pending-checkin queue. Punches that
// exhaust their attempt or age budget move to the failed table.
type Scheduler struct {
	cfg    SchedulerConfig
	client Client
	queue  storage.CheckinQueueRepository
	logger *logging.Logger
}

func NewScheduler(cfg SchedulerConfig, client Client, queue storage.CheckinQueueRepository, logger *logging.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 180 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	return &Scheduler{
		cfg:    cfg,
		client: client,
		queue:  queue,
		logger: logger,
	}
}

// Run drains the queue every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.InfoTag(retryTag, "retry scheduler started", map[string]interface{}{
		"interval":     s.cfg.Interval.String(),
		"max_attempts": s.cfg.MaxAttempts,
		"max_age":      s.cfg.MaxAge.String(),
	})

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoTag(retryTag, "retry scheduler stopped")
			return
		case <-ticker.C:
			s.DrainOnce(ctx)
		}
	}
}

// DrainOnce walks the pending queue a single time.
func (s *Scheduler) DrainOnce(ctx context.Context) {
	pending, err := s.queue.ListPending(ctx)
	if err != nil {
		s.logger.ErrorTag(retryTag, "failed to list pending checkins: %v", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	now := time.Now()
	for i := range pending {
		checkin := pending[i]

		if checkin.Attempts >= s.cfg.MaxAttempts {
			s.giveUp(ctx, &checkin, "max retry attempts exceeded")
			continue
		}
		if now.Sub(checkin.EnqueuedAt) > s.cfg.MaxAge {
			s.giveUp(ctx, &checkin, "retry window expired")
			continue
		}

		status := s.client.Deliver(ctx, Punch{
			EnrollID:  checkin.EnrollID,
			Name:      checkin.Name,
			PunchTime: checkin.PunchTime,
			DeviceID:  checkin.DeviceID,
		})

		switch {
		case status == StatusDelivered:
			if err := s.queue.Remove(ctx, checkin.ID); err != nil {
				s.logger.ErrorTag(retryTag, "failed to remove delivered checkin: %v", err)
				continue
			}
			s.logger.InfoTag(retryTag, "queued punch delivered", map[string]interface{}{
				"enroll_id": checkin.EnrollID,
				"attempts":  checkin.Attempts + 1,
			})
		case status.Transient():
			if err := s.queue.RecordAttempt(ctx, checkin.ID, string(status)); err != nil {
				s.logger.ErrorTag(retryTag, "failed to record retry attempt: %v", err)
			}
		default:
			// Permanent rejection discovered on retry.
			s.giveUp(ctx, &checkin, string(status))
		}

		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Scheduler) giveUp(ctx context.Context, checkin *storage.PendingCheckin, reason string) {
	if err := s.queue.MarkFailed(ctx, checkin, reason); err != nil {
		s.logger.ErrorTag(retryTag, "failed to move checkin to failed table: %v", err)
		return
	}
	s.logger.WarnTag(retryTag, "giving up on punch", map[string]interface{}{
		"enroll_id": checkin.EnrollID,
		"device":    checkin.DeviceID,
		"attempts":  checkin.Attempts,
		"reason":    reason,
	})
}
