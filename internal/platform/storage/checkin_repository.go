package storage

import (
	"context"
	"time"

	"gorm.io/gorm"

	"biogate-server-go/internal/platform/errors"
)

// CheckinQueueRepository persists transiently-failed punches between retries.
type CheckinQueueRepository interface {
	Enqueue(ctx context.Context, checkin *PendingCheckin) error
	ListPending(ctx context.Context) ([]PendingCheckin, error)
	RecordAttempt(ctx context.Context, id uint, lastError string) error
	Remove(ctx context.Context, id uint) error
	MarkFailed(ctx context.Context, checkin *PendingCheckin, reason string) error
	ListFailed(ctx context.Context) ([]FailedCheckin, error)
}

type checkinQueueRepository struct {
	db *gorm.DB
}

func NewCheckinQueueRepository(db *gorm.DB) CheckinQueueRepository {
	return &checkinQueueRepository{
		db: db,
	}
}

func (r *checkinQueueRepository) Enqueue(ctx context.Context, checkin *PendingCheckin) error {
	if checkin.EnqueuedAt.IsZero() {
		checkin.EnqueuedAt = time.Now()
	}
	if err := r.db.WithContext(ctx).Create(checkin).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "checkin.enqueue", "failed to enqueue checkin", err)
	}
	return nil
}

// ListPending returns the whole queue, oldest first. The scheduler filters
// by attempt count and age.
func (r *checkinQueueRepository) ListPending(ctx context.Context) ([]PendingCheckin, error) {
	var checkins []PendingCheckin
	if err := r.db.WithContext(ctx).Order("enqueued_at ASC").Find(&checkins).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "checkin.list_pending", "failed to list pending checkins", err)
	}
	return checkins, nil
}

func (r *checkinQueueRepository) RecordAttempt(ctx context.Context, id uint, lastError string) error {
	result := r.db.WithContext(ctx).Model(&PendingCheckin{}).Where("id = ?", id).Updates(map[string]interface{}{
		"attempts":    gorm.Expr("attempts + 1"),
		"last_error":  lastError,
		"last_try_at": time.Now(),
	})
	if result.Error != nil {
		return errors.Wrap(errors.KindStorage, "checkin.record_attempt", "failed to record attempt", result.Error)
	}
	return nil
}

func (r *checkinQueueRepository) Remove(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Delete(&PendingCheckin{}, id).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "checkin.remove", "failed to remove checkin", err)
	}
	return nil
}

// MarkFailed moves a pending checkin to the failed table in one transaction.
func (r *checkinQueueRepository) MarkFailed(ctx context.Context, checkin *PendingCheckin, reason string) error {
	failed := &FailedCheckin{
		EnrollID:  checkin.EnrollID,
		Name:      checkin.Name,
		PunchTime: checkin.PunchTime,
		DeviceID:  checkin.DeviceID,
		Payload:   checkin.Payload,
		Attempts:  checkin.Attempts,
		Reason:    reason,
		FailedAt:  time.Now(),
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(failed).Error; err != nil {
			return err
		}
		return tx.Delete(&PendingCheckin{}, checkin.ID).Error
	})
	if err != nil {
		return errors.Wrap(errors.KindStorage, "checkin.mark_failed", "failed to move checkin to failed table", err)
	}
	return nil
}

func (r *checkinQueueRepository) ListFailed(ctx context.Context) ([]FailedCheckin, error) {
	var checkins []FailedCheckin
	if err := r.db.WithContext(ctx).Order("failed_at DESC").Find(&checkins).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "checkin.list_failed", "failed to list failed checkins", err)
	}
	return checkins, nil
}
