package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"fieldops-service/internal/model"
)

type NotificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(ctx context.Context, n *model.Notification) error {
	return r.db.WithContext(ctx).Create(n).Error
}

// MarkSent records the hand-off. A status the channel already reported
// through the webhook is left alone.
func (r *NotificationRepository) MarkSent(ctx context.Context, id uint, providerMessageID string, now time.Time) error {
	db := r.db.WithContext(ctx)
	if providerMessageID != "" {
		err := db.Model(&model.Notification{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{"provider_message_id": providerMessageID}).Error
		if err != nil {
			return err
		}
	}
	return db.Model(&model.Notification{}).
		Where("id = ? AND status = ?", id, model.DeliveryStatusQueued).
		Updates(map[string]interface{}{
			"status":     model.DeliveryStatusSent,
			"updated_at": now,
		}).Error
}

func (r *NotificationRepository) MarkFailed(ctx context.Context, id uint, reason string, now time.Time) error {
	return r.db.WithContext(ctx).Model(&model.Notification{}).
		Where("id = ? AND status = ?", id, model.DeliveryStatusQueued).
		Updates(map[string]interface{}{
			"status":     model.DeliveryStatusFailed,
			"error":      reason,
			"updated_at": now,
		}).Error
}

// DetachTicket keeps the outbox rows of a deleted ticket without the reference.
func (r *NotificationRepository) DetachTicket(ctx context.Context, ticketID uint) error {
	return r.db.WithContext(ctx).Model(&model.Notification{}).
		Where("ticket_id = ?", ticketID).
		Update("ticket_id", nil).Error
}

type DeliveryUpdate struct {
	ID                *uint
	ProviderMessageID *string
	Status            model.DeliveryStatus
	Error             *string
}

// ApplyDeliveryUpdate records a status reported by the delivery channel.
// Only forward moves are applied; a stale or repeated report is a no-op.
// found is false when no notification matches the update.
func (r *NotificationRepository) ApplyDeliveryUpdate(ctx context.Context, u DeliveryUpdate, now time.Time) (found bool, err error) {
	var match func(db *gorm.DB) *gorm.DB
	switch {
	case u.ID != nil:
		match = func(db *gorm.DB) *gorm.DB { return db.Where("id = ?", *u.ID) }
	case u.ProviderMessageID != nil:
		match = func(db *gorm.DB) *gorm.DB { return db.Where("provider_message_id = ?", *u.ProviderMessageID) }
	default:
		return false, nil
	}

	if from := model.DeliveryStatusesBefore(u.Status); len(from) > 0 {
		updates := map[string]interface{}{
			"status":     u.Status,
			"updated_at": now,
		}
		if u.Status == model.DeliveryStatusDelivered {
			updates["delivered_at"] = now
		}
		if u.Error != nil {
			updates["error"] = *u.Error
		}

		res := r.db.WithContext(ctx).Model(&model.Notification{}).
			Scopes(match).
			Where("status IN ?", from).
			Updates(updates)
		if res.Error != nil {
			return false, res.Error
		}
		if res.RowsAffected > 0 {
			return true, nil
		}
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&model.Notification{}).Scopes(match).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *NotificationRepository) ListByTicketID(ctx context.Context, ticketID uint) ([]model.Notification, error) {
	var notifications []model.Notification
	err := r.db.WithContext(ctx).
		Where("ticket_id = ?", ticketID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&notifications).Error
	return notifications, err
}
