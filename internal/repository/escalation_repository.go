package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"fieldops-service/internal/model"
)

// EscalationRepository is append-only.
type EscalationRepository struct {
	db *gorm.DB
}

func NewEscalationRepository(db *gorm.DB) *EscalationRepository {
	return &EscalationRepository{db: db}
}

func (r *EscalationRepository) Create(ctx context.Context, escalation *model.Escalation) error {
	return r.db.WithContext(ctx).Create(escalation).Error
}

// Latest returns the most recent escalation of kind for the ticket, or nil.
func (r *EscalationRepository) Latest(ctx context.Context, ticketID uint, kind string) (*model.Escalation, error) {
	var escalation model.Escalation
	err := r.db.WithContext(ctx).
		Where("ticket_id = ? AND kind = ?", ticketID, kind).
		Order("created_at DESC").
		Order("id DESC").
		First(&escalation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &escalation, nil
}

func (r *EscalationRepository) ListByTicketID(ctx context.Context, ticketID uint) ([]model.Escalation, error) {
	var escalations []model.Escalation
	err := r.db.WithContext(ctx).
		Where("ticket_id = ?", ticketID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&escalations).Error
	return escalations, err
}
