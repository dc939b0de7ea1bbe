package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fieldops-service/internal/model"
)

type TicketRepository struct {
	db *gorm.DB
}

func NewTicketRepository(db *gorm.DB) *TicketRepository {
	return &TicketRepository{db: db}
}

func (r *TicketRepository) Create(ctx context.Context, ticket *model.Ticket) error {
	return r.db.WithContext(ctx).Create(ticket).Error
}

func (r *TicketRepository) GetByID(ctx context.Context, id uint) (*model.Ticket, error) {
	var ticket model.Ticket
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&ticket).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, err
	}
	return &ticket, nil
}

// GetForUpdate reads the ticket row and, on postgres, holds a row lock on it
// until the surrounding transaction ends. Every write to a ticket's status or
// roster goes through this first, which serializes writers per ticket.
// SQLite has no row locks; its single writer gives the same ordering.
func (r *TicketRepository) GetForUpdate(ctx context.Context, id uint) (*model.Ticket, error) {
	query := r.db.WithContext(ctx)
	if r.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var ticket model.Ticket
	err := query.Where("id = ?", id).First(&ticket).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, err
	}
	return &ticket, nil
}

func (r *TicketRepository) Update(ctx context.Context, ticket *model.Ticket) error {
	return r.db.WithContext(ctx).Save(ticket).Error
}

func (r *TicketRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&model.Ticket{}, id).Error
}

// HasDependents reports whether any roster or escalation row references the
// ticket. The notification outbox does not count; it outlives the ticket.
func (r *TicketRepository) HasDependents(ctx context.Context, id uint) (bool, error) {
	for _, m := range []interface{}{&model.TicketAssignment{}, &model.Escalation{}} {
		var count int64
		if err := r.db.WithContext(ctx).Model(m).Where("ticket_id = ?", id).Count(&count).Error; err != nil {
			return false, err
		}
		if count > 0 {
			return true, nil
		}
	}
	return false, nil
}

type TicketListFilter struct {
	Status       *model.TicketStatus
	Priority     *model.TicketPriority
	CustomerID   *uint
	TechnicianID *uint
	Limit        int
	Offset       int
}

func (r *TicketRepository) List(ctx context.Context, filter TicketListFilter) ([]model.Ticket, error) {
	var tickets []model.Ticket
	query := r.db.WithContext(ctx).Model(&model.Ticket{})

	if filter.Status != nil {
		query = query.Where("tickets.status = ?", *filter.Status)
	}
	if filter.Priority != nil {
		query = query.Where("tickets.priority = ?", *filter.Priority)
	}
	if filter.CustomerID != nil {
		query = query.Where("tickets.customer_id = ?", *filter.CustomerID)
	}
	if filter.TechnicianID != nil {
		query = query.Joins("JOIN ticket_assignments ta ON ta.ticket_id = tickets.id").
			Where("ta.technician_id = ? AND ta.is_active = ?", *filter.TechnicianID, true)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	if err := query.Order("tickets.created_at DESC").Order("tickets.id DESC").Find(&tickets).Error; err != nil {
		return nil, err
	}

	return tickets, nil
}

const priorityRankOrder = "CASE priority WHEN 'urgent' THEN 4 WHEN 'high' THEN 3 WHEN 'normal' THEN 2 WHEN 'low' THEN 1 ELSE 0 END DESC"

// ListByStatuses returns tickets in any of the given statuses, most urgent
// priority first and oldest first within a priority.
func (r *TicketRepository) ListByStatuses(ctx context.Context, statuses []model.TicketStatus) ([]model.Ticket, error) {
	var tickets []model.Ticket
	err := r.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order(priorityRankOrder).
		Order("created_at ASC").
		Order("id ASC").
		Find(&tickets).Error
	return tickets, err
}
