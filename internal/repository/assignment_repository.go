package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fieldops-service/internal/model"
)

type AssignmentRepository struct {
	db *gorm.DB
}

func NewAssignmentRepository(db *gorm.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// Upsert activates the (ticket, technician) row, creating it on first use
// and reviving it with the new role otherwise.
func (r *AssignmentRepository) Upsert(ctx context.Context, assignment *model.TicketAssignment) (*model.TicketAssignment, error) {
	assignment.IsActive = true
	assignment.UnassignedAt = nil
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "ticket_id"}, {Name: "technician_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"role", "is_active", "assigned_by", "assigned_at", "unassigned_at", "notes", "updated_at",
		}),
	}).Create(assignment).Error
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, assignment.TicketID, assignment.TechnicianID)
}

// Get returns the roster row for the pair, active or not, or nil.
func (r *AssignmentRepository) Get(ctx context.Context, ticketID, technicianID uint) (*model.TicketAssignment, error) {
	var assignment model.TicketAssignment
	err := r.db.WithContext(ctx).
		Where("ticket_id = ? AND technician_id = ?", ticketID, technicianID).
		First(&assignment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &assignment, nil
}

func (r *AssignmentRepository) ListActiveByTicketID(ctx context.Context, ticketID uint) ([]model.TicketAssignment, error) {
	var assignments []model.TicketAssignment
	err := r.db.WithContext(ctx).
		Where("ticket_id = ? AND is_active = ?", ticketID, true).
		Order("assigned_at ASC").
		Order("id ASC").
		Find(&assignments).Error
	return assignments, err
}

// ListByTicketID includes deactivated rows, newest first.
func (r *AssignmentRepository) ListByTicketID(ctx context.Context, ticketID uint) ([]model.TicketAssignment, error) {
	var assignments []model.TicketAssignment
	err := r.db.WithContext(ctx).
		Where("ticket_id = ?", ticketID).
		Order("assigned_at DESC").
		Order("id DESC").
		Find(&assignments).Error
	return assignments, err
}

func (r *AssignmentRepository) FindActiveLead(ctx context.Context, ticketID uint) (*model.TicketAssignment, error) {
	var assignment model.TicketAssignment
	err := r.db.WithContext(ctx).
		Where("ticket_id = ? AND is_active = ? AND role = ?", ticketID, true, model.TeamRoleLead).
		First(&assignment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &assignment, nil
}

func (r *AssignmentRepository) DeactivateAll(ctx context.Context, ticketID uint, now time.Time) error {
	return r.db.WithContext(ctx).Model(&model.TicketAssignment{}).
		Where("ticket_id = ? AND is_active = ?", ticketID, true).
		Updates(map[string]interface{}{
			"is_active":     false,
			"unassigned_at": now,
			"updated_at":    now,
		}).Error
}

func (r *AssignmentRepository) Deactivate(ctx context.Context, ticketID, technicianID uint, now time.Time) error {
	return r.db.WithContext(ctx).Model(&model.TicketAssignment{}).
		Where("ticket_id = ? AND technician_id = ? AND is_active = ?", ticketID, technicianID, true).
		Updates(map[string]interface{}{
			"is_active":     false,
			"unassigned_at": now,
			"updated_at":    now,
		}).Error
}

func (r *AssignmentRepository) SetRole(ctx context.Context, ticketID, technicianID uint, role model.TeamRole, now time.Time) error {
	return r.db.WithContext(ctx).Model(&model.TicketAssignment{}).
		Where("ticket_id = ? AND technician_id = ? AND is_active = ?", ticketID, technicianID, true).
		Updates(map[string]interface{}{
			"role":       role,
			"updated_at": now,
		}).Error
}

// CountOpenTickets returns, per technician, the number of non-terminal
// tickets they are actively rostered on.
func (r *AssignmentRepository) CountOpenTickets(ctx context.Context, technicianIDs []uint) (map[uint]int, error) {
	out := make(map[uint]int, len(technicianIDs))
	if len(technicianIDs) == 0 {
		return out, nil
	}

	var rows []struct {
		TechnicianID uint
		OpenCount    int
	}
	err := r.db.WithContext(ctx).
		Table("ticket_assignments AS ta").
		Select("ta.technician_id AS technician_id, COUNT(*) AS open_count").
		Joins("JOIN tickets t ON t.id = ta.ticket_id").
		Where("ta.is_active = ? AND ta.technician_id IN ? AND t.status IN ?", true, technicianIDs, model.OpenWorkStatuses).
		Group("ta.technician_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.TechnicianID] = row.OpenCount
	}
	return out, nil
}
