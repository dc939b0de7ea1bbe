package model

import (
	"time"

	"gorm.io/gorm"
)

type TeamRole string

const (
	TeamRoleLead    TeamRole = "lead"
	TeamRoleMember  TeamRole = "member"
	TeamRoleSupport TeamRole = "support"
)

func (r TeamRole) Valid() bool {
	switch r {
	case TeamRoleLead, TeamRoleMember, TeamRoleSupport:
		return true
	}
	return false
}

// TicketAssignment is one roster row. Rows are deactivated, never deleted,
// so the table keeps the full assignment history of a ticket.
type TicketAssignment struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	TicketID     uint       `gorm:"not null;uniqueIndex:idx_ticket_assignments_ticket_technician" json:"ticket_id"`
	TechnicianID uint       `gorm:"not null;uniqueIndex:idx_ticket_assignments_ticket_technician;index" json:"technician_id"`
	Role         TeamRole   `gorm:"type:varchar(16);not null" json:"role"`
	IsActive     bool       `gorm:"not null" json:"is_active"`
	AssignedBy   *string    `gorm:"type:varchar(64)" json:"assigned_by"`
	AssignedAt   time.Time  `gorm:"not null" json:"assigned_at"`
	UnassignedAt *time.Time `json:"unassigned_at"`
	Notes        *string    `gorm:"type:text" json:"notes"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (TicketAssignment) TableName() string {
	return "ticket_assignments"
}

func (ta *TicketAssignment) BeforeCreate(tx *gorm.DB) error {
	if ta.AssignedAt.IsZero() {
		ta.AssignedAt = time.Now().UTC()
	}
	return nil
}
