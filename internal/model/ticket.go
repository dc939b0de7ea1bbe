package model

import (
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusAssigned   TicketStatus = "assigned"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusOnHold     TicketStatus = "on_hold"
	TicketStatusCompleted  TicketStatus = "completed"
	TicketStatusCancelled  TicketStatus = "cancelled"
)

// IsTerminal reports whether no further work happens on the ticket without a reopen.
func (s TicketStatus) IsTerminal() bool {
	return s == TicketStatusCompleted || s == TicketStatusCancelled
}

func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusOpen, TicketStatusAssigned, TicketStatusInProgress,
		TicketStatusOnHold, TicketStatusCompleted, TicketStatusCancelled:
		return true
	}
	return false
}

// SLATrackedStatuses are the statuses scanned by the SLA monitor.
var SLATrackedStatuses = []TicketStatus{
	TicketStatusOpen,
	TicketStatusAssigned,
	TicketStatusInProgress,
}

// OpenWorkStatuses count towards a technician's current load.
var OpenWorkStatuses = []TicketStatus{
	TicketStatusOpen,
	TicketStatusAssigned,
	TicketStatusInProgress,
	TicketStatusOnHold,
}

type TicketType string

const (
	TicketTypeInstallation TicketType = "installation"
	TicketTypeRepair       TicketType = "repair"
	TicketTypeMaintenance  TicketType = "maintenance"
	TicketTypeUpgrade      TicketType = "upgrade"
	TicketTypeDowngrade    TicketType = "downgrade"
	TicketTypeWifiSetup    TicketType = "wifi_setup"
	TicketTypeDismantle    TicketType = "dismantle"
)

func (t TicketType) Valid() bool {
	switch t {
	case TicketTypeInstallation, TicketTypeRepair, TicketTypeMaintenance, TicketTypeUpgrade,
		TicketTypeDowngrade, TicketTypeWifiSetup, TicketTypeDismantle:
		return true
	}
	return false
}

type TicketPriority string

const (
	PriorityLow    TicketPriority = "low"
	PriorityNormal TicketPriority = "normal"
	PriorityHigh   TicketPriority = "high"
	PriorityUrgent TicketPriority = "urgent"
)

// ParsePriority accepts "critical" as an alias of urgent.
func ParsePriority(raw string) (TicketPriority, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "low":
		return PriorityLow, true
	case "normal", "medium":
		return PriorityNormal, true
	case "high":
		return PriorityHigh, true
	case "urgent", "critical":
		return PriorityUrgent, true
	}
	return "", false
}

// Rank orders priorities, higher is more urgent.
func (p TicketPriority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

type Ticket struct {
	ID                   uint                        `gorm:"primaryKey" json:"id"`
	TicketNumber         string                      `gorm:"type:varchar(32);uniqueIndex;not null" json:"ticket_number"`
	CustomerID           uint                        `gorm:"not null;index" json:"customer_id"`
	Type                 TicketType                  `gorm:"type:varchar(32);not null" json:"type"`
	Priority             TicketPriority              `gorm:"type:varchar(16);not null;index" json:"priority"`
	Status               TicketStatus                `gorm:"type:varchar(16);not null;index" json:"status"`
	Title                string                      `gorm:"type:varchar(255);not null" json:"title"`
	Description          string                      `gorm:"type:text;not null" json:"description"`
	RequiredSkills       datatypes.JSONSlice[string] `json:"required_skills"`
	ServiceZone          *string                     `gorm:"type:varchar(64);index" json:"service_zone"`
	Latitude             *float64                    `json:"latitude"`
	Longitude            *float64                    `json:"longitude"`
	AssignedTechnicianID *uint                       `gorm:"index" json:"assigned_technician_id"`
	SLADueDate           time.Time                   `gorm:"not null;index" json:"sla_due_date"`
	CompletedAt          *time.Time                  `json:"completed_at"`
	ResolutionNotes      *string                     `gorm:"type:text" json:"resolution_notes"`
	CreatedByID          *string                     `gorm:"type:varchar(64)" json:"created_by_id"`
	CreatedAt            time.Time                   `gorm:"not null;index" json:"created_at"`
	UpdatedAt            time.Time                   `json:"updated_at"`
}

func (Ticket) TableName() string {
	return "tickets"
}

func (t *Ticket) BeforeCreate(tx *gorm.DB) error {
	if t.Status == "" {
		t.Status = TicketStatusOpen
	}
	return nil
}

// HasCoordinates reports whether both latitude and longitude are known.
func (t *Ticket) HasCoordinates() bool {
	return t.Latitude != nil && t.Longitude != nil
}
