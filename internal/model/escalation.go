package model

import (
	"time"
)

const EscalationKindSLAWarning = "sla_warning"

// Escalation is an append-only audit row answering "was a warning of this
// kind sent for this ticket recently".
type Escalation struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	TicketID         uint      `gorm:"not null;index:idx_escalations_ticket_kind" json:"ticket_id"`
	Kind             string    `gorm:"type:varchar(32);not null;index:idx_escalations_ticket_kind" json:"kind"`
	RemainingMinutes int       `gorm:"not null" json:"remaining_minutes"`
	NotificationID   *uint     `json:"notification_id"`
	CreatedAt        time.Time `gorm:"not null;index" json:"created_at"`
}

func (Escalation) TableName() string {
	return "escalations"
}

type DeliveryStatus string

const (
	DeliveryStatusQueued    DeliveryStatus = "queued"
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryStatusQueued, DeliveryStatusSent, DeliveryStatusDelivered, DeliveryStatusFailed:
		return true
	}
	return false
}

// Delivered and failed are both final.
var deliveryRank = map[DeliveryStatus]int{
	DeliveryStatusQueued:    0,
	DeliveryStatusSent:      1,
	DeliveryStatusDelivered: 2,
	DeliveryStatusFailed:    2,
}

// DeliveryStatusesBefore lists the statuses a notification may move to s from.
func DeliveryStatusesBefore(s DeliveryStatus) []DeliveryStatus {
	rank, ok := deliveryRank[s]
	if !ok {
		return nil
	}
	var out []DeliveryStatus
	for _, prev := range []DeliveryStatus{DeliveryStatusQueued, DeliveryStatusSent, DeliveryStatusDelivered, DeliveryStatusFailed} {
		if deliveryRank[prev] < rank {
			out = append(out, prev)
		}
	}
	return out
}

// Notification records one hand-off to the delivery channel. The gateway
// reports delivery progress back through the status webhook.
type Notification struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	EventKind         string         `gorm:"type:varchar(48);not null;index" json:"event_kind"`
	TicketID          *uint          `gorm:"index" json:"ticket_id"`
	InvoiceID         *uint          `gorm:"index" json:"invoice_id"`
	TechnicianID      *uint          `json:"technician_id"`
	RecipientClass    string         `gorm:"type:varchar(32);not null" json:"recipient_class"`
	Status            DeliveryStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	ProviderMessageID *string        `gorm:"type:varchar(128);index" json:"provider_message_id"`
	Error             *string        `gorm:"type:text" json:"error"`
	DeliveredAt       *time.Time     `json:"delivered_at"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

func (Notification) TableName() string {
	return "notifications"
}
