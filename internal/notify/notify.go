// Package notify is the boundary to the notification delivery channel.
//
// The service hands over an event kind, the ticket or invoice it concerns and
// a recipient class. Rendering and delivery belong to the channel, which
// reports progress back through the delivery-status webhook.
package notify

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

type EventKind string

const (
	EventTicketCreated       EventKind = "ticket_created"
	EventTicketStatusChanged EventKind = "ticket_status_changed"
	EventTicketTeamAssigned  EventKind = "ticket_team_assigned"
	EventSLAWarning          EventKind = "sla_warning"
)

type RecipientClass string

const (
	RecipientCustomer   RecipientClass = "customer"
	RecipientTechnician RecipientClass = "technician"
	RecipientDispatcher RecipientClass = "dispatcher"
)

type Message struct {
	NotificationID uint              `json:"notification_id,omitempty"`
	EventKind      EventKind         `json:"event_kind"`
	TicketID       *uint             `json:"ticket_id,omitempty"`
	InvoiceID      *uint             `json:"invoice_id,omitempty"`
	RecipientClass RecipientClass    `json:"recipient_class"`
	TechnicianID   *uint             `json:"technician_id,omitempty"`
	Data           map[string]string `json:"data,omitempty"`
	OccurredAt     time.Time         `json:"occurred_at"`
}

func TicketMessage(kind EventKind, ticketID uint, recipient RecipientClass, at time.Time) Message {
	id := ticketID
	return Message{
		EventKind:      kind,
		TicketID:       &id,
		RecipientClass: recipient,
		OccurredAt:     at.UTC(),
	}
}

func (m Message) With(key, value string) Message {
	data := make(map[string]string, len(m.Data)+1)
	for k, v := range m.Data {
		data[k] = v
	}
	data[key] = value
	m.Data = data
	return m
}

func (m Message) ForTechnician(id uint) Message {
	m.TechnicianID = &id
	return m
}

// Receipt identifies an accepted hand-off.
type Receipt struct {
	NotificationID    uint
	ProviderMessageID string
}

type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) (Receipt, error)
}

// LogDispatcher only logs. Used when no delivery channel is configured.
type LogDispatcher struct {
	log zerolog.Logger
}

func NewLogDispatcher(log zerolog.Logger) *LogDispatcher {
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Dispatch(_ context.Context, msg Message) (Receipt, error) {
	ev := d.log.Info().
		Str("event_kind", string(msg.EventKind)).
		Str("recipient_class", string(msg.RecipientClass))
	if msg.TicketID != nil {
		ev = ev.Uint("ticket_id", *msg.TicketID)
	}
	if msg.TechnicianID != nil {
		ev = ev.Uint("technician_id", *msg.TechnicianID)
	}
	ev.Interface("data", msg.Data).Msg("notification (no delivery channel configured)")
	return Receipt{ProviderMessageID: "log-" + strconv.FormatUint(uint64(msg.NotificationID), 10)}, nil
}
