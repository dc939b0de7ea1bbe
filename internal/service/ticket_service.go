package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"fieldops-service/internal/metrics"
	"fieldops-service/internal/model"
	"fieldops-service/internal/notify"
	"fieldops-service/internal/repository"
	"fieldops-service/internal/sla"
	"fieldops-service/internal/utils"
)

// allowedTransitions lists the targets reachable through Transition.
// "assigned" is entered only by roster changes, so work starts from there.
// Open keeps completed only to report the missing lead. Terminal statuses
// leave only through Reopen.
var allowedTransitions = map[model.TicketStatus][]model.TicketStatus{
	model.TicketStatusOpen:       {model.TicketStatusCompleted, model.TicketStatusCancelled},
	model.TicketStatusAssigned:   {model.TicketStatusInProgress, model.TicketStatusOnHold, model.TicketStatusCompleted, model.TicketStatusCancelled},
	model.TicketStatusInProgress: {model.TicketStatusOnHold, model.TicketStatusCompleted, model.TicketStatusCancelled},
	model.TicketStatusOnHold:     {model.TicketStatusInProgress, model.TicketStatusCancelled},
}

func canTransition(from, to model.TicketStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type TicketService struct {
	store    *repository.Store
	notifier notifier
	metrics  *metrics.Metrics
	log      zerolog.Logger
	now      func() time.Time
	numbers  func(time.Time) string
}

// ticketNumberAttempts bounds retries on a ticket number collision.
const ticketNumberAttempts = 5

func NewTicketService(store *repository.Store, dispatcher notify.Dispatcher, m *metrics.Metrics, log zerolog.Logger) *TicketService {
	return &TicketService{
		store:    store,
		notifier: newNotifier(dispatcher, log),
		metrics:  m,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
		numbers:  utils.NewTicketNumber,
	}
}

func (s *TicketService) WithClock(now func() time.Time) *TicketService {
	s.now = now
	return s
}

func (s *TicketService) WithTicketNumbers(next func(time.Time) string) *TicketService {
	s.numbers = next
	return s
}

type CreateTicketInput struct {
	CustomerID     uint
	Type           string
	Priority       string
	Title          string
	Description    string
	RequiredSkills []string
	ServiceZone    *string
	Latitude       *float64
	Longitude      *float64
}

func (s *TicketService) Create(ctx context.Context, principal model.Principal, input CreateTicketInput) (*model.Ticket, error) {
	if !principal.CanDispatch() {
		return nil, ErrPermissionDenied
	}

	ticketType := model.TicketType(strings.ToLower(strings.TrimSpace(input.Type)))
	if input.Type == "" {
		return nil, invalidField("type", "is required")
	}
	if !ticketType.Valid() {
		return nil, invalidField("type", fmt.Sprintf("unknown ticket type %q", input.Type))
	}
	if input.Priority == "" {
		return nil, invalidField("priority", "is required")
	}
	priority, ok := model.ParsePriority(input.Priority)
	if !ok {
		return nil, invalidField("priority", fmt.Sprintf("unknown priority %q", input.Priority))
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, invalidField("title", "is required")
	}
	if len(title) > 255 {
		return nil, invalidField("title", "must be at most 255 characters")
	}
	description := strings.TrimSpace(input.Description)
	if description == "" {
		return nil, invalidField("description", "is required")
	}
	if input.CustomerID == 0 {
		return nil, invalidField("customer_id", "is required")
	}
	if (input.Latitude == nil) != (input.Longitude == nil) {
		return nil, invalidField("latitude", "latitude and longitude must be given together")
	}
	if input.Latitude != nil && (*input.Latitude < -90 || *input.Latitude > 90) {
		return nil, invalidField("latitude", "out of range")
	}
	if input.Longitude != nil && (*input.Longitude < -180 || *input.Longitude > 180) {
		return nil, invalidField("longitude", "out of range")
	}

	now := s.now()
	ticket := &model.Ticket{
		CustomerID:     input.CustomerID,
		Type:           ticketType,
		Priority:       priority,
		Status:         model.TicketStatusOpen,
		Title:          title,
		Description:    description,
		RequiredSkills: utils.NormalizeTags(input.RequiredSkills),
		Latitude:       input.Latitude,
		Longitude:      input.Longitude,
		SLADueDate:     sla.DueDate(now, priority),
		CreatedByID:    principal.ActorID(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if input.ServiceZone != nil {
		if zone := utils.NormalizeTag(*input.ServiceZone); zone != "" {
			ticket.ServiceZone = &zone
		}
	}

	if err := s.insert(ctx, ticket, now); err != nil {
		return nil, err
	}

	s.log.Info().
		Uint("ticket_id", ticket.ID).
		Str("ticket_number", ticket.TicketNumber).
		Str("priority", string(ticket.Priority)).
		Time("sla_due_date", ticket.SLADueDate).
		Msg("ticket created")

	s.notifier.send(ctx, notify.TicketMessage(notify.EventTicketCreated, ticket.ID, notify.RecipientCustomer, now).
		With("ticket_number", ticket.TicketNumber).
		With("priority", string(ticket.Priority)).
		With("sla_due_date", ticket.SLADueDate.Format(time.RFC3339)))

	return ticket, nil
}

// insert draws a fresh ticket number and retries while it collides.
func (s *TicketService) insert(ctx context.Context, ticket *model.Ticket, now time.Time) error {
	var err error
	for attempt := 0; attempt < ticketNumberAttempts; attempt++ {
		ticket.TicketNumber = s.numbers(now)
		err = s.store.Tickets.Create(ctx, ticket)
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("create ticket: %w", err)
		}
		ticket.ID = 0
		s.log.Warn().Str("ticket_number", ticket.TicketNumber).Msg("ticket number collision, retrying")
	}
	return fmt.Errorf("create ticket: %w", err)
}

func (s *TicketService) Get(ctx context.Context, principal model.Principal, id uint) (*model.Ticket, error) {
	ticket, err := s.store.Tickets.GetByID(ctx, id)
	if err != nil {
		return nil, notFound("ticket", err)
	}
	if err := authorizeRead(ctx, s.store, principal, id); err != nil {
		return nil, err
	}
	return ticket, nil
}

// authorizeRead lets every role read every ticket, except technicians, who
// see only tickets they are actively rostered on.
func authorizeRead(ctx context.Context, store *repository.Store, principal model.Principal, ticketID uint) error {
	if principal.Role != model.RoleTechnician {
		return nil
	}
	if principal.TechnicianID == nil {
		return ErrPermissionDenied
	}
	entry, err := store.Assignments.Get(ctx, ticketID, *principal.TechnicianID)
	if err != nil {
		return err
	}
	if entry == nil || !entry.IsActive {
		return ErrPermissionDenied
	}
	return nil
}

// List returns tickets matching filter. Technicians only see tickets they
// are actively rostered on.
func (s *TicketService) List(ctx context.Context, principal model.Principal, filter repository.TicketListFilter) ([]model.Ticket, error) {
	if principal.Role == model.RoleTechnician {
		if principal.TechnicianID == nil {
			return nil, ErrPermissionDenied
		}
		filter.TechnicianID = principal.TechnicianID
	}
	return s.store.Tickets.List(ctx, filter)
}

type TransitionInput struct {
	Status          string
	ResolutionNotes *string
}

// Transition moves a ticket to a new status. Completing requires an active
// lead and stamps completed_at. The SLA deadline is left untouched.
func (s *TicketService) Transition(ctx context.Context, principal model.Principal, id uint, input TransitionInput) (*model.Ticket, error) {
	if !principal.CanDispatch() && !principal.IsTechnician() {
		return nil, ErrPermissionDenied
	}

	target := model.TicketStatus(strings.ToLower(strings.TrimSpace(input.Status)))
	if input.Status == "" {
		return nil, invalidField("status", "is required")
	}
	if !target.Valid() {
		return nil, invalidField("status", fmt.Sprintf("unknown status %q", input.Status))
	}

	var (
		ticket *model.Ticket
		from   model.TicketStatus
	)
	err := s.store.InTx(ctx, func(tx *repository.Store) error {
		var err error
		ticket, err = tx.Tickets.GetForUpdate(ctx, id)
		if err != nil {
			return notFound("ticket", err)
		}

		if principal.IsTechnician() {
			entry, err := tx.Assignments.Get(ctx, id, *principal.TechnicianID)
			if err != nil {
				return err
			}
			if entry == nil || !entry.IsActive {
				return ErrPermissionDenied
			}
		}

		from = ticket.Status
		if !canTransition(from, target) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, target)
		}

		now := s.now()
		if target == model.TicketStatusCompleted {
			lead, err := tx.Assignments.FindActiveLead(ctx, id)
			if err != nil {
				return err
			}
			if lead == nil {
				return ErrMissingAssignment
			}
			ticket.CompletedAt = &now
			if input.ResolutionNotes != nil {
				notes := strings.TrimSpace(*input.ResolutionNotes)
				ticket.ResolutionNotes = &notes
			}
		}

		ticket.Status = target
		ticket.UpdatedAt = now
		return tx.Tickets.Update(ctx, ticket)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Transition(string(from), string(target))
	s.log.Info().
		Uint("ticket_id", ticket.ID).
		Str("from", string(from)).
		Str("to", string(target)).
		Msg("ticket status changed")

	s.notifier.send(ctx, statusChanged(ticket, from, s.now()))

	return ticket, nil
}

// Reopen moves a completed or cancelled ticket back into work. The SLA
// clock restarts from now.
func (s *TicketService) Reopen(ctx context.Context, principal model.Principal, id uint) (*model.Ticket, error) {
	if !principal.CanDispatch() {
		return nil, ErrPermissionDenied
	}

	var (
		ticket *model.Ticket
		from   model.TicketStatus
	)
	err := s.store.InTx(ctx, func(tx *repository.Store) error {
		var err error
		ticket, err = tx.Tickets.GetForUpdate(ctx, id)
		if err != nil {
			return notFound("ticket", err)
		}
		from = ticket.Status
		if !from.IsTerminal() {
			return fmt.Errorf("%w: only completed or cancelled tickets can be reopened", ErrInvalidTransition)
		}

		lead, err := tx.Assignments.FindActiveLead(ctx, id)
		if err != nil {
			return err
		}

		now := s.now()
		ticket.Status = model.TicketStatusOpen
		if lead != nil {
			ticket.Status = model.TicketStatusAssigned
		}
		ticket.CompletedAt = nil
		ticket.ResolutionNotes = nil
		ticket.SLADueDate = sla.DueDate(now, ticket.Priority)
		ticket.UpdatedAt = now
		return tx.Tickets.Update(ctx, ticket)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Transition(string(from), string(ticket.Status))
	s.log.Info().
		Uint("ticket_id", ticket.ID).
		Str("from", string(from)).
		Time("sla_due_date", ticket.SLADueDate).
		Msg("ticket reopened")

	s.notifier.send(ctx, statusChanged(ticket, from, s.now()).With("reopened", "true"))

	return ticket, nil
}

// Delete removes a ticket that nothing references yet.
func (s *TicketService) Delete(ctx context.Context, principal model.Principal, id uint) error {
	if !principal.IsAdmin() {
		return ErrPermissionDenied
	}
	return s.store.InTx(ctx, func(tx *repository.Store) error {
		if _, err := tx.Tickets.GetForUpdate(ctx, id); err != nil {
			return notFound("ticket", err)
		}
		has, err := tx.Tickets.HasDependents(ctx, id)
		if err != nil {
			return err
		}
		if has {
			return fmt.Errorf("%w: ticket has history and cannot be deleted", ErrConflict)
		}
		if err := tx.Notifications.DetachTicket(ctx, id); err != nil {
			return err
		}
		return tx.Tickets.Delete(ctx, id)
	})
}

func statusChanged(ticket *model.Ticket, from model.TicketStatus, at time.Time) notify.Message {
	return notify.TicketMessage(notify.EventTicketStatusChanged, ticket.ID, notify.RecipientCustomer, at).
		With("ticket_number", ticket.TicketNumber).
		With("old_status", string(from)).
		With("new_status", string(ticket.Status))
}
