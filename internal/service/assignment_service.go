package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fieldops-service/internal/metrics"
	"fieldops-service/internal/model"
	"fieldops-service/internal/notify"
	"fieldops-service/internal/repository"
)

// AssignmentService owns ticket rosters. Every mutation locks the ticket row,
// runs in one transaction and leaves the active roster either empty or with
// exactly one lead. The ticket's assigned_technician_id follows the lead.
type AssignmentService struct {
	store    *repository.Store
	notifier notifier
	metrics  *metrics.Metrics
	log      zerolog.Logger
	now      func() time.Time
}

func NewAssignmentService(store *repository.Store, dispatcher notify.Dispatcher, m *metrics.Metrics, log zerolog.Logger) *AssignmentService {
	return &AssignmentService{
		store:    store,
		notifier: newNotifier(dispatcher, log),
		metrics:  m,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *AssignmentService) WithClock(now func() time.Time) *AssignmentService {
	s.now = now
	return s
}

type TeamMemberInput struct {
	TechnicianID uint
	Role         model.TeamRole
	Notes        *string
}

func parseRole(raw model.TeamRole) (model.TeamRole, error) {
	role := model.TeamRole(strings.ToLower(strings.TrimSpace(string(raw))))
	if !role.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, raw)
	}
	return role, nil
}

// ListRoster returns the active team, or the full history when
// includeInactive is set.
func (s *AssignmentService) ListRoster(ctx context.Context, principal model.Principal, ticketID uint, includeInactive bool) ([]model.TicketAssignment, error) {
	if _, err := s.store.Tickets.GetByID(ctx, ticketID); err != nil {
		return nil, notFound("ticket", err)
	}
	if err := authorizeRead(ctx, s.store, principal, ticketID); err != nil {
		return nil, err
	}
	if includeInactive {
		return s.store.Assignments.ListByTicketID(ctx, ticketID)
	}
	return s.store.Assignments.ListActiveByTicketID(ctx, ticketID)
}

// ReplaceTeam swaps the whole active roster for members. Exactly one member
// must be the lead. Nothing is written when validation fails.
func (s *AssignmentService) ReplaceTeam(ctx context.Context, principal model.Principal, ticketID uint, members []TeamMemberInput) ([]model.TicketAssignment, error) {
	if !principal.CanDispatch() {
		return nil, ErrPermissionDenied
	}

	normalized, lead, err := validateTeam(members)
	if err != nil {
		return nil, err
	}

	var (
		roster      []model.TicketAssignment
		newlyActive []model.TicketAssignment
		ticket      *model.Ticket
		from        model.TicketStatus
	)
	err = s.store.InTx(ctx, func(tx *repository.Store) error {
		var err error
		ticket, err = s.lockMutable(ctx, tx, ticketID)
		if err != nil {
			return err
		}
		from = ticket.Status

		if err := ensureTechniciansExist(ctx, tx, normalized); err != nil {
			return err
		}

		previous, err := tx.Assignments.ListActiveByTicketID(ctx, ticketID)
		if err != nil {
			return err
		}
		wasActive := make(map[uint]bool, len(previous))
		for _, p := range previous {
			wasActive[p.TechnicianID] = true
		}

		now := s.now()
		if err := tx.Assignments.DeactivateAll(ctx, ticketID, now); err != nil {
			return err
		}
		for _, m := range normalized {
			entry, err := tx.Assignments.Upsert(ctx, &model.TicketAssignment{
				TicketID:     ticketID,
				TechnicianID: m.TechnicianID,
				Role:         m.Role,
				AssignedBy:   principal.ActorID(),
				AssignedAt:   now,
				Notes:        m.Notes,
				CreatedAt:    now,
				UpdatedAt:    now,
			})
			if err != nil {
				return fmt.Errorf("upsert roster entry: %w", err)
			}
			if !wasActive[m.TechnicianID] {
				newlyActive = append(newlyActive, *entry)
			}
		}

		if err := s.setLead(ctx, tx, ticket, lead, now); err != nil {
			return err
		}

		roster, err = tx.Assignments.ListActiveByTicketID(ctx, ticketID)
		if err != nil {
			return err
		}
		return checkSingleLead(roster)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RosterChanged("replace_team")
	s.log.Info().
		Uint("ticket_id", ticketID).
		Uint("lead_technician_id", lead).
		Int("members", len(roster)).
		Msg("ticket team replaced")

	s.afterRosterChange(ctx, ticket, from, newlyActive)
	return roster, nil
}

// AddMember activates one non-lead member. The ticket must already have a
// lead; promotion goes through SetRole.
func (s *AssignmentService) AddMember(ctx context.Context, principal model.Principal, ticketID uint, input TeamMemberInput) (*model.TicketAssignment, error) {
	if !principal.CanDispatch() {
		return nil, ErrPermissionDenied
	}
	if input.TechnicianID == 0 {
		return nil, invalidField("technician_id", "is required")
	}
	role, err := parseRole(input.Role)
	if err != nil {
		return nil, err
	}
	if role == model.TeamRoleLead {
		return nil, fmt.Errorf("%w: a lead is assigned by promoting a member", ErrInvalidTeamComposition)
	}

	var (
		entry       *model.TicketAssignment
		ticket      *model.Ticket
		newlyActive []model.TicketAssignment
	)
	err = s.store.InTx(ctx, func(tx *repository.Store) error {
		var err error
		ticket, err = s.lockMutable(ctx, tx, ticketID)
		if err != nil {
			return err
		}
		if err := ensureTechniciansExist(ctx, tx, []TeamMemberInput{{TechnicianID: input.TechnicianID}}); err != nil {
			return err
		}

		lead, err := tx.Assignments.FindActiveLead(ctx, ticketID)
		if err != nil {
			return err
		}
		if lead == nil {
			return fmt.Errorf("%w: the ticket has no lead yet", ErrInvalidTeamComposition)
		}
		if lead.TechnicianID == input.TechnicianID {
			return fmt.Errorf("%w: technician is the current lead", ErrInvalidTeamComposition)
		}

		existing, err := tx.Assignments.Get(ctx, ticketID, input.TechnicianID)
		if err != nil {
			return err
		}

		now := s.now()
		entry, err = tx.Assignments.Upsert(ctx, &model.TicketAssignment{
			TicketID:     ticketID,
			TechnicianID: input.TechnicianID,
			Role:         role,
			AssignedBy:   principal.ActorID(),
			AssignedAt:   now,
			Notes:        input.Notes,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if err != nil {
			return fmt.Errorf("upsert roster entry: %w", err)
		}
		if existing == nil || !existing.IsActive {
			newlyActive = append(newlyActive, *entry)
		}

		roster, err := tx.Assignments.ListActiveByTicketID(ctx, ticketID)
		if err != nil {
			return err
		}
		return checkSingleLead(roster)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RosterChanged("add_member")
	s.log.Info().
		Uint("ticket_id", ticketID).
		Uint("technician_id", input.TechnicianID).
		Str("role", string(role)).
		Msg("technician added to ticket team")

	s.afterRosterChange(ctx, ticket, ticket.Status, newlyActive)
	return entry, nil
}

// RemoveMember deactivates a non-lead member.
func (s *AssignmentService) RemoveMember(ctx context.Context, principal model.Principal, ticketID, technicianID uint) error {
	if !principal.CanDispatch() {
		return ErrPermissionDenied
	}

	err := s.store.InTx(ctx, func(tx *repository.Store) error {
		if _, err := s.lockMutable(ctx, tx, ticketID); err != nil {
			return err
		}

		entry, err := tx.Assignments.Get(ctx, ticketID, technicianID)
		if err != nil {
			return err
		}
		if entry == nil || !entry.IsActive {
			return fmt.Errorf("technician %d on ticket %d: %w", technicianID, ticketID, ErrNotFound)
		}
		if entry.Role == model.TeamRoleLead {
			return ErrCannotRemoveLead
		}
		return tx.Assignments.Deactivate(ctx, ticketID, technicianID, s.now())
	})
	if err != nil {
		return err
	}

	s.metrics.RosterChanged("remove_member")
	s.log.Info().
		Uint("ticket_id", ticketID).
		Uint("technician_id", technicianID).
		Msg("technician removed from ticket team")
	return nil
}

// SetRole changes an active member's role. Promoting to lead demotes the
// current lead to member in the same transaction. Demoting the lead is
// rejected; promote someone else instead.
func (s *AssignmentService) SetRole(ctx context.Context, principal model.Principal, ticketID, technicianID uint, rawRole model.TeamRole) (*model.TicketAssignment, error) {
	if !principal.CanDispatch() {
		return nil, ErrPermissionDenied
	}
	role, err := parseRole(rawRole)
	if err != nil {
		return nil, err
	}

	var (
		entry   *model.TicketAssignment
		changed bool
	)
	err = s.store.InTx(ctx, func(tx *repository.Store) error {
		ticket, err := s.lockMutable(ctx, tx, ticketID)
		if err != nil {
			return err
		}

		entry, err = tx.Assignments.Get(ctx, ticketID, technicianID)
		if err != nil {
			return err
		}
		if entry == nil || !entry.IsActive {
			return fmt.Errorf("technician %d on ticket %d: %w", technicianID, ticketID, ErrNotFound)
		}
		if entry.Role == role {
			return nil
		}

		now := s.now()
		if role == model.TeamRoleLead {
			current, err := tx.Assignments.FindActiveLead(ctx, ticketID)
			if err != nil {
				return err
			}
			// demote before promote so the statement-level single-lead index holds
			if current != nil {
				if err := tx.Assignments.SetRole(ctx, ticketID, current.TechnicianID, model.TeamRoleMember, now); err != nil {
					return err
				}
			}
			if err := tx.Assignments.SetRole(ctx, ticketID, technicianID, model.TeamRoleLead, now); err != nil {
				return err
			}
			if err := s.setLead(ctx, tx, ticket, technicianID, now); err != nil {
				return err
			}
		} else {
			if entry.Role == model.TeamRoleLead {
				return fmt.Errorf("%w: promote another member to lead first", ErrInvalidTeamComposition)
			}
			if err := tx.Assignments.SetRole(ctx, ticketID, technicianID, role, now); err != nil {
				return err
			}
		}
		changed = true

		roster, err := tx.Assignments.ListActiveByTicketID(ctx, ticketID)
		if err != nil {
			return err
		}
		if err := checkSingleLead(roster); err != nil {
			return err
		}
		entry, err = tx.Assignments.Get(ctx, ticketID, technicianID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.metrics.RosterChanged("set_role")
		s.log.Info().
			Uint("ticket_id", ticketID).
			Uint("technician_id", technicianID).
			Str("role", string(role)).
			Msg("ticket team role changed")
	}
	return entry, nil
}

func (s *AssignmentService) lockMutable(ctx context.Context, tx *repository.Store, ticketID uint) (*model.Ticket, error) {
	ticket, err := tx.Tickets.GetForUpdate(ctx, ticketID)
	if err != nil {
		return nil, notFound("ticket", err)
	}
	if ticket.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: ticket is %s", ErrTicketClosed, ticket.Status)
	}
	return ticket, nil
}

// setLead points the ticket at its new lead and moves an open ticket to
// assigned.
func (s *AssignmentService) setLead(ctx context.Context, tx *repository.Store, ticket *model.Ticket, leadID uint, now time.Time) error {
	ticket.AssignedTechnicianID = &leadID
	if ticket.Status == model.TicketStatusOpen {
		ticket.Status = model.TicketStatusAssigned
	}
	ticket.UpdatedAt = now
	return tx.Tickets.Update(ctx, ticket)
}

func (s *AssignmentService) afterRosterChange(ctx context.Context, ticket *model.Ticket, from model.TicketStatus, newlyActive []model.TicketAssignment) {
	now := s.now()
	msgs := make([]notify.Message, 0, len(newlyActive)+1)
	for _, a := range newlyActive {
		msgs = append(msgs, notify.TicketMessage(notify.EventTicketTeamAssigned, ticket.ID, notify.RecipientTechnician, now).
			ForTechnician(a.TechnicianID).
			With("ticket_number", ticket.TicketNumber).
			With("role", string(a.Role)))
	}
	if from != ticket.Status {
		s.metrics.Transition(string(from), string(ticket.Status))
		msgs = append(msgs, statusChanged(ticket, from, now))
	}
	s.notifier.send(ctx, msgs...)
}

func validateTeam(members []TeamMemberInput) ([]TeamMemberInput, uint, error) {
	if len(members) == 0 {
		return nil, 0, fmt.Errorf("%w: at least one member is required", ErrInvalidTeamComposition)
	}

	out := make([]TeamMemberInput, 0, len(members))
	seen := make(map[uint]bool, len(members))
	var (
		lead  uint
		leads int
	)
	for i, m := range members {
		if m.TechnicianID == 0 {
			return nil, 0, invalidField(fmt.Sprintf("members[%d].technician_id", i), "is required")
		}
		role, err := parseRole(m.Role)
		if err != nil {
			return nil, 0, err
		}
		if seen[m.TechnicianID] {
			return nil, 0, fmt.Errorf("%w: technician %d listed twice", ErrInvalidTeamComposition, m.TechnicianID)
		}
		seen[m.TechnicianID] = true
		if role == model.TeamRoleLead {
			leads++
			lead = m.TechnicianID
		}
		m.Role = role
		out = append(out, m)
	}
	if leads != 1 {
		return nil, 0, fmt.Errorf("%w: exactly one lead required, got %d", ErrInvalidTeamComposition, leads)
	}
	return out, lead, nil
}

func ensureTechniciansExist(ctx context.Context, tx *repository.Store, members []TeamMemberInput) error {
	ids := make([]uint, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.TechnicianID)
	}
	found, err := tx.Technicians.ListByIDs(ctx, ids)
	if err != nil {
		return err
	}
	if len(found) == len(ids) {
		return nil
	}
	known := make(map[uint]bool, len(found))
	for _, t := range found {
		known[t.ID] = true
	}
	for _, id := range ids {
		if !known[id] {
			return fmt.Errorf("technician %d: %w", id, ErrNotFound)
		}
	}
	return nil
}

func checkSingleLead(roster []model.TicketAssignment) error {
	if len(roster) == 0 {
		return nil
	}
	leads := 0
	for _, a := range roster {
		if a.Role == model.TeamRoleLead {
			leads++
		}
	}
	if leads != 1 {
		return fmt.Errorf("%w: roster would have %d active leads", ErrConflict, leads)
	}
	return nil
}
