package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"fieldops-service/internal/model"
	"fieldops-service/internal/repository"
	"fieldops-service/internal/scoring"
)

type RecommendationService struct {
	store       *repository.Store
	assignments *AssignmentService
	log         zerolog.Logger
}

func NewRecommendationService(store *repository.Store, assignments *AssignmentService, log zerolog.Logger) *RecommendationService {
	return &RecommendationService{
		store:       store,
		assignments: assignments,
		log:         log,
	}
}

type RecommendInput struct {
	Zone              string
	Skills            []string
	AllowOverCapacity bool
	Limit             int
}

// Recommend ranks the technician directory for a ticket, best first. It is
// a read and follows the ticket's visibility rules.
func (s *RecommendationService) Recommend(ctx context.Context, principal model.Principal, ticketID uint, input RecommendInput) ([]scoring.Recommendation, error) {
	ticket, err := s.store.Tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, notFound("ticket", err)
	}
	if err := authorizeRead(ctx, s.store, principal, ticketID); err != nil {
		return nil, err
	}

	ranked, err := s.rank(ctx, ticket, input)
	if err != nil {
		return nil, err
	}
	if input.Limit > 0 && len(ranked) > input.Limit {
		ranked = ranked[:input.Limit]
	}
	return ranked, nil
}

// AutoAssign makes the top-ranked technician the sole lead of the ticket.
func (s *RecommendationService) AutoAssign(ctx context.Context, principal model.Principal, ticketID uint, input RecommendInput) ([]model.TicketAssignment, error) {
	if !principal.CanDispatch() {
		return nil, ErrPermissionDenied
	}
	ticket, err := s.store.Tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, notFound("ticket", err)
	}
	if ticket.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: ticket is %s", ErrTicketClosed, ticket.Status)
	}

	ranked, err := s.rank(ctx, ticket, input)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, ErrNoEligibleTechnician
	}
	top := ranked[0]

	s.log.Info().
		Uint("ticket_id", ticketID).
		Uint("technician_id", top.TechnicianID).
		Float64("score", top.Score).
		Int("candidates", len(ranked)).
		Msg("auto-assigning ticket")

	return s.assignments.ReplaceTeam(ctx, principal, ticketID, []TeamMemberInput{
		{TechnicianID: top.TechnicianID, Role: model.TeamRoleLead},
	})
}

func (s *RecommendationService) rank(ctx context.Context, ticket *model.Ticket, input RecommendInput) ([]scoring.Recommendation, error) {
	technicians, err := s.store.Technicians.ListAvailable(ctx)
	if err != nil {
		return nil, fmt.Errorf("list technicians: %w", err)
	}

	ids := make([]uint, 0, len(technicians))
	for _, t := range technicians {
		ids = append(ids, t.ID)
	}
	load, err := s.store.Assignments.CountOpenTickets(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("count open tickets: %w", err)
	}

	candidates := make([]scoring.Candidate, 0, len(technicians))
	for _, t := range technicians {
		candidates = append(candidates, scoring.Candidate{Technician: t, OpenTickets: load[t.ID]})
	}

	return scoring.Rank(scoring.JobFromTicket(ticket), candidates, scoring.Options{
		AllowOverCapacity: input.AllowOverCapacity,
		Zone:              input.Zone,
		Skills:            input.Skills,
	}), nil
}
