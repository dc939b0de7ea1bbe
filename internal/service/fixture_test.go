package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"fieldops-service/internal/model"
	"fieldops-service/internal/notify"
	"fieldops-service/internal/repository"
	"fieldops-service/internal/scheduler"
	"fieldops-service/internal/testutil"
)

var (
	t0         = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	dispatcher = model.Principal{UserID: "dispatcher-1", Role: model.RoleDispatcher}
	admin      = model.Principal{UserID: "admin-1", Role: model.RoleAdmin}
	viewer     = model.Principal{UserID: "viewer-1", Role: model.RoleViewer}
)

type fakeDispatcher struct {
	mu       sync.Mutex
	err      error
	sent     []notify.Message
	attempts int
}

func (f *fakeDispatcher) Dispatch(_ context.Context, msg notify.Message) (notify.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.err != nil {
		return notify.Receipt{}, f.err
	}
	f.sent = append(f.sent, msg)
	return notify.Receipt{ProviderMessageID: "fake"}, nil
}

func (f *fakeDispatcher) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeDispatcher) ofKind(kind notify.EventKind) []notify.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []notify.Message
	for _, m := range f.sent {
		if m.EventKind == kind {
			out = append(out, m)
		}
	}
	return out
}

type fixture struct {
	store       *repository.Store
	clock       *testutil.Clock
	dispatch    *fakeDispatcher
	tickets     *TicketService
	assignments *AssignmentService
	recs        *RecommendationService
	monitor     *SLAMonitor
	token       *scheduler.LocalToken
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewStore(testutil.NewDB(t))
	clock := testutil.NewClock(t0)
	d := &fakeDispatcher{}
	log := zerolog.Nop()
	token := scheduler.NewLocalToken()

	assignments := NewAssignmentService(store, d, nil, log).WithClock(clock.Now)
	return &fixture{
		store:       store,
		clock:       clock,
		dispatch:    d,
		tickets:     NewTicketService(store, d, nil, log).WithClock(clock.Now),
		assignments: assignments,
		recs:        NewRecommendationService(store, assignments, log),
		monitor:     NewSLAMonitor(store, d, token, nil, log, SLAMonitorConfig{}).WithClock(clock.Now),
		token:       token,
	}
}

func (f *fixture) ticket(t *testing.T, priority string) *model.Ticket {
	t.Helper()
	ticket, err := f.tickets.Create(context.Background(), dispatcher, CreateTicketInput{
		CustomerID:  42,
		Type:        "repair",
		Priority:    priority,
		Title:       "No internet",
		Description: "Customer reports LOS light on the ONT",
	})
	require.NoError(t, err)
	return ticket
}

func (f *fixture) technician(t *testing.T, name string, mutate ...func(*model.Technician)) *model.Technician {
	t.Helper()
	tech := &model.Technician{
		Name:              name,
		Status:            model.TechnicianStatusAvailable,
		MaxDailyTickets:   5,
		SkillLevel:        model.SkillLevelSenior,
		AverageRating:     4.2,
		SLAComplianceRate: 90,
	}
	for _, m := range mutate {
		m(tech)
	}
	require.NoError(t, f.store.Technicians.Create(context.Background(), tech))
	return tech
}

func (f *fixture) reload(t *testing.T, id uint) *model.Ticket {
	t.Helper()
	ticket, err := f.store.Tickets.GetByID(context.Background(), id)
	require.NoError(t, err)
	return ticket
}

// roles returns the active roster as technician id -> role.
func (f *fixture) roles(t *testing.T, ticketID uint) map[uint]model.TeamRole {
	t.Helper()
	roster, err := f.store.Assignments.ListActiveByTicketID(context.Background(), ticketID)
	require.NoError(t, err)
	out := make(map[uint]model.TeamRole, len(roster))
	for _, a := range roster {
		out[a.TechnicianID] = a.Role
	}
	return out
}

func lead(id uint) TeamMemberInput {
	return TeamMemberInput{TechnicianID: id, Role: model.TeamRoleLead}
}

func member(id uint) TeamMemberInput {
	return TeamMemberInput{TechnicianID: id, Role: model.TeamRoleMember}
}
