package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"fieldops-service/internal/model"
	"fieldops-service/internal/notify"
	"fieldops-service/internal/repository"
	"fieldops-service/internal/testutil"
)

func TestCreateComputesDueDateFromPriority(t *testing.T) {
	f := newFixture(t)

	ticket := f.ticket(t, "urgent")

	assert.Equal(t, model.TicketStatusOpen, ticket.Status)
	assert.True(t, ticket.SLADueDate.Equal(time.Date(2025, 1, 1, 4, 0, 0, 0, time.UTC)))
	assert.True(t, strings.HasPrefix(ticket.TicketNumber, "TKT-20250101-"))
	assert.Nil(t, ticket.CompletedAt)

	stored := f.reload(t, ticket.ID)
	assert.True(t, stored.SLADueDate.Equal(ticket.SLADueDate))

	created := f.dispatch.ofKind(notify.EventTicketCreated)
	require.Len(t, created, 1)
	assert.Equal(t, notify.RecipientCustomer, created[0].RecipientClass)
	assert.Equal(t, ticket.ID, *created[0].TicketID)
}

func TestCreateAcceptsCriticalAsUrgent(t *testing.T) {
	f := newFixture(t)
	ticket := f.ticket(t, "critical")
	assert.Equal(t, model.PriorityUrgent, ticket.Priority)
}

func TestCreateRetriesTicketNumberCollision(t *testing.T) {
	f := newFixture(t)
	numbers := []string{"TKT-20250101-AAAAAAAAAA", "TKT-20250101-AAAAAAAAAA", "TKT-20250101-BBBBBBBBBB"}
	f.tickets.WithTicketNumbers(func(time.Time) string {
		next := numbers[0]
		numbers = numbers[1:]
		return next
	})

	first := f.ticket(t, "normal")
	second := f.ticket(t, "normal")

	assert.Equal(t, "TKT-20250101-AAAAAAAAAA", first.TicketNumber)
	assert.Equal(t, "TKT-20250101-BBBBBBBBBB", second.TicketNumber)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Empty(t, numbers)
}

func TestCreateGivesUpAfterRepeatedCollisions(t *testing.T) {
	f := newFixture(t)
	f.tickets.WithTicketNumbers(func(time.Time) string { return "TKT-20250101-AAAAAAAAAA" })
	f.ticket(t, "normal")

	_, err := f.tickets.Create(context.Background(), dispatcher, CreateTicketInput{
		CustomerID:  42,
		Type:        "repair",
		Priority:    "normal",
		Title:       "No internet",
		Description: "Customer reports LOS light on the ONT",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}

func TestCreateValidation(t *testing.T) {
	valid := CreateTicketInput{CustomerID: 1, Type: "installation", Priority: "low", Title: "t", Description: "d"}

	cases := []struct {
		name   string
		mutate func(*CreateTicketInput)
		field  string
	}{
		{"missing type", func(in *CreateTicketInput) { in.Type = "" }, "type"},
		{"unknown type", func(in *CreateTicketInput) { in.Type = "teleport" }, "type"},
		{"missing priority", func(in *CreateTicketInput) { in.Priority = "" }, "priority"},
		{"unknown priority", func(in *CreateTicketInput) { in.Priority = "whenever" }, "priority"},
		{"blank title", func(in *CreateTicketInput) { in.Title = "   " }, "title"},
		{"missing description", func(in *CreateTicketInput) { in.Description = "" }, "description"},
		{"missing customer", func(in *CreateTicketInput) { in.CustomerID = 0 }, "customer_id"},
		{"half coordinates", func(in *CreateTicketInput) { in.Latitude = testutil.Ptr(41.7) }, "latitude"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			in := valid
			tc.mutate(&in)

			_, err := f.tickets.Create(context.Background(), dispatcher, in)

			require.ErrorIs(t, err, ErrInvalidInput)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tc.field, verr.Field)

			tickets, err := f.store.Tickets.List(context.Background(), repository.TicketListFilter{})
			require.NoError(t, err)
			assert.Empty(t, tickets)
		})
	}
}

func TestCreateRequiresDispatchRole(t *testing.T) {
	f := newFixture(t)
	_, err := f.tickets.Create(context.Background(), viewer, CreateTicketInput{})
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestCompleteWithoutLeadFails(t *testing.T) {
	f := newFixture(t)
	ticket := f.ticket(t, "normal")

	_, err := f.tickets.Transition(context.Background(), dispatcher, ticket.ID, TransitionInput{Status: "completed"})

	assert.ErrorIs(t, err, ErrMissingAssignment)
	stored := f.reload(t, ticket.ID)
	assert.Equal(t, model.TicketStatusOpen, stored.Status)
	assert.Nil(t, stored.CompletedAt)
}

func TestCompleteStampsCompletionAndKeepsDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.ticket(t, "high")
	tech := f.technician(t, "nino")

	_, err := f.assignments.ReplaceTeam(ctx, dispatcher, ticket.ID, []TeamMemberInput{lead(tech.ID)})
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	_, err = f.tickets.Transition(ctx, dispatcher, ticket.ID, TransitionInput{Status: "in_progress"})
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	done, err := f.tickets.Transition(ctx, dispatcher, ticket.ID, TransitionInput{Status: "completed", ResolutionNotes: testutil.Ptr("replaced patch cord")})
	require.NoError(t, err)

	assert.Equal(t, model.TicketStatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.True(t, done.CompletedAt.Equal(t0.Add(3*time.Hour)))
	assert.True(t, done.SLADueDate.Equal(ticket.SLADueDate))
	require.NotNil(t, done.ResolutionNotes)
	assert.Equal(t, "replaced patch cord", *done.ResolutionNotes)

	changes := f.dispatch.ofKind(notify.EventTicketStatusChanged)
	require.NotEmpty(t, changes)
	last := changes[len(changes)-1]
	assert.Equal(t, "in_progress", last.Data["old_status"])
	assert.Equal(t, "completed", last.Data["new_status"])
}

func TestOpenTicketCannotStartWithoutLead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.ticket(t, "normal")

	for _, target := range []string{"in_progress", "on_hold", "assigned"} {
		_, err := f.tickets.Transition(ctx, dispatcher, ticket.ID, TransitionInput{Status: target})
		assert.ErrorIs(t, err, ErrInvalidTransition, target)
	}
	stored := f.reload(t, ticket.ID)
	assert.Equal(t, model.TicketStatusOpen, stored.Status)
	assert.Nil(t, stored.AssignedTechnicianID)

	cancelled, err := f.tickets.Transition(ctx, dispatcher, ticket.ID, TransitionInput{Status: "cancelled"})
	require.NoError(t, err)
	assert.Equal(t, model.TicketStatusCancelled, cancelled.Status)
}

func TestTransitionRejectsUnreachableTargets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.ticket(t, "normal")
	tech := f.technician(t, "giorgi")
	_, err := f.assignments.ReplaceTeam(ctx, dispatcher, ticket.ID, []TeamMemberInput{lead(tech.ID)})
	require.NoError(t, err)

	_, err = f.tickets.Transition(ctx, dispatcher, ticket.ID, TransitionInput{Status: "assigned"})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.tickets.Transition(ctx, dispatcher, ticket.ID, TransitionInput{Status: "completed"})
	require.NoError(t, err)

	for _, target := range []string{"open", "assigned", "in_progress", "on_hold", "completed", "cancelled"} {
		_, err = f.tickets.Transition(ctx, dispatcher, ticket.ID, TransitionInput{Status: target})
		assert.ErrorIs(t, err, ErrInvalidTransition, target)
	}

	_, err = f.tickets.Transition(ctx, dispatcher, ticket.ID, TransitionInput{Status: "archived"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestOnHoldReturnsToInProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.ticket(t, "normal")
	tech := f.technician(t, "ana")
	_, err := f.assignments.ReplaceTeam(ctx, dispatcher, ticket.ID, []TeamMemberInput{lead(tech.ID)})
	require.NoError(t, err)

	for _, target := range []string{"on_hold", "in_progress", "on_hold"} {
		_, err = f.tickets.Transition(ctx, dispatcher, ticket.ID, TransitionInput{Status: target})
		require.NoError(t, err, target)
	}
	_, err = f.tickets.Transition(ctx, dispatcher, ticket.ID, TransitionInput{Status: "completed"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransitionUnknownTicket(t *testing.T) {
	f := newFixture(t)
	_, err := f.tickets.Transition(context.Background(), dispatcher, 999, TransitionInput{Status: "cancelled"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTechnicianMayOnlyMoveOwnTickets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.ticket(t, "normal")
	onTeam := f.technician(t, "levan")
	outsider := f.technician(t, "dato")
	_, err := f.assignments.ReplaceTeam(ctx, dispatcher, ticket.ID, []TeamMemberInput{lead(onTeam.ID)})
	require.NoError(t, err)

	stranger := model.Principal{UserID: "u-2", Role: model.RoleTechnician, TechnicianID: &outsider.ID}
	_, err = f.tickets.Transition(ctx, stranger, ticket.ID, TransitionInput{Status: "in_progress"})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	self := model.Principal{UserID: "u-1", Role: model.RoleTechnician, TechnicianID: &onTeam.ID}
	_, err = f.tickets.Transition(ctx, self, ticket.ID, TransitionInput{Status: "in_progress"})
	assert.NoError(t, err)
}

func TestReopenRestartsDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.ticket(t, "urgent")

	_, err := f.tickets.Transition(ctx, dispatcher, ticket.ID, TransitionInput{Status: "cancelled"})
	require.NoError(t, err)

	_, err = f.tickets.Reopen(ctx, dispatcher, ticket.ID)
	require.NoError(t, err)
	_, err = f.tickets.Reopen(ctx, dispatcher, ticket.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	f.clock.Set(t0.Add(10 * time.Hour))
	_, err = f.tickets.Transition(ctx, dispatcher, ticket.ID, TransitionInput{Status: "cancelled"})
	require.NoError(t, err)
	reopened, err := f.tickets.Reopen(ctx, dispatcher, ticket.ID)
	require.NoError(t, err)

	assert.Equal(t, model.TicketStatusOpen, reopened.Status)
	assert.Nil(t, reopened.CompletedAt)
	assert.True(t, reopened.SLADueDate.Equal(t0.Add(14*time.Hour)))
}

func TestReopenWithLeadReturnsToAssigned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.ticket(t, "normal")
	tech := f.technician(t, "tamar")
	_, err := f.assignments.ReplaceTeam(ctx, dispatcher, ticket.ID, []TeamMemberInput{lead(tech.ID)})
	require.NoError(t, err)
	_, err = f.tickets.Transition(ctx, dispatcher, ticket.ID, TransitionInput{Status: "completed"})
	require.NoError(t, err)

	reopened, err := f.tickets.Reopen(ctx, dispatcher, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TicketStatusAssigned, reopened.Status)
	assert.Nil(t, reopened.CompletedAt)
}

func TestDeleteOnlyWithoutHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fresh := f.ticket(t, "low")
	used := f.ticket(t, "low")
	tech := f.technician(t, "irakli")
	_, err := f.assignments.ReplaceTeam(ctx, dispatcher, used.ID, []TeamMemberInput{lead(tech.ID)})
	require.NoError(t, err)

	assert.ErrorIs(t, f.tickets.Delete(ctx, dispatcher, fresh.ID), ErrPermissionDenied)
	assert.ErrorIs(t, f.tickets.Delete(ctx, admin, used.ID), ErrConflict)
	require.NoError(t, f.tickets.Delete(ctx, admin, fresh.ID))
	assert.ErrorIs(t, f.tickets.Delete(ctx, admin, fresh.ID), ErrNotFound)
}

func TestDeleteIgnoresNotificationOutbox(t *testing.T) {
	database := testutil.NewDB(t)
	store := repository.NewStore(database)
	log := zerolog.Nop()
	recorder := notify.NewRecorder(notify.NewLogDispatcher(log), store.Notifications, nil, log)
	tickets := NewTicketService(store, recorder, nil, log)
	ctx := context.Background()

	ticket, err := tickets.Create(ctx, dispatcher, CreateTicketInput{
		CustomerID:  7,
		Type:        "installation",
		Priority:    "normal",
		Title:       "New FTTH line",
		Description: "Install ONT and router",
	})
	require.NoError(t, err)

	outbox, err := store.Notifications.ListByTicketID(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, outbox, 1)

	require.NoError(t, tickets.Delete(ctx, admin, ticket.ID))
	_, err = tickets.Get(ctx, admin, ticket.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	var kept model.Notification
	require.NoError(t, database.First(&kept, outbox[0].ID).Error)
	assert.Nil(t, kept.TicketID)
	assert.Equal(t, string(notify.EventTicketCreated), kept.EventKind)
}

func TestRemovedTechnicianLosesReadAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.ticket(t, "high")
	a := f.technician(t, "tamar")
	b := f.technician(t, "beka")
	_, err := f.assignments.ReplaceTeam(ctx, dispatcher, ticket.ID, []TeamMemberInput{lead(a.ID), member(b.ID)})
	require.NoError(t, err)

	asB := model.Principal{UserID: "u-b", Role: model.RoleTechnician, TechnicianID: &b.ID}
	_, err = f.tickets.Get(ctx, asB, ticket.ID)
	require.NoError(t, err)

	require.NoError(t, f.assignments.RemoveMember(ctx, dispatcher, ticket.ID, b.ID))

	_, err = f.tickets.Get(ctx, asB, ticket.ID)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	_, err = f.assignments.ListRoster(ctx, asB, ticket.ID, true)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	own, err := f.tickets.List(ctx, asB, repository.TicketListFilter{})
	require.NoError(t, err)
	assert.Empty(t, own)

	asA := model.Principal{UserID: "u-a", Role: model.RoleTechnician, TechnicianID: &a.ID}
	_, err = f.tickets.Get(ctx, asA, ticket.ID)
	assert.NoError(t, err)
}

func TestDispatchFailureDoesNotFailMutation(t *testing.T) {
	f := newFixture(t)
	f.dispatch.fail(errors.New("gateway unreachable"))

	ticket := f.ticket(t, "high")

	assert.NotZero(t, ticket.ID)
	assert.Equal(t, 1, f.dispatch.attempts)
}

func TestListScopesTechnicians(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mine := f.ticket(t, "normal")
	f.ticket(t, "normal")
	tech := f.technician(t, "mariam")
	_, err := f.assignments.ReplaceTeam(ctx, dispatcher, mine.ID, []TeamMemberInput{lead(tech.ID)})
	require.NoError(t, err)

	all, err := f.tickets.List(ctx, dispatcher, repository.TicketListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	own, err := f.tickets.List(ctx, model.Principal{UserID: "t", Role: model.RoleTechnician, TechnicianID: &tech.ID}, repository.TicketListFilter{})
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, mine.ID, own[0].ID)
}
