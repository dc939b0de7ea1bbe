package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldops-service/internal/model"
	"fieldops-service/internal/testutil"
)

func TestNoEligibleTechnician(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	busy := f.ticket(t, "normal")
	ticket := f.ticket(t, "urgent")

	f.technician(t, "off", func(tc *model.Technician) { tc.Status = model.TechnicianStatusUnavailable })
	full := f.technician(t, "full", func(tc *model.Technician) { tc.MaxDailyTickets = 1 })
	_, err := f.assignments.ReplaceTeam(ctx, dispatcher, busy.ID, []TeamMemberInput{lead(full.ID)})
	require.NoError(t, err)

	recs, err := f.recs.Recommend(ctx, dispatcher, ticket.ID, RecommendInput{})
	require.NoError(t, err)
	assert.Empty(t, recs)

	_, err = f.recs.AutoAssign(ctx, dispatcher, ticket.ID, RecommendInput{})
	assert.ErrorIs(t, err, ErrNoEligibleTechnician)
	assert.Empty(t, f.roles(t, ticket.ID))

	roster, err := f.recs.AutoAssign(ctx, dispatcher, ticket.ID, RecommendInput{AllowOverCapacity: true})
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, full.ID, roster[0].TechnicianID)
}

func TestAutoAssignPicksTopCandidateAsLead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ticket, err := f.tickets.Create(ctx, dispatcher, CreateTicketInput{
		CustomerID:     7,
		Type:           "installation",
		Priority:       "high",
		Title:          "New fiber line",
		Description:    "Install ONT and router",
		RequiredSkills: []string{"Fiber", "ONT"},
		ServiceZone:    testutil.Ptr("Vake"),
		Latitude:       testutil.Ptr(41.7095),
		Longitude:      testutil.Ptr(44.7620),
	})
	require.NoError(t, err)

	f.technician(t, "generalist", func(tc *model.Technician) {
		tc.Skills = []string{"copper"}
		tc.ServiceZones = []string{"saburtalo"}
	})
	best := f.technician(t, "fiber expert", func(tc *model.Technician) {
		tc.Skills = []string{"fiber", "ont"}
		tc.ServiceZones = []string{"vake"}
		tc.SkillLevel = model.SkillLevelExpert
		tc.Latitude = testutil.Ptr(41.7110)
		tc.Longitude = testutil.Ptr(44.7650)
	})

	recs, err := f.recs.Recommend(ctx, dispatcher, ticket.ID, RecommendInput{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, best.ID, recs[0].TechnicianID)

	roster, err := f.recs.AutoAssign(ctx, dispatcher, ticket.ID, RecommendInput{})
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, best.ID, roster[0].TechnicianID)
	assert.Equal(t, model.TeamRoleLead, roster[0].Role)

	stored := f.reload(t, ticket.ID)
	assert.Equal(t, model.TicketStatusAssigned, stored.Status)
	assert.Equal(t, best.ID, *stored.AssignedTechnicianID)
}

func TestAutoAssignHonoursFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.ticket(t, "normal")
	f.technician(t, "north", func(tc *model.Technician) { tc.ServiceZones = []string{"north"} })

	_, err := f.recs.AutoAssign(ctx, dispatcher, ticket.ID, RecommendInput{Zone: "south"})
	assert.ErrorIs(t, err, ErrNoEligibleTechnician)

	_, err = f.recs.AutoAssign(ctx, dispatcher, ticket.ID, RecommendInput{Skills: []string{"gpon"}})
	assert.ErrorIs(t, err, ErrNoEligibleTechnician)
}

func TestRecommendUnknownTicket(t *testing.T) {
	f := newFixture(t)
	_, err := f.recs.Recommend(context.Background(), dispatcher, 12345, RecommendInput{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecommendLimit(t *testing.T) {
	f := newFixture(t)
	ticket := f.ticket(t, "low")
	for _, name := range []string{"a", "b", "c"} {
		f.technician(t, name)
	}
	recs, err := f.recs.Recommend(context.Background(), dispatcher, ticket.ID, RecommendInput{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestRecommendFollowsReadVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.ticket(t, "normal")
	onTeam := f.technician(t, "keti")
	outsider := f.technician(t, "zura")
	_, err := f.assignments.ReplaceTeam(ctx, dispatcher, ticket.ID, []TeamMemberInput{lead(onTeam.ID)})
	require.NoError(t, err)

	recs, err := f.recs.Recommend(ctx, viewer, ticket.ID, RecommendInput{})
	require.NoError(t, err)
	assert.NotEmpty(t, recs)

	_, err = f.recs.Recommend(ctx, model.Principal{UserID: "t-1", Role: model.RoleTechnician, TechnicianID: &onTeam.ID}, ticket.ID, RecommendInput{})
	assert.NoError(t, err)

	_, err = f.recs.Recommend(ctx, model.Principal{UserID: "t-2", Role: model.RoleTechnician, TechnicianID: &outsider.ID}, ticket.ID, RecommendInput{})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = f.recs.AutoAssign(ctx, viewer, ticket.ID, RecommendInput{})
	assert.ErrorIs(t, err, ErrPermissionDenied)
}
