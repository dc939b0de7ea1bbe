package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"fieldops-service/internal/metrics"
	"fieldops-service/internal/model"
	"fieldops-service/internal/notify"
	"fieldops-service/internal/repository"
	"fieldops-service/internal/scheduler"
	"fieldops-service/internal/sla"
)

const DefaultWarningCooldown = 30 * time.Minute

// SLAMonitor scans tracked tickets, reports overdue ones and sends at most
// one SLA warning per ticket per cool-down window.
type SLAMonitor struct {
	store           *repository.Store
	dispatcher      notify.Dispatcher
	token           scheduler.RunToken
	metrics         *metrics.Metrics
	log             zerolog.Logger
	now             func() time.Time
	cooldown        time.Duration
	dispatchTimeout time.Duration
}

type SLAMonitorConfig struct {
	WarningCooldown time.Duration
	DispatchTimeout time.Duration
}

func NewSLAMonitor(
	store *repository.Store,
	dispatcher notify.Dispatcher,
	token scheduler.RunToken,
	m *metrics.Metrics,
	log zerolog.Logger,
	cfg SLAMonitorConfig,
) *SLAMonitor {
	if cfg.WarningCooldown <= 0 {
		cfg.WarningCooldown = DefaultWarningCooldown
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = defaultDispatchTimeout
	}
	if token == nil {
		token = scheduler.NewLocalToken()
	}
	return &SLAMonitor{
		store:           store,
		dispatcher:      dispatcher,
		token:           token,
		metrics:         m,
		log:             log.With().Str("component", "sla_monitor").Logger(),
		now:             func() time.Time { return time.Now().UTC() },
		cooldown:        cfg.WarningCooldown,
		dispatchTimeout: cfg.DispatchTimeout,
	}
}

func (m *SLAMonitor) WithClock(now func() time.Time) *SLAMonitor {
	m.now = now
	return m
}

type OverdueTicket struct {
	TicketID         uint                 `json:"ticket_id"`
	TicketNumber     string               `json:"ticket_number"`
	Priority         model.TicketPriority `json:"priority"`
	Status           model.TicketStatus   `json:"status"`
	SLADueDate       time.Time            `json:"sla_due_date"`
	RemainingMinutes int                  `json:"remaining_minutes"`
}

type SweepResult struct {
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Scanned    int             `json:"scanned"`
	Warned     int             `json:"warned"`
	Suppressed int             `json:"suppressed"`
	Failed     int             `json:"failed"`
	Overdue    []OverdueTicket `json:"overdue"`
}

// Run performs one sweep under the monitor's run token. It returns
// scheduler.ErrAlreadyRunning without sweeping when another sweep holds it.
func (m *SLAMonitor) Run(ctx context.Context) (*SweepResult, error) {
	release, err := m.token.Acquire(ctx)
	if err != nil {
		if errors.Is(err, scheduler.ErrAlreadyRunning) {
			m.metrics.SweepSkipped()
		}
		return nil, err
	}
	defer release()

	result, err := m.Sweep(ctx)
	if err != nil {
		m.metrics.SweepFailed()
		return nil, err
	}
	return result, nil
}

// Job adapts Run to the scheduler.
func (m *SLAMonitor) Job(ctx context.Context) error {
	_, err := m.Run(ctx)
	return err
}

// Sweep evaluates every open, assigned and in-progress ticket, most urgent
// and oldest first. A failure on one ticket is logged and the scan goes on;
// only failing to list tickets aborts the sweep. Once started the scan is
// not cut short by ctx.
func (m *SLAMonitor) Sweep(ctx context.Context) (*SweepResult, error) {
	scanCtx := context.WithoutCancel(ctx)
	started := m.now()
	result := &SweepResult{StartedAt: started, Overdue: []OverdueTicket{}}

	tickets, err := m.store.Tickets.ListByStatuses(scanCtx, model.SLATrackedStatuses)
	if err != nil {
		return nil, fmt.Errorf("list tracked tickets: %w", err)
	}

	for i := range tickets {
		ticket := &tickets[i]
		result.Scanned++

		state, remaining := sla.Evaluate(ticket.Priority, ticket.SLADueDate, started)
		log := m.log.With().
			Uint("ticket_id", ticket.ID).
			Str("priority", string(ticket.Priority)).
			Int("remaining_minutes", remaining).
			Logger()

		switch state {
		case sla.StateOverdue:
			result.Overdue = append(result.Overdue, OverdueTicket{
				TicketID:         ticket.ID,
				TicketNumber:     ticket.TicketNumber,
				Priority:         ticket.Priority,
				Status:           ticket.Status,
				SLADueDate:       ticket.SLADueDate,
				RemainingMinutes: remaining,
			})
			log.Warn().Str("ticket_number", ticket.TicketNumber).Msg("ticket is past its SLA deadline")

		case sla.StateWarning:
			sent, err := m.warn(scanCtx, ticket, remaining, log)
			switch {
			case err != nil:
				result.Failed++
				log.Error().Err(err).Msg("sla warning failed")
			case sent:
				result.Warned++
			default:
				result.Suppressed++
			}

		default:
			log.Debug().Msg("ticket within SLA")
		}
	}

	result.FinishedAt = m.now()
	m.metrics.SweepCompleted(result.FinishedAt.Sub(started), result.Scanned, len(result.Overdue))
	m.log.Info().
		Int("scanned", result.Scanned).
		Int("warned", result.Warned).
		Int("suppressed", result.Suppressed).
		Int("overdue", len(result.Overdue)).
		Int("failed", result.Failed).
		Dur("took", result.FinishedAt.Sub(started)).
		Msg("sla sweep finished")

	return result, nil
}

// warn sends a warning unless one went out inside the cool-down. The
// escalation row is written only after a successful dispatch so a failed
// attempt is retried by the next sweep.
func (m *SLAMonitor) warn(ctx context.Context, ticket *model.Ticket, remaining int, log zerolog.Logger) (bool, error) {
	last, err := m.store.Escalations.Latest(ctx, ticket.ID, model.EscalationKindSLAWarning)
	if err != nil {
		return false, fmt.Errorf("read last warning: %w", err)
	}
	now := m.now()
	if last != nil && now.Sub(last.CreatedAt) < m.cooldown {
		m.metrics.WarningSuppressed()
		log.Debug().Time("last_warning_at", last.CreatedAt).Msg("sla warning suppressed by cool-down")
		return false, nil
	}

	msg := notify.TicketMessage(notify.EventSLAWarning, ticket.ID, notify.RecipientDispatcher, now).
		With("ticket_number", ticket.TicketNumber).
		With("priority", string(ticket.Priority)).
		With("remaining_minutes", strconv.Itoa(remaining)).
		With("sla_due_date", ticket.SLADueDate.Format(time.RFC3339))
	if ticket.AssignedTechnicianID != nil {
		msg = msg.ForTechnician(*ticket.AssignedTechnicianID)
	}

	dctx, cancel := context.WithTimeout(ctx, m.dispatchTimeout)
	receipt, err := m.dispatcher.Dispatch(dctx, msg)
	cancel()
	if err != nil {
		return false, fmt.Errorf("dispatch warning: %w", err)
	}

	escalation := &model.Escalation{
		TicketID:         ticket.ID,
		Kind:             model.EscalationKindSLAWarning,
		RemainingMinutes: remaining,
		CreatedAt:        m.now(),
	}
	if receipt.NotificationID != 0 {
		id := receipt.NotificationID
		escalation.NotificationID = &id
	}
	if err := m.store.Escalations.Create(ctx, escalation); err != nil {
		return false, fmt.Errorf("record warning: %w", err)
	}

	m.metrics.WarningSent(string(ticket.Priority))
	log.Info().Uint("escalation_id", escalation.ID).Msg("sla warning sent")
	return true, nil
}

// Escalations lists a ticket's warning history, newest first.
func (m *SLAMonitor) Escalations(ctx context.Context, ticketID uint) ([]model.Escalation, error) {
	if _, err := m.store.Tickets.GetByID(ctx, ticketID); err != nil {
		return nil, notFound("ticket", err)
	}
	return m.store.Escalations.ListByTicketID(ctx, ticketID)
}
