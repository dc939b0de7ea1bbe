// Package sla maps ticket priority to response budgets and warning thresholds.
//
// Both tables are fixed. Remaining time is counted in whole minutes rounded
// down.
package sla

import (
	"math"
	"time"

	"fieldops-service/internal/model"
)

var budgetHours = map[model.TicketPriority]int{
	model.PriorityUrgent: 4,
	model.PriorityHigh:   8,
	model.PriorityNormal: 24,
	model.PriorityLow:    48,
}

// BudgetHours returns the response budget for a priority. Unknown
// priorities fall back to the normal budget.
func BudgetHours(p model.TicketPriority) int {
	if h, ok := budgetHours[p]; ok {
		return h
	}
	return budgetHours[model.PriorityNormal]
}

func Budget(p model.TicketPriority) time.Duration {
	return time.Duration(BudgetHours(p)) * time.Hour
}

// Remaining-time points (minutes) at which a warning fires. Urgent and high
// equal a quarter of the budget; normal and low are capped below that.
var warningMinutes = map[model.TicketPriority]int{
	model.PriorityUrgent: 60,
	model.PriorityHigh:   120,
	model.PriorityNormal: 240,
	model.PriorityLow:    480,
}

func WarningThresholdMinutes(p model.TicketPriority) int {
	if m, ok := warningMinutes[p]; ok {
		return m
	}
	return warningMinutes[model.PriorityNormal]
}

// DueDate computes the SLA deadline for a ticket created at createdAt.
func DueDate(createdAt time.Time, p model.TicketPriority) time.Time {
	return createdAt.UTC().Add(Budget(p))
}

// RemainingMinutes is due-now in whole minutes, rounded towards negative
// infinity so that 30 seconds past the deadline already counts as -1.
func RemainingMinutes(due, now time.Time) int {
	return int(math.Floor(due.Sub(now).Minutes()))
}

type State string

const (
	StateOK      State = "ok"
	StateWarning State = "warning"
	StateOverdue State = "overdue"
)

// Evaluate classifies a deadline at a point in time.
func Evaluate(p model.TicketPriority, due, now time.Time) (State, int) {
	remaining := RemainingMinutes(due, now)
	switch {
	case remaining <= 0:
		return StateOverdue, remaining
	case remaining <= WarningThresholdMinutes(p):
		return StateWarning, remaining
	default:
		return StateOK, remaining
	}
}
