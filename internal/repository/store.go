package repository

import (
	"context"

	"gorm.io/gorm"
)

// Store groups the repositories over one handle so a service can run several
// of them inside a single transaction.
type Store struct {
	db            *gorm.DB
	Tickets       *TicketRepository
	Assignments   *AssignmentRepository
	Technicians   *TechnicianRepository
	Escalations   *EscalationRepository
	Notifications *NotificationRepository
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:            db,
		Tickets:       NewTicketRepository(db),
		Assignments:   NewAssignmentRepository(db),
		Technicians:   NewTechnicianRepository(db),
		Escalations:   NewEscalationRepository(db),
		Notifications: NewNotificationRepository(db),
	}
}

// InTx runs fn with a Store bound to one transaction. Returning an error
// rolls every write back.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}
