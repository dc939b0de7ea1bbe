package service

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidInput     = errors.New("invalid input")
	ErrConflict         = errors.New("conflict")

	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrInvalidTeamComposition = errors.New("invalid team composition")
	ErrCannotRemoveLead       = errors.New("cannot remove the team lead")
	ErrMissingAssignment      = errors.New("ticket has no lead technician")
	ErrNoEligibleTechnician   = errors.New("no eligible technician")
	ErrInvalidRole            = errors.New("invalid team role")
	ErrTicketClosed           = errors.New("ticket is closed")
)

// ValidationError names the input field that failed. It matches
// ErrInvalidInput under errors.Is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

func invalidField(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func notFound(what string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}
