package service

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fieldops-service/internal/model"
	"fieldops-service/internal/repository"
)

// NotificationService applies delivery reports sent back by the channel.
type NotificationService struct {
	repo   *repository.NotificationRepository
	secret string
	log    zerolog.Logger
	now    func() time.Time
}

func NewNotificationService(repo *repository.NotificationRepository, webhookSecret string, log zerolog.Logger) *NotificationService {
	return &NotificationService{
		repo:   repo,
		secret: webhookSecret,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type DeliveryStatusInput struct {
	NotificationID    *uint
	ProviderMessageID *string
	Status            string
	Error             *string
}

// Authorize checks the shared webhook secret. An unset secret rejects
// every call.
func (s *NotificationService) Authorize(presented string) error {
	if s.secret == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(s.secret)) != 1 {
		return ErrPermissionDenied
	}
	return nil
}

func (s *NotificationService) ApplyDeliveryStatus(ctx context.Context, input DeliveryStatusInput) error {
	status := model.DeliveryStatus(strings.ToLower(strings.TrimSpace(input.Status)))
	if !status.Valid() {
		return invalidField("status", fmt.Sprintf("unknown delivery status %q", input.Status))
	}
	if input.NotificationID == nil && (input.ProviderMessageID == nil || *input.ProviderMessageID == "") {
		return invalidField("notification_id", "notification_id or provider_message_id is required")
	}

	found, err := s.repo.ApplyDeliveryUpdate(ctx, repository.DeliveryUpdate{
		ID:                input.NotificationID,
		ProviderMessageID: input.ProviderMessageID,
		Status:            status,
		Error:             input.Error,
	}, s.now())
	if err != nil {
		return fmt.Errorf("apply delivery status: %w", err)
	}
	if !found {
		return fmt.Errorf("notification: %w", ErrNotFound)
	}

	s.log.Debug().Str("status", string(status)).Msg("notification delivery status updated")
	return nil
}
