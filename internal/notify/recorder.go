package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"fieldops-service/internal/metrics"
	"fieldops-service/internal/model"
	"fieldops-service/internal/repository"
)

// Recorder logs every hand-off in the notifications table before passing it
// to the channel, then marks the row sent or failed.
type Recorder struct {
	next    Dispatcher
	repo    *repository.NotificationRepository
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

func NewRecorder(next Dispatcher, repo *repository.NotificationRepository, m *metrics.Metrics, log zerolog.Logger) *Recorder {
	return &Recorder{
		next:    next,
		repo:    repo,
		metrics: m,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now
	return r
}

func (r *Recorder) Dispatch(ctx context.Context, msg Message) (Receipt, error) {
	now := r.now()
	row := &model.Notification{
		EventKind:      string(msg.EventKind),
		TicketID:       msg.TicketID,
		InvoiceID:      msg.InvoiceID,
		TechnicianID:   msg.TechnicianID,
		RecipientClass: string(msg.RecipientClass),
		Status:         model.DeliveryStatusQueued,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.repo.Create(ctx, row); err != nil {
		return Receipt{}, fmt.Errorf("record notification: %w", err)
	}
	msg.NotificationID = row.ID

	receipt, err := r.next.Dispatch(ctx, msg)
	receipt.NotificationID = row.ID

	// the dispatch context may already be spent
	bg := context.WithoutCancel(ctx)
	if err != nil {
		r.metrics.Notification(string(msg.EventKind), string(model.DeliveryStatusFailed))
		if markErr := r.repo.MarkFailed(bg, row.ID, err.Error(), r.now()); markErr != nil {
			r.log.Error().Err(markErr).Uint("notification_id", row.ID).Msg("failed to mark notification failed")
		}
		return receipt, err
	}

	r.metrics.Notification(string(msg.EventKind), string(model.DeliveryStatusSent))
	if markErr := r.repo.MarkSent(bg, row.ID, receipt.ProviderMessageID, r.now()); markErr != nil {
		r.log.Error().Err(markErr).Uint("notification_id", row.ID).Msg("failed to mark notification sent")
	}
	return receipt, nil
}
