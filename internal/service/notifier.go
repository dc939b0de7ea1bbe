package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"fieldops-service/internal/notify"
)

const defaultDispatchTimeout = 10 * time.Second

// notifier delivers side-effect notifications after a mutation committed.
// Failures are logged and never reach the caller.
type notifier struct {
	dispatcher notify.Dispatcher
	timeout    time.Duration
	log        zerolog.Logger
}

func newNotifier(d notify.Dispatcher, log zerolog.Logger) notifier {
	return notifier{dispatcher: d, timeout: defaultDispatchTimeout, log: log}
}

func (n notifier) send(ctx context.Context, msgs ...notify.Message) {
	if n.dispatcher == nil {
		return
	}
	base := context.WithoutCancel(ctx)
	for _, msg := range msgs {
		dctx, cancel := context.WithTimeout(base, n.timeout)
		_, err := n.dispatcher.Dispatch(dctx, msg)
		cancel()
		if err != nil {
			ev := n.log.Error().Err(err).Str("event_kind", string(msg.EventKind))
			if msg.TicketID != nil {
				ev = ev.Uint("ticket_id", *msg.TicketID)
			}
			ev.Msg("notification dispatch failed")
		}
	}
}
