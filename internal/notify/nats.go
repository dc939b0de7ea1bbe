package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

type natsConn interface {
	PublishMsg(m *nats.Msg) error
}

// NATSPublisher hands messages to a downstream delivery worker over NATS.
type NATSPublisher struct {
	conn    natsConn
	subject string
}

type NATSConfig struct {
	URL            string
	Name           string
	Subject        string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

// ConnectNATS dials the server. The caller owns the returned connection.
func ConnectNATS(cfg NATSConfig) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

func NewNATSPublisher(conn natsConn, subject string) *NATSPublisher {
	return &NATSPublisher{conn: conn, subject: subject}
}

// Dispatch publishes msg as JSON on "<subject>.<event_kind>". The generated
// message id doubles as the provider message id.
func (p *NATSPublisher) Dispatch(ctx context.Context, msg Message) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to marshal message: %w", err)
	}

	id := uuid.NewString()
	out := nats.NewMsg(p.subject + "." + string(msg.EventKind))
	out.Data = payload
	out.Header.Set(nats.MsgIdHdr, id)

	if err := p.conn.PublishMsg(out); err != nil {
		return Receipt{}, fmt.Errorf("failed to publish notification: %w", err)
	}
	return Receipt{NotificationID: msg.NotificationID, ProviderMessageID: id}, nil
}
