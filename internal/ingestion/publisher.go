package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"PosCache/internal/event"
)

// Publisher forwards cache notifications to NATS for downstream consumers.
// Subjects follow poscache.events.{event_type}. A failed publish is logged
// and dropped; the stream is observability, not durable history.
type Publisher struct {
	js     jetstream.JetStream
	events <-chan event.Notification
	log    zerolog.Logger
}

func NewPublisher(js jetstream.JetStream, events <-chan event.Notification, log zerolog.Logger) *Publisher {
	return &Publisher{
		js:     js,
		events: events,
		log:    log,
	}
}

func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-p.events:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, n); err != nil {
				p.log.Warn().Str("event_type", n.Type().String()).Err(err).Msg("outbound publish failed")
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, n event.Notification) error {
	data, err := json.Marshal(wireNotification(n))
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	subject := fmt.Sprintf("poscache.events.%s", n.Type())
	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// notificationJSON is the outbound wire format shared by every type;
// unused fields are omitted per type.
type notificationJSON struct {
	EventType           string    `json:"event_type"`
	Account             string    `json:"account,omitempty"`
	Instrument          string    `json:"instrument,omitempty"`
	Collateral          *uint64   `json:"collateral,omitempty"`
	Debt                *uint64   `json:"debt,omitempty"`
	Version             *uint64   `json:"version,omitempty"`
	Writer              string    `json:"writer,omitempty"`
	AttemptedCollateral *uint64   `json:"attempted_collateral,omitempty"`
	AttemptedDebt       *uint64   `json:"attempted_debt,omitempty"`
	Reason              string    `json:"reason,omitempty"`
	RequestID           string    `json:"request_id,omitempty"`
	Seq                 *uint64   `json:"seq,omitempty"`
	Timestamp           time.Time `json:"timestamp"`
}

func wireNotification(n event.Notification) notificationJSON {
	out := notificationJSON{
		EventType: n.Type().String(),
		Timestamp: n.Time(),
	}
	switch e := n.(type) {
	case event.PositionCached:
		out.Account = e.Account.String()
		out.Instrument = e.Instrument
		out.Collateral = &e.Collateral
		out.Debt = &e.Debt
		out.Version = &e.Version
	case event.CacheUpdateFailed:
		out.Account = e.Account.String()
		out.Instrument = e.Instrument
		out.Writer = e.Writer
		out.AttemptedCollateral = &e.AttemptedCollateral
		out.AttemptedDebt = &e.AttemptedDebt
		out.Reason = e.Reason
	case event.IdempotentRequestIgnored:
		out.Account = e.Account.String()
		out.Instrument = e.Instrument
		out.RequestID = e.RequestID.String()
		out.Seq = &e.Seq
	case event.CacheCleared:
		out.Account = e.Account.String()
	}
	return out
}
