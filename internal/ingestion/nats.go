// Package ingestion is the NATS edge of the service: JetStream consumers
// for write and maintenance requests, a request-reply responder for reads,
// and the outbound notification publisher.
package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Op identifies which cache operation a subject carries.
type Op string

const (
	OpPushAbsolute      Op = "PushAbsolute"
	OpPushDelta         Op = "PushDelta"
	OpBatchPushAbsolute Op = "BatchPushAbsolute"
	OpBatchPushDelta    Op = "BatchPushDelta"
	OpClear             Op = "Clear"
	OpRetry             Op = "Retry"
	OpRefreshModules    Op = "RefreshModules"
)

// RawRequest is a NATS message handed to the dispatch loop. Ack and Nak
// must be called exactly once after processing.
type RawRequest struct {
	Op        Op
	Subject   string
	Data      []byte
	Timestamp time.Time
	Ack       func()
	Nak       func()
}

// SubjectConfig binds one subject to its operation and durable consumer.
type SubjectConfig struct {
	Subject      string
	Op           Op
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the full write/maintenance subject map.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "poscache.push.absolute", Op: OpPushAbsolute, ConsumerName: "poscache-push-abs", StreamName: "POSCACHE_PUSH"},
		{Subject: "poscache.push.delta", Op: OpPushDelta, ConsumerName: "poscache-push-delta", StreamName: "POSCACHE_PUSH"},
		{Subject: "poscache.push.absolute.batch", Op: OpBatchPushAbsolute, ConsumerName: "poscache-push-abs-batch", StreamName: "POSCACHE_PUSH"},
		{Subject: "poscache.push.delta.batch", Op: OpBatchPushDelta, ConsumerName: "poscache-push-delta-batch", StreamName: "POSCACHE_PUSH"},
		{Subject: "poscache.clear", Op: OpClear, ConsumerName: "poscache-clear", StreamName: "POSCACHE_MAINT"},
		{Subject: "poscache.retry", Op: OpRetry, ConsumerName: "poscache-retry", StreamName: "POSCACHE_MAINT"},
		{Subject: "poscache.refresh", Op: OpRefreshModules, ConsumerName: "poscache-refresh", StreamName: "POSCACHE_MAINT"},
	}
}

// Subscriber feeds JetStream messages into the dispatch channel.
type Subscriber struct {
	js        jetstream.JetStream
	requests  chan<- RawRequest
	log       zerolog.Logger
	consumers []jetstream.ConsumeContext
}

func NewSubscriber(js jetstream.JetStream, requests chan<- RawRequest, log zerolog.Logger) *Subscriber {
	return &Subscriber{
		js:       js,
		requests: requests,
		log:      log,
	}
}

// Subscribe creates a durable explicit-ack consumer per subject. Messages
// are acked by the dispatch loop after processing, not on receipt.
func (s *Subscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		cfg := cfg
		consumer, err := s.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		cc, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawRequest{
				Op:        cfg.Op,
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				Ack:       func() { msg.Ack() },
				Nak:       func() { msg.Nak() },
			}
			select {
			case s.requests <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		s.consumers = append(s.consumers, cc)
		s.log.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}
	return nil
}

// Stop drains all consumers.
func (s *Subscriber) Stop() {
	for _, cc := range s.consumers {
		cc.Stop()
	}
	s.log.Info().Msg("subscribers stopped")
}

// EnsureStreams creates the inbound and outbound JetStream streams.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "POSCACHE_PUSH",
			Subjects:  []string{"poscache.push.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "POSCACHE_MAINT",
			Subjects:  []string{"poscache.clear", "poscache.retry", "poscache.refresh"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "POSCACHE_EVENTS",
			Subjects:  []string{"poscache.events.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
	}
	return nil
}

// Connect establishes a NATS connection and a JetStream context.
func Connect(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
