package event

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	// DefaultStream is the durable JetStream stream carrying every domain event.
	DefaultStream = "FABRIC_EVENTS"
	// subjectPrefix namespaces event subjects; the partition key is appended.
	subjectPrefix = "fabric.events."
	// headerEventType carries the wire type tag alongside the JSON payload.
	headerEventType = "Fabric-Event-Type"

	fetchBatch = 10

	// redeliverDelay spaces out retries of transient failures. Out-of-order
	// records waiting on a prerequisite event are a steady-state path here,
	// not an outage, so an immediate Nak would spin hot.
	redeliverDelay = 5 * time.Second
)

// Publisher appends one event to the log. Implemented by Bus; fakes stand in
// for it in aggregate tests.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Bus is the NATS JetStream implementation of the event log: durable append
// plus consumer-group subscribe with manual commit.
type Bus struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	stream string
	logger *zap.Logger
}

// NewBus connects to NATS and initialises a JetStream context.
func NewBus(url, stream string, logger *zap.Logger) (*Bus, error) {
	nc, err := nats.Connect(url, nats.RetryOnFailedConnect(true), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("initialize JetStream: %w", err)
	}
	if stream == "" {
		stream = DefaultStream
	}
	logger.Info("NATS JetStream connected", zap.String("url", url), zap.String("stream", stream))
	return &Bus{conn: nc, js: js, stream: stream, logger: logger}, nil
}

// Provision idempotently creates the event stream.
func (b *Bus) Provision() error {
	_, err := b.js.StreamInfo(b.stream)
	if err == nil {
		b.logger.Info("NATS stream exists", zap.String("stream", b.stream))
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("check stream info: %w", err)
	}

	_, err = b.js.AddStream(&nats.StreamConfig{
		Name:      b.stream,
		Subjects:  []string{subjectPrefix + ">"},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
	})
	if err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	b.logger.Info("NATS stream provisioned", zap.String("stream", b.stream))
	return nil
}

// Publish appends one record, partitioned by the event's key. A publish
// failure bubbles up so the originating command fails with it.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	tag, data, err := Marshal(ev)
	if err != nil {
		return err
	}
	msg := &nats.Msg{
		Subject: subjectPrefix + ev.Key(),
		Header:  nats.Header{headerEventType: []string{tag}},
		Data:    data,
	}
	if _, err := b.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish %s: %w", tag, err)
	}
	b.logger.Debug("event published", zap.String("type", tag), zap.String("key", ev.Key()))
	return nil
}

// PoisonError marks a record as structurally unprocessable. The subscriber
// terminates such records so they never block the partition; everything else
// is NAKed and redelivered.
type PoisonError struct {
	Err error
}

func (e *PoisonError) Error() string { return "poison pill: " + e.Err.Error() }
func (e *PoisonError) Unwrap() error { return e.Err }

// Poison wraps err so the subscribe loop commits the record instead of
// retrying it.
func Poison(err error) error {
	if err == nil {
		return nil
	}
	return &PoisonError{Err: err}
}

// disposition is the ack action for one delivered record.
type disposition int

const (
	dispositionAck disposition = iota
	dispositionRetry
	dispositionTerm
)

// classify maps an apply result to its disposition: nil commits, a poison
// pill terminates, anything else is redelivered after redeliverDelay.
func classify(err error) disposition {
	if err == nil {
		return dispositionAck
	}
	var poison *PoisonError
	if errors.As(err, &poison) {
		return dispositionTerm
	}
	return dispositionRetry
}

// Subscribe creates a durable pull consumer named group and launches a
// processing loop in a background goroutine. Each record is delivered to
// exactly one member of the group.
//
// apply is invoked once per decoded event; the offset is committed (Ack)
// only when apply returns nil, giving at-least-once delivery. A transient
// error NAKs the record for redelivery. A malformed record — undecodable, or
// apply returning a PoisonError — is logged and terminated so the partition
// keeps moving.
func (b *Bus) Subscribe(ctx context.Context, group string, apply func(context.Context, Event) error) error {
	sub, err := b.js.PullSubscribe(
		subjectPrefix+">",
		group,
		nats.BindStream(b.stream),
		nats.AckExplicit(),
		nats.ManualAck(),
	)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", group, err)
	}

	b.logger.Info("event consumer started",
		zap.String("stream", b.stream),
		zap.String("group", group),
	)

	go func() {
		for {
			select {
			case <-ctx.Done():
				b.logger.Info("event consumer stopping", zap.String("group", group))
				return
			default:
			}

			msgs, err := sub.Fetch(fetchBatch, nats.Context(ctx))
			if err != nil {
				// Timeout or cancellation on an empty queue is routine.
				continue
			}
			for _, msg := range msgs {
				b.processMessage(ctx, group, msg, apply)
			}
		}
	}()

	return nil
}

func (b *Bus) processMessage(ctx context.Context, group string, msg *nats.Msg, apply func(context.Context, Event) error) {
	ev, err := Decode(msg.Header.Get(headerEventType), msg.Data)
	if err != nil {
		b.logger.Warn("terminating malformed record",
			zap.String("group", group),
			zap.String("subject", msg.Subject),
			zap.Error(err),
		)
		msg.Term()
		return
	}

	err = apply(ctx, ev)
	switch classify(err) {
	case dispositionTerm:
		b.logger.Warn("terminating poison-pill event",
			zap.String("group", group),
			zap.String("type", ev.EventType()),
			zap.Error(err),
		)
		msg.Term()
	case dispositionRetry:
		b.logger.Error("NAK event (transient error)",
			zap.String("group", group),
			zap.String("type", ev.EventType()),
			zap.Error(err),
		)
		msg.NakWithDelay(redeliverDelay)
	default:
		// Ack ONLY after the handler committed its side effect.
		msg.Ack()
	}
}

// Close drains the connection, flushing pending publishes and in-flight
// deliveries before closing.
func (b *Bus) Close() {
	if b.conn != nil {
		if err := b.conn.Drain(); err != nil {
			b.conn.Close()
		}
	}
}
