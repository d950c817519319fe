// Package ingest feeds events published by a remote protocol gateway on
// RabbitMQ into the local event bus.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/wppsync/internal/bus"
	"github.com/matheus3301/wppsync/internal/model"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Emitter delivers decoded events to the reconcilers.
type Emitter interface {
	Emit(ctx context.Context, evt bus.Event)
}

// Filter remembers applied envelopes. Seen only checks; Mark is called once
// the envelope has been applied, so an envelope lost before that point is
// applied again on redelivery.
type Filter interface {
	Seen(ctx context.Context, id string) (bool, error)
	Mark(ctx context.Context, id string) error
}

// Config selects the broker topology.
type Config struct {
	URL        string
	Exchange   string
	Queue      string
	BindingKey string
	Prefetch   int
}

// Consumer applies envelopes of one session.
type Consumer struct {
	session string
	emitter Emitter
	filter  Filter
	cfg     Config
	logger  *zap.Logger
}

// NewConsumer creates a consumer. filter may be nil.
func NewConsumer(session string, emitter Emitter, filter Filter, cfg Config, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		session: session,
		emitter: emitter,
		filter:  filter,
		cfg:     cfg,
		logger:  logger.With(zap.String("source", "amqp")),
	}
}

// Outcome classifies a handled envelope.
type Outcome int

const (
	// Applied envelopes were emitted to the reconcilers.
	Applied Outcome = iota
	// Skipped envelopes belong to another session, were already applied or
	// carry an event that is not persisted.
	Skipped
	// Poisoned envelopes can never be applied.
	Poisoned
)

// Handle decodes one envelope body and emits it. It returns ErrPoison for
// content that can never be applied and nil for envelopes it deliberately
// skips. Any other error means the envelope was applied but could not be
// marked in the filter; redelivering it is safe since reconcilers are
// idempotent.
func (c *Consumer) Handle(ctx context.Context, body []byte) error {
	_, err := c.apply(ctx, body)
	return err
}

func (c *Consumer) apply(ctx context.Context, body []byte) (Outcome, error) {
	env, err := DecodeEnvelope(body)
	if err != nil {
		return Poisoned, err
	}
	log := c.logger.With(zap.String("event", env.Event), zap.String("envelope_id", env.ID))

	if env.SessionID != "" && env.SessionID != c.session {
		log.Debug("envelope for another session dropped", zap.String("envelope_session", env.SessionID))
		return Skipped, nil
	}

	payload, err := model.DecodeEvent(env.Event, env.Data)
	if errors.Is(err, model.ErrUnknownEvent) {
		log.Debug("event not persisted, skipped")
		return Skipped, nil
	}
	if err != nil {
		return Poisoned, fmt.Errorf("%w: %v", ErrPoison, err)
	}

	mark := false
	if c.filter != nil && env.ID != "" {
		seen, err := c.filter.Seen(ctx, env.ID)
		switch {
		case err != nil:
			log.Warn("duplicate filter unavailable, applying envelope", zap.Error(err))
		case seen:
			log.Debug("duplicate envelope dropped")
			return Skipped, nil
		default:
			mark = true
		}
	}

	c.emitter.Emit(ctx, bus.Event{ID: env.ID, Kind: env.Event, Timestamp: time.Now(), Payload: payload})

	if mark {
		if err := c.filter.Mark(ctx, env.ID); err != nil {
			return Applied, fmt.Errorf("mark envelope %s: %w", env.ID, err)
		}
	}
	return Applied, nil
}

// settle acknowledges d according to the outcome of Handle. Poison is
// acknowledged so it does not loop; an unmarked envelope is requeued.
func (c *Consumer) settle(d amqp.Delivery, err error) {
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, ErrPoison):
		c.logger.Error("poison envelope dropped", zap.Uint64("tag", d.DeliveryTag), zap.Error(err))
		_ = d.Ack(false)
	default:
		c.logger.Error("envelope failed, requeued", zap.Uint64("tag", d.DeliveryTag), zap.Error(err))
		_ = d.Nack(false, true)
	}
}

// Deliver runs Handle for one broker delivery and settles it.
func (c *Consumer) Deliver(ctx context.Context, d amqp.Delivery) {
	c.settle(d, c.Handle(ctx, d.Body))
}

const (
	backoffBase = time.Second
	backoffCap  = 30 * time.Second
)

// Run consumes until ctx is cancelled, reconnecting with capped exponential
// backoff when the connection or channel closes.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := backoffBase
	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Error("amqp consumer stopped, reconnecting", zap.Error(err), zap.Duration("retry_in", backoff))

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if backoff*2 < backoffCap {
			backoff *= 2
		} else {
			backoff = backoffCap
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	msgs, err := c.declare(ch)
	if err != nil {
		return err
	}
	c.logger.Info("amqp consumer started", zap.String("queue", c.cfg.Queue), zap.String("exchange", c.cfg.Exchange))

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			if amqpErr == nil {
				return errors.New("connection closed")
			}
			return amqpErr
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.Deliver(ctx, d)
		}
	}
}

func (c *Consumer) declare(ch *amqp.Channel) (<-chan amqp.Delivery, error) {
	prefetch := c.cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("qos: %w", err)
	}
	if c.cfg.Exchange != "" {
		if err := ch.ExchangeDeclare(c.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
			return nil, fmt.Errorf("declare exchange: %w", err)
		}
	}
	q, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if c.cfg.Exchange != "" {
		if err := ch.QueueBind(q.Name, c.cfg.BindingKey, c.cfg.Exchange, false, nil); err != nil {
			return nil, fmt.Errorf("bind queue: %w", err)
		}
	}
	msgs, err := ch.Consume(q.Name, "wppsync-"+c.session, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}
	return msgs, nil
}
