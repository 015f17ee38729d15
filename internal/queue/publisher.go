package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const (
	publishBuffer      = 256
	defaultDialTimeout = 5 * time.Second
)

// ErrPublisherBusy is returned when the publish buffer is full and the event
// was dropped.
var ErrPublisherBusy = errors.New("queue: publish buffer full")

// Publisher sends auth events somewhere. Callers treat failures as
// non-fatal.
type Publisher interface {
	Publish(ctx context.Context, ev AuthEvent) error
}

type binding struct {
	queue string
	key   string
}

var authBindings = []binding{
	{queue: AuditQueueName, key: "audit.#"},
	{queue: MailQueueName, key: "mail.#"},
}

// declareTopology declares the auth exchange and both queues. Publisher and
// consumer both call it so either may start first.
func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(AuthExchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}
	for _, b := range authBindings {
		if _, err := ch.QueueDeclare(b.queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue declare %s: %w", b.queue, err)
		}
		if err := ch.QueueBind(b.queue, b.key, AuthExchange, false, nil); err != nil {
			return fmt.Errorf("queue bind %s: %w", b.queue, err)
		}
	}
	return nil
}

// dial opens a connection whose TCP connect and AMQP handshake are both
// bounded by timeout.
func dial(url string, timeout time.Duration) (*amqp.Connection, error) {
	return amqp.DialConfig(url, amqp.Config{
		Dial:      amqp.DefaultDial(timeout),
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
	})
}

// AMQPPublisher buffers events and publishes them from Run over one
// long-lived connection. Publish never touches the network, so a slow or
// absent broker costs requests nothing; events are dropped with a warning
// once the buffer is full or delivery fails.
type AMQPPublisher struct {
	url         string
	log         *logrus.Entry
	dialTimeout time.Duration
	buf         chan AuthEvent

	// owned by Run
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPPublisher returns a publisher for url. Nothing is sent until Run is
// started.
func NewAMQPPublisher(url string, log *logrus.Entry) *AMQPPublisher {
	return &AMQPPublisher{
		url:         url,
		log:         log,
		dialTimeout: defaultDialTimeout,
		buf:         make(chan AuthEvent, publishBuffer),
	}
}

// Publish enqueues ev for delivery.
func (p *AMQPPublisher) Publish(_ context.Context, ev AuthEvent) error {
	select {
	case p.buf <- ev:
		return nil
	default:
		p.log.WithField("event", ev.Type).Warn("rabbitmq: publish buffer full; event dropped")
		return ErrPublisherBusy
	}
}

// Run delivers buffered events until ctx is cancelled.
func (p *AMQPPublisher) Run(ctx context.Context) error {
	defer p.disconnect()
	for {
		select {
		case <-ctx.Done():
			if n := len(p.buf); n > 0 {
				p.log.WithField("pending", n).Warn("rabbitmq: publisher stopped with undelivered events")
			}
			return ctx.Err()
		case ev := <-p.buf:
			p.deliver(ctx, ev)
		}
	}
}

// deliver publishes every route of ev, reconnecting once if the held
// connection turns out to be dead.
func (p *AMQPPublisher) deliver(ctx context.Context, ev AuthEvent) {
	for _, r := range routes(ev) {
		body, err := json.Marshal(r.ev)
		if err != nil {
			p.log.WithError(err).WithField("event", ev.Type).Error("rabbitmq: marshal event")
			return
		}
		pub := amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Type:         string(ev.Type),
			Body:         body,
		}
		if err := p.publishOnce(ctx, r.key, pub); err != nil {
			p.log.WithError(err).WithFields(logrus.Fields{"event": ev.Type, "key": r.key}).
				Warn("rabbitmq: event dropped")
		}
	}
}

func (p *AMQPPublisher) publishOnce(ctx context.Context, key string, pub amqp.Publishing) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if p.ch == nil {
			if err = p.connect(); err != nil {
				return err
			}
		}
		pctx, cancel := context.WithTimeout(ctx, p.dialTimeout)
		err = p.ch.PublishWithContext(pctx, AuthExchange, key, false, false, pub)
		cancel()
		if err == nil {
			return nil
		}
		p.disconnect()
	}
	return err
}

func (p *AMQPPublisher) connect() error {
	conn, err := dial(p.url, p.dialTimeout)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("channel open: %w", err)
	}
	if err := declareTopology(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}
	p.conn, p.ch = conn, ch
	return nil
}

func (p *AMQPPublisher) disconnect() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}

// LogPublisher writes events to the logger. It is used when no broker is
// configured, so reset links are not delivered. Reset tokens are never
// logged.
type LogPublisher struct{ Log *logrus.Entry }

func (p LogPublisher) Publish(_ context.Context, ev AuthEvent) error {
	p.Log.WithFields(logrus.Fields{
		"event":   ev.Type,
		"user_id": ev.UserID,
		"ip":      ev.IP,
	}).Info("auth event")
	return nil
}
