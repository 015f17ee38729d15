package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Consumer listens on the audit queue and appends one line per event to
// <LogDir>/auth.log. It is the audit trail for security events. It never
// reads the mail queue, so reset requests stay there for the mailer.
type Consumer struct {
	URL    string
	LogDir string
	Log    *logrus.Entry
}

// queueName is the only queue the consumer reads.
func (c *Consumer) queueName() string { return AuditQueueName }

// Run keeps a consumer connected until ctx is cancelled, reconnecting with
// exponential backoff capped at 30s.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := dial(c.URL, defaultDialTimeout)
		if err != nil {
			c.Log.WithError(err).Warnf("auth-consumer: dial failed; retrying in %s", backoff)
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.Log.WithError(err).Warn("auth-consumer: consume loop ended; reconnecting")
		if !sleepCtx(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.Log.WithError(err).Warn("auth-consumer: set QoS failed")
	}
	if err := declareTopology(ch); err != nil {
		return err
	}
	msgs, err := ch.Consume(c.queueName(), "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handleMessage(d.Body); err != nil {
				c.Log.WithError(err).Warn("auth-consumer: handle message failed")
				_ = d.Nack(false, false) // no requeue, avoids a poison loop
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) handleMessage(body []byte) error {
	var ev AuthEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Type == "" {
		return errors.New("event without type")
	}
	if err := os.MkdirAll(c.LogDir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", c.LogDir, err)
	}
	f, err := os.OpenFile(filepath.Join(c.LogDir, "auth.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] %s | user_id=%d | email=%q | ip=%q", ev.OccurredAt, ev.Type, ev.UserID, ev.Email, ev.IP)
	if ev.Detail != "" {
		line += fmt.Sprintf(" | detail=%q", ev.Detail)
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
