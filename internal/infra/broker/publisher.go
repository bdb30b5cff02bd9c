// Package broker implements durable message publishing to RabbitMQ with
// dead-letter routing.
package broker

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"notigate/internal/config"
	"notigate/internal/domain/notification"
)

var _ notification.Publisher = (*Publisher)(nil)

const (
	deadLetterExchange = "notifications.dlx"
	failedQueue        = "failed.queue"
	emailQueue         = "email.queue"
	pushQueue          = "push.queue"

	routingKeyEmail = "notification.email"
	routingKeyPush  = "notification.push"
)

// Publisher maintains one shared connection and channel to the broker and
// publishes persistent notification jobs to the direct exchange. Concurrent
// publishers share it; the mutex serializes publishes and reconnects.
type Publisher struct {
	cfg config.RabbitMQConfig

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel

	// Probe tuning, overridable in tests.
	probeAttempts  int
	probeBaseDelay time.Duration
	probeTimeout   time.Duration
}

// NewPublisher creates an unconnected publisher. Call Connect before
// serving traffic; Publish reconnects on its own if the channel drops.
func NewPublisher(cfg config.RabbitMQConfig) *Publisher {
	return &Publisher{
		cfg:            cfg,
		probeAttempts:  10,
		probeBaseDelay: time.Second,
		probeTimeout:   3 * time.Second,
	}
}

// Connect probes the broker, opens the connection and channel, and declares
// the full topology. Safe to call again after a connection loss.
func (p *Publisher) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectLocked(ctx)
}

// connectLocked runs the full connect sequence. Caller holds mu.
func (p *Publisher) connectLocked(ctx context.Context) error {
	if err := p.waitForBroker(ctx); err != nil {
		return err
	}

	// The TLS port serves hosts with mismatched or self-signed chains in
	// transitional deployments, so certificate verification is off there.
	amqpCfg := amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)}
	if p.cfg.Port == 5671 {
		amqpCfg.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	conn, err := amqp.DialConfig(p.cfg.URL(), amqpCfg)
	if err != nil {
		return fmt.Errorf("dialing broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("opening channel: %w", err)
	}

	if err := declareTopology(ch, p.cfg.Exchange); err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	p.conn = conn
	p.ch = ch
	slog.Info("broker connection established", "host", p.cfg.Host, "port", p.cfg.Port)
	return nil
}

// waitForBroker probes the broker's TCP port with exponential backoff. The
// broker's listening port can be open before its protocol layer is ready to
// negotiate, and a raw connect failure there surfaces as a confusing AMQP
// error; this keeps those retries at the TCP level. Caller holds mu.
func (p *Publisher) waitForBroker(ctx context.Context) error {
	addr := net.JoinHostPort(p.cfg.Host, fmt.Sprint(p.cfg.Port))

	for attempt := 1; attempt <= p.probeAttempts; attempt++ {
		conn, err := net.DialTimeout("tcp", addr, p.probeTimeout)
		if err == nil {
			conn.Close()
			slog.Info("broker port is reachable", "addr", addr)
			return nil
		}

		wait := p.probeBaseDelay * time.Duration(1<<(attempt-1))
		slog.Debug("broker not ready",
			"addr", addr,
			"attempt", attempt,
			"max_attempts", p.probeAttempts,
			"retry_in", wait,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("broker %s not reachable after %d attempts", addr, p.probeAttempts)
}

// declareTopology declares the exchange, dead-letter exchange and queues.
// Everything is durable and the declarations are idempotent, so redeclaring
// on reconnect is safe.
func declareTopology(ch *amqp.Channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring exchange: %w", err)
	}

	if err := ch.ExchangeDeclare(deadLetterExchange, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring dead-letter exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(failedQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring failed queue: %w", err)
	}
	if err := ch.QueueBind(failedQueue, "", deadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("binding failed queue: %w", err)
	}

	perType := []struct {
		queue      string
		routingKey string
	}{
		{emailQueue, routingKeyEmail},
		{pushQueue, routingKeyPush},
	}
	dlxArgs := amqp.Table{"x-dead-letter-exchange": deadLetterExchange}

	for _, q := range perType {
		if _, err := ch.QueueDeclare(q.queue, true, false, false, false, dlxArgs); err != nil {
			return fmt.Errorf("declaring %s: %w", q.queue, err)
		}
		if err := ch.QueueBind(q.queue, q.routingKey, exchange, false, nil); err != nil {
			return fmt.Errorf("binding %s: %w", q.queue, err)
		}
	}

	slog.Info("broker topology declared", "exchange", exchange)
	return nil
}

// Publish serializes the job and publishes it persistently to the direct
// exchange. A missing or closed channel triggers a transparent reconnect
// first; callers only ever see the outcome of the publish itself.
func (p *Publisher) Publish(ctx context.Context, routingKey string, job *notification.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil || p.ch.IsClosed() {
		if err := p.connectLocked(ctx); err != nil {
			return fmt.Errorf("reconnecting to broker: %w", err)
		}
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}

	err = p.ch.PublishWithContext(ctx, p.cfg.Exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers: amqp.Table{
			"correlation_id":  job.CorrelationID,
			"notification_id": job.NotificationID,
		},
		Body: body,
	})
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", routingKey, err)
	}

	slog.Info("message published",
		"routing_key", routingKey,
		"notification_id", job.NotificationID,
	)
	return nil
}

// Healthy reports whether the broker connection is up.
func (p *Publisher) Healthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil && !p.conn.IsClosed()
}

// Close shuts the connection down.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	if err := p.conn.Close(); err != nil {
		return fmt.Errorf("closing broker connection: %w", err)
	}
	slog.Info("broker connection closed")
	return nil
}
