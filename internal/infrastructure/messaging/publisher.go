// Package messaging publishes ledger events to RabbitMQ.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	domain "github.com/profitledger/backend/internal/domain/ledger"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RoutingKeyProfitUpdated is the routing key of OrderProfitUpdated events
const RoutingKeyProfitUpdated = "order.profit_updated"

// Channel is the subset of *amqp.Channel used by the publisher
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Config configures the RabbitMQ publisher
type Config struct {
	URL      string
	Exchange string
	// PublishTimeout bounds a single publish; 0 means 5 seconds
	PublishTimeout time.Duration
}

// RabbitMQPublisher publishes ledger events to a durable topic exchange
type RabbitMQPublisher struct {
	conn     *amqp.Connection
	channel  Channel
	exchange string
	timeout  time.Duration
	mu       sync.Mutex
	logger   *zap.Logger
}

// NewRabbitMQPublisher dials the broker and declares the exchange
func NewRabbitMQPublisher(cfg Config, logger *zap.Logger) (*RabbitMQPublisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	p, err := NewRabbitMQPublisherWithChannel(ch, cfg, logger)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

// NewRabbitMQPublisherWithChannel declares the exchange on an open channel
func NewRabbitMQPublisherWithChannel(ch Channel, cfg Config, logger *zap.Logger) (*RabbitMQPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Exchange == "" {
		cfg.Exchange = "ledger.events"
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	err := ch.ExchangeDeclare(
		cfg.Exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare exchange %s: %w", cfg.Exchange, err)
	}
	return &RabbitMQPublisher{
		channel:  ch,
		exchange: cfg.Exchange,
		timeout:  cfg.PublishTimeout,
		logger:   logger,
	}, nil
}

// PublishProfitUpdated publishes the event as persistent JSON
func (p *RabbitMQPublisher) PublishProfitUpdated(ctx context.Context, event domain.OrderProfitUpdated) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	// amqp channels are not safe for concurrent publishing
	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(ctx, p.exchange, RoutingKeyProfitUpdated, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.OrderID.String(),
		Timestamp:    event.OccurredAt,
		Type:         RoutingKeyProfitUpdated,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", RoutingKeyProfitUpdated, err)
	}
	p.logger.Debug("Published ledger event",
		zap.String("routing_key", RoutingKeyProfitUpdated),
		zap.String("order", event.ExternalID))
	return nil
}

// Close closes the channel and the connection
func (p *RabbitMQPublisher) Close() error {
	var firstErr error
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			firstErr = err
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NoopPublisher drops every event
type NoopPublisher struct{}

// PublishProfitUpdated implements domain.LedgerEventPublisher
func (NoopPublisher) PublishProfitUpdated(context.Context, domain.OrderProfitUpdated) error {
	return nil
}

var (
	_ domain.LedgerEventPublisher = (*RabbitMQPublisher)(nil)
	_ domain.LedgerEventPublisher = NoopPublisher{}
)
