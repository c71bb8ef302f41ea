package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	domain "github.com/profitledger/backend/internal/domain/ledger"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	declared   []string
	kinds      []string
	published  []published
	publishErr error
	closed     bool
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	c.declared = append(c.declared, name)
	c.kinds = append(c.kinds, kind)
	return nil
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestRabbitMQPublisher_DeclaresTopicExchange(t *testing.T) {
	ch := &fakeChannel{}
	_, err := NewRabbitMQPublisherWithChannel(ch, Config{}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"ledger.events"}, ch.declared)
	assert.Equal(t, []string{amqp.ExchangeTopic}, ch.kinds)
}

func TestRabbitMQPublisher_PublishProfitUpdated(t *testing.T) {
	ch := &fakeChannel{}
	p, err := NewRabbitMQPublisherWithChannel(ch, Config{Exchange: "ledger.test"}, nil)
	require.NoError(t, err)

	event := domain.OrderProfitUpdated{
		ShopID:        uuid.New(),
		ShopDomain:    "acme.myshopify.com",
		OrderID:       uuid.New(),
		ExternalID:    "1001",
		EffectiveDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		NetRevenue:    decimal.RequireFromString("100.00"),
		NetProfit:     decimal.RequireFromString("42.50"),
		MarginPct:     decimal.RequireFromString("42.50"),
		Flags:         []string{"missing_cogs"},
		OccurredAt:    time.Now().UTC(),
	}
	require.NoError(t, p.PublishProfitUpdated(context.Background(), event))

	require.Len(t, ch.published, 1)
	got := ch.published[0]
	assert.Equal(t, "ledger.test", got.exchange)
	assert.Equal(t, RoutingKeyProfitUpdated, got.key)
	assert.Equal(t, "application/json", got.msg.ContentType)
	assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	assert.Equal(t, event.OrderID.String(), got.msg.MessageId)

	var body map[string]any
	require.NoError(t, json.Unmarshal(got.msg.Body, &body))
	assert.Equal(t, "1001", body["external_id"])
	assert.Equal(t, "42.5", body["net_profit"])
	assert.Equal(t, []any{"missing_cogs"}, body["flags"])
}

func TestRabbitMQPublisher_PublishError(t *testing.T) {
	ch := &fakeChannel{publishErr: errors.New("channel closed")}
	p, err := NewRabbitMQPublisherWithChannel(ch, Config{}, nil)
	require.NoError(t, err)

	err = p.PublishProfitUpdated(context.Background(), domain.OrderProfitUpdated{OrderID: uuid.New()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel closed")

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}

func TestNoopPublisher(t *testing.T) {
	assert.NoError(t, NoopPublisher{}.PublishProfitUpdated(context.Background(), domain.OrderProfitUpdated{}))
}
