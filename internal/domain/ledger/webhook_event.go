package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/profitledger/backend/internal/domain/shared"
)

// ---------------------------------------------------------------------------
// Topics
// ---------------------------------------------------------------------------

// Topic is the platform webhook topic
type Topic string

const (
	TopicOrdersCreate             Topic = "orders/create"
	TopicOrdersUpdated            Topic = "orders/updated"
	TopicOrdersPaid               Topic = "orders/paid"
	TopicOrdersCancelled          Topic = "orders/cancelled"
	TopicOrdersFulfilled          Topic = "orders/fulfilled"
	TopicOrdersPartiallyFulfilled Topic = "orders/partially_fulfilled"
	TopicRefundsCreate            Topic = "refunds/create"
	TopicTransactionsCreate       Topic = "transactions/create"
)

// ResourceKind is the payload shape a topic carries
type ResourceKind string

const (
	ResourceOrder       ResourceKind = "order"
	ResourceRefund      ResourceKind = "refund"
	ResourceTransaction ResourceKind = "transaction"
)

var topicKinds = map[Topic]ResourceKind{
	TopicOrdersCreate:             ResourceOrder,
	TopicOrdersUpdated:            ResourceOrder,
	TopicOrdersPaid:               ResourceOrder,
	TopicOrdersCancelled:          ResourceOrder,
	TopicOrdersFulfilled:          ResourceOrder,
	TopicOrdersPartiallyFulfilled: ResourceOrder,
	TopicRefundsCreate:            ResourceRefund,
	TopicTransactionsCreate:       ResourceTransaction,
}

// IsValid returns true if the topic is handled
func (t Topic) IsValid() bool {
	_, ok := topicKinds[t]
	return ok
}

// Kind returns the payload shape of the topic
func (t Topic) Kind() ResourceKind {
	return topicKinds[t]
}

// String returns the string representation of Topic
func (t Topic) String() string {
	return string(t)
}

// TopicFromPath maps an endpoint suffix such as "orders_create" to its
// topic. The first underscore separates resource from action.
func TopicFromPath(segment string) (Topic, bool) {
	i := strings.IndexByte(segment, '_')
	if i <= 0 {
		return "", false
	}
	t := Topic(segment[:i] + "/" + segment[i+1:])
	return t, t.IsValid()
}

// Topics lists every handled topic
func Topics() []Topic {
	return []Topic{
		TopicOrdersCreate, TopicOrdersUpdated, TopicOrdersPaid, TopicOrdersCancelled,
		TopicOrdersFulfilled, TopicOrdersPartiallyFulfilled, TopicRefundsCreate, TopicTransactionsCreate,
	}
}

// ---------------------------------------------------------------------------
// Webhook event ledger
// ---------------------------------------------------------------------------

// EventStatus is the processing state of an admitted webhook event
type EventStatus string

const (
	EventStatusPending    EventStatus = "pending"
	EventStatusProcessing EventStatus = "processing"
	EventStatusCompleted  EventStatus = "completed"
	EventStatusFailed     EventStatus = "failed"
)

// IsTerminal returns true for completed and failed
func (s EventStatus) IsTerminal() bool {
	return s == EventStatusCompleted || s == EventStatusFailed
}

// WebhookEvent records the admission of one distinct platform event. The
// dedup key is unique; a second insert with the same key is a re-delivery.
type WebhookEvent struct {
	ID          uuid.UUID
	ShopID      uuid.UUID
	Topic       Topic
	ResourceID  string
	DedupKey    string
	Status      EventStatus
	Error       string
	Attempts    int
	ReceivedAt  time.Time
	ProcessedAt *time.Time
}

// NewWebhookEvent creates a pending event
func NewWebhookEvent(shopID uuid.UUID, topic Topic, resourceID, dedupKey string) *WebhookEvent {
	return &WebhookEvent{
		ID:         uuid.New(),
		ShopID:     shopID,
		Topic:      topic,
		ResourceID: resourceID,
		DedupKey:   dedupKey,
		Status:     EventStatusPending,
		ReceivedAt: time.Now().UTC(),
	}
}

// StartProcessing moves a pending event to processing
func (e *WebhookEvent) StartProcessing() error {
	if e.Status != EventStatusPending {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("cannot process event in %s state", e.Status))
	}
	e.Status = EventStatusProcessing
	e.Attempts++
	return nil
}

// Complete marks the event completed
func (e *WebhookEvent) Complete() error {
	if e.Status != EventStatusProcessing {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("cannot complete event in %s state", e.Status))
	}
	now := time.Now().UTC()
	e.Status = EventStatusCompleted
	e.Error = ""
	e.ProcessedAt = &now
	return nil
}

// Fail marks the event failed with the given cause
func (e *WebhookEvent) Fail(cause error) error {
	if e.Status != EventStatusProcessing {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("cannot fail event in %s state", e.Status))
	}
	now := time.Now().UTC()
	e.Status = EventStatusFailed
	if cause != nil {
		e.Error = cause.Error()
	}
	e.ProcessedAt = &now
	return nil
}

// Retry moves a failed event back to pending so a re-delivery can process it
func (e *WebhookEvent) Retry() error {
	if e.Status != EventStatusFailed {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("cannot retry event in %s state", e.Status))
	}
	e.Status = EventStatusPending
	e.ProcessedAt = nil
	return nil
}

// DedupKey derives the identity of a platform event:
// sha256 of "topic:shop_domain:resource_id:event_timestamp", hex encoded.
func DedupKey(topic Topic, shopDomain, resourceID string, eventTime time.Time) string {
	raw := fmt.Sprintf("%s:%s:%s:%s", topic, NormalizeDomain(shopDomain), resourceID, eventTime.UTC().Format(time.RFC3339Nano))
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
