package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/profitledger/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// SignatureVerifier checks a webhook body signature against a secret
type SignatureVerifier interface {
	Verify(body []byte, signature, secret string) bool
}

// Notification is one inbound platform webhook
type Notification struct {
	Topic      domain.Topic
	ShopDomain string
	Signature  string
	// TriggeredAt is the platform's event timestamp header, when sent
	TriggeredAt time.Time
	Body        []byte
}

// Admission is the outcome of admitting a notification
type Admission struct {
	Event     *domain.WebhookEvent
	Duplicate bool
	Order     *domain.Order
}

// Intake authenticates, deduplicates and dispatches webhooks. At most one
// admitted event per dedup key is processed to completion.
type Intake struct {
	shops      domain.ShopRepository
	events     domain.WebhookEventRepository
	reconciler *Reconciler
	verifier   SignatureVerifier
	secret     string
	sem        chan struct{}
	metrics    Metrics
	logger     *zap.Logger
}

// IntakeConfig contains the dependencies of Intake
type IntakeConfig struct {
	Shops      domain.ShopRepository
	Events     domain.WebhookEventRepository
	Reconciler *Reconciler
	Verifier   SignatureVerifier
	// Secret is the global signing secret used when a shop has none
	Secret string
	// Concurrency bounds the number of events reconciled at once
	Concurrency int
	Metrics     Metrics
	Logger      *zap.Logger
}

// NewIntake creates a new Intake
func NewIntake(cfg IntakeConfig) *Intake {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Intake{
		shops:      cfg.Shops,
		events:     cfg.Events,
		reconciler: cfg.Reconciler,
		verifier:   cfg.Verifier,
		secret:     cfg.Secret,
		sem:        make(chan struct{}, cfg.Concurrency),
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}
}

// Admit processes one notification. Duplicates succeed without work.
func (in *Intake) Admit(ctx context.Context, n Notification) (*Admission, error) {
	if !n.Topic.IsValid() {
		in.metrics.EventAdmitted(ctx, n.Topic.String(), "rejected")
		return nil, fmt.Errorf("%w: unsupported topic %q", domain.ErrMalformedPayload, n.Topic)
	}

	shop, err := in.shops.FindByDomain(ctx, domain.NormalizeDomain(n.ShopDomain))
	if err != nil {
		in.metrics.EventAdmitted(ctx, n.Topic.String(), "rejected")
		if errors.Is(err, shared.ErrNotFound) {
			// Only the global secret can vouch for an unknown shop.
			if !in.verify(nil, n) {
				return nil, domain.ErrAuthentication
			}
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownShop, n.ShopDomain)
		}
		return nil, fmt.Errorf("failed to load shop: %w", err)
	}
	if !in.verify(shop, n) {
		in.metrics.EventAdmitted(ctx, n.Topic.String(), "rejected")
		in.logger.Warn("Webhook signature rejected",
			zap.String("shop", shop.Domain),
			zap.String("topic", n.Topic.String()))
		return nil, domain.ErrAuthentication
	}
	if !shop.Active {
		in.metrics.EventAdmitted(ctx, n.Topic.String(), "rejected")
		return nil, fmt.Errorf("%w: %s is inactive", domain.ErrUnknownShop, shop.Domain)
	}

	dispatch, resourceID, eventTime, err := in.parse(shop, n)
	if err != nil {
		in.metrics.EventAdmitted(ctx, n.Topic.String(), "rejected")
		return nil, err
	}
	if !n.TriggeredAt.IsZero() {
		eventTime = n.TriggeredAt
	}

	key := domain.DedupKey(n.Topic, shop.Domain, resourceID, eventTime)
	event, duplicate, err := in.admitEvent(ctx, domain.NewWebhookEvent(shop.ID, n.Topic, resourceID, key))
	if err != nil {
		return nil, err
	}
	if duplicate {
		in.metrics.EventAdmitted(ctx, n.Topic.String(), "duplicate")
		in.logger.Debug("Duplicate webhook ignored",
			zap.String("shop", shop.Domain),
			zap.String("topic", n.Topic.String()),
			zap.String("resource_id", resourceID))
		return &Admission{Event: event, Duplicate: true}, nil
	}

	order, err := in.process(ctx, event, dispatch)
	if err != nil {
		return &Admission{Event: event}, err
	}
	return &Admission{Event: event, Order: order}, nil
}

// verify checks the signature with the shop secret when set, else the
// global secret. A missing secret fails closed.
func (in *Intake) verify(shop *domain.Shop, n Notification) bool {
	secret := in.secret
	if shop != nil && shop.WebhookSecret != "" {
		secret = shop.WebhookSecret
	}
	if secret == "" || n.Signature == "" || in.verifier == nil {
		return false
	}
	return in.verifier.Verify(n.Body, n.Signature, secret)
}

type dispatchFunc func(ctx context.Context) (*domain.Order, error)

// parse decodes and validates the body for the topic. Nothing is admitted
// when it fails.
func (in *Intake) parse(shop *domain.Shop, n Notification) (dispatchFunc, string, time.Time, error) {
	switch n.Topic.Kind() {
	case domain.ResourceOrder:
		var p OrderPayload
		if err := decodePayload(n.Body, &p); err != nil {
			return nil, "", time.Time{}, err
		}
		if err := p.Validate(); err != nil {
			return nil, "", time.Time{}, err
		}
		return func(ctx context.Context) (*domain.Order, error) {
			return in.reconciler.ReconcileOrder(ctx, shop, &p)
		}, p.ID.String(), p.EventTime(), nil

	case domain.ResourceRefund:
		var p RefundPayload
		if err := decodePayload(n.Body, &p); err != nil {
			return nil, "", time.Time{}, err
		}
		if err := p.Validate(); err != nil {
			return nil, "", time.Time{}, err
		}
		return func(ctx context.Context) (*domain.Order, error) {
			return in.reconciler.ReconcileRefund(ctx, shop, &p)
		}, p.ID.String(), p.EventTime(), nil

	case domain.ResourceTransaction:
		var p TransactionPayload
		if err := decodePayload(n.Body, &p); err != nil {
			return nil, "", time.Time{}, err
		}
		if err := p.Validate(); err != nil {
			return nil, "", time.Time{}, err
		}
		return func(ctx context.Context) (*domain.Order, error) {
			return in.reconciler.ReconcileTransaction(ctx, shop, &p)
		}, p.ID.String(), p.EventTime(), nil
	}
	return nil, "", time.Time{}, fmt.Errorf("%w: unsupported topic %q", domain.ErrMalformedPayload, n.Topic)
}

// admitEvent inserts the event under its dedup key. A failed earlier
// delivery is re-admitted so the platform's retry can complete it; when
// re-deliveries race, the one that claims the failed row wins and the rest
// are duplicates.
func (in *Intake) admitEvent(ctx context.Context, event *domain.WebhookEvent) (*domain.WebhookEvent, bool, error) {
	inserted, err := in.events.Insert(ctx, event)
	if err != nil {
		return nil, false, fmt.Errorf("failed to record webhook event: %w", err)
	}
	if inserted {
		return event, false, nil
	}

	claimed, err := in.events.ClaimFailed(ctx, event.DedupKey)
	if err != nil {
		return nil, false, fmt.Errorf("failed to claim webhook event: %w", err)
	}
	existing, err := in.events.FindByDedupKey(ctx, event.DedupKey)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load webhook event: %w", err)
	}
	if !claimed {
		return existing, true, nil
	}
	return existing, false, nil
}

// process runs fn under the concurrency bound and records the outcome
func (in *Intake) process(ctx context.Context, event *domain.WebhookEvent, fn dispatchFunc) (*domain.Order, error) {
	select {
	case in.sem <- struct{}{}:
		defer func() { <-in.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := event.StartProcessing(); err != nil {
		return nil, err
	}
	if err := in.events.Update(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to update webhook event: %w", err)
	}

	start := time.Now()
	order, procErr := fn(ctx)
	in.metrics.ReconcileDuration(ctx, event.Topic.String(), time.Since(start))

	if procErr != nil {
		_ = event.Fail(procErr)
		in.metrics.EventAdmitted(ctx, event.Topic.String(), "failed")
		in.logger.Error("Webhook processing failed",
			zap.String("topic", event.Topic.String()),
			zap.String("resource_id", event.ResourceID),
			zap.Int("attempts", event.Attempts),
			zap.Error(procErr))
	} else {
		_ = event.Complete()
		in.metrics.EventAdmitted(ctx, event.Topic.String(), "completed")
	}

	// Record the outcome even if the request context was cancelled mid-way.
	if err := in.events.Update(context.WithoutCancel(ctx), event); err != nil {
		in.logger.Error("Failed to record webhook outcome",
			zap.String("dedup_key", event.DedupKey),
			zap.Error(err))
	}
	return order, procErr
}
