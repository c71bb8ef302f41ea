package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const orderBody = `{
	"id": 1001,
	"name": "#1001",
	"created_at": "2024-03-10T12:00:00Z",
	"updated_at": "2024-03-10T12:00:00Z",
	"currency": "USD",
	"total_price": "20.00",
	"financial_status": "paid",
	"line_items": [
		{"id": 1, "inventory_item_id": 11, "title": "Mug", "quantity": 2, "price": "10.00"}
	],
	"transactions": [
		{"id": 701, "kind": "sale", "status": "success", "amount": "20.00", "currency": "USD", "fee": "0.88"}
	]
}`

const refundBody = `{
	"id": 9001,
	"order_id": 1001,
	"created_at": "2024-03-11T09:00:00Z",
	"refund_line_items": [
		{"id": 5001, "line_item_id": 1, "quantity": 1, "subtotal": "10.00"}
	]
}`

type intakeFixture struct {
	*ledgerFixture
	events  *memWebhookEventRepository
	metrics *recordingMetrics
	intake  *Intake
}

func newIntakeFixture(t *testing.T, secret string) *intakeFixture {
	t.Helper()
	lf := newLedgerFixture(t)
	lf.withSnapshot("11", "4.00")
	f := &intakeFixture{
		ledgerFixture: lf,
		events:        newMemWebhookEventRepository(),
		metrics:       &recordingMetrics{},
	}
	f.intake = NewIntake(IntakeConfig{
		Shops:       lf.shops,
		Events:      f.events,
		Reconciler:  lf.reconciler,
		Verifier:    prefixVerifier{},
		Secret:      secret,
		Concurrency: 2,
		Metrics:     f.metrics,
	})
	return f
}

func notification(topic domain.Topic, body, signature string) Notification {
	return Notification{
		Topic:      topic,
		ShopDomain: "ACME.myshopify.com",
		Signature:  signature,
		Body:       []byte(body),
	}
}

func TestIntake_Admit(t *testing.T) {
	ctx := context.Background()

	t.Run("admits and reconciles a signed order", func(t *testing.T) {
		f := newIntakeFixture(t, "global")

		res, err := f.intake.Admit(ctx, notification(domain.TopicOrdersCreate, orderBody, "sig:global"))
		require.NoError(t, err)

		assert.False(t, res.Duplicate)
		require.NotNil(t, res.Order)
		assertDec(t, "11.12", res.Order.Profit.NetProfit)
		assert.Equal(t, domain.EventStatusCompleted, res.Event.Status)
		assert.Equal(t, 1, res.Event.Attempts)
		assert.Equal(t, "1001", res.Event.ResourceID)
		assert.Equal(t, []string{"orders/create:completed"}, f.metrics.outcomes)
	})

	t.Run("re-delivery is a duplicate", func(t *testing.T) {
		f := newIntakeFixture(t, "global")
		n := notification(domain.TopicOrdersCreate, orderBody, "sig:global")

		_, err := f.intake.Admit(ctx, n)
		require.NoError(t, err)
		saves := f.orders.saves

		res, err := f.intake.Admit(ctx, n)
		require.NoError(t, err)

		assert.True(t, res.Duplicate)
		assert.Nil(t, res.Order)
		assert.Equal(t, saves, f.orders.saves)
		assert.Equal(t, 1, f.events.count())
	})

	t.Run("different topics of the same order are distinct events", func(t *testing.T) {
		f := newIntakeFixture(t, "global")

		_, err := f.intake.Admit(ctx, notification(domain.TopicOrdersCreate, orderBody, "sig:global"))
		require.NoError(t, err)
		res, err := f.intake.Admit(ctx, notification(domain.TopicOrdersPaid, orderBody, "sig:global"))
		require.NoError(t, err)

		assert.False(t, res.Duplicate)
		assert.Equal(t, 2, f.events.count())
		assert.Equal(t, 1, f.orders.count())
	})

	t.Run("triggered-at header separates deliveries", func(t *testing.T) {
		f := newIntakeFixture(t, "global")
		n := notification(domain.TopicOrdersUpdated, orderBody, "sig:global")
		n.TriggeredAt = time.Date(2024, 3, 10, 13, 0, 0, 0, time.UTC)

		_, err := f.intake.Admit(ctx, n)
		require.NoError(t, err)
		n.TriggeredAt = n.TriggeredAt.Add(time.Minute)
		res, err := f.intake.Admit(ctx, n)
		require.NoError(t, err)

		assert.False(t, res.Duplicate)
	})

	t.Run("rejects bad signature", func(t *testing.T) {
		f := newIntakeFixture(t, "global")

		_, err := f.intake.Admit(ctx, notification(domain.TopicOrdersCreate, orderBody, "sig:other"))
		assert.ErrorIs(t, err, domain.ErrAuthentication)
		assert.Equal(t, 0, f.events.count())
		assert.Equal(t, 0, f.orders.count())
	})

	t.Run("rejects missing signature", func(t *testing.T) {
		f := newIntakeFixture(t, "global")

		_, err := f.intake.Admit(ctx, notification(domain.TopicOrdersCreate, orderBody, ""))
		assert.ErrorIs(t, err, domain.ErrAuthentication)
	})

	t.Run("fails closed without a secret", func(t *testing.T) {
		f := newIntakeFixture(t, "")

		_, err := f.intake.Admit(ctx, notification(domain.TopicOrdersCreate, orderBody, "sig:"))
		assert.ErrorIs(t, err, domain.ErrAuthentication)
	})

	t.Run("shop secret overrides the global one", func(t *testing.T) {
		f := newIntakeFixture(t, "global")
		f.shop.WebhookSecret = "per-shop"
		require.NoError(t, f.shops.Save(ctx, f.shop))

		_, err := f.intake.Admit(ctx, notification(domain.TopicOrdersCreate, orderBody, "sig:global"))
		assert.ErrorIs(t, err, domain.ErrAuthentication)

		res, err := f.intake.Admit(ctx, notification(domain.TopicOrdersCreate, orderBody, "sig:per-shop"))
		require.NoError(t, err)
		assert.NotNil(t, res.Order)
	})

	t.Run("unknown shop", func(t *testing.T) {
		f := newIntakeFixture(t, "global")
		n := notification(domain.TopicOrdersCreate, orderBody, "sig:global")
		n.ShopDomain = "other.myshopify.com"

		_, err := f.intake.Admit(ctx, n)
		assert.ErrorIs(t, err, domain.ErrUnknownShop)

		n.Signature = "sig:forged"
		_, err = f.intake.Admit(ctx, n)
		assert.ErrorIs(t, err, domain.ErrAuthentication)
	})

	t.Run("inactive shop", func(t *testing.T) {
		f := newIntakeFixture(t, "global")
		f.shop.Active = false
		require.NoError(t, f.shops.Save(ctx, f.shop))

		_, err := f.intake.Admit(ctx, notification(domain.TopicOrdersCreate, orderBody, "sig:global"))
		assert.ErrorIs(t, err, domain.ErrUnknownShop)
	})

	t.Run("malformed body is not admitted", func(t *testing.T) {
		f := newIntakeFixture(t, "global")

		_, err := f.intake.Admit(ctx, notification(domain.TopicOrdersCreate, `{"id": `, "sig:global"))
		assert.ErrorIs(t, err, domain.ErrMalformedPayload)

		_, err = f.intake.Admit(ctx, notification(domain.TopicOrdersCreate, `{"id": 1, "currency": "USD"}`, "sig:global"))
		assert.ErrorIs(t, err, domain.ErrMalformedPayload)

		assert.Equal(t, 0, f.events.count())
		assert.Equal(t, []string{"orders/create:rejected", "orders/create:rejected"}, f.metrics.outcomes)
	})

	t.Run("unsupported topic", func(t *testing.T) {
		f := newIntakeFixture(t, "global")

		_, err := f.intake.Admit(ctx, notification("products/create", orderBody, "sig:global"))
		assert.ErrorIs(t, err, domain.ErrMalformedPayload)
	})

	t.Run("failed event is retried on re-delivery", func(t *testing.T) {
		f := newIntakeFixture(t, "global")
		refund := notification(domain.TopicRefundsCreate, refundBody, "sig:global")

		res, err := f.intake.Admit(ctx, refund)
		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
		require.NotNil(t, res)
		assert.Equal(t, domain.EventStatusFailed, res.Event.Status)
		assert.NotEmpty(t, res.Event.Error)

		_, err = f.intake.Admit(ctx, notification(domain.TopicOrdersCreate, orderBody, "sig:global"))
		require.NoError(t, err)

		res, err = f.intake.Admit(ctx, refund)
		require.NoError(t, err)
		assert.False(t, res.Duplicate)
		assert.Equal(t, domain.EventStatusCompleted, res.Event.Status)
		assert.Equal(t, 2, res.Event.Attempts)
		assertDec(t, "5.12", res.Order.Profit.NetProfit)

		stored, err := f.events.FindByDedupKey(ctx, res.Event.DedupKey)
		require.NoError(t, err)
		assert.Equal(t, domain.EventStatusCompleted, stored.Status)
	})

	t.Run("concurrent re-deliveries of a failed event have one winner", func(t *testing.T) {
		f := newIntakeFixture(t, "global")
		refund := notification(domain.TopicRefundsCreate, refundBody, "sig:global")

		_, err := f.intake.Admit(ctx, refund)
		require.ErrorIs(t, err, domain.ErrOrderNotFound)
		_, err = f.intake.Admit(ctx, notification(domain.TopicOrdersCreate, orderBody, "sig:global"))
		require.NoError(t, err)
		saves := f.orders.saves

		var arrived sync.WaitGroup
		arrived.Add(2)
		f.events.onClaim = func() {
			arrived.Done()
			arrived.Wait()
		}

		results := make([]*Admission, 2)
		errs := make([]error, 2)
		var wg sync.WaitGroup
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = f.intake.Admit(ctx, refund)
			}(i)
		}
		wg.Wait()

		winners := 0
		for i := range results {
			require.NoError(t, errs[i])
			if !results[i].Duplicate {
				winners++
				assert.Equal(t, domain.EventStatusCompleted, results[i].Event.Status)
			}
		}
		assert.Equal(t, 1, winners)
		assert.Equal(t, saves+1, f.orders.saves)

		order, err := f.orders.FindByExternalID(ctx, f.shop.ID, "1001")
		require.NoError(t, err)
		assert.Len(t, order.Refunds, 1)
		assertDec(t, "5.12", order.Profit.NetProfit)
	})

	t.Run("transaction event", func(t *testing.T) {
		f := newIntakeFixture(t, "global")
		_, err := f.intake.Admit(ctx, notification(domain.TopicOrdersCreate, orderBody, "sig:global"))
		require.NoError(t, err)

		body := `{"id": "gid://shopify/OrderTransaction/702", "order_id": 1001, "kind": "sale", "status": "success",
			"amount": "5.00", "currency": "USD", "created_at": "2024-03-10T12:05:00Z", "fee": "0.12"}`
		res, err := f.intake.Admit(ctx, notification(domain.TopicTransactionsCreate, body, "sig:global"))
		require.NoError(t, err)

		assert.Equal(t, "702", res.Event.ResourceID)
		assertDec(t, "1.00", res.Order.Profit.Fees)
	})
}
