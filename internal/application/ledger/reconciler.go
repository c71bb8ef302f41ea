package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/profitledger/backend/internal/domain/shared"
	"github.com/profitledger/backend/internal/infrastructure/telemetry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// maxProfitWrites bounds the recomputes of one profit write under
// concurrent saves
const maxProfitWrites = 5

// Reconciler merges platform snapshots into the ledger and recomputes the
// affected profit figures. Every operation is idempotent: replaying the
// same payload leaves the ledger unchanged.
type Reconciler struct {
	orders    domain.OrderRepository
	costs     *CostResolver
	fees      *FeeResolver
	currency  *CurrencyNormalizer
	allocator domain.AdSpendAllocator
	rollups   *RollupAggregator
	publisher domain.LedgerEventPublisher
	locks     stripedLock
	logger    *zap.Logger
}

// ReconcilerConfig contains the dependencies of Reconciler
type ReconcilerConfig struct {
	Orders   domain.OrderRepository
	Costs    *CostResolver
	Fees     *FeeResolver
	Currency *CurrencyNormalizer
	// Allocator defaults to domain.PolicyAllocator
	Allocator domain.AdSpendAllocator
	Rollups   *RollupAggregator
	// Publisher is optional
	Publisher domain.LedgerEventPublisher
	Logger    *zap.Logger
}

// NewReconciler creates a new Reconciler
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	if cfg.Allocator == nil {
		cfg.Allocator = domain.PolicyAllocator
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Reconciler{
		orders:    cfg.Orders,
		costs:     cfg.Costs,
		fees:      cfg.Fees,
		currency:  cfg.Currency,
		allocator: cfg.Allocator,
		rollups:   cfg.Rollups,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
	}
}

// ReconcileOrder upserts an order snapshot with its embedded children.
// A snapshot older than the stored one only contributes children.
func (r *Reconciler) ReconcileOrder(ctx context.Context, shop *domain.Shop, p *OrderPayload) (*domain.Order, error) {
	return r.traced(ctx, "ledger.reconcile_order", shop, func(ctx context.Context) (*domain.Order, error) {
		return r.reconcileOrder(ctx, shop, p)
	})
}

func (r *Reconciler) reconcileOrder(ctx context.Context, shop *domain.Shop, p *OrderPayload) (*domain.Order, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	telemetry.Annotate(ctx, telemetry.AttrOrderID.String(p.ID.String()))
	unlock := r.locks.lock(shop.ID.String() + "/" + p.ID.String())
	defer unlock()

	stored, err := r.findByExternalID(ctx, shop.ID, p.ID.String())
	if err != nil {
		return nil, err
	}

	incoming := r.mapOrder(ctx, shop, p)
	var merged *domain.Order
	switch {
	case stored == nil:
		merged = incoming
	case incoming.IsStaleComparedTo(stored):
		r.logger.Info("Ignoring stale order snapshot header",
			zap.String("shop", shop.Domain),
			zap.String("order", p.ID.String()),
			zap.Time("incoming_updated_at", incoming.SourceUpdatedAt),
			zap.Time("stored_updated_at", stored.SourceUpdatedAt))
		merged = stored
		mergeChildren(merged, incoming)
	default:
		merged = incoming
		merged.ID = stored.ID
		merged.CreatedAt = stored.CreatedAt
		mergeChildren(merged, stored)
		carryCosts(merged, stored)
		if incoming.Flags.Has(domain.FlagMultiCurrency) {
			merged.Flags.Set(domain.FlagMultiCurrency)
		}
	}

	order, err := r.persist(ctx, shop, merged)
	if err != nil {
		return nil, err
	}

	if stored != nil && !stored.EffectiveDate.Equal(order.EffectiveDate) {
		r.recomputeRollup(ctx, shop, stored.EffectiveDate)
	}
	r.recomputeRollup(ctx, shop, order.EffectiveDate)
	return order, nil
}

// ReconcileRefund attaches a refund to its order
func (r *Reconciler) ReconcileRefund(ctx context.Context, shop *domain.Shop, p *RefundPayload) (*domain.Order, error) {
	return r.traced(ctx, "ledger.reconcile_refund", shop, func(ctx context.Context) (*domain.Order, error) {
		return r.reconcileRefund(ctx, shop, p)
	})
}

func (r *Reconciler) reconcileRefund(ctx context.Context, shop *domain.Shop, p *RefundPayload) (*domain.Order, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	telemetry.Annotate(ctx, telemetry.AttrOrderID.String(p.OrderID.String()))
	unlock := r.locks.lock(shop.ID.String() + "/" + p.OrderID.String())
	defer unlock()

	order, err := r.requireOrder(ctx, shop.ID, p.OrderID.String())
	if err != nil {
		return nil, err
	}

	update := &domain.Order{Flags: domain.Flags{}}
	r.mapRefund(ctx, shop, p, update)
	mergeChildren(order, update)
	if update.Flags.Has(domain.FlagMultiCurrency) {
		order.Flags.Set(domain.FlagMultiCurrency)
	}

	order, err = r.persist(ctx, shop, order)
	if err != nil {
		return nil, err
	}
	r.recomputeRollup(ctx, shop, order.EffectiveDate)
	return order, nil
}

// ReconcileTransaction attaches a payment transaction to its order
func (r *Reconciler) ReconcileTransaction(ctx context.Context, shop *domain.Shop, p *TransactionPayload) (*domain.Order, error) {
	return r.traced(ctx, "ledger.reconcile_transaction", shop, func(ctx context.Context) (*domain.Order, error) {
		return r.reconcileTransaction(ctx, shop, p)
	})
}

func (r *Reconciler) reconcileTransaction(ctx context.Context, shop *domain.Shop, p *TransactionPayload) (*domain.Order, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	telemetry.Annotate(ctx, telemetry.AttrOrderID.String(p.OrderID.String()))
	unlock := r.locks.lock(shop.ID.String() + "/" + p.OrderID.String())
	defer unlock()

	order, err := r.requireOrder(ctx, shop.ID, p.OrderID.String())
	if err != nil {
		return nil, err
	}

	mergeChildren(order, &domain.Order{Transactions: []domain.Transaction{r.mapTransaction(p)}})

	order, err = r.persist(ctx, shop, order)
	if err != nil {
		return nil, err
	}
	r.recomputeRollup(ctx, shop, order.EffectiveDate)
	return order, nil
}

// Recalculate re-resolves missing costs and recomputes an order's profit
// from what is stored
func (r *Reconciler) Recalculate(ctx context.Context, shop *domain.Shop, orderID uuid.UUID) (*domain.Order, error) {
	return r.traced(ctx, "ledger.recalculate", shop, func(ctx context.Context) (*domain.Order, error) {
		return r.recalculate(ctx, shop, orderID)
	})
}

func (r *Reconciler) recalculate(ctx context.Context, shop *domain.Shop, orderID uuid.UUID) (*domain.Order, error) {
	order, err := r.orders.FindByID(ctx, shop.ID, orderID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	telemetry.Annotate(ctx, telemetry.AttrOrderID.String(order.ExternalID))
	unlock := r.locks.lock(shop.ID.String() + "/" + order.ExternalID)
	defer unlock()

	order, err = r.storeProfit(ctx, shop, order, true, false)
	if err != nil {
		return nil, err
	}
	r.publish(ctx, shop, order)
	r.recomputeRollup(ctx, shop, order.EffectiveDate)
	return order, nil
}

func (r *Reconciler) traced(ctx context.Context, name string, shop *domain.Shop, fn func(context.Context) (*domain.Order, error)) (*domain.Order, error) {
	ctx, span := telemetry.Start(ctx, name, telemetry.AttrShopDomain.String(shop.Domain))
	var (
		order *domain.Order
		err   error
	)
	telemetry.Labeled(ctx, name, func(ctx context.Context) {
		order, err = fn(ctx)
	})
	telemetry.End(span, &err)
	return order, err
}

// persist resolves costs, saves the order, reloads it so the profit is
// computed over every stored child, and stores the profit
func (r *Reconciler) persist(ctx context.Context, shop *domain.Shop, order *domain.Order) (*domain.Order, error) {
	r.resolveCosts(ctx, shop, order)
	multi := order.Flags.Has(domain.FlagMultiCurrency)

	if err := r.orders.Save(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to save order %s: %w", order.ExternalID, err)
	}
	saved, err := r.orders.FindByID(ctx, shop.ID, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload order %s: %w", order.ExternalID, err)
	}
	saved, err = r.storeProfit(ctx, shop, saved, false, multi)
	if err != nil {
		return nil, err
	}
	r.publish(ctx, shop, saved)

	r.logger.Debug("Order reconciled",
		zap.String("shop", shop.Domain),
		zap.String("order", saved.ExternalID),
		zap.String("net_profit", saved.Profit.NetProfit.StringFixed(2)),
		zap.Strings("flags", saved.Flags.Names()))
	return saved, nil
}

// storeProfit computes and writes the profit of a loaded order. Another
// instance may save the order in between; the write then fails with
// ErrOrderChanged and is recomputed from a fresh load.
func (r *Reconciler) storeProfit(ctx context.Context, shop *domain.Shop, order *domain.Order, resolve, multi bool) (*domain.Order, error) {
	for attempt := 1; ; attempt++ {
		if resolve {
			r.resolveCosts(ctx, shop, order)
		}
		if order.Flags == nil {
			order.Flags = domain.Flags{}
		}
		if multi {
			order.Flags.Set(domain.FlagMultiCurrency)
		}
		r.computeProfit(ctx, shop, order)
		err := r.orders.UpdateProfit(ctx, order)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, domain.ErrOrderChanged) || attempt >= maxProfitWrites {
			return nil, fmt.Errorf("failed to store profit for %s: %w", order.ExternalID, err)
		}
		r.logger.Debug("Order changed while computing profit",
			zap.String("shop", shop.Domain),
			zap.String("order", order.ExternalID),
			zap.Int("attempt", attempt))
		if order, err = r.orders.FindByID(ctx, shop.ID, order.ID); err != nil {
			return nil, fmt.Errorf("failed to reload order: %w", err)
		}
	}
}

func (r *Reconciler) computeProfit(ctx context.Context, shop *domain.Shop, order *domain.Order) {
	if order.Flags == nil {
		order.Flags = domain.Flags{}
	}
	fees := r.fees.Resolve(ctx, shop, order)
	profit, flags := domain.CalculateProfit(domain.ProfitInput{
		Order:       order,
		Fees:        fees,
		Shipping:    shop.Settings.Shipping,
		AdSpend:     r.allocator.Allocate(order, shop.Settings),
		Unconverted: order.Flags.Has(domain.FlagMultiCurrency),
	})
	order.Profit = profit
	order.Flags = flags
}

// resolveCosts fills in unit costs for lines that have none. Resolved
// costs are never replaced.
func (r *Reconciler) resolveCosts(ctx context.Context, shop *domain.Shop, order *domain.Order) {
	if r.costs == nil {
		return
	}
	for i := range order.Lines {
		l := &order.Lines[i]
		if l.HasCost() {
			continue
		}
		l.UnitCost, l.CostSource = r.costs.Resolve(ctx, shop, l.InventoryItemID, order.SourceCreatedAt)
	}
}

func (r *Reconciler) publish(ctx context.Context, shop *domain.Shop, order *domain.Order) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.PublishProfitUpdated(ctx, domain.NewOrderProfitUpdated(shop, order)); err != nil {
		r.logger.Warn("Failed to publish profit update",
			zap.String("shop", shop.Domain),
			zap.String("order", order.ExternalID),
			zap.Error(err))
	}
}

func (r *Reconciler) recomputeRollup(ctx context.Context, shop *domain.Shop, date time.Time) {
	if r.rollups == nil || date.IsZero() {
		return
	}
	if _, err := r.rollups.Recompute(ctx, shop, date); err != nil {
		r.logger.Error("Failed to recompute rollup",
			zap.String("shop", shop.Domain),
			zap.String("date", date.Format(time.DateOnly)),
			zap.Error(err))
	}
}

func (r *Reconciler) findByExternalID(ctx context.Context, shopID uuid.UUID, externalID string) (*domain.Order, error) {
	o, err := r.orders.FindByExternalID(ctx, shopID, externalID)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order %s: %w", externalID, err)
	}
	return o, nil
}

func (r *Reconciler) requireOrder(ctx context.Context, shopID uuid.UUID, externalID string) (*domain.Order, error) {
	o, err := r.findByExternalID(ctx, shopID, externalID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, externalID)
	}
	return o, nil
}

// ---------------------------------------------------------------------------
// Payload mapping
// ---------------------------------------------------------------------------

func (r *Reconciler) mapOrder(ctx context.Context, shop *domain.Shop, p *OrderPayload) *domain.Order {
	cur := domain.NormalizeCurrency(p.Currency)
	o := &domain.Order{
		BaseEntity:          shared.NewBaseEntity(),
		ShopID:              shop.ID,
		ExternalID:          p.ID.String(),
		OrderNumber:         orderNumber(p),
		SourceCreatedAt:     p.CreatedAt.UTC(),
		SourceUpdatedAt:     p.UpdatedAt.UTC(),
		CancelledAt:         p.CancelledAt,
		Currency:            shop.BaseCurrency,
		PresentmentCurrency: domain.NormalizeCurrency(p.PresentmentCurrency),
		FinancialStatus:     p.FinancialStatus,
		FulfillmentStatus:   p.FulfillmentStatus,
		Flags:               domain.Flags{},
	}
	if p.ProcessedAt != nil {
		o.ProcessedAt = p.ProcessedAt.UTC()
	}
	if p.Customer != nil {
		o.CustomerID = p.Customer.ID.String()
	}

	amount := func(set *domain.PriceSet, plain decimal.Decimal) decimal.Decimal {
		v, ok := r.currency.ToShop(ctx, set, domain.Money{Amount: plain, CurrencyCode: cur}, shop.BaseCurrency)
		if !ok {
			o.Flags.Set(domain.FlagMultiCurrency)
		}
		return v
	}
	o.GrossTotal = amount(p.TotalPriceSet, p.TotalPrice)
	o.Discounts = amount(p.TotalDiscountsSet, p.TotalDiscounts)
	o.Tax = amount(p.TotalTaxSet, p.TotalTax)
	o.Duties = amount(p.CurrentTotalDutiesSet, decimal.Zero)
	o.ShippingCharged = amount(p.TotalShippingPriceSet, decimal.Zero)

	for _, li := range p.LineItems {
		if li.Quantity <= 0 {
			continue
		}
		discount := li.TotalDiscount
		discountSet := li.TotalDiscountSet
		if discount.IsZero() && discountSet == nil && len(li.DiscountAllocations) > 0 {
			for _, da := range li.DiscountAllocations {
				discount = discount.Add(amount(da.AmountSet, da.Amount))
			}
		} else {
			discount = amount(discountSet, discount)
		}
		presentment := li.Price
		if m, ok := li.PriceSet.Pick(o.PresentmentCurrency); ok {
			presentment = m.Amount
		}
		o.Lines = append(o.Lines, domain.OrderLine{
			ExternalID:           li.ID.String(),
			ProductID:            li.ProductID.String(),
			VariantID:            li.VariantID.String(),
			InventoryItemID:      li.InventoryItemID.String(),
			Title:                li.Title,
			Quantity:             li.Quantity,
			UnitPrice:            amount(li.PriceSet, li.Price),
			UnitPricePresentment: presentment,
			DiscountTotal:        discount,
			CostSource:           domain.CostSourceUnresolved,
		})
	}

	for i := range p.Refunds {
		rp := p.Refunds[i]
		r.mapRefund(ctx, shop, &rp, o)
	}
	for _, tp := range p.Transactions {
		o.Transactions = append(o.Transactions, r.mapTransaction(&tp))
	}

	o.Normalize(shop.Location())
	return o
}

// mapRefund appends the refund's lines and transactions to o
func (r *Reconciler) mapRefund(ctx context.Context, shop *domain.Shop, p *RefundPayload, o *domain.Order) {
	created := p.EventTime().UTC()
	for _, rl := range p.RefundLineItems {
		amt, ok := r.currency.ToShop(ctx, rl.SubtotalSet, domain.Money{Amount: rl.Subtotal, CurrencyCode: shop.BaseCurrency}, shop.BaseCurrency)
		if !ok {
			o.Flags.Set(domain.FlagMultiCurrency)
		}
		presentment := rl.Subtotal
		if rl.SubtotalSet != nil && rl.SubtotalSet.PresentmentMoney != nil {
			presentment = rl.SubtotalSet.PresentmentMoney.Amount
		}
		if amt.IsNegative() {
			amt = amt.Neg()
		}
		o.Refunds = append(o.Refunds, domain.RefundLine{
			ExternalID:        rl.ID.String(),
			RefundID:          p.ID.String(),
			LineExternalID:    rl.LineItemID.String(),
			Quantity:          rl.Quantity,
			Amount:            amt,
			AmountPresentment: presentment.Abs(),
			CreatedAt:         created,
		})
	}
	for _, tp := range p.Transactions {
		o.Transactions = append(o.Transactions, r.mapTransaction(&tp))
	}
}

func (r *Reconciler) mapTransaction(p *TransactionPayload) domain.Transaction {
	cur := domain.NormalizeCurrency(p.Currency)
	t := domain.Transaction{
		ExternalID: p.ID.String(),
		Kind:       strings.ToLower(p.Kind),
		Gateway:    p.Gateway,
		Status:     strings.ToLower(p.Status),
		Amount:     p.Amount.Abs(),
		Currency:   cur,
	}
	if p.ProcessedAt != nil {
		at := p.ProcessedAt.UTC()
		t.ProcessedAt = &at
	}
	// A 0.00 fee is treated as absent and left to the fee estimate.
	if p.Fee != nil && !p.Fee.IsZero() {
		t.Fees = append(t.Fees, domain.TransactionFee{
			ExternalID: t.ExternalID + "-fee",
			Amount:     p.Fee.Abs(),
			Currency:   cur,
		})
	}
	for i, f := range p.Fees {
		amt, fcur := f.Amount, domain.NormalizeCurrency(f.Currency)
		if m, ok := f.AmountSet.Pick(cur); ok {
			amt, fcur = m.Amount, domain.NormalizeCurrency(m.CurrencyCode)
		}
		if fcur == "" {
			fcur = cur
		}
		id := f.ID.String()
		if id == "" {
			id = fmt.Sprintf("%s-fee-%d", t.ExternalID, i)
		}
		t.Fees = append(t.Fees, domain.TransactionFee{
			ExternalID: id,
			Amount:     amt.Abs(),
			Currency:   fcur,
		})
	}
	return t
}

func orderNumber(p *OrderPayload) string {
	if p.Name != "" {
		return p.Name
	}
	return p.OrderNumber.String()
}

// ---------------------------------------------------------------------------
// Merging
// ---------------------------------------------------------------------------

// mergeChildren adds children of src that dst lacks. Children present in
// both keep dst's version.
func mergeChildren(dst, src *domain.Order) {
	lines := make(map[string]bool, len(dst.Lines))
	for _, l := range dst.Lines {
		lines[l.ExternalID] = true
	}
	for _, l := range src.Lines {
		if !lines[l.ExternalID] {
			dst.Lines = append(dst.Lines, l)
		}
	}

	refunds := make(map[string]bool, len(dst.Refunds))
	for _, rl := range dst.Refunds {
		refunds[rl.ExternalID] = true
	}
	for _, rl := range src.Refunds {
		if !refunds[rl.ExternalID] {
			dst.Refunds = append(dst.Refunds, rl)
		}
	}

	txns := make(map[string]int, len(dst.Transactions))
	for i, t := range dst.Transactions {
		txns[t.ExternalID] = i
	}
	for _, t := range src.Transactions {
		i, ok := txns[t.ExternalID]
		if !ok {
			dst.Transactions = append(dst.Transactions, t)
			continue
		}
		fees := make(map[string]bool, len(dst.Transactions[i].Fees))
		for _, f := range dst.Transactions[i].Fees {
			fees[f.ExternalID] = true
		}
		for _, f := range t.Fees {
			if !fees[f.ExternalID] {
				dst.Transactions[i].Fees = append(dst.Transactions[i].Fees, f)
			}
		}
	}
}

// carryCosts copies resolved line costs from the stored order
func carryCosts(dst, stored *domain.Order) {
	for i := range dst.Lines {
		l := &dst.Lines[i]
		if l.HasCost() {
			continue
		}
		if prev := stored.LineByExternalID(l.ExternalID); prev != nil && prev.HasCost() {
			l.UnitCost = prev.UnitCost
			l.CostSource = prev.CostSource
		}
	}
}
