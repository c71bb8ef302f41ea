package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/profitledger/backend/internal/domain/shared"
	"github.com/profitledger/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultOrderPageSize = 50
	maxOrderPageSize     = 500
)

var orderHeaderColumns = []string{
	"order_number", "source_created_at", "source_updated_at", "processed_at",
	"cancelled_at", "effective_date", "currency", "presentment_currency",
	"gross_total", "discounts", "tax", "duties", "shipping_charged",
	"financial_status", "fulfillment_status", "customer_id",
	"gross_revenue", "refunded_amount", "net_revenue", "cogs", "fees",
	"shipping_cost", "ad_spend", "net_profit", "margin_pct", "flags",
	"updated_at",
}

var orderLineColumns = []string{
	"product_id", "variant_id", "inventory_item_id", "title", "quantity",
	"unit_price", "unit_price_presentment", "discount_total",
}

// orderLineCostAssignments keeps a stored unit cost when the incoming line
// carries none.
var orderLineCostAssignments = clause.Set{
	{Column: clause.Column{Name: "unit_cost"}, Value: gorm.Expr("COALESCE(excluded.unit_cost, order_lines.unit_cost)")},
	{Column: clause.Column{Name: "cost_source"}, Value: gorm.Expr("CASE WHEN excluded.unit_cost IS NULL AND order_lines.unit_cost IS NOT NULL THEN order_lines.cost_source ELSE excluded.cost_source END")},
}

// newerHeader keeps a stored header when the incoming snapshot is older
var newerHeader = clause.Where{Exprs: []clause.Expression{
	clause.Expr{SQL: "orders.source_updated_at <= excluded.source_updated_at"},
}}

var refundLineColumns = []string{
	"refund_id", "line_external_id", "quantity", "amount", "amount_presentment",
}

var transactionColumns = []string{
	"kind", "gateway", "status", "amount", "currency", "processed_at",
}

var transactionFeeColumns = []string{"amount", "currency", "estimated"}

// GormOrderRepository implements OrderRepository using GORM
type GormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository creates a new GormOrderRepository
func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// FindByExternalID loads an order and its children by platform id
func (r *GormOrderRepository) FindByExternalID(ctx context.Context, shopID uuid.UUID, externalID string) (*domain.Order, error) {
	return r.load(ctx, "shop_id = ? AND external_id = ?", shopID, externalID)
}

// FindByID loads an order and its children
func (r *GormOrderRepository) FindByID(ctx context.Context, shopID, id uuid.UUID) (*domain.Order, error) {
	return r.load(ctx, "shop_id = ? AND id = ?", shopID, id)
}

func (r *GormOrderRepository) load(ctx context.Context, query string, args ...any) (*domain.Order, error) {
	db := r.db.WithContext(ctx)

	var header models.OrderModel
	if err := db.Where(query, args...).First(&header).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	order := header.ToDomain()

	var lines []models.OrderLineModel
	if err := db.Where("order_id = ?", header.ID).Order("external_id").Find(&lines).Error; err != nil {
		return nil, err
	}
	order.Lines = make([]domain.OrderLine, 0, len(lines))
	for i := range lines {
		order.Lines = append(order.Lines, lines[i].ToDomain())
	}

	var refunds []models.RefundLineModel
	if err := db.Where("order_id = ?", header.ID).Order("created_at, external_id").Find(&refunds).Error; err != nil {
		return nil, err
	}
	order.Refunds = make([]domain.RefundLine, 0, len(refunds))
	for i := range refunds {
		order.Refunds = append(order.Refunds, refunds[i].ToDomain())
	}

	var txns []models.TransactionModel
	if err := db.Where("order_id = ?", header.ID).Order("external_id").Find(&txns).Error; err != nil {
		return nil, err
	}
	order.Transactions = make([]domain.Transaction, 0, len(txns))
	if len(txns) == 0 {
		return order, nil
	}

	ids := make([]uuid.UUID, len(txns))
	for i := range txns {
		ids[i] = txns[i].ID
	}
	var fees []models.TransactionFeeModel
	if err := db.Where("transaction_id IN ?", ids).Order("external_id").Find(&fees).Error; err != nil {
		return nil, err
	}
	byTxn := make(map[uuid.UUID][]domain.TransactionFee, len(txns))
	for i := range fees {
		byTxn[fees[i].TransactionID] = append(byTxn[fees[i].TransactionID], fees[i].ToDomain())
	}
	for i := range txns {
		t := txns[i].ToDomain()
		t.Fees = byTxn[t.ID]
		order.Transactions = append(order.Transactions, t)
	}
	return order, nil
}

// Save upserts the header and every child collection in one transaction
// and bumps the order revision. A header older than the stored one is not
// written; its children still are.
func (r *GormOrderRepository) Save(ctx context.Context, order *domain.Order) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		if order.ID == uuid.Nil {
			order.ID = uuid.New()
		}
		if order.CreatedAt.IsZero() {
			order.CreatedAt = now
		}
		order.UpdatedAt = now

		var header models.OrderModel
		header.FromDomain(order)
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "shop_id"}, {Name: "external_id"}},
			DoUpdates: clause.AssignmentColumns(orderHeaderColumns),
			Where:     newerHeader,
		}).Create(&header).Error; err != nil {
			return err
		}

		var stored models.OrderModel
		if err := tx.Select("id", "created_at").
			Where("shop_id = ? AND external_id = ?", order.ShopID, order.ExternalID).
			First(&stored).Error; err != nil {
			return err
		}
		order.ID = stored.ID
		order.CreatedAt = stored.CreatedAt

		if err := r.saveLines(tx, order); err != nil {
			return err
		}
		if err := r.saveRefunds(tx, order); err != nil {
			return err
		}
		if err := r.saveTransactions(tx, order); err != nil {
			return err
		}

		if err := tx.Model(&models.OrderModel{}).
			Where("id = ?", order.ID).
			UpdateColumn("revision", gorm.Expr("revision + 1")).Error; err != nil {
			return err
		}
		return tx.Model(&models.OrderModel{}).Select("revision").Where("id = ?", order.ID).Row().Scan(&order.Revision)
	})
}

func (r *GormOrderRepository) saveLines(tx *gorm.DB, order *domain.Order) error {
	if len(order.Lines) == 0 {
		return nil
	}
	rows := make([]models.OrderLineModel, len(order.Lines))
	for i, l := range order.Lines {
		rows[i] = models.OrderLineFromDomain(order.ID, l)
	}
	updates := append(clause.AssignmentColumns(orderLineColumns), orderLineCostAssignments...)
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}, {Name: "external_id"}},
		DoUpdates: updates,
	}).Create(&rows).Error; err != nil {
		return err
	}

	ids, err := storedIDs(tx, &models.OrderLineModel{}, "order_id", order.ID)
	if err != nil {
		return err
	}
	for i := range order.Lines {
		order.Lines[i].OrderID = order.ID
		if id, ok := ids[order.Lines[i].ExternalID]; ok {
			order.Lines[i].ID = id
		}
	}
	return nil
}

func (r *GormOrderRepository) saveRefunds(tx *gorm.DB, order *domain.Order) error {
	if len(order.Refunds) == 0 {
		return nil
	}
	rows := make([]models.RefundLineModel, len(order.Refunds))
	for i, rl := range order.Refunds {
		rows[i] = models.RefundLineFromDomain(order.ID, rl)
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}, {Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns(refundLineColumns),
	}).Create(&rows).Error; err != nil {
		return err
	}

	ids, err := storedIDs(tx, &models.RefundLineModel{}, "order_id", order.ID)
	if err != nil {
		return err
	}
	for i := range order.Refunds {
		order.Refunds[i].OrderID = order.ID
		if id, ok := ids[order.Refunds[i].ExternalID]; ok {
			order.Refunds[i].ID = id
		}
	}
	return nil
}

func (r *GormOrderRepository) saveTransactions(tx *gorm.DB, order *domain.Order) error {
	if len(order.Transactions) == 0 {
		return nil
	}
	rows := make([]models.TransactionModel, len(order.Transactions))
	for i, t := range order.Transactions {
		rows[i] = models.TransactionFromDomain(order.ID, t)
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}, {Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns(transactionColumns),
	}).Create(&rows).Error; err != nil {
		return err
	}

	ids, err := storedIDs(tx, &models.TransactionModel{}, "order_id", order.ID)
	if err != nil {
		return err
	}
	var fees []models.TransactionFeeModel
	for i := range order.Transactions {
		t := &order.Transactions[i]
		t.OrderID = order.ID
		if id, ok := ids[t.ExternalID]; ok {
			t.ID = id
		}
		for j := range t.Fees {
			t.Fees[j].TransactionID = t.ID
			fees = append(fees, models.TransactionFeeFromDomain(t.ID, t.Fees[j]))
		}
	}
	if len(fees) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "transaction_id"}, {Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns(transactionFeeColumns),
	}).Create(&fees).Error
}

// storedIDs maps external ids to stored ids for the rows of model owned by parent
func storedIDs(tx *gorm.DB, model any, parentColumn string, parent uuid.UUID) (map[string]uuid.UUID, error) {
	var rows []struct {
		ID         uuid.UUID
		ExternalID string
	}
	if err := tx.Model(model).Select("id", "external_id").Where(parentColumn+" = ?", parent).Scan(&rows).Error; err != nil {
		return nil, err
	}
	ids := make(map[string]uuid.UUID, len(rows))
	for _, row := range rows {
		ids[row.ExternalID] = row.ID
	}
	return ids, nil
}

// UpdateProfit writes the breakdown, flags and resolved line costs when the
// stored revision is still order.Revision, and returns
// domain.ErrOrderChanged otherwise
func (r *GormOrderRepository) UpdateProfit(ctx context.Context, order *domain.Order) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var header models.OrderModel
		header.SetProfit(order.Profit, order.Flags)
		result := tx.Model(&models.OrderModel{}).
			Where("id = ? AND shop_id = ? AND revision = ?", order.ID, order.ShopID, order.Revision).
			Updates(map[string]any{
				"gross_revenue":   header.GrossRevenue,
				"refunded_amount": header.RefundedAmount,
				"net_revenue":     header.NetRevenue,
				"cogs":            header.COGS,
				"fees":            header.Fees,
				"shipping_cost":   header.ShippingCost,
				"ad_spend":        header.AdSpend,
				"net_profit":      header.NetProfit,
				"margin_pct":      header.MarginPct,
				"flags":           header.Flags,
				"revision":        gorm.Expr("revision + 1"),
				"updated_at":      time.Now().UTC(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.OrderModel{}).
				Where("id = ? AND shop_id = ?", order.ID, order.ShopID).
				Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return shared.ErrNotFound
			}
			return domain.ErrOrderChanged
		}

		for _, line := range order.Lines {
			if !line.HasCost() {
				continue
			}
			if err := tx.Model(&models.OrderLineModel{}).
				Where("order_id = ? AND external_id = ?", order.ID, line.ExternalID).
				Updates(map[string]any{
					"unit_cost":   *line.UnitCost,
					"cost_source": string(line.CostSource),
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	order.Revision++
	return nil
}

// FindByEffectiveDate returns order headers of the shop's calendar date
func (r *GormOrderRepository) FindByEffectiveDate(ctx context.Context, shopID uuid.UUID, date time.Time) ([]domain.Order, error) {
	from := date.UTC()
	to := from.AddDate(0, 0, 1)

	var rows []models.OrderModel
	if err := r.db.WithContext(ctx).
		Where("shop_id = ? AND effective_date >= ? AND effective_date < ?", shopID, from, to).
		Order("processed_at, external_id").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(rows))
	for i := range rows {
		orders = append(orders, *rows[i].ToDomain())
	}
	return orders, nil
}

// List returns a page of order headers, newest first
func (r *GormOrderRepository) List(ctx context.Context, shopID uuid.UUID, filter domain.OrderFilter, page, pageSize int) (*domain.OrderListResult, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultOrderPageSize
	}
	if pageSize > maxOrderPageSize {
		pageSize = maxOrderPageSize
	}

	query := r.db.WithContext(ctx).Model(&models.OrderModel{}).Where("shop_id = ?", shopID)
	if filter.From != nil {
		query = query.Where("effective_date >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		query = query.Where("effective_date < ?", filter.To.UTC().AddDate(0, 0, 1))
	}
	if filter.Flag != nil {
		query = query.Where("(',' || flags || ',') LIKE ?", "%,"+string(*filter.Flag)+",%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var rows []models.OrderModel
	if err := query.Order(orderSortClause(filter.SortBy, filter.SortDir)).
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	items := make([]*domain.Order, 0, len(rows))
	for i := range rows {
		items = append(items, rows[i].ToDomain())
	}
	return &domain.OrderListResult{Items: items, TotalCount: total, Page: page, PageSize: pageSize}, nil
}

// Delete removes an order with its lines, refunds, transactions and fees
func (r *GormOrderRepository) Delete(ctx context.Context, shopID, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.OrderModel{}).Where("shop_id = ? AND id = ?", shopID, id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return shared.ErrNotFound
		}

		txnIDs := tx.Model(&models.TransactionModel{}).Select("id").Where("order_id = ?", id)
		if err := tx.Where("transaction_id IN (?)", txnIDs).Delete(&models.TransactionFeeModel{}).Error; err != nil {
			return err
		}
		for _, child := range []any{&models.TransactionModel{}, &models.RefundLineModel{}, &models.OrderLineModel{}} {
			if err := tx.Where("order_id = ?", id).Delete(child).Error; err != nil {
				return err
			}
		}
		return tx.Where("id = ?", id).Delete(&models.OrderModel{}).Error
	})
}
