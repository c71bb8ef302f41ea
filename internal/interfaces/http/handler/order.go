package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	domain "github.com/profitledger/backend/internal/domain/ledger"
)

// OrderHandler serves per-order profit and manual reprocessing
type OrderHandler struct {
	BaseHandler
	queries    LedgerQueries
	reconciler OrderRecalculator
}

// NewOrderHandler creates a new OrderHandler
func NewOrderHandler(queries LedgerQueries, reconciler OrderRecalculator) *OrderHandler {
	return &OrderHandler{queries: queries, reconciler: reconciler}
}

// ListOrdersQuery filters the order listing
type ListOrdersQuery struct {
	From     string `form:"from" binding:"omitempty,datetime=2006-01-02"`
	To       string `form:"to" binding:"omitempty,datetime=2006-01-02"`
	Flag     string `form:"flag" binding:"omitempty,oneof=fees_estimated no_unit_cost multi_currency has_refunds refund_overflow"`
	SortBy   string `form:"sort_by" binding:"omitempty,oneof=processed_at external_id gross_revenue net_revenue net_profit margin_pct"`
	SortDir  string `form:"sort_dir" binding:"omitempty,oneof=asc desc"`
	Page     int    `form:"page" binding:"omitempty,gte=1"`
	PageSize int    `form:"page_size" binding:"omitempty,gte=1,lte=200"`
}

// List returns a page of orders by effective date
func (h *OrderHandler) List(c *gin.Context) {
	var q ListOrdersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.BindError(c, err)
		return
	}

	filter := domain.OrderFilter{SortBy: q.SortBy, SortDir: q.SortDir}
	if q.From != "" {
		from, _ := time.Parse(dateLayout, q.From)
		filter.From = &from
	}
	if q.To != "" {
		to, _ := time.Parse(dateLayout, q.To)
		filter.To = &to
	}
	if q.Flag != "" {
		flag := domain.Flag(q.Flag)
		filter.Flag = &flag
	}

	result, err := h.queries.Orders(c.Request.Context(), currentShop(c), filter, q.Page, q.PageSize)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	items := make([]OrderResponse, 0, len(result.Items))
	for _, o := range result.Items {
		items = append(items, toOrderResponse(o, false))
	}
	h.SuccessWithMeta(c, items, result.TotalCount, result.Page, result.PageSize)
}

// Get returns one order with lines, refunds and transactions
func (h *OrderHandler) Get(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		h.BadRequest(c, "Invalid order ID")
		return
	}

	order, err := h.queries.Order(c.Request.Context(), currentShop(c), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toOrderResponse(order, true))
}

// Recalculate re-resolves costs and recomputes the order's profit
func (h *OrderHandler) Recalculate(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		h.BadRequest(c, "Invalid order ID")
		return
	}

	order, err := h.reconciler.Recalculate(c.Request.Context(), currentShop(c), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toOrderResponse(order, true))
}
