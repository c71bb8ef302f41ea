package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	appledger "github.com/profitledger/backend/internal/application/ledger"
	"github.com/shopspring/decimal"
)

// CostHandler imports unit costs
type CostHandler struct {
	BaseHandler
	costs CostImporter
}

// NewCostHandler creates a new CostHandler
func NewCostHandler(costs CostImporter) *CostHandler {
	return &CostHandler{costs: costs}
}

// CostImportItem is the unit cost of one inventory item from a date on
type CostImportItem struct {
	InventoryItemID string          `json:"inventory_item_id" binding:"required,max=64"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	Currency        string          `json:"currency" binding:"omitempty,currency"`
	EffectiveDate   string          `json:"effective_date" binding:"omitempty,datetime=2006-01-02"`
}

// ImportCostsRequest is a batch of unit costs
type ImportCostsRequest struct {
	Items []CostImportItem `json:"items" binding:"required,min=1,max=5000,dive"`
}

// ImportCostsResponse reports how many snapshots were stored
type ImportCostsResponse struct {
	Imported int `json:"imported"`
}

// Import stores the rows as import snapshots. Existing order lines keep
// their costs until recalculated.
func (h *CostHandler) Import(c *gin.Context) {
	var req ImportCostsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	rows := make([]appledger.CostImportRow, 0, len(req.Items))
	for _, item := range req.Items {
		row := appledger.CostImportRow{
			InventoryItemID: item.InventoryItemID,
			UnitCost:        item.UnitCost,
			Currency:        item.Currency,
		}
		if item.EffectiveDate != "" {
			row.EffectiveDate, _ = time.Parse(dateLayout, item.EffectiveDate)
		}
		rows = append(rows, row)
	}

	n, err := h.costs.ImportSnapshots(c.Request.Context(), currentShop(c), rows)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, ImportCostsResponse{Imported: n})
}
