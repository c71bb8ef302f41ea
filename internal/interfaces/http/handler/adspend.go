package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	appledger "github.com/profitledger/backend/internal/application/ledger"
	"github.com/shopspring/decimal"
)

// AdSpendHandler ingests daily channel spend
type AdSpendHandler struct {
	BaseHandler
	rollups AdSpendRecorder
}

// NewAdSpendHandler creates a new AdSpendHandler
func NewAdSpendHandler(rollups AdSpendRecorder) *AdSpendHandler {
	return &AdSpendHandler{rollups: rollups}
}

// AdSpendItem is the spend of one channel on one day
type AdSpendItem struct {
	Date     string          `json:"date" binding:"required,datetime=2006-01-02"`
	Channel  string          `json:"channel" binding:"required,max=64"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" binding:"omitempty,currency"`
}

// RecordAdSpendRequest replaces the spend of the listed (date, channel) pairs
type RecordAdSpendRequest struct {
	Entries []AdSpendItem `json:"entries" binding:"required,min=1,max=1000,dive"`
}

// RecordAdSpendResponse lists the dates whose rollups were recomputed
type RecordAdSpendResponse struct {
	Entries         int      `json:"entries"`
	RecomputedDates []string `json:"recomputed_dates"`
}

// Record upserts ad spend rows and recomputes the affected rollups
func (h *AdSpendHandler) Record(c *gin.Context) {
	var req RecordAdSpendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	entries := make([]appledger.AdSpendEntry, 0, len(req.Entries))
	for _, item := range req.Entries {
		date, _ := time.Parse(dateLayout, item.Date)
		entries = append(entries, appledger.AdSpendEntry{
			Date:     date,
			Channel:  item.Channel,
			Amount:   item.Amount,
			Currency: item.Currency,
		})
	}

	dates, err := h.rollups.RecordAdSpend(c.Request.Context(), currentShop(c), entries)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	resp := RecordAdSpendResponse{Entries: len(entries), RecomputedDates: make([]string, 0, len(dates))}
	for _, d := range dates {
		resp.RecomputedDates = append(resp.RecomputedDates, d.Format(dateLayout))
	}
	h.Success(c, resp)
}
