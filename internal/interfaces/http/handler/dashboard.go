package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	appledger "github.com/profitledger/backend/internal/application/ledger"
)

// DashboardHandler serves period summaries, daily rollups and data health
type DashboardHandler struct {
	BaseHandler
	queries LedgerQueries
}

// NewDashboardHandler creates a new DashboardHandler
func NewDashboardHandler(queries LedgerQueries) *DashboardHandler {
	return &DashboardHandler{queries: queries}
}

// Summary returns the profit picture of ?period= (today, yesterday, 7d,
// 30d, mtd). The default is 30d.
func (h *DashboardHandler) Summary(c *gin.Context) {
	period := c.DefaultQuery("period", appledger.Period30Days)

	summary, err := h.queries.Summary(c.Request.Context(), currentShop(c), period)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, summary)
}

// Rollups returns daily rollups in [from, to]. Both default to the last 30
// shop-local days.
func (h *DashboardHandler) Rollups(c *gin.Context) {
	shop := currentShop(c)
	to := shop.DateOf(time.Now())
	from := to.AddDate(0, 0, -29)

	var err error
	if raw := c.Query("from"); raw != "" {
		if from, err = time.Parse(dateLayout, raw); err != nil {
			h.BadRequest(c, "from must be a date (YYYY-MM-DD)")
			return
		}
	}
	if raw := c.Query("to"); raw != "" {
		if to, err = time.Parse(dateLayout, raw); err != nil {
			h.BadRequest(c, "to must be a date (YYYY-MM-DD)")
			return
		}
	}

	rollups, err := h.queries.Rollups(c.Request.Context(), shop, from, to)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toRollupResponses(rollups))
}

// Health reports how trustworthy the figures of the last ?days= days are
func (h *DashboardHandler) Health(c *gin.Context) {
	days, ok := queryInt(c, "days", 30)
	if !ok || days < 1 || days > 365 {
		h.BadRequest(c, "days must be between 1 and 365")
		return
	}

	report, err := h.queries.DataHealth(c.Request.Context(), currentShop(c), days)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, report)
}
