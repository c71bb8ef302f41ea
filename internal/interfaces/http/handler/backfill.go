package handler

import (
	"github.com/gin-gonic/gin"
)

// BackfillHandler exposes historical import operations of the current shop
type BackfillHandler struct {
	BaseHandler
	backfills BackfillService
}

// NewBackfillHandler creates a new BackfillHandler
func NewBackfillHandler(backfills BackfillService) *BackfillHandler {
	return &BackfillHandler{backfills: backfills}
}

// StartBackfillRequest starts an import of the last Days days. Zero uses
// the configured default window.
type StartBackfillRequest struct {
	Days int `json:"days" binding:"gte=0"`
}

// Start begins a backfill. A second start while one is running answers 409.
func (h *BackfillHandler) Start(c *gin.Context) {
	var req StartBackfillRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.BindError(c, err)
			return
		}
	}

	op, err := h.backfills.Start(c.Request.Context(), currentShop(c), req.Days)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Accepted(c, op)
}

// Status returns an operation with the live export state
func (h *BackfillHandler) Status(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		h.BadRequest(c, "Invalid backfill ID")
		return
	}

	view, err := h.backfills.CheckStatus(c.Request.Context(), currentShop(c), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, view)
}

// Resume restarts a failed or interrupted operation from its cursor
func (h *BackfillHandler) Resume(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		h.BadRequest(c, "Invalid backfill ID")
		return
	}

	op, err := h.backfills.Resume(c.Request.Context(), currentShop(c), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Accepted(c, op)
}

// Cancel stops a running operation
func (h *BackfillHandler) Cancel(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		h.BadRequest(c, "Invalid backfill ID")
		return
	}

	op, err := h.backfills.Cancel(c.Request.Context(), currentShop(c), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, op)
}

// History lists recent operations, newest first
func (h *BackfillHandler) History(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 20)
	if !ok || limit < 1 || limit > 100 {
		h.BadRequest(c, "limit must be between 1 and 100")
		return
	}

	ops, err := h.backfills.History(c.Request.Context(), currentShop(c), limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, ops)
}

// Estimate returns the expected size and duration of a window
func (h *BackfillHandler) Estimate(c *gin.Context) {
	days, ok := queryInt(c, "days", 0)
	if !ok {
		h.BadRequest(c, "days must be an integer")
		return
	}

	est, err := h.backfills.Estimate(days)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, est)
}
