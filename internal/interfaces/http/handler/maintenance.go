package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/profitledger/backend/internal/infrastructure/scheduler"
	"github.com/profitledger/backend/internal/interfaces/http/dto"
)

// RollupRefresher triggers an out-of-schedule rollup refresh
type RollupRefresher interface {
	TriggerManualRefresh() error
}

// JobLister lists the background jobs in flight
type JobLister interface {
	Active() []string
}

// MaintenanceHandler serves operator controls over background jobs
type MaintenanceHandler struct {
	BaseHandler
	refresher RollupRefresher
	jobs      JobLister
}

// NewMaintenanceHandler creates a new MaintenanceHandler
func NewMaintenanceHandler(refresher RollupRefresher, jobs JobLister) *MaintenanceHandler {
	return &MaintenanceHandler{refresher: refresher, jobs: jobs}
}

// JobsResponse lists active job names
type JobsResponse struct {
	Active []string `json:"active"`
}

// RefreshRollups recomputes the recent rollups of every active shop in
// the background
func (h *MaintenanceHandler) RefreshRollups(c *gin.Context) {
	err := h.refresher.TriggerManualRefresh()
	switch {
	case err == nil:
		h.Accepted(c, gin.H{"job": "rollup-refresh:manual"})
	case errors.Is(err, scheduler.ErrJobAlreadyRunning):
		h.Error(c, http.StatusConflict, dto.ErrCodeConflict, "A rollup refresh is already running")
	case errors.Is(err, scheduler.ErrSchedulerNotRunning):
		h.Error(c, http.StatusServiceUnavailable, dto.ErrCodeUnavailable, "Background jobs are not running")
	default:
		h.HandleError(c, err)
	}
}

// Jobs lists the background jobs in flight
func (h *MaintenanceHandler) Jobs(c *gin.Context) {
	h.Success(c, JobsResponse{Active: h.jobs.Active()})
}
