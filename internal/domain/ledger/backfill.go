package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/profitledger/backend/internal/domain/shared"
)

// BackfillStatus is the lifecycle state of a historical backfill
type BackfillStatus string

const (
	BackfillNotStarted BackfillStatus = "not_started"
	BackfillRunning    BackfillStatus = "running"
	BackfillCompleted  BackfillStatus = "completed"
	BackfillFailed     BackfillStatus = "failed"
	BackfillCancelled  BackfillStatus = "cancelled"
)

// IsValid checks if the status is valid
func (s BackfillStatus) IsValid() bool {
	switch s {
	case BackfillNotStarted, BackfillRunning, BackfillCompleted, BackfillFailed, BackfillCancelled:
		return true
	}
	return false
}

// IsTerminal returns true if this is a terminal state. Failed is terminal
// but can be resumed.
func (s BackfillStatus) IsTerminal() bool {
	return s == BackfillCompleted || s == BackfillFailed || s == BackfillCancelled
}

// IsActive returns true while an operation holds the shop's backfill slot
func (s BackfillStatus) IsActive() bool {
	return s == BackfillNotStarted || s == BackfillRunning
}

// ExportStatus is the platform-side state of a bulk export
type ExportStatus string

const (
	ExportCreated   ExportStatus = "CREATED"
	ExportRunning   ExportStatus = "RUNNING"
	ExportCompleted ExportStatus = "COMPLETED"
	ExportFailed    ExportStatus = "FAILED"
	ExportCanceled  ExportStatus = "CANCELED"
	ExportExpired   ExportStatus = "EXPIRED"
)

// IsFailure returns true when the export will never produce data
func (s ExportStatus) IsFailure() bool {
	return s == ExportFailed || s == ExportCanceled || s == ExportExpired
}

// BackfillOperation tracks one historical import for a shop. Cursor is the
// number of order groups of the export already reconciled; a resumed run
// skips that many groups.
type BackfillOperation struct {
	ID                  uuid.UUID      `json:"id"`
	ShopID              uuid.UUID      `json:"shop_id"`
	ExternalOperationID string         `json:"external_operation_id,omitempty"`
	Days                int            `json:"days"`
	Status              BackfillStatus `json:"status"`
	Progress            int            `json:"progress"`
	ObjectCount         int64          `json:"object_count"`
	ProcessedOrders     int            `json:"processed_orders"`
	FailedRecords       int            `json:"failed_records"`
	Cursor              int            `json:"cursor"`
	Error               string         `json:"error,omitempty"`
	ArchiveKey          string         `json:"archive_key,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	StartedAt           *time.Time     `json:"started_at,omitempty"`
	CompletedAt         *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// NewBackfillOperation creates an operation covering the last days days.
// days must be in [1, maxDays].
func NewBackfillOperation(shopID uuid.UUID, days, maxDays int) (*BackfillOperation, error) {
	if days < 1 || days > maxDays {
		return nil, fmt.Errorf("%w: days must be between 1 and %d, got %d", ErrInvalidBackfillDays, maxDays, days)
	}
	now := time.Now().UTC()
	return &BackfillOperation{
		ID:        uuid.New(),
		ShopID:    shopID,
		Days:      days,
		Status:    BackfillNotStarted,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Since returns the lower bound of the window relative to now
func (b *BackfillOperation) Since(now time.Time) time.Time {
	return now.UTC().AddDate(0, 0, -b.Days)
}

// Start records the submitted export and moves to running
func (b *BackfillOperation) Start(externalID string) error {
	if b.Status != BackfillNotStarted {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("cannot start backfill from state: %s", b.Status))
	}
	now := time.Now().UTC()
	b.ExternalOperationID = externalID
	b.Status = BackfillRunning
	b.StartedAt = &now
	b.UpdatedAt = now
	return nil
}

// Resume moves a failed operation back to running. Progress and cursor are
// kept so processing continues where it stopped.
func (b *BackfillOperation) Resume() error {
	switch b.Status {
	case BackfillRunning:
		return nil
	case BackfillFailed:
	default:
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("cannot resume backfill from state: %s", b.Status))
	}
	b.Status = BackfillRunning
	b.Error = ""
	b.CompletedAt = nil
	b.UpdatedAt = time.Now().UTC()
	return nil
}

// Advance records that the first cursor groups have been processed
func (b *BackfillOperation) Advance(cursor, processed, failed int) {
	if cursor > b.Cursor {
		b.Cursor = cursor
	}
	b.ProcessedOrders += processed
	b.FailedRecords += failed
	b.UpdatedAt = time.Now().UTC()
}

// SetProgress stores progress capped at 99; only Complete reports 100.
// Progress never moves backwards.
func (b *BackfillOperation) SetProgress(p int) {
	if p < 0 {
		p = 0
	}
	if p > 99 {
		p = 99
	}
	if p > b.Progress {
		b.Progress = p
	}
	b.UpdatedAt = time.Now().UTC()
}

// Complete marks a running operation completed
func (b *BackfillOperation) Complete() error {
	if b.Status != BackfillRunning {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("cannot complete backfill from state: %s", b.Status))
	}
	now := time.Now().UTC()
	b.Status = BackfillCompleted
	b.Progress = 100
	b.CompletedAt = &now
	b.UpdatedAt = now
	return nil
}

// Fail marks the operation failed
func (b *BackfillOperation) Fail(cause error) error {
	if b.Status.IsTerminal() {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("cannot fail backfill from terminal state: %s", b.Status))
	}
	now := time.Now().UTC()
	b.Status = BackfillFailed
	if cause != nil {
		b.Error = cause.Error()
	}
	b.CompletedAt = &now
	b.UpdatedAt = now
	return nil
}

// Cancel stops the operation. Orders already reconciled stay in the ledger.
func (b *BackfillOperation) Cancel() error {
	if b.Status.IsTerminal() {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("cannot cancel backfill from terminal state: %s", b.Status))
	}
	now := time.Now().UTC()
	b.Status = BackfillCancelled
	b.CompletedAt = &now
	b.UpdatedAt = now
	return nil
}

// Estimate is the expected size and duration of a backfill
type Estimate struct {
	Days             int `json:"days"`
	EstimatedOrders  int `json:"estimated_orders"`
	EstimatedMinutes int `json:"estimated_minutes"`
}

const (
	estimatedOrdersPerDay    = 10
	estimatedOrdersPerMinute = 100
	minimumEstimatedMinutes  = 5
)

// EstimateBackfill returns a rough duration for a window of days
func EstimateBackfill(days int) Estimate {
	orders := days * estimatedOrdersPerDay
	minutes := (orders + estimatedOrdersPerMinute - 1) / estimatedOrdersPerMinute
	if minutes < minimumEstimatedMinutes {
		minutes = minimumEstimatedMinutes
	}
	return Estimate{Days: days, EstimatedOrders: orders, EstimatedMinutes: minutes}
}
