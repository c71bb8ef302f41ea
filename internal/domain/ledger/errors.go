package ledger

import "errors"

// Hard failures surfaced to callers.
var (
	ErrAuthentication   = errors.New("ledger: webhook signature invalid")
	ErrUnknownShop      = errors.New("ledger: unknown shop")
	ErrMalformedPayload = errors.New("ledger: malformed payload")
	ErrOrderNotFound    = errors.New("ledger: order not found")
)

// Soft failures. ErrDuplicateEvent is reported as success; the other two
// degrade into order flags once retries are exhausted.
var (
	ErrDuplicateEvent        = errors.New("ledger: duplicate event")
	ErrResolutionDegraded    = errors.New("ledger: resolution degraded")
	ErrDownstreamUnavailable = errors.New("ledger: downstream unavailable")
)

// ErrOrderChanged reports a profit write computed from an order revision
// that another writer has since superseded.
var ErrOrderChanged = errors.New("ledger: order changed since it was loaded")

// Backfill errors.
var (
	ErrBackfillExport      = errors.New("ledger: backfill export failed")
	ErrBackfillActive      = errors.New("ledger: shop already has an active backfill")
	ErrBackfillNotFound    = errors.New("ledger: backfill operation not found")
	ErrInvalidBackfillDays = errors.New("ledger: invalid backfill window")
)
