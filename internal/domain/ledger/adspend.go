package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AdSpendDaily is the spend of one ad channel on one day, as reported by an
// ad platform connector. (shop, date, channel) is unique.
type AdSpendDaily struct {
	ID       uuid.UUID
	ShopID   uuid.UUID
	Date     time.Time
	Channel  string
	Amount   decimal.Decimal
	Currency string
}
