package handler

import (
	"context"
	"time"

	"github.com/google/uuid"
	appledger "github.com/profitledger/backend/internal/application/ledger"
	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/profitledger/backend/internal/infrastructure/auth"
)

// WebhookIntake admits platform notifications
type WebhookIntake interface {
	Admit(ctx context.Context, n appledger.Notification) (*appledger.Admission, error)
}

// BackfillService runs historical imports
type BackfillService interface {
	Start(ctx context.Context, shop *domain.Shop, days int) (*domain.BackfillOperation, error)
	CheckStatus(ctx context.Context, shop *domain.Shop, opID uuid.UUID) (*appledger.BackfillStatusView, error)
	Resume(ctx context.Context, shop *domain.Shop, opID uuid.UUID) (*domain.BackfillOperation, error)
	Cancel(ctx context.Context, shop *domain.Shop, opID uuid.UUID) (*domain.BackfillOperation, error)
	History(ctx context.Context, shop *domain.Shop, limit int) ([]*domain.BackfillOperation, error)
	Estimate(days int) (domain.Estimate, error)
}

// LedgerQueries serves the read side
type LedgerQueries interface {
	Summary(ctx context.Context, shop *domain.Shop, period string) (*appledger.Summary, error)
	Rollups(ctx context.Context, shop *domain.Shop, from, to time.Time) ([]domain.DailyRollup, error)
	Order(ctx context.Context, shop *domain.Shop, id uuid.UUID) (*domain.Order, error)
	Orders(ctx context.Context, shop *domain.Shop, filter domain.OrderFilter, page, pageSize int) (*domain.OrderListResult, error)
	DataHealth(ctx context.Context, shop *domain.Shop, days int) (*appledger.HealthReport, error)
}

// OrderRecalculator reprocesses a stored order
type OrderRecalculator interface {
	Recalculate(ctx context.Context, shop *domain.Shop, orderID uuid.UUID) (*domain.Order, error)
}

// AdSpendRecorder stores channel spend
type AdSpendRecorder interface {
	RecordAdSpend(ctx context.Context, shop *domain.Shop, entries []appledger.AdSpendEntry) ([]time.Time, error)
}

// CostImporter stores imported unit costs
type CostImporter interface {
	ImportSnapshots(ctx context.Context, shop *domain.Shop, rows []appledger.CostImportRow) (int, error)
}

// ShopManager manages shops
type ShopManager interface {
	Register(ctx context.Context, in appledger.RegisterShopInput) (*domain.Shop, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Shop, error)
	UpdateSettings(ctx context.Context, shop *domain.Shop, settings domain.Settings) (*domain.Shop, error)
	Deactivate(ctx context.Context, shop *domain.Shop) error
	List(ctx context.Context) ([]*domain.Shop, error)
}

// TokenIssuer issues shop bearer tokens
type TokenIssuer interface {
	IssueShopToken(shopID uuid.UUID, shopDomain string) (*auth.Token, error)
}
