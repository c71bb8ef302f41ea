package router

import (
	"github.com/gin-gonic/gin"
	"github.com/profitledger/backend/internal/interfaces/http/handler"
	"github.com/profitledger/backend/internal/interfaces/http/middleware"
	"go.uber.org/zap"
)

// Handlers are the HTTP handlers of the ledger API
type Handlers struct {
	System    *handler.SystemHandler
	Webhook   *handler.WebhookHandler
	Dashboard *handler.DashboardHandler
	Order     *handler.OrderHandler
	AdSpend   *handler.AdSpendHandler
	Cost      *handler.CostHandler
	Backfill  *handler.BackfillHandler
	Shop      *handler.ShopHandler
	// Maintenance is optional
	Maintenance *handler.MaintenanceHandler
}

// APIConfig holds the authentication dependencies of the API
type APIConfig struct {
	Tokens middleware.TokenValidator
	Shops  middleware.ShopLookup
	// RateLimiter is optional
	RateLimiter *middleware.RateLimiter
	Logger      *zap.Logger
}

// RegisterAPI mounts the health check, the signed webhook endpoints and the
// bearer-authenticated /api/v1 routes on engine. It returns the /api/v1
// routes.
func RegisterAPI(engine *gin.Engine, h Handlers, cfg APIConfig) []RouteInfo {
	engine.GET("/health", h.System.Health)

	webhooks := engine.Group("/webhooks/shopify")
	webhooks.POST("", h.Webhook.Receive)
	webhooks.POST("/:topic", h.Webhook.Receive)

	jwtConfig := middleware.DefaultJWTConfig(cfg.Tokens)
	jwtConfig.SkipPaths = append(jwtConfig.SkipPaths, "/api/v1/system/info")
	jwtConfig.Logger = cfg.Logger

	r := NewRouter(engine, WithAPIVersion("v1"))
	r.Use(middleware.JWTAuthMiddlewareWithConfig(jwtConfig), middleware.TracingAttributeInjector())
	if cfg.RateLimiter != nil {
		r.Use(middleware.RateLimit(cfg.RateLimiter))
	}

	system := NewDomainGroup("system", "/system")
	system.GET("/info", h.System.Info)

	loadShop := middleware.LoadShop(cfg.Shops)

	dashboard := NewDomainGroup("dashboard", "/dashboard").Use(loadShop)
	dashboard.GET("/summary", h.Dashboard.Summary)
	dashboard.GET("/rollups", h.Dashboard.Rollups)
	dashboard.GET("/health", h.Dashboard.Health)

	orders := NewDomainGroup("orders", "/orders").Use(loadShop)
	orders.GET("", h.Order.List)
	orders.GET("/:id", h.Order.Get)
	orders.POST("/:id/recalculate", h.Order.Recalculate)

	adSpend := NewDomainGroup("ad-spend", "/ad-spend").Use(loadShop)
	adSpend.PUT("", h.AdSpend.Record)

	costs := NewDomainGroup("costs", "/costs").Use(loadShop)
	costs.POST("/import", h.Cost.Import)

	backfills := NewDomainGroup("backfills", "/backfills").Use(loadShop)
	backfills.POST("", h.Backfill.Start)
	backfills.GET("", h.Backfill.History)
	backfills.GET("/estimate", h.Backfill.Estimate)
	backfills.GET("/:id", h.Backfill.Status)
	backfills.POST("/:id/resume", h.Backfill.Resume)
	backfills.POST("/:id/cancel", h.Backfill.Cancel)

	shop := NewDomainGroup("shop", "/shop").Use(loadShop)
	shop.GET("", h.Shop.Current)
	shop.PUT("/settings", h.Shop.UpdateSettings)

	admin := NewDomainGroup("admin", "/admin").Use(middleware.RequireAdmin())
	adminShops := admin.Group("shops", "/shops")
	adminShops.GET("", h.Shop.List)
	adminShops.POST("", h.Shop.Register)
	adminShops.POST("/:id/token", h.Shop.IssueToken)
	adminShops.POST("/:id/deactivate", h.Shop.Deactivate)
	if h.Maintenance != nil {
		admin.GET("/jobs", h.Maintenance.Jobs)
		admin.POST("/rollups/refresh", h.Maintenance.RefreshRollups)
	}

	r.Mount(system, dashboard, orders, adSpend, costs, backfills, shop, admin)
	return r.Setup()
}
