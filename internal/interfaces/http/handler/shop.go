package handler

import (
	"github.com/gin-gonic/gin"
	appledger "github.com/profitledger/backend/internal/application/ledger"
	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/profitledger/backend/internal/infrastructure/auth"
)

// ShopHandler serves the current shop and the operator shop registry
type ShopHandler struct {
	BaseHandler
	shops  ShopManager
	tokens TokenIssuer
}

// NewShopHandler creates a new ShopHandler
func NewShopHandler(shops ShopManager, tokens TokenIssuer) *ShopHandler {
	return &ShopHandler{shops: shops, tokens: tokens}
}

// RegisterShopRequest registers a shop or refreshes its credentials
type RegisterShopRequest struct {
	Domain        string           `json:"domain" binding:"required,max=255"`
	BaseCurrency  string           `json:"base_currency" binding:"required,currency"`
	Timezone      string           `json:"timezone" binding:"omitempty,max=64"`
	AccessToken   string           `json:"access_token" binding:"required"`
	WebhookSecret string           `json:"webhook_secret"`
	Settings      *domain.Settings `json:"settings"`
}

// RegisterShopResponse is the registered shop and a bearer token for it
type RegisterShopResponse struct {
	Shop  ShopResponse `json:"shop"`
	Token *auth.Token  `json:"token"`
}

// Current returns the shop of the bearer token
func (h *ShopHandler) Current(c *gin.Context) {
	h.Success(c, toShopResponse(currentShop(c)))
}

// UpdateSettings replaces the accounting settings of the current shop
func (h *ShopHandler) UpdateSettings(c *gin.Context) {
	var settings domain.Settings
	if err := c.ShouldBindJSON(&settings); err != nil {
		h.BindError(c, err)
		return
	}

	shop, err := h.shops.UpdateSettings(c.Request.Context(), currentShop(c), settings)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toShopResponse(shop))
}

// Register creates a shop and issues its first token
func (h *ShopHandler) Register(c *gin.Context) {
	var req RegisterShopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	shop, err := h.shops.Register(c.Request.Context(), appledger.RegisterShopInput{
		Domain:        req.Domain,
		BaseCurrency:  req.BaseCurrency,
		Timezone:      req.Timezone,
		AccessToken:   req.AccessToken,
		WebhookSecret: req.WebhookSecret,
		Settings:      req.Settings,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	token, err := h.tokens.IssueShopToken(shop.ID, shop.Domain)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, RegisterShopResponse{Shop: toShopResponse(shop), Token: token})
}

// List returns every registered shop
func (h *ShopHandler) List(c *gin.Context) {
	shops, err := h.shops.List(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	out := make([]ShopResponse, 0, len(shops))
	for _, s := range shops {
		out = append(out, toShopResponse(s))
	}
	h.Success(c, out)
}

// IssueToken issues a fresh bearer token for a shop
func (h *ShopHandler) IssueToken(c *gin.Context) {
	shop, ok := h.loadShop(c)
	if !ok {
		return
	}

	token, err := h.tokens.IssueShopToken(shop.ID, shop.Domain)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, token)
}

// Deactivate stops accepting webhooks and API calls for a shop
func (h *ShopHandler) Deactivate(c *gin.Context) {
	shop, ok := h.loadShop(c)
	if !ok {
		return
	}

	if err := h.shops.Deactivate(c.Request.Context(), shop); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toShopResponse(shop))
}

func (h *ShopHandler) loadShop(c *gin.Context) (*domain.Shop, bool) {
	id, ok := pathUUID(c, "id")
	if !ok {
		h.BadRequest(c, "Invalid shop ID")
		return nil, false
	}
	shop, err := h.shops.Get(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return nil, false
	}
	return shop, true
}
