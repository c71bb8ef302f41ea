package ecommerce

import (
	"errors"
	"strings"
	"time"

	domain "github.com/profitledger/backend/internal/domain/ledger"
)

// DefaultShopifyAPIVersion is the Admin API version used when none is set
const DefaultShopifyAPIVersion = "2024-07"

// ErrShopifyMissingToken indicates the shop has no Admin API access token
var ErrShopifyMissingToken = errors.New("shopify: shop has no access token")

// ShopifyConfig holds configuration for the Shopify Admin GraphQL API
type ShopifyConfig struct {
	// APIVersion is the Admin API version, e.g. 2024-07
	APIVersion string
	// RequestTimeout bounds each API call
	RequestTimeout time.Duration
	// BaseURLOverride replaces https://{shop}/admin/api/{version}
	BaseURLOverride string
}

// NewShopifyConfig creates a configuration with defaults
func NewShopifyConfig(apiVersion string) *ShopifyConfig {
	c := &ShopifyConfig{APIVersion: apiVersion}
	c.applyDefaults()
	return c
}

func (c *ShopifyConfig) applyDefaults() {
	if c.APIVersion == "" {
		c.APIVersion = DefaultShopifyAPIVersion
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
}

// GraphQLEndpoint returns the Admin GraphQL URL of the shop
func (c *ShopifyConfig) GraphQLEndpoint(shop *domain.Shop) string {
	if c.BaseURLOverride != "" {
		return strings.TrimRight(c.BaseURLOverride, "/") + "/graphql.json"
	}
	return "https://" + shop.Domain + "/admin/api/" + c.APIVersion + "/graphql.json"
}
