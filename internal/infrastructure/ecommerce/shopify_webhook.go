package ecommerce

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// Shopify webhook headers
const (
	HeaderShopifyHmac        = "X-Shopify-Hmac-Sha256"
	HeaderShopifyTopic       = "X-Shopify-Topic"
	HeaderShopifyShopDomain  = "X-Shopify-Shop-Domain"
	HeaderShopifyWebhookID   = "X-Shopify-Webhook-Id"
	HeaderShopifyTriggeredAt = "X-Shopify-Triggered-At"
)

// ShopifyWebhookVerifier checks X-Shopify-Hmac-Sha256 signatures: the
// base64 HMAC-SHA256 of the raw body keyed by the signing secret
type ShopifyWebhookVerifier struct{}

// Verify reports whether signature matches body under secret
func (ShopifyWebhookVerifier) Verify(body []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(got, SignShopifyBody(body, secret))
}

// SignShopifyBody returns the raw HMAC-SHA256 of body
func SignShopifyBody(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// SignShopifyBodyBase64 returns the header value for body
func SignShopifyBodyBase64(body []byte, secret string) string {
	return base64.StdEncoding.EncodeToString(SignShopifyBody(body, secret))
}
