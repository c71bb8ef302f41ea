package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/profitledger/backend/internal/domain/shared"
	"github.com/profitledger/backend/internal/infrastructure/auth"
	"github.com/profitledger/backend/internal/infrastructure/logger"
	"github.com/profitledger/backend/internal/interfaces/http/dto"
	"go.uber.org/zap"
)

// JWT context keys
const (
	JWTClaimsKey  = "jwt_claims"
	JWTShopIDKey  = "jwt_shop_id"
	ShopKey       = "ledger_shop"
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
)

// TokenValidator validates bearer tokens
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// ShopLookup loads the shop a token was issued for
type ShopLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Shop, error)
}

// JWTMiddlewareConfig holds configuration for JWT middleware
type JWTMiddlewareConfig struct {
	Validator TokenValidator
	// SkipPaths are paths that don't require authentication
	SkipPaths []string
	// SkipPathPrefixes are path prefixes that don't require authentication
	SkipPathPrefixes []string
	Logger           *zap.Logger
}

// DefaultJWTConfig returns default JWT middleware configuration
func DefaultJWTConfig(validator TokenValidator) JWTMiddlewareConfig {
	return JWTMiddlewareConfig{
		Validator: validator,
		SkipPaths: []string{
			"/health",
			"/api/v1/health",
		},
		SkipPathPrefixes: []string{
			"/webhooks/",
		},
	}
}

// JWTAuthMiddleware creates JWT authentication middleware
func JWTAuthMiddleware(validator TokenValidator) gin.HandlerFunc {
	return JWTAuthMiddlewareWithConfig(DefaultJWTConfig(validator))
}

// JWTAuthMiddlewareWithConfig creates JWT authentication middleware with custom config
func JWTAuthMiddlewareWithConfig(cfg JWTMiddlewareConfig) gin.HandlerFunc {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, skipPath := range cfg.SkipPaths {
			if path == skipPath {
				c.Next()
				return
			}
		}
		for _, prefix := range cfg.SkipPathPrefixes {
			if strings.HasPrefix(path, prefix) {
				c.Next()
				return
			}
		}

		authHeader := c.GetHeader(AuthHeaderKey)
		if authHeader == "" {
			abortAuth(c, cfg.Logger, auth.ErrInvalidToken, "Missing authorization header")
			return
		}
		if !strings.HasPrefix(authHeader, BearerPrefix) {
			abortAuth(c, cfg.Logger, auth.ErrInvalidToken, "Invalid authorization header format")
			return
		}
		tokenString := strings.TrimPrefix(authHeader, BearerPrefix)
		if tokenString == "" {
			abortAuth(c, cfg.Logger, auth.ErrInvalidToken, "Missing token")
			return
		}

		claims, err := cfg.Validator.Validate(tokenString)
		if err != nil {
			abortAuth(c, cfg.Logger, err, "Token validation failed")
			return
		}

		c.Set(JWTClaimsKey, claims)
		if !claims.IsAdmin() {
			shopID, err := claims.ShopID()
			if err != nil {
				abortAuth(c, cfg.Logger, err, "Token carries no shop")
				return
			}
			c.Set(JWTShopIDKey, shopID)
			ctx := logger.WithShopDomain(c.Request.Context(), claims.ShopDomain)
			c.Request = c.Request.WithContext(ctx)
		}

		c.Next()
	}
}

// RequireAdmin rejects tokens without the admin role
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetJWTClaims(c)
		if claims == nil || !claims.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeForbidden, "Admin role required", logger.GetRequestID(c.Request.Context())))
			return
		}
		c.Next()
	}
}

// LoadShop resolves the token's shop and stores it in the context. Admin
// tokens and inactive shops are rejected.
func LoadShop(shops ShopLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := logger.GetRequestID(c.Request.Context())
		shopID, ok := GetJWTShopID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeForbidden, "Shop token required", requestID))
			return
		}

		shop, err := shops.Get(c.Request.Context(), shopID)
		if err != nil {
			if errors.Is(err, domain.ErrUnknownShop) || errors.Is(err, shared.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusNotFound, dto.NewErrorResponseWithRequestID(
					dto.ErrCodeUnknownShop, "Shop not found", requestID))
				return
			}
			logger.L(c.Request.Context()).Error("Failed to load shop", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeInternal, "An unexpected error occurred", requestID))
			return
		}
		if !shop.Active {
			c.AbortWithStatusJSON(http.StatusForbidden, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeForbidden, "Shop is inactive", requestID))
			return
		}

		c.Set(ShopKey, shop)
		c.Next()
	}
}

// abortAuth responds 401 with a code describing the token failure
func abortAuth(c *gin.Context, log *zap.Logger, err error, message string) {
	log.Warn("JWT authentication failed",
		zap.Error(err),
		zap.String("message", message),
		zap.String("path", c.Request.URL.Path),
	)

	code, msg := dto.ErrCodeUnauthorized, "Authentication required"
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		code, msg = dto.ErrCodeTokenExpired, "Token has expired"
	case errors.Is(err, auth.ErrTokenNotYetValid):
		code, msg = dto.ErrCodeTokenInvalid, "Token is not yet valid"
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrInvalidClaims), errors.Is(err, auth.ErrMissingShopID):
		code, msg = dto.ErrCodeTokenInvalid, "Invalid token"
	}

	c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponseWithRequestID(
		code, msg, logger.GetRequestID(c.Request.Context())))
}

// GetJWTClaims retrieves JWT claims from gin.Context
func GetJWTClaims(c *gin.Context) *auth.Claims {
	if claims, exists := c.Get(JWTClaimsKey); exists {
		if jwtClaims, ok := claims.(*auth.Claims); ok {
			return jwtClaims
		}
	}
	return nil
}

// GetJWTShopID retrieves the shop id of a shop token
func GetJWTShopID(c *gin.Context) (uuid.UUID, bool) {
	if v, exists := c.Get(JWTShopIDKey); exists {
		if id, ok := v.(uuid.UUID); ok {
			return id, true
		}
	}
	return uuid.Nil, false
}

// GetShop retrieves the shop loaded by LoadShop
func GetShop(c *gin.Context) *domain.Shop {
	if v, exists := c.Get(ShopKey); exists {
		if shop, ok := v.(*domain.Shop); ok {
			return shop
		}
	}
	return nil
}
