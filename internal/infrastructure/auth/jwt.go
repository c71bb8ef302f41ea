package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/profitledger/backend/internal/infrastructure/config"
)

// Role scopes what a bearer token may do
type Role string

const (
	// RoleShop tokens read and operate on the single shop in their subject
	RoleShop Role = "shop"
	// RoleAdmin tokens manage shop registrations
	RoleAdmin Role = "admin"
)

// Common errors
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidClaims    = errors.New("invalid token claims")
	ErrTokenNotYetValid = errors.New("token is not yet valid")
	ErrMissingShopID    = errors.New("missing shop id in claims")
)

// Claims are the ledger's JWT claims. Subject carries the shop id for shop
// tokens.
type Claims struct {
	jwt.RegisteredClaims
	ShopDomain string `json:"shop_domain,omitempty"`
	Role       Role   `json:"role"`
}

// Token is an issued bearer token
type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	TokenType   string    `json:"token_type"` // Bearer
}

// JWTService issues and validates bearer tokens
type JWTService struct {
	secret     []byte
	expiration time.Duration
	issuer     string
	now        func() time.Time
}

// NewJWTService creates a new JWT service
func NewJWTService(cfg config.JWTConfig) *JWTService {
	return &JWTService{
		secret:     []byte(cfg.Secret),
		expiration: cfg.Expiration,
		issuer:     cfg.Issuer,
		now:        time.Now,
	}
}

// IssueShopToken issues a token scoped to one shop
func (s *JWTService) IssueShopToken(shopID uuid.UUID, shopDomain string) (*Token, error) {
	if shopID == uuid.Nil {
		return nil, ErrMissingShopID
	}
	return s.issue(shopID.String(), shopDomain, RoleShop)
}

// IssueAdminToken issues an operator token
func (s *JWTService) IssueAdminToken(subject string) (*Token, error) {
	return s.issue(subject, "", RoleAdmin)
}

func (s *JWTService) issue(subject, shopDomain string, role Role) (*Token, error) {
	now := s.now()
	expiresAt := now.Add(s.expiration)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    s.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{s.issuer},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		ShopDomain: shopDomain,
		Role:       role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, err
	}
	return &Token{AccessToken: signed, ExpiresAt: expiresAt, TokenType: "Bearer"}, nil
}

// Validate parses a token and returns its claims
func (s *JWTService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		if errors.Is(err, jwt.ErrTokenNotValidYet) {
			return nil, ErrTokenNotYetValid
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaims
	}

	switch claims.Role {
	case RoleShop:
		if _, err := uuid.Parse(claims.Subject); err != nil {
			return nil, ErrMissingShopID
		}
	case RoleAdmin:
	default:
		return nil, ErrInvalidClaims
	}
	return claims, nil
}

// ShopID returns the shop id of a shop token
func (c *Claims) ShopID() (uuid.UUID, error) {
	if c.Role != RoleShop {
		return uuid.Nil, ErrMissingShopID
	}
	return uuid.Parse(c.Subject)
}

// IsAdmin reports whether the token may manage shops
func (c *Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}
