package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	Issuer   = "ecommerce-app"
	Audience = "ecommerce-users"

	DefaultAccessTTL  = 24 * time.Hour
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

type Claims struct {
	UserID    string    `json:"id"`
	TokenType TokenType `json:"type"`
	jwt.RegisteredClaims
}

// Identity is what a verified token asserts.
type Identity struct {
	UserID    string
	Type      TokenType
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

type TokenConfig struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Now        func() time.Time
}

// TokenManager issues and verifies HS256 tokens. Tokens are stateless bearer
// credentials: nothing is stored server side, so a leaked token stays valid
// until it expires.
type TokenManager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewTokenManager(cfg TokenConfig) (*TokenManager, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("%w: signing secret is not configured", ErrConfig)
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &TokenManager{
		secret:     []byte(cfg.Secret),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        cfg.Now,
	}, nil
}

func (m *TokenManager) Issue(userID string, typ TokenType, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", invalid("userId", "is required")
	}
	if ttl <= 0 {
		return "", invalid("ttl", "must be positive")
	}

	now := m.now().UTC()

	claims := Claims{
		UserID:    userID,
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func (m *TokenManager) IssueAccess(userID string) (string, error) {
	return m.Issue(userID, TokenAccess, m.accessTTL)
}

func (m *TokenManager) IssueRefresh(userID string) (string, error) {
	return m.Issue(userID, TokenRefresh, m.refreshTTL)
}

func (m *TokenManager) IssuePair(userID string) (TokenPair, error) {
	access, err := m.IssueAccess(userID)
	if err != nil {
		return TokenPair{}, err
	}

	refresh, err := m.IssueRefresh(userID)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (m *TokenManager) Verify(raw string) (Identity, error) {
	claims := &Claims{}

	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		// Enforce HMAC
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return Identity{}, classifyJWTError(err)
	}

	// exp is re-checked against the injected clock
	if claims.ExpiresAt == nil || !m.now().Before(claims.ExpiresAt.Time) {
		return Identity{}, ErrExpiredToken
	}

	if claims.UserID == "" || claims.UserID != claims.Subject {
		return Identity{}, ErrInvalidToken
	}

	if claims.TokenType != TokenAccess && claims.TokenType != TokenRefresh {
		return Identity{}, ErrInvalidToken
	}

	id := Identity{
		UserID:    claims.UserID,
		Type:      claims.TokenType,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		id.IssuedAt = claims.IssuedAt.Time
	}

	return id, nil
}

// VerifyType verifies raw and rejects tokens of any other type.
func (m *TokenManager) VerifyType(raw string, typ TokenType) (Identity, error) {
	id, err := m.Verify(raw)
	if err != nil {
		return Identity{}, err
	}

	if id.Type != typ {
		return Identity{}, ErrInvalidToken
	}

	return id, nil
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpiredToken
	case errors.Is(err, jwt.ErrTokenNotValidYet),
		errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return ErrTokenVerification
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenInvalidAudience),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing),
		errors.Is(err, jwt.ErrTokenInvalidClaims):
		return ErrInvalidToken
	default:
		return ErrTokenVerification
	}
}
