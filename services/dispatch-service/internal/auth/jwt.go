package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenTypeAccess = "access"

// TokenClaims данные пользователя в access-токене
type TokenClaims struct {
	UserID    string `json:"user_id"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenValidator проверяет access-токены
type TokenValidator interface {
	ValidateAccessToken(token string) (*TokenClaims, error)
}

// Manager выпускает и проверяет HS256 access-токены
type Manager struct {
	secretKey []byte
	issuer    string
	ttl       time.Duration
}

// NewManager создает новый экземпляр JWT менеджера
func NewManager(secretKey, issuer string, ttl time.Duration) *Manager {
	return &Manager{
		secretKey: []byte(secretKey),
		issuer:    issuer,
		ttl:       ttl,
	}
}

// GenerateAccessToken выпускает access-токен для пользователя
func (m *Manager) GenerateAccessToken(userID string) (string, error) {
	now := time.Now().UTC()
	claims := &TokenClaims{
		UserID:    userID,
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// ValidateAccessToken проверяет подпись, срок действия, издателя и тип токена
func (m *Manager) ValidateAccessToken(token string) (*TokenClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	claims := &TokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return m.secretKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	if claims.TokenType != tokenTypeAccess {
		return nil, fmt.Errorf("invalid token type: expected '%s', got '%s'", tokenTypeAccess, claims.TokenType)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("missing user_id claim")
	}
	return claims, nil
}
