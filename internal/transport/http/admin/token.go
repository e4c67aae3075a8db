package admin

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// OperatorToken signs and verifies operator scoped JWT tokens.
type OperatorToken struct {
	secretKey []byte
	ttl       time.Duration
}

// NewOperatorToken builds a token helper using the provided secret.
func NewOperatorToken(secretKey string) *OperatorToken {
	return &OperatorToken{
		secretKey: []byte(secretKey),
		ttl:       24 * time.Hour,
	}
}

// WithTTL allows customising the expiration duration.
func (ot *OperatorToken) WithTTL(ttl time.Duration) *OperatorToken {
	if ttl > 0 {
		ot.ttl = ttl
	}
	return ot
}

// Generate issues a JWT for an authenticated operator.
func (ot *OperatorToken) Generate(subject string) (string, error) {
	if ot == nil {
		return "", errors.New("operator token is nil")
	}
	if len(ot.secretKey) == 0 {
		return "", errors.New("operator token secret is empty")
	}

	expireTime := time.Now().Add(ot.ttl)
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": expireTime.Unix(),
		"iat": time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(ot.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// Verify validates the JWT and extracts the operator subject.
func (ot *OperatorToken) Verify(tokenString string) (bool, string, error) {
	if ot == nil {
		return false, "", errors.New("operator token is nil")
	}
	if len(ot.secretKey) == 0 {
		return false, "", errors.New("operator token secret is empty")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ot.secretKey, nil
	})
	if err != nil {
		return false, "", fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return false, "", errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return false, "", errors.New("invalid claims")
	}
	subject, ok := claims["sub"].(string)
	if !ok {
		return false, "", errors.New("invalid subject claim")
	}
	return true, subject, nil
}
