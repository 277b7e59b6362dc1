package statusapi

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the claims carried by a status API token.
type Claims struct {
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// JWTAuth mints and checks HS256 bearer tokens.
type JWTAuth struct {
	secretKey []byte
	issuer    string
}

// NewJWTAuth returns an authenticator using secretKey. Tokens are issued
// and accepted for issuer only.
func NewJWTAuth(secretKey, issuer string) *JWTAuth {
	return &JWTAuth{secretKey: []byte(secretKey), issuer: issuer}
}

// GenerateToken creates a token for clientID valid for ttl.
func (j *JWTAuth) GenerateToken(clientID string, ttl time.Duration) (string, time.Time, error) {
	if clientID == "" {
		return "", time.Time{}, errors.New("clientID cannot be empty")
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("token lifetime must be positive")
	}

	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.issuer,
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(j.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create token: %w", err)
	}
	return tokenString, expiresAt, nil
}

// ValidateToken checks tokenString, with or without a "Bearer " prefix,
// and returns its claims.
func (j *JWTAuth) ValidateToken(tokenString string) (*Claims, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")
	if tokenString == "" {
		return nil, errors.New("token cannot be empty")
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secretKey, nil
	}, jwt.WithIssuer(j.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("token is not valid")
	}
	return claims, nil
}
