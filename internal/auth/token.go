package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/psds-microservice/support-chat/internal/access"
	"github.com/psds-microservice/support-chat/internal/errs"
	"github.com/psds-microservice/support-chat/internal/model"
)

// Claims are the JWT claims carried by support access tokens.
type Claims struct {
	UserID uint64     `json:"user_id"`
	Name   string     `json:"name,omitempty"`
	Role   model.Role `json:"role"`
	jwt.RegisteredClaims
}

// Viewer returns the identity the access rules work with.
func (c *Claims) Viewer() access.Viewer {
	return access.Viewer{ID: c.UserID, Role: c.Role}
}

// User is the account the claims describe.
func (c *Claims) User() model.User {
	return model.User{ID: c.UserID, Name: c.Name, Role: c.Role}
}

// Issue signs an HS256 access token for u.
func Issue(secret string, u model.User, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("auth: empty secret")
	}
	now := time.Now()
	claims := Claims{
		UserID: u.ID,
		Name:   u.Name,
		Role:   u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Parse verifies tokenStr against secret.
func Parse(secret, tokenStr string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrUnauthorized, err)
	}
	if !tok.Valid || claims.UserID == 0 || claims.Role == "" {
		return nil, errs.ErrUnauthorized
	}
	return claims, nil
}

// ParseUnverified reads the claims without checking the signature. The chat
// client uses it to learn its own identity from the token it was handed; the
// backend still verifies every request.
func ParseUnverified(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrUnauthorized, err)
	}
	if claims.UserID == 0 || claims.Role == "" {
		return nil, fmt.Errorf("%w: token lacks user_id or role", errs.ErrUnauthorized)
	}
	return claims, nil
}
