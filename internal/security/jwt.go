package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AdminClaims carries the admin identity inside a signed token.
type AdminClaims struct {
	AdminID  uint64 `json:"admin_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// UserClaims carries the end-user identity inside a signed token.
type UserClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// SignAdminToken issues a signed admin token.
func SignAdminToken(secret string, adminID uint64, username string, expiry time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("security: empty jwt secret")
	}
	now := time.Now().UTC()
	claims := AdminClaims{
		AdminID:  adminID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseAdminToken validates an admin token and returns its claims.
func ParseAdminToken(secret, token string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	parsed, errParse := jwt.ParseWithClaims(token, claims, keyFunc(secret),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if errParse != nil {
		return nil, fmt.Errorf("security: parse admin token: %w", errParse)
	}
	if !parsed.Valid || claims.AdminID == 0 {
		return nil, errors.New("security: invalid admin token")
	}
	return claims, nil
}

// SignUserToken issues a signed end-user token.
func SignUserToken(secret, userID, email string, expiry time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("security: empty jwt secret")
	}
	now := time.Now().UTC()
	claims := UserClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseUserToken validates an end-user token and returns its claims.
func ParseUserToken(secret, token string) (*UserClaims, error) {
	claims := &UserClaims{}
	parsed, errParse := jwt.ParseWithClaims(token, claims, keyFunc(secret),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if errParse != nil {
		return nil, fmt.Errorf("security: parse user token: %w", errParse)
	}
	if !parsed.Valid || strings.TrimSpace(claims.UserID) == "" {
		return nil, errors.New("security: invalid user token")
	}
	return claims, nil
}

func keyFunc(secret string) jwt.Keyfunc {
	return func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}
}
