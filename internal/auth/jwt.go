// Package auth issues and validates the bearer tokens that guard the
// HTTP and WebSocket surfaces.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried by tokens.
const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

const issuer = "buildwatch"

// Claims holds the JWT token payload.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

var (
	// ErrInvalidToken is returned when a JWT cannot be parsed or has expired.
	ErrInvalidToken = errors.New("auth: invalid or expired token") //nolint:gochecknoglobals // sentinel error
	// ErrEmptySecret is returned when issuing without a signing secret.
	ErrEmptySecret = errors.New("auth: empty signing secret") //nolint:gochecknoglobals // sentinel error
	// ErrUnknownRole is returned when issuing a token for an unknown role.
	ErrUnknownRole = errors.New("auth: unknown role") //nolint:gochecknoglobals // sentinel error
)

// IssueToken creates a signed HS256 token for subject with the given role.
func IssueToken(secret, subject, role string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("auth.IssueToken: %w", ErrEmptySecret)
	}
	if role != RoleAdmin && role != RoleViewer {
		return "", fmt.Errorf("auth.IssueToken(%q): %w", role, ErrUnknownRole)
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    issuer,
		},
		Role: role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("auth.IssueToken: %w", err)
	}

	return signed, nil
}

// ValidateToken parses and validates a JWT token string. Returns the embedded claims.
func ValidateToken(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer(issuer))
	if err != nil {
		return nil, fmt.Errorf("auth.ValidateToken: %w", ErrInvalidToken)
	}

	if !token.Valid {
		return nil, fmt.Errorf("auth.ValidateToken: %w", ErrInvalidToken)
	}

	return claims, nil
}
