package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/buildwatch/internal/auth"
)

func TestJWT_IssueAndValidateRoundTrip(t *testing.T) {
	t.Parallel()

	secret := "test-secret-key-very-long-and-secure"

	tests := []struct {
		name    string
		subject string
		role    string
	}{
		{name: "admin token", subject: "ci", role: auth.RoleAdmin},
		{name: "viewer token", subject: "dashboard", role: auth.RoleViewer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			token, err := auth.IssueToken(secret, tt.subject, tt.role, 5*time.Minute)
			require.NoError(t, err)
			require.NotEmpty(t, token)

			claims, err := auth.ValidateToken(secret, token)
			require.NoError(t, err)
			require.NotNil(t, claims)

			assert.Equal(t, tt.subject, claims.Subject)
			assert.Equal(t, tt.role, claims.Role)
			assert.Equal(t, "buildwatch", claims.Issuer)
			assert.NotNil(t, claims.IssuedAt)
			assert.NotNil(t, claims.ExpiresAt)
		})
	}
}

func TestJWT_IssueErrors(t *testing.T) {
	t.Parallel()

	_, err := auth.IssueToken("", "ci", auth.RoleAdmin, time.Minute)
	require.ErrorIs(t, err, auth.ErrEmptySecret)

	_, err = auth.IssueToken("secret", "ci", "owner", time.Minute)
	require.ErrorIs(t, err, auth.ErrUnknownRole)
}

func TestJWT_ExpiredTokenRejected(t *testing.T) {
	t.Parallel()

	secret := "test-secret-key"

	// Issue a token that has already expired (negative TTL).
	token, err := auth.IssueToken(secret, "ci", auth.RoleViewer, -1*time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := auth.ValidateToken(secret, token)
	require.Error(t, err)
	assert.Nil(t, claims)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestJWT_InvalidSecretRejected(t *testing.T) {
	t.Parallel()

	token, err := auth.IssueToken("correct-secret", "ci", auth.RoleViewer, 5*time.Minute)
	require.NoError(t, err)

	// Validate with a different secret.
	claims, err := auth.ValidateToken("wrong-secret", token)
	require.Error(t, err)
	assert.Nil(t, claims)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestJWT_ForeignIssuerRejected(t *testing.T) {
	t.Parallel()

	secret := "shared-secret"
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
		Role: auth.RoleAdmin,
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	_, err = auth.ValidateToken(secret, token)
	require.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestJWT_MalformedTokenRejected(t *testing.T) {
	t.Parallel()

	claims, err := auth.ValidateToken("secret", "not.a.valid.jwt.token")
	require.Error(t, err)
	assert.Nil(t, claims)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}
