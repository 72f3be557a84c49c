package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/smartdj/internal/auth"
)

const secret = "test-secret-key-very-long-and-secure"

func TestJWT_IssueAndValidateRoundTrip(t *testing.T) {
	t.Parallel()

	id := auth.Identity{UserID: "spotify-user-1", DisplayName: "Dana", Email: "dana@example.com"}
	token, err := auth.IssueToken(secret, id, 5*time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := auth.ValidateToken(secret, token)
	require.NoError(t, err)

	assert.Equal(t, id, claims.Identity())
	assert.Equal(t, "spotify-user-1", claims.Subject)
	assert.Equal(t, "smartdj", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestJWT_ExpiredTokenRejected(t *testing.T) {
	t.Parallel()

	token, err := auth.IssueToken(secret, auth.Identity{UserID: "u"}, -time.Minute)
	require.NoError(t, err)

	_, err = auth.ValidateToken(secret, token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestJWT_WrongSecretRejected(t *testing.T) {
	t.Parallel()

	token, err := auth.IssueToken(secret, auth.Identity{UserID: "u"}, time.Minute)
	require.NoError(t, err)

	_, err = auth.ValidateToken("another-secret", token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestJWT_ForeignIssuerRejected(t *testing.T) {
	t.Parallel()

	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
		UserID: "u",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)

	_, err = auth.ValidateToken(secret, token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestJWT_MalformedRejected(t *testing.T) {
	t.Parallel()

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := auth.ValidateToken(secret, token)
		assert.ErrorIs(t, err, auth.ErrInvalidToken, token)
	}
}

func TestIssueToken_RequiresInputs(t *testing.T) {
	t.Parallel()

	_, err := auth.IssueToken("", auth.Identity{UserID: "u"}, time.Minute)
	assert.Error(t, err)

	_, err = auth.IssueToken(secret, auth.Identity{}, time.Minute)
	assert.Error(t, err)
}

func TestNewStateIsUnique(t *testing.T) {
	t.Parallel()
	assert.NotEqual(t, auth.NewState(), auth.NewState())
}
