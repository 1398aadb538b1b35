package middleware

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-jwt-secret-32bytes-padded!!"

func TestTokenRoundTrip(t *testing.T) {
	for _, role := range []Role{RoleAdmin, RolePlayer} {
		tok, err := GenerateToken("u-99", role, testSecret, time.Hour)
		require.NoError(t, err)

		claims, err := ParseToken(tok, testSecret)
		require.NoError(t, err)
		assert.Equal(t, "u-99", claims.UserID)
		assert.Equal(t, role, claims.Role)
		assert.Equal(t, tokenIssuer, claims.Issuer)
		assert.NotEmpty(t, claims.ID)
	}
}

func TestTokensAreDistinctPerSignIn(t *testing.T) {
	a, err := GenerateToken("admin-1", RoleAdmin, testSecret, time.Hour)
	require.NoError(t, err)
	b, err := GenerateToken("admin-1", RoleAdmin, testSecret, time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "same user, same second")
}

func TestGenerateTokenRejectsUnknownRole(t *testing.T) {
	_, err := GenerateToken("u-1", Role("root"), testSecret, time.Hour)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, claims *Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestParseTokenRejects(t *testing.T) {
	valid, err := GenerateToken("u-1", RolePlayer, testSecret, time.Hour)
	require.NoError(t, err)
	expired, err := GenerateToken("u-1", RolePlayer, testSecret, -time.Second)
	require.NoError(t, err)

	good := func() *Claims {
		return &Claims{UserID: "u-1", Role: RolePlayer, RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}}
	}
	foreign := good()
	foreign.Issuer = "elsewhere"
	noExpiry := good()
	noExpiry.ExpiresAt = nil
	noUser := good()
	noUser.UserID = ""
	badRole := good()
	badRole.Role = "root"

	for name, tc := range map[string]struct {
		token  string
		secret string
	}{
		"wrong secret": {valid, "wrong-secret"},
		"expired":      {expired, testSecret},
		"malformed":    {"not.a.jwt", testSecret},
		"empty":        {"", testSecret},
		"other issuer": {sign(t, jwt.SigningMethodHS256, []byte(testSecret), foreign), testSecret},
		"no expiry":    {sign(t, jwt.SigningMethodHS256, []byte(testSecret), noExpiry), testSecret},
		"no user":      {sign(t, jwt.SigningMethodHS256, []byte(testSecret), noUser), testSecret},
		"unknown role": {sign(t, jwt.SigningMethodHS256, []byte(testSecret), badRole), testSecret},
		"hs512":        {sign(t, jwt.SigningMethodHS512, []byte(testSecret), good()), testSecret},
	} {
		_, err := ParseToken(tc.token, tc.secret)
		assert.ErrorIs(t, err, ErrInvalidToken, name)
	}
}
