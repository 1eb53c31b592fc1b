package jwt_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/fitcore/pkg/jwt"
)

type testClaims struct {
	jwt.StandardClaims
	Name  string `json:"name,omitempty"`
	Admin bool   `json:"admin,omitempty"`
}

func TestNew(t *testing.T) {
	t.Parallel()
	t.Run("with valid signing key", func(t *testing.T) {
		service, err := jwt.New([]byte("secret"))
		require.NoError(t, err)
		require.NotNil(t, service)
	})

	t.Run("with empty signing key", func(t *testing.T) {
		service, err := jwt.New([]byte{})
		require.ErrorIs(t, err, jwt.ErrMissingSigningKey)
		require.Nil(t, service)
	})
}

func TestGenerateAndParse(t *testing.T) {
	t.Parallel()
	service, err := jwt.NewFromString("secret")
	require.NoError(t, err)

	t.Run("roundtrip with custom claims", func(t *testing.T) {
		claims := testClaims{
			StandardClaims: jwt.StandardClaims{
				Subject:   "user123",
				Issuer:    "fitcore",
				ExpiresAt: time.Now().Add(time.Hour).Unix(),
			},
			Name:  "Alex",
			Admin: true,
		}

		token, err := service.Generate(claims)
		require.NoError(t, err)
		assert.Len(t, strings.Split(token, "."), 3)

		var parsed testClaims
		require.NoError(t, service.Parse(token, &parsed))
		assert.Equal(t, claims, parsed)
	})

	t.Run("nil claims", func(t *testing.T) {
		_, err := service.Generate(nil)
		require.ErrorIs(t, err, jwt.ErrMissingClaims)
	})
}

func TestParseRejections(t *testing.T) {
	t.Parallel()
	service, err := jwt.NewFromString("secret")
	require.NoError(t, err)

	token, err := service.Generate(jwt.StandardClaims{
		Subject:   "user123",
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)

	t.Run("malformed token", func(t *testing.T) {
		var claims jwt.StandardClaims
		require.ErrorIs(t, service.Parse("not-a-token", &claims), jwt.ErrInvalidToken)
	})

	t.Run("wrong signing key", func(t *testing.T) {
		other, err := jwt.NewFromString("different-secret")
		require.NoError(t, err)

		var claims jwt.StandardClaims
		require.ErrorIs(t, other.Parse(token, &claims), jwt.ErrInvalidSignature)
	})

	t.Run("tampered payload", func(t *testing.T) {
		parts := strings.Split(token, ".")
		tampered := parts[0] + ".eyJzdWIiOiJzb21lb25lLWVsc2UifQ." + parts[2]

		var claims jwt.StandardClaims
		require.ErrorIs(t, service.Parse(tampered, &claims), jwt.ErrInvalidSignature)
	})

	t.Run("expired token", func(t *testing.T) {
		expired, err := service.Generate(jwt.StandardClaims{
			Subject:   "user123",
			ExpiresAt: time.Now().Add(-time.Hour).Unix(),
		})
		require.NoError(t, err)

		var claims jwt.StandardClaims
		require.ErrorIs(t, service.Parse(expired, &claims), jwt.ErrExpiredToken)
	})

	t.Run("not yet valid", func(t *testing.T) {
		future, err := service.Generate(jwt.StandardClaims{
			Subject:   "user123",
			NotBefore: time.Now().Add(time.Hour).Unix(),
		})
		require.NoError(t, err)

		var claims jwt.StandardClaims
		require.ErrorIs(t, service.Parse(future, &claims), jwt.ErrInvalidToken)
	})
}

func TestStandardClaimsValid(t *testing.T) {
	t.Parallel()

	assert.NoError(t, jwt.StandardClaims{}.Valid(), "zero temporal claims are unset")
	assert.NoError(t, jwt.StandardClaims{ExpiresAt: time.Now().Add(time.Minute).Unix()}.Valid())
	assert.ErrorIs(t, jwt.StandardClaims{ExpiresAt: time.Now().Add(-time.Minute).Unix()}.Valid(), jwt.ErrExpiredToken)
	assert.ErrorIs(t, jwt.StandardClaims{NotBefore: time.Now().Add(time.Minute).Unix()}.Valid(), jwt.ErrInvalidToken)
}
