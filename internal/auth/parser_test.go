package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldops-service/internal/model"
)

const secret = "test-secret"

func sign(t *testing.T, claims Claims) string {
	t.Helper()
	raw, err := Sign(secret, claims)
	require.NoError(t, err)
	return raw
}

func TestParseValidToken(t *testing.T) {
	id := uint(7)
	raw := sign(t, Claims{
		UserID:       "u-1",
		Role:         model.RoleTechnician,
		TechnicianID: &id,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := NewParser(secret).Parse(raw)
	require.NoError(t, err)

	p := claims.Principal()
	assert.Equal(t, "u-1", p.UserID)
	assert.True(t, p.IsTechnician())
	assert.Equal(t, uint(7), *p.TechnicianID)
}

func TestParseFallsBackToSubject(t *testing.T) {
	raw := sign(t, Claims{
		Role:             model.RoleDispatcher,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "disp-9"},
	})

	claims, err := NewParser(secret).Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "disp-9", claims.UserID)
}

func TestParseRejects(t *testing.T) {
	expired := sign(t, Claims{
		UserID: "u",
		Role:   model.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	otherSecret, err := Sign("other", Claims{UserID: "u", Role: model.RoleAdmin})
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u", Role: model.RoleAdmin}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	cases := map[string]string{
		"expired":          expired,
		"wrong_secret":     otherSecret,
		"alg_none":         none,
		"unknown_role":     sign(t, Claims{UserID: "u", Role: "root"}),
		"technician_no_id": sign(t, Claims{UserID: "u", Role: model.RoleTechnician}),
		"garbage":          "not.a.token",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewParser(secret).Parse(raw)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
