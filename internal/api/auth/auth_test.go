package auth

import (
	"testing"
	"time"

	"github.com/cuongbtq/fieldclock/internal/api/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{name: "bearer", header: "Bearer abc.def.ghi", want: "abc.def.ghi"},
		{name: "lowercase scheme", header: "bearer abc", want: "abc"},
		{name: "empty", header: "", wantErr: true},
		{name: "scheme only", header: "Bearer ", wantErr: true},
		{name: "basic auth", header: "Basic dXNlcjpwYXNz", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BearerToken(tt.header)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMissingToken)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVerifier_RoundTrip(t *testing.T) {
	v := NewVerifier("secret", "fieldclock")
	caller := domain.Caller{UserID: "w-1", CompanyID: "c-1", Role: domain.RoleWorker}

	token, err := v.Sign(caller, time.Hour)
	require.NoError(t, err)

	got, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, caller, got)
}

func TestVerifier_Rejects(t *testing.T) {
	v := NewVerifier("secret", "fieldclock")
	caller := domain.Caller{UserID: "w-1", CompanyID: "c-1", Role: domain.RoleAdmin}

	otherKey, err := NewVerifier("other", "fieldclock").Sign(caller, time.Hour)
	require.NoError(t, err)

	otherIssuer, err := NewVerifier("secret", "someone-else").Sign(caller, time.Hour)
	require.NoError(t, err)

	expired, err := v.Sign(caller, -time.Minute)
	require.NoError(t, err)

	noCompany, err := v.Sign(domain.Caller{UserID: "w-1", Role: domain.RoleWorker}, time.Hour)
	require.NoError(t, err)

	badRole, err := v.Sign(domain.Caller{UserID: "w-1", CompanyID: "c-1", Role: "root"}, time.Hour)
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		CompanyID:        "c-1",
		Role:             "owner",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "w-1", Issuer: "fieldclock"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"wrong key":    otherKey,
		"wrong issuer": otherIssuer,
		"expired":      expired,
		"no company":   noCompany,
		"unknown role": badRole,
		"alg none":     unsigned,
		"garbage":      "not-a-token",
	}

	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestVerifier_RoleIsCaseInsensitive(t *testing.T) {
	v := NewVerifier("secret", "")
	token, err := v.Sign(domain.Caller{UserID: "a-1", CompanyID: "c-1", Role: "OWNER"}, time.Hour)
	require.NoError(t, err)

	got, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleOwner, got.Role)
	assert.True(t, got.CanOverride())
}
