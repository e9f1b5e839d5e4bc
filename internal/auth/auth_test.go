package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123"

func newVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(testSecret, "token")
	require.NoError(t, err)
	return v
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier("", "token")
	assert.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	v := newVerifier(t)
	tok, err := v.Sign("u1", time.Hour)
	require.NoError(t, err)

	expired, err := v.Sign("u1", -time.Minute)
	require.NoError(t, err)

	other, err := NewVerifier("another-secret-value", "token")
	require.NoError(t, err)
	forged, err := other.Sign("u1", time.Hour)
	require.NoError(t, err)

	noSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name    string
		header  string
		cookie  string
		want    string
		wantErr bool
	}{
		{name: "bearer", header: "Bearer " + tok, want: "u1"},
		{name: "bearer lowercase scheme", header: "bearer " + tok, want: "u1"},
		{name: "cookie", cookie: tok, want: "u1"},
		{name: "header wins over cookie", header: "Bearer " + forged, cookie: tok, wantErr: true},
		{name: "missing", wantErr: true},
		{name: "basic scheme", header: "Basic dXNlcjpwYXNz", wantErr: true},
		{name: "expired", header: "Bearer " + expired, wantErr: true},
		{name: "wrong secret", cookie: forged, wantErr: true},
		{name: "no subject", header: "Bearer " + noSub, wantErr: true},
		{name: "garbage", header: "Bearer not.a.jwt", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				r.AddCookie(&http.Cookie{Name: "token", Value: tt.cookie})
			}
			got, err := v.Authenticate(r)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnauthenticated)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRejectsNoneAlgorithm(t *testing.T) {
	v := newVerifier(t)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject: "u1",
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.Verify(tok)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
