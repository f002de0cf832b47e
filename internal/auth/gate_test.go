package auth

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestAuthorizeWithPINHeader(t *testing.T) {
	g := NewGate(Config{StaffPIN: "1234"})

	req := httptest.NewRequest(http.MethodPost, "/api/service/1/next", nil)
	req.Header.Set("x-staff-pin", "1234")
	principal, err := g.Authorize(req)
	require.NoError(t, err)
	assert.Equal(t, "pin-user", principal.ID)

	req = httptest.NewRequest(http.MethodPost, "/api/service/1/next", nil)
	req.Header.Set("x-staff-pin", "0000")
	_, err = g.Authorize(req)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthorizeFallsBackToAdminPIN(t *testing.T) {
	g := NewGate(Config{AdminPIN: "9999"})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("x-admin-pin", "9999")
	_, err := g.Authorize(req)
	assert.NoError(t, err)
}

func TestAuthorizeWithoutConfiguredPIN(t *testing.T) {
	g := NewGate(Config{})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("x-staff-pin", "")
	_, err := g.Authorize(req)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestBcryptPIN(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("2468"), bcrypt.MinCost)
	require.NoError(t, err)
	g := NewGate(Config{StaffPIN: string(hash)})
	assert.True(t, g.CheckPIN("2468"))
	assert.False(t, g.CheckPIN("1357"))
}

func TestSessionCookieAuthorizes(t *testing.T) {
	g := NewGate(Config{StaffPIN: "1234", Secret: "s3cret"})
	token, err := g.SignSession("Desk 1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: token})
	principal, err := g.Authorize(req)
	require.NoError(t, err)
	assert.Equal(t, Principal{ID: "pin-user", Name: "Desk 1"}, principal)

	claims, err := g.VerifySession(token)
	require.NoError(t, err)
	assert.Equal(t, "pin", claims.Type)
}

func TestExpiredSessionFallsThroughToPIN(t *testing.T) {
	g := NewGate(Config{StaffPIN: "1234", SessionTTL: time.Hour})
	issued := time.Now().Add(-2 * time.Hour)
	g.now = func() time.Time { return issued }
	token, err := g.SignSession("")
	require.NoError(t, err)
	g.now = time.Now

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: token})
	_, err = g.Authorize(req)
	assert.ErrorIs(t, err, ErrUnauthorized)

	req.Header.Set("x-staff-pin", "1234")
	_, err = g.Authorize(req)
	assert.NoError(t, err)
}

func TestSessionSignedWithOtherSecretIsRejected(t *testing.T) {
	other := NewGate(Config{Secret: "other"})
	token, err := other.SignSession("")
	require.NoError(t, err)

	_, err = NewGate(Config{Secret: "mine"}).VerifySession(token)
	assert.Error(t, err)
}

func TestUnsupportedMode(t *testing.T) {
	g := NewGate(Config{Mode: "SESSION", StaffPIN: "1234"})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("x-staff-pin", "1234")
	_, err := g.Authorize(req)
	assert.ErrorIs(t, err, ErrUnsupportedMode)
}

func TestSessionCookie(t *testing.T) {
	g := NewGate(Config{})

	plain := httptest.NewRequest(http.MethodPost, "/api/auth/pin-login", nil)
	c := g.SessionCookie(plain, "tok", "/q", "")
	assert.Equal(t, "/q", c.Path)
	assert.False(t, c.Secure)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, 8*60*60, c.MaxAge)

	proxied := httptest.NewRequest(http.MethodPost, "/api/auth/pin-login", nil)
	proxied.Header.Set("X-Forwarded-Proto", "https")
	assert.True(t, g.SessionCookie(proxied, "tok", "", "").Secure)
	assert.Equal(t, "/", g.SessionCookie(proxied, "tok", "/", "").Path)
	assert.False(t, g.SessionCookie(proxied, "tok", "", "0").Secure)

	direct := httptest.NewRequest(http.MethodPost, "/", nil)
	direct.TLS = &tls.ConnectionState{}
	assert.True(t, g.SessionCookie(direct, "tok", "", "").Secure)
	assert.True(t, g.SessionCookie(plain, "tok", "", "1").Secure)
}
