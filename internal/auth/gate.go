package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	CookieName = "auth_token"

	ModePIN        = "PIN"
	ModePINSession = "PIN_SESSION"

	pinUser   = "pin-user"
	tokenType = "pin"
)

var (
	ErrInvalidPIN      = errors.New("Invalid PIN")
	ErrUnauthorized    = errors.New("Unauthorized")
	ErrUnsupportedMode = errors.New("Auth mode not supported")
)

type Config struct {
	Mode       string
	Secret     string
	StaffPIN   string
	AdminPIN   string
	SessionTTL time.Duration
}

// Principal is the staff identity behind an authorized request.
type Principal struct {
	ID   string
	Name string
}

type Claims struct {
	Name string `json:"name,omitempty"`
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// Gate authorizes staff requests by session cookie or PIN header.
type Gate struct {
	mode   string
	secret []byte
	pin    string
	ttl    time.Duration
	now    func() time.Time
}

func NewGate(cfg Config) *Gate {
	mode := strings.ToUpper(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = ModePIN
	}
	secret := cfg.Secret
	if secret == "" {
		secret = "dev-secret"
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	pin := cfg.StaffPIN
	if pin == "" {
		pin = cfg.AdminPIN
	}
	return &Gate{mode: mode, secret: []byte(secret), pin: pin, ttl: ttl, now: time.Now}
}

func (g *Gate) SessionTTL() time.Duration {
	return g.ttl
}

// SignSession issues the session token handed out by PIN login.
func (g *Gate) SignSession(name string) (string, error) {
	now := g.now()
	claims := &Claims{
		Name: name,
		Type: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   pinUser,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	return token, nil
}

func (g *Gate) VerifySession(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return g.secret, nil
	}, jwt.WithTimeFunc(g.now))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// Authorize accepts a valid session cookie first. A bad or expired cookie
// falls through to the PIN headers.
func (g *Gate) Authorize(r *http.Request) (Principal, error) {
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		if claims, err := g.VerifySession(cookie.Value); err == nil {
			return Principal{ID: claims.Subject, Name: claims.Name}, nil
		}
	}
	if g.mode != ModePIN && g.mode != ModePINSession {
		return Principal{}, ErrUnsupportedMode
	}
	pin := r.Header.Get("x-staff-pin")
	if pin == "" {
		pin = r.Header.Get("x-admin-pin")
	}
	if !g.CheckPIN(pin) {
		return Principal{}, ErrUnauthorized
	}
	return Principal{ID: pinUser}, nil
}

// CheckPIN compares pin with the configured PIN. A configured value that
// looks like a bcrypt hash is compared as one.
func (g *Gate) CheckPIN(pin string) bool {
	if g.pin == "" || pin == "" {
		return false
	}
	if strings.HasPrefix(g.pin, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(g.pin), []byte(pin)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(g.pin), []byte(pin)) == 1
}

// SessionCookie builds the cookie set by PIN login. forceSecure is "1" or
// "0" to override the detected scheme.
func (g *Gate) SessionCookie(r *http.Request, token, basePath, forceSecure string) *http.Cookie {
	secure := r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
	switch forceSecure {
	case "1":
		secure = true
	case "0":
		secure = false
	}
	path := "/"
	if basePath != "" && basePath != "/" {
		path = basePath
	}
	return &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     path,
		MaxAge:   int(g.ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}
