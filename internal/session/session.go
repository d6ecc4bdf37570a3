// Package session carries the request-scoped session: the access key, the
// consent prompt flag and the resolved customer. It is stored in a signed
// HS256 cookie.
package session

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// CookieName is the session cookie.
const CookieName = "eap_session"

const issuer = "etsy-analytics-pro"

// Session is the per-request state. Customer is filled by the access
// middleware and never serialized.
type Session struct {
	AccessKey       string
	ConsentPrompted bool
	ConsentChoice   *bool // choice made in this session, kept even if persisting it failed
	Customer        *domain.Customer
}

// Authenticated reports whether the session holds a resolved customer.
func (s *Session) Authenticated() bool {
	return s != nil && s.Customer != nil
}

type claims struct {
	Key             string `json:"key,omitempty"`
	ConsentPrompted bool   `json:"cp,omitempty"`
	ConsentChoice   *bool  `json:"cc,omitempty"`
	jwt.RegisteredClaims
}

// Keys are derived from SESSION_SECRET with HKDF so the cookie signature
// and the CSRF token never share a key.
type Keys struct {
	Session []byte
	CSRF    []byte
}

// DeriveKeys expands secret into 32-byte session and CSRF keys.
func DeriveKeys(secret string) (Keys, error) {
	if secret == "" {
		return Keys{}, fmt.Errorf("session: empty secret")
	}
	derive := func(info string) ([]byte, error) {
		out := make([]byte, 32)
		r := hkdf.New(sha256.New, []byte(secret), []byte(issuer), []byte(info))
		if _, err := io.ReadFull(r, out); err != nil {
			return nil, fmt.Errorf("session: derive %s key: %w", info, err)
		}
		return out, nil
	}

	sk, err := derive("session-cookie")
	if err != nil {
		return Keys{}, err
	}
	ck, err := derive("csrf")
	if err != nil {
		return Keys{}, err
	}
	return Keys{Session: sk, CSRF: ck}, nil
}

// Codec signs and verifies session cookies.
type Codec struct {
	key    []byte
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

func NewCodec(key []byte, ttl time.Duration, secure bool) *Codec {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Codec{key: key, ttl: ttl, secure: secure, now: time.Now}
}

// Encode signs s into a compact token.
func (c *Codec) Encode(s *Session) (string, error) {
	now := c.now()
	cl := claims{
		Key:             s.AccessKey,
		ConsentPrompted: s.ConsentPrompted,
		ConsentChoice:   s.ConsentChoice,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, cl)
	return token.SignedString(c.key)
}

// Decode verifies a token. Tampered or expired tokens yield ErrUnauthorized.
func (c *Codec) Decode(raw string) (*Session, error) {
	token, err := jwt.ParseWithClaims(raw, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.key, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(c.now))
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "session expired"}
	}
	cl, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return nil, &domain.ErrUnauthorized{Message: "invalid session"}
	}
	return &Session{
		AccessKey:       cl.Key,
		ConsentPrompted: cl.ConsentPrompted,
		ConsentChoice:   cl.ConsentChoice,
	}, nil
}

// Read returns the session carried by r, or an empty one.
func (c *Codec) Read(r *http.Request) *Session {
	ck, err := r.Cookie(CookieName)
	if err != nil || ck.Value == "" {
		return &Session{}
	}
	s, err := c.Decode(ck.Value)
	if err != nil {
		return &Session{}
	}
	return s
}

// Write sets the session cookie.
func (c *Codec) Write(w http.ResponseWriter, s *Session) error {
	token, err := c.Encode(s)
	if err != nil {
		return fmt.Errorf("session: sign: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(c.ttl.Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Clear expires the session cookie.
func (c *Codec) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

type ctxKey struct{}

// NewContext returns a copy of ctx carrying s.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the request session, never nil.
func FromContext(ctx context.Context) *Session {
	if s, ok := ctx.Value(ctxKey{}).(*Session); ok && s != nil {
		return s
	}
	return &Session{}
}
