// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves the caller's identity. A bearer JWT signed with the
// shared HS256 secret is preferred; its subject is the user id (typically an
// ORCID iD issued by the login flow). When header identity is allowed, the
// X-User-ID header is accepted as well, which is how tests and trusted
// reverse proxies identify callers.
package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// userIDKey is the Gin context key holding the resolved user id.
	userIDKey = "userID"
	// HeaderUserID carries a trusted caller identity.
	HeaderUserID = "X-User-ID"
)

// Claims is the token payload accepted by Auth.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// AuthOptions configures Auth.
type AuthOptions struct {
	// Secret verifies HS256 bearer tokens. Empty disables token auth.
	Secret string
	// AllowHeader accepts X-User-ID as the identity.
	AllowHeader bool
	// LoginURL is where browsers are sent when no identity is present.
	LoginURL string
}

// ErrNoIdentity is returned by Identify when the request carries none.
var ErrNoIdentity = errors.New("no identity")

// Identify resolves the user id of r. A present but invalid bearer token is
// an error even when header identity is allowed.
func Identify(r *http.Request, opt AuthOptions) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" && opt.Secret != "" {
		raw, ok := strings.CutPrefix(h, "Bearer ")
		if !ok {
			return "", errors.New("authorization must be a bearer token")
		}
		return subject(strings.TrimSpace(raw), opt.Secret)
	}
	if opt.AllowHeader {
		if id := strings.TrimSpace(r.Header.Get(HeaderUserID)); id != "" {
			return id, nil
		}
	}
	return "", ErrNoIdentity
}

func subject(token, secret string) (string, error) {
	var c Claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(c.Subject) == "" {
		return "", errors.New("token has no subject")
	}
	return c.Subject, nil
}

// Auth rejects requests without an identity and stores the user id in the
// Gin context for handlers, the rate limiter and the access log.
//
// Browsers asking for HTML are redirected to the login page; API clients get
// a 401 envelope.
func Auth(opt AuthOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, err := Identify(c.Request, opt)
		if err == nil {
			c.Set(userIDKey, uid)
			c.Next()
			return
		}

		LoggerFrom(c).Debug().Err(err).Msg("unauthenticated")
		if opt.LoginURL != "" && wantsHTML(c.Request) {
			c.Redirect(http.StatusFound, opt.LoginURL)
			c.Abort()
			return
		}
		c.Header("WWW-Authenticate", `Bearer realm="review"`)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "unauthorized",
			"message":    "authentication required",
		})
	}
}

// UserID returns the identity stored by Auth, or "".
func UserID(c *gin.Context) string {
	if v, ok := c.Get(userIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// IssueToken signs a token for userID. `reviewd token` exposes it to
// operators minting service tokens.
func IssueToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
