package middleware

// Idempotency-Key handling for upload endpoints. A client that retries an
// upload with the same key, user and title gets the version the first
// attempt produced instead of a second scoring pass and a new version.

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header carrying the key.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay" // Replay
	ctxKeyRateBypass = "rate.bypass"
)

// Replay is a previously completed upload found for the request's key.
type Replay struct {
	Title   string
	Version int
	Status  int
}

// IdempotencyLookup finds a still-valid record for (userID, title, key).
// ok is false when there is none; errors are logged and treated as a miss.
type IdempotencyLookup func(ctx context.Context, userID, title, key string, now time.Time) (r Replay, ok bool, err error)

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	// MaxLen caps the key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters; defaults to ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
	// Title extracts the submission title the key is scoped to. Defaults to
	// the "title" form field.
	Title func(*gin.Context) string
}

var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the validated key, if any.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	s := asString(c.Value(ctxKeyIdemKey))
	return s, s != ""
}

// GetReplay returns the stored upload this request repeats, if any.
func GetReplay(c *gin.Context) (Replay, bool) {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return Replay{}, false
	}
	r, ok := v.(Replay)
	return r, ok
}

// IdempotencyValidator validates the Idempotency-Key header, stashes it,
// and looks up a prior result. Found replays skip rate limiting. Serving
// the stored version is left to the handler. Must run after Auth.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultKeyPattern
	}
	titleOf := opts.Title
	if titleOf == nil {
		titleOf = func(c *gin.Context) string { return c.PostForm("title") }
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			r, ok, err := lookup(c.Request.Context(), UserID(c), titleOf(c), key, time.Now().UTC())
			switch {
			case err != nil:
				LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
			case ok:
				c.Set(ctxKeyIdemReplay, r)
				c.Set(ctxKeyRateBypass, true)
			}
		}
		c.Next()
	}
}
