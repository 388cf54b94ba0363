package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type lookupCall struct{ user, title, key string }

func idemRouter(opts IdempotencyOptions, lookup IdempotencyLookup, h gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set(userIDKey, "u1"); c.Next() })
	r.Use(IdempotencyValidator(opts, lookup))
	r.POST("/up", h)
	return r
}

func formPost(title, key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/up", strings.NewReader(url.Values{"title": {title}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	return req
}

func TestIdempotencyValidator_NoHeader(t *testing.T) {
	called := false
	lookup := func(context.Context, string, string, string, time.Time) (Replay, bool, error) {
		called = true
		return Replay{}, false, nil
	}
	r := idemRouter(IdempotencyOptions{}, lookup, func(c *gin.Context) {
		if _, ok := GetIdempotencyKey(c); ok {
			t.Errorf("no key expected")
		}
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, formPost("T", ""))
	if w.Code != http.StatusNoContent || called {
		t.Fatalf("status=%d lookupCalled=%v", w.Code, called)
	}
}

func TestIdempotencyValidator_RejectsBadKeys(t *testing.T) {
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }
	cases := map[string]struct {
		opts IdempotencyOptions
		key  string
	}{
		"too long":      {IdempotencyOptions{MaxLen: 5}, "abcdef"},
		"pattern":       {IdempotencyOptions{Pattern: regexp.MustCompile(`^[0-9]+$`)}, "abc"},
		"default chars": {IdempotencyOptions{}, "has space"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			idemRouter(tc.opts, nil, ok).ServeHTTP(w, formPost("T", tc.key))
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status=%d", w.Code)
			}
			var body map[string]any
			_ = json.Unmarshal(w.Body.Bytes(), &body)
			if body["code"] != "bad_idempotency_key" {
				t.Fatalf("body=%v", body)
			}
		})
	}
}

func TestIdempotencyValidator_ReplayScopedByUserAndTitle(t *testing.T) {
	var got lookupCall
	lookup := func(_ context.Context, user, title, key string, _ time.Time) (Replay, bool, error) {
		got = lookupCall{user, title, key}
		if title == "Paper" && key == "k-1" {
			return Replay{Title: title, Version: 2, Status: http.StatusCreated}, true, nil
		}
		return Replay{}, false, nil
	}
	r := idemRouter(IdempotencyOptions{}, lookup, func(c *gin.Context) {
		k, _ := GetIdempotencyKey(c)
		rp, replay := GetReplay(c)
		c.JSON(http.StatusOK, gin.H{"key": k, "replay": replay, "version": rp.Version, "bypass": IsRateBypass(c)})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, formPost("Paper", "k-1"))
	if got != (lookupCall{"u1", "Paper", "k-1"}) {
		t.Fatalf("lookup args = %+v", got)
	}
	var body struct {
		Key     string
		Replay  bool
		Version int
		Bypass  bool
	}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if !body.Replay || body.Version != 2 || !body.Bypass || body.Key != "k-1" {
		t.Fatalf("body=%+v", body)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, formPost("Other", "k-1"))
	body.Replay, body.Bypass = false, false
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body.Replay || body.Bypass {
		t.Fatalf("same key under another title must not replay: %+v", body)
	}
}

func TestIdempotencyValidator_LookupErrorIsAMiss(t *testing.T) {
	lookup := func(context.Context, string, string, string, time.Time) (Replay, bool, error) {
		return Replay{}, false, errors.New("db down")
	}
	r := idemRouter(IdempotencyOptions{}, lookup, func(c *gin.Context) {
		if _, ok := GetReplay(c); ok {
			t.Errorf("lookup error must not replay")
		}
		c.Status(http.StatusAccepted)
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, formPost("Paper", "k-1"))
	if w.Code != http.StatusAccepted {
		t.Fatalf("status=%d", w.Code)
	}
}
