package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tbourn/go-review-backend/internal/checklist"
)

func TestClient_Score_SendsPromptAndReturnsContent(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"Q1.1\":\"Yes\"}"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL + "/v1/", APIKey: "secret"})
	out, err := c.Score(context.Background(), checklist.Prompt{System: "sys", User: "usr"})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if out != `{"Q1.1":"Yes"}` {
		t.Fatalf("content = %q", out)
	}
	if got.Model != "Qwen/Qwen2.5-3B-Instruct" || got.MaxTokens != 700 || got.Temperature != 0.1 || got.TopP != 0.8 {
		t.Fatalf("defaults not applied: %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[0].Content != "sys" || got.Messages[1].Content != "usr" {
		t.Fatalf("messages = %+v", got.Messages)
	}
}

func TestClient_Score_Errors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"upstream error message", 500, `{"error":{"message":"model overloaded"}}`, "model overloaded"},
		{"bare status", 502, `bad gateway`, "status 502"},
		{"json without error", 503, `{}`, "status 503"},
		{"not json", 200, `<html>`, "invalid character"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()
			_, err := NewClient(Options{BaseURL: srv.URL}).Score(context.Background(), checklist.Prompt{})
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want containing %q", err, tc.want)
			}
		})
	}
}

func TestClient_Score_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()
	if _, err := NewClient(Options{BaseURL: srv.URL}).Score(context.Background(), checklist.Prompt{}); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestClient_Score_RespectsContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := NewClient(Options{BaseURL: srv.URL}).Score(ctx, checklist.Prompt{}); err == nil {
		t.Fatalf("expected deadline error")
	}
}

func TestClient_Score_NoAPIKeySendsNoSecret(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "" && auth != "Bearer" && auth != "Bearer " {
			t.Errorf("unexpected Authorization %q", auth)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	out, err := NewClient(Options{BaseURL: srv.URL, Model: "local", Temperature: 0.3, TopP: 0.5}).Score(context.Background(), checklist.Prompt{User: "u"})
	if err != nil || out != "ok" {
		t.Fatalf("Score = %q, %v", out, err)
	}
}

func TestScorerFunc(t *testing.T) {
	var s Scorer = ScorerFunc(func(_ context.Context, p checklist.Prompt) (string, error) { return p.User, nil })
	if out, _ := s.Score(context.Background(), checklist.Prompt{User: "x"}); out != "x" {
		t.Fatalf("ScorerFunc = %q", out)
	}
}
