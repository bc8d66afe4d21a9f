package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestOpenAIEngine_Chat(t *testing.T) {
	var gotAuth string
	var gotReq completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotReq)
		fmt.Fprint(w, `{"id":"gen-1","choices":[{"message":{"role":"assistant","content":"Risk Score: 70"}}]}`)
	}))
	defer srv.Close()

	e := NewOpenAIEngine(srv.URL+"/", "test-key")
	out, err := e.Chat(context.Background(), "gpt-4o-mini", []Message{{Role: "user", Content: "assess"}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out != "Risk Score: 70" {
		t.Errorf("out = %q, want %q", out, "Risk Score: 70")
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer test-key")
	}
	if gotReq.Model != "gpt-4o-mini" || len(gotReq.Messages) != 1 {
		t.Errorf("request = %+v", gotReq)
	}
}

func TestOpenAIEngine_RateLimitNoRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	e := NewOpenAIEngine(srv.URL, "k")
	_, err := e.Chat(context.Background(), "m", []Message{{Role: "user", Content: "x"}})

	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("error = %v, want *RateLimitError", err)
	}
	if rl.RetryAfter != 3*time.Second {
		t.Errorf("RetryAfter = %v, want 3s", rl.RetryAfter)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server saw %d calls, want exactly 1", n)
	}
}

func TestOpenAIEngine_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := NewOpenAIEngine(srv.URL, "k")
	if _, err := e.Chat(context.Background(), "m", nil); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestOpenAIEngine_ModelsAndPull(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"object":"list","data":[{"id":"gpt-4o-mini"},{"id":"gpt-4o"}]}`)
	}))
	defer srv.Close()

	e := NewOpenAIEngine(srv.URL, "k")
	if !e.IsRunning(context.Background()) {
		t.Error("IsRunning() = false, want true")
	}
	if !e.HasModel(context.Background(), "gpt-4o") {
		t.Error("HasModel(gpt-4o) = false, want true")
	}
	if err := e.PullModel(context.Background(), "x", nil); !errors.Is(err, ErrPullUnsupported) {
		t.Errorf("PullModel error = %v, want ErrPullUnsupported", err)
	}
}
